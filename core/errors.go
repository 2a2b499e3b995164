package core

import "errors"

// ErrEngineResponse marks a response from an external engine that carried an
// error field or no usable content. The turn that produced it is abandoned.
var ErrEngineResponse = errors.New("engine returned an unusable response")
