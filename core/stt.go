package core

import "context"

// STTEngine transcribes a stored audio file. An empty string with a nil
// error means the audio was received but nothing intelligible was in it.
type STTEngine interface {
	Transcribe(ctx context.Context, path string) (string, error)
}
