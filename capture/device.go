// Package capture reads fixed-size mono PCM frames from an input device.
package capture

import (
	"context"
	"errors"
)

var (
	// ErrDeviceClosed is returned by Read on a device that is not open.
	ErrDeviceClosed = errors.New("capture: device closed")
	// ErrEndOfInput means a finite input (a file or a pipe) ran out. It is
	// terminal, not a fault.
	ErrEndOfInput = errors.New("capture: end of input")
)

// Device is a mono 16-bit input. Read blocks until buf is completely filled.
// Close must be safe to call from another goroutine so that a blocked Read
// can be interrupted.
type Device interface {
	Open(ctx context.Context) error
	Read(buf []int16) error
	Close() error
}
