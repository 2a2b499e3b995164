//go:build !portaudio

package capture

import (
	"context"
	"errors"
)

// PortAudioAvailable reports whether this binary was built with PortAudio.
const PortAudioAvailable = false

// PortAudioDevice is unavailable without the portaudio build tag.
type PortAudioDevice struct{}

func NewPortAudioDevice(sampleRate, frameSize int) *PortAudioDevice {
	return &PortAudioDevice{}
}

func (d *PortAudioDevice) Open(context.Context) error {
	return errors.New("capture: built without PortAudio; rebuild with -tags portaudio or use -input")
}

func (d *PortAudioDevice) Read([]int16) error { return ErrDeviceClosed }

func (d *PortAudioDevice) Close() error { return nil }
