//go:build portaudio

package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDevice records from the system default input.
type PortAudioDevice struct {
	sampleRate int
	frameSize  int

	mu     sync.Mutex
	stream *portaudio.Stream
	in     []int16
}

func NewPortAudioDevice(sampleRate, frameSize int) *PortAudioDevice {
	return &PortAudioDevice{sampleRate: sampleRate, frameSize: frameSize}
}

// PortAudioAvailable reports whether this binary was built with PortAudio.
const PortAudioAvailable = true

func (d *PortAudioDevice) Open(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream != nil {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	d.in = make([]int16, d.frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(d.sampleRate), d.frameSize, d.in)
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	d.stream = stream
	return nil
}

func (d *PortAudioDevice) Read(buf []int16) error {
	d.mu.Lock()
	stream := d.stream
	d.mu.Unlock()
	if stream == nil {
		return ErrDeviceClosed
	}

	// Input overflow is reported as an error but the buffer is still valid.
	if err := stream.Read(); err != nil && err != portaudio.InputOverflowed {
		return fmt.Errorf("capture: read input stream: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return ErrDeviceClosed
	}
	copy(buf, d.in)
	return nil
}

func (d *PortAudioDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stream == nil {
		return nil
	}
	d.stream.Stop()
	err := d.stream.Close()
	d.stream = nil
	portaudio.Terminate()
	return err
}
