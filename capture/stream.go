package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/kennyrkun/dispatcher/utils/audio"
)

// StreamDevice reads raw s16le PCM from a reader that outlives the device:
// standard input or a recording being replayed. Close only pauses reading;
// the stream resumes where it left off on the next Open.
type StreamDevice struct {
	r        io.Reader
	channels int

	mu     sync.Mutex
	open   bool
	rawBuf []byte
}

// NewStreamDevice reads interleaved PCM with the given channel count.
// Multi-channel input is folded to mono.
func NewStreamDevice(r io.Reader, channels int) *StreamDevice {
	if channels <= 0 {
		channels = 1
	}
	return &StreamDevice{r: r, channels: channels}
}

// NewWAVStreamDevice consumes the WAV header from r and returns a device
// positioned at the first sample along with the declared format.
func NewWAVStreamDevice(r io.Reader) (*StreamDevice, audio.WAVFormat, error) {
	format, err := readWAVHeader(r)
	if err != nil {
		return nil, format, err
	}
	if format.Channels > 2 {
		return nil, format, fmt.Errorf("capture: %d-channel WAV not supported", format.Channels)
	}
	return NewStreamDevice(r, format.Channels), format, nil
}

func (d *StreamDevice) Open(context.Context) error {
	d.mu.Lock()
	d.open = true
	d.mu.Unlock()
	return nil
}

func (d *StreamDevice) Read(buf []int16) error {
	d.mu.Lock()
	open := d.open
	d.mu.Unlock()
	if !open {
		return ErrDeviceClosed
	}

	need := len(buf) * 2 * d.channels
	if cap(d.rawBuf) < need {
		d.rawBuf = make([]byte, need)
	}
	raw := d.rawBuf[:need]
	if _, err := io.ReadFull(d.r, raw); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return ErrEndOfInput
		}
		return fmt.Errorf("capture: read stream: %w", err)
	}

	if d.channels == 2 {
		for i := range buf {
			l := int16(binary.LittleEndian.Uint16(raw[i*4:]))
			r := int16(binary.LittleEndian.Uint16(raw[i*4+2:]))
			buf[i] = int16((int(l) + int(r)) / 2)
		}
		return nil
	}
	for i := range buf {
		buf[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return nil
}

func (d *StreamDevice) Close() error {
	d.mu.Lock()
	d.open = false
	d.mu.Unlock()
	return nil
}

// readWAVHeader reads chunk headers until the data chunk, leaving r at the
// first sample.
func readWAVHeader(r io.Reader) (audio.WAVFormat, error) {
	var f audio.WAVFormat
	riff := make([]byte, 12)
	if _, err := io.ReadFull(r, riff); err != nil {
		return f, fmt.Errorf("capture: read WAV header: %w", err)
	}

	head := append([]byte(nil), riff...)
	chunk := make([]byte, 8)
	for {
		if _, err := io.ReadFull(r, chunk); err != nil {
			return f, fmt.Errorf("capture: read WAV chunk: %w", err)
		}
		head = append(head, chunk...)
		size := int(binary.LittleEndian.Uint32(chunk[4:]))
		if string(chunk[:4]) == "data" {
			format, _, err := audio.ParseWAVHeader(head)
			if err != nil {
				return f, fmt.Errorf("capture: %w", err)
			}
			return format, nil
		}
		if size%2 != 0 {
			size++
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return f, fmt.Errorf("capture: read WAV chunk body: %w", err)
		}
		head = append(head, body...)
	}
}
