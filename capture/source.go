package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kennyrkun/dispatcher/core"
)

// SourceConfig fixes the frame geometry for every read.
type SourceConfig struct {
	SampleRate int
	FrameSize  int
}

// Source pulls frames from a Device and stamps each one with the capture
// instant of its first sample, counted from the moment the device opened.
// Stamps never run backwards across a close and reopen.
type Source struct {
	device Device
	cfg    SourceConfig
	logger *core.Logger
	now    func() time.Time

	mu       sync.Mutex
	open     bool
	openedAt time.Time
	samples  int64
	lastEnd  time.Time
}

func NewSource(device Device, cfg SourceConfig, logger *core.Logger) *Source {
	return &Source{
		device: device,
		cfg:    cfg,
		logger: logger.OrDefault().With(map[string]interface{}{"component": "capture"}),
		now:    time.Now,
	}
}

// SetClock replaces the wall clock used to anchor frame stamps.
func (s *Source) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Source) Config() SourceConfig {
	return s.cfg
}

// Open opens the device. Callers close the source when ctx ends; that is
// what unblocks a pending Next.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return nil
	}
	if err := s.device.Open(ctx); err != nil {
		return fmt.Errorf("capture: open device: %w", err)
	}

	s.openedAt = s.now()
	if s.openedAt.Before(s.lastEnd) {
		s.openedAt = s.lastEnd
	}
	s.samples = 0
	s.open = true
	s.logger.Debug("capture opened", "sample_rate", s.cfg.SampleRate, "frame_size", s.cfg.FrameSize)
	return nil
}

// Next blocks for one frame.
func (s *Source) Next() (core.AudioFrame, error) {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return core.AudioFrame{}, ErrDeviceClosed
	}
	s.mu.Unlock()

	buf := make([]int16, s.cfg.FrameSize)
	if err := s.device.Read(buf); err != nil {
		return core.AudioFrame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	offset := time.Duration(s.samples) * time.Second / time.Duration(s.cfg.SampleRate)
	frame := core.AudioFrame{
		Samples:    buf,
		SampleRate: s.cfg.SampleRate,
		At:         s.openedAt.Add(offset),
	}
	s.samples += int64(len(buf))
	s.lastEnd = frame.End()
	return frame, nil
}

// Close releases the device. Closing a closed source is a no-op.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return nil
	}
	s.open = false
	if err := s.device.Close(); err != nil {
		return fmt.Errorf("capture: close device: %w", err)
	}
	s.logger.Debug("capture closed")
	return nil
}
