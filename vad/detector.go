// Package vad turns a stream of audio frames into discrete utterances using
// a per-frame RMS energy threshold.
package vad

import (
	"time"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/kennyrkun/dispatcher/utils/audio"
)

type State int

const (
	StateIdle State = iota
	StateRecording
	// StateFinalizing holds a sealed utterance until the turn that consumes
	// it calls Release. Frames are ignored meanwhile.
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Event is what a single frame did to the detector.
type Event int

const (
	EventNone      Event = iota // nothing changed
	EventStarted                // Idle -> Recording
	EventDiscarded              // finalized below the minimum duration
	EventSealed                 // finalized and handed out
	EventIgnored                // frame arrived while busy
)

func (e Event) String() string {
	switch e {
	case EventStarted:
		return "started"
	case EventDiscarded:
		return "discarded"
	case EventSealed:
		return "sealed"
	case EventIgnored:
		return "ignored"
	default:
		return "none"
	}
}

type Config struct {
	Threshold   int // RMS level a frame must exceed to count as speech
	MinDuration time.Duration
	PadDuration time.Duration
	MaxDuration time.Duration
}

func DefaultConfig() Config {
	return Config{
		Threshold:   800,
		MinDuration: time.Second,
		PadDuration: 2500 * time.Millisecond,
		MaxDuration: 30 * time.Second,
	}
}

// Step is the detector's answer to one frame.
type Step struct {
	Level     int
	Event     Event
	Utterance *core.Utterance // set only for EventSealed
}

// Detector is not safe for concurrent use; one capture loop owns it.
type Detector struct {
	cfg     Config
	state   State
	current *core.Utterance
	lastEnd time.Time
	logger  *core.Logger

	// OnLevel, if set, sees every frame's level including ignored ones.
	OnLevel func(level int)
}

func NewDetector(cfg Config, logger *core.Logger) *Detector {
	return &Detector{
		cfg:    cfg,
		state:  StateIdle,
		logger: logger.OrDefault().With(map[string]interface{}{"component": "vad"}),
	}
}

func (d *Detector) State() State {
	return d.state
}

func (d *Detector) Config() Config {
	return d.cfg
}

// LastFrameEnd is the end time of the most recent frame processed.
func (d *Detector) LastFrameEnd() time.Time {
	return d.lastEnd
}

// Process feeds one frame.
func (d *Detector) Process(frame core.AudioFrame) Step {
	level := audio.RMS(frame.Samples)
	if d.OnLevel != nil {
		d.OnLevel(level)
	}
	step := Step{Level: level}
	now := frame.End()
	d.lastEnd = now

	switch d.state {
	case StateFinalizing:
		step.Event = EventIgnored
		return step

	case StateIdle:
		if level <= d.cfg.Threshold {
			return step
		}
		d.current = &core.Utterance{
			Frames:       []core.AudioFrame{frame},
			Start:        frame.At,
			LastActivity: now,
		}
		d.state = StateRecording
		d.logger.Debug("recording started", "level", level)
		step.Event = EventStarted
		return step
	}

	u := d.current
	u.Frames = append(u.Frames, frame)
	if level > d.cfg.Threshold {
		u.LastActivity = now
	}

	silent := now.Sub(u.LastActivity) > d.cfg.PadDuration
	tooLong := now.Sub(u.Start) >= d.cfg.MaxDuration
	if !silent && !tooLong {
		return step
	}

	u.Duration = u.LastActivity.Sub(u.Start)
	d.current = nil
	if u.Duration < d.cfg.MinDuration {
		d.state = StateIdle
		d.logger.Debug("utterance discarded", "duration", u.Duration)
		step.Event = EventDiscarded
		return step
	}

	d.state = StateFinalizing
	d.logger.Info("utterance sealed", "duration", u.Duration, "forced", tooLong && !silent)
	step.Event = EventSealed
	step.Utterance = u
	return step
}

// Release ends the busy period after a sealed utterance has been handled.
func (d *Detector) Release() {
	if d.state == StateFinalizing {
		d.state = StateIdle
	}
}

// Reset drops any partial recording and returns to Idle.
func (d *Detector) Reset() {
	d.current = nil
	d.state = StateIdle
}
