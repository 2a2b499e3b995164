// Package runner drives the dispatcher: it feeds captured frames through the
// detector, runs a turn for every sealed utterance, fires idle chatter when
// the channel has been quiet, and restarts the whole loop after a failure.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kennyrkun/dispatcher/assets"
	"github.com/kennyrkun/dispatcher/capture"
	"github.com/kennyrkun/dispatcher/core"
	"github.com/kennyrkun/dispatcher/dispatch"
	"github.com/kennyrkun/dispatcher/idle"
	"github.com/kennyrkun/dispatcher/metrics"
	"github.com/kennyrkun/dispatcher/transcribe"
	"github.com/kennyrkun/dispatcher/transmit"
	"github.com/kennyrkun/dispatcher/vad"
)

const (
	TurnReceived = "received"
	TurnIdle     = "idle"
)

// Transmitter keys up the radio.
type Transmitter interface {
	Transmit(ctx context.Context, text string, voice transmit.VoiceProfile) (transmit.Result, error)
	TransmitCue(ctx context.Context, set string) (transmit.Result, error)
}

// TurnLog receives one record per completed or failed turn.
type TurnLog interface {
	WriteTurn(rec core.TurnRecord)
}

type Config struct {
	RestartDelay        time.Duration
	CueOnUnintelligible bool
	Voice               transmit.VoiceProfile
}

// Components are the stages the supervisor wires together. Idle, TurnLog and
// Metrics may be nil.
type Components struct {
	Source       *capture.Source
	Detector     *vad.Detector
	Store        *transcribe.Store
	Orchestrator *dispatch.Orchestrator
	Transmitter  Transmitter
	Idle         *idle.Scheduler
	TurnLog      TurnLog
	Metrics      *metrics.Metrics
}

type Supervisor struct {
	cfg    Config
	c      Components
	logger *core.Logger
	clock  func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	state    dispatch.State
	restarts int
	// reopened marks the first frame after a received turn or a restart,
	// whose stamp restarts the idle clock.
	reopened bool
}

func NewSupervisor(cfg Config, c Components, logger *core.Logger) *Supervisor {
	return &Supervisor{
		cfg:    cfg,
		c:      c,
		logger: logger.OrDefault().With(map[string]interface{}{"component": "supervisor"}),
		clock:  time.Now,
		sleep:  sleepContext,
		state:  c.Orchestrator.NewState(),
	}
}

// State is the conversation state carried between turns.
func (s *Supervisor) State() dispatch.State {
	return s.state
}

// Restarts counts recoveries since Run started.
func (s *Supervisor) Restarts() int {
	return s.restarts
}

// Run listens until ctx is cancelled or a finite input runs out. Any other
// failure is logged, cued on air and followed by a fresh capture cycle.
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Info("dispatcher listening", "voice", s.cfg.Voice.Name, "idle", s.c.Idle.Enabled())
	for {
		err := s.cycle(ctx)
		if ctx.Err() != nil {
			s.logger.Info("dispatcher stopping")
			return nil
		}
		if err == nil || errors.Is(err, capture.ErrEndOfInput) {
			s.logger.Info("input ended")
			return nil
		}

		s.restarts++
		s.logger.Error("dispatcher failed, restarting", "error", err, "restarts", s.restarts)
		s.c.Metrics.RecordRestart()
		s.c.Detector.Reset()
		s.reopened = true

		if _, cueErr := s.c.Transmitter.TransmitCue(ctx, assets.SetErrors); cueErr != nil && ctx.Err() == nil {
			s.logger.Warn("error cue not played", "error", cueErr)
		}
		if err := s.sleep(ctx, s.cfg.RestartDelay); err != nil {
			return nil
		}
	}
}

func (s *Supervisor) cycle(ctx context.Context) error {
	if err := s.c.Source.Open(ctx); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { _ = s.c.Source.Close() })
	defer stop()
	defer s.c.Source.Close()

	for {
		frame, err := s.c.Source.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		if s.reopened {
			s.c.Idle.NoteActivity(frame.At)
			s.reopened = false
		}

		step := s.c.Detector.Process(frame)
		s.c.Metrics.RecordFrame(step.Level)

		switch step.Event {
		case vad.EventStarted:
			s.c.Idle.NoteActivity(frame.At)
		case vad.EventDiscarded:
			s.c.Metrics.RecordUtterance(false, 0)
			s.c.Idle.NoteActivity(frame.End())
		case vad.EventSealed:
			s.c.Metrics.RecordUtterance(true, step.Utterance.Duration)
			err := s.halfDuplex(ctx, func() error {
				return s.turn(ctx, step.Utterance)
			})
			if err != nil {
				return err
			}
			s.c.Detector.Release()
			s.reopened = true
			continue
		}

		if s.c.Idle.Due(frame.End(), s.c.Detector.State() == vad.StateIdle) {
			err := s.halfDuplex(ctx, func() error {
				return s.idleExchange(ctx, frame.End())
			})
			if err != nil {
				return err
			}
		}
	}
}

// halfDuplex closes capture while fn runs so the dispatcher never hears its
// own transmission.
func (s *Supervisor) halfDuplex(ctx context.Context, fn func() error) error {
	if err := s.c.Source.Close(); err != nil {
		return err
	}
	if err := fn(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.c.Source.Open(ctx)
}

func (s *Supervisor) turn(ctx context.Context, u *core.Utterance) (err error) {
	rec := core.TurnRecord{
		TurnID:    uuid.NewString(),
		Kind:      TurnReceived,
		StartedAt: s.clock(),
		DurationS: u.Duration.Seconds(),
	}
	defer func() {
		rec.FinishedAt = s.clock()
		if err != nil {
			rec.Error = err.Error()
		}
		s.writeTurn(rec)
	}()

	logger := s.logger.With(map[string]interface{}{"turn_id": rec.TurnID})
	logger.Info("utterance received", "duration", u.Duration.Round(time.Millisecond).String(), "frames", len(u.Frames))

	tr, err := s.c.Store.Transcribe(ctx, u)
	rec.Transcript = tr.Transcript
	rec.Asset = tr.AssetPath
	if err != nil {
		return err
	}
	logger.Info("transcribed", "transcript", tr.Transcript, "failed", tr.Failed)

	next, out, err := s.c.Orchestrator.Respond(ctx, s.state, tr.Transcript)
	if err != nil {
		return fmt.Errorf("respond: %w", err)
	}
	s.state = next
	rec.Rule = out.Rule
	rec.Response = out.Text
	rec.Silent = out.Silent
	s.c.Metrics.RecordTurn(out.Rule)

	if out.Silent {
		if out.Rule == dispatch.RuleUnintelligible && s.cfg.CueOnUnintelligible {
			return s.cue(ctx, logger)
		}
		logger.Info("no response", "rule", out.Rule)
		return nil
	}

	rec.Voice = s.cfg.Voice.Name
	res, err := s.c.Transmitter.Transmit(ctx, out.Text, s.cfg.Voice)
	if errors.Is(err, transmit.ErrNothingToSay) {
		logger.Warn("response has nothing speakable", "response", out.Text)
		return nil
	}
	if err != nil {
		return err
	}
	logger.Info("responded", "rule", out.Rule, "response", res.Text, "transmission", res.ID)
	return nil
}

func (s *Supervisor) cue(ctx context.Context, logger *core.Logger) error {
	_, err := s.c.Transmitter.TransmitCue(ctx, assets.SetErrors)
	if errors.Is(err, assets.ErrNoAssets) {
		logger.Warn("no unintelligible cue available")
		return nil
	}
	return err
}

// idleExchange failures are cued on air but do not restart the loop; the
// scheduler has already pushed its next attempt out.
func (s *Supervisor) idleExchange(ctx context.Context, now time.Time) error {
	rec := core.TurnRecord{
		TurnID:    uuid.NewString(),
		Kind:      TurnIdle,
		StartedAt: s.clock(),
	}
	ex, err := s.c.Idle.Fire(ctx, now)
	rec.FinishedAt = s.clock()
	rec.Voice = ex.Voice
	rec.Response = ex.Reply
	if err != nil {
		rec.Error = err.Error()
	}
	s.writeTurn(rec)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger := s.logger.With(map[string]interface{}{"turn_id": rec.TurnID})
		if errors.Is(err, transmit.ErrNothingToSay) {
			logger.Warn("idle reply has nothing speakable", "voice", ex.Voice, "reply", ex.Reply)
			return nil
		}
		logger.Error("idle exchange failed", "voice", ex.Voice, "error", err, "next_in", ex.NextDelay.String())
		if cueErr := s.cue(ctx, logger); cueErr != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Warn("error cue not played", "error", cueErr)
		}
		return nil
	}
	s.logger.Info("idle exchange sent", "voice", ex.Voice, "next_in", ex.NextDelay.String())
	return nil
}

func (s *Supervisor) writeTurn(rec core.TurnRecord) {
	if s.c.TurnLog != nil {
		s.c.TurnLog.WriteTurn(rec)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
