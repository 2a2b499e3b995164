// Package idle fills long silences with chatter between two synthetic
// voices.
package idle

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/kennyrkun/dispatcher/metrics"
	"github.com/kennyrkun/dispatcher/transmit"
)

type Config struct {
	// Delay is the silence required after real channel activity.
	Delay time.Duration
	// IntervalMin and IntervalMax bound the silence between idle exchanges.
	IntervalMin  time.Duration
	IntervalMax  time.Duration
	Voices       []transmit.VoiceProfile
	SystemPrompt string
	// Opener is the user turn of the very first exchange.
	Opener string
}

// Transmitter is the part of the transmit pipeline the scheduler needs.
type Transmitter interface {
	Transmit(ctx context.Context, text string, voice transmit.VoiceProfile) (transmit.Result, error)
}

// Exchange is one completed idle turn.
type Exchange struct {
	Voice     string
	Prompt    string
	Reply     string
	Result    transmit.Result
	NextDelay time.Duration
}

// Scheduler is driven by the capture loop: Due is checked once per frame
// and Fire runs in place of a received turn. It is not safe for concurrent
// use.
type Scheduler struct {
	cfg     Config
	llm     core.LLMEngine
	tx      Transmitter
	metrics *metrics.Metrics
	logger  *core.Logger
	rng     *rand.Rand
	clock   func() time.Time

	lastActivity time.Time
	wait         time.Duration
	lastMessage  string
	lastVoice    int
}

func NewScheduler(cfg Config, llm core.LLMEngine, tx Transmitter, m *metrics.Metrics, logger *core.Logger) *Scheduler {
	if cfg.IntervalMax < cfg.IntervalMin {
		cfg.IntervalMin, cfg.IntervalMax = cfg.IntervalMax, cfg.IntervalMin
	}
	return &Scheduler{
		cfg:       cfg,
		llm:       llm,
		tx:        tx,
		metrics:   m,
		logger:    logger.OrDefault().With(map[string]interface{}{"component": "idle"}),
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		clock:     time.Now,
		wait:      cfg.Delay,
		lastVoice: -1,
	}
}

// SetRand replaces the source used to draw intervals.
func (s *Scheduler) SetRand(rng *rand.Rand) {
	s.rng = rng
}

// Enabled is false unless at least two voices are configured.
func (s *Scheduler) Enabled() bool {
	return s != nil && len(s.cfg.Voices) >= 2 && s.llm != nil && s.tx != nil
}

// NoteActivity records real traffic on the channel. The next idle exchange
// waits the full idle delay from at.
func (s *Scheduler) NoteActivity(at time.Time) {
	if s == nil {
		return
	}
	s.lastActivity = at
	s.wait = s.cfg.Delay
}

// Due reports whether an idle exchange should run now. detectorIdle must be
// false while anything is being recorded or handled.
func (s *Scheduler) Due(now time.Time, detectorIdle bool) bool {
	if !s.Enabled() || !detectorIdle {
		return false
	}
	if s.lastActivity.IsZero() {
		s.lastActivity = now
		return false
	}
	return now.Sub(s.lastActivity) >= s.wait
}

// Wait is the silence currently required before the next exchange.
func (s *Scheduler) Wait() time.Duration {
	return s.wait
}

// Fire runs one exchange with the voice that did not speak last. now is the
// capture time the exchange started at. The history is built fresh every
// time and never shared with the dispatcher conversation.
func (s *Scheduler) Fire(ctx context.Context, now time.Time) (ex Exchange, err error) {
	started := s.clock()
	idx := (s.lastVoice + 1) % len(s.cfg.Voices)
	voice := s.cfg.Voices[idx]

	prompt := s.lastMessage
	if prompt == "" {
		prompt = s.cfg.Opener
	}

	llmContext := core.NewLLMContext(s.cfg.SystemPrompt)
	if voice.Persona != "" {
		llmContext.AddSystemMessage(voice.Persona)
	}
	llmContext.AddUserMessage(prompt)

	ex = Exchange{Voice: voice.Name, Prompt: prompt}
	defer func() {
		// Count the exchange's own duration as activity so that a failed
		// exchange is not retried on the very next frame.
		s.lastActivity = now.Add(s.clock().Sub(started))
		s.wait = s.drawInterval()
		ex.NextDelay = s.wait
	}()

	callStarted := time.Now()
	reply, err := s.llm.Complete(ctx, llmContext)
	s.metrics.RecordEngineCall("llm", callStarted, err)
	if err != nil {
		return ex, fmt.Errorf("idle: response engine: %w", err)
	}
	ex.Reply = reply

	s.logger.Info("idle exchange", "voice", voice.Name, "reply", reply)
	res, err := s.tx.Transmit(ctx, reply, voice)
	if err != nil {
		return ex, fmt.Errorf("idle: transmit: %w", err)
	}
	ex.Result = res

	s.lastMessage = reply
	s.lastVoice = idx
	s.metrics.RecordIdleExchange()
	return ex, nil
}

// drawInterval is uniform over [IntervalMin, IntervalMax], inclusive.
func (s *Scheduler) drawInterval() time.Duration {
	span := int64(s.cfg.IntervalMax - s.cfg.IntervalMin)
	if span <= 0 {
		return s.cfg.IntervalMin
	}
	return s.cfg.IntervalMin + time.Duration(s.rng.Int63n(span+1))
}
