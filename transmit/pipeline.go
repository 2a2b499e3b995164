// Package transmit plays responses as radio transmissions: a noise burst or
// delay, an optional start tone, the synthesized speech, and an end tone.
package transmit

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kennyrkun/dispatcher/assets"
	"github.com/kennyrkun/dispatcher/core"
	"github.com/kennyrkun/dispatcher/metrics"
	"github.com/kennyrkun/dispatcher/utils/audio"
	"github.com/kennyrkun/dispatcher/utils/text"
)

const (
	EndToneNone   = "none"
	EndToneRandom = "random"

	KindSpeech = "speech"
	KindCue    = "cue"
)

// ErrNothingToSay is returned when a response is empty once formatting is
// stripped.
var ErrNothingToSay = errors.New("transmit: nothing left to say")

type Tone struct {
	Frequency float64
	Duration  time.Duration // zero disables the tone
	Gain      float64
}

// Framing is the radio signaling wrapped around every payload.
type Framing struct {
	SampleRate    int           // rate of generated noise and tones
	NoiseDuration time.Duration // a burst replaces Delay when set
	NoiseGain     float64
	Delay         time.Duration
	StartTone     Tone
	EndTone       string // EndToneNone, EndToneRandom, or a name in the tones set
	CueGain       float64
}

type Config struct {
	Framing    Framing
	SaveDir    string
	SaveSpoken bool
}

// TransmissionEvent is one fully planned transmission.
type TransmissionEvent struct {
	ID        string
	Kind      string
	Noise     []int16
	Delay     time.Duration
	StartTone []int16
	Payload   Clip
	Options   PlayOptions
	EndTone   *assets.Asset
}

// Result describes a finished transmission for the turn log.
type Result struct {
	ID        string
	Kind      string
	Voice     string
	Text      string
	Asset     string // cue clip played as the payload
	EndTone   string
	SavedPath string
}

// Pipeline plays one transmission at a time; concurrent calls queue.
type Pipeline struct {
	cfg     Config
	engines map[string]core.TTSEngine
	player  Player
	catalog assets.Catalog
	metrics *metrics.Metrics
	logger  *core.Logger

	mu    sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewPipeline(cfg Config, engines map[string]core.TTSEngine, player Player, catalog assets.Catalog, m *metrics.Metrics, logger *core.Logger) *Pipeline {
	if cfg.Framing.SampleRate <= 0 {
		cfg.Framing.SampleRate = 44100
	}
	if cfg.Framing.EndTone == "" {
		cfg.Framing.EndTone = EndToneNone
	}
	return &Pipeline{
		cfg:     cfg,
		engines: engines,
		player:  player,
		catalog: catalog,
		metrics: m,
		logger:  logger.OrDefault().With(map[string]interface{}{"component": "transmit"}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

// SetRand replaces the source used for noise and random asset picks.
func (p *Pipeline) SetRand(rng *rand.Rand) {
	p.mu.Lock()
	p.rng = rng
	p.mu.Unlock()
}

// Transmit speaks text with the given voice, inside the configured framing.
// Synthesis starts before the pre-roll so that an engine failure never
// leaves a half-played transmission.
func (p *Pipeline) Transmit(ctx context.Context, response string, voice VoiceProfile) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cleaned := text.NormalizeForSpeech(response)
	if cleaned == "" {
		return Result{}, ErrNothingToSay
	}
	engine, ok := p.engines[voice.Engine]
	if !ok {
		return Result{}, fmt.Errorf("transmit: voice %q uses unknown engine %q", voice.Name, voice.Engine)
	}

	ev, err := p.frame(KindSpeech)
	if err != nil {
		return Result{}, err
	}

	started := time.Now()
	speech, err := engine.Synthesize(ctx, cleaned, core.SynthesisOptions{Voice: voice.Voice, Speed: voice.Speed})
	p.metrics.RecordEngineCall("tts", started, err)
	if err != nil {
		return Result{}, fmt.Errorf("transmit: synthesize: %w", err)
	}
	defer speech.Audio.Close()

	var payload io.Reader = speech.Audio
	if voice.Narrowband {
		if speech.Format == core.PCM {
			payload = newNarrowbandReader(payload)
		} else {
			p.logger.Debug("narrowband skipped for non-PCM speech", "voice", voice.Name, "format", speech.Format.String())
		}
	}
	var saved bytes.Buffer
	if p.cfg.SaveSpoken {
		payload = io.TeeReader(payload, &saved)
	}
	ev.Payload = Clip{Audio: payload, Format: speech.Format, SampleRate: speech.SampleRate, Channels: speech.Channels}
	ev.Options = PlayOptions{Gain: voice.Gain, Tempo: voice.Tempo}

	p.logger.Info("transmitting", "id", ev.ID, "voice", voice.Name, "text", cleaned)
	if err := p.play(ctx, ev); err != nil {
		return Result{}, err
	}

	res := Result{ID: ev.ID, Kind: KindSpeech, Voice: voice.Name, Text: cleaned, EndTone: assetName(ev.EndTone)}
	if p.cfg.SaveSpoken {
		path, err := p.save(ev.ID, speech, saved.Bytes())
		if err != nil {
			p.logger.Warn("failed to save spoken audio", "id", ev.ID, "error", err)
		}
		res.SavedPath = path
	}
	p.metrics.RecordTransmission(KindSpeech)
	return res, nil
}

// TransmitCue plays a random clip from set inside the same framing.
func (p *Pipeline) TransmitCue(ctx context.Context, set string) (Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clip, err := assets.Sample(p.catalog, p.rng, set)
	if err != nil {
		return Result{}, fmt.Errorf("transmit: cue: %w", err)
	}
	ev, err := p.frame(KindCue)
	if err != nil {
		return Result{}, err
	}
	ev.Payload = Clip{Path: clip.Path}
	ev.Options = PlayOptions{Gain: p.cfg.Framing.CueGain}

	p.logger.Info("transmitting cue", "id", ev.ID, "set", set, "asset", clip.Name)
	if err := p.play(ctx, ev); err != nil {
		return Result{}, err
	}
	p.metrics.RecordTransmission(KindCue)
	return Result{ID: ev.ID, Kind: KindCue, Asset: clip.Name, EndTone: assetName(ev.EndTone)}, nil
}

// frame builds the pre-roll and picks the end tone.
func (p *Pipeline) frame(kind string) (*TransmissionEvent, error) {
	f := p.cfg.Framing
	ev := &TransmissionEvent{
		ID:   p.now().Format("2006-01-02_15-04-05") + "-" + uuid.NewString()[:8],
		Kind: kind,
	}
	if f.NoiseDuration > 0 {
		ev.Noise = audio.WhiteNoise(p.rng, f.NoiseDuration, f.SampleRate, f.NoiseGain)
	} else {
		ev.Delay = f.Delay
	}
	if f.StartTone.Duration > 0 {
		ev.StartTone = audio.SineTone(f.StartTone.Frequency, f.StartTone.Duration, f.SampleRate, f.StartTone.Gain)
	}

	switch f.EndTone {
	case EndToneNone:
	case EndToneRandom:
		tone, err := assets.Sample(p.catalog, p.rng, assets.SetTones)
		if err != nil {
			return nil, fmt.Errorf("transmit: end tone: %w", err)
		}
		ev.EndTone = &tone
	default:
		tone, err := assets.Lookup(p.catalog, assets.SetTones, f.EndTone)
		if err != nil {
			return nil, fmt.Errorf("transmit: end tone: %w", err)
		}
		ev.EndTone = &tone
	}
	return ev, nil
}

func (p *Pipeline) play(ctx context.Context, ev *TransmissionEvent) error {
	rate := p.cfg.Framing.SampleRate
	if len(ev.Noise) > 0 {
		if err := p.player.Play(ctx, generated(ev.Noise, rate), PlayOptions{}); err != nil {
			return fmt.Errorf("transmit: noise: %w", err)
		}
	} else if ev.Delay > 0 {
		if err := p.sleep(ctx, ev.Delay); err != nil {
			return err
		}
	}
	if len(ev.StartTone) > 0 {
		if err := p.player.Play(ctx, generated(ev.StartTone, rate), PlayOptions{}); err != nil {
			return fmt.Errorf("transmit: start tone: %w", err)
		}
	}
	if err := p.player.Play(ctx, ev.Payload, ev.Options); err != nil {
		return fmt.Errorf("transmit: payload: %w", err)
	}
	if ev.EndTone != nil {
		if err := p.player.Play(ctx, Clip{Path: ev.EndTone.Path}, PlayOptions{Gain: p.cfg.Framing.CueGain}); err != nil {
			return fmt.Errorf("transmit: end tone: %w", err)
		}
	}
	return nil
}

// save writes what was played as tx-<id>, WAV for raw streams.
func (p *Pipeline) save(id string, speech *core.Speech, data []byte) (string, error) {
	if err := os.MkdirAll(p.cfg.SaveDir, 0o755); err != nil {
		return "", err
	}
	base := filepath.Join(p.cfg.SaveDir, "tx-"+id)
	if speech.Format == core.Container {
		ext := speech.Container
		if ext == "" {
			ext = "audio"
		}
		path := base + "." + ext
		return path, os.WriteFile(path, data, 0o644)
	}

	if speech.Format == core.PCM {
		// Some OpenAI-compatible servers wrap "pcm" output in a WAV header.
		stripped, err := audio.StripWAVHeaderIfPresent(data)
		if err != nil {
			return "", err
		}
		data = stripped
	}
	chunk, err := audio.ConvertAudioChunk(core.AudioChunk{
		Data:       data,
		SampleRate: speech.SampleRate,
		Channels:   speech.Channels,
		Format:     speech.Format,
	}, 1)
	if err != nil {
		return "", err
	}
	if err := audio.ValidatePCMData(chunk.Data, 1); err != nil {
		return "", err
	}
	wav, err := audio.PCMBytesToWavBytes(chunk.Data, 1, chunk.SampleRate)
	if err != nil {
		return "", err
	}
	path := base + ".wav"
	return path, os.WriteFile(path, wav, 0o644)
}

func generated(samples []int16, rate int) Clip {
	return Clip{
		Audio:      bytes.NewReader(audio.SamplesToBytes(samples)),
		Format:     core.PCM,
		SampleRate: rate,
		Channels:   1,
	}
}

func assetName(a *assets.Asset) string {
	if a == nil {
		return ""
	}
	return a.Name
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
