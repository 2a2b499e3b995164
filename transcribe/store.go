// Package transcribe stores sealed utterances and turns them into
// transcripts.
package transcribe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/kennyrkun/dispatcher/utils/audio"
	"github.com/kennyrkun/dispatcher/utils/text"
)

const (
	receivedPrefix = "rx-"
	failedPrefix   = "failed-"
	timeLayout     = "2006-01-02_15-04-05"
)

type Config struct {
	Dir    string // where rx-*.wav files are written
	Retain bool   // keep the received audio after transcription
}

// Result of one transcription. AssetPath is empty when the audio was not
// retained.
type Result struct {
	Transcript string
	AssetPath  string
	Failed     bool
}

type Store struct {
	cfg        Config
	engine     core.STTEngine
	normalizer text.INormalizer
	logger     *core.Logger
	now        func() time.Time
}

func NewStore(cfg Config, engine core.STTEngine, logger *core.Logger) *Store {
	return &Store{
		cfg:        cfg,
		engine:     engine,
		normalizer: text.TranscriptNormalizer{},
		logger:     logger.OrDefault().With(map[string]interface{}{"component": "transcribe"}),
		now:        time.Now,
	}
}

// Transcribe writes the utterance as a mono WAV file, asks the engine for
// text and normalizes it. An empty transcript is not an error; when the
// audio is retained it is renamed with the failed- prefix for review. An
// engine error does the same rename and is returned.
func (s *Store) Transcribe(ctx context.Context, u *core.Utterance) (Result, error) {
	path, err := s.write(u)
	if err != nil {
		return Result{}, err
	}

	raw, err := s.engine.Transcribe(ctx, path)
	if err != nil {
		failed := s.finish(path, true)
		return Result{AssetPath: failed, Failed: true}, fmt.Errorf("transcribe: %w", err)
	}

	transcript := s.normalizer.Normalize(raw)
	empty := transcript == ""
	kept := s.finish(path, empty)
	if empty {
		s.logger.Warn("transcript empty", "asset", kept)
	} else {
		s.logger.Info("transcript received", "transcript", transcript, "duration", u.Duration)
	}
	return Result{Transcript: transcript, AssetPath: kept, Failed: empty}, nil
}

func (s *Store) write(u *core.Utterance) (string, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("transcribe: mkdir %q: %w", s.cfg.Dir, err)
	}
	pcm := audio.SamplesToBytes(u.Samples())
	if err := audio.ValidatePCMData(pcm, 1); err != nil {
		return "", fmt.Errorf("transcribe: utterance audio: %w", err)
	}
	wav, err := audio.PCMBytesToWavBytes(pcm, 1, u.SampleRate())
	if err != nil {
		return "", fmt.Errorf("transcribe: encode utterance: %w", err)
	}

	name := receivedPrefix + s.now().Format(timeLayout) + ".wav"
	path := filepath.Join(s.cfg.Dir, name)
	if _, err := os.Stat(path); err == nil {
		// Two turns inside one second.
		name = receivedPrefix + s.now().Format(timeLayout) + fmt.Sprintf("-%d.wav", s.now().Nanosecond())
		path = filepath.Join(s.cfg.Dir, name)
	}
	if err := os.WriteFile(path, wav, 0o644); err != nil {
		return "", fmt.Errorf("transcribe: write %q: %w", path, err)
	}
	return path, nil
}

// finish removes or keeps the asset and returns the retained path, if any.
func (s *Store) finish(path string, failed bool) string {
	if !s.cfg.Retain {
		if err := os.Remove(path); err != nil {
			s.logger.Warn("failed to remove received audio", "path", path, "error", err)
		}
		return ""
	}
	if !failed {
		return path
	}
	target := filepath.Join(filepath.Dir(path), failedPrefix+filepath.Base(path))
	if err := os.Rename(path, target); err != nil {
		s.logger.Warn("failed to flag received audio", "path", path, "error", err)
		return path
	}
	return target
}
