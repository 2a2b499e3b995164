// Package tts runs a local synthesizer (piper, gtts-cli, espeak) as a
// subprocess per utterance.
package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kennyrkun/dispatcher/core"
)

const (
	TextPlaceholder   = "{text}"
	OutputPlaceholder = "{output}"
	VoicePlaceholder  = "{voice}"
	PacePlaceholder   = "{pace}"
)

type Config struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	// Format of what the command writes: "raw" for s16le mono PCM at
	// SampleRate, otherwise a container extension such as "wav" or "mp3".
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
	// PaceInverted marks backends whose rate argument is a duration scale
	// (piper's length_scale): lower is faster.
	PaceInverted bool   `json:"pace_inverted"`
	Voice        string `json:"voice"`
	// TextOnStdin feeds the text to the command's stdin (piper).
	TextOnStdin bool `json:"text_on_stdin"`
}

// CommandTTSService reads audio from {output} when the arguments name it,
// from stdout otherwise.
type CommandTTSService struct {
	config Config
	logger *core.Logger
}

func NewCommandTTSService(config Config, logger *core.Logger) *CommandTTSService {
	if config.Format == "" {
		config.Format = "wav"
	}
	if config.Format == "raw" && config.SampleRate == 0 {
		config.SampleRate = 22050
	}
	return &CommandTTSService{
		config: config,
		logger: logger.OrDefault().With(map[string]interface{}{"service": "command-tts", "command": config.Command}),
	}
}

func (s *CommandTTSService) Initialize(ctx context.Context) error {
	if s.config.Command == "" {
		return errors.New("synthesis command is required")
	}
	if _, err := exec.LookPath(s.config.Command); err != nil {
		return fmt.Errorf("synthesis command: %w", err)
	}
	return nil
}

// pace converts a speed (larger is faster) into the backend's rate value.
func (s *CommandTTSService) pace(speed float64) string {
	if speed <= 0 {
		speed = 1
	}
	if s.config.PaceInverted {
		speed = 1 / speed
	}
	return strconv.FormatFloat(speed, 'f', -1, 64)
}

func (s *CommandTTSService) Synthesize(ctx context.Context, text string, opts core.SynthesisOptions) (*core.Speech, error) {
	voice := s.config.Voice
	if opts.Voice != "" {
		voice = opts.Voice
	}

	out, err := os.CreateTemp("", "dispatch-tts-*."+s.extension())
	if err != nil {
		return nil, err
	}
	outPath := out.Name()
	out.Close()

	replacer := strings.NewReplacer(
		TextPlaceholder, text,
		OutputPlaceholder, outPath,
		VoicePlaceholder, voice,
		PacePlaceholder, s.pace(opts.Speed),
	)
	toFile := false
	args := make([]string, len(s.config.Args))
	for i, a := range s.config.Args {
		if strings.Contains(a, OutputPlaceholder) {
			toFile = true
		}
		args[i] = replacer.Replace(a)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.config.Command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if s.config.TextOnStdin {
		cmd.Stdin = strings.NewReader(text)
	}
	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("%s: %w: %s", s.config.Command, err, strings.TrimSpace(stderr.String()))
	}
	if !toFile {
		if err := os.WriteFile(outPath, stdout.Bytes(), 0o600); err != nil {
			os.Remove(outPath)
			return nil, err
		}
	}

	f, err := os.Open(outPath)
	if err != nil {
		os.Remove(outPath)
		return nil, err
	}
	if info, err := f.Stat(); err == nil && info.Size() == 0 {
		f.Close()
		os.Remove(outPath)
		return nil, fmt.Errorf("%s produced no audio: %w", s.config.Command, core.ErrEngineResponse)
	}
	s.logger.Debug("synthesized", "voice", voice, "chars", len(text))

	speech := &core.Speech{Audio: &tempFile{File: f}, Channels: 1}
	if s.config.Format == "raw" {
		speech.Format = core.PCM
		speech.SampleRate = s.config.SampleRate
	} else {
		speech.Format = core.Container
		speech.Container = s.config.Format
	}
	return speech, nil
}

func (s *CommandTTSService) extension() string {
	if s.config.Format == "raw" {
		return "pcm"
	}
	return filepath.Base(s.config.Format)
}

// tempFile removes itself on Close.
type tempFile struct {
	*os.File
}

func (t *tempFile) Close() error {
	err := t.File.Close()
	os.Remove(t.File.Name())
	return err
}
