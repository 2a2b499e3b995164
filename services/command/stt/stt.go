// Package stt runs a local transcriber (whisper.cpp, faster-whisper CLI)
// as a subprocess per utterance.
package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/kennyrkun/dispatcher/core"
)

// InputPlaceholder is replaced with the audio path in every argument.
const InputPlaceholder = "{input}"

type Config struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// CommandSTTService treats the command's stdout as the transcript.
type CommandSTTService struct {
	config Config
	logger *core.Logger
}

func NewCommandSTTService(config Config, logger *core.Logger) *CommandSTTService {
	return &CommandSTTService{
		config: config,
		logger: logger.OrDefault().With(map[string]interface{}{"service": "command-stt", "command": config.Command}),
	}
}

func (s *CommandSTTService) Initialize(ctx context.Context) error {
	if s.config.Command == "" {
		return errors.New("transcription command is required")
	}
	if _, err := exec.LookPath(s.config.Command); err != nil {
		return fmt.Errorf("transcription command: %w", err)
	}
	return nil
}

func (s *CommandSTTService) Transcribe(ctx context.Context, path string) (string, error) {
	args := make([]string, len(s.config.Args))
	for i, a := range s.config.Args {
		args[i] = strings.ReplaceAll(a, InputPlaceholder, path)
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, s.config.Command, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w: %s", s.config.Command, err, strings.TrimSpace(stderr.String()))
	}

	s.logger.Debug("transcriber finished", "path", path)
	return strings.TrimSpace(stdout.String()), nil
}
