package stt

import (
	"context"
	"fmt"
	"strings"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/sashabaranov/go-openai"
)

// Config holds the configuration for the transcription service. BaseURL
// points at any server implementing /audio/transcriptions.
type Config struct {
	APIKey   string `json:"api_key"`
	BaseURL  string `json:"base_url"`
	Model    string `json:"model"`
	Language string `json:"language"`
	Prompt   string `json:"prompt"`
}

// OpenAISTTService transcribes stored files with the Whisper API.
type OpenAISTTService struct {
	client *openai.Client
	config Config
	logger *core.Logger
}

func NewOpenAISTTService(config Config, logger *core.Logger) *OpenAISTTService {
	if config.Model == "" {
		config.Model = openai.Whisper1
	}
	cfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}
	return &OpenAISTTService{
		client: openai.NewClientWithConfig(cfg),
		config: config,
		logger: logger.OrDefault().With(map[string]interface{}{"service": "openai-stt"}),
	}
}

func (s *OpenAISTTService) Initialize(ctx context.Context) error {
	if s.config.APIKey == "" && s.config.BaseURL == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	return nil
}

func (s *OpenAISTTService) Transcribe(ctx context.Context, path string) (string, error) {
	resp, err := s.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    s.config.Model,
		FilePath: path,
		Language: s.config.Language,
		Prompt:   s.config.Prompt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to transcribe: %w", err)
	}
	s.logger.Debug("transcription finished", "path", path, "chars", len(resp.Text))
	return strings.TrimSpace(resp.Text), nil
}
