package tts

import (
	"context"
	"fmt"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/sashabaranov/go-openai"
)

// pcmSampleRate is the fixed rate of the API's raw pcm format.
const pcmSampleRate = 24000

type Config struct {
	APIKey       string `json:"api_key"`
	BaseURL      string `json:"base_url"`
	Model        string `json:"model"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions"`
}

// OpenAITTSService synthesizes speech as raw 24 kHz PCM.
type OpenAITTSService struct {
	client *openai.Client
	config Config
	logger *core.Logger
}

func NewOpenAITTSService(config Config, logger *core.Logger) *OpenAITTSService {
	if config.Model == "" {
		config.Model = string(openai.TTSModel1)
	}
	if config.Voice == "" {
		config.Voice = string(openai.VoiceAlloy)
	}
	cfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}
	return &OpenAITTSService{
		client: openai.NewClientWithConfig(cfg),
		config: config,
		logger: logger.OrDefault().With(map[string]interface{}{"service": "openai-tts"}),
	}
}

func (s *OpenAITTSService) Initialize(ctx context.Context) error {
	if s.config.APIKey == "" && s.config.BaseURL == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	return nil
}

func (s *OpenAITTSService) Synthesize(ctx context.Context, text string, opts core.SynthesisOptions) (*core.Speech, error) {
	voice := s.config.Voice
	if opts.Voice != "" {
		voice = opts.Voice
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1
	}

	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.config.Model),
		Input:          text,
		Voice:          openai.SpeechVoice(voice),
		Instructions:   s.config.Instructions,
		ResponseFormat: openai.SpeechResponseFormatPcm,
		Speed:          speed,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to synthesize: %w", err)
	}
	s.logger.Debug("speech requested", "voice", voice, "chars", len(text))

	return &core.Speech{
		Audio:      resp.ReadCloser,
		Format:     core.PCM,
		SampleRate: pcmSampleRate,
		Channels:   1,
	}, nil
}
