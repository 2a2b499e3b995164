// Package llm talks to a local Ollama server through its native chat API.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/kennyrkun/dispatcher/core"
)

type Config struct {
	BaseURL     string  `json:"base_url"` // default http://localhost:11434
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	KeepAlive   string  `json:"keep_alive"`
	TimeoutS    float64 `json:"timeout_seconds"`
}

type OllamaLLMService struct {
	config Config
	client *http.Client
	logger *core.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string                 `json:"model"`
	Messages  []chatMessage          `json:"messages"`
	Stream    bool                   `json:"stream"`
	KeepAlive string                 `json:"keep_alive,omitempty"`
	Options   map[string]interface{} `json:"options,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error"`
}

func NewOllamaLLMService(config Config, logger *core.Logger) *OllamaLLMService {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	timeout := 120 * time.Second
	if config.TimeoutS > 0 {
		timeout = time.Duration(config.TimeoutS * float64(time.Second))
	}
	return &OllamaLLMService{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger.OrDefault().With(map[string]interface{}{"service": "ollama-llm"}),
	}
}

func (s *OllamaLLMService) Initialize(ctx context.Context) error {
	if s.config.Model == "" {
		return fmt.Errorf("ollama model is required")
	}
	return nil
}

// Complete posts the history to /api/chat without streaming. An "error"
// field in the reply, or an empty message, is an engine response error.
func (s *OllamaLLMService) Complete(ctx context.Context, llmContext core.LLMContext) (string, error) {
	req := chatRequest{
		Model:     s.config.Model,
		Messages:  make([]chatMessage, 0, len(llmContext.Messages)),
		KeepAlive: s.config.KeepAlive,
	}
	for _, m := range llmContext.Messages {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Message})
	}
	if s.config.Temperature > 0 {
		req.Options = map[string]interface{}{"temperature": s.config.Temperature}
	}

	body, err := sonic.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(s.config.BaseURL, "/")+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("ollama read: %w", err)
	}

	var out chatResponse
	if err := sonic.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("ollama decode (status %d): %w", resp.StatusCode, err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama: %s: %w", out.Error, core.ErrEngineResponse)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama status %d: %w", resp.StatusCode, core.ErrEngineResponse)
	}

	reply := strings.TrimSpace(out.Message.Content)
	if reply == "" {
		return "", fmt.Errorf("ollama: empty message: %w", core.ErrEngineResponse)
	}
	s.logger.Debug("completion received", "model", out.Model, "chars", len(reply))
	return reply, nil
}
