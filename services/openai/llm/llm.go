package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kennyrkun/dispatcher/core"
	"github.com/sashabaranov/go-openai"
)

// OpenAILLMService completes conversations through the OpenAI chat API or
// any server that speaks it (Ollama's /v1, llama.cpp, vLLM).
type OpenAILLMService struct {
	client      *openai.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature float32
	streaming   bool
	logger      *core.Logger

	// Service state
	isInitialized bool
	mu            sync.RWMutex
}

// Config holds the configuration for OpenAI service
type Config struct {
	APIKey      string
	BaseURL     string // empty for api.openai.com
	Model       string
	MaxTokens   int
	Temperature float32
	Streaming   bool
}

// NewOpenAILLMService creates a new instance of OpenAILLMService
func NewOpenAILLMService(config Config, logger *core.Logger) *OpenAILLMService {
	return &OpenAILLMService{
		apiKey:      config.APIKey,
		baseURL:     config.BaseURL,
		model:       config.Model,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		streaming:   config.Streaming,
		logger:      logger.OrDefault().With(map[string]interface{}{"service": "openai-llm"}),
	}
}

// Initialize creates the client and checks that the server answers.
func (s *OpenAILLMService) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.apiKey == "" && s.baseURL == "" {
		return fmt.Errorf("OpenAI API key is required")
	}

	cfg := openai.DefaultConfig(s.apiKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	s.client = openai.NewClientWithConfig(cfg)

	// Test the connection
	if _, err := s.client.ListModels(ctx); err != nil {
		return fmt.Errorf("failed to connect to OpenAI: %w", err)
	}

	s.isInitialized = true
	return nil
}

// Cleanup performs cleanup operations
func (s *OpenAILLMService) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	s.isInitialized = false
	return nil
}

// Complete runs one completion and returns the whole reply.
func (s *OpenAILLMService) Complete(ctx context.Context, llmContext core.LLMContext) (string, error) {
	s.mu.RLock()
	client := s.client
	initialized := s.isInitialized
	s.mu.RUnlock()
	if !initialized {
		return "", fmt.Errorf("OpenAI service not initialized")
	}

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    convertMessages(llmContext.Messages),
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Stream:      s.streaming,
	}

	var reply string
	var err error
	if s.streaming {
		reply, err = s.runStreamingCompletion(ctx, client, req)
	} else {
		reply, err = s.runNonStreamingCompletion(ctx, client, req)
	}
	if err != nil {
		return "", err
	}

	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", fmt.Errorf("openai: empty completion: %w", core.ErrEngineResponse)
	}
	s.logger.Debug("completion received", "model", s.model, "chars", len(reply))
	return reply, nil
}

// runStreamingCompletion accumulates streamed deltas
func (s *OpenAILLMService) runStreamingCompletion(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest) (string, error) {
	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create completion stream: %w", err)
	}
	defer stream.Close()

	var b strings.Builder
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return b.String(), nil
		}
		if err != nil {
			return "", fmt.Errorf("completion stream: %w", err)
		}
		if len(response.Choices) > 0 {
			b.WriteString(response.Choices[0].Delta.Content)
		}
	}
}

// runNonStreamingCompletion handles non-streaming responses
func (s *OpenAILLMService) runNonStreamingCompletion(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest) (string, error) {
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: no choices: %w", core.ErrEngineResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// convertMessages converts core messages to OpenAI messages
func convertMessages(messages []core.LLMMessage) []openai.ChatCompletionMessage {
	openAIMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		openAIMessages = append(openAIMessages, openai.ChatCompletionMessage{
			Role:    convertRole(msg.Role),
			Content: msg.Message,
		})
	}
	return openAIMessages
}

// convertRole converts core role to OpenAI role
func convertRole(role core.LLMMessageRole) string {
	switch role {
	case core.LLMMessageRoleAssistant:
		return openai.ChatMessageRoleAssistant
	case core.LLMMessageRoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
