package factories

import (
	"context"
	"errors"
	"fmt"

	"github.com/kennyrkun/dispatcher/core"
	ollamallm "github.com/kennyrkun/dispatcher/services/ollama/llm"
	openaillm "github.com/kennyrkun/dispatcher/services/openai/llm"
)

// LLMFactoryConfig holds provider-specific configs for response engine construction.
// Set exactly one provider config; the rest should be left nil.
// Every provider except the native Ollama one speaks the OpenAI-compatible
// protocol and is served by the same OpenAI service with a custom base URL.
type LLMFactoryConfig struct {
	OpenAIConfig       *openaillm.Config `json:"openai,omitempty"`
	OllamaConfig       *ollamallm.Config `json:"ollama,omitempty"`
	OllamaOpenAIConfig *openaillm.Config `json:"ollama_openai,omitempty"`
	TogetherConfig     *openaillm.Config `json:"together,omitempty"`
	GroqConfig         *openaillm.Config `json:"groq,omitempty"`
	DeepSeekConfig     *openaillm.Config `json:"deepseek,omitempty"`
	OpenRouterConfig   *openaillm.Config `json:"openrouter,omitempty"`
	FireworksConfig    *openaillm.Config `json:"fireworks,omitempty"`
	CerebrasConfig     *openaillm.Config `json:"cerebras,omitempty"`
	XAIConfig          *openaillm.Config `json:"xai,omitempty"`
	MistralConfig      *openaillm.Config `json:"mistral,omitempty"`
	PerplexityConfig   *openaillm.Config `json:"perplexity,omitempty"`
}

// Default base URLs for OpenAI-compatible providers.
const (
	ollamaOpenAIBaseURL = "http://localhost:11434/v1"
	togetherBaseURL     = "https://api.together.xyz/v1"
	groqBaseURL         = "https://api.groq.com/openai/v1"
	deepseekBaseURL     = "https://api.deepseek.com/v1"
	openrouterBaseURL   = "https://openrouter.ai/api/v1"
	fireworksBaseURL    = "https://api.fireworks.ai/inference/v1"
	cerebrasBaseURL     = "https://api.cerebras.ai/v1"
	xaiBaseURL          = "https://api.x.ai/v1"
	mistralBaseURL      = "https://api.mistral.ai/v1"
	perplexityBaseURL   = "https://api.perplexity.ai"
)

// initializer is implemented by every engine that validates its config or
// probes its server before first use.
type initializer interface {
	Initialize(ctx context.Context) error
}

// BuildLLMEngine constructs and initializes a response engine from the given factory config.
// Exactly one provider config must be non-nil.
func BuildLLMEngine(ctx context.Context, config LLMFactoryConfig, logger *core.Logger) (core.LLMEngine, error) {
	engine, err := newLLMEngine(config, logger)
	if err != nil {
		return nil, err
	}
	if i, ok := engine.(initializer); ok {
		if err := i.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("llm: %w", err)
		}
	}
	return engine, nil
}

func newLLMEngine(config LLMFactoryConfig, logger *core.Logger) (core.LLMEngine, error) {
	switch {
	case config.OpenAIConfig != nil:
		return openaillm.NewOpenAILLMService(*config.OpenAIConfig, logger), nil
	case config.OllamaConfig != nil:
		return ollamallm.NewOllamaLLMService(*config.OllamaConfig, logger), nil
	case config.OllamaOpenAIConfig != nil:
		return buildOpenAICompatible(*config.OllamaOpenAIConfig, ollamaOpenAIBaseURL, "llama3.2", logger), nil
	case config.TogetherConfig != nil:
		return buildOpenAICompatible(*config.TogetherConfig, togetherBaseURL, "meta-llama/Llama-3.3-70B-Instruct-Turbo", logger), nil
	case config.GroqConfig != nil:
		return buildOpenAICompatible(*config.GroqConfig, groqBaseURL, "llama-3.3-70b-versatile", logger), nil
	case config.DeepSeekConfig != nil:
		return buildOpenAICompatible(*config.DeepSeekConfig, deepseekBaseURL, "deepseek-chat", logger), nil
	case config.OpenRouterConfig != nil:
		return buildOpenAICompatible(*config.OpenRouterConfig, openrouterBaseURL, "openai/gpt-4o", logger), nil
	case config.FireworksConfig != nil:
		return buildOpenAICompatible(*config.FireworksConfig, fireworksBaseURL, "accounts/fireworks/models/llama-v3p3-70b-instruct", logger), nil
	case config.CerebrasConfig != nil:
		return buildOpenAICompatible(*config.CerebrasConfig, cerebrasBaseURL, "llama-3.3-70b", logger), nil
	case config.XAIConfig != nil:
		return buildOpenAICompatible(*config.XAIConfig, xaiBaseURL, "grok-3", logger), nil
	case config.MistralConfig != nil:
		return buildOpenAICompatible(*config.MistralConfig, mistralBaseURL, "mistral-large-latest", logger), nil
	case config.PerplexityConfig != nil:
		return buildOpenAICompatible(*config.PerplexityConfig, perplexityBaseURL, "sonar-pro", logger), nil
	}
	return nil, errors.New("LLMFactoryConfig: no provider config specified")
}

// buildOpenAICompatible creates an OpenAI-compatible LLM service, applying default
// base URL and model if not explicitly set in the config.
func buildOpenAICompatible(cfg openaillm.Config, defaultBaseURL, defaultModel string, logger *core.Logger) *openaillm.OpenAILLMService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return openaillm.NewOpenAILLMService(cfg, logger)
}
