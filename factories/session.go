package factories

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	"github.com/kennyrkun/dispatcher/core"
	"github.com/kennyrkun/dispatcher/transmit"
)

// SessionSTTConfig selects the transcription provider with optional fallbacks.
type SessionSTTConfig struct {
	// ServiceConfig selects and configures the primary STT provider.
	// Set exactly one provider field inside STTFactoryConfig.
	ServiceConfig STTFactoryConfig `json:"service"`
	// FallbackServiceConfigs is an ordered list of fallback providers tried if the primary fails.
	FallbackServiceConfigs []STTFactoryConfig `json:"fallbacks,omitempty"`
}

// Build constructs the primary engine and wraps it with its fallbacks.
func (c SessionSTTConfig) Build(ctx context.Context, logger *core.Logger) (core.STTEngine, error) {
	primary, err := BuildSTTEngine(ctx, c.ServiceConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("stt primary service: %w", err)
	}
	if len(c.FallbackServiceConfigs) == 0 {
		return primary, nil
	}
	chain := &fallbackSTT{engines: []core.STTEngine{primary}, logger: logger.OrDefault()}
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildSTTEngine(ctx, fbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("stt fallback[%d]: %w", i, err)
		}
		chain.engines = append(chain.engines, fb)
	}
	return chain, nil
}

// SessionLLMConfig selects the response provider with optional fallbacks.
type SessionLLMConfig struct {
	// ServiceConfig selects and configures the primary LLM provider.
	// Set exactly one provider field inside LLMFactoryConfig.
	ServiceConfig LLMFactoryConfig `json:"service"`
	// FallbackServiceConfigs is an ordered list of fallback providers tried if the primary fails.
	FallbackServiceConfigs []LLMFactoryConfig `json:"fallbacks,omitempty"`
}

// Build constructs the primary engine and wraps it with its fallbacks.
func (c SessionLLMConfig) Build(ctx context.Context, logger *core.Logger) (core.LLMEngine, error) {
	primary, err := BuildLLMEngine(ctx, c.ServiceConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("llm primary service: %w", err)
	}
	if len(c.FallbackServiceConfigs) == 0 {
		return primary, nil
	}
	chain := &fallbackLLM{engines: []core.LLMEngine{primary}, logger: logger.OrDefault()}
	for i, fbCfg := range c.FallbackServiceConfigs {
		fb, err := BuildLLMEngine(ctx, fbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("llm fallback[%d]: %w", i, err)
		}
		chain.engines = append(chain.engines, fb)
	}
	return chain, nil
}

// SessionTTSConfig names the voice engines that voice profiles refer to.
type SessionTTSConfig struct {
	Engines map[string]TTSFactoryConfig `json:"engines"`
}

// Build constructs every named engine.
func (c SessionTTSConfig) Build(ctx context.Context, logger *core.Logger) (map[string]core.TTSEngine, error) {
	if len(c.Engines) == 0 {
		return nil, errors.New("tts: no voice engines configured")
	}
	engines := make(map[string]core.TTSEngine, len(c.Engines))
	for name, cfg := range c.Engines {
		engine, err := BuildTTSEngine(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("tts engine %q: %w", name, err)
		}
		engines[name] = engine
	}
	return engines, nil
}

// SessionConfig groups the engine configs of the dispatcher.
type SessionConfig struct {
	TTS SessionTTSConfig `json:"tts"`
	STT SessionSTTConfig `json:"stt"`
	LLM SessionLLMConfig `json:"llm"`
}

// SessionConfigFromJSON parses a JSON blob into a SessionConfig.
// API keys and other secrets should be injected after loading via env vars rather than
// stored in config files.
func SessionConfigFromJSON(data []byte) (SessionConfig, error) {
	var cfg SessionConfig
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return SessionConfig{}, fmt.Errorf("session config: %w", err)
	}
	return cfg, nil
}

// APIKeys holds API credentials for all supported service providers.
// Pass to SessionConfig.InjectAPIKeys after loading from JSON so that
// secrets are never stored in config files.
type APIKeys struct {
	Deepgram   string // Used for Deepgram STT and TTS providers.
	OpenAI     string // Used for OpenAI LLM, STT and TTS providers.
	Together   string // Used for Together AI LLM provider.
	Groq       string // Used for Groq LLM provider.
	DeepSeek   string // Used for DeepSeek LLM provider.
	OpenRouter string // Used for OpenRouter LLM provider.
	Fireworks  string // Used for Fireworks AI LLM provider.
	Cerebras   string // Used for Cerebras LLM provider.
	XAI        string // Used for xAI (Grok) LLM provider.
	Mistral    string // Used for Mistral AI LLM provider.
	Perplexity string // Used for Perplexity LLM provider.
	ElevenLabs string // Used for ElevenLabs TTS provider.
	Cartesia   string // Used for Cartesia TTS provider.
}

// InjectAPIKeys applies API credentials to all configured service providers
// (primary and fallbacks) in the SessionConfig. Call this after loading from
// JSON so that secrets are not stored in config files.
func (c *SessionConfig) InjectAPIKeys(keys APIKeys) {
	injectSTTKeys(&c.STT.ServiceConfig, keys)
	for i := range c.STT.FallbackServiceConfigs {
		injectSTTKeys(&c.STT.FallbackServiceConfigs[i], keys)
	}

	injectLLMKeys(&c.LLM.ServiceConfig, keys)
	for i := range c.LLM.FallbackServiceConfigs {
		injectLLMKeys(&c.LLM.FallbackServiceConfigs[i], keys)
	}

	for name, cfg := range c.TTS.Engines {
		injectTTSKeys(&cfg, keys)
		c.TTS.Engines[name] = cfg
	}
}

func injectSTTKeys(cfg *STTFactoryConfig, keys APIKeys) {
	if cfg.OpenAIConfig != nil && cfg.OpenAIConfig.APIKey == "" {
		cfg.OpenAIConfig.APIKey = keys.OpenAI
	}
	if cfg.DeepgramConfig != nil && cfg.DeepgramConfig.APIKey == "" {
		cfg.DeepgramConfig.APIKey = keys.Deepgram
	}
}

// injectLLMKeys applies the relevant API key to a single LLMFactoryConfig.
func injectLLMKeys(cfg *LLMFactoryConfig, keys APIKeys) {
	if cfg.OpenAIConfig != nil && cfg.OpenAIConfig.APIKey == "" {
		cfg.OpenAIConfig.APIKey = keys.OpenAI
	}
	if cfg.TogetherConfig != nil && cfg.TogetherConfig.APIKey == "" {
		cfg.TogetherConfig.APIKey = keys.Together
	}
	if cfg.GroqConfig != nil && cfg.GroqConfig.APIKey == "" {
		cfg.GroqConfig.APIKey = keys.Groq
	}
	if cfg.DeepSeekConfig != nil && cfg.DeepSeekConfig.APIKey == "" {
		cfg.DeepSeekConfig.APIKey = keys.DeepSeek
	}
	if cfg.OpenRouterConfig != nil && cfg.OpenRouterConfig.APIKey == "" {
		cfg.OpenRouterConfig.APIKey = keys.OpenRouter
	}
	if cfg.FireworksConfig != nil && cfg.FireworksConfig.APIKey == "" {
		cfg.FireworksConfig.APIKey = keys.Fireworks
	}
	if cfg.CerebrasConfig != nil && cfg.CerebrasConfig.APIKey == "" {
		cfg.CerebrasConfig.APIKey = keys.Cerebras
	}
	if cfg.XAIConfig != nil && cfg.XAIConfig.APIKey == "" {
		cfg.XAIConfig.APIKey = keys.XAI
	}
	if cfg.MistralConfig != nil && cfg.MistralConfig.APIKey == "" {
		cfg.MistralConfig.APIKey = keys.Mistral
	}
	if cfg.PerplexityConfig != nil && cfg.PerplexityConfig.APIKey == "" {
		cfg.PerplexityConfig.APIKey = keys.Perplexity
	}
}

// injectTTSKeys applies the relevant API key to a single TTSFactoryConfig.
func injectTTSKeys(cfg *TTSFactoryConfig, keys APIKeys) {
	if cfg.OpenAIConfig != nil && cfg.OpenAIConfig.APIKey == "" {
		cfg.OpenAIConfig.APIKey = keys.OpenAI
	}
	if cfg.DeepgramConfig != nil && cfg.DeepgramConfig.APIKey == "" {
		cfg.DeepgramConfig.APIKey = keys.Deepgram
	}
	if cfg.ElevenLabsConfig != nil && cfg.ElevenLabsConfig.APIKey == "" {
		cfg.ElevenLabsConfig.APIKey = keys.ElevenLabs
	}
	if cfg.CartesiaConfig != nil && cfg.CartesiaConfig.APIKey == "" {
		cfg.CartesiaConfig.APIKey = keys.Cartesia
	}
}

// SessionEngines holds the constructed engines ready to be handed to the
// dispatcher components.
type SessionEngines struct {
	STT core.STTEngine
	LLM core.LLMEngine
	TTS map[string]core.TTSEngine
}

// BuildEngines constructs all engines described by the SessionConfig and
// checks that every voice profile names a configured engine.
func (c SessionConfig) BuildEngines(ctx context.Context, voices []transmit.VoiceProfile, logger *core.Logger) (*SessionEngines, error) {
	for _, v := range voices {
		if _, ok := c.TTS.Engines[v.Engine]; !ok {
			return nil, fmt.Errorf("session: voice %q uses unknown engine %q", v.Name, v.Engine)
		}
	}

	tts, err := c.TTS.Build(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	stt, err := c.STT.Build(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	llm, err := c.LLM.Build(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &SessionEngines{STT: stt, LLM: llm, TTS: tts}, nil
}

// fallbackSTT tries each engine in order until one succeeds.
type fallbackSTT struct {
	engines []core.STTEngine
	logger  *core.Logger
}

func (f *fallbackSTT) Transcribe(ctx context.Context, path string) (string, error) {
	var errs []error
	for i, e := range f.engines {
		text, err := e.Transcribe(ctx, path)
		if err == nil {
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f.logger.Warn("transcription engine failed", "index", i, "error", err)
		errs = append(errs, err)
	}
	return "", errors.Join(errs...)
}

// fallbackLLM tries each engine in order until one succeeds.
type fallbackLLM struct {
	engines []core.LLMEngine
	logger  *core.Logger
}

func (f *fallbackLLM) Complete(ctx context.Context, llmContext core.LLMContext) (string, error) {
	var errs []error
	for i, e := range f.engines {
		reply, err := e.Complete(ctx, llmContext)
		if err == nil {
			return reply, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f.logger.Warn("response engine failed", "index", i, "error", err)
		errs = append(errs, err)
	}
	return "", errors.Join(errs...)
}
