package factories

import (
	"context"
	"errors"
	"fmt"

	"github.com/kennyrkun/dispatcher/core"
	cartesia "github.com/kennyrkun/dispatcher/services/cartesia/tts"
	commandtts "github.com/kennyrkun/dispatcher/services/command/tts"
	deepgramtts "github.com/kennyrkun/dispatcher/services/deepgram/tts"
	elevenlabs "github.com/kennyrkun/dispatcher/services/elevenlabs/tts"
	openaitts "github.com/kennyrkun/dispatcher/services/openai/tts"
)

// TTSFactoryConfig holds provider-specific configs for voice engine construction.
// Set exactly one provider config; the rest should be left nil.
type TTSFactoryConfig struct {
	OpenAIConfig     *openaitts.Config               `json:"openai,omitempty"`
	DeepgramConfig   *deepgramtts.DepgramTTSConfig   `json:"deepgram,omitempty"`
	ElevenLabsConfig *elevenlabs.ElevenLabsTTSConfig `json:"elevenlabs,omitempty"`
	CartesiaConfig   *cartesia.CartesiaTTSConfig     `json:"cartesia,omitempty"`
	CommandConfig    *commandtts.Config              `json:"command,omitempty"`
}

// BuildTTSEngine constructs and initializes a voice engine from the given factory config.
// Exactly one provider config must be non-nil.
func BuildTTSEngine(ctx context.Context, config TTSFactoryConfig, logger *core.Logger) (core.TTSEngine, error) {
	var engine core.TTSEngine
	switch {
	case config.OpenAIConfig != nil:
		engine = openaitts.NewOpenAITTSService(*config.OpenAIConfig, logger)
	case config.DeepgramConfig != nil:
		engine = deepgramtts.NewDepgramTTS(*config.DeepgramConfig, logger)
	case config.ElevenLabsConfig != nil:
		engine = elevenlabs.NewElevenLabsTTS(*config.ElevenLabsConfig, logger)
	case config.CartesiaConfig != nil:
		engine = cartesia.NewCartesiaTTS(*config.CartesiaConfig, logger)
	case config.CommandConfig != nil:
		engine = commandtts.NewCommandTTSService(*config.CommandConfig, logger)
	default:
		return nil, errors.New("TTSFactoryConfig: no provider config specified")
	}
	if i, ok := engine.(initializer); ok {
		if err := i.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("tts: %w", err)
		}
	}
	return engine, nil
}
