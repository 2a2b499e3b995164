package factories

import (
	"context"
	"errors"
	"fmt"

	"github.com/kennyrkun/dispatcher/core"
	commandstt "github.com/kennyrkun/dispatcher/services/command/stt"
	deepgramstt "github.com/kennyrkun/dispatcher/services/deepgram/stt"
	openaistt "github.com/kennyrkun/dispatcher/services/openai/stt"
)

// STTFactoryConfig holds provider-specific configs for transcription engine construction.
// Set exactly one provider config; the rest should be left nil.
type STTFactoryConfig struct {
	OpenAIConfig   *openaistt.Config           `json:"openai,omitempty"`
	DeepgramConfig *deepgramstt.DeepgramConfig `json:"deepgram,omitempty"`
	CommandConfig  *commandstt.Config          `json:"command,omitempty"`
}

// BuildSTTEngine constructs and initializes a transcription engine from the given factory config.
// Exactly one provider config must be non-nil.
func BuildSTTEngine(ctx context.Context, config STTFactoryConfig, logger *core.Logger) (core.STTEngine, error) {
	var engine core.STTEngine
	switch {
	case config.OpenAIConfig != nil:
		engine = openaistt.NewOpenAISTTService(*config.OpenAIConfig, logger)
	case config.DeepgramConfig != nil:
		engine = deepgramstt.NewDeepgramSTTService(config.DeepgramConfig, logger)
	case config.CommandConfig != nil:
		engine = commandstt.NewCommandSTTService(*config.CommandConfig, logger)
	default:
		return nil, errors.New("STTFactoryConfig: no provider config specified")
	}
	if i, ok := engine.(initializer); ok {
		if err := i.Initialize(ctx); err != nil {
			return nil, fmt.Errorf("stt: %w", err)
		}
	}
	return engine, nil
}
