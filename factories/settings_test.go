package factories

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kennyrkun/dispatcher/core"
	ollamallm "github.com/kennyrkun/dispatcher/services/ollama/llm"
	openaillm "github.com/kennyrkun/dispatcher/services/openai/llm"
	"github.com/kennyrkun/dispatcher/transmit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsMatchRadioTimings(t *testing.T) {
	cfg := DefaultSettingsConfig()
	require.NoError(t, cfg.Validate())

	v := cfg.VADConfig()
	assert.Equal(t, 800, v.Threshold)
	assert.Equal(t, time.Second, v.MinDuration)
	assert.Equal(t, 2500*time.Millisecond, v.PadDuration)
	assert.Equal(t, 30*time.Second, v.MaxDuration)

	tx := cfg.TransmitConfig()
	assert.Equal(t, 300.0, tx.Framing.StartTone.Frequency)
	assert.Equal(t, 1500*time.Millisecond, tx.Framing.StartTone.Duration)
	assert.Equal(t, transmit.EndToneNone, tx.Framing.EndTone)

	dispatcher, err := cfg.Voice(cfg.DispatcherVoice)
	require.NoError(t, err)
	assert.Equal(t, 1.3, dispatcher.Tempo)
	assert.Empty(t, cfg.IdleConfig().Voices)
}

func TestSettingsFromJSONKeepsDefaults(t *testing.T) {
	cfg, err := SettingsConfigFromJSON([]byte(`{
		"vad": {"threshold": 1200, "pad_duration_seconds": 2},
		"framing": {"end_tone": "random", "noise_duration_seconds": 0.25}
	}`))
	require.NoError(t, err)

	assert.Equal(t, 1200, cfg.VAD.Threshold)
	assert.Equal(t, 2.0, cfg.VAD.PadDurationS)
	assert.Equal(t, 30.0, cfg.VAD.MaxDurationS)
	assert.Equal(t, "random", cfg.Framing.EndTone)
	assert.Equal(t, 250*time.Millisecond, cfg.TransmitConfig().Framing.NoiseDuration)
	require.NotNil(t, cfg.Session)
	assert.NotNil(t, cfg.Session.LLM.ServiceConfig.OllamaConfig)
}

func TestSettingsSessionIsNotMerged(t *testing.T) {
	cfg, err := SettingsConfigFromJSON([]byte(`{
		"session_config": {
			"llm": {"service": {"groq": {"model": "llama-3.1-8b-instant"}}},
			"tts": {"engines": {"piper": {"command": {"command": "espeak", "args": ["-w", "{output}", "{text}"]}}}}
		}
	}`))
	require.NoError(t, err)

	llm := cfg.Session.LLM.ServiceConfig
	require.NotNil(t, llm.GroqConfig)
	assert.Nil(t, llm.OllamaConfig)
	assert.Nil(t, cfg.Session.STT.ServiceConfig.CommandConfig)
	assert.Equal(t, "espeak", cfg.Session.TTS.Engines["piper"].CommandConfig.Command)
}

func TestValidateIdleVoices(t *testing.T) {
	cfg := DefaultSettingsConfig()
	cfg.Idle.Enabled = true
	cfg.Idle.Voices = []string{"dispatcher"}
	assert.Error(t, cfg.Validate())

	cfg.Voices = append(cfg.Voices, transmit.VoiceProfile{Name: "unit", Engine: "piper"})
	cfg.Idle.Voices = []string{"dispatcher", "unit"}
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.IdleConfig().Voices, 2)

	cfg.Idle.Voices = []string{"dispatcher", "ghost"}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsBadCapture(t *testing.T) {
	cfg := DefaultSettingsConfig()
	cfg.Capture.Input = InputCommand
	assert.Error(t, cfg.Validate())

	_, err := SettingsConfigFromJSON([]byte(`{"dispatcher_voice": "nobody"}`))
	assert.Error(t, err)
}

func ptr(v float64) *float64 { return &v }

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		name                string
		flags               FlagOverrides
		wantTone, wantDelay float64
		wantEnd             string
	}{
		{"nothing set", FlagOverrides{}, 1.5, 0, transmit.EndToneNone},
		{"mdc", FlagOverrides{MDC: true}, 1.5, 0, "MDC1200"},
		{"longer tone", FlagOverrides{DelayTone: ptr(3)}, 3, 0, transmit.EndToneNone},
		{"tone disabled", FlagOverrides{DelayTone: ptr(0)}, 0, 0, transmit.EndToneNone},
		{"plain delay", FlagOverrides{Delay: ptr(2)}, 0, 2, transmit.EndToneNone},
		{"tone wins over delay", FlagOverrides{DelayTone: ptr(1), Delay: ptr(2)}, 1, 0, transmit.EndToneNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSettingsConfig()
			tt.flags.SaveReceived = true
			cfg.ApplyFlags(tt.flags)
			assert.Equal(t, tt.wantTone, cfg.Framing.StartTone.DurationS)
			assert.Equal(t, tt.wantDelay, cfg.Framing.DelayS)
			assert.Equal(t, tt.wantEnd, cfg.Framing.EndTone)
			assert.True(t, cfg.Retention.SaveReceivedAudio)
			assert.False(t, cfg.Retention.SaveSpokenAudio)
		})
	}
}

func TestSettingsFromMissingFile(t *testing.T) {
	cfg, err := SettingsConfigFromFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
	assert.Equal(t, 800, cfg.VAD.Threshold)

	path := filepath.Join(t.TempDir(), "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"player": "/usr/local/bin/ffplay"}`), 0o644))
	cfg, err = SettingsConfigFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/ffplay", cfg.Player)
}

func TestSessionAPIFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"site":"north"}`, string(body))
		io.WriteString(w, `{"llm": {"service": {"ollama": {"model": "qwen2.5"}}}}`)
	}))
	defer srv.Close()

	cfg := DefaultSettingsConfig()
	cfg.SessionAPI = &SessionAPIConfig{URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}, Body: `{"site":"north"}`}
	session, err := cfg.ResolveSession()
	require.NoError(t, err)
	assert.Equal(t, "qwen2.5", session.LLM.ServiceConfig.OllamaConfig.Model)
}

func TestInjectAPIKeys(t *testing.T) {
	session := SessionConfig{
		LLM: SessionLLMConfig{
			ServiceConfig:          LLMFactoryConfig{OpenAIConfig: &openaillm.Config{}},
			FallbackServiceConfigs: []LLMFactoryConfig{{GroqConfig: &openaillm.Config{APIKey: "kept"}}},
		},
		TTS: SessionTTSConfig{Engines: map[string]TTSFactoryConfig{
			"dg": {DeepgramConfig: nil},
		}},
	}
	session.InjectAPIKeys(APIKeys{OpenAI: "sk-1", Groq: "gq"})
	assert.Equal(t, "sk-1", session.LLM.ServiceConfig.OpenAIConfig.APIKey)
	assert.Equal(t, "kept", session.LLM.FallbackServiceConfigs[0].GroqConfig.APIKey)
}

func TestBuildRequiresProvider(t *testing.T) {
	ctx := context.Background()
	_, err := BuildLLMEngine(ctx, LLMFactoryConfig{}, core.NewDiscardLogger())
	assert.Error(t, err)
	_, err = BuildSTTEngine(ctx, STTFactoryConfig{}, core.NewDiscardLogger())
	assert.Error(t, err)
	_, err = BuildTTSEngine(ctx, TTSFactoryConfig{}, core.NewDiscardLogger())
	assert.Error(t, err)
}

func TestBuildOllamaEngine(t *testing.T) {
	engine, err := BuildLLMEngine(context.Background(), LLMFactoryConfig{OllamaConfig: &ollamallm.Config{Model: "llama3.2"}}, core.NewDiscardLogger())
	require.NoError(t, err)
	assert.IsType(t, &ollamallm.OllamaLLMService{}, engine)
}

func TestBuildEnginesUnknownVoiceEngine(t *testing.T) {
	session := *defaultSessionConfig()
	_, err := session.BuildEngines(context.Background(), []transmit.VoiceProfile{{Name: "x", Engine: "polly"}}, core.NewDiscardLogger())
	assert.ErrorContains(t, err, "unknown engine")
}

type scriptedLLM struct {
	reply string
	err   error
	calls int
}

func (s *scriptedLLM) Complete(context.Context, core.LLMContext) (string, error) {
	s.calls++
	return s.reply, s.err
}

func TestFallbackLLM(t *testing.T) {
	bad := &scriptedLLM{err: core.ErrEngineResponse}
	good := &scriptedLLM{reply: "copy"}
	chain := &fallbackLLM{engines: []core.LLMEngine{bad, good}, logger: core.NewDiscardLogger()}

	reply, err := chain.Complete(context.Background(), core.NewLLMContext("x"))
	require.NoError(t, err)
	assert.Equal(t, "copy", reply)
	assert.Equal(t, 1, bad.calls)

	chain = &fallbackLLM{engines: []core.LLMEngine{bad, bad}, logger: core.NewDiscardLogger()}
	_, err = chain.Complete(context.Background(), core.NewLLMContext("x"))
	assert.True(t, errors.Is(err, core.ErrEngineResponse))
}

type scriptedSTT struct {
	text string
	err  error
}

func (s scriptedSTT) Transcribe(context.Context, string) (string, error) {
	return s.text, s.err
}

func TestFallbackSTTStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	chain := &fallbackSTT{
		engines: []core.STTEngine{scriptedSTT{err: errors.New("boom")}, scriptedSTT{text: "late"}},
		logger:  core.NewDiscardLogger(),
	}
	_, err := chain.Transcribe(ctx, "x.wav")
	assert.ErrorIs(t, err, context.Canceled)
}
