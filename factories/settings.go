package factories

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/kennyrkun/dispatcher/assets"
	"github.com/kennyrkun/dispatcher/idle"
	commandstt "github.com/kennyrkun/dispatcher/services/command/stt"
	commandtts "github.com/kennyrkun/dispatcher/services/command/tts"
	ollamallm "github.com/kennyrkun/dispatcher/services/ollama/llm"
	"github.com/kennyrkun/dispatcher/transmit"
	"github.com/kennyrkun/dispatcher/vad"
)

// SessionAPIConfig describes an HTTP endpoint that returns a SessionConfig JSON payload.
// Called at startup so engine selection can be managed centrally.
type SessionAPIConfig struct {
	// URL is the endpoint to request.
	URL string `json:"url"`
	// Method is the HTTP method. Defaults to "POST" when Body is set, "GET" otherwise.
	Method string `json:"method,omitempty"`
	// Headers are additional HTTP headers to include in the request.
	Headers map[string]string `json:"headers,omitempty"`
	// Body is an optional JSON body to send with the request.
	Body string `json:"body,omitempty"`
}

var sessionAPIClient = &http.Client{Timeout: 10 * time.Second}

// Fetch calls the configured endpoint and parses the response as a SessionConfig.
func (c *SessionAPIConfig) Fetch() (SessionConfig, error) {
	method := c.Method
	if method == "" {
		if len(c.Body) > 0 {
			method = http.MethodPost
		} else {
			method = http.MethodGet
		}
	}

	req, err := http.NewRequest(method, c.URL, bytes.NewReader([]byte(c.Body)))
	if err != nil {
		return SessionConfig{}, fmt.Errorf("session api: %w", err)
	}
	if len(c.Body) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := sessionAPIClient.Do(req)
	if err != nil {
		return SessionConfig{}, fmt.Errorf("session api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SessionConfig{}, fmt.Errorf("session api: unexpected status %d from %s", resp.StatusCode, c.URL)
	}

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return SessionConfig{}, fmt.Errorf("session api: read response: %w", err)
	}

	return SessionConfigFromJSON(buf.Bytes())
}

// Capture input selectors.
const (
	InputPortAudio = "portaudio"
	InputStdin     = "-"
	InputCommand   = "command"
)

// CaptureSettings selects where audio frames come from. Input is
// InputPortAudio, InputStdin (raw s16le mono), InputCommand, or the path
// of a WAV file to replay.
type CaptureSettings struct {
	Input      string   `json:"input"`
	Command    []string `json:"command,omitempty"`
	SampleRate int      `json:"sample_rate"`
	FrameSize  int      `json:"frame_size"`
}

type VADSettings struct {
	Threshold    int     `json:"threshold"`
	MinDurationS float64 `json:"min_duration_seconds"`
	PadDurationS float64 `json:"pad_duration_seconds"`
	MaxDurationS float64 `json:"max_duration_seconds"`
}

type ToneSettings struct {
	FrequencyHz float64 `json:"frequency_hz"`
	DurationS   float64 `json:"duration_seconds"`
	Gain        float64 `json:"gain"`
}

type FramingSettings struct {
	SampleRate     int          `json:"sample_rate"`
	NoiseDurationS float64      `json:"noise_duration_seconds"`
	NoiseGain      float64      `json:"noise_gain"`
	DelayS         float64      `json:"delay_seconds"`
	StartTone      ToneSettings `json:"start_tone"`

	// EndTone is "none", "random", or the name of a clip in the tones set.
	EndTone string  `json:"end_tone"`
	CueGain float64 `json:"cue_gain"`
}

type IdleSettings struct {
	Enabled      bool     `json:"enabled"`
	DelayS       float64  `json:"delay_seconds"`
	IntervalMinS float64  `json:"interval_min_seconds"`
	IntervalMaxS float64  `json:"interval_max_seconds"`
	Voices       []string `json:"voices"`
	SystemPrompt string   `json:"system_prompt"`
	Opener       string   `json:"opener"`
}

type RetentionSettings struct {
	SaveSpokenAudio   bool `json:"save_spoken_audio"`
	SaveReceivedAudio bool `json:"save_received_audio"`
	SaveTranscripts   bool `json:"save_transcripts"`
}

type PathSettings struct {
	Recordings string `json:"recordings"`
	Spoken     string `json:"spoken"`
	Logs       string `json:"logs"`
	Assets     string `json:"assets"`
	Vocabulary string `json:"vocabulary,omitempty"`
}

// SettingsConfig is the top-level config loaded from settings.json.
type SettingsConfig struct {
	Capture CaptureSettings         `json:"capture"`
	VAD     VADSettings             `json:"vad"`
	Framing FramingSettings         `json:"framing"`
	Voices  []transmit.VoiceProfile `json:"voices"`

	// DispatcherVoice names the profile that answers live traffic.
	DispatcherVoice string `json:"dispatcher_voice"`

	Idle          IdleSettings      `json:"idle"`
	Retention     RetentionSettings `json:"retention"`
	Paths         PathSettings      `json:"paths"`
	Player        string            `json:"player"`
	MetricsAddr   string            `json:"metrics_addr,omitempty"`
	LogLevel      string            `json:"log_level"`
	RestartDelayS float64           `json:"restart_delay_seconds"`

	// CueOnUnintelligible plays an error clip when a transcript comes back empty.
	CueOnUnintelligible bool `json:"cue_on_unintelligible"`

	// SessionAPI, when set, is called at startup to fetch the SessionConfig.
	SessionAPI *SessionAPIConfig `json:"session_api,omitempty"`
	// Session, when set, provides inline engine config directly in settings.json.
	Session *SessionConfig `json:"session_config,omitempty"`
}

// DefaultSettingsConfig returns a SettingsConfig pre-filled with the
// dispatcher's defaults: classic radio timings, a 300 Hz start tone
// and a local Ollama + whisper + piper engine set.
func DefaultSettingsConfig() SettingsConfig {
	return SettingsConfig{
		Capture: CaptureSettings{
			Input:      InputPortAudio,
			SampleRate: 44100,
			FrameSize:  1024,
		},
		VAD: VADSettings{
			Threshold:    800,
			MinDurationS: 1,
			PadDurationS: 2.5,
			MaxDurationS: 30,
		},
		Framing: FramingSettings{
			SampleRate: 44100,
			NoiseGain:  0.2,
			StartTone:  ToneSettings{FrequencyHz: 300, DurationS: 1.5, Gain: 0.3},
			EndTone:    transmit.EndToneNone,
			CueGain:    1,
		},
		Voices: []transmit.VoiceProfile{
			{Name: "dispatcher", Engine: "piper", Speed: 1, Tempo: 1.3, Gain: 1},
		},
		DispatcherVoice: "dispatcher",
		Idle: IdleSettings{
			DelayS:       300,
			IntervalMinS: 120,
			IntervalMaxS: 600,
			SystemPrompt: "You are a unit on a police radio channel making routine small talk with another unit. Keep every message to one short radio transmission.",
			Opener:       "Start a casual radio conversation.",
		},
		Paths: PathSettings{
			Recordings: "recordings",
			Spoken:     "spoken",
			Logs:       "logs",
			Assets:     "assets",
		},
		Player:        "ffplay",
		LogLevel:      "info",
		RestartDelayS: 1,
		Session:       defaultSessionConfig(),
	}
}

// defaultSessionConfig runs everything locally: whisper.cpp, Ollama and piper.
func defaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		STT: SessionSTTConfig{ServiceConfig: STTFactoryConfig{
			CommandConfig: &commandstt.Config{
				Command: "whisper-cli",
				Args:    []string{"-m", "models/ggml-base.en.bin", "-nt", "-np", "-f", commandstt.InputPlaceholder},
			},
		}},
		LLM: SessionLLMConfig{ServiceConfig: LLMFactoryConfig{
			OllamaConfig: &ollamallm.Config{Model: "llama3.2"},
		}},
		TTS: SessionTTSConfig{Engines: map[string]TTSFactoryConfig{
			"piper": {CommandConfig: &commandtts.Config{
				Command:      "piper",
				Args:         []string{"--model", "models/en_US-lessac-medium.onnx", "--length_scale", commandtts.PacePlaceholder, "--output_file", commandtts.OutputPlaceholder},
				TextOnStdin:  true,
				Format:       "wav",
				PaceInverted: true,
			}},
		}},
	}
}

// SettingsConfigFromJSON parses a JSON blob into a SettingsConfig, starting
// from DefaultSettingsConfig so absent fields keep their defaults.
func SettingsConfigFromJSON(data []byte) (SettingsConfig, error) {
	cfg := DefaultSettingsConfig()
	// Provider selection is "exactly one non-nil", so engine config must
	// not be merged into the defaults.
	cfg.Session = nil
	if err := sonic.Unmarshal(data, &cfg); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	if cfg.Session == nil && cfg.SessionAPI == nil {
		cfg.Session = defaultSessionConfig()
	}
	if err := cfg.Validate(); err != nil {
		return SettingsConfig{}, fmt.Errorf("settings: %w", err)
	}
	return cfg, nil
}

// SettingsConfigFromFile reads and parses a SettingsConfig from a JSON file.
func SettingsConfigFromFile(path string) (SettingsConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettingsConfig(), fmt.Errorf("settings: read %q: %w", path, err)
	}
	return SettingsConfigFromJSON(data)
}

// Validate checks the relations between fields that decoding cannot.
func (c SettingsConfig) Validate() error {
	if c.Capture.SampleRate <= 0 || c.Capture.FrameSize <= 0 {
		return errors.New("capture sample_rate and frame_size must be positive")
	}
	if c.Capture.Input == InputCommand && len(c.Capture.Command) == 0 {
		return errors.New("capture input \"command\" needs a command")
	}
	if c.VAD.MinDurationS < 0 || c.VAD.PadDurationS < 0 || c.VAD.MaxDurationS <= 0 {
		return errors.New("vad durations must be non-negative with a positive maximum")
	}
	if _, err := c.Voice(c.DispatcherVoice); err != nil {
		return err
	}
	if c.Idle.Enabled {
		if len(c.Idle.Voices) < 2 {
			return errors.New("idle chat needs at least two voices")
		}
		if c.Idle.IntervalMinS > c.Idle.IntervalMaxS {
			return errors.New("idle interval_min_seconds exceeds interval_max_seconds")
		}
		for _, name := range c.Idle.Voices {
			if _, err := c.Voice(name); err != nil {
				return err
			}
		}
	}
	return nil
}

// Voice returns the named voice profile.
func (c SettingsConfig) Voice(name string) (transmit.VoiceProfile, error) {
	for _, v := range c.Voices {
		if v.Name == name {
			return v, nil
		}
	}
	return transmit.VoiceProfile{}, fmt.Errorf("unknown voice %q", name)
}

// ResolveSession returns the engine config, fetching it from the session
// API when one is configured.
func (c SettingsConfig) ResolveSession() (SessionConfig, error) {
	switch {
	case c.SessionAPI != nil:
		return c.SessionAPI.Fetch()
	case c.Session != nil:
		return *c.Session, nil
	}
	return SessionConfig{}, errors.New("no session config: set session_config or session_api in settings.json")
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// VADConfig converts the detector settings.
func (c SettingsConfig) VADConfig() vad.Config {
	return vad.Config{
		Threshold:   c.VAD.Threshold,
		MinDuration: seconds(c.VAD.MinDurationS),
		PadDuration: seconds(c.VAD.PadDurationS),
		MaxDuration: seconds(c.VAD.MaxDurationS),
	}
}

// TransmitConfig converts the framing and retention settings.
func (c SettingsConfig) TransmitConfig() transmit.Config {
	f := c.Framing
	return transmit.Config{
		Framing: transmit.Framing{
			SampleRate:    f.SampleRate,
			NoiseDuration: seconds(f.NoiseDurationS),
			NoiseGain:     f.NoiseGain,
			Delay:         seconds(f.DelayS),
			StartTone: transmit.Tone{
				Frequency: f.StartTone.FrequencyHz,
				Duration:  seconds(f.StartTone.DurationS),
				Gain:      f.StartTone.Gain,
			},
			EndTone: f.EndTone,
			CueGain: f.CueGain,
		},
		SaveDir:    c.Paths.Spoken,
		SaveSpoken: c.Retention.SaveSpokenAudio,
	}
}

// IdleConfig converts the idle settings. Voices is empty when idle chat is
// disabled, which leaves the scheduler inert.
func (c SettingsConfig) IdleConfig() idle.Config {
	cfg := idle.Config{
		Delay:        seconds(c.Idle.DelayS),
		IntervalMin:  seconds(c.Idle.IntervalMinS),
		IntervalMax:  seconds(c.Idle.IntervalMaxS),
		SystemPrompt: c.Idle.SystemPrompt,
		Opener:       c.Idle.Opener,
	}
	if !c.Idle.Enabled {
		return cfg
	}
	for _, name := range c.Idle.Voices {
		if v, err := c.Voice(name); err == nil {
			cfg.Voices = append(cfg.Voices, v)
		}
	}
	return cfg
}

// FlagOverrides carries the command-line switches that were actually set.
type FlagOverrides struct {
	MDC          bool
	DelayTone    *float64
	Delay        *float64
	SaveSpoken   bool
	SaveReceived bool
}

// ApplyFlags folds command-line switches into the settings. MDC selects the
// MDC1200 end tone. A positive DelayTone sets the start tone length and
// zero disables it. Delay replaces the start tone with plain silence
// unless a positive DelayTone was also given.
func (c *SettingsConfig) ApplyFlags(f FlagOverrides) {
	if f.MDC {
		c.Framing.EndTone = "MDC1200"
	}
	if f.DelayTone != nil {
		c.Framing.StartTone.DurationS = max(*f.DelayTone, 0)
	}
	if f.Delay != nil && (f.DelayTone == nil || *f.DelayTone <= 0) {
		c.Framing.StartTone.DurationS = 0
		c.Framing.DelayS = max(*f.Delay, 0)
	}
	if f.SaveSpoken {
		c.Retention.SaveSpokenAudio = true
	}
	if f.SaveReceived {
		c.Retention.SaveReceivedAudio = true
	}
}

// AssetCatalog opens the configured assets directory.
func (c SettingsConfig) AssetCatalog() *assets.DirCatalog {
	return assets.NewDirCatalog(c.Paths.Assets)
}
