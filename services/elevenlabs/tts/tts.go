package tts

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/kennyrkun/dispatcher/core"
)

// ElevenLabsTTSConfig holds configuration for the ElevenLabs TTS service
type ElevenLabsTTSConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	VoiceID string `json:"voice_id"`
	ModelID string `json:"model_id"`
	// SampleRate selects pcm_<rate>; 8000 selects ulaw_8000.
	SampleRate int `json:"sample_rate"`

	// Voice settings
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// ElevenLabsTTS synthesizes one text per stream-input socket.
type ElevenLabsTTS struct {
	config ElevenLabsTTSConfig
	logger *core.Logger
	dialer *websocket.Dialer
}

// Client messages
type (
	elBOSMessage struct {
		Text             string          `json:"text"`
		VoiceSettings    elVoiceSettings `json:"voice_settings"`
		GenerationConfig elGenConfig     `json:"generation_config"`
	}

	elVoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
		Speed           float64 `json:"speed,omitempty"`
	}

	elGenConfig struct {
		ChunkLengthSchedule []int `json:"chunk_length_schedule"`
	}

	elTextMessage struct {
		Text string `json:"text"`
	}
)

// Server messages
type elServerMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewElevenLabsTTS creates a new ElevenLabs TTS service with the provided config
func NewElevenLabsTTS(config ElevenLabsTTSConfig, logger *core.Logger) *ElevenLabsTTS {
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.elevenlabs.io/v1/text-to-speech"
	}
	if config.VoiceID == "" {
		config.VoiceID = "21m00Tcm4TlvDq8ikWAM" // Default: Rachel
	}
	if config.ModelID == "" {
		config.ModelID = "eleven_turbo_v2_5"
	}
	if config.SampleRate == 0 {
		config.SampleRate = 24000
	}
	if config.Stability == 0 {
		config.Stability = 0.5
	}
	if config.SimilarityBoost == 0 {
		config.SimilarityBoost = 0.75
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	return &ElevenLabsTTS{
		config: config,
		logger: logger.OrDefault().With(map[string]interface{}{"service": "elevenlabs-tts"}),
		dialer: &dialer,
	}
}

// outputFormat converts the configured sample rate to the output_format
// param and the matching encoding.
func outputFormat(sampleRate int) (string, core.AudioEncodingFormat, int) {
	switch sampleRate {
	case 8000:
		return "ulaw_8000", core.ULAW, 8000
	case 16000, 22050, 44100:
		return fmt.Sprintf("pcm_%d", sampleRate), core.PCM, sampleRate
	default:
		return "pcm_24000", core.PCM, 24000
	}
}

// Initialize validates the configuration
func (e *ElevenLabsTTS) Initialize(ctx context.Context) error {
	if e.config.APIKey == "" {
		return errors.New("ElevenLabs API key is required")
	}
	return nil
}

// Synthesize sends BOS, the text and EOS, then streams decoded audio
// until the server marks the generation final. opts.Voice overrides the
// configured voice id; opts.Speed maps to the voice speed setting.
func (e *ElevenLabsTTS) Synthesize(ctx context.Context, text string, opts core.SynthesisOptions) (*core.Speech, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}
	voiceID := e.config.VoiceID
	if opts.Voice != "" {
		voiceID = opts.Voice
	}
	format, encoding, rate := outputFormat(e.config.SampleRate)

	u, err := url.Parse(fmt.Sprintf("%s/%s/stream-input", e.config.BaseURL, voiceID))
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", e.config.ModelID)
	q.Set("output_format", format)
	u.RawQuery = q.Encode()

	headers := map[string][]string{
		"xi-api-key": {e.config.APIKey},
	}
	conn, _, err := e.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ElevenLabs: %w", err)
	}

	bos := elBOSMessage{
		Text: " ",
		VoiceSettings: elVoiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
			Speed:           opts.Speed,
		},
		GenerationConfig: elGenConfig{
			ChunkLengthSchedule: []int{120, 160, 250, 290},
		},
	}
	// Text must end with a space; the empty text is EOS.
	for _, msg := range []interface{}{bos, elTextMessage{Text: text + " "}, elTextMessage{Text: ""}} {
		if err := e.sendJSON(conn, msg); err != nil {
			conn.Close()
			return nil, err
		}
	}

	pr, pw := io.Pipe()
	go e.receive(ctx, conn, pw)

	return &core.Speech{
		Audio:      &speechReader{PipeReader: pr, conn: conn},
		Format:     encoding,
		SampleRate: rate,
		Channels:   1,
	}, nil
}

// receive decodes audio messages into pw until isFinal or a normal close.
func (e *ElevenLabsTTS) receive(ctx context.Context, conn *websocket.Conn, pw *io.PipeWriter) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				pw.Close()
				return
			}
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			pw.CloseWithError(fmt.Errorf("elevenlabs read: %w", err))
			return
		}

		var msg elServerMessage
		if err := sonic.Unmarshal(message, &msg); err != nil {
			e.logger.Warn("failed to parse message", "error", err)
			continue
		}
		if msg.Error != "" {
			pw.CloseWithError(fmt.Errorf("elevenlabs: %s (code: %d): %w", msg.Message, msg.Code, core.ErrEngineResponse))
			return
		}
		if msg.Audio != "" {
			audioData, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				pw.CloseWithError(fmt.Errorf("elevenlabs: bad audio payload: %w", err))
				return
			}
			if _, err := pw.Write(audioData); err != nil {
				return
			}
		}
		if msg.IsFinal {
			pw.Close()
			return
		}
	}
}

func (e *ElevenLabsTTS) sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// speechReader closes the socket along with the pipe.
type speechReader struct {
	*io.PipeReader
	conn *websocket.Conn
	once sync.Once
}

func (r *speechReader) Close() error {
	r.once.Do(func() { _ = r.conn.Close() })
	return r.PipeReader.Close()
}
