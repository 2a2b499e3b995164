package stt

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/kennyrkun/dispatcher/core"
	"github.com/kennyrkun/dispatcher/utils/audio"
	"golang.org/x/sync/errgroup"
)

// chunkBytes is how much PCM goes into one binary frame.
const chunkBytes = 8192

// DeepgramSTTService transcribes stored WAV files over Deepgram's live
// listen socket: the whole file is streamed, finalized and the final
// results joined.
type DeepgramSTTService struct {
	config *DeepgramConfig
	logger *core.Logger
	dialer *websocket.Dialer
}

// DeepgramConfig holds configuration options for Deepgram STT
type DeepgramConfig struct {
	APIKey          string            `json:"api_key"`
	BaseURL         string            `json:"base_url"`
	Model           string            `json:"model"`
	Language        string            `json:"language"`
	Punctuate       bool              `json:"punctuate"`
	SmartFormat     bool              `json:"smart_format"`
	ProfanityFilter bool              `json:"profanity_filter"`
	Numerals        bool              `json:"numerals"`
	Keywords        []string          `json:"keywords"`
	Keyterms        []string          `json:"keyterms"`
	Extra           map[string]string `json:"extra"`
}

// DefaultConfig returns a default configuration for Deepgram STT
func DefaultConfig() *DeepgramConfig {
	return &DeepgramConfig{
		BaseURL:     "wss://api.deepgram.com",
		Model:       "nova-2",
		Punctuate:   true,
		SmartFormat: true,
	}
}

// NewDeepgramSTTService creates a new Deepgram STT service instance.
// Use DefaultConfig() to get a config with sensible defaults and override only what you need.
func NewDeepgramSTTService(config *DeepgramConfig, logger *core.Logger) *DeepgramSTTService {
	if config == nil {
		config = DefaultConfig()
	}
	if config.BaseURL == "" {
		config.BaseURL = "wss://api.deepgram.com"
	}

	return &DeepgramSTTService{
		config: config,
		logger: logger.OrDefault().With(map[string]interface{}{"service": "deepgram-stt"}),
		dialer: websocket.DefaultDialer,
	}
}

// Initialize validates the configuration
func (d *DeepgramSTTService) Initialize(ctx context.Context) error {
	if d.config.APIKey == "" {
		return fmt.Errorf("Deepgram API key is required")
	}
	return nil
}

// Transcribe streams the WAV file at path and returns the joined final
// transcript.
func (d *DeepgramSTTService) Transcribe(ctx context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read audio: %w", err)
	}
	format, offset, err := audio.ParseWAVHeader(data)
	if err != nil {
		return "", err
	}
	pcm := data[offset:]

	wsURL, err := d.buildWebSocketURL(format)
	if err != nil {
		return "", fmt.Errorf("failed to build WebSocket URL: %w", err)
	}
	headers := map[string][]string{
		"Authorization": {"Token " + d.config.APIKey},
	}
	conn, _, err := d.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return "", fmt.Errorf("failed to connect to Deepgram: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return d.sendAudio(conn, pcm) })

	var finals []string
	readErr := d.collect(conn, &finals)
	sendErr := g.Wait()

	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if readErr != nil {
		return "", readErr
	}
	if sendErr != nil {
		return "", sendErr
	}

	transcript := strings.Join(finals, " ")
	d.logger.Debug("transcription finished", "segments", len(finals), "bytes", len(pcm))
	return transcript, nil
}

// sendAudio writes the PCM in chunks then asks for finalization.
func (d *DeepgramSTTService) sendAudio(conn *websocket.Conn, pcm []byte) error {
	for len(pcm) > 0 {
		n := min(chunkBytes, len(pcm))
		if err := conn.WriteMessage(websocket.BinaryMessage, pcm[:n]); err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
		pcm = pcm[n:]
	}
	for _, kind := range []string{"Finalize", "CloseStream"} {
		msg, err := sonic.Marshal(ListenV1Control{Type: kind})
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return fmt.Errorf("failed to send %s: %w", kind, err)
		}
	}
	return nil
}

// collect reads results until the server sends its closing metadata or
// closes the socket.
func (d *DeepgramSTTService) collect(conn *websocket.Conn, finals *[]string) error {
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("error reading message: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}

		done, err := d.handleMessage(message, finals)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

// handleMessage processes one server message and reports whether the
// stream is complete.
func (d *DeepgramSTTService) handleMessage(message []byte, finals *[]string) (bool, error) {
	var base struct {
		Type string `json:"type"`
	}
	if err := sonic.Unmarshal(message, &base); err != nil {
		return false, fmt.Errorf("failed to parse message type: %w", err)
	}

	switch base.Type {
	case "Results":
		var result ListenV1Results
		if err := sonic.Unmarshal(message, &result); err != nil {
			return false, fmt.Errorf("failed to parse results: %w", err)
		}
		if len(result.Channel.Alternatives) == 0 {
			return false, nil
		}
		transcript := strings.TrimSpace(result.Channel.Alternatives[0].Transcript)
		if transcript != "" && (result.IsFinal || result.FromFinalize) {
			*finals = append(*finals, transcript)
		}
	case "Metadata":
		return true, nil
	case "Error":
		var e ListenV1Error
		_ = sonic.Unmarshal(message, &e)
		return false, fmt.Errorf("deepgram: %s: %w", e.Description, core.ErrEngineResponse)
	default:
		d.logger.Debug("ignoring message", "type", base.Type)
	}
	return false, nil
}

// buildWebSocketURL constructs the WebSocket URL with query parameters
func (d *DeepgramSTTService) buildWebSocketURL(format audio.WAVFormat) (string, error) {
	base, err := url.Parse(d.config.BaseURL + "/v1/listen")
	if err != nil {
		return "", err
	}
	if base.Scheme != "ws" && base.Scheme != "wss" {
		return "", errors.New("base url must use ws or wss")
	}

	q := base.Query()
	if d.config.Model != "" {
		q.Set("model", d.config.Model)
	}
	if d.config.Language != "" {
		q.Set("language", d.config.Language)
	}
	q.Set("punctuate", boolToString(d.config.Punctuate))
	q.Set("smart_format", boolToString(d.config.SmartFormat))
	q.Set("profanity_filter", boolToString(d.config.ProfanityFilter))
	q.Set("numerals", boolToString(d.config.Numerals))
	q.Set("interim_results", "false")

	q.Set("encoding", "linear16")
	q.Set("sample_rate", fmt.Sprintf("%d", format.SampleRate))
	q.Set("channels", fmt.Sprintf("%d", format.Channels))

	for _, keyword := range d.config.Keywords {
		q.Add("keywords", keyword)
	}
	for _, keyterm := range d.config.Keyterms {
		q.Add("keyterm", keyterm)
	}
	for key, value := range d.config.Extra {
		q.Set(key, value)
	}

	base.RawQuery = q.Encode()
	return base.String(), nil
}

func boolToString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Message structs based on the AsyncAPI specification

type ListenV1Results struct {
	Type        string  `json:"type"`
	Duration    float64 `json:"duration"`
	Start       float64 `json:"start"`
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	FromFinalize bool `json:"from_finalize,omitempty"`
}

type ListenV1Error struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

type ListenV1Control struct {
	Type string `json:"type"`
}
