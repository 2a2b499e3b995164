package deepgram

import (
	"context"
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

// maxCharsBeforeFlush is the character limit before an automatic flush is triggered.
// Deepgram returns DATA-0001 (1008) if too many characters are buffered between flushes.
const maxCharsBeforeFlush = 2000

// DepgramTTSConfig holds configuration for the Deepgram TTS service
type DepgramTTSConfig struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	// Encoding is "linear16" (default) or "mulaw".
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// DefaultConfig returns a DepgramTTSConfig with sensible defaults
func DefaultConfig() DepgramTTSConfig {
	return DepgramTTSConfig{
		BaseURL:    "wss://api.deepgram.com/v1/speak",
		Model:      "aura-2-arcas-en",
		Encoding:   "linear16",
		SampleRate: 24000,
	}
}

// DepgramTTS synthesizes one text per socket over Deepgram's speak API.
// The audio is handed to the caller as it arrives.
type DepgramTTS struct {
	config DepgramTTSConfig
	logger *core.Logger
	dialer *websocket.Dialer
}

// Message types for Deepgram TTS WebSocket protocol
type (
	speakV1Text struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}

	speakV1Control struct {
		Type string `json:"type"`
	}

	speakV1Error struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Code        string `json:"code"`
	}
)

// NewDepgramTTS creates a new Deepgram TTS service with the provided config.
// Use DefaultConfig() to get a config with sensible defaults and override only what you need.
func NewDepgramTTS(config DepgramTTSConfig, logger *core.Logger) *DepgramTTS {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Encoding == "" {
		config.Encoding = defaults.Encoding
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaults.SampleRate
		if config.Encoding == "mulaw" {
			config.SampleRate = 8000
		}
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	return &DepgramTTS{
		config: config,
		logger: logger.OrDefault().With(map[string]interface{}{"service": "deepgram-tts"}),
		dialer: &dialer,
	}
}

// Initialize validates the configuration
func (d *DepgramTTS) Initialize(ctx context.Context) error {
	if d.config.APIKey == "" {
		return errors.New("Deepgram API key is required")
	}
	if d.config.Encoding != "linear16" && d.config.Encoding != "mulaw" {
		return fmt.Errorf("unsupported Deepgram encoding %q", d.config.Encoding)
	}
	return nil
}

func (d *DepgramTTS) format() core.AudioEncodingFormat {
	if d.config.Encoding == "mulaw" {
		return core.ULAW
	}
	return core.PCM
}

// Synthesize opens a socket, sends the text and streams back audio until
// every flush is acknowledged. opts.Voice overrides the configured model.
// Deepgram has no rate control; speed is applied at playback.
func (d *DepgramTTS) Synthesize(ctx context.Context, text string, opts core.SynthesisOptions) (*core.Speech, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	conn, err := d.dial(ctx, opts.Voice)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Deepgram: %w", err)
	}

	flushes := 0
	for _, chunk := range splitText(text, maxCharsBeforeFlush-100) {
		if err := d.sendJSON(conn, speakV1Text{Type: "Speak", Text: chunk}); err != nil {
			conn.Close()
			return nil, err
		}
		if err := d.sendJSON(conn, speakV1Control{Type: "Flush"}); err != nil {
			conn.Close()
			return nil, err
		}
		flushes++
	}

	pr, pw := io.Pipe()
	go d.receive(ctx, conn, pw, flushes)

	return &core.Speech{
		Audio:      &speechReader{PipeReader: pr, conn: conn},
		Format:     d.format(),
		SampleRate: d.config.SampleRate,
		Channels:   1,
	}, nil
}

// receive copies audio frames into pw until the expected number of
// Flushed messages arrive.
func (d *DepgramTTS) receive(ctx context.Context, conn *websocket.Conn, pw *io.PipeWriter, flushes int) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for flushes > 0 {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			pw.CloseWithError(fmt.Errorf("deepgram read: %w", err))
			return
		}

		if messageType == websocket.BinaryMessage {
			if _, err := pw.Write(message); err != nil {
				// Reader went away
				_ = conn.Close()
				return
			}
			continue
		}

		var base struct {
			Type string `json:"type"`
		}
		if err := sonic.Unmarshal(message, &base); err != nil {
			d.logger.Warn("unparseable message", "error", err)
			continue
		}
		switch base.Type {
		case "Flushed":
			flushes--
		case "Warning":
			d.logger.Warn("deepgram warning", "message", string(message))
		case "Error":
			var e speakV1Error
			_ = sonic.Unmarshal(message, &e)
			pw.CloseWithError(fmt.Errorf("deepgram %s: %s: %w", e.Code, e.Description, core.ErrEngineResponse))
			return
		}
	}

	_ = d.sendJSON(conn, speakV1Control{Type: "Close"})
	pw.Close()
}

func (d *DepgramTTS) dial(ctx context.Context, voice string) (*websocket.Conn, error) {
	u, err := url.Parse(d.config.BaseURL)
	if err != nil {
		return nil, err
	}
	model := d.config.Model
	if voice != "" {
		model = voice
	}
	q := u.Query()
	q.Set("model", model)
	q.Set("encoding", d.config.Encoding)
	q.Set("sample_rate", fmt.Sprintf("%d", d.config.SampleRate))
	u.RawQuery = q.Encode()

	headers := map[string][]string{
		"Authorization": {fmt.Sprintf("Token %s", d.config.APIKey)},
	}
	conn, _, err := d.dialer.DialContext(ctx, u.String(), headers)
	return conn, err
}

func (d *DepgramTTS) sendJSON(conn *websocket.Conn, msg interface{}) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// splitText cuts text into pieces no longer than size bytes, preferring
// to break on a space.
func splitText(text string, size int) []string {
	var out []string
	for len(text) > size {
		cut := size
		for i := size; i > size/2; i-- {
			if text[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, text[:cut])
		text = text[cut:]
	}
	return append(out, text)
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
