package cartesia

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
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kennyrkun/dispatcher/core"
)

const (
	defaultCartesiaURL        = "wss://api.cartesia.ai/tts/websocket"
	defaultCartesiaModelID    = "sonic-2"
	defaultCartesiaVoiceID    = "a0e99841-438c-4a64-b679-ae501e7d6091" // Helpful Woman
	defaultCartesiaAPIVersion = "2024-11-13"
	defaultCartesiaLanguage   = "en"
	defaultCartesiaSampleRate = 24000
)

// CartesiaTTSConfig holds configuration for the Cartesia TTS service.
type CartesiaTTSConfig struct {
	APIKey     string `json:"api_key"`
	BaseURL    string `json:"base_url"`
	ModelID    string `json:"model_id"`
	VoiceID    string `json:"voice_id"`
	Language   string `json:"language"`
	APIVersion string `json:"api_version"`
	SampleRate int    `json:"sample_rate"`
}

// CartesiaTTS synthesizes each text on its own socket under a fresh
// context_id and streams raw s16le audio back.
type CartesiaTTS struct {
	config CartesiaTTSConfig
	logger *core.Logger
	dialer *websocket.Dialer
}

// ── WebSocket protocol messages ───────────────────────────────────────────────

type cartesiaTTSRequest struct {
	ModelID    string              `json:"model_id"`
	Transcript string              `json:"transcript"`
	Voice      cartesiaVoice       `json:"voice"`
	OutputFmt  cartesiaOutputFmt   `json:"output_format"`
	ContextID  string              `json:"context_id"`
	Continue   bool                `json:"continue"`
	Language   string              `json:"language,omitempty"`
	Controls   *cartesiaGeneration `json:"generation_config,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFmt struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaGeneration struct {
	Speed float64 `json:"speed"`
}

// cartesiaResponse is a text (JSON) frame from Cartesia. Audio arrives
// either as binary frames or as base64 in "chunk" messages.
type cartesiaResponse struct {
	Type       string `json:"type"`
	ContextID  string `json:"context_id"`
	StatusCode int    `json:"status_code"`
	Done       bool   `json:"done"`
	Error      string `json:"error,omitempty"`
	Data       string `json:"data,omitempty"`
}

// NewCartesiaTTS creates a new Cartesia TTS service with sensible defaults.
func NewCartesiaTTS(config CartesiaTTSConfig, logger *core.Logger) *CartesiaTTS {
	if config.BaseURL == "" {
		config.BaseURL = defaultCartesiaURL
	}
	if config.ModelID == "" {
		config.ModelID = defaultCartesiaModelID
	}
	if config.VoiceID == "" {
		config.VoiceID = defaultCartesiaVoiceID
	}
	if config.APIVersion == "" {
		config.APIVersion = defaultCartesiaAPIVersion
	}
	if config.Language == "" {
		config.Language = defaultCartesiaLanguage
	}
	if config.SampleRate == 0 {
		config.SampleRate = defaultCartesiaSampleRate
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	return &CartesiaTTS{
		config: config,
		logger: logger.OrDefault().With(map[string]interface{}{"service": "cartesia-tts"}),
		dialer: &dialer,
	}
}

func (c *CartesiaTTS) Initialize(ctx context.Context) error {
	if c.config.APIKey == "" {
		return errors.New("Cartesia API key is required")
	}
	return nil
}

// Synthesize sends the whole text as one final request and streams audio
// until the context reports done.
func (c *CartesiaTTS) Synthesize(ctx context.Context, text string, opts core.SynthesisOptions) (*core.Speech, error) {
	if text == "" {
		return nil, errors.New("text cannot be empty")
	}

	u, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("api_key", c.config.APIKey)
	q.Set("cartesia_version", c.config.APIVersion)
	u.RawQuery = q.Encode()

	conn, _, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Cartesia: %w", err)
	}

	voiceID := c.config.VoiceID
	if opts.Voice != "" {
		voiceID = opts.Voice
	}
	req := cartesiaTTSRequest{
		ModelID:    c.config.ModelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: voiceID},
		OutputFmt:  cartesiaOutputFmt{Container: "raw", Encoding: "pcm_s16le", SampleRate: c.config.SampleRate},
		ContextID:  uuid.NewString(),
		Language:   c.config.Language,
	}
	if opts.Speed > 0 && opts.Speed != 1 {
		req.Controls = &cartesiaGeneration{Speed: opts.Speed}
	}
	data, err := sonic.Marshal(req)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	pr, pw := io.Pipe()
	go c.receive(ctx, conn, pw, req.ContextID)

	return &core.Speech{
		Audio:      &speechReader{PipeReader: pr, conn: conn},
		Format:     core.PCM,
		SampleRate: c.config.SampleRate,
		Channels:   1,
	}, nil
}

func (c *CartesiaTTS) receive(ctx context.Context, conn *websocket.Conn, pw *io.PipeWriter, contextID string) {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	for {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		messageType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			pw.CloseWithError(fmt.Errorf("cartesia read: %w", err))
			return
		}

		if messageType == websocket.BinaryMessage {
			if _, err := pw.Write(msg); err != nil {
				return
			}
			continue
		}

		var resp cartesiaResponse
		if err := sonic.Unmarshal(msg, &resp); err != nil {
			c.logger.Warn("failed to parse text message", "error", err)
			continue
		}
		if resp.ContextID != "" && resp.ContextID != contextID {
			continue
		}
		switch resp.Type {
		case "chunk":
			if resp.Data == "" {
				continue
			}
			audioData, err := base64.StdEncoding.DecodeString(resp.Data)
			if err != nil {
				pw.CloseWithError(fmt.Errorf("cartesia: bad audio payload: %w", err))
				return
			}
			if _, err := pw.Write(audioData); err != nil {
				return
			}
		case "error":
			pw.CloseWithError(fmt.Errorf("cartesia: %s (status %d): %w", resp.Error, resp.StatusCode, core.ErrEngineResponse))
			return
		case "done":
			pw.Close()
			return
		}
	}
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
