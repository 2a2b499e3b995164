package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/kennyrkun/dispatcher/core"
	"github.com/kennyrkun/dispatcher/utils/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListen struct {
	query    chan string
	received chan int
	replies  []string
}

func (f *fakeListen) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.query <- r.URL.RawQuery
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	total := 0
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if mt == websocket.BinaryMessage {
			total += len(msg)
			continue
		}
		var ctl ListenV1Control
		_ = sonic.Unmarshal(msg, &ctl)
		if ctl.Type == "CloseStream" {
			break
		}
	}
	f.received <- total
	for _, reply := range f.replies {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(reply))
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeWAV(t *testing.T, samples int) string {
	pcm := make([]byte, samples*2)
	wav, err := audio.PCMBytesToWavBytes(pcm, 1, 16000)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "rx.wav")
	require.NoError(t, os.WriteFile(path, wav, 0o644))
	return path
}

func newService(srv *httptest.Server) *DeepgramSTTService {
	cfg := DefaultConfig()
	cfg.APIKey = "key"
	cfg.BaseURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	return NewDeepgramSTTService(cfg, core.NewDiscardLogger())
}

func TestTranscribeJoinsFinals(t *testing.T) {
	fake := &fakeListen{
		query:    make(chan string, 1),
		received: make(chan int, 1),
		replies: []string{
			`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"unit 4"}]}}`,
			`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"ignored"}]}}`,
			`{"type":"Results","from_finalize":true,"channel":{"alternatives":[{"transcript":"available"}]}}`,
			`{"type":"Metadata","request_id":"r"}`,
		},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	d := newService(srv)
	require.NoError(t, d.Initialize(context.Background()))

	got, err := d.Transcribe(context.Background(), writeWAV(t, 20000))
	require.NoError(t, err)
	assert.Equal(t, "unit 4 available", got)
	assert.Equal(t, 40000, <-fake.received)

	q := <-fake.query
	assert.Contains(t, q, "encoding=linear16")
	assert.Contains(t, q, "sample_rate=16000")
}

func TestTranscribeNothingHeard(t *testing.T) {
	fake := &fakeListen{
		query:    make(chan string, 1),
		received: make(chan int, 1),
		replies:  []string{`{"type":"Metadata"}`},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	got, err := newService(srv).Transcribe(context.Background(), writeWAV(t, 100))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestTranscribeServerError(t *testing.T) {
	fake := &fakeListen{
		query:    make(chan string, 1),
		received: make(chan int, 1),
		replies:  []string{`{"type":"Error","description":"bad audio"}`},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := newService(srv).Transcribe(context.Background(), writeWAV(t, 100))
	assert.ErrorIs(t, err, core.ErrEngineResponse)
}

func TestTranscribeRejectsNonWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.wav")
	require.NoError(t, os.WriteFile(path, []byte("not a wav"), 0o644))
	d := NewDeepgramSTTService(&DeepgramConfig{APIKey: "k"}, core.NewDiscardLogger())
	_, err := d.Transcribe(context.Background(), path)
	assert.Error(t, err)
}

func TestInitializeRequiresKey(t *testing.T) {
	d := NewDeepgramSTTService(nil, nil)
	assert.Error(t, d.Initialize(context.Background()))
}
