package tts

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/kennyrkun/dispatcher/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeStreamInput(t *testing.T, paths chan<- string, final string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths <- r.URL.Path + "?" + r.URL.RawQuery
		conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		// BOS, text, EOS
		for range 3 {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
		audio := base64.StdEncoding.EncodeToString([]byte{4, 5, 6, 7})
		conn.WriteMessage(websocket.TextMessage, []byte(`{"audio":"`+audio+`","isFinal":false}`))
		conn.WriteMessage(websocket.TextMessage, []byte(final))
	}))
}

func TestSynthesizeDecodesAudio(t *testing.T) {
	paths := make(chan string, 1)
	srv := fakeStreamInput(t, paths, `{"audio":null,"isFinal":true}`)
	defer srv.Close()

	e := NewElevenLabsTTS(ElevenLabsTTSConfig{APIKey: "k", BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, core.NewDiscardLogger())
	require.NoError(t, e.Initialize(context.Background()))
	speech, err := e.Synthesize(context.Background(), "copy that", core.SynthesisOptions{Voice: "voice123"})
	require.NoError(t, err)
	defer speech.Audio.Close()

	got, err := io.ReadAll(speech.Audio)
	require.NoError(t, err)
	assert.Equal(t, []byte{4, 5, 6, 7}, got)
	assert.Equal(t, 24000, speech.SampleRate)

	p := <-paths
	assert.True(t, strings.HasPrefix(p, "/voice123/stream-input?"))
	assert.Contains(t, p, "output_format=pcm_24000")
}

func TestSynthesizeServerError(t *testing.T) {
	paths := make(chan string, 1)
	srv := fakeStreamInput(t, paths, `{"error":"quota_exceeded","message":"quota exceeded","code":1008}`)
	defer srv.Close()

	e := NewElevenLabsTTS(ElevenLabsTTSConfig{APIKey: "k", BaseURL: "ws" + strings.TrimPrefix(srv.URL, "http")}, core.NewDiscardLogger())
	speech, err := e.Synthesize(context.Background(), "x", core.SynthesisOptions{})
	require.NoError(t, err)
	defer speech.Audio.Close()
	_, err = io.ReadAll(speech.Audio)
	assert.ErrorIs(t, err, core.ErrEngineResponse)
}

func TestOutputFormat(t *testing.T) {
	f, enc, rate := outputFormat(8000)
	assert.Equal(t, "ulaw_8000", f)
	assert.Equal(t, core.ULAW, enc)
	assert.Equal(t, 8000, rate)

	f, _, rate = outputFormat(12345)
	assert.Equal(t, "pcm_24000", f)
	assert.Equal(t, 24000, rate)
}
