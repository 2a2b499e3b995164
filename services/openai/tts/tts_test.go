package tts

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/kennyrkun/dispatcher/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizeReturnsRawPCM(t *testing.T) {
	var req map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/speech", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, sonic.Unmarshal(body, &req))
		w.Header().Set("Content-Type", "audio/pcm")
		w.Write([]byte{9, 8, 7, 6})
	}))
	defer srv.Close()

	s := NewOpenAITTSService(Config{APIKey: "k", BaseURL: srv.URL + "/v1"}, core.NewDiscardLogger())
	speech, err := s.Synthesize(context.Background(), "control, go ahead", core.SynthesisOptions{Voice: "onyx", Speed: 1.25})
	require.NoError(t, err)
	defer speech.Audio.Close()

	data, err := io.ReadAll(speech.Audio)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7, 6}, data)
	assert.Equal(t, core.PCM, speech.Format)
	assert.Equal(t, 24000, speech.SampleRate)

	assert.Equal(t, "onyx", req["voice"])
	assert.Equal(t, "pcm", req["response_format"])
	assert.Equal(t, 1.25, req["speed"])
}

func TestSynthesizeHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"message":"bad key"}}`)
	}))
	defer srv.Close()

	s := NewOpenAITTSService(Config{APIKey: "k", BaseURL: srv.URL + "/v1"}, core.NewDiscardLogger())
	_, err := s.Synthesize(context.Background(), "x", core.SynthesisOptions{})
	assert.Error(t, err)
}
