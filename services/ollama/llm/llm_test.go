package llm

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

func serve(t *testing.T, status int, reply string, got *chatRequest) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		if got != nil {
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, sonic.Unmarshal(body, got))
		}
		w.WriteHeader(status)
		io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func history() core.LLMContext {
	c := core.NewLLMContext("you are a dispatcher")
	c.AddUserMessage("unit 7 requesting a 10-28")
	return c
}

func TestCompleteNative(t *testing.T) {
	var got chatRequest
	srv := serve(t, 200, `{"model":"llama3.2","message":{"role":"assistant","content":"unit 7, stand by "},"done":true}`, &got)

	s := NewOllamaLLMService(Config{BaseURL: srv.URL, Model: "llama3.2", Temperature: 0.7}, core.NewDiscardLogger())
	require.NoError(t, s.Initialize(context.Background()))
	reply, err := s.Complete(context.Background(), history())
	require.NoError(t, err)
	assert.Equal(t, "unit 7, stand by", reply)

	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, 0.7, got.Options["temperature"])
}

func TestErrorFieldIsEngineResponse(t *testing.T) {
	srv := serve(t, 404, `{"error":"model 'nope' not found"}`, nil)
	s := NewOllamaLLMService(Config{BaseURL: srv.URL, Model: "nope"}, core.NewDiscardLogger())
	_, err := s.Complete(context.Background(), history())
	assert.ErrorIs(t, err, core.ErrEngineResponse)
	assert.Contains(t, err.Error(), "not found")
}

func TestEmptyMessage(t *testing.T) {
	srv := serve(t, 200, `{"message":{"role":"assistant","content":""},"done":true}`, nil)
	s := NewOllamaLLMService(Config{BaseURL: srv.URL, Model: "m"}, core.NewDiscardLogger())
	_, err := s.Complete(context.Background(), history())
	assert.ErrorIs(t, err, core.ErrEngineResponse)
}

func TestModelRequired(t *testing.T) {
	assert.Error(t, NewOllamaLLMService(Config{}, nil).Initialize(context.Background()))
}
