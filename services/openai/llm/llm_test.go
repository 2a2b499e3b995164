package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/kennyrkun/dispatcher/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChatServer(t *testing.T, content string, captured *map[string]interface{}) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"object":"list","data":[{"id":"llama3.2","object":"model"}]}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			require.NoError(t, sonic.Unmarshal(body, captured))
		}
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]interface{}{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		}
		data, _ := sonic.Marshal(resp)
		w.Write(data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestCompleteAgainstCompatibleServer(t *testing.T) {
	var captured map[string]interface{}
	srv := newChatServer(t, " copy, unit 4 \n", &captured)

	s := NewOpenAILLMService(Config{BaseURL: srv.URL + "/v1", Model: "llama3.2"}, core.NewDiscardLogger())
	require.NoError(t, s.Initialize(context.Background()))

	llmContext := core.NewLLMContext("you are a dispatcher")
	llmContext.AddUserMessage("radio check")
	reply, err := s.Complete(context.Background(), llmContext)
	require.NoError(t, err)
	assert.Equal(t, "copy, unit 4", reply)

	assert.Equal(t, "llama3.2", captured["model"])
	msgs := captured["messages"].([]interface{})
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
	assert.Equal(t, "radio check", msgs[1].(map[string]interface{})["content"])
}

func TestEmptyCompletionIsEngineError(t *testing.T) {
	srv := newChatServer(t, "   ", nil)
	s := NewOpenAILLMService(Config{BaseURL: srv.URL + "/v1", Model: "m"}, core.NewDiscardLogger())
	require.NoError(t, s.Initialize(context.Background()))

	_, err := s.Complete(context.Background(), core.NewLLMContext("x"))
	assert.ErrorIs(t, err, core.ErrEngineResponse)
}

func TestCompleteBeforeInit(t *testing.T) {
	s := NewOpenAILLMService(Config{APIKey: "k"}, core.NewDiscardLogger())
	_, err := s.Complete(context.Background(), core.NewLLMContext("x"))
	assert.Error(t, err)
}

func TestInitRequiresKeyOrBaseURL(t *testing.T) {
	s := NewOpenAILLMService(Config{}, core.NewDiscardLogger())
	assert.Error(t, s.Initialize(context.Background()))
}

func TestServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/models") {
			io.WriteString(w, `{"object":"list","data":[]}`)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"model not loaded","type":"server_error"}}`)
	}))
	defer srv.Close()

	s := NewOpenAILLMService(Config{BaseURL: srv.URL + "/v1", Model: "m"}, core.NewDiscardLogger())
	require.NoError(t, s.Initialize(context.Background()))
	_, err := s.Complete(context.Background(), core.NewLLMContext("x"))
	assert.Error(t, err)
}
