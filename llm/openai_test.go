package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeOpenAI(t *testing.T, status int, reply string, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		if captured != nil {
			_ = json.Unmarshal(body, captured)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 1,
			"model":   "gpt-4o-mini",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIChat(t *testing.T) {
	var captured map[string]any
	srv := fakeOpenAI(t, http.StatusOK, "hello back", &captured)

	client, err := NewOpenAILLMClient(context.Background(), "gpt-4o-mini", "sk-test", srv.URL+"/v1/")
	require.NoError(t, err)

	reply, err := client.Chat(context.Background(), []Message{
		TextMessage("system", "be nice"),
		TextMessage("user", "hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, "hello back", reply)

	assert.Equal(t, "gpt-4o-mini", captured["model"])
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "hello", msgs[1].(map[string]any)["content"])
}

func TestOpenAIImageToText(t *testing.T) {
	var captured map[string]any
	srv := fakeOpenAI(t, http.StatusOK, "HELLO WORLD", &captured)
	client, err := NewOpenAILLMClient(context.Background(), "gpt-4o-mini", "sk-test", srv.URL+"/v1/")
	require.NoError(t, err)

	text, err := DescribeImage(context.Background(), client, pngDataURL)
	require.NoError(t, err)
	assert.Equal(t, "HELLO WORLD", text)

	msgs := captured["messages"].([]any)
	parts := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	image := parts[1].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	assert.Equal(t, pngDataURL, image["image_url"].(map[string]any)["url"])
}

func TestOpenAIProviderError(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusBadRequest, "", nil)
	client, err := NewOpenAILLMClient(context.Background(), "gpt-4o-mini", "sk-test", srv.URL+"/v1/")
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []Message{TextMessage("user", "hello")})
	require.Error(t, err)
	assert.Equal(t, errors.KindProvider, errors.KindOf(err))
}
