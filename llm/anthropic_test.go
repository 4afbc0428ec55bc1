package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicChat(t *testing.T) {
	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("X-Api-Key"))
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id":"msg_1","type":"message","role":"assistant","model":"claude",
			"content":[{"type":"text","text":"Hi "},{"type":"text","text":"there"}],
			"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":2}
		}`)
	}))
	t.Cleanup(srv.Close)

	client, err := NewAnthropicLLMClient(context.Background(), "claude", "sk-ant",
		option.WithBaseURL(srv.URL+"/"), option.WithMaxRetries(0))
	require.NoError(t, err)

	reply, err := client.Chat(context.Background(), []Message{
		TextMessage("system", "terse"),
		{Role: "user", Content: []Part{
			{Type: PartText, Text: "read this"},
			{Type: PartImageURL, ImageURL: &ImageURL{URL: pngDataURL}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hi there", reply)

	assert.Equal(t, "claude", captured["model"])
	system := captured["system"].([]any)
	assert.Equal(t, "terse", system[0].(map[string]any)["text"])
	msgs := captured["messages"].([]any)
	require.Len(t, msgs, 1)
	blocks := msgs[0].(map[string]any)["content"].([]any)
	require.Len(t, blocks, 2)
	assert.Equal(t, "image", blocks[1].(map[string]any)["type"])
}

func TestConvertMessagesSkipsEmptyTurns(t *testing.T) {
	msgs, system, err := convertMessagesToAnthropicMessages([]Message{
		{Role: "assistant"},
		TextMessage("user", "hello"),
	})
	require.NoError(t, err)
	assert.Empty(t, system)
	assert.Len(t, msgs, 1)
}

func TestConvertMessagesToGeminiContent(t *testing.T) {
	contents, system, err := convertMessagesToGeminiContent([]Message{
		TextMessage("system", "be kind"),
		TextMessage("user", "hi"),
		TextMessage("assistant", "hello"),
		{Role: "user", Content: []Part{{Type: PartImageURL, ImageURL: &ImageURL{URL: pngDataURL}}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "be kind", system)
	require.Len(t, contents, 3)
	assert.Equal(t, "user", contents[0].Role)
	assert.Equal(t, "model", contents[1].Role)
	assert.Len(t, contents[2].Parts, 1)
}
