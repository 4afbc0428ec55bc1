package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/url"
	"os"
	"strings"

	"github.com/ChuDiRen/interactive-feedback-mcp/config"
	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
)

const (
	PartText     = "text"
	PartImageURL = "image_url"
)

type ImageURL struct {
	URL string `json:"url"`
}

// Part is one piece of multimodal message content.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// Message is a chat turn. Content accepts either a plain string or an array
// of parts on the wire.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content []Part `json:"content"`
}

func TextMessage(role, text string) Message {
	return Message{Role: role, Content: []Part{{Type: PartText, Text: text}}}
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	m.Content = nil

	content := bytes.TrimSpace(raw.Content)
	switch {
	case len(content) == 0 || bytes.Equal(content, []byte("null")):
	case content[0] == '"':
		var text string
		if err := json.Unmarshal(content, &text); err != nil {
			return err
		}
		m.Content = []Part{{Type: PartText, Text: text}}
	default:
		if err := json.Unmarshal(content, &m.Content); err != nil {
			return err
		}
	}
	return nil
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Content {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Validate rejects messages a provider could not interpret.
func Validate(messages []Message) error {
	if len(messages) == 0 {
		return errors.Kindf(errors.KindValidation, "messages must not be empty")
	}
	for i, m := range messages {
		switch m.Role {
		case "system", "user", "assistant":
		default:
			return errors.Kindf(errors.KindValidation, "message %d: unsupported role %q", i, m.Role)
		}
		for j, p := range m.Content {
			switch p.Type {
			case PartText:
			case PartImageURL:
				if p.ImageURL == nil || p.ImageURL.URL == "" {
					return errors.Kindf(errors.KindValidation, "message %d part %d: image_url.url is required", i, j)
				}
			default:
				return errors.Kindf(errors.KindValidation, "message %d part %d: unsupported type %q", i, j, p.Type)
			}
		}
	}
	return nil
}

// LLMClient is the interface for interacting with a Large Language Model.
type LLMClient interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-sonnet-latest",
	"gemini":    "gemini-1.5-flash",
	"bedrock":   "anthropic.claude-3-5-sonnet-20240620-v1:0",
}

// New builds the client selected by cfg.LLMClient. The API key falls back to
// the provider's conventional environment variable.
func New(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	model := cfg.Model
	if model == "" {
		model = defaultModels[cfg.LLMClient]
	}
	key := func(env string) string {
		if cfg.APIKey != "" {
			return cfg.APIKey
		}
		return os.Getenv(env)
	}

	switch cfg.LLMClient {
	case "openai":
		return NewOpenAILLMClient(ctx, model, key("OPENAI_API_KEY"), cfg.APIBaseURL)
	case "anthropic":
		return NewAnthropicLLMClient(ctx, model, key("ANTHROPIC_API_KEY"))
	case "gemini":
		return NewGeminiLLMClient(ctx, model, key("GEMINI_API_KEY"))
	case "bedrock":
		return NewBedrockLLMClient(ctx, model)
	case "mock":
		return &MockLLMClient{}, nil
	default:
		return nil, errors.Kindf(errors.KindValidation, "unsupported llm client %q", cfg.LLMClient)
	}
}

// MockLLMClient echoes the last user message. It needs no credentials.
type MockLLMClient struct {
	Err error
}

func (m *MockLLMClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if m.Err != nil {
		return "", errors.WithKind(m.Err, errors.KindProvider, "mock chat")
	}
	if err := Validate(messages); err != nil {
		return "", err
	}
	last := messages[len(messages)-1]
	images := 0
	for _, p := range last.Content {
		if p.Type == PartImageURL {
			images++
		}
	}
	if images > 0 {
		return "I am a mock LLM. I received an image.", nil
	}
	return "I am a mock LLM. You said: '" + last.Text() + "'.", nil
}

const imageToTextPrompt = "Extract all text from this image exactly as written. " +
	"If the image has no text, describe what it shows in one or two sentences. " +
	"Reply with the result only."

// DescribeImage asks client to transcribe the image in dataURL.
func DescribeImage(ctx context.Context, client LLMClient, dataURL string) (string, error) {
	mediaType, _, err := ParseDataURL(dataURL)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(mediaType, "image/") {
		return "", errors.Kindf(errors.KindValidation, "dataUrl must contain an image, got %q", mediaType)
	}
	text, err := client.Chat(ctx, []Message{{
		Role: "user",
		Content: []Part{
			{Type: PartText, Text: imageToTextPrompt},
			{Type: PartImageURL, ImageURL: &ImageURL{URL: dataURL}},
		},
	}})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// ParseDataURL splits a base64 data URL into its media type and decoded bytes.
func ParseDataURL(dataURL string) (mediaType string, data []byte, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(dataURL), "data:")
	if !ok {
		return "", nil, errors.Kindf(errors.KindValidation, "not a data URL")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, errors.Kindf(errors.KindValidation, "data URL has no payload")
	}
	mediaType, isBase64 := strings.CutSuffix(meta, ";base64")
	if mediaType == "" {
		mediaType = "text/plain"
	}
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
	} else {
		var unescaped string
		unescaped, err = url.PathUnescape(payload)
		data = []byte(unescaped)
	}
	if err != nil {
		return "", nil, errors.WithKind(err, errors.KindValidation, "decode data URL")
	}
	if len(data) == 0 {
		return "", nil, errors.Kindf(errors.KindValidation, "data URL is empty")
	}
	return mediaType, data, nil
}

// splitDataURL returns the media type and the raw base64 payload, for
// providers that take base64 directly.
func splitDataURL(dataURL string) (mediaType, b64 string, err error) {
	mediaType, data, err := ParseDataURL(dataURL)
	if err != nil {
		return "", "", err
	}
	return mediaType, base64.StdEncoding.EncodeToString(data), nil
}
