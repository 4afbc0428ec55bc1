package llm

import (
	"context"
	"strings"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiLLMClient is a client for the Google Gemini API.
type GeminiLLMClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiLLMClient creates a new GeminiLLMClient.
func NewGeminiLLMClient(ctx context.Context, modelName, apiKey string) (*GeminiLLMClient, error) {
	if apiKey == "" {
		return nil, errors.Kindf(errors.KindProvider, "MCP_API_KEY (or GEMINI_API_KEY) is not set")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.WithKind(err, errors.KindProvider, "failed to create genai client")
	}

	return &GeminiLLMClient{client: client, modelName: modelName}, nil
}

// Chat sends a chat request to the Gemini API. A model handle is created per
// call so concurrent requests never share a system instruction.
func (g *GeminiLLMClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := Validate(messages); err != nil {
		return "", err
	}
	history, system, err := convertMessagesToGeminiContent(messages)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", errors.Kindf(errors.KindValidation, "no user or assistant messages")
	}

	model := g.client.GenerativeModel(g.modelName)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	// The last message is the new prompt.
	lastMessage := history[len(history)-1]

	chatSession := model.StartChat()
	chatSession.History = history[:len(history)-1]
	resp, err := chatSession.SendMessage(ctx, lastMessage.Parts...)
	if err != nil {
		return "", errors.WithKind(err, errors.KindProvider, "failed to send message to Gemini")
	}
	return processGeminiResponse(resp)
}

func (g *GeminiLLMClient) Close() error {
	return g.client.Close()
}

// convertMessagesToGeminiContent converts our internal message format to Gemini's.
func convertMessagesToGeminiContent(messages []Message) ([]*genai.Content, string, error) {
	var contents []*genai.Content
	var system []string
	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Text())
			continue
		}
		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}
		var parts []genai.Part
		for _, p := range msg.Content {
			switch p.Type {
			case PartText:
				parts = append(parts, genai.Text(p.Text))
			case PartImageURL:
				mediaType, data, err := ParseDataURL(p.ImageURL.URL)
				if err != nil {
					return nil, "", errors.Wrapf(err, "gemini images must be data URLs")
				}
				// genai expects the subtype only, e.g. "png".
				format := strings.TrimPrefix(strings.SplitN(mediaType, ";", 2)[0], "image/")
				parts = append(parts, genai.ImageData(format, data))
			}
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, strings.Join(system, "\n"), nil
}

func processGeminiResponse(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.Kindf(errors.KindProvider, "received an empty response from Gemini")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if v, ok := part.(genai.Text); ok {
			sb.WriteString(string(v))
		}
	}
	return sb.String(), nil
}
