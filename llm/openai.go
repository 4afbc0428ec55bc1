package llm

import (
	"context"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAILLMClient is a client for the OpenAI Chat Completion API or any
// endpoint compatible with it.
type OpenAILLMClient struct {
	client *openai.Client
	model  string
}

// NewOpenAILLMClient creates a new OpenAILLMClient. baseURL may be empty to
// use the SDK default.
func NewOpenAILLMClient(ctx context.Context, modelName, apiKey, baseURL string) (*OpenAILLMClient, error) {
	if apiKey == "" {
		return nil, errors.Kindf(errors.KindProvider, "MCP_API_KEY (or OPENAI_API_KEY) is not set")
	}

	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	c := openai.NewClient(options...)
	// The &c is required, do not replace and just use c
	return &OpenAILLMClient{client: &c, model: modelName}, nil
}

func (o *OpenAILLMClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := Validate(messages); err != nil {
		return "", err
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: convertMessagesToOpenaiContent(messages),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.WithKind(err, errors.KindProvider, "failed to send message to OpenAI")
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// convertMessagesToOpenaiContent converts our internal message format to OpenAI's.
func convertMessagesToOpenaiContent(messages []Message) []openai.ChatCompletionMessageParamUnion {
	var chatMessages []openai.ChatCompletionMessageParamUnion
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			chatMessages = append(chatMessages, openai.SystemMessage(msg.Text()))
		case "assistant":
			chatMessages = append(chatMessages, openai.AssistantMessage(msg.Text()))
		default:
			if !hasImage(msg) {
				chatMessages = append(chatMessages, openai.UserMessage(msg.Text()))
				continue
			}
			var parts []openai.ChatCompletionContentPartUnionParam
			for _, p := range msg.Content {
				switch p.Type {
				case PartText:
					parts = append(parts, openai.TextContentPart(p.Text))
				case PartImageURL:
					parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
						URL: p.ImageURL.URL,
					}))
				}
			}
			chatMessages = append(chatMessages, openai.UserMessage(parts))
		}
	}
	return chatMessages
}

func hasImage(msg Message) bool {
	for _, p := range msg.Content {
		if p.Type == PartImageURL {
			return true
		}
	}
	return false
}
