package llm

import (
	"context"
	"strings"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicLLMClient is a client for the Anthropic API.
type AnthropicLLMClient struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicLLMClient creates a new AnthropicLLMClient. Extra request
// options (for example option.WithBaseURL) are applied after the key.
func NewAnthropicLLMClient(ctx context.Context, modelName, apiKey string, opts ...option.RequestOption) (*AnthropicLLMClient, error) {
	if apiKey == "" {
		return nil, errors.Kindf(errors.KindProvider, "MCP_API_KEY (or ANTHROPIC_API_KEY) is not set")
	}

	client := anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...)

	return &AnthropicLLMClient{
		client: &client,
		model:  modelName,
	}, nil
}

func (a *AnthropicLLMClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := Validate(messages); err != nil {
		return "", err
	}
	anthropicMessages, systemPrompt, err := convertMessagesToAnthropicMessages(messages)
	if err != nil {
		return "", err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 4096,
		Messages:  anthropicMessages,
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		return "", errors.WithKind(err, errors.KindProvider, "failed to send message to Anthropic")
	}

	var sb strings.Builder
	for _, content := range resp.Content {
		if c, ok := content.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(c.Text)
		}
	}
	return sb.String(), nil
}

// convertMessagesToAnthropicMessages converts our internal message format to
// Anthropic's. System messages are joined into the system prompt.
func convertMessagesToAnthropicMessages(messages []Message) ([]anthropic.MessageParam, string, error) {
	var anthropicMessages []anthropic.MessageParam
	var system []string

	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Text())
			continue
		}
		var blocks []anthropic.ContentBlockParamUnion
		for _, p := range msg.Content {
			switch p.Type {
			case PartText:
				if p.Text != "" {
					blocks = append(blocks, anthropic.NewTextBlock(p.Text))
				}
			case PartImageURL:
				mediaType, b64, err := splitDataURL(p.ImageURL.URL)
				if err != nil {
					return nil, "", errors.Wrapf(err, "anthropic images must be data URLs")
				}
				blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, b64))
			}
		}
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == "assistant" {
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(blocks...))
		} else {
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(blocks...))
		}
	}

	return anthropicMessages, strings.Join(system, "\n"), nil
}
