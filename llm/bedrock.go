package llm

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/ChuDiRen/interactive-feedback-mcp/errors"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

// BedrockInvoker is the subset of the Bedrock runtime client the chat path
// needs.
type BedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockLLMClient is a client for the Anthropic models on AWS Bedrock.
type BedrockLLMClient struct {
	client  BedrockInvoker
	modelID string
}

// NewBedrockLLMClient creates a new BedrockLLMClient.
// It requires AWS credentials to be configured in the environment.
func NewBedrockLLMClient(ctx context.Context, modelID string) (*BedrockLLMClient, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, errors.WithKind(err, errors.KindProvider, "failed to load AWS config")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	client := bedrockruntime.NewFromConfig(cfg, func(o *bedrockruntime.Options) {
		// Custom endpoint, useful for testing.
		if endpoint := os.Getenv("BEDROCK_ENDPOINT_URL"); endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &BedrockLLMClient{client: client, modelID: modelID}, nil
}

// Chat sends a chat request to the Anthropic model via AWS Bedrock.
func (b *BedrockLLMClient) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := Validate(messages); err != nil {
		return "", err
	}
	anthropicMessages, systemPrompt, err := convertMessagesToAnthropicFormat(messages)
	if err != nil {
		return "", err
	}

	requestBody, err := createAnthropicRequest(anthropicMessages, systemPrompt)
	if err != nil {
		return "", errors.Wrapf(err, "failed to create Anthropic request")
	}

	resp, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.modelID),
		ContentType: aws.String("application/json"),
		Body:        requestBody,
	})
	if err != nil {
		return "", errors.WithKind(err, errors.KindProvider, "failed to invoke Bedrock model")
	}

	return processBedrockResponse(resp.Body)
}

// convertMessagesToAnthropicFormat converts our internal message format to
// the Anthropic messages JSON that Bedrock expects.
func convertMessagesToAnthropicFormat(messages []Message) ([]map[string]interface{}, string, error) {
	var anthropicMessages []map[string]interface{}
	var system []string

	for _, msg := range messages {
		if msg.Role == "system" {
			system = append(system, msg.Text())
			continue
		}
		var content []map[string]interface{}
		for _, p := range msg.Content {
			switch p.Type {
			case PartText:
				if p.Text == "" {
					continue
				}
				content = append(content, map[string]interface{}{
					"type": "text",
					"text": p.Text,
				})
			case PartImageURL:
				mediaType, b64, err := splitDataURL(p.ImageURL.URL)
				if err != nil {
					return nil, "", errors.Wrapf(err, "bedrock images must be data URLs")
				}
				content = append(content, map[string]interface{}{
					"type": "image",
					"source": map[string]interface{}{
						"type":       "base64",
						"media_type": mediaType,
						"data":       b64,
					},
				})
			}
		}
		if len(content) == 0 {
			continue
		}
		anthropicMessages = append(anthropicMessages, map[string]interface{}{
			"role":    msg.Role,
			"content": content,
		})
	}

	return anthropicMessages, strings.Join(system, "\n"), nil
}

// createAnthropicRequest creates the request body for Anthropic models on Bedrock.
func createAnthropicRequest(messages []map[string]interface{}, systemPrompt string) ([]byte, error) {
	request := map[string]interface{}{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        4096,
		"messages":          messages,
	}
	if systemPrompt != "" {
		request["system"] = systemPrompt
	}
	return json.Marshal(request)
}

// processBedrockResponse extracts the text blocks of a Bedrock response.
func processBedrockResponse(body []byte) (string, error) {
	var response struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &response); err != nil {
		return "", errors.WithKind(err, errors.KindProvider, "failed to unmarshal Bedrock response")
	}
	if len(response.Error) > 0 && string(response.Error) != "null" {
		return "", errors.Kindf(errors.KindProvider, "Bedrock API error: %s", response.Error)
	}

	var sb strings.Builder
	for _, item := range response.Content {
		if item.Type == "text" {
			sb.WriteString(item.Text)
		}
	}
	return sb.String(), nil
}
