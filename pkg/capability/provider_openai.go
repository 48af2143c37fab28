package capability

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/harun/korli/pkg/session"
)

// OpenAIProvider implements Provider with chat completions and json_schema
// response formats.
type OpenAIProvider struct {
	client openai.Client
}

// NewOpenAIProvider creates a new OpenAI provider. The SDK's own retries are
// disabled; retry.Retrier owns that policy.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete makes an API call to OpenAI
func (p *OpenAIProvider) Complete(ctx context.Context, request CompletionRequest) (string, error) {
	messages := []openai.ChatCompletionMessageParamUnion{}

	if request.System != "" {
		messages = append(messages, openai.SystemMessage(request.System))
	}

	for _, msg := range request.Messages {
		switch msg.Role {
		case session.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case session.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(request.Model),
		Messages: messages,
	}

	if request.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(request.MaxTokens))
	}

	if request.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        request.Schema.Name,
					Description: openai.String(request.Schema.Description),
					Schema:      request.Schema.Document,
					Strict:      openai.Bool(true),
				},
			},
		}
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}

	choice := response.Choices[0]
	if choice.Message.Refusal != "" {
		return "", fmt.Errorf("model refused: %s", choice.Message.Refusal)
	}
	return choice.Message.Content, nil
}
