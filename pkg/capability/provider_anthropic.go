package capability

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harun/korli/pkg/session"
)

const anthropicDefaultMaxTokens = 1024

// AnthropicProvider implements Provider for Anthropic Claude. The schema is
// appended to the system prompt and the JSON object is taken from the text
// reply.
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(apiKey, baseURL string) *AnthropicProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Complete makes an API call to Anthropic Claude
func (p *AnthropicProvider) Complete(ctx context.Context, request CompletionRequest) (string, error) {
	anthropicMessages := []anthropic.MessageParam{}

	for _, msg := range request.Messages {
		switch msg.Role {
		case session.RoleUser:
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case session.RoleAssistant:
			// The conversation must open with a user message.
			if len(anthropicMessages) == 0 {
				anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
					anthropic.NewTextBlock("(The lesson starts.)"),
				))
			}
			anthropicMessages = append(anthropicMessages, anthropic.MessageParam{
				Role: anthropic.MessageParamRoleAssistant,
				Content: []anthropic.ContentBlockParamUnion{
					anthropic.NewTextBlock(msg.Content),
				},
			})
		}
	}

	maxTokens := request.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	reqParams := anthropic.MessageNewParams{
		Model:     anthropic.Model(request.Model),
		Messages:  anthropicMessages,
		MaxTokens: int64(maxTokens),
	}

	system := request.System
	if request.Schema != nil {
		system = strings.TrimSpace(system + "\n\n" + request.Schema.Instructions())
	}
	if system != "" {
		reqParams.System = []anthropic.TextBlockParam{
			{Text: system},
		}
	}

	response, err := p.client.Messages.New(ctx, reqParams)
	if err != nil {
		return "", err
	}

	var content strings.Builder
	for _, block := range response.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(b.Text)
		}
	}
	return content.String(), nil
}
