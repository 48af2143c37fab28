package capability

import (
	"context"
	"fmt"

	"github.com/harun/korli/pkg/session"
)

// Provider is a language model API that returns structured JSON text.
type Provider interface {
	// Complete makes one API call. It does not retry.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Name returns the provider name
	Name() string
}

// CompletionRequest contains the parameters for one structured call
type CompletionRequest struct {
	Model     string
	System    string
	Messages  []Message
	Schema    *Schema
	MaxTokens int
}

// Message is one chat message sent to a provider.
type Message struct {
	Role    session.Role
	Content string
}

// ProviderOptions configures NewProvider.
type ProviderOptions struct {
	Name   string
	APIKey string
	// BaseURL overrides the API endpoint, mostly for tests and proxies.
	BaseURL string
}

// NewProvider creates a provider by name.
func NewProvider(opts ProviderOptions) (Provider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%s provider requires an api key", opts.Name)
	}
	switch opts.Name {
	case "openai":
		return NewOpenAIProvider(opts.APIKey, opts.BaseURL), nil
	case "anthropic":
		return NewAnthropicProvider(opts.APIKey, opts.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", opts.Name)
	}
}
