package capability

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/korli/internal/tracing"
	"github.com/harun/korli/pkg/errkind"
	"github.com/harun/korli/pkg/session"
)

// Models selects the model per capability. Response uses the stronger
// model; summary and correction run on a faster one.
type Models struct {
	Response   string
	Summary    string
	Correction string
}

// Client implements Generator, Summarizer and Corrector over a Provider.
// Each method makes exactly one provider call.
type Client struct {
	provider  Provider
	models    Models
	maxTokens int
	logger    zerolog.Logger
}

// NewClient creates a client.
func NewClient(provider Provider, models Models, logger zerolog.Logger) *Client {
	return &Client{
		provider:  provider,
		models:    models,
		maxTokens: 1024,
		logger:    logger.With().Str("component", "capability").Str("provider", provider.Name()).Logger(),
	}
}

func (c *Client) complete(ctx context.Context, op string, req CompletionRequest, out any) error {
	req.MaxTokens = c.maxTokens
	start := time.Now()

	text, err := c.provider.Complete(ctx, req)
	if err != nil {
		return classify(op, err)
	}

	logger := tracing.LoggerFromContext(ctx, c.logger)
	if err := req.Schema.Decode(text, out); err != nil {
		logger.Warn().
			Err(err).
			Str("operation", op).
			Str("model", req.Model).
			Msg("Structured output rejected")
		return errkind.Malformed(op, err)
	}

	logger.Debug().
		Str("operation", op).
		Str("model", req.Model).
		Dur("duration", time.Since(start)).
		Msg("Provider call completed")
	return nil
}

// Generate produces the next tutor turn.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	messages := make([]Message, 0, len(req.Turns)+1)
	if req.Summary != "" {
		messages = append(messages, Message{
			Role:    session.RoleUser,
			Content: req.Persona.SummaryPreamble(req.Summary, len(req.Turns)),
		})
	}
	for _, t := range req.Turns {
		messages = append(messages, Message{Role: t.Role, Content: t.Content})
	}

	var out turnOutput
	err := c.complete(ctx, "generate", CompletionRequest{
		Model:    c.models.Response,
		System:   req.Persona.SystemPrompt(),
		Messages: messages,
		Schema:   turnSchema,
	}, &out)
	if err != nil {
		return GenerateResult{}, err
	}

	return GenerateResult{
		Text:        out.ForeignLanguageMessage,
		Translation: out.NativeLanguageMessage,
	}, nil
}

// Summarize folds req.Turns into req.Existing.
func (c *Client) Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResult, error) {
	system, user := req.Persona.SummaryPrompts(req.Existing, req.Turns, req.LengthHint)

	var out summaryOutput
	err := c.complete(ctx, "summarize", CompletionRequest{
		Model:    c.models.Summary,
		System:   system,
		Messages: []Message{{Role: session.RoleUser, Content: user}},
		Schema:   summarySchema,
	}, &out)
	if err != nil {
		return SummarizeResult{}, err
	}
	return SummarizeResult{Summary: out.Summary}, nil
}

// Correct evaluates req.Turn.
func (c *Client) Correct(ctx context.Context, req CorrectRequest) (CorrectResult, error) {
	var out correctionOutput
	err := c.complete(ctx, "correct", CompletionRequest{
		Model:    c.models.Correction,
		System:   req.Persona.CorrectionSystemPrompt(),
		Messages: []Message{{Role: session.RoleUser, Content: req.Persona.CorrectionPrompt(req.Turn)}},
		Schema:   correctionSchema,
	}, &out)
	if err != nil {
		return CorrectResult{}, err
	}

	return CorrectResult{
		CorrectedText: out.CorrectedForeignLanguage,
		Translation:   out.NativeLanguageMessage,
		Changed:       out.Corrected,
	}.Normalize(), nil
}
