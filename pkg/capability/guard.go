package capability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/korli/internal/observability"
	"github.com/harun/korli/internal/tracing"
	"github.com/harun/korli/pkg/limiter"
	"github.com/harun/korli/pkg/retry"
)

// Guard runs external calls under the shared limiter and retry policy.
// Every attempt acquires its gates afresh, so no gate is held while a
// retry waits out its backoff.
type Guard struct {
	limiter *limiter.Limiter
	retrier *retry.Retrier
	timeout time.Duration
	logger  zerolog.Logger
}

// NewGuard creates a guard. timeout bounds a single attempt; zero disables
// the per-attempt deadline.
func NewGuard(l *limiter.Limiter, r *retry.Retrier, timeout time.Duration, logger zerolog.Logger) *Guard {
	observability.EnsureRegistered()
	return &Guard{
		limiter: l,
		retrier: r,
		timeout: timeout,
		logger:  logger.With().Str("component", "capability.guard").Logger(),
	}
}

// Call runs fn with retries. sessionKey selects the per-session fairness
// gate and may be empty.
func (g *Guard) Call(ctx context.Context, class limiter.Class, sessionKey string, fn func(ctx context.Context) error) (err error) {
	ctx, span := tracing.StartSpan(ctx, "korli.capability", "capability."+string(class),
		attribute.String("thread_id", tracing.GetThreadID(ctx)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	err = g.retrier.Do(ctx, string(class), func(ctx context.Context) error {
		release, err := g.limiter.Acquire(ctx, class, sessionKey)
		if err != nil {
			return err
		}
		defer release()

		if g.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}
		return fn(ctx)
	})
	observability.RecordCapabilityCall(string(class), time.Since(start), err == nil)

	if err != nil {
		logger := tracing.LoggerFromContext(ctx, g.logger)
		logger.Error().
			Err(err).
			Str("capability", string(class)).
			Dur("duration", time.Since(start)).
			Msg("Capability call failed")
	}
	return err
}

// Generator wraps next so each call is guarded.
func (g *Guard) Generator(next Generator) Generator {
	return guardedGenerator{next: next, guard: g}
}

// Summarizer wraps next so each call is guarded.
func (g *Guard) Summarizer(next Summarizer) Summarizer {
	return guardedSummarizer{next: next, guard: g}
}

// Corrector wraps next so each call is guarded.
func (g *Guard) Corrector(next Corrector) Corrector {
	return guardedCorrector{next: next, guard: g}
}

type guardedGenerator struct {
	next  Generator
	guard *Guard
}

func (w guardedGenerator) Generate(ctx context.Context, req GenerateRequest) (res GenerateResult, err error) {
	err = w.guard.Call(ctx, limiter.Generation, "", func(ctx context.Context) error {
		var callErr error
		res, callErr = w.next.Generate(ctx, req)
		return callErr
	})
	return res, err
}

type guardedSummarizer struct {
	next  Summarizer
	guard *Guard
}

func (w guardedSummarizer) Summarize(ctx context.Context, req SummarizeRequest) (res SummarizeResult, err error) {
	err = w.guard.Call(ctx, limiter.Summarization, "", func(ctx context.Context) error {
		var callErr error
		res, callErr = w.next.Summarize(ctx, req)
		return callErr
	})
	return res, err
}

type guardedCorrector struct {
	next  Corrector
	guard *Guard
}

func (w guardedCorrector) Correct(ctx context.Context, req CorrectRequest) (res CorrectResult, err error) {
	err = w.guard.Call(ctx, limiter.Correction, "", func(ctx context.Context) error {
		var callErr error
		res, callErr = w.next.Correct(ctx, req)
		return callErr
	})
	return res, err
}
