// Package retry wraps single external calls in bounded exponential backoff.
//
// Only failures classified as transient by errkind.IsTransient are retried.
// Anything else stops the loop on the attempt that produced it. When the
// attempt budget runs out the last transient failure is reported as
// errkind.CapabilityUnavailable.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/harun/korli/internal/observability"
	"github.com/harun/korli/internal/tracing"
	"github.com/harun/korli/pkg/errkind"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// Default returns five attempts with delays of 1s, 2s, 4s and 6s between them.
func Default() Policy {
	return Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    6 * time.Second,
		Multiplier:  2,
	}
}

func (p Policy) withDefaults() Policy {
	d := Default()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	return p
}

// Delays lists the waits a fully failing call would observe.
func (p Policy) Delays() []time.Duration {
	p = p.withDefaults()
	b := p.backOff()
	delays := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		delays = append(delays, b.NextBackOff())
	}
	return delays
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// Retrier applies a Policy. It is safe for concurrent use; every Do call
// owns its own backoff state.
type Retrier struct {
	policy Policy
	logger zerolog.Logger
}

// New creates a Retrier. Zero policy fields fall back to Default.
func New(policy Policy, logger zerolog.Logger) *Retrier {
	return &Retrier{
		policy: policy.withDefaults(),
		logger: logger,
	}
}

// Policy returns the effective policy.
func (r *Retrier) Policy() Policy {
	return r.policy
}

// Do runs fn until it succeeds, fails permanently, ctx ends or the attempt
// budget is spent. op names the call in logs, metrics and errors.
func (r *Retrier) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	logger := tracing.LoggerFromContext(ctx, r.logger)
	attempt := 0

	operation := func() (struct{}, error) {
		attempt++
		err := fn(ctx)
		if err == nil {
			return struct{}{}, nil
		}
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}
		if !errkind.IsTransient(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}

	notify := func(err error, wait time.Duration) {
		observability.RecordRetry(op)
		logger.Warn().
			Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Int("max_attempts", r.policy.MaxAttempts).
			Dur("backoff", wait).
			Msg("Transient failure, retrying")
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(r.policy.backOff()),
		backoff.WithMaxTries(uint(r.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(notify),
	)
	if err == nil {
		return nil
	}

	// The final attempt's error may still carry backoff's permanent wrapper.
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Unwrap()
	}

	if errors.Is(err, context.Canceled) || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return err
	}
	if errkind.IsTransient(err) {
		logger.Error().
			Err(err).
			Str("operation", op).
			Int("attempts", attempt).
			Msg("Retries exhausted")
		return errkind.Unavailable(op, err)
	}
	return err
}
