package capability

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/korli/pkg/errkind"
	"github.com/harun/korli/pkg/limiter"
	"github.com/harun/korli/pkg/retry"
)

type scriptedGenerator struct {
	calls    atomic.Int32
	failures int32
	err      error
	block    bool
}

func (s *scriptedGenerator) Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error) {
	n := s.calls.Add(1)
	if s.block {
		<-ctx.Done()
		return GenerateResult{}, ctx.Err()
	}
	if n <= s.failures {
		return GenerateResult{}, s.err
	}
	return GenerateResult{Text: "Bonjour", Translation: "Hello"}, nil
}

func newTestGuard(t *testing.T, timeout time.Duration) (*Guard, *limiter.Limiter) {
	l, err := limiter.New(limiter.DefaultLimits())
	require.NoError(t, err)
	t.Cleanup(l.Close)

	r := retry.New(retry.Policy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		MaxDelay:    4 * time.Millisecond,
		Multiplier:  2,
	}, zerolog.Nop())
	return NewGuard(l, r, timeout, zerolog.Nop()), l
}

func TestGuardedGenerator(t *testing.T) {
	transient := errkind.Transient("generate", errors.New("503"))

	tests := []struct {
		name      string
		gen       *scriptedGenerator
		wantCalls int32
		wantKind  errkind.Kind
	}{
		{
			name:      "transient failures then success",
			gen:       &scriptedGenerator{failures: 2, err: transient},
			wantCalls: 3,
		},
		{
			name:      "retries exhausted",
			gen:       &scriptedGenerator{failures: 100, err: transient},
			wantCalls: 5,
			wantKind:  errkind.CapabilityUnavailable,
		},
		{
			name:      "malformed output is not retried",
			gen:       &scriptedGenerator{failures: 100, err: errkind.Malformed("generate", errors.New("bad json"))},
			wantCalls: 1,
			wantKind:  errkind.CapabilityMalformedOutput,
		},
		{
			name:      "rejection is not retried",
			gen:       &scriptedGenerator{failures: 100, err: errkind.FromStatus("generate", 401, errors.New("unauthorized"))},
			wantCalls: 1,
			wantKind:  errkind.CapabilityRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			guard, l := newTestGuard(t, 0)

			res, err := guard.Generator(tt.gen).Generate(context.Background(), GenerateRequest{})
			assert.Equal(t, tt.wantCalls, tt.gen.calls.Load())

			if tt.wantKind == errkind.Unknown {
				require.NoError(t, err)
				assert.Equal(t, "Bonjour", res.Text)
			} else {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, errkind.KindOf(err))
			}

			stats := l.Stats()
			assert.Equal(t, 0, stats.Global, "gates must be released")
			assert.Equal(t, 0, stats.Classes[limiter.Generation])
		})
	}
}

func TestGuardAttemptTimeout(t *testing.T) {
	guard, _ := newTestGuard(t, 5*time.Millisecond)
	gen := &scriptedGenerator{block: true}

	_, err := guard.Generator(gen).Generate(context.Background(), GenerateRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errkind.ErrCapabilityUnavailable))
	assert.Equal(t, int32(5), gen.calls.Load())
}

func TestGuardCallerCancellation(t *testing.T) {
	guard, _ := newTestGuard(t, 0)
	gen := &scriptedGenerator{block: true}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	_, err := guard.Generator(gen).Generate(ctx, GenerateRequest{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestGuardUsesCapabilityClass(t *testing.T) {
	guard, l := newTestGuard(t, 0)

	seen := make(chan int, 1)
	err := guard.Call(context.Background(), limiter.Correction, "", func(ctx context.Context) error {
		seen <- l.Stats().Classes[limiter.Correction]
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, <-seen)
}
