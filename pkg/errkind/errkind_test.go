package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("respond: %w", Unavailable("generate", errors.New("503")))

	assert.True(t, errors.Is(err, ErrCapabilityUnavailable))
	assert.False(t, errors.Is(err, ErrCapabilityTransient))
	assert.Equal(t, CapabilityUnavailable, KindOf(err))
}

func TestMissingListsFields(t *testing.T) {
	err := Missing("level", "native_language")

	assert.True(t, errors.Is(err, ErrMissingInitParams))
	assert.Contains(t, err.Error(), "level, native_language")
	assert.Equal(t, []string{"level", "native_language"}, err.Fields)
}

func TestKindClassification(t *testing.T) {
	tests := []struct {
		kind      Kind
		fixable   bool
		retryable bool
	}{
		{InvalidRequest, true, false},
		{MissingInitParams, true, false},
		{UnsupportedLanguage, true, false},
		{CapabilityTransient, false, true},
		{CapabilityUnavailable, false, true},
		{CapabilityMalformedOutput, false, false},
		{CapabilityRejected, false, false},
		{Persistence, false, true},
		{Unknown, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			assert.Equal(t, tt.fixable, tt.kind.UserFixable())
			assert.Equal(t, tt.retryable, tt.kind.Retryable())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"classified transient", Transient("call", errors.New("boom")), true},
		{"malformed", Malformed("call", errors.New("bad json")), false},
		{"attempt timeout", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"network", &net.OpError{Op: "dial", Err: errors.New("refused")}, true},
		{"plain", errors.New("nope"), false},
		{"canceled", context.Canceled, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Unknown, KindOf(errors.New("x")))
	assert.Equal(t, "unknown", Unknown.String())
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   Kind
	}{
		{400, CapabilityRejected},
		{401, CapabilityRejected},
		{404, CapabilityRejected},
		{408, CapabilityTransient},
		{409, CapabilityTransient},
		{429, CapabilityTransient},
		{500, CapabilityTransient},
		{503, CapabilityTransient},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromStatus("call", tt.status, errors.New("status"))
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.want == CapabilityTransient, IsTransient(err))
		})
	}
}
