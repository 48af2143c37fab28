// Package errkind defines the typed failures a turn request can end with.
//
// Every error that leaves the orchestrator carries a Kind. Callers use the
// kind to tell "fix your input" failures apart from "retry later" failures
// without parsing messages.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	Unknown Kind = iota
	InvalidRequest
	MissingInitParams
	UnsupportedLanguage
	CapabilityTransient
	CapabilityUnavailable
	CapabilityMalformedOutput
	CapabilityRejected
	Persistence
)

var (
	// ErrInvalidRequest is returned for malformed thread ids or request bodies
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMissingInitParams is returned when a new thread lacks level or languages
	ErrMissingInitParams = errors.New("missing initialization parameters")

	// ErrUnsupportedLanguage is returned when a language has no metadata
	ErrUnsupportedLanguage = errors.New("unsupported language")

	// ErrCapabilityTransient marks a single external call failure worth retrying
	ErrCapabilityTransient = errors.New("capability temporarily failed")

	// ErrCapabilityUnavailable is returned once transient retries are exhausted
	ErrCapabilityUnavailable = errors.New("capability unavailable")

	// ErrCapabilityMalformedOutput is returned for unparseable structured output
	ErrCapabilityMalformedOutput = errors.New("capability returned malformed output")

	// ErrCapabilityRejected is returned when the provider refuses the call outright
	ErrCapabilityRejected = errors.New("capability rejected request")

	// ErrPersistence is returned when the session store cannot load or commit
	ErrPersistence = errors.New("session persistence failed")
)

func (k Kind) String() string {
	switch k {
	case InvalidRequest:
		return "invalid_request"
	case MissingInitParams:
		return "missing_init_params"
	case UnsupportedLanguage:
		return "unsupported_language"
	case CapabilityTransient:
		return "capability_transient"
	case CapabilityUnavailable:
		return "capability_unavailable"
	case CapabilityMalformedOutput:
		return "capability_malformed_output"
	case CapabilityRejected:
		return "capability_rejected"
	case Persistence:
		return "persistence"
	default:
		return "unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case InvalidRequest:
		return ErrInvalidRequest
	case MissingInitParams:
		return ErrMissingInitParams
	case UnsupportedLanguage:
		return ErrUnsupportedLanguage
	case CapabilityTransient:
		return ErrCapabilityTransient
	case CapabilityUnavailable:
		return ErrCapabilityUnavailable
	case CapabilityMalformedOutput:
		return ErrCapabilityMalformedOutput
	case CapabilityRejected:
		return ErrCapabilityRejected
	case Persistence:
		return ErrPersistence
	default:
		return nil
	}
}

// UserFixable reports whether resubmitting with corrected input can succeed.
func (k Kind) UserFixable() bool {
	switch k {
	case InvalidRequest, MissingInitParams, UnsupportedLanguage:
		return true
	default:
		return false
	}
}

// Retryable reports whether the same request may succeed later.
func (k Kind) Retryable() bool {
	switch k {
	case CapabilityTransient, CapabilityUnavailable, Persistence:
		return true
	default:
		return false
	}
}

// Error is a classified failure. Op names the operation that failed and
// Fields lists offending input fields when the kind is user-fixable.
type Error struct {
	Kind   Kind
	Op     string
	Fields []string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if s := e.Kind.sentinel(); s != nil {
		b.WriteString(s.Error())
	} else {
		b.WriteString("failed")
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(e.Fields, ", "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// New wraps err with a kind and operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Missing reports absent required initialization fields.
func Missing(fields ...string) *Error {
	return &Error{Kind: MissingInitParams, Op: "init", Fields: fields}
}

// Invalid reports a malformed request value.
func Invalid(op string, format string, args ...any) *Error {
	return &Error{Kind: InvalidRequest, Op: op, Err: fmt.Errorf(format, args...)}
}

// Transient marks err as a retryable external call failure.
func Transient(op string, err error) *Error {
	return New(CapabilityTransient, op, err)
}

// Malformed marks err as an unusable structured result.
func Malformed(op string, err error) *Error {
	return New(CapabilityMalformedOutput, op, err)
}

// Unavailable marks err as the final failure after retries ran out.
func Unavailable(op string, err error) *Error {
	return New(CapabilityUnavailable, op, err)
}

// PersistenceFailure wraps a store failure.
func PersistenceFailure(op string, err error) *Error {
	return New(Persistence, op, err)
}

// KindOf returns the outermost classified kind in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// IsTransient reports whether a single attempt failed in a way that a new
// attempt could fix: classified transient errors, network errors, attempt
// timeouts and truncated responses.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == CapabilityTransient
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// FromStatus classifies a failed HTTP exchange. Timeouts, conflicts, rate
// limits and server errors are transient; any other status is a rejection.
func FromStatus(op string, status int, err error) *Error {
	switch {
	case status == 408, status == 409, status == 429, status >= 500:
		return Transient(op, err)
	default:
		return New(CapabilityRejected, op, err)
	}
}
