// Package capability defines the external language-model operations a turn
// depends on and the adapters that implement them.
//
// The orchestrator only sees the Generator, Summarizer and Corrector ports.
// Client implements all three over a Provider, and Guard wraps any port with
// the process-wide limiter and retry policy.
package capability

import (
	"context"

	"github.com/harun/korli/pkg/session"
)

// Generator produces the next assistant turn.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)
}

// Summarizer folds turns into the rolling summary.
type Summarizer interface {
	Summarize(ctx context.Context, req SummarizeRequest) (SummarizeResult, error)
}

// Corrector evaluates one user turn.
type Corrector interface {
	Correct(ctx context.Context, req CorrectRequest) (CorrectResult, error)
}

// GenerateRequest carries the persona, the rolling summary and the full
// active window.
type GenerateRequest struct {
	ThreadID string
	Persona  Persona
	Summary  string
	Turns    []session.Turn
}

// GenerateResult is the assistant reply in the foreign language plus its
// translation into the native language.
type GenerateResult struct {
	Text        string
	Translation string
}

// SummarizeRequest asks for Turns to be folded into Existing. LengthHint is
// the number of turns being folded.
type SummarizeRequest struct {
	ThreadID   string
	Persona    Persona
	Existing   string
	Turns      []session.Turn
	LengthHint int
}

type SummarizeResult struct {
	Summary string
}

// CorrectRequest evaluates Turn, which is always a user turn.
type CorrectRequest struct {
	ThreadID string
	Persona  Persona
	Turn     session.Turn
}

// CorrectResult is the evaluation of one user turn. CorrectedText is empty
// when Changed is false.
type CorrectResult struct {
	CorrectedText string
	Translation   string
	Changed       bool
}

// Normalize clears CorrectedText on an unchanged result.
func (r CorrectResult) Normalize() CorrectResult {
	if !r.Changed {
		r.CorrectedText = ""
	}
	return r
}

// Record converts r into the stored form.
func (r CorrectResult) Record() session.CorrectionRecord {
	r = r.Normalize()
	return session.CorrectionRecord{
		CorrectedMessage: r.CorrectedText,
		Translation:      r.Translation,
		Changed:          r.Changed,
	}
}
