package orchestrator

import (
	"github.com/harun/korli/pkg/capability"
	"github.com/harun/korli/pkg/session"
)

// Request is one turn request. An absent UserMessage on a thread with no
// turns asks for the opening turn.
type Request struct {
	ThreadID    string
	UserMessage *string
	Init        session.InitParams
}

// Response is the committed outcome of a run.
type Response struct {
	ThreadID string
	State    State
	// Session is the snapshot as committed by this run.
	Session session.Session
	// Persona is derived from Session.Init.
	Persona capability.Persona
	// NewTurns holds the turns appended by this run, user turn first.
	NewTurns []session.Turn
	// Correction evaluates CorrectedTurnID when the run included a user
	// message.
	Correction      *session.CorrectionRecord
	CorrectedTurnID string
	Compacted       bool
	// Path lists the visited states in order, ending with StateDone.
	Path []State
}

// Observer receives each state as the engine enters it. Run calls it from
// the run's goroutine.
type Observer func(State)
