// Package session holds the durable per-thread conversation state and the
// stores that persist it.
//
// Invariants:
//   - Turn IDs are unique within a session and sort in creation order. They
//     come from NextSeq, which never decreases, so IDs are not reused after
//     compaction removes turns.
//   - Initialization parameters are merged field by field. A delta that
//     omits a field never clears the stored value.
//   - History (turns, summary, corrections, NextSeq) is replaced wholesale
//     by each committed run.
//   - Correction keys may outlive the turns they refer to. Compaction never
//     prunes the correction map, so it grows with the number of corrected
//     user turns over the life of the thread.
package session

import (
	"fmt"
	"time"
)

// Role is the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the active window.
type Turn struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Translation string    `json:"translation,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// CorrectionRecord evaluates one user turn. CorrectedMessage is empty when
// Changed is false.
type CorrectionRecord struct {
	CorrectedMessage string `json:"corrected_message"`
	Translation      string `json:"translation"`
	Changed          bool   `json:"changed"`
}

// InitParams configure the tutor for a thread. Nil means "not provided".
type InitParams struct {
	Level           *string `json:"student_level,omitempty"`
	ForeignLanguage *string `json:"foreign_language,omitempty"`
	NativeLanguage  *string `json:"native_language,omitempty"`
	TutorGender     *string `json:"tutor_gender,omitempty"`
	StudentGender   *string `json:"student_gender,omitempty"`
}

// String returns a pointer to s for building InitParams literals.
func String(s string) *string {
	return &s
}

// Value dereferences p, returning "" for nil.
func Value(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func clonePtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func pick(delta, existing *string) *string {
	if delta != nil {
		return clonePtr(delta)
	}
	return clonePtr(existing)
}

// Merge applies delta over p: each present delta field wins, each absent
// one keeps p's value.
func (p InitParams) Merge(delta InitParams) InitParams {
	return InitParams{
		Level:           pick(delta.Level, p.Level),
		ForeignLanguage: pick(delta.ForeignLanguage, p.ForeignLanguage),
		NativeLanguage:  pick(delta.NativeLanguage, p.NativeLanguage),
		TutorGender:     pick(delta.TutorGender, p.TutorGender),
		StudentGender:   pick(delta.StudentGender, p.StudentGender),
	}
}

// Missing lists the required fields that are absent or blank.
func (p InitParams) Missing() []string {
	var missing []string
	if Value(p.Level) == "" {
		missing = append(missing, "student_level")
	}
	if Value(p.ForeignLanguage) == "" {
		missing = append(missing, "foreign_language")
	}
	if Value(p.NativeLanguage) == "" {
		missing = append(missing, "native_language")
	}
	return missing
}

// Resolved reports whether every required field is set.
func (p InitParams) Resolved() bool {
	return len(p.Missing()) == 0
}

// IsZero reports whether no field is present.
func (p InitParams) IsZero() bool {
	return p.Level == nil && p.ForeignLanguage == nil && p.NativeLanguage == nil &&
		p.TutorGender == nil && p.StudentGender == nil
}

// Clone returns a copy that shares no pointers with p.
func (p InitParams) Clone() InitParams {
	return InitParams{}.Merge(p)
}

// History is the part of a session each run replaces as a whole.
type History struct {
	Turns       []Turn                      `json:"turns"`
	Summary     string                      `json:"summary"`
	Corrections map[string]CorrectionRecord `json:"corrections"`
	NextSeq     int64                       `json:"next_seq"`
}

// Clone deep-copies h.
func (h History) Clone() History {
	out := History{
		Summary:     h.Summary,
		NextSeq:     h.NextSeq,
		Turns:       make([]Turn, len(h.Turns)),
		Corrections: make(map[string]CorrectionRecord, len(h.Corrections)),
	}
	copy(out.Turns, h.Turns)
	for k, v := range h.Corrections {
		out.Corrections[k] = v
	}
	return out
}

// NewTurn allocates the next turn ID and appends the turn.
func (h *History) NewTurn(role Role, content, translation string, now time.Time) Turn {
	h.NextSeq++
	turn := Turn{
		ID:          TurnID(h.NextSeq),
		Role:        role,
		Content:     content,
		Translation: translation,
		CreatedAt:   now,
	}
	h.Turns = append(h.Turns, turn)
	return turn
}

// LastUserTurn returns the most recent user turn.
func (h History) LastUserTurn() (Turn, bool) {
	for i := len(h.Turns) - 1; i >= 0; i-- {
		if h.Turns[i].Role == RoleUser {
			return h.Turns[i], true
		}
	}
	return Turn{}, false
}

// TurnID formats a sequence number. Zero padding keeps lexical order equal
// to creation order.
func TurnID(seq int64) string {
	return fmt.Sprintf("t-%08d", seq)
}

// Session is the stored snapshot for one thread.
type Session struct {
	ThreadID string     `json:"thread_id"`
	Init     InitParams `json:"init"`
	History
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New returns the empty default session for a thread never seen before.
func New(threadID string) Session {
	return Session{
		ThreadID: threadID,
		History: History{
			Turns:       []Turn{},
			Corrections: map[string]CorrectionRecord{},
		},
	}
}

// Clone deep-copies s.
func (s Session) Clone() Session {
	out := s
	out.Init = s.Init.Clone()
	out.History = s.History.Clone()
	return out
}

// Delta is what a run asks the store to write. Init is merged field-wise.
// A nil History leaves the stored history untouched; a non-nil one
// replaces it.
type Delta struct {
	Init    InitParams
	History *History
}

// Apply is the store reducer shared by every Store implementation.
func Apply(existing Session, d Delta, now time.Time) Session {
	next := existing.Clone()
	next.Init = existing.Init.Merge(d.Init)
	if d.History != nil {
		next.History = d.History.Clone()
	}
	next.Version = existing.Version + 1
	next.UpdatedAt = now
	return next
}
