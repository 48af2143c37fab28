package orchestrator

import "github.com/harun/korli/pkg/session"

// Split divides a window into the turns to fold into the summary and the
// keep most recent turns. older is empty when the window has at most keep
// turns. Neither result aliases turns.
func Split(turns []session.Turn, keep int) (older, kept []session.Turn) {
	cut := len(turns) - keep
	if cut < 0 {
		cut = 0
	}
	older = append([]session.Turn(nil), turns[:cut]...)
	kept = append([]session.Turn{}, turns[cut:]...)
	return older, kept
}

// NeedsCompaction is the MaybeCompact predicate.
func NeedsCompaction(activeTurns, threshold int) bool {
	return activeTurns > threshold
}

// applyCorrection records the evaluation of turnID, replacing any earlier
// one.
func applyCorrection(h *session.History, turnID string, record session.CorrectionRecord) {
	if h.Corrections == nil {
		h.Corrections = map[string]session.CorrectionRecord{}
	}
	h.Corrections[turnID] = record
}
