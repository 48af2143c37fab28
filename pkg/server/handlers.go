package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/harun/korli/internal/tracing"
	"github.com/harun/korli/pkg/commandqueue"
	"github.com/harun/korli/pkg/errkind"
	"github.com/harun/korli/pkg/language"
	"github.com/harun/korli/pkg/orchestrator"
	"github.com/harun/korli/pkg/session"
)

const maxChatBody = 64 << 10

// IdempotencyHeader carries a client-chosen request key. A repeated chat
// request with the same key on the same thread replays the first
// successful response instead of running another turn.
const IdempotencyHeader = "Idempotency-Key"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to Korli Language Learning API"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"uptime":    time.Since(s.startTime).Seconds(),
		"lanes":     len(s.deps.Queue.Stats()),
		"timestamp": time.Now().UnixMilli(),
	})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		Name string `json:"name"`
		Code string `json:"code"`
	}
	all := s.deps.Languages.All()
	out := make([]entry, 0, len(all))
	for _, lang := range all {
		out = append(out, entry{Name: lang.Name, Code: lang.Code})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"languages": out,
		"levels":    language.Levels,
	})
}

// decodeChat parses and validates the chat body and settles the thread ID.
func decodeChat(w http.ResponseWriter, r *http.Request) (ChatInput, string, error) {
	var in ChatInput
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody))
	if err := dec.Decode(&in); err != nil {
		return in, "", errkind.Invalid("decode", "invalid JSON body: %v", err)
	}

	for field, v := range map[string]*string{"tutor_gender": in.TutorGender, "student_gender": in.StudentGender} {
		if v != nil {
			if err := language.ValidateGender(field, *v); err != nil {
				return in, "", err
			}
		}
	}

	threadID := strings.TrimSpace(in.ThreadID)
	if threadID == "" {
		threadID = uuid.NewString()
	} else if err := session.ValidateThreadID(threadID); err != nil {
		return in, "", err
	}
	return in, threadID, nil
}

// run executes req in the thread's lane so a thread never has two runs in
// flight.
func (s *Server) run(r *http.Request, threadID string, in ChatInput, observe orchestrator.Observer) (*orchestrator.Response, error) {
	ctx := tracing.WithThreadID(r.Context(), threadID)
	value, err := s.deps.Queue.Enqueue(ctx, commandqueue.ThreadLane(threadID), func(ctx context.Context) (any, error) {
		return s.deps.Engine.RunObserved(ctx, in.request(threadID), observe)
	}, &commandqueue.Options{
		WarnAfter: 10 * time.Second,
		RequestID: strings.TrimSpace(r.Header.Get(IdempotencyHeader)),
	})
	if err != nil {
		return nil, err
	}
	return value.(*orchestrator.Response), nil
}

func (s *Server) handleChatInvoke(w http.ResponseWriter, r *http.Request) {
	in, threadID, err := decodeChat(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	resp, err := s.run(r, threadID, in, nil)
	if err != nil {
		s.logFailure(r, threadID, err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(resp))
}

// handleChatStream runs a turn and reports progress as server-sent events:
// a thread_id comment first, one "state" event per state entered, and a
// final "result" or "error" event.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	in, threadID, err := decodeChat(w, r)
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, ": thread_id %s\n\n", threadID)
	flusher.Flush()

	resp, err := s.run(r, threadID, in, func(state orchestrator.State) {
		writeEvent(w, "state", map[string]any{"state": state})
		flusher.Flush()
	})
	if err != nil {
		s.logFailure(r, threadID, err)
		writeEvent(w, "error", errorBody(err))
		flusher.Flush()
		return
	}
	writeEvent(w, "result", newChatResponse(resp))
	flusher.Flush()
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (s *Server) logFailure(r *http.Request, threadID string, err error) {
	kind := errkind.KindOf(err)
	logger := tracing.LoggerFromContext(r.Context(), s.logger)
	event := logger.Warn()
	if !kind.UserFixable() {
		event = logger.Error()
	}
	event.Err(err).
		Str("thread_id", threadID).
		Str("kind", kind.String()).
		Str("path", r.URL.Path).
		Msg("Chat request failed")
}
