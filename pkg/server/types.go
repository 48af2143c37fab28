package server

import (
	"time"

	"github.com/harun/korli/pkg/audio"
	"github.com/harun/korli/pkg/capability"
	"github.com/harun/korli/pkg/orchestrator"
	"github.com/harun/korli/pkg/session"
)

// ChatInput is the body of both chat endpoints. Omit message on the first
// turn to get the opening; omit thread_id to start a new thread.
type ChatInput struct {
	ThreadID        string  `json:"thread_id,omitempty"`
	Message         *string `json:"message,omitempty"`
	StudentLevel    *string `json:"student_level,omitempty"`
	ForeignLanguage *string `json:"foreign_language,omitempty"`
	NativeLanguage  *string `json:"native_language,omitempty"`
	TutorGender     *string `json:"tutor_gender,omitempty"`
	StudentGender   *string `json:"student_gender,omitempty"`
}

func (in ChatInput) request(threadID string) orchestrator.Request {
	return orchestrator.Request{
		ThreadID:    threadID,
		UserMessage: in.Message,
		Init: session.InitParams{
			Level:           in.StudentLevel,
			ForeignLanguage: in.ForeignLanguage,
			NativeLanguage:  in.NativeLanguage,
			TutorGender:     in.TutorGender,
			StudentGender:   in.StudentGender,
		},
	}
}

// ChatResponse is returned by /api/chat/invoke and as the stream's result
// event.
type ChatResponse struct {
	ThreadID string     `json:"thread_id"`
	Result   ChatResult `json:"result"`
}

// ChatResult is the session view after a turn.
type ChatResult struct {
	State       orchestrator.State `json:"state"`
	Messages    []session.Turn     `json:"messages"`
	NewMessages []session.Turn     `json:"new_messages"`
	Summary     string             `json:"summary,omitempty"`
	Correction  *CorrectionView    `json:"correction,omitempty"`
	Config      capability.Persona `json:"config"`
	Compacted   bool               `json:"compacted"`
	Version     int64              `json:"version"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// CorrectionView is the evaluation of the message sent with this request.
type CorrectionView struct {
	MessageID string `json:"message_id"`
	session.CorrectionRecord
}

func newChatResponse(resp *orchestrator.Response) ChatResponse {
	result := ChatResult{
		State:       resp.State,
		Messages:    resp.Session.Turns,
		NewMessages: resp.NewTurns,
		Summary:     resp.Session.Summary,
		Config:      resp.Persona,
		Compacted:   resp.Compacted,
		Version:     resp.Session.Version,
		UpdatedAt:   resp.Session.UpdatedAt,
	}
	if resp.Correction != nil {
		result.Correction = &CorrectionView{
			MessageID:        resp.CorrectedTurnID,
			CorrectionRecord: *resp.Correction,
		}
	}
	return ChatResponse{ThreadID: resp.ThreadID, Result: result}
}

// SpeechInput is the body of /api/audio/speech.
type SpeechInput struct {
	Text         string        `json:"text"`
	Voice        string        `json:"voice,omitempty"`
	Model        string        `json:"model,omitempty"`
	Speed        float64       `json:"speed,omitempty"`
	Instructions string        `json:"instructions,omitempty"`
	Storage      audio.Storage `json:"storage,omitempty"`
	ThreadID     string        `json:"thread_id,omitempty"`
	Upsert       bool          `json:"upsert,omitempty"`
}

// TranscriptionResponse is returned by /api/audio/transcribe.
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody tells clients whether to fix the request or retry it later.
type ErrorBody struct {
	Kind      string   `json:"kind"`
	Message   string   `json:"message"`
	Fields    []string `json:"fields,omitempty"`
	Retryable bool     `json:"retryable"`
}
