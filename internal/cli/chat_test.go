package cli

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/korli/pkg/errkind"
	"github.com/harun/korli/pkg/orchestrator"
	"github.com/harun/korli/pkg/session"
)

type fakeRunner struct {
	mu       sync.Mutex
	requests []orchestrator.Request
	failOn   string
}

func (f *fakeRunner) Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if req.UserMessage == nil {
		return &orchestrator.Response{NewTurns: []session.Turn{
			{Role: session.RoleAssistant, Content: "Привет!", Translation: "Hi!"},
		}}, nil
	}
	if *req.UserMessage == f.failOn {
		return nil, errkind.Transient("generate", assert.AnError)
	}
	return &orchestrator.Response{
		NewTurns: []session.Turn{
			{Role: session.RoleUser, Content: *req.UserMessage},
			{Role: session.RoleAssistant, Content: "Хорошо.", Translation: "Good."},
		},
		Correction: &session.CorrectionRecord{CorrectedMessage: "Я хорошо.", Translation: "I am good.", Changed: true},
	}, nil
}

func TestRunChat(t *testing.T) {
	runner := &fakeRunner{failOn: "boom"}
	in := strings.NewReader("я хорошо\n\nboom\n/quit\nnever sent\n")
	var out bytes.Buffer

	init := session.InitParams{Level: session.String("B1")}
	err := runChat(context.Background(), runner, in, &out, "cli-thread", init)
	require.NoError(t, err)

	require.Len(t, runner.requests, 3)
	assert.Equal(t, "cli-thread", runner.requests[0].ThreadID)
	assert.Nil(t, runner.requests[0].UserMessage)
	assert.Equal(t, init, runner.requests[0].Init)
	assert.Equal(t, "я хорошо", *runner.requests[1].UserMessage)
	assert.Equal(t, "boom", *runner.requests[2].UserMessage)

	text := out.String()
	assert.Contains(t, text, "thread cli-thread")
	assert.Contains(t, text, "tutor: Привет!")
	assert.Contains(t, text, "Hi!")
	assert.Contains(t, text, "✎ Я хорошо. (I am good.)")
	assert.Contains(t, text, "tutor: Хорошо.")
	assert.Contains(t, text, "error (capability_transient)")
	assert.NotContains(t, text, "never sent")
}

func TestRunChatEndOfInput(t *testing.T) {
	runner := &fakeRunner{}
	var out bytes.Buffer

	err := runChat(context.Background(), runner, strings.NewReader("привет"), &out, "t", session.InitParams{})
	require.NoError(t, err)
	assert.Len(t, runner.requests, 2, "a final line without newline is still sent")
}

func TestRunChatOpeningFailure(t *testing.T) {
	runner := &failingRunner{err: errkind.Missing("student_level")}
	err := runChat(context.Background(), runner, strings.NewReader(""), &bytes.Buffer{}, "t", session.InitParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open session")
}

type failingRunner struct{ err error }

func (f *failingRunner) Run(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	return nil, f.err
}

func TestLanguagesCommand(t *testing.T) {
	output, err := execute(t, "", "languages")
	require.NoError(t, err)
	assert.Contains(t, output, "Russian")
	assert.Contains(t, output, "Levels: A1, A2, B1, B2, C1, C2")
}
