package capability

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/korli/pkg/errkind"
	"github.com/harun/korli/pkg/session"
)

type fakeProvider struct {
	mu       sync.Mutex
	reply    string
	err      error
	requests []CompletionRequest
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.reply, f.err
}

func (f *fakeProvider) last() CompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

var testModels = Models{Response: "strong", Summary: "fast-summary", Correction: "fast-correction"}

func testPersona() Persona {
	return PersonaFor(session.InitParams{
		Level:           session.String("B1"),
		ForeignLanguage: session.String("French"),
		NativeLanguage:  session.String("English"),
	})
}

func turns(contents ...string) []session.Turn {
	h := session.New("t").History
	for i, c := range contents {
		role := session.RoleAssistant
		if i%2 == 1 {
			role = session.RoleUser
		}
		h.NewTurn(role, c, "", time.Unix(int64(i), 0))
	}
	return h.Turns
}

func TestClientGenerate(t *testing.T) {
	ctx := context.Background()

	t.Run("without summary sends the window", func(t *testing.T) {
		p := &fakeProvider{reply: `{"foreign_language_message":"Tu aimes le cinéma ?","native_language_message":"Do you like cinema?"}`}
		c := NewClient(p, testModels, zerolog.Nop())

		res, err := c.Generate(ctx, GenerateRequest{Persona: testPersona(), Turns: turns("Bonjour !", "Salut")})
		require.NoError(t, err)
		assert.Equal(t, "Tu aimes le cinéma ?", res.Text)
		assert.Equal(t, "Do you like cinema?", res.Translation)

		req := p.last()
		assert.Equal(t, "strong", req.Model)
		assert.Same(t, turnSchema, req.Schema)
		assert.Contains(t, req.System, "French")
		require.Len(t, req.Messages, 2)
		assert.Equal(t, Message{Role: session.RoleAssistant, Content: "Bonjour !"}, req.Messages[0])
		assert.Equal(t, Message{Role: session.RoleUser, Content: "Salut"}, req.Messages[1])
	})

	t.Run("summary preamble comes first", func(t *testing.T) {
		p := &fakeProvider{reply: `{"foreign_language_message":"Oui","native_language_message":"Yes"}`}
		c := NewClient(p, testModels, zerolog.Nop())

		_, err := c.Generate(ctx, GenerateRequest{
			Persona: testPersona(),
			Summary: "The student likes jazz.",
			Turns:   turns("Bonjour !", "Salut", "Ça va ?"),
		})
		require.NoError(t, err)

		req := p.last()
		require.Len(t, req.Messages, 4)
		assert.Equal(t, session.RoleUser, req.Messages[0].Role)
		assert.Contains(t, req.Messages[0].Content, "The student likes jazz.")
		assert.Contains(t, req.Messages[0].Content, "last 3 messages")
	})
}

func TestClientSummarize(t *testing.T) {
	p := &fakeProvider{reply: `{"summary":"On a parlé de musique."}`}
	c := NewClient(p, testModels, zerolog.Nop())

	res, err := c.Summarize(context.Background(), SummarizeRequest{
		Persona:    testPersona(),
		Existing:   "Ancien résumé.",
		Turns:      turns("Bonjour !", "J'aime le jazz"),
		LengthHint: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "On a parlé de musique.", res.Summary)

	req := p.last()
	assert.Equal(t, "fast-summary", req.Model)
	require.Len(t, req.Messages, 1)
	assert.Contains(t, req.Messages[0].Content, "Ancien résumé.")
	assert.Contains(t, req.Messages[0].Content, "Student: J'aime le jazz")
	assert.Contains(t, req.Messages[0].Content, "Tutor: Bonjour !")
}

func TestClientCorrect(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  CorrectResult
	}{
		{
			name:  "changed keeps corrected text",
			reply: `{"corrected_foreign_language":"Je suis allé","native_language_message":"I went","corrected":true}`,
			want:  CorrectResult{CorrectedText: "Je suis allé", Translation: "I went", Changed: true},
		},
		{
			name:  "unchanged clears corrected text",
			reply: `{"corrected_foreign_language":"Je vais bien","native_language_message":"I am fine","corrected":false}`,
			want:  CorrectResult{CorrectedText: "", Translation: "I am fine", Changed: false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &fakeProvider{reply: tt.reply}
			c := NewClient(p, testModels, zerolog.Nop())

			res, err := c.Correct(context.Background(), CorrectRequest{Persona: testPersona(), Turn: turns("x", "Je suis allé")[1]})
			require.NoError(t, err)
			assert.Equal(t, tt.want, res)

			req := p.last()
			assert.Equal(t, "fast-correction", req.Model)
			assert.Contains(t, req.Messages[0].Content, "Je suis allé")
		})
	}
}

func TestClientMalformedOutput(t *testing.T) {
	tests := []struct {
		name  string
		reply string
	}{
		{"not json", "Bonjour, je suis ton tuteur."},
		{"wrong type", `{"summary": 3}`},
		{"missing field", `{}`},
		{"extra field", `{"summary":"ok","mood":"happy"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClient(&fakeProvider{reply: tt.reply}, testModels, zerolog.Nop())

			_, err := c.Summarize(context.Background(), SummarizeRequest{Persona: testPersona()})
			require.Error(t, err)
			assert.True(t, errors.Is(err, errkind.ErrCapabilityMalformedOutput))
			assert.False(t, errkind.IsTransient(err))
		})
	}
}

func TestClientProviderError(t *testing.T) {
	c := NewClient(&fakeProvider{err: errors.New("boom")}, testModels, zerolog.Nop())

	_, err := c.Generate(context.Background(), GenerateRequest{Persona: testPersona()})
	require.Error(t, err)
	assert.Equal(t, errkind.Unknown, errkind.KindOf(err))

	c = NewClient(&fakeProvider{err: context.DeadlineExceeded}, testModels, zerolog.Nop())
	_, err = c.Generate(context.Background(), GenerateRequest{Persona: testPersona()})
	assert.True(t, errors.Is(err, errkind.ErrCapabilityTransient))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderOptions{Name: "openai", APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Name())

	p, err = NewProvider(ProviderOptions{Name: "anthropic", APIKey: "sk-ant-test"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Name())

	_, err = NewProvider(ProviderOptions{Name: "gemini", APIKey: "k"})
	assert.ErrorContains(t, err, "unsupported provider")

	_, err = NewProvider(ProviderOptions{Name: "openai"})
	assert.ErrorContains(t, err, "api key")
}
