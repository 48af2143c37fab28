package capability

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/korli/pkg/session"
)

func TestPersonaFor(t *testing.T) {
	params := session.InitParams{
		Level:           session.String("A2"),
		ForeignLanguage: session.String("German"),
		NativeLanguage:  session.String("Spanish (Spain)"),
		TutorGender:     session.String("female"),
	}

	p := PersonaFor(params)
	assert.Equal(t, Persona{
		Level:           "A2",
		ForeignLanguage: "German",
		NativeLanguage:  "Spanish (Spain)",
		TutorGender:     "female",
	}, p)

	// Derivation is a pure function of the stored parameters.
	assert.Equal(t, p, PersonaFor(params.Clone()))
	assert.Equal(t, p.SystemPrompt(), PersonaFor(params).SystemPrompt())

	data, err := json.Marshal(p)
	require.NoError(t, err)
	var back Persona
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, p, back)
}

func TestPersonaPrompts(t *testing.T) {
	tests := []struct {
		name     string
		persona  Persona
		contains []string
		excludes []string
	}{
		{
			name:     "beginner without genders",
			persona:  Persona{Level: "A1", ForeignLanguage: "Italian", NativeLanguage: "English"},
			contains: []string{"Italian", "English", "A1", "very short sentences"},
			excludes: []string{"grammatical gender"},
		},
		{
			name:     "advanced with genders",
			persona:  Persona{Level: "C1", ForeignLanguage: "Polish", NativeLanguage: "German", TutorGender: "male", StudentGender: "female"},
			contains: []string{"Polish", "male tutor", "The student is female", "open questions"},
			excludes: []string{"very short sentences"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt := tt.persona.SystemPrompt()
			for _, s := range tt.contains {
				assert.Contains(t, prompt, s)
			}
			for _, s := range tt.excludes {
				assert.NotContains(t, prompt, s)
			}
		})
	}
}

func TestSummaryPrompts(t *testing.T) {
	p := Persona{Level: "B2", ForeignLanguage: "Spanish (Spain)", NativeLanguage: "English"}
	folded := turns("¡Hola!", "Me llamo Ana")

	system, user := p.SummaryPrompts("", folded, 2)
	assert.Contains(t, system, "Spanish (Spain)")
	assert.Contains(t, system, "no more than 3 sentences")
	assert.Contains(t, user, "Summarize these messages")
	assert.Contains(t, user, "Student: Me llamo Ana")

	_, user = p.SummaryPrompts("Ana is a student.", folded, 10)
	assert.Contains(t, user, "Existing summary:\nAna is a student.")
}

func TestCorrectionPrompts(t *testing.T) {
	p := Persona{Level: "B1", ForeignLanguage: "French", NativeLanguage: "English", StudentGender: "female"}

	assert.Contains(t, p.CorrectionSystemPrompt(), "The student is female")
	assert.Contains(t, p.CorrectionSystemPrompt(), "corrected to false")
	assert.Equal(t, "Student message:\nJe suis allé", p.CorrectionPrompt(session.Turn{Content: "Je suis allé"}))
}
