package capability

import (
	"fmt"
	"strings"

	"github.com/harun/korli/pkg/language"
	"github.com/harun/korli/pkg/session"
)

// Persona is the tutor configuration derived from a thread's InitParams.
// It is recomputed on every access and never stored on its own.
type Persona struct {
	Level           string `json:"student_level"`
	ForeignLanguage string `json:"foreign_language"`
	NativeLanguage  string `json:"native_language"`
	TutorGender     string `json:"tutor_gender,omitempty"`
	StudentGender   string `json:"student_gender,omitempty"`
}

// PersonaFor derives the persona for init. Absent fields become empty.
func PersonaFor(init session.InitParams) Persona {
	return Persona{
		Level:           session.Value(init.Level),
		ForeignLanguage: session.Value(init.ForeignLanguage),
		NativeLanguage:  session.Value(init.NativeLanguage),
		TutorGender:     session.Value(init.TutorGender),
		StudentGender:   session.Value(init.StudentGender),
	}
}

func (p Persona) genderNotes() string {
	var notes []string
	if p.TutorGender != "" {
		notes = append(notes, fmt.Sprintf("You are a %s tutor; use the matching grammatical gender when you refer to yourself.", p.TutorGender))
	}
	if p.StudentGender != "" {
		notes = append(notes, fmt.Sprintf("The student is %s; address them with the matching grammatical gender.", p.StudentGender))
	}
	return strings.Join(notes, "\n")
}

func (p Persona) levelGuidance() string {
	if language.IsBeginner(p.Level) {
		return "Use very short sentences, everyday vocabulary and the present tense. Ask one simple question at a time."
	}
	return "Match the vocabulary and grammar to the student's level. Keep the conversation flowing with open questions."
}

// SystemPrompt instructs the response model.
func (p Persona) SystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a friendly %s conversation tutor. The student's level is %s (CEFR) and their native language is %s.\n",
		p.ForeignLanguage, p.Level, p.NativeLanguage)
	b.WriteString("Hold a natural conversation with the student. Do not correct their mistakes; a separate reviewer does that.\n")
	b.WriteString(p.levelGuidance())
	b.WriteString("\n")
	if notes := p.genderNotes(); notes != "" {
		b.WriteString(notes)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Reply with foreign_language_message written in %s and native_language_message holding its translation into %s.",
		p.ForeignLanguage, p.NativeLanguage)
	return b.String()
}

// SummaryPreamble introduces the rolling summary ahead of the active
// window. n is the number of turns that follow it.
func (p Persona) SummaryPreamble(summary string, n int) string {
	return fmt.Sprintf("Summary of the conversation so far, before the last %d messages:\n%s", n, summary)
}

// SummaryPrompts returns the system and user prompts for folding turns into
// existing. hint is the number of turns being folded.
func (p Persona) SummaryPrompts(existing string, turns []session.Turn, hint int) (system, user string) {
	system = fmt.Sprintf("You summarize %s language lessons. Write the summary in %s at a %s level. "+
		"Keep names, topics and facts the student shared so the tutor can refer back to them. "+
		"Use no more than %d sentences.", p.ForeignLanguage, p.ForeignLanguage, p.Level, summaryBudget(hint))

	var b strings.Builder
	if existing != "" {
		b.WriteString("Existing summary:\n")
		b.WriteString(existing)
		b.WriteString("\n\nExtend it with these messages:\n")
	} else {
		b.WriteString("Summarize these messages:\n")
	}
	for _, t := range turns {
		b.WriteString(speaker(t.Role))
		b.WriteString(": ")
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	return system, b.String()
}

func summaryBudget(hint int) int {
	n := hint / 2
	if n < 3 {
		return 3
	}
	return n
}

func speaker(role session.Role) string {
	if role == session.RoleUser {
		return "Student"
	}
	return "Tutor"
}

// CorrectionSystemPrompt instructs the correction model.
func (p Persona) CorrectionSystemPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a %s teacher reviewing one message from a %s level student whose native language is %s.\n",
		p.ForeignLanguage, p.Level, p.NativeLanguage)
	b.WriteString("Fix grammar, spelling and word choice errors only. Keep the student's meaning and style.\n")
	if p.StudentGender != "" {
		fmt.Fprintf(&b, "The student is %s; gender agreement referring to them should match.\n", p.StudentGender)
	}
	fmt.Fprintf(&b, "Set corrected to false when the message needs no change. "+
		"Put the corrected message in corrected_foreign_language and its translation into %s in native_language_message.",
		p.NativeLanguage)
	return b.String()
}

// CorrectionPrompt presents the turn under review.
func (p Persona) CorrectionPrompt(turn session.Turn) string {
	return fmt.Sprintf("Student message:\n%s", turn.Content)
}
