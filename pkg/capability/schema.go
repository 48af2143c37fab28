package capability

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// turnOutput is the structured reply of the response model.
type turnOutput struct {
	ForeignLanguageMessage string `json:"foreign_language_message" jsonschema_description:"The tutor reply in the language being learned"`
	NativeLanguageMessage  string `json:"native_language_message" jsonschema_description:"Translation of the reply into the student's native language"`
}

type summaryOutput struct {
	Summary string `json:"summary" jsonschema_description:"Updated summary of the conversation"`
}

type correctionOutput struct {
	CorrectedForeignLanguage string `json:"corrected_foreign_language" jsonschema_description:"The student's message with errors fixed"`
	NativeLanguageMessage    string `json:"native_language_message" jsonschema_description:"Translation of the corrected message into the student's native language"`
	Corrected                bool   `json:"corrected" jsonschema_description:"Whether any change was made"`
}

// Schema is a JSON schema for one structured output, reflected from a Go
// type and compiled for validation.
type Schema struct {
	Name        string
	Description string
	// Document is the schema as a plain JSON object, ready to embed in a
	// provider request.
	Document map[string]any
	compiled *gojsonschema.Schema
}

var (
	turnSchema       = mustSchema("tutor_turn", "Next tutor message with translation", &turnOutput{})
	summarySchema    = mustSchema("conversation_summary", "Rolling conversation summary", &summaryOutput{})
	correctionSchema = mustSchema("message_correction", "Correction of a student message", &correctionOutput{})
)

// NewSchema reflects v into a strict object schema.
func NewSchema(name, description string, v any) (*Schema, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	raw, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema %s: %w", name, err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode schema %s: %w", name, err)
	}
	delete(doc, "$schema")
	delete(doc, "$id")

	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	return &Schema{
		Name:        name,
		Description: description,
		Document:    doc,
		compiled:    compiled,
	}, nil
}

func mustSchema(name, description string, v any) *Schema {
	s, err := NewSchema(name, description, v)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode validates text against the schema and unmarshals it into out.
// Text surrounding the outermost JSON object, such as a markdown fence, is
// ignored.
func (s *Schema) Decode(text string, out any) error {
	body, err := extractJSON(text)
	if err != nil {
		return err
	}

	result, err := s.compiled.Validate(gojsonschema.NewStringLoader(body))
	if err != nil {
		return fmt.Errorf("output is not valid JSON: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("output does not match %s schema: %s", s.Name, strings.Join(problems, "; "))
	}

	if err := json.Unmarshal([]byte(body), out); err != nil {
		return fmt.Errorf("failed to decode output: %w", err)
	}
	return nil
}

// Instructions renders the schema for providers without native structured
// output.
func (s *Schema) Instructions() string {
	raw, _ := json.Marshal(s.Document)
	return fmt.Sprintf("Respond with a single JSON object and nothing else. It must match this JSON schema:\n%s", raw)
}

func extractJSON(text string) (string, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("output contains no JSON object")
	}
	return text[start : end+1], nil
}
