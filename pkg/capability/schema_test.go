package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaDocument(t *testing.T) {
	doc := correctionSchema.Document

	assert.NotContains(t, doc, "$schema")
	assert.NotContains(t, doc, "$id")
	assert.Equal(t, "object", doc["type"])
	assert.Equal(t, false, doc["additionalProperties"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "corrected_foreign_language")
	assert.Contains(t, props, "native_language_message")
	assert.Contains(t, props, "corrected")

	assert.ElementsMatch(t, []any{"corrected_foreign_language", "native_language_message", "corrected"}, doc["required"])
}

func TestSchemaDecode(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{"plain", `{"summary":"ok"}`, "ok", false},
		{"fenced", "```json\n{\"summary\":\"fenced\"}\n```", "fenced", false},
		{"with prose", "Here you go: {\"summary\":\"prose\"} Enjoy.", "prose", false},
		{"no object", "nothing here", "", true},
		{"broken", `{"summary":`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out summaryOutput
			err := summarySchema.Decode(tt.text, &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Summary)
		})
	}
}

func TestSchemaInstructions(t *testing.T) {
	text := turnSchema.Instructions()
	assert.Contains(t, text, "JSON schema")
	assert.Contains(t, text, "foreign_language_message")
}
