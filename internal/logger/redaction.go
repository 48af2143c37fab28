package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor scrubs provider credentials and storage keys from log output.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor for the credentials this service handles.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// OpenAI and Anthropic keys
			regexp.MustCompile(`sk-(?:ant-|proj-)?[a-zA-Z0-9_-]{20,}`),

			// Authorization headers
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// Supabase service keys are JWTs
			regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{8,}\.[a-zA-Z0-9_-]{8,}\.[a-zA-Z0-9_-]+`),

			// apikey header and config values
			regexp.MustCompile(`(?i)"?api_?key"?\s*[:=]\s*"?[^\s",}]+`),

			regexp.MustCompile(`(?i)password["\s:=]+[^\s"]+`),
			regexp.MustCompile(`(?i)secret["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, redacted)
	}
	return s
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers do not treat the rewritten
// length as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(w.writer, w.redactor.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
