package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// rule replaces matches of re. Patterns with a capture group keep the
// group (the field name) and redact only what follows it.
type rule struct {
	re          *regexp.Regexp
	replacement string
}

// Redactor redacts sensitive information from logs
type Redactor struct {
	rules []rule
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	r := &Redactor{}

	// Provider API keys
	r.mustAdd(`sk-ant-[a-zA-Z0-9_-]{20,}`)
	r.mustAdd(`sk-[a-zA-Z0-9_-]{20,}`)

	// Bearer tokens
	r.mustAdd(`Bearer\s+[a-zA-Z0-9._~+/=-]+`)

	// Service API key in headers, query strings and JSON fields
	r.mustAddField(`(?i)(x-api-key["']?\s*[:=]\s*["']?)[^\s"',&]+`)
	r.mustAddField(`(?i)(api_key["']?\s*[:=]\s*["']?)[^\s"',&]+`)

	// Passwords and generic secrets
	r.mustAddField(`(?i)(password["']?\s*[:=]\s*["']?)[^\s"',]+`)
	r.mustAddField(`(?i)(secret["']?\s*[:=]\s*["']?)[^\s"',]+`)

	// AWS keys
	r.mustAdd(`AKIA[0-9A-Z]{16}`)

	return r
}

// AddPattern adds a custom redaction pattern. The whole match is replaced.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.rules = append(r.rules, rule{re: re, replacement: redacted})
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	for _, rl := range r.rules {
		s = rl.re.ReplaceAllString(s, rl.replacement)
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

func (r *Redactor) mustAdd(pattern string) {
	r.rules = append(r.rules, rule{re: regexp.MustCompile(pattern), replacement: redacted})
}

func (r *Redactor) mustAddField(pattern string) {
	r.rules = append(r.rules, rule{re: regexp.MustCompile(pattern), replacement: "${1}" + redacted})
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success since callers account for the bytes they passed in
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
