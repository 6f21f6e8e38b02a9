package logger

import (
	"io"
	"regexp"
)

// Redactor masks secrets before they reach a log sink.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor for provisioning keys and call tokens.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`Bearer\s+[A-Za-z0-9._~+/=-]+`),
			// JWTs, e.g. locally minted access tokens
			regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
			regexp.MustCompile(`access_token["\s:=]+"?[A-Za-z0-9._-]{8,}`),
			regexp.MustCompile(`key_[A-Za-z0-9]{16,}`),
		},
	}
}

// Redact replaces every match with [REDACTED].
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}

// Wrap returns a writer that redacts before writing to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	// n must be len(p) or callers report a short write
	return len(p), nil
}
