package security

import (
	"io"
	"log/slog"
)

// NewLogger builds the process logger. format is "json" or "text"; any
// other value falls back to text. Every record passes through a
// RedactingHandler backed by redactor.
func NewLogger(w io.Writer, level slog.Leveler, format string, redactor *Redactor) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var inner slog.Handler
	if format == "json" {
		inner = slog.NewJSONHandler(w, opts)
	} else {
		inner = slog.NewTextHandler(w, opts)
	}
	if redactor == nil {
		redactor = NewRedactor()
	}
	return slog.New(NewRedactingHandler(inner, redactor))
}
