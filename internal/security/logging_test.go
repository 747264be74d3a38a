package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLogger_JSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	r := NewRedactor()
	r.AddLiteral("provider-key-123")
	logger := NewLogger(&buf, slog.LevelInfo, "json", r)

	logger.Debug("hidden")
	logger.Info("turn failed", "error", errors.New("upstream rejected provider-key-123"))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not a single JSON record: %v\n%s", err, buf.String())
	}
	if rec["msg"] != "turn failed" {
		t.Errorf("msg = %v", rec["msg"])
	}
	if strings.Contains(buf.String(), "provider-key-123") {
		t.Errorf("secret leaked: %s", buf.String())
	}
}

func TestNewLogger_TextFallback(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelDebug, "xml", nil)
	logger.Debug("compaction scheduled", "session_id", "abc")

	if !strings.Contains(buf.String(), "session_id=abc") {
		t.Errorf("expected text output, got %s", buf.String())
	}
}
