package console

import (
	"bytes"
	"strings"
	"testing"
)

func TestConsoleLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{JSON: true, Output: &buf})

	l.Info("merged fragment", "chunk_id", "abc")
	l.Debug("hidden at info level")

	out := buf.String()
	if !strings.Contains(out, `"chunk_id":"abc"`) {
		t.Fatalf("expected structured key in output, got %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line written at info level: %q", out)
	}
}

func TestConsoleLoggerDebug(t *testing.T) {
	var buf bytes.Buffer
	l := NewConsoleLogger(ConsoleLoggerParams{Debug: true, Output: &buf})

	l.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("expected debug line, got %q", buf.String())
	}
}
