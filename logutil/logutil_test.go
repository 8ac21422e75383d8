package logutil

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestNewLoggerTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, LevelTrace)

	logger.Log(t.Context(), LevelTrace, "buffer allocated", "bytes", 16)

	out := buf.String()
	if !strings.Contains(out, "level=TRACE") {
		t.Errorf("TRACE-Level erwartet, bekommen: %s", out)
	}
	if !strings.Contains(out, "source=logutil_test.go:") {
		t.Errorf("kurzer Quellpfad erwartet, bekommen: %s", out)
	}
}

func TestNewLoggerFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Debug("hidden")
	logger.Log(t.Context(), LevelTrace, "hidden")
	if buf.Len() != 0 {
		t.Errorf("keine Ausgabe erwartet, bekommen: %s", buf.String())
	}

	logger.Info("shown")
	if !strings.Contains(buf.String(), "level=INFO") {
		t.Errorf("INFO erwartet, bekommen: %s", buf.String())
	}
}
