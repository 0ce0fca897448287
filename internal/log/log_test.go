package log

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "voiceloop.log")

	logger, closer, err := New(path, "debug", "json")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	logger.Debug("state transition", "to", "recording")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"state transition"`) {
		t.Fatalf("expected json record, got %s", data)
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, _, err := New("", "loud", "text"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}
