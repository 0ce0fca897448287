package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	orchestration "github.com/koscakluka/ema-voiceloop/core"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "voiceloop.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend.URL != "http://localhost:10000" {
		t.Fatalf("unexpected backend url %q", cfg.Backend.URL)
	}
	if cfg.Conversation.RecordingWindow != 10*time.Second {
		t.Fatalf("unexpected recording window %v", cfg.Conversation.RecordingWindow)
	}
	if cfg.Conversation.AutoStartAfter != 2500*time.Millisecond {
		t.Fatalf("unexpected auto start %v", cfg.Conversation.AutoStartAfter)
	}
	if cfg.Conversation.TurnPause != 800*time.Millisecond {
		t.Fatalf("unexpected turn pause %v", cfg.Conversation.TurnPause)
	}
	if cfg.Conversation.CompletionMarker != orchestration.DefaultCompletionMarker {
		t.Fatalf("unexpected marker %q", cfg.Conversation.CompletionMarker)
	}
	if cfg.Conversation.Messages != orchestration.DefaultMessages() {
		t.Fatalf("expected default messages")
	}
	if cfg.Retry.MaxAttempts != 1 {
		t.Fatalf("expected retries to be disabled, got %d attempts", cfg.Retry.MaxAttempts)
	}
	if cfg.Transcriber != ProviderBackend || cfg.Synthesizer != ProviderBackend || cfg.Dialogue != ProviderBackend {
		t.Fatalf("expected backend providers, got %q, %q and %q", cfg.Transcriber, cfg.Dialogue, cfg.Synthesizer)
	}
	if cfg.Groq.HistoryLimit != 20 {
		t.Fatalf("unexpected groq history limit %d", cfg.Groq.HistoryLimit)
	}
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeConfig(t, `
backend:
  url: http://example.test:9000
  endpoints:
    speak: /tts
conversation:
  recording_window: 4s
  messages:
    recording: "REC"
retry:
  max_attempts: 3
  initial_interval: 250ms
`)
	t.Setenv("VOICELOOP_CONVERSATION_TURN_PAUSE", "1s")
	t.Setenv("VOICELOOP_TRANSCRIBER", "deepgram")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Backend.URL != "http://example.test:9000" {
		t.Fatalf("unexpected backend url %q", cfg.Backend.URL)
	}
	if cfg.Conversation.RecordingWindow != 4*time.Second {
		t.Fatalf("unexpected recording window %v", cfg.Conversation.RecordingWindow)
	}
	if cfg.Conversation.TurnPause != time.Second {
		t.Fatalf("expected environment override, got %v", cfg.Conversation.TurnPause)
	}
	if cfg.Transcriber != ProviderDeepgram {
		t.Fatalf("expected deepgram transcriber, got %q", cfg.Transcriber)
	}
	if cfg.Conversation.Messages.Recording != "REC" {
		t.Fatalf("expected message override, got %q", cfg.Conversation.Messages.Recording)
	}
	if cfg.Conversation.Messages.Processing != orchestration.DefaultMessages().Processing {
		t.Fatalf("expected other messages to keep defaults")
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialInterval != 250*time.Millisecond {
		t.Fatalf("unexpected retry policy %+v", cfg.Retry)
	}
	if cfg.Backend.Endpoints.Speak != "/tts" || cfg.Backend.Endpoints.Chat != "/chat" {
		t.Fatalf("expected speak endpoint override only, got %+v", cfg.Backend.Endpoints)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
backend:
  url: ftp://nowhere
transcriber: whisper
dialogue: gpt
conversation:
  recording_window: 0s
  completion_marker: " "
`)

	_, err := Load(path)
	if err == nil {
		t.Fatalf("expected validation error")
	}
	for _, want := range []string{"backend.url", "transcriber", "dialogue", "recording_window", "completion_marker"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected %q in error, got %v", want, err)
		}
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing config file")
	}
}

func TestSchemaDescribesSections(t *testing.T) {
	data, err := Schema()
	if err != nil {
		t.Fatalf("Schema failed: %v", err)
	}

	var schema struct {
		Properties map[string]json.RawMessage `json:"properties"`
	}
	if err := json.Unmarshal(data, &schema); err != nil {
		t.Fatalf("schema is not valid json: %v", err)
	}
	for _, section := range []string{"backend", "conversation", "retry", "report", "audio"} {
		if _, ok := schema.Properties[section]; !ok {
			t.Fatalf("expected %q in schema", section)
		}
	}
}
