package orchestration

import (
	"errors"
	"testing"
)

func TestMessagesWithDefaultsKeepsOverrides(t *testing.T) {
	messages := Messages{Recording: "recording...", TurnFailed: "failed: {error}"}.withDefaults()

	if messages.Recording != "recording..." {
		t.Fatalf("expected override to be kept, got %q", messages.Recording)
	}
	if messages.Processing != DefaultMessages().Processing {
		t.Fatalf("expected default processing text, got %q", messages.Processing)
	}
	if got := messages.turnFailed(errors.New("boom")); got != "failed: boom" {
		t.Fatalf("unexpected turn failure text %q", got)
	}
}

func TestTurnFailedMessage(t *testing.T) {
	err := &TurnError{Kind: TurnErrorChat, Message: "no reply"}

	got := DefaultMessages().turnFailed(err)
	if want := "⚠️ حدث خطأ: chat failed: no reply. حاول مرة أخرى."; got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestTurnErrorMatchesStageSentinel(t *testing.T) {
	err := newTurnError(TurnErrorSynthesis, errors.New("down"))

	if !errors.Is(err, ErrSynthesis) {
		t.Fatalf("expected synthesis sentinel to match")
	}
	if errors.Is(err, ErrChat) {
		t.Fatalf("expected chat sentinel not to match")
	}
	if err.Message != "down" {
		t.Fatalf("expected local error text, got %q", err.Message)
	}
}
