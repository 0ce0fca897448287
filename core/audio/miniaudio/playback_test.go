package miniaudio

import (
	"bytes"
	"testing"
)

func TestClipBufferFillPadsWithSilenceAndReportsEnd(t *testing.T) {
	buffer := &clipBuffer{remaining: []byte{1, 2, 3, 4, 5, 6}}

	out := []byte{9, 9, 9, 9}
	if buffer.fill(out) {
		t.Fatalf("expected clip to still have audio after first period")
	}
	if !bytes.Equal(out, []byte{1, 2, 3, 4}) {
		t.Fatalf("unexpected first period: %v", out)
	}

	out = []byte{9, 9, 9, 9}
	if !buffer.fill(out) {
		t.Fatalf("expected clip to be exhausted after second period")
	}
	if !bytes.Equal(out, []byte{5, 6, 0, 0}) {
		t.Fatalf("expected tail padded with silence, got %v", out)
	}
}
