package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voiceloop/core/audio"
	"github.com/koscakluka/ema-voiceloop/core/speechtotext"
)

type fakeListenServer struct {
	segments      []string
	receivedBytes atomic.Int64
	query         atomic.Value
	authorization atomic.Value
}

func (s *fakeListenServer) handler(t *testing.T) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.query.Store(r.URL.Query().Encode())
		s.authorization.Store(r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("failed to upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			msgType, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if msgType == websocket.BinaryMessage {
				s.receivedBytes.Add(int64(len(msg)))
				continue
			}
			if strings.Contains(string(msg), "CloseStream") {
				break
			}
		}

		for i, segment := range s.segments {
			interim := map[string]any{
				"type":     "Results",
				"is_final": false,
				"channel":  map[string]any{"alternatives": []map[string]any{{"transcript": "ignored interim"}}},
			}
			final := map[string]any{
				"type":         "Results",
				"is_final":     true,
				"speech_final": i == len(s.segments)-1,
				"channel":      map[string]any{"alternatives": []map[string]any{{"transcript": segment}}},
			}
			for _, payload := range []map[string]any{interim, final} {
				msg, _ := json.Marshal(payload)
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	})
}

func newTestTranscriber(t *testing.T, server *fakeListenServer, opts ...ClientOption) *TranscriptionClient {
	t.Helper()
	httpServer := httptest.NewServer(server.handler(t))
	t.Cleanup(httpServer.Close)

	opts = append([]ClientOption{
		WithAPIKey("test-key"),
		WithListenURL("ws" + strings.TrimPrefix(httpServer.URL, "http") + "/v1/listen"),
		WithTimeout(5 * time.Second),
	}, opts...)
	client, err := NewTranscriptionClient(opts...)
	if err != nil {
		t.Fatalf("expected client to be created, got %v", err)
	}
	return client
}

func TestTranscribeJoinsFinalSegments(t *testing.T) {
	server := &fakeListenServer{segments: []string{"اسمي", "سالم"}}
	partials := []string{}
	client := newTestTranscriber(t, server, WithTranscriptionOptions(
		speechtotext.WithPartialTranscriptionCallback(func(segment string) { partials = append(partials, segment) }),
	))

	pcm := make([]byte, 16000) // half a second of 16kHz linear16
	recording := audio.Recording{Data: audio.EncodeWAV(pcm, audio.GetDefaultEncodingInfo()), MediaType: audio.MediaTypeWAV}

	transcript, err := client.Transcribe(context.Background(), recording)
	if err != nil {
		t.Fatalf("expected transcription to succeed, got %v", err)
	}
	if transcript != "اسمي سالم" {
		t.Fatalf("expected joined transcript, got %q", transcript)
	}
	if len(partials) != 2 {
		t.Fatalf("expected two partial callbacks, got %v", partials)
	}
	if got := server.receivedBytes.Load(); got != int64(len(pcm)) {
		t.Fatalf("expected %d audio bytes streamed without the wav header, got %d", len(pcm), got)
	}
	if auth, _ := server.authorization.Load().(string); auth != "Token test-key" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	query, _ := server.query.Load().(string)
	for _, want := range []string{"encoding=linear16", "sample_rate=16000", "language=ar"} {
		if !strings.Contains(query, want) {
			t.Fatalf("expected query %q to contain %q", query, want)
		}
	}
}

func TestTranscribeWithoutSpeechReturnsEmptyTranscript(t *testing.T) {
	client := newTestTranscriber(t, &fakeListenServer{})

	recording := audio.Recording{Data: audio.EncodeWAV(make([]byte, 320), audio.GetDefaultEncodingInfo()), MediaType: audio.MediaTypeWAV}
	if _, err := client.Transcribe(context.Background(), recording); !errors.Is(err, speechtotext.ErrEmptyTranscript) {
		t.Fatalf("expected ErrEmptyTranscript, got %v", err)
	}
}

func TestTranscribeRejectedHandshakeIsNotRetryable(t *testing.T) {
	httpServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer httpServer.Close()

	client, err := NewTranscriptionClient(
		WithAPIKey("bad-key"),
		WithListenURL("ws"+strings.TrimPrefix(httpServer.URL, "http")),
	)
	if err != nil {
		t.Fatalf("expected client to be created, got %v", err)
	}

	_, err = client.Transcribe(context.Background(), audio.Recording{Data: []byte{0, 0}, MediaType: "audio/pcm"})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %T %v", err, err)
	}
	if connErr.StatusCode != http.StatusUnauthorized || connErr.Retryable() {
		t.Fatalf("expected non-retryable 401, got %d retryable=%v", connErr.StatusCode, connErr.Retryable())
	}
}

func TestConvertEncodingRejectsUnsupportedRates(t *testing.T) {
	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 44100, Format: audio.EncodingLinear16}); !errors.Is(err, errUnsupportedSampleRate) {
		t.Fatalf("expected unsupported sample rate, got %v", err)
	}
	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 16000, Format: audio.EncodingMulaw}); !errors.Is(err, errUnsupportedSampleRate) {
		t.Fatalf("expected mulaw above 8kHz to be rejected, got %v", err)
	}
	if _, err := convertEncoding(audio.EncodingInfo{SampleRate: 8000, Format: audio.EncodingMulaw}); err != nil {
		t.Fatalf("expected 8kHz mulaw to be accepted, got %v", err)
	}
}
