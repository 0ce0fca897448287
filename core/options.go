package orchestration

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/koscakluka/ema-voiceloop/core/audio"
)

const (
	DefaultRecordingWindow = 10 * time.Second
	DefaultAutoStartAfter  = 2500 * time.Millisecond
	DefaultTurnPause       = 800 * time.Millisecond
)

type OrchestratorOption func(*Orchestrator)

// Transcriber turns one finished recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, recording audio.Recording) (string, error)
}

// Dialogue sends the user's words to the dialogue service, which keeps the
// collected fields for sessionID on its side.
type Dialogue interface {
	Chat(ctx context.Context, sessionID, message string) (string, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio.Clip, error)
}

// ReportService produces the report document from the fields the dialogue
// service collected for a session.
type ReportService interface {
	SessionFields(ctx context.Context, sessionID string) (json.RawMessage, error)
	GenerateReport(ctx context.Context, fields json.RawMessage) ([]byte, error)
}

// ReportSink stores a generated document and returns where it ended up.
type ReportSink interface {
	Save(document []byte) (string, error)
}

type IdentityProvider interface {
	ID() (string, error)
}

func WithTranscriber(transcriber Transcriber) OrchestratorOption {
	return func(o *Orchestrator) {
		o.pipeline.transcriber = transcriber
	}
}

func WithDialogue(dialogue Dialogue) OrchestratorOption {
	return func(o *Orchestrator) {
		o.pipeline.dialogue = dialogue
	}
}

func WithSynthesizer(synthesizer Synthesizer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.pipeline.synthesizer = synthesizer
	}
}

func WithCaptureDevice(device audio.CaptureDevice) OrchestratorOption {
	return func(o *Orchestrator) {
		o.captureDevice = device
	}
}

func WithPlaybackDevice(device audio.PlaybackDevice) OrchestratorOption {
	return func(o *Orchestrator) {
		o.playback = newPlaybackController(device)
	}
}

func WithReportService(service ReportService) OrchestratorOption {
	return func(o *Orchestrator) {
		o.reports = service
	}
}

func WithReportSink(sink ReportSink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.reportSink = sink
	}
}

func WithIdentity(identity IdentityProvider) OrchestratorOption {
	return func(o *Orchestrator) {
		o.identity = identity
	}
}

// WithRecordingWindow bounds a single recording. Capture stops on its own
// once the window is over.
func WithRecordingWindow(window time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.recordingWindow = window
	}
}

// WithAutoStartAfter sets how long Orchestrate waits for a first
// interaction before it starts recording on its own. A non-positive value
// waits for the interaction indefinitely.
func WithAutoStartAfter(grace time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.autoStartAfter = grace
	}
}

// WithTurnPause sets the pause between the end of a reply and the next
// recording.
func WithTurnPause(pause time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.turnPause = pause
	}
}

// WithCompletionMarker sets the text that ends the conversation when a reply
// contains it. A blank marker keeps the default.
func WithCompletionMarker(marker string) OrchestratorOption {
	return func(o *Orchestrator) {
		if strings.TrimSpace(marker) != "" {
			o.completionMarker = marker
		}
	}
}

func WithMessages(messages Messages) OrchestratorOption {
	return func(o *Orchestrator) {
		o.messages = messages.withDefaults()
	}
}

func WithRetryPolicy(policy RetryPolicy) OrchestratorOption {
	return func(o *Orchestrator) {
		o.retry = policy
	}
}

func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

type OrchestrateOptions struct {
	onStatus        func(status string)
	onStateChanged  func(state ConversationState)
	onReportEnabled func(enabled bool)
	onReportSaved   func(path string)
	onTurnCompleted func(turn TurnRecord)
	onRecording     func(recording audio.Recording)
}

type OrchestrateOption func(*OrchestrateOptions)

// WithStatusCallback registers a callback for every change of the visible
// status text.
func WithStatusCallback(callback func(status string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onStatus = callback
	}
}

func WithStateChangedCallback(callback func(state ConversationState)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onStateChanged = callback
	}
}

// WithReportEnabledCallback registers a callback for the availability of
// the report action.
func WithReportEnabledCallback(callback func(enabled bool)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onReportEnabled = callback
	}
}

func WithReportSavedCallback(callback func(path string)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onReportSaved = callback
	}
}

// WithTurnCompletedCallback registers a callback for every turn that
// finished, successfully or not.
func WithTurnCompletedCallback(callback func(turn TurnRecord)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onTurnCompleted = callback
	}
}

// WithRecordingCallback registers a callback that receives every recording
// before it is handed to the pipeline.
func WithRecordingCallback(callback func(recording audio.Recording)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onRecording = callback
	}
}
