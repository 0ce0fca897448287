package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/ema-voiceloop/core/audio"
	"github.com/koscakluka/ema-voiceloop/core/backend"
)

type testRig struct {
	capture     *fakeCaptureDevice
	playback    *fakePlaybackDevice
	transcriber *fakeTranscriber
	dialogue    *fakeDialogue
	synthesizer *fakeSynthesizer
	reports     *fakeReportService
	sink        *fakeReportSink
}

func newTestRig(reply string) *testRig {
	return &testRig{
		capture:     newFakeCaptureDevice([]byte{1, 2}, []byte{3, 4}),
		playback:    &fakePlaybackDevice{},
		transcriber: &fakeTranscriber{results: []stageResult[string]{{value: "مرحبا"}}},
		dialogue:    &fakeDialogue{results: []stageResult[string]{{value: reply}}},
		synthesizer: &fakeSynthesizer{},
		reports:     &fakeReportService{fields: json.RawMessage(`{"name":"x"}`), document: []byte("docx")},
		sink:        &fakeReportSink{},
	}
}

func (r *testRig) orchestrator(t *testing.T, opts ...OrchestratorOption) *Orchestrator {
	t.Helper()

	base := []OrchestratorOption{
		WithCaptureDevice(r.capture),
		WithPlaybackDevice(r.playback),
		WithTranscriber(r.transcriber),
		WithDialogue(r.dialogue),
		WithSynthesizer(r.synthesizer),
		WithReportService(r.reports),
		WithReportSink(r.sink),
		WithIdentity(fakeIdentity{id: "session-1"}),
		WithRecordingWindow(time.Hour),
		WithAutoStartAfter(0),
		WithTurnPause(20 * time.Millisecond),
	}
	o := NewOrchestrator(append(base, opts...)...)
	t.Cleanup(o.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	o.Orchestrate(ctx)
	return o
}

func inState(o *Orchestrator, state ConversationState) func() bool {
	return func() bool { return o.State() == state }
}

func TestOrchestrateShowsWelcome(t *testing.T) {
	rig := newTestRig("")
	o := rig.orchestrator(t)

	if o.State() != StateIdle {
		t.Fatalf("expected idle, got %v", o.State())
	}
	if o.Status() != DefaultMessages().Welcome {
		t.Fatalf("expected welcome status, got %q", o.Status())
	}
	if o.ReportEnabled() {
		t.Fatalf("expected report action to start disabled")
	}
}

func TestFirstInteractionStartsRecording(t *testing.T) {
	rig := newTestRig("")
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	if o.Status() != DefaultMessages().Recording {
		t.Fatalf("expected recording status, got %q", o.Status())
	}

	o.Interact()
	time.Sleep(20 * time.Millisecond)
	if rig.capture.openCount() != 1 {
		t.Fatalf("expected later interactions to be ignored, got %d captures", rig.capture.openCount())
	}
}

func TestAutoStartAfterGracePeriod(t *testing.T) {
	rig := newTestRig("")
	o := rig.orchestrator(t, WithAutoStartAfter(10*time.Millisecond))

	waitFor(t, "automatic recording", inState(o, StateRecording))
	if rig.capture.openCount() != 1 {
		t.Fatalf("expected one capture, got %d", rig.capture.openCount())
	}
}

func TestReplyWithoutMarkerStartsNextRecordingAfterPause(t *testing.T) {
	rig := newTestRig("ما هو اسمك؟")
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StopRecording()

	waitFor(t, "reply playback", func() bool { return rig.playback.playCount() == 1 })
	if o.State() != StateSpeaking {
		t.Fatalf("expected speaking, got %v", o.State())
	}
	if o.Status() != "ما هو اسمك؟" {
		t.Fatalf("expected reply as status, got %q", o.Status())
	}

	rig.playback.end(0)
	waitFor(t, "next recording", func() bool {
		return rig.capture.openCount() == 2 && o.State() == StateRecording
	})

	rig.dialogue.mu.Lock()
	sessionID, message := rig.dialogue.sessionIDs[0], rig.dialogue.messages[0]
	rig.dialogue.mu.Unlock()
	if sessionID != "session-1" {
		t.Fatalf("expected session identity to be sent, got %q", sessionID)
	}
	if message != "مرحبا" {
		t.Fatalf("expected transcript to be sent, got %q", message)
	}

	conversation := o.Conversation()
	if len(conversation.Turns) != 1 {
		t.Fatalf("expected one finished turn, got %d", len(conversation.Turns))
	}
	if turn := conversation.Turns[0]; turn.Transcript != "مرحبا" || turn.Reply != "ما هو اسمك؟" || turn.Failed() {
		t.Fatalf("unexpected turn record: %+v", turn)
	}
}

func TestReplyWithMarkerAwaitsReport(t *testing.T) {
	reply := "تم استلام جميع البيانات، شكرًا"
	rig := newTestRig(reply)
	rig.playback.autoEnd = true
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StopRecording()

	waitFor(t, "awaiting report", inState(o, StateAwaitingReport))
	waitFor(t, "report action", o.ReportEnabled)
	if want := reply + DefaultMessages().ReadyForReport; o.Status() != want {
		t.Fatalf("expected %q, got %q", want, o.Status())
	}

	time.Sleep(60 * time.Millisecond)
	if rig.capture.openCount() != 1 {
		t.Fatalf("expected no further recording, got %d captures", rig.capture.openCount())
	}

	o.StartTurn()
	time.Sleep(20 * time.Millisecond)
	if o.State() != StateAwaitingReport || rig.capture.openCount() != 1 {
		t.Fatalf("expected start to be refused after completion")
	}
}

func TestBlankCompletionMarkerKeepsDefault(t *testing.T) {
	rig := newTestRig("ما هو اسمك؟")
	rig.playback.autoEnd = true
	o := rig.orchestrator(t, WithCompletionMarker(""), WithCompletionMarker("  "))

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StopRecording()

	waitFor(t, "next recording", func() bool {
		return rig.capture.openCount() == 2 && o.State() == StateRecording
	})
	if o.ReportEnabled() {
		t.Fatalf("expected the conversation to continue")
	}
}

func TestRetryPolicyRetriesFailedTurn(t *testing.T) {
	rig := newTestRig("ما هو اسمك؟")
	rig.transcriber.results = []stageResult[string]{
		{err: &backend.APIError{Endpoint: "/transcribe", StatusCode: 503}},
		{value: "مرحبا"},
	}
	o := rig.orchestrator(t, WithRetryPolicy(RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond}))

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StopRecording()

	waitFor(t, "reply playback", func() bool { return rig.playback.playCount() == 1 })
	if rig.transcriber.callCount() != 2 || rig.dialogue.callCount() != 1 {
		t.Fatalf("expected one retried transcription, got %d transcriptions and %d chats",
			rig.transcriber.callCount(), rig.dialogue.callCount())
	}
}

func TestTranscriptionErrorFieldReturnsToIdle(t *testing.T) {
	rig := newTestRig("unused")
	rig.transcriber.results = []stageResult[string]{{
		err: &backend.ServiceError{Endpoint: "/transcribe", StatusCode: 200, Message: "empty audio"},
	}}
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StopRecording()

	waitFor(t, "failure status", func() bool {
		return o.Status() == "⚠️ حدث خطأ: transcription failed: empty audio. حاول مرة أخرى."
	})
	if o.State() != StateIdle {
		t.Fatalf("expected idle, got %v", o.State())
	}
	if rig.dialogue.callCount() != 0 || rig.synthesizer.callCount() != 0 {
		t.Fatalf("expected chat and synthesis to be skipped")
	}

	time.Sleep(60 * time.Millisecond)
	if rig.capture.openCount() != 1 {
		t.Fatalf("expected no automatic retry, got %d captures", rig.capture.openCount())
	}

	turns := o.Conversation().Turns
	if len(turns) != 1 || !turns[0].Failed() {
		t.Fatalf("expected one failed turn, got %+v", turns)
	}
}

func TestManualStartAfterFailure(t *testing.T) {
	rig := newTestRig("ما هو اسمك؟")
	rig.transcriber.results = []stageResult[string]{
		{err: errors.New("boom")},
		{value: "مرحبا"},
	}
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StopRecording()
	waitFor(t, "idle after failure", func() bool {
		return o.State() == StateIdle && rig.transcriber.callCount() == 1
	})

	o.StartTurn()
	waitFor(t, "second recording", func() bool {
		return o.State() == StateRecording && rig.capture.openCount() == 2
	})
}

func TestPermissionDeniedReturnsToIdle(t *testing.T) {
	rig := newTestRig("")
	rig.capture.openErr = audio.NewDeviceError(audio.DevicePermissionDenied, errors.New("denied"))
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "permission message", func() bool {
		return o.Status() == DefaultMessages().MicrophonePermissionDenied
	})
	if o.State() != StateIdle {
		t.Fatalf("expected idle, got %v", o.State())
	}
	if rig.capture.streamCount() != 0 {
		t.Fatalf("expected no capture stream to be created")
	}
}

func TestMissingMicrophoneMessage(t *testing.T) {
	rig := newTestRig("")
	rig.capture.openErr = errors.New("device not found")
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "not found message", func() bool {
		return o.Status() == DefaultMessages().MicrophoneNotFound
	})
}

func TestRecorderSetupFailureReleasesStream(t *testing.T) {
	rig := newTestRig("")
	rig.capture.encoding = audio.EncodingInfo{}
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "setup failure message", func() bool {
		return o.Status() == DefaultMessages().RecorderSetupFailed
	})
	if o.State() != StateIdle {
		t.Fatalf("expected idle, got %v", o.State())
	}
	if closes := rig.capture.stream(0).closes.Load(); closes != 1 {
		t.Fatalf("expected stream to be released once, got %d", closes)
	}
}

func TestStartIsIgnoredWhileRecordingOrProcessing(t *testing.T) {
	rig := newTestRig("ما هو اسمك؟")
	rig.transcriber.block = make(chan struct{})
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StartTurn()
	o.StartTurn()

	o.StopRecording()
	waitFor(t, "processing", inState(o, StateProcessing))
	o.StartTurn()
	time.Sleep(20 * time.Millisecond)

	if o.State() != StateProcessing {
		t.Fatalf("expected processing, got %v", o.State())
	}
	if rig.capture.openCount() != 1 {
		t.Fatalf("expected a single capture session, got %d", rig.capture.openCount())
	}
	close(rig.transcriber.block)
}

func TestCompletedRecordingRunsPipelineOnce(t *testing.T) {
	rig := newTestRig("تم استلام جميع البيانات")
	rig.playback.autoEnd = true
	o := rig.orchestrator(t, WithRecordingWindow(5*time.Millisecond))

	o.Interact()
	o.StopRecording()
	waitFor(t, "awaiting report", inState(o, StateAwaitingReport))

	if calls := rig.transcriber.callCount(); calls != 1 {
		t.Fatalf("expected exactly one pipeline run, got %d", calls)
	}
}

func TestPlaybackFailureReturnsToIdle(t *testing.T) {
	rig := newTestRig("ما هو اسمك؟")
	rig.playback.playErr = errors.New("blocked by policy")
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StopRecording()

	waitFor(t, "playback failure", func() bool {
		return o.Status() == DefaultMessages().PlaybackFailed
	})
	if o.State() != StateIdle {
		t.Fatalf("expected idle, got %v", o.State())
	}

	time.Sleep(60 * time.Millisecond)
	if rig.capture.openCount() != 1 {
		t.Fatalf("expected no further recording, got %d captures", rig.capture.openCount())
	}
}

func TestStartWhileSpeakingDropsStalePlayback(t *testing.T) {
	rig := newTestRig("ما هو اسمك؟")
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StopRecording()
	waitFor(t, "speaking", inState(o, StateSpeaking))

	stops := rig.playback.stopCount()
	o.StartTurn()
	waitFor(t, "second recording", func() bool {
		return o.State() == StateRecording && rig.capture.openCount() == 2
	})
	if rig.playback.stopCount() <= stops {
		t.Fatalf("expected playback to be reset before recording")
	}

	rig.playback.end(0)
	time.Sleep(40 * time.Millisecond)
	if o.State() != StateRecording || rig.capture.openCount() != 2 {
		t.Fatalf("expected stale playback end to be ignored")
	}
}

func TestGenerateReport(t *testing.T) {
	rig := newTestRig("تم استلام جميع البيانات")
	rig.playback.autoEnd = true

	saved := make(chan string, 1)
	o := NewOrchestrator(
		WithCaptureDevice(rig.capture),
		WithPlaybackDevice(rig.playback),
		WithTranscriber(rig.transcriber),
		WithDialogue(rig.dialogue),
		WithSynthesizer(rig.synthesizer),
		WithReportService(rig.reports),
		WithReportSink(rig.sink),
		WithIdentity(fakeIdentity{id: "session-1"}),
		WithRecordingWindow(time.Hour),
		WithAutoStartAfter(0),
	)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Orchestrate(ctx, WithReportSavedCallback(func(path string) { saved <- path }))

	o.GenerateReport()
	time.Sleep(20 * time.Millisecond)
	if rig.sink.savedCount() != 0 {
		t.Fatalf("expected report action to be disabled before completion")
	}

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StopRecording()
	waitFor(t, "report action", o.ReportEnabled)

	o.GenerateReport()
	select {
	case path := <-saved:
		if path != "/tmp/report.docx" {
			t.Fatalf("unexpected report path %q", path)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for report")
	}

	waitFor(t, "report action re-enabled", o.ReportEnabled)
	if o.Status() != DefaultMessages().ReportSaved {
		t.Fatalf("expected saved status, got %q", o.Status())
	}
	rig.reports.mu.Lock()
	defer rig.reports.mu.Unlock()
	if rig.reports.sessionID != "session-1" {
		t.Fatalf("expected fields for session-1, got %q", rig.reports.sessionID)
	}
	if string(rig.reports.generated) != `{"name":"x"}` {
		t.Fatalf("expected fields to be passed through, got %s", rig.reports.generated)
	}
}

func TestGenerateReportFailureShowsMessage(t *testing.T) {
	rig := newTestRig("تم استلام جميع البيانات")
	rig.playback.autoEnd = true
	rig.reports.err = errors.New("backend down")
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.StopRecording()
	waitFor(t, "report action", o.ReportEnabled)

	o.GenerateReport()
	waitFor(t, "report failure", func() bool {
		return o.Status() == "⚠️ فشل إنشاء التقرير: failed to fetch session fields: backend down."
	})
	waitFor(t, "report action re-enabled", o.ReportEnabled)
	if rig.sink.savedCount() != 0 {
		t.Fatalf("expected nothing to be saved")
	}
}

func TestCloseReleasesActiveRecording(t *testing.T) {
	rig := newTestRig("")
	o := rig.orchestrator(t)

	o.Interact()
	waitFor(t, "recording", inState(o, StateRecording))
	o.Close()

	if closes := rig.capture.stream(0).closes.Load(); closes != 1 {
		t.Fatalf("expected microphone to be released on close, got %d", closes)
	}

	o.StartTurn()
	if rig.capture.openCount() != 1 {
		t.Fatalf("expected closed orchestrator to ignore start")
	}
}

func TestCloseBeforeOrchestrate(t *testing.T) {
	o := NewOrchestrator()
	o.Close()

	o.Orchestrate(context.Background())
	if !o.isClosed() {
		t.Fatalf("expected orchestrator to stay closed")
	}
}
