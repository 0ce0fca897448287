package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-voiceloop/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const orchestratorEventQueueCapacity = 16

var (
	errNoReportService   = errors.New("no report service configured")
	errNoReportSink      = errors.New("no report destination configured")
	errNoIdentity        = errors.New("no session identity configured")
	errNothingToGenerate = errors.New("generated report is empty")
)

// Orchestrator runs the voice conversation: record a turn, hand it to the
// pipeline, play the reply and decide whether another turn follows.
//
// All conversation state is owned by a single event loop goroutine. Timers,
// pipeline results, playback completion and user actions reach it as events.
type Orchestrator struct {
	pipeline      turnPipeline
	retry         RetryPolicy
	captureDevice audio.CaptureDevice
	playback      *playbackController
	reports       ReportService
	reportSink    ReportSink
	identity      IdentityProvider

	recordingWindow  time.Duration
	autoStartAfter   time.Duration
	turnPause        time.Duration
	completionMarker string
	messages         Messages
	logger           *slog.Logger

	trigger *startTrigger
	history history

	// Owned by the event loop.
	capture            *audioCaptureSession
	captureGeneration  uint64
	activeTurn         TurnRecord
	reply              string
	playbackGeneration uint64
	stopPlaybackWait   context.CancelFunc
	pauseGeneration    uint64
	pauseTimer         *time.Timer
	reportRunning      bool

	mu   sync.RWMutex
	view orchestratorView

	orchestrateOptions OrchestrateOptions
	baseContext        context.Context

	queue     chan orchestratorEvent
	closeCh   chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
	started   atomic.Bool
}

type orchestratorView struct {
	state         ConversationState
	status        string
	reportEnabled bool
	sessionID     string
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		retry:            NoRetry(),
		playback:         newPlaybackController(nil),
		recordingWindow:  DefaultRecordingWindow,
		autoStartAfter:   DefaultAutoStartAfter,
		turnPause:        DefaultTurnPause,
		completionMarker: DefaultCompletionMarker,
		messages:         DefaultMessages(),
		logger:           logger,
		baseContext:      context.Background(),
		queue:            make(chan orchestratorEvent, orchestratorEventQueueCapacity),
		closeCh:          make(chan struct{}),
		done:             make(chan struct{}),
	}
	o.trigger = newStartTrigger(func(source startSource) {
		o.post(startRequested{source: source})
	})

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Orchestrate starts the conversation loop. The first recording starts on
// the first Interact call or, failing that, once the auto start grace period
// is over.
//
// ctx is the base context of every remote call; cancelling it closes the
// orchestrator. Callbacks run on the event loop and must not block.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) {
	if o.isClosed() {
		o.logger.Warn("orchestrator already closed, skipping Orchestrate")
		return
	}

	started := false
	o.startOnce.Do(func() {
		started = true

		o.orchestrateOptions = OrchestrateOptions{}
		for _, opt := range opts {
			opt(&o.orchestrateOptions)
		}
		o.baseContext = ctx

		if sessionID, err := o.sessionID(); err != nil {
			o.logger.Warn("session identity unavailable", "error", err)
		} else {
			o.mu.Lock()
			o.view.sessionID = sessionID
			o.mu.Unlock()
		}

		o.setStatus(o.messages.Welcome)

		o.started.Store(true)
		go o.run()
		go func() {
			select {
			case <-ctx.Done():
				o.Close()
			case <-o.closeCh:
			}
		}()

		o.trigger.arm(o.autoStartAfter)
	})

	if !started {
		o.logger.Warn("orchestrator already running, skipping Orchestrate")
	}
}

// Interact reports user activity. Only the first interaction starts a
// recording; it also disarms the auto start timer.
func (o *Orchestrator) Interact() {
	o.trigger.interact()
}

// StartTurn starts a new recording unless a turn is already being recorded
// or processed. Starting while a reply is playing cuts the reply short.
func (o *Orchestrator) StartTurn() {
	if o.trigger.trigger(startSourceUser) {
		return
	}
	o.post(startRequested{source: startSourceUser})
}

// StopRecording ends the current recording before its window is over.
func (o *Orchestrator) StopRecording() {
	o.post(stopRequested{})
}

// GenerateReport runs the report action. It does nothing unless the action
// is enabled.
func (o *Orchestrator) GenerateReport() {
	o.post(reportRequested{})
}

func (o *Orchestrator) State() ConversationState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view.state
}

func (o *Orchestrator) Status() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view.status
}

func (o *Orchestrator) ReportEnabled() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view.reportEnabled
}

func (o *Orchestrator) Conversation() ConversationV1 {
	o.mu.RLock()
	sessionID, state := o.view.sessionID, o.view.state
	o.mu.RUnlock()
	return o.history.snapshot(sessionID, state)
}

// Close stops the loop and releases the microphone and the speaker. It
// waits for the loop to exit; an in-flight remote call finishes in the
// background and its result is dropped.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.trigger.disarm()
		close(o.closeCh)
	})

	if o.started.Load() {
		<-o.done
	}
}

func (o *Orchestrator) isClosed() bool {
	select {
	case <-o.closeCh:
		return true
	default:
		return false
	}
}

// post hands ev to the event loop. It must never be called from the loop
// itself.
func (o *Orchestrator) post(ev orchestratorEvent) bool {
	if o.isClosed() {
		return false
	}

	select {
	case <-o.closeCh:
		return false
	case o.queue <- ev:
		return true
	}
}

func (o *Orchestrator) run() {
	defer close(o.done)
	defer o.release()

	for {
		select {
		case <-o.closeCh:
			return
		case ev := <-o.queue:
			if o.isClosed() {
				return
			}
			o.handle(ev)
		}
	}
}

func (o *Orchestrator) release() {
	if o.capture != nil {
		o.capture.release()
		o.capture = nil
	}
	o.cancelPause()
	o.resetPlayback()
}

type orchestratorEvent interface{ isOrchestratorEvent() }

type startRequested struct{ source startSource }
type stopRequested struct{}
type windowElapsed struct{ generation uint64 }
type turnFinished struct {
	generation uint64
	record     TurnRecord
	result     TurnResult
}
type playbackEnded struct{ generation uint64 }
type pauseElapsed struct{ generation uint64 }
type reportRequested struct{}
type reportFinished struct {
	path string
	err  error
}

func (startRequested) isOrchestratorEvent()  {}
func (stopRequested) isOrchestratorEvent()   {}
func (windowElapsed) isOrchestratorEvent()   {}
func (turnFinished) isOrchestratorEvent()    {}
func (playbackEnded) isOrchestratorEvent()   {}
func (pauseElapsed) isOrchestratorEvent()    {}
func (reportRequested) isOrchestratorEvent() {}
func (reportFinished) isOrchestratorEvent()  {}

func (o *Orchestrator) handle(ev orchestratorEvent) {
	switch ev := ev.(type) {
	case startRequested:
		o.startRecording(ev.source)
	case stopRequested:
		o.stopRecording(o.captureGeneration)
	case windowElapsed:
		o.stopRecording(ev.generation)
	case turnFinished:
		o.finishProcessing(ev)
	case playbackEnded:
		o.finishSpeaking(ev.generation)
	case pauseElapsed:
		if ev.generation == o.pauseGeneration {
			o.startRecording(startSourcePause)
		}
	case reportRequested:
		o.startReport()
	case reportFinished:
		o.finishReport(ev.path, ev.err)
	}
}

func (o *Orchestrator) transition(t transition) bool {
	o.mu.Lock()
	from := o.view.state
	to, ok := nextState(from, t)
	if ok {
		o.view.state = to
	}
	o.mu.Unlock()

	if !ok {
		o.logger.Debug("transition refused", "state", from, "transition", t)
		return false
	}

	o.logger.Debug("state transition", "from", from, "to", to, "transition", t)
	if from != to && o.orchestrateOptions.onStateChanged != nil {
		o.orchestrateOptions.onStateChanged(to)
	}
	return true
}

func (o *Orchestrator) currentState() ConversationState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.view.state
}

func (o *Orchestrator) setStatus(status string) {
	o.mu.Lock()
	o.view.status = status
	o.mu.Unlock()

	if o.orchestrateOptions.onStatus != nil {
		o.orchestrateOptions.onStatus(status)
	}
}

func (o *Orchestrator) setReportEnabled(enabled bool) {
	o.mu.Lock()
	changed := o.view.reportEnabled != enabled
	o.view.reportEnabled = enabled
	o.mu.Unlock()

	if changed && o.orchestrateOptions.onReportEnabled != nil {
		o.orchestrateOptions.onReportEnabled(enabled)
	}
}

func (o *Orchestrator) startRecording(source startSource) {
	wasSpeaking := o.currentState() == StateSpeaking
	if !o.transition(transitionStart) {
		o.logger.Debug("start request ignored", "source", source)
		return
	}

	if wasSpeaking {
		o.completeTurn("")
	}
	o.cancelPause()
	o.resetPlayback()
	o.setReportEnabled(false)

	o.captureGeneration++
	generation := o.captureGeneration
	session, err := beginCapture(o.baseContext, o.captureDevice, o.recordingWindow, func() {
		o.post(windowElapsed{generation: generation})
	})
	if err != nil {
		o.transition(transitionCaptureFailed)
		o.setStatus(o.captureFailureMessage(err))
		turnFailures.Add(o.baseContext, 1, metric.WithAttributes(attribute.String("stage", "capture")))
		return
	}

	o.capture = session
	o.logger.Debug("recording started", "source", source)
	o.setStatus(o.messages.Recording)
}

func (o *Orchestrator) captureFailureMessage(err error) string {
	var deviceErr *audio.DeviceError
	if errors.As(err, &deviceErr) {
		o.logger.Warn("microphone unavailable", "kind", deviceErr.Kind, "error", err)
		switch deviceErr.Kind {
		case audio.DeviceNotFound:
			return o.messages.MicrophoneNotFound
		case audio.DevicePermissionDenied:
			return o.messages.MicrophonePermissionDenied
		default:
			return o.messages.MicrophoneUnavailable
		}
	}

	o.logger.Warn("recorder setup failed", "error", err)
	return o.messages.RecorderSetupFailed
}

func (o *Orchestrator) stopRecording(generation uint64) {
	if o.capture == nil || generation != o.captureGeneration {
		return
	}

	session := o.capture
	o.capture = nil
	recording, ok := session.Stop()
	if !ok || !o.transition(transitionRecordingStopped) {
		return
	}
	o.setStatus(o.messages.Processing)

	if o.orchestrateOptions.onRecording != nil {
		o.orchestrateOptions.onRecording(recording)
	}

	turnsStarted.Add(o.baseContext, 1)
	record := o.history.begin(time.Now())
	go o.runTurn(generation, record, recording)
}

// runTurn runs off the event loop and reports back through post.
func (o *Orchestrator) runTurn(generation uint64, record TurnRecord, recording audio.Recording) {
	var result TurnResult
	if sessionID, err := o.sessionID(); err != nil {
		result = TurnResult{Err: newTurnError(TurnErrorChat, fmt.Errorf("session identity: %w", err))}
	} else {
		result = retryTurn(o.baseContext, o.retry, o.logger, func(prior TurnResult) TurnResult {
			return o.pipeline.Resume(o.baseContext, recording, sessionID, prior)
		})
	}
	o.post(turnFinished{generation: generation, record: record, result: result})
}

func (o *Orchestrator) finishProcessing(ev turnFinished) {
	if ev.generation != o.captureGeneration || o.currentState() != StateProcessing {
		o.logger.Debug("dropping stale turn result", "turn", ev.record.ID)
		return
	}

	record := ev.record
	record.Transcript = ev.result.Transcript
	record.Reply = ev.result.ReplyText

	if ev.result.Failed() {
		o.transition(transitionTurnFailed)
		o.logger.Warn("turn failed", "stage", ev.result.Err.Kind, "error", ev.result.Err)
		turnFailures.Add(o.baseContext, 1, metric.WithAttributes(attribute.String("stage", string(ev.result.Err.Kind))))
		record.Error = ev.result.Err.Error()
		o.appendTurn(record)
		o.setStatus(o.messages.turnFailed(ev.result.Err))
		return
	}

	o.transition(transitionTurnSucceeded)
	o.activeTurn = record
	o.reply = ev.result.ReplyText

	o.playbackGeneration++
	generation := o.playbackGeneration
	done, err := o.playback.Play(o.baseContext, ev.result.ReplyAudio)
	if err != nil {
		o.transition(transitionPlaybackFailed)
		o.logger.Warn("reply playback failed", "error", err)
		turnFailures.Add(o.baseContext, 1, metric.WithAttributes(attribute.String("stage", "playback")))
		o.completeTurn(err.Error())
		o.setStatus(o.messages.PlaybackFailed)
		return
	}

	o.setStatus(o.reply)

	waitCtx, cancel := context.WithCancel(o.baseContext)
	o.stopPlaybackWait = cancel
	go func() {
		select {
		case <-done:
			o.post(playbackEnded{generation: generation})
		case <-waitCtx.Done():
		}
	}()
}

func (o *Orchestrator) finishSpeaking(generation uint64) {
	if generation != o.playbackGeneration || o.currentState() != StateSpeaking {
		return
	}
	if o.stopPlaybackWait != nil {
		o.stopPlaybackWait()
		o.stopPlaybackWait = nil
	}
	o.completeTurn("")

	if strings.Contains(o.reply, o.completionMarker) {
		o.transition(transitionCompletionReached)
		o.setStatus(o.messages.readyForReport(o.reply))
		o.setReportEnabled(true)
		return
	}

	o.transition(transitionPlaybackEnded)
	o.schedulePause()
}

func (o *Orchestrator) schedulePause() {
	o.cancelPause()
	if o.turnPause <= 0 {
		o.startRecording(startSourcePause)
		return
	}

	generation := o.pauseGeneration
	o.pauseTimer = time.AfterFunc(o.turnPause, func() {
		o.post(pauseElapsed{generation: generation})
	})
}

func (o *Orchestrator) cancelPause() {
	o.pauseGeneration++
	if o.pauseTimer != nil {
		o.pauseTimer.Stop()
		o.pauseTimer = nil
	}
}

func (o *Orchestrator) resetPlayback() {
	o.playbackGeneration++
	if o.stopPlaybackWait != nil {
		o.stopPlaybackWait()
		o.stopPlaybackWait = nil
	}
	o.playback.Reset()
}

// completeTurn records the turn that was playing, if any.
func (o *Orchestrator) completeTurn(failure string) {
	if o.activeTurn.ID == "" {
		return
	}
	record := o.activeTurn
	record.Error = failure
	o.activeTurn = TurnRecord{}
	o.appendTurn(record)
}

func (o *Orchestrator) appendTurn(record TurnRecord) {
	record.EndedAt = time.Now()
	o.history.append(record)
	if o.orchestrateOptions.onTurnCompleted != nil {
		o.orchestrateOptions.onTurnCompleted(record)
	}
}

func (o *Orchestrator) startReport() {
	if o.reportRunning || !o.ReportEnabled() {
		return
	}
	o.reportRunning = true
	o.setReportEnabled(false)
	o.setStatus(o.messages.ReportGenerating)

	go func() {
		path, err := o.generateReport(o.baseContext)
		o.post(reportFinished{path: path, err: err})
	}()
}

func (o *Orchestrator) finishReport(path string, err error) {
	o.reportRunning = false
	if err != nil {
		o.logger.Warn("report generation failed", "error", err)
		o.setStatus(o.messages.reportFailed(err))
	} else {
		reportsGenerated.Add(o.baseContext, 1)
		o.setStatus(o.messages.ReportSaved)
		if o.orchestrateOptions.onReportSaved != nil {
			o.orchestrateOptions.onReportSaved(path)
		}
	}
	o.setReportEnabled(o.currentState() == StateAwaitingReport)
}

func (o *Orchestrator) generateReport(ctx context.Context) (path string, err error) {
	ctx, span := tracer.Start(ctx, "generate report")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return BuildReport(ctx, o.identity, o.reports, o.reportSink)
}

// BuildReport fetches the fields collected for the session, turns them into
// a document and saves it.
func BuildReport(ctx context.Context, identity IdentityProvider, service ReportService, sink ReportSink) (string, error) {
	switch {
	case identity == nil:
		return "", errNoIdentity
	case service == nil:
		return "", errNoReportService
	case sink == nil:
		return "", errNoReportSink
	}

	sessionID, err := identity.ID()
	if err != nil {
		return "", fmt.Errorf("failed to resolve session identity: %w", err)
	}

	fields, err := service.SessionFields(ctx, sessionID)
	if err != nil {
		return "", fmt.Errorf("failed to fetch session fields: %w", err)
	}

	document, err := service.GenerateReport(ctx, fields)
	if err != nil {
		return "", fmt.Errorf("failed to generate report: %w", err)
	}
	if len(document) == 0 {
		return "", errNothingToGenerate
	}

	path, err := sink.Save(document)
	if err != nil {
		return "", fmt.Errorf("failed to save report: %w", err)
	}
	return path, nil
}

func (o *Orchestrator) sessionID() (string, error) {
	if o.identity == nil {
		return "", errNoIdentity
	}
	return o.identity.ID()
}
