package orchestration

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/koscakluka/ema-voiceloop/core/audio"
	"github.com/koscakluka/ema-voiceloop/core/backend"
)

func runWithRetry(pipeline *turnPipeline, policy RetryPolicy) TurnResult {
	return retryTurn(context.Background(), policy, logger, func(prior TurnResult) TurnResult {
		return pipeline.Resume(context.Background(), testRecording, "id", prior)
	})
}

func TestTurnIsNotRetriedByDefault(t *testing.T) {
	transcriber := &fakeTranscriber{results: []stageResult[string]{
		{err: &backend.APIError{Endpoint: "/transcribe", StatusCode: http.StatusServiceUnavailable}},
	}}

	result := runWithRetry(newTestPipeline(transcriber, &fakeDialogue{}, &fakeSynthesizer{}), NoRetry())
	if !result.Failed() {
		t.Fatalf("expected failure")
	}
	if transcriber.callCount() != 1 {
		t.Fatalf("expected a single attempt, got %d", transcriber.callCount())
	}
}

func TestTurnRetriesRetryableErrors(t *testing.T) {
	transcriber := &fakeTranscriber{results: []stageResult[string]{
		{err: &backend.APIError{Endpoint: "/transcribe", StatusCode: http.StatusServiceUnavailable}},
		{err: &backend.APIError{Endpoint: "/transcribe", StatusCode: http.StatusTooManyRequests}},
		{value: "مرحبا"},
	}}
	pipeline := newTestPipeline(transcriber, &fakeDialogue{results: []stageResult[string]{{value: "reply"}}}, &fakeSynthesizer{})

	result := runWithRetry(pipeline, RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2})
	if result.Failed() {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if transcriber.callCount() != 3 {
		t.Fatalf("expected three attempts, got %d", transcriber.callCount())
	}
}

func TestTurnRetryDoesNotRepeatFinishedStages(t *testing.T) {
	transcriber := &fakeTranscriber{results: []stageResult[string]{{value: "x"}}}
	dialogue := &fakeDialogue{results: []stageResult[string]{{value: "y"}}}
	synthesizer := &fakeSynthesizer{results: []stageResult[audio.Clip]{
		{err: &backend.APIError{Endpoint: "/speak", StatusCode: http.StatusBadGateway}},
		{value: audio.Clip{Data: []byte{1, 2}, MediaType: audio.MediaTypeWAV}},
	}}
	pipeline := newTestPipeline(transcriber, dialogue, synthesizer)

	result := runWithRetry(pipeline, RetryPolicy{MaxAttempts: 3, InitialInterval: time.Millisecond})
	if result.Failed() {
		t.Fatalf("unexpected failure: %v", result.Err)
	}
	if transcriber.callCount() != 1 || dialogue.callCount() != 1 || synthesizer.callCount() != 2 {
		t.Fatalf("expected only synthesis to repeat, got %d/%d/%d calls",
			transcriber.callCount(), dialogue.callCount(), synthesizer.callCount())
	}
	if result.Transcript != "x" || result.ReplyText != "y" {
		t.Fatalf("expected earlier stage results to survive, got %+v", result)
	}
}

func TestTurnNeverRetriesErrorFields(t *testing.T) {
	dialogue := &fakeDialogue{results: []stageResult[string]{
		{err: &backend.ServiceError{Endpoint: "/chat", StatusCode: http.StatusOK, Message: "missing user"}},
	}}
	pipeline := newTestPipeline(&fakeTranscriber{results: []stageResult[string]{{value: "x"}}}, dialogue, &fakeSynthesizer{})

	result := runWithRetry(pipeline, RetryPolicy{MaxAttempts: 5, InitialInterval: time.Millisecond})
	if !result.Failed() || result.Err.Kind != TurnErrorChat {
		t.Fatalf("expected chat failure, got %+v", result)
	}
	if result.Err.Message != "missing user" {
		t.Fatalf("expected service message, got %q", result.Err.Message)
	}
	if dialogue.callCount() != 1 {
		t.Fatalf("expected a single attempt, got %d", dialogue.callCount())
	}
}

func TestTurnRetryGivesUpAfterMaxAttempts(t *testing.T) {
	synthesizer := &fakeSynthesizer{results: []stageResult[audio.Clip]{
		{err: &backend.APIError{Endpoint: "/speak", StatusCode: http.StatusInternalServerError}},
	}}
	pipeline := newTestPipeline(
		&fakeTranscriber{results: []stageResult[string]{{value: "x"}}},
		&fakeDialogue{results: []stageResult[string]{{value: "y"}}},
		synthesizer,
	)

	result := runWithRetry(pipeline, RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond})
	if !result.Failed() || !errors.Is(result.Err, ErrSynthesis) {
		t.Fatalf("expected synthesis failure, got %+v", result)
	}
	if synthesizer.callCount() != 2 {
		t.Fatalf("expected two attempts, got %d", synthesizer.callCount())
	}
}
