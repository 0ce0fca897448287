package orchestration

import (
	"context"
	"errors"

	"github.com/koscakluka/ema-voiceloop/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TurnResult is the outcome of one turn. Err is nil on success.
type TurnResult struct {
	Transcript string
	ReplyText  string
	ReplyAudio audio.Clip

	Err *TurnError
}

func (r TurnResult) Failed() bool { return r.Err != nil }

// turnPipeline runs transcribe, chat and synthesize strictly in sequence. It
// never plays audio, never touches conversation state and never retries.
type turnPipeline struct {
	transcriber Transcriber
	dialogue    Dialogue
	synthesizer Synthesizer
}

func (p *turnPipeline) Run(ctx context.Context, recording audio.Recording, sessionID string) TurnResult {
	return p.Resume(ctx, recording, sessionID, TurnResult{})
}

// Resume continues a failed turn at the stage that failed, keeping what the
// earlier stages produced. Any other prior result starts over.
func (p *turnPipeline) Resume(ctx context.Context, recording audio.Recording, sessionID string, prior TurnResult) (result TurnResult) {
	from := TurnErrorTranscription
	if prior.Failed() {
		from = prior.Err.Kind
		result = prior
		result.Err = nil
	}

	ctx, span := tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.Int("recording.bytes", len(recording.Data)),
		attribute.String("recording.media_type", recording.MediaType),
		attribute.Bool("turn.resumed", prior.Failed()),
	))
	defer func() {
		if result.Err != nil {
			span.SetAttributes(attribute.String("turn.failed_stage", string(result.Err.Kind)))
			span.RecordError(result.Err)
			span.SetStatus(codes.Error, result.Err.Error())
		}
		span.End()
	}()

	if from == TurnErrorTranscription {
		if p.transcriber == nil {
			result.Err = newTurnError(TurnErrorTranscription, errors.New("no transcriber configured"))
			return result
		}
		transcript, turnErr := runStage(ctx, TurnErrorTranscription, "transcribe", func(ctx context.Context) (string, error) {
			return p.transcriber.Transcribe(ctx, recording)
		})
		if turnErr != nil {
			result.Err = turnErr
			return result
		}
		result.Transcript = transcript
	}

	if from == TurnErrorTranscription || from == TurnErrorChat {
		if p.dialogue == nil {
			result.Err = newTurnError(TurnErrorChat, errors.New("no dialogue service configured"))
			return result
		}
		reply, turnErr := runStage(ctx, TurnErrorChat, "chat", func(ctx context.Context) (string, error) {
			return p.dialogue.Chat(ctx, sessionID, result.Transcript)
		})
		if turnErr != nil {
			result.Err = turnErr
			return result
		}
		result.ReplyText = reply
	}

	if p.synthesizer == nil {
		result.Err = newTurnError(TurnErrorSynthesis, errors.New("no synthesizer configured"))
		return result
	}
	clip, turnErr := runStage(ctx, TurnErrorSynthesis, "synthesize", func(ctx context.Context) (audio.Clip, error) {
		return p.synthesizer.Synthesize(ctx, result.ReplyText)
	})
	if turnErr != nil {
		result.Err = turnErr
		return result
	}
	result.ReplyAudio = clip
	return result
}

func runStage[T any](ctx context.Context, kind TurnErrorKind, name string, op func(context.Context) (T, error)) (T, *TurnError) {
	ctx, span := tracer.Start(ctx, name)
	defer span.End()

	value, err := op(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return value, newTurnError(kind, err)
	}
	return value, nil
}
