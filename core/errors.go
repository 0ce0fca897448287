package orchestration

import (
	"errors"
	"fmt"
)

var (
	ErrTranscription = errors.New("transcription failed")
	ErrChat          = errors.New("chat failed")
	ErrSynthesis     = errors.New("synthesis failed")

	errRecorderSetup = errors.New("recorder setup failed")
)

type TurnErrorKind string

const (
	TurnErrorTranscription TurnErrorKind = "transcription"
	TurnErrorChat          TurnErrorKind = "chat"
	TurnErrorSynthesis     TurnErrorKind = "synthesis"
)

func (k TurnErrorKind) sentinel() error {
	switch k {
	case TurnErrorTranscription:
		return ErrTranscription
	case TurnErrorChat:
		return ErrChat
	case TurnErrorSynthesis:
		return ErrSynthesis
	}
	return nil
}

// TurnError is the failure of one pipeline stage. Message is what the remote
// service said went wrong, or the local error text when it never answered.
type TurnError struct {
	Kind    TurnErrorKind
	Message string
	Err     error
}

func (e *TurnError) Error() string {
	if sentinel := e.Kind.sentinel(); sentinel != nil {
		return fmt.Sprintf("%v: %s", sentinel, e.Message)
	}
	return e.Message
}

func (e *TurnError) Unwrap() error { return e.Err }

// Is lets errors.Is match a TurnError against ErrTranscription, ErrChat and
// ErrSynthesis.
func (e *TurnError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

func newTurnError(kind TurnErrorKind, err error) *TurnError {
	message := err.Error()
	var messenger interface{ ServiceMessage() string }
	if errors.As(err, &messenger) && messenger.ServiceMessage() != "" {
		message = messenger.ServiceMessage()
	}
	return &TurnError{Kind: kind, Message: message, Err: err}
}

// isRetryable reports whether err declares itself worth another attempt.
func isRetryable(err error) bool {
	var retryable interface{ Retryable() bool }
	return errors.As(err, &retryable) && retryable.Retryable()
}
