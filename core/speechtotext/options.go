package speechtotext

import (
	"errors"

	"github.com/koscakluka/ema-voiceloop/core/audio"
)

// ErrEmptyTranscript is returned when a recording contained no recognizable
// speech.
var ErrEmptyTranscript = errors.New("empty transcript")

type TranscriptionOptions struct {
	Language string
	Model    string

	// PartialTranscriptionCallback is called with every finalized segment as
	// it arrives, before the whole recording is transcribed.
	PartialTranscriptionCallback func(transcript string)

	// EncodingInfo describes recordings that are not WAV containers.
	EncodingInfo audio.EncodingInfo
}

type TranscriptionOption func(*TranscriptionOptions)

func WithLanguage(language string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if language != "" {
			o.Language = language
		}
	}
}

func WithModel(model string) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if model != "" {
			o.Model = model
		}
	}
}

func WithPartialTranscriptionCallback(callback func(transcript string)) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		o.PartialTranscriptionCallback = callback
	}
}

func WithEncodingInfo(encodingInfo audio.EncodingInfo) TranscriptionOption {
	return func(o *TranscriptionOptions) {
		if encodingInfo.IsZero() {
			return
		}
		o.EncodingInfo = encodingInfo
	}
}
