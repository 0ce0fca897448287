package deepgram

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/koscakluka/ema-voiceloop/core/audio"
)

var (
	errUnsupportedSampleRate = errors.New("unsupported sample rate")
	errUnsupportedEncoding   = errors.New("unsupported encoding")
)

// listenEncoding is the raw audio description Deepgram expects in the listen
// query string.
type listenEncoding struct {
	name       string
	sampleRate int
	channels   int
}

func (e listenEncoding) apply(query url.Values) {
	query.Set("encoding", e.name)
	query.Set("sample_rate", strconv.Itoa(e.sampleRate))
	query.Set("channels", strconv.Itoa(e.channels))
}

func convertEncoding(encoding audio.EncodingInfo) (listenEncoding, error) {
	converted := listenEncoding{channels: encoding.ChannelCount()}
	switch encoding.SampleRate {
	case 8000, 16000, 24000, 32000, 48000:
		converted.sampleRate = encoding.SampleRate
	default:
		return listenEncoding{}, fmt.Errorf("%w: %d", errUnsupportedSampleRate, encoding.SampleRate)
	}

	switch encoding.Format {
	case audio.EncodingLinear16:
		converted.name = "linear16"
	case audio.EncodingALaw, audio.EncodingMulaw:
		// Companded telephony audio is only accepted at 8kHz.
		if converted.sampleRate != 8000 {
			return listenEncoding{}, fmt.Errorf("%w: %s at %d", errUnsupportedSampleRate, encoding.Format.Name(), converted.sampleRate)
		}
		converted.name = encoding.Format.Name()
	default:
		return listenEncoding{}, fmt.Errorf("%w: %q", errUnsupportedEncoding, encoding.Format.Name())
	}

	return converted, nil
}
