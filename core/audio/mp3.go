package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

var ErrDecodeMP3 = errors.New("failed to decode MP3")

// DecodeMP3 decodes an MP3 stream to 16 bit little-endian stereo PCM.
func DecodeMP3(data []byte) ([]byte, EncodingInfo, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, EncodingInfo{}, fmt.Errorf("%w: %v", ErrDecodeMP3, err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, EncodingInfo{}, fmt.Errorf("%w: %v", ErrDecodeMP3, err)
	}
	return pcm, EncodingInfo{SampleRate: dec.SampleRate(), Format: EncodingLinear16, Channels: 2}, nil
}

// isMP3 trusts the media type and otherwise only an ID3 tag, since raw PCM
// can start with bytes that look like a frame sync.
func isMP3(clip Clip) bool {
	switch clip.MediaType {
	case MediaTypeMPEG, "audio/mp3", "audio/mpeg3":
		return true
	case "", "application/octet-stream":
		return bytes.HasPrefix(clip.Data, []byte("ID3"))
	}
	return false
}
