package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const wavHeaderSize = 44

var (
	ErrNotWAV           = errors.New("not a RIFF/WAVE container")
	ErrUnsupportedWAV   = errors.New("unsupported WAV encoding")
	ErrTruncatedWAVData = errors.New("truncated WAV data")
)

// EncodeWAV wraps raw little-endian PCM in a canonical 44 byte WAV header.
func EncodeWAV(pcm []byte, encoding EncodingInfo) []byte {
	channels := encoding.ChannelCount()
	bitsPerSample := 16
	audioFormat := uint16(1)
	switch encoding.Format {
	case EncodingALaw:
		bitsPerSample, audioFormat = 8, 6
	case EncodingMulaw:
		bitsPerSample, audioFormat = 8, 7
	}
	blockAlign := channels * bitsPerSample / 8
	byteRate := encoding.SampleRate * blockAlign

	wav := make([]byte, wavHeaderSize+len(pcm))
	copy(wav[0:4], "RIFF")
	binary.LittleEndian.PutUint32(wav[4:8], uint32(36+len(pcm)))
	copy(wav[8:12], "WAVE")

	copy(wav[12:16], "fmt ")
	binary.LittleEndian.PutUint32(wav[16:20], 16)
	binary.LittleEndian.PutUint16(wav[20:22], audioFormat)
	binary.LittleEndian.PutUint16(wav[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(wav[24:28], uint32(encoding.SampleRate))
	binary.LittleEndian.PutUint32(wav[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(wav[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(wav[34:36], uint16(bitsPerSample))

	copy(wav[36:40], "data")
	binary.LittleEndian.PutUint32(wav[40:44], uint32(len(pcm)))
	copy(wav[44:], pcm)

	return wav
}

// DecodeWAV walks the RIFF chunks of data and returns the sample payload with
// the encoding described by the fmt chunk. Chunks other than fmt and data are
// skipped.
func DecodeWAV(data []byte) ([]byte, EncodingInfo, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, EncodingInfo{}, ErrNotWAV
	}

	var encoding EncodingInfo
	fmtFound := false
	offset := 12
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || body+16 > len(data) {
				return nil, EncodingInfo{}, ErrTruncatedWAVData
			}
			audioFormat := binary.LittleEndian.Uint16(data[body : body+2])
			channels := int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate := int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample := binary.LittleEndian.Uint16(data[body+14 : body+16])

			switch {
			case audioFormat == 1 && bitsPerSample == 16:
				encoding.Format = EncodingLinear16
			case audioFormat == 6 && bitsPerSample == 8:
				encoding.Format = EncodingALaw
			case audioFormat == 7 && bitsPerSample == 8:
				encoding.Format = EncodingMulaw
			default:
				return nil, EncodingInfo{}, fmt.Errorf("%w: format %d with %d bits", ErrUnsupportedWAV, audioFormat, bitsPerSample)
			}
			encoding.SampleRate = sampleRate
			encoding.Channels = channels
			fmtFound = true

		case "data":
			if !fmtFound {
				return nil, EncodingInfo{}, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedWAV)
			}
			end := body + chunkSize
			// Streaming encoders write a placeholder size, so clamp instead of failing.
			if end > len(data) || chunkSize == 0 {
				end = len(data)
			}
			return data[body:end], encoding, nil
		}

		offset = body + chunkSize + chunkSize%2
	}

	return nil, EncodingInfo{}, ErrTruncatedWAVData
}

// DecodeClip returns the PCM payload of clip. WAV clips carry their own
// encoding and MP3 clips are decoded to stereo linear16. Anything else is
// treated as raw samples in fallback encoding.
func DecodeClip(clip Clip, fallback EncodingInfo) ([]byte, EncodingInfo, error) {
	pcm, encoding, err := DecodeWAV(clip.Data)
	if err == nil {
		return pcm, encoding, nil
	}
	if !errors.Is(err, ErrNotWAV) {
		return nil, EncodingInfo{}, err
	}
	if isMP3(clip) {
		return DecodeMP3(clip.Data)
	}

	switch clip.MediaType {
	case "", "audio/pcm", "audio/l16", "application/octet-stream":
		return clip.Data, fallback, nil
	}
	return nil, EncodingInfo{}, fmt.Errorf("%w: media type %q", ErrUnsupportedWAV, clip.MediaType)
}
