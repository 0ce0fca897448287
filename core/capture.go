package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/koscakluka/ema-voiceloop/core/audio"
)

// audioCaptureSession owns the microphone for exactly one recording.
type audioCaptureSession struct {
	mu       sync.Mutex
	stream   audio.CaptureStream
	encoding audio.EncodingInfo
	chunks   [][]byte
	stopped  bool
	timer    *time.Timer
}

// beginCapture acquires the microphone and starts collecting chunks.
// onWindowElapsed runs once the recording window is over unless Stop was
// called first. A failure to acquire the device is always an
// *audio.DeviceError.
func beginCapture(ctx context.Context, device audio.CaptureDevice, window time.Duration, onWindowElapsed func()) (*audioCaptureSession, error) {
	if device == nil {
		return nil, audio.NewDeviceError(audio.DeviceNotFound, fmt.Errorf("no capture device configured"))
	}

	session := &audioCaptureSession{encoding: device.EncodingInfo()}
	stream, err := device.OpenCapture(ctx, session.collect)
	if err != nil {
		return nil, audio.ClassifyDeviceError(err)
	}

	if session.encoding.IsZero() || session.encoding.BytesPerFrame() <= 0 {
		if closeErr := stream.Close(); closeErr != nil {
			logger.Warn("failed to release capture stream after setup failure", "error", closeErr)
		}
		return nil, fmt.Errorf("%w: unusable capture encoding %+v", errRecorderSetup, session.encoding)
	}

	session.mu.Lock()
	session.stream = stream
	if window > 0 && onWindowElapsed != nil {
		session.timer = time.AfterFunc(window, onWindowElapsed)
	}
	session.mu.Unlock()
	return session, nil
}

func (s *audioCaptureSession) collect(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
}

// Stop releases the microphone and returns everything captured since begin.
// Only the first call produces a recording; later calls report false.
func (s *audioCaptureSession) Stop() (audio.Recording, bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return audio.Recording{}, false
	}
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
	}
	stream := s.stream
	chunks := s.chunks
	s.chunks = nil
	s.mu.Unlock()

	// The stream is released before the recording is built.
	if stream != nil {
		if err := stream.Close(); err != nil {
			logger.Warn("failed to release capture stream", "error", err)
		}
	}

	size := 0
	for _, chunk := range chunks {
		size += len(chunk)
	}
	pcm := make([]byte, 0, size)
	for _, chunk := range chunks {
		pcm = append(pcm, chunk...)
	}

	return audio.Recording{
		Data:      audio.EncodeWAV(pcm, s.encoding),
		MediaType: audio.MediaTypeWAV,
	}, true
}

// release drops the microphone without producing a recording. It is a no-op
// after Stop.
func (s *audioCaptureSession) release() {
	s.Stop()
}
