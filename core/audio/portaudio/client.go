package portaudio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-voiceloop/core/audio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-voiceloop/core/audio/portaudio"

var logger = otelslog.NewLogger(scopeName)

// Client is a blocking-IO PortAudio backend. Each recording and each clip
// gets its own default stream.
type Client struct {
	bufferSize int
	encoding   audio.EncodingInfo

	captureMu sync.Mutex
	capture   *captureStream

	playbackMu sync.Mutex
	playback   *playbackStream
}

func NewClient(bufferSize int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}

	return &Client{
		bufferSize: bufferSize,
		encoding:   audio.GetDefaultEncodingInfo(),
	}, nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}

func (c *Client) OpenCapture(ctx context.Context, onAudio func(chunk []byte)) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if c.capture != nil && !c.capture.isClosed() {
		return nil, audio.NewDeviceError(audio.DeviceOther, errors.New("capture already in progress"))
	}

	if _, err := portaudio.DefaultInputDevice(); err != nil {
		return nil, audio.NewDeviceError(audio.DeviceNotFound, err)
	}

	in := make([]int16, c.bufferSize*c.encoding.ChannelCount())
	stream, err := portaudio.OpenDefaultStream(c.encoding.ChannelCount(), 0, float64(c.encoding.SampleRate), c.bufferSize, in)
	if err != nil {
		return nil, audio.ClassifyDeviceError(fmt.Errorf("failed to open input stream: %w", err))
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, audio.ClassifyDeviceError(fmt.Errorf("failed to start input stream: %w", err))
	}

	capture := &captureStream{stream: stream, in: in, onAudio: onAudio, done: make(chan struct{})}
	go capture.readLoop()
	c.capture = capture
	return capture, nil
}

type captureStream struct {
	stream  *portaudio.Stream
	in      []int16
	onAudio func(chunk []byte)

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	closeOnce sync.Once
	closeErr  error
}

func (s *captureStream) readLoop() {
	defer close(s.done)
	chunk := make([]byte, len(s.in)*2)
	for {
		if s.isClosed() {
			return
		}
		if err := s.stream.Read(); err != nil {
			if s.isClosed() {
				return
			}
			// Overflows drop a buffer but the stream stays usable.
			if !errors.Is(err, portaudio.InputOverflowed) {
				logger.Warn("failed to read from input stream", "error", err)
				return
			}
		}

		for i, sample := range s.in {
			binary.LittleEndian.PutUint16(chunk[i*2:], uint16(sample))
		}

		s.mu.Lock()
		if !s.closed && s.onAudio != nil {
			s.onAudio(chunk)
		}
		s.mu.Unlock()
	}
}

func (s *captureStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *captureStream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.onAudio = nil
		s.mu.Unlock()

		if err := s.stream.Stop(); err != nil {
			s.closeErr = fmt.Errorf("failed to stop input stream: %w", err)
		}
		<-s.done
		if err := s.stream.Close(); err != nil && s.closeErr == nil {
			s.closeErr = fmt.Errorf("failed to close input stream: %w", err)
		}
	})
	return s.closeErr
}

func (c *Client) Play(ctx context.Context, clip audio.Clip, onEnded func()) error {
	if err := ctx.Err(); err != nil {
		return &audio.PlaybackError{Err: err}
	}

	pcm, encoding, err := audio.DecodeClip(clip, c.encoding)
	if err != nil {
		return &audio.PlaybackError{Err: err}
	}
	if encoding.Format != audio.EncodingLinear16 {
		return &audio.PlaybackError{Err: fmt.Errorf("unsupported sample format %q", encoding.Format.Name())}
	}

	if err := c.StopPlayback(); err != nil {
		logger.Warn("failed to stop previous playback", "error", err)
	}

	channels := encoding.ChannelCount()
	out := make([]int16, c.bufferSize*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(encoding.SampleRate), c.bufferSize, out)
	if err != nil {
		return &audio.PlaybackError{Err: fmt.Errorf("failed to open output stream: %w", err)}
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return &audio.PlaybackError{Err: fmt.Errorf("failed to start output stream: %w", err)}
	}

	playback := &playbackStream{stream: stream, out: out, pcm: pcm, stop: make(chan struct{}), done: make(chan struct{})}
	c.playbackMu.Lock()
	c.playback = playback
	c.playbackMu.Unlock()

	go func() {
		finished := playback.writeLoop()
		close(playback.done)
		if !finished {
			return
		}
		released := false
		playback.closeOnce.Do(func() {
			released = true
			playback.release()
		})
		if released && onEnded != nil {
			onEnded()
		}
	}()
	return nil
}

func (c *Client) StopPlayback() error {
	c.playbackMu.Lock()
	playback := c.playback
	c.playback = nil
	c.playbackMu.Unlock()

	if playback == nil {
		return nil
	}
	return playback.Close()
}

type playbackStream struct {
	stream *portaudio.Stream
	out    []int16
	pcm    []byte

	stop chan struct{}
	done chan struct{}

	closeOnce sync.Once
}

// writeLoop reports false only when playback was stopped. A failing write ends
// the clip early.
func (p *playbackStream) writeLoop() bool {
	frame := len(p.out) * 2
	for offset := 0; offset < len(p.pcm); offset += frame {
		select {
		case <-p.stop:
			return false
		default:
		}

		chunk := p.pcm[offset:min(offset+frame, len(p.pcm))]
		for i := range p.out {
			if i*2+1 < len(chunk) {
				p.out[i] = int16(binary.LittleEndian.Uint16(chunk[i*2:]))
			} else {
				p.out[i] = 0
			}
		}
		if err := p.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			logger.Warn("failed to write to output stream", "error", err)
			return true
		}
	}

	return true
}

func (p *playbackStream) release() {
	_ = p.stream.Stop()
	_ = p.stream.Close()
}

func (p *playbackStream) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.stop)
		if abortErr := p.stream.Abort(); abortErr != nil {
			err = fmt.Errorf("failed to abort output stream: %w", abortErr)
		}
		<-p.done
		_ = p.stream.Close()
	})
	return err
}

// Close releases any open stream and terminates PortAudio.
func (c *Client) Close() {
	c.captureMu.Lock()
	capture := c.capture
	c.capture = nil
	c.captureMu.Unlock()
	if capture != nil {
		_ = capture.Close()
	}
	_ = c.StopPlayback()
	_ = portaudio.Terminate()
}
