package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voiceloop/core/audio"
)

type captureClient struct {
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo

	mu     sync.Mutex
	active *captureStream
}

func (c *captureClient) init(audioContext *malgo.AllocatedContext, encoding audio.EncodingInfo) {
	c.audioContext = audioContext
	c.encoding = encoding
}

// Open initializes and starts a capture device that lives until the returned
// stream is closed. Only one stream can be open at a time.
func (c *captureClient) Open(ctx context.Context, onAudio func(chunk []byte)) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil && !c.active.isClosed() {
		return nil, audio.NewDeviceError(audio.DeviceOther, errors.New("capture already in progress"))
	}

	devices, err := c.audioContext.Devices(malgo.Capture)
	if err != nil {
		return nil, audio.ClassifyDeviceError(fmt.Errorf("failed to enumerate capture devices: %w", err))
	} else if len(devices) == 0 {
		return nil, audio.NewDeviceError(audio.DeviceNotFound, errors.New("no capture device available"))
	}

	format, err := formatFor(c.encoding)
	if err != nil {
		return nil, audio.NewDeviceError(audio.DeviceOther, err)
	}
	channels := c.encoding.ChannelCount()
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Capture)
	config.SampleRate = uint32(c.encoding.SampleRate)
	config.Capture.Format = format
	config.Capture.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PerformanceProfile = malgo.LowLatency
	config.PeriodSizeInFrames = 480
	config.Periods = 3

	stream := &captureStream{onAudio: onAudio}
	device, err := malgo.InitDevice(c.audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, frameCount uint32) {
			n := int(frameCount) * bytesPerFrame
			if len(pInput) < n || n == 0 {
				return
			}
			stream.deliver(pInput[:n])
		},
	})
	if err != nil {
		return nil, audio.ClassifyDeviceError(fmt.Errorf("failed to initialize capture device: %w", err))
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, audio.ClassifyDeviceError(fmt.Errorf("failed to start capture device: %w", err))
	}

	stream.device = device
	c.active = stream
	return stream, nil
}

func (c *captureClient) Close() error {
	c.mu.Lock()
	active := c.active
	c.active = nil
	c.mu.Unlock()

	if active == nil {
		return nil
	}
	return active.Close()
}

type captureStream struct {
	device *malgo.Device

	mu      sync.Mutex
	onAudio func(chunk []byte)
	closed  bool

	closeOnce sync.Once
	closeErr  error
}

func (s *captureStream) deliver(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.onAudio == nil {
		return
	}
	s.onAudio(chunk)
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

		if s.device == nil {
			return
		}
		if s.device.IsStarted() {
			if err := s.device.Stop(); err != nil {
				s.closeErr = fmt.Errorf("failed to stop capture device: %w", err)
			}
		}
		s.device.Uninit()
	})
	return s.closeErr
}
