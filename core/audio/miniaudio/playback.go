package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voiceloop/core/audio"
)

type playbackClient struct {
	audioContext *malgo.AllocatedContext
	fallback     audio.EncodingInfo

	mu         sync.Mutex
	device     *malgo.Device
	generation uint64
}

func (c *playbackClient) init(audioContext *malgo.AllocatedContext, fallback audio.EncodingInfo) {
	c.audioContext = audioContext
	c.fallback = fallback
}

// Play stops whatever is playing and starts clip on a new device opened at
// the clip's own sample rate. onEnded runs once the last frame was handed to
// the device, unless Stop or another Play got there first.
func (c *playbackClient) Play(ctx context.Context, clip audio.Clip, onEnded func()) error {
	if err := ctx.Err(); err != nil {
		return &audio.PlaybackError{Err: err}
	}

	pcm, encoding, err := audio.DecodeClip(clip, c.fallback)
	if err != nil {
		return &audio.PlaybackError{Err: err}
	}
	format, err := formatFor(encoding)
	if err != nil {
		return &audio.PlaybackError{Err: err}
	}
	if len(pcm) == 0 {
		return &audio.PlaybackError{Err: errors.New("clip has no audio")}
	}

	if err := c.Stop(); err != nil {
		logger.Warn("failed to stop previous playback", "error", err)
	}

	c.mu.Lock()
	c.generation++
	generation := c.generation
	c.mu.Unlock()

	channels := encoding.ChannelCount()
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = uint32(encoding.SampleRate)
	config.Playback.Format = format
	config.Playback.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = uint32(encoding.SampleRate) / 10 // ~100ms of audio
	config.Periods = 4

	buffer := &clipBuffer{remaining: pcm}
	var endOnce sync.Once
	finished := func() {
		endOnce.Do(func() {
			// Uninit must not run on the audio thread.
			go c.finish(generation, onEnded)
		})
	}

	device, err := malgo.InitDevice(c.audioContext.Context, config, malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			need := int(frameCount) * bytesPerFrame
			if buffer.fill(pOutput[:min(need, len(pOutput))]) {
				finished()
			}
		},
	})
	if err != nil {
		return &audio.PlaybackError{Err: fmt.Errorf("failed to initialize playback device: %w", err)}
	}

	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		device.Uninit()
		return nil
	}
	c.device = device
	c.mu.Unlock()

	if err := device.Start(); err != nil {
		c.mu.Lock()
		if c.device == device {
			c.device = nil
		}
		c.mu.Unlock()
		device.Uninit()
		return &audio.PlaybackError{Err: fmt.Errorf("failed to start playback device: %w", err)}
	}

	return nil
}

func (c *playbackClient) finish(generation uint64, onEnded func()) {
	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return
	}
	device := c.device
	c.device = nil
	c.mu.Unlock()

	if device != nil {
		_ = device.Stop()
		device.Uninit()
	}
	if onEnded != nil {
		onEnded()
	}
}

// Stop pauses and releases the current device. Any pending ended callback is
// dropped.
func (c *playbackClient) Stop() error {
	c.mu.Lock()
	c.generation++
	device := c.device
	c.device = nil
	c.mu.Unlock()

	if device == nil {
		return nil
	}

	var err error
	if device.IsStarted() {
		if stopErr := device.Stop(); stopErr != nil {
			err = fmt.Errorf("failed to stop playback device: %w", stopErr)
		}
	}
	device.Uninit()
	return err
}

type clipBuffer struct {
	mu        sync.Mutex
	remaining []byte
}

// fill copies the next part of the clip into out and pads the rest with
// silence. It reports whether the clip is exhausted.
func (b *clipBuffer) fill(out []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := copy(out, b.remaining)
	b.remaining = b.remaining[n:]
	clear(out[n:])
	return len(b.remaining) == 0
}
