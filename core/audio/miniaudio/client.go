package miniaudio

import (
	"context"
	"fmt"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-voiceloop/core/audio"
)

// Client opens a fresh malgo device for every recording and every clip, so
// the microphone is only held while a recording window is open.
type Client struct {
	// audioContext is only saved to be able to uninitialize it, it is an
	// ownership thing
	audioContext *malgo.AllocatedContext
	encoding     audio.EncodingInfo

	playbackClient
	captureClient
}

type ClientOption func(*Client)

// WithCaptureSampleRate sets the rate the microphone is recorded at.
func WithCaptureSampleRate(sampleRate int) ClientOption {
	return func(c *Client) {
		if sampleRate > 0 {
			c.encoding.SampleRate = sampleRate
		}
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	audioCtx, err := malgo.InitContext(
		nil,
		malgo.ContextConfig{},
		func(message string) { logger.Debug("malgo", "message", message) },
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := &Client{
		audioContext: audioCtx,
		encoding:     audio.GetDefaultEncodingInfo(),
	}
	for _, opt := range opts {
		opt(client)
	}

	client.captureClient.init(audioCtx, client.encoding)
	client.playbackClient.init(audioCtx, client.encoding)
	return client, nil
}

func (c *Client) OpenCapture(ctx context.Context, onAudio func(chunk []byte)) (audio.CaptureStream, error) {
	return c.captureClient.Open(ctx, onAudio)
}

func (c *Client) Play(ctx context.Context, clip audio.Clip, onEnded func()) error {
	return c.playbackClient.Play(ctx, clip, onEnded)
}

func (c *Client) StopPlayback() error {
	return c.playbackClient.Stop()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encoding
}

func (c *Client) Close() {
	_ = c.captureClient.Close()
	_ = c.playbackClient.Stop()
	_ = c.audioContext.Uninit()
	c.audioContext.Free()
}

func formatFor(encoding audio.EncodingInfo) (malgo.FormatType, error) {
	switch encoding.Format {
	case audio.EncodingLinear16:
		return malgo.FormatS16, nil
	}
	return malgo.FormatUnknown, fmt.Errorf("unsupported sample format %q", encoding.Format.Name())
}
