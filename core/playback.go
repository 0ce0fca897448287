package orchestration

import (
	"context"
	"errors"
	"sync"

	"github.com/koscakluka/ema-voiceloop/core/audio"
)

var (
	errNoPlaybackDevice = errors.New("no playback device configured")
	errEmptyClip        = errors.New("synthesized clip has no audio")
)

// playbackController plays one reply clip at a time and closes each
// completion channel at most once.
type playbackController struct {
	device audio.PlaybackDevice

	mu         sync.Mutex
	generation uint64
	pending    *pendingPlayback
}

type pendingPlayback struct {
	once sync.Once
	done chan struct{}
}

func (p *pendingPlayback) complete() {
	p.once.Do(func() { close(p.done) })
}

func newPlaybackController(device audio.PlaybackDevice) *playbackController {
	return &playbackController{device: device}
}

// Play resets any earlier playback and starts clip. The returned channel is
// closed once the clip has played to the end. It is never closed when Play
// fails or when a later Play or Reset supersedes this one.
func (p *playbackController) Play(ctx context.Context, clip audio.Clip) (<-chan struct{}, error) {
	if p.device == nil {
		return nil, &audio.PlaybackError{Err: errNoPlaybackDevice}
	}
	if clip.IsEmpty() {
		return nil, &audio.PlaybackError{Err: errEmptyClip}
	}
	p.Reset()

	p.mu.Lock()
	p.generation++
	generation := p.generation
	pending := &pendingPlayback{done: make(chan struct{})}
	p.pending = pending
	p.mu.Unlock()

	if err := p.device.Play(ctx, clip, func() { p.ended(generation) }); err != nil {
		p.mu.Lock()
		if p.generation == generation {
			p.pending = nil
		}
		p.mu.Unlock()

		var playbackErr *audio.PlaybackError
		if !errors.As(err, &playbackErr) {
			err = &audio.PlaybackError{Err: err}
		}
		return nil, err
	}
	return pending.done, nil
}

func (p *playbackController) ended(generation uint64) {
	p.mu.Lock()
	if p.generation != generation || p.pending == nil {
		p.mu.Unlock()
		return
	}
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	pending.complete()
}

// Reset stops the current clip and forgets its completion.
func (p *playbackController) Reset() {
	p.mu.Lock()
	p.generation++
	p.pending = nil
	p.mu.Unlock()

	if p.device == nil {
		return
	}
	if err := p.device.StopPlayback(); err != nil {
		logger.Warn("failed to stop playback", "error", err)
	}
}
