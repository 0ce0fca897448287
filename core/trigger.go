package orchestration

import (
	"sync"
	"sync/atomic"
	"time"
)

type startSource string

const (
	startSourceInteraction startSource = "interaction"
	startSourceGraceTimer  startSource = "grace_timer"
	startSourceUser        startSource = "user"
	startSourcePause       startSource = "turn_pause"
)

// startTrigger fires the first recording. Whichever of the first interaction
// or the grace timer comes first wins and disarms the other.
type startTrigger struct {
	fired atomic.Bool
	mu    sync.Mutex
	timer *time.Timer
	fire  func(startSource)
}

func newStartTrigger(fire func(startSource)) *startTrigger {
	return &startTrigger{fire: fire}
}

// arm starts the grace timer. A non-positive grace leaves only the
// interaction trigger.
func (t *startTrigger) arm(grace time.Duration) {
	if grace <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil || t.fired.Load() {
		return
	}
	t.timer = time.AfterFunc(grace, func() { t.trigger(startSourceGraceTimer) })
}

func (t *startTrigger) interact() bool {
	return t.trigger(startSourceInteraction)
}

func (t *startTrigger) trigger(source startSource) bool {
	if !t.fired.CompareAndSwap(false, true) {
		return false
	}
	t.disarm()
	t.fire(source)
	return true
}

func (t *startTrigger) disarm() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
}
