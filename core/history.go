package orchestration

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
)

// TurnRecord is one finished turn. Error is the failure text when the turn
// did not produce a reply that played.
type TurnRecord struct {
	ID         string
	Transcript string
	Reply      string
	Error      string
	StartedAt  time.Time
	EndedAt    time.Time
}

func (r TurnRecord) Failed() bool { return r.Error != "" }

// ConversationV1 is a snapshot of the conversation so far.
type ConversationV1 struct {
	SessionID string
	State     ConversationState
	Turns     []TurnRecord
}

type history struct {
	mu    sync.RWMutex
	turns []TurnRecord
}

func (h *history) begin(startedAt time.Time) TurnRecord {
	return TurnRecord{ID: uuid.NewString(), StartedAt: startedAt}
}

func (h *history) append(record TurnRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, record)
}

func (h *history) snapshot(sessionID string, state ConversationState) ConversationV1 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	snapshot := ConversationV1{SessionID: sessionID, State: state}
	if err := copier.Copy(&snapshot.Turns, h.turns); err != nil {
		logger.Warn("failed to copy conversation history", "error", err)
		snapshot.Turns = append([]TurnRecord(nil), h.turns...)
	}
	return snapshot
}
