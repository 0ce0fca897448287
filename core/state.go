package orchestration

type ConversationState int

const (
	StateIdle ConversationState = iota
	StateRecording
	StateProcessing
	StateSpeaking
	// StateAwaitingReport ends the voice loop; only the report action is
	// left.
	StateAwaitingReport
)

func (s ConversationState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	case StateAwaitingReport:
		return "awaiting_report"
	}
	return "unknown"
}

type transition int

const (
	transitionStart transition = iota
	transitionCaptureFailed
	transitionRecordingStopped
	transitionTurnSucceeded
	transitionTurnFailed
	transitionPlaybackFailed
	transitionPlaybackEnded
	transitionCompletionReached
)

func (t transition) String() string {
	switch t {
	case transitionStart:
		return "start"
	case transitionCaptureFailed:
		return "capture_failed"
	case transitionRecordingStopped:
		return "recording_stopped"
	case transitionTurnSucceeded:
		return "turn_succeeded"
	case transitionTurnFailed:
		return "turn_failed"
	case transitionPlaybackFailed:
		return "playback_failed"
	case transitionPlaybackEnded:
		return "playback_ended"
	case transitionCompletionReached:
		return "completion_reached"
	}
	return "unknown"
}

// nextState is the whole conversation state machine. It reports false for
// every pair that is not a legal transition, which callers treat as a no-op.
func nextState(state ConversationState, t transition) (ConversationState, bool) {
	switch t {
	case transitionStart:
		switch state {
		case StateIdle, StateSpeaking:
			return StateRecording, true
		}
	case transitionCaptureFailed:
		if state == StateRecording {
			return StateIdle, true
		}
	case transitionRecordingStopped:
		if state == StateRecording {
			return StateProcessing, true
		}
	case transitionTurnSucceeded:
		if state == StateProcessing {
			return StateSpeaking, true
		}
	case transitionTurnFailed:
		if state == StateProcessing {
			return StateIdle, true
		}
	case transitionPlaybackFailed:
		if state == StateSpeaking {
			return StateIdle, true
		}
	case transitionPlaybackEnded:
		// The next recording is started by the inter-turn pause.
		if state == StateSpeaking {
			return StateSpeaking, true
		}
	case transitionCompletionReached:
		if state == StateSpeaking {
			return StateAwaitingReport, true
		}
	}
	return state, false
}
