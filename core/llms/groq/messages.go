package groq

import (
	"sync"

	"github.com/jinzhu/copier"
)

type message struct {
	Role    messageRole `json:"role"`
	Content string      `json:"content"`
}

type messageRole string

const (
	messageRoleSystem    messageRole = "system"
	messageRoleUser      messageRole = "user"
	messageRoleAssistant messageRole = "assistant"
)

// exchange is one user message and the reply it got.
type exchange struct {
	User      string
	Assistant string
}

// sessions keeps the recent exchanges of every session the client has seen.
type sessions struct {
	mu    sync.Mutex
	limit int
	byID  map[string][]exchange
}

func newSessions(limit int) *sessions {
	return &sessions{limit: limit, byID: map[string][]exchange{}}
}

func (s *sessions) history(sessionID string) []exchange {
	s.mu.Lock()
	defer s.mu.Unlock()

	var history []exchange
	if err := copier.Copy(&history, s.byID[sessionID]); err != nil {
		history = append([]exchange(nil), s.byID[sessionID]...)
	}
	return history
}

func (s *sessions) record(sessionID string, ex exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.byID[sessionID], ex)
	if s.limit > 0 && len(history) > s.limit {
		history = history[len(history)-s.limit:]
	}
	s.byID[sessionID] = history
}

func toMessages(instructions string, history []exchange, prompt string) []message {
	messages := []message{}
	if instructions != "" {
		messages = append(messages, message{
			Role:    messageRoleSystem,
			Content: instructions,
		})
	}

	for _, ex := range history {
		messages = append(messages,
			message{Role: messageRoleUser, Content: ex.User},
			message{Role: messageRoleAssistant, Content: ex.Assistant},
		)
	}
	return append(messages, message{Role: messageRoleUser, Content: prompt})
}
