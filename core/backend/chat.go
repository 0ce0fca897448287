package backend

import (
	"context"
	"net/http"
)

const chatEndpoint = "chat"

type chatRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
	Error string `json:"error"`
}

// Chat sends one user message under sessionID and returns the assistant's
// reply. The service accumulates the conversation's data fields on its side.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (string, error) {
	var parsed chatResponse
	if err := c.postJSON(ctx, chatEndpoint, c.endpoints.Chat, chatRequest{UserID: sessionID, Message: message}, &parsed); err != nil {
		return "", err
	}
	if parsed.Error != "" {
		return "", &ServiceError{Endpoint: chatEndpoint, StatusCode: http.StatusOK, Message: parsed.Error}
	}

	return parsed.Reply, nil
}
