package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const (
	sessionEndpoint  = "get-session"
	generateEndpoint = "generate"
)

type sessionResponse struct {
	Fields json.RawMessage `json:"fields"`
	Error  string          `json:"error"`
}

type generateRequest struct {
	Fields json.RawMessage `json:"fields"`
}

// SessionFields returns the structured data the service collected for
// sessionID. The fields are opaque to the client and only passed on to
// GenerateReport.
func (c *Client) SessionFields(ctx context.Context, sessionID string) (json.RawMessage, error) {
	resp, err := c.do(ctx, sessionEndpoint, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpointURL(c.endpoints.Session, url.Values{"user_id": {sessionID}}), nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}

	var parsed sessionResponse
	if err := decodeJSON(sessionEndpoint, resp.body, &parsed); err != nil {
		return nil, err
	}
	if parsed.Error != "" {
		return nil, &ServiceError{Endpoint: sessionEndpoint, StatusCode: http.StatusOK, Message: parsed.Error}
	}
	if len(parsed.Fields) == 0 || string(parsed.Fields) == "null" {
		return json.RawMessage("{}"), nil
	}

	return parsed.Fields, nil
}

// GenerateReport renders fields into a document and returns its bytes.
func (c *Client) GenerateReport(ctx context.Context, fields json.RawMessage) ([]byte, error) {
	if len(fields) == 0 {
		fields = json.RawMessage("{}")
	}
	requestBody, err := json.Marshal(generateRequest{Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("error marshalling JSON: %w", err)
	}

	resp, err := c.do(ctx, generateEndpoint, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(c.endpoints.Generate, nil), bytes.NewReader(requestBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	if len(resp.body) == 0 {
		return nil, &APIError{Endpoint: generateEndpoint, StatusCode: http.StatusOK, Err: ErrEmptyResponse}
	}

	return resp.body, nil
}
