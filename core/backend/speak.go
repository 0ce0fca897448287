package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"

	"github.com/koscakluka/ema-voiceloop/core/audio"
)

const speakEndpoint = "speak"

type speakRequest struct {
	Text string `json:"text"`
}

// Synthesize returns the spoken rendition of text as the service encoded it.
// The clip's media type is taken from the response Content-Type.
func (c *Client) Synthesize(ctx context.Context, text string) (audio.Clip, error) {
	requestBody, err := json.Marshal(speakRequest{Text: text})
	if err != nil {
		return audio.Clip{}, fmt.Errorf("error marshalling JSON: %w", err)
	}

	resp, err := c.do(ctx, speakEndpoint, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(c.endpoints.Speak, nil), bytes.NewReader(requestBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if c.speechType != "" {
			req.Header.Set("Accept", c.speechType)
		}
		return req, nil
	})
	if err != nil {
		return audio.Clip{}, err
	}
	if len(resp.body) == 0 {
		return audio.Clip{}, &APIError{Endpoint: speakEndpoint, StatusCode: http.StatusOK, Err: ErrEmptyResponse}
	}

	mediaType := resp.contentType
	if parsed, _, err := mime.ParseMediaType(resp.contentType); err == nil {
		mediaType = parsed
	}

	return audio.Clip{Data: resp.body, MediaType: mediaType}, nil
}
