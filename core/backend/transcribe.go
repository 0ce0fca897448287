package backend

import (
	"bytes"
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/koscakluka/ema-voiceloop/core/audio"
)

const (
	transcribeEndpoint = "transcribe"

	// TranscribeFileField is the multipart field carrying the recording.
	TranscribeFileField  = "file"
	defaultRecordingName = "recording.wav"
)

type transcribeResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// Transcribe uploads recording as a single file field and returns the text
// the service heard.
func (c *Client) Transcribe(ctx context.Context, recording audio.Recording) (string, error) {
	body, contentType, err := multipartRecording(recording)
	if err != nil {
		return "", err
	}

	resp, err := c.do(ctx, transcribeEndpoint, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(c.endpoints.Transcribe, nil), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return "", err
	}

	var parsed transcribeResponse
	if err := decodeJSON(transcribeEndpoint, resp.body, &parsed); err != nil {
		return "", err
	}
	if parsed.Error != "" {
		return "", &ServiceError{Endpoint: transcribeEndpoint, StatusCode: http.StatusOK, Message: parsed.Error}
	}

	return strings.TrimSpace(parsed.Text), nil
}

func multipartRecording(recording audio.Recording) ([]byte, string, error) {
	fileName := recording.FileName
	if fileName == "" {
		fileName = defaultRecordingName
	}
	mediaType := recording.MediaType
	if mediaType == "" {
		mediaType = audio.MediaTypeWAV
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, TranscribeFileField, fileName))
	header.Set("Content-Type", mediaType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(recording.Data); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return buf.Bytes(), writer.FormDataContentType(), nil
}
