package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voiceloop/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrEmptyText = errors.New("nothing to synthesize")

type websocketMessage struct {
	Type string `json:"type"`
}

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

var (
	flushMsg = websocketMessage{Type: "Flush"}
	closeMsg = websocketMessage{Type: "Close"}
)

// Synthesize speaks text and returns the audio as a WAV clip in the client's
// encoding.
func (c *TextToSpeechClient) Synthesize(ctx context.Context, text string) (clip audio.Clip, err error) {
	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	text = strings.TrimSpace(text)
	if text == "" {
		return audio.Clip{}, ErrEmptyText
	}
	voice := c.currentVoice()
	span.SetAttributes(
		attribute.String("request.voice", string(voice)),
		attribute.Int("request.text_length", len(text)),
	)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.connect(ctx, voice)
	if err != nil {
		return audio.Clip{}, err
	}
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()

	results := make(chan speechResult, 1)
	go func() {
		results <- c.collectSpeech(conn)
	}()

	for _, msg := range []any{speakMessage{Type: "Speak", Text: text}, flushMsg} {
		if err := conn.WriteJSON(msg); err != nil {
			return audio.Clip{}, &ConnectionError{Err: fmt.Errorf("failed to write to deepgram: %w", err)}
		}
	}

	var result speechResult
	select {
	case <-ctx.Done():
		closeConn()
		return audio.Clip{}, fmt.Errorf("synthesis interrupted: %w", ctx.Err())
	case result = <-results:
	}

	// The reply is complete once flushed; a failed Close only leaks the socket
	// until closeConn runs.
	if err := conn.WriteJSON(closeMsg); err != nil {
		logger.Debug("failed to send close to deepgram", "error", err)
	}

	if result.err != nil {
		return audio.Clip{}, result.err
	}
	if len(result.audio) == 0 {
		return audio.Clip{}, fmt.Errorf("deepgram returned no audio")
	}

	span.SetAttributes(attribute.Int("response.audio_bytes", len(result.audio)))
	return audio.Clip{
		Data:      audio.EncodeWAV(result.audio, c.options.EncodingInfo),
		MediaType: audio.MediaTypeWAV,
	}, nil
}

func (c *TextToSpeechClient) connect(ctx context.Context, voice deepgramVoice) (*websocket.Conn, error) {
	speakURL, err := url.Parse(c.speakURL)
	if err != nil {
		return nil, fmt.Errorf("invalid speak url: %w", err)
	}

	query := speakURL.Query()
	query.Set("encoding", c.options.EncodingInfo.Format.Name())
	query.Set("sample_rate", strconv.Itoa(c.options.EncodingInfo.SampleRate))
	query.Set("model", string(voice))
	query.Set("container", "none")
	speakURL.RawQuery = query.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, speakURL.String(),
		http.Header{"Authorization": {"token " + c.apiKey}})
	if err != nil {
		connErr := &ConnectionError{Err: err}
		if resp != nil {
			connErr.StatusCode = resp.StatusCode
		}
		return nil, connErr
	}
	return conn, nil
}

type speechResult struct {
	audio []byte
	err   error
}

// collectSpeech gathers binary audio frames until Deepgram confirms the flush.
func (c *TextToSpeechClient) collectSpeech(conn *websocket.Conn) speechResult {
	var buf bytes.Buffer
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) && buf.Len() > 0 {
				return speechResult{audio: buf.Bytes()}
			}
			return speechResult{err: &ConnectionError{Err: fmt.Errorf("failed to read deepgram message: %w", err)}}
		}

		switch msgType {
		case websocket.BinaryMessage:
			buf.Write(msg)
		case websocket.TextMessage:
			var parsedMsg struct {
				Type        string `json:"type"`
				Description string `json:"description"`
			}
			if err := json.Unmarshal(msg, &parsedMsg); err != nil {
				logger.Debug("failed to unmarshal deepgram message", "error", err)
				continue
			}

			switch parsedMsg.Type {
			case "Flushed":
				return speechResult{audio: buf.Bytes()}
			case "Error":
				return speechResult{err: fmt.Errorf("deepgram error: %s", parsedMsg.Description)}
			case "Warning":
				logger.Warn("deepgram warning", "description", parsedMsg.Description)
			}
		}
	}
}

// ConnectionError is a failure to reach Deepgram or to keep the connection
// alive. Rejected handshakes carry the HTTP status.
type ConnectionError struct {
	StatusCode int
	Err        error
}

func (e *ConnectionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("deepgram connection failed (%d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("deepgram connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}
