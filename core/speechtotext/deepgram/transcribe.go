package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-voiceloop/core/audio"
	"github.com/koscakluka/ema-voiceloop/core/speechtotext"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultListenURL = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "ar"
	defaultTimeout   = 30 * time.Second

	// chunkDuration is how much audio goes into one websocket frame.
	chunkDuration = 100 * time.Millisecond
)

// TranscriptionClient transcribes whole recordings over Deepgram's live
// listen websocket: the audio is streamed in, the stream is closed, and the
// finalized segments are joined.
type TranscriptionClient struct {
	apiKey    string
	listenURL string
	dialer    *websocket.Dialer
	timeout   time.Duration
	options   speechtotext.TranscriptionOptions
}

type ClientOption func(*TranscriptionClient)

// WithAPIKey overrides the DEEPGRAM_API_KEY environment variable.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *TranscriptionClient) {
		if apiKey != "" {
			c.apiKey = apiKey
		}
	}
}

func WithListenURL(listenURL string) ClientOption {
	return func(c *TranscriptionClient) {
		if listenURL != "" {
			c.listenURL = listenURL
		}
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *TranscriptionClient) {
		c.timeout = timeout
	}
}

func WithTranscriptionOptions(opts ...speechtotext.TranscriptionOption) ClientOption {
	return func(c *TranscriptionClient) {
		for _, opt := range opts {
			opt(&c.options)
		}
	}
}

func NewTranscriptionClient(opts ...ClientOption) (*TranscriptionClient, error) {
	client := &TranscriptionClient{
		apiKey:    os.Getenv("DEEPGRAM_API_KEY"),
		listenURL: defaultListenURL,
		dialer:    websocket.DefaultDialer,
		timeout:   defaultTimeout,
		options: speechtotext.TranscriptionOptions{
			Language:     defaultLanguage,
			Model:        defaultModel,
			EncodingInfo: audio.GetDefaultEncodingInfo(),
		},
	}
	for _, opt := range opts {
		opt(client)
	}

	if client.apiKey == "" {
		return nil, fmt.Errorf("deepgram api key not found")
	}
	if _, err := url.Parse(client.listenURL); err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}

	return client, nil
}

// Transcribe returns the text spoken in recording. A recording without any
// recognized speech yields speechtotext.ErrEmptyTranscript.
func (c *TranscriptionClient) Transcribe(ctx context.Context, recording audio.Recording) (transcript string, err error) {
	ctx, span := tracer.Start(ctx, "transcribe recording")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	pcm, encodingInfo, err := audio.DecodeClip(audio.Clip{Data: recording.Data, MediaType: recording.MediaType}, c.options.EncodingInfo)
	if err != nil {
		return "", fmt.Errorf("invalid recording: %w", err)
	}
	encoding, err := convertEncoding(encodingInfo)
	if err != nil {
		return "", fmt.Errorf("invalid encoding: %w", err)
	}
	span.SetAttributes(
		attribute.Int("request.audio_bytes", len(pcm)),
		attribute.Int("request.sample_rate", encoding.sampleRate),
	)

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	conn, err := c.connect(ctx, encoding)
	if err != nil {
		return "", err
	}
	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()

	results := make(chan readResult, 1)
	go func() {
		results <- c.readTranscript(conn)
	}()

	if err := c.streamAudio(ctx, conn, pcm, encodingInfo); err != nil {
		return "", err
	}

	var result readResult
	select {
	case <-ctx.Done():
		closeConn()
		return "", fmt.Errorf("transcription interrupted: %w", ctx.Err())
	case result = <-results:
	}
	if result.err != nil {
		return "", result.err
	}

	transcript = strings.Join(result.segments, " ")
	span.SetAttributes(attribute.Int("response.segments", len(result.segments)))
	if transcript == "" {
		return "", speechtotext.ErrEmptyTranscript
	}
	return transcript, nil
}

func (c *TranscriptionClient) connect(ctx context.Context, encoding listenEncoding) (*websocket.Conn, error) {
	listenURL, _ := url.Parse(c.listenURL)
	query := listenURL.Query()
	encoding.apply(query)
	query.Set("model", c.options.Model)
	query.Set("language", c.options.Language)
	query.Set("smart_format", "true")
	query.Set("punctuate", "true")
	listenURL.RawQuery = query.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, listenURL.String(),
		http.Header{"Authorization": {"Token " + c.apiKey}})
	if err != nil {
		connErr := &ConnectionError{Err: err}
		if resp != nil {
			connErr.StatusCode = resp.StatusCode
		}
		return nil, connErr
	}
	return conn, nil
}

func (c *TranscriptionClient) streamAudio(ctx context.Context, conn *websocket.Conn, pcm []byte, encoding audio.EncodingInfo) error {
	chunkSize := len(pcm)
	if bytesPerFrame := encoding.BytesPerFrame(); bytesPerFrame > 0 {
		chunkSize = max(bytesPerFrame, encoding.SampleRate*bytesPerFrame*int(chunkDuration/time.Millisecond)/1000)
	}

	for offset := 0; offset < len(pcm); offset += chunkSize {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transcription interrupted: %w", err)
		}
		chunk := pcm[offset:min(offset+chunkSize, len(pcm))]
		if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			return &ConnectionError{Err: fmt.Errorf("failed to write audio to deepgram: %w", err)}
		}
	}

	if err := conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return &ConnectionError{Err: fmt.Errorf("failed to close deepgram stream: %w", err)}
	}
	return nil
}

type readResult struct {
	segments []string
	err      error
}

// readTranscript collects finalized segments until Deepgram closes the
// connection after the stream was closed.
func (c *TranscriptionClient) readTranscript(conn *websocket.Conn) readResult {
	var segments []string
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || errors.Is(err, net.ErrClosed) {
				return readResult{segments: segments}
			}
			if len(segments) > 0 {
				logger.Warn("deepgram connection ended abruptly", "error", err)
				return readResult{segments: segments}
			}
			return readResult{err: &ConnectionError{Err: fmt.Errorf("failed to read deepgram message: %w", err)}}
		}
		if msgType != websocket.TextMessage {
			continue
		}

		segment, ok := finalSegment(msg)
		if !ok {
			continue
		}
		segments = append(segments, segment)
		if c.options.PartialTranscriptionCallback != nil {
			c.options.PartialTranscriptionCallback(segment)
		}
	}
}

func finalSegment(msg []byte) (string, bool) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Debug("failed to unmarshal deepgram message", "error", err)
		return "", false
	}
	if api.TypeResponse(parsedMsg.Type) != api.TypeMessageResponse {
		return "", false
	}

	var msgResp api.MessageResponse
	if err := json.Unmarshal(msg, &msgResp); err != nil {
		logger.Debug("failed to unmarshal deepgram results", "error", err)
		return "", false
	}
	if !msgResp.IsFinal || len(msgResp.Channel.Alternatives) == 0 {
		return "", false
	}

	transcript := strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
	return transcript, transcript != ""
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
