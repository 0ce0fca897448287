package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultURL   = "https://api.groq.com/openai/v1/chat/completions"
	DefaultModel = "llama-3.3-70b-versatile"

	defaultTimeout      = 60 * time.Second
	defaultHistoryLimit = 20

	endMessage  = "[DONE]"
	chunkPrefix = "data:"

	maxErrorBody = 4 << 10
)

var ErrEmptyReply = errors.New("model returned an empty reply")

// Client is a Dialogue backed by an OpenAI compatible chat completions
// endpoint, Groq by default. The conversation context of each session is
// kept in memory and sent with every message.
type Client struct {
	apiKey       string
	url          string
	model        string
	instructions string
	timeout      time.Duration
	httpClient   *http.Client
	sessions     *sessions
	logger       *slog.Logger
}

type ClientOption func(*Client)

// WithAPIKey overrides the GROQ_API_KEY environment variable.
func WithAPIKey(apiKey string) ClientOption {
	return func(c *Client) {
		if apiKey != "" {
			c.apiKey = apiKey
		}
	}
}

// WithURL points the client at another chat completions endpoint.
func WithURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.url = url
		}
	}
}

func WithModel(model string) ClientOption {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithInstructions sets the system prompt. To end the conversation the
// instructions must make the model say the completion marker.
func WithInstructions(instructions string) ClientOption {
	return func(c *Client) {
		c.instructions = instructions
	}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

// WithHistoryLimit bounds how many past exchanges are sent as context.
// Zero keeps all of them.
func WithHistoryLimit(limit int) ClientOption {
	return func(c *Client) {
		if limit >= 0 {
			c.sessions = newSessions(limit)
		}
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(opts ...ClientOption) (*Client, error) {
	c := &Client{
		apiKey:  os.Getenv("GROQ_API_KEY"),
		url:     DefaultURL,
		model:   DefaultModel,
		timeout: defaultTimeout,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
		sessions: newSessions(defaultHistoryLimit),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.apiKey == "" {
		return nil, fmt.Errorf("groq api key not found")
	}
	if _, err := url.Parse(c.url); err != nil {
		return nil, fmt.Errorf("invalid chat completions url: %w", err)
	}
	return c, nil
}

// Chat sends message in the context of the session's earlier exchanges and
// returns the full reply. Failed exchanges are not remembered.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (reply string, err error) {
	ctx, span := tracer.Start(ctx, "prompt llm")
	defer span.End()
	span.SetAttributes(attribute.String("request.model", c.model))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "chat failed")
		}
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	history := c.sessions.history(sessionID)
	span.SetAttributes(attribute.Int("request.history", len(history)))

	reqBody := requestBody{
		Model:    c.model,
		Messages: toMessages(c.instructions, history, message),
		Stream:   true,
	}
	requestBodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("error marshalling JSON: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return "", fmt.Errorf("error creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	requestStarted := time.Now()
	span.AddEvent("request started")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &APIError{Err: err}
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &APIError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	reply, err = c.readStream(resp.Body, span, requestStarted)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ErrEmptyReply
	}

	c.sessions.record(sessionID, exchange{User: message, Assistant: reply})
	return reply, nil
}

func (c *Client) readStream(body io.Reader, span trace.Span, requestStarted time.Time) (string, error) {
	var response strings.Builder
	firstChunk := true

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		chunk := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), chunkPrefix))
		if len(chunk) == 0 {
			continue
		}
		if firstChunk {
			firstChunk = false
			span.SetAttributes(attribute.Float64("response.request_to_first_token_time", time.Since(requestStarted).Seconds()))
			span.AddEvent("received first chunk")
		}
		if chunk == endMessage {
			break
		}

		var responseBody streamingResponseBody
		if err := json.Unmarshal([]byte(chunk), &responseBody); err != nil {
			c.logger.Warn("skipping malformed stream chunk", "error", err)
			continue
		}
		if len(responseBody.Choices) > 0 {
			response.WriteString(responseBody.Choices[0].Delta.Content)
		}
		if usage := responseBody.Usage; usage != nil {
			span.SetAttributes(
				attribute.Int("usage.prompt", usage.PromptTokens),
				attribute.Int("usage.completion", usage.CompletionTokens),
				attribute.Int("usage.total", usage.TotalTokens),
			)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", &APIError{StatusCode: http.StatusOK, Err: fmt.Errorf("error reading streamed response: %w", err)}
	}
	return response.String(), nil
}

// APIError is a failed chat completions request.
type APIError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	switch {
	case e.StatusCode == 0:
		return fmt.Sprintf("groq: request failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("groq: %v", e.Err)
	case e.Message != "":
		return fmt.Sprintf("groq: %d: %s", e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("groq: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// Retryable reports whether the same request might succeed if sent again.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

func errorMessage(body []byte) string {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return strings.TrimSpace(string(body))
}

type requestBody struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type streamingResponseBody struct {
	Choices []struct {
		Delta struct {
			Role         string  `json:"role,omitempty"`
			Content      string  `json:"content,omitempty"`
			FinishReason *string `json:"finish_reason,omitempty"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}
