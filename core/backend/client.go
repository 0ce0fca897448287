package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultBaseURL = "http://localhost:10000"
	DefaultTimeout = 60 * time.Second

	// maxErrorBody bounds how much of a failed response is kept in an error.
	maxErrorBody = 4 << 10
)

// Endpoints are the paths of the remote calls, relative to the base URL.
type Endpoints struct {
	Transcribe string `json:"transcribe" yaml:"transcribe" mapstructure:"transcribe"`
	Chat       string `json:"chat" yaml:"chat" mapstructure:"chat"`
	Speak      string `json:"speak" yaml:"speak" mapstructure:"speak"`
	Session    string `json:"session" yaml:"session" mapstructure:"session"`
	Generate   string `json:"generate" yaml:"generate" mapstructure:"generate"`
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Transcribe: "/transcribe",
		Chat:       "/chat",
		Speak:      "/speak",
		Session:    "/get-session",
		Generate:   "/generate",
	}
}

// Client talks to the conversation backend: transcription, chat, speech
// synthesis and report generation.
type Client struct {
	baseURL    *url.URL
	endpoints  Endpoints
	httpClient *http.Client
	timeout    time.Duration
	speechType string
	logger     *slog.Logger
}

type ClientOption func(*Client)

// WithHTTPClient replaces the traced default client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithTimeout bounds every single request. Zero disables the bound.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = timeout
	}
}

func WithEndpoints(endpoints Endpoints) ClientOption {
	return func(c *Client) {
		defaults := DefaultEndpoints()
		c.endpoints = Endpoints{
			Transcribe: firstNonEmpty(endpoints.Transcribe, defaults.Transcribe),
			Chat:       firstNonEmpty(endpoints.Chat, defaults.Chat),
			Speak:      firstNonEmpty(endpoints.Speak, defaults.Speak),
			Session:    firstNonEmpty(endpoints.Session, defaults.Session),
			Generate:   firstNonEmpty(endpoints.Generate, defaults.Generate),
		}
	}
}

// WithSpeechMediaType sets the Accept header sent with synthesis requests.
func WithSpeechMediaType(mediaType string) ClientOption {
	return func(c *Client) {
		c.speechType = mediaType
	}
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid backend url %q: %w", baseURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", baseURL)
	}

	c := &Client{
		baseURL:   parsed,
		endpoints: DefaultEndpoints(),
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport,
			otelhttp.WithSpanNameFormatter(func(operationName string, request *http.Request) string {
				return operationName + " " + request.URL.Path
			}),
		)},
		timeout: DefaultTimeout,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

func (c *Client) endpointURL(path string, query url.Values) string {
	u := c.baseURL.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

type response struct {
	body        []byte
	contentType string
}

// do sends the request built by newRequest and returns the body of a
// successful response. A non-success status with an {error} field in the body
// is a ServiceError, any other non-success status an APIError.
func (c *Client) do(ctx context.Context, endpoint string, newRequest func(ctx context.Context) (*http.Request, error)) (resp response, err error) {
	ctx, span := tracer.Start(ctx, "backend "+endpoint, trace.WithSpanKind(trace.SpanKindClient))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := newRequest(ctx)
	if err != nil {
		return response{}, fmt.Errorf("error creating HTTP request: %w", err)
	}
	span.SetAttributes(attribute.String("request.url", req.URL.String()))

	start := time.Now()
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return response{}, &APIError{Endpoint: endpoint, Err: err}
	}
	defer httpResp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", httpResp.StatusCode))
	c.logger.Debug("backend responded",
		"endpoint", endpoint,
		"status", httpResp.StatusCode,
		"duration", time.Since(start),
	)

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		errorBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		if message := errorField(errorBody); message != "" {
			return response{}, &ServiceError{Endpoint: endpoint, StatusCode: httpResp.StatusCode, Message: message}
		}
		return response{}, &APIError{
			Endpoint:   endpoint,
			StatusCode: httpResp.StatusCode,
			Message:    strings.TrimSpace(string(errorBody)),
		}
	}

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return response{}, &APIError{Endpoint: endpoint, StatusCode: httpResp.StatusCode, Err: fmt.Errorf("error reading body: %w", err)}
	}
	span.SetAttributes(attribute.Int("response.size", len(body)))

	return response{body: body, contentType: httpResp.Header.Get("Content-Type")}, nil
}

// postJSON posts payload and decodes the JSON response into out.
func (c *Client) postJSON(ctx context.Context, endpoint, path string, payload, out any) error {
	requestBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("error marshalling JSON: %w", err)
	}

	resp, err := c.do(ctx, endpoint, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL(path, nil), bytes.NewReader(requestBody))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return err
	}

	return decodeJSON(endpoint, resp.body, out)
}

func decodeJSON(endpoint string, body []byte, out any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return &APIError{Endpoint: endpoint, StatusCode: http.StatusOK, Err: ErrEmptyResponse}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("error unmarshalling %s response: %w", endpoint, err)
	}
	return nil
}

type errorBody struct {
	Error string `json:"error"`
}

func errorField(body []byte) string {
	var parsed errorBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return ""
	}
	return strings.TrimSpace(parsed.Error)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
