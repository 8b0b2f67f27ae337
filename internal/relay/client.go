// ABOUTME: HTTP client for bearer-token chat-completions endpoints
// ABOUTME: Single-shot and streaming calls with separate wall-clock timeouts

package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Default timeouts.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultStreamTimeout  = 60 * time.Second
)

// maxErrorBody bounds how much of an error response is kept.
const maxErrorBody = 64 * 1024

// ChatMessage is one entry of the outbound messages array.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequestBody struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type completionBody struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Client posts chat requests to provider endpoints.
type Client struct {
	http           *http.Client
	endpoints      map[string]string
	requestTimeout time.Duration
	streamTimeout  time.Duration
	logger         *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithTimeouts sets the single-shot and streaming timeouts. Zero keeps the default.
func WithTimeouts(request, stream time.Duration) ClientOption {
	return func(c *Client) {
		if request > 0 {
			c.requestTimeout = request
		}
		if stream > 0 {
			c.streamTimeout = stream
		}
	}
}

// WithClientLogger sets the logger. Nil means slog.Default().
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the given provider → endpoint map. The
// map's keys are the supported providers.
func NewClient(endpoints map[string]string, opts ...ClientOption) *Client {
	c := &Client{
		http:           &http.Client{},
		endpoints:      make(map[string]string, len(endpoints)),
		requestTimeout: DefaultRequestTimeout,
		streamTimeout:  DefaultStreamTimeout,
		logger:         slog.Default(),
	}
	for provider, url := range endpoints {
		c.endpoints[provider] = url
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "relay.client")
	return c
}

// Endpoint returns the chat endpoint for provider.
func (c *Client) Endpoint(provider string) (string, bool) {
	url, ok := c.endpoints[provider]
	return url, ok
}

// Complete performs a single-shot completion and returns the first
// non-empty message content.
func (c *Client) Complete(ctx context.Context, endpoint, apiKey, model string, messages []ChatMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	resp, err := c.post(ctx, endpoint, apiKey, chatRequestBody{Model: model, Messages: messages})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var body completionBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return "", ErrEmptyResponse
		}
		if isTransportError(ctx, err) {
			return "", &NetworkError{Err: err}
		}
		return "", fmt.Errorf("decoding completion: %w", err)
	}
	for _, choice := range body.Choices {
		if choice.Message != nil && choice.Message.Content != nil && *choice.Message.Content != "" {
			return *choice.Message.Content, nil
		}
	}
	return "", ErrEmptyResponse
}

// OpenStream starts a streaming completion. The returned body must be
// closed; reads past the stream timeout fail with a NetworkError.
func (c *Client) OpenStream(ctx context.Context, endpoint, apiKey, model string, messages []ChatMessage) (io.ReadCloser, error) {
	ctx, cancel := context.WithTimeout(ctx, c.streamTimeout)

	resp, err := c.post(ctx, endpoint, apiKey, chatRequestBody{Model: model, Messages: messages, Stream: true})
	if err != nil {
		cancel()
		return nil, err
	}
	return &streamBody{ctx: ctx, body: resp.Body, cancel: cancel}, nil
}

func (c *Client) post(ctx context.Context, endpoint, apiKey string, payload chatRequestBody) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if payload.Stream {
		req.Header.Set("Accept", "text/event-stream")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	c.logger.Debug("provider responded", "status", resp.StatusCode, "stream", payload.Stream, "model", payload.Model, "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, handleErrorResponse(resp)
	}
	return resp, nil
}

// handleErrorResponse turns a non-2xx response into a ProviderError,
// extracting error.message from a JSON body when present. An unreadable
// body reports "unknown error".
func handleErrorResponse(resp *http.Response) error {
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return &ProviderError{StatusCode: resp.StatusCode, Message: "unknown error"}
	}
	text := strings.TrimSpace(string(raw))

	message := text
	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if json.Unmarshal(raw, &parsed) == nil && len(parsed.Error) > 0 {
		var obj providerErrorBody
		var str string
		switch {
		case json.Unmarshal(parsed.Error, &obj) == nil && obj.Message != "":
			message = obj.Message
		case json.Unmarshal(parsed.Error, &str) == nil && str != "":
			message = str
		}
	}
	if message == "" {
		message = "unknown error"
	}
	return &ProviderError{StatusCode: resp.StatusCode, Message: message, Body: text}
}

// isTransportError reports whether a read failure came from the connection
// or the deadline rather than the payload.
func isTransportError(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) && !errors.Is(err, io.EOF)
}

// streamBody releases the stream's timeout context on Close and reports
// read failures as NetworkError.
type streamBody struct {
	ctx    context.Context
	body   io.ReadCloser
	cancel context.CancelFunc
}

func (s *streamBody) Read(p []byte) (int, error) {
	n, err := s.body.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		if ctxErr := s.ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return n, &NetworkError{Err: err}
	}
	return n, err
}

func (s *streamBody) Close() error {
	defer s.cancel()
	return s.body.Close()
}
