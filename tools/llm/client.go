package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

// Client is the interface for LLM providers
type Client interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// ErrorKind classifies transport failures.
type ErrorKind string

const (
	ErrNetwork   ErrorKind = "network"
	ErrAuth      ErrorKind = "auth"
	ErrThrottled ErrorKind = "throttled"
	ErrTimeout   ErrorKind = "timeout"
	ErrStatus    ErrorKind = "status"
	ErrDecode    ErrorKind = "decode"
)

// TransportError is returned by clients for every failure to obtain a
// response document.
type TransportError struct {
	Kind       ErrorKind
	Status     int
	RetryAfter time.Duration
	Err        error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("llm %s (HTTP %d): %v", e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("llm %s: %v", e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Option configures an HTTP client.
type Option func(*httpOptions)

type httpOptions struct {
	baseURL string
	http    *http.Client
	strict  bool
}

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(url string) Option {
	return func(o *httpOptions) { o.baseURL = url }
}

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *httpOptions) { o.http = c }
}

// WithStrictSchema asks providers that support it to enforce the schema
// while decoding. Only schemas without optional properties qualify.
func WithStrictSchema(strict bool) Option {
	return func(o *httpOptions) { o.strict = strict }
}

func newOptions(baseURL string, opts []Option) httpOptions {
	o := httpOptions{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// postJSON sends body to url and decodes a 200 response into out. Every
// failure comes back as a *TransportError.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out any, describe func([]byte) string) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return &TransportError{Kind: ErrDecode, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return &TransportError{Kind: ErrNetwork, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &TransportError{Kind: networkKind(ctx, err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Kind: networkKind(ctx, err), Status: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		return &TransportError{
			Kind:       statusKind(resp.StatusCode),
			Status:     resp.StatusCode,
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
			Err:        errors.New(describe(data)),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return &TransportError{Kind: ErrDecode, Status: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return nil
}

func networkKind(ctx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	return ErrNetwork
}

func statusKind(status int) ErrorKind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuth
	case http.StatusTooManyRequests, 529: // 529: provider overloaded
		return ErrThrottled
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return ErrStatus
	}
}

// retryAfter parses a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// apiError is the error body shared by both providers.
type apiError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

func describeAPIError(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		if e.Error.Type != "" {
			return e.Error.Type + ": " + e.Error.Message
		}
		return e.Error.Message
	}
	if len(body) > 512 {
		body = body[:512]
	}
	return string(body)
}
