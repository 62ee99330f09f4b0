package gateway

import (
	"fmt"
	"time"
)

// Kind classifies gateway failures.
type Kind int

const (
	// KindTransport covers network, auth and timeout failures.
	KindTransport Kind = iota
	// KindSchema means the response did not conform to the requested schema.
	KindSchema
	// KindThrottled means the provider kept rate limiting after backoff.
	KindThrottled
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindSchema:
		return "schema"
	case KindThrottled:
		return "throttled"
	default:
		return "unknown"
	}
}

// Error is returned by Generate and Critique for everything except a
// program that parsed but failed validation.
type Error struct {
	Kind  Kind
	Route string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s %s: %v", e.Route, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether calling again may succeed without changing the
// request.
func (e *Error) Retryable() bool {
	return e.Kind == KindThrottled || e.Kind == KindTransport
}

// Backoff controls retries of throttled calls.
type Backoff struct {
	Base     time.Duration
	Max      time.Duration
	Attempts int
}

// DefaultBackoff makes five attempts, waiting 1s, 2s, 4s and 8s between them.
var DefaultBackoff = Backoff{Base: time.Second, Max: 30 * time.Second, Attempts: 5}

func (b Backoff) delay(attempt int) time.Duration {
	d := b.Base << uint(attempt)
	if b.Max > 0 && (d > b.Max || d <= 0) {
		d = b.Max
	}
	return d
}
