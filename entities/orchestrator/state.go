package orchestrator

import (
	"errors"
	"fmt"

	"canvas-studio/tools/render"
)

// State is a step of the iteration state machine.
type State int

const (
	StateRequested State = iota
	StateGenerating
	StateRendering
	StateCritiquing
	StateCorrecting
	StateAccepted
	StateExhausted
	StateFailed
)

var stateNames = [...]string{"requested", "generating", "rendering", "critiquing", "correcting", "accepted", "exhausted", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// Terminal reports whether no further iteration happens from s.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateExhausted || s == StateFailed
}

// Presents reports whether a session ending in s presents a program.
func (s State) Presents() bool {
	return s == StateAccepted || s == StateExhausted
}

// FailureReason says why a session ended in StateFailed.
type FailureReason string

const (
	ReasonTransport FailureReason = "transport"
	ReasonThrottled FailureReason = "throttled"
	ReasonSchema    FailureReason = "schema"
	ReasonCancelled FailureReason = "cancelled"
	ReasonRender    FailureReason = "render"
)

// Failure is the terminal error of a failed session.
type Failure struct {
	Reason FailureReason
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %v", f.Reason, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Config bounds a session.
type Config struct {
	// MaxIterations is the number of generate/critique passes.
	MaxIterations int `toml:"max_iterations"`
	// CorrectiveRetries is the number of extra generation attempts per
	// iteration for schema and validation failures.
	CorrectiveRetries int `toml:"corrective_retries"`
	// TransportRetries is the number of retries per gateway call after a
	// transport failure.
	TransportRetries int     `toml:"transport_retries"`
	SnapshotScale    float64 `toml:"snapshot_scale"`
	PresentScale     float64 `toml:"present_scale"`
}

// DefaultConfig returns the standard budgets.
func DefaultConfig() Config {
	return Config{
		MaxIterations:     4,
		CorrectiveRetries: 2,
		TransportRetries:  1,
		SnapshotScale:     render.DefaultSnapshotScale,
		PresentScale:      1,
	}
}

// Validate checks the budgets and scales.
func (c Config) Validate() error {
	var errs []error
	if c.MaxIterations < 1 {
		errs = append(errs, errors.New("max_iterations must be at least 1"))
	}
	if c.CorrectiveRetries < 0 || c.TransportRetries < 0 {
		errs = append(errs, errors.New("retry budgets must not be negative"))
	}
	if c.SnapshotScale <= 0 || c.SnapshotScale > render.MaxScale {
		errs = append(errs, fmt.Errorf("snapshot_scale must be in (0, %g]", render.MaxScale))
	}
	if c.PresentScale <= 0 || c.PresentScale > render.MaxScale {
		errs = append(errs, fmt.Errorf("present_scale must be in (0, %g]", render.MaxScale))
	}
	return errors.Join(errs...)
}
