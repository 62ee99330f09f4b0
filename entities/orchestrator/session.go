package orchestrator

import (
	"encoding/json"
	"time"

	"canvas-studio/entities/gateway"
	"canvas-studio/tools/dsl"
	"canvas-studio/tools/llm"
	"canvas-studio/tools/render"
)

// IterationRecord is one generate, render and critique pass.
type IterationRecord struct {
	Index    int
	Program  *dsl.DrawProgram
	Raw      json.RawMessage
	Snapshot *render.PixelBuffer
	Verdict  gateway.Verdict
	// Attempts counts generation calls, corrective and transport retries
	// included.
	Attempts int
	Usage    llm.Usage
	CostUSD  float64
}

// Session is the state of one interface request. It is mutated only by the
// run that owns it.
type Session struct {
	ID       string
	Intent   string
	Canvas   dsl.CanvasSpec
	Records  []IterationRecord
	Terminal *dsl.DrawProgram
	State    State
	Usage    llm.Usage
	CostUSD  float64
	Started  time.Time
	Finished time.Time
}

// Iterations is the number of completed passes.
func (s *Session) Iterations() int { return len(s.Records) }

// Last returns the most recent completed pass, or nil.
func (s *Session) Last() *IterationRecord {
	if len(s.Records) == 0 {
		return nil
	}
	return &s.Records[len(s.Records)-1]
}

// Result is what Run hands back. Program and Buffer are set when the state
// presents; Failure is set when it failed.
type Result struct {
	State   State
	Session *Session
	Program *dsl.DrawProgram
	Buffer  *render.PixelBuffer
	Notice  string
	Failure *Failure
	// PresentErr is the surface's error from the single Present call.
	PresentErr error
}

// Event describes one state transition. Observers must treat Session and
// Snapshot as read-only and must not retain Session past OnEvent.
type Event struct {
	SessionID string
	Session   *Session
	Iteration int
	From      State
	To        State
	// Verdict is set on transitions out of Critiquing.
	Verdict *gateway.Verdict
	// Usage and CostUSD account for the gateway call that led to this
	// transition, if any.
	Usage    llm.Usage
	CostUSD  float64
	Program  *dsl.DrawProgram
	Raw      json.RawMessage
	Snapshot *render.PixelBuffer
	Reason   string
	Err      error
	Time     time.Time
}

// Observer receives every transition synchronously.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

// Observers fans events out in order.
type Observers []Observer

func (o Observers) OnEvent(e Event) {
	for _, obs := range o {
		if obs != nil {
			obs.OnEvent(e)
		}
	}
}
