// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"canvas-studio/tools/llm"
)

// Step answers one request.
type Step func(ctx context.Context, req *llm.Request) (*llm.Response, error)

// Reply answers with doc and a fixed token usage.
func Reply(doc []byte) Step {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Document:   json.RawMessage(doc),
			Usage:      llm.Usage{InputTokens: 100, OutputTokens: 20},
			Model:      "scripted",
			StopReason: "end_turn",
		}, nil
	}
}

// ReplyJSON answers with v encoded as JSON.
func ReplyJSON(v any) Step {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("llmtest: marshal reply: %v", err))
	}
	return Reply(data)
}

// Fail answers with err.
func Fail(err error) Step {
	return func(context.Context, *llm.Request) (*llm.Response, error) {
		return nil, err
	}
}

// Timeout answers with a timeout transport error.
func Timeout() Step {
	return Fail(&llm.TransportError{Kind: llm.ErrTimeout, Err: context.DeadlineExceeded})
}

// Throttle answers with a rate-limit transport error.
func Throttle() Step {
	return Fail(&llm.TransportError{Kind: llm.ErrThrottled, Status: 429, Err: errors.New("rate limited")})
}

// Block waits for the request context to end.
func Block() Step {
	return func(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, &llm.TransportError{Kind: llm.ErrTimeout, Err: ctx.Err()}
	}
}

// Script is an llm.Client that answers requests with its steps in order
// and records every request. Requests past the end of the script fail.
type Script struct {
	mu       sync.Mutex
	steps    []Step
	requests []*llm.Request
}

// NewScript creates a client that plays steps in order.
func NewScript(steps ...Step) *Script {
	return &Script{steps: steps}
}

func (s *Script) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	s.mu.Lock()
	n := len(s.requests)
	s.requests = append(s.requests, req)
	var step Step
	if n < len(s.steps) {
		step = s.steps[n]
	}
	s.mu.Unlock()

	if step == nil {
		return nil, &llm.TransportError{Kind: llm.ErrStatus, Status: 500, Err: fmt.Errorf("script exhausted after %d requests", n)}
	}
	return step(ctx, req)
}

// Requests returns the requests received so far.
func (s *Script) Requests() []*llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*llm.Request(nil), s.requests...)
}

// Calls returns the number of requests received so far.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Func adapts a function to llm.Client.
type Func func(ctx context.Context, req *llm.Request) (*llm.Response, error)

func (f Func) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	return f(ctx, req)
}
