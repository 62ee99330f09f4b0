package main

import (
	"time"

	"canvas-studio/entities/orchestrator"
)

// InterfaceRequest is one interface to design.
type InterfaceRequest struct {
	Intent string
	// Name labels the request in logs and batch output file names.
	Name string
	// Output is where the presented PNG goes.
	Output    string
	CreatedAt time.Time
}

// Outcome is the result of one request.
type Outcome struct {
	Request  InterfaceRequest
	Result   *orchestrator.Result
	Duration time.Duration
}

// Succeeded reports whether something was presented.
func (o *Outcome) Succeeded() bool {
	return o.Result != nil && o.Result.State.Presents()
}
