package llm

import (
	"encoding/json"
	"time"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Segment places a message in the request's cache layout. Messages must be
// ordered static, then snapshot, then dynamic; providers put their cache
// breakpoint after the last static message.
type Segment int

const (
	SegmentStatic Segment = iota
	SegmentSnapshot
	SegmentDynamic
)

func (s Segment) String() string {
	switch s {
	case SegmentStatic:
		return "static"
	case SegmentSnapshot:
		return "snapshot"
	case SegmentDynamic:
		return "dynamic"
	default:
		return "unknown"
	}
}

// Part is one piece of message content: either text or a PNG image.
type Part struct {
	Text string
	PNG  []byte
}

// IsImage reports whether the part carries an image.
func (p Part) IsImage() bool { return p.PNG != nil }

// TextPart creates a text part.
func TextPart(s string) Part { return Part{Text: s} }

// ImagePart creates a PNG image part.
func ImagePart(png []byte) Part { return Part{PNG: png} }

// Message is a conversation message
type Message struct {
	Role    Role
	Segment Segment
	Parts   []Part
}

// Schema is a JSON Schema the response document must follow.
type Schema struct {
	Name     string
	Document json.RawMessage
}

// Request is a single structured completion
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Schema    *Schema
	MaxTokens int
}

// Usage counts tokens for one or more completions.
type Usage struct {
	InputTokens      int `json:"input_tokens"`
	OutputTokens     int `json:"output_tokens"`
	CacheReadTokens  int `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int `json:"cache_write_tokens,omitempty"`
}

// Add returns the sum of u and o.
func (u Usage) Add(o Usage) Usage {
	return Usage{
		InputTokens:      u.InputTokens + o.InputTokens,
		OutputTokens:     u.OutputTokens + o.OutputTokens,
		CacheReadTokens:  u.CacheReadTokens + o.CacheReadTokens,
		CacheWriteTokens: u.CacheWriteTokens + o.CacheWriteTokens,
	}
}

// Total is every token billed, cached or not.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens + u.CacheReadTokens + u.CacheWriteTokens
}

// Response from an LLM completion. Document holds the structured output as
// the provider returned it; it is not guaranteed to be valid JSON when the
// model ignored the schema.
type Response struct {
	Document   json.RawMessage
	Usage      Usage
	Model      string
	StopReason string // "end_turn", "tool_use", "max_tokens", "stop", "length"
	Duration   time.Duration
}

// WasTruncated returns true if the response hit the token limit
func (r *Response) WasTruncated() bool {
	return r.StopReason == "max_tokens" || r.StopReason == "length"
}
