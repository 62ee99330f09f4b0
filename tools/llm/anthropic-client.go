package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

const anthropicAPIURL = "https://api.anthropic.com/v1/messages"

// AnthropicClient implements the Client interface for Claude. Structured
// output is obtained by forcing a single tool whose input schema is the
// requested schema.
type AnthropicClient struct {
	apiKey string
	model  string
	opts   httpOptions
}

// NewAnthropicClient creates a new Anthropic API client
func NewAnthropicClient(apiKey, model string, opts ...Option) *AnthropicClient {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	return &AnthropicClient{
		apiKey: apiKey,
		model:  model,
		opts:   newOptions(anthropicAPIURL, opts),
	}
}

// anthropicRequest is the API request structure
type anthropicRequest struct {
	Model      string           `json:"model"`
	MaxTokens  int              `json:"max_tokens"`
	System     []anthropicBlock `json:"system,omitempty"`
	Messages   []anthropicMsg   `json:"messages"`
	Tools      []anthropicTool  `json:"tools,omitempty"`
	ToolChoice *anthropicChoice `json:"tool_choice,omitempty"`
}

type anthropicMsg struct {
	Role    Role             `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type         string           `json:"type"`
	Text         string           `json:"text,omitempty"`
	Source       *anthropicSource `json:"source,omitempty"`
	CacheControl *cacheControl    `json:"cache_control,omitempty"`
}

type anthropicSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type cacheControl struct {
	Type string `json:"type"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

type anthropicChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// anthropicResponse is the API response structure
type anthropicResponse struct {
	ID      string `json:"id"`
	Content []struct {
		Type  string          `json:"type"`
		Text  string          `json:"text"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	} `json:"usage"`
}

// Complete sends the request to Claude and returns the structured document
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 16384
	}

	body := anthropicRequest{
		Model:     model,
		MaxTokens: maxTokens,
		Messages:  anthropicMessages(req.Messages),
	}
	if req.System != "" {
		body.System = []anthropicBlock{{Type: "text", Text: req.System}}
		// Without static messages the system prompt is the whole cached prefix
		if !hasStatic(req.Messages) {
			body.System[0].CacheControl = &cacheControl{Type: "ephemeral"}
		}
	}
	if req.Schema != nil {
		body.Tools = []anthropicTool{{
			Name:        req.Schema.Name,
			Description: "Return the result. The input must follow the schema exactly.",
			InputSchema: req.Schema.Document,
		}}
		body.ToolChoice = &anthropicChoice{Type: "tool", Name: req.Schema.Name}
	}

	var apiResp anthropicResponse
	err := postJSON(ctx, c.opts.http, c.opts.baseURL, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": "2023-06-01",
	}, body, &apiResp, describeAPIError)
	if err != nil {
		return nil, err
	}

	// Prefer the forced tool call; fall back to text so the caller can see
	// what the model produced instead.
	var doc json.RawMessage
	var text string
	for _, block := range apiResp.Content {
		switch block.Type {
		case "tool_use":
			if doc == nil {
				doc = block.Input
			}
		case "text":
			text += block.Text
		}
	}
	if doc == nil {
		doc = json.RawMessage(text)
	}
	if len(doc) == 0 {
		return nil, &TransportError{Kind: ErrDecode, Err: errors.New("response has no content")}
	}

	return &Response{
		Document: doc,
		Usage: Usage{
			InputTokens:      apiResp.Usage.InputTokens,
			OutputTokens:     apiResp.Usage.OutputTokens,
			CacheReadTokens:  apiResp.Usage.CacheReadInputTokens,
			CacheWriteTokens: apiResp.Usage.CacheCreationInputTokens,
		},
		Model:      apiResp.Model,
		StopReason: apiResp.StopReason,
		Duration:   time.Since(start),
	}, nil
}

func hasStatic(messages []Message) bool {
	for _, m := range messages {
		if m.Segment == SegmentStatic {
			return true
		}
	}
	return false
}

// anthropicMessages converts messages, merging consecutive messages from the
// same role and marking the end of the static prefix as a cache breakpoint.
func anthropicMessages(messages []Message) []anthropicMsg {
	lastStatic := -1
	for i, m := range messages {
		if m.Segment == SegmentStatic {
			lastStatic = i
		}
	}

	var out []anthropicMsg
	for i, m := range messages {
		blocks := make([]anthropicBlock, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.IsImage() {
				blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicSource{
					Type:      "base64",
					MediaType: "image/png",
					Data:      base64.StdEncoding.EncodeToString(p.PNG),
				}})
				continue
			}
			blocks = append(blocks, anthropicBlock{Type: "text", Text: p.Text})
		}
		if i == lastStatic && len(blocks) > 0 {
			blocks[len(blocks)-1].CacheControl = &cacheControl{Type: "ephemeral"}
		}

		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			continue
		}
		out = append(out, anthropicMsg{Role: m.Role, Content: blocks})
	}
	return out
}
