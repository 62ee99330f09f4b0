package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

const openAIAPIURL = "https://api.openai.com/v1/chat/completions"

// OpenAIClient implements the Client interface for the chat completions
// API, using response_format json_schema for structured output.
type OpenAIClient struct {
	apiKey string
	model  string
	opts   httpOptions
}

// NewOpenAIClient creates a new OpenAI API client
func NewOpenAIClient(apiKey, model string, opts ...Option) *OpenAIClient {
	if model == "" {
		model = "gpt-4.1"
	}
	return &OpenAIClient{
		apiKey: apiKey,
		model:  model,
		opts:   newOptions(openAIAPIURL, opts),
	}
}

type openAIRequest struct {
	Model               string          `json:"model"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	Messages            []openAIMsg     `json:"messages"`
	ResponseFormat      *responseFormat `json:"response_format,omitempty"`
}

type openAIMsg struct {
	Role    string       `json:"role"`
	Content []openAIPart `json:"content"`
}

type openAIPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type responseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *jsonSchema `json:"json_schema,omitempty"`
}

type jsonSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
	Strict bool            `json:"strict"`
}

type openAIResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens        int `json:"prompt_tokens"`
		CompletionTokens    int `json:"completion_tokens"`
		PromptTokensDetails struct {
			CachedTokens int `json:"cached_tokens"`
		} `json:"prompt_tokens_details"`
	} `json:"usage"`
}

// Complete sends the request and returns the structured document. Prompt
// caching is automatic on this API; the stable prefix is what makes it hit.
func (c *OpenAIClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.model
	}

	body := openAIRequest{
		Model:               model,
		MaxCompletionTokens: req.MaxTokens,
	}
	if req.System != "" {
		body.Messages = append(body.Messages, openAIMsg{Role: "system", Content: []openAIPart{{Type: "text", Text: req.System}}})
	}
	for _, m := range req.Messages {
		parts := make([]openAIPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			if p.IsImage() {
				parts = append(parts, openAIPart{Type: "image_url", ImageURL: &imageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(p.PNG),
				}})
				continue
			}
			parts = append(parts, openAIPart{Type: "text", Text: p.Text})
		}
		body.Messages = append(body.Messages, openAIMsg{Role: string(m.Role), Content: parts})
	}
	if req.Schema != nil {
		body.ResponseFormat = &responseFormat{Type: "json_schema", JSONSchema: &jsonSchema{
			Name:   req.Schema.Name,
			Schema: req.Schema.Document,
			Strict: c.opts.strict,
		}}
	}

	var apiResp openAIResponse
	err := postJSON(ctx, c.opts.http, c.opts.baseURL, map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}, body, &apiResp, describeAPIError)
	if err != nil {
		return nil, err
	}

	if len(apiResp.Choices) == 0 {
		return nil, &TransportError{Kind: ErrDecode, Err: errors.New("response has no choices")}
	}
	choice := apiResp.Choices[0]
	var doc json.RawMessage
	switch {
	case choice.Message.Content != nil:
		doc = json.RawMessage(*choice.Message.Content)
	case choice.Message.Refusal != nil:
		// A refusal is a document that fails the schema, not a transport error
		doc = json.RawMessage(*choice.Message.Refusal)
	default:
		return nil, &TransportError{Kind: ErrDecode, Err: errors.New("response has no content")}
	}

	cached := apiResp.Usage.PromptTokensDetails.CachedTokens
	return &Response{
		Document: doc,
		Usage: Usage{
			InputTokens:     apiResp.Usage.PromptTokens - cached,
			OutputTokens:    apiResp.Usage.CompletionTokens,
			CacheReadTokens: cached,
		},
		Model:      apiResp.Model,
		StopReason: choice.FinishReason,
		Duration:   time.Since(start),
	}, nil
}
