package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-studio/tools/llm"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

func sampleRequest() *llm.Request {
	return &llm.Request{
		System: "system framing",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Segment: llm.SegmentStatic, Parts: []llm.Part{llm.TextPart("reference"), llm.TextPart("intent")}},
			{Role: llm.RoleUser, Segment: llm.SegmentSnapshot, Parts: []llm.Part{llm.ImagePart(pngBytes)}},
			{Role: llm.RoleUser, Segment: llm.SegmentDynamic, Parts: []llm.Part{llm.TextPart("program")}},
		},
		Schema:    &llm.Schema{Name: "draw_program", Document: json.RawMessage(`{"type":"object"}`)},
		MaxTokens: 1000,
	}
}

// capture starts a server that records the decoded request body and replies
// with status and reply.
func capture(t *testing.T, status int, reply string, headers map[string]string) (*httptest.Server, *map[string]any) {
	t.Helper()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(data, &got))
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestAnthropicRequestLayout(t *testing.T) {
	srv, got := capture(t, http.StatusOK, `{
		"model": "claude-test",
		"stop_reason": "tool_use",
		"content": [{"type": "tool_use", "name": "draw_program", "input": {"version": "0.2", "ops": []}}],
		"usage": {"input_tokens": 10, "output_tokens": 5, "cache_creation_input_tokens": 300, "cache_read_input_tokens": 40}
	}`, nil)

	c := llm.NewAnthropicClient("key", "claude-test", llm.WithBaseURL(srv.URL))
	resp, err := c.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.JSONEq(t, `{"version": "0.2", "ops": []}`, string(resp.Document))
	assert.Equal(t, llm.Usage{InputTokens: 10, OutputTokens: 5, CacheReadTokens: 40, CacheWriteTokens: 300}, resp.Usage)
	assert.Equal(t, 355, resp.Usage.Total())
	assert.False(t, resp.WasTruncated())

	body := *got
	assert.Equal(t, map[string]any{"type": "tool", "name": "draw_program"}, body["tool_choice"])

	// Consecutive user messages are merged; the breakpoint sits on the last
	// static block, before the snapshot.
	messages := body["messages"].([]any)
	require.Len(t, messages, 1)
	content := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 4)
	assert.Nil(t, content[0].(map[string]any)["cache_control"])
	assert.Equal(t, map[string]any{"type": "ephemeral"}, content[1].(map[string]any)["cache_control"])
	assert.Equal(t, "image", content[2].(map[string]any)["type"])
	assert.Nil(t, content[3].(map[string]any)["cache_control"])
}

func TestAnthropicTextFallback(t *testing.T) {
	srv, _ := capture(t, http.StatusOK, `{"content": [{"type": "text", "text": "`+"```json\\n{}\\n```"+`"}], "usage": {}}`, nil)

	c := llm.NewAnthropicClient("key", "", llm.WithBaseURL(srv.URL))
	resp, err := c.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.Equal(t, "```json\n{}\n```", string(resp.Document))
}

func TestOpenAIRequestLayout(t *testing.T) {
	srv, got := capture(t, http.StatusOK, `{
		"model": "gpt-test",
		"choices": [{"message": {"content": "{\"verdict\":\"accept\",\"reason\":\"ok\"}"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 500, "completion_tokens": 12, "prompt_tokens_details": {"cached_tokens": 400}}
	}`, nil)

	c := llm.NewOpenAIClient("key", "gpt-test", llm.WithBaseURL(srv.URL))
	resp, err := c.Complete(context.Background(), sampleRequest())
	require.NoError(t, err)

	assert.JSONEq(t, `{"verdict":"accept","reason":"ok"}`, string(resp.Document))
	assert.Equal(t, llm.Usage{InputTokens: 100, OutputTokens: 12, CacheReadTokens: 400}, resp.Usage)

	body := *got
	format := body["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, "draw_program", format["json_schema"].(map[string]any)["name"])

	messages := body["messages"].([]any)
	require.Len(t, messages, 4)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	image := messages[2].(map[string]any)["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "image_url", image["type"])
	assert.Contains(t, image["image_url"].(map[string]any)["url"], "data:image/png;base64,")
}

func TestTransportErrors(t *testing.T) {
	for name, tc := range map[string]struct {
		status  int
		headers map[string]string
		kind    llm.ErrorKind
		retry   time.Duration
	}{
		"throttled":  {http.StatusTooManyRequests, map[string]string{"Retry-After": "3"}, llm.ErrThrottled, 3 * time.Second},
		"overloaded": {529, nil, llm.ErrThrottled, 0},
		"auth":       {http.StatusUnauthorized, nil, llm.ErrAuth, 0},
		"gateway":    {http.StatusGatewayTimeout, nil, llm.ErrTimeout, 0},
		"server":     {http.StatusInternalServerError, nil, llm.ErrStatus, 0},
	} {
		t.Run(name, func(t *testing.T) {
			srv, _ := capture(t, tc.status, `{"type":"error","error":{"type":"some_error","message":"nope"}}`, tc.headers)
			c := llm.NewAnthropicClient("key", "", llm.WithBaseURL(srv.URL))
			_, err := c.Complete(context.Background(), sampleRequest())

			var te *llm.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.kind, te.Kind)
			assert.Equal(t, tc.status, te.Status)
			assert.Equal(t, tc.retry, te.RetryAfter)
			assert.Contains(t, te.Error(), "some_error: nope")
		})
	}
}

func TestTransportTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := llm.NewOpenAIClient("key", "", llm.WithBaseURL(srv.URL))
	_, err := c.Complete(ctx, sampleRequest())

	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, llm.ErrTimeout, te.Kind)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestDecodeError(t *testing.T) {
	srv, _ := capture(t, http.StatusOK, `not json`, nil)
	c := llm.NewOpenAIClient("key", "", llm.WithBaseURL(srv.URL))
	_, err := c.Complete(context.Background(), sampleRequest())

	var te *llm.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, llm.ErrDecode, te.Kind)
}
