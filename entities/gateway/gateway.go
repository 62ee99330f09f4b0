// Package gateway turns interface requests and critiques into structured
// model calls. Generation goes to the planner route, review to the critic
// route; both share one call path.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"canvas-studio/tools/dsl"
	"canvas-studio/tools/llm"
	"canvas-studio/tools/logger"
)

const (
	RoutePlanner = "planner"
	RouteCritic  = "critic"
)

// Route is one configured instance of the structured-completion capability.
type Route struct {
	Client    llm.Client
	Model     string
	MaxTokens int
	// Timeout bounds a single call; zero means no bound beyond the caller's.
	Timeout time.Duration
	// Limiter paces requests; nil means unpaced.
	Limiter *rate.Limiter
}

// Pricing is USD per million tokens.
type Pricing struct {
	Input      float64 `toml:"input"`
	Output     float64 `toml:"output"`
	CacheRead  float64 `toml:"cache_read"`
	CacheWrite float64 `toml:"cache_write"`
}

// Cost estimates the price of u.
func (p Pricing) Cost(u llm.Usage) float64 {
	return (float64(u.InputTokens)*p.Input +
		float64(u.OutputTokens)*p.Output +
		float64(u.CacheReadTokens)*p.CacheRead +
		float64(u.CacheWriteTokens)*p.CacheWrite) / 1e6
}

// Config configures a Gateway.
type Config struct {
	Planner Route
	Critic  Route
	Backoff Backoff
	// Pricing by model name; models without an entry cost nothing.
	Pricing map[string]Pricing
	// PlannerSystem and CriticSystem replace the default framing.
	PlannerSystem string
	CriticSystem  string
	Log           *logger.Logger
}

// Gateway is safe for concurrent use by many sessions.
type Gateway struct {
	planner Route
	critic  Route
	backoff Backoff
	pricing map[string]Pricing
	prompts prompts
	log     *logger.Logger
	tracer  trace.Tracer

	mu      sync.Mutex
	schemas map[dsl.CanvasSpec]*canvasSchema
	verdict *jsonschema.Schema
}

type canvasSchema struct {
	doc      json.RawMessage
	compiled *jsonschema.Schema
}

// New creates a gateway. Both routes need a client.
func New(cfg Config) (*Gateway, error) {
	if cfg.Planner.Client == nil || cfg.Critic.Client == nil {
		return nil, errors.New("gateway: planner and critic routes need a client")
	}
	if cfg.Backoff.Attempts <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Log == nil {
		cfg.Log = logger.Default()
	}
	verdict, err := compileVerdictSchema()
	if err != nil {
		return nil, fmt.Errorf("gateway: %w", err)
	}
	return &Gateway{
		planner: cfg.Planner,
		critic:  cfg.Critic,
		backoff: cfg.Backoff,
		pricing: cfg.Pricing,
		prompts: newPrompts(cfg.PlannerSystem, cfg.CriticSystem),
		log:     cfg.Log.WithPrefix("gateway"),
		tracer:  otel.Tracer("canvas-studio/gateway"),
		schemas: map[dsl.CanvasSpec]*canvasSchema{},
		verdict: verdict,
	}, nil
}

// GenerateContext is everything the planner sees for one attempt.
type GenerateContext struct {
	Intent string
	Canvas dsl.CanvasSpec
	// Prior, Snapshot and Feedback describe the rejected previous iteration.
	Prior    *dsl.DrawProgram
	Snapshot []byte
	Feedback string
	// Corrective is the schema or validation error of the previous attempt
	// within this iteration, with the document that caused it.
	Corrective    error
	CorrectiveRaw []byte
}

// Generation is the planner's answer. On schema and validation failures it
// is returned alongside the error with a nil Program, so the raw document
// and usage are not lost.
type Generation struct {
	Program *dsl.DrawProgram
	Raw     json.RawMessage
	Model   string
	Usage   llm.Usage
	CostUSD float64
}

// Generate asks the planner for a draw program. Errors are *Error, or a
// *dsl.ValidationError when the document matched the schema but not the
// program rules.
func (g *Gateway) Generate(ctx context.Context, gc GenerateContext) (*Generation, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.generate")
	defer span.End()

	schema, err := g.schemaFor(gc.Canvas)
	if err != nil {
		return nil, g.fail(span, &Error{Kind: KindSchema, Route: RoutePlanner, Err: err})
	}

	var priorDoc []byte
	if gc.Prior != nil {
		if priorDoc, err = dsl.Marshal(gc.Prior); err != nil {
			return nil, g.fail(span, &Error{Kind: KindSchema, Route: RoutePlanner, Err: fmt.Errorf("encode prior program: %w", err)})
		}
	}

	req := &llm.Request{
		Model:     g.planner.Model,
		System:    g.prompts.planner,
		Messages:  layout(gc.Intent, gc.Canvas, gc.Snapshot, generateInstruction(gc, priorDoc)),
		Schema:    &llm.Schema{Name: dsl.SchemaName, Document: schema.doc},
		MaxTokens: g.planner.MaxTokens,
	}

	resp, err := g.call(ctx, RoutePlanner, g.planner, req)
	if err != nil {
		return nil, g.fail(span, err)
	}

	gen := &Generation{Raw: resp.Document, Model: resp.Model, Usage: resp.Usage, CostUSD: g.cost(g.planner.Model, resp.Usage)}
	g.annotate(span, gen.Model, gen.Usage, gen.CostUSD)

	if resp.WasTruncated() {
		return gen, g.fail(span, &Error{Kind: KindSchema, Route: RoutePlanner, Err: errors.New("response was truncated at the token limit")})
	}
	program, err := dsl.ParseAndValidate(resp.Document, gc.Canvas)
	if schemaErr := dsl.ValidateDocument(schema.compiled, resp.Document); schemaErr != nil {
		// Prefer the parser's error when it can name the op and field.
		var ve *dsl.ValidationError
		if errors.As(err, &ve) && ve.OpIndex >= 0 {
			return gen, g.fail(span, err)
		}
		return gen, g.fail(span, &Error{Kind: KindSchema, Route: RoutePlanner, Err: schemaErr})
	}
	if err != nil {
		return gen, g.fail(span, err)
	}
	gen.Program = program
	g.log.Debug("planner returned %d ops", len(program.Ops))
	return gen, nil
}

// CritiqueContext is everything the critic sees.
type CritiqueContext struct {
	Intent   string
	Canvas   dsl.CanvasSpec
	Program  *dsl.DrawProgram
	Snapshot []byte
}

// Review is the critic's answer.
type Review struct {
	Verdict Verdict
	Raw     json.RawMessage
	Model   string
	Usage   llm.Usage
	CostUSD float64
}

// Critique asks the critic to judge a rendered program. Only transport and
// throttling problems are errors; an unusable answer is a rejection.
func (g *Gateway) Critique(ctx context.Context, cc CritiqueContext) (*Review, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.critique")
	defer span.End()

	doc, err := dsl.Marshal(cc.Program)
	if err != nil {
		return nil, g.fail(span, &Error{Kind: KindSchema, Route: RouteCritic, Err: fmt.Errorf("encode program: %w", err)})
	}

	req := &llm.Request{
		Model:     g.critic.Model,
		System:    g.prompts.critic,
		Messages:  layout(cc.Intent, cc.Canvas, cc.Snapshot, critiqueInstruction(doc)),
		Schema:    &llm.Schema{Name: verdictSchemaName, Document: verdictSchema},
		MaxTokens: g.critic.MaxTokens,
	}

	resp, err := g.call(ctx, RouteCritic, g.critic, req)
	if err != nil {
		return nil, g.fail(span, err)
	}

	review := &Review{
		Verdict: parseVerdict(g.verdict, resp.Document),
		Raw:     resp.Document,
		Model:   resp.Model,
		Usage:   resp.Usage,
		CostUSD: g.cost(g.critic.Model, resp.Usage),
	}
	g.annotate(span, review.Model, review.Usage, review.CostUSD)
	span.SetAttributes(attribute.Bool("verdict.accept", review.Verdict.Accept))
	g.log.Debug("critic verdict: %s", review.Verdict)
	return review, nil
}

// layout orders messages static first, then the snapshot, then the
// per-call instruction. The static message depends only on the session.
func layout(intent string, canvas dsl.CanvasSpec, snapshot []byte, instruction string) []llm.Message {
	messages := []llm.Message{{
		Role:    llm.RoleUser,
		Segment: llm.SegmentStatic,
		Parts:   []llm.Part{llm.TextPart(sessionContext(intent, canvas))},
	}}
	if len(snapshot) > 0 {
		messages = append(messages, llm.Message{
			Role:    llm.RoleUser,
			Segment: llm.SegmentSnapshot,
			Parts:   []llm.Part{llm.TextPart("Snapshot of the rendering (reduced size):"), llm.ImagePart(snapshot)},
		})
	}
	return append(messages, llm.Message{
		Role:    llm.RoleUser,
		Segment: llm.SegmentDynamic,
		Parts:   []llm.Part{llm.TextPart(instruction)},
	})
}

// call performs one gateway call, retrying throttled responses with
// exponential backoff. Any other failure is returned as KindTransport.
func (g *Gateway) call(ctx context.Context, name string, route Route, req *llm.Request) (*llm.Response, error) {
	var lastErr error
	for attempt := 0; attempt < g.backoff.Attempts; attempt++ {
		if route.Limiter != nil {
			if err := route.Limiter.Wait(ctx); err != nil {
				return nil, &Error{Kind: KindTransport, Route: name, Err: err}
			}
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if route.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, route.Timeout)
		}
		resp, err := route.Client.Complete(callCtx, req)
		cancel()
		if err == nil {
			g.log.Debug("%s %s: %d in / %d out tokens", name, req.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
			return resp, nil
		}
		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return nil, &Error{Kind: KindTransport, Route: name, Err: ctx.Err()}
		}

		var te *llm.TransportError
		if !errors.As(err, &te) || te.Kind != llm.ErrThrottled {
			return nil, &Error{Kind: KindTransport, Route: name, Err: err}
		}

		if attempt == g.backoff.Attempts-1 {
			break
		}
		backoff := g.backoff.delay(attempt)
		if te.RetryAfter > backoff {
			backoff = te.RetryAfter
		}
		g.log.Warn("%s throttled, retrying in %v (attempt %d/%d)", name, backoff, attempt+1, g.backoff.Attempts)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, &Error{Kind: KindTransport, Route: name, Err: ctx.Err()}
		}
	}
	return nil, &Error{Kind: KindThrottled, Route: name, Err: fmt.Errorf("failed after %d attempts: %w", g.backoff.Attempts, lastErr)}
}

func (g *Gateway) schemaFor(canvas dsl.CanvasSpec) (*canvasSchema, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.schemas[canvas]; ok {
		return s, nil
	}
	compiled, err := dsl.CompileSchema(canvas)
	if err != nil {
		return nil, err
	}
	s := &canvasSchema{doc: dsl.SchemaJSON(canvas), compiled: compiled}
	g.schemas[canvas] = s
	return s, nil
}

func (g *Gateway) cost(model string, u llm.Usage) float64 {
	p, ok := g.pricing[model]
	if !ok {
		return 0
	}
	return p.Cost(u)
}

func (g *Gateway) annotate(span trace.Span, model string, u llm.Usage, cost float64) {
	span.SetAttributes(
		attribute.String("llm.model", model),
		attribute.Int("llm.tokens.input", u.InputTokens),
		attribute.Int("llm.tokens.output", u.OutputTokens),
		attribute.Int("llm.tokens.cache_read", u.CacheReadTokens),
		attribute.Float64("llm.cost_usd", cost),
	)
}

func (g *Gateway) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
