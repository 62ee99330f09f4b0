// Package orchestrator drives one interface request through generation,
// rendering and critique until the critic accepts, the iteration budget
// runs out, or something fails.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"canvas-studio/entities/gateway"
	"canvas-studio/tools/display"
	"canvas-studio/tools/dsl"
	"canvas-studio/tools/llm"
	"canvas-studio/tools/logger"
	"canvas-studio/tools/render"
)

// Models is the gateway capability the loop needs.
type Models interface {
	Generate(ctx context.Context, gc gateway.GenerateContext) (*gateway.Generation, error)
	Critique(ctx context.Context, cc gateway.CritiqueContext) (*gateway.Review, error)
}

// Renderer turns programs into pixels.
type Renderer interface {
	Render(program *dsl.DrawProgram, canvas dsl.CanvasSpec, scale float64) (*render.PixelBuffer, error)
}

// Request starts a session.
type Request struct {
	Intent string
	Canvas dsl.CanvasSpec
	// SessionID is generated when empty.
	SessionID string
}

// Orchestrator holds only configuration and collaborators, so Run may be
// called concurrently for independent sessions. Observers must then be
// safe for concurrent use.
type Orchestrator struct {
	cfg       Config
	models    Models
	renderer  Renderer
	surface   display.Surface
	observers Observers
	log       *logger.Logger
	now       func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithObservers adds transition observers.
func WithObservers(obs ...Observer) Option {
	return func(o *Orchestrator) { o.observers = append(o.observers, obs...) }
}

// WithLogger sets the logger.
func WithLogger(log *logger.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New creates an orchestrator.
func New(cfg Config, models Models, renderer Renderer, surface display.Surface, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	if models == nil || renderer == nil || surface == nil {
		return nil, errors.New("orchestrator: models, renderer and surface are required")
	}
	o := &Orchestrator{
		cfg:      cfg,
		models:   models,
		renderer: renderer,
		surface:  surface,
		log:      logger.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.WithPrefix("orchestrator")
	return o, nil
}

// Run executes one session to a terminal state. It never returns an error:
// every failure ends up in Result.Failure.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Result {
	id := req.SessionID
	if id == "" {
		id = uuid.NewString()
	}
	ctx, span := otel.Tracer("canvas-studio/orchestrator").Start(ctx, "orchestrator.session")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", id))

	r := &run{
		o:   o,
		log: o.log.With("session", id),
		s: &Session{
			ID:      id,
			Intent:  req.Intent,
			Canvas:  req.Canvas,
			State:   StateRequested,
			Started: o.now(),
		},
		state: StateRequested,
	}
	r.loop(ctx)
	res := r.finish(ctx)

	span.SetAttributes(
		attribute.String("session.state", res.State.String()),
		attribute.Int("session.iterations", len(r.s.Records)),
		attribute.Float64("session.cost_usd", r.s.CostUSD),
	)
	if res.Failure != nil {
		span.SetStatus(codes.Error, res.Failure.Error())
	}
	return res
}

// run is the mutable state of one session.
type run struct {
	o     *Orchestrator
	log   *logger.Logger
	s     *Session
	state State

	iteration   int
	rec         IterationRecord
	snapshotPNG []byte
	gc          gateway.GenerateContext
	corrective  int
	transport   int
	failure     *Failure
}

func (r *run) loop(ctx context.Context) {
	for !r.state.Terminal() {
		var next State
		var ev Event
		switch r.state {
		case StateRequested:
			next, ev = r.start(ctx)
		case StateGenerating:
			next, ev = r.generate(ctx)
		case StateRendering:
			next, ev = r.snapshot()
		case StateCritiquing:
			next, ev = r.critique(ctx)
		case StateCorrecting:
			next, ev = r.correct(ctx)
		default:
			next, ev = r.fail(Event{}, ReasonRender, fmt.Errorf("no handler for state %s", r.state))
		}
		r.transition(next, ev)
	}
}

func (r *run) transition(to State, ev Event) {
	ev.SessionID = r.s.ID
	ev.Session = r.s
	ev.Iteration = r.iteration
	ev.From = r.state
	ev.To = to
	ev.Time = r.o.now()

	r.state = to
	r.s.State = to
	r.o.observers.OnEvent(ev)
}

func (r *run) fail(ev Event, reason FailureReason, err error) (State, Event) {
	r.failure = &Failure{Reason: reason, Err: err}
	ev.Reason = string(reason)
	ev.Err = err
	return StateFailed, ev
}

func (r *run) account(u llm.Usage, cost float64) {
	r.rec.Usage = r.rec.Usage.Add(u)
	r.rec.CostUSD += cost
	r.s.Usage = r.s.Usage.Add(u)
	r.s.CostUSD += cost
}

func (r *run) start(ctx context.Context) (State, Event) {
	if err := r.s.Canvas.Validate(); err != nil {
		return r.fail(Event{}, ReasonRender, &render.RenderError{Canvas: r.s.Canvas, Scale: r.o.cfg.SnapshotScale, Reason: err.Error()})
	}
	if err := ctx.Err(); err != nil {
		return r.fail(Event{}, ReasonCancelled, err)
	}
	r.iteration = 1
	r.rec = IterationRecord{Index: 1}
	r.gc = gateway.GenerateContext{Intent: r.s.Intent, Canvas: r.s.Canvas}
	return StateGenerating, Event{}
}

func (r *run) generate(ctx context.Context) (State, Event) {
	if err := ctx.Err(); err != nil {
		return r.fail(Event{}, ReasonCancelled, err)
	}

	r.rec.Attempts++
	gen, err := r.o.models.Generate(ctx, r.gc)

	var ev Event
	if gen != nil {
		// The call reached the model; only the document can be wrong now.
		r.transport = 0
		r.account(gen.Usage, gen.CostUSD)
		ev.Usage, ev.CostUSD, ev.Raw = gen.Usage, gen.CostUSD, gen.Raw
	}
	if err == nil {
		r.rec.Program = gen.Program
		r.rec.Raw = gen.Raw
		ev.Program = gen.Program
		return StateRendering, ev
	}
	if ctx.Err() != nil {
		return r.fail(ev, ReasonCancelled, ctx.Err())
	}

	var ve *dsl.ValidationError
	var ge *gateway.Error
	isSchema := errors.As(err, &ge) && ge.Kind == gateway.KindSchema
	switch {
	case errors.As(err, &ve) || isSchema:
		if r.corrective >= r.o.cfg.CorrectiveRetries {
			return r.fail(ev, ReasonSchema, err)
		}
		r.corrective++
		r.gc.Corrective = err
		r.gc.CorrectiveRaw = ev.Raw
		ev.Reason = fmt.Sprintf("corrective retry %d/%d", r.corrective, r.o.cfg.CorrectiveRetries)
		ev.Err = err
		return StateGenerating, ev
	case ge != nil && ge.Kind == gateway.KindThrottled:
		return r.fail(ev, ReasonThrottled, err)
	default:
		return r.retryTransport(StateGenerating, ev, err)
	}
}

// retryTransport stays in state while the per-call transport budget lasts.
func (r *run) retryTransport(state State, ev Event, err error) (State, Event) {
	if r.transport >= r.o.cfg.TransportRetries {
		return r.fail(ev, ReasonTransport, err)
	}
	r.transport++
	ev.Reason = fmt.Sprintf("transport retry %d/%d", r.transport, r.o.cfg.TransportRetries)
	ev.Err = err
	return state, ev
}

func (r *run) snapshot() (State, Event) {
	buf, err := r.o.renderer.Render(r.rec.Program, r.s.Canvas, r.o.cfg.SnapshotScale)
	if err != nil {
		return r.fail(Event{}, ReasonRender, err)
	}
	png, err := buf.PNG()
	if err != nil {
		return r.fail(Event{}, ReasonRender, fmt.Errorf("encode snapshot: %w", err))
	}
	for _, w := range buf.Warnings {
		r.log.Warn("render warning: %s", w)
	}
	r.rec.Snapshot = buf
	r.snapshotPNG = png
	return StateCritiquing, Event{Program: r.rec.Program, Snapshot: buf}
}

func (r *run) critique(ctx context.Context) (State, Event) {
	review, err := r.o.models.Critique(ctx, gateway.CritiqueContext{
		Intent:   r.s.Intent,
		Canvas:   r.s.Canvas,
		Program:  r.rec.Program,
		Snapshot: r.snapshotPNG,
	})
	if err != nil {
		if ctx.Err() != nil {
			return r.fail(Event{}, ReasonCancelled, ctx.Err())
		}
		var ge *gateway.Error
		if errors.As(err, &ge) && ge.Kind == gateway.KindThrottled {
			return r.fail(Event{}, ReasonThrottled, err)
		}
		return r.retryTransport(StateCritiquing, Event{}, err)
	}

	r.transport = 0
	r.account(review.Usage, review.CostUSD)
	r.rec.Verdict = review.Verdict
	r.s.Records = append(r.s.Records, r.rec)

	v := review.Verdict
	ev := Event{
		Verdict:  &v,
		Usage:    review.Usage,
		CostUSD:  review.CostUSD,
		Program:  r.rec.Program,
		Raw:      review.Raw,
		Snapshot: r.rec.Snapshot,
		Reason:   v.Reason,
	}
	switch {
	case v.Accept:
		return StateAccepted, ev
	case r.iteration >= r.o.cfg.MaxIterations:
		return StateExhausted, ev
	default:
		return StateCorrecting, ev
	}
}

func (r *run) correct(ctx context.Context) (State, Event) {
	if err := ctx.Err(); err != nil {
		return r.fail(Event{}, ReasonCancelled, err)
	}
	prev := r.s.Last()
	r.gc = gateway.GenerateContext{
		Intent:   r.s.Intent,
		Canvas:   r.s.Canvas,
		Prior:    prev.Program,
		Snapshot: r.snapshotPNG,
		Feedback: prev.Verdict.Reason,
	}
	r.iteration++
	r.rec = IterationRecord{Index: r.iteration}
	r.corrective = 0
	return StateGenerating, Event{Reason: prev.Verdict.Reason}
}

// finish presents the last program for Accepted and Exhausted sessions. The
// surface gets exactly one Present call; failed sessions present nothing.
func (r *run) finish(ctx context.Context) *Result {
	r.s.Finished = r.o.now()
	res := &Result{State: r.state, Session: r.s, Failure: r.failure}
	if !r.state.Presents() {
		r.log.Error("session failed: %v", r.failure)
		return res
	}

	last := r.s.Last()
	r.s.Terminal = last.Program
	res.Program = last.Program
	if r.state == StateExhausted {
		res.Notice = fmt.Sprintf("result did not pass self-review after %d iterations", len(r.s.Records))
		r.log.Warn("%s", res.Notice)
	}

	buf, err := r.o.renderer.Render(last.Program, r.s.Canvas, r.o.cfg.PresentScale)
	if err != nil {
		next, ev := r.fail(Event{Program: last.Program}, ReasonRender, err)
		r.transition(next, ev)
		res.State, res.Failure, res.Program, res.Notice = StateFailed, r.failure, nil, ""
		return res
	}
	res.Buffer = buf

	// Acceptance already happened; a late cancellation must not lose it.
	res.PresentErr = r.o.surface.Present(context.WithoutCancel(ctx), r.s.Canvas, buf)
	if res.PresentErr != nil {
		r.log.Error("present failed: %v", res.PresentErr)
	}
	return res
}
