package orchestrator_test

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-studio/entities/gateway"
	"canvas-studio/entities/orchestrator"
	"canvas-studio/tools/display"
	"canvas-studio/tools/dsl"
	"canvas-studio/tools/dsl/dsltest"
	"canvas-studio/tools/llm"
	"canvas-studio/tools/llm/llmtest"
	"canvas-studio/tools/logger"
	"canvas-studio/tools/render"
)

const loginIntent = "login form with two fields and a submit button"

// recorder collects events.
type recorder struct {
	mu     sync.Mutex
	events []orchestrator.Event
}

func (r *recorder) OnEvent(e orchestrator.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) transitions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.From.String()+">"+e.To.String())
	}
	return out
}

type harness struct {
	orch    *orchestrator.Orchestrator
	surface *display.MemorySurface
	events  *recorder
}

func newHarness(t *testing.T, planner, critic llm.Client, observers ...orchestrator.Observer) *harness {
	t.Helper()
	g, err := gateway.New(gateway.Config{
		Planner: gateway.Route{Client: planner, Model: "planner"},
		Critic:  gateway.Route{Client: critic, Model: "critic"},
		Backoff: gateway.Backoff{Base: time.Millisecond, Max: 2 * time.Millisecond, Attempts: 2},
		Log:     logger.Discard(),
	})
	require.NoError(t, err)

	h := &harness{surface: display.NewMemorySurface(0), events: &recorder{}}
	h.orch, err = orchestrator.New(orchestrator.DefaultConfig(), g, render.New(), h.surface,
		orchestrator.WithLogger(logger.Discard()),
		orchestrator.WithObservers(append([]orchestrator.Observer{h.events}, observers...)...),
	)
	require.NoError(t, err)
	return h
}

func (h *harness) run(ctx context.Context) *orchestrator.Result {
	return h.orch.Run(ctx, orchestrator.Request{Intent: loginIntent, Canvas: dsltest.Canvas})
}

func reject(reason string) llmtest.Step {
	return llmtest.ReplyJSON(map[string]string{"verdict": "reject", "reason": reason})
}

func accept() llmtest.Step {
	return llmtest.ReplyJSON(map[string]string{"verdict": "accept", "reason": "meets the request"})
}

func program(p *dsl.DrawProgram) llmtest.Step {
	return llmtest.Reply(dsltest.Document(p))
}

// attempt is the login form with a marker so every iteration differs.
func attempt(i int) *dsl.DrawProgram {
	p := dsltest.LoginForm().Clone()
	p.Ops[1] = dsl.Text{X: 40, Y: 40, Text: fmt.Sprintf("Username (attempt %d)", i)}
	return p
}

func TestScenarioRejectThenAccept(t *testing.T) {
	planner := llmtest.NewScript(program(dsltest.LoginForm()), program(dsltest.LoginFormFixed()))
	critic := llmtest.NewScript(reject("submit button overlaps second field"), accept())
	h := newHarness(t, planner, critic)

	res := h.run(context.Background())

	require.Equal(t, orchestrator.StateAccepted, res.State)
	assert.Nil(t, res.Failure)
	assert.Empty(t, res.Notice)

	s := res.Session
	require.Len(t, s.Records, 2)
	first := s.Records[0]
	assert.Equal(t, 1, first.Index)
	kinds := []dsl.OpKind{}
	for _, op := range first.Program.Ops {
		kinds = append(kinds, op.Kind())
	}
	assert.Equal(t, []dsl.OpKind{dsl.KindRect, dsl.KindText, dsl.KindText, dsl.KindRect, dsl.KindText}, kinds)
	assert.Equal(t, gateway.Reject("submit button overlaps second field"), first.Verdict)
	assert.Equal(t, image.Pt(96, 72), first.Snapshot.Bounds().Size())

	assert.Equal(t, 2, s.Records[1].Index)
	assert.Equal(t, dsltest.LoginFormFixed(), s.Records[1].Program)
	assert.True(t, s.Records[1].Verdict.Accept)
	assert.Equal(t, dsltest.LoginFormFixed(), s.Terminal)
	assert.Equal(t, orchestrator.StateAccepted, s.State)
	assert.Equal(t, llm.Usage{InputTokens: 400, OutputTokens: 80}, s.Usage)

	presented := h.surface.Presented()
	require.Len(t, presented, 1)
	assert.Same(t, res.Buffer, presented[0].Buffer)
	assert.Equal(t, 320, presented[0].Buffer.Bounds().Dx())
	assert.Equal(t, dsltest.LoginFormFixed(), res.Program)

	assert.Equal(t, []string{
		"requested>generating", "generating>rendering", "rendering>critiquing", "critiquing>correcting",
		"correcting>generating", "generating>rendering", "rendering>critiquing", "critiquing>accepted",
	}, h.events.transitions())

	// The correction carries the reason, the prior program and its snapshot.
	second := planner.Requests()[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, llm.SegmentSnapshot, second.Messages[1].Segment)
	assert.Contains(t, second.Messages[2].Parts[0].Text, "submit button overlaps second field")
	assert.Contains(t, second.Messages[2].Parts[0].Text, `"id":"submit"`)
}

func TestScenarioExhausted(t *testing.T) {
	planner := llmtest.NewScript(program(attempt(1)), program(attempt(2)), program(attempt(3)), program(attempt(4)))
	critic := llmtest.NewScript(reject("too plain"), reject("too plain"), reject("still plain"), reject("plain"))
	h := newHarness(t, planner, critic)

	res := h.run(context.Background())

	require.Equal(t, orchestrator.StateExhausted, res.State)
	assert.Nil(t, res.Failure)
	require.Len(t, res.Session.Records, 4)
	assert.Equal(t, attempt(4), res.Program)
	assert.Equal(t, "result did not pass self-review after 4 iterations", res.Notice)

	presented := h.surface.Presented()
	require.Len(t, presented, 1)
	assert.Same(t, res.Buffer, presented[0].Buffer)
	assert.Equal(t, 4, planner.Calls())
	assert.Equal(t, 4, critic.Calls())
}

func TestScenarioMissingWidth(t *testing.T) {
	bad := []byte(`{"version": "0.2", "ops": [{"op": "rect", "x": 20, "y": 20, "height": 40}]}`)
	planner := llmtest.NewScript(llmtest.Reply(bad), program(dsltest.LoginForm()))
	critic := llmtest.NewScript(accept())
	h := newHarness(t, planner, critic)

	res := h.run(context.Background())

	require.Equal(t, orchestrator.StateAccepted, res.State)
	require.Len(t, res.Session.Records, 1, "corrective retries do not use the iteration budget")
	assert.Equal(t, 1, res.Session.Records[0].Index)
	assert.Equal(t, 2, res.Session.Records[0].Attempts)

	var retry *orchestrator.Event
	for _, e := range h.events.events {
		if e.From == orchestrator.StateGenerating && e.To == orchestrator.StateGenerating {
			retry = &e
			break
		}
	}
	require.NotNil(t, retry)
	var ve *dsl.ValidationError
	require.ErrorAs(t, retry.Err, &ve)
	assert.Equal(t, 0, ve.OpIndex)
	assert.Equal(t, "width", ve.Field)

	assert.Contains(t, planner.Requests()[1].Messages[1].Parts[0].Text, "ops[0].width")
}

func TestScenarioTransportTimeouts(t *testing.T) {
	planner := llmtest.NewScript(llmtest.Timeout(), llmtest.Timeout(), program(dsltest.LoginForm()))
	h := newHarness(t, planner, llmtest.NewScript(accept()))

	res := h.run(context.Background())

	require.Equal(t, orchestrator.StateFailed, res.State)
	require.NotNil(t, res.Failure)
	assert.Equal(t, orchestrator.ReasonTransport, res.Failure.Reason)
	assert.Empty(t, h.surface.Presented())
	assert.Nil(t, res.Program)
	assert.Equal(t, 2, planner.Calls())
}

func TestSingleTimeoutIsRetried(t *testing.T) {
	planner := llmtest.NewScript(llmtest.Timeout(), program(dsltest.LoginForm()))
	critic := llmtest.NewScript(llmtest.Timeout(), accept())
	h := newHarness(t, planner, critic)

	res := h.run(context.Background())

	require.Equal(t, orchestrator.StateAccepted, res.State)
	assert.Equal(t, 2, res.Session.Records[0].Attempts)
	assert.Len(t, h.surface.Presented(), 1)
}

func TestTransportRetryResetsAfterSchemaError(t *testing.T) {
	bad := llmtest.Reply([]byte(`{"version": "0.2", "ops": []}`))
	planner := llmtest.NewScript(llmtest.Timeout(), bad, llmtest.Timeout(), program(dsltest.LoginForm()))
	h := newHarness(t, planner, llmtest.NewScript(accept()))

	res := h.run(context.Background())

	require.Equal(t, orchestrator.StateAccepted, res.State, "failure: %v", res.Failure)
	assert.Equal(t, 4, planner.Calls())
	assert.Equal(t, 4, res.Session.Records[0].Attempts)
	assert.Len(t, h.surface.Presented(), 1)
}

func TestCorrectiveBudgetExhausted(t *testing.T) {
	bad := llmtest.Reply([]byte(`{"version": "0.2", "ops": []}`))
	planner := llmtest.NewScript(bad, bad, bad, program(dsltest.LoginForm()))
	h := newHarness(t, planner, llmtest.NewScript(accept()))

	res := h.run(context.Background())

	require.Equal(t, orchestrator.StateFailed, res.State)
	assert.Equal(t, orchestrator.ReasonSchema, res.Failure.Reason)
	assert.Equal(t, 3, planner.Calls())
	assert.Empty(t, h.surface.Presented())
}

func TestThrottledFails(t *testing.T) {
	planner := llmtest.NewScript(llmtest.Throttle(), llmtest.Throttle())
	h := newHarness(t, planner, llmtest.NewScript())

	res := h.run(context.Background())

	require.Equal(t, orchestrator.StateFailed, res.State)
	assert.Equal(t, orchestrator.ReasonThrottled, res.Failure.Reason)
	assert.Empty(t, h.surface.Presented())
}

func TestCancelledBetweenIterations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelOnReject := orchestrator.ObserverFunc(func(e orchestrator.Event) {
		if e.To == orchestrator.StateCorrecting {
			cancel()
		}
	})
	planner := llmtest.NewScript(program(dsltest.LoginForm()), program(dsltest.LoginFormFixed()))
	critic := llmtest.NewScript(reject("overlap"), accept())
	h := newHarness(t, planner, critic, cancelOnReject)

	res := h.run(ctx)

	require.Equal(t, orchestrator.StateFailed, res.State)
	assert.Equal(t, orchestrator.ReasonCancelled, res.Failure.Reason)
	assert.Equal(t, 1, planner.Calls())
	assert.Len(t, res.Session.Records, 1)
	assert.Empty(t, h.surface.Presented())
}

func TestInvalidCanvasFails(t *testing.T) {
	planner := llmtest.NewScript(program(dsltest.LoginForm()))
	h := newHarness(t, planner, llmtest.NewScript())

	res := h.orch.Run(context.Background(), orchestrator.Request{Intent: loginIntent, Canvas: dsl.CanvasSpec{Width: 0, Height: 100}})

	require.Equal(t, orchestrator.StateFailed, res.State)
	assert.Equal(t, orchestrator.ReasonRender, res.Failure.Reason)
	var re *render.RenderError
	assert.ErrorAs(t, res.Failure, &re)
	assert.Zero(t, planner.Calls())
}

func TestPresentErrorKeepsResult(t *testing.T) {
	h := newHarness(t, llmtest.NewScript(program(dsltest.LoginForm())), llmtest.NewScript(accept()))
	h.surface.Err = fmt.Errorf("window closed")

	res := h.run(context.Background())

	assert.Equal(t, orchestrator.StateAccepted, res.State)
	assert.EqualError(t, res.PresentErr, "window closed")
	assert.Len(t, h.surface.Presented(), 1)
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := orchestrator.DefaultConfig()
	cfg.MaxIterations = 0
	_, err := orchestrator.New(cfg, nil, render.New(), display.NewMemorySurface(0))
	assert.Error(t, err)
}

// TestBoundedness checks the loop against every position of the first
// accepting verdict.
// Property: at most MaxIterations records, and an accept ends the loop at once
func TestBoundedness(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("accept ends the loop, rejects are bounded", prop.ForAll(
		func(acceptAt int) bool {
			planner := llmtest.Func(func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
				return program(dsltest.LoginForm())(ctx, req)
			})
			var reviews atomic.Int32
			critic := llmtest.Func(func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
				if int(reviews.Add(1)) == acceptAt {
					return accept()(ctx, req)
				}
				return reject("not yet")(ctx, req)
			})
			h := newHarness(t, planner, critic)
			res := h.run(context.Background())

			max := orchestrator.DefaultConfig().MaxIterations
			if len(res.Session.Records) > max || len(h.surface.Presented()) != 1 {
				return false
			}
			if acceptAt <= max {
				return res.State == orchestrator.StateAccepted && len(res.Session.Records) == acceptAt
			}
			return res.State == orchestrator.StateExhausted && len(res.Session.Records) == max
		},
		gen.IntRange(1, 8),
	))

	properties.TestingRun(t)
}

func TestConcurrentSessions(t *testing.T) {
	planner := llmtest.Func(func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		return program(dsltest.LoginFormFixed())(ctx, req)
	})
	critic := llmtest.Func(func(ctx context.Context, req *llm.Request) (*llm.Response, error) {
		return accept()(ctx, req)
	})
	h := newHarness(t, planner, critic)

	const sessions = 8
	results := make([]*orchestrator.Result, sessions)
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.run(context.Background())
		}()
	}
	wg.Wait()

	ids := map[string]bool{}
	for _, res := range results {
		require.Equal(t, orchestrator.StateAccepted, res.State)
		require.Len(t, res.Session.Records, 1)
		ids[res.Session.ID] = true
	}
	assert.Len(t, ids, sessions)
	assert.Len(t, h.surface.Presented(), sessions)
}
