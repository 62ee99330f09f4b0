package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gogpu/gg"
	"github.com/rivo/uniseg"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"canvas-studio/entities/gateway"
	"canvas-studio/entities/orchestrator"
	"canvas-studio/tools/archive"
	"canvas-studio/tools/config"
	"canvas-studio/tools/display"
	"canvas-studio/tools/llm"
	"canvas-studio/tools/logger"
	"canvas-studio/tools/metrics"
	"canvas-studio/tools/render"
)

// Studio wires the gateway, renderer and observers and runs requests.
type Studio struct {
	cfg       *config.Config
	models    orchestrator.Models
	renderer  *render.Renderer
	observers []orchestrator.Observer
	log       *logger.Logger
}

// NewStudio creates a studio from a validated configuration. meter may be
// nil to use the global meter provider.
func NewStudio(cfg *config.Config, log *logger.Logger, meter metric.Meter) (*Studio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration:\n%w", err)
	}
	gg.SetLogger(log.WithPrefix("gg").Slog())

	planner, err := newClient(cfg.Planner)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	critic, err := newClient(cfg.Critic)
	if err != nil {
		return nil, fmt.Errorf("critic: %w", err)
	}
	plannerSystem, err := cfg.Planner.SystemPrompt()
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}
	criticSystem, err := cfg.Critic.SystemPrompt()
	if err != nil {
		return nil, fmt.Errorf("critic: %w", err)
	}

	models, err := gateway.New(gateway.Config{
		Planner:       route(cfg.Planner, planner),
		Critic:        route(cfg.Critic, critic),
		Backoff:       cfg.Backoff.Gateway(),
		Pricing:       cfg.Pricing,
		PlannerSystem: plannerSystem,
		CriticSystem:  criticSystem,
		Log:           log,
	})
	if err != nil {
		return nil, err
	}

	return newStudio(cfg, models, log, meter)
}

// newStudio finishes wiring around an existing model gateway.
func newStudio(cfg *config.Config, models orchestrator.Models, log *logger.Logger, meter metric.Meter) (*Studio, error) {
	fonts := render.DefaultFonts()
	if len(cfg.Fonts.Fallbacks) > 0 {
		var problems []error
		fonts, problems = render.NewFonts(cfg.Fonts.Fallbacks)
		for _, p := range problems {
			log.Warn("%v", p)
		}
	}
	log.Debug("Fallback fonts: %s", strings.Join(fonts.Loaded(), ", "))

	opts := []render.Option{render.WithFonts(fonts)}
	if cfg.Assets.Dir != "" {
		opts = append(opts, render.WithAssets(render.DirAssets{Root: cfg.Assets.Dir}))
	}

	recorder, err := metrics.NewRecorder(meter)
	if err != nil {
		return nil, err
	}
	observers := []orchestrator.Observer{orchestrator.LogObserver(log), recorder}
	if cfg.Archive.Dir != "" {
		observers = append(observers, archive.New(cfg.Archive.Dir, log))
	}

	return &Studio{
		cfg:       cfg,
		models:    models,
		renderer:  render.New(opts...),
		observers: observers,
		log:       log,
	}, nil
}

func newClient(m config.Model) (llm.Client, error) {
	var opts []llm.Option
	if m.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(m.BaseURL))
	}
	switch m.Provider {
	case config.ProviderAnthropic:
		return llm.NewAnthropicClient(m.APIKey, m.Model, opts...), nil
	case config.ProviderOpenAI:
		opts = append(opts, llm.WithStrictSchema(m.Strict))
		return llm.NewOpenAIClient(m.APIKey, m.Model, opts...), nil
	}
	return nil, fmt.Errorf("unknown provider %q", m.Provider)
}

func route(m config.Model, client llm.Client) gateway.Route {
	r := gateway.Route{Client: client, Model: m.Model, MaxTokens: m.MaxTokens, Timeout: m.Timeout}
	if m.RatePerMinute > 0 {
		r.Limiter = rate.NewLimiter(rate.Limit(m.RatePerMinute/60), 1)
	}
	return r
}

// Generate runs one request to a terminal state. The returned error covers
// setup only; session failures are in the outcome.
func (s *Studio) Generate(ctx context.Context, req InterfaceRequest) (*Outcome, error) {
	startTime := time.Now()
	if req.Output == "" {
		req.Output = s.cfg.Output.Path
	}
	if err := os.MkdirAll(filepath.Dir(req.Output), 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	log := s.log
	if req.Name != "" {
		log = log.With("request", req.Name)
	}
	log.Banner("Designing interface")
	log.Info("Intent: %s", truncate(req.Intent, 100))
	log.Info("Canvas: %s", s.cfg.Canvas)

	orch, err := orchestrator.New(s.cfg.Loop, s.models, s.renderer, display.NewPNGSurface(req.Output),
		orchestrator.WithLogger(log),
		orchestrator.WithObservers(s.observers...),
	)
	if err != nil {
		return nil, err
	}

	log.Info("")
	log.Info("PHASE 1: Generate and review")
	log.Info("─────────────────────────────────────────────────────────────────")
	res := orch.Run(ctx, orchestrator.Request{Intent: req.Intent, Canvas: s.cfg.Canvas})

	out := &Outcome{Request: req, Result: res, Duration: time.Since(startTime)}

	log.Info("")
	log.Info("═══════════════════════════════════════════════════════════════")
	log.Info("Session %s: %s", res.Session.ID, res.State)
	log.Info("Iterations: %d", res.Session.Iterations())
	log.Info("Total time: %v", out.Duration.Round(time.Millisecond))
	log.Info("Estimated cost: $%.4f", res.Session.CostUSD)
	if res.Notice != "" {
		log.Warn("%s", res.Notice)
	}
	if out.Succeeded() && res.PresentErr == nil {
		log.Info("Output: %s", req.Output)
	}
	log.Info("═══════════════════════════════════════════════════════════════")
	return out, nil
}

// GenerateAll runs requests concurrently, at most parallel at a time.
func (s *Studio) GenerateAll(ctx context.Context, reqs []InterfaceRequest, parallel int) ([]*Outcome, error) {
	outcomes := make([]*Outcome, len(reqs))
	g, ctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, req := range reqs {
		g.Go(func() error {
			out, err := s.Generate(ctx, req)
			if err != nil {
				return fmt.Errorf("%s: %w", req.Name, err)
			}
			outcomes[i] = out
			return nil
		})
	}
	return outcomes, g.Wait()
}

// batchRequests turns intents into requests with distinct output files
// next to base.
func batchRequests(intents []string, base string) []InterfaceRequest {
	dir := filepath.Dir(base)
	ext := filepath.Ext(base)
	reqs := make([]InterfaceRequest, 0, len(intents))
	for i, intent := range intents {
		name := fmt.Sprintf("%02d_%s", i+1, sanitize(intent))
		reqs = append(reqs, InterfaceRequest{
			Intent:    intent,
			Name:      name,
			Output:    filepath.Join(dir, name+ext),
			CreatedAt: time.Now(),
		})
	}
	return reqs
}

// sanitize creates a safe filename from a string
func sanitize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	var safe strings.Builder
	for _, c := range s {
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			safe.WriteRune(c)
		}
	}
	out := safe.String()
	if len(out) > 40 {
		out = out[:40]
	}
	return out
}

// truncate shortens s to max grapheme clusters, ending with an ellipsis.
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if uniseg.GraphemeClusterCount(s) <= max {
		return s
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	for n := 0; n < max-3 && g.Next(); n++ {
		b.WriteString(g.Str())
	}
	return b.String() + "..."
}
