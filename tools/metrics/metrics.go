// Package metrics turns session transitions into OpenTelemetry metrics.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"canvas-studio/entities/orchestrator"
)

// MeterName is the instrumentation scope of the recorder.
const MeterName = "canvas-studio"

// Recorder is an orchestrator.Observer. Instruments are safe for concurrent
// use, so one Recorder serves every session.
type Recorder struct {
	iterations metric.Int64Counter
	tokens     metric.Int64Counter
	verdicts   metric.Int64Counter
	sessions   metric.Int64Counter
	retries    metric.Int64Counter
	cost       metric.Float64Histogram
	duration   metric.Float64Histogram
}

// NewRecorder creates the instruments on meter, or on the global meter
// provider when meter is nil.
func NewRecorder(meter metric.Meter) (*Recorder, error) {
	if meter == nil {
		meter = otel.Meter(MeterName)
	}
	r := &Recorder{}
	var err error

	if r.iterations, err = meter.Int64Counter("canvas.iterations",
		metric.WithDescription("Completed generate, render and critique passes"),
		metric.WithUnit("{iteration}"),
	); err != nil {
		return nil, fmt.Errorf("create iterations counter: %w", err)
	}
	if r.tokens, err = meter.Int64Counter("canvas.tokens",
		metric.WithDescription("Model tokens by kind"),
		metric.WithUnit("{token}"),
	); err != nil {
		return nil, fmt.Errorf("create tokens counter: %w", err)
	}
	if r.verdicts, err = meter.Int64Counter("canvas.verdicts",
		metric.WithDescription("Critic verdicts"),
		metric.WithUnit("{verdict}"),
	); err != nil {
		return nil, fmt.Errorf("create verdicts counter: %w", err)
	}
	if r.sessions, err = meter.Int64Counter("canvas.sessions",
		metric.WithDescription("Sessions by terminal state"),
		metric.WithUnit("{session}"),
	); err != nil {
		return nil, fmt.Errorf("create sessions counter: %w", err)
	}
	if r.retries, err = meter.Int64Counter("canvas.retries",
		metric.WithDescription("Corrective and transport retries"),
		metric.WithUnit("{retry}"),
	); err != nil {
		return nil, fmt.Errorf("create retries counter: %w", err)
	}
	if r.cost, err = meter.Float64Histogram("canvas.cost_usd",
		metric.WithDescription("Estimated model cost per session"),
		metric.WithUnit("USD"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1),
	); err != nil {
		return nil, fmt.Errorf("create cost histogram: %w", err)
	}
	if r.duration, err = meter.Float64Histogram("canvas.session.duration",
		metric.WithDescription("Session wall time"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}
	return r, nil
}

func (r *Recorder) OnEvent(e orchestrator.Event) {
	ctx := context.Background()

	r.addTokens(ctx, "input", e.Usage.InputTokens)
	r.addTokens(ctx, "output", e.Usage.OutputTokens)
	r.addTokens(ctx, "cache_read", e.Usage.CacheReadTokens)
	r.addTokens(ctx, "cache_write", e.Usage.CacheWriteTokens)

	if e.From == e.To {
		r.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("state", e.From.String())))
	}
	if e.Verdict != nil {
		r.iterations.Add(ctx, 1)
		verdict := "reject"
		if e.Verdict.Accept {
			verdict = "accept"
		}
		r.verdicts.Add(ctx, 1, metric.WithAttributes(attribute.String("verdict", verdict)))
	}
	if !e.To.Terminal() {
		return
	}

	attrs := []attribute.KeyValue{attribute.String("state", e.To.String())}
	if e.To == orchestrator.StateFailed && e.Reason != "" {
		attrs = append(attrs, attribute.String("reason", e.Reason))
	}
	r.sessions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if s := e.Session; s != nil {
		r.cost.Record(ctx, s.CostUSD, metric.WithAttributes(attrs[0]))
		if !s.Started.IsZero() && !e.Time.IsZero() {
			r.duration.Record(ctx, e.Time.Sub(s.Started).Seconds(), metric.WithAttributes(attrs[0]))
		}
	}
}

func (r *Recorder) addTokens(ctx context.Context, kind string, n int) {
	if n > 0 {
		r.tokens.Add(ctx, int64(n), metric.WithAttributes(attribute.String("kind", kind)))
	}
}
