package metrics_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"canvas-studio/entities/gateway"
	"canvas-studio/entities/orchestrator"
	"canvas-studio/tools/display"
	"canvas-studio/tools/dsl/dsltest"
	"canvas-studio/tools/llm/llmtest"
	"canvas-studio/tools/logger"
	"canvas-studio/tools/metrics"
	"canvas-studio/tools/render"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func counter(t *testing.T, data metricdata.Aggregation, key, value string) int64 {
	t.Helper()
	sum, ok := data.(metricdata.Sum[int64])
	require.True(t, ok, "not an int64 sum: %T", data)
	var total int64
	for _, dp := range sum.DataPoints {
		if key == "" {
			total += dp.Value
			continue
		}
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestRecorderCountsSession(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec, err := metrics.NewRecorder(provider.Meter(metrics.MeterName))
	require.NoError(t, err)

	planner := llmtest.NewScript(
		llmtest.Timeout(),
		llmtest.Reply(dsltest.Document(dsltest.LoginForm())),
		llmtest.Reply(dsltest.Document(dsltest.LoginFormFixed())),
	)
	critic := llmtest.NewScript(
		llmtest.ReplyJSON(map[string]string{"verdict": "reject", "reason": "submit button overlaps second field"}),
		llmtest.ReplyJSON(map[string]string{"verdict": "accept", "reason": "ok"}),
	)
	g, err := gateway.New(gateway.Config{
		Planner: gateway.Route{Client: planner},
		Critic:  gateway.Route{Client: critic},
		Log:     logger.Discard(),
	})
	require.NoError(t, err)
	orch, err := orchestrator.New(orchestrator.DefaultConfig(), g, render.New(), display.NewMemorySurface(0),
		orchestrator.WithLogger(logger.Discard()), orchestrator.WithObservers(rec))
	require.NoError(t, err)

	res := orch.Run(context.Background(), orchestrator.Request{Intent: "login form", Canvas: dsltest.Canvas})
	require.Equal(t, orchestrator.StateAccepted, res.State)

	data := collect(t, reader)
	assert.EqualValues(t, 2, counter(t, data["canvas.iterations"], "", ""))
	assert.EqualValues(t, 1, counter(t, data["canvas.verdicts"], "verdict", "reject"))
	assert.EqualValues(t, 1, counter(t, data["canvas.verdicts"], "verdict", "accept"))
	assert.EqualValues(t, 1, counter(t, data["canvas.sessions"], "state", "accepted"))
	assert.EqualValues(t, 1, counter(t, data["canvas.retries"], "state", "generating"))
	assert.EqualValues(t, 400, counter(t, data["canvas.tokens"], "kind", "input"))
	assert.EqualValues(t, 80, counter(t, data["canvas.tokens"], "kind", "output"))

	hist, ok := data["canvas.cost_usd"].(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.EqualValues(t, 1, hist.DataPoints[0].Count)
	assert.Contains(t, data, "canvas.session.duration")
}

func TestRecorderFailedReason(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec, err := metrics.NewRecorder(provider.Meter(metrics.MeterName))
	require.NoError(t, err)

	rec.OnEvent(orchestrator.Event{From: orchestrator.StateGenerating, To: orchestrator.StateFailed, Reason: "transport"})

	data := collect(t, reader)
	assert.EqualValues(t, 1, counter(t, data["canvas.sessions"], "reason", "transport"))
	assert.NotContains(t, data, "canvas.cost_usd", "no session, no cost")
}

func TestRecorderGlobalMeter(t *testing.T) {
	rec, err := metrics.NewRecorder(nil)
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		rec.OnEvent(orchestrator.Event{To: orchestrator.StateAccepted, Session: &orchestrator.Session{}})
	})
}
