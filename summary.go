package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"canvas-studio/entities/orchestrator"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).PaddingBottom(1)
	labelStyle  = lipgloss.NewStyle().Faint(true)
	boxStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	stateStyles = map[orchestrator.State]lipgloss.Style{
		orchestrator.StateAccepted:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true),
		orchestrator.StateExhausted: lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true),
		orchestrator.StateFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true),
	}
)

// renderSummary formats outcomes for the terminal.
func renderSummary(outcomes []*Outcome) string {
	rows := []string{titleStyle.Render("Canvas Studio")}
	for _, o := range outcomes {
		if o == nil || o.Result == nil {
			continue
		}
		res := o.Result
		name := o.Request.Name
		if name == "" {
			name = truncate(o.Request.Intent, 40)
		}
		state := stateStyles[res.State].Render(res.State.String())

		line := fmt.Sprintf("%s  %s  %s %d  %s $%.4f  %s %v",
			state, name,
			labelStyle.Render("iterations"), res.Session.Iterations(),
			labelStyle.Render("cost"), res.Session.CostUSD,
			labelStyle.Render("took"), o.Duration.Round(time.Millisecond))
		rows = append(rows, line)

		switch {
		case res.Failure != nil:
			rows = append(rows, "  "+labelStyle.Render("reason ")+res.Failure.Error())
		case res.PresentErr != nil:
			rows = append(rows, "  "+labelStyle.Render("present ")+res.PresentErr.Error())
		default:
			if res.Notice != "" {
				rows = append(rows, "  "+labelStyle.Render("notice ")+res.Notice)
			}
			rows = append(rows, "  "+labelStyle.Render("output ")+o.Request.Output)
		}
	}
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// renderMetrics lists the collected counters, one line per attribute set.
func renderMetrics(ctx context.Context, reader *sdkmetric.ManualReader) (string, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return "", fmt.Errorf("collect metrics: %w", err)
	}

	var lines []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				var attrs []string
				for _, kv := range dp.Attributes.ToSlice() {
					attrs = append(attrs, fmt.Sprintf("%s=%s", kv.Key, kv.Value.Emit()))
				}
				label := m.Name
				if len(attrs) > 0 {
					label += "{" + strings.Join(attrs, ",") + "}"
				}
				lines = append(lines, fmt.Sprintf("%s %d", labelStyle.Render(label), dp.Value))
			}
		}
	}
	if len(lines) == 0 {
		return "", nil
	}
	sort.Strings(lines)
	return boxStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		append([]string{titleStyle.Render("📊 Metrics")}, lines...)...)), nil
}
