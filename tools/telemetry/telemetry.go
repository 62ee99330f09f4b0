// Package telemetry installs the OpenTelemetry providers. Metrics are
// always collected in process for the exit summary; with an OTLP endpoint
// configured, traces and metrics are also exported over gRPC.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"canvas-studio/tools/logger"
)

// Config configures export.
type Config struct {
	ServiceName string `toml:"service_name"`
	// Endpoint is an OTLP gRPC host:port; empty disables export.
	Endpoint   string        `toml:"endpoint"`
	Insecure   bool          `toml:"insecure"`
	SampleRate float64       `toml:"sample_rate"`
	Interval   time.Duration `toml:"interval"`
}

// DefaultConfig exports nothing and samples every trace.
func DefaultConfig() Config {
	return Config{ServiceName: "canvas-studio", SampleRate: 1, Interval: 15 * time.Second}
}

// Provider owns the installed providers.
type Provider struct {
	traces  *sdktrace.TracerProvider
	metrics *sdkmetric.MeterProvider
	reader  *sdkmetric.ManualReader
	log     *logger.Logger
}

// Setup creates the providers and installs them as the otel globals.
func Setup(ctx context.Context, cfg Config, log *logger.Logger) (*Provider, error) {
	if log == nil {
		log = logger.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultConfig().ServiceName
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	p := &Provider{reader: sdkmetric.NewManualReader(), log: log.WithPrefix("telemetry")}
	metricOpts := []sdkmetric.Option{sdkmetric.WithResource(res), sdkmetric.WithReader(p.reader)}
	traceOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res), sdktrace.WithSampler(sampler(cfg.SampleRate))}

	if cfg.Endpoint != "" {
		var mopts []otlpmetricgrpc.Option
		var topts []otlptracegrpc.Option
		mopts = append(mopts, otlpmetricgrpc.WithEndpoint(cfg.Endpoint))
		topts = append(topts, otlptracegrpc.WithEndpoint(cfg.Endpoint))
		if cfg.Insecure {
			mopts = append(mopts, otlpmetricgrpc.WithInsecure())
			topts = append(topts, otlptracegrpc.WithInsecure())
		}

		metricExp, err := otlpmetricgrpc.New(ctx, mopts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create metric exporter: %w", err)
		}
		traceExp, err := otlptracegrpc.New(ctx, topts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		metricOpts = append(metricOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(cfg.Interval))))
		traceOpts = append(traceOpts, sdktrace.WithBatcher(traceExp))
		p.log.Info("Exporting telemetry to %s", cfg.Endpoint)
	}

	p.metrics = sdkmetric.NewMeterProvider(metricOpts...)
	p.traces = sdktrace.NewTracerProvider(traceOpts...)
	otel.SetMeterProvider(p.metrics)
	otel.SetTracerProvider(p.traces)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return p, nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	}
	return sdktrace.TraceIDRatioBased(rate)
}

// Meter returns a meter from the installed provider.
func (p *Provider) Meter(name string) metric.Meter {
	return p.metrics.Meter(name)
}

// Reader is the in-process metric reader.
func (p *Provider) Reader() *sdkmetric.ManualReader {
	return p.reader
}

// Shutdown flushes and stops both providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.traces.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown trace provider: %w", err))
	}
	if err := p.metrics.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown metric provider: %w", err))
	}
	err := errors.Join(errs...)
	if err != nil {
		p.log.Warn("%v", err)
	}
	return err
}
