// Package telemetry installs the process-wide OpenTelemetry providers.
// Both signals export to stdout as JSON lines, where the platform's log
// shipper collects them; PageGate never opens its own collector
// connection.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Config selects which signals to export. Both default to off.
type Config struct {
	// Tracing enables span export.
	Tracing bool
	// Metrics enables periodic metric export.
	Metrics bool
	// ExportInterval is the metric flush cadence. Zero means one minute.
	ExportInterval time.Duration
	// Version is recorded on the resource as service.version.
	Version string
	// Writer overrides the export destination. Nil means stdout.
	Writer io.Writer
}

// Setup installs global tracer and meter providers per cfg and returns
// a shutdown function that flushes whatever was installed. With both
// signals disabled nothing is installed and shutdown is a no-op.
func Setup(cfg Config, logger *slog.Logger) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if !cfg.Tracing && !cfg.Metrics {
		return noop, nil
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "pagegate"),
		attribute.String("service.version", cfg.Version),
	))
	if err != nil {
		return nil, fmt.Errorf("building telemetry resource: %w", err)
	}

	var traceOpts []stdouttrace.Option
	var metricOpts []stdoutmetric.Option
	if cfg.Writer != nil {
		traceOpts = append(traceOpts, stdouttrace.WithWriter(cfg.Writer))
		metricOpts = append(metricOpts, stdoutmetric.WithWriter(cfg.Writer))
	}

	var shutdowns []func(context.Context) error

	if cfg.Tracing {
		exp, err := stdouttrace.New(traceOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
		shutdowns = append(shutdowns, tp.Shutdown)
		logger.Info("trace export enabled", "exporter", "stdout")
	}

	if cfg.Metrics {
		exp, err := stdoutmetric.New(metricOpts...)
		if err != nil {
			return nil, fmt.Errorf("creating metric exporter: %w", err)
		}
		interval := cfg.ExportInterval
		if interval <= 0 {
			interval = time.Minute
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
		)
		otel.SetMeterProvider(mp)
		shutdowns = append(shutdowns, mp.Shutdown)
		logger.Info("metric export enabled", "exporter", "stdout", "interval", interval)
	}

	return func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdowns {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}, nil
}
