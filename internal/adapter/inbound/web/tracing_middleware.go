package web

import (
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/pagegate/pagegate/internal/adapter/inbound/web"

// TracingMiddleware opens a server span per request and counts requests
// on the OpenTelemetry meter. Both come from the global providers, so
// with telemetry disabled it is a passthrough.
func TracingMiddleware() func(http.Handler) http.Handler {
	tracer := otel.Tracer(instrumentationName)
	counter, err := otel.Meter(instrumentationName).Int64Counter("pagegate.http.requests",
		metric.WithDescription("Requests handled by the serving listener."),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		otel.Handle(err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), "serve "+r.Method,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.host", r.Host),
					attribute.String("url.path", r.URL.Path),
				),
			)
			defer span.End()

			wrapped := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrapped, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", wrapped.status))
			if wrapped.status >= 500 {
				span.SetStatus(codes.Error, http.StatusText(wrapped.status))
			}
			if counter != nil {
				counter.Add(ctx, 1, metric.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.Int("http.status_code", wrapped.status),
				))
			}
		})
	}
}
