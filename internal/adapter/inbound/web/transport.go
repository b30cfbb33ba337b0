package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pagegate/pagegate/internal/port/inbound"
	"github.com/pagegate/pagegate/internal/port/outbound"
)

// Transport is the public serving listener. It assembles the middleware
// chain around the serving handler and carries the health, metrics, and
// admin mounts on the same port.
type Transport struct {
	handler http.Handler
	server  *http.Server

	addr              string
	adminHandler      http.Handler
	healthChecker     *HealthChecker
	sessionValidator  outbound.SessionValidator
	sessionCookie     string
	readHeaderTimeout time.Duration
	shutdownTimeout   time.Duration

	registry *prometheus.Registry
	metrics  *Metrics
	logger   *slog.Logger
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address. Default is "127.0.0.1:8080".
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithLogger sets the logger for the transport and its middleware.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithAdminHandler mounts the admin API under /admin/.
func WithAdminHandler(h http.Handler) Option {
	return func(t *Transport) {
		t.adminHandler = h
	}
}

// WithHealthChecker sets the checker behind /healthz.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(t *Transport) {
		t.healthChecker = hc
	}
}

// WithSessionValidator enables session resolution from the named cookie.
func WithSessionValidator(v outbound.SessionValidator, cookieName string) Option {
	return func(t *Transport) {
		t.sessionValidator = v
		t.sessionCookie = cookieName
	}
}

// WithMetrics shares an existing registry and instrument set, so the
// handler's decision counters land on the same /metrics output.
func WithMetrics(m *Metrics, reg *prometheus.Registry) Option {
	return func(t *Transport) {
		t.metrics = m
		t.registry = reg
	}
}

// WithTimeouts overrides the header-read and graceful-drain budgets.
func WithTimeouts(readHeader, shutdown time.Duration) Option {
	return func(t *Transport) {
		if readHeader > 0 {
			t.readHeaderTimeout = readHeader
		}
		if shutdown > 0 {
			t.shutdownTimeout = shutdown
		}
	}
}

// NewTransport creates the serving listener around the given handler.
func NewTransport(handler http.Handler, opts ...Option) *Transport {
	t := &Transport{
		handler:           handler,
		addr:              "127.0.0.1:8080",
		sessionCookie:     "pagegate_session",
		readHeaderTimeout: 10 * time.Second,
		shutdownTimeout:   10 * time.Second,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.registry == nil {
		t.registry = prometheus.NewRegistry()
		t.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics(t.registry)
	}
	return t
}

// Routes assembles the full mux: operational endpoints first, the admin
// mount when configured, and the middleware-wrapped serving handler as
// the catch-all.
func (t *Transport) Routes() http.Handler {
	// Middleware order (outermost first): metrics capture the full
	// duration, the span covers everything below it, request ID enriches
	// the logger, then the client IP and session identity land in
	// context.
	serving := t.handler
	serving = SessionMiddleware(t.sessionValidator, t.sessionCookie)(serving)
	serving = RealIPMiddleware(serving)
	serving = RequestIDMiddleware(t.logger)(serving)
	serving = TracingMiddleware()(serving)
	serving = MetricsMiddleware(t.metrics)(serving)

	mux := http.NewServeMux()
	if t.healthChecker != nil {
		mux.Handle("/healthz", t.healthChecker.Handler())
	} else {
		mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		}))
	}
	mux.Handle("/metrics", promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{Registry: t.registry}))
	if t.adminHandler != nil {
		mux.Handle("/admin/", t.adminHandler)
		mux.Handle("/admin", t.adminHandler)
	}
	mux.Handle("/", serving)
	return mux
}

// Start begins accepting connections. It blocks until the context is
// cancelled or the listener fails, and drains gracefully on cancel.
func (t *Transport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Routes(),
		ReadHeaderTimeout: t.readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		t.logger.Info("starting serving listener", "addr", t.addr)
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, draining serving listener")
		drainCtx, cancel := context.WithTimeout(context.Background(), t.shutdownTimeout)
		defer cancel()
		return t.Shutdown(drainCtx)
	case err := <-errCh:
		return err
	}
}

// Shutdown drains in-flight requests within the context deadline.
func (t *Transport) Shutdown(ctx context.Context) error {
	if t.server == nil {
		return nil
	}
	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("serving listener shutdown failed", "error", err)
		return err
	}
	t.logger.Info("serving listener shutdown complete")
	return nil
}

var _ inbound.Server = (*Transport)(nil)
