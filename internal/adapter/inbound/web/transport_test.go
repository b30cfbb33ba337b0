package web

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// markerHandler writes a marker so routing tests can see which handler
// answered.
func markerHandler(marker string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Handler", marker)
		fmt.Fprint(w, marker)
	})
}

// TestRoutesMounts verifies the mux layout: operational endpoints, the
// admin mount, and the serving catch-all.
func TestRoutesMounts(t *testing.T) {
	t.Parallel()

	tr := NewTransport(markerHandler("serving"),
		WithLogger(testLogger()),
		WithAdminHandler(markerHandler("admin")),
	)
	routes := tr.Routes()

	tests := []struct {
		path        string
		wantHandler string
	}{
		{"/admin/api/projects", "admin"},
		{"/admin", "admin"},
		{"/", "serving"},
		{"/public/acme/site/production/index.html", "serving"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://pages.example.com"+tt.path, nil))
			if got := rec.Header().Get("X-Handler"); got != tt.wantHandler {
				t.Errorf("%s reached %q, want %q", tt.path, got, tt.wantHandler)
			}
		})
	}
}

// TestRoutesHealthzStatic verifies the static liveness answer when no
// checker is configured.
func TestRoutesHealthzStatic(t *testing.T) {
	t.Parallel()

	tr := NewTransport(markerHandler("serving"), WithLogger(testLogger()))
	rec := httptest.NewRecorder()
	tr.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://x/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"healthy"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

// TestRoutesMetrics verifies /metrics exposes the shared registry,
// including samples recorded through the serving chain.
func TestRoutesMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := NewTransport(markerHandler("serving"),
		WithLogger(testLogger()),
		WithMetrics(m, reg),
	)
	routes := tr.Routes()

	// One request through the chain so the counter has a sample.
	routes.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://x/anything", nil))

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://x/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "pagegate_requests_total") {
		t.Errorf("metrics output missing request counter:\n%s", body)
	}
}

// TestMetricsMiddlewareSkipsOperational verifies /metrics and /healthz
// requests do not count themselves.
func TestMetricsMiddlewareSkipsOperational(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	tr := NewTransport(markerHandler("serving"),
		WithLogger(testLogger()),
		WithMetrics(m, reg),
	)
	routes := tr.Routes()

	for i := 0; i < 3; i++ {
		routes.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "http://x/metrics", nil))
	}

	rec := httptest.NewRecorder()
	routes.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://x/metrics", nil))
	if strings.Contains(rec.Body.String(), `pagegate_requests_total{method="GET"`) {
		t.Error("operational endpoints counted themselves")
	}
}

// TestServingChainOrder verifies the middleware chain delivers request id,
// client ip, and identity to the serving handler.
func TestServingChainOrder(t *testing.T) {
	t.Parallel()

	var (
		gotRequestID string
		gotClientIP  string
	)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = RequestIDFromContext(r.Context())
		gotClientIP = ClientIPFromContext(r.Context())
	})
	tr := NewTransport(inner, WithLogger(testLogger()))

	req := httptest.NewRequest(http.MethodGet, "http://x/page", nil)
	req.Header.Set("X-Request-ID", "chain-check")
	req.Header.Set("X-Forwarded-For", "203.0.113.50")
	tr.Routes().ServeHTTP(httptest.NewRecorder(), req)

	if gotRequestID != "chain-check" {
		t.Errorf("request id = %q", gotRequestID)
	}
	if gotClientIP != "203.0.113.50" {
		t.Errorf("client ip = %q", gotClientIP)
	}
}
