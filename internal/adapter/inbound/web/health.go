package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/pagegate/pagegate/internal/port/outbound"
)

// healthCheckBudget bounds each component probe.
const healthCheckBudget = 2 * time.Second

// HealthResponse is the JSON body of the /healthz endpoint.
type HealthResponse struct {
	Status  string            `json:"status"` // "healthy" or "unhealthy"
	Checks  map[string]string `json:"checks"`
	Version string            `json:"version,omitempty"`
}

// Pinger is the database surface the checker needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthChecker verifies the serving plane's dependencies. The database
// and object store decide liveness; the mailer only degrades forms, so
// its failure is reported without flipping the status.
type HealthChecker struct {
	db      Pinger
	storage outbound.Storage
	mailer  outbound.Mailer
	version string
}

// NewHealthChecker creates a HealthChecker. Pass nil for components that
// are not configured.
func NewHealthChecker(db Pinger, storage outbound.Storage, mailer outbound.Mailer, version string) *HealthChecker {
	return &HealthChecker{db: db, storage: storage, mailer: mailer, version: version}
}

// Check probes each component within a short budget.
func (h *HealthChecker) Check(ctx context.Context) HealthResponse {
	ctx, cancel := context.WithTimeout(ctx, healthCheckBudget)
	defer cancel()

	checks := make(map[string]string)
	healthy := true

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			checks["database"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["database"] = "ok"
		}
	} else {
		checks["database"] = "not configured"
	}

	if h.storage != nil {
		// Existence of the probe key is irrelevant; reachability is not.
		if _, err := h.storage.Exists(ctx, ".pagegate-health-probe"); err != nil {
			checks["storage"] = "error: " + err.Error()
			healthy = false
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not configured"
	}

	if h.mailer != nil {
		if err := h.mailer.CheckHealth(ctx); err != nil {
			checks["mailer"] = "degraded: " + err.Error()
		} else {
			checks["mailer"] = "ok"
		}
	} else {
		checks["mailer"] = "not configured"
	}

	checks["goroutines"] = fmt.Sprintf("%d", runtime.NumGoroutine())

	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	return HealthResponse{Status: status, Checks: checks, Version: h.version}
}

// Handler returns the /healthz HTTP handler.
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := h.Check(r.Context())

		w.Header().Set("Content-Type", "application/json")
		if health.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(health)
	})
}
