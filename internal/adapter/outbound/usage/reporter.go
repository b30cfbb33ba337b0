// Package usage reports storage deltas to the control plane. Callers
// treat the reporter as fire-and-forget: failures are returned for
// logging but never block serving or retention.
package usage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pagegate/pagegate/internal/port/outbound"
)

const requestTimeout = 5 * time.Second

// Config identifies this deployment to the control plane.
type Config struct {
	ControlPlaneURL string
	WorkspaceID     string
	WorkspaceSecret string
}

// Reporter posts usage deltas with workspace bearer auth.
type Reporter struct {
	baseURL    string
	workspace  string
	secret     string
	httpClient *http.Client
}

// NewReporter builds a reporter. The HTTP client carries its own timeout
// so callers can fire-and-forget without a deadline.
func NewReporter(cfg Config) *Reporter {
	return &Reporter{
		baseURL:   strings.TrimRight(cfg.ControlPlaneURL, "/"),
		workspace: cfg.WorkspaceID,
		secret:    cfg.WorkspaceSecret,
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// usageDelta is the control-plane wire format for one usage change.
type usageDelta struct {
	WorkspaceID string    `json:"workspaceId"`
	ProjectID   string    `json:"projectId"`
	DeltaBytes  int64     `json:"deltaBytes"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurredAt"`
}

// ReportFreed records bytes released by retention for a project.
func (r *Reporter) ReportFreed(ctx context.Context, projectID string, freedBytes int64, at time.Time) error {
	return r.post(ctx, usageDelta{
		WorkspaceID: r.workspace,
		ProjectID:   projectID,
		DeltaBytes:  -freedBytes,
		Reason:      "retention",
		OccurredAt:  at.UTC(),
	})
}

// ReportStored records bytes added by an upload for a project.
func (r *Reporter) ReportStored(ctx context.Context, projectID string, storedBytes int64, at time.Time) error {
	return r.post(ctx, usageDelta{
		WorkspaceID: r.workspace,
		ProjectID:   projectID,
		DeltaBytes:  storedBytes,
		Reason:      "upload",
		OccurredAt:  at.UTC(),
	})
}

func (r *Reporter) post(ctx context.Context, delta usageDelta) error {
	url := r.baseURL + "/api/v1/usage/storage"

	jsonBody, err := json.Marshal(delta)
	if err != nil {
		return fmt.Errorf("marshal usage delta: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create usage request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.secret)

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post usage delta: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))
		return fmt.Errorf("control plane returned %d: %s", httpResp.StatusCode, string(respBody))
	}
	return nil
}

var _ outbound.UsageReporter = (*Reporter)(nil)
