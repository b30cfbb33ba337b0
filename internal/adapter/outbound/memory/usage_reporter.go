package memory

import (
	"context"
	"sync"
	"time"

	"github.com/pagegate/pagegate/internal/port/outbound"
)

// UsageReport is one recorded usage delta.
type UsageReport struct {
	ProjectID string
	Bytes     int64
	Reason    string
	At        time.Time
}

// UsageReporter implements outbound.UsageReporter by recording reports.
type UsageReporter struct {
	reports []UsageReport
	mu      sync.Mutex
}

// NewUsageReporter creates a recording usage reporter.
func NewUsageReporter() *UsageReporter {
	return &UsageReporter{}
}

// ReportFreed records a retention delta.
func (r *UsageReporter) ReportFreed(ctx context.Context, projectID string, freedBytes int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports = append(r.reports, UsageReport{ProjectID: projectID, Bytes: freedBytes, Reason: "retention", At: at})
	return nil
}

// ReportStored records an upload delta.
func (r *UsageReporter) ReportStored(ctx context.Context, projectID string, storedBytes int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reports = append(r.reports, UsageReport{ProjectID: projectID, Bytes: storedBytes, Reason: "upload", At: at})
	return nil
}

// Reports returns a copy of the recorded deltas.
func (r *UsageReporter) Reports() []UsageReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]UsageReport, len(r.reports))
	copy(out, r.reports)
	return out
}

var _ outbound.UsageReporter = (*UsageReporter)(nil)
