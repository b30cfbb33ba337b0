// Package outbound defines the outbound port interfaces for object
// storage, email transport, and usage reporting.
package outbound

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by Storage implementations when the key
// does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Storage is the outbound port for asset bytes. Adapters implement this
// over S3-compatible stores and the local filesystem.
type Storage interface {
	// Upload streams an object into the store under key.
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error

	// Download opens an object for streaming. The caller closes the
	// reader. Returns ErrObjectNotFound when the key is absent.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether the key is present without fetching bytes.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes one object. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes every object under prefix and reports how many
	// went away.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// GetURL returns a direct URL for the object, for diagnostics and
	// admin responses. The URL is not signed and may not be reachable
	// from outside the deployment.
	GetURL(key string) string
}

// Mailer is the outbound port for form-handler email dispatch.
type Mailer interface {
	// Send delivers one message. HTML may be empty for text-only mail.
	Send(ctx context.Context, msg *Message) error

	// CheckHealth verifies the transport is reachable, for readiness.
	CheckHealth(ctx context.Context) error
}

// Message is one outbound email.
type Message struct {
	To      string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
}

// UsageReporter is the outbound port for pushing storage deltas to the
// control plane. Implementations must be safe for fire-and-forget use.
type UsageReporter interface {
	// ReportFreed records bytes released by retention for a project.
	ReportFreed(ctx context.Context, projectID string, freedBytes int64, at time.Time) error

	// ReportStored records bytes added by an upload for a project.
	ReportStored(ctx context.Context, projectID string, storedBytes int64, at time.Time) error
}
