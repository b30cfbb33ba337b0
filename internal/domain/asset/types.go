// Package asset defines stored files and the storage-key conventions that
// place them in the object store. Keys are derived, never user-supplied:
// path components are percent-decoded and stripped of traversal sequences
// and control characters before they touch a key.
package asset

import (
	"time"

	"github.com/google/uuid"
)

// Asset is one stored file. ContentHash is the hex MD5 of the bytes and
// doubles as the strong ETag for conditional requests.
type Asset struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	FileName    string
	StorageKey  string
	MimeType    string
	Size        int64
	ContentHash string

	// Deployment coordinates; empty for standalone uploads.
	CommitSHA    string
	Branch       string
	DeploymentID *uuid.UUID

	// PublicPath is the serving path relative to the deployment root,
	// without a leading slash. Empty for standalone uploads.
	PublicPath string

	UploadedBy *uuid.UUID
	CreatedAt  time.Time
}

// CommitStat summarizes one commit's assets for retention candidate
// selection.
type CommitStat struct {
	CommitSHA  string
	Branch     string
	OldestAt   time.Time
	AssetCount int
	TotalBytes int64
}
