package service

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/domain/project"
	"github.com/pagegate/pagegate/internal/port/outbound"
)

// ErrQuotaExceeded is returned when an upload would push a project past
// its storage quota and the project blocks on quota.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// IngestService stores uploaded files: quota check, object write, content
// hash, metadata row, and the auto-preview alias for fresh commits.
type IngestService struct {
	projects project.Store
	assets   asset.Store
	aliases  alias.Store
	storage  outbound.Storage
	usage    outbound.UsageReporter
	clock    clockwork.Clock
	logger   *slog.Logger
}

// NewIngestService wires the upload pipeline. usage may be nil when no
// control plane is configured.
func NewIngestService(projects project.Store, assets asset.Store, aliases alias.Store, storage outbound.Storage, usage outbound.UsageReporter, clock clockwork.Clock, logger *slog.Logger) *IngestService {
	return &IngestService{
		projects: projects,
		assets:   assets,
		aliases:  aliases,
		storage:  storage,
		usage:    usage,
		clock:    clock,
		logger:   logger,
	}
}

// UploadInput describes one file to ingest.
type UploadInput struct {
	ProjectID uuid.UUID
	FileName  string
	MimeType  string
	Size      int64
	Body      io.Reader

	// Deployment coordinates; all empty for standalone uploads.
	CommitSHA    string
	Branch       string
	DeploymentID *uuid.UUID
	PublicPath   string

	UploadedBy *uuid.UUID
}

// Upload runs the ingest pipeline for one file. The asset row is written
// after the object, so a failure can orphan bytes but never a row.
func (s *IngestService) Upload(ctx context.Context, in UploadInput) (*asset.Asset, error) {
	proj, err := s.projects.Get(ctx, in.ProjectID)
	if err != nil {
		return nil, err
	}

	if err := s.checkQuota(ctx, proj, in.Size); err != nil {
		return nil, err
	}

	id := uuid.New()
	now := s.clock.Now().UTC()

	var key string
	if in.CommitSHA != "" {
		key, err = asset.CommitKey(proj.Owner, proj.Name, in.CommitSHA, in.PublicPath, in.FileName)
	} else {
		key, err = asset.UploadKey(proj.Owner, proj.Name, now, id.String(), in.FileName)
	}
	if err != nil {
		return nil, fmt.Errorf("derive storage key: %w", err)
	}

	// Hash while streaming so large files never sit in memory.
	hasher := md5.New()
	body := io.TeeReader(in.Body, hasher)
	if err := s.storage.Upload(ctx, key, body, in.Size, in.MimeType); err != nil {
		return nil, fmt.Errorf("store object %s: %w", key, err)
	}

	publicPath := in.PublicPath
	if in.CommitSHA != "" && publicPath == "" {
		if publicPath, err = asset.SanitizePath(in.FileName); err != nil {
			return nil, err
		}
	}

	a := &asset.Asset{
		ID:           id,
		ProjectID:    proj.ID,
		FileName:     in.FileName,
		StorageKey:   key,
		MimeType:     in.MimeType,
		Size:         in.Size,
		ContentHash:  hex.EncodeToString(hasher.Sum(nil)),
		CommitSHA:    in.CommitSHA,
		Branch:       in.Branch,
		DeploymentID: in.DeploymentID,
		PublicPath:   publicPath,
		UploadedBy:   in.UploadedBy,
		CreatedAt:    now,
	}
	if err := s.assets.Create(ctx, a); err != nil {
		if errors.Is(err, asset.ErrDuplicateStorageKey) && in.CommitSHA != "" {
			// Re-deploy of the same commit path: the object is already
			// replaced, so bring the row along.
			return s.replaceExisting(ctx, a)
		}
		// Any other insert failure leaves freshly written bytes without a
		// row; remove them.
		if delErr := s.storage.Delete(ctx, key); delErr != nil {
			s.logger.Warn("orphaned object after row insert failure",
				"storage_key", key,
				"error", delErr,
			)
		}
		return nil, err
	}

	if in.CommitSHA != "" {
		s.mintAutoPreview(ctx, proj.ID, in.CommitSHA, in.DeploymentID)
	}
	s.reportStored(proj.ID, in.Size, now)

	return a, nil
}

// replaceExisting updates the row already holding the storage key with
// the fresh upload's metadata.
func (s *IngestService) replaceExisting(ctx context.Context, fresh *asset.Asset) (*asset.Asset, error) {
	existing, err := s.assets.GetByCommitPath(ctx, fresh.ProjectID, fresh.CommitSHA, fresh.PublicPath)
	if err != nil {
		return nil, fmt.Errorf("load replaced asset: %w", err)
	}
	existing.FileName = fresh.FileName
	existing.MimeType = fresh.MimeType
	existing.Size = fresh.Size
	existing.ContentHash = fresh.ContentHash
	existing.DeploymentID = fresh.DeploymentID
	existing.UploadedBy = fresh.UploadedBy
	existing.CreatedAt = fresh.CreatedAt
	if err := s.assets.Update(ctx, existing); err != nil {
		return nil, fmt.Errorf("replace asset row: %w", err)
	}
	s.logger.Debug("replaced commit asset",
		"project_id", fresh.ProjectID,
		"commit_sha", fresh.CommitSHA,
		"public_path", fresh.PublicPath,
	)
	return existing, nil
}

// checkQuota enforces the project's storage quota. Notify-behavior
// projects log and proceed.
func (s *IngestService) checkQuota(ctx context.Context, proj *project.Project, size int64) error {
	if proj.StorageQuotaBytes == nil {
		return nil
	}
	used, err := s.assets.TotalSize(ctx, proj.ID)
	if err != nil {
		return err
	}
	if used+size <= *proj.StorageQuotaBytes {
		return nil
	}
	if proj.QuotaBehavior == project.QuotaNotify {
		s.logger.Warn("project over storage quota",
			"project", proj.Slug(),
			"used_bytes", used,
			"quota_bytes", *proj.StorageQuotaBytes,
		)
		return nil
	}
	return ErrQuotaExceeded
}

// mintAutoPreview ensures a preview alias exists for the commit. Races
// with a concurrent upload of the same commit are benign.
func (s *IngestService) mintAutoPreview(ctx context.Context, projectID uuid.UUID, commitSHA string, deploymentID *uuid.UUID) {
	name := alias.AutoPreviewName(commitSHA)
	_, err := s.aliases.GetByName(ctx, projectID, name)
	if err == nil {
		return
	}
	if !errors.Is(err, alias.ErrAliasNotFound) {
		s.logger.Warn("auto-preview lookup failed", "error", err)
		return
	}

	al := &alias.Alias{
		ID:            uuid.New(),
		ProjectID:     projectID,
		Name:          name,
		CommitSHA:     commitSHA,
		DeploymentID:  deploymentID,
		IsAutoPreview: true,
		CreatedAt:     s.clock.Now().UTC(),
	}
	if err := s.aliases.Create(ctx, al); err != nil && !errors.Is(err, alias.ErrDuplicateAlias) {
		s.logger.Warn("auto-preview alias create failed",
			"project_id", projectID,
			"commit_sha", commitSHA,
			"error", err,
		)
	}
}

// reportStored pushes the upload delta to the control plane without
// blocking the response.
func (s *IngestService) reportStored(projectID uuid.UUID, size int64, at time.Time) {
	if s.usage == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.usage.ReportStored(ctx, projectID.String(), size, at); err != nil {
			s.logger.Warn("usage report failed", "project_id", projectID, "error", err)
		}
	}()
}
