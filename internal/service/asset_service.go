package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/port/outbound"
)

// Located is an asset resolved for serving.
type Located struct {
	Asset *asset.Asset

	// SPAFallback is true when the requested path missed and index.html
	// was substituted.
	SPAFallback bool
}

// AssetService locates asset rows and opens their bytes for streaming.
type AssetService struct {
	assets  asset.Store
	storage outbound.Storage
	logger  *slog.Logger
}

// NewAssetService wires the asset lookup against its store and the object
// storage.
func NewAssetService(assets asset.Store, storage outbound.Storage, logger *slog.Logger) *AssetService {
	return &AssetService{assets: assets, storage: storage, logger: logger}
}

// Locate resolves subpath within a commit. Empty and directory-style
// paths serve index.html; with spa set, misses retry index.html once.
// Returns asset.ErrAssetNotFound when nothing matches.
func (s *AssetService) Locate(ctx context.Context, projectID uuid.UUID, commitSHA, subpath string, spa bool) (*Located, error) {
	path := normalizeServePath(subpath)

	a, err := s.assets.GetByCommitPath(ctx, projectID, commitSHA, path)
	if err == nil {
		return &Located{Asset: a}, nil
	}
	if !errors.Is(err, asset.ErrAssetNotFound) {
		return nil, err
	}
	if !spa || path == "index.html" {
		return nil, asset.ErrAssetNotFound
	}

	a, err = s.assets.GetByCommitPath(ctx, projectID, commitSHA, "index.html")
	if err != nil {
		return nil, err
	}
	return &Located{Asset: a, SPAFallback: true}, nil
}

// Open streams the located asset's bytes. A row whose object is gone maps
// to asset.ErrAssetNotFound; a retention delete may have raced the lookup.
func (s *AssetService) Open(ctx context.Context, a *asset.Asset) (io.ReadCloser, error) {
	rc, err := s.storage.Download(ctx, a.StorageKey)
	if err != nil {
		if errors.Is(err, outbound.ErrObjectNotFound) {
			s.logger.Warn("asset row without object bytes",
				"asset_id", a.ID,
				"storage_key", a.StorageKey,
			)
			return nil, asset.ErrAssetNotFound
		}
		return nil, err
	}
	return rc, nil
}

// normalizeServePath maps URL subpaths onto stored public paths: no
// leading slash, directory requests land on index.html.
func normalizeServePath(subpath string) string {
	p := strings.TrimPrefix(subpath, "/")
	switch {
	case p == "":
		return "index.html"
	case strings.HasSuffix(p, "/"):
		return p + "index.html"
	default:
		return p
	}
}
