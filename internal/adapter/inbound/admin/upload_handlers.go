package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/domain/project"
	"github.com/pagegate/pagegate/internal/service"
)

// maxUploadMemory bounds the multipart parser's in-memory buffer; larger
// parts spill to disk and the body itself streams to storage.
const maxUploadMemory = 10 << 20

// assetResponse is the JSON representation of an ingested file.
type assetResponse struct {
	ID           string `json:"id"`
	ProjectID    string `json:"projectId"`
	FileName     string `json:"fileName"`
	StorageKey   string `json:"storageKey"`
	URL          string `json:"url,omitempty"`
	MimeType     string `json:"mimeType"`
	Size         int64  `json:"size"`
	ContentHash  string `json:"contentHash"`
	CommitSHA    string `json:"commitSha,omitempty"`
	Branch       string `json:"branch,omitempty"`
	DeploymentID string `json:"deploymentId,omitempty"`
	PublicPath   string `json:"publicPath,omitempty"`
	CreatedAt    string `json:"createdAt"`
}

func (h *Handler) toAssetResponse(a *asset.Asset) assetResponse {
	resp := assetResponse{
		ID:           a.ID.String(),
		ProjectID:    a.ProjectID.String(),
		FileName:     a.FileName,
		StorageKey:   a.StorageKey,
		MimeType:     a.MimeType,
		Size:         a.Size,
		ContentHash:  a.ContentHash,
		CommitSHA:    a.CommitSHA,
		Branch:       a.Branch,
		DeploymentID: uuidPtrString(a.DeploymentID),
		PublicPath:   a.PublicPath,
		CreatedAt:    formatTime(a.CreatedAt),
	}
	if h.storage != nil {
		resp.URL = h.storage.GetURL(a.StorageKey)
	}
	return resp
}

// handleUpload ingests one multipart file into a project. Deployment
// uploads carry commitSha, branch, and publicPath form fields; standalone
// uploads carry none of them.
// POST /admin/api/projects/{id}/uploads
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}
	if h.ingest == nil {
		h.respondError(w, http.StatusServiceUnavailable, "unavailable", "upload pipeline not configured")
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", "expected a multipart form")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", "file field is required")
		return
	}
	defer file.Close()

	commitSHA := strings.ToLower(r.FormValue("commitSha"))
	if commitSHA != "" && !asset.IsCommitSHA(commitSHA) {
		h.respondError(w, http.StatusBadRequest, "bad_request", "commitSha must be a 40-hex commit SHA")
		return
	}

	var deploymentID *uuid.UUID
	if raw := r.FormValue("deploymentId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "bad_request", "malformed deploymentId")
			return
		}
		deploymentID = &id
	}

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	in := service.UploadInput{
		ProjectID:    projectID,
		FileName:     header.Filename,
		MimeType:     mimeType,
		Size:         header.Size,
		Body:         file,
		CommitSHA:    commitSHA,
		Branch:       r.FormValue("branch"),
		DeploymentID: deploymentID,
		PublicPath:   r.FormValue("publicPath"),
	}

	a, err := h.ingest.Upload(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrQuotaExceeded):
			h.respondError(w, http.StatusRequestEntityTooLarge, "quota_exceeded", "project storage quota exceeded")
		case errors.Is(err, project.ErrProjectNotFound):
			h.respondError(w, http.StatusNotFound, "not_found", "project not found")
		case errors.Is(err, asset.ErrEmptyPath):
			h.respondError(w, http.StatusBadRequest, "bad_request", "file name resolves to an empty path")
		default:
			h.logger.Error("upload failed",
				"project_id", projectID,
				"file", header.Filename,
				"error", err,
			)
			h.respondError(w, http.StatusInternalServerError, "internal", "upload failed")
		}
		return
	}

	h.respondJSON(w, http.StatusCreated, h.toAssetResponse(a))
}
