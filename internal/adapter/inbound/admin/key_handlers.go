package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/pagegate/pagegate/internal/domain/permission"
	"github.com/pagegate/pagegate/internal/domain/project"
)

// keyRequest is the JSON body for the mint endpoint.
type keyRequest struct {
	Name string `json:"name" validate:"required,max=64"`
}

// keyResponse is the JSON representation of an API key. The secret never
// appears here; only mintResponse carries it, once.
type keyResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId"`
	Name       string `json:"name"`
	LastUsedAt string `json:"lastUsedAt,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// mintResponse extends keyResponse with the cleartext secret. This is the
// only copy: the store holds a fingerprint and a slow hash.
type mintResponse struct {
	keyResponse
	Key string `json:"key"`
}

func toKeyResponse(k *permission.APIKey) keyResponse {
	return keyResponse{
		ID:         k.ID.String(),
		ProjectID:  k.ProjectID.String(),
		Name:       k.Name,
		LastUsedAt: formatTimePtr(k.LastUsedAt),
		CreatedAt:  formatTime(k.CreatedAt),
	}
}

// handleListKeys returns a project's API keys without secret material.
// GET /admin/api/projects/{id}/keys
func (h *Handler) handleListKeys(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}
	if h.keys == nil {
		h.respondError(w, http.StatusServiceUnavailable, "unavailable", "key store not configured")
		return
	}

	keys, err := h.keys.ListByProject(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list api keys", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list api keys")
		return
	}

	result := make([]keyResponse, 0, len(keys))
	for _, k := range keys {
		result = append(result, toKeyResponse(k))
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleMintKey creates a project-scoped API key and returns the secret
// exactly once. The secret is never logged.
// POST /admin/api/projects/{id}/keys
func (h *Handler) handleMintKey(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireOperator(w, r) {
		return
	}
	if h.keys == nil {
		h.respondError(w, http.StatusServiceUnavailable, "unavailable", "key store not configured")
		return
	}

	if _, err := h.projects.Get(r.Context(), projectID); err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		h.logger.Error("failed to get project", "id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get project")
		return
	}

	var req keyRequest
	if !h.readValidated(w, r, &req) {
		return
	}

	secret, key, err := permission.MintKey(projectID, strings.TrimSpace(req.Name))
	if err != nil {
		h.logger.Error("failed to mint api key", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to mint api key")
		return
	}
	if err := h.keys.Create(r.Context(), key); err != nil {
		h.logger.Error("failed to store api key", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to store api key")
		return
	}

	h.logger.Info("api key minted", "project_id", projectID, "key_id", key.ID, "name", key.Name)
	h.respondJSON(w, http.StatusCreated, mintResponse{keyResponse: toKeyResponse(key), Key: secret})
}

// handleRevokeKey revokes an API key immediately.
// DELETE /admin/api/keys/{id}
func (h *Handler) handleRevokeKey(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireOperator(w, r) {
		return
	}
	if h.keys == nil {
		h.respondError(w, http.StatusServiceUnavailable, "unavailable", "key store not configured")
		return
	}

	if err := h.keys.Delete(r.Context(), id); err != nil {
		if errors.Is(err, permission.ErrKeyNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "api key not found")
			return
		}
		h.logger.Error("failed to revoke api key", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to revoke api key")
		return
	}

	h.logger.Info("api key revoked", "key_id", id)
	w.WriteHeader(http.StatusNoContent)
}
