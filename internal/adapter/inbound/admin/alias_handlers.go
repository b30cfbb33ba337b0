package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/domain/project"
)

// aliasRequest is the JSON body for create and update alias endpoints.
// Visibility overrides are tri-state: absent preserves, null clears to
// inherit, a value overrides.
type aliasRequest struct {
	Name            string     `json:"name" validate:"omitempty,max=63"`
	CommitSHA       string     `json:"commitSha" validate:"omitempty,len=40,hexadecimal"`
	BasePath        *string    `json:"basePath"`
	ProxyRuleSetID  *uuid.UUID `json:"proxyRuleSetId"`
	IsPublic        *bool      `json:"isPublic"`
	ClearVisibility bool       `json:"clearVisibility"`

	UnauthorizedBehavior *string `json:"unauthorizedBehavior" validate:"omitempty,oneof=not_found redirect_login"`
	RequiredRole         *string `json:"requiredRole" validate:"omitempty,oneof=authenticated viewer contributor admin owner"`
}

// aliasResponse is the JSON representation of a deployment alias.
type aliasResponse struct {
	ID                   string  `json:"id"`
	ProjectID            string  `json:"projectId"`
	Name                 string  `json:"name"`
	CommitSHA            string  `json:"commitSha"`
	DeploymentID         string  `json:"deploymentId,omitempty"`
	IsAutoPreview        bool    `json:"isAutoPreview"`
	BasePath             *string `json:"basePath,omitempty"`
	ProxyRuleSetID       string  `json:"proxyRuleSetId,omitempty"`
	IsPublic             *bool   `json:"isPublic,omitempty"`
	UnauthorizedBehavior *string `json:"unauthorizedBehavior,omitempty"`
	RequiredRole         *string `json:"requiredRole,omitempty"`
	CreatedAt            string  `json:"createdAt"`
}

func toAliasResponse(a *alias.Alias) aliasResponse {
	resp := aliasResponse{
		ID:             a.ID.String(),
		ProjectID:      a.ProjectID.String(),
		Name:           a.Name,
		CommitSHA:      a.CommitSHA,
		DeploymentID:   uuidPtrString(a.DeploymentID),
		IsAutoPreview:  a.IsAutoPreview,
		BasePath:       a.BasePath,
		ProxyRuleSetID: uuidPtrString(a.ProxyRuleSetID),
		IsPublic:       a.IsPublic,
		CreatedAt:      formatTime(a.CreatedAt),
	}
	if a.UnauthorizedBehavior != nil {
		s := string(*a.UnauthorizedBehavior)
		resp.UnauthorizedBehavior = &s
	}
	if a.RequiredRole != nil {
		s := string(*a.RequiredRole)
		resp.RequiredRole = &s
	}
	return resp
}

// checkAliasRuleSet verifies a rule set reference stays within the
// alias's project. Answers 400 itself on failure.
func (h *Handler) checkAliasRuleSet(w http.ResponseWriter, r *http.Request, projectID, ruleSetID uuid.UUID) bool {
	rs, err := h.proxyRules.GetRuleSet(r.Context(), ruleSetID)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", "rule set does not exist")
		return false
	}
	if rs.ProjectID != projectID {
		h.respondError(w, http.StatusBadRequest, "bad_request", "rule set belongs to another project")
		return false
	}
	return true
}

// handleListAliases returns a project's aliases.
// GET /admin/api/projects/{id}/aliases
func (h *Handler) handleListAliases(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}

	aliases, err := h.aliases.ListByProject(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list aliases", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list aliases")
		return
	}

	result := make([]aliasResponse, 0, len(aliases))
	for _, a := range aliases {
		result = append(result, toAliasResponse(a))
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateAlias points a new alias at a commit.
// POST /admin/api/projects/{id}/aliases
func (h *Handler) handleCreateAlias(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}

	var req aliasRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if req.Name == "" || req.CommitSHA == "" {
		h.respondError(w, http.StatusBadRequest, "bad_request", "name and commitSha are required")
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

	sha := strings.ToLower(req.CommitSHA)
	if !asset.IsCommitSHA(sha) {
		h.respondError(w, http.StatusBadRequest, "bad_request", "commitSha must be a 40-hex commit SHA")
		return
	}

	a := &alias.Alias{
		ID:        uuid.New(),
		ProjectID: projectID,
		Name:      req.Name,
		CommitSHA: sha,
		BasePath:  req.BasePath,
		IsPublic:  req.IsPublic,
		CreatedAt: h.clock.Now().UTC(),
	}
	if req.UnauthorizedBehavior != nil {
		b := project.UnauthorizedBehavior(*req.UnauthorizedBehavior)
		a.UnauthorizedBehavior = &b
	}
	if req.RequiredRole != nil {
		role := project.Role(*req.RequiredRole)
		a.RequiredRole = &role
	}
	if req.ProxyRuleSetID != nil && *req.ProxyRuleSetID != uuid.Nil {
		if !h.checkAliasRuleSet(w, r, projectID, *req.ProxyRuleSetID) {
			return
		}
		a.ProxyRuleSetID = req.ProxyRuleSetID
	}

	if err := a.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := h.aliases.Create(r.Context(), a); err != nil {
		if errors.Is(err, alias.ErrDuplicateAlias) {
			h.respondError(w, http.StatusConflict, "conflict", "alias name already exists in this project")
			return
		}
		h.logger.Error("failed to create alias", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to create alias")
		return
	}

	h.respondJSON(w, http.StatusCreated, toAliasResponse(a))
}

// handleUpdateAlias repoints or reconfigures an alias. The name is
// immutable; retargeting a name is what aliases are for.
// PUT /admin/api/aliases/{id}
func (h *Handler) handleUpdateAlias(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	var req aliasRequest
	if !h.readValidated(w, r, &req) {
		return
	}

	existing, err := h.aliases.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, alias.ErrAliasNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "alias not found")
			return
		}
		h.logger.Error("failed to get alias", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get alias")
		return
	}
	if !h.requireProject(w, r, existing.ProjectID) {
		return
	}

	if req.Name != "" && req.Name != existing.Name {
		h.respondError(w, http.StatusBadRequest, "bad_request", "alias name is immutable, create a new alias instead")
		return
	}
	if req.CommitSHA != "" {
		sha := strings.ToLower(req.CommitSHA)
		if !asset.IsCommitSHA(sha) {
			h.respondError(w, http.StatusBadRequest, "bad_request", "commitSha must be a 40-hex commit SHA")
			return
		}
		existing.CommitSHA = sha
	}
	if req.BasePath != nil {
		if *req.BasePath == "" {
			existing.BasePath = nil
		} else {
			existing.BasePath = req.BasePath
		}
	}
	if req.ProxyRuleSetID != nil {
		if *req.ProxyRuleSetID == uuid.Nil {
			existing.ProxyRuleSetID = nil
		} else {
			if !h.checkAliasRuleSet(w, r, existing.ProjectID, *req.ProxyRuleSetID) {
				return
			}
			existing.ProxyRuleSetID = req.ProxyRuleSetID
		}
	}
	if req.ClearVisibility {
		existing.IsPublic = nil
		existing.UnauthorizedBehavior = nil
		existing.RequiredRole = nil
	}
	if req.IsPublic != nil {
		existing.IsPublic = req.IsPublic
	}
	if req.UnauthorizedBehavior != nil {
		b := project.UnauthorizedBehavior(*req.UnauthorizedBehavior)
		existing.UnauthorizedBehavior = &b
	}
	if req.RequiredRole != nil {
		role := project.Role(*req.RequiredRole)
		existing.RequiredRole = &role
	}

	if err := existing.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := h.aliases.Update(r.Context(), existing); err != nil {
		if errors.Is(err, alias.ErrAliasNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "alias not found")
			return
		}
		h.logger.Error("failed to update alias", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to update alias")
		return
	}

	h.respondJSON(w, http.StatusOK, toAliasResponse(existing))
}

// handleDeleteAlias removes an alias.
// DELETE /admin/api/aliases/{id}
func (h *Handler) handleDeleteAlias(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	existing, err := h.aliases.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, alias.ErrAliasNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "alias not found")
			return
		}
		h.logger.Error("failed to get alias", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get alias")
		return
	}
	if !h.requireProject(w, r, existing.ProjectID) {
		return
	}

	if err := h.aliases.Delete(r.Context(), id); err != nil {
		if errors.Is(err, alias.ErrAliasNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "alias not found")
			return
		}
		h.logger.Error("failed to delete alias", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to delete alias")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
