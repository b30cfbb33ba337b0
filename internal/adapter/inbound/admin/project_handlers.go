package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/project"
)

// projectRequest is the JSON body for create and update project
// endpoints. On update, empty strings and nil pointers preserve the
// stored value; a zero UUID clears defaultRuleSetId and a negative
// quota clears storageQuotaBytes.
type projectRequest struct {
	Owner                string     `json:"owner" validate:"omitempty,max=64"`
	Name                 string     `json:"name" validate:"omitempty,max=64"`
	IsPublic             *bool      `json:"isPublic"`
	UnauthorizedBehavior string     `json:"unauthorizedBehavior" validate:"omitempty,oneof=not_found redirect_login"`
	RequiredRole         string     `json:"requiredRole" validate:"omitempty,oneof=authenticated viewer contributor admin owner"`
	DefaultRuleSetID     *uuid.UUID `json:"defaultRuleSetId"`
	StorageQuotaBytes    *int64     `json:"storageQuotaBytes"`
	QuotaBehavior        string     `json:"quotaBehavior" validate:"omitempty,oneof=block notify"`
}

// projectResponse is the JSON representation of a project.
type projectResponse struct {
	ID                   string `json:"id"`
	Owner                string `json:"owner"`
	Name                 string `json:"name"`
	IsPublic             bool   `json:"isPublic"`
	UnauthorizedBehavior string `json:"unauthorizedBehavior"`
	RequiredRole         string `json:"requiredRole"`
	DefaultRuleSetID     string `json:"defaultRuleSetId,omitempty"`
	StorageQuotaBytes    *int64 `json:"storageQuotaBytes,omitempty"`
	QuotaBehavior        string `json:"quotaBehavior"`
	CreatedAt            string `json:"createdAt"`
}

func toProjectResponse(p *project.Project) projectResponse {
	return projectResponse{
		ID:                   p.ID.String(),
		Owner:                p.Owner,
		Name:                 p.Name,
		IsPublic:             p.IsPublic,
		UnauthorizedBehavior: string(p.UnauthorizedBehavior),
		RequiredRole:         string(p.RequiredRole),
		DefaultRuleSetID:     uuidPtrString(p.DefaultRuleSetID),
		StorageQuotaBytes:    p.StorageQuotaBytes,
		QuotaBehavior:        string(p.QuotaBehavior),
		CreatedAt:            formatTime(p.CreatedAt),
	}
}

// checkDefaultRuleSet verifies a default rule set reference points at a
// rule set of this project. Answers 400 itself on failure.
func (h *Handler) checkDefaultRuleSet(w http.ResponseWriter, r *http.Request, projectID, ruleSetID uuid.UUID) bool {
	rs, err := h.proxyRules.GetRuleSet(r.Context(), ruleSetID)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", "default rule set does not exist")
		return false
	}
	if rs.ProjectID != projectID {
		h.respondError(w, http.StatusBadRequest, "bad_request", "default rule set belongs to another project")
		return false
	}
	return true
}

// handleListProjects returns every project. Operator only.
// GET /admin/api/projects
func (h *Handler) handleListProjects(w http.ResponseWriter, r *http.Request) {
	if !h.requireOperator(w, r) {
		return
	}

	projects, err := h.projects.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list projects", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list projects")
		return
	}

	result := make([]projectResponse, 0, len(projects))
	for _, p := range projects {
		result = append(result, toProjectResponse(p))
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateProject creates a new tenant. Operator only.
// POST /admin/api/projects
func (h *Handler) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	if !h.requireOperator(w, r) {
		return
	}

	var req projectRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Owner) == "" || strings.TrimSpace(req.Name) == "" {
		h.respondError(w, http.StatusBadRequest, "bad_request", "owner and name are required")
		return
	}

	p := &project.Project{
		ID:                   uuid.New(),
		Owner:                strings.TrimSpace(req.Owner),
		Name:                 strings.TrimSpace(req.Name),
		IsPublic:             true,
		UnauthorizedBehavior: project.UnauthorizedNotFound,
		RequiredRole:         project.RoleViewer,
		QuotaBehavior:        project.QuotaBlock,
		CreatedAt:            h.clock.Now().UTC(),
	}
	if req.IsPublic != nil {
		p.IsPublic = *req.IsPublic
	}
	if req.UnauthorizedBehavior != "" {
		p.UnauthorizedBehavior = project.UnauthorizedBehavior(req.UnauthorizedBehavior)
	}
	if req.RequiredRole != "" {
		p.RequiredRole = project.Role(req.RequiredRole)
	}
	if req.QuotaBehavior != "" {
		p.QuotaBehavior = project.QuotaBehavior(req.QuotaBehavior)
	}
	if req.StorageQuotaBytes != nil && *req.StorageQuotaBytes >= 0 {
		p.StorageQuotaBytes = req.StorageQuotaBytes
	}
	if req.DefaultRuleSetID != nil && *req.DefaultRuleSetID != uuid.Nil {
		if !h.checkDefaultRuleSet(w, r, p.ID, *req.DefaultRuleSetID) {
			return
		}
		p.DefaultRuleSetID = req.DefaultRuleSetID
	}

	if err := h.projects.Create(r.Context(), p); err != nil {
		switch {
		case errors.Is(err, project.ErrDuplicateProject):
			h.respondError(w, http.StatusConflict, "conflict", "project already exists")
		case errors.Is(err, project.ErrInvalidSlug):
			h.respondError(w, http.StatusBadRequest, "bad_request", "owner and name must be path-safe slugs")
		default:
			h.logger.Error("failed to create project", "error", err)
			h.respondError(w, http.StatusInternalServerError, "internal", "failed to create project")
		}
		return
	}

	h.respondJSON(w, http.StatusCreated, toProjectResponse(p))
}

// handleGetProject returns one project.
// GET /admin/api/projects/{id}
func (h *Handler) handleGetProject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, id) {
		return
	}

	p, err := h.projects.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		h.logger.Error("failed to get project", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get project")
		return
	}
	h.respondJSON(w, http.StatusOK, toProjectResponse(p))
}

// handleUpdateProject updates a project's policy fields. Owner and name
// are immutable: storage keys embed them verbatim.
// PUT /admin/api/projects/{id}
func (h *Handler) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, id) {
		return
	}

	var req projectRequest
	if !h.readValidated(w, r, &req) {
		return
	}

	existing, err := h.projects.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		h.logger.Error("failed to get project", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get project")
		return
	}

	if req.Owner != "" && req.Owner != existing.Owner {
		h.respondError(w, http.StatusBadRequest, "bad_request", "owner is immutable")
		return
	}
	if req.Name != "" && req.Name != existing.Name {
		h.respondError(w, http.StatusBadRequest, "bad_request", "name is immutable")
		return
	}

	if req.IsPublic != nil {
		existing.IsPublic = *req.IsPublic
	}
	if req.UnauthorizedBehavior != "" {
		existing.UnauthorizedBehavior = project.UnauthorizedBehavior(req.UnauthorizedBehavior)
	}
	if req.RequiredRole != "" {
		existing.RequiredRole = project.Role(req.RequiredRole)
	}
	if req.QuotaBehavior != "" {
		existing.QuotaBehavior = project.QuotaBehavior(req.QuotaBehavior)
	}
	if req.StorageQuotaBytes != nil {
		if *req.StorageQuotaBytes < 0 {
			existing.StorageQuotaBytes = nil
		} else {
			existing.StorageQuotaBytes = req.StorageQuotaBytes
		}
	}
	if req.DefaultRuleSetID != nil {
		if *req.DefaultRuleSetID == uuid.Nil {
			existing.DefaultRuleSetID = nil
		} else {
			if !h.checkDefaultRuleSet(w, r, id, *req.DefaultRuleSetID) {
				return
			}
			existing.DefaultRuleSetID = req.DefaultRuleSetID
		}
	}

	if err := h.projects.Update(r.Context(), existing); err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		h.logger.Error("failed to update project", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to update project")
		return
	}

	h.respondJSON(w, http.StatusOK, toProjectResponse(existing))
}

// handleDeleteProject removes a project; aliases, mappings, rules, and
// asset rows cascade. Stored objects are left for retention tooling.
// Operator only.
// DELETE /admin/api/projects/{id}
func (h *Handler) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	if !h.requireOperator(w, r) {
		return
	}
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}

	// Collect rule sets first so their compiled snapshots can be dropped
	// after the cascade.
	ruleSets, err := h.proxyRules.ListRuleSets(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to list rule sets before delete", "project_id", id, "error", err)
	}

	if err := h.projects.Delete(r.Context(), id); err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "project not found")
			return
		}
		h.logger.Error("failed to delete project", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to delete project")
		return
	}

	if h.ruleCache != nil {
		for _, rs := range ruleSets {
			h.ruleCache.InvalidateRuleSet(rs.ID)
		}
		h.ruleCache.InvalidateProject(id)
	}
	h.notifyDomainsChanged(r.Context())

	w.WriteHeader(http.StatusNoContent)
}
