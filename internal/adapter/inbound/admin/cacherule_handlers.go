package admin

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/cacherule"
)

// cacheRuleRequest is the JSON body for create and update cache-rule
// endpoints.
type cacheRuleRequest struct {
	PathPattern          string `json:"pathPattern" validate:"omitempty,max=512"`
	BrowserMaxAge        *int   `json:"browserMaxAge" validate:"omitempty,min=0"`
	CDNMaxAge            *int   `json:"cdnMaxAge" validate:"omitempty,min=0"`
	StaleWhileRevalidate *int   `json:"staleWhileRevalidate" validate:"omitempty,min=0"`
	Immutable            *bool  `json:"immutable"`
	Cacheability         string `json:"cacheability" validate:"omitempty,oneof=public private inherit"`
	Priority             *int   `json:"priority" validate:"omitempty,min=0"`
	Enabled              *bool  `json:"enabled"`
}

// cacheRuleResponse is the JSON representation of a cache rule.
type cacheRuleResponse struct {
	ID                   string `json:"id"`
	ProjectID            string `json:"projectId"`
	PathPattern          string `json:"pathPattern"`
	BrowserMaxAge        int    `json:"browserMaxAge"`
	CDNMaxAge            *int   `json:"cdnMaxAge,omitempty"`
	StaleWhileRevalidate *int   `json:"staleWhileRevalidate,omitempty"`
	Immutable            bool   `json:"immutable"`
	Cacheability         string `json:"cacheability,omitempty"`
	Priority             int    `json:"priority"`
	Enabled              bool   `json:"enabled"`
	CreatedAt            string `json:"createdAt"`
}

func toCacheRuleResponse(r *cacherule.Rule) cacheRuleResponse {
	return cacheRuleResponse{
		ID:                   r.ID.String(),
		ProjectID:            r.ProjectID.String(),
		PathPattern:          r.PathPattern,
		BrowserMaxAge:        r.BrowserMaxAge,
		CDNMaxAge:            r.CDNMaxAge,
		StaleWhileRevalidate: r.StaleWhileRevalidate,
		Immutable:            r.Immutable,
		Cacheability:         string(r.Cacheability),
		Priority:             r.Priority,
		Enabled:              r.Enabled,
		CreatedAt:            formatTime(r.CreatedAt),
	}
}

// handleListCacheRules returns a project's cache rules.
// GET /admin/api/projects/{id}/cache-rules
func (h *Handler) handleListCacheRules(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}

	rules, err := h.cacheRules.ListByProject(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list cache rules", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list cache rules")
		return
	}

	result := make([]cacheRuleResponse, 0, len(rules))
	for i := range rules {
		result = append(result, toCacheRuleResponse(&rules[i]))
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateCacheRule adds a cache rule to a project.
// POST /admin/api/projects/{id}/cache-rules
func (h *Handler) handleCreateCacheRule(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}

	var req cacheRuleRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if req.PathPattern == "" {
		h.respondError(w, http.StatusBadRequest, "bad_request", "pathPattern is required")
		return
	}

	existing, err := h.cacheRules.ListByProject(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list cache rules", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list cache rules")
		return
	}

	rule := &cacherule.Rule{
		ID:                   uuid.New(),
		ProjectID:            projectID,
		PathPattern:          req.PathPattern,
		CDNMaxAge:            req.CDNMaxAge,
		StaleWhileRevalidate: req.StaleWhileRevalidate,
		Cacheability:         cacherule.Cacheability(req.Cacheability),
		Priority:             len(existing),
		Enabled:              true,
		CreatedAt:            h.clock.Now().UTC(),
	}
	if req.BrowserMaxAge != nil {
		rule.BrowserMaxAge = *req.BrowserMaxAge
	}
	if req.Immutable != nil {
		rule.Immutable = *req.Immutable
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := rule.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.cacheRules.Create(r.Context(), rule); err != nil {
		h.logger.Error("failed to create cache rule", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to create cache rule")
		return
	}

	h.ruleCache.InvalidateProject(projectID)
	h.respondJSON(w, http.StatusCreated, toCacheRuleResponse(rule))
}

// getScopedCacheRule loads a cache rule and enforces caller scope.
func (h *Handler) getScopedCacheRule(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*cacherule.Rule, bool) {
	rule, err := h.cacheRules.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, cacherule.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "cache rule not found")
			return nil, false
		}
		h.logger.Error("failed to get cache rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get cache rule")
		return nil, false
	}
	if !h.requireProject(w, r, rule.ProjectID) {
		return nil, false
	}
	return rule, true
}

// handleUpdateCacheRule reconfigures a cache rule.
// PUT /admin/api/cache-rules/{id}
func (h *Handler) handleUpdateCacheRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rule, ok := h.getScopedCacheRule(w, r, id)
	if !ok {
		return
	}

	var req cacheRuleRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if req.PathPattern != "" {
		rule.PathPattern = req.PathPattern
	}
	if req.BrowserMaxAge != nil {
		rule.BrowserMaxAge = *req.BrowserMaxAge
	}
	if req.CDNMaxAge != nil {
		rule.CDNMaxAge = req.CDNMaxAge
	}
	if req.StaleWhileRevalidate != nil {
		rule.StaleWhileRevalidate = req.StaleWhileRevalidate
	}
	if req.Immutable != nil {
		rule.Immutable = *req.Immutable
	}
	if req.Cacheability != "" {
		rule.Cacheability = cacherule.Cacheability(req.Cacheability)
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := rule.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.cacheRules.Update(r.Context(), rule); err != nil {
		if errors.Is(err, cacherule.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "cache rule not found")
			return
		}
		h.logger.Error("failed to update cache rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to update cache rule")
		return
	}

	h.ruleCache.InvalidateProject(rule.ProjectID)
	h.respondJSON(w, http.StatusOK, toCacheRuleResponse(rule))
}

// handleDeleteCacheRule removes a cache rule.
// DELETE /admin/api/cache-rules/{id}
func (h *Handler) handleDeleteCacheRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rule, ok := h.getScopedCacheRule(w, r, id)
	if !ok {
		return
	}

	if err := h.cacheRules.Delete(r.Context(), id); err != nil {
		if errors.Is(err, cacherule.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "cache rule not found")
			return
		}
		h.logger.Error("failed to delete cache rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to delete cache rule")
		return
	}

	h.ruleCache.InvalidateProject(rule.ProjectID)
	w.WriteHeader(http.StatusNoContent)
}
