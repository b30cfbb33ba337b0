package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/retention"
	"github.com/pagegate/pagegate/internal/service"
)

// retentionRuleRequest is the JSON body for create and update
// retention-rule endpoints. PathMode is a pointer so an explicit empty
// string can switch a partial rule back to full-commit mode.
type retentionRuleRequest struct {
	Name            string   `json:"name" validate:"omitempty,max=64"`
	BranchPattern   string   `json:"branchPattern" validate:"omitempty,max=255"`
	ExcludeBranches []string `json:"excludeBranches"`
	RetentionDays   *int     `json:"retentionDays" validate:"omitempty,min=1"`
	KeepWithAlias   *bool    `json:"keepWithAlias"`
	KeepMinimum     *int     `json:"keepMinimum" validate:"omitempty,min=0"`
	PathPatterns    []string `json:"pathPatterns"`
	PathMode        *string  `json:"pathMode" validate:"omitempty,oneof=include exclude"`
	Enabled         *bool    `json:"enabled"`
}

// retentionRuleResponse is the JSON representation of a retention rule.
type retentionRuleResponse struct {
	ID                 string                `json:"id"`
	ProjectID          string                `json:"projectId"`
	Name               string                `json:"name"`
	BranchPattern      string                `json:"branchPattern"`
	ExcludeBranches    []string              `json:"excludeBranches,omitempty"`
	RetentionDays      int                   `json:"retentionDays"`
	KeepWithAlias      bool                  `json:"keepWithAlias"`
	KeepMinimum        int                   `json:"keepMinimum"`
	PathPatterns       []string              `json:"pathPatterns,omitempty"`
	PathMode           string                `json:"pathMode,omitempty"`
	Enabled            bool                  `json:"enabled"`
	LastRunAt          string                `json:"lastRunAt,omitempty"`
	NextRunAt          string                `json:"nextRunAt"`
	ExecutionStartedAt string                `json:"executionStartedAt,omitempty"`
	LastRunSummary     *retention.RunSummary `json:"lastRunSummary,omitempty"`
}

func toRetentionRuleResponse(r *retention.Rule) retentionRuleResponse {
	return retentionRuleResponse{
		ID:                 r.ID.String(),
		ProjectID:          r.ProjectID.String(),
		Name:               r.Name,
		BranchPattern:      r.BranchPattern,
		ExcludeBranches:    r.ExcludeBranches,
		RetentionDays:      r.RetentionDays,
		KeepWithAlias:      r.KeepWithAlias,
		KeepMinimum:        r.KeepMinimum,
		PathPatterns:       r.PathPatterns,
		PathMode:           string(r.PathMode),
		Enabled:            r.Enabled,
		LastRunAt:          formatTimePtr(r.LastRunAt),
		NextRunAt:          formatTime(r.NextRunAt),
		ExecutionStartedAt: formatTimePtr(r.ExecutionStartedAt),
		LastRunSummary:     r.LastRunSummary,
	}
}

// handleListRetentionRules returns a project's retention rules.
// GET /admin/api/projects/{id}/retention-rules
func (h *Handler) handleListRetentionRules(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}

	rules, err := h.retention.ListByProject(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list retention rules", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list retention rules")
		return
	}

	result := make([]retentionRuleResponse, 0, len(rules))
	for _, rule := range rules {
		result = append(result, toRetentionRuleResponse(rule))
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateRetentionRule adds a retention rule. The first run is
// scheduled for the next nightly boundary.
// POST /admin/api/projects/{id}/retention-rules
func (h *Handler) handleCreateRetentionRule(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}

	var req retentionRuleRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if req.Name == "" {
		h.respondError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	rule := &retention.Rule{
		ID:              uuid.New(),
		ProjectID:       projectID,
		Name:            req.Name,
		BranchPattern:   req.BranchPattern,
		ExcludeBranches: req.ExcludeBranches,
		RetentionDays:   30,
		KeepWithAlias:   true,
		PathPatterns:    req.PathPatterns,
		Enabled:         true,
		NextRunAt:       retention.NextRun(h.clock.Now()),
	}
	if rule.BranchPattern == "" {
		rule.BranchPattern = "*"
	}
	if req.RetentionDays != nil {
		rule.RetentionDays = *req.RetentionDays
	}
	if req.KeepWithAlias != nil {
		rule.KeepWithAlias = *req.KeepWithAlias
	}
	if req.KeepMinimum != nil {
		rule.KeepMinimum = *req.KeepMinimum
	}
	if req.PathMode != nil {
		rule.PathMode = retention.PathMode(*req.PathMode)
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := rule.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.retention.Create(r.Context(), rule); err != nil {
		if errors.Is(err, retention.ErrDuplicateRule) {
			h.respondError(w, http.StatusConflict, "conflict", "retention rule already exists")
			return
		}
		h.logger.Error("failed to create retention rule", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to create retention rule")
		return
	}

	h.respondJSON(w, http.StatusCreated, toRetentionRuleResponse(rule))
}

// getScopedRetentionRule loads a retention rule and enforces caller
// scope.
func (h *Handler) getScopedRetentionRule(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*retention.Rule, bool) {
	rule, err := h.retention.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, retention.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "retention rule not found")
			return nil, false
		}
		h.logger.Error("failed to get retention rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get retention rule")
		return nil, false
	}
	if !h.requireProject(w, r, rule.ProjectID) {
		return nil, false
	}
	return rule, true
}

// handleUpdateRetentionRule reconfigures a retention rule. Run state
// (lock, schedule, last summary) is owned by the engine and not
// writable here.
// PUT /admin/api/retention-rules/{id}
func (h *Handler) handleUpdateRetentionRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rule, ok := h.getScopedRetentionRule(w, r, id)
	if !ok {
		return
	}

	var req retentionRuleRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if req.Name != "" {
		rule.Name = req.Name
	}
	if req.BranchPattern != "" {
		rule.BranchPattern = req.BranchPattern
	}
	if req.ExcludeBranches != nil {
		rule.ExcludeBranches = req.ExcludeBranches
	}
	if req.RetentionDays != nil {
		rule.RetentionDays = *req.RetentionDays
	}
	if req.KeepWithAlias != nil {
		rule.KeepWithAlias = *req.KeepWithAlias
	}
	if req.KeepMinimum != nil {
		rule.KeepMinimum = *req.KeepMinimum
	}
	if req.PathPatterns != nil {
		rule.PathPatterns = req.PathPatterns
		if len(req.PathPatterns) == 0 {
			rule.PathPatterns = nil
		}
	}
	if req.PathMode != nil {
		rule.PathMode = retention.PathMode(*req.PathMode)
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := rule.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if err := h.retention.Update(r.Context(), rule); err != nil {
		if errors.Is(err, retention.ErrDuplicateRule) {
			h.respondError(w, http.StatusConflict, "conflict", "retention rule already exists")
			return
		}
		if errors.Is(err, retention.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "retention rule not found")
			return
		}
		h.logger.Error("failed to update retention rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to update retention rule")
		return
	}

	h.respondJSON(w, http.StatusOK, toRetentionRuleResponse(rule))
}

// handleDeleteRetentionRule removes a retention rule. Its audit log rows
// stay.
// DELETE /admin/api/retention-rules/{id}
func (h *Handler) handleDeleteRetentionRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, ok := h.getScopedRetentionRule(w, r, id); !ok {
		return
	}

	if err := h.retention.Delete(r.Context(), id); err != nil {
		if errors.Is(err, retention.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "retention rule not found")
			return
		}
		h.logger.Error("failed to delete retention rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to delete retention rule")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// planResponse is one commit of a retention preview.
type planResponse struct {
	CommitSHA   string `json:"commitSha"`
	Branch      string `json:"branch"`
	AssetCount  int    `json:"assetCount"`
	TotalBytes  int64  `json:"totalBytes"`
	OldestAt    string `json:"oldestAt"`
	Action      string `json:"action"`
	DoomedCount int    `json:"doomedCount,omitempty"`
}

func planAction(k retention.PlanKind) string {
	switch k {
	case retention.PlanFull:
		return "delete"
	case retention.PlanPartial:
		return "partial"
	default:
		return "skip"
	}
}

// handlePreviewRetentionRule computes the deletion plan without touching
// anything, mirroring what a run at this instant would do.
// GET /admin/api/retention-rules/{id}/preview
func (h *Handler) handlePreviewRetentionRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, ok := h.getScopedRetentionRule(w, r, id); !ok {
		return
	}
	if h.retentionSvc == nil {
		h.respondError(w, http.StatusServiceUnavailable, "unavailable", "retention engine not configured")
		return
	}

	plans, err := h.retentionSvc.PreviewRule(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to preview retention rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to preview retention rule")
		return
	}

	result := make([]planResponse, 0, len(plans))
	for _, p := range plans {
		result = append(result, planResponse{
			CommitSHA:   p.Stat.CommitSHA,
			Branch:      p.Stat.Branch,
			AssetCount:  p.Stat.AssetCount,
			TotalBytes:  p.Stat.TotalBytes,
			OldestAt:    formatTime(p.Stat.OldestAt),
			Action:      planAction(p.Kind),
			DoomedCount: len(p.Doomed),
		})
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleRunRetentionRule executes a rule immediately under its singleton
// lock instead of waiting for the nightly tick.
// POST /admin/api/retention-rules/{id}/run
func (h *Handler) handleRunRetentionRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, ok := h.getScopedRetentionRule(w, r, id); !ok {
		return
	}
	if h.retentionSvc == nil {
		h.respondError(w, http.StatusServiceUnavailable, "unavailable", "retention engine not configured")
		return
	}

	if err := h.retentionSvc.ExecuteRule(r.Context(), id); err != nil {
		if errors.Is(err, service.ErrExecutionInFlight) {
			h.respondError(w, http.StatusConflict, "conflict", "retention execution already in flight")
			return
		}
		if errors.Is(err, retention.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "retention rule not found")
			return
		}
		h.logger.Error("failed to run retention rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to run retention rule")
		return
	}

	rule, err := h.retention.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to reload retention rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to reload retention rule")
		return
	}
	h.respondJSON(w, http.StatusOK, toRetentionRuleResponse(rule))
}

// handleUnlockRetentionRule force-clears a stale execution lock left by
// a crashed executor. A live run notices at its next commit boundary and
// stops.
// POST /admin/api/retention-rules/{id}/unlock
func (h *Handler) handleUnlockRetentionRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, ok := h.getScopedRetentionRule(w, r, id); !ok {
		return
	}

	if err := h.retention.ClearLock(r.Context(), id); err != nil {
		h.logger.Error("failed to clear retention lock", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to clear retention lock")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// retentionLogResponse is one audit row of past deletions.
type retentionLogResponse struct {
	ID         string `json:"id"`
	ProjectID  string `json:"projectId"`
	RuleID     string `json:"ruleId,omitempty"`
	CommitSHA  string `json:"commitSha"`
	Branch     string `json:"branch,omitempty"`
	AssetCount int    `json:"assetCount"`
	FreedBytes int64  `json:"freedBytes"`
	IsPartial  bool   `json:"isPartial"`
	DeletedAt  string `json:"deletedAt"`
}

// handleListRetentionLogs returns a project's deletion audit rows,
// newest first. ?limit defaults to 100 and caps at 1000.
// GET /admin/api/projects/{id}/retention-logs
func (h *Handler) handleListRetentionLogs(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			h.respondError(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	logs, err := h.retention.ListLogs(r.Context(), projectID, limit)
	if err != nil {
		h.logger.Error("failed to list retention logs", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list retention logs")
		return
	}

	result := make([]retentionLogResponse, 0, len(logs))
	for _, l := range logs {
		result = append(result, retentionLogResponse{
			ID:         l.ID.String(),
			ProjectID:  l.ProjectID.String(),
			RuleID:     uuidPtrString(l.RuleID),
			CommitSHA:  l.CommitSHA,
			Branch:     l.Branch,
			AssetCount: l.AssetCount,
			FreedBytes: l.FreedBytes,
			IsPartial:  l.IsPartial,
			DeletedAt:  formatTime(l.DeletedAt),
		})
	}
	h.respondJSON(w, http.StatusOK, result)
}
