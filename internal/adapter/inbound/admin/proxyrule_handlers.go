package admin

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/proxyrule"
	"github.com/pagegate/pagegate/internal/domain/secrets"
)

// redactedValue masks injected header values in API responses. Only the
// header names are visible; a client echoing a redacted rule back keeps
// the stored secret.
const redactedValue = "***"

// ruleSetRequest is the JSON body for create and update rule-set
// endpoints.
type ruleSetRequest struct {
	Name        string `json:"name" validate:"omitempty,max=64"`
	Environment string `json:"environment" validate:"omitempty,max=64"`
}

// ruleSetResponse is the JSON representation of a rule set. Rules are
// embedded only on single-set reads.
type ruleSetResponse struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"projectId"`
	Name        string         `json:"name"`
	Environment string         `json:"environment,omitempty"`
	CreatedAt   string         `json:"createdAt"`
	Rules       []ruleResponse `json:"rules,omitempty"`
}

func toRuleSetResponse(rs *proxyrule.RuleSet) ruleSetResponse {
	return ruleSetResponse{
		ID:          rs.ID.String(),
		ProjectID:   rs.ProjectID.String(),
		Name:        rs.Name,
		Environment: rs.Environment,
		CreatedAt:   formatTime(rs.CreatedAt),
	}
}

// ruleRequest is the JSON body for create and update rule endpoints.
// Absent fields preserve stored values on update; Headers replaces the
// stored header config wholesale when present.
type ruleRequest struct {
	PathPattern        string                   `json:"pathPattern" validate:"omitempty,max=512"`
	TargetURL          string                   `json:"targetUrl" validate:"omitempty,max=2048"`
	Kind               string                   `json:"kind" validate:"omitempty,oneof=external_proxy internal_rewrite email_form_handler"`
	StripPrefix        *bool                    `json:"stripPrefix"`
	Order              *int                     `json:"order" validate:"omitempty,min=0"`
	TimeoutMs          *int                     `json:"timeoutMs"`
	PreserveHost       *bool                    `json:"preserveHost"`
	ForwardCookies     *bool                    `json:"forwardCookies"`
	Headers            *proxyrule.HeaderConfig  `json:"headers"`
	AuthTransform      *proxyrule.AuthTransform `json:"authTransform"`
	ClearAuthTransform bool                     `json:"clearAuthTransform,omitempty"`
	Email              *proxyrule.EmailConfig   `json:"email"`
	Enabled            *bool                    `json:"enabled"`
}

// ruleResponse is the JSON representation of a proxy rule. Injected
// header values come back redacted.
type ruleResponse struct {
	ID             string                   `json:"id"`
	RuleSetID      string                   `json:"ruleSetId"`
	PathPattern    string                   `json:"pathPattern"`
	TargetURL      string                   `json:"targetUrl,omitempty"`
	Kind           string                   `json:"kind"`
	StripPrefix    bool                     `json:"stripPrefix"`
	Order          int                      `json:"order"`
	TimeoutMs      int                      `json:"timeoutMs,omitempty"`
	PreserveHost   bool                     `json:"preserveHost"`
	ForwardCookies bool                     `json:"forwardCookies"`
	Headers        proxyrule.HeaderConfig   `json:"headers"`
	AuthTransform  *proxyrule.AuthTransform `json:"authTransform,omitempty"`
	Email          *proxyrule.EmailConfig   `json:"email,omitempty"`
	Enabled        bool                     `json:"enabled"`
	CreatedAt      string                   `json:"createdAt"`
}

func toRuleResponse(r *proxyrule.Rule) ruleResponse {
	headers := r.Headers
	if len(headers.Add) > 0 {
		masked := make(map[string]string, len(headers.Add))
		for k := range headers.Add {
			masked[k] = redactedValue
		}
		headers.Add = masked
	}
	return ruleResponse{
		ID:             r.ID.String(),
		RuleSetID:      r.RuleSetID.String(),
		PathPattern:    r.PathPattern,
		TargetURL:      r.TargetURL,
		Kind:           string(r.Kind),
		StripPrefix:    r.StripPrefix,
		Order:          r.Order,
		TimeoutMs:      r.TimeoutMs,
		PreserveHost:   r.PreserveHost,
		ForwardCookies: r.ForwardCookies,
		Headers:        headers,
		AuthTransform:  r.AuthTransform,
		Email:          r.Email,
		Enabled:        r.Enabled,
		CreatedAt:      formatTime(r.CreatedAt),
	}
}

// sealHeaderAdd encrypts injected header values before persistence. A
// redacted placeholder preserves the previously stored value so redacted
// responses round-trip through update.
func (h *Handler) sealHeaderAdd(add, stored map[string]string) (map[string]string, error) {
	if len(add) == 0 {
		return add, nil
	}
	sealed := make(map[string]string, len(add))
	for k, v := range add {
		if v == redactedValue {
			if prev, ok := stored[k]; ok {
				sealed[k] = prev
			}
			continue
		}
		if h.box == nil || secrets.IsSealed(v) {
			sealed[k] = v
			continue
		}
		sv, err := h.box.Seal(v)
		if err != nil {
			return nil, err
		}
		sealed[k] = sv
	}
	return sealed, nil
}

// getScopedRuleSet loads a rule set and enforces caller scope.
func (h *Handler) getScopedRuleSet(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*proxyrule.RuleSet, bool) {
	rs, err := h.proxyRules.GetRuleSet(r.Context(), id)
	if err != nil {
		if errors.Is(err, proxyrule.ErrRuleSetNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "rule set not found")
			return nil, false
		}
		h.logger.Error("failed to get rule set", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get rule set")
		return nil, false
	}
	if !h.requireProject(w, r, rs.ProjectID) {
		return nil, false
	}
	return rs, true
}

// handleListRuleSets returns a project's rule sets without their rules.
// GET /admin/api/projects/{id}/rule-sets
func (h *Handler) handleListRuleSets(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}

	sets, err := h.proxyRules.ListRuleSets(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list rule sets", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list rule sets")
		return
	}

	result := make([]ruleSetResponse, 0, len(sets))
	for _, rs := range sets {
		result = append(result, toRuleSetResponse(rs))
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateRuleSet creates an empty rule set under a project.
// POST /admin/api/projects/{id}/rule-sets
func (h *Handler) handleCreateRuleSet(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}

	var req ruleSetRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.respondError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}

	rs := &proxyrule.RuleSet{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Name:        strings.TrimSpace(req.Name),
		Environment: req.Environment,
		CreatedAt:   h.clock.Now().UTC(),
	}
	if err := h.proxyRules.CreateRuleSet(r.Context(), rs); err != nil {
		if errors.Is(err, proxyrule.ErrDuplicateRuleSet) {
			h.respondError(w, http.StatusConflict, "conflict", "rule set already exists")
			return
		}
		h.logger.Error("failed to create rule set", "name", rs.Name, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to create rule set")
		return
	}

	h.respondJSON(w, http.StatusCreated, toRuleSetResponse(rs))
}

// handleGetRuleSet returns one rule set with its rules embedded.
// GET /admin/api/rule-sets/{id}
func (h *Handler) handleGetRuleSet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rs, ok := h.getScopedRuleSet(w, r, id)
	if !ok {
		return
	}

	rules, err := h.proxyRules.ListRules(r.Context(), rs.ID)
	if err != nil {
		h.logger.Error("failed to list rules", "rule_set_id", rs.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list rules")
		return
	}

	resp := toRuleSetResponse(rs)
	resp.Rules = make([]ruleResponse, 0, len(rules))
	for i := range rules {
		resp.Rules = append(resp.Rules, toRuleResponse(&rules[i]))
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// handleUpdateRuleSet renames or retags a rule set.
// PUT /admin/api/rule-sets/{id}
func (h *Handler) handleUpdateRuleSet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rs, ok := h.getScopedRuleSet(w, r, id)
	if !ok {
		return
	}

	var req ruleSetRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		rs.Name = name
	}
	if req.Environment != "" {
		rs.Environment = req.Environment
	}

	if err := h.proxyRules.UpdateRuleSet(r.Context(), rs); err != nil {
		if errors.Is(err, proxyrule.ErrDuplicateRuleSet) {
			h.respondError(w, http.StatusConflict, "conflict", "rule set already exists")
			return
		}
		h.logger.Error("failed to update rule set", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to update rule set")
		return
	}

	h.ruleCache.InvalidateRuleSet(rs.ID)
	h.respondJSON(w, http.StatusOK, toRuleSetResponse(rs))
}

// handleDeleteRuleSet removes a rule set and its rules, refusing while a
// project default or an alias still points at it.
// DELETE /admin/api/rule-sets/{id}
func (h *Handler) handleDeleteRuleSet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rs, ok := h.getScopedRuleSet(w, r, id)
	if !ok {
		return
	}

	proj, err := h.projects.Get(r.Context(), rs.ProjectID)
	if err != nil {
		h.logger.Error("failed to get project", "id", rs.ProjectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get project")
		return
	}
	if proj.DefaultRuleSetID != nil && *proj.DefaultRuleSetID == rs.ID {
		h.respondError(w, http.StatusConflict, "conflict", "rule set is the project default")
		return
	}

	aliases, err := h.aliases.ListByProject(r.Context(), rs.ProjectID)
	if err != nil {
		h.logger.Error("failed to list aliases", "project_id", rs.ProjectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list aliases")
		return
	}
	for _, al := range aliases {
		if al.ProxyRuleSetID != nil && *al.ProxyRuleSetID == rs.ID {
			h.respondError(w, http.StatusConflict, "conflict", "rule set is referenced by alias "+al.Name)
			return
		}
	}

	if err := h.proxyRules.DeleteRuleSet(r.Context(), id); err != nil {
		if errors.Is(err, proxyrule.ErrRuleSetNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "rule set not found")
			return
		}
		h.logger.Error("failed to delete rule set", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to delete rule set")
		return
	}

	h.ruleCache.InvalidateRuleSet(id)
	w.WriteHeader(http.StatusNoContent)
}

// handleCreateRule appends a rule to a set. External proxy targets pass
// the SSRF guard before anything is persisted, and injected header
// values are sealed at rest.
// POST /admin/api/rule-sets/{id}/rules
func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	ruleSetID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rs, ok := h.getScopedRuleSet(w, r, ruleSetID)
	if !ok {
		return
	}

	var req ruleRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if req.PathPattern == "" || req.Kind == "" {
		h.respondError(w, http.StatusBadRequest, "bad_request", "pathPattern and kind are required")
		return
	}

	existing, err := h.proxyRules.ListRules(r.Context(), rs.ID)
	if err != nil {
		h.logger.Error("failed to list rules", "rule_set_id", rs.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list rules")
		return
	}

	rule := &proxyrule.Rule{
		ID:          uuid.New(),
		RuleSetID:   rs.ID,
		PathPattern: req.PathPattern,
		TargetURL:   req.TargetURL,
		Kind:        proxyrule.Kind(req.Kind),
		Order:       len(existing),
		Enabled:     true,
		CreatedAt:   h.clock.Now().UTC(),
	}
	if req.StripPrefix != nil {
		rule.StripPrefix = *req.StripPrefix
	}
	if req.Order != nil {
		rule.Order = *req.Order
	}
	if req.TimeoutMs != nil {
		rule.TimeoutMs = *req.TimeoutMs
	}
	if req.PreserveHost != nil {
		rule.PreserveHost = *req.PreserveHost
	}
	if req.ForwardCookies != nil {
		rule.ForwardCookies = *req.ForwardCookies
	}
	if req.Headers != nil {
		rule.Headers = *req.Headers
	}
	rule.AuthTransform = req.AuthTransform
	rule.Email = req.Email
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := rule.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if rule.Kind == proxyrule.KindExternalProxy {
		if err := h.guard.CheckTarget(r.Context(), rule.TargetURL); err != nil {
			h.respondError(w, http.StatusBadRequest, "blocked_target", err.Error())
			return
		}
	}

	sealed, err := h.sealHeaderAdd(rule.Headers.Add, nil)
	if err != nil {
		h.logger.Error("failed to seal header values", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to seal header values")
		return
	}
	rule.Headers.Add = sealed

	if err := h.proxyRules.CreateRule(r.Context(), rule); err != nil {
		if errors.Is(err, proxyrule.ErrDuplicatePattern) {
			h.respondError(w, http.StatusConflict, "conflict", "path pattern already exists in rule set")
			return
		}
		h.logger.Error("failed to create rule", "rule_set_id", rs.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to create rule")
		return
	}

	if err := h.regen.ProxyRulesChanged(r.Context()); err != nil {
		h.logger.Error("proxy regeneration hook failed, rolling back rule create", "rule_id", rule.ID, "error", err)
		if rbErr := h.proxyRules.DeleteRule(r.Context(), rule.ID); rbErr != nil {
			h.logger.Error("rollback of rule create failed", "rule_id", rule.ID, "error", rbErr)
		}
		h.respondError(w, http.StatusBadGateway, "regeneration_failed", "front proxy configuration rebuild failed")
		return
	}

	h.ruleCache.InvalidateRuleSet(rs.ID)
	h.respondJSON(w, http.StatusCreated, toRuleResponse(rule))
}

// getScopedRule loads a rule through its rule set to enforce caller
// scope.
func (h *Handler) getScopedRule(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*proxyrule.Rule, bool) {
	rule, err := h.proxyRules.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, proxyrule.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "rule not found")
			return nil, false
		}
		h.logger.Error("failed to get rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get rule")
		return nil, false
	}
	if _, ok := h.getScopedRuleSet(w, r, rule.RuleSetID); !ok {
		return nil, false
	}
	return rule, true
}

// handleUpdateRule reconfigures a rule. Changed external targets pass
// the SSRF guard again.
// PUT /admin/api/rules/{id}
func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rule, ok := h.getScopedRule(w, r, id)
	if !ok {
		return
	}

	var req ruleRequest
	if !h.readValidated(w, r, &req) {
		return
	}

	orig := *rule
	storedAdd := rule.Headers.Add
	if req.PathPattern != "" {
		rule.PathPattern = req.PathPattern
	}
	if req.TargetURL != "" {
		rule.TargetURL = req.TargetURL
	}
	if req.Kind != "" {
		rule.Kind = proxyrule.Kind(req.Kind)
	}
	if req.StripPrefix != nil {
		rule.StripPrefix = *req.StripPrefix
	}
	if req.Order != nil {
		rule.Order = *req.Order
	}
	if req.TimeoutMs != nil {
		rule.TimeoutMs = *req.TimeoutMs
	}
	if req.PreserveHost != nil {
		rule.PreserveHost = *req.PreserveHost
	}
	if req.ForwardCookies != nil {
		rule.ForwardCookies = *req.ForwardCookies
	}
	if req.Headers != nil {
		rule.Headers = *req.Headers
	}
	if req.ClearAuthTransform {
		rule.AuthTransform = nil
	} else if req.AuthTransform != nil {
		rule.AuthTransform = req.AuthTransform
	}
	if req.Email != nil {
		rule.Email = req.Email
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}

	if err := rule.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if rule.Kind == proxyrule.KindExternalProxy {
		if err := h.guard.CheckTarget(r.Context(), rule.TargetURL); err != nil {
			h.respondError(w, http.StatusBadRequest, "blocked_target", err.Error())
			return
		}
	}

	sealed, err := h.sealHeaderAdd(rule.Headers.Add, storedAdd)
	if err != nil {
		h.logger.Error("failed to seal header values", "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to seal header values")
		return
	}
	rule.Headers.Add = sealed

	if err := h.proxyRules.UpdateRule(r.Context(), rule); err != nil {
		if errors.Is(err, proxyrule.ErrDuplicatePattern) {
			h.respondError(w, http.StatusConflict, "conflict", "path pattern already exists in rule set")
			return
		}
		if errors.Is(err, proxyrule.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "rule not found")
			return
		}
		h.logger.Error("failed to update rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to update rule")
		return
	}

	if err := h.regen.ProxyRulesChanged(r.Context()); err != nil {
		h.logger.Error("proxy regeneration hook failed, rolling back rule update", "rule_id", rule.ID, "error", err)
		if rbErr := h.proxyRules.UpdateRule(r.Context(), &orig); rbErr != nil {
			h.logger.Error("rollback of rule update failed", "rule_id", rule.ID, "error", rbErr)
		}
		h.respondError(w, http.StatusBadGateway, "regeneration_failed", "front proxy configuration rebuild failed")
		return
	}

	h.ruleCache.InvalidateRuleSet(rule.RuleSetID)
	h.respondJSON(w, http.StatusOK, toRuleResponse(rule))
}

// handleDeleteRule removes one rule.
// DELETE /admin/api/rules/{id}
func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	rule, ok := h.getScopedRule(w, r, id)
	if !ok {
		return
	}

	if err := h.proxyRules.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, proxyrule.ErrRuleNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "rule not found")
			return
		}
		h.logger.Error("failed to delete rule", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to delete rule")
		return
	}

	if err := h.regen.ProxyRulesChanged(r.Context()); err != nil {
		h.logger.Error("proxy regeneration hook failed, rolling back rule delete", "rule_id", rule.ID, "error", err)
		if rbErr := h.proxyRules.CreateRule(r.Context(), rule); rbErr != nil {
			h.logger.Error("rollback of rule delete failed", "rule_id", rule.ID, "error", rbErr)
		}
		h.respondError(w, http.StatusBadGateway, "regeneration_failed", "front proxy configuration rebuild failed")
		return
	}

	h.ruleCache.InvalidateRuleSet(rule.RuleSetID)
	w.WriteHeader(http.StatusNoContent)
}
