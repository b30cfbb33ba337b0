package admin

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/domainmap"
	"github.com/pagegate/pagegate/internal/domain/project"
)

// domainRequest is the JSON body for create and update mapping endpoints.
type domainRequest struct {
	Domain                string     `json:"domain" validate:"omitempty,max=253"`
	ProjectID             *uuid.UUID `json:"projectId"`
	Alias                 *string    `json:"alias"`
	Path                  *string    `json:"path"`
	Type                  string     `json:"type" validate:"omitempty,oneof=subdomain custom redirect"`
	RedirectTarget        *string    `json:"redirectTarget" validate:"omitempty,url"`
	IsActive              *bool      `json:"isActive"`
	IsPublic              *bool      `json:"isPublic"`
	IsSPA                 *bool      `json:"isSpa"`
	IsPrimary             *bool      `json:"isPrimary"`
	WWWBehavior           string     `json:"wwwBehavior" validate:"omitempty,oneof=redirect_to_apex redirect_to_www"`
	StickySessionsEnabled *bool      `json:"stickySessionsEnabled"`
	StickySessionSeconds  *int       `json:"stickySessionSeconds" validate:"omitempty,min=0,max=604800"`
}

// domainResponse is the JSON representation of a domain mapping.
type domainResponse struct {
	ID                    string  `json:"id"`
	Domain                string  `json:"domain"`
	ProjectID             string  `json:"projectId,omitempty"`
	Alias                 *string `json:"alias,omitempty"`
	Path                  *string `json:"path,omitempty"`
	Type                  string  `json:"type"`
	RedirectTarget        *string `json:"redirectTarget,omitempty"`
	IsActive              bool    `json:"isActive"`
	IsPublic              *bool   `json:"isPublic,omitempty"`
	IsSPA                 bool    `json:"isSpa"`
	IsPrimary             bool    `json:"isPrimary"`
	WWWBehavior           string  `json:"wwwBehavior,omitempty"`
	StickySessionsEnabled bool    `json:"stickySessionsEnabled"`
	StickySessionSeconds  int     `json:"stickySessionSeconds,omitempty"`
	CreatedAt             string  `json:"createdAt"`
}

func toDomainResponse(m *domainmap.Mapping) domainResponse {
	return domainResponse{
		ID:                    m.ID.String(),
		Domain:                m.Domain,
		ProjectID:             uuidPtrString(m.ProjectID),
		Alias:                 m.Alias,
		Path:                  m.Path,
		Type:                  string(m.Type),
		RedirectTarget:        m.RedirectTarget,
		IsActive:              m.IsActive,
		IsPublic:              m.IsPublic,
		IsSPA:                 m.IsSPA,
		IsPrimary:             m.IsPrimary,
		WWWBehavior:           string(m.WWWBehavior),
		StickySessionsEnabled: m.StickySessionsEnabled,
		StickySessionSeconds:  m.StickySessionSeconds,
		CreatedAt:             formatTime(m.CreatedAt),
	}
}

// checkCustomDomainPublic enforces the creation-time rule for customer
// hostnames: session cookies cannot cross origins, so custom domains
// must resolve to public content. Effective visibility follows the
// serving chain: mapping override, then alias override, then project
// default. Answers 400 itself on violation.
func (h *Handler) checkCustomDomainPublic(w http.ResponseWriter, r *http.Request, m *domainmap.Mapping) bool {
	if m.Type != domainmap.TypeCustom {
		return true
	}
	if m.IsPublic != nil {
		if *m.IsPublic {
			return true
		}
		h.respondError(w, http.StatusBadRequest, "bad_request", "custom domains must serve public content")
		return false
	}

	proj, err := h.projects.Get(r.Context(), *m.ProjectID)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			h.respondError(w, http.StatusBadRequest, "bad_request", "project does not exist")
			return false
		}
		h.logger.Error("failed to get project", "id", m.ProjectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get project")
		return false
	}

	effective := proj.IsPublic
	if m.Alias != nil {
		al, err := h.aliases.GetByName(r.Context(), proj.ID, *m.Alias)
		if err != nil {
			if errors.Is(err, alias.ErrAliasNotFound) {
				h.respondError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("alias %q does not exist", *m.Alias))
				return false
			}
			h.logger.Error("failed to get alias", "name", *m.Alias, "error", err)
			h.respondError(w, http.StatusInternalServerError, "internal", "failed to get alias")
			return false
		}
		if al.IsPublic != nil {
			effective = *al.IsPublic
		}
	}
	if !effective {
		h.respondError(w, http.StatusBadRequest, "bad_request", "custom domains must serve public content")
		return false
	}
	return true
}

// demoteOtherPrimaries keeps at most one primary mapping per project by
// clearing the flag on siblings before the given mapping takes it.
func (h *Handler) demoteOtherPrimaries(w http.ResponseWriter, r *http.Request, m *domainmap.Mapping) bool {
	if m.ProjectID == nil {
		return true
	}
	siblings, err := h.domains.ListByProject(r.Context(), *m.ProjectID)
	if err != nil {
		h.logger.Error("failed to list mappings", "project_id", m.ProjectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list mappings")
		return false
	}
	for _, sib := range siblings {
		if sib.ID == m.ID || !sib.IsPrimary {
			continue
		}
		sib.IsPrimary = false
		if err := h.domains.Update(r.Context(), sib); err != nil {
			h.logger.Error("failed to demote primary mapping", "id", sib.ID, "error", err)
			h.respondError(w, http.StatusInternalServerError, "internal", "failed to demote previous primary")
			return false
		}
	}
	return true
}

// handleListDomains returns a project's domain mappings.
// GET /admin/api/projects/{id}/domains
func (h *Handler) handleListDomains(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if !h.requireProject(w, r, projectID) {
		return
	}

	mappings, err := h.domains.ListByProject(r.Context(), projectID)
	if err != nil {
		h.logger.Error("failed to list mappings", "project_id", projectID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to list mappings")
		return
	}

	result := make([]domainResponse, 0, len(mappings))
	for _, m := range mappings {
		result = append(result, toDomainResponse(m))
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateDomain binds a hostname: to a project, to one of its
// aliases, or as a bare redirect. Redirect mappings carry no project and
// are operator only.
// POST /admin/api/domains
func (h *Handler) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var req domainRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if req.Domain == "" || req.Type == "" {
		h.respondError(w, http.StatusBadRequest, "bad_request", "domain and type are required")
		return
	}

	if req.ProjectID == nil {
		if !h.requireOperator(w, r) {
			return
		}
	} else if !h.requireProject(w, r, *req.ProjectID) {
		return
	}

	m := &domainmap.Mapping{
		ID:             uuid.New(),
		ProjectID:      req.ProjectID,
		Alias:          req.Alias,
		Path:           req.Path,
		Domain:         domainmap.NormalizeHost(req.Domain),
		Type:           domainmap.Type(req.Type),
		RedirectTarget: req.RedirectTarget,
		IsActive:       true,
		IsPublic:       req.IsPublic,
		WWWBehavior:    domainmap.WWWBehavior(req.WWWBehavior),
		CreatedAt:      h.clock.Now().UTC(),
	}
	if req.IsActive != nil {
		m.IsActive = *req.IsActive
	}
	if req.IsSPA != nil {
		m.IsSPA = *req.IsSPA
	}
	if req.IsPrimary != nil {
		m.IsPrimary = *req.IsPrimary
	}
	if req.StickySessionsEnabled != nil {
		m.StickySessionsEnabled = *req.StickySessionsEnabled
	}
	if req.StickySessionSeconds != nil {
		m.StickySessionSeconds = *req.StickySessionSeconds
	}

	if err := m.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !h.checkCustomDomainPublic(w, r, m) {
		return
	}
	if m.IsPrimary && !h.demoteOtherPrimaries(w, r, m) {
		return
	}

	if err := h.domains.Create(r.Context(), m); err != nil {
		if errors.Is(err, domainmap.ErrDuplicateDomain) {
			h.respondError(w, http.StatusConflict, "conflict", "domain already mapped")
			return
		}
		h.logger.Error("failed to create mapping", "domain", m.Domain, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to create mapping")
		return
	}

	h.notifyDomainsChanged(r.Context())
	h.respondJSON(w, http.StatusCreated, toDomainResponse(m))
}

// getScopedMapping loads a mapping and enforces caller scope. Mappings
// without a project (redirects) are operator territory.
func (h *Handler) getScopedMapping(w http.ResponseWriter, r *http.Request, id uuid.UUID) (*domainmap.Mapping, bool) {
	m, err := h.domains.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domainmap.ErrDomainNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "domain mapping not found")
			return nil, false
		}
		h.logger.Error("failed to get mapping", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get mapping")
		return nil, false
	}
	if m.ProjectID == nil {
		if keyFromContext(r.Context()) != nil {
			h.respondError(w, http.StatusNotFound, "not_found", "domain mapping not found")
			return nil, false
		}
		return m, true
	}
	if !h.requireProject(w, r, *m.ProjectID) {
		return nil, false
	}
	return m, true
}

// handleGetDomain returns one mapping.
// GET /admin/api/domains/{id}
func (h *Handler) handleGetDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	m, ok := h.getScopedMapping(w, r, id)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, toDomainResponse(m))
}

// handleUpdateDomain reconfigures a mapping. The hostname and type are
// immutable; remapping a domain means recreating it.
// PUT /admin/api/domains/{id}
func (h *Handler) handleUpdateDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	m, ok := h.getScopedMapping(w, r, id)
	if !ok {
		return
	}

	var req domainRequest
	if !h.readValidated(w, r, &req) {
		return
	}
	if req.Domain != "" && domainmap.NormalizeHost(req.Domain) != m.Domain {
		h.respondError(w, http.StatusBadRequest, "bad_request", "domain is immutable, create a new mapping instead")
		return
	}
	if req.Type != "" && domainmap.Type(req.Type) != m.Type {
		h.respondError(w, http.StatusBadRequest, "bad_request", "mapping type is immutable")
		return
	}

	if req.Alias != nil {
		if *req.Alias == "" {
			m.Alias = nil
		} else {
			m.Alias = req.Alias
		}
	}
	if req.Path != nil {
		if *req.Path == "" {
			m.Path = nil
		} else {
			m.Path = req.Path
		}
	}
	if req.RedirectTarget != nil {
		m.RedirectTarget = req.RedirectTarget
	}
	if req.IsActive != nil {
		m.IsActive = *req.IsActive
	}
	if req.IsPublic != nil {
		m.IsPublic = req.IsPublic
	}
	if req.IsSPA != nil {
		m.IsSPA = *req.IsSPA
	}
	if req.WWWBehavior != "" {
		m.WWWBehavior = domainmap.WWWBehavior(req.WWWBehavior)
	}
	if req.StickySessionsEnabled != nil {
		m.StickySessionsEnabled = *req.StickySessionsEnabled
	}
	if req.StickySessionSeconds != nil {
		m.StickySessionSeconds = *req.StickySessionSeconds
	}
	if req.IsPrimary != nil {
		m.IsPrimary = *req.IsPrimary
	}

	if err := m.Validate(); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !h.checkCustomDomainPublic(w, r, m) {
		return
	}
	if m.IsPrimary && !h.demoteOtherPrimaries(w, r, m) {
		return
	}

	if err := h.domains.Update(r.Context(), m); err != nil {
		if errors.Is(err, domainmap.ErrDomainNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "domain mapping not found")
			return
		}
		h.logger.Error("failed to update mapping", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to update mapping")
		return
	}

	h.notifyDomainsChanged(r.Context())
	h.respondJSON(w, http.StatusOK, toDomainResponse(m))
}

// handleDeleteDomain unbinds a hostname.
// DELETE /admin/api/domains/{id}
func (h *Handler) handleDeleteDomain(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, ok := h.getScopedMapping(w, r, id); !ok {
		return
	}

	if err := h.domains.Delete(r.Context(), id); err != nil {
		if errors.Is(err, domainmap.ErrDomainNotFound) {
			h.respondError(w, http.StatusNotFound, "not_found", "domain mapping not found")
			return
		}
		h.logger.Error("failed to delete mapping", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to delete mapping")
		return
	}

	h.notifyDomainsChanged(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// trafficRuleRequest is one entry of the traffic-rule replacement list.
type trafficRuleRequest struct {
	MatchType  string    `json:"matchType" validate:"required,oneof=query_param cookie"`
	MatchKey   string    `json:"matchKey" validate:"required"`
	MatchValue string    `json:"matchValue" validate:"required"`
	AliasID    uuid.UUID `json:"aliasId" validate:"required"`
	Priority   int       `json:"priority" validate:"min=0"`
}

// trafficRuleResponse is the JSON representation of a traffic rule.
type trafficRuleResponse struct {
	ID         string `json:"id"`
	MatchType  string `json:"matchType"`
	MatchKey   string `json:"matchKey"`
	MatchValue string `json:"matchValue"`
	AliasID    string `json:"aliasId"`
	Priority   int    `json:"priority"`
}

// checkRoutedAlias verifies an alias referenced by routing config exists
// and belongs to the mapping's project. Answers 400 itself on failure.
func (h *Handler) checkRoutedAlias(w http.ResponseWriter, r *http.Request, projectID, aliasID uuid.UUID) bool {
	al, err := h.aliases.Get(r.Context(), aliasID)
	if err != nil {
		if errors.Is(err, alias.ErrAliasNotFound) {
			h.respondError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("alias %s does not exist", aliasID))
			return false
		}
		h.logger.Error("failed to get alias", "id", aliasID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to get alias")
		return false
	}
	if al.ProjectID != projectID {
		h.respondError(w, http.StatusBadRequest, "bad_request", fmt.Sprintf("alias %s belongs to another project", aliasID))
		return false
	}
	return true
}

// handleReplaceTrafficRules swaps the full traffic-rule list of a
// mapping. Routing config is small enough that replacement beats
// row-level edits.
// PUT /admin/api/domains/{id}/traffic-rules
func (h *Handler) handleReplaceTrafficRules(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	m, ok := h.getScopedMapping(w, r, id)
	if !ok {
		return
	}
	if m.ProjectID == nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", "redirect mappings route no traffic")
		return
	}

	var reqs []trafficRuleRequest
	if err := h.readJSON(r, &reqs); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	rules := make([]domainmap.TrafficRule, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		if err := h.validate.Struct(req); err != nil {
			h.respondError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
			return
		}
		if !h.checkRoutedAlias(w, r, *m.ProjectID, req.AliasID) {
			return
		}
		rules = append(rules, domainmap.TrafficRule{
			ID:         uuid.New(),
			MappingID:  m.ID,
			MatchType:  domainmap.MatchType(req.MatchType),
			MatchKey:   req.MatchKey,
			MatchValue: req.MatchValue,
			AliasID:    req.AliasID,
			Priority:   req.Priority,
		})
	}

	if err := h.domains.ReplaceTrafficRules(r.Context(), m.ID, rules); err != nil {
		h.logger.Error("failed to replace traffic rules", "mapping_id", m.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to replace traffic rules")
		return
	}

	result := make([]trafficRuleResponse, 0, len(rules))
	for _, tr := range rules {
		result = append(result, trafficRuleResponse{
			ID:         tr.ID.String(),
			MatchType:  string(tr.MatchType),
			MatchKey:   tr.MatchKey,
			MatchValue: tr.MatchValue,
			AliasID:    tr.AliasID.String(),
			Priority:   tr.Priority,
		})
	}
	h.respondJSON(w, http.StatusOK, result)
}

// aliasWeightRequest is one entry of the alias-weight replacement list.
type aliasWeightRequest struct {
	AliasID uuid.UUID `json:"aliasId" validate:"required"`
	Weight  int       `json:"weight" validate:"required,min=1"`
}

// handleReplaceAliasWeights swaps the weighted-routing table of a
// mapping.
// PUT /admin/api/domains/{id}/alias-weights
func (h *Handler) handleReplaceAliasWeights(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	m, ok := h.getScopedMapping(w, r, id)
	if !ok {
		return
	}
	if m.ProjectID == nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", "redirect mappings route no traffic")
		return
	}

	var reqs []aliasWeightRequest
	if err := h.readJSON(r, &reqs); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	weights := make([]domainmap.AliasWeight, 0, len(reqs))
	for i := range reqs {
		req := &reqs[i]
		if err := h.validate.Struct(req); err != nil {
			h.respondError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
			return
		}
		if !h.checkRoutedAlias(w, r, *m.ProjectID, req.AliasID) {
			return
		}
		weights = append(weights, domainmap.AliasWeight{
			MappingID: m.ID,
			AliasID:   req.AliasID,
			Weight:    req.Weight,
		})
	}

	if err := h.domains.ReplaceAliasWeights(r.Context(), m.ID, weights); err != nil {
		h.logger.Error("failed to replace alias weights", "mapping_id", m.ID, "error", err)
		h.respondError(w, http.StatusInternalServerError, "internal", "failed to replace alias weights")
		return
	}

	h.respondJSON(w, http.StatusOK, reqs)
}
