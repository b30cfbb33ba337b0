// Package admin exposes the control-plane JSON API: CRUD for projects,
// aliases, domain mappings, proxy rule sets, cache rules, and retention
// rules, plus deploy uploads and API key management. Every mutation
// validates domain invariants, persists, and synchronously invalidates
// the serving caches before answering, so a 2xx means the change is live.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/cacherule"
	"github.com/pagegate/pagegate/internal/domain/domainmap"
	"github.com/pagegate/pagegate/internal/domain/permission"
	"github.com/pagegate/pagegate/internal/domain/project"
	"github.com/pagegate/pagegate/internal/domain/proxyrule"
	"github.com/pagegate/pagegate/internal/domain/retention"
	"github.com/pagegate/pagegate/internal/domain/secrets"
	"github.com/pagegate/pagegate/internal/port/outbound"
	"github.com/pagegate/pagegate/internal/service"
)

// Regenerator is notified after domain mappings or proxy rules change so
// the front proxy's configuration can be rebuilt. DomainsChanged failures
// are logged only; ProxyRulesChanged failures roll back the mutation, so
// the database never describes routing the front proxy cannot carry.
type Regenerator interface {
	DomainsChanged(ctx context.Context) error
	ProxyRulesChanged(ctx context.Context) error
}

// NopRegenerator is the default hook; deployments without a managed
// front proxy need nothing rebuilt.
type NopRegenerator struct{}

// DomainsChanged does nothing.
func (NopRegenerator) DomainsChanged(context.Context) error { return nil }

// ProxyRulesChanged does nothing.
func (NopRegenerator) ProxyRulesChanged(context.Context) error { return nil }

// Handler serves the admin JSON API under /admin/api/.
type Handler struct {
	projects   project.Store
	aliases    alias.Store
	domains    domainmap.Store
	proxyRules proxyrule.Store
	cacheRules cacherule.Store
	retention  retention.Store

	retentionSvc *service.RetentionService
	ingest       *service.IngestService
	ruleCache    *service.RuleCacheService

	keys    permission.KeyStore
	guard   *proxyrule.Guard
	box     *secrets.Box
	regen   Regenerator
	storage outbound.Storage

	limiter  *rateLimiter
	validate *validator.Validate
	clock    clockwork.Clock
	logger   *slog.Logger
}

// Option configures a Handler dependency.
type Option func(*Handler)

// WithProjectStore sets the project repository.
func WithProjectStore(s project.Store) Option {
	return func(h *Handler) { h.projects = s }
}

// WithAliasStore sets the alias repository.
func WithAliasStore(s alias.Store) Option {
	return func(h *Handler) { h.aliases = s }
}

// WithDomainStore sets the domain-mapping repository.
func WithDomainStore(s domainmap.Store) Option {
	return func(h *Handler) { h.domains = s }
}

// WithProxyRuleStore sets the proxy rule-set repository.
func WithProxyRuleStore(s proxyrule.Store) Option {
	return func(h *Handler) { h.proxyRules = s }
}

// WithCacheRuleStore sets the cache-rule repository.
func WithCacheRuleStore(s cacherule.Store) Option {
	return func(h *Handler) { h.cacheRules = s }
}

// WithRetentionStore sets the retention-rule repository.
func WithRetentionStore(s retention.Store) Option {
	return func(h *Handler) { h.retention = s }
}

// WithRetentionService enables the preview and run-now endpoints.
func WithRetentionService(s *service.RetentionService) Option {
	return func(h *Handler) { h.retentionSvc = s }
}

// WithIngestService enables the deploy upload endpoint.
func WithIngestService(s *service.IngestService) Option {
	return func(h *Handler) { h.ingest = s }
}

// WithRuleCache sets the serving-side snapshot cache that rule mutations
// invalidate before responding.
func WithRuleCache(c *service.RuleCacheService) Option {
	return func(h *Handler) { h.ruleCache = c }
}

// WithKeyStore sets the API key repository used by both the auth
// middleware and the key management endpoints.
func WithKeyStore(s permission.KeyStore) Option {
	return func(h *Handler) { h.keys = s }
}

// WithGuard sets the SSRF guard consulted before persisting proxy targets.
func WithGuard(g *proxyrule.Guard) Option {
	return func(h *Handler) { h.guard = g }
}

// WithSecretsBox enables at-rest encryption of injected proxy header
// values. Without a box, values are stored as given.
func WithSecretsBox(b *secrets.Box) Option {
	return func(h *Handler) { h.box = b }
}

// WithRegenerator sets the hook fired after domain-mapping and
// proxy-rule changes.
func WithRegenerator(r Regenerator) Option {
	return func(h *Handler) { h.regen = r }
}

// WithObjectStore lets upload responses carry the stored object's URL.
func WithObjectStore(s outbound.Storage) Option {
	return func(h *Handler) { h.storage = s }
}

// WithValidator shares a validator instance across adapters.
func WithValidator(v *validator.Validate) Option {
	return func(h *Handler) { h.validate = v }
}

// WithClock substitutes the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(h *Handler) { h.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates the admin API handler with the given options.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{
		guard:   proxyrule.NewGuard(),
		regen:   NopRegenerator{},
		limiter: newRateLimiter(60, time.Minute),
		clock:   clockwork.NewRealClock(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.validate == nil {
		h.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return h
}

// Routes returns the admin mux. Every route sits behind the auth
// middleware (loopback operator or project API key) and a per-IP rate
// limit.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /admin/api/projects", h.handleListProjects)
	mux.HandleFunc("POST /admin/api/projects", h.handleCreateProject)
	mux.HandleFunc("GET /admin/api/projects/{id}", h.handleGetProject)
	mux.HandleFunc("PUT /admin/api/projects/{id}", h.handleUpdateProject)
	mux.HandleFunc("DELETE /admin/api/projects/{id}", h.handleDeleteProject)

	mux.HandleFunc("GET /admin/api/projects/{id}/aliases", h.handleListAliases)
	mux.HandleFunc("POST /admin/api/projects/{id}/aliases", h.handleCreateAlias)
	mux.HandleFunc("PUT /admin/api/aliases/{id}", h.handleUpdateAlias)
	mux.HandleFunc("DELETE /admin/api/aliases/{id}", h.handleDeleteAlias)

	mux.HandleFunc("GET /admin/api/projects/{id}/domains", h.handleListDomains)
	mux.HandleFunc("POST /admin/api/domains", h.handleCreateDomain)
	mux.HandleFunc("GET /admin/api/domains/{id}", h.handleGetDomain)
	mux.HandleFunc("PUT /admin/api/domains/{id}", h.handleUpdateDomain)
	mux.HandleFunc("DELETE /admin/api/domains/{id}", h.handleDeleteDomain)
	mux.HandleFunc("PUT /admin/api/domains/{id}/traffic-rules", h.handleReplaceTrafficRules)
	mux.HandleFunc("PUT /admin/api/domains/{id}/alias-weights", h.handleReplaceAliasWeights)

	mux.HandleFunc("GET /admin/api/projects/{id}/rule-sets", h.handleListRuleSets)
	mux.HandleFunc("POST /admin/api/projects/{id}/rule-sets", h.handleCreateRuleSet)
	mux.HandleFunc("GET /admin/api/rule-sets/{id}", h.handleGetRuleSet)
	mux.HandleFunc("PUT /admin/api/rule-sets/{id}", h.handleUpdateRuleSet)
	mux.HandleFunc("DELETE /admin/api/rule-sets/{id}", h.handleDeleteRuleSet)
	mux.HandleFunc("POST /admin/api/rule-sets/{id}/rules", h.handleCreateRule)
	mux.HandleFunc("PUT /admin/api/rules/{id}", h.handleUpdateRule)
	mux.HandleFunc("DELETE /admin/api/rules/{id}", h.handleDeleteRule)

	mux.HandleFunc("GET /admin/api/projects/{id}/cache-rules", h.handleListCacheRules)
	mux.HandleFunc("POST /admin/api/projects/{id}/cache-rules", h.handleCreateCacheRule)
	mux.HandleFunc("PUT /admin/api/cache-rules/{id}", h.handleUpdateCacheRule)
	mux.HandleFunc("DELETE /admin/api/cache-rules/{id}", h.handleDeleteCacheRule)

	mux.HandleFunc("GET /admin/api/projects/{id}/retention-rules", h.handleListRetentionRules)
	mux.HandleFunc("POST /admin/api/projects/{id}/retention-rules", h.handleCreateRetentionRule)
	mux.HandleFunc("PUT /admin/api/retention-rules/{id}", h.handleUpdateRetentionRule)
	mux.HandleFunc("DELETE /admin/api/retention-rules/{id}", h.handleDeleteRetentionRule)
	mux.HandleFunc("GET /admin/api/retention-rules/{id}/preview", h.handlePreviewRetentionRule)
	mux.HandleFunc("POST /admin/api/retention-rules/{id}/run", h.handleRunRetentionRule)
	mux.HandleFunc("POST /admin/api/retention-rules/{id}/unlock", h.handleUnlockRetentionRule)
	mux.HandleFunc("GET /admin/api/projects/{id}/retention-logs", h.handleListRetentionLogs)

	mux.HandleFunc("POST /admin/api/projects/{id}/uploads", h.handleUpload)

	mux.HandleFunc("GET /admin/api/projects/{id}/keys", h.handleListKeys)
	mux.HandleFunc("POST /admin/api/projects/{id}/keys", h.handleMintKey)
	mux.HandleFunc("DELETE /admin/api/keys/{id}", h.handleRevokeKey)

	// Rate limiting wraps auth so credential guessing is throttled too.
	return h.rateLimitMiddleware(h.authMiddleware(mux))
}

// notifyDomainsChanged fires the regeneration hook. Failures are logged,
// never surfaced: the mapping is already persisted and live.
func (h *Handler) notifyDomainsChanged(ctx context.Context) {
	if err := h.regen.DomainsChanged(ctx); err != nil {
		h.logger.Error("domain regeneration hook failed", "error", err)
	}
}

// --- JSON helpers ---

// respondJSON writes a JSON response with the given status code.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode admin response", "error", err)
	}
}

// respondError writes the canonical error body shared with the serving
// adapter: a machine code plus a human message.
func (h *Handler) respondError(w http.ResponseWriter, status int, code, message string) {
	h.respondJSON(w, status, map[string]string{"error": code, "message": message})
}

// readJSON decodes the request body into dst.
func (h *Handler) readJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

// readValidated decodes and struct-validates the body in one step,
// answering 400 itself on failure.
func (h *Handler) readValidated(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := h.readJSON(r, dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		h.respondError(w, http.StatusBadRequest, "validation_failed", validationMessage(err))
		return false
	}
	return true
}

// pathID parses the {id} path segment, answering 400 itself when it is
// not a UUID.
func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "bad_request", "malformed id")
		return uuid.Nil, false
	}
	return id, true
}

// validationMessage flattens a validator error into one readable line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s fails %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s fails %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// formatTime renders persisted timestamps for API responses.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func uuidPtrString(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}
