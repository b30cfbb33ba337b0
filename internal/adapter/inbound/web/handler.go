package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/domain/cacherule"
	"github.com/pagegate/pagegate/internal/domain/permission"
	"github.com/pagegate/pagegate/internal/domain/project"
	"github.com/pagegate/pagegate/internal/service"
)

// Handler executes routing decisions: it resolves each request through
// the router, enforces the effective visibility, and then serves,
// redirects, proxies, or dispatches a form.
type Handler struct {
	resolver  *service.ResolverService
	assets    *service.AssetService
	rules     *service.RuleCacheService
	forms     *service.FormService
	oracle    permission.Oracle
	forwarder *Forwarder
	loginURL  string
	metrics   *Metrics
	logger    *slog.Logger
}

// NewHandler wires the serving handler. loginURL receives unauthorized
// viewers when the effective policy says redirect_login.
func NewHandler(
	resolver *service.ResolverService,
	assets *service.AssetService,
	rules *service.RuleCacheService,
	forms *service.FormService,
	oracle permission.Oracle,
	forwarder *Forwarder,
	loginURL string,
	metrics *Metrics,
	logger *slog.Logger,
) *Handler {
	if loginURL == "" {
		loginURL = "/login"
	}
	return &Handler{
		resolver:  resolver,
		assets:    assets,
		rules:     rules,
		forms:     forms,
		oracle:    oracle,
		forwarder: forwarder,
		loginURL:  loginURL,
		metrics:   metrics,
		logger:    logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	dec, err := h.resolver.Resolve(r.Context(), routeRequestFrom(r))
	if err != nil {
		h.metrics.DecisionsTotal.WithLabelValues("miss").Inc()
		h.writeRouteError(w, r, err)
		return
	}

	if dec.SetSticky != "" {
		setStickyCookie(w, dec.SetSticky, dec.StickySeconds)
	}

	switch dec.Kind {
	case service.DecideRedirect:
		h.metrics.DecisionsTotal.WithLabelValues("redirect").Inc()
		http.Redirect(w, r, dec.RedirectURL, dec.RedirectStatus)
	case service.DecideProxy:
		h.metrics.DecisionsTotal.WithLabelValues("proxy").Inc()
		if !h.authorize(w, r, dec) {
			return
		}
		h.forwarder.Forward(w, r, dec.Rule, dec.Subpath)
	case service.DecideForm:
		h.metrics.DecisionsTotal.WithLabelValues("form").Inc()
		if h.formPreflight(w, r, dec) {
			return
		}
		if !h.authorize(w, r, dec) {
			return
		}
		h.handleForm(w, r, dec)
	default:
		h.metrics.DecisionsTotal.WithLabelValues("serve").Inc()
		if !h.authorize(w, r, dec) {
			return
		}
		h.serveAsset(w, r, dec)
	}
}

// routeRequestFrom extracts the routing inputs from an HTTP request.
func routeRequestFrom(r *http.Request) service.RouteRequest {
	cookies := make(map[string]string)
	for _, c := range r.Cookies() {
		if _, ok := cookies[c.Name]; !ok {
			cookies[c.Name] = c.Value
		}
	}
	return service.RouteRequest{
		Host:          r.Host,
		Path:          r.URL.Path,
		RawQuery:      r.URL.RawQuery,
		OriginalURI:   r.Header.Get("X-Original-URI"),
		ForwardedHost: r.Header.Get("X-Forwarded-Host"),
		Query:         r.URL.Query(),
		Cookies:       cookies,
	}
}

// authorize enforces the effective visibility. It writes the refusal and
// returns false when the caller may not see the content.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, dec *service.Decision) bool {
	eff := dec.Visibility
	if eff.IsPublic {
		return true
	}

	auth := AuthFromContext(r.Context())
	if auth == nil {
		h.denyUnauthorized(w, r, dec)
		return false
	}

	// A project API key speaks only for its own project.
	if auth.APIKeyProjectID != nil {
		if *auth.APIKeyProjectID == dec.Project.ID {
			return true
		}
		h.denyUnauthorized(w, r, dec)
		return false
	}

	role, ok, err := h.oracle.EffectiveRole(r.Context(), auth.UserID, dec.Project)
	if err != nil {
		LoggerFromContext(r.Context()).Error("role resolution failed",
			"error", err,
			"project_id", dec.Project.ID,
		)
		writeJSONError(w, http.StatusInternalServerError, "internal", "authorization check failed")
		return false
	}
	if !ok {
		// Stale session: the user vanished. Treat as anonymous.
		h.denyUnauthorized(w, r, dec)
		return false
	}
	if !role.Covers(eff.RequiredRole) {
		writeJSONError(w, http.StatusForbidden, "forbidden", "insufficient role for this content")
		return false
	}
	return true
}

// denyUnauthorized answers an anonymous (or vanished) viewer per the
// effective unauthorizedBehavior: hide behind a 404, or bounce to login
// with the original URL in the next parameter.
func (h *Handler) denyUnauthorized(w http.ResponseWriter, r *http.Request, dec *service.Decision) {
	if dec.Visibility.Unauthorized == project.UnauthorizedRedirectLogin {
		target := h.loginURL + "?next=" + url.QueryEscape(r.URL.RequestURI())
		http.Redirect(w, r, target, http.StatusFound)
		return
	}
	h.notFound(w)
}

// serveAsset streams the located asset with caching and conditional-GET
// headers. Serving is GET/HEAD only; other methods belong to proxy rules.
func (h *Handler) serveAsset(w http.ResponseWriter, r *http.Request, dec *service.Decision) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeJSONError(w, http.StatusMethodNotAllowed, "method_not_allowed", "static content accepts GET and HEAD")
		return
	}

	located, err := h.assets.Locate(r.Context(), dec.Project.ID, dec.CommitSHA, dec.Subpath, dec.SPA)
	if err != nil {
		if errors.Is(err, asset.ErrAssetNotFound) {
			h.notFound(w)
			return
		}
		LoggerFromContext(r.Context()).Error("asset lookup failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "asset lookup failed")
		return
	}
	a := located.Asset

	etag := `"` + a.ContentHash + `"`
	directive := h.cacheDirective(r, dec, a.PublicPath)

	if inm := r.Header.Get("If-None-Match"); inm != "" && etagMatches(inm, etag) {
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", directive)
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if r.Method == http.MethodHead {
		h.writeAssetHeaders(w, a, etag, directive)
		w.WriteHeader(http.StatusOK)
		return
	}

	rc, err := h.assets.Open(r.Context(), a)
	if err != nil {
		if errors.Is(err, asset.ErrAssetNotFound) {
			// A retention delete raced the lookup.
			h.notFound(w)
			return
		}
		LoggerFromContext(r.Context()).Error("asset open failed", "error", err, "storage_key", a.StorageKey)
		writeJSONError(w, http.StatusInternalServerError, "internal", "storage unavailable")
		return
	}
	defer rc.Close()

	h.writeAssetHeaders(w, a, etag, directive)
	w.WriteHeader(http.StatusOK)

	n, err := io.Copy(w, rc)
	h.metrics.AssetBytesServed.Add(float64(n))
	if err != nil {
		// Headers are committed; a second status write is impossible.
		// Abort the connection so the client sees the truncation.
		LoggerFromContext(r.Context()).Error("asset stream interrupted",
			"error", err,
			"storage_key", a.StorageKey,
			"written", n,
		)
		panic(http.ErrAbortHandler)
	}
}

func (h *Handler) writeAssetHeaders(w http.ResponseWriter, a *asset.Asset, etag, directive string) {
	ct := a.MimeType
	if ct == "" {
		ct = mime.TypeByExtension(path.Ext(a.PublicPath))
	}
	if ct == "" {
		ct = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.FormatInt(a.Size, 10))
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", directive)
	w.Header().Set("Last-Modified", a.CreatedAt.UTC().Format(http.TimeFormat))
}

// cacheDirective evaluates the project's cache rules for the served file.
// SHA-addressed URLs are immutable; alias-addressed content can move.
func (h *Handler) cacheDirective(r *http.Request, dec *service.Decision, publicPath string) string {
	cs, err := h.rules.CacheRules(r.Context(), dec.Project.ID)
	if err != nil {
		LoggerFromContext(r.Context()).Warn("cache rules unavailable, using defaults", "error", err)
		cs = nil
	}
	d := cs.Evaluate(cacherule.Input{
		FilePath:        "/" + publicPath,
		IsImmutableURL:  dec.Alias == nil && dec.CommitSHA != "",
		IsPublicContent: dec.Visibility.IsPublic,
	})
	return d.Value
}

// etagMatches reports whether any If-None-Match token matches etag.
func etagMatches(headerValue, etag string) bool {
	for _, token := range strings.Split(headerValue, ",") {
		token = strings.TrimSpace(token)
		if token == "*" || token == etag || strings.TrimPrefix(token, "W/") == etag {
			return true
		}
	}
	return false
}

func setStickyCookie(w http.ResponseWriter, aliasName string, seconds int) {
	http.SetCookie(w, &http.Cookie{
		Name:     service.StickyCookieName,
		Value:    aliasName,
		Path:     "/",
		MaxAge:   seconds,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *Handler) writeRouteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrRouteNotFound):
		h.notFound(w)
	case errors.Is(err, service.ErrBadPublicPath):
		writeJSONError(w, http.StatusBadRequest, "bad_request", "malformed public path")
	default:
		LoggerFromContext(r.Context()).Error("route resolution failed", "error", err, "host", r.Host, "path", r.URL.Path)
		writeJSONError(w, http.StatusInternalServerError, "internal", "route resolution failed")
	}
}

func (h *Handler) notFound(w http.ResponseWriter) {
	writeJSONError(w, http.StatusNotFound, "not_found", "no content at this address")
}

// writeJSONError emits the canonical error body. It must never be called
// after headers are committed.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
