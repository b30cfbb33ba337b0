// Package service contains the application services: route resolution,
// asset serving, rule-snapshot caching, upload ingest, form dispatch, and
// the retention engine.
package service

import (
	"context"
	"errors"
	"log/slog"
	mathrand "math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/domain/domainmap"
	"github.com/pagegate/pagegate/internal/domain/project"
	"github.com/pagegate/pagegate/internal/domain/proxyrule"
	"github.com/pagegate/pagegate/internal/domain/visibility"
)

// Routing errors surfaced to the transport layer.
var (
	// ErrRouteNotFound means no project, alias, domain, or asset matched.
	ErrRouteNotFound = errors.New("route not found")
	// ErrBadPublicPath means the /public/ URL did not parse.
	ErrBadPublicPath = errors.New("malformed public path")
)

// StickyCookieName pins a client to a weighted alias.
const StickyCookieName = "pagegate_alias"

// DefaultProductionAlias is served when a domain mapping binds a project
// without naming an alias.
const DefaultProductionAlias = "production"

// DecisionKind tags what the router decided to do with a request.
type DecisionKind int

const (
	// DecideServe streams an asset from storage.
	DecideServe DecisionKind = iota
	// DecideRedirect answers with a Location header.
	DecideRedirect
	// DecideProxy forwards to an upstream.
	DecideProxy
	// DecideForm dispatches an email form submission.
	DecideForm
)

// RouteRequest carries the routing inputs extracted from one HTTP request.
type RouteRequest struct {
	// Host is the raw Host header; ports are stripped during resolution.
	Host string
	// Path is the URL path.
	Path string
	// RawQuery is the query string without the leading question mark.
	RawQuery string
	// OriginalURI is the X-Original-URI header when the ingress rewrote
	// the path, empty otherwise.
	OriginalURI string
	// ForwardedHost is the X-Forwarded-Host header, empty when absent.
	ForwardedHost string
	// Query is the parsed query string, for traffic-rule predicates.
	Query url.Values
	// Cookies maps cookie names to first values, for traffic rules and
	// sticky sessions.
	Cookies map[string]string
}

// Decision is the resolved plan for one request.
type Decision struct {
	Kind DecisionKind

	// RedirectURL and RedirectStatus are set for DecideRedirect.
	RedirectURL    string
	RedirectStatus int

	// Resolved serving context, set for serve, proxy, and form decisions.
	Project    *project.Project
	Alias      *alias.Alias
	Mapping    *domainmap.Mapping
	CommitSHA  string
	Visibility visibility.Effective

	// Subpath is the effective file path, without a leading slash, after
	// any internal rewrite.
	Subpath string

	// RewrittenFrom holds the pre-rewrite path when an internal rewrite
	// fired, empty otherwise.
	RewrittenFrom string

	// Rule is the matched proxy rule for proxy and form decisions.
	Rule *proxyrule.CompiledRule

	// SPA enables the index.html fallback on asset misses.
	SPA bool

	// SetSticky names the alias to pin in a cookie, empty for none.
	SetSticky     string
	StickySeconds int
}

// ResolverService is the request router: it turns host plus path into a
// serve, redirect, proxy, or form decision.
type ResolverService struct {
	projects project.Store
	aliases  alias.Store
	domains  domainmap.Store
	rules    *RuleCacheService

	// primaryDomain is the platform's base domain; hosts under it resolve
	// through the primary mapping.
	primaryDomain string

	rngMu  sync.Mutex
	rng    *mathrand.Rand
	logger *slog.Logger
}

// NewResolverService wires the router against its stores.
func NewResolverService(projects project.Store, aliases alias.Store, domains domainmap.Store, rules *RuleCacheService, primaryDomain string, logger *slog.Logger) *ResolverService {
	return &ResolverService{
		projects:      projects,
		aliases:       aliases,
		domains:       domains,
		rules:         rules,
		primaryDomain: domainmap.NormalizeHost(primaryDomain),
		rng:           mathrand.New(mathrand.NewSource(time.Now().UnixNano())),
		logger:        logger,
	}
}

// Resolve runs the routing state machine. Not-found conditions at any
// tier fall through to the next and bottom out in ErrRouteNotFound.
func (s *ResolverService) Resolve(ctx context.Context, req RouteRequest) (*Decision, error) {
	host := domainmap.NormalizeHost(req.Host)

	mapping, err := s.lookupMapping(ctx, host)
	if err != nil && !errors.Is(err, domainmap.ErrDomainNotFound) {
		return nil, err
	}

	if mapping != nil {
		if dec := s.redirectDecision(mapping, host, req); dec != nil {
			return dec, nil
		}
	}

	if strings.HasPrefix(req.Path, "/public/") {
		return s.resolvePublicPath(ctx, req)
	}

	if mapping == nil {
		// Primary-domain fallback: hosts under the base domain serve the
		// primary mapping's project.
		if s.primaryDomain != "" && (host == s.primaryDomain || strings.HasSuffix(host, "."+s.primaryDomain)) {
			mapping, err = s.domains.GetByDomain(ctx, s.primaryDomain)
			if err != nil {
				if errors.Is(err, domainmap.ErrDomainNotFound) {
					return nil, ErrRouteNotFound
				}
				return nil, err
			}
		} else {
			return nil, ErrRouteNotFound
		}
	}

	return s.resolveMapped(ctx, mapping, strings.TrimPrefix(req.Path, "/"), req)
}

// lookupMapping finds the active mapping for host or its www twin.
func (s *ResolverService) lookupMapping(ctx context.Context, host string) (*domainmap.Mapping, error) {
	m, err := s.domains.GetByDomain(ctx, host)
	if err == nil {
		return m, nil
	}
	if !errors.Is(err, domainmap.ErrDomainNotFound) {
		return nil, err
	}
	twin := domainmap.WWWTwin(host)
	if twin == host || twin == "" {
		return nil, domainmap.ErrDomainNotFound
	}
	return s.domains.GetByDomain(ctx, twin)
}

// redirectDecision returns a redirect for redirect-type mappings and for
// hosts on the wrong side of the www behavior, nil otherwise.
func (s *ResolverService) redirectDecision(m *domainmap.Mapping, host string, req RouteRequest) *Decision {
	if m.Type == domainmap.TypeRedirect && m.RedirectTarget != nil {
		target := strings.TrimRight(*m.RedirectTarget, "/") + req.Path
		if req.RawQuery != "" {
			target += "?" + req.RawQuery
		}
		return &Decision{
			Kind:           DecideRedirect,
			RedirectURL:    target,
			RedirectStatus: 301,
			Mapping:        m,
		}
	}

	canonical := host
	switch m.WWWBehavior {
	case domainmap.WWWRedirectToApex:
		canonical = strings.TrimPrefix(host, "www.")
	case domainmap.WWWRedirectToWWW:
		if !strings.HasPrefix(host, "www.") {
			canonical = "www." + host
		}
	}
	if canonical == host {
		return nil
	}
	target := "https://" + canonical + req.Path
	if req.RawQuery != "" {
		target += "?" + req.RawQuery
	}
	return &Decision{
		Kind:           DecideRedirect,
		RedirectURL:    target,
		RedirectStatus: 301,
		Mapping:        m,
	}
}

// resolvePublicPath handles the three /public/ URL shapes.
func (s *ResolverService) resolvePublicPath(ctx context.Context, req RouteRequest) (*Decision, error) {
	trimmed := strings.TrimPrefix(req.Path, "/public/")
	parts := strings.SplitN(trimmed, "/", 5)

	if len(parts) >= 2 && parts[0] == "subdomain-alias" {
		aliasName := parts[1]
		subpath := ""
		if len(parts) > 2 {
			subpath = strings.Join(parts[2:], "/")
		}
		return s.resolveSubdomainAlias(ctx, aliasName, subpath, req)
	}

	if len(parts) < 3 {
		return nil, ErrBadPublicPath
	}
	owner, repo := parts[0], parts[1]
	if owner == "" || repo == "" {
		return nil, ErrBadPublicPath
	}

	proj, err := s.projects.GetBySlug(ctx, owner, repo)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			return nil, ErrRouteNotFound
		}
		return nil, err
	}

	var (
		al      *alias.Alias
		sha     string
		subpath string
	)
	switch {
	case parts[2] == "alias":
		// /public/{owner}/{repo}/alias/{name}/{subpath...}
		if len(parts) < 4 || parts[3] == "" {
			return nil, ErrBadPublicPath
		}
		al, err = s.aliases.GetByName(ctx, proj.ID, parts[3])
		if err != nil {
			if errors.Is(err, alias.ErrAliasNotFound) {
				return nil, ErrRouteNotFound
			}
			return nil, err
		}
		sha = al.CommitSHA
		if len(parts) > 4 {
			subpath = parts[4]
		}
	case asset.IsCommitSHA(strings.ToLower(parts[2])):
		// /public/{owner}/{repo}/{sha}/{subpath...}
		sha = strings.ToLower(parts[2])
		if len(parts) > 3 {
			subpath = strings.Join(parts[3:], "/")
		}
	default:
		// /public/{owner}/{repo}/{aliasName}/{subpath...}
		al, err = s.aliases.GetByName(ctx, proj.ID, parts[2])
		if err != nil {
			if errors.Is(err, alias.ErrAliasNotFound) {
				return nil, ErrRouteNotFound
			}
			return nil, err
		}
		sha = al.CommitSHA
		if len(parts) > 3 {
			subpath = strings.Join(parts[3:], "/")
		}
	}

	return s.finishDecision(ctx, proj, al, nil, sha, subpath, req)
}

// resolveSubdomainAlias serves the wildcard-subdomain ingress shape. The
// alias is looked up in the primary mapping's project first; misses fall
// back to the domain mapping named by X-Forwarded-Host.
func (s *ResolverService) resolveSubdomainAlias(ctx context.Context, aliasName, subpath string, req RouteRequest) (*Decision, error) {
	if s.primaryDomain != "" {
		primary, err := s.domains.GetByDomain(ctx, s.primaryDomain)
		if err == nil && primary.ProjectID != nil {
			al, err := s.aliases.GetByName(ctx, *primary.ProjectID, aliasName)
			if err == nil {
				proj, err := s.projects.Get(ctx, *primary.ProjectID)
				if err != nil {
					return nil, err
				}
				return s.finishDecision(ctx, proj, al, primary, al.CommitSHA, subpath, req)
			}
			if !errors.Is(err, alias.ErrAliasNotFound) {
				return nil, err
			}
		} else if err != nil && !errors.Is(err, domainmap.ErrDomainNotFound) {
			return nil, err
		}
	}

	if req.ForwardedHost == "" {
		return nil, ErrRouteNotFound
	}
	fwd := domainmap.NormalizeHost(req.ForwardedHost)
	mapping, err := s.lookupMapping(ctx, fwd)
	if err != nil {
		if errors.Is(err, domainmap.ErrDomainNotFound) {
			return nil, ErrRouteNotFound
		}
		return nil, err
	}
	return s.resolveMapped(ctx, mapping, subpath, req)
}

// resolveMapped serves a request through a domain mapping: pick the alias
// (traffic rules beat sticky cookies beat weighted choice beat the bound
// alias), then finish against the alias's commit.
func (s *ResolverService) resolveMapped(ctx context.Context, m *domainmap.Mapping, subpath string, req RouteRequest) (*Decision, error) {
	if m.ProjectID == nil {
		return nil, ErrRouteNotFound
	}
	proj, err := s.projects.Get(ctx, *m.ProjectID)
	if err != nil {
		if errors.Is(err, project.ErrProjectNotFound) {
			return nil, ErrRouteNotFound
		}
		return nil, err
	}

	al, setSticky, err := s.chooseAlias(ctx, proj.ID, m, req)
	if err != nil {
		return nil, err
	}
	if al == nil {
		return nil, ErrRouteNotFound
	}

	if m.Path != nil && *m.Path != "" {
		subpath = joinSubpath(*m.Path, subpath)
	}

	dec, err := s.finishDecision(ctx, proj, al, m, al.CommitSHA, subpath, req)
	if err != nil {
		return nil, err
	}
	if setSticky != "" && m.StickySessionsEnabled {
		dec.SetSticky = setSticky
		dec.StickySeconds = int(m.StickyDuration().Seconds())
	}
	return dec, nil
}

// chooseAlias picks the serving alias for a mapped request. The second
// return names the alias to pin when a fresh weighted choice was made.
func (s *ResolverService) chooseAlias(ctx context.Context, projectID uuid.UUID, m *domainmap.Mapping, req RouteRequest) (*alias.Alias, string, error) {
	// Traffic rules outrank everything, including an existing sticky pin.
	rules, err := s.domains.TrafficRules(ctx, m.ID)
	if err != nil {
		return nil, "", err
	}
	for _, r := range rules {
		if s.trafficRuleMatches(r, req) {
			al, err := s.aliases.Get(ctx, r.AliasID)
			if err != nil {
				if errors.Is(err, alias.ErrAliasNotFound) {
					continue
				}
				return nil, "", err
			}
			return al, "", nil
		}
	}

	// Sticky cookie: honored even when the alias has left the weight set,
	// so asset requests inherit the alias chosen for their parent page.
	if m.StickySessionsEnabled {
		if name := req.Cookies[StickyCookieName]; name != "" {
			al, err := s.aliases.GetByName(ctx, projectID, name)
			if err == nil {
				return al, "", nil
			}
			if !errors.Is(err, alias.ErrAliasNotFound) {
				return nil, "", err
			}
		}
	}

	weights, err := s.domains.AliasWeights(ctx, m.ID)
	if err != nil {
		return nil, "", err
	}
	if len(weights) > 0 {
		chosen, err := s.weightedChoice(ctx, weights)
		if err != nil {
			return nil, "", err
		}
		if chosen != nil {
			return chosen, chosen.Name, nil
		}
	}

	name := DefaultProductionAlias
	if m.Alias != nil && *m.Alias != "" {
		name = *m.Alias
	}
	al, err := s.aliases.GetByName(ctx, projectID, name)
	if err != nil {
		if errors.Is(err, alias.ErrAliasNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}
	return al, "", nil
}

func (s *ResolverService) trafficRuleMatches(r domainmap.TrafficRule, req RouteRequest) bool {
	switch r.MatchType {
	case domainmap.MatchQueryParam:
		return req.Query.Get(r.MatchKey) == r.MatchValue
	case domainmap.MatchCookie:
		return req.Cookies[r.MatchKey] == r.MatchValue
	default:
		return false
	}
}

// weightedChoice picks an alias proportionally to its weight.
func (s *ResolverService) weightedChoice(ctx context.Context, weights []domainmap.AliasWeight) (*alias.Alias, error) {
	total := 0
	for _, w := range weights {
		if w.Weight > 0 {
			total += w.Weight
		}
	}
	if total == 0 {
		return nil, nil
	}

	s.rngMu.Lock()
	pick := s.rng.Intn(total)
	s.rngMu.Unlock()

	for _, w := range weights {
		if w.Weight <= 0 {
			continue
		}
		if pick < w.Weight {
			al, err := s.aliases.Get(ctx, w.AliasID)
			if err != nil {
				if errors.Is(err, alias.ErrAliasNotFound) {
					return nil, nil
				}
				return nil, err
			}
			return al, nil
		}
		pick -= w.Weight
	}
	return nil, nil
}

// finishDecision resolves the rule set, evaluates proxy rules, applies
// internal rewrites, and assembles the final decision.
func (s *ResolverService) finishDecision(ctx context.Context, proj *project.Project, al *alias.Alias, m *domainmap.Mapping, sha, subpath string, req RouteRequest) (*Decision, error) {
	if al != nil && al.BasePath != nil && *al.BasePath != "" {
		subpath = joinSubpath(*al.BasePath, subpath)
	}

	dec := &Decision{
		Kind:       DecideServe,
		Project:    proj,
		Alias:      al,
		Mapping:    m,
		CommitSHA:  strings.ToLower(sha),
		Subpath:    strings.TrimPrefix(subpath, "/"),
		Visibility: visibility.Resolve(proj, al, m),
		SPA:        m != nil && m.IsSPA,
	}

	ruleSetID, err := s.effectiveRuleSet(ctx, proj, al)
	if err != nil {
		return nil, err
	}
	if ruleSetID == nil {
		return dec, nil
	}

	set, err := s.rules.ProxyRules(ctx, *ruleSetID)
	if err != nil {
		return nil, err
	}

	matchPath := "/" + dec.Subpath
	if req.OriginalURI != "" {
		matchPath = req.OriginalURI
		if i := strings.IndexByte(matchPath, '?'); i >= 0 {
			matchPath = matchPath[:i]
		}
	}

	rule := set.Match(matchPath)
	if rule == nil {
		return dec, nil
	}

	switch rule.Kind {
	case proxyrule.KindInternalRewrite:
		// One rewrite pass only; the rewritten path goes straight to
		// asset lookup.
		dec.RewrittenFrom = matchPath
		dec.Subpath = strings.TrimPrefix(rule.Rewrite(matchPath), "/")
		dec.Rule = rule
	case proxyrule.KindExternalProxy:
		dec.Kind = DecideProxy
		dec.Rule = rule
		dec.Subpath = strings.TrimPrefix(matchPath, "/")
	case proxyrule.KindEmailForm:
		dec.Kind = DecideForm
		dec.Rule = rule
		dec.Subpath = strings.TrimPrefix(matchPath, "/")
	}
	return dec, nil
}

// effectiveRuleSet resolves alias rule set, then for auto-preview aliases
// any non-preview alias on the same commit, then the project default.
func (s *ResolverService) effectiveRuleSet(ctx context.Context, proj *project.Project, al *alias.Alias) (*uuid.UUID, error) {
	if al != nil {
		if al.ProxyRuleSetID != nil {
			return al.ProxyRuleSetID, nil
		}
		if al.IsAutoPreview && al.CommitSHA != "" {
			siblings, err := s.aliases.ListByCommit(ctx, proj.ID, al.CommitSHA)
			if err != nil {
				return nil, err
			}
			for _, sib := range siblings {
				if !sib.IsAutoPreview && sib.ProxyRuleSetID != nil {
					return sib.ProxyRuleSetID, nil
				}
			}
		}
	}
	return proj.DefaultRuleSetID, nil
}

// joinSubpath mounts rest under base without doubling slashes.
func joinSubpath(base, rest string) string {
	base = strings.Trim(base, "/")
	rest = strings.TrimPrefix(rest, "/")
	switch {
	case base == "":
		return rest
	case rest == "":
		return base
	default:
		return base + "/" + rest
	}
}
