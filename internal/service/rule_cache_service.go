package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/pagegate/pagegate/internal/domain/cacherule"
	"github.com/pagegate/pagegate/internal/domain/proxyrule"
)

// Default snapshot lifetimes. Proxy rules turn over quickly during rollout
// debugging, cache rules rarely change.
const (
	DefaultProxyRuleTTL = 10 * time.Second
	DefaultCacheRuleTTL = 5 * time.Minute
)

// RuleCacheService hands out compiled rule snapshots. Snapshots are
// immutable; readers share pointers and mutations are published by
// invalidating the key, so consistency is eventual with at most TTL lag.
type RuleCacheService struct {
	proxyStore proxyrule.Store
	cacheStore cacherule.Store

	proxySets *gocache.Cache
	cacheSets *gocache.Cache

	flight singleflight.Group
	logger *slog.Logger
}

// NewRuleCacheService builds the two snapshot caches. Non-positive TTLs
// fall back to the defaults.
func NewRuleCacheService(proxyStore proxyrule.Store, cacheStore cacherule.Store, proxyTTL, cacheTTL time.Duration, logger *slog.Logger) *RuleCacheService {
	if proxyTTL <= 0 {
		proxyTTL = DefaultProxyRuleTTL
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheRuleTTL
	}
	return &RuleCacheService{
		proxyStore: proxyStore,
		cacheStore: cacheStore,
		proxySets:  gocache.New(proxyTTL, 2*proxyTTL),
		cacheSets:  gocache.New(cacheTTL, 2*cacheTTL),
		logger:     logger,
	}
}

// ProxyRules returns the compiled proxy rule set, loading and compiling on
// miss. Concurrent misses for the same key share one store round trip.
func (s *RuleCacheService) ProxyRules(ctx context.Context, ruleSetID uuid.UUID) (*proxyrule.CompiledSet, error) {
	key := ruleSetID.String()
	if v, ok := s.proxySets.Get(key); ok {
		return v.(*proxyrule.CompiledSet), nil
	}

	v, err, _ := s.flight.Do("proxy:"+key, func() (any, error) {
		// Re-check inside the flight group so queued callers reuse the
		// snapshot the winner just stored.
		if v, ok := s.proxySets.Get(key); ok {
			return v, nil
		}
		rules, err := s.proxyStore.ListRules(ctx, ruleSetID)
		if err != nil {
			return nil, fmt.Errorf("load proxy rules for %s: %w", ruleSetID, err)
		}
		set, err := proxyrule.Compile(ruleSetID, rules)
		if err != nil {
			return nil, fmt.Errorf("compile proxy rules for %s: %w", ruleSetID, err)
		}
		s.proxySets.SetDefault(key, set)
		s.logger.Debug("compiled proxy rule set",
			"rule_set_id", ruleSetID,
			"rules", len(set.Rules),
			"fingerprint", set.Fingerprint,
		)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*proxyrule.CompiledSet), nil
}

// CacheRules returns the compiled cache rule set for a project, loading
// and compiling on miss.
func (s *RuleCacheService) CacheRules(ctx context.Context, projectID uuid.UUID) (*cacherule.CompiledSet, error) {
	key := projectID.String()
	if v, ok := s.cacheSets.Get(key); ok {
		return v.(*cacherule.CompiledSet), nil
	}

	v, err, _ := s.flight.Do("cache:"+key, func() (any, error) {
		if v, ok := s.cacheSets.Get(key); ok {
			return v, nil
		}
		rules, err := s.cacheStore.ListByProject(ctx, projectID)
		if err != nil {
			return nil, fmt.Errorf("load cache rules for %s: %w", projectID, err)
		}
		set, err := cacherule.Compile(projectID, rules)
		if err != nil {
			return nil, fmt.Errorf("compile cache rules for %s: %w", projectID, err)
		}
		s.cacheSets.SetDefault(key, set)
		s.logger.Debug("compiled cache rule set",
			"project_id", projectID,
			"rules", len(set.Rules),
			"fingerprint", set.Fingerprint,
		)
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*cacherule.CompiledSet), nil
}

// InvalidateRuleSet drops a proxy snapshot. Mutating operations call this
// synchronously before acknowledging, so new requests recompile.
func (s *RuleCacheService) InvalidateRuleSet(ruleSetID uuid.UUID) {
	s.proxySets.Delete(ruleSetID.String())
	s.logger.Debug("invalidated proxy rule set", "rule_set_id", ruleSetID)
}

// InvalidateProject drops a project's cache-rule snapshot.
func (s *RuleCacheService) InvalidateProject(projectID uuid.UUID) {
	s.cacheSets.Delete(projectID.String())
	s.logger.Debug("invalidated cache rules", "project_id", projectID)
}

// Flush empties both caches.
func (s *RuleCacheService) Flush() {
	s.proxySets.Flush()
	s.cacheSets.Flush()
}
