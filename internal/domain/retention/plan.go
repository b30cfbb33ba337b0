package retention

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/domain/glob"
)

// SelectCommits filters per-commit stats down to the deletion set:
// branch-pattern match minus exclusions, older than the retention window,
// not alias-protected, then thinned by the per-branch keep-minimum.
// aliased holds the commit SHAs referenced by non-auto-preview aliases.
// The result is ordered oldest-first.
func SelectCommits(r *Rule, stats []asset.CommitStat, aliased map[string]bool, now time.Time) ([]asset.CommitStat, error) {
	branchPat, err := glob.Compile(r.BranchPattern)
	if err != nil {
		return nil, fmt.Errorf("branch pattern %q: %w", r.BranchPattern, err)
	}
	excludes, err := glob.CompileAll(r.ExcludeBranches)
	if err != nil {
		return nil, err
	}
	cutoff := now.Add(-time.Duration(r.RetentionDays) * 24 * time.Hour)

	candidates := make([]asset.CommitStat, 0, len(stats))
	for _, st := range stats {
		if st.CommitSHA == "" {
			continue
		}
		if !branchPat.Match(st.Branch) || glob.MatchAny(excludes, st.Branch) {
			continue
		}
		if !st.OldestAt.Before(cutoff) {
			continue
		}
		if r.KeepWithAlias && aliased[st.CommitSHA] {
			continue
		}
		candidates = append(candidates, st)
	}

	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].OldestAt.Equal(candidates[j].OldestAt) {
			return candidates[i].OldestAt.Before(candidates[j].OldestAt)
		}
		return candidates[i].CommitSHA < candidates[j].CommitSHA
	})

	if r.KeepMinimum <= 0 {
		return candidates, nil
	}

	// Thin the newest KeepMinimum candidates per branch.
	perBranch := make(map[string]int, len(candidates))
	for _, st := range candidates {
		perBranch[st.Branch]++
	}
	remaining := make(map[string]int, len(perBranch))
	for b, n := range perBranch {
		remaining[b] = n - r.KeepMinimum
	}
	kept := candidates[:0]
	for _, st := range candidates {
		if remaining[st.Branch] > 0 {
			kept = append(kept, st)
			remaining[st.Branch]--
		}
	}
	return kept, nil
}

// PlanKind classifies what happens to one candidate commit.
type PlanKind int

const (
	// PlanSkip leaves the commit untouched (partial mode selected nothing).
	PlanSkip PlanKind = iota
	// PlanFull deletes the whole commit prefix.
	PlanFull
	// PlanPartial deletes a subset of the commit's assets.
	PlanPartial
)

// CommitPlan is the resolved action for one candidate commit.
type CommitPlan struct {
	Stat asset.CommitStat
	Kind PlanKind

	// Doomed lists the assets to delete in partial mode; empty for full
	// mode, where the storage prefix covers everything.
	Doomed []*asset.Asset
}

// ClassifyAssets resolves a candidate commit against the rule's path
// patterns. Include mode keeps matched paths; exclude mode deletes them.
// Selecting nothing skips the commit, selecting everything upgrades it to
// a full delete.
func ClassifyAssets(r *Rule, st asset.CommitStat, assets []*asset.Asset) (CommitPlan, error) {
	plan := CommitPlan{Stat: st}
	if !r.Partial() {
		plan.Kind = PlanFull
		return plan, nil
	}
	// Public paths never carry a leading slash; accept patterns written
	// either way by stripping it from the pattern side.
	trimmed := make([]string, len(r.PathPatterns))
	for i, p := range r.PathPatterns {
		trimmed[i] = strings.TrimPrefix(p, "/")
	}
	patterns, err := glob.CompileAll(trimmed)
	if err != nil {
		return plan, err
	}

	doomed := make([]*asset.Asset, 0, len(assets))
	for _, a := range assets {
		matched := glob.MatchAny(patterns, a.PublicPath)
		doom := matched
		if r.PathMode == PathModeInclude {
			doom = !matched
		}
		if doom {
			doomed = append(doomed, a)
		}
	}

	switch {
	case len(doomed) == 0:
		plan.Kind = PlanSkip
	case len(doomed) == len(assets):
		plan.Kind = PlanFull
	default:
		plan.Kind = PlanPartial
		plan.Doomed = doomed
	}
	return plan, nil
}

// NextRun computes the following 03:00 UTC boundary strictly after now.
func NextRun(now time.Time) time.Time {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
