// Package retention defines cleanup rules for deployed commits and the
// pure selection logic the engine runs on each tick. Execution plumbing
// (locking, deletion, logging) lives in the retention service.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/pagegate/pagegate/internal/domain/glob"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrRuleNotFound is returned when no retention rule matches the lookup.
	ErrRuleNotFound = errors.New("retention rule not found")
	// ErrDuplicateRule is returned when (projectID, name) is taken.
	ErrDuplicateRule = errors.New("retention rule already exists")
)

// PathMode switches a rule into partial mode.
type PathMode string

const (
	// PathModeNone deletes whole commits.
	PathModeNone PathMode = ""
	// PathModeInclude keeps matched paths and deletes the rest.
	PathModeInclude PathMode = "include"
	// PathModeExclude deletes matched paths and keeps the rest.
	PathModeExclude PathMode = "exclude"
)

// Rule selects aged commits of one project for deletion.
type Rule struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Name      string

	// BranchPattern globs the branches the rule applies to.
	BranchPattern   string
	ExcludeBranches []string

	// RetentionDays is the minimum age, measured from the commit's oldest
	// asset, before a commit becomes a candidate.
	RetentionDays int

	// KeepWithAlias protects commits referenced by any non-auto-preview
	// alias.
	KeepWithAlias bool

	// KeepMinimum drops the most recent N candidates per branch from the
	// deletion set.
	KeepMinimum int

	// PathPatterns plus PathMode switch the rule to partial mode.
	PathPatterns []string
	PathMode     PathMode

	Enabled bool

	LastRunAt *time.Time
	NextRunAt time.Time

	// ExecutionStartedAt is the singleton lock: non-nil iff an execution
	// is in flight. A crashed executor leaves it set; operators clear it.
	ExecutionStartedAt *time.Time

	LastRunSummary *RunSummary
}

// Validate checks patterns and bounds prior to persistence.
func (r *Rule) Validate() error {
	if r.Name == "" {
		return errors.New("rule needs a name")
	}
	if _, err := glob.Compile(r.BranchPattern); err != nil {
		return fmt.Errorf("branch pattern %q: %w", r.BranchPattern, err)
	}
	for _, p := range r.ExcludeBranches {
		if _, err := glob.Compile(p); err != nil {
			return fmt.Errorf("exclude pattern %q: %w", p, err)
		}
	}
	if r.RetentionDays < 1 {
		return errors.New("retentionDays must be at least 1")
	}
	if r.KeepMinimum < 0 {
		return errors.New("keepMinimum must be non-negative")
	}
	switch r.PathMode {
	case PathModeNone:
		if len(r.PathPatterns) > 0 {
			return errors.New("pathPatterns requires a pathMode")
		}
	case PathModeInclude, PathModeExclude:
		if len(r.PathPatterns) == 0 {
			return errors.New("pathMode requires pathPatterns")
		}
		for _, p := range r.PathPatterns {
			if _, err := glob.Compile(p); err != nil {
				return fmt.Errorf("path pattern %q: %w", p, err)
			}
		}
	default:
		return fmt.Errorf("unknown pathMode %q", r.PathMode)
	}
	return nil
}

// Partial reports whether the rule runs in partial (per-file) mode.
func (r *Rule) Partial() bool {
	return r.PathMode != PathModeNone && len(r.PathPatterns) > 0
}

// RunSummary captures the outcome of one rule execution.
type RunSummary struct {
	CommitsDeleted int       `json:"commitsDeleted"`
	CommitsPartial int       `json:"commitsPartial"`
	CommitsSkipped int       `json:"commitsSkipped"`
	AssetsDeleted  int       `json:"assetsDeleted"`
	FreedBytes     int64     `json:"freedBytes"`
	DryRun         bool      `json:"dryRun"`
	Errors         []string  `json:"errors,omitempty"`
	FinishedAt     time.Time `json:"finishedAt"`
}

// Log is one append-only audit row, written per deleted commit.
type Log struct {
	ID         uuid.UUID
	ProjectID  uuid.UUID
	RuleID     *uuid.UUID
	CommitSHA  string
	Branch     string
	AssetCount int
	FreedBytes int64
	IsPartial  bool
	DeletedAt  time.Time
}

// Store persists retention rules and their audit log.
type Store interface {
	// Get returns one rule, or ErrRuleNotFound.
	Get(ctx context.Context, id uuid.UUID) (*Rule, error)

	// ListByProject returns a project's rules ordered by name.
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*Rule, error)

	// Due returns enabled rules whose NextRunAt is at or before now.
	Due(ctx context.Context, now time.Time) ([]*Rule, error)

	// Create persists a new rule. Returns ErrDuplicateRule when
	// (projectID, name) is taken.
	Create(ctx context.Context, r *Rule) error

	// Update replaces the stored rule's configuration fields.
	Update(ctx context.Context, r *Rule) error

	// Delete removes one rule.
	Delete(ctx context.Context, id uuid.UUID) error

	// TryLock CAS-sets ExecutionStartedAt from null and reports whether
	// the lock was won. A false return means another executor holds it.
	TryLock(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)

	// IsLocked re-reads the lock column, letting a long execution notice
	// an operator clearing it between commits.
	IsLocked(ctx context.Context, id uuid.UUID) (bool, error)

	// Unlock clears the lock and records the run outcome.
	Unlock(ctx context.Context, id uuid.UUID, lastRun, nextRun time.Time, summary *RunSummary) error

	// ClearLock force-clears a stale lock without touching run state.
	ClearLock(ctx context.Context, id uuid.UUID) error

	// AppendLog writes one audit row.
	AppendLog(ctx context.Context, l *Log) error

	// ListLogs returns a project's audit rows, newest first.
	ListLogs(ctx context.Context, projectID uuid.UUID, limit int) ([]*Log, error)
}
