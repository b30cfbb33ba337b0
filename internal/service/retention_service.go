package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pagegate/pagegate/internal/domain/alias"
	"github.com/pagegate/pagegate/internal/domain/asset"
	"github.com/pagegate/pagegate/internal/domain/project"
	"github.com/pagegate/pagegate/internal/domain/retention"
	"github.com/pagegate/pagegate/internal/port/outbound"
)

// ErrExecutionInFlight is returned when a rule's singleton lock is held.
var ErrExecutionInFlight = errors.New("retention execution already in flight")

// RetentionService executes retention rules: candidate selection, storage
// and row deletion, audit logging, and usage reporting.
type RetentionService struct {
	rules    retention.Store
	projects project.Store
	assets   asset.Store
	aliases  alias.Store
	storage  outbound.Storage
	usage    outbound.UsageReporter
	clock    clockwork.Clock

	// dryRun previews selections without deleting anything.
	dryRun bool

	// running serializes ticks inside one process; the DB lock serializes
	// across processes.
	running atomic.Bool

	logger *slog.Logger
}

// NewRetentionService wires the engine. usage may be nil.
func NewRetentionService(rules retention.Store, projects project.Store, assets asset.Store, aliases alias.Store, storage outbound.Storage, usage outbound.UsageReporter, clock clockwork.Clock, dryRun bool, logger *slog.Logger) *RetentionService {
	return &RetentionService{
		rules:    rules,
		projects: projects,
		assets:   assets,
		aliases:  aliases,
		storage:  storage,
		usage:    usage,
		clock:    clock,
		dryRun:   dryRun,
		logger:   logger,
	}
}

// RunDue executes every enabled rule whose NextRunAt has passed. Rules
// run sequentially; a failing rule is logged and the loop continues.
func (s *RetentionService) RunDue(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Info("retention tick skipped, previous tick still running")
		return nil
	}
	defer s.running.Store(false)

	now := s.clock.Now().UTC()
	due, err := s.rules.Due(ctx, now)
	if err != nil {
		return fmt.Errorf("list due retention rules: %w", err)
	}
	s.logger.Info("retention tick", "due_rules", len(due), "dry_run", s.dryRun)

	for _, rule := range due {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.ExecuteRule(ctx, rule.ID); err != nil {
			if errors.Is(err, ErrExecutionInFlight) {
				s.logger.Info("retention rule locked elsewhere, skipping", "rule_id", rule.ID)
				continue
			}
			s.logger.Error("retention rule failed",
				"rule_id", rule.ID,
				"rule", rule.Name,
				"error", err,
			)
		}
	}
	return nil
}

// ExecuteRule runs one rule under its singleton lock. The lock is the
// DB-persisted ExecutionStartedAt column; losing the CAS means another
// executor owns the rule.
func (s *RetentionService) ExecuteRule(ctx context.Context, ruleID uuid.UUID) error {
	now := s.clock.Now().UTC()

	won, err := s.rules.TryLock(ctx, ruleID, now)
	if err != nil {
		return err
	}
	if !won {
		return ErrExecutionInFlight
	}

	rule, err := s.rules.Get(ctx, ruleID)
	if err != nil {
		// Leave no dangling lock behind a read failure.
		if clearErr := s.rules.ClearLock(ctx, ruleID); clearErr != nil {
			s.logger.Error("clear lock failed", "rule_id", ruleID, "error", clearErr)
		}
		return err
	}

	summary := s.executeLocked(ctx, rule, now)
	summary.FinishedAt = s.clock.Now().UTC()

	next := retention.NextRun(s.clock.Now())
	if err := s.rules.Unlock(ctx, ruleID, now, next, summary); err != nil {
		return fmt.Errorf("unlock retention rule %s: %w", ruleID, err)
	}

	if summary.FreedBytes > 0 && !summary.DryRun {
		s.reportFreed(rule.ProjectID, summary.FreedBytes)
	}
	s.logger.Info("retention rule finished",
		"rule", rule.Name,
		"commits_deleted", summary.CommitsDeleted,
		"commits_partial", summary.CommitsPartial,
		"commits_skipped", summary.CommitsSkipped,
		"assets_deleted", summary.AssetsDeleted,
		"freed_bytes", summary.FreedBytes,
		"dry_run", summary.DryRun,
		"errors", len(summary.Errors),
	)
	return nil
}

// executeLocked does the work between lock and unlock. Per-commit errors
// are collected; only selection-level failures abort the run.
func (s *RetentionService) executeLocked(ctx context.Context, rule *retention.Rule, now time.Time) *retention.RunSummary {
	summary := &retention.RunSummary{DryRun: s.dryRun}

	plans, proj, err := s.plan(ctx, rule, now)
	if err != nil {
		summary.Errors = append(summary.Errors, err.Error())
		return summary
	}

	for _, plan := range plans {
		// An operator clearing the lock stops the run at the next commit
		// boundary.
		locked, err := s.rules.IsLocked(ctx, rule.ID)
		if err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("lock check: %v", err))
			break
		}
		if !locked {
			s.logger.Warn("retention lock cleared mid-run, stopping", "rule_id", rule.ID)
			summary.Errors = append(summary.Errors, "lock cleared by operator, run stopped")
			break
		}

		switch plan.Kind {
		case retention.PlanSkip:
			summary.CommitsSkipped++
		case retention.PlanFull:
			s.deleteFull(ctx, rule, proj, plan, summary)
		case retention.PlanPartial:
			s.deletePartial(ctx, rule, proj, plan, summary)
		}
	}
	return summary
}

// plan resolves a rule to its per-commit actions without touching
// anything: candidate selection, alias protection, and path
// classification.
func (s *RetentionService) plan(ctx context.Context, rule *retention.Rule, now time.Time) ([]retention.CommitPlan, *project.Project, error) {
	proj, err := s.projects.Get(ctx, rule.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("load project: %w", err)
	}

	stats, err := s.assets.CommitStats(ctx, rule.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("commit stats: %w", err)
	}

	aliased, err := s.protectedCommits(ctx, rule.ProjectID)
	if err != nil {
		return nil, nil, err
	}

	candidates, err := retention.SelectCommits(rule, stats, aliased, now)
	if err != nil {
		return nil, nil, err
	}

	plans := make([]retention.CommitPlan, 0, len(candidates))
	for _, st := range candidates {
		if !rule.Partial() {
			plans = append(plans, retention.CommitPlan{Stat: st, Kind: retention.PlanFull})
			continue
		}
		commitAssets, err := s.assets.ListByCommit(ctx, rule.ProjectID, st.CommitSHA)
		if err != nil {
			return nil, nil, fmt.Errorf("list commit %s assets: %w", st.CommitSHA, err)
		}
		plan, err := retention.ClassifyAssets(rule, st, commitAssets)
		if err != nil {
			return nil, nil, err
		}
		plans = append(plans, plan)
	}
	return plans, proj, nil
}

// PreviewRule computes the deletion plan without locking or deleting.
// The result mirrors what an execution at the same instant would do.
func (s *RetentionService) PreviewRule(ctx context.Context, ruleID uuid.UUID) ([]retention.CommitPlan, error) {
	rule, err := s.rules.Get(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	plans, _, err := s.plan(ctx, rule, s.clock.Now().UTC())
	return plans, err
}

// protectedCommits collects the SHAs referenced by non-auto-preview
// aliases.
func (s *RetentionService) protectedCommits(ctx context.Context, projectID uuid.UUID) (map[string]bool, error) {
	all, err := s.aliases.ListByProject(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	protected := make(map[string]bool, len(all))
	for _, al := range all {
		if !al.IsAutoPreview && al.CommitSHA != "" {
			protected[al.CommitSHA] = true
		}
	}
	return protected, nil
}

// deleteFull removes a whole commit: storage prefix, asset rows, and
// auto-preview aliases. Storage failures are logged but the rows still
// go; an orphaned object is acceptable, a row without bytes is not.
func (s *RetentionService) deleteFull(ctx context.Context, rule *retention.Rule, proj *project.Project, plan retention.CommitPlan, summary *retention.RunSummary) {
	sha := plan.Stat.CommitSHA

	if s.dryRun {
		s.logger.Info("dry-run: would delete commit",
			"rule", rule.Name,
			"commit_sha", sha,
			"branch", plan.Stat.Branch,
			"assets", plan.Stat.AssetCount,
			"bytes", plan.Stat.TotalBytes,
		)
		summary.CommitsDeleted++
		summary.AssetsDeleted += plan.Stat.AssetCount
		summary.FreedBytes += plan.Stat.TotalBytes
		return
	}

	prefix := asset.CommitPrefix(proj.Owner, proj.Name, sha)
	if _, err := s.storage.DeletePrefix(ctx, prefix); err != nil {
		s.logger.Error("storage prefix delete failed, continuing with rows",
			"prefix", prefix,
			"error", err,
		)
		summary.Errors = append(summary.Errors, fmt.Sprintf("storage prefix %s: %v", prefix, err))
	}

	deleted, freed, err := s.assets.DeleteByCommit(ctx, rule.ProjectID, sha)
	if err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("delete rows for %s: %v", sha, err))
		return
	}
	if _, err := s.aliases.DeleteAutoPreviewByCommit(ctx, rule.ProjectID, sha); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("delete previews for %s: %v", sha, err))
	}

	s.appendLog(ctx, rule, plan, deleted, freed, false, summary)
	summary.CommitsDeleted++
	summary.AssetsDeleted += deleted
	summary.FreedBytes += freed
}

// deletePartial removes the doomed subset of a commit, object by object.
func (s *RetentionService) deletePartial(ctx context.Context, rule *retention.Rule, proj *project.Project, plan retention.CommitPlan, summary *retention.RunSummary) {
	sha := plan.Stat.CommitSHA

	if s.dryRun {
		s.logger.Info("dry-run: would partially delete commit",
			"rule", rule.Name,
			"commit_sha", sha,
			"branch", plan.Stat.Branch,
			"doomed", len(plan.Doomed),
			"of", plan.Stat.AssetCount,
		)
		summary.CommitsPartial++
		summary.AssetsDeleted += len(plan.Doomed)
		for _, a := range plan.Doomed {
			summary.FreedBytes += a.Size
		}
		return
	}

	var (
		deleted int
		freed   int64
	)
	for _, a := range plan.Doomed {
		if err := s.storage.Delete(ctx, a.StorageKey); err != nil {
			s.logger.Error("storage delete failed, continuing with row",
				"storage_key", a.StorageKey,
				"error", err,
			)
			summary.Errors = append(summary.Errors, fmt.Sprintf("storage %s: %v", a.StorageKey, err))
		}
		if err := s.assets.Delete(ctx, a.ID); err != nil {
			summary.Errors = append(summary.Errors, fmt.Sprintf("row %s: %v", a.ID, err))
			continue
		}
		deleted++
		freed += a.Size
	}

	s.appendLog(ctx, rule, plan, deleted, freed, true, summary)
	summary.CommitsPartial++
	summary.AssetsDeleted += deleted
	summary.FreedBytes += freed
}

func (s *RetentionService) appendLog(ctx context.Context, rule *retention.Rule, plan retention.CommitPlan, count int, freed int64, partial bool, summary *retention.RunSummary) {
	ruleID := rule.ID
	entry := &retention.Log{
		ID:         uuid.New(),
		ProjectID:  rule.ProjectID,
		RuleID:     &ruleID,
		CommitSHA:  plan.Stat.CommitSHA,
		Branch:     plan.Stat.Branch,
		AssetCount: count,
		FreedBytes: freed,
		IsPartial:  partial,
		DeletedAt:  s.clock.Now().UTC(),
	}
	if err := s.rules.AppendLog(ctx, entry); err != nil {
		summary.Errors = append(summary.Errors, fmt.Sprintf("audit log for %s: %v", plan.Stat.CommitSHA, err))
	}
}

// reportFreed pushes the freed byte count to the control plane without
// blocking the run.
func (s *RetentionService) reportFreed(projectID uuid.UUID, freed int64) {
	if s.usage == nil {
		return
	}
	at := s.clock.Now().UTC()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.usage.ReportFreed(ctx, projectID.String(), freed, at); err != nil {
			s.logger.Warn("usage report failed", "project_id", projectID, "error", err)
		}
	}()
}
