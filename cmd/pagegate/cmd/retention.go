package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pagegate/pagegate/internal/adapter/outbound/objstore"
	"github.com/pagegate/pagegate/internal/adapter/outbound/sqlite"
	"github.com/pagegate/pagegate/internal/adapter/outbound/usage"
	"github.com/pagegate/pagegate/internal/config"
	"github.com/pagegate/pagegate/internal/domain/retention"
	"github.com/pagegate/pagegate/internal/port/outbound"
	"github.com/pagegate/pagegate/internal/service"
)

var retentionOutput string
var retentionDryRun bool

var retentionCmd = &cobra.Command{
	Use:   "retention",
	Short: "Preview or run a retention rule once",
	Long: `Inspect and drive retention rules without going through the admin API.

Both subcommands open the database directly, so run them on the host
that owns it. The serving plane does not need to be stopped; rule
execution takes the same singleton lock the scheduler uses.`,
}

var retentionPreviewCmd = &cobra.Command{
	Use:   "preview <rule-id>",
	Short: "Show what a retention rule would delete right now",
	Long: `Compute the deletion plan for a rule without touching anything.

Each row is one candidate commit with the action a run at this instant
would take: delete, partial, or skip.

Example:
  pagegate retention preview 3f1f8a8e-9a93-4f0a-bb1c-6a4f0c9d2e11 -o json`,
	Args:         cobra.ExactArgs(1),
	RunE:         runRetentionPreview,
	SilenceUsage: true,
}

var retentionRunCmd = &cobra.Command{
	Use:   "run <rule-id>",
	Short: "Execute a retention rule immediately",
	Long: `Execute a rule under its singleton lock instead of waiting for the
nightly tick. Fails if a run is already in flight.`,
	Args:         cobra.ExactArgs(1),
	RunE:         runRetentionRun,
	SilenceUsage: true,
}

func init() {
	retentionPreviewCmd.Flags().StringVarP(&retentionOutput, "output", "o", "yaml", "output format: yaml or json")
	retentionRunCmd.Flags().BoolVar(&retentionDryRun, "dry-run", false, "log what would be deleted without deleting")
	retentionCmd.AddCommand(retentionPreviewCmd)
	retentionCmd.AddCommand(retentionRunCmd)
	rootCmd.AddCommand(retentionCmd)
}

// retentionEnv is the offline slice of the serving plane the retention
// commands need: database, object storage, and the service on top.
type retentionEnv struct {
	db    *sqlite.DB
	rules *sqlite.RetentionStore
	svc   *service.RetentionService
}

func (e *retentionEnv) Close() {
	_ = e.db.Close()
}

func openRetentionEnv(ctx context.Context, dryRun bool) (*retentionEnv, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Server.LogLevel),
	}))

	db, err := sqlite.Open(cfg.Database.Path, config.ParseDuration(cfg.Database.BusyTimeout, 5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var store outbound.Storage
	switch cfg.Storage.Backend {
	case "s3":
		store, err = objstore.NewS3Store(ctx, objstore.S3Config{
			Bucket:          cfg.Storage.Bucket,
			Region:          cfg.Storage.Region,
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			ForcePathStyle:  cfg.Storage.ForcePathStyle,
		})
	default:
		store, err = objstore.NewFSStore(cfg.Storage.Root)
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to configure object storage: %w", err)
	}

	var reporter outbound.UsageReporter
	if cfg.Usage.Configured() {
		reporter = usage.NewReporter(usage.Config{
			ControlPlaneURL: cfg.Usage.ControlPlaneURL,
			WorkspaceID:     cfg.Usage.WorkspaceID,
			WorkspaceSecret: cfg.Usage.WorkspaceSecret,
		})
	}

	rules := sqlite.NewRetentionStore(db)
	svc := service.NewRetentionService(rules,
		sqlite.NewProjectStore(db),
		sqlite.NewAssetStore(db),
		sqlite.NewAliasStore(db),
		store, reporter, clockwork.NewRealClock(), dryRun, logger)

	return &retentionEnv{db: db, rules: rules, svc: svc}, nil
}

// planRow is the preview output shape, one row per candidate commit.
type planRow struct {
	CommitSHA    string    `json:"commitSha" yaml:"commitSha"`
	Branch       string    `json:"branch" yaml:"branch"`
	AssetCount   int       `json:"assetCount" yaml:"assetCount"`
	TotalBytes   int64     `json:"totalBytes" yaml:"totalBytes"`
	OldestAt     time.Time `json:"oldestAt" yaml:"oldestAt"`
	Action       string    `json:"action" yaml:"action"`
	DoomedAssets int       `json:"doomedAssets" yaml:"doomedAssets"`
}

func runRetentionPreview(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid rule id %q: %w", args[0], err)
	}

	ctx := cmd.Context()
	env, err := openRetentionEnv(ctx, false)
	if err != nil {
		return err
	}
	defer env.Close()

	plans, err := env.svc.PreviewRule(ctx, id)
	if err != nil {
		return fmt.Errorf("preview failed: %w", err)
	}

	rows := make([]planRow, 0, len(plans))
	for _, p := range plans {
		action := "skip"
		switch p.Kind {
		case retention.PlanFull:
			action = "delete"
		case retention.PlanPartial:
			action = "partial"
		}
		rows = append(rows, planRow{
			CommitSHA:    p.Stat.CommitSHA,
			Branch:       p.Stat.Branch,
			AssetCount:   p.Stat.AssetCount,
			TotalBytes:   p.Stat.TotalBytes,
			OldestAt:     p.Stat.OldestAt,
			Action:       action,
			DoomedAssets: len(p.Doomed),
		})
	}

	switch retentionOutput {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer func() { _ = enc.Close() }()
		return enc.Encode(rows)
	default:
		return fmt.Errorf("unknown output format %q, want yaml or json", retentionOutput)
	}
}

func runRetentionRun(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid rule id %q: %w", args[0], err)
	}

	ctx := cmd.Context()
	env, err := openRetentionEnv(ctx, retentionDryRun)
	if err != nil {
		return err
	}
	defer env.Close()

	if err := env.svc.ExecuteRule(ctx, id); err != nil {
		return fmt.Errorf("run failed: %w", err)
	}

	rule, err := env.rules.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("run finished but reading the summary failed: %w", err)
	}
	s := rule.LastRunSummary
	if s == nil {
		fmt.Println("retention run complete, no summary recorded")
		return nil
	}
	fmt.Printf("retention run complete: commits_deleted=%d commits_partial=%d commits_skipped=%d assets_deleted=%d freed_bytes=%d dry_run=%v\n",
		s.CommitsDeleted, s.CommitsPartial, s.CommitsSkipped, s.AssetsDeleted, s.FreedBytes, s.DryRun)
	if len(s.Errors) > 0 {
		fmt.Printf("completed with %d errors, see the retention log\n", len(s.Errors))
	}
	return nil
}
