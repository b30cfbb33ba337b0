package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pagegate/pagegate/internal/adapter/inbound/admin"
	"github.com/pagegate/pagegate/internal/adapter/inbound/web"
	"github.com/pagegate/pagegate/internal/adapter/outbound/memory"
	"github.com/pagegate/pagegate/internal/adapter/outbound/objstore"
	"github.com/pagegate/pagegate/internal/adapter/outbound/smtp"
	"github.com/pagegate/pagegate/internal/adapter/outbound/sqlite"
	"github.com/pagegate/pagegate/internal/adapter/outbound/usage"
	"github.com/pagegate/pagegate/internal/config"
	"github.com/pagegate/pagegate/internal/domain/permission"
	"github.com/pagegate/pagegate/internal/domain/proxyrule"
	"github.com/pagegate/pagegate/internal/domain/ratelimit"
	"github.com/pagegate/pagegate/internal/domain/secrets"
	"github.com/pagegate/pagegate/internal/port/outbound"
	"github.com/pagegate/pagegate/internal/service"
	"github.com/pagegate/pagegate/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the serving plane",
	Long: `Start the PageGate serving plane.

One listener carries everything: public traffic resolved by Host
header, the admin API under /admin, health under /healthz, and
Prometheus metrics under /metrics.

Examples:
  # Start with config file settings
  pagegate serve

  # Start in development mode (debug logging, ephemeral encryption key)
  pagegate serve --dev`,
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	serveCmd.Flags().Bool("dev", false, "Enable development mode (verbose logging, relaxed validation)")
	// Bound through Viper so the flag participates in config validation.
	_ = viper.BindPFlag("dev_mode", serveCmd.Flags().Lookup("dev"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Signal context for graceful shutdown. stop() restores default
	// signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	if cfg.DevMode {
		logger.Warn("development mode enabled, do not use in production")
	}
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	shutdownTelemetry, err := telemetry.Setup(telemetry.Config{
		Tracing:        cfg.Observability.Tracing,
		Metrics:        cfg.Observability.Metrics,
		ExportInterval: config.ParseDuration(cfg.Observability.ExportInterval, time.Minute),
		Version:        Version,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	// Secrets box for injected proxy headers. Validation only allows an
	// empty key in dev mode; the ephemeral key means sealed secrets do
	// not survive a restart there.
	var box *secrets.Box
	if cfg.Security.EncryptionKey != "" {
		box, err = secrets.NewBoxFromBase64(cfg.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("invalid encryption key: %w", err)
		}
	} else {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("failed to generate dev encryption key: %w", err)
		}
		box, err = secrets.NewBox(key)
		if err != nil {
			return fmt.Errorf("failed to create secrets box: %w", err)
		}
		logger.Warn("no encryption key configured, injected header secrets will not survive a restart")
	}

	db, err := sqlite.Open(cfg.Database.Path, config.ParseDuration(cfg.Database.BusyTimeout, 5*time.Second))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()
	logger.Info("database ready", "path", cfg.Database.Path)

	projects := sqlite.NewProjectStore(db)
	aliases := sqlite.NewAliasStore(db)
	domains := sqlite.NewDomainStore(db)
	assets := sqlite.NewAssetStore(db)
	proxyRules := sqlite.NewProxyRuleStore(db)
	cacheRules := sqlite.NewCacheRuleStore(db)
	retentionRules := sqlite.NewRetentionStore(db)
	permissions := sqlite.NewPermissionStore(db)
	keys := sqlite.NewAPIKeyStore(db)

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
		if err != nil {
			return fmt.Errorf("failed to configure s3 storage: %w", err)
		}
		logger.Info("object storage ready", "backend", "s3", "bucket", cfg.Storage.Bucket)
	default:
		store, err = objstore.NewFSStore(cfg.Storage.Root)
		if err != nil {
			return fmt.Errorf("failed to configure filesystem storage: %w", err)
		}
		logger.Info("object storage ready", "backend", "fs", "root", cfg.Storage.Root)
	}

	var mailer outbound.Mailer
	if cfg.SMTP.Configured() {
		mailer = smtp.NewMailer(smtp.Config{
			Host:           cfg.SMTP.Host,
			Port:           cfg.SMTP.Port,
			Username:       cfg.SMTP.Username,
			Password:       cfg.SMTP.Password,
			From:           cfg.SMTP.From,
			StartTLSPolicy: cfg.SMTP.StartTLSPolicy,
		})
		logger.Info("form mailer configured", "host", cfg.SMTP.Host, "from", cfg.SMTP.From)
	} else {
		logger.Info("no SMTP configured, form submissions will be rejected")
	}

	var reporter outbound.UsageReporter
	if cfg.Usage.Configured() {
		reporter = usage.NewReporter(usage.Config{
			ControlPlaneURL: cfg.Usage.ControlPlaneURL,
			WorkspaceID:     cfg.Usage.WorkspaceID,
			WorkspaceSecret: cfg.Usage.WorkspaceSecret,
		})
		logger.Info("usage reporting enabled", "control_plane", cfg.Usage.ControlPlaneURL)
	}

	clock := clockwork.NewRealClock()

	rules := service.NewRuleCacheService(proxyRules, cacheRules,
		config.ParseDuration(cfg.Cache.ProxyRuleTTL, 10*time.Second),
		config.ParseDuration(cfg.Cache.CacheRuleTTL, 5*time.Minute),
		logger)
	resolver := service.NewResolverService(projects, aliases, domains, rules, cfg.Platform.PrimaryDomain, logger)
	assetSvc := service.NewAssetService(assets, store, logger)
	limiter := ratelimit.NewSubmissionLimiter(cfg.Forms.SubmissionLimit,
		config.ParseDuration(cfg.Forms.SubmissionWindow, time.Hour), clock)
	limiter.StartSweep(ctx)
	defer limiter.Stop()
	forms := service.NewFormService(mailer, limiter, logger)
	ingest := service.NewIngestService(projects, assets, aliases, store, reporter, clock, logger)
	retentionSvc := service.NewRetentionService(retentionRules, projects, assets, aliases, store, reporter, clock, cfg.Retention.DryRun, logger)

	if cfg.Retention.Enabled {
		scheduler, err := service.NewRetentionScheduler(retentionSvc, cfg.Retention.Schedule, logger)
		if err != nil {
			return fmt.Errorf("failed to create retention scheduler: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		logger.Info("retention scheduler started", "schedule", cfg.Retention.Schedule, "dry_run", cfg.Retention.DryRun)
	} else {
		logger.Info("retention scheduler disabled")
	}

	guard := proxyrule.NewGuard()
	oracle := permission.NewResolver(permissions)

	adminHandler := admin.NewHandler(
		admin.WithProjectStore(projects),
		admin.WithAliasStore(aliases),
		admin.WithDomainStore(domains),
		admin.WithProxyRuleStore(proxyRules),
		admin.WithCacheRuleStore(cacheRules),
		admin.WithRetentionStore(retentionRules),
		admin.WithRetentionService(retentionSvc),
		admin.WithIngestService(ingest),
		admin.WithRuleCache(rules),
		admin.WithKeyStore(keys),
		admin.WithGuard(guard),
		admin.WithSecretsBox(box),
		admin.WithObjectStore(store),
		admin.WithClock(clock),
		admin.WithLogger(logger),
	)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := web.NewMetrics(reg)

	forwarder := web.NewForwarder(guard, box, metrics, logger)
	handler := web.NewHandler(resolver, assetSvc, rules, forms, oracle, forwarder, cfg.Platform.LoginURL, metrics, logger)

	opts := []web.Option{
		web.WithAddr(cfg.Server.HTTPAddr),
		web.WithLogger(logger),
		web.WithAdminHandler(adminHandler.Routes()),
		web.WithHealthChecker(web.NewHealthChecker(db, store, mailer, Version)),
		web.WithMetrics(metrics, reg),
		web.WithTimeouts(
			config.ParseDuration(cfg.Server.ReadHeaderTimeout, 10*time.Second),
			config.ParseDuration(cfg.Server.ShutdownTimeout, 10*time.Second),
		),
	}
	if cfg.DevMode {
		// Production leaves session validation to the platform's edge;
		// the in-memory validator exists for local preview of private
		// paths.
		opts = append(opts, web.WithSessionValidator(memory.NewSessionValidator(), cfg.Security.SessionCookie))
	}

	transport := web.NewTransport(handler, opts...)

	logger.Info("pagegate ready",
		"addr", cfg.Server.HTTPAddr,
		"primary_domain", cfg.Platform.PrimaryDomain,
	)
	if err := transport.Start(ctx); err != nil {
		return fmt.Errorf("serving listener failed: %w", err)
	}

	logger.Info("pagegate stopped")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
