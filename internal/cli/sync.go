package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/pkordes/tracesync/internal/config"
	"github.com/pkordes/tracesync/internal/domain"
	"github.com/pkordes/tracesync/internal/provider"
	"github.com/pkordes/tracesync/internal/repo"
	"github.com/pkordes/tracesync/internal/service"
	"github.com/pkordes/tracesync/internal/trace"
	"github.com/pkordes/tracesync/migrations"
)

// The runner depends on the TraceClient interface; make sure the concrete
// client keeps satisfying it.
var _ service.TraceClient = (*trace.Client)(nil)

// NewSyncCommand creates the sync command, which executes one sync run for
// the configured account and exits. Scheduling recurring runs is the job
// runner's concern, not the agent's.
func NewSyncCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one incremental sync for the configured account",
		Long: `Run one incremental sync: fetch new trip metadata since the account
watermark, save new trips chunk by chunk under the time budget, merge manual
purpose/mode annotations into stored trips, and advance the watermarks.

All configuration comes from environment variables; see the repository
README for the full list.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync()
		},
	}
}

func runSync() error {
	// --- Config -----------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "error", err)
		return err
	}

	// --- Logger -----------------------------------------------------------
	// JSON handler writes machine-readable output suitable for log aggregators.
	var logLevel slog.Level
	if err := logLevel.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// The run is cancelled on SIGINT/SIGTERM; the budget mechanism handles
	// graceful early exit, this handles operator interruption.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Provider ---------------------------------------------------------
	registry := provider.NewRegistry()
	if cfg.ProvidersFile != "" {
		if err := registry.LoadFile(cfg.ProvidersFile); err != nil {
			logger.Error("failed to load providers file", "error", err)
			return err
		}
	}
	baseURL, err := registry.Resolve(cfg.ProviderID)
	if err != nil {
		logger.Error("failed to resolve provider", "error", err)
		return err
	}

	// --- Database ---------------------------------------------------------
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create database pool", "error", err)
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		return err
	}

	// Apply pending migrations before touching any table. goose needs a
	// database/sql handle; borrow one from the pool.
	db := stdlib.OpenDBFromPool(pool)
	gooseProvider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
	if err != nil {
		logger.Error("failed to create migration provider", "error", err)
		return err
	}
	if _, err := gooseProvider.Up(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		return err
	}
	if err := db.Close(); err != nil {
		logger.Error("failed to release migration connection", "error", err)
		return err
	}

	// --- Runner -----------------------------------------------------------
	client := trace.NewClient(baseURL, trace.WithLogger(logger))

	runner := service.NewRunner(
		client,
		repo.NewTripRepo(pool),
		repo.NewAccountRepo(pool),
		repo.NewJobRepo(pool),
		service.RunnerConfig{
			Scope: domain.AccountScope{
				Vendor:    cfg.ProviderID,
				AccountID: cfg.AccountID,
			},
			Token:        cfg.Token,
			DeviceName:   cfg.DeviceName,
			ChunkSize:    cfg.ChunkSize,
			TimeLimit:    time.Duration(cfg.TimeLimit) * time.Second,
			SafetyMargin: time.Duration(cfg.SafetyMargin) * time.Second,
		},
		service.WithLogger(logger),
	)

	if err := runner.Run(ctx); err != nil {
		logger.Error("sync run failed", "error", err)
		return err
	}
	return nil
}
