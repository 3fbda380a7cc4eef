package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/Checker-Finance/quake/internal/bootstrap"
	"github.com/Checker-Finance/quake/internal/catalogsync"
	"github.com/Checker-Finance/quake/internal/snapshot"
	"github.com/Checker-Finance/quake/internal/store"
	"github.com/Checker-Finance/quake/pkg/config"
	"github.com/Checker-Finance/quake/pkg/logger"
	"github.com/Checker-Finance/quake/pkg/utils"
)

func main() {
	once := flag.Bool("once", false, "run a single sync and exit")
	all := flag.Bool("all", false, "sync every company with a secret under the current env")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()
	cfg.ServiceName = config.GetEnv("SERVICE_NAME", "quake-sync")

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()

	if err := cfg.Validate(); err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}
	logg.Info("starting [quake-sync]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	// --- Store (Redis + Postgres hybrid) ---
	st, err := store.NewHybrid(ctx, store.RedisConfig{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPass,
	}, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	}, logger.Named("store"))
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}
	defer st.Close() //nolint:errcheck

	if st.PG == nil {
		logg.Fatal("DATABASE_URL is required for quake-sync")
	}
	writer := snapshot.NewWriter(st.PG, logger.Named("snapshot"))
	if err := writer.EnsureSchema(ctx); err != nil {
		logg.Fatalw("failed to ensure snapshot schema", "error", err)
	}

	// --- Quake clients, one per company ---
	clients, err := bootstrap.New(ctx, cfg, logger.Named("bootstrap"))
	if err != nil {
		logg.Fatalw("failed to init quake clients", "error", err)
	}
	defer clients.Close()

	companies, err := clients.Companies(ctx, *all)
	if err != nil {
		logg.Fatalw("failed to list companies", "error", err)
	}

	runners := make([]catalogsync.Runner, 0, len(companies))
	for _, company := range companies {
		client, err := clients.Client(ctx, company)
		if err != nil {
			logg.Errorw("skipping company", "company", company, "error", err)
			continue
		}
		runners = append(runners, catalogsync.NewSyncer(logger.Named("catalogsync"), client, writer, st))
	}
	if len(runners) == 0 {
		logg.Fatal("no company could be configured")
	}

	job := catalogsync.NewJob(logger.Named("catalogsync"), cfg.SyncInterval, runners...)

	if *once {
		if failed := job.RunOnce(ctx); failed > 0 {
			logg.Errorw("[quake-sync] finished with failures", "failed", failed, "companies", len(runners))
			os.Exit(1) //nolint:gocritic
		}
		logg.Infow("[quake-sync] finished", "companies", len(runners))
		return
	}

	logg.Infow("[quake-sync] running",
		"companies", len(runners),
		"interval", cfg.SyncInterval)

	// Start returns once ctx is cancelled by SIGINT/SIGTERM.
	job.Start(ctx)
	logg.Info("shutting down [quake-sync]...")
}
