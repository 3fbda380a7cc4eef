package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/quake/internal/bootstrap"
	"github.com/Checker-Finance/quake/internal/publisher"
	"github.com/Checker-Finance/quake/internal/store"
	"github.com/Checker-Finance/quake/internal/webhook"
	"github.com/Checker-Finance/quake/pkg/config"
	"github.com/Checker-Finance/quake/pkg/logger"
	"github.com/Checker-Finance/quake/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()
	cfg.ServiceName = config.GetEnv("SERVICE_NAME", "quake-webhooks")

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()

	if err := cfg.Validate(); err != nil {
		logg.Fatalw("invalid configuration", "error", err)
	}
	logg.Infow("starting [quake-webhooks]...",
		"env", cfg.Env,
		"secrets_source", cfg.SecretsSource,
		"redis", cfg.RedisAddr)

	// --- Quake client (credentials + webhook secret) ---
	clients, err := bootstrap.New(ctx, cfg, logger.Named("bootstrap"))
	if err != nil {
		logg.Fatalw("failed to init quake clients", "error", err)
	}
	defer clients.Close()

	creds, err := clients.Credentials(ctx, cfg.QuakeCompanyID)
	if err != nil {
		logg.Fatalw("failed to resolve quake credentials", "error", err)
	}
	client, err := clients.NewClient(creds)
	if err != nil {
		logg.Fatalw("failed to build quake client", "error", err)
	}
	if creds.WebhookSecret == "" {
		logg.Warn("no webhook secret configured; every delivery will be rejected")
	} else {
		logg.Infow("webhook secret loaded", "secret", utils.MaskSecret(creds.WebhookSecret))
	}

	// --- Connect to NATS ---
	nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
	if err != nil {
		logg.Fatalw("failed to connect to NATS", "error", err)
	}
	defer nc.Drain() //nolint:errcheck

	pub, err := publisher.New(nc, cfg.WebhookSubject, cfg.ServiceName, logger.Named("publisher"))
	if err != nil {
		logg.Fatalw("failed to init publisher", "error", err)
	}
	if err := pub.EnsureStream(cfg.WebhookStream); err != nil {
		logg.Fatalw("failed to ensure stream", "stream", cfg.WebhookStream, "error", err)
	}

	// --- Store (Redis only; dedup of deliveries) ---
	st, err := store.NewHybrid(ctx, store.RedisConfig{
		Addr:     cfg.RedisAddr,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPass,
	}, "", store.PGPoolConfig{}, logger.Named("store"))
	if err != nil {
		logg.Fatalw("failed to init store", "error", err)
	}
	defer st.Close() //nolint:errcheck

	// --- HTTP ---
	app := fiber.New(fiber.Config{
		AppName:               cfg.ServiceName,
		ReadTimeout:           cfg.HTTPReadTimeout,
		WriteTimeout:          cfg.HTTPWriteTimeout,
		IdleTimeout:           cfg.HTTPIdleTimeout,
		BodyLimit:             cfg.HTTPBodyLimit,
		DisableStartupMessage: true,
	})

	h := webhook.NewHandler(logger.Named("webhook"), client.Webhooks(), st, pub, client.CompanyID())
	webhook.RegisterRoutes(app, h, map[string]webhook.HealthCheck{
		"nats":  func(context.Context) error { return pub.HealthCheck() },
		"redis": st.HealthCheck,
	})

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[quake-webhooks] running",
		"nats", cfg.NATSURL,
		"subject", cfg.WebhookSubject,
		"company", client.CompanyID())

	<-ctx.Done()
	stop()
	logg.Info("shutting down [quake-webhooks]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	app.ShutdownWithContext(shutdownCtx) //nolint:errcheck
}
