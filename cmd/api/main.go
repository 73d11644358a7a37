package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	gnarkadapter "github.com/samirrijal/geoproof/internal/adapters/gnark"
	"github.com/samirrijal/geoproof/internal/adapters/http"
	natsadapter "github.com/samirrijal/geoproof/internal/adapters/nats"
	"github.com/samirrijal/geoproof/internal/adapters/postgres"
	"github.com/samirrijal/geoproof/internal/adapters/starknet"
	"github.com/samirrijal/geoproof/internal/adapters/valkey"
	"github.com/samirrijal/geoproof/internal/core/ports"
	"github.com/samirrijal/geoproof/internal/core/usecases"
	"github.com/samirrijal/geoproof/internal/pkg/config"
	"github.com/samirrijal/geoproof/internal/pkg/logging"
	"github.com/samirrijal/geoproof/internal/pkg/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.Load("geoproof-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// Structured logging
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	gnarkadapter.ConfigureLogs(os.Stderr, logging.Debug(cfg.Log.Level))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go db.ReportPoolMetrics(ctx, 15*time.Second)

	// Cache
	var cache ports.CacheService
	vk, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer vk.Close()
		cache = vk
	}

	// NATS
	var publisher ports.EventPublisher
	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats unavailable, async proving disabled", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	// Raw NATS connection for WebSocket relay
	natsConn, err := natsadapter.RawConn(cfg.NATS.URL)
	if err != nil {
		slog.Warn("nats ws conn unavailable", "error", err)
	} else {
		defer natsConn.Close()
	}

	// Starknet RPC
	chain, err := starknet.Dial(ctx, cfg.Starknet.RPCURL, cfg.Starknet.MaxRetries)
	if err != nil {
		log.Fatalf("starknet rpc: %v", err)
	}
	defer chain.Close()

	// Circuit keys load in the background; /v1/ready reports progress
	runtime := gnarkadapter.NewRuntime(cfg.Circuit.KeyDir)
	go func() {
		start := time.Now()
		b := backoff.NewExponentialBackOff()
		b.MaxInterval = time.Minute
		b.MaxElapsedTime = 0
		err := backoff.RetryNotify(runtime.Load, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
			slog.Error("circuit load failed", "program", runtime.Name(), "retry_in", next, "error", err)
		})
		if err != nil {
			return
		}
		slog.Info("circuit loaded", "program", runtime.Name(),
			"constraints", runtime.Constraints(), "duration", time.Since(start))
	}()

	// Use cases
	verifier := usecases.NewOnChainVerifier(chain, cfg.Starknet.CallTimeout)
	geofenceSvc := usecases.NewGeofenceService(postgres.NewGeofenceRepo(db), verifier, cache, runtime)
	prover := gnarkadapter.NewProver(runtime)
	proofSvc := usecases.NewProofService(geofenceSvc, postgres.NewAttemptRepo(db), usecases.Pipeline{
		Witness:  usecases.NewWitnessBuilder(gnarkadapter.NewExecutor(runtime), runtime),
		Prover:   usecases.NewProofGenerator(prover),
		Local:    prover,
		Verifier: verifier,
	}, publisher)

	deps := &http.Dependencies{
		Geofences: geofenceSvc,
		Proofs:    proofSvc,
		Circuit:   runtime,
		Chain:     chain,
		NATS:      natsConn,
		DB:        db,
		Cache:     vk,
		Version:   version,
		SpecPath:  http.DefaultSpecPath,
	}

	// Fiber
	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024, // 1 MB max request body
		AppName:      "GeoProof API",
	})
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	// Graceful shutdown
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr, "version", version)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	// In-flight proofs get up to 30s to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}
