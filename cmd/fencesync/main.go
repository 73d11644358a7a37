package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	natsadapter "github.com/samirrijal/geoproof/internal/adapters/nats"
	"github.com/samirrijal/geoproof/internal/adapters/postgres"
	"github.com/samirrijal/geoproof/internal/adapters/starknet"
	"github.com/samirrijal/geoproof/internal/adapters/valkey"
	"github.com/samirrijal/geoproof/internal/core/ports"
	"github.com/samirrijal/geoproof/internal/core/usecases"
	"github.com/samirrijal/geoproof/internal/pkg/config"
	"github.com/samirrijal/geoproof/internal/pkg/logging"
)

// registryProgram satisfies the circuit program the registry validates
// against without loading the circuit itself.
type registryProgram struct {
	vertices int
	scale    int64
}

func (p registryProgram) Name() string     { return "registry" }
func (p registryProgram) VertexCount() int { return p.vertices }
func (p registryProgram) Scale() int64     { return p.scale }

func main() {
	cfg, err := config.Load("geoproof-fencesync")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	// Cache is refreshed as a side effect of each check
	var cache ports.CacheService
	if vk, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer vk.Close()
		cache = vk
	}

	// NATS
	var publisher ports.EventPublisher
	if pub, err := natsadapter.NewPublisher(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable, drift is only logged", "error", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	chain, err := starknet.Dial(ctx, cfg.Starknet.RPCURL, cfg.Starknet.MaxRetries)
	if err != nil {
		log.Fatalf("starknet rpc: %v", err)
	}
	defer chain.Close()

	verifier := usecases.NewOnChainVerifier(chain, cfg.Starknet.CallTimeout)
	program := registryProgram{vertices: cfg.Circuit.VertexCount, scale: cfg.Circuit.Scale}
	geofenceSvc := usecases.NewGeofenceService(postgres.NewGeofenceRepo(db), verifier, cache, program)
	syncer := usecases.NewFenceSync(geofenceSvc, publisher, cfg.Sync.Concurrency)

	ticker := time.NewTicker(cfg.Sync.Interval)
	defer ticker.Stop()

	slog.Info("fence sync started", "interval", cfg.Sync.Interval, "concurrency", cfg.Sync.Concurrency)

	// Signal handling
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Run once immediately
	sweep(ctx, syncer)

	for {
		select {
		case <-ticker.C:
			sweep(ctx, syncer)
		case <-ctx.Done():
			return
		case sig := <-quit:
			slog.Info("shutting down fence sync", "signal", sig.String())
			return
		}
	}
}

func sweep(ctx context.Context, syncer *usecases.FenceSync) {
	start := time.Now()
	report, err := syncer.RunOnce(ctx)
	if err != nil {
		slog.Error("fence sync sweep", "error", err)
	}
	slog.Info("fence sync sweep done",
		"checked", report.Checked,
		"drifted", report.Drifted,
		"failed", report.Failed,
		"duration", time.Since(start),
	)
}
