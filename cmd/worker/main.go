package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"go.temporal.io/sdk/client"
	tlog "go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"

	gnarkadapter "github.com/samirrijal/geoproof/internal/adapters/gnark"
	natsadapter "github.com/samirrijal/geoproof/internal/adapters/nats"
	"github.com/samirrijal/geoproof/internal/adapters/postgres"
	"github.com/samirrijal/geoproof/internal/adapters/starknet"
	"github.com/samirrijal/geoproof/internal/adapters/valkey"
	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
	"github.com/samirrijal/geoproof/internal/core/usecases"
	"github.com/samirrijal/geoproof/internal/pkg/config"
	"github.com/samirrijal/geoproof/internal/pkg/logging"
	"github.com/samirrijal/geoproof/internal/pkg/telemetry"
	"github.com/samirrijal/geoproof/internal/workflows"
)

func main() {
	cfg, err := config.Load("geoproof-worker")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	gnarkadapter.ConfigureLogs(os.Stderr, logging.Debug(cfg.Log.Level))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.OTLPEndpoint)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	var cache ports.CacheService
	if vk, err := valkey.New(cfg.Valkey.Addr); err != nil {
		slog.Warn("valkey unavailable", "error", err)
	} else {
		defer vk.Close()
		cache = vk
	}

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats publisher: %v", err)
	}
	defer pub.Close()

	chain, err := starknet.Dial(ctx, cfg.Starknet.RPCURL, cfg.Starknet.MaxRetries)
	if err != nil {
		log.Fatalf("starknet rpc: %v", err)
	}
	defer chain.Close()

	// Workers only poll once the keys are ready
	runtime := gnarkadapter.NewRuntime(cfg.Circuit.KeyDir)
	start := time.Now()
	if err := runtime.Load(); err != nil {
		log.Fatalf("circuit: %v", err)
	}
	slog.Info("circuit loaded", "program", runtime.Name(), "duration", time.Since(start))

	verifier := usecases.NewOnChainVerifier(chain, cfg.Starknet.CallTimeout)
	geofenceSvc := usecases.NewGeofenceService(postgres.NewGeofenceRepo(db), verifier, cache, runtime)
	prover := gnarkadapter.NewProver(runtime)
	proofSvc := usecases.NewProofService(geofenceSvc, postgres.NewAttemptRepo(db), usecases.Pipeline{
		Witness:  usecases.NewWitnessBuilder(gnarkadapter.NewExecutor(runtime), runtime),
		Prover:   usecases.NewProofGenerator(prover),
		Local:    prover,
		Verifier: verifier,
	}, pub)

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    tlog.NewStructuredLogger(logger),
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	// the backend proves one witness at a time; the second slot lets
	// prepare and verify activities run alongside it
	w := worker.New(c, cfg.Temporal.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: 2,
	})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.ProofWorkflow)
	w.RegisterActivity(&workflows.ProofActivities{
		Geofences: geofenceSvc,
		Proofs:    proofSvc,
	})

	// PROOF_REQUESTS -> workflows
	sub, err := natsadapter.NewSubscriber(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats subscriber: %v", err)
	}
	defer sub.Close()

	err = sub.SubscribeProofRequests(ctx, func(ctx context.Context, req *domain.ProofRequest) error {
		run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
			ID:        workflows.WorkflowID(req.AttemptID),
			TaskQueue: cfg.Temporal.TaskQueue,
		}, workflows.ProofWorkflow, *req)
		if err != nil {
			slog.Error("start proof workflow", "attempt_id", req.AttemptID, "error", err)
			return err
		}
		slog.Info("proof workflow started", "attempt_id", req.AttemptID, "run_id", run.GetRunID())
		return nil
	})
	if err != nil {
		log.Fatalf("subscribe proof requests: %v", err)
	}

	slog.Info("proof worker started", "task_queue", cfg.Temporal.TaskQueue)
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
