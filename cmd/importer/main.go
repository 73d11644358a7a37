package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/samirrijal/geoproof/internal/adapters/postgres"
	"github.com/samirrijal/geoproof/internal/adapters/starknet"
	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/usecases"
	"github.com/samirrijal/geoproof/internal/pkg/config"
	"github.com/samirrijal/geoproof/internal/pkg/logging"
)

// ---------------------------------------------------------------------------
// Manifest types
// ---------------------------------------------------------------------------

type Manifest struct {
	Source    string          `json:"source"`
	Geofences []GeofenceEntry `json:"geofences"`
}

// GeofenceEntry is one fence in degrees. Vertex order is kept as written.
type GeofenceEntry struct {
	Name            string            `json:"name"`
	ContractAddress string            `json:"contract_address"`
	Vertices        []domain.GeoPoint `json:"vertices"`
}

type registryProgram struct {
	vertices int
	scale    int64
}

func (p registryProgram) Name() string     { return "registry" }
func (p registryProgram) VertexCount() int { return p.vertices }
func (p registryProgram) Scale() int64     { return p.scale }

const batchSize = 100

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	cfg, err := config.Load("geoproof-importer")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx := context.Background()

	db, err := postgres.New(ctx, cfg.Database.DSN(), cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()

	chain, err := starknet.Dial(ctx, cfg.Starknet.RPCURL, cfg.Starknet.MaxRetries)
	if err != nil {
		log.Fatalf("starknet rpc: %v", err)
	}
	defer chain.Close()

	// Load manifest
	manifestPath := "geofences.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Fatalf("read manifest: %v", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		log.Fatalf("parse manifest: %v", err)
	}

	slog.Info("geofence import", "fences", len(manifest.Geofences), "source", manifest.Source)

	// Filter by name (optional CLI arg: comma separated)
	nameFilter := map[string]bool{}
	if len(os.Args) > 2 {
		for _, s := range strings.Split(os.Args[2], ",") {
			nameFilter[strings.TrimSpace(s)] = true
		}
	}

	verifier := usecases.NewOnChainVerifier(chain, cfg.Starknet.CallTimeout)
	program := registryProgram{vertices: cfg.Circuit.VertexCount, scale: cfg.Circuit.Scale}
	svc := usecases.NewGeofenceService(postgres.NewGeofenceRepo(db), verifier, nil, program)

	var (
		mu       sync.Mutex
		accepted []domain.Geofence
		wg       sync.WaitGroup
	)
	sem := make(chan struct{}, cfg.Sync.Concurrency)

	for _, entry := range manifest.Geofences {
		if len(nameFilter) > 0 && !nameFilter[entry.Name] {
			continue
		}

		wg.Add(1)
		go func(e GeofenceEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			fence, err := importFence(ctx, svc, e)
			if err != nil {
				slog.Error("skipping geofence", "name", e.Name, "contract", e.ContractAddress,
					"category", domain.CategoryOf(err), "error", err)
				return
			}
			mu.Lock()
			accepted = append(accepted, *fence)
			mu.Unlock()
		}(entry)
	}

	wg.Wait()

	for start := 0; start < len(accepted); start += batchSize {
		end := min(start+batchSize, len(accepted))
		if err := svc.RegisterBatch(ctx, accepted[start:end]); err != nil {
			log.Fatalf("store batch: %v", err)
		}
	}
	slog.Info("import complete", "stored", len(accepted))
}

// importFence converts the entry and checks it against the contract's
// get_vertices. A fence the contract does not enforce is never stored.
func importFence(ctx context.Context, svc *usecases.GeofenceService, e GeofenceEntry) (*domain.Geofence, error) {
	fence, err := svc.Prepare(e.Name, e.ContractAddress, e.Vertices)
	if err != nil {
		return nil, err
	}
	onChain, err := svc.OnChainVertices(ctx, fence.ContractAddress)
	if err != nil {
		return nil, err
	}
	if !onChain.Equal(fence.Vertices) {
		return nil, domain.InputError(domain.StageFence, domain.ErrPolygonMismatch)
	}
	return fence, nil
}
