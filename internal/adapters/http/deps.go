package http

import (
	"context"

	"github.com/nats-io/nats.go"
	"github.com/samirrijal/geoproof/internal/adapters/postgres"
	"github.com/samirrijal/geoproof/internal/adapters/valkey"
	"github.com/samirrijal/geoproof/internal/core/usecases"
)

// CircuitStatus reports whether the proving keys are loaded.
type CircuitStatus interface {
	Name() string
	Loaded() bool
}

// ChainPinger checks the Starknet RPC endpoint.
type ChainPinger interface {
	ChainID(ctx context.Context) (string, error)
}

// Dependencies holds all services needed by HTTP handlers.
type Dependencies struct {
	Geofences *usecases.GeofenceService
	Proofs    *usecases.ProofService
	Circuit   CircuitStatus
	Chain     ChainPinger
	NATS      *nats.Conn
	DB        *postgres.DB
	Cache     *valkey.Cache
	Version   string
	SpecPath  string // OpenAPI document served at /docs
}
