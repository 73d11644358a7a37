package ports

import (
	"context"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

// CircuitProgram describes the compiled circuit the pipeline proves against.
type CircuitProgram interface {
	Name() string
	VertexCount() int
	Scale() int64
}

// CircuitExecutor runs a program on a structured input and returns the
// witness. Failures wrap domain.ErrAbiMismatch, domain.ErrInternalFault or
// domain.ErrUnsatisfied.
type CircuitExecutor interface {
	Execute(ctx context.Context, program CircuitProgram, input domain.CircuitInput) (domain.Witness, error)
}

// ProvingBackend turns a witness into a proof. It is safe for sequential use
// only; callers serialise access. Failures wrap domain.ErrMalformedWitness or
// domain.ErrResourceExhausted.
type ProvingBackend interface {
	Prove(ctx context.Context, witness domain.Witness) (domain.Proof, error)
}

// LocalVerifier checks a proof off-chain against the verifying key.
type LocalVerifier interface {
	VerifyLocal(ctx context.Context, proof domain.Proof) error
}

// ContractCaller talks to deployed contracts over chain RPC.
type ContractCaller interface {
	// Call invokes a read-only entry point. Implementations may retry.
	Call(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error)
	// Execute invokes an entry point exactly once. It is never retried
	// because the entry point may change on-chain state and cost fees.
	Execute(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error)
}

// EventPublisher publishes domain events to a message broker.
type EventPublisher interface {
	PublishProofEvent(ctx context.Context, event *domain.ProofEvent) error
	PublishProofRequest(ctx context.Context, req *domain.ProofRequest) error
	PublishFenceDrift(ctx context.Context, drift *domain.FenceDrift) error
}

// EventSubscriber subscribes to domain events from a message broker.
type EventSubscriber interface {
	SubscribeProofRequests(ctx context.Context, handler func(ctx context.Context, req *domain.ProofRequest) error) error
	SubscribeFenceDrift(ctx context.Context, handler func(ctx context.Context, drift *domain.FenceDrift) error) error
}

// CacheService provides read-through caching.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// LocationSource delivers sensor readings. Watch returns a stop function;
// onError receives terminal faults (permission denied, unavailable, timeout).
type LocationSource interface {
	Watch(ctx context.Context, onUpdate func(domain.LocationReading), onError func(error)) (stop func(), err error)
}
