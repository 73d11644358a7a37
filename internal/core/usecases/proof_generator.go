package usecases

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
	"github.com/samirrijal/geoproof/internal/pkg/metrics"
)

// ProofGenerator serialises proof generation on one ProvingBackend. At most
// one proof runs against the backend at a time; callers queue for the slot.
type ProofGenerator struct {
	backend ports.ProvingBackend
	slot    chan struct{}
}

// NewProofGenerator wraps a backend. Use one generator per backend instance.
func NewProofGenerator(backend ports.ProvingBackend) *ProofGenerator {
	return &ProofGenerator{backend: backend, slot: make(chan struct{}, 1)}
}

type proveResult struct {
	proof domain.Proof
	err   error
}

// Generate proves witness. Cancelling ctx abandons the wait: if the proof is
// already running it finishes in the background and only then frees the
// backend, so the next caller starts from a clean backend. Cancellation is
// returned as is; an expired deadline is an ExecutionError wrapping
// domain.ErrResourceExhausted.
func (g *ProofGenerator) Generate(ctx context.Context, witness domain.Witness) (domain.Proof, error) {
	if len(witness) == 0 {
		return domain.Proof{}, domain.InputError(domain.StageProve, domain.ErrEmptyWitness)
	}

	queued := time.Now()
	select {
	case g.slot <- struct{}{}:
	case <-ctx.Done():
		return domain.Proof{}, contextError(domain.StageProve, ctx.Err())
	}
	metrics.BackendQueueWait.Observe(time.Since(queued).Seconds())

	done := make(chan proveResult, 1)
	metrics.BackendInFlight.Inc()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- proveResult{err: fmt.Errorf("%w: backend panic: %v", domain.ErrInternalFault, r)}
			}
			metrics.BackendInFlight.Dec()
			<-g.slot
		}()
		p, err := g.backend.Prove(ctx, witness)
		done <- proveResult{proof: p, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return domain.Proof{}, asExecutionError(domain.StageProve, res.err)
		}
		if res.proof.IsZero() {
			return domain.Proof{}, domain.ExecutionError(domain.StageProve,
				fmt.Errorf("%w: backend returned no proof", domain.ErrInternalFault))
		}
		return res.proof, nil
	case <-ctx.Done():
		slog.Debug("proof generation abandoned, backend will finish in background", "error", ctx.Err())
		return domain.Proof{}, contextError(domain.StageProve, ctx.Err())
	}
}
