package workflows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/usecases"
)

// Activity names as registered on the worker.
const (
	ActivityPrepare = "PrepareAttempt"
	ActivityProve   = "GenerateProof"
	ActivityVerify  = "VerifyOnChain"
)

// PreparedAttempt is returned by PrepareAttempt.
type PreparedAttempt struct {
	GeofenceID      string
	ContractAddress string
	VertexCount     int
}

// ProvedAttempt is returned by GenerateProof. It carries only the calldata.
// The reading itself arrives in the workflow input, so it is part of the
// workflow history and of the PROOF_REQUESTS message that started it.
type ProvedAttempt struct {
	AttemptID       string
	ContractAddress string
	Felts           domain.FeltArray
	ProveDuration   time.Duration
}

// VerifiedAttempt is returned by VerifyOnChain.
type VerifiedAttempt struct {
	Status  domain.VerificationStatus
	Reason  string
	Latency time.Duration
}

// ProofActivities holds the activity implementations for ProofWorkflow.
type ProofActivities struct {
	Geofences *usecases.GeofenceService
	Proofs    *usecases.ProofService
}

// PrepareAttempt resolves the fence and refreshes the cached on-chain
// vertices so the prove step cross-checks against current contract state.
func (a *ProofActivities) PrepareAttempt(ctx context.Context, geofenceID string) (*PreparedAttempt, error) {
	fence, err := a.Geofences.GetByID(ctx, geofenceID)
	if err != nil {
		return nil, activityError(fmt.Errorf("load geofence %s: %w", geofenceID, err))
	}
	if _, err := a.Geofences.RefreshVertices(ctx, fence.ContractAddress); err != nil {
		return nil, activityError(err)
	}
	return &PreparedAttempt{
		GeofenceID:      fence.ID,
		ContractAddress: fence.ContractAddress,
		VertexCount:     len(fence.Vertices),
	}, nil
}

// GenerateProof runs the off-chain pipeline up to formatted felts.
func (a *ProofActivities) GenerateProof(ctx context.Context, req domain.ProofRequest) (*ProvedAttempt, error) {
	req.Submit = false
	result, err := a.Proofs.Prove(ctx, req)
	if err != nil {
		return nil, activityError(err)
	}
	activity.GetLogger(ctx).Info("proof generated", "attempt_id", result.AttemptID, "felts", len(result.Felts))
	return &ProvedAttempt{
		AttemptID:       result.AttemptID,
		ContractAddress: result.ContractAddress,
		Felts:           result.Felts,
		ProveDuration:   result.ProveDuration,
	}, nil
}

// VerifyOnChain submits the felts to the verifier contract. Valid and
// Invalid are both successful outcomes; only call faults fail the activity.
func (a *ProofActivities) VerifyOnChain(ctx context.Context, proved ProvedAttempt) (*VerifiedAttempt, error) {
	vr, err := a.Proofs.Submit(ctx, proved.AttemptID, proved.ContractAddress, proved.Felts)
	if err != nil {
		return nil, activityError(err)
	}
	if vr.Status == domain.VerificationError {
		return nil, activityError(vr.Err)
	}
	return &VerifiedAttempt{Status: vr.Status, Reason: vr.Reason, Latency: vr.Latency}, nil
}

// activityError marks failures that cannot succeed on retry as
// non-retryable. Only network faults and unclassified errors are retried.
func activityError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return temporal.NewNonRetryableApplicationError(err.Error(), "not_found", err)
	}
	switch category := domain.CategoryOf(err); category {
	case domain.CategoryNetwork, "":
		return err
	default:
		slog.Debug("non-retryable activity error", "category", category, "stage", domain.StageOf(err))
		return temporal.NewNonRetryableApplicationError(err.Error(), string(category), err, string(domain.StageOf(err)))
	}
}
