package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

// ProofOutcome is the result of ProofWorkflow.
type ProofOutcome struct {
	AttemptID     string
	FeltCount     int
	Verification  domain.VerificationStatus
	Reason        string
	ProveDuration time.Duration
}

// WorkflowID is the Temporal workflow id for an attempt. Requests
// redelivered by the queue map onto the same workflow.
func WorkflowID(attemptID string) string {
	return "proof-" + attemptID
}

// ProofWorkflow prepares the attempt, generates the proof and, when the
// request asks for it, verifies it on-chain. Input, execution and format
// failures stop the workflow immediately; network faults are retried, except
// for verify_proof which is submitted at most once.
func ProofWorkflow(ctx workflow.Context, req domain.ProofRequest) (*ProofOutcome, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting proof workflow", "attemptID", req.AttemptID, "geofenceID", req.GeofenceID)

	prepareCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    5,
		},
	})
	var prepared PreparedAttempt
	if err := workflow.ExecuteActivity(prepareCtx, ActivityPrepare, req.GeofenceID).Get(ctx, &prepared); err != nil {
		return nil, err
	}

	// one slot per backend: a queued proof can wait for a long one to finish
	proveCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})
	var proved ProvedAttempt
	if err := workflow.ExecuteActivity(proveCtx, ActivityProve, req).Get(ctx, &proved); err != nil {
		return nil, err
	}

	outcome := &ProofOutcome{
		AttemptID:     proved.AttemptID,
		FeltCount:     len(proved.Felts),
		ProveDuration: proved.ProveDuration,
	}
	if !req.Submit {
		logger.Info("Proof generated", "attemptID", outcome.AttemptID, "felts", outcome.FeltCount)
		return outcome, nil
	}

	verifyCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	})
	var verified VerifiedAttempt
	if err := workflow.ExecuteActivity(verifyCtx, ActivityVerify, proved).Get(ctx, &verified); err != nil {
		logger.Warn("on-chain verification failed", "attemptID", outcome.AttemptID, "error", err)
		return outcome, err
	}
	outcome.Verification = verified.Status
	outcome.Reason = verified.Reason

	logger.Info("Proof verified", "attemptID", outcome.AttemptID, "result", verified.Status)
	return outcome, nil
}
