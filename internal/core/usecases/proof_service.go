package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
	"github.com/samirrijal/geoproof/internal/pkg/metrics"
	"github.com/samirrijal/geoproof/internal/pkg/telemetry"
)

// Pipeline bundles the proof stages for one circuit program.
type Pipeline struct {
	Witness  *WitnessBuilder
	Prover   *ProofGenerator
	Local    ports.LocalVerifier // optional
	Verifier *OnChainVerifier
}

// ProofService runs proof attempts end to end and keeps the audit log.
type ProofService struct {
	fences    *GeofenceService
	attempts  ports.AttemptRepository
	pipeline  Pipeline
	publisher ports.EventPublisher
}

// NewProofService creates a new ProofService.
func NewProofService(fences *GeofenceService, attempts ports.AttemptRepository, pipeline Pipeline, publisher ports.EventPublisher) *ProofService {
	return &ProofService{fences: fences, attempts: attempts, pipeline: pipeline, publisher: publisher}
}

// Prove runs codec, fence cross-check, witness, proof, local check and
// formatting, strictly in that order. With req.Submit the felts are also
// verified on-chain. The attempt is recorded without coordinates.
func (s *ProofService) Prove(ctx context.Context, req domain.ProofRequest) (*domain.ProofResult, error) {
	fence, err := s.fences.GetByID(ctx, req.GeofenceID)
	if err != nil {
		return nil, err
	}

	attempt := &domain.ProofAttempt{
		ID:              req.AttemptID,
		GeofenceID:      fence.ID,
		ContractAddress: fence.ContractAddress,
		Status:          domain.AttemptPending,
		CreatedAt:       time.Now().UTC(),
	}
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	attempt.UpdatedAt = attempt.CreatedAt
	if err := s.attempts.Create(ctx, attempt); err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	s.publish(ctx, attempt, domain.EventAttemptStarted, "")

	log := slog.With("attempt_id", attempt.ID, "geofence_id", fence.ID)

	var input domain.CircuitInput
	err = s.stage(ctx, attempt, domain.StageCodec, func(ctx context.Context) error {
		input, err = s.pipeline.Encode(req.Reading, fence.Vertices, req.ClaimInside)
		return err
	})
	if err != nil {
		return nil, s.fail(ctx, attempt, err)
	}

	// the contract must enforce the polygon we prove against
	err = s.stage(ctx, attempt, domain.StageFence, func(ctx context.Context) error {
		onChain, err := s.fences.OnChainVertices(ctx, fence.ContractAddress)
		if err != nil {
			return err
		}
		if !onChain.Equal(fence.Vertices) {
			return domain.InputError(domain.StageFence,
				fmt.Errorf("%w: contract %s", domain.ErrPolygonMismatch, fence.ContractAddress))
		}
		return nil
	})
	if err != nil {
		return nil, s.fail(ctx, attempt, err)
	}

	proof, felts, err := s.pipeline.Prove(ctx, input, func(ctx context.Context, stage domain.Stage, fn func(context.Context) error) error {
		if stage != domain.StageProve {
			return s.stage(ctx, attempt, stage, fn)
		}
		start := time.Now()
		defer func() { attempt.ProveDuration = time.Since(start) }()
		return s.stage(ctx, attempt, stage, fn)
	})
	if err != nil {
		return nil, s.fail(ctx, attempt, err)
	}

	attempt.Status = domain.AttemptProved
	attempt.FeltCount = len(felts)
	s.save(ctx, attempt)
	s.publish(ctx, attempt, domain.EventProofGenerated, "")
	log.Info("proof generated", "felts", len(felts), "prove_duration", attempt.ProveDuration)

	result := &domain.ProofResult{
		AttemptID:       attempt.ID,
		GeofenceID:      fence.ID,
		ContractAddress: fence.ContractAddress,
		Proof:           proof,
		Felts:           felts,
		ProveDuration:   attempt.ProveDuration,
	}

	if req.Submit {
		vr := s.submit(ctx, attempt, fence.ContractAddress, felts)
		result.Verification = &vr
		if vr.Status == domain.VerificationError {
			return result, vr.Err
		}
	}
	return result, nil
}

// ProveAndVerify proves and submits in one call.
func (s *ProofService) ProveAndVerify(ctx context.Context, req domain.ProofRequest) (*domain.ProofResult, error) {
	req.Submit = true
	return s.Prove(ctx, req)
}

// Submit verifies felts against a contract. When attemptID names a recorded
// attempt its status is updated with the outcome.
func (s *ProofService) Submit(ctx context.Context, attemptID, contractAddress string, felts domain.FeltArray) (domain.VerificationResult, error) {
	if attemptID == "" {
		return s.verify(ctx, contractAddress, felts), nil
	}
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		return domain.VerificationResult{}, err
	}
	if contractAddress == "" {
		contractAddress = attempt.ContractAddress
	}
	return s.submit(ctx, attempt, contractAddress, felts), nil
}

// Attempts lists the audit log of a geofence.
func (s *ProofService) Attempts(ctx context.Context, geofenceID string, limit int) ([]domain.ProofAttempt, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.attempts.ListByGeofence(ctx, geofenceID, limit)
}

func (s *ProofService) submit(ctx context.Context, attempt *domain.ProofAttempt, address string, felts domain.FeltArray) domain.VerificationResult {
	vr := s.verify(ctx, address, felts)

	attempt.Verification = vr.Status
	attempt.VerifyDuration = vr.Latency
	switch vr.Status {
	case domain.VerificationValid:
		attempt.Status = domain.AttemptVerified
		s.save(ctx, attempt)
		s.publish(ctx, attempt, domain.EventProofVerified, "")
	case domain.VerificationInvalid:
		attempt.Status = domain.AttemptRejected
		s.save(ctx, attempt)
		s.publish(ctx, attempt, domain.EventProofVerified, vr.Reason)
	default:
		_ = s.fail(ctx, attempt, vr.Err)
	}
	return vr
}

func (s *ProofService) verify(ctx context.Context, address string, felts domain.FeltArray) domain.VerificationResult {
	ctx, span := telemetry.StartStage(ctx, string(domain.StageVerify),
		telemetry.AttrContract.String(address), telemetry.AttrFeltCount.Int(len(felts)))
	start := time.Now()
	vr := s.pipeline.Verifier.Verify(ctx, address, felts)
	metrics.ObserveStage(string(domain.StageVerify), start, string(domain.CategoryOf(vr.Err)), vr.Err)
	metrics.Verifications.WithLabelValues(string(vr.Status)).Inc()
	telemetry.EndStage(span, vr.Err, string(domain.CategoryOf(vr.Err)))
	return vr
}

// stage runs fn inside a span with duration and failure metrics.
func (s *ProofService) stage(ctx context.Context, attempt *domain.ProofAttempt, stage domain.Stage, fn func(context.Context) error) error {
	ctx, span := telemetry.StartStage(ctx, string(stage),
		telemetry.AttrAttemptID.String(attempt.ID), telemetry.AttrGeofenceID.String(attempt.GeofenceID))
	start := time.Now()
	err := fn(ctx)
	category := string(domain.CategoryOf(err))
	metrics.ObserveStage(string(stage), start, category, err)
	telemetry.EndStage(span, err, category)
	return err
}

// fail records the failed stage and category on the attempt and returns err.
func (s *ProofService) fail(ctx context.Context, attempt *domain.ProofAttempt, err error) error {
	attempt.Status = domain.AttemptFailed
	attempt.FailedStage = domain.StageOf(err)
	attempt.Category = domain.CategoryOf(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		attempt.Error = "abandoned: " + err.Error()
	} else if err != nil {
		attempt.Error = err.Error()
	}

	// the caller's ctx may be the reason we failed; the audit write must still land
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	s.save(saveCtx, attempt)
	s.publish(saveCtx, attempt, domain.EventAttemptFailed, attempt.Error)

	slog.Warn("proof attempt failed",
		"attempt_id", attempt.ID,
		"geofence_id", attempt.GeofenceID,
		"stage", attempt.FailedStage,
		"category", attempt.Category,
		"error", err,
	)
	return err
}

func (s *ProofService) save(ctx context.Context, attempt *domain.ProofAttempt) {
	attempt.UpdatedAt = time.Now().UTC()
	if err := s.attempts.Update(ctx, attempt); err != nil {
		slog.Error("update attempt", "attempt_id", attempt.ID, "error", err)
	}
}

func (s *ProofService) publish(ctx context.Context, attempt *domain.ProofAttempt, typ domain.ProofEventType, msg string) {
	if s.publisher == nil {
		return
	}
	ev := &domain.ProofEvent{
		Type:         typ,
		AttemptID:    attempt.ID,
		GeofenceID:   attempt.GeofenceID,
		Stage:        attempt.FailedStage,
		Category:     attempt.Category,
		Verification: attempt.Verification,
		Message:      msg,
		Time:         time.Now().UTC(),
	}
	if err := s.publisher.PublishProofEvent(ctx, ev); err != nil {
		slog.Warn("publish proof event", "type", typ, "error", err)
	}
}

// Enqueue hands a request to the async proving workers.
func (s *ProofService) Enqueue(ctx context.Context, req domain.ProofRequest) (string, error) {
	if s.publisher == nil {
		return "", fmt.Errorf("async proving unavailable: no event publisher")
	}
	if _, err := s.fences.GetByID(ctx, req.GeofenceID); err != nil {
		return "", err
	}
	if req.AttemptID == "" {
		req.AttemptID = uuid.NewString()
	}
	if err := s.publisher.PublishProofRequest(ctx, &req); err != nil {
		return "", fmt.Errorf("enqueue proof request: %w", err)
	}
	return req.AttemptID, nil
}
