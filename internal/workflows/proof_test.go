package workflows_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/workflows"
)

type fakeActivities struct {
	prepareCalls, proveCalls, verifyCalls int

	prepareFn func(calls int) (*workflows.PreparedAttempt, error)
	proveFn   func(req domain.ProofRequest) (*workflows.ProvedAttempt, error)
	verifyFn  func(p workflows.ProvedAttempt) (*workflows.VerifiedAttempt, error)
}

func (f *fakeActivities) register(env *testsuite.TestWorkflowEnvironment) {
	env.RegisterActivityWithOptions(func(ctx context.Context, geofenceID string) (*workflows.PreparedAttempt, error) {
		f.prepareCalls++
		if f.prepareFn != nil {
			return f.prepareFn(f.prepareCalls)
		}
		return &workflows.PreparedAttempt{GeofenceID: geofenceID, ContractAddress: "0x4ab", VertexCount: 4}, nil
	}, activity.RegisterOptions{Name: workflows.ActivityPrepare})

	env.RegisterActivityWithOptions(func(ctx context.Context, req domain.ProofRequest) (*workflows.ProvedAttempt, error) {
		f.proveCalls++
		if f.proveFn != nil {
			return f.proveFn(req)
		}
		return &workflows.ProvedAttempt{
			AttemptID:       req.AttemptID,
			ContractAddress: "0x4ab",
			Felts:           domain.FeltArray{"0x1", "0x2", "0x3"},
			ProveDuration:   2 * time.Second,
		}, nil
	}, activity.RegisterOptions{Name: workflows.ActivityProve})

	env.RegisterActivityWithOptions(func(ctx context.Context, p workflows.ProvedAttempt) (*workflows.VerifiedAttempt, error) {
		f.verifyCalls++
		if f.verifyFn != nil {
			return f.verifyFn(p)
		}
		return &workflows.VerifiedAttempt{Status: domain.VerificationValid}, nil
	}, activity.RegisterOptions{Name: workflows.ActivityVerify})
}

func runWorkflow(t *testing.T, f *fakeActivities, req domain.ProofRequest) (*workflows.ProofOutcome, error) {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	f.register(env)

	env.ExecuteWorkflow(workflows.ProofWorkflow, req)
	if !env.IsWorkflowCompleted() {
		t.Fatal("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		return nil, err
	}
	var out workflows.ProofOutcome
	if err := env.GetWorkflowResult(&out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return &out, nil
}

func TestProofWorkflow_ProveAndVerify(t *testing.T) {
	f := &fakeActivities{}
	out, err := runWorkflow(t, f, domain.ProofRequest{AttemptID: "a1", GeofenceID: "f1", Submit: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.AttemptID != "a1" || out.FeltCount != 3 {
		t.Errorf("unexpected outcome %+v", out)
	}
	if out.Verification != domain.VerificationValid {
		t.Errorf("expected valid, got %q", out.Verification)
	}
	if f.prepareCalls != 1 || f.proveCalls != 1 || f.verifyCalls != 1 {
		t.Errorf("calls prepare=%d prove=%d verify=%d", f.prepareCalls, f.proveCalls, f.verifyCalls)
	}
}

func TestProofWorkflow_NoSubmitSkipsVerify(t *testing.T) {
	f := &fakeActivities{}
	out, err := runWorkflow(t, f, domain.ProofRequest{AttemptID: "a1", GeofenceID: "f1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.verifyCalls != 0 {
		t.Errorf("verify called %d times without submit", f.verifyCalls)
	}
	if out.Verification != "" {
		t.Errorf("expected no verification, got %q", out.Verification)
	}
}

func TestProofWorkflow_InvalidIsNotAFailure(t *testing.T) {
	f := &fakeActivities{
		verifyFn: func(workflows.ProvedAttempt) (*workflows.VerifiedAttempt, error) {
			return &workflows.VerifiedAttempt{Status: domain.VerificationInvalid}, nil
		},
	}
	out, err := runWorkflow(t, f, domain.ProofRequest{AttemptID: "a1", GeofenceID: "f1", Submit: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Verification != domain.VerificationInvalid {
		t.Errorf("expected invalid, got %q", out.Verification)
	}
}

func TestProofWorkflow_PrepareRetriesNetworkFaults(t *testing.T) {
	f := &fakeActivities{
		prepareFn: func(calls int) (*workflows.PreparedAttempt, error) {
			if calls < 3 {
				return nil, errors.New("rpc endpoint unreachable")
			}
			return &workflows.PreparedAttempt{GeofenceID: "f1", ContractAddress: "0x4ab"}, nil
		},
	}
	if _, err := runWorkflow(t, f, domain.ProofRequest{AttemptID: "a1", GeofenceID: "f1"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.prepareCalls != 3 {
		t.Errorf("expected 3 prepare attempts, got %d", f.prepareCalls)
	}
}

func TestProofWorkflow_InputErrorStopsImmediately(t *testing.T) {
	f := &fakeActivities{
		proveFn: func(domain.ProofRequest) (*workflows.ProvedAttempt, error) {
			return nil, temporal.NewNonRetryableApplicationError("coordinate out of range", string(domain.CategoryInput), nil)
		},
	}
	_, err := runWorkflow(t, f, domain.ProofRequest{AttemptID: "a1", GeofenceID: "f1", Submit: true})
	if err == nil {
		t.Fatal("expected workflow error")
	}
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || appErr.Type() != string(domain.CategoryInput) {
		t.Errorf("expected input application error, got %v", err)
	}
	if f.proveCalls != 1 {
		t.Errorf("non-retryable error retried: %d calls", f.proveCalls)
	}
	if f.verifyCalls != 0 {
		t.Error("verify must not run after a failed prove")
	}
}

func TestProofWorkflow_VerifySubmittedOnce(t *testing.T) {
	f := &fakeActivities{
		verifyFn: func(workflows.ProvedAttempt) (*workflows.VerifiedAttempt, error) {
			return nil, errors.New("rpc endpoint unreachable")
		},
	}
	_, err := runWorkflow(t, f, domain.ProofRequest{AttemptID: "a1", GeofenceID: "f1", Submit: true})
	if err == nil {
		t.Fatal("expected workflow error")
	}
	if f.verifyCalls != 1 {
		t.Errorf("verify_proof submitted %d times", f.verifyCalls)
	}
}

func TestWorkflowID(t *testing.T) {
	if got := workflows.WorkflowID("a1"); got != "proof-a1" {
		t.Errorf("got %q", got)
	}
}

func TestProofWorkflow_ReadingOnlyReachesProveStep(t *testing.T) {
	reading := domain.LocationReading{
		Point:          domain.GeoPoint{Lat: 30.3, Lon: 60.06},
		AccuracyMeters: 8,
		Timestamp:      time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	var proved domain.ProofRequest
	var verified workflows.ProvedAttempt
	f := &fakeActivities{
		proveFn: func(req domain.ProofRequest) (*workflows.ProvedAttempt, error) {
			proved = req
			return &workflows.ProvedAttempt{AttemptID: req.AttemptID, ContractAddress: "0x4ab", Felts: domain.FeltArray{"0x1"}}, nil
		},
		verifyFn: func(p workflows.ProvedAttempt) (*workflows.VerifiedAttempt, error) {
			verified = p
			return &workflows.VerifiedAttempt{Status: domain.VerificationValid}, nil
		},
	}

	out, err := runWorkflow(t, f, domain.ProofRequest{AttemptID: "a9", GeofenceID: "f1", Reading: reading, Submit: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proved.Reading.Point != reading.Point || proved.Reading.AccuracyMeters != reading.AccuracyMeters {
		t.Errorf("prove step got reading %+v, want %+v", proved.Reading, reading)
	}
	if len(verified.Felts) != 1 || verified.AttemptID != "a9" {
		t.Errorf("verify step got %+v", verified)
	}
	if out.Verification != domain.VerificationValid {
		t.Errorf("verification = %q", out.Verification)
	}
}
