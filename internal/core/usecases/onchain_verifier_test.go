package usecases_test

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/usecases"
	"github.com/samirrijal/geoproof/internal/pkg/felt"
)

const testContract = "0x04ab"

func TestOnChainVerifier_EmptyFeltsNeverValid(t *testing.T) {
	caller := &mockCaller{
		executeFn: func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
			return []string{"0x1", "0x1", "0x0"}, nil
		},
	}
	v := usecases.NewOnChainVerifier(caller, time.Second)

	res := v.Verify(context.Background(), testContract, nil)
	if res.Status == domain.VerificationValid {
		t.Fatal("empty proof verified as valid")
	}
	if res.Status != domain.VerificationInvalid {
		t.Errorf("expected invalid, got %s", res.Status)
	}
	if len(caller.Calls()) != 0 {
		t.Error("empty proof must not reach the network")
	}
}

func TestOnChainVerifier_Verify_Calldata(t *testing.T) {
	caller := &mockCaller{
		executeFn: func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
			// one u256 public input: len, low, high
			return []string{"0x1", "0x1", "0x0"}, nil
		},
	}
	v := usecases.NewOnChainVerifier(caller, time.Second)

	res := v.Verify(context.Background(), "0x0004AB", domain.FeltArray{"0xa", "0xb"})
	if res.Status != domain.VerificationValid {
		t.Fatalf("expected valid, got %s (%s)", res.Status, res.Reason)
	}

	calls := caller.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	c := calls[0]
	if !c.execute {
		t.Error("verify_proof must go through Execute, not the retrying Call")
	}
	if c.address != "0x4ab" || c.entryPoint != usecases.EntryVerifyProof {
		t.Errorf("unexpected target %s@%s", c.entryPoint, c.address)
	}
	if !reflect.DeepEqual(c.calldata, []string{"0x2", "0xa", "0xb"}) {
		t.Errorf("calldata = %v", c.calldata)
	}
}

func TestOnChainVerifier_Verify_EmptyResultIsInvalid(t *testing.T) {
	caller := &mockCaller{
		executeFn: func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
			return []string{"0x0"}, nil
		},
	}
	res := usecases.NewOnChainVerifier(caller, time.Second).Verify(context.Background(), testContract, domain.FeltArray{"0x1"})
	if res.Status != domain.VerificationInvalid {
		t.Errorf("expected invalid, got %s", res.Status)
	}
}

func TestOnChainVerifier_Verify_RPCFaultIsError(t *testing.T) {
	caller := &mockCaller{
		executeFn: func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
			return nil, domain.ErrRPCUnreachable
		},
	}
	res := usecases.NewOnChainVerifier(caller, time.Second).Verify(context.Background(), testContract, domain.FeltArray{"0x1"})
	if res.Status != domain.VerificationError {
		t.Fatalf("expected error, got %s", res.Status)
	}
	if !errors.Is(res.Err, domain.ErrRPCUnreachable) {
		t.Errorf("expected ErrRPCUnreachable, got %v", res.Err)
	}
	if !domain.Retryable(res.Err) {
		t.Error("network errors must be retryable")
	}
	var pe *domain.PipelineError
	if !errors.As(res.Err, &pe) || pe.Op != "verify_proof@0x4ab" {
		t.Errorf("expected op to name entry point and contract, got %+v", pe)
	}
}

func TestOnChainVerifier_Verify_Timeout(t *testing.T) {
	caller := &mockCaller{
		executeFn: func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	res := usecases.NewOnChainVerifier(caller, 10*time.Millisecond).Verify(context.Background(), testContract, domain.FeltArray{"0x1"})
	if res.Status != domain.VerificationError {
		t.Fatalf("expected error, got %s", res.Status)
	}
	if !errors.Is(res.Err, domain.ErrCallTimeout) {
		t.Errorf("expected ErrCallTimeout, got %v", res.Err)
	}
	if res.Latency <= 0 {
		t.Error("latency not recorded")
	}
}

func TestOnChainVerifier_GetVertices(t *testing.T) {
	caller := &mockCaller{
		callFn: func(ctx context.Context, address, entryPoint string, calldata []string) ([]string, error) {
			if entryPoint != usecases.EntryGetVertices {
				t.Errorf("unexpected entry point %s", entryPoint)
			}
			return usecases.ConstructorCalldata(testPolygon), nil
		},
	}
	poly, err := usecases.NewOnChainVerifier(caller, time.Second).GetVertices(context.Background(), testContract)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !poly.Equal(testPolygon) {
		t.Errorf("got %v", poly)
	}
	if c := caller.Calls(); len(c) != 1 || c[0].execute {
		t.Error("get_vertices must be a read-only call")
	}
}

func TestDecodeVertices_Negative(t *testing.T) {
	poly := domain.Polygon{
		{X: -74006000, Y: 40712800},
		{X: -73990000, Y: 40712800},
		{X: -73990000, Y: 40730000},
		{X: -74006000, Y: 40730000},
	}
	data := usecases.ConstructorCalldata(poly)
	if data[0] != "0x4" || data[5] != "0x4" {
		t.Fatalf("length prefixes wrong: %v", data)
	}
	if data[1] != felt.FromInt64(-74006000) {
		t.Errorf("x0 = %s", data[1])
	}

	got, err := usecases.DecodeVertices(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Equal(poly) {
		t.Errorf("got %v", got)
	}
}

func TestDecodeVertices_Malformed(t *testing.T) {
	for _, ret := range [][]string{
		nil,
		{"0x2", "0x1"},
		{"0x1", "0x1", "0x2", "0x1", "0x2"},
		{"0x1", "0x1", "0x1", "0x1", "0x9"},
	} {
		if _, err := usecases.DecodeVertices(ret); !errors.Is(err, domain.ErrMalformedResponse) {
			t.Errorf("%v: expected ErrMalformedResponse, got %v", ret, err)
		}
	}
}
