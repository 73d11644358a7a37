package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
	"github.com/samirrijal/geoproof/internal/pkg/felt"
)

// Verifier contract entry points.
const (
	EntryVerifyProof = "verify_proof"
	EntryGetVertices = "get_vertices"
)

// OnChainVerifier submits flattened proofs to a deployed verifier contract
// and reads back the polygon it enforces.
type OnChainVerifier struct {
	caller  ports.ContractCaller
	timeout time.Duration
}

// NewOnChainVerifier creates a verifier. timeout bounds each contract call;
// zero means only the caller's context applies.
func NewOnChainVerifier(caller ports.ContractCaller, timeout time.Duration) *OnChainVerifier {
	return &OnChainVerifier{caller: caller, timeout: timeout}
}

// Verify passes felts as the single felt252[] argument of verify_proof. A
// non-empty u256[] result is Valid, an empty one Invalid, and any call fault
// Error. An empty proof is Invalid without touching the network.
func (v *OnChainVerifier) Verify(ctx context.Context, address string, felts domain.FeltArray) domain.VerificationResult {
	if len(felts) == 0 {
		return domain.VerificationResult{Status: domain.VerificationInvalid, Reason: "empty proof"}
	}

	addr, err := felt.Canonical(address)
	if err != nil {
		err = domain.InputError(domain.StageVerify, fmt.Errorf("contract address: %w", err))
		return domain.VerificationResult{Status: domain.VerificationError, Reason: err.Error(), Err: err}
	}

	calldata := make([]string, 0, len(felts)+1)
	calldata = append(calldata, felt.FromUint64(uint64(len(felts))))
	calldata = append(calldata, felts...)

	callCtx, cancel := v.withTimeout(ctx)
	defer cancel()

	start := time.Now()
	ret, err := v.caller.Execute(callCtx, addr, EntryVerifyProof, calldata)
	latency := time.Since(start)
	if err != nil {
		nerr := v.networkError(callCtx, addr, EntryVerifyProof, err)
		slog.Warn("verify_proof failed", "contract", addr, "latency", latency, "error", nerr)
		return domain.VerificationResult{Status: domain.VerificationError, Reason: nerr.Error(), Latency: latency, Err: nerr}
	}

	n, err := arrayLen(ret)
	if err != nil {
		nerr := domain.NetworkError(domain.StageVerify, addr, EntryVerifyProof, err)
		return domain.VerificationResult{Status: domain.VerificationError, Reason: nerr.Error(), Latency: latency, Err: nerr}
	}
	if n == 0 {
		return domain.VerificationResult{Status: domain.VerificationInvalid, Reason: "verifier returned no public inputs", Latency: latency}
	}
	return domain.VerificationResult{Status: domain.VerificationValid, Latency: latency}
}

// GetVertices reads the polygon a contract enforces.
func (v *OnChainVerifier) GetVertices(ctx context.Context, address string) (domain.Polygon, error) {
	addr, err := felt.Canonical(address)
	if err != nil {
		return nil, domain.InputError(domain.StageFence, fmt.Errorf("contract address: %w", err))
	}

	callCtx, cancel := v.withTimeout(ctx)
	defer cancel()

	ret, err := v.caller.Call(callCtx, addr, EntryGetVertices, nil)
	if err != nil {
		return nil, v.networkError(callCtx, addr, EntryGetVertices, err)
	}
	poly, err := DecodeVertices(ret)
	if err != nil {
		return nil, domain.NetworkError(domain.StageFence, addr, EntryGetVertices, err)
	}
	return poly, nil
}

// ConstructorCalldata encodes a polygon the way the verifier contract's
// constructor and get_vertices lay it out: [n, xs..., n, ys...].
func ConstructorCalldata(poly domain.Polygon) []string {
	out := make([]string, 0, 2*len(poly)+2)
	out = append(out, felt.FromUint64(uint64(len(poly))))
	for _, p := range poly {
		out = append(out, felt.FromInt64(p.X))
	}
	out = append(out, felt.FromUint64(uint64(len(poly))))
	for _, p := range poly {
		out = append(out, felt.FromInt64(p.Y))
	}
	return out
}

// DecodeVertices is the inverse of ConstructorCalldata. Felts above P/2 are
// negative coordinates.
func DecodeVertices(ret []string) (domain.Polygon, error) {
	xs, rest, err := readArray(ret)
	if err != nil {
		return nil, fmt.Errorf("vertices_x: %w", err)
	}
	ys, rest, err := readArray(rest)
	if err != nil {
		return nil, fmt.Errorf("vertices_y: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing felts", domain.ErrMalformedResponse, len(rest))
	}
	if len(xs) != len(ys) {
		return nil, fmt.Errorf("%w: %d xs but %d ys", domain.ErrMalformedResponse, len(xs), len(ys))
	}

	poly := make(domain.Polygon, len(xs))
	for i := range xs {
		x, err := felt.ToInt64(xs[i])
		if err != nil {
			return nil, fmt.Errorf("%w: x[%d]: %v", domain.ErrMalformedResponse, i, err)
		}
		y, err := felt.ToInt64(ys[i])
		if err != nil {
			return nil, fmt.Errorf("%w: y[%d]: %v", domain.ErrMalformedResponse, i, err)
		}
		poly[i] = domain.FixedPoint{X: x, Y: y}
	}
	return poly, nil
}

func readArray(ret []string) (items, rest []string, err error) {
	n, err := arrayLen(ret)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(ret)-1) < n {
		return nil, nil, fmt.Errorf("%w: length %d but %d felts follow", domain.ErrMalformedResponse, n, len(ret)-1)
	}
	return ret[1 : 1+n], ret[1+n:], nil
}

func arrayLen(ret []string) (uint64, error) {
	if len(ret) == 0 {
		return 0, fmt.Errorf("%w: missing array length", domain.ErrMalformedResponse)
	}
	v, err := felt.Parse(ret[0])
	if err != nil || !v.IsUint64() {
		return 0, fmt.Errorf("%w: bad array length %q", domain.ErrMalformedResponse, ret[0])
	}
	return v.Uint64(), nil
}

func (v *OnChainVerifier) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if v.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, v.timeout)
}

// networkError tags err with the call it came from. A deadline becomes
// ErrCallTimeout; errors already carrying a network sentinel keep it.
func (v *OnChainVerifier) networkError(ctx context.Context, address, entryPoint string, err error) error {
	stage := domain.StageVerify
	if entryPoint == EntryGetVertices {
		stage = domain.StageFence
	}
	var pe *domain.PipelineError
	if errors.As(err, &pe) && pe.Category == domain.CategoryNetwork {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %v", domain.ErrCallTimeout, err)
	}
	return domain.NetworkError(stage, address, entryPoint, err)
}
