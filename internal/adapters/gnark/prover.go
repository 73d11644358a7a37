package gnarkadapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	"github.com/consensys/gnark/backend/groth16"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/consensys/gnark/backend/witness"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

// Prover is the Groth16 proving backend. It implements ports.ProvingBackend
// and ports.LocalVerifier.
type Prover struct {
	rt *Runtime
}

func NewProver(rt *Runtime) *Prover {
	return &Prover{rt: rt}
}

// Prove decodes a witness produced by Executor and proves it. The proof is
// returned as named fields a, b, c and public_inputs.
func (p *Prover) Prove(ctx context.Context, wit domain.Witness) (domain.Proof, error) {
	if err := p.rt.Load(); err != nil {
		return domain.Proof{}, fmt.Errorf("%w: %v", domain.ErrInternalFault, err)
	}

	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return domain.Proof{}, fmt.Errorf("%w: %v", domain.ErrInternalFault, err)
	}
	if err := w.UnmarshalBinary(wit); err != nil {
		return domain.Proof{}, fmt.Errorf("%w: %v", domain.ErrMalformedWitness, err)
	}
	if err := ctx.Err(); err != nil {
		return domain.Proof{}, err
	}

	start := time.Now()
	proof, err := groth16.Prove(p.rt.ccs, p.rt.pk, w)
	if err != nil {
		return domain.Proof{}, fmt.Errorf("%w: %v", domain.ErrMalformedWitness, err)
	}
	// groth16.Prove cannot be interrupted; a deadline that passed meanwhile
	// still fails the attempt
	if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
		return domain.Proof{}, fmt.Errorf("%w: proving took %s: %w", domain.ErrResourceExhausted, time.Since(start), err)
	}
	slog.Debug("groth16 proof generated", "duration", time.Since(start))

	bnProof, ok := proof.(*groth16_bn254.Proof)
	if !ok {
		return domain.Proof{}, fmt.Errorf("%w: unexpected proof type %T", domain.ErrInternalFault, proof)
	}
	pub, err := w.Public()
	if err != nil {
		return domain.Proof{}, fmt.Errorf("%w: %v", domain.ErrMalformedWitness, err)
	}
	vec, ok := pub.Vector().(fr.Vector)
	if !ok {
		return domain.Proof{}, fmt.Errorf("%w: unexpected witness vector %T", domain.ErrInternalFault, pub.Vector())
	}
	return encodeProof(bnProof, vec)
}

// VerifyLocal checks a named-field proof against the verifying key, using the
// public inputs carried in the proof itself.
func (p *Prover) VerifyLocal(ctx context.Context, proof domain.Proof) error {
	if err := p.rt.Load(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternalFault, err)
	}
	bnProof, public, err := decodeProof(proof)
	if err != nil {
		return err
	}
	if len(public) != p.rt.ccs.GetNbPublicVariables()-1 {
		return fmt.Errorf("%w: %d public inputs", domain.ErrLocalVerification, len(public))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	w, err := witness.New(ecc.BN254.ScalarField())
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInternalFault, err)
	}
	values := make(chan any, len(public))
	for i := range public {
		values <- public[i].BigInt(new(big.Int))
	}
	close(values)
	if err := w.Fill(len(public), 0, values); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLocalVerification, err)
	}

	if err := groth16.Verify(bnProof, p.rt.vk, w); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrLocalVerification, err)
	}
	return nil
}

// PublicInputs decodes the public inputs of a named-field proof: the four x
// vertices, the four y vertices, then the inside flag.
func PublicInputs(proof domain.Proof) ([]*big.Int, error) {
	_, public, err := decodeProof(proof)
	if err != nil {
		return nil, err
	}
	out := make([]*big.Int, len(public))
	for i := range public {
		out[i] = public[i].BigInt(new(big.Int))
	}
	return out, nil
}
