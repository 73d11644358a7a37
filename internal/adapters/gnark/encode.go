package gnarkadapter

import (
	"fmt"

	"github.com/consensys/gnark-crypto/ecc/bn254"
	"github.com/consensys/gnark-crypto/ecc/bn254/fp"
	"github.com/consensys/gnark-crypto/ecc/bn254/fr"
	groth16_bn254 "github.com/consensys/gnark/backend/groth16/bn254"
	"github.com/holiman/uint256"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/pkg/felt"
)

// Proof field names, in the order the verifier contract reads them.
const (
	FieldA            = "a"
	FieldB            = "b"
	FieldC            = "c"
	FieldPublicInputs = "public_inputs"
)

var limbMask = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

// splitLimbs writes a 256-bit big-endian value as (low, high) 128-bit limbs,
// both of which fit in a felt252.
func splitLimbs(b [32]byte) []string {
	v := new(uint256.Int).SetBytes32(b[:])
	lo := new(uint256.Int).And(v, limbMask)
	hi := new(uint256.Int).Rsh(v, 128)
	return []string{lo.Hex(), hi.Hex()}
}

// joinLimbs is the inverse of splitLimbs.
func joinLimbs(lo, hi string) ([32]byte, error) {
	l, err := felt.Parse(lo)
	if err != nil {
		return [32]byte{}, fmt.Errorf("low limb: %w", err)
	}
	h, err := felt.Parse(hi)
	if err != nil {
		return [32]byte{}, fmt.Errorf("high limb: %w", err)
	}
	if l.Gt(limbMask) || h.Gt(limbMask) {
		return [32]byte{}, fmt.Errorf("limb wider than 128 bits")
	}
	return new(uint256.Int).Or(new(uint256.Int).Lsh(h, 128), l).Bytes32(), nil
}

func g1Limbs(p bn254.G1Affine) []string {
	return append(splitLimbs(p.X.Bytes()), splitLimbs(p.Y.Bytes())...)
}

func g2Limbs(p bn254.G2Affine) []string {
	out := make([]string, 0, 8)
	for _, e := range []fp.Element{p.X.A0, p.X.A1, p.Y.A0, p.Y.A1} {
		out = append(out, splitLimbs(e.Bytes())...)
	}
	return out
}

// encodeProof renders a BN254 Groth16 proof and its public inputs as named
// fields of 128-bit limbs.
func encodeProof(p *groth16_bn254.Proof, public fr.Vector) (domain.Proof, error) {
	if len(p.Commitments) > 0 {
		return domain.Proof{}, fmt.Errorf("%w: proof carries %d commitments", domain.ErrInternalFault, len(p.Commitments))
	}
	inputs := make([]string, 0, 2*len(public))
	for _, e := range public {
		inputs = append(inputs, splitLimbs(e.Bytes())...)
	}
	return domain.NamedFieldsProof(
		domain.ProofField{Name: FieldA, Value: domain.ListValue(g1Limbs(p.Ar)...)},
		domain.ProofField{Name: FieldB, Value: domain.ListValue(g2Limbs(p.Bs)...)},
		domain.ProofField{Name: FieldC, Value: domain.ListValue(g1Limbs(p.Krs)...)},
		domain.ProofField{Name: FieldPublicInputs, Value: domain.ListValue(inputs...)},
	), nil
}

// decodeProof parses the named-field form back into a gnark proof and the
// public input vector.
func decodeProof(proof domain.Proof) (*groth16_bn254.Proof, fr.Vector, error) {
	if proof.Kind() != domain.ProofNamedFields {
		return nil, nil, fmt.Errorf("%w: expected named fields, got %s", domain.ErrUnsupportedProofShape, proof.Kind())
	}

	elems := func(name string, want int) ([]fp.Element, error) {
		v, ok := proof.Field(name)
		if !ok || !v.IsList() {
			return nil, fmt.Errorf("%w: missing list field %q", domain.ErrUnsupportedProofShape, name)
		}
		items := v.Items()
		if len(items) != 2*want {
			return nil, fmt.Errorf("%w: field %q has %d limbs, want %d", domain.ErrUnsupportedProofShape, name, len(items), 2*want)
		}
		out := make([]fp.Element, want)
		for i := range out {
			b, err := joinLimbs(items[2*i], items[2*i+1])
			if err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", domain.ErrUnsupportedProofShape, name, err)
			}
			if err := out[i].SetBytesCanonical(b[:]); err != nil {
				return nil, fmt.Errorf("%w: field %q: %v", domain.ErrUnsupportedProofShape, name, err)
			}
		}
		return out, nil
	}

	a, err := elems(FieldA, 2)
	if err != nil {
		return nil, nil, err
	}
	b, err := elems(FieldB, 4)
	if err != nil {
		return nil, nil, err
	}
	c, err := elems(FieldC, 2)
	if err != nil {
		return nil, nil, err
	}

	var p groth16_bn254.Proof
	p.Ar.X, p.Ar.Y = a[0], a[1]
	p.Bs.X.A0, p.Bs.X.A1, p.Bs.Y.A0, p.Bs.Y.A1 = b[0], b[1], b[2], b[3]
	p.Krs.X, p.Krs.Y = c[0], c[1]

	v, ok := proof.Field(FieldPublicInputs)
	if !ok || !v.IsList() || len(v.Items())%2 != 0 {
		return nil, nil, fmt.Errorf("%w: malformed %q", domain.ErrUnsupportedProofShape, FieldPublicInputs)
	}
	items := v.Items()
	public := make(fr.Vector, len(items)/2)
	for i := range public {
		bs, err := joinLimbs(items[2*i], items[2*i+1])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: public input %d: %v", domain.ErrUnsupportedProofShape, i, err)
		}
		if err := public[i].SetBytesCanonical(bs[:]); err != nil {
			return nil, nil, fmt.Errorf("%w: public input %d: %v", domain.ErrUnsupportedProofShape, i, err)
		}
	}
	return &p, public, nil
}
