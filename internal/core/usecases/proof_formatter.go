package usecases

import (
	"fmt"
	"strings"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/pkg/felt"
)

// FlattenProof turns a proof into positional calldata. Named fields are
// emitted in the proof's own declaration order, list values element by
// element; every element becomes canonical lowercase 0x hex below the
// felt252 prime. Anything else fails with a format error.
func FlattenProof(proof domain.Proof) (domain.FeltArray, error) {
	switch proof.Kind() {
	case domain.ProofFieldElement:
		s := proof.Hex()
		if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
			s = "0x" + s
		}
		v, err := felt.Canonical(s)
		if err != nil {
			return nil, domain.FormatError(err)
		}
		return domain.FeltArray{v}, nil

	case domain.ProofArray:
		out := make(domain.FeltArray, 0, len(proof.Items()))
		return appendScalars(out, "", proof.Items())

	case domain.ProofNamedFields:
		var out domain.FeltArray
		var err error
		for _, f := range proof.Fields() {
			if f.Value.IsList() {
				out, err = appendScalars(out, f.Name, f.Value.Items())
			} else {
				out, err = appendScalars(out, f.Name, []string{f.Value.Scalar()})
			}
			if err != nil {
				return nil, err
			}
		}
		return out, nil

	default:
		return nil, domain.FormatError(fmt.Errorf("%w: kind %s", domain.ErrUnsupportedProofShape, proof.Kind()))
	}
}

func appendScalars(out domain.FeltArray, field string, items []string) (domain.FeltArray, error) {
	for i, s := range items {
		v, err := felt.Canonical(s)
		if err != nil {
			if field != "" {
				return nil, domain.FormatError(fmt.Errorf("field %q[%d]: %w", field, i, err))
			}
			return nil, domain.FormatError(fmt.Errorf("element %d: %w", i, err))
		}
		out = append(out, v)
	}
	return out, nil
}
