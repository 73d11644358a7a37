package usecases

import (
	"context"
	"errors"
	"fmt"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/pkg/geospatial"
)

// StageRunner wraps one pipeline stage, e.g. to trace or time it. A nil
// runner calls the stage directly.
type StageRunner func(ctx context.Context, stage domain.Stage, fn func(context.Context) error) error

// Encode converts a reading and the claim into circuit input for the
// pipeline's program. Vertex order of poly is kept.
func (p Pipeline) Encode(reading domain.LocationReading, poly domain.Polygon, inside bool) (domain.CircuitInput, error) {
	scale := p.Witness.Program().Scale()
	point, err := geospatial.ToFixedPoint(reading.Point, scale)
	if err != nil {
		return domain.CircuitInput{}, err
	}
	bound, err := geospatial.AccuracyToFixed(reading.Point.Lat, reading.Point.Lon, reading.AccuracyMeters, scale)
	if err != nil {
		return domain.CircuitInput{}, err
	}
	return domain.CircuitInput{
		Point:         point,
		Polygon:       poly,
		AccuracyBound: bound,
		ClaimedInside: inside,
		Scale:         scale,
	}, nil
}

// Prove runs witness, proof, local verification and formatting in order.
// Nothing is returned unless every stage succeeded.
func (p Pipeline) Prove(ctx context.Context, input domain.CircuitInput, run StageRunner) (domain.Proof, domain.FeltArray, error) {
	if run == nil {
		run = func(ctx context.Context, _ domain.Stage, fn func(context.Context) error) error { return fn(ctx) }
	}

	var witness domain.Witness
	err := run(ctx, domain.StageWitness, func(ctx context.Context) error {
		var err error
		witness, err = p.Witness.Build(ctx, input)
		return err
	})
	if err != nil {
		return domain.Proof{}, nil, err
	}

	var proof domain.Proof
	err = run(ctx, domain.StageProve, func(ctx context.Context) error {
		var err error
		proof, err = p.Prover.Generate(ctx, witness)
		if err != nil || p.Local == nil {
			return err
		}
		if err := p.Local.VerifyLocal(ctx, proof); err != nil {
			if !errors.Is(err, domain.ErrLocalVerification) {
				err = fmt.Errorf("%w: %v", domain.ErrLocalVerification, err)
			}
			return asExecutionError(domain.StageProve, err)
		}
		return nil
	})
	if err != nil {
		return domain.Proof{}, nil, err
	}

	var felts domain.FeltArray
	err = run(ctx, domain.StageFormat, func(ctx context.Context) error {
		var err error
		felts, err = FlattenProof(proof)
		return err
	})
	if err != nil {
		return domain.Proof{}, nil, err
	}
	return proof, felts, nil
}
