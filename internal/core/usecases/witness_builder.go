package usecases

import (
	"context"
	"errors"
	"fmt"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
)

// MaxAccuracyBound is the largest accuracy radius, in coordinate units, the
// circuit range check admits (24 bits, about 16.7 degrees at scale 10^6).
const MaxAccuracyBound int64 = 1<<24 - 1

// WitnessBuilder validates a CircuitInput and hands it to the CircuitExecutor.
type WitnessBuilder struct {
	executor ports.CircuitExecutor
	program  ports.CircuitProgram
}

// NewWitnessBuilder creates a WitnessBuilder bound to one compiled program.
func NewWitnessBuilder(executor ports.CircuitExecutor, program ports.CircuitProgram) *WitnessBuilder {
	return &WitnessBuilder{executor: executor, program: program}
}

// Program returns the circuit program the builder targets.
func (b *WitnessBuilder) Program() ports.CircuitProgram { return b.program }

// Build checks the input against the program and executes it. No executor
// call is made for input that fails validation.
func (b *WitnessBuilder) Build(ctx context.Context, input domain.CircuitInput) (domain.Witness, error) {
	if err := ValidateCircuitInput(input, b.program); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, contextError(domain.StageWitness, err)
	}

	w, err := b.executor.Execute(ctx, b.program, input)
	if err != nil {
		return nil, asExecutionError(domain.StageWitness, err)
	}
	if len(w) == 0 {
		return nil, domain.ExecutionError(domain.StageWitness,
			fmt.Errorf("%w: executor returned an empty witness", domain.ErrInternalFault))
	}
	return w, nil
}

// ValidateCircuitInput enforces cardinality, scale and axis convention,
// coordinate range, non-degenerate edges and the accuracy bound.
func ValidateCircuitInput(input domain.CircuitInput, program ports.CircuitProgram) error {
	if err := ValidatePolygon(input.Polygon, program); err != nil {
		return err
	}
	if input.Scale != program.Scale() {
		return domain.InputError(domain.StageWitness,
			fmt.Errorf("%w: input scale %d, circuit scale %d", domain.ErrScaleMismatch, input.Scale, program.Scale()))
	}
	if err := checkRange(input.Point, program.Scale()); err != nil {
		return domain.InputError(domain.StageWitness, fmt.Errorf("point: %w", err))
	}
	if input.AccuracyBound < 0 {
		return domain.InputError(domain.StageWitness,
			fmt.Errorf("%w: %d", domain.ErrNegativeBound, input.AccuracyBound))
	}
	if input.AccuracyBound > MaxAccuracyBound {
		return domain.InputError(domain.StageWitness,
			fmt.Errorf("%w: accuracy bound %d exceeds %d", domain.ErrOutOfRange, input.AccuracyBound, MaxAccuracyBound))
	}
	return nil
}

// ValidatePolygon checks a polygon on its own, as used both for witness
// input and for registering a geofence.
func ValidatePolygon(poly domain.Polygon, program ports.CircuitProgram) error {
	if n := program.VertexCount(); len(poly) != n {
		return domain.InputError(domain.StageWitness,
			fmt.Errorf("%w: got %d vertices, circuit %q expects %d", domain.ErrCardinality, len(poly), program.Name(), n))
	}
	for i, v := range poly {
		if err := checkRange(v, program.Scale()); err != nil {
			return domain.InputError(domain.StageWitness, fmt.Errorf("vertex %d: %w", i, err))
		}
		if next := poly[(i+1)%len(poly)]; next == v {
			return domain.InputError(domain.StageWitness,
				fmt.Errorf("%w: vertices %d and %d coincide", domain.ErrDegenerateEdge, i, (i+1)%len(poly)))
		}
	}
	return nil
}

// checkRange rejects points outside the circuit convention (x = lon, y = lat).
// A swapped axis shows up here as |y| > 90 degrees for most of the globe.
func checkRange(p domain.FixedPoint, scale int64) error {
	if p.X < -180*scale || p.X > 180*scale {
		return fmt.Errorf("%w: x=%d outside ±180°", domain.ErrOutOfRange, p.X)
	}
	if p.Y < -90*scale || p.Y > 90*scale {
		return fmt.Errorf("%w: y=%d outside ±90°", domain.ErrOutOfRange, p.Y)
	}
	return nil
}

// asExecutionError keeps pipeline errors as they are and classifies anything
// else as an execution fault of the given stage.
func asExecutionError(stage domain.Stage, err error) error {
	var pe *domain.PipelineError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return contextError(stage, err)
	}
	return domain.ExecutionError(stage, err)
}

// contextError leaves cancellation untouched: the caller walked away. A
// deadline is the stage running out of time and counts as resource exhaustion.
func contextError(stage domain.Stage, err error) error {
	if !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.ExecutionError(stage, fmt.Errorf("%w: deadline reached in %s stage: %w", domain.ErrResourceExhausted, stage, err))
}
