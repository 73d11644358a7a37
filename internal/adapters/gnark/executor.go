package gnarkadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/frontend"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
)

// Executor solves GeofenceCircuit for a CircuitInput and returns the full
// witness in gnark's binary encoding. It implements ports.CircuitExecutor.
type Executor struct {
	rt *Runtime
	mu sync.Mutex
}

func NewExecutor(rt *Runtime) *Executor {
	return &Executor{rt: rt}
}

// Execute builds the assignment and checks it against the constraint system,
// so a false inside/outside claim fails here with domain.ErrUnsatisfied
// rather than producing an unverifiable proof.
func (e *Executor) Execute(ctx context.Context, program ports.CircuitProgram, input domain.CircuitInput) (domain.Witness, error) {
	if program.Name() != ProgramName {
		return nil, fmt.Errorf("%w: program %q, runtime serves %q", domain.ErrAbiMismatch, program.Name(), ProgramName)
	}
	if len(input.Polygon) != NumVertices {
		return nil, fmt.Errorf("%w: %d vertices, circuit takes %d", domain.ErrAbiMismatch, len(input.Polygon), NumVertices)
	}
	if err := e.rt.Load(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInternalFault, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	w, err := frontend.NewWitness(Assignment(input), ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrAbiMismatch, err)
	}
	if err := e.rt.ccs.IsSolved(w); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnsatisfied, err)
	}
	blob, err := w.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: encode witness: %v", domain.ErrInternalFault, err)
	}
	return blob, nil
}

// Assignment maps a CircuitInput onto the circuit's variables.
func Assignment(input domain.CircuitInput) *GeofenceCircuit {
	var c GeofenceCircuit
	for i, v := range input.Polygon {
		if i == NumVertices {
			break
		}
		c.VerticesX[i] = v.X
		c.VerticesY[i] = v.Y
	}
	c.Inside = 0
	if input.ClaimedInside {
		c.Inside = 1
	}
	c.PointX = input.Point.X
	c.PointY = input.Point.Y
	c.Accuracy = input.AccuracyBound
	return &c
}
