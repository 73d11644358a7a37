package domain

import (
	"errors"
	"fmt"
)

// Category classifies a pipeline failure so callers can decide retry vs abort
// without inspecting internals.
type Category string

const (
	CategoryInput     Category = "input"     // malformed coordinates, wrong cardinality; never retried
	CategoryExecution Category = "execution" // circuit executor or proving backend fault
	CategoryFormat    Category = "format"    // proof shape drifted from what the formatter accepts
	CategoryNetwork   Category = "network"   // RPC, wallet or transaction failure; retryable
)

// Stage names a pipeline step.
type Stage string

const (
	StageCodec   Stage = "codec"
	StageWitness Stage = "witness"
	StageProve   Stage = "prove"
	StageFormat  Stage = "format"
	StageVerify  Stage = "verify"
	StageFence   Stage = "fence"
)

// Input errors.
var (
	ErrNonFinite       = errors.New("coordinate is NaN or infinite")
	ErrOutOfRange      = errors.New("coordinate out of range")
	ErrCardinality     = errors.New("polygon cardinality mismatch")
	ErrScaleMismatch   = errors.New("fixed-point scale does not match circuit")
	ErrDegenerateEdge  = errors.New("polygon has a zero-length edge")
	ErrNegativeBound   = errors.New("accuracy bound must not be negative")
	ErrPolygonMismatch = errors.New("polygon does not match contract vertices")
	ErrEmptyWitness    = errors.New("witness is empty")
)

// Execution errors reported by the external capabilities.
var (
	ErrAbiMismatch       = errors.New("circuit input does not match program ABI")
	ErrInternalFault     = errors.New("circuit executor internal fault")
	ErrUnsatisfied       = errors.New("circuit constraints not satisfied")
	ErrMalformedWitness  = errors.New("proving backend rejected witness")
	ErrResourceExhausted = errors.New("proving backend exhausted resources")
	ErrLocalVerification = errors.New("proof failed local verification")
)

// Format errors.
var (
	ErrUnsupportedProofShape = errors.New("unsupported proof shape")
	ErrFeltOverflow          = errors.New("value does not fit in a felt252")
)

// Network errors.
var (
	ErrWalletNotConnected  = errors.New("wallet not connected")
	ErrRPCUnreachable      = errors.New("rpc endpoint unreachable")
	ErrTransactionReverted = errors.New("transaction reverted")
	ErrCallTimeout         = errors.New("contract call timed out")
	ErrMalformedResponse   = errors.New("malformed contract response")
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// PipelineError is the single error type surfaced by the proof pipeline.
type PipelineError struct {
	Category Category
	Stage    Stage
	Op       string // e.g. "verify_proof@0x04ab..."
	Err      error
}

func (e *PipelineError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Stage, e.Category, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Category, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// NewError wraps err with a category and stage.
func NewError(category Category, stage Stage, err error) *PipelineError {
	return &PipelineError{Category: category, Stage: stage, Err: err}
}

// InputError builds an input-category error.
func InputError(stage Stage, err error) *PipelineError {
	return NewError(CategoryInput, stage, err)
}

// ExecutionError builds an execution-category error.
func ExecutionError(stage Stage, err error) *PipelineError {
	return NewError(CategoryExecution, stage, err)
}

// FormatError builds a format-category error.
func FormatError(err error) *PipelineError {
	return NewError(CategoryFormat, StageFormat, err)
}

// NetworkError builds a network-category error tagged with the contract call.
func NetworkError(stage Stage, address, entryPoint string, err error) *PipelineError {
	return &PipelineError{
		Category: CategoryNetwork,
		Stage:    stage,
		Op:       entryPoint + "@" + address,
		Err:      err,
	}
}

// CategoryOf returns the category of err, or "" when err is not a pipeline error.
func CategoryOf(err error) Category {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// StageOf returns the stage of err, or "" when err is not a pipeline error.
func StageOf(err error) Stage {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return ""
}

// Retryable reports whether a caller may retry the attempt that produced err.
func Retryable(err error) bool {
	return CategoryOf(err) == CategoryNetwork
}
