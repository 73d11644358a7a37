package domain

import (
	"time"
)

// Geofence is a registered polygon and the verifier contract that enforces it.
type Geofence struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	ContractAddress string    `json:"contract_address"`
	Vertices        Polygon   `json:"vertices"`
	Scale           int64     `json:"scale"`
	CreatedAt       time.Time `json:"created_at"`
}

// Center returns the vertex centroid in degrees, used for proximity lookups.
func (g *Geofence) Center() GeoPoint {
	if len(g.Vertices) == 0 || g.Scale == 0 {
		return GeoPoint{}
	}
	var sx, sy float64
	for _, v := range g.Vertices {
		sx += float64(v.X)
		sy += float64(v.Y)
	}
	n := float64(len(g.Vertices)) * float64(g.Scale)
	return GeoPoint{Lat: sy / n, Lon: sx / n}
}

// AttemptStatus is the terminal state of a proof attempt.
type AttemptStatus string

const (
	AttemptPending  AttemptStatus = "pending"
	AttemptProved   AttemptStatus = "proved"
	AttemptVerified AttemptStatus = "verified"
	AttemptRejected AttemptStatus = "rejected"
	AttemptFailed   AttemptStatus = "failed"
)

// ProofAttempt is the audit record for one pipeline run. It never stores the
// user's coordinates.
type ProofAttempt struct {
	ID              string             `json:"id"`
	GeofenceID      string             `json:"geofence_id"`
	ContractAddress string             `json:"contract_address"`
	Status          AttemptStatus      `json:"status"`
	FailedStage     Stage              `json:"failed_stage,omitempty"`
	Category        Category           `json:"category,omitempty"`
	Error           string             `json:"error,omitempty"`
	FeltCount       int                `json:"felt_count"`
	Verification    VerificationStatus `json:"verification,omitempty"`
	ProveDuration   time.Duration      `json:"prove_duration"`
	VerifyDuration  time.Duration      `json:"verify_duration"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// ProofEventType names the events published while attempts progress.
type ProofEventType string

const (
	EventAttemptStarted ProofEventType = "attempt.started"
	EventProofGenerated ProofEventType = "proof.generated"
	EventProofVerified  ProofEventType = "proof.verified"
	EventAttemptFailed  ProofEventType = "attempt.failed"
)

// ProofEvent is broadcast to subscribers (websocket clients, workers).
type ProofEvent struct {
	Type         ProofEventType     `json:"type"`
	AttemptID    string             `json:"attempt_id"`
	GeofenceID   string             `json:"geofence_id"`
	Stage        Stage              `json:"stage,omitempty"`
	Category     Category           `json:"category,omitempty"`
	Verification VerificationStatus `json:"verification,omitempty"`
	Message      string             `json:"message,omitempty"`
	Time         time.Time          `json:"time"`
}

// FenceDrift is raised when a contract's on-chain vertices no longer match the registry.
type FenceDrift struct {
	GeofenceID      string    `json:"geofence_id"`
	ContractAddress string    `json:"contract_address"`
	Registered      Polygon   `json:"registered"`
	OnChain         Polygon   `json:"on_chain"`
	DetectedAt      time.Time `json:"detected_at"`
}

// ProofRequest asks for a proof that the reading lies inside a geofence.
type ProofRequest struct {
	AttemptID   string          `json:"attempt_id,omitempty"`
	GeofenceID  string          `json:"geofence_id"`
	Reading     LocationReading `json:"reading"`
	ClaimInside bool            `json:"claim_inside"`
	Submit      bool            `json:"submit"` // also verify on-chain
}

// ProofResult is what a successful attempt hands back to the caller.
type ProofResult struct {
	AttemptID       string              `json:"attempt_id"`
	GeofenceID      string              `json:"geofence_id"`
	ContractAddress string              `json:"contract_address"`
	Proof           Proof               `json:"proof"`
	Felts           FeltArray           `json:"felts"`
	Verification    *VerificationResult `json:"verification,omitempty"`
	ProveDuration   time.Duration       `json:"prove_duration"`
}
