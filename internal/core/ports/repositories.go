package ports

import (
	"context"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

// GeofenceRepository persists the geofence registry.
type GeofenceRepository interface {
	Upsert(ctx context.Context, fence *domain.Geofence) error
	UpsertBatch(ctx context.Context, fences []domain.Geofence) error
	GetByID(ctx context.Context, id string) (*domain.Geofence, error)
	GetByAddress(ctx context.Context, address string) (*domain.Geofence, error)
	List(ctx context.Context, offset, limit int) ([]domain.Geofence, error)
	Count(ctx context.Context) (int, error)
	FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Geofence, error)
}

// AttemptRepository persists the proof attempt audit log. Implementations
// must never store user coordinates.
type AttemptRepository interface {
	Create(ctx context.Context, attempt *domain.ProofAttempt) error
	Update(ctx context.Context, attempt *domain.ProofAttempt) error
	GetByID(ctx context.Context, id string) (*domain.ProofAttempt, error)
	ListByGeofence(ctx context.Context, geofenceID string, limit int) ([]domain.ProofAttempt, error)
}
