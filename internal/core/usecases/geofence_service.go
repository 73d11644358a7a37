package usecases

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/core/ports"
	"github.com/samirrijal/geoproof/internal/pkg/felt"
	"github.com/samirrijal/geoproof/internal/pkg/geospatial"
	"github.com/samirrijal/geoproof/internal/pkg/metrics"
)

// GeofenceService manages the geofence registry and its on-chain counterpart.
type GeofenceService struct {
	fences   ports.GeofenceRepository
	verifier *OnChainVerifier
	cache    ports.CacheService
	program  ports.CircuitProgram
}

// NewGeofenceService creates a new GeofenceService.
func NewGeofenceService(fences ports.GeofenceRepository, verifier *OnChainVerifier, cache ports.CacheService, program ports.CircuitProgram) *GeofenceService {
	return &GeofenceService{fences: fences, verifier: verifier, cache: cache, program: program}
}

// Register converts vertices (degrees) to the circuit convention, checks
// them against the circuit and stores the fence.
func (s *GeofenceService) Register(ctx context.Context, name, contractAddress string, vertices []domain.GeoPoint) (*domain.Geofence, error) {
	fence, err := s.Prepare(name, contractAddress, vertices)
	if err != nil {
		return nil, err
	}
	if err := s.fences.Upsert(ctx, fence); err != nil {
		return nil, fmt.Errorf("store geofence: %w", err)
	}
	s.invalidate(ctx, fence)
	return fence, nil
}

// Prepare builds a fence from a name, contract address and vertices in
// degrees without storing it.
func (s *GeofenceService) Prepare(name, contractAddress string, vertices []domain.GeoPoint) (*domain.Geofence, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.InputError(domain.StageFence, fmt.Errorf("geofence name must not be empty"))
	}
	addr, err := felt.Canonical(contractAddress)
	if err != nil {
		return nil, domain.InputError(domain.StageFence, fmt.Errorf("contract address: %w", err))
	}

	poly, err := geospatial.PolygonToFixed(vertices, s.program.Scale())
	if err != nil {
		return nil, err
	}
	if err := ValidatePolygon(poly, s.program); err != nil {
		return nil, err
	}

	return &domain.Geofence{
		ID:              uuid.NewString(),
		Name:            name,
		ContractAddress: addr,
		Vertices:        poly,
		Scale:           s.program.Scale(),
		CreatedAt:       time.Now().UTC(),
	}, nil
}

// RegisterBatch stores prepared fences in one round trip.
func (s *GeofenceService) RegisterBatch(ctx context.Context, fences []domain.Geofence) error {
	if len(fences) == 0 {
		return nil
	}
	if err := s.fences.UpsertBatch(ctx, fences); err != nil {
		return fmt.Errorf("store geofences: %w", err)
	}
	for i := range fences {
		s.invalidate(ctx, &fences[i])
	}
	return nil
}

// List returns a page of registered fences, newest first, and the total count.
func (s *GeofenceService) List(ctx context.Context, offset, limit int) ([]domain.Geofence, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	fences, err := s.fences.List(ctx, offset, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.fences.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return fences, total, nil
}

// GetByID returns a single fence.
func (s *GeofenceService) GetByID(ctx context.Context, id string) (*domain.Geofence, error) {
	return s.cachedFence(ctx, "fences:id:"+id, func() (*domain.Geofence, error) {
		return s.fences.GetByID(ctx, id)
	})
}

// GetByAddress returns the fence enforced by a contract.
func (s *GeofenceService) GetByAddress(ctx context.Context, address string) (*domain.Geofence, error) {
	addr, err := felt.Canonical(address)
	if err != nil {
		return nil, domain.InputError(domain.StageFence, fmt.Errorf("contract address: %w", err))
	}
	return s.cachedFence(ctx, "fences:addr:"+addr, func() (*domain.Geofence, error) {
		return s.fences.GetByAddress(ctx, addr)
	})
}

// FindNearby returns fences whose centroid lies within radiusMeters.
func (s *GeofenceService) FindNearby(ctx context.Context, lat, lon, radiusMeters float64, limit int) ([]domain.Geofence, error) {
	if _, err := geospatial.ToFixedPoint(domain.GeoPoint{Lat: lat, Lon: lon}, s.program.Scale()); err != nil {
		return nil, err
	}
	if radiusMeters <= 0 || radiusMeters > 50_000 {
		radiusMeters = 5_000
	}
	if limit <= 0 || limit > 50 {
		limit = 50
	}

	fences, err := s.fences.FindNearby(ctx, lat, lon, radiusMeters, limit)
	if err != nil {
		return nil, err
	}

	// PostGIS filters on the bounding geometry; trim to the centroid radius.
	out := fences[:0]
	for _, f := range fences {
		c := f.Center()
		if geospatial.Haversine(lat, lon, c.Lat, c.Lon) <= radiusMeters {
			out = append(out, f)
		}
	}
	return out, nil
}

// OnChainVertices reads get_vertices for a contract, cached for 5 minutes.
func (s *GeofenceService) OnChainVertices(ctx context.Context, address string) (domain.Polygon, error) {
	addr, err := felt.Canonical(address)
	if err != nil {
		return nil, domain.InputError(domain.StageFence, fmt.Errorf("contract address: %w", err))
	}

	cacheKey := "vertices:" + addr
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, cacheKey); err == nil {
			var poly domain.Polygon
			if err := json.Unmarshal(data, &poly); err == nil {
				metrics.CacheHits.WithLabelValues("vertices").Inc()
				return poly, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("vertices").Inc()
	}

	poly, err := s.verifier.GetVertices(ctx, addr)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(poly); err == nil {
			_ = s.cache.Set(ctx, cacheKey, data, 300)
		}
	}
	return poly, nil
}

// RefreshVertices drops the cached on-chain polygon and reads it again.
func (s *GeofenceService) RefreshVertices(ctx context.Context, address string) (domain.Polygon, error) {
	if s.cache != nil {
		if addr, err := felt.Canonical(address); err == nil {
			_ = s.cache.Delete(ctx, "vertices:"+addr)
		}
	}
	return s.OnChainVertices(ctx, address)
}

// CheckDrift compares the registry polygon with the contract's. It returns
// nil when they match.
func (s *GeofenceService) CheckDrift(ctx context.Context, fence *domain.Geofence) (*domain.FenceDrift, error) {
	onChain, err := s.RefreshVertices(ctx, fence.ContractAddress)
	if err != nil {
		return nil, err
	}
	if onChain.Equal(fence.Vertices) {
		return nil, nil
	}
	metrics.FenceDrift.Inc()
	return &domain.FenceDrift{
		GeofenceID:      fence.ID,
		ContractAddress: fence.ContractAddress,
		Registered:      fence.Vertices,
		OnChain:         onChain,
		DetectedAt:      time.Now().UTC(),
	}, nil
}

func (s *GeofenceService) cachedFence(ctx context.Context, key string, load func() (*domain.Geofence, error)) (*domain.Geofence, error) {
	if s.cache != nil {
		if data, err := s.cache.Get(ctx, key); err == nil {
			var fence domain.Geofence
			if err := json.Unmarshal(data, &fence); err == nil {
				metrics.CacheHits.WithLabelValues("fence").Inc()
				return &fence, nil
			}
		}
		metrics.CacheMisses.WithLabelValues("fence").Inc()
	}

	fence, err := load()
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load geofence: %w", err)
	}

	if s.cache != nil {
		if data, err := json.Marshal(fence); err == nil {
			_ = s.cache.Set(ctx, key, data, 600) // 10 min
		}
	}
	return fence, nil
}

func (s *GeofenceService) invalidate(ctx context.Context, fence *domain.Geofence) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Delete(ctx, "fences:id:"+fence.ID)
	_ = s.cache.Delete(ctx, "fences:addr:"+fence.ContractAddress)
	_ = s.cache.Delete(ctx, "vertices:"+fence.ContractAddress)
}
