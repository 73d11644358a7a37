package geospatial

import (
	"fmt"
	"math"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

// Scale is the fixed-point multiplier shared by the circuit and the contracts.
// At 10^6 one unit is roughly 0.11 m at the equator.
const Scale int64 = 1_000_000

const (
	maxLat = 90.0
	maxLon = 180.0
)

// ToFixedPoint converts a coordinate to the circuit convention
// (x = longitude*scale, y = latitude*scale), rounding half away from zero.
func ToFixedPoint(p domain.GeoPoint, scale int64) (domain.FixedPoint, error) {
	if scale <= 0 {
		return domain.FixedPoint{}, domain.InputError(domain.StageCodec, fmt.Errorf("%w: scale %d", domain.ErrScaleMismatch, scale))
	}
	if err := checkFinite(p.Lat, p.Lon); err != nil {
		return domain.FixedPoint{}, err
	}
	if math.Abs(p.Lat) > maxLat || math.Abs(p.Lon) > maxLon {
		return domain.FixedPoint{}, domain.InputError(domain.StageCodec,
			fmt.Errorf("%w: lat=%.6f lon=%.6f", domain.ErrOutOfRange, p.Lat, p.Lon))
	}
	s := float64(scale)
	return domain.FixedPoint{
		X: int64(math.Round(p.Lon * s)),
		Y: int64(math.Round(p.Lat * s)),
	}, nil
}

// FromFixedPoint is the inverse of ToFixedPoint, exact up to 1/scale.
func FromFixedPoint(fp domain.FixedPoint, scale int64) domain.GeoPoint {
	s := float64(scale)
	return domain.GeoPoint{Lat: float64(fp.Y) / s, Lon: float64(fp.X) / s}
}

// PolygonToFixed converts every vertex, keeping order.
func PolygonToFixed(vertices []domain.GeoPoint, scale int64) (domain.Polygon, error) {
	out := make(domain.Polygon, 0, len(vertices))
	for i, v := range vertices {
		fp, err := ToFixedPoint(v, scale)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
		out = append(out, fp)
	}
	return out, nil
}

// PolygonFromFixed converts a fixed-point polygon back to degrees.
func PolygonFromFixed(p domain.Polygon, scale int64) []domain.GeoPoint {
	out := make([]domain.GeoPoint, len(p))
	for i, v := range p {
		out[i] = FromFixedPoint(v, scale)
	}
	return out
}

// AccuracyToFixed converts a horizontal accuracy radius in meters at the given
// position into coordinate units. It takes the larger of the latitude and
// longitude extents of the radius and rounds up, so the bound never shrinks.
func AccuracyToFixed(lat, lon, meters float64, scale int64) (int64, error) {
	if err := checkFinite(lat, lon, meters); err != nil {
		return 0, err
	}
	if meters < 0 {
		return 0, domain.InputError(domain.StageCodec, fmt.Errorf("%w: %.2f m", domain.ErrNegativeBound, meters))
	}
	if meters == 0 {
		return 0, nil
	}
	dLat, dLon := DegreeSpan(lat, meters)
	delta := math.Max(dLat, math.Min(dLon, 360))
	return int64(math.Ceil(delta * float64(scale))), nil
}

func checkFinite(vals ...float64) error {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.InputError(domain.StageCodec, fmt.Errorf("%w: %v", domain.ErrNonFinite, v))
		}
	}
	return nil
}
