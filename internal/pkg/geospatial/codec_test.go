package geospatial_test

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/samirrijal/geoproof/internal/core/domain"
	"github.com/samirrijal/geoproof/internal/pkg/geospatial"
)

func TestToFixedPoint_RoundsHalfAwayFromZero(t *testing.T) {
	fp, err := geospatial.ToFixedPoint(domain.GeoPoint{Lat: 2.5, Lon: -2.5}, 1)
	require.NoError(t, err)
	require.Equal(t, int64(3), fp.Y)
	require.Equal(t, int64(-3), fp.X)

	fp, err = geospatial.ToFixedPoint(domain.GeoPoint{Lat: 40.7128, Lon: -74.006}, geospatial.Scale)
	require.NoError(t, err)
	require.Equal(t, domain.FixedPoint{X: -74006000, Y: 40712800}, fp)
}

func TestToFixedPoint_RejectsNonFinite(t *testing.T) {
	cases := []domain.GeoPoint{
		{Lat: math.NaN(), Lon: 0},
		{Lat: 0, Lon: math.Inf(1)},
		{Lat: math.Inf(-1), Lon: 0},
	}
	for _, c := range cases {
		_, err := geospatial.ToFixedPoint(c, geospatial.Scale)
		require.Error(t, err)
		require.True(t, errors.Is(err, domain.ErrNonFinite))
		require.Equal(t, domain.CategoryInput, domain.CategoryOf(err))
	}
}

func TestToFixedPoint_RejectsOutOfRange(t *testing.T) {
	_, err := geospatial.ToFixedPoint(domain.GeoPoint{Lat: 91, Lon: 0}, geospatial.Scale)
	require.ErrorIs(t, err, domain.ErrOutOfRange)

	_, err = geospatial.ToFixedPoint(domain.GeoPoint{Lat: 0, Lon: -180.5}, geospatial.Scale)
	require.ErrorIs(t, err, domain.ErrOutOfRange)
}

func TestFromFixedPoint_NYC(t *testing.T) {
	got := geospatial.FromFixedPoint(domain.FixedPoint{X: -74006000, Y: 40712800}, geospatial.Scale)
	require.Equal(t, -74.006, got.Lon)
	require.Equal(t, 40.7128, got.Lat)
}

func TestRoundTripWithinQuantization(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	bound := 0.5/float64(geospatial.Scale) + 1e-12

	for i := 0; i < 10000; i++ {
		p := domain.GeoPoint{
			Lat: rng.Float64()*180 - 90,
			Lon: rng.Float64()*360 - 180,
		}
		fp, err := geospatial.ToFixedPoint(p, geospatial.Scale)
		require.NoError(t, err)
		back := geospatial.FromFixedPoint(fp, geospatial.Scale)
		require.LessOrEqual(t, math.Abs(back.Lat-p.Lat), bound, "lat %v", p.Lat)
		require.LessOrEqual(t, math.Abs(back.Lon-p.Lon), bound, "lon %v", p.Lon)
	}
}

func TestPolygonToFixed_PreservesOrder(t *testing.T) {
	verts := []domain.GeoPoint{
		{Lat: 30.05, Lon: 60.05},
		{Lat: 30.55, Lon: 60.09},
		{Lat: 30.65, Lon: 59.80},
		{Lat: 30.05, Lon: 59.83},
	}
	poly, err := geospatial.PolygonToFixed(verts, geospatial.Scale)
	require.NoError(t, err)
	require.Equal(t, domain.Polygon{
		{X: 60050000, Y: 30050000},
		{X: 60090000, Y: 30550000},
		{X: 59800000, Y: 30650000},
		{X: 59830000, Y: 30050000},
	}, poly)
	require.Equal(t, verts, geospatial.PolygonFromFixed(poly, geospatial.Scale))

	verts[2].Lat = math.NaN()
	_, err = geospatial.PolygonToFixed(verts, geospatial.Scale)
	require.ErrorIs(t, err, domain.ErrNonFinite)
}

func TestAccuracyToFixed(t *testing.T) {
	units, err := geospatial.AccuracyToFixed(0, 0, 0, geospatial.Scale)
	require.NoError(t, err)
	require.Zero(t, units)

	// ~111 m per 0.001 degree at the equator
	units, err = geospatial.AccuracyToFixed(0, 0, 111.32, geospatial.Scale)
	require.NoError(t, err)
	require.InDelta(t, 1000, units, 1)

	// longitude degrees shrink away from the equator, so the bound grows
	far, err := geospatial.AccuracyToFixed(60, 0, 111.32, geospatial.Scale)
	require.NoError(t, err)
	require.Greater(t, far, units)

	_, err = geospatial.AccuracyToFixed(0, 0, -1, geospatial.Scale)
	require.ErrorIs(t, err, domain.ErrNegativeBound)
}

func TestHaversine(t *testing.T) {
	d := geospatial.Haversine(40.7128, -74.006, 40.7128, -74.006)
	require.Zero(t, d)

	// one degree of latitude
	d = geospatial.Haversine(0, 0, 1, 0)
	require.InDelta(t, 111195, d, 10)
}

func TestDegreeSpan_Pole(t *testing.T) {
	dLat, dLon := geospatial.DegreeSpan(90, 10)
	require.InDelta(t, 10/111320.0, dLat, 1e-12)
	require.False(t, math.IsInf(dLon, 0))

	units, err := geospatial.AccuracyToFixed(90, 0, 10, geospatial.Scale)
	require.NoError(t, err)
	require.LessOrEqual(t, units, int64(360*geospatial.Scale))
}
