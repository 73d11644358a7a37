package geospatial

import "math"

const (
	earthRadiusMeters = 6_371_000.0
	metersPerDegree   = 111_320.0
	// cos(lat) is clamped here so spans stay finite near the poles.
	minCosLat = 1e-6
)

// Haversine returns the great-circle distance in meters between two points
// given in degrees.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := radians(lat1), radians(lat2)
	dPhi := radians(lat2 - lat1)
	dLambda := radians(lon2 - lon1)

	h := math.Pow(math.Sin(dPhi/2), 2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Pow(math.Sin(dLambda/2), 2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// DegreeSpan converts a distance in meters at the given latitude into the
// latitude and longitude spans it covers, in degrees.
func DegreeSpan(lat, meters float64) (dLat, dLon float64) {
	cos := math.Max(math.Abs(math.Cos(radians(lat))), minCosLat)
	return meters / metersPerDegree, meters / (metersPerDegree * cos)
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }
