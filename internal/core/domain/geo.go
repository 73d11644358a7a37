package domain

import "time"

// GeoPoint represents a geographic coordinate (WGS 84, degrees).
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// FixedPoint is an integer-scaled coordinate in the circuit convention:
// X = longitude * scale, Y = latitude * scale.
type FixedPoint struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

// Polygon is an ordered vertex list. Vertex order is significant and is
// preserved end-to-end (registry, witness, contract calldata).
type Polygon []FixedPoint

// Equal reports whether two polygons have identical vertices in identical order.
func (p Polygon) Equal(other Polygon) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}

// Xs returns the x coordinate of every vertex, in order.
func (p Polygon) Xs() []int64 {
	out := make([]int64, len(p))
	for i, v := range p {
		out[i] = v.X
	}
	return out
}

// Ys returns the y coordinate of every vertex, in order.
func (p Polygon) Ys() []int64 {
	out := make([]int64, len(p))
	for i, v := range p {
		out[i] = v.Y
	}
	return out
}

// Bounds represents a geographic bounding box.
type Bounds struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// LocationReading is a single sensor fix as delivered by the device.
type LocationReading struct {
	Point          GeoPoint  `json:"point"`
	AccuracyMeters float64   `json:"accuracy_m"` // horizontal uncertainty radius
	Timestamp      time.Time `json:"timestamp"`
	Speed          *float64  `json:"speed,omitempty"`    // m/s
	Altitude       *float64  `json:"altitude,omitempty"` // meters
}
