package gnarkadapter

import (
	"github.com/consensys/gnark/frontend"
)

// NumVertices is the polygon cardinality the circuit is compiled for.
const NumVertices = 4

const (
	lonOffset = 180_000_000 // shifts x into [0, 360e6]
	latOffset = 90_000_000  // shifts y into [0, 180e6]
	lonBits   = 29
	latBits   = 28
	accBits   = 24

	// keeps signed cross products positive so they compare as integers
	productOffset = 1 << 60
)

// GeofenceCircuit proves that a secret point lies inside (or outside) a public
// four-vertex polygon, in fixed-point degrees at scale 10^6 (x = lon, y = lat).
//
// Membership is ray-casting parity. For an inside claim every edge line must
// also be at least Accuracy away from the point, so the whole uncertainty
// disc is inside. Accuracy is secret: the proof shows the disc of the bound
// the prover chose fits, not which bound that was. Only the pipeline's own
// AccuracyToFixed ties it to the sensor reading.
type GeofenceCircuit struct {
	VerticesX [NumVertices]frontend.Variable `gnark:",public"`
	VerticesY [NumVertices]frontend.Variable `gnark:",public"`
	Inside    frontend.Variable              `gnark:",public"`

	PointX   frontend.Variable
	PointY   frontend.Variable
	Accuracy frontend.Variable
}

// Define implements frontend.Circuit.
func (c *GeofenceCircuit) Define(api frontend.API) error {
	api.AssertIsBoolean(c.Inside)

	px := shift(api, c.PointX, lonOffset, lonBits)
	py := shift(api, c.PointY, latOffset, latBits)
	api.ToBinary(c.Accuracy, accBits)

	var xs, ys [NumVertices]frontend.Variable
	var above [NumVertices]frontend.Variable
	for i := 0; i < NumVertices; i++ {
		xs[i] = shift(api, c.VerticesX[i], lonOffset, lonBits)
		ys[i] = shift(api, c.VerticesY[i], latOffset, latBits)
		above[i] = isGreater(api, ys[i], py)
	}

	r2 := api.Mul(c.Accuracy, c.Accuracy)
	parity := frontend.Variable(0)

	for i := 0; i < NumVertices; i++ {
		j := (i + NumVertices - 1) % NumVertices

		// edge j -> i crosses the horizontal ray from p towards +x
		straddle := api.Xor(above[i], above[j])
		lhs := api.Add(api.Mul(api.Sub(px, xs[i]), api.Sub(ys[j], ys[i])), productOffset)
		rhs := api.Add(api.Mul(api.Sub(xs[j], xs[i]), api.Sub(py, ys[i])), productOffset)
		cmp := api.Cmp(lhs, rhs)
		less := api.IsZero(api.Add(cmp, 1))
		greater := api.IsZero(api.Sub(cmp, 1))
		// with above[j] set the edge rises, so the division by (yj - yi) keeps the sign
		crossing := api.Mul(straddle, api.Select(above[j], less, greater))
		parity = api.Xor(parity, crossing)

		// distance from p to the edge line, squared, times |e|^2
		ex := api.Sub(xs[i], xs[j])
		ey := api.Sub(ys[i], ys[j])
		cross := api.Sub(api.Mul(ex, api.Sub(py, ys[j])), api.Mul(ey, api.Sub(px, xs[j])))
		tooClose := isGreater(api,
			api.Mul(r2, api.Add(api.Mul(ex, ex), api.Mul(ey, ey))),
			api.Mul(cross, cross),
		)
		api.AssertIsEqual(api.Mul(c.Inside, tooClose), 0)
	}

	api.AssertIsEqual(parity, c.Inside)
	return nil
}

// shift moves a signed coordinate into an unsigned range and checks it fits.
func shift(api frontend.API, v frontend.Variable, offset, bits int) frontend.Variable {
	s := api.Add(v, offset)
	api.ToBinary(s, bits)
	return s
}

func isGreater(api frontend.API, a, b frontend.Variable) frontend.Variable {
	return api.IsZero(api.Sub(api.Cmp(a, b), 1))
}
