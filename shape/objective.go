package shape

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// QuaternionNormPenalty is the stiffness K of the penalty 0.5*K*(1-|q|^2)^2
// that keeps the optimized quaternion close to unit length
const QuaternionNormPenalty = 10000.0

// alignObjective is the penalized negative overlap over the 7 free parameters
// [q0, q1, q2, q3, tx, ty, tz]. The quaternion is not constrained; every
// evaluation uses a normalized copy of it.
type alignObjective struct {
	overlap     OverlapFunction
	startCoords []r3.Vec // aligned shape coordinates of the current align call
	coords      []r3.Vec // working coordinates
	coordGrad   []r3.Vec
}

func newAlignObjective(overlap OverlapFunction) *alignObjective {
	return &alignObjective{overlap: overlap}
}

// reset captures the start coordinates, sizing the working buffers
func (o *alignObjective) reset(start []r3.Vec) {
	o.startCoords = start
	o.coords = resizeCoords(o.coords, len(start))
	o.coordGrad = resizeCoords(o.coordGrad, len(start))
}

// place writes the start coordinates moved by the normalized x into the
// working buffer and returns the rotation block used
func (o *alignObjective) place(x []float64) [3][3]float64 {
	inv := 1 / math.Sqrt(x[0]*x[0]+x[1]*x[1]+x[2]*x[2]+x[3]*x[3])
	rot := rotationMatrix(x[0]*inv, x[1]*inv, x[2]*inv, x[3]*inv)
	for i, p := range o.startCoords {
		o.coords[i] = r3.Vec{
			X: rot[0][0]*p.X + rot[0][1]*p.Y + rot[0][2]*p.Z + x[4],
			Y: rot[1][0]*p.X + rot[1][1]*p.Y + rot[1][2]*p.Z + x[5],
			Z: rot[2][0]*p.X + rot[2][1]*p.Y + rot[2][2]*p.Z + x[6],
		}
	}
	return rot
}

func normPenalty(qNormSq float64) float64 {
	d := 1 - qNormSq
	return 0.5 * QuaternionNormPenalty * d * d
}

// Value returns penalty - overlap at x
func (o *alignObjective) Value(x []float64) float64 {
	qNormSq := x[0]*x[0] + x[1]*x[1] + x[2]*x[2] + x[3]*x[3]
	o.place(x)
	return normPenalty(qNormSq) - o.overlap.Overlap(o.coords)
}

// Gradient writes the analytic gradient of Value at x into grad
func (o *alignObjective) Gradient(grad, x []float64) {
	q0, q1, q2, q3 := x[0], x[1], x[2], x[3]
	qNormSq := q0*q0 + q1*q1 + q2*q2 + q3*q3
	rot := o.place(x)
	o.overlap.OverlapGradient(o.coords, o.coordGrad)

	// Half derivatives of the unnormalized rotation quadratic form with
	// respect to q0..q3
	dm := [4][3][3]float64{
		{{q0, -q3, q2}, {q3, q0, -q1}, {-q2, q1, q0}},
		{{q1, q2, q3}, {q2, -q1, -q0}, {q3, q0, -q1}},
		{{-q2, q1, q0}, {q1, q2, q3}, {-q0, q3, -q2}},
		{{-q3, -q0, q1}, {q0, -q3, q2}, {q1, q2, q3}},
	}
	q := [4]float64{q0, q1, q2, q3}

	var acc [4]float64
	var transGrad r3.Vec
	for i, p := range o.startCoords {
		g := o.coordGrad[i]
		transGrad = r3.Add(transGrad, g)

		rp := r3.Vec{
			X: rot[0][0]*p.X + rot[0][1]*p.Y + rot[0][2]*p.Z,
			Y: rot[1][0]*p.X + rot[1][1]*p.Y + rot[1][2]*p.Z,
			Z: rot[2][0]*p.X + rot[2][1]*p.Y + rot[2][2]*p.Z,
		}
		for k := 0; k < 4; k++ {
			d := dm[k]
			dp := r3.Vec{
				X: d[0][0]*p.X + d[0][1]*p.Y + d[0][2]*p.Z - q[k]*rp.X,
				Y: d[1][0]*p.X + d[1][1]*p.Y + d[1][2]*p.Z - q[k]*rp.Y,
				Z: d[2][0]*p.X + d[2][1]*p.Y + d[2][2]*p.Z - q[k]*rp.Z,
			}
			acc[k] += r3.Dot(g, dp)
		}
	}

	penGradFactor := QuaternionNormPenalty * (1 - qNormSq)
	for k := 0; k < 4; k++ {
		grad[k] = -2 * (acc[k]/qNormSq + penGradFactor*q[k])
	}
	grad[4] = -transGrad.X
	grad[5] = -transGrad.Y
	grad[6] = -transGrad.Z
}
