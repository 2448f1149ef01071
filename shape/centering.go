package shape

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultSymmetryThreshold is the relative principal-moment difference below
// which two axes are considered degenerate
const DefaultSymmetryThreshold = 0.15

// PrincipalFrame holds the result of a principal-axes analysis
type PrincipalFrame struct {
	Centroid r3.Vec
	Axes     [3]r3.Vec  // unit axes ordered by ascending moment, right-handed
	Moments  [3]float64 // ascending
	Symmetry SymmetryClass
}

// Matrix returns the transform that moves the shape into its principal frame:
// x' = A^T (x - c)
func (pf PrincipalFrame) Matrix() Matrix4D {
	m := IdentityMatrix()
	for i, axis := range pf.Axes {
		m[i][0], m[i][1], m[i][2] = axis.X, axis.Y, axis.Z
	}
	t := m.Rotate(pf.Centroid)
	m[0][3], m[1][3], m[2][3] = -t.X, -t.Y, -t.Z
	return m
}

// PrincipalAxes computes the volume-weighted centroid and the principal axes
// of the plain (color 0) elements. Shapes made of colored elements only use
// all elements.
func PrincipalAxes(sf *ShapeFunction, symThreshold float64) (PrincipalFrame, error) {
	if sf.NumElements() == 0 {
		return PrincipalFrame{Symmetry: SymmetryUndef}, ErrEmptyShape
	}

	elements := make([]Element, 0, len(sf.Elements))
	for _, e := range sf.Elements {
		if e.Color == 0 {
			elements = append(elements, e)
		}
	}
	if len(elements) == 0 {
		elements = sf.Elements
	}

	// Weighted centroid
	var centroid r3.Vec
	var totalWeight float64
	weights := make([]float64, len(elements))
	for i, e := range elements {
		w := e.Volume()
		if !isFinite(w) || w <= 0 {
			w = 1
		}
		weights[i] = w
		totalWeight += w
		centroid = r3.Add(centroid, r3.Scale(w, e.Position))
	}
	centroid = r3.Scale(1/totalWeight, centroid)

	// Second moment tensor
	var cxx, cxy, cxz, cyy, cyz, czz float64
	for i, e := range elements {
		d := r3.Sub(e.Position, centroid)
		w := weights[i]
		cxx += w * d.X * d.X
		cxy += w * d.X * d.Y
		cxz += w * d.X * d.Z
		cyy += w * d.Y * d.Y
		cyz += w * d.Y * d.Z
		czz += w * d.Z * d.Z
	}
	tensor := mat.NewSymDense(3, []float64{
		cxx, cxy, cxz,
		cxy, cyy, cyz,
		cxz, cyz, czz,
	})
	tensor.ScaleSym(1/totalWeight, tensor)

	var eig mat.EigenSym
	if ok := eig.Factorize(tensor, true); !ok {
		return PrincipalFrame{Symmetry: SymmetryUndef}, fmt.Errorf("principal axes of %q: eigen decomposition failed", sf.Name)
	}
	values := eig.Values(nil) // ascending
	var vectors mat.Dense
	eig.VectorsTo(&vectors)

	pf := PrincipalFrame{Centroid: centroid}
	for i := 0; i < 3; i++ {
		pf.Moments[i] = math.Max(values[i], 0)
		pf.Axes[i] = r3.Unit(r3.Vec{X: vectors.At(0, i), Y: vectors.At(1, i), Z: vectors.At(2, i)})
	}
	pf.Axes[2] = r3.Cross(pf.Axes[0], pf.Axes[1])
	pf.Symmetry = ClassifySymmetry(pf.Moments, symThreshold)

	return pf, nil
}

// ClassifySymmetry maps ascending principal moments to a symmetry class.
// Axes 1-2 degenerate means a rod (prolate), axes 2-3 a disc (oblate).
func ClassifySymmetry(moments [3]float64, threshold float64) SymmetryClass {
	deg12 := relativeDiff(moments[0], moments[1]) < threshold
	deg23 := relativeDiff(moments[1], moments[2]) < threshold

	switch {
	case deg12 && deg23:
		return SymmetrySpherical
	case deg12:
		return SymmetryProlate
	case deg23:
		return SymmetryOblate
	}
	return SymmetryAsymmetric
}

func relativeDiff(a, b float64) float64 {
	larger := math.Max(math.Abs(a), math.Abs(b))
	if larger < 1e-12 {
		return 0
	}
	return math.Abs(a-b) / larger
}

// CenterShape moves sf into its principal frame in place and returns the
// detected symmetry class together with the applied transform
func CenterShape(sf *ShapeFunction, symThreshold float64) (SymmetryClass, Matrix4D, error) {
	pf, err := PrincipalAxes(sf, symThreshold)
	if err != nil {
		return SymmetryUndef, IdentityMatrix(), err
	}
	m := pf.Matrix()
	sf.Transform(m)
	return pf.Symmetry, m, nil
}
