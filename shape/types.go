package shape

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"
)

// Default element parameters used when a shape file leaves them out
const (
	DefaultElementRadius   = 1.7
	DefaultElementHardness = 2.7
)

// Element is a single Gaussian of a shape function (one heavy atom or one
// pharmacophore feature)
type Element struct {
	Position r3.Vec  `json:"position"`
	Radius   float64 `json:"radius"`
	Hardness float64 `json:"hardness"`
	Color    uint    `json:"color,omitempty"` // 0 = plain shape element, >0 = feature type
}

// Exponent returns the Gaussian exponent derived from radius and hardness:
// alpha = pi * (3p / (4 pi r^3))^(2/3)
func (e Element) Exponent() float64 {
	r := e.Radius
	return math.Pi * math.Pow(3*e.Hardness/(4*math.Pi*r*r*r), 2.0/3.0)
}

// Volume returns the integral of the element's Gaussian over space
func (e Element) Volume() float64 {
	return e.Hardness * math.Pow(math.Pi/e.Exponent(), 1.5)
}

// ShapeFunction is an ordered sum of Gaussian elements
type ShapeFunction struct {
	Name     string    `json:"name,omitempty"`
	Elements []Element `json:"elements"`
}

// NumElements returns the number of Gaussians in the shape
func (sf *ShapeFunction) NumElements() int {
	if sf == nil {
		return 0
	}
	return len(sf.Elements)
}

// NumColorElements returns the number of elements with a non-zero color
func (sf *ShapeFunction) NumColorElements() int {
	n := 0
	for _, e := range sf.Elements {
		if e.Color != 0 {
			n++
		}
	}
	return n
}

// Positions copies the element centers into dst (grown as needed) and returns it
func (sf *ShapeFunction) Positions(dst []r3.Vec) []r3.Vec {
	dst = resizeCoords(dst, len(sf.Elements))
	for i, e := range sf.Elements {
		dst[i] = e.Position
	}
	return dst
}

// SetPositions overwrites the element centers; coords must match NumElements
func (sf *ShapeFunction) SetPositions(coords []r3.Vec) {
	for i := range sf.Elements {
		sf.Elements[i].Position = coords[i]
	}
}

// Transform applies m to every element center in place
func (sf *ShapeFunction) Transform(m Matrix4D) {
	for i := range sf.Elements {
		sf.Elements[i].Position = m.Apply(sf.Elements[i].Position)
	}
}

// Clone returns a deep copy of the shape function
func (sf *ShapeFunction) Clone() *ShapeFunction {
	c := &ShapeFunction{Name: sf.Name, Elements: make([]Element, len(sf.Elements))}
	copy(c.Elements, sf.Elements)
	return c
}

// Centroid returns the unweighted mean of all element centers
func (sf *ShapeFunction) Centroid() r3.Vec {
	if len(sf.Elements) == 0 {
		return r3.Vec{}
	}
	var sum r3.Vec
	for _, e := range sf.Elements {
		sum = r3.Add(sum, e.Position)
	}
	return r3.Scale(1/float64(len(sf.Elements)), sum)
}

// SymmetryClass describes the principal-moment degeneracy of a shape
type SymmetryClass int

const (
	SymmetryUndef SymmetryClass = iota
	SymmetryAsymmetric
	SymmetryOblate
	SymmetryProlate
	SymmetrySpherical
)

var symmetryNames = map[SymmetryClass]string{
	SymmetryUndef:      "undef",
	SymmetryAsymmetric: "asymmetric",
	SymmetryOblate:     "oblate",
	SymmetryProlate:    "prolate",
	SymmetrySpherical:  "spherical",
}

func (s SymmetryClass) String() string {
	if name, ok := symmetryNames[s]; ok {
		return name
	}
	return fmt.Sprintf("SymmetryClass(%d)", int(s))
}

// MarshalText encodes the class by name
func (s SymmetryClass) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a class name (case-insensitive)
func (s *SymmetryClass) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for class, n := range symmetryNames {
		if n == name {
			*s = class
			return nil
		}
	}
	return fmt.Errorf("unknown symmetry class %q", string(text))
}

// axisSwapFlags returns which principal axis pairs may be exchanged
// bit 0: axes 1-2, bit 1: axes 2-3
func (s SymmetryClass) axisSwapFlags() uint {
	switch s {
	case SymmetryProlate:
		return axisSwapXY
	case SymmetryOblate:
		return axisSwapYZ
	case SymmetrySpherical:
		return axisSwapXY | axisSwapYZ
	}
	return 0
}

const (
	axisSwapXY uint = 1 << iota
	axisSwapYZ
)

// QuaternionTransformation is an unnormalized rotation quaternion (q0 = real
// part) followed by a translation: [q0, q1, q2, q3, tx, ty, tz]
type QuaternionTransformation [7]float64

// IdentityTransformation returns the unit quaternion with zero translation
func IdentityTransformation() QuaternionTransformation {
	return QuaternionTransformation{1, 0, 0, 0, 0, 0, 0}
}

// Translation returns the translation part
func (qt QuaternionTransformation) Translation() r3.Vec {
	return r3.Vec{X: qt[4], Y: qt[5], Z: qt[6]}
}

// Matrix4D is a row-major homogeneous transform
type Matrix4D [4][4]float64

// IdentityMatrix returns the 4x4 identity
func IdentityMatrix() Matrix4D {
	return Matrix4D{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// Result is one alignment solution recorded by the Aligner
type Result struct {
	Transform                 Matrix4D `json:"transform"`
	Overlap                   float64  `json:"overlap"`
	ColorOverlap              float64  `json:"colorOverlap"`
	ReferenceSelfOverlap      float64  `json:"referenceSelfOverlap"`
	ReferenceColorSelfOverlap float64  `json:"referenceColorSelfOverlap"`
	AlignedSelfOverlap        float64  `json:"alignedSelfOverlap"`
	AlignedColorSelfOverlap   float64  `json:"alignedColorSelfOverlap"`
	StartIndex                int      `json:"startIndex"` // -1 when no start pose was used
}

func resizeCoords(coords []r3.Vec, n int) []r3.Vec {
	if cap(coords) < n {
		return make([]r3.Vec, n)
	}
	return coords[:n]
}
