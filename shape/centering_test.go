package shape

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestClassifySymmetry(t *testing.T) {
	tests := []struct {
		name    string
		moments [3]float64
		want    SymmetryClass
	}{
		{"all distinct", [3]float64{1, 2, 4}, SymmetryAsymmetric},
		{"rod", [3]float64{0, 0, 1}, SymmetryProlate},
		{"disc", [3]float64{0.2, 1, 1.05}, SymmetryOblate},
		{"ball", [3]float64{1, 1.05, 1.1}, SymmetrySpherical},
		{"point", [3]float64{0, 0, 0}, SymmetrySpherical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifySymmetry(tt.moments, DefaultSymmetryThreshold))
		})
	}
}

func TestPrincipalAxes_Classes(t *testing.T) {
	tests := []struct {
		name  string
		shape *ShapeFunction
		want  SymmetryClass
	}{
		{
			name:  "rod",
			shape: testShape("rod", r3.Vec{X: -2}, r3.Vec{X: -1}, r3.Vec{}, r3.Vec{X: 1}, r3.Vec{X: 2}),
			want:  SymmetryProlate,
		},
		{
			name: "disc",
			shape: testShape("disc",
				r3.Vec{X: 1, Y: 1}, r3.Vec{X: -1, Y: 1}, r3.Vec{X: -1, Y: -1}, r3.Vec{X: 1, Y: -1}),
			want: SymmetryOblate,
		},
		{
			name:  "single point",
			shape: testShape("point", r3.Vec{X: 3, Y: 4, Z: 5}),
			want:  SymmetrySpherical,
		},
		{
			name:  "irregular",
			shape: irregularShape("irregular"),
			want:  SymmetryAsymmetric,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pf, err := PrincipalAxes(tt.shape, DefaultSymmetryThreshold)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pf.Symmetry)
			assert.LessOrEqual(t, pf.Moments[0], pf.Moments[1])
			assert.LessOrEqual(t, pf.Moments[1], pf.Moments[2])
			assert.InDelta(t, 1.0, r3.Dot(r3.Cross(pf.Axes[0], pf.Axes[1]), pf.Axes[2]), 1e-9, "axes must be right-handed")
		})
	}
}

func TestPrincipalAxes_Empty(t *testing.T) {
	pf, err := PrincipalAxes(&ShapeFunction{}, DefaultSymmetryThreshold)
	if !errors.Is(err, ErrEmptyShape) {
		t.Fatalf("expected ErrEmptyShape, got %v", err)
	}
	assert.Equal(t, SymmetryUndef, pf.Symmetry)
}

func TestPrincipalAxes_IgnoresColorElements(t *testing.T) {
	sf := testShape("colored", r3.Vec{X: -1}, r3.Vec{X: 1})
	sf.Elements = append(sf.Elements, Element{Position: r3.Vec{X: 10, Y: 10}, Radius: 1, Hardness: 1, Color: 2})

	pf, err := PrincipalAxes(sf, DefaultSymmetryThreshold)
	require.NoError(t, err)
	assertVecInDelta(t, r3.Vec{}, pf.Centroid, 1e-12)
}

func TestCenterShape(t *testing.T) {
	sf := irregularShape("centered")
	moved := sf.Clone()
	moved.Transform(rotationZ(0.7, r3.Vec{X: 4, Y: -3, Z: 2}))

	sym, m, err := CenterShape(moved, DefaultSymmetryThreshold)
	require.NoError(t, err)
	assert.Equal(t, SymmetryAsymmetric, sym)
	assert.True(t, m.IsRigid(1e-9))

	// Equal radii make the volume-weighted centroid the plain mean
	assertVecInDelta(t, r3.Vec{}, moved.Centroid(), 1e-9)

	// The centered frame is diagonal: off-diagonal second moments vanish
	var xy, xz, yz float64
	for _, e := range moved.Elements {
		xy += e.Position.X * e.Position.Y
		xz += e.Position.X * e.Position.Z
		yz += e.Position.Y * e.Position.Z
	}
	assert.InDelta(t, 0, xy, 1e-9)
	assert.InDelta(t, 0, xz, 1e-9)
	assert.InDelta(t, 0, yz, 1e-9)

	// The centering transform maps the original coordinates onto the centered ones
	for i, e := range sf.Elements {
		want := moved.Elements[i].Position
		got := MultiplyMatrices(m, rotationZ(0.7, r3.Vec{X: 4, Y: -3, Z: 2})).Apply(e.Position)
		assertVecInDelta(t, want, got, 1e-9)
	}
}

func TestSymmetryClass_Text(t *testing.T) {
	for _, class := range []SymmetryClass{SymmetryUndef, SymmetryAsymmetric, SymmetryOblate, SymmetryProlate, SymmetrySpherical} {
		text, err := class.MarshalText()
		require.NoError(t, err)

		var back SymmetryClass
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, class, back)
	}

	var s SymmetryClass
	assert.NoError(t, s.UnmarshalText([]byte("PROLATE")))
	assert.Equal(t, SymmetryProlate, s)
	assert.Error(t, s.UnmarshalText([]byte("cubic")))
}
