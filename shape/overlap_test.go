package shape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func featureShape(name string, points ...r3.Vec) *ShapeFunction {
	sf := &ShapeFunction{Name: name}
	for i, p := range points {
		sf.Elements = append(sf.Elements, Element{Position: p, Radius: 1, Hardness: 1, Color: uint(i%2) + 1})
	}
	return sf
}

func TestOverlap_FeatureOnlyShapeUsesAllElements(t *testing.T) {
	sf := featureShape("features", r3.Vec{}, r3.Vec{X: 1.5}, r3.Vec{X: 1.5, Y: 1.2})

	f := NewFastOverlapFunction()
	f.SetShapeFunction(sf, true)
	f.SetShapeFunction(sf, false)

	self := f.SelfOverlap(true)
	require.Positive(t, self)
	assert.InDelta(t, self, f.Overlap(sf.Positions(nil)), 1e-12)

	// The gradient is non-zero away from the optimum
	coords := TransformCoords(nil, TranslationMatrix(r3.Vec{X: 0.4}), sf.Positions(nil))
	grad := make([]r3.Vec, len(coords))
	overlap := f.OverlapGradient(coords, grad)
	assert.Less(t, overlap, self)
	var sumX float64
	for _, g := range grad {
		sumX += g.X
	}
	assert.Negative(t, sumX, "pulled back towards the reference")
}

func TestOverlap_FeaturesIgnoredWhenPlainElementsExist(t *testing.T) {
	plain := testShape("plain", r3.Vec{}, r3.Vec{X: 1.5})
	mixed := plain.Clone()
	mixed.Elements = append(mixed.Elements, Element{Position: r3.Vec{Y: 1}, Radius: 1, Hardness: 1, Color: 1})

	f := NewFastOverlapFunction()
	f.SetShapeFunction(plain, true)
	f.SetShapeFunction(plain, false)
	want := f.SelfOverlap(true)

	f.SetShapeFunction(mixed, true)
	f.SetShapeFunction(mixed, false)
	assert.InDelta(t, want, f.SelfOverlap(true), 1e-12)
	assert.InDelta(t, want, f.Overlap(mixed.Positions(nil)), 1e-12)
	assert.Positive(t, f.ColorSelfOverlap(true))
}

func TestAlign_FeatureOnlySelfAlignment(t *testing.T) {
	sf := featureShape("features", irregularShape("").Positions(nil)...)

	a := NewAligner(DefaultAlignerConfig(), DefaultStartGenConfig())
	p := setupPair(t, a, sf, sf)
	require.NoError(t, a.Align(p.cand, p.candSym))

	best := bestOverlap(a)
	assert.Positive(t, best.ReferenceSelfOverlap)
	assert.InDelta(t, best.ReferenceSelfOverlap, best.Overlap, 1e-6)
}
