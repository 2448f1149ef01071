package shape

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// DefaultProximityCutoff skips element pairs whose Gaussian product exponent
// exceeds this value (exp(-30) ~ 1e-13)
const DefaultProximityCutoff = 30.0

// ColorMatchFunc decides whether two feature colors contribute to color overlap
type ColorMatchFunc func(refColor, alignedColor uint) bool

// ColorFilterFunc selects which colors take part in color overlap at all
type ColorFilterFunc func(color uint) bool

// DefaultColorMatch matches identical colors
func DefaultColorMatch(a, b uint) bool { return a == b }

// DefaultColorFilter accepts every non-zero color
func DefaultColorFilter(c uint) bool { return c != 0 }

// OverlapFunction computes Gaussian overlap between a fixed reference shape
// and a movable (aligned) shape whose element coordinates are supplied per call
type OverlapFunction interface {
	SetShapeFunction(sf *ShapeFunction, reference bool)
	ShapeFunction(reference bool) *ShapeFunction

	SelfOverlap(reference bool) float64
	ColorSelfOverlap(reference bool) float64

	// Overlap of the plain (color 0) elements with the aligned shape at coords.
	// A shape without plain elements takes part with all of its elements.
	Overlap(coords []r3.Vec) float64
	// ColorOverlap of matching colored elements with the aligned shape at coords
	ColorOverlap(coords []r3.Vec) float64
	// OverlapGradient returns Overlap(coords) and writes d(overlap)/d(coords[i])
	// into grad, which must have len(coords) entries
	OverlapGradient(coords []r3.Vec, grad []r3.Vec) float64
}

// gaussian is the per-element data the overlap sums need
type gaussian struct {
	alpha  float64
	weight float64
	color  uint
	shape  bool // counted by the plain shape overlap
}

// FastOverlapFunction is the default first-order pairwise overlap: a sum of
// Gaussian product integrals over element pairs
type FastOverlapFunction struct {
	ColorMatch      ColorMatchFunc
	ColorFilter     ColorFilterFunc
	ProximityCutoff float64 // <= 0 disables the cutoff

	ref, aligned         *ShapeFunction
	refGauss, alignGauss []gaussian
	refPos               []r3.Vec // snapshot taken by SetShapeFunction
}

// NewFastOverlapFunction creates an overlap function with default color rules
func NewFastOverlapFunction() *FastOverlapFunction {
	return &FastOverlapFunction{
		ColorMatch:      DefaultColorMatch,
		ColorFilter:     DefaultColorFilter,
		ProximityCutoff: DefaultProximityCutoff,
	}
}

// SetColorMatchFunction replaces the color match rule
func (f *FastOverlapFunction) SetColorMatchFunction(match ColorMatchFunc) {
	f.ColorMatch = match
}

// SetColorFilterFunction replaces the color filter
func (f *FastOverlapFunction) SetColorFilterFunction(filter ColorFilterFunc) {
	f.ColorFilter = filter
}

// SetShapeFunction implements OverlapFunction. Reference element positions
// are captured here, so a reference that moves must be set again.
func (f *FastOverlapFunction) SetShapeFunction(sf *ShapeFunction, reference bool) {
	data := gaussians(sf)
	if reference {
		f.ref, f.refGauss = sf, data
		f.refPos = nil
		if sf != nil {
			f.refPos = sf.Positions(nil)
		}
		return
	}
	f.aligned, f.alignGauss = sf, data
}

// ShapeFunction implements OverlapFunction
func (f *FastOverlapFunction) ShapeFunction(reference bool) *ShapeFunction {
	if reference {
		return f.ref
	}
	return f.aligned
}

func gaussians(sf *ShapeFunction) []gaussian {
	if sf == nil {
		return nil
	}
	// Feature-only shapes fall back to all elements, as in PrincipalAxes
	allShape := sf.NumColorElements() == len(sf.Elements)
	data := make([]gaussian, len(sf.Elements))
	for i, e := range sf.Elements {
		data[i] = gaussian{alpha: e.Exponent(), weight: e.Hardness, color: e.Color, shape: allShape || e.Color == 0}
	}
	return data
}

// SelfOverlap implements OverlapFunction
func (f *FastOverlapFunction) SelfOverlap(reference bool) float64 {
	sf, data := f.side(reference)
	if sf == nil {
		return 0
	}
	coords := sf.Positions(nil)
	return f.sum(coords, data, coords, data, nil, f.plainPair)
}

// ColorSelfOverlap implements OverlapFunction
func (f *FastOverlapFunction) ColorSelfOverlap(reference bool) float64 {
	sf, data := f.side(reference)
	if sf == nil {
		return 0
	}
	coords := sf.Positions(nil)
	return f.sum(coords, data, coords, data, nil, f.colorPair)
}

// Overlap implements OverlapFunction
func (f *FastOverlapFunction) Overlap(coords []r3.Vec) float64 {
	if f.ref == nil {
		return 0
	}
	return f.sum(f.refPos, f.refGauss, coords, f.alignGauss, nil, f.plainPair)
}

// ColorOverlap implements OverlapFunction
func (f *FastOverlapFunction) ColorOverlap(coords []r3.Vec) float64 {
	if f.ref == nil {
		return 0
	}
	return f.sum(f.refPos, f.refGauss, coords, f.alignGauss, nil, f.colorPair)
}

// OverlapGradient implements OverlapFunction
func (f *FastOverlapFunction) OverlapGradient(coords []r3.Vec, grad []r3.Vec) float64 {
	for i := range grad {
		grad[i] = r3.Vec{}
	}
	if f.ref == nil {
		return 0
	}
	return f.sum(f.refPos, f.refGauss, coords, f.alignGauss, grad, f.plainPair)
}

func (f *FastOverlapFunction) side(reference bool) (*ShapeFunction, []gaussian) {
	if reference {
		return f.ref, f.refGauss
	}
	return f.aligned, f.alignGauss
}

func (f *FastOverlapFunction) plainPair(a, b gaussian) bool {
	return a.shape && b.shape
}

func (f *FastOverlapFunction) colorPair(a, b gaussian) bool {
	if a.color == 0 || b.color == 0 {
		return false
	}
	filter := f.ColorFilter
	if filter == nil {
		filter = DefaultColorFilter
	}
	if !filter(a.color) || !filter(b.color) {
		return false
	}
	match := f.ColorMatch
	if match == nil {
		match = DefaultColorMatch
	}
	return match(a.color, b.color)
}

// sum accumulates pair overlaps between reference elements (refPos) and
// aligned elements (pos). With grad non-nil the positional gradient with
// respect to pos is accumulated as well.
func (f *FastOverlapFunction) sum(refPos []r3.Vec, refData []gaussian, pos []r3.Vec, data []gaussian,
	grad []r3.Vec, include func(a, b gaussian) bool) float64 {

	n := len(pos)
	if len(data) < n {
		n = len(data)
	}

	var total float64
	for i, gi := range refData {
		for j := 0; j < n; j++ {
			gj := data[j]
			if !include(gi, gj) {
				continue
			}
			alphaSum := gi.alpha + gj.alpha
			k := gi.alpha * gj.alpha / alphaSum
			d := r3.Sub(pos[j], refPos[i])
			exponent := k * r3.Norm2(d)
			if f.ProximityCutoff > 0 && exponent > f.ProximityCutoff {
				continue
			}
			v := gi.weight * gj.weight * math.Pow(math.Pi/alphaSum, 1.5) * math.Exp(-exponent)
			total += v
			if grad != nil {
				grad[j] = r3.Add(grad[j], r3.Scale(-2*k*v, d))
			}
		}
	}
	return total
}
