package shape

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// StartGenerator produces the initial poses the Aligner refines
type StartGenerator interface {
	// SetupReference centers sf in place and returns its symmetry class and
	// the applied centering transform
	SetupReference(sf *ShapeFunction) (SymmetryClass, Matrix4D, error)
	// SetupAligned is the same operation for a movable shape
	SetupAligned(sf *ShapeFunction) (SymmetryClass, Matrix4D, error)
	SetReference(sf *ShapeFunction, sym SymmetryClass)
	Generate(sf *ShapeFunction, sym SymmetryClass) error

	NumStartTransforms() int
	StartTransform(i int) QuaternionTransformation
	StartTransforms() []QuaternionTransformation
	// NumStartSubTransforms is the number of consecutive starts sharing one
	// translation anchor
	NumStartSubTransforms() int
}

// AnchorSource selects which shape element centers are used as anchors
type AnchorSource int

const (
	AnchorLarger AnchorSource = iota // the shape with more elements
	AnchorReference
	AnchorCandidate
	AnchorBoth
)

var anchorSourceNames = map[AnchorSource]string{
	AnchorLarger:    "larger",
	AnchorReference: "reference",
	AnchorCandidate: "candidate",
	AnchorBoth:      "both",
}

func (a AnchorSource) String() string {
	if name, ok := anchorSourceNames[a]; ok {
		return name
	}
	return fmt.Sprintf("AnchorSource(%d)", int(a))
}

// MarshalText encodes the source by name
func (a AnchorSource) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText decodes a source name (case-insensitive)
func (a *AnchorSource) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for src, n := range anchorSourceNames {
		if n == name {
			*a = src
			return nil
		}
	}
	return fmt.Errorf("unknown anchor source %q", string(text))
}

// AnchorPolicy controls which translation anchors get a bucket of starts
type AnchorPolicy struct {
	ShapeCenter     bool         `yaml:"shapeCenter" json:"shapeCenter"`
	NonColorCenters bool         `yaml:"nonColorCenters" json:"nonColorCenters"`
	ColorCenters    bool         `yaml:"colorCenters" json:"colorCenters"`
	Source          AnchorSource `yaml:"source" json:"source"`
}

// StartGenConfig holds configuration for the principal-axes start generator
type StartGenConfig struct {
	SymmetryThreshold    float64      `yaml:"symmetryThreshold" json:"symmetryThreshold"`
	Anchors              AnchorPolicy `yaml:"anchors" json:"anchors"`
	MaxRandomStarts      int          `yaml:"maxRandomStarts" json:"maxRandomStarts"`
	MaxRandomTranslation float64      `yaml:"maxRandomTranslation" json:"maxRandomTranslation"`
	RandomSeed           int64        `yaml:"randomSeed" json:"randomSeed"`
}

// DefaultStartGenConfig returns the shape-centroid-only configuration
func DefaultStartGenConfig() StartGenConfig {
	return StartGenConfig{
		SymmetryThreshold:    DefaultSymmetryThreshold,
		Anchors:              AnchorPolicy{ShapeCenter: true, Source: AnchorLarger},
		MaxRandomStarts:      0,
		MaxRandomTranslation: 2.0,
		RandomSeed:           0,
	}
}

// Fixed rotations used to enumerate symmetry-equivalent orientations
var (
	halfSqrt2 = math.Sqrt2 / 2

	axisFlips = []quat.Number{
		{Real: 1},
		{Imag: 1}, // 180° about x
		{Jmag: 1}, // 180° about y
		{Kmag: 1}, // 180° about z
	}

	swapXY = quat.Number{Real: halfSqrt2, Kmag: halfSqrt2} // 90° about z
	swapYZ = quat.Number{Real: halfSqrt2, Imag: halfSqrt2} // 90° about x
	swapXZ = quat.Number{Real: halfSqrt2, Jmag: halfSqrt2} // 90° about y

	cyclicXYZ = []quat.Number{
		{Real: 0.5, Imag: 0.5, Jmag: 0.5, Kmag: 0.5},  // 120° about (1,1,1)
		{Real: -0.5, Imag: 0.5, Jmag: 0.5, Kmag: 0.5}, // 240° about (1,1,1)
	}
)

// PrincipalAxesStartGenerator enumerates starts in the principal frames of
// both shapes: axis flips, symmetry-allowed axis swaps and translation anchors
type PrincipalAxesStartGenerator struct {
	Config StartGenConfig

	ref       *ShapeFunction
	refSym    SymmetryClass
	rotations []quat.Number
	starts    []QuaternionTransformation
}

// NewPrincipalAxesStartGenerator creates a generator seeded from config
func NewPrincipalAxesStartGenerator(config StartGenConfig) *PrincipalAxesStartGenerator {
	return &PrincipalAxesStartGenerator{
		Config:    config,
		rotations: rotationSet(0),
	}
}

// SetRandomSeed sets the seed for random translation anchors. Every Generate
// call starts a fresh source from this seed, so equal inputs give equal starts.
func (g *PrincipalAxesStartGenerator) SetRandomSeed(seed int64) {
	g.Config.RandomSeed = seed
}

// SetupReference implements StartGenerator
func (g *PrincipalAxesStartGenerator) SetupReference(sf *ShapeFunction) (SymmetryClass, Matrix4D, error) {
	return CenterShape(sf, g.Config.SymmetryThreshold)
}

// SetupAligned implements StartGenerator
func (g *PrincipalAxesStartGenerator) SetupAligned(sf *ShapeFunction) (SymmetryClass, Matrix4D, error) {
	return CenterShape(sf, g.Config.SymmetryThreshold)
}

// SetReference implements StartGenerator
func (g *PrincipalAxesStartGenerator) SetReference(sf *ShapeFunction, sym SymmetryClass) {
	g.ref = sf
	g.refSym = sym
}

// NumStartTransforms implements StartGenerator
func (g *PrincipalAxesStartGenerator) NumStartTransforms() int {
	return len(g.starts)
}

// StartTransform implements StartGenerator
func (g *PrincipalAxesStartGenerator) StartTransform(i int) QuaternionTransformation {
	return g.starts[i]
}

// StartTransforms implements StartGenerator; the slice is owned by the generator
func (g *PrincipalAxesStartGenerator) StartTransforms() []QuaternionTransformation {
	return g.starts
}

// NumStartSubTransforms implements StartGenerator
func (g *PrincipalAxesStartGenerator) NumStartSubTransforms() int {
	return len(g.rotations)
}

// Generate implements StartGenerator
func (g *PrincipalAxesStartGenerator) Generate(sf *ShapeFunction, sym SymmetryClass) error {
	g.starts = g.starts[:0]

	if g.ref == nil {
		return ErrNoReference
	}
	if g.ref.NumElements() == 0 || sf.NumElements() == 0 {
		return ErrEmptyShape
	}
	if g.refSym == SymmetryUndef || sym == SymmetryUndef {
		return ErrUndefinedSymmetry
	}
	g.rotations = rotationSet(g.refSym.axisSwapFlags() | sym.axisSwapFlags())
	anchors := g.Config.Anchors

	if anchors.ShapeCenter {
		g.addBucket(func(quat.Number) r3.Vec { return r3.Vec{} })
	}

	if anchors.NonColorCenters || anchors.ColorCenters {
		useRef, useCand := g.anchorShapes(sf)
		if useRef {
			for _, e := range g.ref.Elements {
				if !anchors.wants(e) {
					continue
				}
				pos := e.Position
				g.addBucket(func(quat.Number) r3.Vec { return pos })
			}
		}
		if useCand {
			for _, e := range sf.Elements {
				if !anchors.wants(e) {
					continue
				}
				pos := e.Position
				g.addBucket(func(q quat.Number) r3.Vec { return r3.Scale(-1, rotate(q, pos)) })
			}
		}
	}

	rng := rand.New(rand.NewSource(g.Config.RandomSeed))
	for i := 0; i < g.Config.MaxRandomStarts; i++ {
		t := r3.Vec{
			X: (2*rng.Float64() - 1) * g.Config.MaxRandomTranslation,
			Y: (2*rng.Float64() - 1) * g.Config.MaxRandomTranslation,
			Z: (2*rng.Float64() - 1) * g.Config.MaxRandomTranslation,
		}
		g.addBucket(func(quat.Number) r3.Vec { return t })
	}

	return nil
}

// anchorShapes resolves the configured anchor source against both shapes
func (g *PrincipalAxesStartGenerator) anchorShapes(sf *ShapeFunction) (ref, cand bool) {
	switch g.Config.Anchors.Source {
	case AnchorReference:
		return true, false
	case AnchorCandidate:
		return false, true
	case AnchorBoth:
		return true, true
	}
	if sf.NumElements() > g.ref.NumElements() {
		return false, true
	}
	return true, false
}

func (p AnchorPolicy) wants(e Element) bool {
	if e.Color == 0 {
		return p.NonColorCenters
	}
	return p.ColorCenters
}

// addBucket appends one start per rotation, all sharing a translation anchor
func (g *PrincipalAxesStartGenerator) addBucket(translation func(q quat.Number) r3.Vec) {
	for _, q := range g.rotations {
		g.starts = append(g.starts, NewQuaternionTransformation(q, translation(q)))
	}
}

// rotationSet returns the rotations compatible with the given axis swap flags:
// 4 for asymmetric, 8 for one degenerate axis pair, 24 for full degeneracy
func rotationSet(flags uint) []quat.Number {
	rotations := make([]quat.Number, 0, 24)
	rotations = append(rotations, axisFlips...)

	compose := func(swap quat.Number) {
		for _, flip := range axisFlips {
			rotations = append(rotations, quat.Mul(flip, swap))
		}
	}

	if flags&axisSwapXY != 0 {
		compose(swapXY)
	}
	if flags&axisSwapYZ != 0 {
		compose(swapYZ)
	}
	if flags&(axisSwapXY|axisSwapYZ) == axisSwapXY|axisSwapYZ {
		compose(swapXZ)
		for _, c := range cyclicXYZ {
			compose(c)
		}
	}
	return rotations
}

// rotate applies the unit quaternion q to p
func rotate(q quat.Number, p r3.Vec) r3.Vec {
	r := rotationMatrix(q.Real, q.Imag, q.Jmag, q.Kmag)
	return r3.Vec{
		X: r[0][0]*p.X + r[0][1]*p.Y + r[0][2]*p.Z,
		Y: r[1][0]*p.X + r[1][1]*p.Y + r[1][2]*p.Z,
		Z: r[2][0]*p.X + r[2][1]*p.Y + r[2][2]*p.Z,
	}
}
