package shape

import (
	"fmt"
	"iter"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/spatial/r3"
)

// AlignerConfig holds the switches and numeric limits of an Aligner
type AlignerConfig struct {
	PerformAlignment    bool    `yaml:"performAlignment" json:"performAlignment"`       // false: score the input pose only
	OptimizeOverlap     bool    `yaml:"optimizeOverlap" json:"optimizeOverlap"`         // false: score start poses unrefined
	CalcColorOverlap    bool    `yaml:"calcColorOverlap" json:"calcColorOverlap"`       // extra pass over matching colors
	GreedyOptimization  bool    `yaml:"greedyOptimization" json:"greedyOptimization"`   // refine only the best start per anchor
	BestResultPerAnchor bool    `yaml:"bestResultPerAnchor" json:"bestResultPerAnchor"` // keep one refined result per anchor
	MaxIterations       int     `yaml:"maxIterations" json:"maxIterations"`             // 0 = unlimited
	StopGradientNorm    float64 `yaml:"stopGradientNorm" json:"stopGradientNorm"`
	LineSearchTolerance float64 `yaml:"lineSearchTolerance" json:"lineSearchTolerance"`
	Workers             int     `yaml:"workers" json:"workers"` // parallel refinements in exhaustive mode
}

// DefaultAlignerConfig returns sensible defaults
func DefaultAlignerConfig() AlignerConfig {
	return AlignerConfig{
		PerformAlignment:    true,
		OptimizeOverlap:     true,
		CalcColorOverlap:    false,
		GreedyOptimization:  false,
		BestResultPerAnchor: false,
		MaxIterations:       20,
		StopGradientNorm:    1.0,
		LineSearchTolerance: DefaultLineSearchTolerance,
		Workers:             1,
	}
}

// Aligner finds rigid transforms that maximize the overlap of a movable shape
// with a fixed reference shape. Results of the last Align call are kept in an
// append-only ledger.
//
// The reference shape, overlap function and start generator are borrowed and
// must outlive Align calls. With Workers > 1 the overlap function is called
// from several goroutines and must tolerate concurrent evaluation.
type Aligner struct {
	Config AlignerConfig

	overlapFunc    OverlapFunction
	defOverlapFunc *FastOverlapFunction
	startGen       StartGenerator
	defStartGen    *PrincipalAxesStartGenerator
	newMinimizer   MinimizerFactory

	ref    *ShapeFunction
	refSym SymmetryClass

	results     []Result
	startCoords []r3.Vec
	workers     []*alignWorker
	workersTol  float64 // line search tolerance the default minimizers were built with
}

// NewAligner creates an aligner with the default overlap function and a
// principal-axes start generator configured by startConfig
func NewAligner(config AlignerConfig, startConfig StartGenConfig) *Aligner {
	return &Aligner{
		Config:         config,
		defOverlapFunc: NewFastOverlapFunction(),
		defStartGen:    NewPrincipalAxesStartGenerator(startConfig),
	}
}

// SetOverlapFunction swaps the overlap strategy; nil restores the default
func (a *Aligner) SetOverlapFunction(f OverlapFunction) {
	a.overlapFunc = f
	if a.ref != nil {
		a.overlapFunction().SetShapeFunction(a.ref, true)
	}
}

// OverlapFunction returns the active overlap strategy
func (a *Aligner) OverlapFunction() OverlapFunction {
	return a.overlapFunction()
}

func (a *Aligner) overlapFunction() OverlapFunction {
	if a.overlapFunc != nil {
		return a.overlapFunc
	}
	if a.defOverlapFunc == nil {
		a.defOverlapFunc = NewFastOverlapFunction()
	}
	return a.defOverlapFunc
}

// SetStartGenerator swaps the start pose strategy; nil restores the default
func (a *Aligner) SetStartGenerator(g StartGenerator) {
	a.startGen = g
	if a.ref != nil {
		a.startGenerator().SetReference(a.ref, a.refSym)
	}
}

// StartGenerator returns the active start pose strategy
func (a *Aligner) StartGenerator() StartGenerator {
	return a.startGenerator()
}

func (a *Aligner) startGenerator() StartGenerator {
	if a.startGen != nil {
		return a.startGen
	}
	if a.defStartGen == nil {
		a.defStartGen = NewPrincipalAxesStartGenerator(DefaultStartGenConfig())
	}
	return a.defStartGen
}

// SetMinimizerFactory swaps the minimizer; nil restores BFGS
func (a *Aligner) SetMinimizerFactory(f MinimizerFactory) {
	a.newMinimizer = f
	a.workers = nil
}

// SetColorMatchFunction sets the color match rule of the default overlap
// function and of the active one if it supports color rules
func (a *Aligner) SetColorMatchFunction(f ColorMatchFunc) {
	if a.defOverlapFunc == nil {
		a.defOverlapFunc = NewFastOverlapFunction()
	}
	a.defOverlapFunc.ColorMatch = f
	if r, ok := a.overlapFunc.(interface{ SetColorMatchFunction(ColorMatchFunc) }); ok {
		r.SetColorMatchFunction(f)
	}
}

// SetColorFilterFunction sets the color filter of the default overlap
// function and of the active one if it supports color rules
func (a *Aligner) SetColorFilterFunction(f ColorFilterFunc) {
	if a.defOverlapFunc == nil {
		a.defOverlapFunc = NewFastOverlapFunction()
	}
	a.defOverlapFunc.ColorFilter = f
	if r, ok := a.overlapFunc.(interface{ SetColorFilterFunction(ColorFilterFunc) }); ok {
		r.SetColorFilterFunction(f)
	}
}

// SetupReference centers sf with the active start generator
func (a *Aligner) SetupReference(sf *ShapeFunction) (SymmetryClass, Matrix4D, error) {
	return a.startGenerator().SetupReference(sf)
}

// SetupAligned centers a movable shape with the active start generator
func (a *Aligner) SetupAligned(sf *ShapeFunction) (SymmetryClass, Matrix4D, error) {
	return a.startGenerator().SetupAligned(sf)
}

// SetReference sets the fixed shape subsequent Align calls align onto
func (a *Aligner) SetReference(sf *ShapeFunction, sym SymmetryClass) {
	a.ref = sf
	a.refSym = sym
	a.overlapFunction().SetShapeFunction(sf, true)
	a.startGenerator().SetReference(sf, sym)
}

// Reference returns the current reference shape and its symmetry class
func (a *Aligner) Reference() (*ShapeFunction, SymmetryClass) {
	return a.ref, a.refSym
}

// NumResults returns the size of the result ledger
func (a *Aligner) NumResults() int {
	return len(a.results)
}

// Result returns the idx-th result of the last Align call
func (a *Aligner) Result(idx int) (Result, error) {
	if idx < 0 || idx >= len(a.results) {
		return Result{}, fmt.Errorf("result %d of %d: %w", idx, len(a.results), ErrIndexOutOfRange)
	}
	return a.results[idx], nil
}

// Results iterates over the result ledger in insertion order
func (a *Aligner) Results() iter.Seq2[int, Result] {
	return func(yield func(int, Result) bool) {
		for i, r := range a.results {
			if !yield(i, r) {
				return
			}
		}
	}
}

// Align aligns sf (with symmetry class sym) onto the reference and fills the
// result ledger. The ledger is cleared first and stays empty on error.
func (a *Aligner) Align(sf *ShapeFunction, sym SymmetryClass) error {
	a.results = a.results[:0]

	if a.ref == nil {
		return ErrNoReference
	}
	if a.ref.NumElements() == 0 || sf.NumElements() == 0 {
		return ErrEmptyShape
	}

	ovl := a.overlapFunction()
	ovl.SetShapeFunction(sf, false)
	a.startCoords = sf.Positions(a.startCoords)

	base := Result{
		ReferenceSelfOverlap: ovl.SelfOverlap(true),
		AlignedSelfOverlap:   ovl.SelfOverlap(false),
		StartIndex:           -1,
	}
	if a.Config.CalcColorOverlap {
		base.ReferenceColorSelfOverlap = ovl.ColorSelfOverlap(true)
		base.AlignedColorSelfOverlap = ovl.ColorSelfOverlap(false)
	}

	if !a.Config.PerformAlignment {
		res := base
		res.Transform = IdentityMatrix()
		res.Overlap = ovl.Overlap(a.startCoords)
		if a.Config.CalcColorOverlap {
			res.ColorOverlap = ovl.ColorOverlap(a.startCoords)
		}
		a.results = append(a.results, res)
		return nil
	}

	gen := a.startGenerator()
	if err := gen.Generate(sf, sym); err != nil {
		return fmt.Errorf("generating start poses for %q: %w", sf.Name, err)
	}
	starts := gen.StartTransforms()
	bucketSize := gen.NumStartSubTransforms()
	if bucketSize <= 0 {
		bucketSize = 1
	}

	workers := a.prepareWorkers(ovl)

	switch {
	case !a.Config.OptimizeOverlap:
		a.evaluateStarts(workers[0], base, starts, bucketSize)
	case a.Config.GreedyOptimization:
		a.alignGreedy(workers[0], base, starts, bucketSize)
	default:
		if err := a.alignExhaustive(workers, base, starts, bucketSize); err != nil {
			a.results = a.results[:0]
			return err
		}
	}
	return nil
}

// evaluateStarts scores every start pose without refinement. With greedy or
// per-anchor selection only the best pose of each anchor bucket is kept.
func (a *Aligner) evaluateStarts(w *alignWorker, base Result, starts []QuaternionTransformation, bucketSize int) {
	perBucket := a.Config.GreedyOptimization || a.Config.BestResultPerAnchor

	for offset := 0; offset < len(starts); offset += bucketSize {
		end := min(offset+bucketSize, len(starts))
		var best *Result
		for i := offset; i < end; i++ {
			res, ok := w.finish(a, base, starts[i], i)
			if !ok {
				continue
			}
			if !perBucket {
				a.results = append(a.results, res)
				continue
			}
			if best == nil || betterResult(res, *best) {
				best = &res
			}
		}
		if best != nil {
			a.results = append(a.results, *best)
		}
	}
}

// alignGreedy pre-screens each anchor bucket by unrefined overlap and refines
// only its best start
func (a *Aligner) alignGreedy(w *alignWorker, base Result, starts []QuaternionTransformation, bucketSize int) {
	for offset := 0; offset < len(starts); offset += bucketSize {
		end := min(offset+bucketSize, len(starts))
		bestIdx := -1
		bestOverlap := 0.0
		for i := offset; i < end; i++ {
			overlap := w.startOverlap(starts[i])
			if !isFinite(overlap) {
				continue
			}
			if bestIdx < 0 || overlap > bestOverlap {
				bestIdx, bestOverlap = i, overlap
			}
		}
		if bestIdx < 0 {
			continue
		}
		if res, ok := w.refine(a, base, starts[bestIdx], bestIdx); ok {
			a.results = append(a.results, res)
		}
	}
}

// alignExhaustive refines every start. Refinements run on up to len(workers)
// goroutines; results are merged in start order.
func (a *Aligner) alignExhaustive(workers []*alignWorker, base Result, starts []QuaternionTransformation, bucketSize int) error {
	refined := make([]Result, len(starts))
	valid := make([]bool, len(starts))

	if len(workers) == 1 {
		for i, start := range starts {
			refined[i], valid[i] = workers[0].refine(a, base, start, i)
		}
	} else {
		pool := make(chan *alignWorker, len(workers))
		for _, w := range workers {
			pool <- w
		}
		var g errgroup.Group
		g.SetLimit(len(workers))
		for i, start := range starts {
			g.Go(func() error {
				w := <-pool
				defer func() { pool <- w }()
				refined[i], valid[i] = w.refine(a, base, start, i)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("refining start poses: %w", err)
		}
	}

	for offset := 0; offset < len(starts); offset += bucketSize {
		end := min(offset+bucketSize, len(starts))
		bestIdx := -1
		for i := offset; i < end; i++ {
			if !valid[i] {
				continue
			}
			if !a.Config.BestResultPerAnchor {
				a.results = append(a.results, refined[i])
				continue
			}
			if bestIdx < 0 || betterResult(refined[i], refined[bestIdx]) {
				bestIdx = i
			}
		}
		if bestIdx >= 0 {
			a.results = append(a.results, refined[bestIdx])
		}
	}
	return nil
}

// betterResult orders results by total (shape + color) overlap
func betterResult(r, than Result) bool {
	return r.Overlap+r.ColorOverlap > than.Overlap+than.ColorOverlap
}

// prepareWorkers returns at least one worker bound to ovl, creating up to
// Config.Workers of them for exhaustive refinement
func (a *Aligner) prepareWorkers(ovl OverlapFunction) []*alignWorker {
	n := a.Config.Workers
	if n < 1 || !a.Config.OptimizeOverlap || a.Config.GreedyOptimization {
		n = 1
	}
	factory := a.newMinimizer
	if factory == nil {
		if a.workersTol != a.Config.LineSearchTolerance {
			a.workers = nil
		}
		a.workersTol = a.Config.LineSearchTolerance
		factory = BFGSFactory(a.Config.LineSearchTolerance)
	}
	for len(a.workers) < n {
		a.workers = append(a.workers, newAlignWorker(factory))
	}
	for _, w := range a.workers[:n] {
		w.objective.overlap = ovl
		w.objective.reset(a.startCoords)
	}
	return a.workers[:n]
}

// alignWorker owns the buffers and minimizer of one refinement at a time
type alignWorker struct {
	objective *alignObjective
	minimizer Minimizer
	x         []float64
	coords    []r3.Vec
}

func newAlignWorker(factory MinimizerFactory) *alignWorker {
	obj := newAlignObjective(nil)
	return &alignWorker{
		objective: obj,
		minimizer: factory(obj.Value, obj.Gradient),
		x:         make([]float64, 7),
	}
}

// startOverlap returns the unrefined overlap of a start pose
func (w *alignWorker) startOverlap(start QuaternionTransformation) float64 {
	m := QuaternionToMatrix(start.Normalize())
	w.coords = TransformCoords(w.coords, m, w.objective.startCoords)
	return w.objective.overlap.Overlap(w.coords)
}

// refine minimizes the objective from start and converts the optimum into a
// Result. Non-finite optima are rejected.
func (w *alignWorker) refine(a *Aligner, base Result, start QuaternionTransformation, idx int) (Result, bool) {
	copy(w.x, start[:])
	// Line search failures still leave the best iterate in w.x
	if _, err := w.minimizer.Minimize(w.x, a.Config.MaxIterations, a.Config.StopGradientNorm); err != nil && !isFinite(w.x...) {
		return Result{}, false
	}
	if !isFinite(w.minimizer.FunctionValue()) {
		return Result{}, false
	}
	var xform QuaternionTransformation
	copy(xform[:], w.x)
	return w.finish(a, base, xform, idx)
}

// finish normalizes xform, moves the aligned shape and records its overlaps
func (w *alignWorker) finish(a *Aligner, base Result, xform QuaternionTransformation, idx int) (Result, bool) {
	normalized := xform.Normalize()
	if !isFinite(normalized[:]...) {
		return Result{}, false
	}
	ovl := w.objective.overlap
	res := base
	res.StartIndex = idx
	res.Transform = QuaternionToMatrix(normalized)
	w.coords = TransformCoords(w.coords, res.Transform, w.objective.startCoords)
	res.Overlap = ovl.Overlap(w.coords)
	if a.Config.CalcColorOverlap {
		res.ColorOverlap = ovl.ColorOverlap(w.coords)
	}
	if !isFinite(res.Overlap, res.ColorOverlap) {
		return Result{}, false
	}
	return res, true
}
