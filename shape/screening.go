package shape

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
)

// ScreeningMode selects which hits a screening run reports per candidate
type ScreeningMode int

const (
	BestOverallMatch      ScreeningMode = iota // one hit per candidate
	BestMatchPerReference                      // one hit per candidate and reference
	BestMatchPerConformer                      // one hit per candidate conformer and reference
)

var screeningModeNames = map[ScreeningMode]string{
	BestOverallMatch:      "bestOverall",
	BestMatchPerReference: "bestPerReference",
	BestMatchPerConformer: "bestPerConformer",
}

func (m ScreeningMode) String() string {
	if name, ok := screeningModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ScreeningMode(%d)", int(m))
}

// MarshalText encodes the mode by name
func (m ScreeningMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name (case-insensitive)
func (m *ScreeningMode) UnmarshalText(text []byte) error {
	name := strings.TrimSpace(string(text))
	for mode, n := range screeningModeNames {
		if strings.EqualFold(n, name) {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown screening mode %q", string(text))
}

// ScreeningConfig holds hit selection settings
type ScreeningConfig struct {
	ScoringFunction ScoringFunction `yaml:"scoringFunction" json:"scoringFunction"`
	Mode            ScreeningMode   `yaml:"mode" json:"mode"`
	ScoreCutoff     float64         `yaml:"scoreCutoff" json:"scoreCutoff"` // hits scoring below are dropped
}

// DefaultScreeningConfig returns TanimotoCombo / best overall match settings
func DefaultScreeningConfig() ScreeningConfig {
	return ScreeningConfig{
		ScoringFunction: ScoreTanimotoCombo,
		Mode:            BestOverallMatch,
		ScoreCutoff:     0,
	}
}

// Hit is a scored alignment of a candidate conformer onto a reference
type Hit struct {
	ReferenceIndex int     `json:"referenceIndex"`
	ReferenceName  string  `json:"referenceName"`
	CandidateName  string  `json:"candidateName"`
	ConformerIndex int     `json:"conformerIndex"`
	Score          float64 `json:"score"`
	Result         Result  `json:"result"` // in the principal frames of both shapes

	// Transform maps the original candidate coordinates onto the original
	// reference coordinates
	Transform Matrix4D `json:"transform"`
}

// Apply returns a copy of the hit's original candidate conformer moved into
// the original reference frame
func (h Hit) Apply(conformer *ShapeFunction) *ShapeFunction {
	moved := conformer.Clone()
	moved.Transform(h.Transform)
	return moved
}

type screeningReference struct {
	shape     *ShapeFunction // centered copy
	original  *ShapeFunction
	sym       SymmetryClass
	centering Matrix4D
}

// ScreeningProcessor aligns candidate conformers against a set of reference
// shapes and reports the best scoring alignments
type ScreeningProcessor struct {
	Config ScreeningConfig

	aligner *Aligner
	refs    []screeningReference
}

// NewScreeningProcessor creates a processor over an aligner configured with
// the given alignment and start generation settings
func NewScreeningProcessor(config ScreeningConfig, alignConfig AlignerConfig, startConfig StartGenConfig) *ScreeningProcessor {
	if config.ScoringFunction.UsesColor() {
		alignConfig.CalcColorOverlap = true
	}
	return &ScreeningProcessor{
		Config:  config,
		aligner: NewAligner(alignConfig, startConfig),
	}
}

// Aligner exposes the underlying aligner for strategy customization
func (p *ScreeningProcessor) Aligner() *Aligner {
	return p.aligner
}

// AddReference centers a copy of sf and adds it to the reference set
func (p *ScreeningProcessor) AddReference(sf *ShapeFunction) error {
	centered := sf.Clone()
	sym, centering, err := p.aligner.SetupReference(centered)
	if err != nil {
		return fmt.Errorf("setting up reference %q: %w", sf.Name, err)
	}
	p.refs = append(p.refs, screeningReference{
		shape:     centered,
		original:  sf,
		sym:       sym,
		centering: centering,
	})
	return nil
}

// NumReferences returns the number of reference shapes
func (p *ScreeningProcessor) NumReferences() int {
	return len(p.refs)
}

// ReferenceShape returns the original (uncentered) i-th reference
func (p *ScreeningProcessor) ReferenceShape(i int) (*ShapeFunction, error) {
	if i < 0 || i >= len(p.refs) {
		return nil, fmt.Errorf("reference %d of %d: %w", i, len(p.refs), ErrIndexOutOfRange)
	}
	return p.refs[i].original, nil
}

// Process aligns every conformer of one candidate against all references and
// returns the selected hits sorted by descending score
func (p *ScreeningProcessor) Process(name string, conformers []*ShapeFunction) ([]Hit, error) {
	if len(p.refs) == 0 {
		return nil, ErrNoReference
	}

	var perConformer []Hit
	for ci, conf := range conformers {
		cand := conf.Clone()
		sym, candCentering, err := p.aligner.SetupAligned(cand)
		if err != nil {
			if errors.Is(err, ErrEmptyShape) {
				log.Printf("[SCREEN] Skipping empty conformer %d of %s", ci, name)
				continue
			}
			return nil, fmt.Errorf("setting up conformer %d of %q: %w", ci, name, err)
		}

		for ri, ref := range p.refs {
			p.aligner.SetReference(ref.shape, ref.sym)
			if err := p.aligner.Align(cand, sym); err != nil {
				return nil, fmt.Errorf("aligning %q conformer %d onto %q: %w", name, ci, ref.original.Name, err)
			}

			best, ok := p.bestResult()
			if !ok {
				continue
			}
			perConformer = append(perConformer, Hit{
				ReferenceIndex: ri,
				ReferenceName:  ref.original.Name,
				CandidateName:  name,
				ConformerIndex: ci,
				Score:          p.Config.ScoringFunction.Score(best),
				Result:         best,
				Transform:      MultiplyMatrices(InvertRigid(ref.centering), MultiplyMatrices(best.Transform, candCentering)),
			})
		}
	}

	return p.selectHits(perConformer), nil
}

// bestResult returns the ledger entry with the highest score
func (p *ScreeningProcessor) bestResult() (Result, bool) {
	var best Result
	bestScore := 0.0
	found := false
	for _, r := range p.aligner.Results() {
		score := p.Config.ScoringFunction.Score(r)
		if !found || score > bestScore {
			best, bestScore, found = r, score, true
		}
	}
	return best, found
}

// selectHits applies the screening mode and score cutoff
func (p *ScreeningProcessor) selectHits(hits []Hit) []Hit {
	selected := make([]Hit, 0, len(hits))

	switch p.Config.Mode {
	case BestMatchPerConformer:
		selected = append(selected, hits...)
	case BestMatchPerReference:
		bestByRef := make(map[int]int)
		for i, h := range hits {
			if j, ok := bestByRef[h.ReferenceIndex]; !ok || h.Score > hits[j].Score {
				bestByRef[h.ReferenceIndex] = i
			}
		}
		for _, i := range bestByRef {
			selected = append(selected, hits[i])
		}
	default:
		bestIdx := -1
		for i, h := range hits {
			if bestIdx < 0 || h.Score > hits[bestIdx].Score {
				bestIdx = i
			}
		}
		if bestIdx >= 0 {
			selected = append(selected, hits[bestIdx])
		}
	}

	filtered := selected[:0]
	for _, h := range selected {
		if h.Score >= p.Config.ScoreCutoff {
			filtered = append(filtered, h)
		}
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		if filtered[i].Score != filtered[j].Score {
			return filtered[i].Score > filtered[j].Score
		}
		if filtered[i].ReferenceIndex != filtered[j].ReferenceIndex {
			return filtered[i].ReferenceIndex < filtered[j].ReferenceIndex
		}
		return filtered[i].ConformerIndex < filtered[j].ConformerIndex
	})
	return filtered
}
