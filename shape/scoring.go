package shape

import (
	"fmt"
	"strings"
)

// DefaultTverskyAlpha weights the favored shape in Tversky scores
const DefaultTverskyAlpha = 0.95

// ScoringFunction turns the overlaps of a Result into a similarity score
type ScoringFunction int

const (
	ScoreTanimotoCombo ScoringFunction = iota
	ScoreShapeTanimoto
	ScoreColorTanimoto
	ScoreReferenceTversky
	ScoreAlignedTversky
	ScoreReferenceTverskyCombo
	ScoreAlignedTverskyCombo
	ScoreTotalOverlap
)

var scoringNames = map[ScoringFunction]string{
	ScoreTanimotoCombo:         "tanimotoCombo",
	ScoreShapeTanimoto:         "shapeTanimoto",
	ScoreColorTanimoto:         "colorTanimoto",
	ScoreReferenceTversky:      "referenceTversky",
	ScoreAlignedTversky:        "alignedTversky",
	ScoreReferenceTverskyCombo: "referenceTverskyCombo",
	ScoreAlignedTverskyCombo:   "alignedTverskyCombo",
	ScoreTotalOverlap:          "totalOverlap",
}

func (s ScoringFunction) String() string {
	if name, ok := scoringNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ScoringFunction(%d)", int(s))
}

// MarshalText encodes the scoring function by name
func (s ScoringFunction) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a scoring function name (case-insensitive)
func (s *ScoringFunction) UnmarshalText(text []byte) error {
	name := strings.TrimSpace(string(text))
	for fn, n := range scoringNames {
		if strings.EqualFold(n, name) {
			*s = fn
			return nil
		}
	}
	return fmt.Errorf("unknown scoring function %q", string(text))
}

// UsesColor reports whether the score needs color overlaps
func (s ScoringFunction) UsesColor() bool {
	switch s {
	case ScoreShapeTanimoto, ScoreReferenceTversky, ScoreAlignedTversky:
		return false
	}
	return true
}

// Score evaluates the scoring function on r
func (s ScoringFunction) Score(r Result) float64 {
	switch s {
	case ScoreShapeTanimoto:
		return ShapeTanimoto(r)
	case ScoreColorTanimoto:
		return ColorTanimoto(r)
	case ScoreReferenceTversky:
		return tversky(r.Overlap, r.ReferenceSelfOverlap, r.AlignedSelfOverlap, DefaultTverskyAlpha)
	case ScoreAlignedTversky:
		return tversky(r.Overlap, r.AlignedSelfOverlap, r.ReferenceSelfOverlap, DefaultTverskyAlpha)
	case ScoreReferenceTverskyCombo:
		return tversky(r.Overlap, r.ReferenceSelfOverlap, r.AlignedSelfOverlap, DefaultTverskyAlpha) +
			tversky(r.ColorOverlap, r.ReferenceColorSelfOverlap, r.AlignedColorSelfOverlap, DefaultTverskyAlpha)
	case ScoreAlignedTverskyCombo:
		return tversky(r.Overlap, r.AlignedSelfOverlap, r.ReferenceSelfOverlap, DefaultTverskyAlpha) +
			tversky(r.ColorOverlap, r.AlignedColorSelfOverlap, r.ReferenceColorSelfOverlap, DefaultTverskyAlpha)
	case ScoreTotalOverlap:
		return r.Overlap + r.ColorOverlap
	}
	return ShapeTanimoto(r) + ColorTanimoto(r)
}

// ShapeTanimoto is O / (Sref + Salgd - O)
func ShapeTanimoto(r Result) float64 {
	return tanimoto(r.Overlap, r.ReferenceSelfOverlap, r.AlignedSelfOverlap)
}

// ColorTanimoto is the Tanimoto of the color overlaps
func ColorTanimoto(r Result) float64 {
	return tanimoto(r.ColorOverlap, r.ReferenceColorSelfOverlap, r.AlignedColorSelfOverlap)
}

func tanimoto(overlap, selfA, selfB float64) float64 {
	denom := selfA + selfB - overlap
	if denom <= 0 {
		return 0
	}
	return overlap / denom
}

func tversky(overlap, favored, other, alpha float64) float64 {
	denom := alpha*favored + (1-alpha)*other
	if denom <= 0 {
		return 0
	}
	return overlap / denom
}
