package shape

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultHitReportPath is the default path of the JSON hit report
const DefaultHitReportPath = "hits.json"

// HitReport is the JSON export of one screening run
type HitReport struct {
	RunID       string   `json:"runId"`
	References  []string `json:"references"`
	Scoring     string   `json:"scoring"`
	Mode        string   `json:"mode"`
	Hits        []Hit    `json:"hits"`
	LastUpdated int64    `json:"lastUpdated"`
}

// NewHitReport creates an empty report for a run over the processor's references
func NewHitReport(runID string, p *ScreeningProcessor) *HitReport {
	report := &HitReport{
		RunID:   runID,
		Scoring: p.Config.ScoringFunction.String(),
		Mode:    p.Config.Mode.String(),
	}
	for _, ref := range p.refs {
		report.References = append(report.References, ref.original.Name)
	}
	return report
}

// BestHit returns the highest scoring hit of the report
func (r *HitReport) BestHit() (Hit, bool) {
	if r == nil || len(r.Hits) == 0 {
		return Hit{}, false
	}
	best := r.Hits[0]
	for _, h := range r.Hits[1:] {
		if h.Score > best.Score {
			best = h
		}
	}
	return best, true
}

// LoadHitReport loads a hit report from a JSON file.
// A missing file is not an error and yields a nil report.
func LoadHitReport(path string) (*HitReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading hit report: %w", err)
	}

	var report HitReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("parsing hit report: %w", err)
	}

	return &report, nil
}

// SaveHitReport writes a hit report as indented JSON
func SaveHitReport(path string, report *HitReport) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	report.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling hit report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing hit report: %w", err)
	}

	return nil
}
