package shape

import (
	"log"
	"sort"
	"sync"
	"time"
)

// CandidateHits are the latest screening hits of one candidate
type CandidateHits struct {
	Name       string           `json:"name"`
	Hits       []Hit            `json:"hits"`
	Conformers []*ShapeFunction `json:"-"`
	Timestamp  time.Time        `json:"timestamp"`
}

// HitTracker tracks the latest hits per candidate for HTTP endpoints
type HitTracker struct {
	mu         sync.RWMutex
	candidates map[string]*CandidateHits
	runID      string
	describe   HitReport // references, scoring and mode copied into reports
	reportPath string    // JSON hit report written on every update; empty disables persistence
}

// NewHitTracker creates a new hit tracker for a screening run
func NewHitTracker(runID string) *HitTracker {
	return &HitTracker{
		candidates: make(map[string]*CandidateHits),
		runID:      runID,
	}
}

// NewHitTrackerWithReport creates a tracker that keeps a JSON hit report at
// reportPath up to date. Hits of an existing report are loaded on creation.
func NewHitTrackerWithReport(runID, reportPath string) *HitTracker {
	ht := NewHitTracker(runID)
	ht.reportPath = reportPath
	if reportPath != "" {
		if report, err := LoadHitReport(reportPath); err == nil && report != nil {
			for _, h := range report.Hits {
				ch := ht.entry(h.CandidateName)
				ch.Hits = append(ch.Hits, h)
				ch.Timestamp = time.Unix(report.LastUpdated, 0)
			}
		}
	}
	return ht
}

func (ht *HitTracker) entry(name string) *CandidateHits {
	ch, ok := ht.candidates[name]
	if !ok {
		ch = &CandidateHits{Name: name}
		ht.candidates[name] = ch
	}
	return ch
}

// RunID returns the screening run the tracker records
func (ht *HitTracker) RunID() string {
	return ht.runID
}

// Describe records the processor settings reported alongside the hits
func (ht *HitTracker) Describe(p *ScreeningProcessor) {
	d := NewHitReport(ht.runID, p)
	ht.mu.Lock()
	defer ht.mu.Unlock()
	ht.describe = *d
}

// Update replaces the hits of a candidate
func (ht *HitTracker) Update(name string, conformers []*ShapeFunction, hits []Hit) {
	ht.mu.Lock()
	ch := ht.entry(name)
	ch.Hits = append([]Hit(nil), hits...)
	ch.Conformers = conformers
	ch.Timestamp = time.Now()
	path := ht.reportPath
	var report *HitReport
	if path != "" {
		report = ht.reportLocked()
	}
	ht.mu.Unlock()

	if report != nil {
		if err := SaveHitReport(path, report); err != nil {
			log.Printf("[SCREEN] Failed to save hit report: %v", err)
		}
	}
}

// Get returns the latest hits of a candidate
func (ht *HitTracker) Get(name string) (CandidateHits, bool) {
	ht.mu.RLock()
	defer ht.mu.RUnlock()

	ch, ok := ht.candidates[name]
	if !ok {
		return CandidateHits{}, false
	}
	c := *ch
	c.Hits = append([]Hit(nil), ch.Hits...)
	return c, true
}

// Names returns the tracked candidate names in sorted order
func (ht *HitTracker) Names() []string {
	ht.mu.RLock()
	defer ht.mu.RUnlock()

	names := make([]string, 0, len(ht.candidates))
	for name := range ht.candidates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllHits returns every tracked hit by descending score
func (ht *HitTracker) AllHits() []Hit {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	return ht.allHitsLocked()
}

func (ht *HitTracker) allHitsLocked() []Hit {
	var hits []Hit
	for _, ch := range ht.candidates {
		hits = append(hits, ch.Hits...)
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].CandidateName < hits[j].CandidateName
	})
	return hits
}

// Best returns the highest scoring tracked hit and its candidate's conformers
func (ht *HitTracker) Best() (Hit, []*ShapeFunction, bool) {
	ht.mu.RLock()
	defer ht.mu.RUnlock()

	hits := ht.allHitsLocked()
	if len(hits) == 0 {
		return Hit{}, nil, false
	}
	best := hits[0]
	return best, ht.candidates[best.CandidateName].Conformers, true
}

// Report snapshots the tracked hits as a HitReport
func (ht *HitTracker) Report() *HitReport {
	ht.mu.RLock()
	defer ht.mu.RUnlock()
	return ht.reportLocked()
}

func (ht *HitTracker) reportLocked() *HitReport {
	report := ht.describe
	report.RunID = ht.runID
	report.References = append([]string(nil), ht.describe.References...)
	report.Hits = ht.allHitsLocked()
	return &report
}
