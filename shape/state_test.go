package shape

import (
	"path/filepath"
	"sync"
	"testing"
)

func TestHitTracker_UpdateAndGet(t *testing.T) {
	ht := NewHitTracker("run-x")
	if ht.RunID() != "run-x" {
		t.Errorf("RunID = %q, want run-x", ht.RunID())
	}

	if _, ok := ht.Get("c1"); ok {
		t.Error("Get on empty tracker should report false")
	}

	conformers := []*ShapeFunction{irregularShape("c1")}
	hits := sampleHits()[:2]
	ht.Update("c1", conformers, hits)

	ch, ok := ht.Get("c1")
	if !ok {
		t.Fatal("Get(c1) returned false after Update")
	}
	if len(ch.Hits) != 2 {
		t.Errorf("len(Hits) = %d, want 2", len(ch.Hits))
	}
	if len(ch.Conformers) != 1 || ch.Conformers[0] != conformers[0] {
		t.Error("Conformers should be the updated slice")
	}
	if ch.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}

	// Get returns a copy of the hits
	ch.Hits[0].Score = -1
	again, _ := ht.Get("c1")
	if again.Hits[0].Score == -1 {
		t.Error("modifying returned hits changed the tracker")
	}

	// Update replaces, it does not append
	ht.Update("c1", conformers, hits[:1])
	again, _ = ht.Get("c1")
	if len(again.Hits) != 1 {
		t.Errorf("len(Hits) after replace = %d, want 1", len(again.Hits))
	}
}

func TestHitTracker_NamesAndAllHits(t *testing.T) {
	ht := NewHitTracker("run")
	all := sampleHits()
	ht.Update("c2", nil, all[2:])
	ht.Update("c1", nil, all[:2])
	ht.Update("c3", nil, nil)

	names := ht.Names()
	want := []string{"c1", "c2", "c3"}
	if len(names) != len(want) {
		t.Fatalf("Names = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], want[i])
		}
	}

	hits := ht.AllHits()
	if len(hits) != 3 {
		t.Fatalf("len(AllHits) = %d, want 3", len(hits))
	}
	for i := 1; i < len(hits); i++ {
		if hits[i].Score > hits[i-1].Score {
			t.Errorf("AllHits not sorted by score: %v then %v", hits[i-1].Score, hits[i].Score)
		}
	}
}

func TestHitTracker_Best(t *testing.T) {
	ht := NewHitTracker("run")
	if _, _, ok := ht.Best(); ok {
		t.Error("Best on empty tracker should report false")
	}

	all := sampleHits()
	c1 := []*ShapeFunction{irregularShape("c1")}
	c2 := []*ShapeFunction{irregularShape("c2")}
	ht.Update("c1", c1, all[:2])
	ht.Update("c2", c2, all[2:])

	best, conformers, ok := ht.Best()
	if !ok {
		t.Fatal("Best returned false")
	}
	if best.Score != 0.9 {
		t.Errorf("best score = %v, want 0.9", best.Score)
	}
	if len(conformers) != 1 || conformers[0] != c1[0] {
		t.Error("Best should return the conformers of the best candidate")
	}
}

func TestHitTracker_Report(t *testing.T) {
	p := newShapeProcessor(t, BestMatchPerConformer, irregularShape("ref-a"))
	ht := NewHitTracker("run-r")
	ht.Describe(p)
	ht.Update("c1", nil, sampleHits())

	report := ht.Report()
	if report.RunID != "run-r" {
		t.Errorf("RunID = %q, want run-r", report.RunID)
	}
	if report.Mode != "bestPerConformer" || report.Scoring != "shapeTanimoto" {
		t.Errorf("Mode/Scoring = %q/%q", report.Mode, report.Scoring)
	}
	if len(report.References) != 1 || report.References[0] != "ref-a" {
		t.Errorf("References = %v, want [ref-a]", report.References)
	}
	if len(report.Hits) != 3 || report.Hits[0].Score != 0.9 {
		t.Errorf("Hits = %+v, want 3 hits led by 0.9", report.Hits)
	}
}

func TestHitTracker_PersistsReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hits.json")

	ht := NewHitTrackerWithReport("run-p", path)
	ht.Update("c1", nil, sampleHits()[:2])
	ht.Update("c2", nil, sampleHits()[2:])

	saved, err := LoadHitReport(path)
	if err != nil {
		t.Fatalf("LoadHitReport: %v", err)
	}
	if saved == nil || len(saved.Hits) != 3 {
		t.Fatalf("saved report = %+v, want 3 hits", saved)
	}

	// A new tracker picks the hits back up
	restored := NewHitTrackerWithReport("run-q", path)
	ch, ok := restored.Get("c1")
	if !ok || len(ch.Hits) != 2 {
		t.Errorf("restored c1 = %+v, %v; want 2 hits", ch, ok)
	}
	if names := restored.Names(); len(names) != 2 {
		t.Errorf("restored names = %v, want [c1 c2]", names)
	}
}

func TestHitTracker_ConcurrentUpdates(t *testing.T) {
	ht := NewHitTracker("run")
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := []string{"a", "b", "c", "d"}[i%4]
			ht.Update(name, nil, sampleHits())
			_ = ht.AllHits()
			_, _, _ = ht.Best()
		}(i)
	}
	wg.Wait()

	if n := len(ht.Names()); n != 4 {
		t.Errorf("len(Names) = %d, want 4", n)
	}
}
