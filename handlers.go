package main

import (
	"bytes"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kwv/shapealign/shape"
)

// maxAlignBody bounds POST /align payloads
const maxAlignBody = 8 << 20

type screenFunc func(c shape.Candidate) ([]shape.Hit, error)

type referenceFunc func(i int) (*shape.ShapeFunction, error)

// candidateResult is one entry of the /align response
type candidateResult struct {
	Name string      `json:"name"`
	Hits []shape.Hit `json:"hits"`
}

// newHTTPServer creates an HTTP server with all endpoints
func newHTTPServer(tracker *shape.HitTracker, screen screenFunc, reference referenceFunc, render shape.RenderConfig) http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[HTTP] /health request from %s", r.RemoteAddr)
		w.Header().Set("Content-Type", "application/json")
		status := struct {
			Status     string    `json:"status"`
			Timestamp  time.Time `json:"timestamp"`
			RunID      string    `json:"runId"`
			Candidates int       `json:"candidates"`
		}{
			Status:     "ok",
			Timestamp:  time.Now(),
			RunID:      tracker.RunID(),
			Candidates: len(tracker.Names()),
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("Error encoding health status: %v", err)
		}
	})

	// Screen candidates posted as shape JSON
	mux.HandleFunc("/align", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxAlignBody))
		if err != nil {
			http.Error(w, "Error reading request body", http.StatusBadRequest)
			return
		}
		shapes, err := shape.ParseShapes(body)
		if err != nil {
			http.Error(w, "Invalid shape JSON: "+err.Error(), http.StatusBadRequest)
			return
		}

		candidates := shape.GroupConformers(shapes)
		results := make([]candidateResult, 0, len(candidates))
		for _, c := range candidates {
			hits, err := screen(c)
			if err != nil {
				log.Printf("[HTTP] /align failed for %s: %v", c.Name, err)
				http.Error(w, "Screening failed: "+err.Error(), http.StatusInternalServerError)
				return
			}
			if hits == nil {
				hits = []shape.Hit{}
			}
			results = append(results, candidateResult{Name: c.Name, Hits: hits})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]interface{}{"candidates": results}); err != nil {
			log.Printf("Error encoding align response: %v", err)
		}
	})

	// Latest hits, all or for one candidate
	mux.HandleFunc("/hits", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache")

		if name := r.URL.Query().Get("candidate"); name != "" {
			ch, ok := tracker.Get(name)
			if !ok {
				http.Error(w, "Unknown candidate", http.StatusNotFound)
				return
			}
			if err := json.NewEncoder(w).Encode(ch); err != nil {
				log.Printf("Error encoding candidate hits: %v", err)
			}
			return
		}

		if err := json.NewEncoder(w).Encode(tracker.Report()); err != nil {
			log.Printf("Error encoding hit report: %v", err)
		}
	})

	// Vector drawing of the best hit
	mux.HandleFunc("/render.svg", func(w http.ResponseWriter, r *http.Request) {
		layers, ok := bestHitLayers(w, r, tracker, reference)
		if !ok {
			return
		}

		renderer := shape.NewVectorRenderer(layers)
		renderer.Padding = render.Padding

		var buf bytes.Buffer
		if err := renderer.RenderToSVG(&buf); err != nil {
			log.Printf("Error rendering SVG: %v", err)
			http.Error(w, "Error rendering SVG", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "no-cache")
		if _, err := w.Write(buf.Bytes()); err != nil {
			log.Printf("Error writing SVG: %v", err)
		}
	})

	// Raster preview of the best hit
	mux.HandleFunc("/preview.png", func(w http.ResponseWriter, r *http.Request) {
		layers, ok := bestHitLayers(w, r, tracker, reference)
		if !ok {
			return
		}

		renderer := shape.NewPreviewRenderer(layers)
		renderer.Width = render.Width
		renderer.Height = render.Height
		renderer.Padding = render.Padding

		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-cache")
		if err := renderer.RenderPNG(w); err != nil {
			log.Printf("Error encoding preview PNG: %v", err)
		}
	})

	return mux
}

// bestHitLayers picks the best hit overall or of ?candidate= and builds its
// render layers. It writes the error response itself when it returns false.
func bestHitLayers(w http.ResponseWriter, r *http.Request, tracker *shape.HitTracker, reference referenceFunc) ([]shape.RenderLayer, bool) {
	var best shape.Hit
	var conformers []*shape.ShapeFunction

	if name := r.URL.Query().Get("candidate"); name != "" {
		ch, ok := tracker.Get(name)
		if !ok {
			http.Error(w, "Unknown candidate", http.StatusNotFound)
			return nil, false
		}
		if len(ch.Hits) == 0 {
			http.Error(w, "No hits available", http.StatusServiceUnavailable)
			return nil, false
		}
		best, conformers = ch.Hits[0], ch.Conformers
	} else {
		var ok bool
		best, conformers, ok = tracker.Best()
		if !ok {
			http.Error(w, "No hits available", http.StatusServiceUnavailable)
			return nil, false
		}
	}

	if len(conformers) == 0 {
		http.Error(w, "Candidate shapes not available", http.StatusServiceUnavailable)
		return nil, false
	}
	ref, err := reference(best.ReferenceIndex)
	if err != nil {
		http.Error(w, "Reference not available", http.StatusServiceUnavailable)
		return nil, false
	}
	return shape.AlignmentLayers(ref, []shape.Hit{best}, conformers), true
}
