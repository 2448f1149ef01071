package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/kwv/shapealign/shape"
)

const defaultConfigFile = "config.yaml"

// App encapsulates the application state and dependencies
type App struct {
	Config     *shape.Config
	Processor  *shape.ScreeningProcessor
	Tracker    *shape.HitTracker
	Store      *shape.HitStore
	MQTTClient *shape.MQTTClient
	Publisher  *shape.Publisher

	// CLI Flags (effectively dependencies)
	ConfigFile     string
	ReferenceFile  string
	CandidatesFile string
	OutputFile     string
	DBPath         string
	RenderFile     string
	HttpPort       int
	MqttMode       bool
	HttpMode       bool
	Seed           int64
	SeedSet        bool

	runID    string
	screenMu sync.Mutex // the processor's aligner is single-threaded
}

// NewApp creates a new App instance
func NewApp() *App {
	runID := shape.NewRunID()
	return &App{
		Config:     shape.DefaultConfig(),
		Tracker:    shape.NewHitTracker(runID),
		ConfigFile: defaultConfigFile,
		HttpPort:   8080,
		runID:      runID,
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.ConfigFile = opts.ConfigFile
	a.ReferenceFile = opts.ReferenceFile
	a.CandidatesFile = opts.CandidatesFile
	a.OutputFile = opts.OutputFile
	a.DBPath = opts.DBPath
	a.RenderFile = opts.RenderFile
	a.HttpPort = opts.HttpPort
	a.MqttMode = opts.MqttMode
	a.HttpMode = opts.HttpMode
	a.Seed = opts.Seed
	a.SeedSet = opts.SeedSet
}

// loadConfig reads the config file. A missing default config.yaml falls back
// to built-in defaults; a missing explicitly named file is an error.
func (a *App) loadConfig() error {
	path := a.ConfigFile
	if path == "" {
		path = defaultConfigFile
	}

	config, err := shape.LoadConfig(path)
	if err != nil {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) && path == defaultConfigFile {
			log.Printf("No %s found, using default configuration", path)
			config = shape.DefaultConfig()
		} else {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		log.Printf("Loaded config from %s", path)
	}

	if a.SeedSet {
		config.StartGeneration.RandomSeed = a.Seed
	}
	if a.DBPath != "" {
		config.Database.Path = a.DBPath
	}
	a.Config = config
	return nil
}

// setup loads config, references, the hit store and the tracker
func (a *App) setup() error {
	if err := a.loadConfig(); err != nil {
		return err
	}

	refFiles := append([]string(nil), a.Config.References...)
	if a.ReferenceFile != "" {
		refFiles = append(refFiles, a.ReferenceFile)
	}
	if len(refFiles) == 0 {
		return fmt.Errorf("no reference shapes: pass --reference or set references in the config")
	}

	processor := shape.NewScreeningProcessor(a.Config.Screening, a.Config.Alignment, a.Config.StartGeneration)
	for _, path := range refFiles {
		shapes, err := shape.ParseShapeFile(path)
		if err != nil {
			return fmt.Errorf("loading references: %w", err)
		}
		for i, sf := range shapes {
			if sf.Name == "" {
				sf.Name = fmt.Sprintf("%s#%d", strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), i+1)
			}
			if err := processor.AddReference(sf); err != nil {
				return err
			}
		}
	}
	a.Processor = processor
	log.Printf("[SCREEN] %d reference shape(s), scoring=%s mode=%s",
		processor.NumReferences(), a.Config.Screening.ScoringFunction, a.Config.Screening.Mode)

	a.Tracker = shape.NewHitTrackerWithReport(a.runID, a.serviceReportPath())
	a.Tracker.Describe(processor)

	if a.Config.Database.Path != "" {
		store, err := shape.NewHitStore(a.Config.Database.Path)
		if err != nil {
			return err
		}
		a.Store = store
		log.Printf("Storing hits in %s (run %s)", a.Config.Database.Path, a.runID)
	}
	return nil
}

// serviceReportPath is the report kept current by the tracker in service mode
func (a *App) serviceReportPath() string {
	if a.MqttMode || a.HttpMode {
		return a.OutputFile
	}
	return ""
}

// screenCandidate screens one candidate and fans the hits out to the
// tracker, the store and MQTT
func (a *App) screenCandidate(c shape.Candidate) ([]shape.Hit, error) {
	if a.Processor == nil {
		return nil, fmt.Errorf("screening processor not initialized")
	}

	a.screenMu.Lock()
	hits, err := a.Processor.Process(c.Name, c.Conformers)
	a.screenMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("screening %s: %w", c.Name, err)
	}

	a.Tracker.Update(c.Name, c.Conformers, hits)

	if a.Store != nil {
		if err := a.Store.SaveHits(a.runID, hits); err != nil {
			log.Printf("Error storing hits for %s: %v", c.Name, err)
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.PublishHits(c.Name, hits); err != nil {
			log.Printf("Error publishing hits for %s: %v", c.Name, err)
		}
	}

	if len(hits) > 0 {
		log.Printf("[SCREEN] %s: %d hit(s), best %.4f on %s", c.Name, len(hits), hits[0].Score, hits[0].ReferenceName)
	} else {
		log.Printf("[SCREEN] %s: no hits", c.Name)
	}
	return hits, nil
}

// referenceShape returns the original i-th reference for rendering
func (a *App) referenceShape(i int) (*shape.ShapeFunction, error) {
	if a.Processor == nil {
		return nil, fmt.Errorf("screening processor not initialized")
	}
	return a.Processor.ReferenceShape(i)
}

// RunScreen screens every candidate of the candidates file and exits
func (a *App) RunScreen() error {
	if err := a.setup(); err != nil {
		return err
	}
	defer a.close()

	shapes, err := shape.ParseShapeFile(a.CandidatesFile)
	if err != nil {
		return fmt.Errorf("loading candidates: %w", err)
	}
	candidates := shape.GroupConformers(shapes)
	fmt.Printf("Screening %d candidate(s) against %d reference(s)\n\n", len(candidates), a.Processor.NumReferences())

	for _, c := range candidates {
		hits, err := a.screenCandidate(c)
		if err != nil {
			return err
		}
		fmt.Printf("=== %s (%d conformer(s)) ===\n", c.Name, len(c.Conformers))
		if len(hits) == 0 {
			fmt.Println("  no hits")
		}
		for _, h := range hits {
			fmt.Printf("  %-20s conf %3d  score %.4f  overlap %.3f  color %.3f\n",
				h.ReferenceName, h.ConformerIndex, h.Score, h.Result.Overlap, h.Result.ColorOverlap)
		}
		fmt.Println()
	}

	if a.OutputFile != "" {
		if err := shape.SaveHitReport(a.OutputFile, a.Tracker.Report()); err != nil {
			return err
		}
		fmt.Printf("Hit report written to %s\n", a.OutputFile)
	}

	if a.RenderFile != "" {
		if err := a.renderBest(a.RenderFile); err != nil {
			return err
		}
		fmt.Printf("Best hit rendered to %s\n", a.RenderFile)
	}
	return nil
}

// renderBest draws the best tracked hit; the file extension picks SVG or PNG
func (a *App) renderBest(path string) error {
	best, conformers, ok := a.Tracker.Best()
	if !ok {
		return fmt.Errorf("no hits to render")
	}
	ref, err := a.referenceShape(best.ReferenceIndex)
	if err != nil {
		return err
	}

	renderer := shape.NewVectorRenderer(shape.AlignmentLayers(ref, []shape.Hit{best}, conformers))
	renderer.Padding = a.Config.Render.Padding

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating render file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".svg":
		return renderer.RenderToSVG(f)
	case ".png":
		return renderer.RenderToPNG(f)
	}
	return fmt.Errorf("unsupported render format %q (use .svg or .png)", filepath.Ext(path))
}

// RunService runs the MQTT and/or HTTP screening service until interrupted
func (a *App) RunService() error {
	fmt.Println("Starting shapealign service...")

	if err := a.setup(); err != nil {
		return err
	}
	defer a.close()

	if a.MqttMode {
		handler := func(c shape.Candidate, err error) {
			if err != nil {
				log.Printf("Error receiving candidates: %v", err)
				return
			}
			if _, err := a.screenCandidate(c); err != nil {
				log.Printf("Error screening %s: %v", c.Name, err)
			}
		}

		mqttClient, err := shape.InitMQTT(a.Config, handler)
		if err != nil {
			return fmt.Errorf("initializing MQTT: %w", err)
		}
		if mqttClient == nil {
			return fmt.Errorf("MQTT broker not configured (set mqtt.broker or MQTT_BROKER)")
		}
		a.MQTTClient = mqttClient
		a.Publisher = shape.NewPublisher(mqttClient.GetClient(), a.Config)
		fmt.Println("MQTT hit publisher initialized")
	}

	if a.HttpMode {
		httpServer := newHTTPServer(a.Tracker, a.screenCandidate, a.referenceShape, a.Config.Render)
		go func() {
			addr := fmt.Sprintf("0.0.0.0:%d", a.HttpPort)
			log.Printf("[HTTP] Starting server on %s", addr)
			if err := http.ListenAndServe(addr, httpServer); err != nil {
				log.Fatalf("[HTTP] Server error: %v", err)
			}
			log.Printf("[HTTP] Server stopped unexpectedly")
		}()
	}

	fmt.Println("\nService Running")
	fmt.Println("===============")

	if a.MqttMode {
		prefix := shape.PublishPrefix(a.Config)
		fmt.Println("\nMQTT:")
		fmt.Printf("  Subscribed topic: %s\n", shape.CandidatesTopic(a.Config))
		fmt.Printf("  Publishing to: %s/hits/{candidate}\n", prefix)
		fmt.Printf("  Hit summary: %s/hits\n", prefix)
	}

	if a.HttpMode {
		fmt.Printf("\nHTTP endpoints (port %d):\n", a.HttpPort)
		fmt.Println("  GET  /health      - Health check")
		fmt.Println("  POST /align       - Screen candidate shapes (JSON body)")
		fmt.Println("  GET  /hits        - Latest hits (optional ?candidate=NAME)")
		fmt.Println("  GET  /render.svg  - Vector drawing of the best hit")
		fmt.Println("  GET  /preview.png - Raster preview of the best hit")
	}

	fmt.Println("\nPress Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	<-sigChan

	fmt.Println("\nShutting down service...")
	if a.MQTTClient != nil {
		a.MQTTClient.Disconnect()
	}
	fmt.Println("Service stopped")
	return nil
}

func (a *App) close() {
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			log.Printf("Error closing hit store: %v", err)
		}
		a.Store = nil
	}
}
