package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/kwv/shapealign/shape"
)

// irregularPoints have clearly distinct principal moments
var irregularPoints = []r3.Vec{
	{X: 0, Y: 0, Z: 0},
	{X: 1.5, Y: 0, Z: 0},
	{X: 1.5, Y: 1.2, Z: 0},
	{X: 3, Y: 1.4, Z: 0.8},
	{X: -1, Y: -0.5, Z: 0.3},
	{X: 0.4, Y: 2.6, Z: -0.9},
}

// screenFixture writes a reference file, a candidates file and a config into
// a temp dir and returns an App configured to screen them
func screenFixture(t *testing.T) (*App, string) {
	t.Helper()
	dir := t.TempDir()

	ref := testShape("ref", irregularPoints...)

	// Conformer 0 is the reference turned 90 degrees about z and shifted,
	// conformer 1 is a straight rod
	var turned []r3.Vec
	for _, p := range irregularPoints {
		turned = append(turned, r3.Vec{X: -p.Y + 3, Y: p.X - 2, Z: p.Z + 1})
	}
	moved := testShape("cand", turned...)
	rod := testShape("cand", r3.Vec{}, r3.Vec{X: 1.5}, r3.Vec{X: 3}, r3.Vec{X: 4.5})

	refFile := filepath.Join(dir, "ref.json")
	candFile := filepath.Join(dir, "cands.json")
	require.NoError(t, shape.WriteShapeFile(refFile, []*shape.ShapeFunction{ref}))
	require.NoError(t, shape.WriteShapeFile(candFile, []*shape.ShapeFunction{moved, rod}))

	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(`screening:
  scoringFunction: shapeTanimoto
  mode: bestPerConformer
  scoreCutoff: 0
startGeneration:
  randomSeed: 5
`), 0644))

	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile:     configFile,
		ReferenceFile:  refFile,
		CandidatesFile: candFile,
		HttpPort:       8080,
	})
	return app, dir
}

func TestNewApp(t *testing.T) {
	app := NewApp()

	assert.Equal(t, "config.yaml", app.ConfigFile)
	assert.Equal(t, 8080, app.HttpPort)
	assert.NotNil(t, app.Config)
	require.NotNil(t, app.Tracker)
	assert.NotEmpty(t, app.Tracker.RunID())
	assert.NotEqual(t, app.Tracker.RunID(), NewApp().Tracker.RunID(), "every app gets its own run id")
}

func TestApp_ApplyOptions(t *testing.T) {
	app := NewApp()
	app.ApplyOptions(AppOptions{
		ConfigFile:     "lab.yaml",
		ReferenceFile:  "ref.json",
		CandidatesFile: "cands.json",
		OutputFile:     "hits.json",
		DBPath:         "hits.db",
		RenderFile:     "best.png",
		MqttMode:       true,
		HttpMode:       true,
		HttpPort:       9000,
		Seed:           42,
		SeedSet:        true,
	})

	assert.Equal(t, "lab.yaml", app.ConfigFile)
	assert.Equal(t, "ref.json", app.ReferenceFile)
	assert.Equal(t, "cands.json", app.CandidatesFile)
	assert.Equal(t, "hits.json", app.OutputFile)
	assert.Equal(t, "hits.db", app.DBPath)
	assert.Equal(t, "best.png", app.RenderFile)
	assert.True(t, app.MqttMode)
	assert.True(t, app.HttpMode)
	assert.Equal(t, 9000, app.HttpPort)
	assert.Equal(t, int64(42), app.Seed)
	assert.True(t, app.SeedSet)
	assert.Equal(t, "hits.json", app.serviceReportPath(), "service mode keeps the report current")
}

func TestApp_LoadConfig(t *testing.T) {
	t.Run("missing default falls back", func(t *testing.T) {
		t.Chdir(t.TempDir())
		app := NewApp()
		require.NoError(t, app.loadConfig())
		assert.Equal(t, shape.DefaultConfig(), app.Config)
	})

	t.Run("missing explicit file is an error", func(t *testing.T) {
		app := NewApp()
		app.ConfigFile = filepath.Join(t.TempDir(), "nope.yaml")
		assert.Error(t, app.loadConfig())
	})

	t.Run("flags override the file", func(t *testing.T) {
		app, _ := screenFixture(t)
		app.SeedSet = true
		app.Seed = 99
		app.DBPath = "override.db"
		require.NoError(t, app.loadConfig())

		assert.Equal(t, int64(99), app.Config.StartGeneration.RandomSeed)
		assert.Equal(t, "override.db", app.Config.Database.Path)
		assert.Equal(t, shape.BestMatchPerConformer, app.Config.Screening.Mode)
	})

	t.Run("seed from the file without the flag", func(t *testing.T) {
		app, _ := screenFixture(t)
		require.NoError(t, app.loadConfig())
		assert.Equal(t, int64(5), app.Config.StartGeneration.RandomSeed)
	})
}

func TestApp_SetupNoReferences(t *testing.T) {
	app, _ := screenFixture(t)
	app.ReferenceFile = ""

	err := app.setup()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no reference shapes")
}

func TestApp_SetupBadReference(t *testing.T) {
	app, dir := screenFixture(t)
	app.ReferenceFile = filepath.Join(dir, "missing.json")
	assert.Error(t, app.setup())
}

func TestApp_ScreenCandidateWithoutSetup(t *testing.T) {
	_, err := NewApp().screenCandidate(shape.Candidate{Name: "x"})
	assert.Error(t, err)

	_, err = NewApp().referenceShape(0)
	assert.Error(t, err)
}

func TestApp_RunScreen(t *testing.T) {
	app, dir := screenFixture(t)
	app.OutputFile = filepath.Join(dir, "hits.json")
	app.DBPath = filepath.Join(dir, "hits.db")
	app.RenderFile = filepath.Join(dir, "best.svg")

	require.NoError(t, app.RunScreen())
	assert.Nil(t, app.Store, "the hit store is closed after screening")

	// Tracker
	ch, ok := app.Tracker.Get("cand")
	require.True(t, ok)
	require.Len(t, ch.Hits, 2, "one hit per conformer")
	best := ch.Hits[0]
	assert.Equal(t, 0, best.ConformerIndex)
	assert.Equal(t, "ref", best.ReferenceName)
	assert.InDelta(t, 1.0, best.Score, 1e-3)
	assert.Greater(t, best.Score, ch.Hits[1].Score)

	// The hit transform maps the moved conformer back onto the reference
	aligned := best.Apply(ch.Conformers[0])
	for i, e := range aligned.Elements {
		assert.InDelta(t, irregularPoints[i].X, e.Position.X, 1e-3)
		assert.InDelta(t, irregularPoints[i].Y, e.Position.Y, 1e-3)
		assert.InDelta(t, irregularPoints[i].Z, e.Position.Z, 1e-3)
	}

	// JSON report
	report, err := shape.LoadHitReport(app.OutputFile)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, app.Tracker.RunID(), report.RunID)
	assert.Equal(t, "bestPerConformer", report.Mode)
	assert.Len(t, report.Hits, 2)

	// Database
	store, err := shape.NewHitStore(app.DBPath)
	require.NoError(t, err)
	defer store.Close()
	stored, err := store.ListHits(app.Tracker.RunID(), 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// Rendering
	svg, err := os.ReadFile(app.RenderFile)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(svg), "<svg"))
}

func TestApp_RunScreenRenderPNG(t *testing.T) {
	app, dir := screenFixture(t)
	app.RenderFile = filepath.Join(dir, "best.png")

	require.NoError(t, app.RunScreen())
	info, err := os.Stat(app.RenderFile)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestApp_RunScreenUnsupportedRender(t *testing.T) {
	app, dir := screenFixture(t)
	app.RenderFile = filepath.Join(dir, "best.gif")

	err := app.RunScreen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported render format")
}

func TestApp_RunScreenMissingCandidates(t *testing.T) {
	app, dir := screenFixture(t)
	app.CandidatesFile = filepath.Join(dir, "none.json")
	assert.Error(t, app.RunScreen())
}

func TestApp_MQTTCandidatesArePublished(t *testing.T) {
	t.Setenv("MQTT_PUBLISH_PREFIX", "")
	app, dir := screenFixture(t)
	require.NoError(t, app.setup())
	defer app.close()

	mockClient := shape.NewMockClient()
	mockClient.SetConnected(true)
	app.Publisher = shape.NewPublisher(mockClient, app.Config)

	client := shape.NewMQTTClientFromClient(mockClient, app.Config, func(c shape.Candidate, err error) {
		require.NoError(t, err)
		_, err = app.screenCandidate(c)
		require.NoError(t, err)
	})
	client.Subscribe()

	payload, err := os.ReadFile(filepath.Join(dir, "cands.json"))
	require.NoError(t, err)
	require.True(t, mockClient.SimulateMessage(shape.CandidatesTopic(app.Config), payload))

	assert.Len(t, mockClient.MessagesOn("shapealign/hits/cand"), 1)
	assert.Len(t, mockClient.MessagesOn("shapealign/hits"), 1)

	_, ok := app.Tracker.Get("cand")
	assert.True(t, ok)
}
