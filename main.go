package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line
type AppOptions struct {
	ConfigFile     string
	ReferenceFile  string
	CandidatesFile string
	OutputFile     string
	DBPath         string
	RenderFile     string
	MqttMode       bool
	HttpMode       bool
	HttpPort       int
	Seed           int64
	SeedSet        bool
}

// Runner is the application surface driven by the command line
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunScreen() error
	RunService() error
}

func main() {
	if err := run(os.Args[1:], os.Stdout, NewApp()); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

// run parses args and dispatches to the selected mode
func run(args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("shapealign", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.StringVar(&opts.ReferenceFile, "reference", "", "Reference shape file (JSON); adds to config references")
	fs.StringVar(&opts.CandidatesFile, "candidates", "", "Candidate shape file (JSON) to screen and exit")
	fs.StringVar(&opts.OutputFile, "output", "", "Write the JSON hit report to this file")
	fs.StringVar(&opts.DBPath, "db", "", "SQLite hit database (overrides database.path)")
	fs.StringVar(&opts.RenderFile, "render", "", "Render the best hit to this .svg or .png file")
	fs.BoolVar(&opts.MqttMode, "mqtt", false, "Run MQTT screening service")
	fs.BoolVar(&opts.HttpMode, "http", false, "Enable HTTP server")
	fs.IntVar(&opts.HttpPort, "http-port", 8080, "HTTP server port (default 8080)")
	fs.Int64Var(&opts.Seed, "seed", 0, "Random start seed (overrides startGeneration.randomSeed)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			opts.SeedSet = true
		}
	})

	fmt.Fprintf(out, "shapealign version: %s\n", Version)
	app.ApplyOptions(opts)

	switch {
	case opts.MqttMode || opts.HttpMode:
		return app.RunService()
	case opts.CandidatesFile != "":
		return app.RunScreen()
	}

	fmt.Fprintln(out, "Nothing to do.")
	fmt.Fprintln(out, "Use --candidates=FILE --reference=FILE to screen candidates against references")
	fmt.Fprintln(out, "Use --output, --db and --render to store, persist and draw the hits")
	fmt.Fprintln(out, "Use --mqtt to run the MQTT screening service")
	fmt.Fprintln(out, "Use --http to serve /align, /hits, /render.svg and /preview.png")
	return nil
}
