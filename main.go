package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Version is set at build time via -ldflags
var Version = "dev"

// AppOptions holds the parsed command line.
type AppOptions struct {
	ConfigFile   string
	Lat          float64
	Lng          float64
	Measure      bool
	Serve        bool
	OutputFile   string
	Format       string
	HttpPort     int
	Pitch        string
	EaveOffsetFt *float64
	RoofStyle    string
}

// Runner is the application surface driven by run.
type Runner interface {
	ApplyOptions(opts AppOptions)
	RunMeasure(ctx context.Context) error
	RunService(ctx context.Context) error
}

// Output formats accepted by --format.
var outputFormats = map[string]bool{"json": true, "geojson": true, "svg": true, "png": true}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, NewApp(os.Stdout))
	stop()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "roofmesh: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer, app Runner) error {
	fs := flag.NewFlagSet("roofmesh", flag.ContinueOnError)
	fs.SetOutput(out)

	var opts AppOptions
	fs.StringVar(&opts.ConfigFile, "config", "config.yaml", "Path to configuration file")
	fs.Float64Var(&opts.Lat, "lat", 0, "Latitude of the building to measure")
	fs.Float64Var(&opts.Lng, "lng", 0, "Longitude of the building to measure")
	fs.BoolVar(&opts.Measure, "measure", false, "Measure one building and exit")
	fs.BoolVar(&opts.Serve, "serve", false, "Run the HTTP service (and MQTT hand-off when a broker is configured)")
	fs.StringVar(&opts.OutputFile, "output", "", "Output file for --measure (default stdout)")
	fs.StringVar(&opts.Format, "format", "json", "Output format for --measure: json, geojson, svg, or png")
	fs.IntVar(&opts.HttpPort, "http-port", 0, "HTTP server port (default from config, 8080)")
	fs.StringVar(&opts.Pitch, "pitch", "", "Pitch override, e.g. 6/12")
	eaveOffset := fs.Float64("eave-offset", 0, "Eave overhang in feet (default from config)")
	fs.StringVar(&opts.RoofStyle, "roof-style", "", "Roof style override: hip or gable")

	if err := fs.Parse(args); err != nil {
		return err
	}
	fmt.Fprintf(out, "roofmesh version: %s\n", Version)

	if !outputFormats[opts.Format] {
		return fmt.Errorf("unknown --format %q (want json, geojson, svg, or png)", opts.Format)
	}
	coordsGiven := false
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "lat", "lng":
			coordsGiven = true
		case "eave-offset":
			opts.EaveOffsetFt = eaveOffset
		}
	})
	if coordsGiven && !opts.Serve {
		opts.Measure = true
	}

	app.ApplyOptions(opts)

	switch {
	case opts.Measure:
		return app.RunMeasure(ctx)
	case opts.Serve:
		return app.RunService(ctx)
	}

	fmt.Fprintln(out, "Use --measure --lat LAT --lng LNG to measure one roof")
	fmt.Fprintln(out, "Use --serve to run the HTTP service")
	fmt.Fprintln(out, "\nConfiguration:")
	fmt.Fprintln(out, "  config.yaml - providers, tolerances, MQTT and store settings")
	return nil
}
