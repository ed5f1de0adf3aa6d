package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/kwv/roofmesh/internal/logging"
	"github.com/kwv/roofmesh/internal/store"
	"github.com/kwv/roofmesh/roof"
)

const (
	shutdownTimeout      = 10 * time.Second
	defaultStorePath     = "roofmesh.db"
	defaultThumbnailSize = 256
)

// App encapsulates the application state and dependencies
type App struct {
	Config    *roof.Config
	Pipeline  *roof.Pipeline
	Publisher *roof.Publisher
	Store     *store.Store
	Metrics   *roof.Metrics

	out      io.Writer
	logger   logging.Logger
	registry *prometheus.Registry
	opts     AppOptions
}

// NewApp creates a new App instance
func NewApp(out io.Writer) *App {
	return &App{
		out:      out,
		logger:   logging.NewFromEnv(),
		registry: prometheus.NewRegistry(),
	}
}

// ApplyOptions applies CLI options to the App instance
func (a *App) ApplyOptions(opts AppOptions) {
	a.opts = opts
}

// setup loads the configuration and wires the pipeline.
func (a *App) setup() error {
	cfg, err := roof.LoadConfig(a.opts.ConfigFile)
	if err != nil {
		return fmt.Errorf("load config %s: %w", a.opts.ConfigFile, err)
	}
	if a.opts.HttpPort > 0 {
		cfg.HTTP.Port = a.opts.HttpPort
	}
	a.Config = cfg
	a.logger.Info(context.Background(), "loaded config",
		logging.String("path", a.opts.ConfigFile),
		logging.Int("providers", len(cfg.Footprint.Providers)))

	metrics, err := roof.NewMetrics(a.registry)
	if err != nil {
		return err
	}
	a.Metrics = metrics

	pipeline, err := buildPipeline(cfg, a.logger, metrics)
	if err != nil {
		return err
	}
	a.Pipeline = pipeline
	return nil
}

// buildPipeline wires providers, segment source, detectors and calibration
// from cfg.
func buildPipeline(cfg *roof.Config, logger logging.Logger, metrics *roof.Metrics) (*roof.Pipeline, error) {
	providers, err := roof.NewProviders(cfg.Footprint.Providers)
	if err != nil {
		return nil, err
	}
	resolver := roof.NewResolver(cfg.Footprint, providers,
		roof.WithResolverLogger(logger),
		roof.WithResolverMetrics(metrics))

	deps := roof.PipelineDeps{
		Resolver: resolver,
		Logger:   logger,
		Metrics:  metrics,
	}
	if cfg.Segments.URL != "" {
		deps.Segments = roof.NewSolarAPISource(cfg.Segments, logger)
	}
	if len(cfg.Detectors) > 0 {
		detectors := make([]roof.RidgeDetector, 0, len(cfg.Detectors))
		for _, d := range cfg.Detectors {
			detectors = append(detectors, roof.NewHTTPRidgeDetector(d))
		}
		deps.Ensemble = roof.NewEnsemble(detectors, cfg.Topology.EnsembleConcurrency, logger)
	}
	if cfg.CalibrationPath != "" {
		cal, err := roof.LoadCalibration(cfg.CalibrationPath)
		if err != nil {
			return nil, err
		}
		if cal != nil {
			deps.Calibrator = cal
		} else {
			logger.Warn(context.Background(), "no calibration file found, using raw confidences",
				logging.String("path", cfg.CalibrationPath))
		}
	}
	return roof.NewPipeline(cfg, deps)
}

// measureRequest builds the pipeline request from the command line.
func (a *App) measureRequest() (roof.MeasureRequest, error) {
	req := roof.MeasureRequest{
		Lat:          a.opts.Lat,
		Lng:          a.opts.Lng,
		EaveOffsetFt: a.opts.EaveOffsetFt,
		RoofStyle:    roof.RoofStyle(strings.ToLower(a.opts.RoofStyle)),
	}
	if a.opts.Pitch != "" {
		p, err := roof.ParsePitch(a.opts.Pitch)
		if err != nil {
			return req, fmt.Errorf("--pitch: %w", err)
		}
		req.PitchOverride = &p
	}
	switch req.RoofStyle {
	case "", roof.RoofStyleHip, roof.RoofStyleGable:
	default:
		return req, fmt.Errorf("--roof-style: unknown style %q", a.opts.RoofStyle)
	}
	if req.EaveOffsetFt != nil && *req.EaveOffsetFt < 0 {
		return req, fmt.Errorf("--eave-offset: %v must not be negative", *req.EaveOffsetFt)
	}
	return req, nil
}

// RunMeasure measures one building and writes the result in the requested
// format. A measurement that ran but failed still writes its result and
// returns an error describing why.
func (a *App) RunMeasure(ctx context.Context) error {
	req, err := a.measureRequest()
	if err != nil {
		return err
	}
	if err := a.setup(); err != nil {
		return err
	}

	result := a.Pipeline.Measure(ctx, req)

	w := a.out
	if a.opts.OutputFile != "" {
		f, err := os.Create(a.opts.OutputFile)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer func() { _ = f.Close() }()
		w = f
	}
	if err := writeResult(w, result, a.opts.Format); err != nil {
		return err
	}
	if a.opts.OutputFile != "" {
		fmt.Fprintf(a.out, "Wrote %s (%s) to %s\n", result.ID, a.opts.Format, a.opts.OutputFile)
	}

	if !result.Success {
		return fmt.Errorf("measurement failed: %s", strings.Join(result.Errors, "; "))
	}
	return nil
}

// writeResult encodes result as json, geojson, svg or png.
func writeResult(w io.Writer, result *roof.MeasurementResult, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case "geojson":
		data, err := roof.MeasurementToFeatureCollection(result).MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode geojson: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "svg":
		return roof.NewDiagramRenderer(result).RenderToSVG(w)
	case "png":
		if result.Footprint == nil {
			return png.Encode(w, roof.RenderThumbnail(result, defaultThumbnailSize))
		}
		return roof.NewDiagramRenderer(result).RenderToPNG(w)
	}
	return fmt.Errorf("unknown format %q", format)
}

// RunService serves the HTTP API until ctx is cancelled, publishing finished
// measurements over MQTT when a broker is configured.
func (a *App) RunService(ctx context.Context) error {
	if err := a.setup(); err != nil {
		return err
	}
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	storePath := a.Config.Store.Path
	if storePath == "" {
		storePath = defaultStorePath
	}
	st, err := store.Open(storePath, a.logger)
	if err != nil {
		return err
	}
	a.Store = st
	defer func() { _ = st.Close() }()

	var publisher resultPublisher
	if client := roof.NewMQTTClient(a.Config.MQTT, a.logger); client != nil {
		a.Publisher = roof.NewPublisher(client, a.Config.MQTT.PublishPrefix, a.logger)
		publisher = a.Publisher
		go func() {
			if err := roof.ConnectWithRetry(ctx, client, a.logger); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error(ctx, "mqtt connect gave up", logging.Err(err))
			}
		}()
		defer a.Publisher.Close()
	} else {
		a.logger.Info(ctx, "MQTT disabled: no broker configured")
	}

	srv := &http.Server{
		Addr: fmt.Sprintf("0.0.0.0:%d", a.Config.HTTP.Port),
		Handler: newHTTPServer(&server{
			measurer:  a.Pipeline,
			store:     st,
			publisher: publisher,
			metrics:   a.Metrics,
			logger:    a.logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info(ctx, "http server starting", logging.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	fmt.Fprintf(a.out, "\nHTTP endpoints (port %d):\n", a.Config.HTTP.Port)
	fmt.Fprintln(a.out, "  GET  /health")
	fmt.Fprintln(a.out, "  POST /api/v1/measurements")
	fmt.Fprintln(a.out, "  GET  /api/v1/measurements[?status=accepted|review|failed]")
	fmt.Fprintln(a.out, "  GET  /api/v1/measurements/:id[/geojson|/diagram.svg|/thumbnail.png]")
	fmt.Fprintln(a.out, "  GET  /metrics")
	if a.Publisher != nil {
		fmt.Fprintf(a.out, "\nMQTT publishing to %s and %s\n", a.Publisher.MeasurementTopic("{id}"), a.Publisher.QATopic())
	}
	fmt.Fprintln(a.out, "\nPress Ctrl+C to stop")

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	fmt.Fprintln(a.out, "\nShutting down service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	fmt.Fprintln(a.out, "Service stopped")
	return nil
}
