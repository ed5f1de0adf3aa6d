package roof

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kwv/roofmesh/internal/logging"
)

// Pipeline stage names used in MeasurementResult.Timing and metrics.
const (
	StageFootprint = "footprint"
	StageSegments  = "segments"
	StageDetection = "detection"
	StageTopology  = "topology"
	StageAreas     = "areas"
	StageQA        = "qa"
	StageTotal     = "total"
)

// ErrInvalidCoordinate is reported for latitudes or longitudes out of range.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// FootprintResolver resolves the footprint for a coordinate.
type FootprintResolver interface {
	Resolve(ctx context.Context, lat, lng float64) ResolveResult
}

// PipelineDeps are the collaborators of a Pipeline. Only Resolver is
// required.
type PipelineDeps struct {
	Resolver   FootprintResolver
	Segments   SegmentSource
	Ensemble   *Ensemble
	Calibrator Calibrator
	Logger     logging.Logger
	Metrics    *Metrics
}

// MeasureRequest is one measurement request.
type MeasureRequest struct {
	Lat           float64   `json:"lat"`
	Lng           float64   `json:"lng"`
	PitchOverride *Pitch    `json:"pitch,omitempty"`
	EaveOffsetFt  *float64  `json:"eaveOffsetFt,omitempty"`
	RoofStyle     RoofStyle `json:"roofStyle,omitempty"`
}

// Pipeline runs footprint resolution, topology, areas and QA for a
// coordinate. It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	resolver   FootprintResolver
	segments   SegmentSource
	ensemble   *Ensemble
	topology   *TopologyBuilder
	areas      *AreaCalculator
	qa         QAConfig
	calibrator Calibrator
	logger     logging.Logger
	metrics    *Metrics

	now   func() time.Time
	newID func() string
}

// NewPipeline wires a pipeline from cfg and deps.
func NewPipeline(cfg *Config, deps PipelineDeps) (*Pipeline, error) {
	if cfg == nil {
		return nil, &MissingConfigError{Field: "config"}
	}
	if deps.Resolver == nil {
		return nil, &MissingConfigError{Field: "resolver"}
	}
	areas, err := NewAreaCalculator(cfg.Areas)
	if err != nil {
		return nil, err
	}
	calibrator := deps.Calibrator
	if calibrator == nil {
		calibrator = IdentityCalibrator{}
	}
	return &Pipeline{
		resolver:   deps.Resolver,
		segments:   deps.Segments,
		ensemble:   deps.Ensemble,
		topology:   NewTopologyBuilder(cfg.Topology),
		areas:      areas,
		qa:         cfg.QA,
		calibrator: calibrator,
		logger:     logging.OrNoop(deps.Logger),
		metrics:    deps.Metrics,
		now:        time.Now,
		newID:      uuid.NewString,
	}, nil
}

// stageClock times stages. Stages may run concurrently.
type stageClock struct {
	mu      sync.Mutex
	timing  map[string]int64
	metrics *Metrics
}

// run executes fn, converting a panic into an error, and records its
// duration whether or not it succeeded.
func (c *stageClock) run(stage string, fn func() error) (err error) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("internal error: %v", rec)
		}
		d := time.Since(start)
		c.mu.Lock()
		c.timing[stage] = d.Milliseconds()
		c.mu.Unlock()
		c.metrics.ObserveStage(stage, d, err)
	}()
	return fn()
}

// Measure runs the pipeline. It never returns nil; failures are reported in
// the result with Success=false.
func (p *Pipeline) Measure(ctx context.Context, req MeasureRequest) *MeasurementResult {
	started := time.Now()
	res := &MeasurementResult{
		ID:          p.newID(),
		RequestedAt: p.now().UTC(),
		Lat:         req.Lat,
		Lng:         req.Lng,
		Timing:      make(map[string]int64),
		Errors:      []string{},
		Warnings:    []string{},
		APISources: APISources{
			Footprint: FootprintSourceNone,
			Segments:  FootprintSourceNone,
			Ridge:     RidgeSourceNone,
			Detection: FootprintSourceNone,
		},
	}
	ctx = logging.ContextWithMeasurementID(ctx, res.ID)
	log := logging.ForContext(ctx, p.logger)
	clock := &stageClock{timing: res.Timing, metrics: p.metrics}

	defer func() {
		res.Timing[StageTotal] = time.Since(started).Milliseconds()
		p.metrics.ObserveMeasurement(res)
		log.Info(ctx, "measurement finished",
			logging.String("outcome", MeasurementOutcome(res)),
			logging.Int("errors", len(res.Errors)),
			logging.Int("warnings", len(res.Warnings)),
			logging.Any("timing_ms", res.Timing))
	}()

	if err := validateCoordinate(req.Lat, req.Lng); err != nil {
		res.Errors = append(res.Errors, err.Error())
		return res
	}

	// Footprint resolution and segment data are independent.
	var resolved ResolveResult
	var solar *SolarData
	var segmentsErr error
	var g errgroup.Group
	g.Go(func() error {
		return clock.run(StageFootprint, func() error {
			resolved = p.resolver.Resolve(ctx, req.Lat, req.Lng)
			if resolved.Footprint == nil {
				return ErrNoFootprint
			}
			return nil
		})
	})
	if p.segments != nil {
		g.Go(func() error {
			segmentsErr = clock.run(StageSegments, func() error {
				solar = p.segments.FetchRoofSegments(ctx, req.Lat, req.Lng)
				return nil
			})
			return nil
		})
	}
	footprintErr := g.Wait()

	if segmentsErr != nil {
		solar = &SolarData{UnavailableReason: segmentsErr.Error()}
	}
	if solar == nil {
		solar = &SolarData{UnavailableReason: SegmentsNotConfigured}
	}
	res.SolarData = solar
	if solar.Available {
		res.APISources.Segments = p.segments.Name()
	} else if solar.UnavailableReason != SegmentsNotConfigured {
		res.Warnings = append(res.Warnings, "roof segment data unavailable: "+solar.UnavailableReason)
	}

	for _, a := range resolved.Attempts {
		if a.FallbackReason != "" && a.FallbackReason != ReasonNotSelected {
			res.Warnings = append(res.Warnings, fmt.Sprintf("footprint provider %s: %s", a.Source, a.FallbackReason))
		}
	}
	if footprintErr != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v%s", StageFootprint, footprintErr, attemptSummary(resolved.Attempts)))
		return res
	}
	res.Footprint = resolved.Footprint
	res.APISources.Footprint = resolved.Source

	var detections []LinearFeature
	if p.ensemble.Len() > 0 {
		err := clock.run(StageDetection, func() error {
			er, err := p.ensemble.Detect(ctx, res.Footprint)
			if er != nil && len(er.Succeeded) > 0 {
				res.APISources.Detection = strings.Join(er.Succeeded, "+")
				detections = er.Lines
			}
			return err
		})
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", StageDetection, err))
		}
	}

	err := clock.run(StageTopology, func() error {
		topo, err := p.topology.Build(TopologyInput{
			Footprint:    res.Footprint,
			Solar:        solar,
			Detections:   detections,
			EaveOffsetFt: req.EaveOffsetFt,
			RoofStyle:    req.RoofStyle,
		})
		res.Topology = topo
		return err
	})
	if err != nil {
		res.Topology = nil
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", StageTopology, err))
		return res
	}
	res.APISources.Ridge = res.Topology.RidgeSource

	err = clock.run(StageAreas, func() error {
		res.Areas = p.areas.Calculate(res.Topology, AreaInput{PitchOverride: req.PitchOverride, Solar: solar})
		return nil
	})
	if err != nil {
		res.Areas = nil
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", StageAreas, err))
		return res
	}

	err = clock.run(StageQA, func() error {
		qa := RunQAGate(res.Topology, res.Areas, solar, p.qa)
		res.QA = &qa
		return nil
	})
	if err != nil {
		res.QA = nil
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", StageQA, err))
		return res
	}

	res.Success = true
	calibrate(p.calibrator, res)
	return res
}

func validateCoordinate(lat, lng float64) error {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.Abs(lat) > 90 || math.Abs(lng) > 180 {
		return fmt.Errorf("%w: lat=%v lng=%v", ErrInvalidCoordinate, lat, lng)
	}
	return nil
}

// attemptSummary renders provider diagnostics for an error message.
func attemptSummary(attempts []ProviderAttempt) string {
	if len(attempts) == 0 {
		return " (no providers configured)"
	}
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		s := a.Source + "=" + a.FallbackReason
		if a.Diagnostic != "" {
			s += " [" + a.Diagnostic + "]"
		}
		parts = append(parts, s)
	}
	return " (" + strings.Join(parts, "; ") + ")"
}
