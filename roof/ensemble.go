package roof

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"golang.org/x/sync/errgroup"

	"github.com/kwv/roofmesh/internal/logging"
)

// ErrNoDetections is returned when every detector failed.
var ErrNoDetections = errors.New("no detector succeeded")

// DefaultLineClusterFt is the midpoint distance within which detections from
// different detectors are treated as the same line.
const DefaultLineClusterFt = 6.0

// RidgeDetector is an AI model that proposes typed roof lines for a
// footprint. Prompting and model invocation live behind the implementation.
type RidgeDetector interface {
	Name() string
	DetectRidges(ctx context.Context, footprint *Footprint) ([]LinearFeature, error)
}

// HTTPRidgeDetector posts the footprint as a GeoJSON Feature and reads back a
// FeatureCollection of LineStrings with "type" and "confidence" properties.
type HTTPRidgeDetector struct {
	cfg  DetectorConfig
	opts []FetchOption
}

// NewHTTPRidgeDetector returns a detector for cfg.
func NewHTTPRidgeDetector(cfg DetectorConfig, opts ...FetchOption) *HTTPRidgeDetector {
	base := []FetchOption{}
	if cfg.Timeout > 0 {
		base = append(base, WithTimeout(cfg.Timeout))
	}
	if cfg.APIKey != "" {
		base = append(base, WithHeader("Authorization", "Bearer "+cfg.APIKey))
	}
	return &HTTPRidgeDetector{cfg: cfg, opts: append(base, opts...)}
}

func (d *HTTPRidgeDetector) Name() string { return d.cfg.Name }

func (d *HTTPRidgeDetector) DetectRidges(ctx context.Context, fp *Footprint) ([]LinearFeature, error) {
	if fp == nil {
		return nil, ErrNoFootprint
	}
	f := geojson.NewFeature(orb.Polygon{CloseRing(fp.Ring)})
	f.Properties["source"] = fp.Source
	body, err := f.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("encode footprint: %w", err)
	}

	data, err := fetchWithRetry(ctx, request{
		method:      "POST",
		url:         d.cfg.URL,
		body:        body,
		contentType: "application/geo+json",
	}, d.opts...)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s detections: %w", d.cfg.Name, err)
	}
	return parseDetections(fc, d.cfg.Name), nil
}

// parseDetections keeps two-point-or-longer LineStrings whose type is a
// structural edge, using their first and last points.
func parseDetections(fc *geojson.FeatureCollection, source string) []LinearFeature {
	var out []LinearFeature
	for _, f := range fc.Features {
		ls, ok := f.Geometry.(orb.LineString)
		if !ok || len(ls) < 2 {
			continue
		}
		et := EdgeType(strings.ToLower(f.Properties.MustString("type", "")))
		if !et.IsStructural() {
			continue
		}
		conf := f.Properties.MustFloat64("confidence", 0.5)
		out = append(out, LinearFeature{
			Start:      ls[0],
			End:        ls[len(ls)-1],
			Type:       et,
			Confidence: clamp01(conf),
			Source:     source,
		})
	}
	return out
}

// EnsembleResult holds combined detections plus the per-detector outcome.
type EnsembleResult struct {
	Lines     []LinearFeature
	Succeeded []string
	Failed    map[string]string
}

// Ensemble fans a footprint out to several detectors and merges their lines.
type Ensemble struct {
	detectors   []RidgeDetector
	concurrency int
	clusterFt   float64
	logger      logging.Logger
}

// NewEnsemble returns an ensemble running at most concurrency detectors at
// once.
func NewEnsemble(detectors []RidgeDetector, concurrency int, logger logging.Logger) *Ensemble {
	if concurrency <= 0 {
		concurrency = len(detectors)
	}
	return &Ensemble{
		detectors:   detectors,
		concurrency: concurrency,
		clusterFt:   DefaultLineClusterFt,
		logger:      logging.OrNoop(logger),
	}
}

// Len returns the number of detectors.
func (e *Ensemble) Len() int {
	if e == nil {
		return 0
	}
	return len(e.detectors)
}

// Detect runs every detector and combines the successful ones. One failing
// detector never cancels the others; Detect fails only when all of them do.
func (e *Ensemble) Detect(ctx context.Context, fp *Footprint) (*EnsembleResult, error) {
	if e.Len() == 0 {
		return nil, ErrNoDetections
	}
	log := logging.ForContext(ctx, e.logger)

	type outcome struct {
		lines []LinearFeature
		err   error
	}
	outcomes := make([]outcome, len(e.detectors))

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, d := range e.detectors {
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					outcomes[i] = outcome{err: fmt.Errorf("detector panic: %v", rec)}
				}
			}()
			lines, derr := d.DetectRidges(ctx, fp)
			outcomes[i] = outcome{lines: lines, err: derr}
			return nil
		})
	}
	_ = g.Wait()

	res := &EnsembleResult{Failed: make(map[string]string)}
	var pooled []LinearFeature
	for i, d := range e.detectors {
		o := outcomes[i]
		if o.err != nil {
			res.Failed[d.Name()] = o.err.Error()
			log.Warn(ctx, "ridge detector failed", logging.String("detector", d.Name()), logging.Err(o.err))
			continue
		}
		res.Succeeded = append(res.Succeeded, d.Name())
		for _, l := range o.lines {
			if l.Source == "" {
				l.Source = d.Name()
			}
			pooled = append(pooled, l)
		}
	}
	if len(res.Succeeded) == 0 {
		return res, fmt.Errorf("%w: %d detector(s) failed", ErrNoDetections, len(res.Failed))
	}

	var frame LocalFrame
	if fp != nil {
		frame = NewLocalFrame(fp.Ring)
	} else {
		frame = NewLocalFrame(nil)
	}
	res.Lines = combineLines(frame, pooled, len(res.Succeeded), e.clusterFt)
	return res, nil
}

// combineLines clusters same-typed lines whose midpoints lie within
// clusterFt, then replaces every cluster by its coordinate-wise median line.
// Confidence is the share of detectors that agree times their mean
// confidence.
func combineLines(frame LocalFrame, lines []LinearFeature, detectors int, clusterFt float64) []LinearFeature {
	if len(lines) == 0 {
		return nil
	}
	mids := make([]orb.Point, len(lines))
	for i, l := range lines {
		a, b := frame.ToFeet(l.Start), frame.ToFeet(l.End)
		mids[i] = orb.Point{(a[0] + b[0]) / 2, (a[1] + b[1]) / 2}
	}

	uf := newUnionFind(len(lines))
	for i := range lines {
		for j := i + 1; j < len(lines); j++ {
			if lines[i].Type == lines[j].Type && Distance(mids[i], mids[j]) <= clusterFt {
				uf.union(i, j)
			}
		}
	}

	var out []LinearFeature
	for _, group := range uf.groups() {
		ref := lines[group[0]]
		starts := make([]orb.Point, 0, len(group))
		ends := make([]orb.Point, 0, len(group))
		sources := make(map[string]bool)
		var confSum float64
		for _, idx := range group {
			l := lines[idx]
			// Orient every member like the first so endpoints pair up.
			if dot(sub(l.End, l.Start), sub(ref.End, ref.Start)) < 0 {
				l.Start, l.End = l.End, l.Start
			}
			starts = append(starts, l.Start)
			ends = append(ends, l.End)
			sources[l.Source] = true
			confSum += l.Confidence
		}
		agreement := float64(len(sources)) / float64(detectors)
		if agreement > 1 {
			agreement = 1
		}
		names := make([]string, 0, len(sources))
		for s := range sources {
			names = append(names, s)
		}
		sort.Strings(names)
		out = append(out, LinearFeature{
			Start:      medianPoint(starts),
			End:        medianPoint(ends),
			Type:       ref.Type,
			Confidence: agreement * confSum / float64(len(group)),
			Source:     strings.Join(names, "+"),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

// medianPoint is the coordinate-wise median of pts.
func medianPoint(pts []orb.Point) orb.Point {
	xs := make([]float64, len(pts))
	ys := make([]float64, len(pts))
	for i, p := range pts {
		xs[i], ys[i] = p[0], p[1]
	}
	sort.Float64s(xs)
	sort.Float64s(ys)
	return orb.Point{medianOfSorted(xs), medianOfSorted(ys)}
}

func medianOfSorted(v []float64) float64 {
	n := len(v)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return v[n/2]
	}
	return (v[n/2-1] + v[n/2]) / 2
}

func sub(a, b orb.Point) orb.Point { return orb.Point{a[0] - b[0], a[1] - b[1]} }
func dot(a, b orb.Point) float64   { return a[0]*b[0] + a[1]*b[1] }

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
