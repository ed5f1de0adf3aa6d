package roof

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"

	"github.com/kwv/roofmesh/internal/logging"
)

// Fallback reasons recorded when a provider yields no footprint.
const (
	ReasonAPIError      = "api_error"
	ReasonNoBuildings   = "no_buildings_found"
	ReasonNoPolygons    = "no_polygon_buildings"
	ReasonFetchError    = "fetch_error"
	ReasonNotSelected   = "not_selected"
	FootprintSourceNone = "none"
)

// Candidate scoring thresholds.
const (
	distanceNoiseM      = 5.0
	plausibleMinAreaSqM = 100.0
	plausibleMaxAreaSqM = 500.0
	smallAreaSqM        = 50.0
	farDistanceM        = 15.0
	veryFarDistanceM    = 30.0
	minFootprintConf    = 0.5
	maxFootprintConf    = 0.95
)

// ErrNoFootprint is returned when no provider produced a usable footprint.
var ErrNoFootprint = errors.New("no footprint found")

// ProviderAttempt records what one provider returned.
type ProviderAttempt struct {
	Source         string `json:"source"`
	FallbackReason string `json:"fallbackReason,omitempty"`
	Diagnostic     string `json:"diagnostic,omitempty"`
	Candidates     int    `json:"candidates"`
}

// ResolveResult is the outcome of footprint resolution. Footprint is nil and
// Source is "none" when every provider failed.
type ResolveResult struct {
	Footprint *Footprint        `json:"footprint"`
	Source    string            `json:"source"`
	Attempts  []ProviderAttempt `json:"attempts"`
}

// FallbackReason returns the reason of the first failed attempt, or "".
func (r ResolveResult) FallbackReason() string {
	for _, a := range r.Attempts {
		if a.FallbackReason != "" && a.FallbackReason != ReasonNotSelected {
			return a.FallbackReason
		}
	}
	return ""
}

// Resolver picks the best footprint polygon for a coordinate across several
// providers.
type Resolver struct {
	providers  []FootprintProvider
	radiusM    float64
	simplifyM  float64
	logger     logging.Logger
	metrics    *Metrics
	concurrent bool
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithResolverLogger sets the logger.
func WithResolverLogger(l logging.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logging.OrNoop(l) }
}

// WithResolverMetrics records provider outcomes.
func WithResolverMetrics(m *Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

// WithSequentialProviders queries providers one after another instead of
// concurrently.
func WithSequentialProviders() ResolverOption {
	return func(r *Resolver) { r.concurrent = false }
}

// NewResolver returns a resolver over providers, listed in priority order.
func NewResolver(cfg FootprintConfig, providers []FootprintProvider, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		providers:  providers,
		radiusM:    cfg.SearchRadiusM,
		simplifyM:  cfg.SimplifyToleranceM,
		logger:     logging.Noop(),
		concurrent: true,
	}
	if r.radiusM <= 0 {
		r.radiusM = DefaultSearchRadiusM
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// candidate is one scored polygon.
type candidate struct {
	ring      orb.Ring
	source    string
	baseline  float64
	priority  int
	areaSqM   float64
	distanceM float64
	contains  bool
}

// providerOutcome is the raw result of one provider query.
type providerOutcome struct {
	fc  *geojson.FeatureCollection
	err error
}

// Resolve queries every provider around (lat, lng) and returns the best
// candidate. It never returns an error: provider failures are recorded as
// attempts with a fallback reason.
func (r *Resolver) Resolve(ctx context.Context, lat, lng float64) ResolveResult {
	log := logging.ForContext(ctx, r.logger)
	bound := BoundForRadius(lat, lng, r.radiusM)
	query := orb.Point{lng, lat}

	outcomes := make([]providerOutcome, len(r.providers))
	fetch := func(i int) {
		defer func() {
			if rec := recover(); rec != nil {
				outcomes[i] = providerOutcome{err: fmt.Errorf("provider panic: %v", rec)}
			}
		}()
		fc, err := r.providers[i].FetchBuildings(ctx, bound)
		outcomes[i] = providerOutcome{fc: fc, err: err}
	}
	if r.concurrent {
		var g errgroup.Group
		for i := range r.providers {
			g.Go(func() error {
				fetch(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range r.providers {
			fetch(i)
		}
	}

	res := ResolveResult{Source: FootprintSourceNone, Attempts: make([]ProviderAttempt, 0, len(r.providers))}
	var all []candidate
	for i, p := range r.providers {
		attempt := ProviderAttempt{Source: p.Source()}
		out := outcomes[i]

		switch {
		case out.err != nil:
			attempt.FallbackReason = ReasonFetchError
			var statusErr *HTTPStatusError
			if errors.As(out.err, &statusErr) {
				attempt.FallbackReason = ReasonAPIError
			}
			attempt.Diagnostic = out.err.Error()
		case out.fc == nil || len(out.fc.Features) == 0:
			attempt.FallbackReason = ReasonNoBuildings
		default:
			cands := r.candidates(out.fc, query, p, i)
			attempt.Candidates = len(cands)
			if len(cands) == 0 {
				attempt.FallbackReason = ReasonNoPolygons
			}
			all = append(all, cands...)
		}

		if attempt.FallbackReason != "" {
			log.Warn(ctx, "footprint provider returned no candidates",
				logging.String("source", attempt.Source),
				logging.String("reason", attempt.FallbackReason),
				logging.String("diagnostic", attempt.Diagnostic))
		}
		r.metrics.ObserveProvider(attempt.Source, attempt.FallbackReason)
		res.Attempts = append(res.Attempts, attempt)
	}

	if len(all) == 0 {
		return res
	}

	best := all[0]
	for _, c := range all[1:] {
		if betterCandidate(c, best) {
			best = c
		}
	}
	for i := range res.Attempts {
		if res.Attempts[i].FallbackReason == "" && res.Attempts[i].Source != best.source {
			res.Attempts[i].FallbackReason = ReasonNotSelected
		}
	}

	res.Footprint = &Footprint{
		Ring:              best.ring,
		Source:            best.source,
		Confidence:        footprintConfidence(best),
		AreaSqFt:          best.areaSqM * SqFtPerSqM,
		VertexCount:       len(ringVertices(best.ring)),
		CentroidDistanceM: best.distanceM,
		ContainsPoint:     best.contains,
	}
	res.Source = best.source

	log.Info(ctx, "footprint resolved",
		logging.String("source", best.source),
		logging.Float("confidence", res.Footprint.Confidence),
		logging.Float("distance_m", best.distanceM),
		logging.Bool("contains", best.contains),
		logging.Int("candidates", len(all)))
	return res
}

// candidates extracts every polygon outer ring from fc and scores it.
func (r *Resolver) candidates(fc *geojson.FeatureCollection, query orb.Point, p FootprintProvider, priority int) []candidate {
	var rings []orb.Ring
	for _, f := range fc.Features {
		if f == nil || f.Geometry == nil {
			continue
		}
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			if len(g) > 0 {
				rings = append(rings, g[0])
			}
		case orb.MultiPolygon:
			for _, poly := range g {
				if len(poly) > 0 {
					rings = append(rings, poly[0])
				}
			}
		}
	}

	var out []candidate
	for _, ring := range rings {
		ring = SimplifyRing(ring, r.simplifyM)
		if len(ringVertices(ring)) < 3 {
			continue
		}
		area := PolygonAreaSqM(ring)
		if area <= 0 {
			continue
		}
		c := Centroid(ring)
		out = append(out, candidate{
			ring:      ring,
			source:    p.Source(),
			baseline:  p.Baseline(),
			priority:  priority,
			areaSqM:   area,
			distanceM: HaversineDistanceM(query[1], query[0], c[1], c[0]),
			contains:  planar.RingContains(ring, query),
		})
	}
	return out
}

// betterCandidate reports whether a outranks b: containment first, then a
// plausible residential area when distances are within noise, then distance,
// then provider priority.
func betterCandidate(a, b candidate) bool {
	if a.contains != b.contains {
		return a.contains
	}
	if math.Abs(a.distanceM-b.distanceM) < distanceNoiseM {
		ap, bp := plausibleArea(a.areaSqM), plausibleArea(b.areaSqM)
		if ap != bp {
			return ap
		}
	}
	if a.distanceM != b.distanceM {
		return a.distanceM < b.distanceM
	}
	return a.priority < b.priority
}

func plausibleArea(sqm float64) bool {
	return sqm >= plausibleMinAreaSqM && sqm <= plausibleMaxAreaSqM
}

// footprintConfidence penalizes the provider baseline for weak evidence and
// clamps the result to [0.5, 0.95].
func footprintConfidence(c candidate) float64 {
	conf := c.baseline
	if !c.contains {
		conf -= 0.10
	}
	if c.distanceM > farDistanceM {
		conf -= 0.10
	}
	if c.distanceM > veryFarDistanceM {
		conf -= 0.10
	}
	if c.areaSqM < smallAreaSqM {
		conf -= 0.15
	}
	return math.Max(minFootprintConf, math.Min(maxFootprintConf, conf))
}
