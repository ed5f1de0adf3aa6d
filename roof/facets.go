package roof

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// Pitch sources recorded on each facet.
const (
	PitchSourceOverride    = "override"
	PitchSourceSegment     = "solar_segment"
	PitchSourcePredominant = "solar_predominant"
	PitchSourceDefault     = "default"
)

// segmentMatchDeg is the largest azimuth difference at which a roof segment
// supplies a facet's pitch.
const segmentMatchDeg = 45.0

// minFacetAreaSqft drops degenerate facets.
const minFacetAreaSqft = 0.01

// AreaInput carries the per-request pitch information.
type AreaInput struct {
	PitchOverride *Pitch
	Solar         *SolarData
}

// AreaCalculator partitions a topology into facets and totals their areas.
type AreaCalculator struct {
	DefaultPitch          Pitch
	MinTopologyConfidence float64
}

// NewAreaCalculator returns a calculator configured from cfg.
func NewAreaCalculator(cfg AreaConfig) (*AreaCalculator, error) {
	s := cfg.DefaultPitch
	if s == "" {
		s = DefaultPitchString
	}
	p, err := ParsePitch(s)
	if err != nil {
		return nil, fmt.Errorf("default pitch: %w", err)
	}
	minConf := cfg.MinTopologyConfidence
	if minConf <= 0 {
		minConf = DefaultMinTopologyConfidence
	}
	return &AreaCalculator{DefaultPitch: p, MinTopologyConfidence: minConf}, nil
}

// Calculate builds one facet per eave edge, assigns pitches and sums plan
// and sloped areas plus linear totals.
func (c *AreaCalculator) Calculate(topo *RoofTopology, in AreaInput) *AreaResult {
	res := &AreaResult{
		Facets:        []Facet{},
		ReviewReasons: []string{},
		Warnings:      []string{},
	}
	if topo == nil {
		res.RequiresManualReview = true
		res.ReviewReasons = append(res.ReviewReasons, "no topology")
		return res
	}

	frame := NewLocalFrame(topo.FootprintCoords)
	facets := c.buildFacets(frame, topo)

	unclosed := 0
	for i := range facets {
		f := &facets[i]
		f.Pitch, f.PitchSource = c.facetPitch(f.AzimuthDeg, in)
		if !f.Closed {
			unclosed++
			continue
		}
		f.SlopedAreaSqft = f.PlanAreaSqft * f.Pitch.SlopeFactor()
		res.Totals.PlanAreaSqft += f.PlanAreaSqft
		res.Totals.SlopedAreaSqft += f.SlopedAreaSqft
	}
	res.Facets = facets
	res.Totals.Squares = res.Totals.SlopedAreaSqft / 100
	res.PredominantPitch = predominantPitch(facets, c.DefaultPitch)

	for _, e := range topo.Skeleton {
		l := frame.LengthFt(e.Start, e.End)
		switch e.Type {
		case EdgeEave:
			res.LinearTotals.EaveFt += l
		case EdgeRake:
			res.LinearTotals.RakeFt += l
		case EdgeRidge:
			res.LinearTotals.RidgeFt += l
		case EdgeHip:
			res.LinearTotals.HipFt += l
		case EdgeValley:
			res.LinearTotals.ValleyFt += l
		}
	}
	res.TrueLengths = trueLengths(res.LinearTotals, res.PredominantPitch)

	if unclosed > 0 {
		res.RequiresManualReview = true
		res.ReviewReasons = append(res.ReviewReasons, fmt.Sprintf("%d facet(s) could not be closed", unclosed))
	}
	if len(facets) == 0 {
		res.RequiresManualReview = true
		res.ReviewReasons = append(res.ReviewReasons, "no facets could be built")
	}
	if topo.Confidence < c.MinTopologyConfidence {
		res.RequiresManualReview = true
		res.ReviewReasons = append(res.ReviewReasons,
			fmt.Sprintf("topology confidence %.2f below %.2f", topo.Confidence, c.MinTopologyConfidence))
	}
	return res
}

// buildFacets walks the eave edges. Each facet runs from the eave up the
// hip or valley leaving each corner, or to the nearest ridge point when no
// such edge exists. A topology without structural edges is one flat facet.
func (c *AreaCalculator) buildFacets(frame LocalFrame, topo *RoofTopology) []Facet {
	var ridges, slopes []SkeletonEdge
	var eaves []SkeletonEdge
	for _, e := range topo.Skeleton {
		fe := SkeletonEdge{Start: frame.ToFeet(e.Start), End: frame.ToFeet(e.End), Type: e.Type}
		switch e.Type {
		case EdgeRidge:
			ridges = append(ridges, fe)
		case EdgeHip, EdgeValley:
			slopes = append(slopes, fe)
		case EdgeEave:
			eaves = append(eaves, fe)
		}
	}

	if len(ridges) == 0 && len(slopes) == 0 {
		ring := ringVertices(topo.FootprintCoords)
		if len(ring) < 3 {
			return nil
		}
		feet := frame.RingToFeet(ring)
		return []Facet{{
			ID:           "f0",
			Polygon:      CloseRing(ring),
			PlanAreaSqft: math.Abs(signedArea(feet)),
			Closed:       true,
		}}
	}

	attach := func(p orb.Point) (orb.Point, bool) {
		for _, s := range slopes {
			if Distance(s.Start, p) <= onEdgeFt {
				return s.End, true
			}
			if Distance(s.End, p) <= onEdgeFt {
				return s.Start, true
			}
		}
		best, bestDist, found := orb.Point{}, math.Inf(1), false
		for _, r := range ridges {
			q := closestPointOnSegment(p, r.Start, r.End)
			if d := Distance(p, q); d < bestDist {
				best, bestDist, found = q, d, true
			}
		}
		return best, found
	}

	var facets []Facet
	for _, e := range eaves {
		a, b := e.Start, e.End
		pts := []orb.Point{a, b}
		closed := true
		if tb, ok := attach(b); ok {
			pts = appendDistinct(pts, tb)
		} else {
			closed = false
		}
		if ta, ok := attach(a); ok {
			pts = appendDistinct(pts, ta)
		} else {
			closed = false
		}
		if len(pts) > 2 && Distance(pts[len(pts)-1], pts[0]) <= onEdgeFt {
			pts = pts[:len(pts)-1]
		}
		if len(pts) < 3 {
			closed = false
		}

		area := math.Abs(signedArea(pts))
		if closed && area < minFacetAreaSqft {
			continue
		}

		// Outward normal of a counter-clockwise eave points downslope.
		dx, dy := b[0]-a[0], b[1]-a[1]
		azimuth := math.Mod(math.Atan2(dy, -dx)*180/math.Pi+360, 360)

		facets = append(facets, Facet{
			ID:           fmt.Sprintf("f%d", len(facets)),
			Polygon:      CloseRing(frame.RingFromFeet(pts)),
			AzimuthDeg:   azimuth,
			PlanAreaSqft: area,
			Closed:       closed,
			EaveEdge:     [2]orb.Point{frame.FromFeet(a), frame.FromFeet(b)},
		})
	}
	return facets
}

// facetPitch picks, in order: the override, a roof segment facing the same
// way, the segment source's predominant pitch, the default.
func (c *AreaCalculator) facetPitch(azimuthDeg float64, in AreaInput) (Pitch, string) {
	if in.PitchOverride != nil {
		return *in.PitchOverride, PitchSourceOverride
	}
	if in.Solar.HasSegments() {
		var best *RoofSegment
		bestDiff := 0.0
		for i := range in.Solar.Segments {
			s := &in.Solar.Segments[i]
			d := angularDifference(azimuthDeg, s.AzimuthDegrees)
			if d > segmentMatchDeg {
				continue
			}
			if best == nil || d < bestDiff || (d == bestDiff && s.AreaSqft > best.AreaSqft) {
				best, bestDiff = s, d
			}
		}
		if best != nil && best.PitchDegrees > 0 {
			return PitchFromDegrees(best.PitchDegrees), PitchSourceSegment
		}
	}
	if in.Solar != nil && in.Solar.Available && in.Solar.PredominantPitchDeg > 0 {
		return PitchFromDegrees(in.Solar.PredominantPitchDeg), PitchSourcePredominant
	}
	return c.DefaultPitch, PitchSourceDefault
}

// predominantPitch is the pitch covering the most plan area.
func predominantPitch(facets []Facet, fallback Pitch) Pitch {
	byRise := make(map[float64]float64)
	for _, f := range facets {
		byRise[math.Round(f.Pitch.Rise*100)/100] += f.PlanAreaSqft
	}
	best, bestArea := fallback, 0.0
	for rise, area := range byRise {
		if area > bestArea || (area == bestArea && rise > best.Rise) {
			best, bestArea = Pitch{Rise: rise}, area
		}
	}
	return best
}

// trueLengths converts plan lengths into lengths along the roof surface.
// Rakes climb at the roof pitch; hips and valleys run diagonally at 45
// degrees in plan, so they climb at the pitch divided by sqrt 2.
func trueLengths(plan LinearTotals, p Pitch) LinearTotals {
	diagonal := math.Hypot(1, p.Rise/12/math.Sqrt2)
	return LinearTotals{
		EaveFt:   plan.EaveFt,
		RidgeFt:  plan.RidgeFt,
		RakeFt:   plan.RakeFt * p.SlopeFactor(),
		HipFt:    plan.HipFt * diagonal,
		ValleyFt: plan.ValleyFt * diagonal,
	}
}

// angularDifference returns the absolute difference of two bearings in
// degrees, in [0, 180].
func angularDifference(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}

func appendDistinct(pts []orb.Point, p orb.Point) []orb.Point {
	if len(pts) > 0 && Distance(pts[len(pts)-1], p) <= onEdgeFt {
		return pts
	}
	return append(pts, p)
}
