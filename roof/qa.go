package roof

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
)

// QAConfig holds the tolerances of the QA gate.
type QAConfig struct {
	AreaTolerance       float64 `yaml:"areaTolerance,omitempty" json:"areaTolerance,omitempty"`
	AreaWarnBand        float64 `yaml:"areaWarnBand,omitempty" json:"areaWarnBand,omitempty"`
	PerimeterTolerance  float64 `yaml:"perimeterTolerance,omitempty" json:"perimeterTolerance,omitempty"`
	EndpointToleranceFt float64 `yaml:"endpointToleranceFt,omitempty" json:"endpointToleranceFt,omitempty"`
	RidgeErrorRatio     float64 `yaml:"ridgeErrorRatio,omitempty" json:"ridgeErrorRatio,omitempty"`
	RidgeWarnRatio      float64 `yaml:"ridgeWarnRatio,omitempty" json:"ridgeWarnRatio,omitempty"`
	MinPassingScore     float64 `yaml:"minPassingScore,omitempty" json:"minPassingScore,omitempty"`
}

// Penalties subtracted from the QA score.
const (
	penaltyArea          = 0.20
	penaltyPerimeter     = 0.10
	penaltyFloating      = 0.15
	penaltyCrossingHips  = 0.25
	penaltyRidgeLength   = 0.20
	penaltyFacetsNotShut = 0.10
	penaltyNearFail      = 0.05
)

// DefaultQAConfig returns the standard QA tolerances.
func DefaultQAConfig() QAConfig {
	var c QAConfig
	c.applyDefaults()
	return c
}

func (c *QAConfig) applyDefaults() {
	if c.AreaTolerance <= 0 {
		c.AreaTolerance = 0.03
	}
	if c.AreaWarnBand <= 0 {
		c.AreaWarnBand = 0.02
	}
	if c.PerimeterTolerance <= 0 {
		c.PerimeterTolerance = 0.01
	}
	if c.EndpointToleranceFt <= 0 {
		c.EndpointToleranceFt = 3
	}
	if c.RidgeErrorRatio <= 0 {
		c.RidgeErrorRatio = 2.0
	}
	if c.RidgeWarnRatio <= 0 {
		c.RidgeWarnRatio = 1.5
	}
	if c.MinPassingScore <= 0 {
		c.MinPassingScore = 0.7
	}
}

// checkOutcome is the verdict of a single QA check.
type checkOutcome struct {
	ok      bool
	penalty float64
	warning string
	err     string
}

// RunQAGate validates a topology and its area result. It is a pure function:
// identical inputs always yield an identical result. area and solar may be nil.
func RunQAGate(topo *RoofTopology, area *AreaResult, solar *SolarData, cfg QAConfig) QAGateResult {
	cfg.applyDefaults()

	res := QAGateResult{
		Warnings: []string{},
		Errors:   []string{},
	}
	if topo == nil {
		res.Errors = append(res.Errors, "no topology to validate")
		res.RequiresManualReview = true
		return res
	}

	// Upstream findings come first, verbatim.
	res.Warnings = append(res.Warnings, topo.Warnings...)
	if area != nil {
		res.Warnings = append(res.Warnings, area.Warnings...)
	}

	score := 1.0
	apply := func(o checkOutcome) bool {
		score -= o.penalty
		if o.warning != "" {
			res.Warnings = append(res.Warnings, o.warning)
		}
		if o.err != "" {
			res.Errors = append(res.Errors, o.err)
		}
		return o.ok
	}

	computed, reference := areaComparison(topo, area, solar)
	res.Checks.AreaWithinTolerance = apply(checkArea(computed, reference, cfg))
	res.Checks.PerimeterMatches = apply(checkPerimeter(topo, area, cfg))
	res.Checks.NoFloatingEndpoints = apply(checkFloatingEndpoints(topo, cfg))
	res.Checks.NoCrossingHips = apply(checkCrossingHips(topo))

	_, _, maxDim := BoundingBoxDimensionsFt(topo.FootprintCoords)
	ridgeFt := NewLocalFrame(topo.FootprintCoords).EdgesLengthFt(topo.EdgesOfType(EdgeRidge))
	res.Checks.RidgeLengthSane = apply(checkRidgeLength(ridgeFt, maxDim, cfg))
	res.Checks.FacetsClosed = apply(checkFacetsClosed(area))

	res.OverallScore = math.Max(0, score)
	res.Passed = len(res.Errors) == 0
	res.RequiresManualReview = !res.Passed ||
		res.OverallScore < cfg.MinPassingScore ||
		(area != nil && area.RequiresManualReview) ||
		topo.IsComplexShape
	return res
}

// areaComparison picks the area to validate and the reference it is compared
// against: the segment source's total sloped area when present, otherwise
// the footprint's own plan area.
func areaComparison(topo *RoofTopology, area *AreaResult, solar *SolarData) (computed, reference float64) {
	if area == nil {
		return 0, 0
	}
	if solar != nil && solar.Available && solar.TotalAreaSqft > 0 {
		return area.Totals.SlopedAreaSqft, solar.TotalAreaSqft
	}
	return area.Totals.PlanAreaSqft, PolygonAreaSqM(topo.FootprintCoords) * SqFtPerSqM
}

func checkArea(computed, reference float64, cfg QAConfig) checkOutcome {
	if reference <= 0 {
		return checkOutcome{ok: true}
	}
	diff := math.Abs(computed-reference) / reference
	switch {
	case diff > cfg.AreaTolerance:
		return checkOutcome{
			penalty: penaltyArea,
			err: fmt.Sprintf("area %.0f sqft differs from reference %.0f sqft by %.1f%% (limit %.1f%%)",
				computed, reference, diff*100, cfg.AreaTolerance*100),
		}
	case diff > cfg.AreaWarnBand:
		return checkOutcome{
			ok:      true,
			penalty: penaltyNearFail,
			warning: fmt.Sprintf("area %.0f sqft differs from reference %.0f sqft by %.1f%%", computed, reference, diff*100),
		}
	}
	return checkOutcome{ok: true}
}

func checkPerimeter(topo *RoofTopology, area *AreaResult, cfg QAConfig) checkOutcome {
	footprintFt := PerimeterFt(topo.FootprintCoords)
	if footprintFt <= 0 {
		return checkOutcome{ok: true}
	}
	var edgeFt float64
	if area != nil {
		edgeFt = area.LinearTotals.EaveFt + area.LinearTotals.RakeFt
	} else {
		frame := NewLocalFrame(topo.FootprintCoords)
		edgeFt = frame.EdgesLengthFt(topo.EdgesOfType(EdgeEave)) + frame.EdgesLengthFt(topo.EdgesOfType(EdgeRake))
	}
	diff := math.Abs(edgeFt-footprintFt) / footprintFt
	if diff > cfg.PerimeterTolerance {
		return checkOutcome{
			penalty: penaltyPerimeter,
			warning: fmt.Sprintf("eave+rake %.1f ft differs from footprint perimeter %.1f ft by %.1f%%",
				edgeFt, footprintFt, diff*100),
		}
	}
	return checkOutcome{ok: true}
}

func checkFloatingEndpoints(topo *RoofTopology, cfg QAConfig) checkOutcome {
	floating := FloatingEndpoints(topo, cfg.EndpointToleranceFt)
	if len(floating) == 0 {
		return checkOutcome{ok: true}
	}
	return checkOutcome{
		penalty: penaltyFloating,
		err:     fmt.Sprintf("%d skeleton endpoint(s) not connected to another edge or the footprint", len(floating)),
	}
}

// FloatingEndpoints returns every skeleton endpoint that lies farther than
// toleranceFt from both any other edge's endpoint and the footprint boundary.
func FloatingEndpoints(topo *RoofTopology, toleranceFt float64) []Coordinate {
	if topo == nil || len(topo.Skeleton) == 0 {
		return nil
	}
	frame := NewLocalFrame(topo.FootprintCoords)
	ring := frame.RingToFeet(CloseRing(topo.FootprintCoords))

	type endpoint struct {
		edge int
		p    orb.Point
	}
	eps := make([]endpoint, 0, 2*len(topo.Skeleton))
	for i, e := range topo.Skeleton {
		eps = append(eps, endpoint{i, frame.ToFeet(e.Start)}, endpoint{i, frame.ToFeet(e.End)})
	}

	var floating []Coordinate
	for i, ep := range eps {
		if len(ring) >= 2 && distanceToRing(ep.p, ring) <= toleranceFt {
			continue
		}
		connected := false
		for j, other := range eps {
			if j == i || other.edge == ep.edge {
				continue
			}
			if Distance(ep.p, other.p) <= toleranceFt {
				connected = true
				break
			}
		}
		if !connected {
			floating = append(floating, frame.FromFeet(ep.p))
		}
	}
	return floating
}

func checkCrossingHips(topo *RoofTopology) checkOutcome {
	hips := topo.EdgesOfType(EdgeHip)
	crossings := 0
	for i := 0; i < len(hips); i++ {
		for j := i + 1; j < len(hips); j++ {
			if SegmentsIntersect(hips[i].Start, hips[i].End, hips[j].Start, hips[j].End) {
				crossings++
			}
		}
	}
	if crossings == 0 {
		return checkOutcome{ok: true}
	}
	return checkOutcome{
		penalty: penaltyCrossingHips,
		err:     fmt.Sprintf("%d pair(s) of hip edges cross", crossings),
	}
}

// checkRidgeLength compares the total ridge length against the footprint's
// largest bounding dimension. Only lengths strictly above a ratio fail.
func checkRidgeLength(ridgeFt, maxDimFt float64, cfg QAConfig) checkOutcome {
	if maxDimFt <= 0 || ridgeFt <= 0 {
		return checkOutcome{ok: true}
	}
	switch {
	case ridgeFt > cfg.RidgeErrorRatio*maxDimFt:
		return checkOutcome{
			penalty: penaltyRidgeLength,
			err: fmt.Sprintf("total ridge length %.1f ft exceeds %.1fx the footprint's max dimension %.1f ft",
				ridgeFt, cfg.RidgeErrorRatio, maxDimFt),
		}
	case ridgeFt > cfg.RidgeWarnRatio*maxDimFt:
		return checkOutcome{
			ok:      true,
			penalty: penaltyNearFail,
			warning: fmt.Sprintf("total ridge length %.1f ft is %.0f%% of the footprint's max dimension",
				ridgeFt, ridgeFt/maxDimFt*100),
		}
	}
	return checkOutcome{ok: true}
}

func checkFacetsClosed(area *AreaResult) checkOutcome {
	if area == nil || len(area.Facets) == 0 {
		return checkOutcome{ok: true}
	}
	open := 0
	for _, f := range area.Facets {
		if !f.Closed || len(ringVertices(f.Polygon)) < 3 {
			open++
		}
	}
	if open == 0 {
		return checkOutcome{ok: true}
	}
	return checkOutcome{
		penalty: penaltyFacetsNotShut,
		err:     fmt.Sprintf("%d facet(s) are not closed polygons", open),
	}
}

