package roof

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// Topology confidence by ridge direction source.
const (
	solarTopologyConfidence     = 0.90
	aiTopologyConfidenceCap     = 0.85
	geometricTopologyConfidence = 0.70

	// squareToleranceDeg is how far a corner may deviate from 90 degrees
	// before the outline stops counting as a rectangle.
	squareToleranceDeg = 10.0

	// collinearSine drops vertices whose turn is smaller than about 1 degree.
	collinearSine = 0.0175

	// minRidgeFt is the shortest ridge kept; shorter ridges collapse to a peak.
	minRidgeFt = 0.5

	// onEdgeFt is the distance within which a point lies on an outline edge.
	onEdgeFt = 0.01

	// ridgeAlignToleranceDeg is how far a solar or detected ridge may lie
	// from the nearest outline edge orientation and still snap onto it.
	ridgeAlignToleranceDeg = 5.0
)

// ErrDegenerateFootprint is returned when a footprint has fewer than three
// distinct vertices or no area.
var ErrDegenerateFootprint = errors.New("footprint is degenerate")

// TopologyInput is everything the builder needs for one footprint.
type TopologyInput struct {
	Footprint  *Footprint
	Solar      *SolarData
	Detections []LinearFeature
	// EaveOffsetFt grows the footprint outward to the drip edge. Nil uses
	// the configured offset; zero means no overhang.
	EaveOffsetFt *float64
	// RoofStyle overrides the configured style when non-empty.
	RoofStyle RoofStyle
}

// TopologyBuilder assembles a roof skeleton anchored to a footprint.
type TopologyBuilder struct {
	priority []RidgeSource
	style    RoofStyle
	eaveFt   float64
	vertices *VertexDetector
}

// NewTopologyBuilder returns a builder configured from cfg.
func NewTopologyBuilder(cfg TopologyConfig) *TopologyBuilder {
	priority := cfg.RidgeSourcePriority
	if len(priority) == 0 {
		priority = DefaultRidgeSourcePriority
	}
	style := cfg.RoofStyle
	if style == "" {
		style = RoofStyleHip
	}
	return &TopologyBuilder{
		priority: priority,
		style:    style,
		eaveFt:   cfg.EaveOffsetFt,
		vertices: NewVertexDetector(cfg.SnapToleranceFt),
	}
}

// ridgeDirection is a chosen ridge orientation in the local feet frame.
type ridgeDirection struct {
	dir        orb.Point
	source     RidgeSource
	confidence float64
}

// Build produces the skeleton for in.Footprint. Geometric anomalies are
// tolerated and reported as warnings; only an unusable footprint is an error.
func (b *TopologyBuilder) Build(in TopologyInput) (*RoofTopology, error) {
	if in.Footprint == nil {
		return nil, fmt.Errorf("build topology: %w", ErrNoFootprint)
	}
	frame := NewLocalFrame(in.Footprint.Ring)
	outline := cleanOutline(frame.RingToFeet(ringVertices(in.Footprint.Ring)))
	if len(outline) < 3 || math.Abs(signedArea(outline)) < 1 {
		return nil, fmt.Errorf("build topology: %w: %d usable vertices", ErrDegenerateFootprint, len(outline))
	}
	if signedArea(outline) < 0 {
		outline.Reverse()
	}

	topo := &RoofTopology{Warnings: []string{}}

	offset := b.eaveFt
	if in.EaveOffsetFt != nil {
		offset = *in.EaveOffsetFt
	}
	if offset > 0 {
		outline = offsetOutline(outline, offset)
	}

	style := b.style
	if in.RoofStyle != "" {
		style = in.RoofStyle
	}
	if in.Solar.HasSegments() {
		switch n := len(in.Solar.Segments); {
		case n == 2:
			style = RoofStyleGable
		case n >= 4:
			style = RoofStyleHip
		}
	}
	topo.RoofStyle = style

	rd := b.chooseRidgeDirection(frame, outline, in)
	if rd.source != RidgeSourceGeometric {
		dir, offDeg := nearestEdgeOrientation(outline, rd.dir)
		if offDeg <= ridgeAlignToleranceDeg {
			rd.dir = dir
		} else {
			topo.IsComplexShape = true
			topo.Warnings = append(topo.Warnings, fmt.Sprintf(
				"%s ridge direction is %.1f degrees off the nearest footprint edge", rd.source, offDeg))
		}
	}
	topo.RidgeSource = rd.source
	topo.Confidence = rd.confidence

	sk := buildSkeleton(outline, rd.dir, style)
	topo.Warnings = append(topo.Warnings, sk.warnings...)

	reflex := 0
	for i := range outline {
		if !isConvexCorner(outline, i) {
			reflex++
		}
	}
	switch {
	case reflex > 0:
		topo.IsComplexShape = true
		topo.Warnings = append(topo.Warnings, fmt.Sprintf("footprint has %d reflex corner(s); valleys approximated", reflex))
	case !isNearRectangle(outline):
		topo.IsComplexShape = true
		topo.Warnings = append(topo.Warnings, fmt.Sprintf("footprint with %d corners is not rectangular; hips approximated", len(outline)))
	}
	if sk.ridgeOutside {
		topo.IsComplexShape = true
	}

	topo.FootprintCoords = CloseRing(frame.RingFromFeet(outline))
	for _, e := range sk.edges {
		topo.Skeleton = append(topo.Skeleton, SkeletonEdge{
			Start: frame.FromFeet(e.Start),
			End:   frame.FromFeet(e.End),
			Type:  e.Type,
		})
	}

	var lines []LinearFeature
	for _, e := range topo.Skeleton {
		if e.Type.IsStructural() {
			lines = append(lines, LinearFeature{Start: e.Start, End: e.End, Type: e.Type, Confidence: topo.Confidence})
		}
	}
	topo.Vertices = b.vertices.Detect(topo.FootprintCoords, lines)
	validation := ValidateVertices(topo.Vertices)
	topo.Warnings = append(topo.Warnings, validation.Warnings...)
	if len(validation.DisconnectedClusters) > 0 {
		topo.IsComplexShape = true
	}

	return topo, nil
}

// chooseRidgeDirection walks the priority list and returns the first usable
// source. The geometric source is always usable.
func (b *TopologyBuilder) chooseRidgeDirection(frame LocalFrame, outline orb.Ring, in TopologyInput) ridgeDirection {
	for _, src := range b.priority {
		switch src {
		case RidgeSourceSolar:
			if dir, ok := solarRidgeDirection(in.Solar); ok {
				return ridgeDirection{dir: dir, source: RidgeSourceSolar, confidence: solarTopologyConfidence}
			}
		case RidgeSourceAI:
			if dir, conf, ok := detectedRidgeDirection(frame, in.Detections); ok {
				return ridgeDirection{dir: dir, source: RidgeSourceAI, confidence: math.Min(conf, aiTopologyConfidenceCap)}
			}
		case RidgeSourceGeometric:
			return ridgeDirection{dir: longestEdgeDirection(outline), source: RidgeSourceGeometric, confidence: geometricTopologyConfidence}
		}
	}
	return ridgeDirection{dir: longestEdgeDirection(outline), source: RidgeSourceGeometric, confidence: geometricTopologyConfidence}
}

// solarRidgeDirection runs the ridge perpendicular to the azimuth of the
// largest roof segment. Azimuth is measured clockwise from north.
func solarRidgeDirection(solar *SolarData) (orb.Point, bool) {
	if !solar.HasSegments() {
		return orb.Point{}, false
	}
	largest := solar.Segments[0]
	for _, s := range solar.Segments[1:] {
		if s.AreaSqft > largest.AreaSqft {
			largest = s
		}
	}
	a := largest.AzimuthDegrees * math.Pi / 180
	return orb.Point{math.Cos(a), -math.Sin(a)}, true
}

// detectedRidgeDirection averages the orientation of detected ridges,
// weighting by length times confidence. Orientations are axial, so angles
// are doubled before averaging.
func detectedRidgeDirection(frame LocalFrame, detections []LinearFeature) (orb.Point, float64, bool) {
	var c, s, confSum float64
	n := 0
	for _, d := range detections {
		if d.Type != EdgeRidge {
			continue
		}
		a, b := frame.ToFeet(d.Start), frame.ToFeet(d.End)
		length := Distance(a, b)
		if length == 0 {
			continue
		}
		theta := math.Atan2(b[1]-a[1], b[0]-a[0])
		w := length * d.Confidence
		c += w * math.Cos(2*theta)
		s += w * math.Sin(2*theta)
		confSum += d.Confidence
		n++
	}
	if n == 0 || math.Hypot(c, s) == 0 {
		return orb.Point{}, 0, false
	}
	theta := math.Atan2(s, c) / 2
	return orb.Point{math.Cos(theta), math.Sin(theta)}, confSum / float64(n), true
}

// nearestEdgeOrientation returns the outline edge direction closest to dir,
// pointing the same way as dir, and the axial angle between them in degrees.
func nearestEdgeOrientation(outline orb.Ring, dir orb.Point) (orb.Point, float64) {
	best, bestDeg := dir, 90.0
	n := len(outline)
	for i := 0; i < n; i++ {
		a, b := outline[i], outline[(i+1)%n]
		l := Distance(a, b)
		if l == 0 {
			continue
		}
		e := orb.Point{(b[0] - a[0]) / l, (b[1] - a[1]) / l}
		cos := dir[0]*e[0] + dir[1]*e[1]
		if cos < 0 {
			e, cos = orb.Point{-e[0], -e[1]}, -cos
		}
		if deg := math.Acos(math.Min(1, cos)) * 180 / math.Pi; deg < bestDeg {
			best, bestDeg = e, deg
		}
	}
	return best, bestDeg
}

func longestEdgeDirection(outline orb.Ring) orb.Point {
	best := orb.Point{1, 0}
	bestLen := 0.0
	n := len(outline)
	for i := 0; i < n; i++ {
		a, b := outline[i], outline[(i+1)%n]
		if l := Distance(a, b); l > bestLen {
			bestLen = l
			best = orb.Point{(b[0] - a[0]) / l, (b[1] - a[1]) / l}
		}
	}
	return best
}

// cleanOutline removes repeated and nearly collinear vertices.
func cleanOutline(pts []orb.Point) orb.Ring {
	out := make(orb.Ring, 0, len(pts))
	for _, p := range pts {
		if len(out) > 0 && Distance(out[len(out)-1], p) < onEdgeFt {
			continue
		}
		out = append(out, p)
	}
	if len(out) > 1 && Distance(out[0], out[len(out)-1]) < onEdgeFt {
		out = out[:len(out)-1]
	}
	for changed := true; changed && len(out) > 3; {
		changed = false
		for i := 0; i < len(out); i++ {
			prev := out[(i-1+len(out))%len(out)]
			next := out[(i+1)%len(out)]
			if math.Abs(turnSine(prev, out[i], next)) < collinearSine {
				out = append(out[:i], out[i+1:]...)
				changed = true
				break
			}
		}
	}
	return out
}

// turnSine is the sine of the turn angle at b on the path a-b-c.
func turnSine(a, b, c orb.Point) float64 {
	d1 := orb.Point{b[0] - a[0], b[1] - a[1]}
	d2 := orb.Point{c[0] - b[0], c[1] - b[1]}
	l := math.Hypot(d1[0], d1[1]) * math.Hypot(d2[0], d2[1])
	if l == 0 {
		return 0
	}
	return (d1[0]*d2[1] - d1[1]*d2[0]) / l
}

// isConvexCorner reports whether corner i of a counter-clockwise outline
// turns left.
func isConvexCorner(outline orb.Ring, i int) bool {
	n := len(outline)
	return turnSine(outline[(i-1+n)%n], outline[i], outline[(i+1)%n]) > 0
}

// isNearRectangle reports whether the outline has four corners that are all
// within squareToleranceDeg of a right angle.
func isNearRectangle(outline orb.Ring) bool {
	if len(outline) != 4 {
		return false
	}
	limit := math.Cos(squareToleranceDeg * math.Pi / 180)
	for i := range outline {
		if math.Abs(turnSine(outline[(i+3)%4], outline[i], outline[(i+1)%4])) < limit {
			return false
		}
	}
	return true
}

// offsetOutline moves every edge of a counter-clockwise outline outward by d
// and joins neighbours with a miter.
func offsetOutline(outline orb.Ring, d float64) orb.Ring {
	n := len(outline)
	normal := func(i int) (orb.Point, orb.Point) {
		a, b := outline[i], outline[(i+1)%n]
		l := Distance(a, b)
		dir := orb.Point{(b[0] - a[0]) / l, (b[1] - a[1]) / l}
		nrm := orb.Point{dir[1], -dir[0]}
		return orb.Point{a[0] + nrm[0]*d, a[1] + nrm[1]*d}, dir
	}
	out := make(orb.Ring, n)
	for i := 0; i < n; i++ {
		p1, d1 := normal((i - 1 + n) % n)
		p2, d2 := normal(i)
		if q, ok := lineIntersection(p1, d1, p2, d2); ok {
			out[i] = q
		} else {
			out[i] = orb.Point{p2[0], p2[1]}
		}
	}
	return out
}

// skeletonResult is the skeleton in the local feet frame.
type skeletonResult struct {
	edges        []SkeletonEdge
	warnings     []string
	ridgeOutside bool
}

// buildSkeleton lays a ridge through the outline's centroid along dir and
// connects every corner to it. Hip roofs inset the ridge by half the width
// across it; gable roofs run it to the outline and turn the end edges into
// rakes.
func buildSkeleton(outline orb.Ring, dir orb.Point, style RoofStyle) skeletonResult {
	var res skeletonResult
	n := len(outline)
	perp := orb.Point{-dir[1], dir[0]}
	center := Centroid(CloseRing(outline))

	u := func(p orb.Point) float64 { return (p[0]-center[0])*dir[0] + (p[1]-center[1])*dir[1] }
	v := func(p orb.Point) float64 { return (p[0]-center[0])*perp[0] + (p[1]-center[1])*perp[1] }
	at := func(t float64) orb.Point { return orb.Point{center[0] + t*dir[0], center[1] + t*dir[1]} }

	vMin, vMax := math.Inf(1), math.Inf(-1)
	for _, p := range outline {
		vMin = math.Min(vMin, v(p))
		vMax = math.Max(vMax, v(p))
	}
	width := vMax - vMin

	t0, t1 := ridgeChord(outline, center, dir, u)
	if style == RoofStyleHip {
		t0 += width / 2
		t1 -= width / 2
	}

	ridgeStart, ridgeEnd := at(t0), at(t1)
	peak := t1-t0 < minRidgeFt
	if peak {
		mid := (t0 + t1) / 2
		ridgeStart, ridgeEnd = at(mid), at(mid)
		if style == RoofStyleGable {
			res.warnings = append(res.warnings, "footprint too short along the ridge for a gable; using a peak")
		}
	}

	ringClosed := CloseRing(outline)
	for _, p := range []orb.Point{ridgeStart, ridgeEnd} {
		if !PointInOrNearPolygon(p, ringClosed, onEdgeFt) {
			res.ridgeOutside = true
			res.warnings = append(res.warnings, "ridge endpoint falls outside the footprint")
			break
		}
	}

	// Rakes are the outline edges a gable ridge ends on.
	rake := make([]bool, n)
	if style == RoofStyleGable && !peak {
		for i := 0; i < n; i++ {
			a, b := outline[i], outline[(i+1)%n]
			if DistanceToSegment(ridgeStart, a, b) <= onEdgeFt || DistanceToSegment(ridgeEnd, a, b) <= onEdgeFt {
				rake[i] = true
			}
		}
	}

	for i := 0; i < n; i++ {
		et := EdgeEave
		if rake[i] {
			et = EdgeRake
		}
		res.edges = append(res.edges, SkeletonEdge{Start: outline[i], End: outline[(i+1)%n], Type: et})
	}

	// Corners on a rake already meet the ridge through the rake.
	type attach struct {
		corner orb.Point
		target orb.Point
		kind   EdgeType
	}
	var attaches []attach
	for i := 0; i < n; i++ {
		if rake[i] || rake[(i-1+n)%n] {
			continue
		}
		target := closestPointOnSegment(outline[i], ridgeStart, ridgeEnd)
		kind := EdgeHip
		if !isConvexCorner(outline, i) {
			kind = EdgeValley
		}
		attaches = append(attaches, attach{outline[i], target, kind})
	}

	if !peak {
		// Split the ridge at interior attach points so every endpoint is shared.
		cuts := []float64{u(ridgeStart), u(ridgeEnd)}
		for _, a := range attaches {
			t := u(a.target)
			if t-cuts[0] > onEdgeFt && cuts[1]-t > onEdgeFt {
				cuts = append(cuts, t)
			}
		}
		sort.Float64s(cuts)
		for i := 1; i < len(cuts); i++ {
			if cuts[i]-cuts[i-1] < onEdgeFt {
				continue
			}
			res.edges = append(res.edges, SkeletonEdge{Start: at(cuts[i-1]), End: at(cuts[i]), Type: EdgeRidge})
		}
	}

	for _, a := range attaches {
		if Distance(a.corner, a.target) < onEdgeFt {
			continue
		}
		res.edges = append(res.edges, SkeletonEdge{Start: a.corner, End: a.target, Type: a.kind})
	}
	return res
}

// ridgeChord returns the parameter interval of the line center+t*dir that
// lies inside the outline. When the centroid falls outside (concave
// outlines) the longest inside interval is used; when the line misses the
// outline entirely the outline's projected extent is used.
func ridgeChord(outline orb.Ring, center, dir orb.Point, u func(orb.Point) float64) (float64, float64) {
	n := len(outline)
	var ts []float64
	for i := 0; i < n; i++ {
		a, b := outline[i], outline[(i+1)%n]
		e := orb.Point{b[0] - a[0], b[1] - a[1]}
		det := dir[0]*e[1] - dir[1]*e[0]
		if math.Abs(det) < parallelEpsilon {
			continue
		}
		ox, oy := a[0]-center[0], a[1]-center[1]
		t := (ox*e[1] - oy*e[0]) / det
		s := (ox*dir[1] - oy*dir[0]) / det
		if s >= 0 && s < 1 {
			ts = append(ts, t)
		}
	}
	sort.Float64s(ts)

	if len(ts) >= 2 && len(ts)%2 == 0 {
		bestLo, bestHi := ts[0], ts[1]
		for i := 0; i+1 < len(ts); i += 2 {
			lo, hi := ts[i], ts[i+1]
			if lo <= 0 && hi >= 0 {
				return lo, hi
			}
			if hi-lo > bestHi-bestLo {
				bestLo, bestHi = lo, hi
			}
		}
		return bestLo, bestHi
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range outline {
		lo = math.Min(lo, u(p))
		hi = math.Max(hi, u(p))
	}
	return lo, hi
}
