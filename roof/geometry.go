package roof

import (
	"math"

	"github.com/golang/geo/s2"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"
)

const (
	// FeetPerMeter converts meters to feet.
	FeetPerMeter = 3.28084

	// SqFtPerSqM converts square meters to square feet.
	SqFtPerSqM = FeetPerMeter * FeetPerMeter

	// MetersPerDegree is the length of one degree of latitude (and of
	// longitude at the equator) in the equirectangular approximation.
	MetersPerDegree = 111320.0

	// EarthRadiusFt is the mean Earth radius used for great-circle distances.
	EarthRadiusFt = 20902231.0

	// parallelEpsilon is the determinant magnitude below which two segments
	// are treated as parallel.
	parallelEpsilon = 1e-12

	// crossingEpsilon keeps shared or touching endpoints from being reported
	// as crossings: t and u must lie strictly inside (eps, 1-eps).
	crossingEpsilon = 0.001
)

// Distance returns the planar Euclidean distance between two points in the
// working coordinate space.
func Distance(p1, p2 orb.Point) float64 {
	return planar.Distance(p1, p2)
}

// metersPerDegreeLng returns the length of one degree of longitude at lat.
func metersPerDegreeLng(lat float64) float64 {
	return MetersPerDegree * math.Cos(lat*math.Pi/180)
}

// ringVertices returns the distinct vertices of a ring, dropping the closing
// duplicate when present.
func ringVertices(r orb.Ring) []orb.Point {
	if len(r) > 1 && r[0].Equal(r[len(r)-1]) {
		return r[:len(r)-1]
	}
	return r
}

// CloseRing returns a copy of r whose last point equals its first.
func CloseRing(r orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(r)+1)
	out = append(out, r...)
	if len(out) > 0 && !out[0].Equal(out[len(out)-1]) {
		out = append(out, out[0])
	}
	return out
}

// referenceLatitude is the mean latitude of the ring's distinct vertices. All
// projections of one ring share it so areas and lengths agree.
func referenceLatitude(r orb.Ring) float64 {
	pts := ringVertices(r)
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p[1]
	}
	return sum / float64(len(pts))
}

// PerimeterFt sums the length of every edge of the ring in the ring's own
// LocalFrame, pairing vertex i with vertex (i+1) mod n.
func PerimeterFt(r orb.Ring) float64 {
	n := len(r)
	if n < 2 {
		return 0
	}
	f := NewLocalFrame(r)
	var total float64
	for i := 0; i < n; i++ {
		total += f.LengthFt(r[i], r[(i+1)%n])
	}
	return total
}

// EdgeLengthFt returns the local-equirectangular length of a lone segment in
// feet, scaling longitude at its mid latitude. Lengths that belong to a
// footprint are measured with that footprint's LocalFrame instead.
func EdgeLengthFt(a, b orb.Point) float64 {
	midLat := (a[1] + b[1]) / 2
	dx := (b[0] - a[0]) * metersPerDegreeLng(midLat)
	dy := (b[1] - a[1]) * MetersPerDegree
	return math.Hypot(dx, dy) * FeetPerMeter
}

// BoundingBoxDimensionsFt returns the width and height of the ring's lat/lng
// bounding box in feet, plus the larger of the two.
func BoundingBoxDimensionsFt(r orb.Ring) (width, height, maxDimension float64) {
	if len(r) == 0 {
		return 0, 0, 0
	}
	b := r.Bound()
	f := NewLocalFrame(r)
	width = (b.Max[0] - b.Min[0]) * f.kx
	height = (b.Max[1] - b.Min[1]) * f.ky
	return width, height, math.Max(width, height)
}

// PointInOrNearPolygon reports whether p lies inside the ring or within
// toleranceDeg of any of its edges.
func PointInOrNearPolygon(p orb.Point, r orb.Ring, toleranceDeg float64) bool {
	if len(r) < 3 {
		return false
	}
	if planar.RingContains(r, p) {
		return true
	}
	return distanceToRing(p, r) <= toleranceDeg
}

// distanceToRing returns the distance from p to the nearest edge of r.
func distanceToRing(p orb.Point, r orb.Ring) float64 {
	n := len(r)
	best := math.Inf(1)
	for i := 0; i < n; i++ {
		d := DistanceToSegment(p, r[i], r[(i+1)%n])
		if d < best {
			best = d
		}
	}
	return best
}

// DistanceToSegment returns the distance from p to the closest point of the
// segment a-b. A degenerate segment falls back to point distance.
func DistanceToSegment(p, a, b orb.Point) float64 {
	return Distance(p, closestPointOnSegment(p, a, b))
}

// closestPointOnSegment projects p onto a-b with the parameter clamped to
// [0, 1].
func closestPointOnSegment(p, a, b orb.Point) orb.Point {
	dx := b[0] - a[0]
	dy := b[1] - a[1]
	lenSq := dx*dx + dy*dy
	if lenSq == 0 {
		return a
	}
	t := ((p[0]-a[0])*dx + (p[1]-a[1])*dy) / lenSq
	switch {
	case t <= 0:
		return a
	case t >= 1:
		return b
	}
	return orb.Point{a[0] + t*dx, a[1] + t*dy}
}

// SegmentsIntersect reports whether segments a1-a2 and b1-b2 cross at a point
// strictly inside both. Parallel and collinear segments never intersect, and
// segments that only share or touch at an endpoint are not crossings.
func SegmentsIntersect(a1, a2, b1, b2 orb.Point) bool {
	d1x, d1y := a2[0]-a1[0], a2[1]-a1[1]
	d2x, d2y := b2[0]-b1[0], b2[1]-b1[1]

	det := d1x*d2y - d1y*d2x
	if math.Abs(det) < parallelEpsilon {
		return false
	}

	ox, oy := b1[0]-a1[0], b1[1]-a1[1]
	t := (ox*d2y - oy*d2x) / det
	u := (ox*d1y - oy*d1x) / det

	return t > crossingEpsilon && t < 1-crossingEpsilon &&
		u > crossingEpsilon && u < 1-crossingEpsilon
}

// PolygonAreaSqM computes the ring's area in square meters with the shoelace
// formula on latitude-projected coordinates.
func PolygonAreaSqM(r orb.Ring) float64 {
	pts := ringVertices(r)
	n := len(pts)
	if n < 3 {
		return 0
	}
	kx := metersPerDegreeLng(referenceLatitude(r))
	ky := MetersPerDegree

	// Offsets from the first vertex keep the products small.
	o := pts[0]
	var sum float64
	for i := 0; i < n; i++ {
		a := pts[i]
		b := pts[(i+1)%n]
		ax, ay := (a[0]-o[0])*kx, (a[1]-o[1])*ky
		bx, by := (b[0]-o[0])*kx, (b[1]-o[1])*ky
		sum += ax*by - bx*ay
	}
	return math.Abs(sum) / 2
}

// HaversineDistanceFt returns the great-circle distance in feet.
func HaversineDistanceFt(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusFt
}

// HaversineDistanceM returns the great-circle distance in meters.
func HaversineDistanceM(lat1, lng1, lat2, lng2 float64) float64 {
	return HaversineDistanceFt(lat1, lng1, lat2, lng2) / FeetPerMeter
}

// Centroid returns the area-weighted centroid of the ring, falling back to
// the vertex mean for degenerate rings.
func Centroid(r orb.Ring) orb.Point {
	pts := ringVertices(r)
	if len(pts) == 0 {
		return orb.Point{}
	}
	o := pts[0]
	shifted := make(orb.Ring, 0, len(pts)+1)
	for _, p := range pts {
		shifted = append(shifted, orb.Point{p[0] - o[0], p[1] - o[1]})
	}
	c, area := planar.CentroidArea(CloseRing(shifted))
	if area != 0 {
		return orb.Point{c[0] + o[0], c[1] + o[1]}
	}
	var sx, sy float64
	for _, p := range pts {
		sx += p[0]
		sy += p[1]
	}
	return orb.Point{sx / float64(len(pts)), sy / float64(len(pts))}
}

// BoundForRadius converts a search radius around a coordinate into a lat/lng
// bounding box.
func BoundForRadius(lat, lng, radiusM float64) orb.Bound {
	dLat := radiusM / MetersPerDegree
	dLng := radiusM / metersPerDegreeLng(lat)
	return orb.Bound{
		Min: orb.Point{lng - dLng, lat - dLat},
		Max: orb.Point{lng + dLng, lat + dLat},
	}
}

// SimplifyRing removes vertices that deviate less than toleranceM from the
// ring's outline. Rings that would collapse below a triangle are returned
// unchanged.
func SimplifyRing(r orb.Ring, toleranceM float64) orb.Ring {
	closed := CloseRing(r)
	if toleranceM <= 0 || len(closed) <= 4 {
		return closed
	}
	out := simplify.DouglasPeucker(toleranceM / MetersPerDegree).Ring(closed.Clone())
	if len(ringVertices(out)) < 3 {
		return closed
	}
	return CloseRing(out)
}

// LocalFrame is an equirectangular projection into feet anchored at a ring's
// reference latitude. One frame is used per computation so that every
// tolerance and length is expressed in the same units.
type LocalFrame struct {
	Origin orb.Point
	kx, ky float64
}

// NewLocalFrame anchors a frame on the given ring.
func NewLocalFrame(r orb.Ring) LocalFrame {
	lat := referenceLatitude(r)
	var lng float64
	pts := ringVertices(r)
	for _, p := range pts {
		lng += p[0]
	}
	if len(pts) > 0 {
		lng /= float64(len(pts))
	}
	return LocalFrame{
		Origin: orb.Point{lng, lat},
		kx:     metersPerDegreeLng(lat) * FeetPerMeter,
		ky:     MetersPerDegree * FeetPerMeter,
	}
}

// ToFeet projects a coordinate into the frame.
func (f LocalFrame) ToFeet(p orb.Point) orb.Point {
	return orb.Point{(p[0] - f.Origin[0]) * f.kx, (p[1] - f.Origin[1]) * f.ky}
}

// FromFeet maps a frame point back to a coordinate.
func (f LocalFrame) FromFeet(p orb.Point) orb.Point {
	return orb.Point{p[0]/f.kx + f.Origin[0], p[1]/f.ky + f.Origin[1]}
}

// RingToFeet projects every point of r.
func (f LocalFrame) RingToFeet(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[i] = f.ToFeet(p)
	}
	return out
}

// RingFromFeet maps every point of r back to coordinates.
func (f LocalFrame) RingFromFeet(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[i] = f.FromFeet(p)
	}
	return out
}

// LengthFt returns the length of a-b measured in the frame.
func (f LocalFrame) LengthFt(a, b orb.Point) float64 {
	return Distance(f.ToFeet(a), f.ToFeet(b))
}

// EdgesLengthFt sums the lengths of the edges measured in the frame.
func (f LocalFrame) EdgesLengthFt(edges []SkeletonEdge) float64 {
	var total float64
	for _, e := range edges {
		total += f.LengthFt(e.Start, e.End)
	}
	return total
}

// FeetToDegrees converts a small distance in feet into degrees of latitude.
func FeetToDegrees(ft float64) float64 {
	return ft / FeetPerMeter / MetersPerDegree
}

// signedArea returns the shoelace area of the ring in its own units; positive
// for counter-clockwise rings.
func signedArea(r orb.Ring) float64 {
	pts := ringVertices(r)
	n := len(pts)
	var sum float64
	for i := 0; i < n; i++ {
		a := pts[i]
		b := pts[(i+1)%n]
		sum += a[0]*b[1] - b[0]*a[1]
	}
	return sum / 2
}

// lineIntersection returns the intersection of the infinite lines through
// p1 in direction d1 and p2 in direction d2.
func lineIntersection(p1, d1, p2, d2 orb.Point) (orb.Point, bool) {
	det := d1[0]*d2[1] - d1[1]*d2[0]
	if math.Abs(det) < parallelEpsilon {
		return orb.Point{}, false
	}
	ox, oy := p2[0]-p1[0], p2[1]-p1[1]
	t := (ox*d2[1] - oy*d2[0]) / det
	return orb.Point{p1[0] + t*d1[0], p1[1] + t*d1[1]}, true
}
