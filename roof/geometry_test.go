package roof

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

func TestSegmentsIntersect(t *testing.T) {
	tests := []struct {
		name           string
		a1, a2, b1, b2 orb.Point
		want           bool
	}{
		{"proper crossing", orb.Point{0, 0}, orb.Point{2, 2}, orb.Point{0, 2}, orb.Point{2, 0}, true},
		{"shared endpoint", orb.Point{0, 0}, orb.Point{1, 1}, orb.Point{1, 1}, orb.Point{2, 0}, false},
		{"T junction", orb.Point{0, 0}, orb.Point{2, 0}, orb.Point{1, 0}, orb.Point{1, 1}, false},
		{"parallel", orb.Point{0, 0}, orb.Point{2, 0}, orb.Point{0, 1}, orb.Point{2, 1}, false},
		{"collinear overlap", orb.Point{0, 0}, orb.Point{2, 0}, orb.Point{1, 0}, orb.Point{3, 0}, false},
		{"disjoint", orb.Point{0, 0}, orb.Point{1, 0}, orb.Point{2, 1}, orb.Point{3, 2}, false},
		{"lines cross beyond segment", orb.Point{0, 0}, orb.Point{1, 1}, orb.Point{3, 0}, orb.Point{2, 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SegmentsIntersect(tt.a1, tt.a2, tt.b1, tt.b2); got != tt.want {
				t.Errorf("SegmentsIntersect() = %v, want %v", got, tt.want)
			}
			// Order of the segments does not matter.
			if got := SegmentsIntersect(tt.b1, tt.b2, tt.a1, tt.a2); got != tt.want {
				t.Errorf("SegmentsIntersect(swapped) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolygonAreaSqM(t *testing.T) {
	ring := houseRing()
	width := 0.0002 * MetersPerDegree * math.Cos(testLat*math.Pi/180)
	height := 0.0001 * MetersPerDegree
	if got := PolygonAreaSqM(ring); !approxEqual(got, width*height, 1e-3) {
		t.Errorf("PolygonAreaSqM() = %f, want %f", got, width*height)
	}

	// Winding and closure do not change the area.
	open := orb.Ring{ring[3], ring[2], ring[1], ring[0]}
	if got := PolygonAreaSqM(open); !approxEqual(got, width*height, 1e-3) {
		t.Errorf("PolygonAreaSqM(open, clockwise) = %f, want %f", got, width*height)
	}

	if got := PolygonAreaSqM(orb.Ring{{0, 0}, {1, 1}}); got != 0 {
		t.Errorf("PolygonAreaSqM(degenerate) = %f, want 0", got)
	}
}

func TestPerimeterFt(t *testing.T) {
	ring := houseRing()
	w, h, maxDim := BoundingBoxDimensionsFt(ring)
	if got := PerimeterFt(ring); !approxEqual(got, 2*(w+h), 0.01) {
		t.Errorf("PerimeterFt() = %f, want %f", got, 2*(w+h))
	}
	if !approxEqual(w, 55.95, 0.1) || !approxEqual(h, 36.52, 0.1) {
		t.Errorf("BoundingBoxDimensionsFt() = %f x %f, want about 55.95 x 36.52", w, h)
	}
	if maxDim != w {
		t.Errorf("maxDimension = %f, want %f", maxDim, w)
	}

	// The closing edge is implied for open rings.
	open := ring[:4]
	if got := PerimeterFt(open); !approxEqual(got, PerimeterFt(ring), 1e-9) {
		t.Errorf("PerimeterFt(open) = %f, want %f", got, PerimeterFt(ring))
	}
	if PerimeterFt(orb.Ring{{0, 0}}) != 0 {
		t.Error("PerimeterFt of a single point should be 0")
	}
}

func TestHaversineDistance(t *testing.T) {
	// One degree of latitude along a meridian.
	want := EarthRadiusFt * math.Pi / 180
	if got := HaversineDistanceFt(40, -75, 41, -75); !approxEqual(got, want, 1) {
		t.Errorf("HaversineDistanceFt() = %f, want %f", got, want)
	}
	if got := HaversineDistanceM(40, -75, 40, -75); got != 0 {
		t.Errorf("HaversineDistanceM(same point) = %f, want 0", got)
	}
}

func TestPointInOrNearPolygon(t *testing.T) {
	ring := houseRing()
	tol := FeetToDegrees(3)
	tests := []struct {
		name string
		p    orb.Point
		want bool
	}{
		{"inside", orb.Point{testLng, testLat}, true},
		{"just outside", orb.Point{-74.9999 + tol/2, testLat}, true},
		{"far outside", orb.Point{-74.999, testLat}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PointInOrNearPolygon(tt.p, ring, tol); got != tt.want {
				t.Errorf("PointInOrNearPolygon() = %v, want %v", got, tt.want)
			}
		})
	}
	if PointInOrNearPolygon(orb.Point{0, 0}, orb.Ring{{0, 0}, {1, 1}}, 1) {
		t.Error("a ring with fewer than three points contains nothing")
	}
}

func TestCloseRing(t *testing.T) {
	open := orb.Ring{{0, 0}, {1, 0}, {1, 1}}
	closed := CloseRing(open)
	if len(closed) != 4 || !closed[0].Equal(closed[3]) {
		t.Errorf("CloseRing(open) = %v", closed)
	}
	if len(open) != 3 {
		t.Error("CloseRing modified its input")
	}
	if again := CloseRing(closed); len(again) != 4 {
		t.Errorf("CloseRing(closed) added a point: %v", again)
	}
}

func TestSimplifyRing(t *testing.T) {
	ring := houseRing()
	// Insert a vertex a few centimeters off the middle of the south edge.
	withBump := orb.Ring{ring[0], {testLng, ring[0][1] - 0.0000002}, ring[1], ring[2], ring[3], ring[4]}
	got := SimplifyRing(withBump, 0.25)
	if len(got) != 5 {
		t.Errorf("SimplifyRing() kept %d points, want 5", len(got))
	}
	if !got[0].Equal(got[len(got)-1]) {
		t.Error("SimplifyRing() result is not closed")
	}
	if kept := SimplifyRing(withBump, 0); len(kept) != len(withBump) {
		t.Errorf("SimplifyRing(tolerance 0) changed the ring: %d points", len(kept))
	}
}

func TestCentroid(t *testing.T) {
	c := Centroid(houseRing())
	if !approxEqual(c[0], testLng, 1e-9) || !approxEqual(c[1], testLat, 1e-9) {
		t.Errorf("Centroid() = %v, want (%f, %f)", c, testLng, testLat)
	}
	line := Centroid(orb.Ring{{0, 0}, {2, 0}, {4, 0}})
	if !approxEqual(line[0], 2, 1e-9) || line[1] != 0 {
		t.Errorf("Centroid(collinear) = %v, want vertex mean (2, 0)", line)
	}
}

func TestBoundForRadius(t *testing.T) {
	b := BoundForRadius(testLat, testLng, 50)
	if !b.Contains(orb.Point{testLng, testLat}) {
		t.Fatal("bound does not contain its center")
	}
	halfHeightM := (b.Max[1] - b.Min[1]) / 2 * MetersPerDegree
	if !approxEqual(halfHeightM, 50, 1e-6) {
		t.Errorf("half height = %f m, want 50", halfHeightM)
	}
	if b.Max[0]-b.Min[0] <= b.Max[1]-b.Min[1] {
		t.Error("longitude span should exceed latitude span away from the equator")
	}
}

func TestLocalFrame(t *testing.T) {
	ring := houseRing()
	f := NewLocalFrame(ring)

	p := orb.Point{-74.99995, 40.00003}
	back := f.FromFeet(f.ToFeet(p))
	if !approxEqual(back[0], p[0], 1e-12) || !approxEqual(back[1], p[1], 1e-12) {
		t.Errorf("round trip = %v, want %v", back, p)
	}

	feet := f.RingToFeet(ring)
	if got := math.Abs(planar.Area(feet)); !approxEqual(got, PolygonAreaSqM(ring)*SqFtPerSqM, 0.01) {
		t.Errorf("projected area = %f sqft, want %f", got, PolygonAreaSqM(ring)*SqFtPerSqM)
	}
	var sum float64
	for i := 0; i < 4; i++ {
		sum += f.LengthFt(ring[i], ring[i+1])
	}
	if got := PerimeterFt(ring); !approxEqual(got, sum, 1e-9) {
		t.Errorf("PerimeterFt() = %f, want the frame's %f", got, sum)
	}
	edges := []SkeletonEdge{{Start: ring[0], End: ring[1]}, {Start: ring[1], End: ring[2]}}
	if got, want := f.EdgesLengthFt(edges), f.LengthFt(ring[0], ring[1])+f.LengthFt(ring[1], ring[2]); !approxEqual(got, want, 1e-9) {
		t.Errorf("EdgesLengthFt() = %f, want %f", got, want)
	}
	// A lone segment measured at its own latitude differs from the frame
	// by well under a thousandth of a foot at house scale.
	if got := f.LengthFt(ring[0], ring[1]); !approxEqual(got, EdgeLengthFt(ring[0], ring[1]), 1e-3) {
		t.Errorf("LengthFt() = %f, want about %f", got, EdgeLengthFt(ring[0], ring[1]))
	}
}

func TestDistanceToSegment(t *testing.T) {
	a, b := orb.Point{0, 0}, orb.Point{10, 0}
	if got := DistanceToSegment(orb.Point{5, 3}, a, b); got != 3 {
		t.Errorf("interior projection = %f, want 3", got)
	}
	if got := DistanceToSegment(orb.Point{13, 4}, a, b); got != 5 {
		t.Errorf("clamped to endpoint = %f, want 5", got)
	}
	if got := DistanceToSegment(orb.Point{3, 4}, a, a); got != 5 {
		t.Errorf("degenerate segment = %f, want 5", got)
	}
}
