package roof

import (
	"math"

	"github.com/paulmach/orb"
)

const testLat, testLng = 40.0, -75.0

// rectangleRing returns a closed ring centered on (testLat, testLng) that is
// dLng degrees wide and dLat degrees tall. At latitude 40, 0.0002 x 0.0001
// is roughly 56 x 36.5 ft.
func rectangleRing(dLng, dLat float64) orb.Ring {
	w, h := dLng/2, dLat/2
	return orb.Ring{
		{testLng - w, testLat - h},
		{testLng + w, testLat - h},
		{testLng + w, testLat + h},
		{testLng - w, testLat + h},
		{testLng - w, testLat - h},
	}
}

func houseRing() orb.Ring { return rectangleRing(0.0002, 0.0001) }

// lShapeRing is a closed L-shaped ring with one reflex corner.
func lShapeRing() orb.Ring {
	return orb.Ring{
		{-75.0001, 39.99995},
		{-74.9999, 39.99995},
		{-74.9999, 40.00000},
		{-75.0000, 40.00000},
		{-75.0000, 40.00005},
		{-75.0001, 40.00005},
		{-75.0001, 39.99995},
	}
}

func houseFootprint() *Footprint {
	ring := houseRing()
	return &Footprint{
		Ring:          ring,
		Source:        "test",
		Confidence:    0.88,
		AreaSqFt:      PolygonAreaSqM(ring) * SqFtPerSqM,
		VertexCount:   4,
		ContainsPoint: true,
	}
}

// simpleRidgeTopology is a rectangle with four eaves and one straight ridge
// running between the midpoints of its short sides.
func simpleRidgeTopology() *RoofTopology {
	ring := houseRing()
	topo := &RoofTopology{
		FootprintCoords: ring,
		RidgeSource:     RidgeSourceGeometric,
		Confidence:      0.7,
		Warnings:        []string{},
	}
	for i := 0; i < 4; i++ {
		topo.Skeleton = append(topo.Skeleton, SkeletonEdge{Start: ring[i], End: ring[i+1], Type: EdgeEave})
	}
	topo.Skeleton = append(topo.Skeleton, SkeletonEdge{
		Start: orb.Point{ring[0][0], testLat},
		End:   orb.Point{ring[1][0], testLat},
		Type:  EdgeRidge,
	})
	return topo
}

// consistentAreas derives area totals from the same footprint the topology
// is anchored to.
func consistentAreas(topo *RoofTopology) *AreaResult {
	plan := PolygonAreaSqM(topo.FootprintCoords) * SqFtPerSqM
	return &AreaResult{
		Totals:       AreaTotals{PlanAreaSqft: plan, SlopedAreaSqft: plan, Squares: plan / 100},
		LinearTotals: LinearTotals{EaveFt: PerimeterFt(topo.FootprintCoords), RidgeFt: NewLocalFrame(topo.FootprintCoords).EdgesLengthFt(topo.EdgesOfType(EdgeRidge))},
		Warnings:     []string{},
	}
}

func approxEqual(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}
