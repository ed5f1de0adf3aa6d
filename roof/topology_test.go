package roof

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countEdges(topo *RoofTopology) map[EdgeType]int {
	out := make(map[EdgeType]int)
	for _, e := range topo.Skeleton {
		out[e.Type]++
	}
	return out
}

// ridgeAngle returns the angle between the topology's first ridge and the
// east-west axis, in degrees within [0, 90].
func ridgeAngle(t *testing.T, topo *RoofTopology) float64 {
	t.Helper()
	ridges := topo.EdgesOfType(EdgeRidge)
	require.NotEmpty(t, ridges, "topology has no ridge")
	f := NewLocalFrame(topo.FootprintCoords)
	a, b := f.ToFeet(ridges[0].Start), f.ToFeet(ridges[0].End)
	deg := math.Abs(math.Atan2(b[1]-a[1], b[0]-a[0]) * 180 / math.Pi)
	if deg > 90 {
		deg = 180 - deg
	}
	return deg
}

func TestBuild_HipRectangle(t *testing.T) {
	topo, err := NewTopologyBuilder(TopologyConfig{}).Build(TopologyInput{Footprint: houseFootprint()})
	require.NoError(t, err)

	assert.Equal(t, RoofStyleHip, topo.RoofStyle)
	assert.Equal(t, RidgeSourceGeometric, topo.RidgeSource)
	assert.InDelta(t, 0.7, topo.Confidence, 1e-9)
	assert.False(t, topo.IsComplexShape)
	assert.Empty(t, topo.Warnings)
	assert.Equal(t, map[EdgeType]int{EdgeEave: 4, EdgeRidge: 1, EdgeHip: 4}, countEdges(topo))

	// A hip ridge is inset by half the short side at both ends.
	w, h, _ := BoundingBoxDimensionsFt(houseRing())
	ridge := topo.EdgesOfType(EdgeRidge)[0]
	assert.InDelta(t, w-h, EdgeLengthFt(ridge.Start, ridge.End), 0.1)
	assert.InDelta(t, 0, ridgeAngle(t, topo), 0.5)

	f := NewLocalFrame(topo.FootprintCoords)
	for _, hip := range topo.EdgesOfType(EdgeHip) {
		toRidge := math.Min(f.LengthFt(hip.End, ridge.Start), f.LengthFt(hip.End, ridge.End))
		assert.Less(t, toRidge, 0.01, "hip %v does not end on the ridge", hip)
	}
}

func TestBuild_GableRectangle(t *testing.T) {
	topo, err := NewTopologyBuilder(TopologyConfig{RoofStyle: RoofStyleGable}).Build(TopologyInput{Footprint: houseFootprint()})
	require.NoError(t, err)

	assert.Equal(t, RoofStyleGable, topo.RoofStyle)
	assert.Equal(t, map[EdgeType]int{EdgeEave: 2, EdgeRake: 2, EdgeRidge: 1}, countEdges(topo))

	w, _, _ := BoundingBoxDimensionsFt(houseRing())
	ridge := topo.EdgesOfType(EdgeRidge)[0]
	assert.InDelta(t, w, EdgeLengthFt(ridge.Start, ridge.End), 0.1)

	res := RunQAGate(topo, nil, nil, DefaultQAConfig())
	assert.True(t, res.Checks.NoFloatingEndpoints)
	assert.True(t, res.Checks.PerimeterMatches)
	assert.True(t, res.Checks.RidgeLengthSane)
}

func TestBuild_RequestStyleOverridesConfig(t *testing.T) {
	b := NewTopologyBuilder(TopologyConfig{RoofStyle: RoofStyleHip})
	topo, err := b.Build(TopologyInput{Footprint: houseFootprint(), RoofStyle: RoofStyleGable})
	require.NoError(t, err)
	assert.Equal(t, RoofStyleGable, topo.RoofStyle)
}

func TestBuild_SolarRidgeDirection(t *testing.T) {
	solar := &SolarData{
		Available: true,
		Segments: []RoofSegment{
			{AzimuthDegrees: 90, AreaSqft: 900},
			{AzimuthDegrees: 270, AreaSqft: 880},
		},
	}
	topo, err := NewTopologyBuilder(TopologyConfig{}).Build(TopologyInput{Footprint: houseFootprint(), Solar: solar})
	require.NoError(t, err)

	assert.Equal(t, RidgeSourceSolar, topo.RidgeSource)
	assert.InDelta(t, 0.9, topo.Confidence, 1e-9)
	// Two segments means a gable; east/west slopes put the ridge north-south.
	assert.Equal(t, RoofStyleGable, topo.RoofStyle)
	assert.InDelta(t, 90, ridgeAngle(t, topo), 0.5)
}

func TestBuild_RidgeDirectionReconciledWithFootprint(t *testing.T) {
	// 60 x 30 ft, axis aligned.
	ring := rectangleRing(FeetToDegrees(60)/math.Cos(testLat*math.Pi/180), FeetToDegrees(30))
	fp := &Footprint{Ring: ring, Source: "test"}
	frame := NewLocalFrame(ring)
	hipSolar := func(azimuth float64) *SolarData {
		return &SolarData{Available: true, Segments: []RoofSegment{
			{AzimuthDegrees: azimuth, AreaSqft: 700},
			{AzimuthDegrees: azimuth + 180, AreaSqft: 690},
			{AzimuthDegrees: azimuth + 90, AreaSqft: 300},
			{AzimuthDegrees: azimuth + 270, AreaSqft: 290},
		}}
	}
	slope := math.Tan(2 * math.Pi / 180)
	aiRidge := []LinearFeature{{
		Start:      frame.FromFeet(orb.Point{-10, -10 * slope}),
		End:        frame.FromFeet(orb.Point{10, 10 * slope}),
		Type:       EdgeRidge,
		Confidence: 0.9,
	}}

	tests := []struct {
		name        string
		in          TopologyInput
		source      RidgeSource
		wantAngle   float64
		wantComplex bool
	}{
		{"solar within tolerance snaps", TopologyInput{Footprint: fp, Solar: hipSolar(183)}, RidgeSourceSolar, 0, false},
		{"detected ridge within tolerance snaps", TopologyInput{Footprint: fp, Detections: aiRidge}, RidgeSourceAI, 0, false},
		{"solar off axis is flagged", TopologyInput{Footprint: fp, Solar: hipSolar(20)}, RidgeSourceSolar, 20, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topo, err := NewTopologyBuilder(TopologyConfig{}).Build(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.source, topo.RidgeSource)
			assert.Equal(t, RoofStyleHip, topo.RoofStyle)
			assert.InDelta(t, tt.wantAngle, ridgeAngle(t, topo), 1e-3)
			assert.Equal(t, tt.wantComplex, topo.IsComplexShape)

			qa := RunQAGate(topo, nil, nil, DefaultQAConfig())
			if tt.wantComplex {
				assert.Contains(t, topo.Warnings, "solar ridge direction is 20.0 degrees off the nearest footprint edge")
				assert.True(t, qa.RequiresManualReview)
				return
			}
			assert.Empty(t, topo.Warnings)
			ridge := topo.EdgesOfType(EdgeRidge)[0]
			assert.InDelta(t, 30, NewLocalFrame(topo.FootprintCoords).LengthFt(ridge.Start, ridge.End), 0.01)
		})
	}
}

func TestBuild_RidgeSourcePriority(t *testing.T) {
	solar := &SolarData{Available: true, Segments: []RoofSegment{{AzimuthDegrees: 90, AreaSqft: 900}}}
	detections := []LinearFeature{{
		Start:      orb.Point{testLng, testLat - 0.00004},
		End:        orb.Point{testLng, testLat + 0.00004},
		Type:       EdgeRidge,
		Confidence: 0.95,
	}}

	tests := []struct {
		name     string
		priority []RidgeSource
		want     RidgeSource
		conf     float64
	}{
		{"default prefers solar", nil, RidgeSourceSolar, 0.9},
		{"ai first", []RidgeSource{RidgeSourceAI, RidgeSourceSolar}, RidgeSourceAI, 0.85},
		{"geometric only", []RidgeSource{RidgeSourceGeometric}, RidgeSourceGeometric, 0.7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewTopologyBuilder(TopologyConfig{RidgeSourcePriority: tt.priority})
			topo, err := b.Build(TopologyInput{Footprint: houseFootprint(), Solar: solar, Detections: detections})
			require.NoError(t, err)
			assert.Equal(t, tt.want, topo.RidgeSource)
			assert.InDelta(t, tt.conf, topo.Confidence, 1e-9)
		})
	}
}

func TestBuild_LShapeIsComplex(t *testing.T) {
	fp := &Footprint{Ring: lShapeRing(), Source: "test"}
	topo, err := NewTopologyBuilder(TopologyConfig{}).Build(TopologyInput{Footprint: fp})
	require.NoError(t, err)

	assert.True(t, topo.IsComplexShape)
	assert.NotEmpty(t, topo.Warnings)
	assert.Equal(t, 6, countEdges(topo)[EdgeEave])
	assert.Equal(t, 1, countEdges(topo)[EdgeValley])
}

func TestBuild_EaveOffsetGrowsOutline(t *testing.T) {
	b := NewTopologyBuilder(TopologyConfig{})
	plain, err := b.Build(TopologyInput{Footprint: houseFootprint()})
	require.NoError(t, err)
	two := 2.0
	grown, err := b.Build(TopologyInput{Footprint: houseFootprint(), EaveOffsetFt: &two})
	require.NoError(t, err)

	// Each side moves out 2 ft, so the perimeter grows by 8 x 2 ft.
	assert.InDelta(t, PerimeterFt(plain.FootprintCoords)+16, PerimeterFt(grown.FootprintCoords), 0.05)
	assert.Greater(t, PolygonAreaSqM(grown.FootprintCoords), PolygonAreaSqM(plain.FootprintCoords))
}

func TestBuild_EaveOffsetRequestOverridesConfig(t *testing.T) {
	b := NewTopologyBuilder(TopologyConfig{EaveOffsetFt: 2})
	base := PerimeterFt(houseRing())

	configured, err := b.Build(TopologyInput{Footprint: houseFootprint()})
	require.NoError(t, err)
	assert.InDelta(t, base+16, PerimeterFt(configured.FootprintCoords), 0.05)

	zero := 0.0
	flush, err := b.Build(TopologyInput{Footprint: houseFootprint(), EaveOffsetFt: &zero})
	require.NoError(t, err)
	assert.InDelta(t, base, PerimeterFt(flush.FootprintCoords), 1e-6)
}

func TestBuild_Degenerate(t *testing.T) {
	b := NewTopologyBuilder(TopologyConfig{})

	_, err := b.Build(TopologyInput{})
	assert.True(t, errors.Is(err, ErrNoFootprint))

	line := &Footprint{Ring: orb.Ring{{testLng, testLat}, {testLng + 0.0001, testLat}, {testLng + 0.0002, testLat}, {testLng, testLat}}}
	_, err = b.Build(TopologyInput{Footprint: line})
	assert.True(t, errors.Is(err, ErrDegenerateFootprint), "got %v", err)
}

func TestBuild_SquareCollapsesToPeak(t *testing.T) {
	// 0.0001 lng x 0.0000766 lat is close to a 28 ft square at latitude 40.
	fp := &Footprint{Ring: rectangleRing(0.0001, 0.0000766)}
	topo, err := NewTopologyBuilder(TopologyConfig{}).Build(TopologyInput{Footprint: fp})
	require.NoError(t, err)
	edges := countEdges(topo)
	assert.Equal(t, 0, edges[EdgeRidge])
	assert.Equal(t, 4, edges[EdgeHip])
	assert.Empty(t, FloatingEndpoints(topo, 3))
}

func TestCleanOutline(t *testing.T) {
	pts := []orb.Point{{0, 0}, {5, 0}, {10, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	got := cleanOutline(pts)
	assert.Len(t, got, 4)
}

func TestIsNearRectangle(t *testing.T) {
	assert.True(t, isNearRectangle(orb.Ring{{0, 0}, {10, 0}, {10, 5}, {0, 5}}))
	assert.False(t, isNearRectangle(orb.Ring{{0, 0}, {10, 0}, {14, 5}, {0, 5}}))
	assert.False(t, isNearRectangle(orb.Ring{{0, 0}, {10, 0}, {5, 5}}))
}
