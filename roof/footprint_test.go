package roof

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider returns a canned collection or error.
type fakeProvider struct {
	source   string
	baseline float64
	fc       *geojson.FeatureCollection
	err      error
	panics   bool
	calls    int
}

func (p *fakeProvider) Source() string    { return p.source }
func (p *fakeProvider) Baseline() float64 { return baselineOrDefault(p.baseline) }
func (p *fakeProvider) FetchBuildings(_ context.Context, _ orb.Bound) (*geojson.FeatureCollection, error) {
	p.calls++
	if p.panics {
		panic("boom")
	}
	return p.fc, p.err
}

// boxAround returns a closed ring whose center is offset east/north of the
// test point by the given meters, with the given half extents in meters.
func boxAround(eastM, northM, halfWM, halfHM float64) orb.Ring {
	mLng := 1 / metersPerDegreeLng(testLat)
	mLat := 1 / MetersPerDegree
	cx, cy := testLng+eastM*mLng, testLat+northM*mLat
	w, h := halfWM*mLng, halfHM*mLat
	return orb.Ring{{cx - w, cy - h}, {cx + w, cy - h}, {cx + w, cy + h}, {cx - w, cy + h}, {cx - w, cy - h}}
}

func collection(rings ...orb.Ring) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, r := range rings {
		fc.Append(geojson.NewFeature(orb.Polygon{r}))
	}
	return fc
}

func resolve(t *testing.T, providers ...FootprintProvider) ResolveResult {
	t.Helper()
	r := NewResolver(FootprintConfig{SimplifyToleranceM: 0.25}, providers)
	return r.Resolve(context.Background(), testLat, testLng)
}

func TestResolve_ContainmentBeatsDistance(t *testing.T) {
	// A long building whose centroid is 40 m east but which covers the point,
	// against a small shed 5 m north that does not.
	containing := &fakeProvider{source: "county", fc: collection(boxAround(40, 0, 45, 5))}
	nearby := &fakeProvider{source: "osm", fc: collection(boxAround(0, 5, 2, 2))}

	res := resolve(t, nearby, containing)
	require.NotNil(t, res.Footprint)
	assert.Equal(t, "county", res.Source)
	assert.True(t, res.Footprint.ContainsPoint)
	assert.InDelta(t, 40, res.Footprint.CentroidDistanceM, 0.5)
	// Baseline 0.88 less 0.10 for > 15 m and 0.10 for > 30 m.
	assert.InDelta(t, 0.68, res.Footprint.Confidence, 1e-9)

	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "osm", res.Attempts[0].Source)
	assert.Equal(t, ReasonNotSelected, res.Attempts[0].FallbackReason)
	assert.Empty(t, res.Attempts[1].FallbackReason)
	assert.Empty(t, res.FallbackReason())
}

func TestResolve_PlausibleAreaWithinNoise(t *testing.T) {
	// 30 m² at 10 m, 196 m² at 12 m and 196 m² at 25 m.
	tiny := &fakeProvider{source: "a", fc: collection(boxAround(10, 0, 2.5, 3))}
	house := &fakeProvider{source: "b", fc: collection(boxAround(0, -12, 7, 7))}
	far := &fakeProvider{source: "c", fc: collection(boxAround(0, 25, 7, 7))}
	res := resolve(t, tiny, house, far)

	require.NotNil(t, res.Footprint)
	assert.Equal(t, "b", res.Source)
	assert.False(t, res.Footprint.ContainsPoint)
	assert.InDelta(t, 0.78, res.Footprint.Confidence, 1e-9)
	assert.InDelta(t, 196*SqFtPerSqM, res.Footprint.AreaSqFt, 1)
}

func TestResolve_DistanceBeyondNoise(t *testing.T) {
	near := &fakeProvider{source: "near", fc: collection(boxAround(0, 8, 2.5, 3))}
	far := &fakeProvider{source: "far", fc: collection(boxAround(0, -20, 7, 7))}
	res := resolve(t, far, near)
	assert.Equal(t, "near", res.Source)
}

func TestResolve_PriorityBreaksTies(t *testing.T) {
	ring := boxAround(0, 0, 8, 6)
	first := &fakeProvider{source: "first", baseline: 0.9, fc: collection(ring)}
	second := &fakeProvider{source: "second", baseline: 0.8, fc: collection(ring)}
	res := resolve(t, first, second)
	assert.Equal(t, "first", res.Source)
	assert.Equal(t, 0.9, res.Footprint.Confidence)
	assert.Equal(t, 4, res.Footprint.VertexCount)
}

func TestResolve_AllProvidersFail(t *testing.T) {
	pointOnly := geojson.NewFeatureCollection()
	pointOnly.Append(geojson.NewFeature(orb.Point{testLng, testLat}))

	providers := []FootprintProvider{
		&fakeProvider{source: "api", err: &HTTPStatusError{URL: "https://x", StatusCode: 503}},
		&fakeProvider{source: "net", err: errors.New("connection refused")},
		&fakeProvider{source: "empty", fc: geojson.NewFeatureCollection()},
		&fakeProvider{source: "points", fc: pointOnly},
		&fakeProvider{source: "nil"},
		&fakeProvider{source: "panics", panics: true},
	}
	res := resolve(t, providers...)

	assert.Nil(t, res.Footprint)
	assert.Equal(t, FootprintSourceNone, res.Source)
	require.Len(t, res.Attempts, 6)

	want := []string{ReasonAPIError, ReasonFetchError, ReasonNoBuildings, ReasonNoPolygons, ReasonNoBuildings, ReasonFetchError}
	for i, a := range res.Attempts {
		assert.Equal(t, want[i], a.FallbackReason, "attempt %s", a.Source)
	}
	assert.Contains(t, res.Attempts[0].Diagnostic, "503")
	assert.Contains(t, res.Attempts[1].Diagnostic, "connection refused")
	assert.True(t, strings.Contains(res.Attempts[5].Diagnostic, "panic"))
	assert.Equal(t, ReasonAPIError, res.FallbackReason())
}

func TestResolve_MultiPolygonAndSequential(t *testing.T) {
	fc := geojson.NewFeatureCollection()
	fc.Append(geojson.NewFeature(orb.MultiPolygon{
		{boxAround(30, 30, 3, 3)},
		{boxAround(0, 0, 8, 6)},
	}))
	p := &fakeProvider{source: "mp", fc: fc}
	r := NewResolver(FootprintConfig{}, []FootprintProvider{p}, WithSequentialProviders())
	res := r.Resolve(context.Background(), testLat, testLng)

	require.NotNil(t, res.Footprint)
	assert.True(t, res.Footprint.ContainsPoint)
	assert.Equal(t, 2, res.Attempts[0].Candidates)
	assert.Equal(t, 1, p.calls)
}

func TestResolve_RecordsProviderMetrics(t *testing.T) {
	m, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	ok := &fakeProvider{source: "ok", fc: collection(boxAround(0, 0, 8, 6))}
	bad := &fakeProvider{source: "bad", err: errors.New("down")}
	r := NewResolver(FootprintConfig{}, []FootprintProvider{ok, bad}, WithResolverMetrics(m))
	r.Resolve(context.Background(), testLat, testLng)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderResults.WithLabelValues("ok", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderResults.WithLabelValues("bad", ReasonFetchError)))
}

func TestFootprintConfidence(t *testing.T) {
	tests := []struct {
		name string
		c    candidate
		want float64
	}{
		{"ideal", candidate{baseline: 0.88, contains: true, distanceM: 3, areaSqM: 200}, 0.88},
		{"not containing", candidate{baseline: 0.88, distanceM: 3, areaSqM: 200}, 0.78},
		{"far", candidate{baseline: 0.88, contains: true, distanceM: 20, areaSqM: 200}, 0.78},
		{"very far", candidate{baseline: 0.88, contains: true, distanceM: 31, areaSqM: 200}, 0.68},
		{"small", candidate{baseline: 0.88, contains: true, distanceM: 3, areaSqM: 40}, 0.73},
		{"floor", candidate{baseline: 0.88, distanceM: 40, areaSqM: 20}, 0.5},
		{"ceiling", candidate{baseline: 0.99, contains: true, distanceM: 1, areaSqM: 200}, 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := footprintConfidence(tt.c); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("footprintConfidence() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestBetterCandidate(t *testing.T) {
	containsFar := candidate{contains: true, distanceM: 40, areaSqM: 900}
	near := candidate{distanceM: 5, areaSqM: 150}
	assert.True(t, betterCandidate(containsFar, near))
	assert.False(t, betterCandidate(near, containsFar))

	a := candidate{distanceM: 10, areaSqM: 30, priority: 0}
	b := candidate{distanceM: 13, areaSqM: 200, priority: 1}
	assert.True(t, betterCandidate(b, a), "plausible area wins within noise")

	c := candidate{distanceM: 10, areaSqM: 200, priority: 1}
	d := candidate{distanceM: 10, areaSqM: 200, priority: 0}
	assert.True(t, betterCandidate(d, c), "priority breaks exact ties")
}
