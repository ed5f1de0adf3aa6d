package roof

import (
	"fmt"
	"math"
	"sort"

	"github.com/paulmach/orb"
)

// VertexType classifies a roof vertex by the lines that meet there.
type VertexType string

const (
	VertexPerimeterCorner     VertexType = "perimeter_corner"
	VertexRidgeEnd            VertexType = "ridge_end"
	VertexHipJunction         VertexType = "hip_junction"
	VertexValleyIntersection  VertexType = "valley_intersection"
	VertexHipRidgeJunction    VertexType = "hip_ridge_junction"
	VertexValleyRidgeJunction VertexType = "valley_ridge_junction"
	VertexComplexJunction     VertexType = "complex_junction"
)

// Confidence levels assigned by the detector.
const (
	cornerConfidence     = 0.95
	multiLineConfidence  = 0.85
	singleLineConfidence = 0.75
)

// Vertex is a classified point of the roof graph. ConnectedVertices holds the
// IDs of adjacent vertices.
type Vertex struct {
	ID                 string     `json:"id"`
	Coordinate         Coordinate `json:"coordinate"`
	PixelCoordinate    *orb.Point `json:"pixelCoordinate,omitempty"`
	Type               VertexType `json:"type"`
	Confidence         float64    `json:"confidence"`
	ConnectedVertices  []string   `json:"connectedVertices"`
	Source             string     `json:"source"`
	DetectionMethod    string     `json:"detectionMethod"`
	SnapApplied        bool       `json:"snapApplied"`
	OriginalCoordinate *orb.Point `json:"originalCoordinate,omitempty"`
}

// ImageFrame maps geographic coordinates onto an image of the given size
// covering Bound, with the origin at the top-left corner.
type ImageFrame struct {
	Bound  orb.Bound
	Width  int
	Height int
}

// ToPixel converts a coordinate to pixel space.
func (f ImageFrame) ToPixel(p Coordinate) orb.Point {
	dx := f.Bound.Max[0] - f.Bound.Min[0]
	dy := f.Bound.Max[1] - f.Bound.Min[1]
	if dx == 0 || dy == 0 {
		return orb.Point{}
	}
	return orb.Point{
		(p[0] - f.Bound.Min[0]) / dx * float64(f.Width),
		(f.Bound.Max[1] - p[1]) / dy * float64(f.Height),
	}
}

// VertexDetector extracts and classifies vertices from a perimeter ring and
// a set of typed linear features.
type VertexDetector struct {
	// SnapToleranceFt is the distance within which endpoints are merged and
	// junctions snap to perimeter corners.
	SnapToleranceFt float64
	// Image, when set, fills each vertex's PixelCoordinate.
	Image *ImageFrame
	// Source tags the produced junction vertices.
	Source string
}

// NewVertexDetector returns a detector with the given snap tolerance,
// defaulting to 2 ft.
func NewVertexDetector(snapToleranceFt float64) *VertexDetector {
	if snapToleranceFt <= 0 {
		snapToleranceFt = DefaultSnapToleranceFt
	}
	return &VertexDetector{SnapToleranceFt: snapToleranceFt, Source: "skeleton"}
}

// ClassifyJunction returns the vertex type for a point where lines of the
// given types terminate. lineCount is the number of connected lines.
func ClassifyJunction(types map[EdgeType]bool, lineCount int) VertexType {
	ridge, hip, valley := types[EdgeRidge], types[EdgeHip], types[EdgeValley]
	switch {
	case ridge && hip && !valley:
		return VertexHipRidgeJunction
	case ridge && valley:
		return VertexValleyRidgeJunction
	case ridge:
		return VertexRidgeEnd
	case hip && !valley:
		return VertexHipJunction
	case valley:
		return VertexValleyIntersection
	case lineCount >= 4:
		return VertexComplexJunction
	}
	return VertexPerimeterCorner
}

// Detect returns the perimeter corners followed by one vertex per distinct
// line junction.
func (d *VertexDetector) Detect(perimeter orb.Ring, lines []LinearFeature) []Vertex {
	tol := d.SnapToleranceFt
	if tol <= 0 {
		tol = DefaultSnapToleranceFt
	}
	frame := NewLocalFrame(perimeter)
	corners := ringVertices(perimeter)

	vertices := make([]Vertex, 0, len(corners)+2*len(lines))
	cornersFt := make([]orb.Point, len(corners))
	for i, c := range corners {
		cornersFt[i] = frame.ToFeet(c)
		prev := (i - 1 + len(corners)) % len(corners)
		next := (i + 1) % len(corners)
		connected := []string{cornerID(prev)}
		if next != prev {
			connected = append(connected, cornerID(next))
		}
		vertices = append(vertices, Vertex{
			ID:                cornerID(i),
			Coordinate:        c,
			Type:              VertexPerimeterCorner,
			Confidence:        cornerConfidence,
			ConnectedVertices: connected,
			Source:            "footprint",
			DetectionMethod:   "perimeter",
		})
	}

	type lineFt struct {
		start, end orb.Point
		kind       EdgeType
	}
	projected := make([]lineFt, len(lines))
	for i, l := range lines {
		projected[i] = lineFt{frame.ToFeet(l.Start), frame.ToFeet(l.End), l.Type}
	}

	// Pool endpoints: an endpoint joins the nearest junction within tol.
	// Junctions are bucketed by the grid cell of their own position, so
	// only the 3x3 neighbourhood of the endpoint's cell needs checking.
	cells := make(map[[2]int64][]int)
	cellOf := func(p orb.Point) [2]int64 {
		return [2]int64{int64(math.Floor(p[0] / tol)), int64(math.Floor(p[1] / tol))}
	}
	var junctions []orb.Point
	assign := func(p orb.Point) int {
		c := cellOf(p)
		best, bestDist := -1, math.Inf(1)
		for dx := int64(-1); dx <= 1; dx++ {
			for dy := int64(-1); dy <= 1; dy++ {
				for _, j := range cells[[2]int64{c[0] + dx, c[1] + dy}] {
					if d := Distance(junctions[j], p); d <= tol && (d < bestDist || (d == bestDist && j < best)) {
						best, bestDist = j, d
					}
				}
			}
		}
		if best >= 0 {
			return best
		}
		junctions = append(junctions, p)
		cells[c] = append(cells[c], len(junctions)-1)
		return len(junctions) - 1
	}

	// startOf and endOf map each line end to its junction.
	startOf := make([]int, len(projected))
	endOf := make([]int, len(projected))
	for i, l := range projected {
		startOf[i] = assign(l.start)
		endOf[i] = assign(l.end)
	}

	for j, p := range junctions {
		types := make(map[EdgeType]bool)
		count := 0
		for i, l := range projected {
			if startOf[i] == j || endOf[i] == j {
				types[l.kind] = true
				count++
			}
		}

		v := Vertex{
			ID:              fmt.Sprintf("j%d", j),
			Coordinate:      frame.FromFeet(p),
			Type:            ClassifyJunction(types, count),
			Confidence:      singleLineConfidence,
			Source:          d.Source,
			DetectionMethod: "line_endpoint",
		}
		if count >= 2 {
			v.Confidence = multiLineConfidence
		}
		if ci := nearestWithin(cornersFt, p, tol); ci >= 0 {
			orig := v.Coordinate
			v.OriginalCoordinate = &orig
			v.Coordinate = corners[ci]
			v.SnapApplied = true
			v.ConnectedVertices = append(v.ConnectedVertices, cornerID(ci))
			vertices[ci].ConnectedVertices = append(vertices[ci].ConnectedVertices, v.ID)
		} else if ei := edgeWithin(cornersFt, p, tol); ei >= 0 {
			// A junction on a perimeter edge (a gable ridge end on its rake)
			// joins both of the edge's corners.
			for _, ci := range []int{ei, (ei + 1) % len(corners)} {
				v.ConnectedVertices = appendUnique(v.ConnectedVertices, cornerID(ci))
				vertices[ci].ConnectedVertices = appendUnique(vertices[ci].ConnectedVertices, v.ID)
			}
		}
		vertices = append(vertices, v)
	}

	base := len(corners)
	for i := range projected {
		a, b := base+startOf[i], base+endOf[i]
		if a == b {
			continue
		}
		vertices[a].ConnectedVertices = appendUnique(vertices[a].ConnectedVertices, vertices[b].ID)
		vertices[b].ConnectedVertices = appendUnique(vertices[b].ConnectedVertices, vertices[a].ID)
	}

	if d.Image != nil {
		for i := range vertices {
			px := d.Image.ToPixel(vertices[i].Coordinate)
			vertices[i].PixelCoordinate = &px
		}
	}
	return vertices
}

// VertexValidation reports connectivity problems of a vertex graph.
type VertexValidation struct {
	Orphans              []string   `json:"orphans"`
	DisconnectedClusters [][]string `json:"disconnectedClusters"`
	Warnings             []string   `json:"warnings"`
}

// Valid reports whether no problems were found.
func (v VertexValidation) Valid() bool {
	return len(v.Orphans) == 0 && len(v.DisconnectedClusters) == 0
}

// ValidateVertices finds orphan vertices (non-perimeter vertices with no
// connections) and connected components split off the main roof graph.
// Every component other than the largest is reported as disconnected;
// orphans are reported only as orphans.
func ValidateVertices(vertices []Vertex) VertexValidation {
	var res VertexValidation
	index := make(map[string]int, len(vertices))
	for i, v := range vertices {
		index[v.ID] = i
	}

	uf := newUnionFind(len(vertices))
	orphan := make([]bool, len(vertices))
	for i, v := range vertices {
		if len(v.ConnectedVertices) == 0 && v.Type != VertexPerimeterCorner {
			orphan[i] = true
			res.Orphans = append(res.Orphans, v.ID)
			continue
		}
		for _, id := range v.ConnectedVertices {
			if j, ok := index[id]; ok {
				uf.union(i, j)
			}
		}
	}

	var groups [][]int
	for _, g := range uf.groups() {
		if len(g) == 1 && orphan[g[0]] {
			continue
		}
		groups = append(groups, g)
	}
	if len(groups) > 1 {
		sort.SliceStable(groups, func(a, b int) bool { return len(groups[a]) > len(groups[b]) })
		for _, g := range groups[1:] {
			ids := make([]string, len(g))
			for k, i := range g {
				ids[k] = vertices[i].ID
			}
			res.DisconnectedClusters = append(res.DisconnectedClusters, ids)
		}
	}

	for _, id := range res.Orphans {
		res.Warnings = append(res.Warnings, fmt.Sprintf("vertex %s has no connections", id))
	}
	for _, c := range res.DisconnectedClusters {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%d vertices are disconnected from the main roof structure", len(c)))
	}
	return res
}

func cornerID(i int) string {
	return fmt.Sprintf("c%d", i)
}

// nearestWithin returns the index of the point closest to p within tol, or -1.
func nearestWithin(points []orb.Point, p orb.Point, tol float64) int {
	best, bestDist := -1, tol
	for i, q := range points {
		if d := Distance(p, q); d <= bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// edgeWithin returns the index i of the outline edge (i, i+1) within tol of
// p, or -1.
func edgeWithin(outline []orb.Point, p orb.Point, tol float64) int {
	n := len(outline)
	if n < 2 {
		return -1
	}
	for i := 0; i < n; i++ {
		if DistanceToSegment(p, outline[i], outline[(i+1)%n]) <= tol {
			return i
		}
	}
	return -1
}

func appendUnique(ids []string, id string) []string {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
