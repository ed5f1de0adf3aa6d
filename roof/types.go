package roof

import (
	"time"

	"github.com/paulmach/orb"
)

// Coordinate is a (longitude, latitude) pair in degrees.
type Coordinate = orb.Point

// EdgeType is the roofing classification of a skeleton edge.
type EdgeType string

const (
	EdgeRidge  EdgeType = "ridge"
	EdgeHip    EdgeType = "hip"
	EdgeValley EdgeType = "valley"
	EdgeEave   EdgeType = "eave"
	EdgeRake   EdgeType = "rake"
)

// IsStructural reports whether the edge lies inside the footprint (ridge, hip
// or valley) as opposed to along its boundary.
func (t EdgeType) IsStructural() bool {
	return t == EdgeRidge || t == EdgeHip || t == EdgeValley
}

// RidgeSource identifies which data determined the ridge direction.
type RidgeSource string

const (
	RidgeSourceSolar     RidgeSource = "solar"
	RidgeSourceAI        RidgeSource = "ai"
	RidgeSourceGeometric RidgeSource = "geometric"
	RidgeSourceNone      RidgeSource = "none"
)

// RoofStyle selects the skeleton template for rectangular sections.
type RoofStyle string

const (
	RoofStyleHip   RoofStyle = "hip"
	RoofStyleGable RoofStyle = "gable"
)

// Footprint is the ground-plan polygon of a building.
type Footprint struct {
	Ring              orb.Ring `json:"ring"`
	Source            string   `json:"source"`
	Confidence        float64  `json:"confidence"`
	AreaSqFt          float64  `json:"areaSqFt"`
	VertexCount       int      `json:"vertexCount"`
	CentroidDistanceM float64  `json:"centroidDistanceM"`
	ContainsPoint     bool     `json:"containsPoint"`
}

// SkeletonEdge is one typed line segment of the roof skeleton.
type SkeletonEdge struct {
	Start Coordinate `json:"start"`
	End   Coordinate `json:"end"`
	Type  EdgeType   `json:"type"`
}

// LinearFeature is a typed line detected by an external source (AI model or
// imagery pipeline) before it is reconciled into the skeleton.
type LinearFeature struct {
	Start      Coordinate `json:"start"`
	End        Coordinate `json:"end"`
	Type       EdgeType   `json:"type"`
	Confidence float64    `json:"confidence"`
	Source     string     `json:"source,omitempty"`
}

// RoofTopology is the skeleton anchored to a footprint.
type RoofTopology struct {
	FootprintCoords orb.Ring       `json:"footprintCoords"`
	Skeleton        []SkeletonEdge `json:"skeleton"`
	Vertices        []Vertex       `json:"vertices"`
	RidgeSource     RidgeSource    `json:"ridgeSource"`
	RoofStyle       RoofStyle      `json:"roofStyle"`
	IsComplexShape  bool           `json:"isComplexShape"`
	Confidence      float64        `json:"confidence"`
	Warnings        []string       `json:"warnings"`
}

// EdgesOfType returns the skeleton edges of the given type.
func (t *RoofTopology) EdgesOfType(et EdgeType) []SkeletonEdge {
	var out []SkeletonEdge
	for _, e := range t.Skeleton {
		if e.Type == et {
			out = append(out, e)
		}
	}
	return out
}

// Pitch is a roof slope expressed as rise over a 12-unit run.
type Pitch struct {
	Rise float64 `json:"rise"`
}

// Facet is one planar roof surface.
type Facet struct {
	ID             string       `json:"id"`
	Polygon        orb.Ring     `json:"polygon"`
	Pitch          Pitch        `json:"pitch"`
	PitchSource    string       `json:"pitchSource"`
	AzimuthDeg     float64      `json:"azimuthDeg"`
	PlanAreaSqft   float64      `json:"planAreaSqft"`
	SlopedAreaSqft float64      `json:"slopedAreaSqft"`
	Closed         bool         `json:"closed"`
	EaveEdge       [2]orb.Point `json:"eaveEdge"`
}

// LinearTotals holds total edge lengths in feet, by edge type.
type LinearTotals struct {
	EaveFt   float64 `json:"eaveFt"`
	RakeFt   float64 `json:"rakeFt"`
	RidgeFt  float64 `json:"ridgeFt"`
	HipFt    float64 `json:"hipFt"`
	ValleyFt float64 `json:"valleyFt"`
}

// AreaTotals aggregates facet areas.
type AreaTotals struct {
	PlanAreaSqft   float64 `json:"planAreaSqft"`
	SlopedAreaSqft float64 `json:"slopedAreaSqft"`
	Squares        float64 `json:"squares"`
}

// AreaResult is the output of the facet and area calculator.
type AreaResult struct {
	Facets               []Facet      `json:"facets"`
	Totals               AreaTotals   `json:"totals"`
	LinearTotals         LinearTotals `json:"linearTotals"`
	TrueLengths          LinearTotals `json:"trueLengths"`
	PredominantPitch     Pitch        `json:"predominantPitch"`
	RequiresManualReview bool         `json:"requiresManualReview"`
	ReviewReasons        []string     `json:"reviewReasons"`
	Warnings             []string     `json:"warnings"`
}

// QAChecks holds the six boolean outcomes of the QA gate.
type QAChecks struct {
	AreaWithinTolerance bool `json:"areaWithinTolerance"`
	PerimeterMatches    bool `json:"perimeterMatches"`
	NoFloatingEndpoints bool `json:"noFloatingEndpoints"`
	NoCrossingHips      bool `json:"noCrossingHips"`
	RidgeLengthSane     bool `json:"ridgeLengthSane"`
	FacetsClosed        bool `json:"facetsClosed"`
}

// QAGateResult is the read-only summary produced by RunQAGate.
type QAGateResult struct {
	Passed               bool     `json:"passed"`
	Checks               QAChecks `json:"checks"`
	OverallScore         float64  `json:"overallScore"`
	Warnings             []string `json:"warnings"`
	Errors               []string `json:"errors"`
	RequiresManualReview bool     `json:"requiresManualReview"`
}

// RoofSegment is one planar roof segment reported by the external segment
// data source.
type RoofSegment struct {
	PitchDegrees   float64    `json:"pitchDegrees"`
	AzimuthDegrees float64    `json:"azimuthDegrees"`
	AreaSqft       float64    `json:"areaSqft"`
	GroundAreaSqft float64    `json:"groundAreaSqft"`
	Center         Coordinate `json:"center"`
}

// SolarData is the result of an external roof-segment fetch. When Available
// is false the other fields are zero and UnavailableReason explains why.
type SolarData struct {
	Available           bool          `json:"available"`
	Segments            []RoofSegment `json:"segments,omitempty"`
	PredominantPitchDeg float64       `json:"predominantPitchDeg,omitempty"`
	TotalAreaSqft       float64       `json:"totalAreaSqft,omitempty"`
	UnavailableReason   string        `json:"unavailableReason,omitempty"`
}

// HasSegments reports whether segment data can be used.
func (s *SolarData) HasSegments() bool {
	return s != nil && s.Available && len(s.Segments) > 0
}

// APISources records which source won at each stage.
type APISources struct {
	Footprint string      `json:"footprint"`
	Segments  string      `json:"segments"`
	Ridge     RidgeSource `json:"ridge"`
	Detection string      `json:"detection"`
}

// CalibratedConfidence holds externally calibrated probabilities.
type CalibratedConfidence struct {
	Footprint float64 `json:"footprint"`
	Topology  float64 `json:"topology"`
	Overall   float64 `json:"overall"`
}

// MeasurementResult is the externally visible output of one pipeline run.
type MeasurementResult struct {
	ID          string                `json:"id"`
	RequestedAt time.Time             `json:"requestedAt"`
	Lat         float64               `json:"lat"`
	Lng         float64               `json:"lng"`
	Success     bool                  `json:"success"`
	Footprint   *Footprint            `json:"footprint"`
	Topology    *RoofTopology         `json:"topology"`
	Areas       *AreaResult           `json:"areas"`
	QA          *QAGateResult         `json:"qa"`
	SolarData   *SolarData            `json:"solarData"`
	APISources  APISources            `json:"apiSources"`
	Timing      map[string]int64      `json:"timing"`
	Calibrated  *CalibratedConfidence `json:"calibrated,omitempty"`
	Errors      []string              `json:"errors"`
	Warnings    []string              `json:"warnings"`
}
