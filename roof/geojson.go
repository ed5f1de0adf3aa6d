package roof

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Layer names set in each feature's "layerType" property.
const (
	LayerFootprint = "footprint"
	LayerFacet     = "facet"
	LayerEdge      = "edge"
	LayerVertex    = "vertex"
)

// MeasurementToFeatureCollection converts a measurement into a GeoJSON
// FeatureCollection: the footprint polygon, one polygon per facet, one
// LineString per skeleton edge and one Point per vertex. A nil or failed
// result yields an empty collection.
func MeasurementToFeatureCollection(result *MeasurementResult) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	if result == nil || result.Footprint == nil {
		return fc
	}

	ring := CloseRing(result.Footprint.Ring)
	if result.Topology != nil {
		ring = CloseRing(result.Topology.FootprintCoords)
	}
	fp := geojson.NewFeature(orb.Polygon{ring})
	fp.ID = result.ID
	fp.Properties["layerType"] = LayerFootprint
	fp.Properties["source"] = result.Footprint.Source
	fp.Properties["confidence"] = result.Footprint.Confidence
	fp.Properties["areaSqFt"] = result.Footprint.AreaSqFt
	if result.QA != nil {
		fp.Properties["qaPassed"] = result.QA.Passed
		fp.Properties["qaScore"] = result.QA.OverallScore
		fp.Properties["requiresManualReview"] = result.QA.RequiresManualReview
	}
	fc.Append(fp)

	if result.Areas != nil {
		for _, f := range result.Areas.Facets {
			if len(ringVertices(f.Polygon)) < 3 {
				continue
			}
			feat := geojson.NewFeature(orb.Polygon{CloseRing(f.Polygon)})
			feat.Properties["layerType"] = LayerFacet
			feat.Properties["facetId"] = f.ID
			feat.Properties["pitch"] = f.Pitch.String()
			feat.Properties["pitchSource"] = f.PitchSource
			feat.Properties["azimuthDeg"] = f.AzimuthDeg
			feat.Properties["planAreaSqft"] = f.PlanAreaSqft
			feat.Properties["slopedAreaSqft"] = f.SlopedAreaSqft
			if !f.Closed {
				feat.Properties["closed"] = false
			}
			fc.Append(feat)
		}
	}

	if result.Topology == nil {
		return fc
	}
	frame := NewLocalFrame(result.Topology.FootprintCoords)
	for _, e := range result.Topology.Skeleton {
		feat := geojson.NewFeature(orb.LineString{e.Start, e.End})
		feat.Properties["layerType"] = LayerEdge
		feat.Properties["edgeType"] = string(e.Type)
		feat.Properties["lengthFt"] = frame.LengthFt(e.Start, e.End)
		fc.Append(feat)
	}
	for _, v := range result.Topology.Vertices {
		feat := geojson.NewFeature(v.Coordinate)
		feat.Properties["layerType"] = LayerVertex
		feat.Properties["vertexId"] = v.ID
		feat.Properties["vertexType"] = string(v.Type)
		feat.Properties["confidence"] = v.Confidence
		if v.SnapApplied {
			feat.Properties["snapApplied"] = true
		}
		fc.Append(feat)
	}
	return fc
}
