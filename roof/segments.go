package roof

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"

	"github.com/paulmach/orb"

	"github.com/kwv/roofmesh/internal/logging"
)

// Reasons recorded in SolarData.UnavailableReason.
const (
	SegmentsNotConfigured = "not_configured"
	SegmentsAPIError      = "api_error"
	SegmentsFetchError    = "fetch_error"
	SegmentsNoData        = "no_segments"
)

// SegmentSource supplies roof segment data for a coordinate. Implementations
// never fail: an unavailable source is reported through SolarData.
type SegmentSource interface {
	Name() string
	FetchRoofSegments(ctx context.Context, lat, lng float64) *SolarData
}

// SolarAPISource reads a building-insights style payload listing the roof's
// planar segments.
type SolarAPISource struct {
	cfg    SegmentsConfig
	opts   []FetchOption
	logger logging.Logger
}

// NewSolarAPISource returns a source for cfg. An empty URL yields a source
// that always reports not_configured.
func NewSolarAPISource(cfg SegmentsConfig, logger logging.Logger, opts ...FetchOption) *SolarAPISource {
	base := []FetchOption{}
	if cfg.Timeout > 0 {
		base = append(base, WithTimeout(cfg.Timeout))
	}
	return &SolarAPISource{cfg: cfg, opts: append(base, opts...), logger: logging.OrNoop(logger)}
}

func (s *SolarAPISource) Name() string { return "solar" }

type buildingInsights struct {
	SolarPotential struct {
		RoofSegmentStats []struct {
			PitchDegrees   float64 `json:"pitchDegrees"`
			AzimuthDegrees float64 `json:"azimuthDegrees"`
			Stats          struct {
				AreaMeters2       float64 `json:"areaMeters2"`
				GroundAreaMeters2 float64 `json:"groundAreaMeters2"`
			} `json:"stats"`
			Center struct {
				Latitude  float64 `json:"latitude"`
				Longitude float64 `json:"longitude"`
			} `json:"center"`
		} `json:"roofSegmentStats"`
		WholeRoofStats struct {
			AreaMeters2 float64 `json:"areaMeters2"`
		} `json:"wholeRoofStats"`
	} `json:"solarPotential"`
}

// FetchRoofSegments requests location.latitude/location.longitude and
// converts the segments to square feet.
func (s *SolarAPISource) FetchRoofSegments(ctx context.Context, lat, lng float64) *SolarData {
	if s.cfg.URL == "" {
		return &SolarData{UnavailableReason: SegmentsNotConfigured}
	}
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return &SolarData{UnavailableReason: SegmentsFetchError}
	}
	q := u.Query()
	q.Set("location.latitude", strconv.FormatFloat(lat, 'f', 7, 64))
	q.Set("location.longitude", strconv.FormatFloat(lng, 'f', 7, 64))
	if s.cfg.APIKey != "" {
		q.Set("key", s.cfg.APIKey)
	}
	u.RawQuery = q.Encode()

	log := logging.ForContext(ctx, s.logger)
	data, err := fetchWithRetry(ctx, request{url: u.String()}, s.opts...)
	if err != nil {
		reason := SegmentsFetchError
		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) {
			reason = SegmentsAPIError
		}
		log.Warn(ctx, "roof segment data unavailable", logging.String("reason", reason), logging.Err(err))
		return &SolarData{UnavailableReason: reason}
	}

	sd, err := ParseBuildingInsights(data)
	if err != nil {
		log.Warn(ctx, "roof segment payload rejected", logging.Err(err))
		return &SolarData{UnavailableReason: SegmentsFetchError}
	}
	return sd
}

// ParseBuildingInsights converts a building-insights payload into SolarData.
// The predominant pitch is the pitch of the largest segment.
func ParseBuildingInsights(data []byte) (*SolarData, error) {
	var bi buildingInsights
	if err := json.Unmarshal(data, &bi); err != nil {
		return nil, fmt.Errorf("decode building insights: %w", err)
	}
	stats := bi.SolarPotential.RoofSegmentStats
	if len(stats) == 0 {
		return &SolarData{UnavailableReason: SegmentsNoData}, nil
	}

	sd := &SolarData{Available: true}
	var largest float64
	for _, st := range stats {
		seg := RoofSegment{
			PitchDegrees:   st.PitchDegrees,
			AzimuthDegrees: math.Mod(st.AzimuthDegrees+360, 360),
			AreaSqft:       st.Stats.AreaMeters2 * SqFtPerSqM,
			GroundAreaSqft: st.Stats.GroundAreaMeters2 * SqFtPerSqM,
			Center:         orb.Point{st.Center.Longitude, st.Center.Latitude},
		}
		sd.Segments = append(sd.Segments, seg)
		sd.TotalAreaSqft += seg.AreaSqft
		if seg.AreaSqft > largest {
			largest = seg.AreaSqft
			sd.PredominantPitchDeg = seg.PitchDegrees
		}
	}
	if whole := bi.SolarPotential.WholeRoofStats.AreaMeters2; whole > 0 {
		sd.TotalAreaSqft = whole * SqFtPerSqM
	}
	return sd, nil
}
