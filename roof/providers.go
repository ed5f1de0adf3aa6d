package roof

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// FootprintProvider is one source of building outlines.
type FootprintProvider interface {
	// Source is the tag recorded on footprints from this provider.
	Source() string
	// Baseline is the confidence assigned to an ideal candidate.
	Baseline() float64
	// FetchBuildings returns every building feature within bound.
	FetchBuildings(ctx context.Context, bound orb.Bound) (*geojson.FeatureCollection, error)
}

// NewProvider builds the provider described by cfg. Extra options are applied
// after the ones derived from cfg.
func NewProvider(cfg ProviderConfig, opts ...FetchOption) (FootprintProvider, error) {
	base := []FetchOption{}
	if cfg.Timeout > 0 {
		base = append(base, WithTimeout(cfg.Timeout))
	}
	if cfg.MaxRetries > 0 {
		base = append(base, WithMaxRetries(cfg.MaxRetries))
	}
	opts = append(base, opts...)

	switch cfg.Kind {
	case ProviderKindGeoJSON:
		return &GeoJSONProvider{cfg: cfg, opts: opts}, nil
	case ProviderKindOverpass:
		return &OverpassProvider{cfg: cfg, opts: opts}, nil
	}
	return nil, &MissingConfigError{Field: "provider kind", Reason: fmt.Sprintf("has unknown value %q", cfg.Kind)}
}

// NewProviders builds every configured provider in priority order.
func NewProviders(cfgs []ProviderConfig, opts ...FetchOption) ([]FootprintProvider, error) {
	out := make([]FootprintProvider, 0, len(cfgs))
	for _, c := range cfgs {
		p, err := NewProvider(c, opts...)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", c.Name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// GeoJSONProvider queries an endpoint that answers a bbox query with a GeoJSON
// FeatureCollection, the common shape of structured-data and GIS parcel APIs.
type GeoJSONProvider struct {
	cfg  ProviderConfig
	opts []FetchOption
}

func (p *GeoJSONProvider) Source() string    { return p.cfg.Name }
func (p *GeoJSONProvider) Baseline() float64 { return baselineOrDefault(p.cfg.Baseline) }

// FetchBuildings requests bbox=minLng,minLat,maxLng,maxLat.
func (p *GeoJSONProvider) FetchBuildings(ctx context.Context, bound orb.Bound) (*geojson.FeatureCollection, error) {
	u, err := url.Parse(p.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse provider URL: %w", err)
	}
	q := u.Query()
	q.Set("bbox", fmt.Sprintf("%s,%s,%s,%s",
		formatCoord(bound.Min[0]), formatCoord(bound.Min[1]),
		formatCoord(bound.Max[0]), formatCoord(bound.Max[1])))

	opts := p.opts
	if p.cfg.APIKey != "" {
		if p.cfg.APIKeyParam != "" {
			q.Set(p.cfg.APIKeyParam, p.cfg.APIKey)
		} else {
			opts = append(append([]FetchOption{}, opts...), WithHeader("X-API-Key", p.cfg.APIKey))
		}
	}
	u.RawQuery = q.Encode()

	data, err := fetchWithRetry(ctx, request{url: u.String()}, opts...)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.cfg.Name, err)
	}
	return fc, nil
}

// OverpassProvider queries the public OSM buildings dataset through the
// Overpass API.
type OverpassProvider struct {
	cfg  ProviderConfig
	opts []FetchOption
}

func (p *OverpassProvider) Source() string    { return p.cfg.Name }
func (p *OverpassProvider) Baseline() float64 { return baselineOrDefault(p.cfg.Baseline) }

type overpassResponse struct {
	Elements []overpassElement `json:"elements"`
}

type overpassElement struct {
	Type     string            `json:"type"`
	ID       int64             `json:"id"`
	Tags     map[string]string `json:"tags"`
	Geometry []struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"geometry"`
}

// OverpassQuery returns the Overpass QL query for building ways inside bound.
func OverpassQuery(bound orb.Bound) string {
	return fmt.Sprintf(`[out:json][timeout:25];way["building"](%s,%s,%s,%s);out geom;`,
		formatCoord(bound.Min[1]), formatCoord(bound.Min[0]),
		formatCoord(bound.Max[1]), formatCoord(bound.Max[0]))
}

// FetchBuildings posts the query and converts closed ways into polygons.
// Unclosed ways are returned as line strings.
func (p *OverpassProvider) FetchBuildings(ctx context.Context, bound orb.Bound) (*geojson.FeatureCollection, error) {
	form := url.Values{}
	form.Set("data", OverpassQuery(bound))

	data, err := fetchWithRetry(ctx, request{
		method:      http.MethodPost,
		url:         p.cfg.URL,
		body:        []byte(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
	}, p.opts...)
	if err != nil {
		return nil, err
	}

	var resp overpassResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.cfg.Name, err)
	}

	fc := geojson.NewFeatureCollection()
	for _, el := range resp.Elements {
		if el.Type != "way" || len(el.Geometry) == 0 {
			continue
		}
		ls := make(orb.LineString, len(el.Geometry))
		for i, g := range el.Geometry {
			ls[i] = orb.Point{g.Lon, g.Lat}
		}
		var f *geojson.Feature
		if len(ls) >= 4 && ls[0].Equal(ls[len(ls)-1]) {
			f = geojson.NewFeature(orb.Polygon{orb.Ring(ls)})
		} else {
			f = geojson.NewFeature(ls)
		}
		f.ID = el.ID
		f.Properties["osm_id"] = el.ID
		if b := el.Tags["building"]; b != "" {
			f.Properties["building"] = b
		}
		fc.Append(f)
	}
	return fc, nil
}

func baselineOrDefault(b float64) float64 {
	if b <= 0 {
		return DefaultProviderBaseline
	}
	return b
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 7, 64)
}
