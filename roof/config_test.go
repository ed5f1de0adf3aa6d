package roof

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func validConfigYAML() string {
	return `footprint:
  providers:
    - name: county
      kind: geojson
      url: https://gis.example.com/buildings
      apiKey: ${ROOFMESH_TEST_KEY}
      requiresKey: true
      baseline: 0.92
    - name: osm
      kind: overpass
      url: https://overpass.example.com/api/interpreter
      timeout: 5s
detectors:
  - name: ridge-net
    url: http://detector:9000/detect
mqtt:
  broker: tcp://localhost:1883
`
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

// ---------------------------------------------------------------------------
// LoadConfig
// ---------------------------------------------------------------------------

func TestLoadConfig_NotExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.yaml")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestLoadConfig_ValidYAML(t *testing.T) {
	t.Setenv("ROOFMESH_TEST_KEY", "k-123")
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML()))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if len(cfg.Footprint.Providers) != 2 {
		t.Fatalf("len(Providers) = %d, want 2", len(cfg.Footprint.Providers))
	}
	county, osm := cfg.Footprint.Providers[0], cfg.Footprint.Providers[1]
	if county.APIKey != "k-123" {
		t.Errorf("APIKey = %q, want expanded env value", county.APIKey)
	}
	if county.Baseline != 0.92 {
		t.Errorf("Baseline = %v, want 0.92", county.Baseline)
	}
	if osm.Baseline != DefaultProviderBaseline {
		t.Errorf("osm Baseline = %v, want default", osm.Baseline)
	}
	if osm.Timeout != 5*time.Second {
		t.Errorf("osm Timeout = %v, want 5s", osm.Timeout)
	}
	if county.Timeout != DefaultProviderTimeout || county.MaxRetries != DefaultProviderRetries {
		t.Errorf("county fetch defaults = %v/%d", county.Timeout, county.MaxRetries)
	}
	if cfg.Detectors[0].Timeout != DefaultProviderTimeout {
		t.Errorf("detector Timeout = %v, want default", cfg.Detectors[0].Timeout)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("ROOFMESH_TEST_KEY", "k")
	cfg, err := LoadConfig(writeConfig(t, validConfigYAML()))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Footprint.SearchRadiusM != DefaultSearchRadiusM {
		t.Errorf("SearchRadiusM = %v", cfg.Footprint.SearchRadiusM)
	}
	if cfg.Footprint.SimplifyToleranceM != DefaultSimplifyToleranceM {
		t.Errorf("SimplifyToleranceM = %v", cfg.Footprint.SimplifyToleranceM)
	}
	if cfg.Topology.RoofStyle != RoofStyleHip {
		t.Errorf("RoofStyle = %q, want hip", cfg.Topology.RoofStyle)
	}
	if cfg.Topology.SnapToleranceFt != DefaultSnapToleranceFt {
		t.Errorf("SnapToleranceFt = %v", cfg.Topology.SnapToleranceFt)
	}
	want := []RidgeSource{RidgeSourceSolar, RidgeSourceAI, RidgeSourceGeometric}
	if len(cfg.Topology.RidgeSourcePriority) != 3 {
		t.Fatalf("RidgeSourcePriority = %v", cfg.Topology.RidgeSourcePriority)
	}
	for i := range want {
		if cfg.Topology.RidgeSourcePriority[i] != want[i] {
			t.Errorf("RidgeSourcePriority[%d] = %q, want %q", i, cfg.Topology.RidgeSourcePriority[i], want[i])
		}
	}
	if cfg.Areas.DefaultPitch != "6/12" {
		t.Errorf("DefaultPitch = %q", cfg.Areas.DefaultPitch)
	}
	if cfg.Areas.MinTopologyConfidence != DefaultMinTopologyConfidence {
		t.Errorf("MinTopologyConfidence = %v", cfg.Areas.MinTopologyConfidence)
	}
	if cfg.QA != DefaultQAConfig() {
		t.Errorf("QA = %+v, want defaults", cfg.QA)
	}
	if cfg.MQTT.PublishPrefix != DefaultPublishPrefix {
		t.Errorf("PublishPrefix = %q", cfg.MQTT.PublishPrefix)
	}
	if cfg.HTTP.Port != DefaultHTTPPort {
		t.Errorf("Port = %d", cfg.HTTP.Port)
	}
}

func TestLoadConfig_DefaultsDoNotMutateShared(t *testing.T) {
	var a, b Config
	a.ApplyDefaults()
	a.Topology.RidgeSourcePriority[0] = RidgeSourceGeometric
	b.ApplyDefaults()
	if b.Topology.RidgeSourcePriority[0] != RidgeSourceSolar {
		t.Errorf("defaults shared a backing array: %v", b.Topology.RidgeSourcePriority)
	}
}

func TestLoadConfig_Validation(t *testing.T) {
	tests := []struct {
		name  string
		yaml  string
		field string
	}{
		{
			name:  "no providers",
			yaml:  "footprint:\n  providers: []\n",
			field: "footprint.providers",
		},
		{
			name: "missing name",
			yaml: `footprint:
  providers:
    - kind: geojson
      url: https://x
`,
			field: "footprint.providers[0].name",
		},
		{
			name: "duplicate name",
			yaml: `footprint:
  providers:
    - {name: a, kind: geojson, url: https://x}
    - {name: a, kind: overpass, url: https://y}
`,
			field: "footprint.providers[1].name",
		},
		{
			name: "unknown kind",
			yaml: `footprint:
  providers:
    - {name: a, kind: wfs, url: https://x}
`,
			field: "footprint.providers[0].kind",
		},
		{
			name: "missing url",
			yaml: `footprint:
  providers:
    - {name: a, kind: geojson}
`,
			field: "footprint.providers[0].url",
		},
		{
			name: "required key unset",
			yaml: `footprint:
  providers:
    - {name: a, kind: geojson, url: https://x, requiresKey: true, apiKey: "${ROOFMESH_UNSET_KEY}"}
`,
			field: "footprint.providers[0].apiKey",
		},
		{
			name: "baseline above one",
			yaml: `footprint:
  providers:
    - {name: a, kind: geojson, url: https://x, baseline: 1.5}
`,
			field: "footprint.providers[0].baseline",
		},
		{
			name: "detector without url",
			yaml: `footprint:
  providers:
    - {name: a, kind: geojson, url: https://x}
detectors:
  - name: d
`,
			field: "detectors[0].url",
		},
		{
			name: "unknown ridge source",
			yaml: `footprint:
  providers:
    - {name: a, kind: geojson, url: https://x}
topology:
  ridgeSourcePriority: [solar, lidar]
`,
			field: "topology.ridgeSourcePriority[1]",
		},
		{
			name: "unknown roof style",
			yaml: `footprint:
  providers:
    - {name: a, kind: geojson, url: https://x}
topology:
  roofStyle: mansard
`,
			field: "topology.roofStyle",
		},
		{
			name: "bad pitch",
			yaml: `footprint:
  providers:
    - {name: a, kind: geojson, url: https://x}
areas:
  defaultPitch: steep
`,
			field: "areas.defaultPitch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.yaml))
			var missing *MissingConfigError
			if !errors.As(err, &missing) {
				t.Fatalf("expected MissingConfigError, got %v", err)
			}
			if missing.Field != tt.field {
				t.Errorf("Field = %q, want %q", missing.Field, tt.field)
			}
		})
	}
}

func TestParseConfig_InvalidYAML(t *testing.T) {
	_, err := ParseConfig([]byte("footprint: [unterminated"))
	if err == nil || !strings.Contains(err.Error(), "parsing config YAML") {
		t.Fatalf("expected YAML parse error, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// SaveConfig
// ---------------------------------------------------------------------------

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := &Config{Footprint: FootprintConfig{Providers: []ProviderConfig{
		{Name: "county", Kind: ProviderKindGeoJSON, URL: "https://gis.example.com"},
	}}}
	cfg.ApplyDefaults()

	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if loaded.Footprint.Providers[0].URL != "https://gis.example.com" {
		t.Errorf("URL = %q", loaded.Footprint.Providers[0].URL)
	}
	if loaded.Topology.RoofStyle != RoofStyleHip {
		t.Errorf("RoofStyle = %q", loaded.Topology.RoofStyle)
	}
}

func TestMissingConfigError(t *testing.T) {
	if got := (&MissingConfigError{Field: "x"}).Error(); got != "config: x is required" {
		t.Errorf("Error() = %q", got)
	}
	if got := (&MissingConfigError{Field: "x", Reason: "must be unique"}).Error(); got != "config: x must be unique" {
		t.Errorf("Error() = %q", got)
	}
}
