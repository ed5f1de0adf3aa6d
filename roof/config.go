package roof

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds understood by NewProvider.
const (
	ProviderKindGeoJSON  = "geojson"
	ProviderKindOverpass = "overpass"
)

// MissingConfigError reports a required configuration field that is absent
// or invalid.
type MissingConfigError struct {
	Field  string
	Reason string
}

func (e *MissingConfigError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("config: %s is required", e.Field)
}

// ProviderConfig defines one footprint provider.
type ProviderConfig struct {
	Name        string        `yaml:"name" json:"name"`
	Kind        string        `yaml:"kind" json:"kind"`
	URL         string        `yaml:"url" json:"url"`
	APIKey      string        `yaml:"apiKey,omitempty" json:"-"`
	APIKeyParam string        `yaml:"apiKeyParam,omitempty" json:"apiKeyParam,omitempty"` // query parameter name; header when empty
	RequiresKey bool          `yaml:"requiresKey,omitempty" json:"requiresKey,omitempty"`
	Baseline    float64       `yaml:"baseline,omitempty" json:"baseline,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	MaxRetries  int           `yaml:"maxRetries,omitempty" json:"maxRetries,omitempty"`
}

// FootprintConfig configures footprint resolution.
type FootprintConfig struct {
	SearchRadiusM      float64          `yaml:"searchRadiusM,omitempty" json:"searchRadiusM,omitempty"`
	SimplifyToleranceM float64          `yaml:"simplifyToleranceM,omitempty" json:"simplifyToleranceM,omitempty"`
	Providers          []ProviderConfig `yaml:"providers" json:"providers"`
}

// SegmentsConfig configures the external roof-segment source. An empty URL
// disables it.
type SegmentsConfig struct {
	URL     string        `yaml:"url,omitempty" json:"url,omitempty"`
	APIKey  string        `yaml:"apiKey,omitempty" json:"-"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// DetectorConfig defines one AI ridge detector endpoint.
type DetectorConfig struct {
	Name    string        `yaml:"name" json:"name"`
	URL     string        `yaml:"url" json:"url"`
	APIKey  string        `yaml:"apiKey,omitempty" json:"-"`
	Timeout time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// TopologyConfig configures the topology builder.
type TopologyConfig struct {
	RidgeSourcePriority []RidgeSource `yaml:"ridgeSourcePriority,omitempty" json:"ridgeSourcePriority,omitempty"`
	RoofStyle           RoofStyle     `yaml:"roofStyle,omitempty" json:"roofStyle,omitempty"`
	EaveOffsetFt        float64       `yaml:"eaveOffsetFt,omitempty" json:"eaveOffsetFt,omitempty"`
	SnapToleranceFt     float64       `yaml:"snapToleranceFt,omitempty" json:"snapToleranceFt,omitempty"`
	EnsembleConcurrency int           `yaml:"ensembleConcurrency,omitempty" json:"ensembleConcurrency,omitempty"`
}

// AreaConfig configures the facet and area calculator.
type AreaConfig struct {
	DefaultPitch          string  `yaml:"defaultPitch,omitempty" json:"defaultPitch,omitempty"`
	MinTopologyConfidence float64 `yaml:"minTopologyConfidence,omitempty" json:"minTopologyConfidence,omitempty"`
}

// MQTTConfig holds MQTT connection settings for result hand-off.
type MQTTConfig struct {
	Broker        string `yaml:"broker,omitempty" json:"broker,omitempty"`
	PublishPrefix string `yaml:"publishPrefix,omitempty" json:"publishPrefix,omitempty"`
	ClientID      string `yaml:"clientId,omitempty" json:"clientId,omitempty"`
	Username      string `yaml:"username,omitempty" json:"username,omitempty"`
	Password      string `yaml:"password,omitempty" json:"-"`
}

// StoreConfig configures result persistence.
type StoreConfig struct {
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
}

// HTTPConfig configures the HTTP service.
type HTTPConfig struct {
	Port int `yaml:"port,omitempty" json:"port,omitempty"`
}

// Config represents the full configuration file.
type Config struct {
	Footprint FootprintConfig  `yaml:"footprint" json:"footprint"`
	Segments  SegmentsConfig   `yaml:"segments,omitempty" json:"segments,omitempty"`
	Detectors []DetectorConfig `yaml:"detectors,omitempty" json:"detectors,omitempty"`
	Topology  TopologyConfig   `yaml:"topology,omitempty" json:"topology,omitempty"`
	Areas     AreaConfig       `yaml:"areas,omitempty" json:"areas,omitempty"`
	QA        QAConfig         `yaml:"qa,omitempty" json:"qa,omitempty"`
	MQTT      MQTTConfig       `yaml:"mqtt,omitempty" json:"mqtt,omitempty"`
	Store     StoreConfig      `yaml:"store,omitempty" json:"store,omitempty"`
	HTTP      HTTPConfig       `yaml:"http,omitempty" json:"http,omitempty"`

	// CalibrationPath points at a JSON file of fitted confidence parameters.
	CalibrationPath string `yaml:"calibrationPath,omitempty" json:"calibrationPath,omitempty"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultSearchRadiusM         = 50.0
	DefaultSimplifyToleranceM    = 0.25
	DefaultSnapToleranceFt       = 2.0
	DefaultProviderBaseline      = 0.88
	DefaultProviderTimeout       = 10 * time.Second
	DefaultProviderRetries       = 2
	DefaultPitchString           = "6/12"
	DefaultPublishPrefix         = "roofmesh"
	DefaultHTTPPort              = 8080
	DefaultMinTopologyConfidence = 0.6
)

// DefaultRidgeSourcePriority is the ridge direction fallback order.
var DefaultRidgeSourcePriority = []RidgeSource{RidgeSourceSolar, RidgeSourceAI, RidgeSourceGeometric}

// LoadConfig loads the configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing, defaults are applied and the
// result is validated.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses, defaults and validates YAML configuration data.
func ParseConfig(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expanded), &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyDefaults fills zero-valued settings with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Footprint.SearchRadiusM <= 0 {
		c.Footprint.SearchRadiusM = DefaultSearchRadiusM
	}
	if c.Footprint.SimplifyToleranceM == 0 {
		c.Footprint.SimplifyToleranceM = DefaultSimplifyToleranceM
	}
	for i := range c.Footprint.Providers {
		p := &c.Footprint.Providers[i]
		if p.Baseline <= 0 {
			p.Baseline = DefaultProviderBaseline
		}
		if p.Timeout <= 0 {
			p.Timeout = DefaultProviderTimeout
		}
		if p.MaxRetries <= 0 {
			p.MaxRetries = DefaultProviderRetries
		}
	}
	if c.Segments.Timeout <= 0 {
		c.Segments.Timeout = DefaultProviderTimeout
	}
	for i := range c.Detectors {
		if c.Detectors[i].Timeout <= 0 {
			c.Detectors[i].Timeout = DefaultProviderTimeout
		}
	}
	if len(c.Topology.RidgeSourcePriority) == 0 {
		c.Topology.RidgeSourcePriority = append([]RidgeSource(nil), DefaultRidgeSourcePriority...)
	}
	if c.Topology.RoofStyle == "" {
		c.Topology.RoofStyle = RoofStyleHip
	}
	if c.Topology.SnapToleranceFt <= 0 {
		c.Topology.SnapToleranceFt = DefaultSnapToleranceFt
	}
	if c.Topology.EnsembleConcurrency <= 0 {
		c.Topology.EnsembleConcurrency = 4
	}
	if c.Areas.DefaultPitch == "" {
		c.Areas.DefaultPitch = DefaultPitchString
	}
	if c.Areas.MinTopologyConfidence <= 0 {
		c.Areas.MinTopologyConfidence = DefaultMinTopologyConfidence
	}
	c.QA.applyDefaults()
	if c.MQTT.PublishPrefix == "" {
		c.MQTT.PublishPrefix = DefaultPublishPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "roofmesh"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
}

// Validate checks required fields once at startup.
func (c *Config) Validate() error {
	if len(c.Footprint.Providers) == 0 {
		return &MissingConfigError{Field: "footprint.providers", Reason: "must define at least one provider"}
	}
	seen := make(map[string]bool)
	for i, p := range c.Footprint.Providers {
		if p.Name == "" {
			return &MissingConfigError{Field: fmt.Sprintf("footprint.providers[%d].name", i)}
		}
		if seen[p.Name] {
			return &MissingConfigError{Field: fmt.Sprintf("footprint.providers[%d].name", i), Reason: "must be unique"}
		}
		seen[p.Name] = true
		switch p.Kind {
		case ProviderKindGeoJSON, ProviderKindOverpass:
		case "":
			return &MissingConfigError{Field: fmt.Sprintf("footprint.providers[%d].kind", i)}
		default:
			return &MissingConfigError{Field: fmt.Sprintf("footprint.providers[%d].kind", i), Reason: fmt.Sprintf("has unknown value %q", p.Kind)}
		}
		if p.URL == "" {
			return &MissingConfigError{Field: fmt.Sprintf("footprint.providers[%d].url", i)}
		}
		if p.RequiresKey && p.APIKey == "" {
			return &MissingConfigError{Field: fmt.Sprintf("footprint.providers[%d].apiKey", i)}
		}
		if p.Baseline > 1 {
			return &MissingConfigError{Field: fmt.Sprintf("footprint.providers[%d].baseline", i), Reason: "must be within [0, 1]"}
		}
	}
	for i, d := range c.Detectors {
		if d.Name == "" {
			return &MissingConfigError{Field: fmt.Sprintf("detectors[%d].name", i)}
		}
		if d.URL == "" {
			return &MissingConfigError{Field: fmt.Sprintf("detectors[%d].url", i)}
		}
	}
	for i, src := range c.Topology.RidgeSourcePriority {
		switch src {
		case RidgeSourceSolar, RidgeSourceAI, RidgeSourceGeometric:
		default:
			return &MissingConfigError{Field: fmt.Sprintf("topology.ridgeSourcePriority[%d]", i), Reason: fmt.Sprintf("has unknown value %q", src)}
		}
	}
	switch c.Topology.RoofStyle {
	case RoofStyleHip, RoofStyleGable:
	default:
		return &MissingConfigError{Field: "topology.roofStyle", Reason: fmt.Sprintf("has unknown value %q", c.Topology.RoofStyle)}
	}
	if _, err := ParsePitch(c.Areas.DefaultPitch); err != nil {
		return &MissingConfigError{Field: "areas.defaultPitch", Reason: err.Error()}
	}
	return nil
}
