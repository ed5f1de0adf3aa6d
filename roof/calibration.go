package roof

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// Calibration components.
const (
	ComponentFootprint = "footprint"
	ComponentTopology  = "topology"
	ComponentOverall   = "overall"
)

// Calibrator maps a raw confidence to a calibrated probability for a
// component. Fitting the mapping happens elsewhere.
type Calibrator interface {
	Calibrate(raw float64, component string) float64
}

// IdentityCalibrator returns raw confidences unchanged.
type IdentityCalibrator struct{}

func (IdentityCalibrator) Calibrate(raw float64, _ string) float64 { return clamp01(raw) }

// LogisticParams are the fitted slope and intercept for one component:
// p = 1 / (1 + exp(A*raw + B)).
type LogisticParams struct {
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// CalibrationData is a set of fitted parameters, stored as a JSON file.
type CalibrationData struct {
	Components  map[string]LogisticParams `json:"components"`
	LastUpdated int64                     `json:"lastUpdated"`
}

// Calibrate applies the component's parameters. Components without
// parameters pass through unchanged.
func (c *CalibrationData) Calibrate(raw float64, component string) float64 {
	if c == nil {
		return clamp01(raw)
	}
	p, ok := c.Components[component]
	if !ok {
		return clamp01(raw)
	}
	return 1 / (1 + math.Exp(p.A*raw+p.B))
}

// LoadCalibration loads calibration parameters from a JSON file. A missing
// file yields nil data and no error.
func LoadCalibration(path string) (*CalibrationData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading calibration file: %w", err)
	}

	var cal CalibrationData
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parsing calibration file: %w", err)
	}
	return &cal, nil
}

// SaveCalibration writes calibration parameters to a JSON file.
func SaveCalibration(path string, cal *CalibrationData) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating calibration directory: %w", err)
	}
	cal.LastUpdated = time.Now().Unix()

	data, err := json.MarshalIndent(cal, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling calibration data: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing calibration file: %w", err)
	}
	return nil
}

// calibrate fills result.Calibrated from the raw confidences.
func calibrate(c Calibrator, result *MeasurementResult) {
	if c == nil || result == nil || result.Footprint == nil {
		return
	}
	cc := &CalibratedConfidence{
		Footprint: c.Calibrate(result.Footprint.Confidence, ComponentFootprint),
	}
	if result.Topology != nil {
		cc.Topology = c.Calibrate(result.Topology.Confidence, ComponentTopology)
	}
	if result.QA != nil {
		cc.Overall = c.Calibrate(result.QA.OverallScore, ComponentOverall)
	}
	result.Calibrated = cc
}
