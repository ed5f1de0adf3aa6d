package roof

import (
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestIdentityCalibrator(t *testing.T) {
	var c IdentityCalibrator
	tests := map[float64]float64{0.42: 0.42, -0.2: 0, 1.3: 1}
	for raw, want := range tests {
		if got := c.Calibrate(raw, ComponentOverall); got != want {
			t.Errorf("Calibrate(%v) = %v, want %v", raw, got, want)
		}
	}
}

func TestCalibrationData_Calibrate(t *testing.T) {
	cal := &CalibrationData{Components: map[string]LogisticParams{
		ComponentFootprint: {A: -4, B: 2},
	}}

	got := cal.Calibrate(0.5, ComponentFootprint)
	if math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Calibrate(0.5) = %v, want 0.5 at the logistic midpoint", got)
	}
	if hi := cal.Calibrate(0.9, ComponentFootprint); hi <= got {
		t.Errorf("negative slope should increase with raw confidence: %v <= %v", hi, got)
	}
	if v := cal.Calibrate(0.7, ComponentTopology); v != 0.7 {
		t.Errorf("uncalibrated component = %v, want passthrough", v)
	}

	var none *CalibrationData
	if v := none.Calibrate(0.7, ComponentTopology); v != 0.7 {
		t.Errorf("nil data = %v, want passthrough", v)
	}
}

func TestLoadCalibration_Missing(t *testing.T) {
	cal, err := LoadCalibration(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("LoadCalibration() error: %v", err)
	}
	if cal != nil {
		t.Errorf("expected nil calibration for a missing file, got %+v", cal)
	}
}

func TestLoadCalibration_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.json")
	if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCalibration(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveCalibration_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cal.json")
	in := &CalibrationData{Components: map[string]LogisticParams{
		ComponentOverall: {A: -3.1, B: 1.4},
	}}
	if err := SaveCalibration(path, in); err != nil {
		t.Fatalf("SaveCalibration() error: %v", err)
	}
	if in.LastUpdated == 0 {
		t.Error("LastUpdated not stamped")
	}

	out, err := LoadCalibration(path)
	if err != nil {
		t.Fatalf("LoadCalibration() error: %v", err)
	}
	if out.Components[ComponentOverall] != in.Components[ComponentOverall] {
		t.Errorf("params = %+v, want %+v", out.Components[ComponentOverall], in.Components[ComponentOverall])
	}
}

func TestCalibrateResult(t *testing.T) {
	result := &MeasurementResult{
		Footprint: &Footprint{Confidence: 0.8},
		Topology:  &RoofTopology{Confidence: 0.7},
		QA:        &QAGateResult{OverallScore: 0.95},
	}
	calibrate(IdentityCalibrator{}, result)
	if result.Calibrated == nil {
		t.Fatal("Calibrated not set")
	}
	want := CalibratedConfidence{Footprint: 0.8, Topology: 0.7, Overall: 0.95}
	if *result.Calibrated != want {
		t.Errorf("Calibrated = %+v, want %+v", *result.Calibrated, want)
	}

	noFootprint := &MeasurementResult{}
	calibrate(IdentityCalibrator{}, noFootprint)
	if noFootprint.Calibrated != nil {
		t.Error("Calibrated should stay nil without a footprint")
	}
}
