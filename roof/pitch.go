package roof

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParsePitch parses a roofing pitch written as "rise/12" (e.g. "6/12") or as
// a bare rise ("6").
func ParsePitch(s string) (Pitch, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Pitch{}, fmt.Errorf("pitch is empty")
	}
	riseStr, runStr, hasRun := strings.Cut(s, "/")
	rise, err := strconv.ParseFloat(strings.TrimSpace(riseStr), 64)
	if err != nil {
		return Pitch{}, fmt.Errorf("invalid pitch %q: %w", s, err)
	}
	run := 12.0
	if hasRun {
		run, err = strconv.ParseFloat(strings.TrimSpace(runStr), 64)
		if err != nil {
			return Pitch{}, fmt.Errorf("invalid pitch %q: %w", s, err)
		}
		if run <= 0 {
			return Pitch{}, fmt.Errorf("invalid pitch %q: run must be positive", s)
		}
	}
	if rise < 0 || math.IsNaN(rise) || math.IsInf(rise, 0) {
		return Pitch{}, fmt.Errorf("invalid pitch %q: rise must be a non-negative number", s)
	}
	return Pitch{Rise: rise * 12 / run}, nil
}

// PitchFromDegrees converts a slope angle to rise over 12.
func PitchFromDegrees(deg float64) Pitch {
	if deg <= 0 {
		return Pitch{}
	}
	if deg >= 89 {
		deg = 89
	}
	return Pitch{Rise: math.Tan(deg*math.Pi/180) * 12}
}

// Degrees returns the slope angle.
func (p Pitch) Degrees() float64 {
	return math.Atan2(p.Rise, 12) * 180 / math.Pi
}

// SlopeFactor is the ratio of sloped to plan length, 1/cos(angle).
func (p Pitch) SlopeFactor() float64 {
	return math.Hypot(p.Rise, 12) / 12
}

func (p Pitch) String() string {
	r := math.Round(p.Rise*10) / 10
	if r == math.Trunc(r) {
		return fmt.Sprintf("%d/12", int(r))
	}
	return fmt.Sprintf("%.1f/12", r)
}
