package roof

import (
	"math"
	"testing"
)

func TestParsePitch(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"6/12", 6, false},
		{" 8 / 12 ", 8, false},
		{"6", 6, false},
		{"3/6", 6, false},
		{"0/12", 0, false},
		{"", 0, true},
		{"steep", 0, true},
		{"6/0", 0, true},
		{"6/x", 0, true},
		{"-1/12", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			p, err := ParsePitch(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePitch(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && p.Rise != tt.want {
				t.Errorf("ParsePitch(%q) = %v, want rise %v", tt.in, p.Rise, tt.want)
			}
		})
	}
}

func TestPitchConversions(t *testing.T) {
	if got := (Pitch{Rise: 12}).Degrees(); !approxEqual(got, 45, 1e-9) {
		t.Errorf("12/12 degrees = %f, want 45", got)
	}
	if got := PitchFromDegrees(45).Rise; !approxEqual(got, 12, 1e-9) {
		t.Errorf("PitchFromDegrees(45) = %f, want 12", got)
	}
	if got := PitchFromDegrees(-5).Rise; got != 0 {
		t.Errorf("PitchFromDegrees(-5) = %f, want 0", got)
	}
	if got := PitchFromDegrees(90).Rise; math.IsInf(got, 0) || got <= 0 {
		t.Errorf("PitchFromDegrees(90) = %f, want a large finite rise", got)
	}
	if got := (Pitch{}).SlopeFactor(); got != 1 {
		t.Errorf("flat slope factor = %f, want 1", got)
	}
	if got := (Pitch{Rise: 5}).SlopeFactor(); !approxEqual(got, 13.0/12, 1e-12) {
		t.Errorf("5/12 slope factor = %f, want %f", got, 13.0/12)
	}
}

func TestPitchString(t *testing.T) {
	tests := map[float64]string{
		6:     "6/12",
		7.5:   "7.5/12",
		7.96:  "8/12",
		0:     "0/12",
		4.249: "4.2/12",
	}
	for rise, want := range tests {
		if got := (Pitch{Rise: rise}).String(); got != want {
			t.Errorf("Pitch{%v}.String() = %q, want %q", rise, got, want)
		}
	}
}
