package feedback

import (
	"math"
	"testing"
)

// ---------- voltage to percent ----------

func TestMappingPercentEndpoints(t *testing.T) {
	m := Mapping{MinVoltage: 0.12, MaxVoltage: 3.20}

	// Endpoints must be exact, not merely close: the hub treats 0 and
	// 100 as the hard stops.
	if got := m.Percent(0.12); got != 0.0 {
		t.Errorf("Percent(min) = %v, want exactly 0", got)
	}
	if got := m.Percent(3.20); got != 100.0 {
		t.Errorf("Percent(max) = %v, want exactly 100", got)
	}
}

func TestMappingPercentMidTravel(t *testing.T) {
	m := Mapping{MinVoltage: 0.12, MaxVoltage: 3.20}

	if got := m.Percent(1.66); math.Abs(got-50.0) > 0.5 {
		t.Errorf("Percent(1.66) = %v, want 50.0 within 0.5", got)
	}
}

func TestMappingPercentClamps(t *testing.T) {
	m := Mapping{MinVoltage: 0.5, MaxVoltage: 2.5}

	tests := []struct {
		name  string
		volts float64
		want  float64
	}{
		{"below range", 0.1, 0},
		{"far below range", -1.0, 0},
		{"above range", 3.0, 100},
		{"far above range", math.Inf(1), 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := m.Percent(tc.volts); got != tc.want {
				t.Errorf("Percent(%v) = %v, want %v", tc.volts, got, tc.want)
			}
		})
	}
}

func TestMappingPercentNaN(t *testing.T) {
	m := Mapping{MinVoltage: 0.5, MaxVoltage: 2.5}

	if got := m.Percent(math.NaN()); !math.IsNaN(got) {
		t.Errorf("Percent(NaN) = %v, want NaN", got)
	}
}

// ---------- percent to voltage ----------

func TestMappingVoltageRoundTrip(t *testing.T) {
	m := Mapping{MinVoltage: 0.12, MaxVoltage: 3.20}

	for _, percent := range []float64{0, 12.5, 50, 87.5, 100} {
		v := m.Voltage(percent)
		if got := m.Percent(v); math.Abs(got-percent) > 1e-9 {
			t.Errorf("Percent(Voltage(%v)) = %v", percent, got)
		}
	}
}

func TestMappingVoltageClamps(t *testing.T) {
	m := Mapping{MinVoltage: 0.12, MaxVoltage: 3.20}

	if got := m.Voltage(-10); got != 0.12 {
		t.Errorf("Voltage(-10) = %v, want min", got)
	}
	if got := m.Voltage(250); got != 3.20 {
		t.Errorf("Voltage(250) = %v, want max", got)
	}
}

// ---------- validity ----------

func TestMappingValid(t *testing.T) {
	tests := []struct {
		name          string
		mapping       Mapping
		minSeparation float64
		want          bool
	}{
		{"comfortable span", Mapping{0.12, 3.20}, 0.25, true},
		{"exactly at separation", Mapping{1.0, 1.25}, 0.25, true},
		{"below separation", Mapping{1.0, 1.2}, 0.25, false},
		{"equal extremes", Mapping{1.5, 1.5}, 0, false},
		{"inverted extremes", Mapping{2.5, 0.5}, 0.25, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.mapping.Valid(tc.minSeparation); got != tc.want {
				t.Errorf("Valid(%v) = %v, want %v", tc.minSeparation, got, tc.want)
			}
		})
	}
}
