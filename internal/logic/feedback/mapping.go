// Package feedback turns potentiometer voltages into positions on the
// arm's travel and keeps the most recent sample per axis available to
// the control loop.
package feedback

// Mapping is one axis's calibration: the feedback voltages observed
// at the two mechanical extremes.
type Mapping struct {
	MinVoltage float64 `yaml:"min_voltage" json:"min_voltage"`
	MaxVoltage float64 `yaml:"max_voltage" json:"max_voltage"`
}

// Valid reports whether the extremes are separated enough to divide
// by. minSeparation rejects calibration runs where the arm never
// actually moved.
func (m Mapping) Valid(minSeparation float64) bool {
	return m.MaxVoltage-m.MinVoltage > 0 && m.MaxVoltage-m.MinVoltage >= minSeparation
}

// Percent maps a voltage onto 0..100 percent of travel. Voltages at
// or beyond an extreme clamp to it, so the calibration endpoints map
// to exactly 0 and exactly 100. NaN input propagates.
func (m Mapping) Percent(volts float64) float64 {
	if volts <= m.MinVoltage {
		return 0.0
	}
	if volts >= m.MaxVoltage {
		return 100.0
	}
	return (volts - m.MinVoltage) / (m.MaxVoltage - m.MinVoltage) * 100.0
}

// Voltage is the inverse of Percent. Simulated plants use it to
// synthesize feedback for a position.
func (m Mapping) Voltage(percent float64) float64 {
	if percent <= 0 {
		return m.MinVoltage
	}
	if percent >= 100 {
		return m.MaxVoltage
	}
	return m.MinVoltage + (m.MaxVoltage-m.MinVoltage)*percent/100.0
}
