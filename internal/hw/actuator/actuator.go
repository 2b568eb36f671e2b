// Package actuator drives the arm's motors. Implementations translate
// percent-domain commands into drive signals and never interpret
// position feedback; closing the loop is the controller's job.
package actuator

import "math"

// Direction is a drive direction for velocity-style actuators.
type Direction int

const (
	Stop Direction = iota // outputs released, motor coasts
	Forward
	Reverse
	Brake // both bridge legs low-side on, motor shorted
)

func (d Direction) String() string {
	switch d {
	case Stop:
		return "stop"
	case Forward:
		return "forward"
	case Reverse:
		return "reverse"
	case Brake:
		return "brake"
	default:
		return "unknown"
	}
}

// Actuator is the safety surface every drive type shares. Stop must
// be callable in any state and leave the hardware unpowered.
type Actuator interface {
	Stop() error
}

// Positioner is an actuator that holds a commanded position on its
// own, like a hobby servo. SetPosition is idempotent: repeating the
// same percent rewrites the same signal.
type Positioner interface {
	Actuator
	SetPosition(percent float64) error
}

// VelocityDriver is an actuator that only knows direction and speed,
// like a DC motor behind an H-bridge. Something else must watch
// feedback and decide when to stop.
type VelocityDriver interface {
	Actuator
	Drive(dir Direction, speedPercent float64) error
}

// clampPercent bounds a percent-domain command to [0, 100]. NaN maps
// to 0 so a poisoned computation upstream parks the drive instead of
// writing garbage duty.
func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
