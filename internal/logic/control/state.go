package control

import (
	"time"

	"github.com/pkg/errors"

	"tvarm/internal/logic/feedback"
)

// State is where an axis is in its life cycle. Transitions are driven
// by the axis loop and by operator commands; Faulted latches until an
// explicit clear, a new target, or a calibration.
type State int

const (
	Idle State = iota
	Calibrating
	Seeking
	Converged
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Calibrating:
		return "calibrating"
	case Seeking:
		return "seeking"
	case Converged:
		return "converged"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the lowercase name so status payloads read
// naturally on the hub side.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *State) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"idle"`:
		*s = Idle
	case `"calibrating"`:
		*s = Calibrating
	case `"seeking"`:
		*s = Seeking
	case `"converged"`:
		*s = Converged
	case `"faulted"`:
		*s = Faulted
	default:
		return errors.Errorf("unknown state %s", b)
	}
	return nil
}

// FaultReason says why an axis latched Faulted.
type FaultReason string

const (
	FaultNone             FaultReason = ""
	FaultFeedbackLost     FaultReason = "feedback_lost"
	FaultSeekTimeout      FaultReason = "seek_timeout"
	FaultDriveUnavailable FaultReason = "drive_unavailable"
	FaultEmergencyStop    FaultReason = "emergency_stop"
)

// Snapshot is one axis's full published view. Target is nil when no
// position has been commanded; Calibration is nil until the axis has
// a usable voltage mapping.
type Snapshot struct {
	Axis        string            `json:"axis"`
	State       State             `json:"state"`
	Fault       FaultReason       `json:"fault,omitempty"`
	Position    float64           `json:"position"`
	Voltage     float64           `json:"voltage"`
	Stale       bool              `json:"stale"`
	Target      *float64          `json:"target,omitempty"`
	Calibration *feedback.Mapping `json:"calibration,omitempty"`
	Message     string            `json:"message,omitempty"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Calibrated reports whether the axis can translate voltages into
// positions.
func (s Snapshot) Calibrated() bool {
	return s.Calibration != nil
}

// TargetOr returns the commanded target, or fallback when none is
// set.
func (s Snapshot) TargetOr(fallback float64) float64 {
	if s.Target == nil {
		return fallback
	}
	return *s.Target
}
