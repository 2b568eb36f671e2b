package control

import "github.com/pkg/errors"

// Command-surface errors. Callers route on these with errors.Is; the
// messaging and web layers turn them into rejection payloads.
var (
	ErrUnknownAxis        = errors.New("unknown axis")
	ErrInvalidTarget      = errors.New("target must be a percentage between 0 and 100")
	ErrNotCalibrated      = errors.New("axis is not calibrated")
	ErrBusyCalibrating    = errors.New("axis is calibrating")
	ErrNotFaulted         = errors.New("axis is not faulted")
	ErrCalibrationInvalid = errors.New("calibration did not produce a usable voltage span")
)
