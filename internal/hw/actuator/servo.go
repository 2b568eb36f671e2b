package actuator

import (
	"time"

	"github.com/pkg/errors"

	"tvarm/internal/hw/gpio"
	"tvarm/internal/logging"
)

// ServoConfig holds the signal parameters of one hobby servo.
type ServoConfig struct {
	Pin       int
	MinPulse  time.Duration // pulse width at 0%
	MaxPulse  time.Duration // pulse width at 100%
	PWMFreqHz int
}

// Servo positions a hobby servo by pulse width. The servo's own
// electronics hold the commanded position, so there is nothing to
// close a loop over: SetPosition writes the signal and returns.
type Servo struct {
	gpio gpio.Driver
	cfg  ServoConfig
	log  logging.Logger
}

var _ Positioner = (*Servo)(nil)

// NewServo configures the signal pin and leaves the line idle. No
// pulse is emitted until the first SetPosition, so the horn does not
// jump on boot.
func NewServo(g gpio.Driver, cfg ServoConfig, log logging.Logger) (*Servo, error) {
	if cfg.MinPulse <= 0 || cfg.MaxPulse <= cfg.MinPulse {
		return nil, errors.Errorf("servo: bad pulse range %v..%v", cfg.MinPulse, cfg.MaxPulse)
	}
	s := &Servo{gpio: g, cfg: cfg, log: log}
	if cfg.MaxPulse >= s.period() {
		return nil, errors.Errorf("servo: max pulse %v exceeds %dHz period", cfg.MaxPulse, cfg.PWMFreqHz)
	}
	if err := g.SetupPWM(cfg.Pin, cfg.PWMFreqHz); err != nil {
		return nil, errors.Wrap(err, "servo: setup PWM")
	}
	return s, nil
}

// SetPosition emits the pulse for the given percent of travel.
// Percent is clamped to [0, 100]. Repeating a position rewrites the
// same pulse, which is harmless.
func (s *Servo) SetPosition(percent float64) error {
	p := clampPercent(percent)
	span := s.cfg.MaxPulse - s.cfg.MinPulse
	pulse := s.cfg.MinPulse + time.Duration(float64(span)*p/100.0)
	duty := float64(pulse) / float64(s.period())
	if err := s.gpio.WritePWM(s.cfg.Pin, duty); err != nil {
		return errors.Wrap(err, "servo: write pulse")
	}
	s.log.Debugw("position", "percent", p, "pulse", pulse)
	return nil
}

// Stop drops the signal line. Most servos release torque without a
// pulse train; ones that hold last position just stay put.
func (s *Servo) Stop() error {
	if err := s.gpio.WritePWM(s.cfg.Pin, 0); err != nil {
		return errors.Wrap(err, "servo: release")
	}
	return nil
}

func (s *Servo) period() time.Duration {
	return time.Second / time.Duration(s.cfg.PWMFreqHz)
}
