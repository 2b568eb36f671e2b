package actuator

import (
	"github.com/pkg/errors"

	"tvarm/internal/hw/gpio"
	"tvarm/internal/logging"
)

// DCMotorConfig holds the wiring of one TB6612FNG bridge channel.
type DCMotorConfig struct {
	IN1Pin     int
	IN2Pin     int
	PWMPin     int
	StandbyPin int // shared across channels, <= 0 when hardwired high
	PWMFreqHz  int
}

// DCMotor drives one channel of a TB6612FNG dual H-bridge. Direction
// comes from the IN1/IN2 pair, speed from PWM duty on the channel's
// PWM pin. The chip's standby pin is raised once at construction.
type DCMotor struct {
	gpio gpio.Driver
	cfg  DCMotorConfig
	log  logging.Logger
}

var _ VelocityDriver = (*DCMotor)(nil)

// NewDCMotor configures the channel's pins and leaves the motor
// stopped.
func NewDCMotor(g gpio.Driver, cfg DCMotorConfig, log logging.Logger) (*DCMotor, error) {
	m := &DCMotor{gpio: g, cfg: cfg, log: log}

	if err := g.SetupPin(cfg.IN1Pin, gpio.Output); err != nil {
		return nil, errors.Wrap(err, "dcmotor: setup IN1")
	}
	if err := g.SetupPin(cfg.IN2Pin, gpio.Output); err != nil {
		return nil, errors.Wrap(err, "dcmotor: setup IN2")
	}
	if err := g.SetupPWM(cfg.PWMPin, cfg.PWMFreqHz); err != nil {
		return nil, errors.Wrap(err, "dcmotor: setup PWM")
	}
	if cfg.StandbyPin > 0 {
		if err := g.SetupPin(cfg.StandbyPin, gpio.Output); err != nil {
			return nil, errors.Wrap(err, "dcmotor: setup standby")
		}
		// Raising standby is idempotent, so two channels sharing the
		// pin can both do it.
		if err := g.WritePin(cfg.StandbyPin, gpio.High); err != nil {
			return nil, errors.Wrap(err, "dcmotor: leave standby")
		}
	}
	if err := m.Stop(); err != nil {
		return nil, err
	}
	return m, nil
}

// Drive sets direction and speed. Speed is a percent of full scale
// and is clamped to [0, 100]; Brake ignores it and shorts the motor
// at full duty. A failed write parks the channel before returning.
func (m *DCMotor) Drive(dir Direction, speedPercent float64) error {
	duty := clampPercent(speedPercent) / 100.0

	var in1, in2 gpio.Level
	switch dir {
	case Forward:
		in1, in2 = gpio.High, gpio.Low
	case Reverse:
		in1, in2 = gpio.Low, gpio.High
	case Brake:
		in1, in2 = gpio.High, gpio.High
		duty = 1.0
	case Stop:
		in1, in2 = gpio.Low, gpio.Low
		duty = 0
	default:
		return errors.Errorf("dcmotor: unknown direction %d", int(dir))
	}

	if err := m.gpio.WritePin(m.cfg.IN1Pin, in1); err != nil {
		m.release()
		return errors.Wrap(err, "dcmotor: write IN1")
	}
	if err := m.gpio.WritePin(m.cfg.IN2Pin, in2); err != nil {
		m.release()
		return errors.Wrap(err, "dcmotor: write IN2")
	}
	if err := m.gpio.WritePWM(m.cfg.PWMPin, duty); err != nil {
		m.release()
		return errors.Wrap(err, "dcmotor: write duty")
	}
	m.log.Debugw("drive", "dir", dir.String(), "duty", duty)
	return nil
}

// Stop releases both bridge legs and zeroes the duty so the motor
// coasts. Safe to call in any state, including repeatedly.
func (m *DCMotor) Stop() error {
	return m.Drive(Stop, 0)
}

// release is the best-effort park after a failed write sequence.
// Errors are ignored: the caller already has one to report.
func (m *DCMotor) release() {
	_ = m.gpio.WritePin(m.cfg.IN1Pin, gpio.Low)
	_ = m.gpio.WritePin(m.cfg.IN2Pin, gpio.Low)
	_ = m.gpio.WritePWM(m.cfg.PWMPin, 0)
}
