package gpio

import (
	"go.uber.org/zap"

	"tvarm/internal/logging"
)

// Level is the logical state of a digital pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode selects the direction of a pin.
type PinMode int

const (
	Input PinMode = iota
	Output
)

// Driver is the low-level pin interface the actuator drivers talk to.
// The real implementation runs on a Raspberry Pi; the mock one lets
// the daemon run anywhere. PWM duty is 0.0-1.0.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	SetupPWM(pin int, freqHz int) error
	WritePWM(pin int, duty float64) error
	Close() error
}

// MockDriver logs pin actions instead of touching hardware.
type MockDriver struct {
	log logging.Logger
}

// NewDriver picks the pin driver: the mock for development off the
// Pi, the rpio-backed one on real hardware.
func NewDriver(mock bool, log logging.Logger) (Driver, error) {
	if mock {
		log.Info("using mock GPIO driver (development mode)")
		return NewMockDriver(log), nil
	}
	return NewRPiDriver(log)
}

// NewMockDriver returns a mock driver logging through log.
// A nil logger is replaced with a no-op one.
func NewMockDriver(log logging.Logger) *MockDriver {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MockDriver{log: log}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	m.log.Debugw("gpio setup", "pin", pin, "mode", mode)
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	m.log.Debugw("gpio write", "pin", pin, "level", level)
	return nil
}

func (m *MockDriver) SetupPWM(pin int, freqHz int) error {
	m.log.Debugw("pwm setup", "pin", pin, "freq_hz", freqHz)
	return nil
}

func (m *MockDriver) WritePWM(pin int, duty float64) error {
	m.log.Debugw("pwm write", "pin", pin, "duty", duty)
	return nil
}

func (m *MockDriver) Close() error {
	m.log.Debug("gpio close (mock)")
	return nil
}
