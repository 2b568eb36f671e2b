package gpio

import (
	"github.com/pkg/errors"
	"github.com/stianeikeland/go-rpio/v4"

	"tvarm/internal/logging"
)

// pwmCycleLen is the duty resolution per PWM period. 4096 steps keeps
// the rpio PWM clock (freq * cycle) inside its supported range for
// both servo frames (50 Hz) and motor PWM (1 kHz).
const pwmCycleLen = 4096

// RPiDriver drives the Pi's pins through go-rpio.
type RPiDriver struct {
	log     logging.Logger
	pins    map[int]rpio.Pin
	pwmPins map[int]int // pin -> output frequency in Hz
}

// NewRPiDriver maps the GPIO registers. Needs /dev/gpiomem (or root)
// and therefore only works on an actual Raspberry Pi.
func NewRPiDriver(log logging.Logger) (*RPiDriver, error) {
	if err := rpio.Open(); err != nil {
		return nil, errors.Wrap(err, "open GPIO (are you running on a Raspberry Pi?)")
	}
	log.Debug("GPIO memory mapped")

	return &RPiDriver{
		log:     log,
		pins:    make(map[int]rpio.Pin),
		pwmPins: make(map[int]int),
	}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	p := rpio.Pin(pin)
	r.pins[pin] = p

	switch mode {
	case Input:
		p.Input()
	case Output:
		p.Output()
	default:
		return errors.Errorf("unknown pin mode: %d", mode)
	}
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	p, ok := r.pins[pin]
	if !ok {
		// First write configures the pin as output.
		if err := r.SetupPin(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}

	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

// SetupPWM switches the pin to hardware PWM at the given output
// frequency. Only the Pi's PWM-capable pins (12, 13, 18, 19) work.
func (r *RPiDriver) SetupPWM(pin int, freqHz int) error {
	if freqHz <= 0 {
		return errors.Errorf("pwm frequency must be positive, got %d", freqHz)
	}
	p := rpio.Pin(pin)
	p.Mode(rpio.Pwm)
	p.Freq(freqHz * pwmCycleLen)
	p.DutyCycle(0, pwmCycleLen)
	r.pins[pin] = p
	r.pwmPins[pin] = freqHz
	r.log.Debugw("pwm setup", "pin", pin, "freq_hz", freqHz)
	return nil
}

func (r *RPiDriver) WritePWM(pin int, duty float64) error {
	p, ok := r.pins[pin]
	if !ok {
		return errors.Errorf("pwm pin %d not set up", pin)
	}
	if _, ok := r.pwmPins[pin]; !ok {
		return errors.Errorf("pin %d is not in PWM mode", pin)
	}
	if duty < 0 {
		duty = 0
	}
	if duty > 1 {
		duty = 1
	}
	p.DutyCycle(uint32(duty*pwmCycleLen), pwmCycleLen)
	return nil
}

func (r *RPiDriver) Close() error {
	// Kill PWM output, then reset all pins to input (safe state)
	for pin := range r.pwmPins {
		r.pins[pin].DutyCycle(0, pwmCycleLen)
	}
	for pin, p := range r.pins {
		r.log.Debugw("resetting pin to input", "pin", pin)
		p.Input()
	}
	return rpio.Close()
}
