package adc

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"

	"tvarm/internal/logging"
)

// Conversion parameters. The pots run off the 3.3 V rail; the driver
// picks the smallest full-scale range that covers maxInput. 128 SPS
// keeps a single conversion under 10 ms.
const (
	sampleRate = 128 * physic.Hertz
	maxInput   = 3300 * physic.MilliVolt

	// Anything outside this window is not a pot wiper on a 3.3 V rail;
	// treat it as a bad conversion rather than a position.
	minValidVolts = -0.3
	maxValidVolts = 4.2
)

// ADS1115 reads potentiometer wiper voltages through a TI ADS1115.
// Reads are serialized: the chip has a single multiplexed converter.
type ADS1115 struct {
	mu   sync.Mutex
	bus  i2c.BusCloser
	dev  *ads1x15.Dev
	pins map[int]analog.PinADC
	log  logging.Logger
}

// NewADS1115 opens the I2C bus (empty name = first available) and
// configures the converter at the given address.
func NewADS1115(busName string, addr int, log logging.Logger) (*ADS1115, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "init periph host")
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrap(err, "open i2c bus")
	}
	opts := ads1x15.DefaultOpts
	opts.I2cAddress = uint16(addr)
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		err = multierr.Append(errors.Wrap(err, "init ADS1115"), bus.Close())
		return nil, err
	}
	log.Infow("ADS1115 ready", "bus", busName, "addr", addr)

	return &ADS1115{
		bus:  bus,
		dev:  dev,
		pins: make(map[int]analog.PinADC),
		log:  log,
	}, nil
}

func (a *ADS1115) ReadVoltage(channel int) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pin, err := a.pinFor(channel)
	if err != nil {
		return 0, err
	}
	sample, err := pin.Read()
	if err != nil {
		return 0, errors.Wrapf(err, "read channel %d", channel)
	}
	v := float64(sample.V) / float64(physic.Volt)
	if v < minValidVolts || v > maxValidVolts {
		return 0, errors.Errorf("channel %d voltage out of range: %.3f V", channel, v)
	}
	return v, nil
}

// pinFor lazily configures a single-ended input, mirroring how the
// GPIO driver sets pins up on first use.
func (a *ADS1115) pinFor(channel int) (analog.PinADC, error) {
	if pin, ok := a.pins[channel]; ok {
		return pin, nil
	}
	ch, err := singleEnded(channel)
	if err != nil {
		return nil, err
	}
	pin, err := a.dev.PinForChannel(ch, maxInput, sampleRate, ads1x15.SaveEnergy)
	if err != nil {
		return nil, errors.Wrapf(err, "configure channel %d", channel)
	}
	a.pins[channel] = pin
	return pin, nil
}

func singleEnded(channel int) (ads1x15.Channel, error) {
	switch channel {
	case 0:
		return ads1x15.Channel0, nil
	case 1:
		return ads1x15.Channel1, nil
	case 2:
		return ads1x15.Channel2, nil
	case 3:
		return ads1x15.Channel3, nil
	default:
		return ads1x15.Channel0, errors.Errorf("adc channel must be 0-3, got %d", channel)
	}
}

func (a *ADS1115) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	for _, pin := range a.pins {
		err = multierr.Append(err, pin.Halt())
	}
	return multierr.Append(err, a.bus.Close())
}
