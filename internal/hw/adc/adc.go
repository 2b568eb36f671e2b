// Package adc abstracts the analog-to-digital converter that reads
// the position potentiometers.
package adc

import (
	"sync"
)

// Reader is the high-level interface used by the rest of the
// application, regardless of the actual converter behind it.
type Reader interface {
	// ReadVoltage performs one conversion on the given channel and
	// returns the measured voltage in volts.
	ReadVoltage(channel int) (float64, error)
	Close() error
}

// Mock is a Reader for development and tests: channels return settable
// voltages, and an error can be injected for every read.
type Mock struct {
	mu    sync.Mutex
	volts map[int]float64
	err   error
}

// NewMock returns a mock reader. Channels that were never set read as
// half rail (1.65 V) so a mock daemon looks parked mid-travel.
func NewMock() *Mock {
	return &Mock{volts: make(map[int]float64)}
}

// SetVoltage sets the voltage returned for a channel.
func (m *Mock) SetVoltage(channel int, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volts[channel] = v
}

// SetError makes every subsequent read fail with err (nil clears).
func (m *Mock) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *Mock) ReadVoltage(channel int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	v, ok := m.volts[channel]
	if !ok {
		return 1.65, nil
	}
	return v, nil
}

func (m *Mock) Close() error { return nil }
