package feedback

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"tvarm/internal/hw/adc"
	"tvarm/internal/logging"
)

// ErrSensorUnavailable means an axis has no feedback sample at all:
// the ADC has never completed a conversion for it, or the axis was
// never assigned a channel.
var ErrSensorUnavailable = errors.New("feedback sensor unavailable")

// Reading is one feedback sample. Stale means the value is older than
// the freshness window; the last known-good voltage is still carried
// so callers can decide whether to keep trusting it.
type Reading struct {
	Voltage float64
	Time    time.Time
	Stale   bool
}

// Sampler polls the ADC in the background and hands out the most
// recent voltage per axis. All hardware access happens on the
// sampler's own goroutine, one read attempt per axis per cycle with
// no retries. Latest never touches hardware and never blocks.
type Sampler struct {
	adc        adc.Reader
	channels   map[string]int
	interval   time.Duration
	staleAfter time.Duration
	clock      clock.Clock
	log        logging.Logger

	mu       sync.RWMutex
	readings map[string]Reading

	lastErr atomic.Error

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSampler builds a sampler for the given axis name to ADC channel
// assignment. Call Start to begin polling.
func NewSampler(r adc.Reader, channels map[string]int, interval, staleAfter time.Duration, clk clock.Clock, log logging.Logger) *Sampler {
	return &Sampler{
		adc:        r,
		channels:   channels,
		interval:   interval,
		staleAfter: staleAfter,
		clock:      clk,
		log:        log,
		readings:   make(map[string]Reading, len(channels)),
	}
}

// Start runs one synchronous sweep so a reading is available right
// away, then keeps sampling in the background until ctx is cancelled
// or Close is called.
func (s *Sampler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	ticker := s.clock.Ticker(s.interval)
	s.sampleAll()
	go s.run(ctx, ticker)
}

func (s *Sampler) run(ctx context.Context, ticker *clock.Ticker) {
	defer close(s.done)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sampleAll()
		}
	}
}

// sampleAll reads every axis once. A failed read leaves that axis's
// previous reading in place to age out naturally.
func (s *Sampler) sampleAll() {
	var sweepErr error
	for name, ch := range s.channels {
		v, err := s.adc.ReadVoltage(ch)
		if err != nil {
			sweepErr = multierr.Append(sweepErr, errors.Wrapf(err, "axis %s", name))
			s.log.Debugw("sample failed", "axis", name, "channel", ch, "error", err)
			continue
		}
		s.mu.Lock()
		s.readings[name] = Reading{Voltage: v, Time: s.clock.Now()}
		s.mu.Unlock()
	}
	s.lastErr.Store(sweepErr)
}

// Latest returns the freshest sample for the axis. A reading older
// than the freshness window comes back with Stale set. An axis that
// has never produced one has nothing to return, not even a stale
// value: that is ErrSensorUnavailable.
func (s *Sampler) Latest(axis string) (Reading, error) {
	s.mu.RLock()
	r, ok := s.readings[axis]
	s.mu.RUnlock()
	if !ok {
		return Reading{Stale: true}, errors.Wrap(ErrSensorUnavailable, axis)
	}
	if s.clock.Now().Sub(r.Time) > s.staleAfter {
		r.Stale = true
	}
	return r, nil
}

// LastError reports what failed during the most recent sweep, nil
// when it was clean.
func (s *Sampler) LastError() error {
	return s.lastErr.Load()
}

// Close stops the background loop and waits for it to exit. The last
// readings stay readable.
func (s *Sampler) Close() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}
