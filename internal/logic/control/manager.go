package control

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"tvarm/internal/logging"
)

// Manager is the command surface over every axis. Commands are
// validated against current state here and queued for the axis loop
// to pick up at its next tick; only the emergency stop touches
// hardware from the caller's goroutine.
type Manager struct {
	store *Store
	axes  map[string]*Axis
	order []string
	log   logging.Logger
}

func NewManager(store *Store, axes []*Axis, log logging.Logger) *Manager {
	m := &Manager{
		store: store,
		axes:  make(map[string]*Axis, len(axes)),
		log:   log,
	}
	for _, a := range axes {
		m.axes[a.name] = a
		m.order = append(m.order, a.name)
	}
	return m
}

// Run drives every axis loop until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, name := range m.order {
		a := m.axes[name]
		g.Go(func() error { return a.Run(ctx) })
	}
	return g.Wait()
}

// Axes returns the axis names in configuration order.
func (m *Manager) Axes() []string {
	return append([]string(nil), m.order...)
}

// Snapshot returns the current view of one axis.
func (m *Manager) Snapshot(axis string) (Snapshot, error) {
	return m.store.Snapshot(axis)
}

// SnapshotAll returns every axis in configuration order.
func (m *Manager) SnapshotAll() []Snapshot {
	return m.store.SnapshotAll()
}

// Subscribe taps the stream of published snapshots.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	return m.store.Subscribe()
}

// SetTarget validates and queues a position command for one axis,
// converging with the configured tolerance and timeout.
func (m *Manager) SetTarget(axis string, percent float64) error {
	return m.Seek(axis, Target{Percent: percent})
}

// Seek queues a fully specified target. Zero tolerance or timeout use
// the configured defaults. A new target always wins: it preempts a
// running seek and clears a latched fault; only a calibration in
// progress refuses it.
func (m *Manager) Seek(axis string, t Target) error {
	a, ok := m.axes[axis]
	if !ok {
		return errors.Wrap(ErrUnknownAxis, axis)
	}
	if math.IsNaN(t.Percent) || math.IsInf(t.Percent, 0) || t.Percent < 0 || t.Percent > 100 {
		return errors.Wrapf(ErrInvalidTarget, "%v", t.Percent)
	}
	if math.IsNaN(t.Tolerance) || t.Tolerance < 0 || t.Tolerance > 50 || t.Timeout < 0 {
		return errors.Wrapf(ErrInvalidTarget, "tolerance %v, timeout %v", t.Tolerance, t.Timeout)
	}
	snap, err := m.store.Snapshot(axis)
	if err != nil {
		return err
	}
	switch {
	case snap.State == Calibrating:
		return errors.Wrap(ErrBusyCalibrating, axis)
	case !snap.Calibrated():
		return errors.Wrap(ErrNotCalibrated, axis)
	}
	a.submit(command{kind: cmdSeek, target: t})
	return nil
}

// SetAll queues the same target for every axis. Axes that cannot
// accept it are reported but do not block the others.
func (m *Manager) SetAll(percent float64) error {
	var errs error
	for _, name := range m.order {
		errs = multierr.Append(errs, m.SetTarget(name, percent))
	}
	return errs
}

// Calibrate queues a calibration run for one axis. Like a target, it
// clears a latched fault; a run already in progress is not restarted.
func (m *Manager) Calibrate(axis string) error {
	a, ok := m.axes[axis]
	if !ok {
		return errors.Wrap(ErrUnknownAxis, axis)
	}
	snap, err := m.store.Snapshot(axis)
	if err != nil {
		return err
	}
	if snap.State == Calibrating {
		return errors.Wrap(ErrBusyCalibrating, axis)
	}
	a.submit(command{kind: cmdCalibrate})
	return nil
}

// CalibrateAll queues calibration for every axis.
func (m *Manager) CalibrateAll() error {
	var errs error
	for _, name := range m.order {
		errs = multierr.Append(errs, m.Calibrate(name))
	}
	return errs
}

// Stop asks one axis to stand down cooperatively: the loop stops the
// drive at its next tick and goes Idle. A faulted axis stays faulted.
func (m *Manager) Stop(axis string) error {
	a, ok := m.axes[axis]
	if !ok {
		return errors.Wrap(ErrUnknownAxis, axis)
	}
	a.submit(command{kind: cmdStop})
	return nil
}

// StopAll queues a cooperative stop for every axis.
func (m *Manager) StopAll() error {
	var errs error
	for _, name := range m.order {
		errs = multierr.Append(errs, m.Stop(name))
	}
	return errs
}

// EmergencyStop cuts every drive on the caller's goroutine and
// latches every axis Faulted. No tick boundary is waited on; the
// latch holds until a fault clear, a new target, or a calibration.
func (m *Manager) EmergencyStop() error {
	var errs error
	for _, name := range m.order {
		if err := m.axes[name].drive.Stop(); err != nil {
			errs = multierr.Append(errs, errors.Wrapf(err, "stop %s", name))
		}
		m.store.Fault(name, FaultEmergencyStop)
	}
	m.log.Warnw("emergency stop engaged")
	return errs
}

// ClearFault releases a latched fault on one axis. Clearing an axis
// that is not faulted is a no-op.
func (m *Manager) ClearFault(axis string) error {
	_, err := m.store.ClearFault(axis)
	if errors.Is(err, ErrNotFaulted) {
		return nil
	}
	if err == nil {
		m.log.Infow("fault cleared", "axis", axis)
	}
	return err
}

// ClearAllFaults releases latched faults on every axis.
func (m *Manager) ClearAllFaults() error {
	var errs error
	for _, name := range m.order {
		errs = multierr.Append(errs, m.ClearFault(name))
	}
	return errs
}

// WaitFor blocks until the axis satisfies pred or ctx expires. The
// current snapshot is checked first, so an already-satisfied
// condition returns without waiting. Because the loop publishes a
// snapshot every tick, pred is re-evaluated continuously.
func (m *Manager) WaitFor(ctx context.Context, axis string, pred func(Snapshot) bool) (Snapshot, error) {
	ch, unsubscribe := m.store.Subscribe()
	defer unsubscribe()

	snap, err := m.store.Snapshot(axis)
	if err != nil {
		return Snapshot{}, err
	}
	if pred(snap) {
		return snap, nil
	}
	for {
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case snap, ok := <-ch:
			if !ok {
				return Snapshot{}, errors.New("state stream closed")
			}
			if snap.Axis == axis && pred(snap) {
				return snap, nil
			}
		}
	}
}
