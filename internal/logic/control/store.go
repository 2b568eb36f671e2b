package control

import (
	"sync"

	"github.com/benbjohnson/clock"

	"tvarm/internal/logic/feedback"
)

// subscriberBuffer is how many snapshots a slow subscriber can lag
// before updates are dropped on the floor for it.
const subscriberBuffer = 64

type axisEntry struct {
	mu   sync.Mutex
	snap Snapshot
}

// Store is the authority on axis state. Each axis has its own lock,
// so the two control loops never contend with each other; the axis
// set itself is fixed at construction. Every mutation fans the fresh
// snapshot out to subscribers.
type Store struct {
	clock clock.Clock
	order []string
	axes  map[string]*axisEntry

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

// NewStore builds a store with one entry per axis, all Idle and
// uncalibrated.
func NewStore(axisNames []string, clk clock.Clock) *Store {
	s := &Store{
		clock: clk,
		order: append([]string(nil), axisNames...),
		axes:  make(map[string]*axisEntry, len(axisNames)),
		subs:  make(map[chan Snapshot]struct{}),
	}
	for _, name := range axisNames {
		s.axes[name] = &axisEntry{snap: Snapshot{Axis: name, State: Idle}}
	}
	return s
}

// Axes returns the axis names in configuration order.
func (s *Store) Axes() []string {
	return append([]string(nil), s.order...)
}

// Snapshot returns the current view of one axis.
func (s *Store) Snapshot(axis string) (Snapshot, error) {
	e, ok := s.axes[axis]
	if !ok {
		return Snapshot{}, ErrUnknownAxis
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap, nil
}

// SnapshotAll returns every axis in configuration order.
func (s *Store) SnapshotAll() []Snapshot {
	out := make([]Snapshot, 0, len(s.order))
	for _, name := range s.order {
		snap, err := s.Snapshot(name)
		if err != nil {
			continue
		}
		out = append(out, snap)
	}
	return out
}

// update applies fn to one axis under its lock, stamps the update
// time and fans the result out. The returned snapshot is the
// post-mutation copy.
func (s *Store) update(axis string, fn func(*Snapshot)) (Snapshot, error) {
	e, ok := s.axes[axis]
	if !ok {
		return Snapshot{}, ErrUnknownAxis
	}
	e.mu.Lock()
	fn(&e.snap)
	e.snap.UpdatedAt = s.clock.Now()
	snap := e.snap
	e.mu.Unlock()

	s.notify(snap)
	return snap, nil
}

// SetReading records the latest feedback sample and derives the
// position from it when the axis is calibrated. A zero-time reading
// means the sensor has never produced a value; only the stale flag is
// taken from it, no voltage is fabricated.
func (s *Store) SetReading(axis string, r feedback.Reading) (Snapshot, error) {
	return s.update(axis, func(snap *Snapshot) {
		snap.Stale = r.Stale
		if r.Time.IsZero() {
			return
		}
		snap.Voltage = r.Voltage
		if snap.Calibration != nil {
			snap.Position = snap.Calibration.Percent(r.Voltage)
		}
	})
}

// StartSeek records a commanded target and moves the axis to Seeking.
func (s *Store) StartSeek(axis string, target float64) (Snapshot, error) {
	return s.update(axis, func(snap *Snapshot) {
		t := target
		snap.Target = &t
		snap.State = Seeking
		snap.Fault = FaultNone
		snap.Message = ""
	})
}

// Converge marks a seek as finished. The target stays visible so the
// hub can show what the axis settled on.
func (s *Store) Converge(axis string) (Snapshot, error) {
	return s.update(axis, func(snap *Snapshot) {
		snap.State = Converged
	})
}

// SetIdle moves the axis to Idle and drops any pending target. Used
// for cooperative stops.
func (s *Store) SetIdle(axis string) (Snapshot, error) {
	return s.update(axis, func(snap *Snapshot) {
		snap.State = Idle
		snap.Target = nil
	})
}

// Fault latches the axis Faulted. The target is dropped: whatever
// motion was in flight is over. Faulted does not clear on its own.
func (s *Store) Fault(axis string, reason FaultReason) (Snapshot, error) {
	return s.update(axis, func(snap *Snapshot) {
		snap.State = Faulted
		snap.Fault = reason
		snap.Target = nil
	})
}

// ClearFault releases a latched fault back to Idle. The drive stays
// stopped; clearing only re-opens the command surface.
func (s *Store) ClearFault(axis string) (Snapshot, error) {
	e, ok := s.axes[axis]
	if !ok {
		return Snapshot{}, ErrUnknownAxis
	}
	e.mu.Lock()
	if e.snap.State != Faulted {
		snap := e.snap
		e.mu.Unlock()
		return snap, ErrNotFaulted
	}
	e.snap.State = Idle
	e.snap.Fault = FaultNone
	e.snap.Message = ""
	e.snap.UpdatedAt = s.clock.Now()
	snap := e.snap
	e.mu.Unlock()

	s.notify(snap)
	return snap, nil
}

// StartCalibration moves the axis to Calibrating. Any target is
// dropped; the previous mapping stays in place until a new one is
// validated.
func (s *Store) StartCalibration(axis string) (Snapshot, error) {
	return s.update(axis, func(snap *Snapshot) {
		snap.State = Calibrating
		snap.Target = nil
		snap.Fault = FaultNone
		snap.Message = ""
	})
}

// SetCalibration installs a validated mapping and recomputes the
// position from the last voltage.
func (s *Store) SetCalibration(axis string, m feedback.Mapping) (Snapshot, error) {
	return s.update(axis, func(snap *Snapshot) {
		mc := m
		snap.Calibration = &mc
		snap.Position = mc.Percent(snap.Voltage)
	})
}

// EndCalibration leaves Calibrating without installing a mapping.
// msg says why; the prior mapping, if any, is untouched.
func (s *Store) EndCalibration(axis string, msg string) (Snapshot, error) {
	return s.update(axis, func(snap *Snapshot) {
		snap.State = Idle
		snap.Message = msg
	})
}

// Subscribe returns a channel fed every snapshot the store publishes
// and a function to unsubscribe, which closes the channel. A
// subscriber that stops draining loses updates rather than blocking
// the control loops.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, subscriberBuffer)
	s.subMu.Lock()
	s.subs[ch] = struct{}{}
	s.subMu.Unlock()

	unsubscribe := func() {
		s.subMu.Lock()
		if _, ok := s.subs[ch]; ok {
			delete(s.subs, ch)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, unsubscribe
}

func (s *Store) notify(snap Snapshot) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}
