package control

import (
	"context"
	"math"
	"time"

	"github.com/benbjohnson/clock"

	"tvarm/internal/hw/actuator"
	"tvarm/internal/logic/feedback"
	"tvarm/internal/logging"
)

// Tuning are the knobs of one axis's control loop. Speeds and
// tolerance are percent of full scale; Gain converts percent of
// position error into percent of drive speed.
type Tuning struct {
	TickInterval time.Duration
	Tolerance    float64
	SeekTimeout  time.Duration
	StaleTicks   int
	Gain         float64
	MaxSpeed     float64
	MinSpeed     float64
}

// Target is one commanded seek. Zero Tolerance or Timeout fall back
// to the loop's configured defaults.
type Target struct {
	Percent   float64
	Tolerance float64
	Timeout   time.Duration
}

type commandKind int

const (
	cmdSeek commandKind = iota
	cmdStop
	cmdCalibrate
)

type command struct {
	kind   commandKind
	target Target
}

// Axis closes the position loop for one axis. All hardware commands
// are issued from its Run goroutine; outside callers talk to it
// through a one-slot mailbox that is drained at tick boundaries, so a
// tick always runs against a consistent view.
//
// Drive polarity is a wiring convention: Forward must move the axis
// toward the high-voltage end of the potentiometer. If an axis runs
// away from its target, swap the bridge input pins in the config.
type Axis struct {
	name    string
	drive   actuator.Actuator
	sampler *feedback.Sampler
	store   *Store
	tuning  Tuning
	calCfg  CalibrationTuning
	clock   clock.Clock
	log     logging.Logger

	cmds chan command

	// Loop-local bookkeeping, touched only from Run.
	seekTarget    float64
	seekTolerance float64
	seekDeadline  time.Time
	staleRun      int
	positionerSet bool
	driving       bool
	cal           *calibrationRun
}

// NewAxis wires one axis's loop. drive must be an actuator.Positioner
// or an actuator.VelocityDriver; the loop adapts its strategy to
// which one it got.
func NewAxis(name string, drive actuator.Actuator, sampler *feedback.Sampler, store *Store, tuning Tuning, calCfg CalibrationTuning, clk clock.Clock, log logging.Logger) *Axis {
	return &Axis{
		name:    name,
		drive:   drive,
		sampler: sampler,
		store:   store,
		tuning:  tuning,
		calCfg:  calCfg,
		clock:   clk,
		log:     log.With("axis", name),
		cmds:    make(chan command, 1),
	}
}

// submit queues cmd for the next tick. At most one command is ever
// pending: a newer one replaces whatever is waiting.
func (a *Axis) submit(cmd command) {
	for {
		select {
		case a.cmds <- cmd:
			return
		default:
			select {
			case <-a.cmds:
			default:
			}
		}
	}
}

// Run drives the loop until ctx is cancelled. The drive is stopped on
// the way out no matter what state the loop was in.
func (a *Axis) Run(ctx context.Context) error {
	ticker := a.clock.Ticker(a.tuning.TickInterval)
	defer ticker.Stop()
	defer a.stopDrive()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.tick()
		}
	}
}

func (a *Axis) tick() {
	select {
	case cmd := <-a.cmds:
		a.apply(cmd)
	default:
	}

	r, rerr := a.sampler.Latest(a.name)
	snap, err := a.store.SetReading(a.name, r)
	if err != nil {
		return
	}

	switch snap.State {
	case Seeking:
		a.tickSeek(snap, r, rerr)
	case Calibrating:
		a.tickCalibration(r, rerr)
	case Faulted:
		// A fault latched from outside the loop can race one drive
		// command from the previous tick; make sure it did not win.
		if a.driving {
			a.stopDrive()
		}
		a.cal = nil
	}
}

func (a *Axis) apply(cmd command) {
	snap, err := a.store.Snapshot(a.name)
	if err != nil {
		return
	}
	switch cmd.kind {
	case cmdSeek:
		// The manager validated before queueing, but state can move
		// between then and now; re-check what matters. A latched fault
		// does not block the seek: a fresh target is the operator's way
		// out of Faulted.
		if snap.State == Calibrating || !snap.Calibrated() {
			return
		}
		a.beginSeek(cmd.target)
	case cmdStop:
		// Stop cancels motion but never clears a fault.
		a.stopDrive()
		a.cal = nil
		if snap.State != Faulted {
			a.store.SetIdle(a.name)
		}
	case cmdCalibrate:
		if snap.State == Calibrating {
			return
		}
		a.stopDrive()
		a.staleRun = 0
		a.cal = newCalibrationRun(a.calCfg, a.clock.Now())
		a.store.StartCalibration(a.name)
		a.log.Infow("calibration started")
	}
}

func (a *Axis) beginSeek(t Target) {
	a.seekTarget = t.Percent
	a.seekTolerance = t.Tolerance
	if a.seekTolerance <= 0 {
		a.seekTolerance = a.tuning.Tolerance
	}
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = a.tuning.SeekTimeout
	}
	a.seekDeadline = a.clock.Now().Add(timeout)
	a.staleRun = 0
	a.positionerSet = false
	a.store.StartSeek(a.name, t.Percent)
	a.log.Infow("seek started", "target", t.Percent, "tolerance", a.seekTolerance)
}

func (a *Axis) tickSeek(snap Snapshot, r feedback.Reading, rerr error) {
	if r.Stale {
		a.staleRun++
		if a.staleRun >= a.tuning.StaleTicks {
			a.fault(FaultFeedbackLost)
			return
		}
	} else {
		a.staleRun = 0
	}
	if rerr != nil {
		// No sample has ever landed, so there is nothing to steer
		// by. The escalation above faults the axis if this keeps up.
		return
	}

	posErr := a.seekTarget - snap.Position
	if math.Abs(posErr) <= a.seekTolerance {
		a.converge()
		return
	}
	if a.clock.Now().After(a.seekDeadline) {
		a.log.Warnw("seek timed out", "target", a.seekTarget, "position", snap.Position)
		a.fault(FaultSeekTimeout)
		return
	}

	switch d := a.drive.(type) {
	case actuator.Positioner:
		// The positioner holds the target on its own; command it once
		// and let the feedback confirm arrival.
		if !a.positionerSet {
			if err := d.SetPosition(a.seekTarget); err != nil {
				a.log.Errorw("position command failed", "error", err)
				a.fault(FaultDriveUnavailable)
				return
			}
			a.positionerSet = true
			a.driving = true
		}
	case actuator.VelocityDriver:
		dir := actuator.Forward
		if posErr < 0 {
			dir = actuator.Reverse
		}
		if err := d.Drive(dir, a.speedFor(posErr)); err != nil {
			a.log.Errorw("drive command failed", "error", err)
			a.fault(FaultDriveUnavailable)
			return
		}
		a.driving = true
	}
}

// speedFor scales drive speed with distance, clamped so the motor
// neither stalls just outside tolerance nor slams across the whole
// travel.
func (a *Axis) speedFor(posErr float64) float64 {
	speed := a.tuning.Gain * math.Abs(posErr)
	if speed > a.tuning.MaxSpeed {
		speed = a.tuning.MaxSpeed
	}
	if speed < a.tuning.MinSpeed {
		speed = a.tuning.MinSpeed
	}
	return speed
}

func (a *Axis) converge() {
	// If the drive never ran this seek, the axis was already in
	// tolerance; finishing without a single drive command is the
	// point.
	if a.driving {
		if err := a.drive.Stop(); err != nil {
			a.log.Errorw("stop on convergence failed", "error", err)
			a.fault(FaultDriveUnavailable)
			return
		}
		a.driving = false
	}
	a.store.Converge(a.name)
	a.log.Infow("converged", "target", a.seekTarget)
}

// fault stops the drive once and latches Faulted. The latch holds
// until an operator clears it or issues a new target or calibration.
func (a *Axis) fault(reason FaultReason) {
	a.stopDrive()
	a.cal = nil
	a.store.Fault(a.name, reason)
	a.log.Warnw("faulted", "reason", string(reason))
}

func (a *Axis) stopDrive() {
	if err := a.drive.Stop(); err != nil {
		a.log.Errorw("stop failed", "error", err)
	}
	a.driving = false
}
