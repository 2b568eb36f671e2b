package control

import (
	"fmt"
	"time"

	"tvarm/internal/hw/actuator"
	"tvarm/internal/logic/feedback"
)

// CalibrationTuning are the knobs of a calibration run.
type CalibrationTuning struct {
	Speed          float64       // drive speed toward the stops, percent
	SettleWindow   int           // samples in the settle window
	SettleVariance float64       // volts squared; below this the arm is parked
	Timeout        time.Duration // per-extreme deadline
	MinSeparation  float64       // volts; smaller spans are rejected
	Recenter       bool          // seek 50% after a successful run
}

type calPhase int

const (
	calLow calPhase = iota
	calHigh
)

// calibrationRun is the loop-local state of one calibration: which
// extreme is being chased, and the recent voltage window used to
// decide the arm has stopped moving against it.
type calibrationRun struct {
	cfg       CalibrationTuning
	phase     calPhase
	window    []float64
	low       float64
	deadline  time.Time
	commanded bool
}

func newCalibrationRun(cfg CalibrationTuning, now time.Time) *calibrationRun {
	return &calibrationRun{
		cfg:      cfg,
		window:   make([]float64, 0, cfg.SettleWindow),
		deadline: now.Add(cfg.Timeout),
	}
}

func (c *calibrationRun) push(v float64) {
	c.window = append(c.window, v)
	if len(c.window) > c.cfg.SettleWindow {
		c.window = c.window[1:]
	}
}

// settled reports whether the window is full and the voltage has
// stopped moving.
func (c *calibrationRun) settled() bool {
	if len(c.window) < c.cfg.SettleWindow {
		return false
	}
	return variance(c.window) < c.cfg.SettleVariance
}

func (c *calibrationRun) mean() float64 {
	sum := 0.0
	for _, v := range c.window {
		sum += v
	}
	return sum / float64(len(c.window))
}

func (c *calibrationRun) nextPhase(now time.Time) {
	c.phase = calHigh
	c.window = c.window[:0]
	c.deadline = now.Add(c.cfg.Timeout)
	c.commanded = false
}

func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	total := 0.0
	for _, x := range xs {
		d := x - mean
		total += d * d
	}
	return total / float64(len(xs))
}

// tickCalibration advances a calibration run by one tick: push the
// arm toward the current extreme, watch the feedback settle, and
// record the parked voltage. A run that fails in any way leaves the
// prior mapping untouched.
func (a *Axis) tickCalibration(r feedback.Reading, rerr error) {
	c := a.cal
	if c == nil {
		// State says Calibrating but the run is gone; recover.
		a.store.EndCalibration(a.name, "")
		return
	}
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
		return
	}

	now := a.clock.Now()
	if now.After(c.deadline) {
		a.stopDrive()
		a.cal = nil
		a.log.Warnw("calibration timed out", "phase", int(c.phase))
		a.store.EndCalibration(a.name, "calibration timed out before the arm settled")
		return
	}

	if err := a.driveTowardExtreme(c); err != nil {
		a.log.Errorw("calibration drive failed", "error", err)
		a.fault(FaultDriveUnavailable)
		return
	}
	// Stale repeats of the same voltage would fake a settled window;
	// only fresh samples count.
	if !r.Stale {
		c.push(r.Voltage)
	}
	if !c.settled() {
		return
	}

	switch c.phase {
	case calLow:
		c.low = c.mean()
		a.stopDrive()
		a.log.Debugw("low extreme recorded", "voltage", c.low)
		c.nextPhase(now)
	case calHigh:
		high := c.mean()
		a.stopDrive()
		a.cal = nil
		m := feedback.Mapping{MinVoltage: c.low, MaxVoltage: high}
		if !m.Valid(c.cfg.MinSeparation) {
			a.log.Warnw("calibration invalid", "low", c.low, "high", high)
			a.store.EndCalibration(a.name, fmt.Sprintf("calibration invalid: %.3fV to %.3fV is not a usable span", c.low, high))
			return
		}
		a.store.SetCalibration(a.name, m)
		a.log.Infow("calibrated", "low", c.low, "high", high)
		if c.cfg.Recenter {
			a.beginSeek(Target{Percent: 50})
		} else {
			a.store.EndCalibration(a.name, "")
		}
	}
}

// driveTowardExtreme pushes the arm toward the current phase's stop.
// Velocity drives re-issue the command every tick; positioners are
// sent once per phase.
func (a *Axis) driveTowardExtreme(c *calibrationRun) error {
	switch d := a.drive.(type) {
	case actuator.Positioner:
		if c.commanded {
			return nil
		}
		target := 0.0
		if c.phase == calHigh {
			target = 100.0
		}
		if err := d.SetPosition(target); err != nil {
			return err
		}
		c.commanded = true
		a.driving = true
	case actuator.VelocityDriver:
		dir := actuator.Reverse
		if c.phase == calHigh {
			dir = actuator.Forward
		}
		if err := d.Drive(dir, c.cfg.Speed); err != nil {
			return err
		}
		a.driving = true
	}
	return nil
}
