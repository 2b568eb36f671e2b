package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"tvarm/internal/config"
	"tvarm/internal/ha"
	"tvarm/internal/hw/actuator"
	"tvarm/internal/hw/adc"
	"tvarm/internal/hw/gpio"
	"tvarm/internal/logging"
	"tvarm/internal/logic/control"
	"tvarm/internal/logic/feedback"
	"tvarm/internal/web"
)

// version is stamped by the build: -ldflags "-X main.version=v1.2.3".
var version = "dev"

func main() {
	// CLI flags
	var webPort webFlag
	flag.Var(&webPort, "web", "web dashboard port, overriding the config file (-web= for 8080)")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	mock := flag.Bool("mock", false, "force mock GPIO and ADC (development mode)")
	calibrate := flag.String("calibrate", "", "calibrate one axis (or \"all\"), print the config snippet and exit")
	selftest := flag.Bool("selftest", false, "drive every axis through both limits and the midpoint, then exit")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("tvarmd %s\n", version)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	if *mock {
		cfg.Hardware.MockGPIO = true
		cfg.Hardware.MockADC = true
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("init logging failed: %v", err)
	}
	defer logger.Sync()

	logger.Infow("starting tvarmd",
		"version", version,
		"config", *cfgPath,
		"axes", cfg.AxisNames(),
		"mock_gpio", cfg.Hardware.MockGPIO,
		"mock_adc", cfg.Hardware.MockADC,
	)

	// Hardware
	gpioDriver, err := gpio.NewDriver(cfg.Hardware.MockGPIO, logger.Named("gpio"))
	if err != nil {
		logger.Fatalw("gpio init failed", "error", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			logger.Errorw("closing gpio driver", "error", err)
		}
	}()

	adcReader, err := newADCFromConfig(cfg, logger.Named("adc"))
	if err != nil {
		logger.Fatalw("adc init failed", "error", err)
	}
	defer func() {
		if err := adcReader.Close(); err != nil {
			logger.Errorw("closing adc", "error", err)
		}
	}()

	clk := clock.New()

	// Feedback sampling
	channels := make(map[string]int, len(cfg.Axes))
	for _, ax := range cfg.Axes {
		channels[ax.Name] = ax.ADCChannel
	}
	sampler := feedback.NewSampler(adcReader, channels, cfg.SampleInterval(), cfg.StaleAfter(), clk, logger.Named("sampler"))
	sampler.Start(ctx)
	defer sampler.Close()

	// Axis state, bootstrapped with any mappings from the config file
	store := control.NewStore(cfg.AxisNames(), clk)
	for _, ax := range cfg.Axes {
		if ax.Calibration == nil {
			continue
		}
		m := feedback.Mapping{MinVoltage: ax.Calibration.MinVoltage, MaxVoltage: ax.Calibration.MaxVoltage}
		if _, err := store.SetCalibration(ax.Name, m); err != nil {
			logger.Fatalw("bootstrap calibration failed", "axis", ax.Name, "error", err)
		}
		logger.Infow("calibration loaded from config", "axis", ax.Name, "min_v", m.MinVoltage, "max_v", m.MaxVoltage)
	}

	tuning := control.Tuning{
		TickInterval: cfg.TickInterval(),
		Tolerance:    cfg.Control.TolerancePercent,
		SeekTimeout:  cfg.SeekTimeout(),
		StaleTicks:   cfg.Control.StaleTicks,
		Gain:         cfg.Control.Gain,
		MaxSpeed:     cfg.Control.MaxSpeedPercent,
		MinSpeed:     cfg.Control.MinSpeedPercent,
	}
	calTuning := control.CalibrationTuning{
		Speed:          cfg.Calibration.SpeedPercent,
		SettleWindow:   cfg.Calibration.SettleWindow,
		SettleVariance: cfg.Calibration.SettleVariance,
		Timeout:        cfg.CalibrationTimeout(),
		MinSeparation:  cfg.Calibration.MinSeparationV,
		Recenter:       cfg.RecenterAfterCalibration(),
	}

	axes := make([]*control.Axis, 0, len(cfg.Axes))
	for _, ax := range cfg.Axes {
		drive, err := newActuatorFromConfig(gpioDriver, ax.Actuator, logger.Named("actuator"))
		if err != nil {
			logger.Fatalw("actuator init failed", "axis", ax.Name, "error", err)
		}
		axes = append(axes, control.NewAxis(ax.Name, drive, sampler, store, tuning, calTuning, clk, logger.Named("axis")))
	}
	mgr := control.NewManager(store, axes, logger.Named("control"))

	// One-shot modes
	if *calibrate != "" {
		if err := runCalibration(ctx, mgr, *calibrate, logger); err != nil {
			logger.Fatalw("calibration failed", "error", err)
		}
		return
	}
	if *selftest {
		if err := runSelfTest(ctx, mgr, logger); err != nil {
			logger.Fatalw("self-test failed", "error", err)
		}
		return
	}

	// Daemon mode
	g, runCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return mgr.Run(runCtx) })

	if cfg.MQTT.Broker != "" {
		adapter := ha.NewAdapter(ha.Config{
			Broker:          cfg.MQTT.Broker,
			ClientID:        cfg.MQTT.ClientID,
			Username:        cfg.MQTT.Username,
			Password:        cfg.MQTT.Password,
			TopicPrefix:     cfg.MQTT.TopicPrefix,
			DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix,
			DeviceName:      cfg.MQTT.DeviceName,
			DeviceClass:     cfg.MQTT.CoverDeviceClass,
			PublishInterval: cfg.PublishInterval(),
		}, mgr, clk, logger.Named("mqtt"))
		g.Go(func() error { return adapter.Run(runCtx) })
	} else {
		logger.Infow("mqtt disabled (no broker configured)")
	}

	port := cfg.Web.Port
	if webPort.port > 0 {
		port = webPort.port
	}
	if port > 0 {
		srv, err := web.NewServer(port, mgr, logger.Named("web"))
		if err != nil {
			logger.Fatalw("web server init failed", "error", err)
		}
		g.Go(func() error { return srv.Run(runCtx) })
	}

	// Axis loops stop their drives on the way out, so by the time Wait
	// returns the motors are parked and the deferred driver closes are
	// safe.
	if err := g.Wait(); err != nil {
		logger.Fatalw("daemon failed", "error", err)
	}
	logger.Infow("shutdown complete")
}

// runCalibration calibrates the named axis (or all of them, one at a
// time) and prints a YAML snippet ready to paste into the config file.
func runCalibration(ctx context.Context, mgr *control.Manager, target string, log logging.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return mgr.Run(runCtx) })
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	names := []string{target}
	if target == "all" {
		names = mgr.Axes()
	}

	var snippets []string
	for _, name := range names {
		log.Infow("calibrating", "axis", name)
		if err := mgr.Calibrate(name); err != nil {
			return errors.Wrapf(err, "start calibration for %s", name)
		}
		if _, err := mgr.WaitFor(runCtx, name, func(s control.Snapshot) bool {
			return s.State == control.Calibrating
		}); err != nil {
			return errors.Wrapf(err, "wait for %s calibration to start", name)
		}
		snap, err := mgr.WaitFor(runCtx, name, func(s control.Snapshot) bool {
			return s.State != control.Calibrating
		})
		if err != nil {
			return errors.Wrapf(err, "wait for %s calibration to finish", name)
		}

		if snap.State == control.Faulted {
			return errors.Errorf("axis %s faulted during calibration: %s", name, snap.Fault)
		}
		if snap.Message != "" {
			return errors.Wrapf(control.ErrCalibrationInvalid, "axis %s: %s", name, snap.Message)
		}
		if snap.Calibration == nil {
			return errors.Errorf("axis %s finished calibration without a mapping", name)
		}
		log.Infow("calibrated", "axis", name, "min_v", snap.Calibration.MinVoltage, "max_v", snap.Calibration.MaxVoltage)

		snippet, err := calibrationSnippet(name, *snap.Calibration)
		if err != nil {
			return err
		}
		snippets = append(snippets, snippet)
	}

	fmt.Println("# paste into the matching axes entries of the config file:")
	for _, s := range snippets {
		fmt.Print(s)
	}
	return nil
}

// calibrationSnippet renders a mapping with the same YAML shape the
// config loader reads back.
func calibrationSnippet(axis string, m feedback.Mapping) (string, error) {
	doc := struct {
		Calibration config.CalibrationValues `yaml:"calibration"`
	}{
		Calibration: config.CalibrationValues{MinVoltage: m.MinVoltage, MaxVoltage: m.MaxVoltage},
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", errors.Wrap(err, "marshal calibration snippet")
	}
	return fmt.Sprintf("# axis %s\n%s", axis, out), nil
}

// selftestTargets visits both travel limits before parking in the
// middle.
var selftestTargets = []float64{0, 100, 50}

// runSelfTest commands every axis through the self-test targets and
// checks each one converges.
func runSelfTest(ctx context.Context, mgr *control.Manager, log logging.Logger) error {
	runCtx, cancel := context.WithCancel(ctx)
	g, runCtx := errgroup.WithContext(runCtx)
	g.Go(func() error { return mgr.Run(runCtx) })
	defer func() {
		cancel()
		_ = g.Wait()
	}()

	for _, target := range selftestTargets {
		for _, name := range mgr.Axes() {
			if err := mgr.SetTarget(name, target); err != nil {
				return errors.Wrapf(err, "set %s to %.0f%%", name, target)
			}
		}
		for _, name := range mgr.Axes() {
			snap, err := mgr.WaitFor(runCtx, name, func(s control.Snapshot) bool {
				return s.State == control.Faulted ||
					(s.State == control.Converged && s.TargetOr(-1) == target)
			})
			if err != nil {
				return errors.Wrapf(err, "wait for %s at %.0f%%", name, target)
			}
			if snap.State == control.Faulted {
				return errors.Errorf("axis %s faulted at %.0f%%: %s", name, target, snap.Fault)
			}
			log.Infow("self-test converged", "axis", name, "target", target, "position", snap.Position)
		}
	}
	log.Infow("self-test passed")
	return nil
}

// newADCFromConfig selects the feedback ADC backend.
func newADCFromConfig(cfg *config.Config, log logging.Logger) (adc.Reader, error) {
	if cfg.Hardware.MockADC {
		log.Info("using mock ADC (development mode)")
		return adc.NewMock(), nil
	}
	return adc.NewADS1115(cfg.Hardware.ADC.I2CBus, cfg.Hardware.ADC.I2CAddr, log)
}

// newActuatorFromConfig selects a drive implementation for one axis.
func newActuatorFromConfig(g gpio.Driver, cfg config.ActuatorConfig, log logging.Logger) (actuator.Actuator, error) {
	switch cfg.Type {
	case "dcmotor":
		return actuator.NewDCMotor(g, actuator.DCMotorConfig{
			IN1Pin:     cfg.IN1Pin,
			IN2Pin:     cfg.IN2Pin,
			PWMPin:     cfg.PWMPin,
			StandbyPin: cfg.StandbyPin,
			PWMFreqHz:  cfg.PWMFreqHz,
		}, log)
	case "servo":
		return actuator.NewServo(g, actuator.ServoConfig{
			Pin:       cfg.Pin,
			MinPulse:  cfg.MinPulse(),
			MaxPulse:  cfg.MaxPulse(),
			PWMFreqHz: cfg.PWMFreqHz,
		}, log)
	default:
		return nil, errors.Errorf("unsupported actuator type: %s", cfg.Type)
	}
}

// webFlag overrides web.port from the config file: -web=9090 picks a
// port, a bare -web= turns the dashboard on at the default port, and
// leaving the flag off keeps whatever the file says.
type webFlag struct {
	port int // 0 until Set is called
}

const defaultWebPort = 8080

func (f *webFlag) String() string {
	if f.port == 0 {
		return ""
	}
	return strconv.Itoa(f.port)
}

func (f *webFlag) Set(s string) error {
	if s == "" {
		f.port = defaultWebPort
		return nil
	}
	p, err := strconv.ParseUint(s, 10, 16)
	if err != nil || p == 0 {
		return errors.Errorf("bad web port %q (want 1-65535)", s)
	}
	f.port = int(p)
	return nil
}
