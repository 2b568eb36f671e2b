// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxConfigFileBytes caps the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// LogConfig controls the logger.
type LogConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: info)
}

// ADCConfig describes the I2C ADC shared by all axes.
type ADCConfig struct {
	I2CBus  string `yaml:"i2c_bus"`  // bus name; empty = first available
	I2CAddr int    `yaml:"i2c_addr"` // device address (default 0x48)
}

// HardwareConfig selects real or mock hardware backends.
type HardwareConfig struct {
	MockGPIO bool      `yaml:"mock_gpio"` // log pin writes instead of driving them
	MockADC  bool      `yaml:"mock_adc"`  // synthesize readings instead of using the ADS1115
	ADC      ADCConfig `yaml:"adc"`
}

// CalibrationValues is an optional bootstrap mapping for one axis,
// typically pasted from the output of a -calibrate run.
type CalibrationValues struct {
	MinVoltage float64 `yaml:"min_voltage"` // feedback voltage at 0%
	MaxVoltage float64 `yaml:"max_voltage"` // feedback voltage at 100%
}

// ActuatorConfig describes how one axis is driven.
// Type selects a concrete implementation ("dcmotor" or "servo").
type ActuatorConfig struct {
	Type string `yaml:"type"` // "dcmotor" or "servo"

	// dcmotor (TB6612FNG channel)
	IN1Pin     int `yaml:"in1_pin"`     // direction input 1 (BCM)
	IN2Pin     int `yaml:"in2_pin"`     // direction input 2 (BCM)
	PWMPin     int `yaml:"pwm_pin"`     // speed PWM (must be a hardware PWM pin)
	StandbyPin int `yaml:"standby_pin"` // STBY (BCM). 0 = not wired. May be shared between axes.

	// servo
	Pin        int `yaml:"pin"`          // signal pin (must be a hardware PWM pin)
	MinPulseUs int `yaml:"min_pulse_us"` // pulse width at 0% (default 1000)
	MaxPulseUs int `yaml:"max_pulse_us"` // pulse width at 100% (default 2000)

	PWMFreqHz int `yaml:"pwm_freq_hz"` // default 1000 for dcmotor, 50 for servo
}

// AxisConfig binds one actuator/sensor pair under a name.
type AxisConfig struct {
	Name        string             `yaml:"name"`        // e.g. "x", "y"
	ADCChannel  int                `yaml:"adc_channel"` // ADS1115 single-ended channel (0-3)
	Actuator    ActuatorConfig     `yaml:"actuator"`
	Calibration *CalibrationValues `yaml:"calibration,omitempty"` // optional
}

// ControlConfig tunes the per-axis control loops.
type ControlConfig struct {
	TickIntervalMs   int     `yaml:"tick_interval_ms"`   // control loop period (default 100)
	SampleIntervalMs int     `yaml:"sample_interval_ms"` // ADC sampling period (default 20)
	StaleAfterMs     int     `yaml:"stale_after_ms"`     // reading age before it counts as stale (default 150)
	StaleTicks       int     `yaml:"stale_ticks"`        // consecutive stale ticks before faulting (default 5)
	TolerancePercent float64 `yaml:"tolerance_percent"`  // default convergence tolerance (default 2)
	SeekTimeoutMs    int     `yaml:"seek_timeout_ms"`    // default seek timeout (default 30000)
	Gain             float64 `yaml:"gain"`               // speed percent per percent of error (default 3)
	MaxSpeedPercent  float64 `yaml:"max_speed_percent"`  // speed cap for seeks (default 80)
	MinSpeedPercent  float64 `yaml:"min_speed_percent"`  // stiction floor for DC motors (default 12)
}

// CalibrationConfig tunes the calibration procedure.
type CalibrationConfig struct {
	SpeedPercent   float64 `yaml:"speed_percent"`    // drive speed toward the limits (default 40)
	SettleWindow   int     `yaml:"settle_window"`    // samples in the stability window (default 12)
	SettleVariance float64 `yaml:"settle_variance"`  // max variance, volts squared (default 0.0005)
	TimeoutMs      int     `yaml:"timeout_ms"`       // per-phase timeout (default 20000)
	MinSeparationV float64 `yaml:"min_separation_v"` // required span between extremes (default 0.25)
	Recenter       *bool   `yaml:"recenter"`         // move to 50% after success (default true)
}

// MQTTConfig configures the Home Assistant adapter.
// An empty broker disables MQTT entirely.
type MQTTConfig struct {
	Broker            string `yaml:"broker"`              // e.g. "tcp://192.168.1.10:1883"
	ClientID          string `yaml:"client_id"`           // default "tvarm"
	Username          string `yaml:"username"`
	Password          string `yaml:"password"`
	TopicPrefix       string `yaml:"topic_prefix"`        // default "tvarm"
	DiscoveryPrefix   string `yaml:"discovery_prefix"`    // default "homeassistant"
	DeviceName        string `yaml:"device_name"`         // default "TV Arm"
	CoverDeviceClass  string `yaml:"cover_device_class"`  // default "awning"
	PublishIntervalMs int    `yaml:"publish_interval_ms"` // status publish period (default 1000)
}

// WebConfig configures the embedded web UI.
type WebConfig struct {
	Port int `yaml:"port"` // 0 = disabled
}

// Config is the whole daemon configuration as loaded from YAML.
type Config struct {
	Log         LogConfig         `yaml:"log"`
	Hardware    HardwareConfig    `yaml:"hardware"`
	Axes        []AxisConfig      `yaml:"axes"`
	Control     ControlConfig     `yaml:"control"`
	Calibration CalibrationConfig `yaml:"calibration"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	Web         WebConfig         `yaml:"web"`
}

// ValidateConfigPath checks that path points at a .yaml file inside a
// configs/ directory, which is where deployments keep their files.
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	if filepath.Ext(path) != ".yaml" {
		return fmt.Errorf("config file must have a .yaml extension: %s", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config file must live in a configs/ directory: %s", path)
	}
	return nil
}

// Load reads a YAML file, applies defaults and returns the configuration.
func Load(path string) (*Config, error) {
	if err := ValidateConfigPath(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Axes) == 0 {
		return fmt.Errorf("at least one axis must be configured")
	}
	seen := make(map[string]bool, len(c.Axes))
	for i := range c.Axes {
		ax := &c.Axes[i]
		if ax.Name == "" {
			return fmt.Errorf("axes[%d]: name is required", i)
		}
		if seen[ax.Name] {
			return fmt.Errorf("duplicate axis name %q", ax.Name)
		}
		seen[ax.Name] = true
		if ax.ADCChannel < 0 || ax.ADCChannel > 3 {
			return fmt.Errorf("axis %q: adc_channel must be 0-3, got %d", ax.Name, ax.ADCChannel)
		}
		if err := ax.Actuator.validate(ax.Name); err != nil {
			return err
		}
		if cal := ax.Calibration; cal != nil {
			if cal.MinVoltage >= cal.MaxVoltage {
				return fmt.Errorf("axis %q: calibration min_voltage must be below max_voltage, got %.3f >= %.3f",
					ax.Name, cal.MinVoltage, cal.MaxVoltage)
			}
		}
	}

	if c.Hardware.ADC.I2CAddr == 0 {
		c.Hardware.ADC.I2CAddr = 0x48 // ADDR pin to ground
	}
	if c.Hardware.ADC.I2CAddr < 0x48 || c.Hardware.ADC.I2CAddr > 0x4b {
		return fmt.Errorf("hardware.adc.i2c_addr must be 0x48-0x4b, got %#x", c.Hardware.ADC.I2CAddr)
	}

	if err := c.Control.validate(); err != nil {
		return err
	}
	if err := c.Calibration.validate(); err != nil {
		return err
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "tvarm"
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = "tvarm"
	}
	if c.MQTT.DiscoveryPrefix == "" {
		c.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "TV Arm"
	}
	if c.MQTT.CoverDeviceClass == "" {
		c.MQTT.CoverDeviceClass = "awning"
	}
	if c.MQTT.PublishIntervalMs <= 0 {
		c.MQTT.PublishIntervalMs = 1000
	}

	if c.Web.Port < 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port must be 0-65535, got %d", c.Web.Port)
	}
	return nil
}

func (a *ActuatorConfig) validate(axis string) error {
	switch a.Type {
	case "dcmotor":
		if a.IN1Pin <= 0 || a.IN2Pin <= 0 || a.PWMPin <= 0 {
			return fmt.Errorf("axis %q: dcmotor needs in1_pin, in2_pin and pwm_pin", axis)
		}
		if a.IN1Pin == a.IN2Pin {
			return fmt.Errorf("axis %q: in1_pin and in2_pin must differ", axis)
		}
		if a.PWMFreqHz <= 0 {
			a.PWMFreqHz = 1000 // quiet enough, fast enough for an H-bridge
		}
	case "servo":
		if a.Pin <= 0 {
			return fmt.Errorf("axis %q: servo needs a pin", axis)
		}
		if a.MinPulseUs <= 0 {
			a.MinPulseUs = 1000
		}
		if a.MaxPulseUs <= 0 {
			a.MaxPulseUs = 2000
		}
		if a.MinPulseUs >= a.MaxPulseUs {
			return fmt.Errorf("axis %q: min_pulse_us must be below max_pulse_us, got %d >= %d",
				axis, a.MinPulseUs, a.MaxPulseUs)
		}
		if a.PWMFreqHz <= 0 {
			a.PWMFreqHz = 50 // standard hobby servo frame rate
		}
	case "":
		return fmt.Errorf("axis %q: actuator.type is required", axis)
	default:
		return fmt.Errorf("axis %q: unsupported actuator type: %s", axis, a.Type)
	}
	return nil
}

func (c *ControlConfig) validate() error {
	if c.TickIntervalMs <= 0 {
		c.TickIntervalMs = 100 // 10 Hz
	}
	if c.SampleIntervalMs <= 0 {
		c.SampleIntervalMs = 20
	}
	if c.StaleAfterMs <= 0 {
		c.StaleAfterMs = 150
	}
	if c.StaleTicks <= 0 {
		c.StaleTicks = 5
	}
	if c.TolerancePercent == 0 {
		c.TolerancePercent = 2
	}
	if c.TolerancePercent < 0 || c.TolerancePercent > 50 {
		return fmt.Errorf("control.tolerance_percent must be between 0 and 50, got %.2f", c.TolerancePercent)
	}
	if c.SeekTimeoutMs <= 0 {
		c.SeekTimeoutMs = 30000
	}
	if c.Gain == 0 {
		c.Gain = 3.0
	}
	if c.Gain < 0 {
		return fmt.Errorf("control.gain must be positive, got %.2f", c.Gain)
	}
	if c.MaxSpeedPercent == 0 {
		c.MaxSpeedPercent = 80
	}
	if c.MaxSpeedPercent < 0 || c.MaxSpeedPercent > 100 {
		return fmt.Errorf("control.max_speed_percent must be between 0 and 100, got %.2f", c.MaxSpeedPercent)
	}
	if c.MinSpeedPercent == 0 {
		c.MinSpeedPercent = 12
	}
	if c.MinSpeedPercent < 0 || c.MinSpeedPercent >= c.MaxSpeedPercent {
		return fmt.Errorf("control.min_speed_percent must be below max_speed_percent, got %.2f", c.MinSpeedPercent)
	}
	return nil
}

func (c *CalibrationConfig) validate() error {
	if c.SpeedPercent == 0 {
		c.SpeedPercent = 40
	}
	if c.SpeedPercent < 0 || c.SpeedPercent > 100 {
		return fmt.Errorf("calibration.speed_percent must be between 0 and 100, got %.2f", c.SpeedPercent)
	}
	if c.SettleWindow == 0 {
		c.SettleWindow = 12
	}
	if c.SettleWindow < 3 {
		return fmt.Errorf("calibration.settle_window must be at least 3, got %d", c.SettleWindow)
	}
	if c.SettleVariance == 0 {
		c.SettleVariance = 0.0005
	}
	if c.SettleVariance < 0 {
		return fmt.Errorf("calibration.settle_variance must be positive, got %g", c.SettleVariance)
	}
	if c.TimeoutMs <= 0 {
		c.TimeoutMs = 20000
	}
	if c.MinSeparationV == 0 {
		c.MinSeparationV = 0.25
	}
	if c.MinSeparationV < 0 {
		return fmt.Errorf("calibration.min_separation_v must be positive, got %g", c.MinSeparationV)
	}
	return nil
}

// TickInterval returns the control loop period.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Control.TickIntervalMs) * time.Millisecond
}

// SampleInterval returns the ADC sampling period.
func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.Control.SampleIntervalMs) * time.Millisecond
}

// StaleAfter returns the age past which a reading counts as stale.
func (c *Config) StaleAfter() time.Duration {
	return time.Duration(c.Control.StaleAfterMs) * time.Millisecond
}

// SeekTimeout returns the default per-target timeout.
func (c *Config) SeekTimeout() time.Duration {
	return time.Duration(c.Control.SeekTimeoutMs) * time.Millisecond
}

// CalibrationTimeout returns the per-phase calibration timeout.
func (c *Config) CalibrationTimeout() time.Duration {
	return time.Duration(c.Calibration.TimeoutMs) * time.Millisecond
}

// PublishInterval returns the MQTT status publish period.
func (c *Config) PublishInterval() time.Duration {
	return time.Duration(c.MQTT.PublishIntervalMs) * time.Millisecond
}

// RecenterAfterCalibration reports whether a successful calibration
// should finish by seeking to 50%.
func (c *Config) RecenterAfterCalibration() bool {
	if c.Calibration.Recenter == nil {
		return true
	}
	return *c.Calibration.Recenter
}

// MinPulse returns the servo pulse width at 0%.
func (a *ActuatorConfig) MinPulse() time.Duration {
	return time.Duration(a.MinPulseUs) * time.Microsecond
}

// MaxPulse returns the servo pulse width at 100%.
func (a *ActuatorConfig) MaxPulse() time.Duration {
	return time.Duration(a.MaxPulseUs) * time.Microsecond
}

// AxisNames returns the configured axis names in order.
func (c *Config) AxisNames() []string {
	names := make([]string, len(c.Axes))
	for i := range c.Axes {
		names[i] = c.Axes[i].Name
	}
	return names
}
