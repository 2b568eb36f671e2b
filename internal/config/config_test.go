package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ---------- config path checks ----------

func TestValidateConfigPath(t *testing.T) {
	cases := []struct {
		name string
		path string
		ok   bool
	}{
		{"relative under configs", filepath.Join("configs", "default.yaml"), true},
		{"absolute under configs", filepath.Join(t.TempDir(), "configs", "prod.yaml"), true},
		{"empty", "", false},
		{"traversal", filepath.Join("..", "..", "etc", "passwd"), false},
		{"traversal ending in yaml", filepath.Join("configs", "..", "..", "etc", "evil.yaml"), false},
		{"json extension", filepath.Join("configs", "default.json"), false},
		{"yml shorthand", filepath.Join("configs", "default.yml"), false},
		{"no extension", filepath.Join("configs", "default"), false},
		{"sibling directory", filepath.Join("other", "default.yaml"), false},
		{"bare file", "default.yaml", false},
		{"outside configs", "/tmp/default.yaml", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateConfigPath(tc.path)
			if tc.ok && err != nil {
				t.Errorf("ValidateConfigPath(%q) = %v, want nil", tc.path, err)
			}
			if !tc.ok && err == nil {
				t.Errorf("ValidateConfigPath(%q) accepted, want error", tc.path)
			}
		})
	}
}

// ---------- Load ----------

// writeConfig puts content in a throwaway configs/ dir and hands back
// a path Load will accept.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
log:
  level: "debug"
hardware:
  mock_gpio: true
  mock_adc: true
  adc:
    i2c_addr: 0x48
axes:
  - name: "x"
    adc_channel: 0
    actuator:
      type: "dcmotor"
      in1_pin: 17
      in2_pin: 27
      pwm_pin: 18
      standby_pin: 22
    calibration:
      min_voltage: 0.12
      max_voltage: 3.20
  - name: "y"
    adc_channel: 1
    actuator:
      type: "dcmotor"
      in1_pin: 23
      in2_pin: 24
      pwm_pin: 13
      standby_pin: 22
control:
  tick_interval_ms: 100
  tolerance_percent: 2.0
  gain: 3.0
mqtt:
  broker: "tcp://127.0.0.1:1883"
  topic_prefix: "tv_arm"
web:
  port: 8080
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q, want %q", cfg.Log.Level, "debug")
	}
	if len(cfg.Axes) != 2 {
		t.Fatalf("len(axes) = %d, want 2", len(cfg.Axes))
	}
	if cfg.Axes[0].Name != "x" {
		t.Errorf("axes[0].name = %q, want %q", cfg.Axes[0].Name, "x")
	}
	if cfg.Axes[0].Actuator.Type != "dcmotor" {
		t.Errorf("axes[0].actuator.type = %q, want %q", cfg.Axes[0].Actuator.Type, "dcmotor")
	}
	if cfg.Axes[0].Calibration == nil {
		t.Fatal("axes[0].calibration should not be nil")
	}
	if cfg.Axes[0].Calibration.MinVoltage != 0.12 {
		t.Errorf("min_voltage = %v, want 0.12", cfg.Axes[0].Calibration.MinVoltage)
	}
	if cfg.Axes[1].Calibration != nil {
		t.Error("axes[1].calibration should be nil (not configured)")
	}
	if cfg.MQTT.TopicPrefix != "tv_arm" {
		t.Errorf("mqtt.topic_prefix = %q, want %q", cfg.MQTT.TopicPrefix, "tv_arm")
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("web.port = %d, want 8080", cfg.Web.Port)
	}
}

func TestLoad_NoAxes(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for config without axes, got nil")
	}
}

func TestLoad_DuplicateAxisNames(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    actuator: {type: "servo", pin: 18}
  - name: "x"
    actuator: {type: "servo", pin: 13}
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for duplicate axis names, got nil")
	}
}

func TestLoad_MissingActuatorType(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    adc_channel: 0
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for missing actuator.type, got nil")
	}
}

func TestLoad_UnsupportedActuatorType(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    actuator:
      type: "stepper"
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for unsupported actuator type, got nil")
	}
}

func TestLoad_DCMotorMissingPins(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    actuator:
      type: "dcmotor"
      in1_pin: 17
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for dcmotor without pwm pin, got nil")
	}
}

func TestLoad_DCMotorSamePins(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    actuator:
      type: "dcmotor"
      in1_pin: 17
      in2_pin: 17
      pwm_pin: 18
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for identical in1/in2 pins, got nil")
	}
}

func TestLoad_ADCChannelOutOfRange(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    adc_channel: 4
    actuator: {type: "servo", pin: 18}
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for adc_channel 4, got nil")
	}
}

func TestLoad_InvertedBootstrapCalibration(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    actuator: {type: "servo", pin: 18}
    calibration:
      min_voltage: 3.2
      max_voltage: 0.12
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for min_voltage >= max_voltage, got nil")
	}
}

func TestLoad_ServoPulseOrder(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    actuator:
      type: "servo"
      pin: 18
      min_pulse_us: 2000
      max_pulse_us: 1000
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for min_pulse_us >= max_pulse_us, got nil")
	}
}

func TestLoad_ToleranceOutOfRange(t *testing.T) {
	cases := []struct {
		name      string
		tolerance string
	}{
		{"negative", "-1.0"},
		{"over_50", "51.0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			yaml := `
axes:
  - name: "x"
    actuator: {type: "servo", pin: 18}
control:
  tolerance_percent: ` + tc.tolerance
			path := writeConfig(t, yaml)
			_, err := Load(path)
			if err == nil {
				t.Errorf("expected error for tolerance_percent=%s, got nil", tc.tolerance)
			}
		})
	}
}

func TestLoad_MinSpeedAboveMaxSpeed(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    actuator: {type: "servo", pin: 18}
control:
  max_speed_percent: 50
  min_speed_percent: 60
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for min_speed_percent above max, got nil")
	}
}

func TestLoad_I2CAddrOutOfRange(t *testing.T) {
	yaml := `
hardware:
  adc:
    i2c_addr: 0x20
axes:
  - name: "x"
    actuator: {type: "servo", pin: 18}
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for i2c_addr outside 0x48-0x4b, got nil")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    actuator:
      type: "dcmotor"
      in1_pin: 17
      in2_pin: 27
      pwm_pin: 18
`
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Control.TickIntervalMs != 100 {
		t.Errorf("tick_interval_ms default = %d, want 100", cfg.Control.TickIntervalMs)
	}
	if cfg.Control.SampleIntervalMs != 20 {
		t.Errorf("sample_interval_ms default = %d, want 20", cfg.Control.SampleIntervalMs)
	}
	if cfg.Control.StaleAfterMs != 150 {
		t.Errorf("stale_after_ms default = %d, want 150", cfg.Control.StaleAfterMs)
	}
	if cfg.Control.StaleTicks != 5 {
		t.Errorf("stale_ticks default = %d, want 5", cfg.Control.StaleTicks)
	}
	if cfg.Control.TolerancePercent != 2 {
		t.Errorf("tolerance_percent default = %v, want 2", cfg.Control.TolerancePercent)
	}
	if cfg.Control.Gain != 3.0 {
		t.Errorf("gain default = %v, want 3.0", cfg.Control.Gain)
	}
	if cfg.Control.MaxSpeedPercent != 80 {
		t.Errorf("max_speed_percent default = %v, want 80", cfg.Control.MaxSpeedPercent)
	}
	if cfg.Control.MinSpeedPercent != 12 {
		t.Errorf("min_speed_percent default = %v, want 12", cfg.Control.MinSpeedPercent)
	}
	if cfg.Axes[0].Actuator.PWMFreqHz != 1000 {
		t.Errorf("dcmotor pwm_freq_hz default = %d, want 1000", cfg.Axes[0].Actuator.PWMFreqHz)
	}
	if cfg.Calibration.SpeedPercent != 40 {
		t.Errorf("calibration.speed_percent default = %v, want 40", cfg.Calibration.SpeedPercent)
	}
	if cfg.Calibration.SettleWindow != 12 {
		t.Errorf("calibration.settle_window default = %d, want 12", cfg.Calibration.SettleWindow)
	}
	if cfg.Calibration.MinSeparationV != 0.25 {
		t.Errorf("calibration.min_separation_v default = %v, want 0.25", cfg.Calibration.MinSeparationV)
	}
	if cfg.Hardware.ADC.I2CAddr != 0x48 {
		t.Errorf("i2c_addr default = %#x, want 0x48", cfg.Hardware.ADC.I2CAddr)
	}
	if cfg.MQTT.TopicPrefix != "tvarm" {
		t.Errorf("topic_prefix default = %q, want %q", cfg.MQTT.TopicPrefix, "tvarm")
	}
	if cfg.MQTT.DiscoveryPrefix != "homeassistant" {
		t.Errorf("discovery_prefix default = %q, want %q", cfg.MQTT.DiscoveryPrefix, "homeassistant")
	}
	if cfg.MQTT.PublishIntervalMs != 1000 {
		t.Errorf("publish_interval_ms default = %d, want 1000", cfg.MQTT.PublishIntervalMs)
	}
}

func TestLoad_ServoDefaults(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    actuator:
      type: "servo"
      pin: 18
`
	path := writeConfig(t, yaml)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	act := cfg.Axes[0].Actuator
	if act.MinPulseUs != 1000 {
		t.Errorf("min_pulse_us default = %d, want 1000", act.MinPulseUs)
	}
	if act.MaxPulseUs != 2000 {
		t.Errorf("max_pulse_us default = %d, want 2000", act.MaxPulseUs)
	}
	if act.PWMFreqHz != 50 {
		t.Errorf("servo pwm_freq_hz default = %d, want 50", act.PWMFreqHz)
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	path := writeConfig(t, strings.Repeat("#", MaxConfigFileBytes+1))
	if _, err := Load(path); err == nil {
		t.Error("oversized config file should be refused, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "axes: [\n  broken")
	if _, err := Load(path); err == nil {
		t.Error("malformed YAML should be refused, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Error("an empty file configures no axes and should be refused")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
axes:
  - name: "x"
    actuator: {type: "servo", pin: 18}
not_a_real_section:
  leftover: true
`
	path := writeConfig(t, yaml)
	if _, err := Load(path); err != nil {
		t.Errorf("unknown top-level keys should load fine, got: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	path := writeConfig(t, validYAML)
	missing := filepath.Join(filepath.Dir(path), "missing.yaml")
	if _, err := Load(missing); err == nil {
		t.Error("missing file should be an error, got nil")
	}
}

// ---------- Helper methods ----------

func TestConfig_DurationGetters(t *testing.T) {
	cfg := &Config{
		Control: ControlConfig{
			TickIntervalMs:   100,
			SampleIntervalMs: 20,
			StaleAfterMs:     150,
			SeekTimeoutMs:    30000,
		},
		Calibration: CalibrationConfig{TimeoutMs: 20000},
		MQTT:        MQTTConfig{PublishIntervalMs: 1000},
	}
	cases := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"TickInterval", cfg.TickInterval(), 100 * time.Millisecond},
		{"SampleInterval", cfg.SampleInterval(), 20 * time.Millisecond},
		{"StaleAfter", cfg.StaleAfter(), 150 * time.Millisecond},
		{"SeekTimeout", cfg.SeekTimeout(), 30 * time.Second},
		{"CalibrationTimeout", cfg.CalibrationTimeout(), 20 * time.Second},
		{"PublishInterval", cfg.PublishInterval(), time.Second},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}

func TestConfig_RecenterAfterCalibration(t *testing.T) {
	cfg := &Config{}
	if !cfg.RecenterAfterCalibration() {
		t.Error("recenter should default to true")
	}
	off := false
	cfg.Calibration.Recenter = &off
	if cfg.RecenterAfterCalibration() {
		t.Error("recenter=false should be honored")
	}
}

func TestActuatorConfig_PulseGetters(t *testing.T) {
	a := &ActuatorConfig{MinPulseUs: 1000, MaxPulseUs: 2000}
	if got := a.MinPulse(); got != time.Millisecond {
		t.Errorf("MinPulse() = %v, want 1ms", got)
	}
	if got := a.MaxPulse(); got != 2*time.Millisecond {
		t.Errorf("MaxPulse() = %v, want 2ms", got)
	}
}

func TestConfig_AxisNames(t *testing.T) {
	cfg := &Config{Axes: []AxisConfig{{Name: "x"}, {Name: "y"}}}
	names := cfg.AxisNames()
	if strings.Join(names, ",") != "x,y" {
		t.Errorf("AxisNames() = %v, want [x y]", names)
	}
}
