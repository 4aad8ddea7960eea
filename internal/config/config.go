package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete accd configuration
type Config struct {
	InstanceID       string         `yaml:"instance_id"`
	ShutdownTimeoutS int            `yaml:"shutdown_timeout_s"` // Graceful shutdown timeout in seconds (default: 5)
	Timing           TimingConfig   `yaml:"timing"`
	Channel          ChannelConfig  `yaml:"channel"`
	Control          ControlConfig  `yaml:"control"`
	Hardware         HardwareConfig `yaml:"hardware"`
	MQTT             MQTTConfig     `yaml:"mqtt"`
	HTTP             HTTPConfig     `yaml:"http"`
}

// TimingConfig contains the fixed pipeline timing (milliseconds)
type TimingConfig struct {
	SensingPeriodMS   int `yaml:"sensing_period_ms"`   // period between sensing releases
	ControlTimeoutMS  int `yaml:"control_timeout_ms"`  // must be < sensing_period_ms
	DisplayPeriodMS   int `yaml:"display_period_ms"`   // soft display refresh
	HeartbeatPeriodMS int `yaml:"heartbeat_period_ms"` // watchdog window
}

// ChannelConfig sizes the control → actuator channel
type ChannelConfig struct {
	Capacity int `yaml:"capacity"` // queue slots == admission tokens == pool blocks
}

// ControlConfig holds the control law parameters loaded at startup
type ControlConfig struct {
	K1          float64 `yaml:"k1"`
	K2          float64 `yaml:"k2"`
	K3          float64 `yaml:"k3"`
	CruiseSpeed float64 `yaml:"cruise_speed"`  // Vcruise
	MinDistance float64 `yaml:"min_distance"`  // Xset
	SpeedStep   float64 `yaml:"speed_step"`    // deltaV
	SafeAtStart *bool   `yaml:"safe_at_start"` // initial safe-to-actuate input
}

// HardwareConfig selects the hardware access layer backend
type HardwareConfig struct {
	Backend    string        `yaml:"backend"` // sim, serial
	Serial     SerialConfig  `yaml:"serial"`
	Simulation VehicleConfig `yaml:"simulation"`
}

// SerialConfig contains the microcontroller link settings
type SerialConfig struct {
	Port     string `yaml:"port"`
	BaudRate int    `yaml:"baud_rate"`
}

// VehicleConfig seeds the simulated ego and lead vehicles
type VehicleConfig struct {
	InitialSpeed    float64 `yaml:"initial_speed"`
	InitialDistance float64 `yaml:"initial_distance"`
	LeadSpeed       float64 `yaml:"lead_speed"`
	MaxAccel        float64 `yaml:"max_accel"`
	MaxDecel        float64 `yaml:"max_decel"`
	Gain            float64 `yaml:"gain"` // command → acceleration
}

// MQTTConfig contains MQTT broker settings
type MQTTConfig struct {
	Broker             string          `yaml:"broker"` // empty disables telemetry and control plane
	Topics             MQTTTopics      `yaml:"topics"`
	QoS                map[string]byte `yaml:"qos"`
	TelemetryRateHz    float64         `yaml:"telemetry_rate_hz"`
	TelemetryBurstSize int             `yaml:"telemetry_burst"`
}

// MQTTTopics contains topic templates
type MQTTTopics struct {
	Control   string `yaml:"control"`
	Telemetry string `yaml:"telemetry"`
	Health    string `yaml:"health"`
}

// HTTPConfig contains the health/metrics server settings
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and parses a YAML configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML bytes and validates the result
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// SensingPeriod returns the sensing release period
func (t TimingConfig) SensingPeriod() time.Duration {
	return time.Duration(t.SensingPeriodMS) * time.Millisecond
}

// ControlTimeout returns the control per-cycle wait timeout
func (t TimingConfig) ControlTimeout() time.Duration {
	return time.Duration(t.ControlTimeoutMS) * time.Millisecond
}

// DisplayPeriod returns the display refresh period
func (t TimingConfig) DisplayPeriod() time.Duration {
	return time.Duration(t.DisplayPeriodMS) * time.Millisecond
}

// HeartbeatPeriod returns the heartbeat monitor window
func (t TimingConfig) HeartbeatPeriod() time.Duration {
	return time.Duration(t.HeartbeatPeriodMS) * time.Millisecond
}

// ShutdownTimeout returns the configured graceful shutdown timeout
// Returns default of 5 seconds if not configured
func (c *Config) ShutdownTimeout() time.Duration {
	timeout := time.Duration(c.ShutdownTimeoutS) * time.Second
	if timeout == 0 {
		return 5 * time.Second
	}
	return timeout
}
