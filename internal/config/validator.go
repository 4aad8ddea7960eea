package config

import (
	"fmt"
	"regexp"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

// Reference sizing of the ACC unit.
const (
	DefaultSensingPeriodMS   = 50
	DefaultControlTimeoutMS  = 45
	DefaultDisplayPeriodMS   = 2000
	DefaultHeartbeatPeriodMS = 100
	DefaultChannelCapacity   = 3

	DefaultK1          = 1.0
	DefaultK2          = 0.5
	DefaultK3          = 0.25
	DefaultCruiseSpeed = 100.0
	DefaultMinDistance = 50.0
	DefaultSpeedStep   = 5.0
)

// Validate checks if the configuration is valid and fills defaults
func Validate(cfg *Config) error {
	if cfg.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}
	if !instanceIDPattern.MatchString(cfg.InstanceID) {
		return fmt.Errorf("instance_id must match pattern [a-z0-9-]+")
	}

	if err := validateTiming(&cfg.Timing); err != nil {
		return fmt.Errorf("timing: %w", err)
	}

	if cfg.Channel.Capacity < 0 {
		return fmt.Errorf("channel.capacity must be > 0")
	}
	if cfg.Channel.Capacity == 0 {
		cfg.Channel.Capacity = DefaultChannelCapacity
	}

	applyControlDefaults(&cfg.Control)
	if cfg.Control.MinDistance < 0 {
		return fmt.Errorf("control.min_distance must be >= 0")
	}
	if cfg.Control.SpeedStep < 0 {
		return fmt.Errorf("control.speed_step must be >= 0")
	}

	if err := validateHardware(&cfg.Hardware); err != nil {
		return fmt.Errorf("hardware: %w", err)
	}

	applyMQTTDefaults(cfg)

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}

	return nil
}

func validateTiming(t *TimingConfig) error {
	if t.SensingPeriodMS == 0 {
		t.SensingPeriodMS = DefaultSensingPeriodMS
	}
	if t.ControlTimeoutMS == 0 {
		t.ControlTimeoutMS = DefaultControlTimeoutMS
	}
	if t.DisplayPeriodMS == 0 {
		t.DisplayPeriodMS = DefaultDisplayPeriodMS
	}
	if t.HeartbeatPeriodMS == 0 {
		t.HeartbeatPeriodMS = DefaultHeartbeatPeriodMS
	}

	if t.SensingPeriodMS < 0 || t.ControlTimeoutMS < 0 || t.DisplayPeriodMS < 0 || t.HeartbeatPeriodMS < 0 {
		return fmt.Errorf("periods must be > 0")
	}

	// A missed release must be detected before the next one can arrive.
	if t.ControlTimeoutMS >= t.SensingPeriodMS {
		return fmt.Errorf("control_timeout_ms (%d) must be < sensing_period_ms (%d)",
			t.ControlTimeoutMS, t.SensingPeriodMS)
	}
	if t.HeartbeatPeriodMS < t.SensingPeriodMS {
		return fmt.Errorf("heartbeat_period_ms (%d) must be >= sensing_period_ms (%d)",
			t.HeartbeatPeriodMS, t.SensingPeriodMS)
	}

	return nil
}

func applyControlDefaults(c *ControlConfig) {
	if c.K1 == 0 && c.K2 == 0 && c.K3 == 0 {
		c.K1, c.K2, c.K3 = DefaultK1, DefaultK2, DefaultK3
	}
	if c.CruiseSpeed == 0 {
		c.CruiseSpeed = DefaultCruiseSpeed
	}
	if c.MinDistance == 0 {
		c.MinDistance = DefaultMinDistance
	}
	if c.SpeedStep == 0 {
		c.SpeedStep = DefaultSpeedStep
	}
	if c.SafeAtStart == nil {
		safe := true
		c.SafeAtStart = &safe
	}
}

func validateHardware(h *HardwareConfig) error {
	if h.Backend == "" {
		h.Backend = "sim"
	}

	switch h.Backend {
	case "sim":
		sim := &h.Simulation
		if sim.InitialSpeed == 0 {
			sim.InitialSpeed = 85
		}
		if sim.InitialDistance == 0 {
			sim.InitialDistance = 80
		}
		if sim.LeadSpeed == 0 {
			sim.LeadSpeed = 90
		}
		if sim.MaxAccel == 0 {
			sim.MaxAccel = 2.5
		}
		if sim.MaxDecel == 0 {
			sim.MaxDecel = 6.0
		}
		if sim.Gain == 0 {
			sim.Gain = 0.05
		}
	case "serial":
		if h.Serial.Port == "" {
			return fmt.Errorf("serial.port is required for serial backend")
		}
		if h.Serial.BaudRate == 0 {
			h.Serial.BaudRate = 115200
		}
	default:
		return fmt.Errorf("unknown backend '%s' (must be 'sim' or 'serial')", h.Backend)
	}

	return nil
}

func applyMQTTDefaults(cfg *Config) {
	if cfg.MQTT.Topics.Control == "" {
		cfg.MQTT.Topics.Control = fmt.Sprintf("acc/control/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Telemetry == "" {
		cfg.MQTT.Topics.Telemetry = fmt.Sprintf("acc/telemetry/%s", cfg.InstanceID)
	}
	if cfg.MQTT.Topics.Health == "" {
		cfg.MQTT.Topics.Health = fmt.Sprintf("acc/health/%s", cfg.InstanceID)
	}

	if cfg.MQTT.QoS == nil {
		cfg.MQTT.QoS = map[string]byte{
			"control":    1,
			"display":    0,
			"transition": 1,
			"health":     0,
		}
	}

	if cfg.MQTT.TelemetryRateHz == 0 {
		cfg.MQTT.TelemetryRateHz = 2
	}
	if cfg.MQTT.TelemetryBurstSize == 0 {
		cfg.MQTT.TelemetryBurstSize = 4
	}
}
