package core

import (
	"fmt"
	"log/slog"
	"time"
)

// getStatus returns the current service status
func (u *Unit) getStatus() map[string]interface{} {
	u.mu.RLock()
	running := u.isRunning
	started := u.started
	u.mu.RUnlock()

	s := u.pipeline.Stats()
	snap := u.pipeline.Snapshot()

	var uptime float64
	if running {
		uptime = time.Since(started).Seconds()
	}

	status := map[string]interface{}{
		"instance_id": u.cfg.InstanceID,
		"uptime_s":    uptime,
		"running":     running,
		"backend":     u.cfg.Hardware.Backend,
		"supervisor": map[string]interface{}{
			"state":       s.State,
			"session_id":  s.SessionID,
			"since":       s.StateSince,
			"transitions": s.Transitions,
			"last_cause":  s.LastCause,
			"flags":       s.FlagNames,
		},
		"params": map[string]interface{}{
			"seq":          snap.Seq2,
			"k1":           snap.K1,
			"k2":           snap.K2,
			"k3":           snap.K3,
			"cruise_speed": snap.CruiseSpeed,
			"target_speed": snap.TargetSpeed,
			"min_distance": snap.MinDistance,
			"distance":     snap.Distance,
			"speed":        snap.Speed,
			"command":      snap.Command,
		},
		"control":   s.Control,
		"actuation": s.Actuation,
		"channel":   s.Channel,
		"heartbeat": map[string]interface{}{
			"checks": s.HeartbeatChecks,
			"misses": s.HeartbeatMisses,
		},
	}

	if u.emitter != nil {
		es := u.emitter.Stats()
		status["mqtt"] = map[string]interface{}{
			"broker":    u.cfg.MQTT.Broker,
			"connected": es.Connected,
			"published": es.Published,
			"errors":    es.Errors,
			"dropped":   es.Dropped,
			"limited":   es.Limited,
		}
	}

	if u.serial != nil {
		valid, malformed := u.serial.Samples()
		status["serial"] = map[string]interface{}{
			"port":      u.cfg.Hardware.Serial.Port,
			"samples":   valid,
			"malformed": malformed,
		}
	}

	return status
}

func (u *Unit) enable() error {
	slog.Info("enable requested via control plane")
	u.pipeline.Enable()
	return nil
}

func (u *Unit) disable() error {
	slog.Info("disable requested via control plane")
	u.pipeline.Disable()
	return nil
}

func (u *Unit) setSafe(safe bool) error {
	slog.Info("safe-to-actuate input changed via control plane", "safe", safe)
	u.pipeline.SetSafe(safe)
	return nil
}

func (u *Unit) raiseFault() error {
	slog.Warn("fault raised via control plane")
	u.pipeline.RaiseFault()
	return nil
}

func (u *Unit) clearFault() error {
	slog.Info("fault cleared via control plane")
	u.pipeline.ClearFault()
	return nil
}

// shutdownViaControl cancels the Run context; main performs the graceful shutdown
func (u *Unit) shutdownViaControl() error {
	u.mu.RLock()
	cancel := u.cancelCtx
	u.mu.RUnlock()

	if cancel == nil {
		return fmt.Errorf("service is not running")
	}
	cancel()
	return nil
}
