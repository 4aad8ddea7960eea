package hal

import "log/slog"

// LogDisplay renders display output as structured log lines.
type LogDisplay struct {
	logger *slog.Logger
}

// NewLogDisplay creates a display writing to logger (slog.Default if nil).
func NewLogDisplay(logger *slog.Logger) *LogDisplay {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDisplay{logger: logger.With("component", "display")}
}

func (d *LogDisplay) ShowDistance(distance float64) {
	d.logger.Info("distance", "metres", distance)
}

func (d *LogDisplay) ShowSpeed(speed float64) {
	d.logger.Info("speed", "kmh", speed)
}

func (d *LogDisplay) ShowStatus(enabled bool) {
	status := "ACC OFF"
	if enabled {
		status = "ACC ON"
	}
	d.logger.Info("status", "acc", status)
}
