// Package hal is the hardware access layer consumed by the ACC pipeline.
//
// The pipeline depends only on the interfaces below. Three backends exist:
// Vehicle (simulated ego and lead vehicles), SerialLink (sensor/actuator
// bridge to a microcontroller) and LogDisplay (slog-backed display). The
// periodic interrupt source is a SoftTimer.
package hal

// Sensors samples the distance to the lead vehicle and the ego speed.
// Returned values are treated as valid; sensor failure handling belongs to
// the implementation.
type Sensors interface {
	ReadDistance() float64
	ReadSpeed() float64
}

// Actuator applies a throttle/brake command. 0.0 is the neutral output.
type Actuator interface {
	Apply(command float64)
}

// Display renders human-readable state. It never feeds back into the pipeline.
type Display interface {
	ShowDistance(distance float64)
	ShowSpeed(speed float64)
	ShowStatus(enabled bool)
}

// Timer is the periodic interrupt source releasing the sensing producer.
//
// The attached handler must only clear the flag and post a release; it runs
// on the timer's own goroutine and must not block.
type Timer interface {
	Attach(isr func())
	Enable()
	Disable()
	ClearFlag()
}

// Neutral is the explicit neutral actuator output.
const Neutral = 0.0
