package hal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
)

// ErrMalformedSample is returned for a sensor line that is not "distance,speed".
var ErrMalformedSample = errors.New("hal: malformed sensor sample")

// SerialLink bridges sensors and actuator to a microcontroller.
//
// Line protocol (ASCII, newline-terminated):
//
//	in:  "<distance>,<speed>\n"   latest sample, pushed by the device
//	out: "<command>\n"            actuator command
//
// Reads return the latest sample received; they never block on the port.
type SerialLink struct {
	rw io.ReadWriteCloser

	mu       sync.Mutex
	distance float64
	speed    float64

	writeMu sync.Mutex

	samples   atomic.Uint64
	malformed atomic.Uint64
}

// OpenSerial opens port at baud and wraps it in a SerialLink.
func OpenSerial(port string, baud int) (*SerialLink, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", port, err)
	}
	return NewSerialLink(p), nil
}

// NewSerialLink wraps an already open stream.
func NewSerialLink(rw io.ReadWriteCloser) *SerialLink {
	return &SerialLink{rw: rw}
}

// Run reads samples until ctx is done or the stream fails.
func (l *SerialLink) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.rw.Close()
	}()

	r := bufio.NewReader(l.rw)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			if perr := l.ingest(line); perr != nil {
				l.malformed.Add(1)
				slog.Debug("serial: dropping sample", "line", strings.TrimSpace(line), "error", perr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("serial read: %w", err)
		}
	}
}

func (l *SerialLink) ingest(line string) error {
	distance, speed, err := ParseSample(line)
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.distance = distance
	l.speed = speed
	l.mu.Unlock()

	l.samples.Add(1)
	return nil
}

// ParseSample decodes one "distance,speed" line.
func ParseSample(line string) (distance, speed float64, err error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 2 {
		return 0, 0, ErrMalformedSample
	}

	distance, err = strconv.ParseFloat(strings.TrimSpace(fields[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: distance: %v", ErrMalformedSample, err)
	}
	speed, err = strconv.ParseFloat(strings.TrimSpace(fields[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: speed: %v", ErrMalformedSample, err)
	}

	// ParseFloat accepts NaN and Inf; neither is a usable measurement.
	if !isFinite(distance) || !isFinite(speed) {
		return 0, 0, fmt.Errorf("%w: non-finite value", ErrMalformedSample)
	}
	return distance, speed, nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ReadDistance returns the latest distance sample.
func (l *SerialLink) ReadDistance() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.distance
}

// ReadSpeed returns the latest speed sample.
func (l *SerialLink) ReadSpeed() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.speed
}

// Apply writes the command to the device. Write errors are logged, not
// returned: the actuator contract has no error path.
func (l *SerialLink) Apply(command float64) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := fmt.Fprintf(l.rw, "%.3f\n", command); err != nil {
		slog.Warn("serial: actuator write failed", "command", command, "error", err)
	}
}

// Samples returns the count of valid and malformed lines received.
func (l *SerialLink) Samples() (valid, malformed uint64) {
	return l.samples.Load(), l.malformed.Load()
}

// Close closes the underlying stream.
func (l *SerialLink) Close() error {
	return l.rw.Close()
}
