// Package trace records vehicle and pipeline trajectories and renders them.
package trace

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// Point is one trajectory sample.
type Point struct {
	T         float64 // seconds since start
	Speed     float64
	LeadSpeed float64
	Distance  float64
	Command   float64
	Engaged   bool
}

// Recorder collects points from concurrent producers.
type Recorder struct {
	mu     sync.Mutex
	points []Point
	every  int // keep one point out of every
	seen   int
}

// NewRecorder keeps one point out of every `every` added (1 keeps all).
func NewRecorder(every int) *Recorder {
	if every < 1 {
		every = 1
	}
	return &Recorder{every: every}
}

// Add records p, subject to decimation.
func (r *Recorder) Add(p Point) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seen++
	if (r.seen-1)%r.every != 0 {
		return
	}
	r.points = append(r.points, p)
}

// Points returns a copy of the recorded points.
func (r *Recorder) Points() []Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Point(nil), r.points...)
}

// WriteCSV writes the trajectory with a header row.
func (r *Recorder) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"t", "speed", "lead_speed", "distance", "command", "engaged"}); err != nil {
		return err
	}

	f := func(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }
	for _, p := range r.Points() {
		row := []string{f(p.T), f(p.Speed), f(p.LeadSpeed), f(p.Distance), f(p.Command), strconv.FormatBool(p.Engaged)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// Since converts an elapsed duration to the T axis.
func Since(start time.Time) float64 {
	return time.Since(start).Seconds()
}

// Series selects one column of a trajectory for plotting.
type Series struct {
	Name  string
	Value func(Point) float64
}

// SavePlot renders the series against time into a PNG file.
// minLine, if non-nil, draws a horizontal reference (e.g. minimum distance).
func SavePlot(points []Point, filename, title, ylabel string, minLine *float64, series ...Series) error {
	if len(points) == 0 {
		return fmt.Errorf("trace: no points to plot")
	}
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = ylabel
	p.Add(plotter.NewGrid())

	for i, s := range series {
		xys := make(plotter.XYs, len(points))
		for j, pt := range points {
			xys[j].X = pt.T
			xys[j].Y = s.Value(pt)
		}

		line, err := plotter.NewLine(xys)
		if err != nil {
			return fmt.Errorf("trace: %s: %w", s.Name, err)
		}
		line.LineStyle.Width = vg.Points(1.5)
		line.LineStyle.Color = plotutil.Color(i)
		if i > 0 {
			line.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		}
		p.Add(line)
		p.Legend.Add(s.Name, line)
	}

	if minLine != nil {
		ref := plotter.NewFunction(func(float64) float64 { return *minLine })
		ref.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		p.Add(ref)
		p.Legend.Add("minimum", ref)
	}

	if err := p.Save(8*vg.Inch, 4*vg.Inch, filename); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return nil
}

// SaveAll writes speed.png, distance.png and command.png into dir.
func SaveAll(points []Point, dir string, minDistance float64) error {
	speed := filepath.Join(dir, "speed.png")
	if err := SavePlot(points, speed, "Speed", "km/h", nil,
		Series{"ego", func(p Point) float64 { return p.Speed }},
		Series{"lead", func(p Point) float64 { return p.LeadSpeed }},
	); err != nil {
		return err
	}

	distance := filepath.Join(dir, "distance.png")
	if err := SavePlot(points, distance, "Gap to lead vehicle", "m", &minDistance,
		Series{"distance", func(p Point) float64 { return p.Distance }},
	); err != nil {
		return err
	}

	command := filepath.Join(dir, "command.png")
	return SavePlot(points, command, "Actuator command", "dM", nil,
		Series{"command", func(p Point) float64 { return p.Command }},
	)
}
