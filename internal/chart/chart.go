// Package chart renders recording session summaries as line charts.
package chart

import (
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/giganbyte/overlay-server/internal/stats"
)

// Options controls chart layout.
type Options struct {
	Model  string // Shown in the title, e.g. "MobileNet SSD (300x300)"
	Width  vg.Length
	Height vg.Length
	Format string // png, svg, pdf, jpg
}

// DefaultOptions renders a 1200x900 px PNG at 96 dpi.
func DefaultOptions() Options {
	return Options{
		Model:  "MobileNet SSD",
		Width:  12.5 * vg.Inch,
		Height: 9.375 * vg.Inch,
		Format: "png",
	}
}

var (
	fpsColor          = color.RGBA{R: 220, G: 30, B: 30, A: 255}
	inferenceColor    = color.RGBA{R: 30, G: 60, B: 220, A: 255}
	avgFPSColor       = color.RGBA{R: 30, G: 170, B: 60, A: 255}
	avgInferenceColor = color.RGBA{R: 230, G: 180, B: 0, A: 255}
)

// Build creates the session chart: per-second FPS and inference time with
// their session averages. The x axis is seconds since the first snapshot.
func Build(sum stats.Summary, opts Options) (*plot.Plot, error) {
	if len(sum.Snapshots) == 0 {
		return nil, fmt.Errorf("session %s has no snapshots", sum.ID)
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s, Measure time: %d s", opts.Model, len(sum.Snapshots)-1)
	p.X.Label.Text = "Time"
	p.Y.Label.Text = "FPS / ms"
	p.X.Min = 0
	p.X.Tick.Marker = secondsTicker{}
	p.Add(plotter.NewGrid())

	n := len(sum.Snapshots)
	fps := make(plotter.XYs, n)
	inference := make(plotter.XYs, n)
	avgFPS := make(plotter.XYs, n)
	avgInference := make(plotter.XYs, n)
	avgMs := millis(sum.AvgInferenceTime.Seconds())
	for i, s := range sum.Snapshots {
		x := float64(i)
		fps[i] = plotter.XY{X: x, Y: s.FPS}
		inference[i] = plotter.XY{X: x, Y: millis(s.InferenceTime.Seconds())}
		avgFPS[i] = plotter.XY{X: x, Y: sum.AvgFPS}
		avgInference[i] = plotter.XY{X: x, Y: avgMs}
	}

	series := []struct {
		label string
		pts   plotter.XYs
		color color.Color
	}{
		{"FPS", fps, fpsColor},
		{"Inference Time (ms)", inference, inferenceColor},
		{"Avg FPS", avgFPS, avgFPSColor},
		{"Avg Inference Time (ms)", avgInference, avgInferenceColor},
	}
	for _, s := range series {
		line, err := plotter.NewLine(s.pts)
		if err != nil {
			return nil, fmt.Errorf("%s line: %w", s.label, err)
		}
		line.Color = s.color
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(s.label, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	return p, nil
}

// Render writes the chart to w in opts.Format.
func Render(w io.Writer, sum stats.Summary, opts Options) error {
	opts = withDefaults(opts)
	p, err := Build(sum, opts)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(opts.Width, opts.Height, opts.Format)
	if err != nil {
		return fmt.Errorf("chart writer: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write chart: %w", err)
	}
	return nil
}

// Save renders the chart to path. The format follows the file extension.
func Save(path string, sum stats.Summary, opts Options) error {
	opts = withDefaults(opts)
	p, err := Build(sum, opts)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create chart dir: %w", err)
	}
	if err := p.Save(opts.Width, opts.Height, path); err != nil {
		return fmt.Errorf("save chart: %w", err)
	}
	return nil
}

func withDefaults(opts Options) Options {
	def := DefaultOptions()
	if opts.Width <= 0 {
		opts.Width = def.Width
	}
	if opts.Height <= 0 {
		opts.Height = def.Height
	}
	if opts.Format == "" {
		opts.Format = def.Format
	}
	if opts.Model == "" {
		opts.Model = def.Model
	}
	return opts
}

func millis(seconds float64) float64 {
	return seconds * 1000
}

// secondsTicker labels every whole second as "Ns".
type secondsTicker struct{}

func (secondsTicker) Ticks(min, max float64) []plot.Tick {
	start := math.Ceil(min)
	if max-start > 60 {
		return plot.DefaultTicks{}.Ticks(min, max)
	}
	var ticks []plot.Tick
	for v := start; v <= max; v++ {
		ticks = append(ticks, plot.Tick{Value: v, Label: fmt.Sprintf("%ds", int(v))})
	}
	return ticks
}
