package overlay

import (
	"math"
	"sync/atomic"

	"github.com/giganbyte/overlay-server/pkg/types"
)

const (
	// DefaultConfidence is the score a detection must exceed to be displayed.
	DefaultConfidence = 0.5
	// baselineDPI is the density at which one display unit equals one pixel.
	baselineDPI = 160.0
)

// Filter removes or rewrites raw detections before mapping.
type Filter func([]types.Detection) []types.Detection

// NewScoreFilter keeps detections whose score is strictly above conf.
func NewScoreFilter(conf float64) Filter {
	return func(in []types.Detection) []types.Detection {
		out := make([]types.Detection, 0, len(in))
		for _, d := range in {
			if d.Score > conf {
				out = append(out, d)
			}
		}
		return out
	}
}

// Config configures a Projector.
type Config struct {
	Confidence float64       // Minimum score (exclusive)
	Margin     float64       // Aspect margin, 0 selects DefaultMargin
	DensityDPI float64       // Screen density; <= 0 means 1 px per display unit
	Colors     ColorStrategy // nil selects a 16-colour Palette
}

// DefaultConfig returns the projector defaults.
func DefaultConfig() Config {
	return Config{
		Confidence: DefaultConfidence,
		Margin:     DefaultMargin,
		DensityDPI: baselineDPI,
	}
}

// Projector turns raw detections into DisplayDetections: it filters by
// confidence, maps through the Mapper, clamps the size to the viewport and
// converts pixels into display units.
type Projector struct {
	mapper    Mapper
	pxPerUnit float64
	colors    ColorStrategy
	threshold atomic.Uint64 // math.Float64bits of the confidence
}

// NewProjector creates a projector from cfg.
func NewProjector(cfg Config) *Projector {
	dpi := cfg.DensityDPI
	if dpi <= 0 {
		dpi = baselineDPI
	}
	colors := cfg.Colors
	if colors == nil {
		colors = NewPalette(16)
	}
	p := &Projector{
		mapper:    Mapper{Margin: cfg.Margin},
		pxPerUnit: dpi / baselineDPI,
		colors:    colors,
	}
	p.SetConfidence(cfg.Confidence)
	return p
}

// SetConfidence changes the score threshold. Safe for concurrent use.
func (p *Projector) SetConfidence(conf float64) {
	p.threshold.Store(math.Float64bits(conf))
}

// Confidence returns the current score threshold.
func (p *Projector) Confidence() float64 {
	return math.Float64frombits(p.threshold.Load())
}

// Project filters, maps and converts dets for the given viewport.
func (p *Projector) Project(dets []types.Detection, vp types.ViewportState) []types.DisplayDetection {
	kept := NewScoreFilter(p.Confidence())(dets)
	out := make([]types.DisplayDetection, 0, len(kept))
	for _, d := range kept {
		loc := p.mapper.Map(d.Location, vp)
		out = append(out, types.DisplayDetection{
			Left:     p.toUnits(loc.Left),
			Top:      p.toUnits(loc.Top),
			Width:    p.toUnits(clamp(loc.Width(), float64(vp.Width))),
			Height:   p.toUnits(clamp(loc.Height(), float64(vp.Height))),
			Label:    d.Label,
			Score:    d.Score,
			Color:    p.colors.ColorFor(d.Label),
			Location: loc,
		})
	}
	return out
}

func (p *Projector) toUnits(px float64) float64 {
	return px / p.pxPerUnit
}

// clamp bounds v to [0, limit]; NaN becomes 0.
func clamp(v, limit float64) float64 {
	if !(v > 0) {
		return 0
	}
	if limit < 0 {
		limit = 0
	}
	return math.Min(v, limit)
}
