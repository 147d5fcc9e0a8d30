package overlay

import (
	"image/color"

	"github.com/cespare/xxhash/v2"
	colorful "github.com/lucasb-eyer/go-colorful"
)

// ColorStrategy assigns a drawing colour to a label.
type ColorStrategy interface {
	ColorFor(label string) color.RGBA
}

// ColorFunc adapts a function to ColorStrategy.
type ColorFunc func(label string) color.RGBA

// ColorFor implements ColorStrategy.
func (f ColorFunc) ColorFor(label string) color.RGBA { return f(label) }

// Palette hashes labels onto a fixed set of evenly spaced hues, so the same
// label always gets the same colour.
type Palette struct {
	colors []color.RGBA
}

// NewPalette builds a palette of n colours (minimum 1).
func NewPalette(n int) *Palette {
	if n < 1 {
		n = 1
	}
	colors := make([]color.RGBA, n)
	for i := range colors {
		c := colorful.Hsv(360*float64(i)/float64(n), 0.75, 0.95)
		r, g, b := c.RGB255()
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return &Palette{colors: colors}
}

// ColorFor implements ColorStrategy.
func (p *Palette) ColorFor(label string) color.RGBA {
	return p.colors[xxhash.Sum64String(label)%uint64(len(p.colors))]
}
