// Package overlay maps normalized model boxes onto the preview surface.
package overlay

import (
	"math"

	"github.com/giganbyte/overlay-server/pkg/types"
)

// DefaultMargin is the fractional expansion/shrink applied around a box centre.
const DefaultMargin = 0.1

// Mapper converts normalized detection rectangles into viewport pixels.
// It holds no state between calls; the zero value uses DefaultMargin.
type Mapper struct {
	Margin float64
}

func (m Mapper) margin() float64 {
	if m.Margin <= 0 || math.IsNaN(m.Margin) {
		return DefaultMargin
	}
	return m.Margin
}

// ShouldFlip reports whether the box must be mirrored for the given sensor
// state: back-facing on a quarter turn, or front-facing on a straight one.
func ShouldFlip(vp types.ViewportState) bool {
	return (vp.Facing == types.LensBack) == vp.Rotation.IsQuarterTurn()
}

// Map returns r in viewport pixel space. An unmeasured viewport yields the
// zero Rect. The result is not clamped to the viewport.
func (m Mapper) Map(r types.Rect, vp types.ViewportState) types.Rect {
	if !vp.Measured() {
		return types.Rect{}
	}

	w, h := float64(vp.Width), float64(vp.Height)
	px := types.Rect{
		Left:   r.Left * w,
		Top:    r.Top * h,
		Right:  r.Right * w,
		Bottom: r.Bottom * h,
	}

	if ShouldFlip(vp) {
		px = types.Rect{
			Left:   w - px.Right,
			Top:    h - px.Bottom,
			Right:  w - px.Left,
			Bottom: h - px.Top,
		}
	}

	return m.expand(px, vp)
}

// expand applies the aspect-ratio margin about the box centre. In portrait the
// width grows by (1+margin)*ratio and the height shrinks by (1-margin); in
// landscape the axes swap roles.
func (m Mapper) expand(px types.Rect, vp types.ViewportState) types.Rect {
	margin := m.margin()
	ratio := vp.AspectRatio
	if !(ratio > 0) || math.IsInf(ratio, 0) {
		ratio = 1
	}

	midX, midY := px.Center()
	halfW, halfH := px.Width()/2, px.Height()/2
	if vp.Portrait() {
		halfW *= (1 + margin) * ratio
		halfH *= 1 - margin
	} else {
		halfW *= 1 - margin
		halfH *= (1 + margin) * ratio
	}

	return types.Rect{
		Left:   midX - halfW,
		Top:    midY - halfH,
		Right:  midX + halfW,
		Bottom: midY + halfH,
	}
}
