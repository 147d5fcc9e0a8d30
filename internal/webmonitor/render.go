package webmonitor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/giganbyte/overlay-server/internal/pipeline"
	"github.com/giganbyte/overlay-server/internal/stats"
	"github.com/giganbyte/overlay-server/pkg/types"
)

const (
	placeholderWidth  = 640
	placeholderHeight = 480
	boxThickness      = 3
	maxCanvasAspect   = 4 // Preview height limit as a multiple of its width
)

var (
	canvasColor  = color.RGBA{R: 24, G: 24, B: 28, A: 255}
	textColor    = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	textBgColor  = color.RGBA{R: 0, G: 0, B: 0, A: 200}
	defaultColor = color.RGBA{R: 0, G: 255, B: 0, A: 255}
)

// Renderer draws display detections onto a canvas the shape of the viewport
// and encodes it as JPEG.
type Renderer struct {
	width   int
	quality int
	face    font.Face
}

// NewRenderer creates a renderer producing frames width pixels wide.
func NewRenderer(width, quality int) *Renderer {
	return &Renderer{
		width:   width,
		quality: quality,
		face:    basicfont.Face7x13,
	}
}

// Render draws f. Boxes use the unclamped pixel rectangles of the
// detections, scaled to the canvas.
func (r *Renderer) Render(f pipeline.Frame, s stats.Stats) ([]byte, error) {
	vp := f.Viewport
	if !vp.Measured() {
		return r.Placeholder("viewport not measured")
	}

	scale := float64(r.width) / float64(vp.Width)
	height := int(math.Round(float64(vp.Height) * scale))
	if height > maxCanvasAspect*r.width {
		return r.Placeholder(fmt.Sprintf("viewport %dx%d too tall to preview", vp.Width, vp.Height))
	}
	img := image.NewRGBA(image.Rect(0, 0, r.width, max(height, 1)))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: canvasColor}, image.Point{}, draw.Src)

	for _, det := range f.Detections {
		col := det.Color
		if col.A == 0 {
			col = defaultColor
		}
		box := scaleRect(det.Location, scale)
		drawRect(img, box, col, boxThickness)

		label := fmt.Sprintf("%s %.2f", det.Label, det.Score)
		labelY := box.Min.Y - 4
		if labelY < 16 {
			labelY = box.Max.Y + 16
		}
		r.drawTextWithBackground(img, box.Min.X, labelY, label, col)
	}

	header := fmt.Sprintf("Frame: %d  FPS: %.1f  Inference: %d ms  Objects: %d",
		f.FrameNum, s.FPS, s.InferenceTime.Milliseconds(), len(f.Detections))
	r.drawTextWithBackground(img, 6, 18, header, textColor)

	return r.encode(img)
}

// Placeholder renders colour bars with a message, sent while no frames are
// available.
func (r *Renderer) Placeholder(msg string) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, placeholderWidth, placeholderHeight))

	// Color bars: White, Yellow, Cyan, Green, Magenta, Red, Blue, Black
	colors := []color.RGBA{
		{R: 255, G: 255, B: 255, A: 255},
		{R: 255, G: 255, B: 0, A: 255},
		{R: 0, G: 255, B: 255, A: 255},
		{R: 0, G: 255, B: 0, A: 255},
		{R: 255, G: 0, B: 255, A: 255},
		{R: 255, G: 0, B: 0, A: 255},
		{R: 0, G: 0, B: 255, A: 255},
		{R: 0, G: 0, B: 0, A: 255},
	}
	barWidth := placeholderWidth / len(colors)
	for i, c := range colors {
		bar := image.Rect(i*barWidth, 0, (i+1)*barWidth, placeholderHeight)
		draw.Draw(img, bar, &image.Uniform{C: c}, image.Point{}, draw.Src)
	}

	r.drawTextWithBackground(img, 10, placeholderHeight/2, msg, textColor)
	return r.encode(img)
}

func (r *Renderer) encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// drawTextWithBackground draws text with its baseline at y on a dark box.
func (r *Renderer) drawTextWithBackground(img *image.RGBA, x, y int, text string, col color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: r.face,
		Dot:  fixed.P(x, y),
	}
	bounds, _ := d.BoundString(text)
	bg := image.Rect(
		bounds.Min.X.Floor()-2, bounds.Min.Y.Floor()-2,
		bounds.Max.X.Ceil()+2, bounds.Max.Y.Ceil()+2,
	)
	draw.Draw(img, bg.Intersect(img.Bounds()), &image.Uniform{C: textBgColor}, image.Point{}, draw.Over)
	d.DrawString(text)
}

func scaleRect(rc types.Rect, scale float64) image.Rectangle {
	return image.Rect(
		int(math.Round(rc.Left*scale)),
		int(math.Round(rc.Top*scale)),
		int(math.Round(rc.Right*scale)),
		int(math.Round(rc.Bottom*scale)),
	)
}

// drawRect draws the outline of rc clipped to img.
func drawRect(img *image.RGBA, rc image.Rectangle, col color.RGBA, thickness int) {
	src := &image.Uniform{C: col}
	edges := []image.Rectangle{
		image.Rect(rc.Min.X, rc.Min.Y, rc.Max.X, rc.Min.Y+thickness),
		image.Rect(rc.Min.X, rc.Max.Y-thickness, rc.Max.X, rc.Max.Y),
		image.Rect(rc.Min.X, rc.Min.Y, rc.Min.X+thickness, rc.Max.Y),
		image.Rect(rc.Max.X-thickness, rc.Min.Y, rc.Max.X, rc.Max.Y),
	}
	for _, e := range edges {
		draw.Draw(img, e.Intersect(img.Bounds()), src, image.Point{}, draw.Src)
	}
}
