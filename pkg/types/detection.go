package types

import (
	"image/color"
	"time"
)

// Rect is an axis-aligned rectangle given by its four edges.
// Depending on context the unit is normalized [0,1] or pixels.
// Right >= Left and Bottom >= Top are not guaranteed.
type Rect struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
}

// Width returns Right-Left (may be negative).
func (r Rect) Width() float64 { return r.Right - r.Left }

// Height returns Bottom-Top (may be negative).
func (r Rect) Height() float64 { return r.Bottom - r.Top }

// Center returns the midpoint of the rectangle.
func (r Rect) Center() (x, y float64) {
	return (r.Left + r.Right) / 2, (r.Top + r.Bottom) / 2
}

// IsZero reports whether all edges are zero.
func (r Rect) IsZero() bool {
	return r == Rect{}
}

// LensFacing identifies which camera sensor is active.
type LensFacing int

const (
	LensBack LensFacing = iota
	LensFront
)

func (f LensFacing) String() string {
	if f == LensFront {
		return "front"
	}
	return "back"
}

// MarshalText encodes the facing as "front" or "back".
func (f LensFacing) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText accepts "front" or "back".
func (f *LensFacing) UnmarshalText(text []byte) error {
	*f = ParseLensFacing(string(text))
	return nil
}

// ParseLensFacing parses "front" or "back". Anything else is back-facing.
func ParseLensFacing(s string) LensFacing {
	if s == "front" {
		return LensFront
	}
	return LensBack
}

// Rotation is the sensor rotation in degrees.
type Rotation int

// Rotation constants
const (
	Rotation0   Rotation = 0
	Rotation90  Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// Valid reports whether r is one of the four supported rotations.
func (r Rotation) Valid() bool {
	switch r {
	case Rotation0, Rotation90, Rotation180, Rotation270:
		return true
	}
	return false
}

// IsQuarterTurn reports whether the rotation swaps the sensor axes (90 or 270).
func (r Rotation) IsQuarterTurn() bool {
	return r == Rotation90 || r == Rotation270
}

// ViewportState describes the on-screen preview surface.
// A zero Width/Height means the surface has not been measured yet.
type ViewportState struct {
	Width       int        `json:"width"`
	Height      int        `json:"height"`
	Rotation    Rotation   `json:"rotation"`
	Facing      LensFacing `json:"facing"`
	AspectRatio float64    `json:"aspect_ratio"`
}

// Measured reports whether the viewport has a usable pixel size.
func (v ViewportState) Measured() bool {
	return v.Width > 0 && v.Height > 0
}

// Portrait reports whether the viewport is taller than it is wide.
func (v ViewportState) Portrait() bool {
	return v.Width < v.Height
}

// DefaultViewport matches a 3:4 portrait preview on a back camera.
func DefaultViewport() ViewportState {
	return ViewportState{
		Width:       1080,
		Height:      1440,
		Rotation:    Rotation0,
		Facing:      LensBack,
		AspectRatio: 1.0,
	}
}

// Detection is one raw model prediction with a normalized location.
type Detection struct {
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
	Location Rect    `json:"location"`
}

// DisplayDetection is a detection mapped into display space, ready to draw.
type DisplayDetection struct {
	Left     float64    `json:"left"`
	Top      float64    `json:"top"`
	Width    float64    `json:"width"`
	Height   float64    `json:"height"`
	Label    string     `json:"label"`
	Score    float64    `json:"score"`
	Color    color.RGBA `json:"-"`
	Location Rect       `json:"location"` // Unclamped pixel rectangle
}

// InferenceResult is everything one inference cycle produced.
type InferenceResult struct {
	FrameNum   uint64      // Sequential frame number
	Timestamp  time.Time   // Capture timestamp
	Detections []Detection // Raw, unfiltered predictions
}
