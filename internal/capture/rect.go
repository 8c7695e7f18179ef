package capture

import (
	"fmt"
	"image"
)

// Rect is an integer rectangle in screen or window-local pixels.
type Rect struct {
	X      int `json:"x" mapstructure:"x" yaml:"x"`
	Y      int `json:"y" mapstructure:"y" yaml:"y"`
	Width  int `json:"width" mapstructure:"width" yaml:"width"`
	Height int `json:"height" mapstructure:"height" yaml:"height"`
}

// RectFromImage converts an image.Rectangle.
func RectFromImage(r image.Rectangle) Rect {
	return Rect{X: r.Min.X, Y: r.Min.Y, Width: r.Dx(), Height: r.Dy()}
}

// Empty reports whether the rect has no pixels.
func (r Rect) Empty() bool {
	return r.Width < 1 || r.Height < 1
}

// Image converts to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Intersect returns the overlap of r and o, or the zero Rect.
func (r Rect) Intersect(o Rect) Rect {
	in := r.Image().Intersect(o.Image())
	if in.Empty() {
		return Rect{}
	}
	return RectFromImage(in)
}

// Offset translates the rect.
func (r Rect) Offset(dx, dy int) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, Width: r.Width, Height: r.Height}
}

// Covers reports whether r is exactly the full w x h area.
func (r Rect) Covers(w, h int) bool {
	return r.X == 0 && r.Y == 0 && r.Width == w && r.Height == h
}

func (r Rect) String() string {
	return fmt.Sprintf("%dx%d+%d+%d", r.Width, r.Height, r.X, r.Y)
}

// ClampCrop forces a window-local crop inside a w x h window. The result
// always has at least one pixel and never extends past the window.
func ClampCrop(crop Rect, w, h int) Rect {
	w = max(1, w)
	h = max(1, h)

	x := clamp(crop.X, 0, w-1)
	y := clamp(crop.Y, 0, h-1)
	return Rect{
		X:      x,
		Y:      y,
		Width:  clamp(crop.Width, 1, w-x),
		Height: clamp(crop.Height, 1, h-y),
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
