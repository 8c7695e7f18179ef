package display

import "math"

const (
	// MinZoom and MaxZoom bound the viewport magnification.
	MinZoom = 0.5
	MaxZoom = 3.0
	// ZoomStep is the zoom change for one mouse-wheel notch.
	ZoomStep = 0.08
)

// ClampZoom forces z into [MinZoom, MaxZoom]. Non-finite values reset to 1.
func ClampZoom(z float64) float64 {
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return 1
	}
	return math.Max(MinZoom, math.Min(MaxZoom, z))
}

// Viewport is the per-overlay presentation state: size in pixels, zoom and
// the pan offset of the scaled content.
type Viewport struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	Zoom   float64 `json:"zoom"`
	PanX   int     `json:"pan_x"`
	PanY   int     `json:"pan_y"`
}

// NewViewport returns an unzoomed, unpanned viewport.
func NewViewport(width, height int) Viewport {
	return Viewport{Width: width, Height: height, Zoom: 1}
}

// Normalized returns v with a usable size and a clamped zoom.
func (v Viewport) Normalized() Viewport {
	v.Width = max(1, v.Width)
	v.Height = max(1, v.Height)
	v.Zoom = ClampZoom(v.Zoom)
	return v
}

// WithZoom returns v zoomed to z.
func (v Viewport) WithZoom(z float64) Viewport {
	v.Zoom = ClampZoom(z)
	return v
}

// Stepped applies n wheel notches; positive zooms in.
func (v Viewport) Stepped(n int) Viewport {
	return v.WithZoom(ClampZoom(v.Zoom) + float64(n)*ZoomStep)
}

// Panned shifts the pan offset. The presenter clamps it on the next render.
func (v Viewport) Panned(dx, dy int) Viewport {
	v.PanX += dx
	v.PanY += dy
	return v
}

// Fitted resets the pan so the content is centred again.
func (v Viewport) Fitted() Viewport {
	v.PanX, v.PanY = 0, 0
	return v
}

// Resized changes the viewport size, keeping zoom and pan.
func (v Viewport) Resized(width, height int) Viewport {
	v.Width, v.Height = width, height
	return v
}
