package capture

import (
	"image"
	"image/color"
	"image/draw"
)

// Source records how a frame's pixels were obtained.
type Source int

const (
	// SourceWindow frames come from occlusion-independent window capture.
	SourceWindow Source = iota
	// SourceScreen frames were scraped from the visible screen and may
	// contain overlay pixels.
	SourceScreen
	// SourcePresented frames were produced by scaling for display.
	SourcePresented
)

func (s Source) String() string {
	switch s {
	case SourceWindow:
		return "window"
	case SourceScreen:
		return "screen"
	case SourcePresented:
		return "presented"
	default:
		return "unknown"
	}
}

// Frame is an immutable top-down RGBA bitmap. Nothing mutates a Frame after
// NewFrame returns; composition works on CloneRGBA copies.
type Frame struct {
	img    *image.RGBA
	source Source
}

// NewFrame takes ownership of img. The caller must not write to img
// afterwards. Images not anchored at the origin are copied.
func NewFrame(img *image.RGBA, source Source) *Frame {
	if img.Rect.Min != (image.Point{}) {
		img = cloneRGBA(img)
	}
	return &Frame{img: img, source: source}
}

// Width returns the frame width in pixels.
func (f *Frame) Width() int { return f.img.Rect.Dx() }

// Height returns the frame height in pixels.
func (f *Frame) Height() int { return f.img.Rect.Dy() }

// Bounds returns the frame rectangle anchored at the origin.
func (f *Frame) Bounds() image.Rectangle { return f.img.Rect }

// Source returns how the frame was produced.
func (f *Frame) Source() Source { return f.source }

// Image exposes the pixels read-only.
func (f *Frame) Image() image.Image { return f.img }

// RGBAAt returns the pixel at (x, y).
func (f *Frame) RGBAAt(x, y int) color.RGBA { return f.img.RGBAAt(x, y) }

// SameSize reports whether both frames have identical dimensions.
func (f *Frame) SameSize(o *Frame) bool {
	return o != nil && f.img.Rect.Size() == o.img.Rect.Size()
}

// CloneRGBA returns a writable copy of the pixels.
func (f *Frame) CloneRGBA() *image.RGBA {
	return cloneRGBA(f.img)
}

// Crop returns a new frame holding the r sub-area. r must lie inside the frame.
func (f *Frame) Crop(r Rect) *Frame {
	sub := f.img.SubImage(r.Image()).(*image.RGBA)
	return &Frame{img: cloneRGBA(sub), source: f.source}
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	return dst
}
