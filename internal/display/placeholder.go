package display

import (
	"image"
	"image/color"
	"image/draw"
	"strings"

	"github.com/shastasprojector/projector/internal/capture"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Placeholder names the message shown instead of content.
type Placeholder string

const (
	PlaceholderNone          Placeholder = ""
	PlaceholderTargetLost    Placeholder = "target_lost"
	PlaceholderMinimized     Placeholder = "minimized"
	PlaceholderCaptureFailed Placeholder = "capture_failed"
)

// Text is the user-facing message for a placeholder.
func (p Placeholder) Text() string {
	switch p {
	case PlaceholderTargetLost:
		return "Target lost\n(pick a new window or region)"
	case PlaceholderMinimized:
		return "Window minimized"
	case PlaceholderCaptureFailed:
		return "Capture failed\n(try moving overlay)"
	default:
		return ""
	}
}

var (
	placeholderBackground = color.RGBA{0x1e, 0x1e, 0x1e, 0xff}
	placeholderText       = color.RGBA{0xdc, 0xdc, 0xdc, 0xff}
)

// RenderPlaceholder draws text centred on a dark w x h frame.
func RenderPlaceholder(w, h int, text string) *capture.Frame {
	w, h = max(1, w), max(1, h)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{placeholderBackground}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(placeholderText),
		Face: face,
	}

	lines := strings.Split(text, "\n")
	lineHeight := face.Metrics().Height.Ceil()
	top := (h - lineHeight*len(lines)) / 2

	for i, line := range lines {
		width := d.MeasureString(line).Ceil()
		x := (w - width) / 2
		y := top + i*lineHeight + face.Metrics().Ascent.Ceil()
		d.Dot = fixed.P(x, y)
		d.DrawString(line)
	}

	return capture.NewFrame(img, capture.SourcePresented)
}
