package capture

import (
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

// ScreenshotGrabber grabs screen regions through the OS-level screenshot
// facility. It is the region fallback on every platform.
type ScreenshotGrabber struct{}

// Grab captures exactly r, or fails.
func (ScreenshotGrabber) Grab(r Rect) (img *image.RGBA, err error) {
	if r.Empty() {
		return nil, fmt.Errorf("invalid region dimensions: %s", r)
	}
	if screenshot.NumActiveDisplays() < 1 {
		return nil, fmt.Errorf("no active displays")
	}

	// Some display servers make the library panic instead of returning an error.
	defer func() {
		if p := recover(); p != nil {
			img, err = nil, fmt.Errorf("screen grab panicked: %v", p)
		}
	}()

	img, err = screenshot.CaptureRect(r.Image())
	if err != nil {
		return nil, fmt.Errorf("failed to capture screen region: %w", err)
	}
	if img.Rect.Min != (image.Point{}) {
		img = cloneRGBA(img)
	}
	// Screen grabs may carry transparent alpha on some platforms.
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img, nil
}

// DisplayBounds lists the bounds of every active display.
func DisplayBounds() []Rect {
	n := screenshot.NumActiveDisplays()
	out := make([]Rect, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, RectFromImage(screenshot.GetDisplayBounds(i)))
	}
	return out
}
