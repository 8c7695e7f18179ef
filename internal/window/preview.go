package window

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"github.com/shastasprojector/projector/internal/capture"
)

// Preview grabs a window and shrinks it to fit maxWidth x maxHeight,
// keeping the aspect ratio. Minimized windows are reported as such.
func Preview(p capture.Platform, id capture.WindowID, maxWidth, maxHeight int) (image.Image, error) {
	if maxWidth < 1 || maxHeight < 1 {
		return nil, fmt.Errorf("invalid preview size %dx%d", maxWidth, maxHeight)
	}

	rect, err := p.Locate(id)
	if err != nil {
		return nil, err
	}
	if p.IsMinimizedOrHidden(id) {
		return nil, fmt.Errorf("%w: window %d", capture.ErrTargetMinimized, id)
	}

	frame, err := p.CaptureWindow(id, rect.Width, rect.Height, nil)
	if err != nil {
		return nil, err
	}
	return resize.Thumbnail(uint(maxWidth), uint(maxHeight), frame.Image(), resize.Bilinear), nil
}
