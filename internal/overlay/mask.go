package overlay

import (
	"image"
	"image/draw"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/logger"
)

// Masker hides overlay windows that a screen scrape picked up by pasting
// the same area of the previous frame over them.
type Masker struct{}

// Mask returns fresh with every area covered by a live overlay replaced by
// the previous frame's pixels. fresh is returned untouched when there is no
// previous frame, the sizes differ, or nothing overlaps.
func (Masker) Mask(fresh *capture.Frame, captureRect capture.Rect, live []LiveBounds, previous *capture.Frame) *capture.Frame {
	if previous == nil || len(live) == 0 {
		return fresh
	}
	if !fresh.SameSize(previous) || fresh.Width() != captureRect.Width || fresh.Height() != captureRect.Height {
		logger.WithComponent("masker").Debug().
			Stringer("capture_rect", captureRect).
			Int("fresh_width", fresh.Width()).
			Int("fresh_height", fresh.Height()).
			Int("previous_width", previous.Width()).
			Int("previous_height", previous.Height()).
			Msg("Frame size changed, skipping mask")
		return fresh
	}

	var out *image.RGBA
	for _, l := range live {
		hit := l.Rect.Intersect(captureRect)
		if hit.Empty() {
			continue
		}
		if out == nil {
			out = fresh.CloneRGBA()
		}
		local := hit.Offset(-captureRect.X, -captureRect.Y).Image()
		draw.Draw(out, local, previous.Image(), local.Min, draw.Src)
	}
	if out == nil {
		return fresh
	}
	return capture.NewFrame(out, fresh.Source())
}
