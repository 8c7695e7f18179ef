package display

import (
	"image"
	"math"

	"github.com/shastasprojector/projector/internal/capture"
	"golang.org/x/image/draw"
)

// Layout is where the scaled source lands inside the viewport.
type Layout struct {
	// Dest is the scaled source rect in viewport coordinates. It always
	// contains the whole viewport.
	Dest image.Rectangle
	PanX int
	PanY int
}

// ComputeLayout scales a srcW x srcH source to cover the zoomed viewport
// box, centres it and clamps the pan so no background shows.
func ComputeLayout(srcW, srcH int, vp Viewport) Layout {
	vp = vp.Normalized()
	srcW, srcH = max(1, srcW), max(1, srcH)
	lw, lh := float64(vp.Width), float64(vp.Height)
	sw, sh := float64(srcW), float64(srcH)

	scale := math.Max(lw*vp.Zoom/sw, lh*vp.Zoom/sh)
	// Below zoom 1 the zoomed box is smaller than the viewport; never
	// shrink past full coverage.
	scale = math.Max(scale, math.Max(lw/sw, lh/sh))

	fw := max(vp.Width, int(math.Round(sw*scale)))
	fh := max(vp.Height, int(math.Round(sh*scale)))

	baseX := (vp.Width - fw) / 2
	baseY := (vp.Height - fh) / 2

	panX := clampInt(vp.PanX, vp.Width-fw-baseX, -baseX)
	panY := clampInt(vp.PanY, vp.Height-fh-baseY, -baseY)

	x, y := baseX+panX, baseY+panY
	return Layout{
		Dest: image.Rect(x, y, x+fw, y+fh),
		PanX: panX,
		PanY: panY,
	}
}

// Presenter turns captured frames into viewport-sized frames.
type Presenter struct {
	Scaler draw.Scaler
}

// NewPresenter returns a presenter using Catmull-Rom filtering when smooth
// is set and approximate bilinear otherwise.
func NewPresenter(smooth bool) *Presenter {
	if smooth {
		return &Presenter{Scaler: draw.CatmullRom}
	}
	return &Presenter{Scaler: draw.ApproxBiLinear}
}

// Present renders src into a frame of exactly the viewport size and
// returns the viewport with its pan clamped. Presenting the result again
// with the returned viewport yields the same pan.
func (p *Presenter) Present(src *capture.Frame, vp Viewport) (*capture.Frame, Viewport) {
	vp = vp.Normalized()
	layout := ComputeLayout(src.Width(), src.Height(), vp)
	vp.PanX, vp.PanY = layout.PanX, layout.PanY

	out := image.NewRGBA(image.Rect(0, 0, vp.Width, vp.Height))
	p.Scaler.Scale(out, layout.Dest, src.Image(), src.Bounds(), draw.Src, nil)
	return capture.NewFrame(out, capture.SourcePresented), vp
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
