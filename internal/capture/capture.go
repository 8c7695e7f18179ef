package capture

import (
	"errors"
	"fmt"
	"image"
)

var (
	// ErrTargetUnresolvable means the window is gone, its handle is stale, or
	// the region is degenerate.
	ErrTargetUnresolvable = errors.New("capture target unresolvable")

	// ErrTargetMinimized means the window exists but is minimized or hidden.
	ErrTargetMinimized = errors.New("capture target minimized or hidden")

	// ErrUnavailable covers every transient capture failure, including
	// exhausted graphics resources and platform calls that timed out.
	ErrUnavailable = errors.New("capture unavailable")
)

// WindowID is an opaque platform window handle (HWND, X11 XID, CGWindowID).
type WindowID uint64

// Mode selects what a capture target points at.
type Mode string

const (
	ModeRegion Mode = "region"
	ModeWindow Mode = "window"
)

// Target describes what an overlay mirrors. Targets are values: re-picking
// replaces the whole target instead of editing it in place.
type Target struct {
	Mode   Mode     `json:"mode"`
	Region Rect     `json:"region,omitempty"`
	Window WindowID `json:"window_id,omitempty"`
	Title  string   `json:"title,omitempty"`
	// Crop is window-local and only meaningful in window mode.
	Crop *Rect `json:"crop,omitempty"`
}

// RegionTarget targets an absolute screen rectangle.
func RegionTarget(r Rect) Target {
	return Target{Mode: ModeRegion, Region: r}
}

// WindowTarget targets a window, optionally cropped to a window-local rect.
func WindowTarget(id WindowID, title string, crop *Rect) Target {
	t := Target{Mode: ModeWindow, Window: id, Title: title}
	if crop != nil {
		c := *crop
		t.Crop = &c
	}
	return t
}

// Validate reports targets that can never be resolved.
func (t Target) Validate() error {
	switch t.Mode {
	case ModeRegion:
		if t.Region.Empty() {
			return fmt.Errorf("%w: degenerate region %s", ErrTargetUnresolvable, t.Region)
		}
	case ModeWindow:
		if t.Window == 0 {
			return fmt.Errorf("%w: no window selected", ErrTargetUnresolvable)
		}
	default:
		return fmt.Errorf("unknown capture mode %q", t.Mode)
	}
	return nil
}

// WindowLocator resolves a window handle to its current screen rectangle.
type WindowLocator interface {
	// Locate returns the window's outer screen rect in top-left origin
	// coordinates, or ErrTargetUnresolvable.
	Locate(id WindowID) (Rect, error)

	// IsMinimizedOrHidden fails closed: any query failure reports true.
	IsMinimizedOrHidden(id WindowID) bool
}

// WindowCapturer grabs window content independently of what covers it.
type WindowCapturer interface {
	CaptureWindow(id WindowID, width, height int, crop *Rect) (*Frame, error)
}

// RegionCapturer scrapes whatever is visible inside a screen rectangle.
type RegionCapturer interface {
	CaptureRegion(r Rect) (*Frame, error)
}

// Platform bundles the three strategies an overlay needs.
type Platform interface {
	WindowLocator
	WindowCapturer
	RegionCapturer
}

// Backend is one native platform implementation. Images it returns are
// top-down RGBA with opaque alpha and are owned by the caller.
type Backend interface {
	Name() string
	Start() error
	Stop() error
	Locate(id WindowID) (Rect, error)
	IsMinimizedOrHidden(id WindowID) bool
	// CaptureWindow returns the full window content at up to width x height.
	CaptureWindow(id WindowID, width, height int) (*image.RGBA, error)
	CaptureRegion(r Rect) (*image.RGBA, error)
}

// RegionGrabber is the OS-level screen grab used when the native region
// path fails.
type RegionGrabber interface {
	Grab(r Rect) (*image.RGBA, error)
}
