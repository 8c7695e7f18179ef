package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/shastasprojector/projector/internal/logger"
)

// WindowFallback decides whether a failed window capture may degrade to
// scraping the window's screen rectangle.
type WindowFallback string

const (
	// WindowFallbackNone reports window capture failures as-is.
	WindowFallbackNone WindowFallback = "none"
	// WindowFallbackScreen scrapes the visible window area instead. The
	// result may show whatever covers the window.
	WindowFallbackScreen WindowFallback = "screen"
)

// ParseWindowFallback accepts the config spellings of the policy.
func ParseWindowFallback(s string) (WindowFallback, error) {
	switch WindowFallback(s) {
	case "", WindowFallbackNone:
		return WindowFallbackNone, nil
	case WindowFallbackScreen:
		return WindowFallbackScreen, nil
	}
	return "", fmt.Errorf("unknown window fallback policy %q", s)
}

// RouterOptions configures a Router.
type RouterOptions struct {
	WindowFallback WindowFallback
}

// Router implements Platform on top of one native Backend plus an OS-level
// screen grab used as the region fallback.
type Router struct {
	native   Backend
	fallback RegionGrabber
	opts     RouterOptions

	mu       sync.RWMutex
	started  bool
	nativeUp bool
}

// NewRouter creates a capture router. Either source may be nil.
func NewRouter(native Backend, fallback RegionGrabber, opts RouterOptions) *Router {
	if opts.WindowFallback == "" {
		opts.WindowFallback = WindowFallbackNone
	}
	return &Router{native: native, fallback: fallback, opts: opts}
}

// Start initializes the native backend. It succeeds as long as at least one
// capture source is usable.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return nil
	}

	log := logger.WithComponent("capture-router")

	if r.native != nil {
		if err := r.native.Start(); err != nil {
			log.Warn().Err(err).Str("backend", r.native.Name()).Msg("Native capture backend not available")
		} else {
			r.nativeUp = true
			log.Info().Str("backend", r.native.Name()).Msg("Native capture backend initialized")
		}
	}

	if !r.nativeUp && r.fallback == nil {
		return fmt.Errorf("no capture backends available")
	}

	log.Info().
		Bool("screen_grab_fallback", r.fallback != nil).
		Str("window_fallback", string(r.opts.WindowFallback)).
		Msg("Capture router started")

	r.started = true
	return nil
}

// Stop releases the native backend. Calling it more than once is harmless.
func (r *Router) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}

	var err error
	if r.nativeUp {
		err = r.native.Stop()
		r.nativeUp = false
	}
	r.started = false
	return err
}

// Name describes the active sources.
func (r *Router) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := "none"
	if r.nativeUp {
		name = r.native.Name()
	}
	if r.fallback != nil {
		name += "+screenshot"
	}
	return name
}

// WindowFallbackPolicy returns the configured window fallback.
func (r *Router) WindowFallbackPolicy() WindowFallback {
	return r.opts.WindowFallback
}

func (r *Router) nativeBackend() Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.nativeUp {
		return nil
	}
	return r.native
}

// Locate resolves a window to its screen rect.
func (r *Router) Locate(id WindowID) (Rect, error) {
	native := r.nativeBackend()
	if native == nil {
		return Rect{}, fmt.Errorf("%w: window %d: no native backend", ErrTargetUnresolvable, id)
	}

	rect, err := native.Locate(id)
	if err != nil {
		if errors.Is(err, ErrTargetUnresolvable) {
			return Rect{}, err
		}
		return Rect{}, fmt.Errorf("%w: window %d: %w", ErrTargetUnresolvable, id, err)
	}
	if rect.Empty() {
		return Rect{}, fmt.Errorf("%w: window %d has empty geometry %s", ErrTargetUnresolvable, id, rect)
	}
	return rect, nil
}

// IsMinimizedOrHidden reports true whenever the state cannot be queried.
func (r *Router) IsMinimizedOrHidden(id WindowID) bool {
	native := r.nativeBackend()
	if native == nil {
		return true
	}
	return native.IsMinimizedOrHidden(id)
}

// CaptureWindow grabs window content and applies the clamped crop.
func (r *Router) CaptureWindow(id WindowID, width, height int, crop *Rect) (*Frame, error) {
	log := logger.WithComponent("capture-router")

	if width < 1 || height < 1 {
		return nil, fmt.Errorf("%w: window %d has empty size %dx%d", ErrUnavailable, id, width, height)
	}

	native := r.nativeBackend()
	var (
		img *image.RGBA
		err = fmt.Errorf("no native backend")
	)
	if native != nil {
		img, err = native.CaptureWindow(id, width, height)
		if err == nil && img == nil {
			err = fmt.Errorf("backend returned no image")
		}
	}
	if err != nil {
		if r.opts.WindowFallback == WindowFallbackScreen {
			log.Debug().Err(err).Uint64("window_id", uint64(id)).Msg("Window capture failed, scraping screen rect")
			return r.scrapeWindow(id, crop)
		}
		return nil, fmt.Errorf("%w: window %d: %w", ErrUnavailable, id, err)
	}

	b := img.Bounds()
	if err := invariant(!b.Empty(), "window %d captured as empty image", id); err != nil {
		return nil, err
	}

	frame := NewFrame(img, SourceWindow)
	if crop == nil {
		return frame, nil
	}
	c := ClampCrop(*crop, frame.Width(), frame.Height())
	if c.Covers(frame.Width(), frame.Height()) {
		return frame, nil
	}
	return frame.Crop(c), nil
}

// scrapeWindow captures the on-screen area of a window, cropped.
func (r *Router) scrapeWindow(id WindowID, crop *Rect) (*Frame, error) {
	rect, err := r.Locate(id)
	if err != nil {
		return nil, err
	}
	return r.CaptureRegion(WindowScreenRect(rect, crop))
}

// WindowScreenRect returns the screen rectangle covered by a cropped window.
func WindowScreenRect(window Rect, crop *Rect) Rect {
	if crop == nil {
		return window
	}
	c := ClampCrop(*crop, window.Width, window.Height)
	return c.Offset(window.X, window.Y)
}

// CaptureRegion scrapes an absolute screen rect. The native path runs first
// and the screen grab covers its failures. Results always match the
// requested size exactly.
func (r *Router) CaptureRegion(rect Rect) (*Frame, error) {
	if rect.Empty() {
		return nil, fmt.Errorf("%w: degenerate region %s", ErrUnavailable, rect)
	}

	log := logger.WithComponent("capture-router")
	want := image.Pt(rect.Width, rect.Height)

	if native := r.nativeBackend(); native != nil {
		img, err := native.CaptureRegion(rect)
		switch {
		case err != nil:
			log.Debug().Err(err).Stringer("rect", rect).Msg("Native region capture failed")
		case img == nil:
			log.Debug().Stringer("rect", rect).Msg("Native region capture returned no image")
		case img.Bounds().Size() != want:
			log.Warn().
				Stringer("rect", rect).
				Int("got_width", img.Bounds().Dx()).
				Int("got_height", img.Bounds().Dy()).
				Msg("Native region capture returned wrong size")
		default:
			return NewFrame(img, SourceScreen), nil
		}
	}

	if r.fallback == nil {
		return nil, fmt.Errorf("%w: region %s", ErrUnavailable, rect)
	}

	img, err := r.fallback.Grab(rect)
	if err == nil && img == nil {
		err = fmt.Errorf("screen grab returned no image")
	}
	if err != nil {
		return nil, fmt.Errorf("%w: region %s: %w", ErrUnavailable, rect, err)
	}
	if err := invariant(img.Bounds().Size() == want,
		"screen grab returned %v for region %s", img.Bounds().Size(), rect); err != nil {
		return nil, err
	}
	return NewFrame(img, SourceScreen), nil
}
