package overlay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/display"
	"github.com/shastasprojector/projector/internal/logger"
)

const (
	// CaptureInterval is the fixed capture tick period (20 Hz).
	CaptureInterval = 50 * time.Millisecond
	// DefaultCallTimeout bounds the platform work of a single tick.
	DefaultCallTimeout = 250 * time.Millisecond
)

var (
	// ErrStopped is returned by operations on a stopped overlay.
	ErrStopped = errors.New("overlay stopped")
	// ErrNotWindowTarget is returned by window-only queries in region mode.
	ErrNotWindowTarget = errors.New("overlay is not targeting a window")
)

// CaptureOptions configures a CaptureOverlay.
type CaptureOptions struct {
	ID          string
	Name        string
	Platform    capture.Platform
	Registry    *Registry
	Presenter   *display.Presenter
	Observer    Observer
	CallTimeout time.Duration
	Viewport    display.Viewport
	Bounds      capture.Rect
	Visible     bool
}

// CaptureOverlay mirrors a window or screen region into a viewport at a
// fixed rate. Capture runs on the overlay's own goroutine; at most one
// platform call is in flight and overlapping ticks are skipped.
type CaptureOverlay struct {
	base

	platform capture.Platform
	registry *Registry
	masker   Masker
	timeout  time.Duration

	// guarded by base.mu
	target     *capture.Target
	generation uint64
	state      State
	failures   int
	lastErr    string

	inFlight atomic.Bool
	skipped  atomic.Uint64
	kick     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewCaptureOverlay creates an idle overlay and registers it as live.
func NewCaptureOverlay(opts CaptureOptions) (*CaptureOverlay, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("overlay id is required")
	}
	if opts.Platform == nil {
		return nil, fmt.Errorf("overlay %s: no capture platform", opts.ID)
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}

	o := &CaptureOverlay{
		platform: opts.Platform,
		registry: opts.Registry,
		timeout:  opts.CallTimeout,
		state:    StateIdle,
		kick:     make(chan struct{}, 1),
	}
	o.init(opts.ID, opts.Name, KindCapture, opts.Presenter, opts.Observer, opts.Viewport, opts.Bounds, opts.Visible)
	o.decorate = o.decorateSnapshot

	if o.registry != nil {
		if err := o.registry.Register(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *CaptureOverlay) decorateSnapshot(s *Snapshot) {
	s.State = o.state
	s.Target = o.target
	s.Failures = o.failures
	s.LastError = o.lastErr
	s.Zoomable = true
}

// Start launches the capture loop. The overlay stays idle until it has both
// a running loop and a target.
func (o *CaptureOverlay) Start() error {
	return o.start(o.loop)
}

// start arms the scheduler and runs run on its own goroutine. A nil run arms
// without a loop, leaving ticks to the caller.
func (o *CaptureOverlay) start(run func(ctx context.Context)) error {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrStopped
	}
	if o.cancel != nil {
		o.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	if run != nil {
		go func() {
			defer close(o.done)
			run(ctx)
		}()
	} else {
		close(o.done)
	}

	armed := o.target != nil && o.state == StateIdle
	var snap Snapshot
	if armed {
		o.state = StateCapturing
		snap = o.stampedLocked()
	}
	o.mu.Unlock()

	if armed {
		o.emitState(snap)
		o.requestTick()
	}
	return nil
}

func (o *CaptureOverlay) loop(ctx context.Context) {

	ticker := time.NewTicker(CaptureInterval)
	defer ticker.Stop()

	log := logger.WithOverlay("capture-scheduler", o.id)
	log.Info().Dur("interval", CaptureInterval).Dur("call_timeout", o.timeout).Msg("Capture loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("skipped_ticks", o.skipped.Load()).Msg("Capture loop stopped")
			return
		case <-ticker.C:
			o.tick(ctx)
		case <-o.kick:
			o.tick(ctx)
		}
	}
}

// Stop halts the timer, waits for the loop to exit, then deregisters and
// drops cached frames. It is safe to call more than once.
func (o *CaptureOverlay) Stop() {
	o.stopOnce.Do(func() {
		o.mu.Lock()
		o.stopped = true
		o.state = StateStopped
		cancel, done := o.cancel, o.done
		o.mu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}
		if o.registry != nil {
			o.registry.Deregister(o.id)
		}

		o.mu.Lock()
		o.content = nil
		snap := o.stampedLocked()
		o.mu.Unlock()

		o.emitState(snap)
		logger.WithOverlay("capture-scheduler", o.id).Debug().Msg("Overlay stopped")
	})
}

// State returns the scheduler state.
func (o *CaptureOverlay) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// SkippedTicks counts ticks dropped because a capture was still running.
func (o *CaptureOverlay) SkippedTicks() uint64 {
	return o.skipped.Load()
}

// SetTarget replaces the capture target. The cached frame is dropped and
// the pan recentred; the next tick captures the new target.
func (o *CaptureOverlay) SetTarget(t capture.Target) error {
	if t.Mode != capture.ModeRegion && t.Mode != capture.ModeWindow {
		return fmt.Errorf("unknown capture mode %q", t.Mode)
	}
	if t.Crop != nil {
		c := *t.Crop
		t.Crop = &c
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return ErrStopped
	}
	o.target = &t
	o.generation++
	o.content = nil
	o.placeholder = display.PlaceholderNone
	o.failures = 0
	o.lastErr = ""
	o.viewport = o.viewport.Fitted()
	if o.cancel != nil {
		o.state = StateCapturing
	}
	snap := o.stampedLocked()
	o.mu.Unlock()

	logger.WithOverlay("capture-scheduler", o.id).Info().
		Str("mode", string(t.Mode)).
		Stringer("region", t.Region).
		Uint64("window_id", uint64(t.Window)).
		Str("title", t.Title).
		Msg("Capture target set")

	o.emitState(snap)
	o.requestTick()
	return nil
}

// Target returns a copy of the current target, if any.
func (o *CaptureOverlay) Target() (capture.Target, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.target == nil {
		return capture.Target{}, false
	}
	return *o.target, true
}

// CropRect returns the window-local crop, or nil when uncropped.
func (o *CaptureOverlay) CropRect() *capture.Rect {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.target == nil || o.target.Crop == nil {
		return nil
	}
	c := *o.target.Crop
	return &c
}

// FullTargetRect returns the target window's current screen rect. Used by
// the picker to re-crop an already chosen window.
func (o *CaptureOverlay) FullTargetRect() (capture.Rect, error) {
	t, ok := o.Target()
	if !ok || t.Mode != capture.ModeWindow {
		return capture.Rect{}, ErrNotWindowTarget
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	type located struct {
		rect capture.Rect
		err  error
	}
	ch := make(chan located, 1)
	go func() {
		r, err := o.platform.Locate(t.Window)
		ch <- located{r, err}
	}()

	select {
	case l := <-ch:
		return l.rect, l.err
	case <-ctx.Done():
		return capture.Rect{}, fmt.Errorf("%w: locating window %d timed out", capture.ErrUnavailable, t.Window)
	}
}

// Zoom returns the current zoom factor.
func (o *CaptureOverlay) Zoom() float64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewport.Zoom
}

// SetZoom sets the zoom factor, clamped to the allowed range.
func (o *CaptureOverlay) SetZoom(z float64) {
	o.mutate(true, func() { o.viewport = o.viewport.WithZoom(z) })
}

// ZoomBy applies mouse-wheel notches.
func (o *CaptureOverlay) ZoomBy(steps int) {
	o.mutate(true, func() { o.viewport = o.viewport.Stepped(steps) })
}

// LastFrame returns the most recent raw captured frame.
func (o *CaptureOverlay) LastFrame() *capture.Frame {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.content
}

func (o *CaptureOverlay) requestTick() {
	select {
	case o.kick <- struct{}{}:
	default:
	}
}

type tickResult struct {
	frame *capture.Frame
	err   error
}

// tick runs one capture cycle.
func (o *CaptureOverlay) tick(ctx context.Context) {
	if !o.inFlight.CompareAndSwap(false, true) {
		o.skipped.Add(1)
		logger.WithOverlay("capture-scheduler", o.id).Trace().Msg("Previous capture still running, skipping tick")
		return
	}

	o.mu.Lock()
	if o.stopped || o.target == nil || o.state == StateIdle {
		o.mu.Unlock()
		o.inFlight.Store(false)
		return
	}
	target := *o.target
	gen := o.generation
	prev := o.content
	o.mu.Unlock()

	res := o.bounded(ctx, func() tickResult {
		return o.captureTarget(target, prev)
	})
	o.apply(gen, target, res)
}

// bounded runs fn on its own goroutine and gives up after the call
// timeout. inFlight stays set until fn really returns, so a stuck platform
// call makes later ticks skip instead of piling up.
func (o *CaptureOverlay) bounded(ctx context.Context, fn func() tickResult) tickResult {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	ch := make(chan tickResult, 1)
	go func() {
		defer o.inFlight.Store(false)
		ch <- fn()
	}()

	select {
	case res := <-ch:
		return res
	case <-ctx.Done():
		return tickResult{err: fmt.Errorf("%w: platform call exceeded %s", capture.ErrUnavailable, o.timeout)}
	}
}

// captureTarget resolves the target and grabs one frame. Screen scrapes are
// masked against the live overlays using the previous frame.
func (o *CaptureOverlay) captureTarget(t capture.Target, prev *capture.Frame) tickResult {
	switch t.Mode {
	case capture.ModeRegion:
		if t.Region.Empty() {
			return tickResult{err: fmt.Errorf("%w: degenerate region %s", capture.ErrTargetUnresolvable, t.Region)}
		}
		f, err := o.platform.CaptureRegion(t.Region)
		if err != nil {
			return tickResult{err: err}
		}
		return tickResult{frame: o.mask(f, t.Region, prev)}

	case capture.ModeWindow:
		rect, err := o.platform.Locate(t.Window)
		if err != nil {
			if !errors.Is(err, capture.ErrTargetUnresolvable) {
				err = fmt.Errorf("%w: %w", capture.ErrTargetUnresolvable, err)
			}
			return tickResult{err: err}
		}
		if o.platform.IsMinimizedOrHidden(t.Window) {
			return tickResult{err: fmt.Errorf("%w: window %d", capture.ErrTargetMinimized, t.Window)}
		}
		f, err := o.platform.CaptureWindow(t.Window, rect.Width, rect.Height, t.Crop)
		if err != nil {
			return tickResult{err: err}
		}
		if f.Source() == capture.SourceScreen {
			f = o.mask(f, capture.WindowScreenRect(rect, t.Crop), prev)
		}
		return tickResult{frame: f}
	}
	return tickResult{err: fmt.Errorf("%w: unknown mode %q", capture.ErrTargetUnresolvable, t.Mode)}
}

func (o *CaptureOverlay) mask(f *capture.Frame, rect capture.Rect, prev *capture.Frame) *capture.Frame {
	if o.registry == nil || prev == nil {
		return f
	}
	return o.masker.Mask(f, rect, o.registry.Snapshot(), prev)
}

// apply folds a tick result into the overlay state and notifies observers.
// Results for a replaced target are dropped.
func (o *CaptureOverlay) apply(gen uint64, t capture.Target, res tickResult) {
	log := logger.WithOverlay("capture-scheduler", o.id)

	o.mu.Lock()
	if o.stopped || gen != o.generation {
		o.mu.Unlock()
		return
	}

	before := o.snapshotLocked()

	switch {
	case res.err == nil:
		o.content = res.frame
		o.placeholder = display.PlaceholderNone
		o.state = StateCapturing
		o.failures = 0
		o.lastErr = ""

	case errors.Is(res.err, capture.ErrTargetMinimized):
		o.content = nil
		o.placeholder = display.PlaceholderMinimized
		o.state = StateTargetInvalid
		o.failures++
		o.lastErr = res.err.Error()

	case errors.Is(res.err, capture.ErrTargetUnresolvable):
		o.content = nil
		o.placeholder = display.PlaceholderTargetLost
		o.state = StateTargetInvalid
		o.failures++
		o.lastErr = res.err.Error()

	default:
		// Region failures are transient; a failed window grab leaves no
		// trustworthy frame to mask against.
		if t.Mode == capture.ModeWindow {
			o.content = nil
		}
		o.placeholder = display.PlaceholderCaptureFailed
		o.state = StateCapturing
		o.failures++
		o.lastErr = res.err.Error()
	}

	d := o.presentLocked()
	snap := o.snapshotLocked()
	changed := stateChanged(before, snap)
	if changed {
		snap.Seq = nextSeq()
	}
	o.mu.Unlock()

	if res.err != nil {
		log.Debug().Err(res.err).Int("consecutive_failures", snap.Failures).Msg("Capture tick failed")
	}

	o.publish(d)
	if changed {
		log.Debug().Str("state", string(snap.State)).Str("placeholder", string(snap.Placeholder)).Msg("Overlay state changed")
		o.emitState(snap)
	}
}

// stateChanged ignores the failure counter and error text, which move on
// every failing tick.
func stateChanged(a, b Snapshot) bool {
	a.Failures, b.Failures = 0, 0
	a.LastError, b.LastError = "", ""
	a.Seq, b.Seq = 0, 0
	return a != b
}
