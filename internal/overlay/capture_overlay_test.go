package overlay

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/display"
	xdraw "golang.org/x/image/draw"
)

type fakePlatform struct {
	mu           sync.Mutex
	window       capture.Rect
	locateErr    error
	minimized    bool
	windowErr    error
	windowSource capture.Source
	regionErr    error
	color        color.RGBA
	block        chan struct{}
	regionCalls  int
	windowCalls  int
	lastCrop     *capture.Rect
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		window:       capture.Rect{X: 100, Y: 100, Width: 300, Height: 200},
		windowSource: capture.SourceWindow,
		color:        red,
	}
}

func (p *fakePlatform) set(fn func(p *fakePlatform)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

func (p *fakePlatform) Locate(id capture.WindowID) (capture.Rect, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locateErr != nil {
		return capture.Rect{}, p.locateErr
	}
	return p.window, nil
}

func (p *fakePlatform) IsMinimizedOrHidden(id capture.WindowID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.minimized
}

func (p *fakePlatform) CaptureWindow(id capture.WindowID, width, height int, crop *capture.Rect) (*capture.Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.windowCalls++
	p.lastCrop = crop
	if p.windowErr != nil {
		return nil, p.windowErr
	}
	f := solidFrame(width, height, p.color, p.windowSource)
	if crop != nil {
		f = f.Crop(capture.ClampCrop(*crop, width, height))
	}
	return f, nil
}

func (p *fakePlatform) CaptureRegion(r capture.Rect) (*capture.Frame, error) {
	p.mu.Lock()
	block := p.block
	p.mu.Unlock()
	if block != nil {
		<-block
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.regionCalls++
	if p.regionErr != nil {
		return nil, p.regionErr
	}
	return solidFrame(r.Width, r.Height, p.color, capture.SourceScreen), nil
}

type eventLog struct {
	mu     sync.Mutex
	states []Snapshot
	frames int
}

func (l *eventLog) OverlayEvent(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch ev.Kind {
	case EventStateChanged:
		l.states = append(l.states, *ev.Snapshot)
	case EventDisplay:
		l.frames++
	}
}

func (l *eventLog) stateCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.states)
}

// newTestOverlay returns an overlay armed without a loop; tests drive it
// with tickOnce.
func newTestOverlay(t *testing.T, p capture.Platform, reg *Registry, obs Observer, bounds capture.Rect) *CaptureOverlay {
	t.Helper()
	o := newIdleOverlay(t, p, reg, obs, bounds)
	if err := o.start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	return o
}

func newIdleOverlay(t *testing.T, p capture.Platform, reg *Registry, obs Observer, bounds capture.Rect) *CaptureOverlay {
	t.Helper()
	o, err := NewCaptureOverlay(CaptureOptions{
		ID:          "test",
		Platform:    p,
		Registry:    reg,
		Presenter:   &display.Presenter{Scaler: xdraw.NearestNeighbor},
		Observer:    obs,
		CallTimeout: 50 * time.Millisecond,
		Viewport:    display.NewViewport(100, 80),
		Bounds:      bounds,
		Visible:     true,
	})
	if err != nil {
		t.Fatalf("NewCaptureOverlay: %v", err)
	}
	t.Cleanup(o.Stop)
	return o
}

func tickOnce(o *CaptureOverlay) {
	o.tick(context.Background())
}

func TestCaptureOverlayRegionTick(t *testing.T) {
	p := newFakePlatform()
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})

	tickOnce(o)
	if o.Current().Frame != nil {
		t.Fatal("idle overlay produced a frame")
	}

	if err := o.SetTarget(capture.RegionTarget(capture.Rect{Width: 200, Height: 100})); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	tickOnce(o)

	d := o.Current()
	if d.Frame == nil {
		t.Fatal("no frame after tick")
	}
	if d.Frame.Width() != 100 || d.Frame.Height() != 80 {
		t.Errorf("presented %dx%d, want 100x80", d.Frame.Width(), d.Frame.Height())
	}
	if o.State() != StateCapturing {
		t.Errorf("State = %s, want capturing", o.State())
	}
	if f := o.LastFrame(); f == nil || f.Width() != 200 || f.Height() != 100 {
		t.Errorf("LastFrame = %v, want 200x100", f)
	}
}

func TestCaptureOverlayTargetLost(t *testing.T) {
	p := newFakePlatform()
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})
	_ = o.SetTarget(capture.WindowTarget(7, "editor", nil))

	tickOnce(o)
	if o.LastFrame() == nil {
		t.Fatal("no frame before window loss")
	}

	p.set(func(p *fakePlatform) {
		p.locateErr = fmt.Errorf("%w: window 7 destroyed", capture.ErrTargetUnresolvable)
	})
	tickOnce(o)

	if o.State() != StateTargetInvalid {
		t.Errorf("State = %s, want target_invalid", o.State())
	}
	if o.LastFrame() != nil {
		t.Error("frame cache not cleared")
	}
	d := o.Current()
	if d.Frame != nil || d.Placeholder != display.PlaceholderTargetLost {
		t.Errorf("display = %+v, want target lost placeholder", d)
	}
	if r := d.Render(); r.Width() != 100 || r.Height() != 80 {
		t.Errorf("placeholder rendered %dx%d", r.Width(), r.Height())
	}
}

func TestCaptureOverlayLocateErrorsAreUnresolvable(t *testing.T) {
	p := newFakePlatform()
	p.locateErr = errors.New("bad window")
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})
	_ = o.SetTarget(capture.WindowTarget(7, "", nil))

	tickOnce(o)

	if o.State() != StateTargetInvalid {
		t.Errorf("State = %s, want target_invalid", o.State())
	}
	if o.Snapshot().Placeholder != display.PlaceholderTargetLost {
		t.Errorf("Placeholder = %q", o.Snapshot().Placeholder)
	}
}

func TestCaptureOverlayMinimized(t *testing.T) {
	p := newFakePlatform()
	p.minimized = true
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})
	_ = o.SetTarget(capture.WindowTarget(7, "", nil))

	tickOnce(o)

	if o.State() != StateTargetInvalid {
		t.Errorf("State = %s, want target_invalid", o.State())
	}
	if o.Current().Placeholder != display.PlaceholderMinimized {
		t.Errorf("Placeholder = %q, want minimized", o.Current().Placeholder)
	}
	if p.windowCalls != 0 {
		t.Errorf("captured a minimized window %d times", p.windowCalls)
	}
}

func TestCaptureOverlayRecoveryDoesNotMaskWithStaleFrame(t *testing.T) {
	p := newFakePlatform()
	p.windowSource = capture.SourceScreen
	reg := NewRegistry()
	other := &fakeLive{id: "other", rect: capture.Rect{X: 150, Y: 150, Width: 50, Height: 50}, visible: true}
	if err := reg.Register(other); err != nil {
		t.Fatal(err)
	}
	o := newTestOverlay(t, p, reg, nil, capture.Rect{})
	_ = o.SetTarget(capture.WindowTarget(7, "", nil))

	tickOnce(o)

	p.set(func(p *fakePlatform) {
		p.locateErr = capture.ErrTargetUnresolvable
	})
	tickOnce(o)

	p.set(func(p *fakePlatform) {
		p.locateErr = nil
		p.color = green
	})
	tickOnce(o)

	f := o.LastFrame()
	if f == nil {
		t.Fatal("no frame after recovery")
	}
	// (60,60) in window coordinates is inside the other overlay.
	if got := f.RGBAAt(60, 60); got != green {
		t.Errorf("recovered frame masked with stale pixels: %v", got)
	}

	p.set(func(p *fakePlatform) { p.color = blue })
	tickOnce(o)

	f = o.LastFrame()
	if got := f.RGBAAt(60, 60); got != green {
		t.Errorf("overlay area = %v, want previous green", got)
	}
	if got := f.RGBAAt(10, 10); got != blue {
		t.Errorf("uncovered area = %v, want fresh blue", got)
	}
}

func TestCaptureOverlayMasksItself(t *testing.T) {
	p := newFakePlatform()
	reg := NewRegistry()
	o := newTestOverlay(t, p, reg, nil, capture.Rect{X: 50, Y: 50, Width: 20, Height: 20})
	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 200, Height: 100}))

	tickOnce(o)
	p.set(func(p *fakePlatform) { p.color = blue })
	tickOnce(o)

	f := o.LastFrame()
	if got := f.RGBAAt(60, 60); got != red {
		t.Errorf("own window area = %v, want previous red", got)
	}
	if got := f.RGBAAt(10, 10); got != blue {
		t.Errorf("rest = %v, want blue", got)
	}

	o.Hide()
	tickOnce(o)
	if got := o.LastFrame().RGBAAt(60, 60); got != blue {
		t.Errorf("hidden overlay still masked: %v", got)
	}
}

func TestCaptureOverlayWindowSourceNotMasked(t *testing.T) {
	p := newFakePlatform()
	reg := NewRegistry()
	_ = reg.Register(&fakeLive{id: "other", rect: capture.Rect{X: 100, Y: 100, Width: 300, Height: 200}, visible: true})
	o := newTestOverlay(t, p, reg, nil, capture.Rect{})
	_ = o.SetTarget(capture.WindowTarget(7, "", nil))

	tickOnce(o)
	p.set(func(p *fakePlatform) { p.color = blue })
	tickOnce(o)

	if got := o.LastFrame().RGBAAt(10, 10); got != blue {
		t.Errorf("window capture was masked: %v", got)
	}
}

func TestCaptureOverlayRegionFailureKeepsCache(t *testing.T) {
	p := newFakePlatform()
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})
	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 200, Height: 100}))
	tickOnce(o)

	p.set(func(p *fakePlatform) {
		p.regionErr = fmt.Errorf("%w: grab failed", capture.ErrUnavailable)
	})
	tickOnce(o)

	snap := o.Snapshot()
	if snap.State != StateCapturing {
		t.Errorf("State = %s, want capturing", snap.State)
	}
	if snap.Placeholder != display.PlaceholderCaptureFailed {
		t.Errorf("Placeholder = %q, want capture_failed", snap.Placeholder)
	}
	if snap.Failures != 1 {
		t.Errorf("Failures = %d, want 1", snap.Failures)
	}
	if o.LastFrame() == nil {
		t.Error("region failure dropped the cached frame")
	}
}

func TestCaptureOverlayWindowFailureClearsCache(t *testing.T) {
	p := newFakePlatform()
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})
	_ = o.SetTarget(capture.WindowTarget(7, "", nil))
	tickOnce(o)

	p.set(func(p *fakePlatform) { p.windowErr = capture.ErrUnavailable })
	tickOnce(o)

	if o.LastFrame() != nil {
		t.Error("window failure kept the cached frame")
	}
	if o.State() != StateCapturing {
		t.Errorf("State = %s, want capturing", o.State())
	}
}

func TestCaptureOverlayCropPassedThrough(t *testing.T) {
	p := newFakePlatform()
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})
	crop := &capture.Rect{X: 10, Y: 20, Width: 120, Height: 60}
	_ = o.SetTarget(capture.WindowTarget(7, "", crop))
	crop.Width = 5

	tickOnce(o)

	if p.lastCrop == nil || p.lastCrop.Width != 120 {
		t.Errorf("crop = %v, want copy with width 120", p.lastCrop)
	}
	f := o.LastFrame()
	if f.Width() != 120 || f.Height() != 60 {
		t.Errorf("frame %dx%d, want 120x60", f.Width(), f.Height())
	}
	if c := o.CropRect(); c == nil || *c != (capture.Rect{X: 10, Y: 20, Width: 120, Height: 60}) {
		t.Errorf("CropRect = %v", c)
	}
}

func TestCaptureOverlayTimeoutAndSkip(t *testing.T) {
	p := newFakePlatform()
	block := make(chan struct{})
	p.block = block
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})
	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 50, Height: 50}))

	tickOnce(o)

	snap := o.Snapshot()
	if snap.Placeholder != display.PlaceholderCaptureFailed {
		t.Errorf("Placeholder = %q, want capture_failed", snap.Placeholder)
	}
	if !strings.Contains(snap.LastError, capture.ErrUnavailable.Error()) {
		t.Errorf("LastError = %q, want unavailable", snap.LastError)
	}

	// The stuck call is still running, so this tick must be skipped.
	tickOnce(o)
	if o.SkippedTicks() != 1 {
		t.Errorf("SkippedTicks = %d, want 1", o.SkippedTicks())
	}

	close(block)
	deadline := time.Now().Add(2 * time.Second)
	for o.inFlight.Load() {
		if time.Now().After(deadline) {
			t.Fatal("in-flight capture never finished")
		}
		time.Sleep(5 * time.Millisecond)
	}

	p.set(func(p *fakePlatform) { p.block = nil })
	tickOnce(o)
	if o.Snapshot().Placeholder != display.PlaceholderNone {
		t.Error("overlay did not recover after the stuck call returned")
	}
}

func TestCaptureOverlayStaleResultDropped(t *testing.T) {
	p := newFakePlatform()
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})
	_ = o.SetTarget(capture.WindowTarget(7, "", nil))

	o.mu.Lock()
	gen := o.generation
	o.mu.Unlock()

	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 10, Height: 10}))
	o.apply(gen, capture.WindowTarget(7, "", nil), tickResult{err: capture.ErrTargetUnresolvable})

	if o.State() != StateCapturing {
		t.Errorf("State = %s, stale result was applied", o.State())
	}
}

func TestCaptureOverlayStateEventsOncePerChange(t *testing.T) {
	p := newFakePlatform()
	log := &eventLog{}
	o := newTestOverlay(t, p, nil, log, capture.Rect{})

	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 200, Height: 100}))
	if n := log.stateCount(); n != 1 {
		t.Fatalf("after SetTarget: %d state events, want 1", n)
	}

	tickOnce(o)
	if n := log.stateCount(); n != 1 {
		t.Errorf("successful tick emitted state: %d events", n)
	}

	p.set(func(p *fakePlatform) { p.regionErr = capture.ErrUnavailable })
	tickOnce(o)
	tickOnce(o)
	if n := log.stateCount(); n != 2 {
		t.Errorf("after repeated failures: %d events, want 2", n)
	}

	o.SetZoom(2)
	o.SetZoom(2)
	o.Show()
	if n := log.stateCount(); n != 3 {
		t.Errorf("after zoom and no-op show: %d events, want 3", n)
	}

	log.mu.Lock()
	frames := log.frames
	log.mu.Unlock()
	if frames < 3 {
		t.Errorf("display events = %d, want at least 3", frames)
	}
}

func TestCaptureOverlayLatestKeepsNewest(t *testing.T) {
	p := newFakePlatform()
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})
	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 200, Height: 100}))

	tickOnce(o)
	p.set(func(p *fakePlatform) { p.regionErr = capture.ErrUnavailable })
	tickOnce(o)

	d := <-o.Latest()
	if d.Placeholder != display.PlaceholderCaptureFailed {
		t.Errorf("Latest = %q, want newest display", d.Placeholder)
	}
	select {
	case extra := <-o.Latest():
		t.Errorf("stale display queued: %+v", extra)
	default:
	}
}

func TestCaptureOverlaySetTargetResetsPanKeepsZoom(t *testing.T) {
	p := newFakePlatform()
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})
	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 200, Height: 100}))
	tickOnce(o)

	o.SetZoom(2)
	o.PanBy(-15, -5)
	if vp := o.Snapshot().Viewport; vp.PanX == 0 && vp.PanY == 0 {
		t.Fatalf("pan not applied: %+v", vp)
	}

	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 300, Height: 300}))
	vp := o.Snapshot().Viewport
	if vp.PanX != 0 || vp.PanY != 0 {
		t.Errorf("pan = (%d,%d), want reset", vp.PanX, vp.PanY)
	}
	if vp.Zoom != 2 {
		t.Errorf("zoom = %v, want 2", vp.Zoom)
	}
	if o.LastFrame() != nil {
		t.Error("SetTarget kept the old frame")
	}
}

func TestCaptureOverlayZoomClamped(t *testing.T) {
	o := newTestOverlay(t, newFakePlatform(), nil, nil, capture.Rect{})

	o.SetZoom(10)
	if o.Zoom() != display.MaxZoom {
		t.Errorf("Zoom = %v, want %v", o.Zoom(), display.MaxZoom)
	}
	o.ZoomBy(-100)
	if o.Zoom() != display.MinZoom {
		t.Errorf("Zoom = %v, want %v", o.Zoom(), display.MinZoom)
	}
}

func TestCaptureOverlayFullTargetRect(t *testing.T) {
	p := newFakePlatform()
	o := newTestOverlay(t, p, nil, nil, capture.Rect{})

	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 10, Height: 10}))
	if _, err := o.FullTargetRect(); !errors.Is(err, ErrNotWindowTarget) {
		t.Errorf("region FullTargetRect err = %v", err)
	}

	_ = o.SetTarget(capture.WindowTarget(7, "", &capture.Rect{Width: 5, Height: 5}))
	r, err := o.FullTargetRect()
	if err != nil {
		t.Fatalf("FullTargetRect: %v", err)
	}
	if r != p.window {
		t.Errorf("FullTargetRect = %v, want %v", r, p.window)
	}
}

func TestCaptureOverlayStop(t *testing.T) {
	p := newFakePlatform()
	reg := NewRegistry()
	o := newIdleOverlay(t, p, reg, nil, capture.Rect{})
	if err := o.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 20, Height: 20}))

	o.Stop()
	o.Stop()

	if o.State() != StateStopped {
		t.Errorf("State = %s, want stopped", o.State())
	}
	if reg.Len() != 0 {
		t.Errorf("registry still holds %d overlays", reg.Len())
	}
	if o.LastFrame() != nil {
		t.Error("stopped overlay kept its frame")
	}
	if err := o.SetTarget(capture.RegionTarget(capture.Rect{Width: 1, Height: 1})); !errors.Is(err, ErrStopped) {
		t.Errorf("SetTarget after Stop = %v, want ErrStopped", err)
	}
	if err := o.Start(); !errors.Is(err, ErrStopped) {
		t.Errorf("Start after Stop = %v, want ErrStopped", err)
	}

	p.mu.Lock()
	calls := p.regionCalls
	p.mu.Unlock()
	tickOnce(o)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.regionCalls != calls {
		t.Error("stopped overlay still captures")
	}
}

func TestCaptureOverlayLoopCaptures(t *testing.T) {
	p := newFakePlatform()
	o := newIdleOverlay(t, p, nil, nil, capture.Rect{})
	if err := o.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 40, Height: 40}))

	select {
	case d := <-o.Latest():
		if d.Frame == nil && d.Placeholder == display.PlaceholderNone {
			t.Error("empty display delivered")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture loop produced nothing")
	}
}

func TestCaptureOverlayIdleUntilStarted(t *testing.T) {
	p := newFakePlatform()
	log := &eventLog{}
	o := newIdleOverlay(t, p, nil, log, capture.Rect{})

	if err := o.SetTarget(capture.RegionTarget(capture.Rect{Width: 40, Height: 40})); err != nil {
		t.Fatalf("SetTarget: %v", err)
	}
	if o.State() != StateIdle {
		t.Fatalf("State = %s before Start, want idle", o.State())
	}
	tickOnce(o)
	p.mu.Lock()
	calls := p.regionCalls
	p.mu.Unlock()
	if calls != 0 {
		t.Errorf("idle overlay captured %d times", calls)
	}

	if err := o.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if o.State() != StateCapturing {
		t.Errorf("State = %s after Start, want capturing", o.State())
	}
	if n := log.stateCount(); n != 2 {
		t.Errorf("state events = %d, want 2", n)
	}
	select {
	case <-o.Latest():
	case <-time.After(2 * time.Second):
		t.Fatal("started overlay produced nothing")
	}
}

func TestCaptureOverlayEventsCarryIncreasingSeq(t *testing.T) {
	p := newFakePlatform()
	log := &eventLog{}
	o := newTestOverlay(t, p, nil, log, capture.Rect{})

	_ = o.SetTarget(capture.RegionTarget(capture.Rect{Width: 200, Height: 100}))
	tickOnce(o)
	o.SetZoom(2)
	p.set(func(p *fakePlatform) { p.regionErr = capture.ErrUnavailable })
	tickOnce(o)

	log.mu.Lock()
	states := append([]Snapshot(nil), log.states...)
	log.mu.Unlock()
	if len(states) < 3 {
		t.Fatalf("state events = %d, want at least 3", len(states))
	}
	for i := 1; i < len(states); i++ {
		if states[i].Seq <= states[i-1].Seq {
			t.Errorf("snapshot seq %d after %d", states[i].Seq, states[i-1].Seq)
		}
	}
	if o.Snapshot().Seq != 0 {
		t.Error("polled snapshot carries a seq")
	}
}

func TestLatestSlotDropsOlderDisplay(t *testing.T) {
	s := newLatestSlot()
	if !s.put(Display{Seq: 4, Placeholder: display.PlaceholderCaptureFailed}) {
		t.Fatal("first display rejected")
	}
	if s.put(Display{Seq: 3}) {
		t.Error("older display accepted")
	}
	d := <-s.ch
	if d.Seq != 4 {
		t.Errorf("slot holds seq %d, want 4", d.Seq)
	}
	if !s.put(Display{Seq: 5}) {
		t.Error("newer display rejected")
	}
}
