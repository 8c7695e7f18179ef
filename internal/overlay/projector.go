package overlay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/display"
)

// Kind names the projector implementation.
type Kind string

const (
	KindCapture Kind = "capture"
	KindStill   Kind = "still"
)

// State is the capture scheduler state.
type State string

const (
	StateIdle          State = "idle"
	StateCapturing     State = "capturing"
	StateTargetInvalid State = "target_invalid"
	StateStopped       State = "stopped"
)

// Projector is what every overlay offers the UI shell.
type Projector interface {
	ID() string
	Kind() Kind
	Snapshot() Snapshot
	// Latest yields the most recent display; unread displays are replaced.
	Latest() <-chan Display
	Current() Display
	SetViewportSize(width, height int)
	SetScreenBounds(r capture.Rect)
	Show()
	Hide()
	Stop()
}

// Zoomable projectors can magnify their content.
type Zoomable interface {
	Zoom() float64
	SetZoom(z float64)
	ZoomBy(steps int)
}

// Pannable projectors can move content inside the viewport.
type Pannable interface {
	PanBy(dx, dy int)
	FitToViewport()
}

// Snapshot is a point-in-time copy of an overlay's externally visible state.
type Snapshot struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Kind        Kind                `json:"kind"`
	State       State               `json:"state"`
	Target      *capture.Target     `json:"target,omitempty"`
	Viewport    display.Viewport    `json:"viewport"`
	Bounds      capture.Rect        `json:"bounds"`
	Visible     bool                `json:"visible"`
	Placeholder display.Placeholder `json:"placeholder,omitempty"`
	Failures    int                 `json:"consecutive_failures"`
	LastError   string              `json:"last_error,omitempty"`
	Zoomable    bool                `json:"zoomable"`
	Pannable    bool                `json:"pannable"`

	// Seq orders emitted snapshots; it is zero on polled copies.
	Seq uint64 `json:"seq,omitempty"`
}

// eventSeq numbers every emitted display and snapshot. It is process-wide so
// a recreated overlay id never reuses a number.
var eventSeq atomic.Uint64

// nextSeq must be called under the overlay lock so numbers follow the order
// of the state they stamp.
func nextSeq() uint64 { return eventSeq.Add(1) }

// base holds what capture and still overlays share: identity, viewport,
// on-screen bounds and display delivery.
type base struct {
	id        string
	name      string
	kind      Kind
	presenter *display.Presenter
	observer  Observer
	slot      *latestSlot

	mu          sync.Mutex
	viewport    display.Viewport
	bounds      capture.Rect
	visible     bool
	stopped     bool
	content     *capture.Frame
	placeholder display.Placeholder
	current     Display
	decorate    func(*Snapshot)
}

func (b *base) init(id, name string, kind Kind, presenter *display.Presenter, observer Observer, vp display.Viewport, bounds capture.Rect, visible bool) {
	if presenter == nil {
		presenter = display.NewPresenter(true)
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if name == "" {
		name = id
	}
	if vp.Zoom == 0 {
		vp.Zoom = 1
	}
	b.id = id
	b.name = name
	b.kind = kind
	b.presenter = presenter
	b.observer = observer
	b.slot = newLatestSlot()
	b.viewport = vp.Normalized()
	b.bounds = bounds
	b.visible = visible
}

// ID returns the overlay id
func (b *base) ID() string { return b.id }

// Kind returns the projector kind
func (b *base) Kind() Kind { return b.kind }

// Latest returns the single-slot display channel.
func (b *base) Latest() <-chan Display { return b.slot.ch }

// Current returns the last published display.
func (b *base) Current() Display {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// Snapshot copies the overlay state.
func (b *base) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

// stampedLocked is a snapshot about to be emitted.
func (b *base) stampedLocked() Snapshot {
	s := b.snapshotLocked()
	s.Seq = nextSeq()
	return s
}

func (b *base) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:          b.id,
		Name:        b.name,
		Kind:        b.kind,
		Viewport:    b.viewport,
		Bounds:      b.bounds,
		Visible:     b.visible,
		Placeholder: b.placeholder,
		Pannable:    true,
	}
	if b.decorate != nil {
		b.decorate(&s)
	}
	return s
}

// ScreenBounds returns where the overlay window sits on screen.
func (b *base) ScreenBounds() capture.Rect {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bounds
}

// Visible reports whether the overlay window is shown.
func (b *base) Visible() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.visible
}

// SetScreenBounds records the overlay window's screen rect.
func (b *base) SetScreenBounds(r capture.Rect) {
	b.mutate(false, func() { b.bounds = r })
}

// Show marks the overlay window visible.
func (b *base) Show() {
	b.mutate(false, func() { b.visible = true })
}

// Hide marks the overlay window hidden.
func (b *base) Hide() {
	b.mutate(false, func() { b.visible = false })
}

// SetViewportSize resizes the viewport and re-presents cached content.
func (b *base) SetViewportSize(width, height int) {
	b.mutate(true, func() { b.viewport = b.viewport.Resized(width, height).Normalized() })
}

// PanBy moves the content; the presenter clamps the offset.
func (b *base) PanBy(dx, dy int) {
	b.mutate(true, func() { b.viewport = b.viewport.Panned(dx, dy) })
}

// FitToViewport recentres the content.
func (b *base) FitToViewport() {
	b.mutate(true, func() { b.viewport = b.viewport.Fitted() })
}

// mutate applies fn under the lock. If the snapshot changed, observers get
// one state event after the lock is released, preceded by a fresh display
// when repaint is set.
func (b *base) mutate(repaint bool, fn func()) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	before := b.snapshotLocked()
	fn()
	var d Display
	if repaint {
		d = b.presentLocked()
	}
	snap := b.snapshotLocked()
	changed := snap != before
	if changed {
		snap.Seq = nextSeq()
	}
	b.mu.Unlock()

	if !changed {
		return
	}
	if repaint {
		b.publish(d)
	}
	b.emitState(snap)
}

// presentLocked renders the cached content (or placeholder) into the
// viewport and stores the clamped pan.
func (b *base) presentLocked() Display {
	d := Display{Placeholder: b.placeholder, At: time.Now(), Seq: nextSeq()}
	if b.content != nil && b.placeholder == display.PlaceholderNone {
		d.Frame, b.viewport = b.presenter.Present(b.content, b.viewport)
	}
	d.Viewport = b.viewport
	b.current = d
	return d
}

func (b *base) publish(d Display) {
	if !b.slot.put(d) {
		return
	}
	b.observer.OverlayEvent(Event{Kind: EventDisplay, OverlayID: b.id, Display: &d})
}

func (b *base) emitState(s Snapshot) {
	b.observer.OverlayEvent(Event{Kind: EventStateChanged, OverlayID: b.id, Snapshot: &s})
}
