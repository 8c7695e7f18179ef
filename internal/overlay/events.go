package overlay

import (
	"sync"
	"time"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/display"
)

// EventKind distinguishes display updates from state changes.
type EventKind string

const (
	// EventDisplay carries newly presented content or a placeholder.
	EventDisplay EventKind = "display"
	// EventStateChanged fires once after each externally visible change.
	EventStateChanged EventKind = "state"
)

// Display is what an overlay should currently show: either a presented
// frame or a placeholder message.
type Display struct {
	Frame       *capture.Frame
	Placeholder display.Placeholder
	Viewport    display.Viewport
	At          time.Time

	// Seq is taken from the same counter as Snapshot.Seq.
	Seq uint64
}

// Render returns the frame to paint, drawing the placeholder if needed.
func (d Display) Render() *capture.Frame {
	if d.Frame != nil {
		return d.Frame
	}
	vp := d.Viewport.Normalized()
	return display.RenderPlaceholder(vp.Width, vp.Height, d.Placeholder.Text())
}

// Event is delivered to observers.
type Event struct {
	Kind      EventKind `json:"kind"`
	OverlayID string    `json:"overlay_id"`
	Display   *Display  `json:"-"`
	Snapshot  *Snapshot `json:"snapshot,omitempty"`
}

// Observer receives overlay events. Implementations must not block; events
// arrive on capture goroutines.
type Observer interface {
	OverlayEvent(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OverlayEvent calls f.
func (f ObserverFunc) OverlayEvent(ev Event) { f(ev) }

type nopObserver struct{}

func (nopObserver) OverlayEvent(Event) {}

// latestSlot is a one-element mailbox: a new display replaces an unread one
// instead of queueing behind it.
type latestSlot struct {
	mu   sync.Mutex
	ch   chan Display
	last uint64
}

func newLatestSlot() *latestSlot {
	return &latestSlot{ch: make(chan Display, 1)}
}

// put reports whether d was stored. A display older than the last one put
// is dropped so a slow publisher cannot overwrite newer content.
func (s *latestSlot) put(d Display) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Seq != 0 && d.Seq <= s.last {
		return false
	}
	s.last = d.Seq

	select {
	case <-s.ch:
	default:
	}
	s.ch <- d
	return true
}
