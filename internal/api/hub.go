package api

import (
	"image"
	"sync"

	"github.com/shastasprojector/projector/internal/output"
	"github.com/shastasprojector/projector/internal/overlay"
)

// subscriberBuffer is how many state events a slow websocket client may
// fall behind before events are dropped for it.
const subscriberBuffer = 32

// Hub fans overlay events out to MJPEG streams and websocket subscribers.
// It is the overlay.Observer handed to the overlay manager.
type Hub struct {
	streams *output.Streams

	mu   sync.RWMutex
	subs map[chan overlay.Event]struct{}

	// order serializes delivery so the freshness check and the send happen
	// together. seen holds the newest seq delivered per overlay and kind.
	order sync.Mutex
	seen  map[seenKey]uint64
}

type seenKey struct {
	id   string
	kind overlay.EventKind
}

// NewHub creates a hub feeding the given streams. streams may be nil.
func NewHub(streams *output.Streams) *Hub {
	return &Hub{
		streams: streams,
		subs:    make(map[chan overlay.Event]struct{}),
		seen:    make(map[seenKey]uint64),
	}
}

// OverlayEvent implements overlay.Observer. It never blocks. Overlays emit
// after releasing their lock, so events can arrive out of order; anything
// older than what was already delivered for that overlay is dropped.
func (h *Hub) OverlayEvent(ev overlay.Event) {
	h.order.Lock()
	defer h.order.Unlock()

	if !h.fresh(ev) {
		return
	}

	switch ev.Kind {
	case overlay.EventDisplay:
		if ev.Display == nil || h.streams == nil {
			return
		}
		d := *ev.Display
		h.streams.Publish(ev.OverlayID, func() image.Image { return d.Render().Image() })

	case overlay.EventStateChanged:
		h.broadcast(ev)
		if ev.Snapshot != nil && ev.Snapshot.State == overlay.StateStopped {
			delete(h.seen, seenKey{ev.OverlayID, overlay.EventDisplay})
			delete(h.seen, seenKey{ev.OverlayID, overlay.EventStateChanged})
			if h.streams != nil {
				h.streams.Remove(ev.OverlayID)
			}
		}
	}
}

// Subscribe returns a channel of state events. Call Unsubscribe when done.
func (h *Hub) Subscribe() chan overlay.Event {
	ch := make(chan overlay.Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription.
func (h *Hub) Unsubscribe(ch chan overlay.Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

// Subscribers returns the number of open subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// fresh records ev's seq and reports whether it is newer than the last
// delivered event of its kind. Unnumbered events always pass.
func (h *Hub) fresh(ev overlay.Event) bool {
	var seq uint64
	switch {
	case ev.Display != nil:
		seq = ev.Display.Seq
	case ev.Snapshot != nil:
		seq = ev.Snapshot.Seq
	}
	if seq == 0 {
		return true
	}

	key := seenKey{ev.OverlayID, ev.Kind}
	if seq <= h.seen[key] {
		return false
	}
	h.seen[key] = seq
	return true
}

func (h *Hub) broadcast(ev overlay.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
