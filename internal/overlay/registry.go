package overlay

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/logger"
)

// Live is an overlay whose on-screen window can end up inside a screen
// scrape and therefore has to be masked out.
type Live interface {
	ID() string
	ScreenBounds() capture.Rect
	Visible() bool
	Stop()
}

// LiveBounds is the screen rect of one visible live overlay.
type LiveBounds struct {
	ID   string
	Rect capture.Rect
}

// Registry tracks live capture overlays. Readers get an immutable snapshot,
// so a capture tick never sees a half-applied registration.
type Registry struct {
	mu      sync.Mutex
	entries atomic.Pointer[[]Live]
	closed  bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := []Live{}
	r.entries.Store(&empty)
	return r
}

// Register adds a live overlay.
func (r *Registry) Register(l Live) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("registry torn down")
	}

	cur := *r.entries.Load()
	for _, e := range cur {
		if e.ID() == l.ID() {
			return fmt.Errorf("overlay with ID %s already registered", l.ID())
		}
	}

	next := make([]Live, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, l)
	r.entries.Store(&next)

	logger.WithComponent("registry").Debug().Str("overlay_id", l.ID()).Int("live", len(next)).Msg("Registered overlay")
	return nil
}

// Deregister removes an overlay by ID and reports whether it was present.
func (r *Registry) Deregister(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.entries.Load()
	next := make([]Live, 0, len(cur))
	for _, e := range cur {
		if e.ID() != id {
			next = append(next, e)
		}
	}
	if len(next) == len(cur) {
		return false
	}
	r.entries.Store(&next)

	logger.WithComponent("registry").Debug().Str("overlay_id", id).Int("live", len(next)).Msg("Deregistered overlay")
	return true
}

// Len returns the number of registered overlays.
func (r *Registry) Len() int {
	return len(*r.entries.Load())
}

// Snapshot returns the screen rects of every visible registered overlay.
func (r *Registry) Snapshot() []LiveBounds {
	entries := *r.entries.Load()
	out := make([]LiveBounds, 0, len(entries))
	for _, e := range entries {
		if !e.Visible() {
			continue
		}
		b := e.ScreenBounds()
		if b.Empty() {
			continue
		}
		out = append(out, LiveBounds{ID: e.ID(), Rect: b})
	}
	return out
}

// Teardown stops every registered overlay and refuses new registrations.
func (r *Registry) Teardown() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	entries := *r.entries.Load()
	empty := []Live{}
	r.entries.Store(&empty)
	r.mu.Unlock()

	// Stop deregisters, so it must run without the lock held.
	for _, e := range entries {
		e.Stop()
	}
	logger.WithComponent("registry").Info().Int("stopped", len(entries)).Msg("Registry torn down")
}
