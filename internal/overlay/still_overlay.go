package overlay

import (
	"fmt"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/display"
)

// StillOverlay shows a frozen frame. It pans but does not zoom, and it is
// never registered as live since its content cannot feed back.
type StillOverlay struct {
	base
}

// StillOptions configures a StillOverlay.
type StillOptions struct {
	ID        string
	Name      string
	Frame     *capture.Frame
	Presenter *display.Presenter
	Observer  Observer
	Viewport  display.Viewport
	Bounds    capture.Rect
	Visible   bool
}

// NewStillOverlay creates an overlay over a fixed frame and presents it once.
func NewStillOverlay(opts StillOptions) (*StillOverlay, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("overlay id is required")
	}
	if opts.Frame == nil {
		return nil, fmt.Errorf("overlay %s: no frame to show", opts.ID)
	}

	s := &StillOverlay{}
	s.init(opts.ID, opts.Name, KindStill, opts.Presenter, opts.Observer, opts.Viewport, opts.Bounds, opts.Visible)
	s.decorate = func(snap *Snapshot) {
		snap.State = StateCapturing
		if s.stopped {
			snap.State = StateStopped
		}
	}

	s.mu.Lock()
	s.content = opts.Frame
	d := s.presentLocked()
	s.mu.Unlock()

	s.slot.put(d)
	return s, nil
}

// Stop releases the frame.
func (s *StillOverlay) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.content = nil
	snap := s.stampedLocked()
	s.mu.Unlock()

	s.emitState(snap)
}
