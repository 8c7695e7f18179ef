package overlay

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/config"
	"github.com/shastasprojector/projector/internal/display"
	"github.com/shastasprojector/projector/internal/logger"
)

// ManagerOptions holds what every overlay the manager creates shares.
type ManagerOptions struct {
	Platform    capture.Platform
	Registry    *Registry
	Presenter   *display.Presenter
	Observer    Observer
	CallTimeout time.Duration
}

// Manager owns the set of open projectors.
type Manager struct {
	opts       ManagerOptions
	projectors map[string]Projector
	nextID     int
	mu         sync.RWMutex
}

// CaptureSpec describes a capture overlay to create.
type CaptureSpec struct {
	ID       string
	Name     string
	Target   *capture.Target
	Viewport display.Viewport
	Bounds   capture.Rect
	Hidden   bool
}

// NewManager creates a new overlay manager
func NewManager(opts ManagerOptions) *Manager {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Presenter == nil {
		opts.Presenter = display.NewPresenter(true)
	}
	return &Manager{
		opts:       opts,
		projectors: make(map[string]Projector),
	}
}

// Registry returns the live overlay registry.
func (m *Manager) Registry() *Registry {
	return m.opts.Registry
}

// Add adds a projector under its ID
func (m *Manager) Add(p Projector) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.projectors[p.ID()]; exists {
		return fmt.Errorf("overlay with ID %s already exists", p.ID())
	}

	m.projectors[p.ID()] = p
	logger.WithComponent("overlay").Info().Str("overlay_id", p.ID()).Str("kind", string(p.Kind())).Msg("Added overlay")
	return nil
}

// Remove stops and forgets a projector
func (m *Manager) Remove(id string) error {
	m.mu.Lock()
	p, exists := m.projectors[id]
	delete(m.projectors, id)
	m.mu.Unlock()

	if !exists {
		return fmt.Errorf("overlay with ID %s not found", id)
	}

	p.Stop()
	logger.WithComponent("overlay").Info().Str("overlay_id", id).Msg("Removed overlay")
	return nil
}

// Get retrieves a projector by ID
func (m *Manager) Get(id string) (Projector, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, exists := m.projectors[id]
	return p, exists
}

// GetCapture retrieves a capture overlay by ID.
func (m *Manager) GetCapture(id string) (*CaptureOverlay, error) {
	p, ok := m.Get(id)
	if !ok {
		return nil, fmt.Errorf("overlay with ID %s not found", id)
	}
	c, ok := p.(*CaptureOverlay)
	if !ok {
		return nil, fmt.Errorf("overlay %s is a %s overlay", id, p.Kind())
	}
	return c, nil
}

// All returns every projector ordered by ID.
func (m *Manager) All() []Projector {
	m.mu.RLock()
	all := make([]Projector, 0, len(m.projectors))
	for _, p := range m.projectors {
		all = append(all, p)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID() < all[j].ID() })
	return all
}

// Snapshots returns the state of every projector ordered by ID.
func (m *Manager) Snapshots() []Snapshot {
	all := m.All()
	snaps := make([]Snapshot, 0, len(all))
	for _, p := range all {
		snaps = append(snaps, p.Snapshot())
	}
	return snaps
}

// NewID returns an unused "overlay-N" identifier.
func (m *Manager) NewID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		m.nextID++
		id := fmt.Sprintf("overlay-%d", m.nextID)
		if _, exists := m.projectors[id]; !exists {
			return id
		}
	}
}

// CreateCapture builds, registers and starts a capture overlay.
func (m *Manager) CreateCapture(spec CaptureSpec) (*CaptureOverlay, error) {
	if spec.ID == "" {
		spec.ID = m.NewID()
	}

	o, err := NewCaptureOverlay(CaptureOptions{
		ID:          spec.ID,
		Name:        spec.Name,
		Platform:    m.opts.Platform,
		Registry:    m.opts.Registry,
		Presenter:   m.opts.Presenter,
		Observer:    m.opts.Observer,
		CallTimeout: m.opts.CallTimeout,
		Viewport:    spec.Viewport,
		Bounds:      spec.Bounds,
		Visible:     !spec.Hidden,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create overlay: %w", err)
	}

	if err := m.Add(o); err != nil {
		o.Stop()
		return nil, err
	}
	if err := o.Start(); err != nil {
		_ = m.Remove(o.ID())
		return nil, err
	}
	if spec.Target != nil {
		if err := o.SetTarget(*spec.Target); err != nil {
			_ = m.Remove(o.ID())
			return nil, err
		}
	}
	return o, nil
}

// Freeze opens a still overlay showing the last frame of a capture overlay.
func (m *Manager) Freeze(sourceID string) (*StillOverlay, error) {
	src, err := m.GetCapture(sourceID)
	if err != nil {
		return nil, err
	}
	frame := src.LastFrame()
	if frame == nil {
		return nil, fmt.Errorf("overlay %s has no frame to freeze", sourceID)
	}

	snap := src.Snapshot()
	s, err := NewStillOverlay(StillOptions{
		ID:        m.NewID(),
		Name:      snap.Name + " (still)",
		Frame:     frame,
		Presenter: m.opts.Presenter,
		Observer:  m.opts.Observer,
		Viewport:  snap.Viewport,
		Bounds:    snap.Bounds,
		Visible:   true,
	})
	if err != nil {
		return nil, err
	}
	if err := m.Add(s); err != nil {
		s.Stop()
		return nil, err
	}
	return s, nil
}

// LoadFromConfig creates the overlays listed in the configuration. Bad
// entries are logged and skipped; their errors are joined in the result.
func (m *Manager) LoadFromConfig(defs []config.OverlayConfig) error {
	log := logger.WithComponent("overlay")

	var errs []error
	for _, def := range defs {
		target, err := def.Target()
		if err != nil {
			log.Warn().Err(err).Str("overlay_id", def.ID).Msg("Skipping overlay")
			errs = append(errs, err)
			continue
		}

		vp := display.NewViewport(def.Viewport.Width, def.Viewport.Height)
		if def.Zoom != 0 {
			vp = vp.WithZoom(def.Zoom)
		}
		o, err := m.CreateCapture(CaptureSpec{
			ID:       def.ID,
			Name:     def.Name,
			Target:   target,
			Viewport: vp,
			Bounds:   def.Bounds,
			Hidden:   def.Hidden,
		})
		if err != nil {
			log.Warn().Err(err).Str("overlay_id", def.ID).Msg("Failed to create overlay")
			errs = append(errs, err)
			continue
		}
		log.Debug().Str("overlay_id", o.ID()).Msg("Overlay loaded from config")
	}

	return errors.Join(errs...)
}

// Clear stops and removes all projectors
func (m *Manager) Clear() {
	m.mu.Lock()
	all := m.projectors
	m.projectors = make(map[string]Projector)
	m.mu.Unlock()

	for _, p := range all {
		p.Stop()
	}
	logger.WithComponent("overlay").Info().Int("count", len(all)).Msg("Cleared all overlays")
}
