package window

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/logger"
)

// listTTL is how long a window list is reused between picker requests.
const listTTL = 500 * time.Millisecond

// Manager serves the window picker: a cached, filtered and sorted view of
// the backend's window list.
type Manager struct {
	backend Backend
	selfPID int

	mu       sync.Mutex
	cache    []Info
	cachedAt time.Time
	now      func() time.Time
}

// NewManager wraps a backend. Windows owned by this process are hidden.
func NewManager(backend Backend) *Manager {
	return &Manager{
		backend: backend,
		selfPID: os.Getpid(),
		now:     time.Now,
	}
}

// Name returns the backend name.
func (m *Manager) Name() string {
	return m.backend.Name()
}

// List returns pickable windows ordered by title.
func (m *Manager) List() ([]Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cache != nil && m.now().Sub(m.cachedAt) < listTTL {
		return append([]Info(nil), m.cache...), nil
	}

	raw, err := m.backend.ListWindows()
	if err != nil {
		return nil, fmt.Errorf("failed to list windows: %w", err)
	}

	windows := make([]Info, 0, len(raw))
	for _, w := range raw {
		if w.PID != 0 && w.PID == m.selfPID {
			continue
		}
		if w.Title == "" && w.Class == "" {
			continue
		}
		windows = append(windows, w)
	}
	sort.SliceStable(windows, func(i, j int) bool {
		return strings.ToLower(windows[i].Title) < strings.ToLower(windows[j].Title)
	})

	logger.WithComponent("window-manager").Debug().
		Str("backend", m.backend.Name()).
		Int("raw", len(raw)).
		Int("listed", len(windows)).
		Msg("Window list refreshed")

	m.cache = windows
	m.cachedAt = m.now()
	return append([]Info(nil), windows...), nil
}

// Get looks a window up by ID.
func (m *Manager) Get(id capture.WindowID) (Info, error) {
	windows, err := m.List()
	if err != nil {
		return Info{}, err
	}
	for _, w := range windows {
		if w.ID == id {
			return w, nil
		}
	}
	return Info{}, fmt.Errorf("%w: window %d not listed", capture.ErrTargetUnresolvable, id)
}

// Focused returns the focused window.
func (m *Manager) Focused() (*Info, error) {
	return m.backend.GetFocusedWindow()
}

// Invalidate drops the cached list.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cache = nil
	m.mu.Unlock()
}

// Close releases the backend.
func (m *Manager) Close() error {
	return m.backend.Close()
}
