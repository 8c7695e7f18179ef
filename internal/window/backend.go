package window

import (
	"errors"

	"github.com/shastasprojector/projector/internal/capture"
)

// ErrUnsupported is returned by listers on platforms without window
// enumeration.
var ErrUnsupported = errors.New("window listing not supported on this platform")

// Info describes a top-level window offered by the picker.
type Info struct {
	ID       capture.WindowID `json:"id"`
	Title    string           `json:"title"`
	Class    string           `json:"class"`
	PID      int              `json:"pid"`
	Desktop  int              `json:"desktop"`
	Geometry capture.Rect     `json:"geometry"`
	Focused  bool             `json:"focused"`
	// Capturable is false for windows the capture platform cannot address,
	// such as native Wayland clients.
	Capturable bool `json:"capturable"`
}

// Backend enumerates windows (X11, KWin, Win32).
type Backend interface {
	// ListWindows returns all visible application windows
	ListWindows() ([]Info, error)

	// GetFocusedWindow returns the currently focused window
	GetFocusedWindow() (*Info, error)

	// Close releases the display server connection
	Close() error

	// Name returns the backend name (e.g., "x11", "kwin")
	Name() string
}
