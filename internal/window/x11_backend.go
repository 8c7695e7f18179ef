package window

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/logger"
)

// X11Backend lists windows through EWMH properties on the root window.
type X11Backend struct {
	conn *xgb.Conn
	root xproto.Window

	atomMu sync.Mutex
	atoms  map[string]xproto.Atom
}

// NewX11Backend creates a new X11 backend
func NewX11Backend() (*X11Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	return &X11Backend{
		conn:  conn,
		root:  setup.DefaultScreen(conn).Root,
		atoms: make(map[string]xproto.Atom),
	}, nil
}

// Close closes the X11 connection
func (b *X11Backend) Close() error {
	b.conn.Close()
	return nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// ListWindows returns all visible windows using EWMH _NET_CLIENT_LIST with QueryTree fallback
func (b *X11Backend) ListWindows() ([]Info, error) {
	log := logger.WithComponent("x11-backend")

	windows, err := b.listWindowsEWMH()
	if err == nil && len(windows) > 0 {
		log.Debug().Int("count", len(windows)).Msg("ListWindows: using EWMH _NET_CLIENT_LIST")
		return windows, nil
	}
	if err != nil {
		log.Debug().Err(err).Msg("ListWindows: EWMH failed, falling back to QueryTree")
	}

	tree, err := xproto.QueryTree(b.conn, b.root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to query window tree: %w", err)
	}
	return b.describeAll(tree.Children), nil
}

func (b *X11Backend) listWindowsEWMH() ([]Info, error) {
	atom, err := b.getAtom("_NET_CLIENT_LIST")
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST atom: %w", err)
	}

	reply, err := xproto.GetProperty(b.conn, false, b.root, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get _NET_CLIENT_LIST property: %w", err)
	}
	if reply.ValueLen == 0 {
		return nil, fmt.Errorf("_NET_CLIENT_LIST is empty")
	}

	ids := make([]xproto.Window, 0, len(reply.Value)/4)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		ids = append(ids, xproto.Window(binary.LittleEndian.Uint32(reply.Value[i:])))
	}
	return b.describeAll(ids), nil
}

func (b *X11Backend) describeAll(ids []xproto.Window) []Info {
	focused := xproto.Window(0)
	if f, err := xproto.GetInputFocus(b.conn).Reply(); err == nil {
		focused = f.Focus
	}

	windows := make([]Info, 0, len(ids))
	for _, id := range ids {
		info, err := b.describe(id)
		if err != nil {
			continue
		}
		if info.Title == "" && info.Class == "" {
			continue
		}
		info.Focused = id == focused
		windows = append(windows, info)
	}
	return windows
}

// GetFocusedWindow returns the currently focused window
func (b *X11Backend) GetFocusedWindow() (*Info, error) {
	focus, err := xproto.GetInputFocus(b.conn).Reply()
	if err != nil {
		return nil, err
	}
	info, err := b.describe(focus.Focus)
	if err != nil {
		return nil, err
	}
	info.Focused = true
	return &info, nil
}

// describe reads title, class, PID, desktop and root-relative geometry.
func (b *X11Backend) describe(win xproto.Window) (Info, error) {
	info := Info{ID: capture.WindowID(win), Capturable: true}

	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return info, fmt.Errorf("window %d: %w", win, err)
	}
	info.Geometry = capture.Rect{Width: int(geom.Width), Height: int(geom.Height)}
	if pos, err := xproto.TranslateCoordinates(b.conn, win, b.root, 0, 0).Reply(); err == nil {
		info.Geometry.X, info.Geometry.Y = int(pos.DstX), int(pos.DstY)
	}

	if title, err := b.getStringProperty(win, "_NET_WM_NAME"); err == nil {
		info.Title = title
	}
	if info.Title == "" {
		if title, err := b.getStringProperty(win, "WM_NAME"); err == nil {
			info.Title = title
		}
	}

	// WM_CLASS is "instance\0class\0"
	if raw, err := b.getStringProperty(win, "WM_CLASS"); err == nil {
		parts := strings.Split(raw, "\x00")
		if len(parts) >= 2 && parts[1] != "" {
			info.Class = parts[1]
		} else if parts[0] != "" {
			info.Class = parts[0]
		}
	}

	if pid, ok := b.getCardinal(win, "_NET_WM_PID"); ok {
		info.PID = int(pid)
	}
	info.Desktop = -1
	if desktop, ok := b.getCardinal(win, "_NET_WM_DESKTOP"); ok && desktop != 0xFFFFFFFF {
		info.Desktop = int(desktop)
	}

	return info, nil
}

func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	b.atomMu.Lock()
	defer b.atomMu.Unlock()

	if atom, ok := b.atoms[name]; ok {
		return atom, nil
	}
	reply, err := xproto.InternAtom(b.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, err
	}
	b.atoms[name] = reply.Atom
	return reply.Atom, nil
}

func (b *X11Backend) getStringProperty(win xproto.Window, name string) (string, error) {
	atom, err := b.getAtom(name)
	if err != nil {
		return "", err
	}
	reply, err := xproto.GetProperty(b.conn, false, win, atom, xproto.GetPropertyTypeAny, 0, (1<<32)-1).Reply()
	if err != nil {
		return "", err
	}
	if reply.ValueLen == 0 {
		return "", fmt.Errorf("empty property %s", name)
	}
	return strings.TrimRight(string(reply.Value), "\x00"), nil
}

func (b *X11Backend) getCardinal(win xproto.Window, name string) (uint32, bool) {
	atom, err := b.getAtom(name)
	if err != nil {
		return 0, false
	}
	reply, err := xproto.GetProperty(b.conn, false, win, atom, xproto.AtomCardinal, 0, 1).Reply()
	if err != nil || len(reply.Value) < 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(reply.Value), true
}
