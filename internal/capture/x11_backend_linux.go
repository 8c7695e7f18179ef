//go:build linux

package capture

import (
	"fmt"
	"image"
	"sync"

	"github.com/BurntSushi/xgb"
	"github.com/BurntSushi/xgb/composite"
	"github.com/BurntSushi/xgb/xproto"
	"github.com/shastasprojector/projector/internal/logger"
)

// X11Backend locates and captures windows on X11 and XWayland.
type X11Backend struct {
	conn             *xgb.Conn
	root             xproto.Window
	screen           *xproto.ScreenInfo
	compositeEnabled bool
	atoms            map[string]xproto.Atom
	mu               sync.Mutex
}

// NewNativeBackend connects to the X server named by $DISPLAY.
func NewNativeBackend() (Backend, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to X server: %w", err)
	}

	setup := xproto.Setup(conn)
	screen := setup.DefaultScreen(conn)

	return &X11Backend{
		conn:   conn,
		root:   screen.Root,
		screen: screen,
		atoms:  make(map[string]xproto.Atom),
	}, nil
}

// Name returns the backend name
func (b *X11Backend) Name() string {
	return "x11"
}

// Start initializes the Composite extension when the server offers it.
func (b *X11Backend) Start() error {
	log := logger.WithComponent("x11-capture")

	if err := composite.Init(b.conn); err != nil {
		log.Warn().
			Err(err).
			Msg("Composite extension not available - covered windows will capture with reduced fidelity")
		b.compositeEnabled = false
	} else {
		b.compositeEnabled = true
		log.Info().Msg("Composite extension initialized")
	}

	if d := b.screen.RootDepth; d != 24 && d != 32 {
		return fmt.Errorf("unsupported root depth %d", d)
	}
	return nil
}

// Stop closes the X11 connection.
func (b *X11Backend) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		b.conn.Close()
		b.conn = nil
	}
	return nil
}

// Locate returns the window's rect in root coordinates.
func (b *X11Backend) Locate(id WindowID) (Rect, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return Rect{}, fmt.Errorf("%w: x11 connection closed", ErrTargetUnresolvable)
	}

	win := xproto.Window(id)
	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return Rect{}, fmt.Errorf("%w: failed to get window geometry: %w", ErrTargetUnresolvable, err)
	}

	pos, err := xproto.TranslateCoordinates(b.conn, win, b.root, 0, 0).Reply()
	if err != nil {
		return Rect{}, fmt.Errorf("%w: failed to translate coordinates: %w", ErrTargetUnresolvable, err)
	}

	return Rect{
		X:      int(pos.DstX),
		Y:      int(pos.DstY),
		Width:  int(geom.Width),
		Height: int(geom.Height),
	}, nil
}

// IsMinimizedOrHidden treats unmapped windows and _NET_WM_STATE_HIDDEN as hidden.
func (b *X11Backend) IsMinimizedOrHidden(id WindowID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return true
	}

	win := xproto.Window(id)
	attrs, err := xproto.GetWindowAttributes(b.conn, win).Reply()
	if err != nil {
		return true
	}
	if attrs.MapState != xproto.MapStateViewable {
		return true
	}

	hidden, err := b.getAtom("_NET_WM_STATE_HIDDEN")
	if err != nil {
		return false
	}
	states, err := b.getAtomList(win, "_NET_WM_STATE")
	if err != nil {
		return false
	}
	for _, s := range states {
		if s == hidden {
			return true
		}
	}
	return false
}

// CaptureWindow reads the window's own content. With Composite the
// off-screen pixmap is used so covering windows do not leak into the image.
func (b *X11Backend) CaptureWindow(id WindowID, width, height int) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil, fmt.Errorf("x11 connection closed")
	}

	win := xproto.Window(id)
	geom, err := xproto.GetGeometry(b.conn, xproto.Drawable(win)).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get window geometry: %w", err)
	}

	// The window may have shrunk since it was located.
	w := min(width, int(geom.Width))
	h := min(height, int(geom.Height))
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("window %d has empty geometry", id)
	}

	return b.captureWindowDrawable(win, w, h)
}

// CaptureRegion reads a rect of the root window.
func (b *X11Backend) CaptureRegion(r Rect) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil, fmt.Errorf("x11 connection closed")
	}

	reply, err := xproto.GetImage(
		b.conn,
		xproto.ImageFormatZPixmap,
		xproto.Drawable(b.root),
		int16(r.X), int16(r.Y),
		uint16(r.Width), uint16(r.Height),
		0xffffffff,
	).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return FromBGRA(reply.Data, r.Width, r.Height, r.Width*4, false)
}

func (b *X11Backend) captureWindowDrawable(win xproto.Window, width, height int) (*image.RGBA, error) {
	log := logger.WithComponent("x11-capture")
	drawable := xproto.Drawable(win)

	if b.compositeEnabled {
		err := composite.RedirectWindowChecked(b.conn, win, composite.RedirectAutomatic).Check()
		if err != nil {
			log.Debug().
				Err(err).
				Uint32("window_id", uint32(win)).
				Msg("Failed to redirect window via Composite, falling back to direct capture")
		} else {
			defer composite.UnredirectWindow(b.conn, win, composite.RedirectAutomatic)

			pixmap, err := xproto.NewPixmapId(b.conn)
			if err == nil {
				if err := composite.NameWindowPixmapChecked(b.conn, win, pixmap).Check(); err == nil {
					drawable = xproto.Drawable(pixmap)
					defer xproto.FreePixmap(b.conn, pixmap)
				}
			}
		}
	}

	data, err := imageWithFallback(drawable, xproto.Drawable(win), func(d xproto.Drawable) ([]byte, error) {
		reply, err := xproto.GetImage(
			b.conn,
			xproto.ImageFormatZPixmap,
			d,
			0, 0,
			uint16(width), uint16(height),
			0xffffffff,
		).Reply()
		if err != nil {
			return nil, err
		}
		return reply.Data, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get image: %w", err)
	}

	return FromBGRA(data, width, height, width*4, false)
}

// imageWithFallback reads primary and, if that fails and it is a named
// pixmap, retries on the window itself at reduced fidelity.
func imageWithFallback(primary, window xproto.Drawable, get func(xproto.Drawable) ([]byte, error)) ([]byte, error) {
	data, err := get(primary)
	if err == nil || primary == window {
		return data, err
	}
	logger.WithComponent("x11-capture").Debug().
		Err(err).
		Uint32("window_id", uint32(window)).
		Msg("GetImage on composite pixmap failed, retrying on the window")
	return get(window)
}

func (b *X11Backend) getAtom(name string) (xproto.Atom, error) {
	if atom, ok := b.atoms[name]; ok {
		return atom, nil
	}
	reply, err := xproto.InternAtom(b.conn, true, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("failed to intern atom %s: %w", name, err)
	}
	b.atoms[name] = reply.Atom
	return reply.Atom, nil
}

func (b *X11Backend) getAtomList(win xproto.Window, property string) ([]xproto.Atom, error) {
	prop, err := b.getAtom(property)
	if err != nil {
		return nil, err
	}
	reply, err := xproto.GetProperty(b.conn, false, win, prop, xproto.AtomAtom, 0, 1024).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get property %s: %w", property, err)
	}
	atoms := make([]xproto.Atom, 0, reply.ValueLen)
	for i := 0; i+4 <= len(reply.Value); i += 4 {
		atoms = append(atoms, xproto.Atom(xgb.Get32(reply.Value[i:])))
	}
	return atoms, nil
}
