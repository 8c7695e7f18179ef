package window

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/logger"
)

// KWin D-Bus constants
const (
	kwinService       = "org.kde.KWin"
	kwinPath          = "/KWin"
	kwinInterface     = "org.kde.KWin"
	windowsRunnerPath = "/WindowsRunner"
	krunnerInterface  = "org.kde.krunner1"
)

// KWinBackend lists windows through KWin's D-Bus interfaces. Only
// XWayland windows carry an X11 id the capture platform can address; native
// Wayland windows are listed but not capturable.
type KWinBackend struct {
	conn *dbus.Conn
	// x11 answers focus queries through XWayland when available.
	x11 *X11Backend
}

// NewKWinBackend connects to the session bus and checks that KWin is there.
func NewKWinBackend() (*KWinBackend, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session bus: %w", err)
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to list D-Bus names: %w", err)
	}

	found := false
	for _, name := range names {
		if name == kwinService {
			found = true
			break
		}
	}
	if !found {
		conn.Close()
		return nil, fmt.Errorf("KWin service not found on D-Bus")
	}

	log := logger.WithComponent("kwin-backend")
	log.Info().Msg("Connected to KWin D-Bus service")

	b := &KWinBackend{conn: conn}
	if x11, err := NewX11Backend(); err == nil {
		b.x11 = x11
	} else {
		log.Warn().Err(err).Msg("No XWayland connection, focus queries unavailable")
	}
	return b, nil
}

// Close closes the D-Bus and X11 connections
func (b *KWinBackend) Close() error {
	if b.x11 != nil {
		b.x11.Close()
	}
	return b.conn.Close()
}

// Name returns the backend name
func (b *KWinBackend) Name() string {
	return "kwin"
}

// ListWindows asks the KRunner windows plugin for every window.
func (b *KWinBackend) ListWindows() ([]Info, error) {
	obj := b.conn.Object(kwinService, windowsRunnerPath)

	// Match returns a(sssida{sv}); an empty query matches all windows.
	var rawMatches [][]interface{}
	if err := obj.Call(krunnerInterface+".Match", 0, "").Store(&rawMatches); err != nil {
		return nil, fmt.Errorf("failed to call Match: %w", err)
	}

	windows := make([]Info, 0, len(rawMatches))
	for _, raw := range rawMatches {
		info, ok := b.parseMatch(raw)
		if ok {
			windows = append(windows, info)
		}
	}
	return windows, nil
}

// parseMatch converts one runner match: id, text, icon name, type,
// relevance and properties.
func (b *KWinBackend) parseMatch(raw []interface{}) (Info, bool) {
	if len(raw) < 6 {
		return Info{}, false
	}
	rawID, ok := raw[0].(string)
	if !ok {
		return Info{}, false
	}
	title, _ := raw[1].(string)
	class, _ := raw[2].(string)
	if class == "" {
		class = classFromTitle(title)
	}
	if title == "" && class == "" {
		return Info{}, false
	}

	info := Info{
		ID:      capture.WindowID(hashString(rawID)),
		Title:   title,
		Class:   class,
		Desktop: -1,
	}

	// Ids look like "0_{dc80ff04-3245-4d9b-b9a8-1582640d39e1}".
	start, end := strings.Index(rawID, "{"), strings.Index(rawID, "}")
	if start >= 0 && end > start {
		uuid := rawID[start+1 : end]
		if xid, err := b.windowXID("/org/kde/KWin/Window/" + uuid); err == nil && xid > 0 {
			info.ID = capture.WindowID(xid)
			info.Capturable = true
		}
		info.Geometry = b.windowGeometry(uuid)
	}
	return info, true
}

// classFromTitle guesses an application name from "Page - Application".
func classFromTitle(title string) string {
	for _, sep := range []string{" — ", " - "} {
		if idx := strings.LastIndex(title, sep); idx > 0 {
			c := strings.TrimSpace(title[idx+len(sep):])
			if c != "" && len(c) <= 30 {
				return strings.ToLower(c)
			}
		}
	}
	return ""
}

// windowXID reads the X11 id of an XWayland window.
func (b *KWinBackend) windowXID(windowPath string) (uint32, error) {
	obj := b.conn.Object(kwinService, dbus.ObjectPath(windowPath))
	for _, iface := range []string{"org.kde.KWin.Window", "org.kde.KWin.Client"} {
		for _, prop := range []string{".internalId", ".windowId"} {
			v, err := obj.GetProperty(iface + prop)
			if err != nil {
				continue
			}
			if id, ok := variantInt(v); ok && id > 0 {
				return uint32(id), nil
			}
		}
	}
	return 0, fmt.Errorf("no XID for %s", windowPath)
}

// windowGeometry calls KWin's getWindowInfo for a window UUID.
func (b *KWinBackend) windowGeometry(uuid string) capture.Rect {
	var result map[string]dbus.Variant
	obj := b.conn.Object(kwinService, kwinPath)
	if err := obj.Call(kwinInterface+".getWindowInfo", 0, uuid).Store(&result); err != nil {
		return capture.Rect{}
	}

	var r capture.Rect
	for key, dst := range map[string]*int{"x": &r.X, "y": &r.Y, "width": &r.Width, "height": &r.Height} {
		if v, ok := result[key]; ok {
			if n, ok := variantInt(v); ok {
				*dst = int(n)
			}
		}
	}
	return r
}

// GetFocusedWindow asks XWayland for the focused window.
func (b *KWinBackend) GetFocusedWindow() (*Info, error) {
	if b.x11 == nil {
		return nil, fmt.Errorf("focused window unknown without XWayland")
	}
	return b.x11.GetFocusedWindow()
}

func variantInt(v dbus.Variant) (int64, bool) {
	switch n := v.Value().(type) {
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case int64:
		return n, true
	case uint64:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

// hashString gives native Wayland windows a stable id (djb2).
func hashString(s string) uint32 {
	var hash uint32 = 5381
	for i := 0; i < len(s); i++ {
		hash = ((hash << 5) + hash) + uint32(s[i])
	}
	return hash
}
