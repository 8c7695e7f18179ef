//go:build windows

package window

import (
	"fmt"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"github.com/shastasprojector/projector/internal/capture"
	"golang.org/x/sys/windows"
)

var (
	user32             = windows.NewLazySystemDLL("user32.dll")
	procGetWindowTextW = user32.NewProc("GetWindowTextW")
)

// Win32Backend enumerates top-level windows with EnumWindows.
type Win32Backend struct{}

// NewBackend returns the Win32 window backend.
func NewBackend() (Backend, error) {
	return Win32Backend{}, nil
}

// Name returns the backend name
func (Win32Backend) Name() string { return "win32" }

// Close is a no-op.
func (Win32Backend) Close() error { return nil }

// ListWindows returns visible, titled, non-tool top-level windows.
func (b Win32Backend) ListWindows() ([]Info, error) {
	var handles []windows.HWND
	cb := syscall.NewCallback(func(hwnd windows.HWND, _ uintptr) uintptr {
		handles = append(handles, hwnd)
		return 1
	})
	if err := windows.EnumWindows(cb, unsafe.Pointer(nil)); err != nil {
		return nil, fmt.Errorf("EnumWindows failed: %w", err)
	}

	focused := win.GetForegroundWindow()
	out := make([]Info, 0, len(handles))
	for _, h := range handles {
		if !windows.IsWindowVisible(h) {
			continue
		}
		if win.GetWindowLong(win.HWND(h), win.GWL_EXSTYLE)&win.WS_EX_TOOLWINDOW != 0 {
			continue
		}
		info := describe(h)
		if info.Title == "" {
			continue
		}
		info.Focused = win.HWND(h) == focused
		out = append(out, info)
	}
	return out, nil
}

// GetFocusedWindow returns the foreground window.
func (Win32Backend) GetFocusedWindow() (*Info, error) {
	h := win.GetForegroundWindow()
	if h == 0 {
		return nil, fmt.Errorf("no foreground window")
	}
	info := describe(windows.HWND(h))
	info.Focused = true
	return &info, nil
}

func describe(h windows.HWND) Info {
	info := Info{ID: capture.WindowID(h), Desktop: -1, Capturable: true}

	info.Title = windowText(h)
	class := make([]uint16, 256)
	if n, err := windows.GetClassName(h, &class[0], int32(len(class))); err == nil && n > 0 {
		info.Class = windows.UTF16ToString(class[:n])
	}

	var pid uint32
	if _, err := windows.GetWindowThreadProcessId(h, &pid); err == nil {
		info.PID = int(pid)
	}

	var rect win.RECT
	if win.GetWindowRect(win.HWND(h), &rect) {
		info.Geometry = capture.Rect{
			X:      int(rect.Left),
			Y:      int(rect.Top),
			Width:  int(rect.Right - rect.Left),
			Height: int(rect.Bottom - rect.Top),
		}
	}
	return info
}

// windowText returns the window's title, or "" when it has none.
func windowText(h windows.HWND) string {
	if h == 0 {
		return ""
	}
	buf := make([]uint16, 512)
	n, _, _ := procGetWindowTextW.Call(uintptr(h), uintptr(unsafe.Pointer(&buf[0])), uintptr(len(buf)))
	if n == 0 || int(n) > len(buf) {
		return ""
	}
	return windows.UTF16ToString(buf[:n])
}
