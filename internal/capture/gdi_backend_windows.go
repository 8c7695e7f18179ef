//go:build windows

package capture

import (
	"fmt"
	"image"
	"sync"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

var (
	user32          = windows.NewLazySystemDLL("user32.dll")
	procPrintWindow = user32.NewProc("PrintWindow")
)

const (
	// PW_RENDERFULLCONTENT makes DWM render hardware-accelerated content.
	pwRenderFullContent = 0x00000002
	captureBlt          = 0x40000000
)

// GDIBackend captures through Win32 GDI. PrintWindow gives the window's
// own content even when other windows cover it.
type GDIBackend struct {
	mu sync.Mutex
}

// NewNativeBackend returns the Win32 backend.
func NewNativeBackend() (Backend, error) {
	if err := procPrintWindow.Find(); err != nil {
		return nil, fmt.Errorf("PrintWindow not available: %w", err)
	}
	return &GDIBackend{}, nil
}

// Name returns the backend name
func (b *GDIBackend) Name() string { return "gdi" }

// Start is a no-op; GDI needs no session state.
func (b *GDIBackend) Start() error { return nil }

// Stop is a no-op.
func (b *GDIBackend) Stop() error { return nil }

// Locate returns the outer window rect.
func (b *GDIBackend) Locate(id WindowID) (Rect, error) {
	hwnd := win.HWND(uintptr(id))
	var rc win.RECT
	if !win.GetWindowRect(hwnd, &rc) {
		return Rect{}, fmt.Errorf("%w: GetWindowRect failed for %#x", ErrTargetUnresolvable, uintptr(id))
	}
	return Rect{
		X:      int(rc.Left),
		Y:      int(rc.Top),
		Width:  int(rc.Right - rc.Left),
		Height: int(rc.Bottom - rc.Top),
	}, nil
}

// IsMinimizedOrHidden reports iconic or invisible windows. A stale handle
// is not visible, so it reports true as well.
func (b *GDIBackend) IsMinimizedOrHidden(id WindowID) bool {
	hwnd := win.HWND(uintptr(id))
	return win.IsIconic(hwnd) || !win.IsWindowVisible(hwnd)
}

func printWindow(hwnd win.HWND, hdc win.HDC, flags uintptr) bool {
	ret, _, _ := procPrintWindow.Call(uintptr(hwnd), uintptr(hdc), flags)
	return ret != 0
}

// CaptureWindow renders the window into a memory bitmap with PrintWindow,
// retrying without PW_RENDERFULLCONTENT for windows that reject it.
func (b *GDIBackend) CaptureWindow(id WindowID, width, height int) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hwnd := win.HWND(uintptr(id))

	hdcScreen := win.GetDC(0)
	if hdcScreen == 0 {
		return nil, fmt.Errorf("GetDC failed")
	}
	defer win.ReleaseDC(0, hdcScreen)

	hdcMem := win.CreateCompatibleDC(hdcScreen)
	if hdcMem == 0 {
		return nil, fmt.Errorf("CreateCompatibleDC failed")
	}
	defer win.DeleteDC(hdcMem)

	bitmap := win.CreateCompatibleBitmap(hdcScreen, int32(width), int32(height))
	if bitmap == 0 {
		return nil, fmt.Errorf("CreateCompatibleBitmap failed for %dx%d", width, height)
	}
	defer win.DeleteObject(win.HGDIOBJ(bitmap))

	old := win.SelectObject(hdcMem, win.HGDIOBJ(bitmap))
	if old == 0 {
		return nil, fmt.Errorf("SelectObject failed")
	}
	ok := printWindow(hwnd, hdcMem, pwRenderFullContent) || printWindow(hwnd, hdcMem, 0)
	// GetDIBits requires the bitmap to be deselected.
	win.SelectObject(hdcMem, old)
	if !ok {
		return nil, fmt.Errorf("PrintWindow failed for %#x", uintptr(id))
	}

	return readDIB(hdcMem, bitmap, width, height)
}

// CaptureRegion copies a screen rect with BitBlt.
func (b *GDIBackend) CaptureRegion(r Rect) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hdcScreen := win.GetDC(0)
	if hdcScreen == 0 {
		return nil, fmt.Errorf("GetDC failed")
	}
	defer win.ReleaseDC(0, hdcScreen)

	hdcMem := win.CreateCompatibleDC(hdcScreen)
	if hdcMem == 0 {
		return nil, fmt.Errorf("CreateCompatibleDC failed")
	}
	defer win.DeleteDC(hdcMem)

	bitmap := win.CreateCompatibleBitmap(hdcScreen, int32(r.Width), int32(r.Height))
	if bitmap == 0 {
		return nil, fmt.Errorf("CreateCompatibleBitmap failed for %dx%d", r.Width, r.Height)
	}
	defer win.DeleteObject(win.HGDIOBJ(bitmap))

	old := win.SelectObject(hdcMem, win.HGDIOBJ(bitmap))
	if old == 0 {
		return nil, fmt.Errorf("SelectObject failed")
	}
	ok := win.BitBlt(hdcMem, 0, 0, int32(r.Width), int32(r.Height),
		hdcScreen, int32(r.X), int32(r.Y), win.SRCCOPY|captureBlt)
	win.SelectObject(hdcMem, old)
	if !ok {
		return nil, fmt.Errorf("BitBlt failed")
	}

	return readDIB(hdcMem, bitmap, r.Width, r.Height)
}

// readDIB extracts a top-down 32bpp DIB. GetDIBits balks at Go memory on
// some systems, so the bits land in a global allocation first.
func readDIB(hdc win.HDC, bitmap win.HBITMAP, width, height int) (*image.RGBA, error) {
	var header win.BITMAPINFOHEADER
	header.BiSize = uint32(unsafe.Sizeof(header))
	header.BiWidth = int32(width)
	header.BiHeight = -int32(height)
	header.BiPlanes = 1
	header.BiBitCount = 32
	header.BiCompression = win.BI_RGB

	size := uintptr(width * height * 4)
	hmem := win.GlobalAlloc(win.GMEM_MOVEABLE, size)
	if hmem == 0 {
		return nil, fmt.Errorf("GlobalAlloc failed for %d bytes", size)
	}
	defer win.GlobalFree(hmem)

	ptr := win.GlobalLock(hmem)
	if ptr == nil {
		return nil, fmt.Errorf("GlobalLock failed")
	}
	defer win.GlobalUnlock(hmem)

	lines := win.GetDIBits(hdc, bitmap, 0, uint32(height), (*uint8)(ptr),
		(*win.BITMAPINFO)(unsafe.Pointer(&header)), win.DIB_RGB_COLORS)
	if lines == 0 {
		return nil, fmt.Errorf("GetDIBits failed")
	}

	// FromBGRA copies, so the global allocation can be freed on return.
	bits := unsafe.Slice((*byte)(ptr), size)
	return FromBGRA(bits, width, height, width*4, header.BiHeight > 0)
}
