//go:build darwin && cgo

package capture

/*
#cgo CFLAGS: -Wno-deprecated-declarations
#cgo LDFLAGS: -framework CoreGraphics -framework CoreFoundation
#include <CoreGraphics/CoreGraphics.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdlib.h>

static int pj_window_info(uint32_t wid, CGRect *bounds, int *onscreen) {
	CFArrayRef list = CGWindowListCopyWindowInfo(kCGWindowListOptionIncludingWindow, wid);
	if (list == NULL) return 0;
	int found = 0;
	CFIndex n = CFArrayGetCount(list);
	for (CFIndex i = 0; i < n && !found; i++) {
		CFDictionaryRef info = (CFDictionaryRef)CFArrayGetValueAtIndex(list, i);
		CFNumberRef num = (CFNumberRef)CFDictionaryGetValue(info, kCGWindowNumber);
		uint32_t id = 0;
		if (num == NULL || !CFNumberGetValue(num, kCFNumberSInt32Type, &id) || id != wid) continue;
		CFDictionaryRef b = (CFDictionaryRef)CFDictionaryGetValue(info, kCGWindowBounds);
		if (b == NULL || !CGRectMakeWithDictionaryRepresentation(b, bounds)) break;
		CFBooleanRef on = (CFBooleanRef)CFDictionaryGetValue(info, kCGWindowIsOnscreen);
		*onscreen = (on != NULL && CFBooleanGetValue(on)) ? 1 : 0;
		found = 1;
	}
	CFRelease(list);
	return found;
}

static double pj_main_display_height(void) {
	return CGDisplayBounds(CGMainDisplayID()).size.height;
}

// pj_render draws img into a calloc'd BGRX buffer and releases img.
static int pj_render(CGImageRef img, void **out, size_t *w, size_t *h) {
	if (img == NULL) return 0;
	size_t width = CGImageGetWidth(img), height = CGImageGetHeight(img);
	if (width == 0 || height == 0) { CGImageRelease(img); return 0; }
	void *buf = calloc(width * height, 4);
	if (buf == NULL) { CGImageRelease(img); return 0; }
	CGColorSpaceRef cs = CGColorSpaceCreateDeviceRGB();
	CGContextRef ctx = CGBitmapContextCreate(buf, width, height, 8, width * 4, cs,
		kCGImageAlphaNoneSkipFirst | kCGBitmapByteOrder32Little);
	CGColorSpaceRelease(cs);
	if (ctx == NULL) { free(buf); CGImageRelease(img); return 0; }
	CGContextDrawImage(ctx, CGRectMake(0, 0, width, height), img);
	CGContextRelease(ctx);
	CGImageRelease(img);
	*out = buf;
	*w = width;
	*h = height;
	return 1;
}

static int pj_capture_window(uint32_t wid, void **out, size_t *w, size_t *h) {
	return pj_render(CGWindowListCreateImage(CGRectNull, kCGWindowListOptionIncludingWindow,
		wid, kCGWindowImageBoundsIgnoreFraming), out, w, h);
}

static int pj_capture_rect(double x, double y, double rw, double rh, void **out, size_t *w, size_t *h) {
	return pj_render(CGWindowListCreateImage(CGRectMake(x, y, rw, rh), kCGWindowListOptionOnScreenOnly,
		kCGNullWindowID, kCGWindowImageDefault), out, w, h);
}
*/
import "C"

import (
	"fmt"
	"image"
	"sync"
	"unsafe"

	"golang.org/x/image/draw"
)

// QuartzBackend captures through CoreGraphics window-list images.
type QuartzBackend struct {
	mu sync.Mutex
}

// NewNativeBackend returns the Quartz backend.
func NewNativeBackend() (Backend, error) {
	return &QuartzBackend{}, nil
}

// Name returns the backend name
func (b *QuartzBackend) Name() string { return "quartz" }

// Start is a no-op.
func (b *QuartzBackend) Start() error { return nil }

// Stop is a no-op.
func (b *QuartzBackend) Stop() error { return nil }

// Locate reads kCGWindowBounds and flips it from bottom-left to top-left
// origin using the main display height.
func (b *QuartzBackend) Locate(id WindowID) (Rect, error) {
	var bounds C.CGRect
	var onscreen C.int
	if C.pj_window_info(C.uint32_t(id), &bounds, &onscreen) == 0 {
		return Rect{}, fmt.Errorf("%w: window %d not in window list", ErrTargetUnresolvable, id)
	}

	screenH := float64(C.pj_main_display_height())
	x := float64(bounds.origin.x)
	y := float64(bounds.origin.y)
	w := float64(bounds.size.width)
	h := float64(bounds.size.height)

	return Rect{
		X:      int(x),
		Y:      int(screenH - (y + h)),
		Width:  int(w),
		Height: int(h),
	}, nil
}

// IsMinimizedOrHidden reports windows that are missing or not on screen.
func (b *QuartzBackend) IsMinimizedOrHidden(id WindowID) bool {
	var bounds C.CGRect
	var onscreen C.int
	if C.pj_window_info(C.uint32_t(id), &bounds, &onscreen) == 0 {
		return true
	}
	return onscreen == 0
}

// CaptureWindow renders the window with kCGWindowListOptionIncludingWindow,
// which ignores whatever covers it.
func (b *QuartzBackend) CaptureWindow(id WindowID, width, height int) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var buf unsafe.Pointer
	var w, h C.size_t
	if C.pj_capture_window(C.uint32_t(id), &buf, &w, &h) == 0 {
		return nil, fmt.Errorf("CGWindowListCreateImage failed for window %d", id)
	}
	defer C.free(buf)

	return toPoints(buf, int(w), int(h), width, height)
}

// CaptureRegion renders the on-screen windows inside r.
func (b *QuartzBackend) CaptureRegion(r Rect) (*image.RGBA, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var buf unsafe.Pointer
	var w, h C.size_t
	if C.pj_capture_rect(C.double(r.X), C.double(r.Y), C.double(r.Width), C.double(r.Height), &buf, &w, &h) == 0 {
		return nil, fmt.Errorf("CGWindowListCreateImage failed for region %s", r)
	}
	defer C.free(buf)

	return toPoints(buf, int(w), int(h), r.Width, r.Height)
}

// toPoints copies the C buffer out and scales Retina pixel images down to
// the requested point size.
func toPoints(buf unsafe.Pointer, w, h, wantW, wantH int) (*image.RGBA, error) {
	img, err := FromBGRA(unsafe.Slice((*byte)(buf), w*h*4), w, h, w*4, false)
	if err != nil {
		return nil, err
	}
	if wantW < 1 || wantH < 1 || (w == wantW && h == wantH) {
		return img, nil
	}
	out := image.NewRGBA(image.Rect(0, 0, wantW, wantH))
	draw.ApproxBiLinear.Scale(out, out.Rect, img, img.Rect, draw.Src, nil)
	return out, nil
}
