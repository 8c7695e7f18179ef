//go:build !linux && !windows && !(darwin && cgo)

package capture

import (
	"fmt"
	"image"
	"runtime"
)

// unsupportedBackend fails every call so overlays show placeholders
// instead of crashing on platforms without a native path.
type unsupportedBackend struct{}

// NewNativeBackend returns a backend that reports every target as unavailable.
func NewNativeBackend() (Backend, error) {
	return unsupportedBackend{}, nil
}

func (unsupportedBackend) Name() string { return "unsupported-" + runtime.GOOS }

func (unsupportedBackend) Start() error { return nil }

func (unsupportedBackend) Stop() error { return nil }

func (unsupportedBackend) Locate(id WindowID) (Rect, error) {
	return Rect{}, fmt.Errorf("%w: window lookup not supported on %s", ErrTargetUnresolvable, runtime.GOOS)
}

func (unsupportedBackend) IsMinimizedOrHidden(WindowID) bool { return true }

func (unsupportedBackend) CaptureWindow(WindowID, int, int) (*image.RGBA, error) {
	return nil, fmt.Errorf("%w: window capture not supported on %s", ErrUnavailable, runtime.GOOS)
}

func (unsupportedBackend) CaptureRegion(Rect) (*image.RGBA, error) {
	return nil, fmt.Errorf("%w: native region capture not supported on %s", ErrUnavailable, runtime.GOOS)
}
