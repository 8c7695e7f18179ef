//go:build !windows

package window

import (
	"errors"
	"os"
	"runtime"

	"github.com/shastasprojector/projector/internal/logger"
)

// NewBackend picks KWin on a KDE Wayland session and plain X11 otherwise.
func NewBackend() (Backend, error) {
	log := logger.WithComponent("window")

	if runtime.GOOS != "linux" {
		return nil, ErrUnsupported
	}

	if os.Getenv("WAYLAND_DISPLAY") != "" {
		kwin, err := NewKWinBackend()
		if err == nil {
			log.Info().Msg("Using KWin window backend")
			return kwin, nil
		}
		log.Warn().Err(err).Msg("KWin backend unavailable, trying X11")
	}

	x11, err := NewX11Backend()
	if err != nil {
		return nil, errors.Join(ErrUnsupported, err)
	}
	log.Info().Msg("Using X11 window backend")
	return x11, nil
}
