package capture

import (
	"github.com/shastasprojector/projector/internal/logger"
)

// NewPlatform selects the native backend for this OS, pairs it with the
// screenshot fallback and starts the resulting router.
func NewPlatform(opts RouterOptions) (*Router, error) {
	log := logger.WithComponent("capture")

	native, err := NewNativeBackend()
	if err != nil {
		log.Warn().Err(err).Msg("Native capture backend unavailable, using screen grab only")
		native = nil
	}

	r := NewRouter(native, ScreenshotGrabber{}, opts)
	if err := r.Start(); err != nil {
		return nil, err
	}
	return r, nil
}
