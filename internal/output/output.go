package output

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
)

// Output defines the interface for overlay frame sinks.
// Implementations must not block the caller of WriteFrame; capture
// goroutines feed them directly.
type Output interface {
	// Start initializes the output mechanism
	Start() error

	// Stop cleanly shuts down the output
	Stop() error

	// WriteFrame hands a presented frame to the output
	WriteFrame(frame image.Image) error

	// Name returns a human-readable name for this output type
	Name() string

	// IsRunning returns true if the output is currently active
	IsRunning() bool
}

// Config holds common configuration for all output types
type Config struct {
	FPS     int
	Quality int
}

func (c Config) normalized() Config {
	c.FPS = min(60, max(1, c.FPS))
	if c.Quality < 1 || c.Quality > 100 {
		c.Quality = jpeg.DefaultQuality
	}
	return c
}

// EncodeJPEG encodes img at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode JPEG: %w", err)
	}
	return buf.Bytes(), nil
}
