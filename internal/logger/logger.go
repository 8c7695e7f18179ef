package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// Logger is the process-wide logger. Packages derive component loggers from it.
	Logger zerolog.Logger
)

func init() {
	// Usable before Init runs (tests, early CLI errors)
	Logger = newLogger(os.Stderr)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = Logger
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		With().
		Timestamp().
		Caller().
		Logger()
}

// ParseLevel maps a config string onto a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Init configures the global logger level and output format.
func Init(level string, pretty bool) {
	zerolog.SetGlobalLevel(ParseLevel(level))

	var output io.Writer = os.Stderr
	if pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}
	}

	Logger = newLogger(output)
	log.Logger = Logger
}

// SetOutput redirects the global logger, keeping the current level.
func SetOutput(w io.Writer) {
	Logger = newLogger(w)
	log.Logger = Logger
}

// WithComponent returns a logger with a component field set
func WithComponent(component string) *zerolog.Logger {
	l := Logger.With().Str("component", component).Logger()
	return &l
}

// WithOverlay returns a component logger tagged with an overlay id.
func WithOverlay(component, overlayID string) *zerolog.Logger {
	l := Logger.With().
		Str("component", component).
		Str("overlay_id", overlayID).
		Logger()
	return &l
}
