package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/display"
	"github.com/shastasprojector/projector/internal/logger"
	"github.com/spf13/viper"
)

// Config is the read-only startup configuration.
type Config struct {
	LogLevel   string          `json:"log_level" yaml:"log_level" mapstructure:"log_level"`
	LogPretty  bool            `json:"log_pretty" yaml:"log_pretty" mapstructure:"log_pretty"`
	ServerPort int             `json:"server_port" yaml:"server_port" mapstructure:"server_port"`
	Capture    CaptureConfig   `json:"capture" yaml:"capture" mapstructure:"capture"`
	Stream     StreamConfig    `json:"stream" yaml:"stream" mapstructure:"stream"`
	Overlays   []OverlayConfig `json:"overlays" yaml:"overlays" mapstructure:"overlays"`
}

// CaptureConfig tunes the capture core.
type CaptureConfig struct {
	// TimeoutMS bounds the platform work of one capture tick.
	TimeoutMS int `json:"timeout_ms" yaml:"timeout_ms" mapstructure:"timeout_ms"`
	// WindowFallback is "none" or "screen".
	WindowFallback string `json:"window_fallback" yaml:"window_fallback" mapstructure:"window_fallback"`
	SmoothScaling  bool   `json:"smooth_scaling" yaml:"smooth_scaling" mapstructure:"smooth_scaling"`
}

// Timeout returns TimeoutMS as a duration.
func (c CaptureConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// Fallback parses WindowFallback.
func (c CaptureConfig) Fallback() capture.WindowFallback {
	f, err := capture.ParseWindowFallback(c.WindowFallback)
	if err != nil {
		return capture.WindowFallbackNone
	}
	return f
}

// StreamConfig controls the MJPEG preview streams.
type StreamConfig struct {
	JPEGQuality int `json:"jpeg_quality" yaml:"jpeg_quality" mapstructure:"jpeg_quality"`
	FPS         int `json:"fps" yaml:"fps" mapstructure:"fps"`
}

// Size is a width/height pair.
type Size struct {
	Width  int `json:"width" yaml:"width" mapstructure:"width"`
	Height int `json:"height" yaml:"height" mapstructure:"height"`
}

// OverlayConfig describes a capture overlay created at startup.
type OverlayConfig struct {
	ID       string        `json:"id" yaml:"id" mapstructure:"id"`
	Name     string        `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Mode     string        `json:"mode,omitempty" yaml:"mode,omitempty" mapstructure:"mode"`
	Region   capture.Rect  `json:"region" yaml:"region" mapstructure:"region"`
	WindowID uint64        `json:"window_id,omitempty" yaml:"window_id,omitempty" mapstructure:"window_id"`
	Title    string        `json:"title,omitempty" yaml:"title,omitempty" mapstructure:"title"`
	Crop     *capture.Rect `json:"crop,omitempty" yaml:"crop,omitempty" mapstructure:"crop"`
	Viewport Size          `json:"viewport" yaml:"viewport" mapstructure:"viewport"`
	Bounds   capture.Rect  `json:"bounds" yaml:"bounds" mapstructure:"bounds"`
	Zoom     float64       `json:"zoom" yaml:"zoom" mapstructure:"zoom"`
	Hidden   bool          `json:"hidden,omitempty" yaml:"hidden,omitempty" mapstructure:"hidden"`
}

// Target builds the capture target. It returns nil for overlays that
// start without one.
func (o OverlayConfig) Target() (*capture.Target, error) {
	switch capture.Mode(o.Mode) {
	case "":
		return nil, nil
	case capture.ModeRegion:
		t := capture.RegionTarget(o.Region)
		return &t, nil
	case capture.ModeWindow:
		if o.WindowID == 0 {
			return nil, fmt.Errorf("overlay %s: window mode needs window_id", o.ID)
		}
		t := capture.WindowTarget(capture.WindowID(o.WindowID), o.Title, o.Crop)
		return &t, nil
	}
	return nil, fmt.Errorf("overlay %s: unknown mode %q", o.ID, o.Mode)
}

// Manager loads configuration through viper.
type Manager struct {
	v          *viper.Viper
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultConfigPath returns $HOME/.config/projector/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "projector", "config.yaml")
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_pretty", false)
	v.SetDefault("server_port", 8090)
	v.SetDefault("capture.timeout_ms", int(250))
	v.SetDefault("capture.window_fallback", string(capture.WindowFallbackNone))
	v.SetDefault("capture.smooth_scaling", true)
	v.SetDefault("stream.jpeg_quality", 80)
	v.SetDefault("stream.fps", 20)
}

// NewManager reads configFile (or the default location) into v. Flags
// bound to v beforehand take precedence. A missing file means defaults.
func NewManager(configFile string, v *viper.Viper) (*Manager, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	v.SetEnvPrefix("PROJECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := configFile
	if path == "" {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	log := logger.WithComponent("config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		log.Info().Str("path", path).Msg("Config file not found, using defaults")
	}

	m := &Manager{v: v, configPath: path}
	if err := m.load(); err != nil {
		return nil, err
	}

	log.Info().
		Str("path", m.configPath).
		Int("overlays", len(m.config.Overlays)).
		Msg("Config loaded")
	return m, nil
}

func (m *Manager) load() error {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := Normalize(&cfg); err != nil {
		return err
	}

	m.mu.Lock()
	m.config = &cfg
	m.mu.Unlock()
	return nil
}

// Normalize validates cfg and clamps out-of-range values in place.
func Normalize(cfg *Config) error {
	if cfg.ServerPort < 1 || cfg.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port %d", cfg.ServerPort)
	}
	if _, err := capture.ParseWindowFallback(cfg.Capture.WindowFallback); err != nil {
		return err
	}
	if cfg.Capture.TimeoutMS < 10 {
		cfg.Capture.TimeoutMS = 10
	}
	cfg.Stream.JPEGQuality = min(100, max(1, cfg.Stream.JPEGQuality))
	cfg.Stream.FPS = min(60, max(1, cfg.Stream.FPS))

	seen := make(map[string]bool, len(cfg.Overlays))
	for i := range cfg.Overlays {
		o := &cfg.Overlays[i]
		if o.ID == "" {
			o.ID = fmt.Sprintf("overlay-%d", i+1)
		}
		if seen[o.ID] {
			return fmt.Errorf("duplicate overlay id %q", o.ID)
		}
		seen[o.ID] = true

		if _, err := o.Target(); err != nil {
			return err
		}
		if o.Zoom == 0 {
			o.Zoom = 1
		}
		o.Zoom = display.ClampZoom(o.Zoom)
		if o.Viewport.Width < 1 {
			o.Viewport.Width = max(1, o.Bounds.Width)
		}
		if o.Viewport.Height < 1 {
			o.Viewport.Height = max(1, o.Bounds.Height)
		}
	}
	return nil
}

// Get returns a copy of the configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cfg := *m.config
	cfg.Overlays = append([]OverlayConfig(nil), m.config.Overlays...)
	return &cfg
}

// GetViper exposes the underlying viper instance for key lookups.
func (m *Manager) GetViper() *viper.Viper {
	return m.v
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
