package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/shastasprojector/projector/internal/config"
	"github.com/shastasprojector/projector/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "projector",
		Short: "Projector - live mirrors of windows and screen regions",
		Long: `Projector opens overlays that mirror a window or a rectangle of the
screen in real time. Each overlay can be zoomed, panned, re-targeted and
frozen into a still copy.

Features:
  • Capture windows even when they are covered (X11, Win32, Quartz)
  • Capture screen regions without mirroring the overlays themselves
  • Zoom and pan inside each overlay
  • Window picker with live previews
  • REST API, state events over WebSocket and MJPEG streams`,
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/projector/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8090)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-pretty", false, "human-readable console logs")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_pretty", rootCmd.PersistentFlags().Lookup("log-pretty"))
}

// initConfig loads a .env file from the working directory, if any, so
// PROJECTOR_* variables can be kept next to the binary.
func initConfig() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env: %v\n", err)
	}
}

// loadConfig reads the configuration and applies its logging settings.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile(), viper.GetViper())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, cfg.LogPretty)
	return configMgr, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
