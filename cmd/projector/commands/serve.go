package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shastasprojector/projector/internal/api"
	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/display"
	"github.com/shastasprojector/projector/internal/logger"
	"github.com/shastasprojector/projector/internal/output"
	"github.com/shastasprojector/projector/internal/overlay"
	"github.com/shastasprojector/projector/internal/window"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Projector server",
	Long: `Start the capture platform, open the overlays listed in the config
file and serve the HTTP API.

Overlays are controlled through the REST API. Every overlay streams its
presented frames as MJPEG, and state changes are pushed over a WebSocket.`,
	Example: `  # Start server on default port (8090)
  projector serve

  # Start server on custom port
  projector serve --port 9090

  # Start with specific config file
  projector serve --config /path/to/config.yaml

  # Start with debug logging
  projector serve --log-level debug --log-pretty`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log := logger.WithComponent("serve")
	log.Info().Str("config", configMgr.GetConfigPath()).Str("log_level", cfg.LogLevel).Msg("Configuration loaded")

	router, err := capture.NewPlatform(capture.RouterOptions{WindowFallback: cfg.Capture.Fallback()})
	if err != nil {
		return fmt.Errorf("failed to start capture platform: %w", err)
	}
	defer router.Stop()
	log.Info().Str("platform", router.Name()).Msg("Capture platform ready")

	streams := output.NewStreams(output.Config{FPS: cfg.Stream.FPS, Quality: cfg.Stream.JPEGQuality})
	defer streams.Close()
	hub := api.NewHub(streams)

	registry := overlay.NewRegistry()
	defer registry.Teardown()

	overlays := overlay.NewManager(overlay.ManagerOptions{
		Platform:    router,
		Registry:    registry,
		Presenter:   display.NewPresenter(cfg.Capture.SmoothScaling),
		Observer:    hub,
		CallTimeout: cfg.Capture.Timeout(),
	})
	defer overlays.Clear()

	if err := overlays.LoadFromConfig(cfg.Overlays); err != nil {
		log.Warn().Err(err).Msg("Some configured overlays could not be opened")
	}

	var windows *window.Manager
	if backend, err := window.NewBackend(); err != nil {
		log.Warn().Err(err).Msg("Window listing unavailable, the picker will be empty")
	} else {
		windows = window.NewManager(backend)
		defer windows.Close()
		log.Info().Str("backend", windows.Name()).Msg("Window backend ready")
	}

	server := api.NewServer(api.Options{
		Overlays:    overlays,
		Windows:     windows,
		Platform:    router,
		Streams:     streams,
		Hub:         hub,
		Config:      configMgr,
		JPEGQuality: cfg.Stream.JPEGQuality,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.ServerPort)
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Int("overlays", len(overlays.All())).
		Msgf("Projector is running, open http://localhost:%d", cfg.ServerPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down gracefully")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Err(err).Msg("HTTP shutdown failed")
	}
	return nil
}
