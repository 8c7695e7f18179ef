package commands

import (
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/shastasprojector/projector/internal/capture"
	"github.com/shastasprojector/projector/internal/display"
	"github.com/shastasprojector/projector/internal/logger"
	"github.com/shastasprojector/projector/internal/output"
	"github.com/spf13/cobra"
)

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture a single frame of a window or region",
	Long: `Grab one frame through the same capture platform the overlays use and
write it to a PNG or JPEG file.

With --width and --height the frame is presented the way an overlay of
that size would show it, including zoom.`,
	Example: `  # Capture a window by id
  projector capture --window 0x3a00007 -o editor.png

  # Capture the top-left quarter of a 1920x1080 screen
  projector capture --region 0,0,960,540 -o corner.jpg

  # Capture a cropped window as a 400x300 overlay would show it at 2x
  projector capture --window 58720263 --crop 0,0,800,600 --width 400 --height 300 --zoom 2`,
	RunE: runCapture,
}

var (
	captureWindow string
	captureRegion string
	captureCrop   string
	captureOut    string
	captureWidth  int
	captureHeight int
	captureZoom   float64
)

func init() {
	rootCmd.AddCommand(captureCmd)

	captureCmd.Flags().StringVar(&captureWindow, "window", "", "window id (decimal or 0x hex)")
	captureCmd.Flags().StringVar(&captureRegion, "region", "", "screen region as X,Y,W,H")
	captureCmd.Flags().StringVar(&captureCrop, "crop", "", "window-local crop as X,Y,W,H")
	captureCmd.Flags().StringVarP(&captureOut, "output", "o", "capture.png", "output file (.png, .jpg)")
	captureCmd.Flags().IntVar(&captureWidth, "width", 0, "present into a viewport of this width")
	captureCmd.Flags().IntVar(&captureHeight, "height", 0, "present into a viewport of this height")
	captureCmd.Flags().Float64Var(&captureZoom, "zoom", 1, "viewport zoom when presenting")
}

func runCapture(cmd *cobra.Command, args []string) error {
	target, err := captureTarget()
	if err != nil {
		return err
	}

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()

	router, err := capture.NewPlatform(capture.RouterOptions{WindowFallback: cfg.Capture.Fallback()})
	if err != nil {
		return fmt.Errorf("failed to start capture platform: %w", err)
	}
	defer router.Stop()

	var frame *capture.Frame
	switch target.Mode {
	case capture.ModeWindow:
		rect, err := router.Locate(target.Window)
		if err != nil {
			return err
		}
		if router.IsMinimizedOrHidden(target.Window) {
			return fmt.Errorf("%w: window %d", capture.ErrTargetMinimized, target.Window)
		}
		frame, err = router.CaptureWindow(target.Window, rect.Width, rect.Height, target.Crop)
		if err != nil {
			return err
		}
	default:
		frame, err = router.CaptureRegion(target.Region)
		if err != nil {
			return err
		}
	}

	if captureWidth > 0 && captureHeight > 0 {
		vp := display.NewViewport(captureWidth, captureHeight).WithZoom(captureZoom)
		frame, _ = display.NewPresenter(cfg.Capture.SmoothScaling).Present(frame, vp)
	}

	if err := writeImage(captureOut, frame, cfg.Stream.JPEGQuality); err != nil {
		return err
	}

	logger.WithComponent("capture").Info().
		Str("file", captureOut).
		Str("source", frame.Source().String()).
		Int("width", frame.Width()).
		Int("height", frame.Height()).
		Msg("Frame written")
	return nil
}

func captureTarget() (capture.Target, error) {
	switch {
	case captureWindow != "" && captureRegion != "":
		return capture.Target{}, fmt.Errorf("--window and --region are mutually exclusive")
	case captureWindow != "":
		id, err := strconv.ParseUint(captureWindow, 0, 64)
		if err != nil {
			return capture.Target{}, fmt.Errorf("invalid window id %q: %w", captureWindow, err)
		}
		var crop *capture.Rect
		if captureCrop != "" {
			r, err := parseRect(captureCrop)
			if err != nil {
				return capture.Target{}, err
			}
			crop = &r
		}
		t := capture.WindowTarget(capture.WindowID(id), "", crop)
		return t, t.Validate()
	case captureRegion != "":
		r, err := parseRect(captureRegion)
		if err != nil {
			return capture.Target{}, err
		}
		t := capture.RegionTarget(r)
		return t, t.Validate()
	}
	return capture.Target{}, fmt.Errorf("one of --window or --region is required")
}

func parseRect(s string) (capture.Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return capture.Rect{}, fmt.Errorf("invalid rect %q (want X,Y,W,H)", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return capture.Rect{}, fmt.Errorf("invalid rect %q: %w", s, err)
		}
		v[i] = n
	}
	return capture.Rect{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

func writeImage(path string, frame *capture.Frame, quality int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		data, err := output.EncodeJPEG(frame.Image(), quality)
		if err != nil {
			return err
		}
		_, err = f.Write(data)
		return err
	default:
		return png.Encode(f, frame.Image())
	}
}
