package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/shastasprojector/projector/internal/window"
	"github.com/spf13/cobra"
)

var windowsCmd = &cobra.Command{
	Use:   "windows",
	Short: "List capturable windows",
	Long: `List the top-level windows the picker would offer.

Windows marked as not capturable (native Wayland clients) are listed but
cannot be used as overlay targets.`,
	Example: `  # List windows in table format (default)
  projector windows

  # List windows in JSON format
  projector windows --format json

  # Show the currently focused window
  projector windows --focused`,
	RunE: runWindows,
}

var (
	windowsFormat  string
	windowsFocused bool
)

func init() {
	rootCmd.AddCommand(windowsCmd)

	windowsCmd.Flags().StringVarP(&windowsFormat, "format", "f", "table", "output format (table or json)")
	windowsCmd.Flags().BoolVarP(&windowsFocused, "focused", "c", false, "show the focused window only")
}

func runWindows(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	backend, err := window.NewBackend()
	if err != nil {
		return fmt.Errorf("failed to open window backend: %w", err)
	}
	windowMgr := window.NewManager(backend)
	defer windowMgr.Close()

	if windowsFocused {
		focused, err := windowMgr.Focused()
		if err != nil {
			return fmt.Errorf("failed to get focused window: %w", err)
		}
		return printWindows([]window.Info{*focused})
	}

	windows, err := windowMgr.List()
	if err != nil {
		return err
	}
	return printWindows(windows)
}

func printWindows(windows []window.Info) error {
	switch windowsFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(windows)
	case "table":
		return printWindowsTable(windows)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", windowsFormat)
	}
}

func printWindowsTable(windows []window.Info) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tTITLE\tCLASS\tPID\tGEOMETRY\tCAPTURABLE")
	fmt.Fprintln(w, "--\t-----\t-----\t---\t--------\t----------")

	for _, win := range windows {
		capturable := "Yes"
		if !win.Capturable {
			capturable = "No"
		}
		title := win.Title
		if win.Focused {
			title += " *"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n", win.ID, title, win.Class, win.PID, win.Geometry, capturable)
	}

	return nil
}
