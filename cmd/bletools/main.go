package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"unicode"

	"github.com/spf13/cobra"
	"github.com/srg/bletools/internal/device"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bletools",
	Short: "Bluetooth Low Energy pairing and GATT CLI tool",
	Long: `Bluetooth Low Energy (BLE) command-line tool that provides:

- Scan and discover nearby BLE and Classic devices
- Pair and unpair devices, accepting the pairing ceremony automatically
- List GATT services and characteristics
- Read from and write to characteristics

Devices are addressed by MAC address. A device the host does not know yet is
discovered on the fly; services and characteristics that are not cached yet
are polled for until they appear.

The exit code is the result code of the command (0 on success).`,
	Version: formatVersion(version),
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		// Ctrl+C is a normal exit, not an error - exit silently
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", err)
		os.Exit(int(device.CodeOf(err)))
	}
}

func init() {
	// Silence Cobra's "Error:" prefix - main() prints clean errors
	rootCmd.SilenceErrors = true
	rootCmd.SetVersionTemplate(fmt.Sprintf("bletools {{.Version}} (commit %s, built %s)\n", commit, date))

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(unpairCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(listCmd)

	// Global flags
	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default $BLETOOLS_CONFIG or <user config dir>/bletools/config.yaml)")
	pf.String("log-level", "", "Log level (debug, info, warn, error)")
	pf.Bool("debug", false, "Enable debug logging (same as --log-level debug)")
	pf.String("backend", "", "Bluetooth backend (bluez, goble); default bluez on Linux, goble elsewhere")
	pf.String("adapter", "", "Bluetooth adapter name (default hci0)")
	pf.Duration("discovery-timeout", 0, "How long to look for a device that is not known to the host (default 20s)")
	pf.Duration("metadata-timeout", 0, "How long to wait for a service or characteristic to appear (default 10s)")
	pf.Duration("polling-interval", 0, "Interval between service/characteristic polls (default 100ms)")

	// Add -v as a short flag for --version
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")
}
