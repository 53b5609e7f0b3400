package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/scanner"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Bluetooth devices",
	Long: `Scan for and display Bluetooth devices in the vicinity.

Every advertisement is reported. The first sighting of a device prints its
details; later sightings are marked "(already seen)". Press Ctrl+C to stop;
a summary of the discovered devices, in the order they were first seen, is
printed on exit.

Examples:
  # Scan for BLE devices until Ctrl+C
  bletools scan

  # Scan for Classic and BLE devices for 30 seconds
  bletools scan --filter all --duration 30s`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

var (
	scanFilter   = device.BluetoothLE
	scanDuration time.Duration
)

func init() {
	scanCmd.Flags().VarP(&scanFilter, "filter", "f", "Device kind to scan for (le, classic, all)")
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (0 scans until Ctrl+C)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	ctx := cmd.Context()
	if scanDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, scanDuration)
		defer cancel()
	}

	out := cmd.OutOrStdout()
	progress := NewProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Scanning for %s devices", scanFilter), "Starting", "Scanning", "Stopped")
	progress.Start()
	defer progress.Stop()

	s := scanner.NewScanner(env.adapter, env.logger)
	seen := orderedmap.New[string, device.DeviceInfo]()
	for info, err := range s.Scan(ctx, scanFilter, progress.Callback()) {
		if err != nil {
			return err
		}
		printObservation(out, seen, info)
	}

	printScanSummary(out, seen)
	return nil
}

// printObservation prints a first sighting with its details, and repeats
// as a single "(already seen)" line.
func printObservation(out io.Writer, seen *orderedmap.OrderedMap[string, device.DeviceInfo], info device.DeviceInfo) {
	if _, ok := seen.Get(info.ID); ok {
		fmt.Fprintf(out, "%s %s %s\n", info.Kind(), info.Label(), muted("(already seen)"))
		return
	}
	seen.Set(info.ID, info)
	fmt.Fprintf(out, "Found %s device %s\n  %s\n", info.Kind(), highlight(info.Label()), info.Summary())
}

func printScanSummary(out io.Writer, seen *orderedmap.OrderedMap[string, device.DeviceInfo]) {
	if seen.Len() == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return
	}
	fmt.Fprintf(out, "\nDiscovered %d device(s):\n", seen.Len())
	for pair := seen.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(out, "  %s %s\n", pair.Value.Kind(), pair.Value.Label())
	}
}
