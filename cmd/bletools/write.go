package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bletools/inspector"
	"github.com/srg/bletools/internal/device"
)

// writeCmd represents the write command
var writeCmd = &cobra.Command{
	Use:   "write <device-address> <value>",
	Short: "Write a characteristic value",
	Long: fmt.Sprintf(`Writes a value to a GATT characteristic.
The value is sent as UTF-8 text, or decoded from hex with --hex.

Examples:
  # Write a string
  bletools write %s "hello" -s 180d -c 2a39

  # Write hex bytes
  bletools write %s "FF01" --service 180d --characteristic 2a39 --hex

%s`, exampleDeviceAddress, exampleDeviceAddress, uuidNote),
	Args: cobra.ExactArgs(2),
	RunE: runWrite,
}

var (
	writeServiceUUID    string
	writeCharUUID       string
	writeRequirePairing bool
	writeUncached       bool
	writeHex            bool
)

func init() {
	writeCmd.Flags().StringVarP(&writeServiceUUID, "service", "s", "", "Service UUID")
	writeCmd.Flags().StringVarP(&writeCharUUID, "characteristic", "c", "", "Characteristic UUID")
	writeCmd.Flags().BoolVarP(&writeRequirePairing, "require-pairing", "p", false, "Fail unless the device is paired and write over an authenticated link")
	writeCmd.Flags().BoolVarP(&writeUncached, "uncached", "u", false, "Bypass the host cache for GATT metadata")
	writeCmd.Flags().BoolVar(&writeHex, "hex", false, "Interpret the value as hex (e.g., 'FF01')")
}

func runWrite(cmd *cobra.Command, args []string) error {
	address := args[0]
	svcID, charID, err := parseTarget(address, writeServiceUUID, writeCharUUID)
	if err != nil {
		return err
	}
	value, err := device.EncodeValue(args[1], writeHex)
	if err != nil {
		return err
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Writing to "+address, "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	opts := &inspector.InspectOptions{RequirePairing: writeRequirePairing, CacheMode: cacheMode(writeUncached)}
	_, err = inspector.InspectCharacteristic(cmd.Context(), env.resolver, address, svcID, charID, opts, env.logger, progress.Callback(),
		func(_ device.Device, char device.Characteristic) (struct{}, error) {
			return struct{}{}, inspector.WriteValue(cmd.Context(), char, value)
		})
	progress.Stop()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s (%d bytes)\n", success("Write successful"), len(value))
	return nil
}
