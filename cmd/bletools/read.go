package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bletools/inspector"
	"github.com/srg/bletools/internal/device"
)

// readCmd represents the read command
var readCmd = &cobra.Command{
	Use:   "read <device-address>",
	Short: "Read a characteristic value",
	Long: fmt.Sprintf(`Reads the value of a GATT characteristic and prints it as UTF-8 text.

Examples:
  # Read a characteristic
  bletools read %s -s 180f -c 2a19

  # Read from the device instead of the host cache, as hex
  bletools read %s --service 180f --characteristic 2a19 --uncached --hex

  # Require an authenticated link
  bletools read %s -s 180f -c 2a19 --require-pairing

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, uuidNote),
	Args: cobra.ExactArgs(1),
	RunE: runRead,
}

var (
	readServiceUUID    string
	readCharUUID       string
	readRequirePairing bool
	readUncached       bool
	readHex            bool
)

func init() {
	readCmd.Flags().StringVarP(&readServiceUUID, "service", "s", "", "Service UUID")
	readCmd.Flags().StringVarP(&readCharUUID, "characteristic", "c", "", "Characteristic UUID")
	readCmd.Flags().BoolVarP(&readRequirePairing, "require-pairing", "p", false, "Fail unless the device is paired and read over an authenticated link")
	readCmd.Flags().BoolVarP(&readUncached, "uncached", "u", false, "Bypass the host cache for GATT metadata and the value")
	readCmd.Flags().BoolVar(&readHex, "hex", false, "Print the value as hex (e.g., 'FF01'); UTF-8 text by default")
}

func runRead(cmd *cobra.Command, args []string) error {
	address := args[0]
	svcID, charID, err := parseTarget(address, readServiceUUID, readCharUUID)
	if err != nil {
		return err
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Reading from "+address, "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	mode := cacheMode(readUncached)
	opts := &inspector.InspectOptions{RequirePairing: readRequirePairing, CacheMode: mode}

	value, err := inspector.InspectCharacteristic(cmd.Context(), env.resolver, address, svcID, charID, opts, env.logger, progress.Callback(),
		func(_ device.Device, char device.Characteristic) ([]byte, error) {
			return inspector.ReadValue(cmd.Context(), char, mode)
		})
	progress.Stop()
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), device.DecodeValue(value, readHex))
	return nil
}
