package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/srg/bletools/inspector"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/resolver"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// listCmd represents the list command
var listCmd = &cobra.Command{
	Use:   "list <device-address>",
	Short: "List the GATT services and characteristics of a device",
	Long: fmt.Sprintf(`Lists every GATT service of a device with its characteristics and their
properties, in the order the device exposes them.

Examples:
  bletools list %s
  bletools list %s --uncached
  bletools list %s --json

%s`, exampleDeviceAddress, exampleDeviceAddress, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.ExactArgs(1),
	RunE: runList,
}

var (
	listRequirePairing bool
	listUncached       bool
	listJSON           bool
)

func init() {
	listCmd.Flags().BoolVarP(&listRequirePairing, "require-pairing", "p", false, "Fail unless the device is paired")
	listCmd.Flags().BoolVarP(&listUncached, "uncached", "u", false, "Query the device instead of the host cache")
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output as JSON")
}

// characteristicEntry is the JSON form of a listed characteristic.
type characteristicEntry struct {
	UUID       string            `json:"uuid"`
	Properties device.Properties `json:"properties"`
}

// serviceListing is the result of list. Services are keyed by short-form
// UUID in exposure order; a service exposed more than once is merged into
// its first occurrence.
type serviceListing struct {
	Address  string                                                `json:"address"`
	Name     string                                                `json:"name,omitempty"`
	Services *orderedmap.OrderedMap[string, []characteristicEntry] `json:"services"`
}

func runList(cmd *cobra.Command, args []string) error {
	address := args[0]
	if _, err := resolver.ParseAddress(address); err != nil {
		return err
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Listing services of "+address, "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	ctx := cmd.Context()
	mode := cacheMode(listUncached)
	opts := &inspector.InspectOptions{RequirePairing: listRequirePairing, CacheMode: mode}

	listing, err := inspector.InspectDevice(ctx, env.resolver, address, opts, env.logger, progress.Callback(),
		func(dev device.Device) (*serviceListing, error) {
			return collectServices(ctx, dev, mode, env)
		})
	progress.Stop()
	if err != nil {
		return err
	}

	if listJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(listing)
	}
	printListing(cmd.OutOrStdout(), listing)
	return nil
}

func collectServices(ctx context.Context, dev device.Device, mode device.CacheMode, env *commandEnv) (*serviceListing, error) {
	services, err := inspector.ListServices(ctx, dev, mode, env.logger)
	if err != nil {
		return nil, err
	}

	listing := &serviceListing{
		Address:  dev.Address().String(),
		Name:     dev.Name(),
		Services: orderedmap.New[string, []characteristicEntry](len(services)),
	}
	for _, svc := range services {
		key := device.FormatUUID(svc.UUID)
		chars, _ := listing.Services.Get(key)
		if chars == nil {
			chars = []characteristicEntry{}
		}
		for _, c := range svc.Characteristics {
			chars = append(chars, characteristicEntry{UUID: device.FormatUUID(c.UUID), Properties: c.Properties})
		}
		listing.Services.Set(key, chars)
	}
	return listing, nil
}

func printListing(out io.Writer, listing *serviceListing) {
	if listing.Services.Len() == 0 {
		fmt.Fprintln(out, "No services found")
		return
	}
	for pair := listing.Services.Oldest(); pair != nil; pair = pair.Next() {
		fmt.Fprintf(out, "Service %s\n", highlight(pair.Key))
		for _, c := range pair.Value {
			fmt.Fprintf(out, "  Characteristic %s [%s]\n", c.UUID, c.Properties)
		}
	}
}
