package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bletools/pairing"
	"github.com/srg/bletools/resolver"
)

// unpairCmd represents the unpair command
var unpairCmd = &cobra.Command{
	Use:   "unpair <device-address>",
	Short: "Remove the pairing with a Bluetooth device",
	Long: `Remove the pairing between this host and a Bluetooth device.
Unpairing a device that is not paired succeeds without changes.

Example:
  bletools unpair DC:A6:32:60:C9:56`,
	Args: cobra.ExactArgs(1),
	RunE: runUnpair,
}

func runUnpair(cmd *cobra.Command, args []string) error {
	if _, err := resolver.ParseAddress(args[0]); err != nil {
		return err
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Unpairing "+args[0], "Resolving", "Unpaired", "Failed")
	progress.Start()
	defer progress.Stop()

	orch := pairing.NewOrchestrator(env.resolver, env.logger)
	report := progress.Callback()
	orch.OnStateChange = func(_, to pairing.State) {
		report(to.String())
	}

	res, err := orch.Unpair(cmd.Context(), args[0])
	progress.Stop()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.AlreadyUnpaired {
		fmt.Fprintf(out, "Device %s is %s\n", highlight(res.DeviceName), attention("not paired"))
		return nil
	}
	fmt.Fprintf(out, "%s %s\n", success("Unpaired"), highlight(res.DeviceName))
	return nil
}
