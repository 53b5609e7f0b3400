package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/srg/bletools/pairing"
	"github.com/srg/bletools/resolver"
)

// pairCmd represents the pair command
var pairCmd = &cobra.Command{
	Use:   "pair <device-address>",
	Short: "Pair with a Bluetooth device",
	Long: `Pair this host with a Bluetooth device.

Ceremony requests (PIN confirmation, PIN entry, display) are accepted
automatically. A device that is already paired is left untouched unless
--force is given, in which case it is unpaired and paired again.

Examples:
  bletools pair DC:A6:32:60:C9:56
  bletools pair DC:A6:32:60:C9:56 --force`,
	Args: cobra.ExactArgs(1),
	RunE: runPair,
}

var pairForce bool

func init() {
	pairCmd.Flags().BoolVarP(&pairForce, "force", "f", false, "Unpair first if the device is already paired")
}

func runPair(cmd *cobra.Command, args []string) error {
	if _, err := resolver.ParseAddress(args[0]); err != nil {
		return err
	}

	env, err := setup(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	progress := NewProgressPrinter(cmd.ErrOrStderr(), "Pairing "+args[0], "Resolving", "Paired", "Failed")
	progress.Start()
	defer progress.Stop()

	orch := pairing.NewOrchestrator(env.resolver, env.logger)
	orch.Handler = pairing.AutoAccept(env.logger)
	report := progress.Callback()
	orch.OnStateChange = func(_, to pairing.State) {
		report(to.String())
	}

	res, err := orch.Pair(cmd.Context(), args[0], pairForce)
	progress.Stop()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if res.AlreadyPaired {
		fmt.Fprintf(out, "Device %s is %s\n", highlight(res.DeviceName), attention("already paired"))
		return nil
	}
	fmt.Fprintf(out, "%s with %s (protection level %s)\n", success("Paired"), highlight(res.DeviceName), res.ProtectionLevel)
	return nil
}
