package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/pkg/config"
)

// loadConfig reads the config file and applies the global flags that were
// set explicitly on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, device.Wrap(device.InvalidArgument, err, "invalid configuration")
	}

	if flags.Changed("backend") {
		cfg.Backend, _ = flags.GetString("backend")
	}
	if flags.Changed("adapter") {
		cfg.Adapter, _ = flags.GetString("adapter")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if debug, _ := flags.GetBool("debug"); debug {
		cfg.LogLevel = "debug"
	}
	if flags.Changed("discovery-timeout") {
		cfg.Bluetooth.DeviceDiscoveryTimeout, _ = flags.GetDuration("discovery-timeout")
	}
	if flags.Changed("metadata-timeout") {
		cfg.Bluetooth.MetadataRetrieveTimeout, _ = flags.GetDuration("metadata-timeout")
	}
	if flags.Changed("polling-interval") {
		cfg.Bluetooth.MetadataPollingInterval, _ = flags.GetDuration("polling-interval")
	}

	if err := cfg.Validate(); err != nil {
		return nil, device.Wrap(device.InvalidArgument, err, "invalid flags")
	}
	return cfg, nil
}

// configureLogger creates the logger for cfg. Log output goes to the
// command's stderr so results on stdout stay machine readable.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	if _, err := config.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrInvalidArgument, err)
	}
	logger := cfg.NewLogger()
	logger.SetOutput(cmd.ErrOrStderr())
	return logger, nil
}
