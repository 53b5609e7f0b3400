package main

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/internal/devicefactory"
	"github.com/srg/bletools/pkg/config"
	"github.com/srg/bletools/resolver"
)

// newAdapter opens the configured backend (can be overridden in tests)
var newAdapter = devicefactory.Open

// commandEnv is what every device command needs: configuration, a logger,
// an open adapter and a resolver over it.
type commandEnv struct {
	cfg      *config.Config
	logger   *logrus.Logger
	adapter  device.Adapter
	resolver *resolver.Resolver
}

// setup loads configuration and opens the adapter. The caller must Close
// the returned env.
func setup(cmd *cobra.Command) (*commandEnv, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger, err := configureLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	adapter, err := newAdapter(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	return &commandEnv{
		cfg:      cfg,
		logger:   logger,
		adapter:  adapter,
		resolver: resolver.New(adapter, cfg.Bluetooth, logger),
	}, nil
}

func (e *commandEnv) Close() {
	if err := e.adapter.Close(); err != nil {
		e.logger.WithError(err).Debug("Failed to close bluetooth adapter")
	}
}

// cacheMode maps the --uncached flag.
func cacheMode(uncached bool) device.CacheMode {
	if uncached {
		return device.Uncached
	}
	return device.Cached
}

// parseTarget validates the address and the GATT ids of a characteristic command.
func parseTarget(addr, service, characteristic string) (svcID, charID uuid.UUID, err error) {
	if _, err = resolver.ParseAddress(addr); err != nil {
		return svcID, charID, err
	}
	if service == "" || characteristic == "" {
		return svcID, charID, device.Errorf(device.InvalidArgument, "both --service and --characteristic are required")
	}
	if svcID, err = device.ParseUUID(service); err != nil {
		return svcID, charID, err
	}
	charID, err = device.ParseUUID(characteristic)
	return svcID, charID, err
}
