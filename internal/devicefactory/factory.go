package devicefactory

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/internal/platform/bluez"
	"github.com/srg/bletools/internal/platform/goble"
	"github.com/srg/bletools/pkg/config"
)

// NewAdapter opens cfg.Backend on cfg.Adapter.
func NewAdapter(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (device.Adapter, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = config.DefaultBackend()
	}

	logger.WithFields(logrus.Fields{
		"backend": backend,
		"adapter": cfg.Adapter,
	}).Debug("Opening Bluetooth adapter")

	switch backend {
	case config.BackendBlueZ:
		a, err := bluez.NewAdapter(ctx, cfg.Adapter, cfg.Bluetooth, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	case config.BackendGoBLE:
		a, err := goble.NewAdapter(cfg.Adapter, cfg.Bluetooth, logger)
		if err != nil {
			return nil, err
		}
		return a, nil
	default:
		return nil, device.Errorf(device.InvalidArgument, "unknown backend %q (must be %s or %s)", backend, config.BackendBlueZ, config.BackendGoBLE)
	}
}

// Open is NewAdapter with a uniform error prefix.
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (device.Adapter, error) {
	a, err := NewAdapter(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open bluetooth adapter: %w", err)
	}
	return a, nil
}
