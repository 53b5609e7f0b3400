// Package resolver turns loosely-bound identifiers into live handles.
//
// Device resolution tries the host's address cache first and falls back to a
// discovery watch bounded by DeviceDiscoveryTimeout. Service and
// characteristic resolution try a cached lookup first and fall back to
// polling a full topology enumeration until MetadataRetrieveTimeout elapses,
// because the platforms expose no "topology ready" notification.
//
// Both timeouts are local deadlines measured inside the resolver; the
// caller's context only aborts a wait early.
package resolver

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/address"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/pkg/config"
)

// Resolver resolves devices, services and characteristics against one Adapter.
type Resolver struct {
	adapter device.Adapter
	opts    config.BluetoothOptions
	logger  *logrus.Logger
}

// New creates a Resolver. Zero-valued options take their defaults.
func New(adapter device.Adapter, opts config.BluetoothOptions, logger *logrus.Logger) *Resolver {
	if logger == nil {
		logger = logrus.New()
	}
	defaults.SetDefaults(&opts)
	return &Resolver{adapter: adapter, opts: opts, logger: logger}
}

// Options returns the effective options.
func (r *Resolver) Options() config.BluetoothOptions {
	return r.opts
}

// ParseAddress parses text and classifies failures for the exit code.
func ParseAddress(text string) (address.Address, error) {
	addr, err := address.Parse(text)
	switch {
	case err == nil:
		return addr, nil
	case errors.Is(err, address.ErrUnsupportedPlatform):
		return 0, device.Wrap(device.UnsupportedPlatform, err, "cannot parse %q", text)
	default:
		return 0, device.Wrap(device.InvalidArgument, err, "cannot parse %q", text)
	}
}

// ResolveDevice returns a connected handle for the device at text.
// The caller owns the handle and must Close it.
func (r *Resolver) ResolveDevice(ctx context.Context, text string) (device.Device, error) {
	addr, err := ParseAddress(text)
	if err != nil {
		return nil, err
	}
	log := r.logger.WithField("address", addr.String())

	dev, err := r.adapter.FromAddress(ctx, addr)
	switch {
	case err != nil:
		log.WithError(err).Debug("Address lookup failed, falling back to discovery")
	case dev != nil:
		log.Debug("Device resolved from host cache")
		return dev, nil
	default:
		log.Debug("Device not known to host, starting discovery")
	}

	info, err := r.awaitAdvertisement(ctx, addr, log)
	if err != nil {
		return nil, err
	}

	log = log.WithField("device_id", info.ID)
	log.WithField("name", info.Name).Debug("Device discovered")

	dev, err = r.adapter.FromID(ctx, info.ID)
	if err != nil {
		return nil, device.Wrap(device.DeviceNotFound, err, "device %s discovered but could not be opened", addr)
	}
	if dev == nil {
		return nil, device.Errorf(device.DeviceNotFound, "device %s discovered but could not be opened", addr)
	}
	return dev, nil
}

// awaitAdvertisement runs an address-scoped watch until the first matching
// observation or the discovery timeout. The watcher is stopped before it returns.
func (r *Resolver) awaitAdvertisement(ctx context.Context, addr address.Address, log *logrus.Entry) (device.DeviceInfo, error) {
	var zero device.DeviceInfo
	timeout := r.opts.DeviceDiscoveryTimeout

	watcher, err := r.adapter.NewWatcher(device.WatchSelector{Address: addr, Filter: device.All})
	if err != nil {
		return zero, device.Wrap(device.DeviceNotFound, err, "cannot watch for device %s", addr)
	}

	// The callbacks only touch the completion cell.
	found := make(chan device.DeviceInfo, 1)
	var once sync.Once
	watcher.OnAdded(func(info device.DeviceInfo) {
		once.Do(func() { found <- info })
	})
	// Some platform watchers only report additions when an update handler is registered too.
	watcher.OnUpdated(func(device.DeviceInfo) {})

	defer func() {
		if err := watcher.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop discovery watcher")
		}
	}()

	start := time.Now()
	if err := watcher.Start(); err != nil {
		return zero, device.Wrap(device.DeviceNotFound, err, "cannot watch for device %s", addr)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case info := <-found:
		log.WithField("elapsed", time.Since(start)).Debug("Advertisement observed")
		return info, nil
	case <-timer.C:
		return zero, device.Errorf(device.DeviceNotFound, "device %s not found: no advertisement within %s", addr, timeout)
	case <-ctx.Done():
		return zero, device.Wrap(device.DeviceNotFound, ctx.Err(), "discovery of device %s interrupted", addr)
	}
}

// ResolveService returns a handle to service id on dev.
// The caller owns the handle and must Close it.
func (r *Resolver) ResolveService(ctx context.Context, dev device.Device, id uuid.UUID, mode device.CacheMode) (device.Service, error) {
	log := r.logger.WithFields(logrus.Fields{
		"address":      dev.Address().String(),
		"service_uuid": device.FormatUUID(id),
		"cache_mode":   mode.String(),
	})

	if mode != device.Uncached {
		svc, err := dev.Service(ctx, id)
		switch {
		case err != nil:
			// Often transient right after connecting; the poll below settles it.
			log.WithError(err).Debug("Cached service lookup failed")
		case svc != nil:
			log.Debug("Service resolved from cache")
			return svc, nil
		}
	}

	svc, attempts, err := pollFor(ctx, r.opts, id, log, func(ctx context.Context) ([]device.Service, error) {
		return dev.Services(ctx, mode)
	})
	if err != nil {
		return nil, device.Wrap(device.ServiceNotFound, err, "service %s not found on %s after %d attempts", device.FormatUUID(id), dev.Address(), attempts)
	}
	if svc == nil {
		return nil, device.Errorf(device.ServiceNotFound, "service %s not found on %s after %d attempts in %s",
			device.FormatUUID(id), dev.Address(), attempts, r.opts.MetadataRetrieveTimeout)
	}
	log.WithField("attempts", attempts).Debug("Service resolved by enumeration")
	return svc, nil
}

// ResolveCharacteristic returns a handle to characteristic id on svc.
// The caller owns the handle and must Close it.
func (r *Resolver) ResolveCharacteristic(ctx context.Context, svc device.Service, id uuid.UUID, mode device.CacheMode) (device.Characteristic, error) {
	log := r.logger.WithFields(logrus.Fields{
		"service_uuid": device.FormatUUID(svc.UUID()),
		"char_uuid":    device.FormatUUID(id),
		"cache_mode":   mode.String(),
	})

	if mode != device.Uncached {
		char, err := svc.Characteristic(ctx, id)
		switch {
		case err != nil:
			log.WithError(err).Debug("Cached characteristic lookup failed")
		case char != nil:
			log.Debug("Characteristic resolved from cache")
			return char, nil
		}
	}

	char, attempts, err := pollFor(ctx, r.opts, id, log, func(ctx context.Context) ([]device.Characteristic, error) {
		return svc.Characteristics(ctx, mode)
	})
	if err != nil {
		return nil, device.Wrap(device.CharacteristicNotFound, err, "characteristic %s not found in service %s after %d attempts",
			device.FormatUUID(id), device.FormatUUID(svc.UUID()), attempts)
	}
	if char == nil {
		return nil, device.Errorf(device.CharacteristicNotFound, "characteristic %s not found in service %s after %d attempts in %s",
			device.FormatUUID(id), device.FormatUUID(svc.UUID()), attempts, r.opts.MetadataRetrieveTimeout)
	}
	log.WithField("attempts", attempts).Debug("Characteristic resolved by enumeration")
	return char, nil
}

type handle interface {
	comparable
	UUID() uuid.UUID
	io.Closer
}

// pollFor enumerates until an entry with id shows up or the retrieve timeout,
// measured from the first enumeration, has elapsed. Every entry that is not
// returned is closed. A zero H with a nil error means the timeout expired.
func pollFor[H handle](ctx context.Context, opts config.BluetoothOptions, id uuid.UUID, log *logrus.Entry, list func(context.Context) ([]H, error)) (H, int, error) {
	var zero H
	attempts := 0
	start := time.Now()

	for time.Since(start) < opts.MetadataRetrieveTimeout {
		attempts++

		items, err := list(ctx)
		if err != nil {
			log.WithError(err).WithField("attempt", attempts).Debug("Enumeration failed")
		}

		match := zero
		for _, it := range items {
			if it == zero {
				continue
			}
			if match == zero && it.UUID() == id {
				match = it
				continue
			}
			Release(log, it, "candidate")
		}
		if match != zero {
			return match, attempts, nil
		}

		t := time.NewTimer(opts.MetadataPollingInterval)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return zero, attempts, ctx.Err()
		}
	}
	return zero, attempts, nil
}

// Release closes c, logging instead of failing: release happens on exit
// paths that already carry their own result.
func Release(log logrus.FieldLogger, c io.Closer, what string) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.WithError(err).Debugf("Failed to release %s", what)
	}
}
