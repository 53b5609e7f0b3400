package inspector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/resolver"
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// InspectOptions defines how devices and their GATT metadata are resolved
type InspectOptions struct {
	// RequirePairing fails with DeviceNotPaired unless the device is paired and
	// raises the protection level of resolved characteristics.
	RequirePairing bool
	CacheMode      device.CacheMode
}

// InspectCallback processes a resolved device and produces output of type R
type InspectCallback[R any] func(device.Device) (R, error)

// CharacteristicCallback processes a resolved characteristic and produces output of type R
type CharacteristicCallback[R any] func(device.Device, device.Characteristic) (R, error)

// InspectDevice resolves a device and executes the callback with it.
// The device is released after the callback completes, on every exit path.
// Optional progressCallback can be provided for resolution progress updates.
func InspectDevice[R any](ctx context.Context, r *resolver.Resolver, address string, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = &InspectOptions{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	progressCallback("Connecting")

	dev, err := r.ResolveDevice(ctx, address)
	if err != nil {
		progressCallback("Failed")
		return zero, err
	}

	progressCallback("Connected")

	log := logger.WithField("address", address)
	defer resolver.Release(log, dev, "device")

	if opts.RequirePairing {
		if err := AssertPaired(dev); err != nil {
			progressCallback("Failed")
			return zero, err
		}
	}

	progressCallback("Processing results")

	return callback(dev)
}

// InspectCharacteristic resolves a device, one of its services and one of
// that service's characteristics, then executes the callback. All three
// handles are released after the callback, innermost first.
func InspectCharacteristic[R any](ctx context.Context, r *resolver.Resolver, address string, serviceID, charID uuid.UUID, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback CharacteristicCallback[R]) (R, error) {
	if opts == nil {
		opts = &InspectOptions{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	return InspectDevice(ctx, r, address, opts, logger, progressCallback, func(dev device.Device) (R, error) {
		var zero R
		log := logger.WithFields(logrus.Fields{
			"address":      address,
			"service_uuid": device.FormatUUID(serviceID),
			"char_uuid":    device.FormatUUID(charID),
		})

		progressCallback("Resolving service")
		svc, err := r.ResolveService(ctx, dev, serviceID, opts.CacheMode)
		if err != nil {
			return zero, err
		}
		defer resolver.Release(log, svc, "service")

		progressCallback("Resolving characteristic")
		char, err := r.ResolveCharacteristic(ctx, svc, charID, opts.CacheMode)
		if err != nil {
			return zero, err
		}
		defer resolver.Release(log, char, "characteristic")

		if opts.RequirePairing {
			char.SetProtectionLevel(device.EncryptionAndAuthentication)
		}

		progressCallback("Processing results")
		return callback(dev, char)
	})
}

// AssertPaired fails with DeviceNotPaired unless dev is paired on this host.
func AssertPaired(dev device.Device) error {
	if status := dev.Pairing().Status(); status != device.Paired {
		return device.Errorf(device.DeviceNotPaired, "device %s is not paired (status %s)", device.DeviceDisplayName(dev), status)
	}
	return nil
}

// ReadValue reads char under mode, classifying failures as CharacteristicReadFailed.
func ReadValue(ctx context.Context, char device.Characteristic, mode device.CacheMode) ([]byte, error) {
	value, err := char.Read(ctx, mode)
	if err != nil {
		return nil, device.Wrap(device.CharacteristicReadFailed, err, "failed to read characteristic %s", device.FormatUUID(char.UUID()))
	}
	return value, nil
}

// WriteValue writes value to char, classifying failures as CharacteristicWriteFailed.
func WriteValue(ctx context.Context, char device.Characteristic, value []byte) error {
	if err := char.Write(ctx, value); err != nil {
		return device.Wrap(device.CharacteristicWriteFailed, err, "failed to write characteristic %s", device.FormatUUID(char.UUID()))
	}
	return nil
}

// CharacteristicInfo describes a characteristic found while listing.
type CharacteristicInfo struct {
	UUID       uuid.UUID
	Properties device.Properties
}

// ServiceInfo describes a service and its characteristics.
type ServiceInfo struct {
	UUID            uuid.UUID
	Characteristics []CharacteristicInfo
}

// ListServices enumerates the GATT topology of dev under mode. Every handle
// obtained along the way is released before it returns.
func ListServices(ctx context.Context, dev device.Device, mode device.CacheMode, logger *logrus.Logger) ([]ServiceInfo, error) {
	if logger == nil {
		logger = logrus.New()
	}
	log := logger.WithField("address", dev.Address().String())

	services, err := dev.Services(ctx, mode)
	if err != nil {
		return nil, device.Wrap(device.ListServicesFailed, err, "failed to list services of %s", device.DeviceDisplayName(dev))
	}
	defer func() {
		for _, svc := range services {
			resolver.Release(log, svc, "service")
		}
	}()

	out := make([]ServiceInfo, 0, len(services))
	for _, svc := range services {
		info := ServiceInfo{UUID: svc.UUID()}

		chars, err := svc.Characteristics(ctx, mode)
		if err != nil {
			return out, device.Wrap(device.ListServicesFailed, err,
				"failed to list characteristics of service %s", device.FormatUUID(svc.UUID()))
		}
		for _, c := range chars {
			info.Characteristics = append(info.Characteristics, CharacteristicInfo{UUID: c.UUID(), Properties: c.Properties()})
			resolver.Release(log, c, "characteristic")
		}
		out = append(out, info)
	}

	log.WithField("services", len(out)).Debug("Services listed")
	return out, nil
}

// String renders the listing the way the list command prints it.
func (s ServiceInfo) String() string {
	out := fmt.Sprintf("Service %s", device.FormatUUID(s.UUID))
	for _, c := range s.Characteristics {
		out += fmt.Sprintf("\n  Characteristic %s [%s]", device.FormatUUID(c.UUID), c.Properties)
	}
	return out
}
