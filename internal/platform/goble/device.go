package goble

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/address"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/internal/groutine"
)

// call runs a blocking go-ble request in a named goroutine so ctx can
// abandon it. An abandoned request keeps running until go-ble returns.
func call[T any](ctx context.Context, name string, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	out := make(chan result, 1)
	groutine.Go(context.Background(), name, func(context.Context) {
		v, err := fn()
		out <- result{v, err}
	})

	select {
	case r := <-out:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

type bleDevice struct {
	client ble.Client
	id     string
	addr   address.Address
	name   string
	logger *logrus.Logger

	closeOnce sync.Once
	closeErr  error
}

func (d *bleDevice) ID() string               { return d.id }
func (d *bleDevice) Name() string             { return d.name }
func (d *bleDevice) Address() address.Address { return d.addr }
func (d *bleDevice) Pairing() device.Pairing  { return noPairing{} }

func (d *bleDevice) log() *logrus.Entry {
	return d.logger.WithField("address", d.id)
}

func (d *bleDevice) newService(s *ble.Service) *bleService {
	return &bleService{dev: d, svc: s}
}

// Service looks the service up in the profile discovered so far. Before the
// first discovery there is nothing to look in, which reads as not found.
func (d *bleDevice) Service(_ context.Context, id uuid.UUID) (device.Service, error) {
	p := d.client.Profile()
	if p == nil {
		return nil, nil
	}
	for _, s := range p.Services {
		if u, err := toUUID(s.UUID); err == nil && u == id {
			return d.newService(s), nil
		}
	}
	return nil, nil
}

func (d *bleDevice) Services(ctx context.Context, mode device.CacheMode) ([]device.Service, error) {
	force := mode == device.Uncached
	p, err := call(ctx, "goble-discover-profile", func() (*ble.Profile, error) {
		return d.client.DiscoverProfile(force)
	})
	if err != nil {
		return nil, NormalizeError(err)
	}

	out := make([]device.Service, 0, len(p.Services))
	for _, s := range p.Services {
		out = append(out, d.newService(s))
	}
	d.log().WithField("services", len(out)).Debug("Profile discovered")
	return out, nil
}

func (d *bleDevice) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.client.CancelConnection()
		d.log().Debug("BLE device disconnected")
	})
	return d.closeErr
}

type bleService struct {
	dev *bleDevice
	svc *ble.Service
}

func (s *bleService) UUID() uuid.UUID {
	u, _ := toUUID(s.svc.UUID)
	return u
}

func (s *bleService) Characteristic(_ context.Context, id uuid.UUID) (device.Characteristic, error) {
	for _, c := range s.svc.Characteristics {
		if u, err := toUUID(c.UUID); err == nil && u == id {
			return &bleCharacteristic{svc: s, char: c}, nil
		}
	}
	return nil, nil
}

func (s *bleService) Characteristics(ctx context.Context, mode device.CacheMode) ([]device.Characteristic, error) {
	chars := s.svc.Characteristics
	if mode == device.Uncached || len(chars) == 0 {
		var err error
		chars, err = call(ctx, "goble-discover-characteristics", func() ([]*ble.Characteristic, error) {
			return s.dev.client.DiscoverCharacteristics(nil, s.svc)
		})
		if err != nil {
			return nil, NormalizeError(err)
		}
	}

	out := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		out = append(out, &bleCharacteristic{svc: s, char: c})
	}
	return out, nil
}

// Close is a no-op: service handles are views into the device profile.
func (s *bleService) Close() error { return nil }

type bleCharacteristic struct {
	svc   *bleService
	char  *ble.Characteristic
	level device.ProtectionLevel
}

func (c *bleCharacteristic) UUID() uuid.UUID {
	u, _ := toUUID(c.char.UUID)
	return u
}

func (c *bleCharacteristic) Properties() device.Properties {
	return toProperties(c.char.Property)
}

// SetProtectionLevel is recorded only; go-ble cannot raise link security.
func (c *bleCharacteristic) SetProtectionLevel(level device.ProtectionLevel) {
	c.level = level
}

// Read always reads from the device: go-ble keeps no value cache.
func (c *bleCharacteristic) Read(ctx context.Context, mode device.CacheMode) ([]byte, error) {
	c.svc.dev.log().WithFields(logrus.Fields{
		"char_uuid":  device.FormatUUID(c.UUID()),
		"cache_mode": mode.String(),
	}).Debug("Reading characteristic")

	value, err := call(ctx, "goble-read", func() ([]byte, error) {
		return c.svc.dev.client.ReadCharacteristic(c.char)
	})
	if err != nil {
		return nil, gattError(err)
	}
	return value, nil
}

func (c *bleCharacteristic) Write(ctx context.Context, value []byte) error {
	props := c.Properties()
	noRsp := props&device.PropWrite == 0 && props&device.PropWriteWithoutResponse != 0

	_, err := call(ctx, "goble-write", func() (struct{}, error) {
		return struct{}{}, c.svc.dev.client.WriteCharacteristic(c.char, value, noRsp)
	})
	if err != nil {
		return gattError(err)
	}
	return nil
}

func (c *bleCharacteristic) Close() error { return nil }

// noPairing is the pairing view of a go-ble device.
type noPairing struct{}

func (noPairing) Status() device.PairingStatus { return device.CannotPair }

func (noPairing) OnPairingRequested(device.CeremonyHandler) func() { return func() {} }

func (noPairing) Pair(context.Context, device.PairingKinds, device.ProtectionLevel) (device.PairingResult, error) {
	return device.PairingResult{Status: device.PairingFailed},
		device.Errorf(device.NotSupported, "pairing is not supported by the go-ble backend")
}

func (noPairing) Unpair(context.Context) (device.UnpairingResult, error) {
	return device.UnpairingResult{Status: device.UnpairingFailed},
		device.Errorf(device.NotSupported, "unpairing is not supported by the go-ble backend")
}
