package device

import (
	"context"

	"github.com/google/uuid"
	"github.com/srg/bletools/internal/address"
)

// Adapter is the entry point of a Bluetooth backend.
type Adapter interface {
	// FromAddress connects to a device the host radio stack already knows.
	// It returns nil, nil when the address is not known.
	FromAddress(ctx context.Context, addr address.Address) (Device, error)

	// FromID builds a handle from an identity reported by a Watcher.
	// It returns nil, nil when no handle can be constructed.
	FromID(ctx context.Context, id string) (Device, error)

	// NewWatcher creates an unstarted discovery watcher.
	NewWatcher(selector WatchSelector) (Watcher, error)

	Close() error
}

// WatchSelector narrows what a Watcher reports.
type WatchSelector struct {
	// Address limits the watch to a single device when non-zero.
	Address address.Address
	Filter  DeviceFilter
}

// Watcher emits observations of nearby devices.
//
// Callbacks run on a backend goroutine and must not block. Callbacks must be
// registered before Start.
type Watcher interface {
	OnAdded(func(DeviceInfo))
	OnUpdated(func(DeviceInfo))
	Start() error
	Stop() error
}

// DeviceInfo is a snapshot of a device as observed by a Watcher.
//
//nolint:revive // DeviceInfo reads better than Info at call sites
type DeviceInfo struct {
	ID           string
	Name         string
	Address      string
	LowEnergy    bool
	Pairing      PairingStatus
	RSSI         *int
	Connected    bool
	Connectable  bool
	ModelID      string
	ModelName    string
	Manufacturer string
}

// Device is a live handle to a peripheral.
type Device interface {
	ID() string
	Name() string
	Address() address.Address
	Pairing() Pairing

	// Service performs a cached lookup; it may fail while the GATT topology
	// has not been walked yet.
	Service(ctx context.Context, id uuid.UUID) (Service, error)
	// Services enumerates the GATT topology under mode.
	Services(ctx context.Context, mode CacheMode) ([]Service, error)

	// Close disconnects and releases the handle.
	Close() error
}

// Service is a GATT service handle scoped to its Device.
type Service interface {
	UUID() uuid.UUID
	Characteristic(ctx context.Context, id uuid.UUID) (Characteristic, error)
	Characteristics(ctx context.Context, mode CacheMode) ([]Characteristic, error)
	Close() error
}

// Characteristic is a GATT characteristic handle scoped to its Service.
type Characteristic interface {
	UUID() uuid.UUID
	Properties() Properties
	// SetProtectionLevel sets the level required for subsequent reads and writes.
	SetProtectionLevel(level ProtectionLevel)
	Read(ctx context.Context, mode CacheMode) ([]byte, error)
	Write(ctx context.Context, value []byte) error
	Close() error
}

// Pairing is the pairing view of a Device.
type Pairing interface {
	Status() PairingStatus

	// OnPairingRequested installs the ceremony handler used by the next Pair
	// call and returns a function removing it.
	OnPairingRequested(handler CeremonyHandler) (unregister func())

	Pair(ctx context.Context, kinds PairingKinds, level ProtectionLevel) (PairingResult, error)
	Unpair(ctx context.Context) (UnpairingResult, error)
}

// CeremonyRequest is a single pairing ceremony offered by the platform.
type CeremonyRequest interface {
	Kind() PairingKinds
	// Pin is the PIN supplied by the platform; empty for ConfirmOnly.
	Pin() string
	DeviceName() string
	Accept(pin string)
}

// CeremonyHandler answers ceremony requests synchronously.
type CeremonyHandler func(req CeremonyRequest)

// PairingResult is the outcome of Pairing.Pair.
type PairingResult struct {
	Status          PairingResultStatus
	ProtectionLevel ProtectionLevel
}

// UnpairingResult is the outcome of Pairing.Unpair.
type UnpairingResult struct {
	Status UnpairingResultStatus
}
