package device

import (
	"encoding/json"
	"fmt"
	"strings"
)

// CacheMode controls whether a query may be answered from the platform cache.
type CacheMode int

const (
	Cached CacheMode = iota
	Uncached
)

func (m CacheMode) String() string {
	if m == Uncached {
		return "uncached"
	}
	return "cached"
}

// DeviceFilter selects which advertisement protocol a scan watches.
// It implements pflag.Value so it can be bound to a flag directly.
type DeviceFilter int

const (
	BluetoothLE DeviceFilter = iota
	BluetoothClassic
	All
)

var deviceFilterNames = map[DeviceFilter]string{
	BluetoothLE:      "le",
	BluetoothClassic: "classic",
	All:              "all",
}

func (f DeviceFilter) String() string {
	if s, ok := deviceFilterNames[f]; ok {
		return s
	}
	return fmt.Sprintf("DeviceFilter(%d)", int(f))
}

// Set parses one of "le", "classic" or "all".
func (f *DeviceFilter) Set(s string) error {
	v, err := ParseDeviceFilter(s)
	if err != nil {
		return err
	}
	*f = v
	return nil
}

func (f *DeviceFilter) Type() string {
	return "filter"
}

// Matches reports whether a device of the given kind passes the filter.
func (f DeviceFilter) Matches(lowEnergy bool) bool {
	switch f {
	case BluetoothLE:
		return lowEnergy
	case BluetoothClassic:
		return !lowEnergy
	default:
		return true
	}
}

// ParseDeviceFilter parses a filter name case-insensitively.
func ParseDeviceFilter(s string) (DeviceFilter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "le", "ble", "bluetoothle":
		return BluetoothLE, nil
	case "classic", "bluetoothclassic":
		return BluetoothClassic, nil
	case "all":
		return All, nil
	}
	return 0, fmt.Errorf("%w: unknown device filter %q (must be le, classic or all)", ErrInvalidArgument, s)
}

// PairingStatus is the pairing state of a device as seen by the host.
type PairingStatus int

const (
	Unpaired PairingStatus = iota
	Paired
	CannotPair
)

func (s PairingStatus) String() string {
	switch s {
	case Paired:
		return "Paired"
	case CannotPair:
		return "CannotBePaired"
	default:
		return "Unpaired"
	}
}

// PairingKinds is a set of ceremony kinds.
type PairingKinds uint

const (
	ProvidePin PairingKinds = 1 << iota
	ConfirmOnly
	ConfirmPinMatch
	DisplayPin

	AllPairingKinds = ProvidePin | ConfirmOnly | ConfirmPinMatch | DisplayPin
)

func (k PairingKinds) Has(kind PairingKinds) bool {
	return k&kind != 0
}

func (k PairingKinds) String() string {
	if k == 0 {
		return "None"
	}
	var parts []string
	for _, e := range []struct {
		kind PairingKinds
		name string
	}{
		{ProvidePin, "ProvidePin"},
		{ConfirmOnly, "ConfirmOnly"},
		{ConfirmPinMatch, "ConfirmPinMatch"},
		{DisplayPin, "DisplayPin"},
	} {
		if k.Has(e.kind) {
			parts = append(parts, e.name)
		}
	}
	return strings.Join(parts, "|")
}

// ProtectionLevel is the link security requested for pairing or GATT access.
type ProtectionLevel int

const (
	ProtectionNone ProtectionLevel = iota
	Encryption
	EncryptionAndAuthentication
)

func (l ProtectionLevel) String() string {
	switch l {
	case Encryption:
		return "Encryption"
	case EncryptionAndAuthentication:
		return "EncryptionAndAuthentication"
	default:
		return "None"
	}
}

// PairingResultStatus refines the outcome of a pairing attempt.
type PairingResultStatus int

const (
	PairingPaired PairingResultStatus = iota
	PairingAlreadyPaired
	PairingNotReadyToPair
	PairingNotPaired
	PairingAlreadyInProgress
	PairingAuthenticationFailure
	PairingAuthenticationTimeout
	PairingRejectedByHandler
	PairingCanceled
	PairingUnreachable
	PairingFailed
)

var pairingResultNames = map[PairingResultStatus]string{
	PairingPaired:                "Paired",
	PairingAlreadyPaired:         "AlreadyPaired",
	PairingNotReadyToPair:        "NotReadyToPair",
	PairingNotPaired:             "NotPaired",
	PairingAlreadyInProgress:     "OperationAlreadyInProgress",
	PairingAuthenticationFailure: "AuthenticationFailure",
	PairingAuthenticationTimeout: "AuthenticationTimeout",
	PairingRejectedByHandler:     "RejectedByHandler",
	PairingCanceled:              "PairingCanceled",
	PairingUnreachable:           "Unreachable",
	PairingFailed:                "Failed",
}

func (s PairingResultStatus) String() string {
	if n, ok := pairingResultNames[s]; ok {
		return n
	}
	return fmt.Sprintf("PairingResultStatus(%d)", int(s))
}

// UnpairingResultStatus refines the outcome of an unpairing attempt.
type UnpairingResultStatus int

const (
	UnpairingUnpaired UnpairingResultStatus = iota
	UnpairingAlreadyUnpaired
	UnpairingAlreadyInProgress
	UnpairingAccessDenied
	UnpairingFailed
)

func (s UnpairingResultStatus) String() string {
	switch s {
	case UnpairingUnpaired:
		return "Unpaired"
	case UnpairingAlreadyUnpaired:
		return "AlreadyUnpaired"
	case UnpairingAlreadyInProgress:
		return "OperationAlreadyInProgress"
	case UnpairingAccessDenied:
		return "AccessDenied"
	default:
		return "Failed"
	}
}

// Properties is the GATT characteristic properties bitfield.
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropAuthenticatedSignedWrites
	PropExtendedProperties
)

var propertyNames = [...]string{"Broadcast", "Read", "WriteWithoutResponse", "Write", "Notify", "Indicate", "AuthenticatedSignedWrites", "ExtendedProperties"}

// Names lists the set properties in bit order.
func (p Properties) Names() []string {
	parts := []string{}
	for i, n := range propertyNames {
		if p&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return parts
}

func (p Properties) String() string {
	if p == 0 {
		return "None"
	}
	return strings.Join(p.Names(), ", ")
}

// MarshalJSON encodes the properties as a list of names.
func (p Properties) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Names())
}
