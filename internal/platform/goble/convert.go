package goble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/google/uuid"
	"github.com/srg/bletools/internal/device"
)

const attInsufficientAuthentication = 0x05

// ErrBluetoothOff is reported when the host radio is powered off or unavailable.
var ErrBluetoothOff = errors.New("bluetooth is turned off")

// NormalizeError maps known go-ble error strings to structured errors.
// It ensures consistent handling even if the upstream library changes messages slightly.
// Returns wrapped errors to preserve original context.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	var attErr ble.ATTError
	if errors.As(err, &attErr) {
		return device.NewProtocolError(byte(attErr), err)
	}

	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "central manager has invalid state"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "bluetooth is turned off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "can't init hci"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "disconnected"), containsIgnoreCase(msg, "device not connected"):
		return &device.GattError{Status: device.GattUnreachable, Err: err}
	case containsIgnoreCase(msg, "insufficient authentication"):
		return device.NewProtocolError(attInsufficientAuthentication, err)
	default:
		return err
	}
}

// gattError classifies a read or write failure.
func gattError(err error) error {
	norm := NormalizeError(err)
	var gerr *device.GattError
	if errors.As(norm, &gerr) {
		return norm
	}
	return &device.GattError{Status: device.GattUnreachable, Err: norm}
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// toUUID converts a go-ble UUID (little-endian bytes, 2, 4 or 16 long).
func toUUID(u ble.UUID) (uuid.UUID, error) {
	switch len(u) {
	case 2:
		return device.FromShortUUID(uint32(binary.LittleEndian.Uint16(u))), nil
	case 4:
		return device.FromShortUUID(binary.LittleEndian.Uint32(u)), nil
	case 16:
		var out uuid.UUID
		copy(out[:], ble.Reverse(u))
		return out, nil
	default:
		return uuid.Nil, fmt.Errorf("unexpected UUID length %d", len(u))
	}
}

// fromUUID converts to the go-ble form, using 16-bit UUIDs for SIG values.
func fromUUID(u uuid.UUID) ble.UUID {
	if v, ok := device.ShortUUID(u); ok && v <= 0xFFFF {
		return ble.UUID16(uint16(v))
	}
	return ble.UUID(ble.Reverse(u[:]))
}

var propertyMap = []struct {
	from ble.Property
	to   device.Properties
}{
	{ble.CharBroadcast, device.PropBroadcast},
	{ble.CharRead, device.PropRead},
	{ble.CharWriteNR, device.PropWriteWithoutResponse},
	{ble.CharWrite, device.PropWrite},
	{ble.CharNotify, device.PropNotify},
	{ble.CharIndicate, device.PropIndicate},
	{ble.CharSignedWrite, device.PropAuthenticatedSignedWrites},
	{ble.CharExtended, device.PropExtendedProperties},
}

// toProperties converts go-ble characteristic property flags.
func toProperties(p ble.Property) device.Properties {
	var out device.Properties
	for _, m := range propertyMap {
		if p&m.from != 0 {
			out |= m.to
		}
	}
	return out
}
