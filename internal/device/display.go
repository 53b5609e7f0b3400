package device

import (
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DisplayName renders "ADDRESS (Name)", falling back to whichever part is known.
func DisplayName(addr, name string) string {
	switch {
	case addr != "" && name != "":
		return fmt.Sprintf("%s (%s)", addr, name)
	case addr != "":
		return addr
	default:
		return name
	}
}

// DeviceDisplayName is DisplayName for a live handle.
func DeviceDisplayName(d Device) string {
	return DisplayName(d.Address().String(), d.Name())
}

// Label returns the display name of an observation, falling back to its ID.
func (i DeviceInfo) Label() string {
	if s := DisplayName(i.Address, i.Name); s != "" {
		return s
	}
	return i.ID
}

// Kind is "BLE" or "Classic".
func (i DeviceInfo) Kind() string {
	if i.LowEnergy {
		return "BLE"
	}
	return "Classic"
}

// Summary is the one-line description printed for a first sighting.
func (i DeviceInfo) Summary() string {
	rssi := "n/a"
	if i.RSSI != nil {
		rssi = fmt.Sprintf("%d", *i.RSSI)
	}
	return fmt.Sprintf("RSSI: %s, Status: %s, Model id: %s, Model name: %s, Manufacturer: %s",
		rssi, i.Pairing, orNA(i.ModelID), orNA(i.ModelName), orNA(i.Manufacturer))
}

func orNA(s string) string {
	if s == "" {
		return "n/a"
	}
	return s
}

// EncodeValue converts user input into a characteristic value: UTF-8 text by
// default, or hex digits ("FF01", spaces and colons ignored) when asHex is set.
func EncodeValue(s string, asHex bool) ([]byte, error) {
	if !asHex {
		return []byte(s), nil
	}
	clean := strings.NewReplacer(" ", "", ":", "", "0x", "", "0X", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex value %q", ErrInvalidArgument, s)
	}
	return b, nil
}

// DecodeValue renders a characteristic value as UTF-8 text, or uppercase hex
// when asHex is set or the bytes are not valid UTF-8.
func DecodeValue(b []byte, asHex bool) string {
	if asHex || !utf8.Valid(b) {
		return strings.ToUpper(hex.EncodeToString(b))
	}
	return string(b)
}
