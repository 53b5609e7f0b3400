// Package address converts Bluetooth MAC addresses between their textual
// colon-hex form and the 48-bit numeric value the platform APIs expect.
//
// The numeric value is built by reversing the text octets into an 8-byte
// buffer and reading it in host byte order. That only yields the value the
// radio stack expects on little-endian hosts, so Parse refuses to run on
// big-endian ones.
package address

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/cpu"
)

// MaxOctets is the number of octets in a Bluetooth device address.
const MaxOctets = 6

var (
	// ErrInvalidAddress is returned for malformed MAC text.
	ErrInvalidAddress = errors.New("invalid bluetooth address")
	// ErrUnsupportedPlatform is returned on big-endian hosts.
	ErrUnsupportedPlatform = errors.New("unsupported platform: big-endian host")
)

// hostBigEndian is a variable so tests can exercise the endianness guard.
var hostBigEndian = cpu.IsBigEndian

// Address is a 48-bit Bluetooth device address; the top 16 bits are always zero.
type Address uint64

// Parse converts colon (or dash) separated hex octets into an Address.
// Octets are big-endian in text: "DC:A6:32:60:C9:56" == 0xDCA63260C956.
// Fewer than six octets are accepted and denote a short vendor address.
func Parse(text string) (Address, error) {
	if hostBigEndian {
		return 0, ErrUnsupportedPlatform
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("%w: empty address", ErrInvalidAddress)
	}

	sep := ":"
	if !strings.Contains(text, sep) && strings.Contains(text, "-") {
		sep = "-"
	}
	octets := strings.Split(text, sep)
	if len(octets) > MaxOctets {
		return 0, fmt.Errorf("%w: %q has %d octets, at most %d allowed", ErrInvalidAddress, text, len(octets), MaxOctets)
	}

	// Octets go in reversed so the first text octet ends up most significant
	// when the buffer is read in (little-endian) host order.
	var buf [8]byte
	for i, o := range octets {
		if len(o) != 2 {
			return 0, fmt.Errorf("%w: octet %q in %q must be two hex digits", ErrInvalidAddress, o, text)
		}
		v, err := strconv.ParseUint(o, 16, 8)
		if err != nil {
			return 0, fmt.Errorf("%w: octet %q in %q is not hex", ErrInvalidAddress, o, text)
		}
		buf[len(octets)-1-i] = byte(v)
	}

	return Address(binary.NativeEndian.Uint64(buf[:])), nil
}

// MustParse is like Parse but panics on error.
func MustParse(text string) Address {
	a, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return a
}

// Format renders the address as uppercase colon-separated hex octets.
// Leading all-zero octets are trimmed; at least one octet is always rendered.
func Format(a Address) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(a))

	start := 0
	for start < len(buf)-1 && buf[start] == 0 {
		start++
	}
	return join(buf[start:])
}

// String implements fmt.Stringer.
func (a Address) String() string {
	return Format(a)
}

// Padded renders all six octets, without trimming leading zeros.
func (a Address) Padded() string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(a))
	return join(buf[8-MaxOctets:])
}

func join(octets []byte) string {
	var sb strings.Builder
	for i, b := range octets {
		if i > 0 {
			sb.WriteByte(':')
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}
