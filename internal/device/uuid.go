package device

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// BaseUUID is the Bluetooth SIG base UUID 00000000-0000-1000-8000-00805f9b34fb.
var BaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// ParseUUID parses a GATT identifier. Besides the full 128-bit forms accepted
// by uuid.Parse, it accepts 16-bit and 32-bit SIG short forms ("2a19",
// "0x2A19", "0000180f") and expands them onto BaseUUID.
func ParseUUID(s string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	short := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(short) == 4 || len(short) == 8 {
		raw, err := hex.DecodeString(short)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: invalid UUID %q", ErrInvalidArgument, s)
		}
		var v uint32
		if len(raw) == 2 {
			v = uint32(binary.BigEndian.Uint16(raw))
		} else {
			v = binary.BigEndian.Uint32(raw)
		}
		return FromShortUUID(v), nil
	}

	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid UUID %q", ErrInvalidArgument, s)
	}
	return u, nil
}

// FromShortUUID expands a 16/32-bit SIG value onto BaseUUID.
func FromShortUUID(v uint32) uuid.UUID {
	u := BaseUUID
	binary.BigEndian.PutUint32(u[:4], v)
	return u
}

// ShortUUID returns the 16/32-bit form of a SIG UUID and reports whether u is one.
func ShortUUID(u uuid.UUID) (uint32, bool) {
	base := BaseUUID
	if string(u[4:]) != string(base[4:]) {
		return 0, false
	}
	return binary.BigEndian.Uint32(u[:4]), true
}

// FormatUUID renders SIG UUIDs in their short hex form and others in full.
func FormatUUID(u uuid.UUID) string {
	if v, ok := ShortUUID(u); ok {
		if v <= 0xFFFF {
			return fmt.Sprintf("%04x", v)
		}
		return fmt.Sprintf("%08x", v)
	}
	return u.String()
}
