package device

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUUID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		// SIG short forms
		{name: "16-bit lowercase", input: "2a19", expected: "00002a19-0000-1000-8000-00805f9b34fb"},
		{name: "16-bit uppercase", input: "2A19", expected: "00002a19-0000-1000-8000-00805f9b34fb"},
		{name: "16-bit with 0x prefix", input: "0x180F", expected: "0000180f-0000-1000-8000-00805f9b34fb"},
		{name: "32-bit", input: "0000180f", expected: "0000180f-0000-1000-8000-00805f9b34fb"},

		// Full 128-bit forms
		{name: "custom UUID with dashes", input: "00000000-f813-4ae9-9174-6efbee940ae2", expected: "00000000-f813-4ae9-9174-6efbee940ae2"},
		{name: "custom UUID without dashes", input: "00000001f8134ae991746efbee940ae2", expected: "00000001-f813-4ae9-9174-6efbee940ae2"},
		{name: "uppercase SIG UUID", input: "00002902-0000-1000-8000-00805F9B34FB", expected: "00002902-0000-1000-8000-00805f9b34fb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseUUID(tt.input)
			require.NoError(t, err)
			assert.Equal(t, uuid.MustParse(tt.expected), got)
		})
	}
}

func TestParseUUIDInvalid(t *testing.T) {
	for _, input := range []string{"", "zz19", "0x12", "not-a-uuid", "00000000-f813-4ae9-9174"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseUUID(input)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Equal(t, InvalidArgument, CodeOf(err))
		})
	}
}

func TestFormatUUID(t *testing.T) {
	assert.Equal(t, "2a19", FormatUUID(FromShortUUID(0x2A19)))
	assert.Equal(t, "12345678", FormatUUID(FromShortUUID(0x12345678)))
	assert.Equal(t, "00000000-f813-4ae9-9174-6efbee940ae2",
		FormatUUID(uuid.MustParse("00000000-f813-4ae9-9174-6efbee940ae2")))
}

func TestShortUUID(t *testing.T) {
	v, ok := ShortUUID(uuid.MustParse("0000180f-0000-1000-8000-00805f9b34fb"))
	assert.True(t, ok)
	assert.Equal(t, uint32(0x180F), v)

	_, ok = ShortUUID(uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
	assert.False(t, ok, "MUST NOT shorten a vendor UUID")
}
