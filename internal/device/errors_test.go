package device

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/srg/bletools/internal/address"
	"github.com/stretchr/testify/assert"
)

func TestErrorIsByCode(t *testing.T) {
	err := Errorf(DeviceNotFound, "device %s not found after %s", "DC:A6:32:60:C9:56", "20s")

	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.NotErrorIs(t, err, ErrServiceNotFound)
	assert.Equal(t, "device DC:A6:32:60:C9:56 not found after 20s", err.Error())

	wrapped := fmt.Errorf("pair: %w", err)
	assert.ErrorIs(t, wrapped, ErrDeviceNotFound, "MUST survive fmt wrapping")
}

func TestWrapKeepsCause(t *testing.T) {
	cause := NewProtocolError(0x02, nil)
	err := Wrap(CharacteristicReadFailed, cause, "read %s", "2a19")

	assert.ErrorIs(t, err, ErrCharacteristicReadFailed)
	var gattErr *GattError
	assert.True(t, errors.As(err, &gattErr))
	assert.Equal(t, "read 2a19: status ProtocolError, protocol error ReadNotPermitted", err.Error())
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ResultCode
	}{
		{name: "nil", err: nil, expected: Ok},
		{name: "canceled", err: fmt.Errorf("scan: %w", context.Canceled), expected: Ok},
		{name: "device not found", err: Errorf(DeviceNotFound, "x"), expected: DeviceNotFound},
		{name: "pairing error", err: &PairingError{Status: PairingAuthenticationFailure}, expected: DevicePairingFailed},
		{name: "unpairing error", err: &UnpairingError{Status: UnpairingFailed}, expected: DeviceUnpairingFailed},
		{name: "invalid address", err: Wrap(InvalidArgument, address.ErrInvalidAddress, "parse"), expected: InvalidArgument},
		{name: "big endian host", err: address.ErrUnsupportedPlatform, expected: UnsupportedPlatform},
		{name: "unclassified", err: errors.New("boom"), expected: InvalidArgument},
		{name: "write failed", err: Wrap(CharacteristicWriteFailed, errors.New("x"), "w"), expected: CharacteristicWriteFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, CodeOf(tt.err))
		})
	}
}

func TestResultCodeValues(t *testing.T) {
	// exit codes are part of the command-line contract
	assert.Equal(t, 0, int(Ok))
	assert.Equal(t, 1, int(InvalidArgument))
	assert.Equal(t, 2, int(DeviceNotFound))
	assert.Equal(t, 3, int(DeviceNotPaired))
	assert.Equal(t, 4, int(DevicePairingFailed))
	assert.Equal(t, 5, int(DeviceUnpairingFailed))
	assert.Equal(t, 6, int(ServiceNotFound))
	assert.Equal(t, 7, int(CharacteristicNotFound))
	assert.Equal(t, 8, int(CharacteristicReadFailed))
	assert.Equal(t, 9, int(CharacteristicWriteFailed))
	assert.Equal(t, 10, int(ListServicesFailed))
	assert.Equal(t, 11, int(UnsupportedPlatform))
	assert.Equal(t, 12, int(NotSupported))
}

func TestPairingErrorIs(t *testing.T) {
	err := &PairingError{Status: PairingRejectedByHandler, ProtectionLevel: ProtectionNone}
	assert.ErrorIs(t, err, ErrDevicePairingFailed)
	assert.NotErrorIs(t, err, ErrDeviceUnpairingFailed)
	assert.Equal(t, "pairing failed: status RejectedByHandler, protection level None", err.Error())
}

func TestProtocolErrorName(t *testing.T) {
	assert.Equal(t, "InsufficientAuthentication", ProtocolErrorName(0x05))
	assert.Equal(t, "InsufficientEncryption", ProtocolErrorName(0x0F))
	assert.Equal(t, "0x80", ProtocolErrorName(0x80))
	assert.Equal(t, "unknown", DescribeProtocolError(nil))
}
