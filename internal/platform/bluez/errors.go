package bluez

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/srg/bletools/internal/device"
)

// BlueZ error names, see doc/*-api.txt in the BlueZ tree.
const (
	errInProgress              = "org.bluez.Error.InProgress"
	errNotPermitted            = "org.bluez.Error.NotPermitted"
	errNotAuthorized           = "org.bluez.Error.NotAuthorized"
	errNotSupported            = "org.bluez.Error.NotSupported"
	errNotConnected            = "org.bluez.Error.NotConnected"
	errNotReady                = "org.bluez.Error.NotReady"
	errDoesNotExist            = "org.bluez.Error.DoesNotExist"
	errAlreadyExists           = "org.bluez.Error.AlreadyExists"
	errAlreadyConnected        = "org.bluez.Error.AlreadyConnected"
	errInvalidValueLength      = "org.bluez.Error.InvalidValueLength"
	errInvalidOffset           = "org.bluez.Error.InvalidOffset"
	errAuthenticationFailed    = "org.bluez.Error.AuthenticationFailed"
	errAuthenticationCanceled  = "org.bluez.Error.AuthenticationCanceled"
	errAuthenticationRejected  = "org.bluez.Error.AuthenticationRejected"
	errAuthenticationTimeout   = "org.bluez.Error.AuthenticationTimeout"
	errConnectionAttemptFailed = "org.bluez.Error.ConnectionAttemptFailed"
	errRejected                = "org.bluez.Error.Rejected"
	errCanceled                = "org.bluez.Error.Canceled"
	errNoReply                 = "org.freedesktop.DBus.Error.NoReply"
	errUnknownObject           = "org.freedesktop.DBus.Error.UnknownObject"
	errServiceUnknown          = "org.freedesktop.DBus.Error.ServiceUnknown"
)

const attErrorMarker = "ATT error: 0x"

// ErrBluetoothOff is reported when the adapter is not powered.
var ErrBluetoothOff = errors.New("bluetooth is turned off")

// NormalizeError maps BlueZ D-Bus errors to structured errors.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}
	switch errorName(err) {
	case errNotReady:
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case errServiceUnknown:
		return device.Wrap(device.UnsupportedPlatform, err, "BlueZ is not running")
	}
	return err
}

// gattError classifies a failed ReadValue or WriteValue call.
func gattError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &device.GattError{Status: device.GattUnreachable, Err: err}
	}

	// Failed carries the ATT code in its message when the peer answered with one
	if code, ok := attErrorCode(err.Error()); ok {
		return device.NewProtocolError(code, err)
	}

	switch errorName(err) {
	case errNotPermitted:
		return &device.GattError{Status: device.GattAccessDenied, Err: err}
	case errNotAuthorized:
		return device.NewProtocolError(0x08, err)
	case errNotSupported:
		return device.NewProtocolError(0x06, err)
	case errInvalidValueLength:
		return device.NewProtocolError(0x0D, err)
	case errInvalidOffset:
		return device.NewProtocolError(0x07, err)
	}
	return &device.GattError{Status: device.GattUnreachable, Err: NormalizeError(err)}
}

// attErrorCode extracts the code from messages like
// "Operation failed with ATT error: 0x05".
func attErrorCode(msg string) (byte, bool) {
	i := strings.Index(msg, attErrorMarker)
	if i < 0 {
		return 0, false
	}
	hex := msg[i+len(attErrorMarker):]
	if len(hex) > 2 {
		hex = hex[:2]
	}
	v, err := strconv.ParseUint(hex, 16, 8)
	if err != nil {
		return 0, false
	}
	return byte(v), true
}

// pairingStatusOf maps a failed Device1.Pair call to a result status.
func pairingStatusOf(err error) device.PairingResultStatus {
	if errors.Is(err, context.DeadlineExceeded) {
		return device.PairingAuthenticationTimeout
	}
	if errors.Is(err, context.Canceled) {
		return device.PairingCanceled
	}
	switch errorName(err) {
	case errAlreadyExists:
		return device.PairingAlreadyPaired
	case errInProgress:
		return device.PairingAlreadyInProgress
	case errAuthenticationFailed:
		return device.PairingAuthenticationFailure
	case errAuthenticationTimeout, errNoReply:
		return device.PairingAuthenticationTimeout
	case errAuthenticationCanceled, errCanceled:
		return device.PairingCanceled
	case errAuthenticationRejected:
		return device.PairingRejectedByHandler
	case errConnectionAttemptFailed, errNotConnected:
		return device.PairingUnreachable
	case errNotReady:
		return device.PairingNotReadyToPair
	}
	return device.PairingFailed
}

// unpairingStatusOf maps a failed Adapter1.RemoveDevice call to a result status.
func unpairingStatusOf(err error) device.UnpairingResultStatus {
	switch errorName(err) {
	case errDoesNotExist, errUnknownObject:
		return device.UnpairingAlreadyUnpaired
	case errInProgress:
		return device.UnpairingAlreadyInProgress
	case errNotAuthorized, errNotPermitted:
		return device.UnpairingAccessDenied
	}
	return device.UnpairingFailed
}
