package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/bletools/internal/address"
)

// ResultCode is the outcome of a command and doubles as the process exit code.
type ResultCode int

const (
	Ok ResultCode = iota
	InvalidArgument
	DeviceNotFound
	DeviceNotPaired
	DevicePairingFailed
	DeviceUnpairingFailed
	ServiceNotFound
	CharacteristicNotFound
	CharacteristicReadFailed
	CharacteristicWriteFailed
	ListServicesFailed
	UnsupportedPlatform
	NotSupported
)

var resultCodeNames = [...]string{
	Ok:                        "ok",
	InvalidArgument:           "invalid argument",
	DeviceNotFound:            "device not found",
	DeviceNotPaired:           "device not paired",
	DevicePairingFailed:       "device pairing failed",
	DeviceUnpairingFailed:     "device unpairing failed",
	ServiceNotFound:           "service not found",
	CharacteristicNotFound:    "characteristic not found",
	CharacteristicReadFailed:  "characteristic read failed",
	CharacteristicWriteFailed: "characteristic write failed",
	ListServicesFailed:        "list services failed",
	UnsupportedPlatform:       "unsupported platform",
	NotSupported:              "operation not supported",
}

func (c ResultCode) String() string {
	if c >= 0 && int(c) < len(resultCodeNames) {
		return resultCodeNames[c]
	}
	return fmt.Sprintf("result code %d", int(c))
}

// Error is a failure classified by ResultCode.
type Error struct {
	Code ResultCode
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Msg
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is allows errors.Is to compare Error values by Code
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ResultCode implements the coder interface used by CodeOf.
func (e *Error) ResultCode() ResultCode {
	return e.Code
}

// Errorf builds an *Error with a formatted message.
func Errorf(code ResultCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code.
func Wrap(code ResultCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Sentinels for errors.Is.
var (
	ErrInvalidArgument           = &Error{Code: InvalidArgument}
	ErrDeviceNotFound            = &Error{Code: DeviceNotFound}
	ErrDeviceNotPaired           = &Error{Code: DeviceNotPaired}
	ErrDevicePairingFailed       = &Error{Code: DevicePairingFailed}
	ErrDeviceUnpairingFailed     = &Error{Code: DeviceUnpairingFailed}
	ErrServiceNotFound           = &Error{Code: ServiceNotFound}
	ErrCharacteristicNotFound    = &Error{Code: CharacteristicNotFound}
	ErrCharacteristicReadFailed  = &Error{Code: CharacteristicReadFailed}
	ErrCharacteristicWriteFailed = &Error{Code: CharacteristicWriteFailed}
	ErrListServicesFailed        = &Error{Code: ListServicesFailed}
	ErrUnsupportedPlatform       = &Error{Code: UnsupportedPlatform}
	ErrNotSupported              = &Error{Code: NotSupported}
)

// Address codec errors, re-exported so callers need a single import.
var (
	ErrInvalidAddress = address.ErrInvalidAddress
)

// PairingError reports a pairing ceremony that completed without success.
type PairingError struct {
	Status          PairingResultStatus
	ProtectionLevel ProtectionLevel
}

func (e *PairingError) Error() string {
	return fmt.Sprintf("pairing failed: status %s, protection level %s", e.Status, e.ProtectionLevel)
}

func (e *PairingError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == DevicePairingFailed
}

func (e *PairingError) ResultCode() ResultCode {
	return DevicePairingFailed
}

// UnpairingError reports an unpairing request that completed without success.
type UnpairingError struct {
	Status UnpairingResultStatus
}

func (e *UnpairingError) Error() string {
	return fmt.Sprintf("unpairing failed: status %s", e.Status)
}

func (e *UnpairingError) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == DeviceUnpairingFailed
}

func (e *UnpairingError) ResultCode() ResultCode {
	return DeviceUnpairingFailed
}

type coder interface {
	ResultCode() ResultCode
}

// CodeOf maps err to the ResultCode reported as the exit code.
// Unclassified errors map to InvalidArgument, the generic failure code.
func CodeOf(err error) ResultCode {
	if err == nil || errors.Is(err, context.Canceled) {
		return Ok
	}
	var c coder
	if errors.As(err, &c) {
		return c.ResultCode()
	}
	if errors.Is(err, address.ErrUnsupportedPlatform) {
		return UnsupportedPlatform
	}
	return InvalidArgument
}

// GattStatus is the transport-level outcome of a GATT operation.
type GattStatus int

const (
	GattSuccess GattStatus = iota
	GattUnreachable
	GattProtocolError
	GattAccessDenied
)

func (s GattStatus) String() string {
	switch s {
	case GattSuccess:
		return "Success"
	case GattUnreachable:
		return "Unreachable"
	case GattProtocolError:
		return "ProtocolError"
	case GattAccessDenied:
		return "AccessDenied"
	default:
		return fmt.Sprintf("GattStatus(%d)", int(s))
	}
}

// GattError is a failed characteristic read or write. ProtocolError carries
// the ATT error code when the peripheral reported one.
type GattError struct {
	Status        GattStatus
	ProtocolError *byte
	Err           error
}

func (e *GattError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "status %s, protocol error %s", e.Status, DescribeProtocolError(e.ProtocolError))
	if e.Err != nil {
		fmt.Fprintf(&sb, ": %v", e.Err)
	}
	return sb.String()
}

func (e *GattError) Unwrap() error {
	return e.Err
}

// NewProtocolError builds a GattError for an ATT error code.
func NewProtocolError(code byte, err error) *GattError {
	return &GattError{Status: GattProtocolError, ProtocolError: &code, Err: err}
}

var protocolErrorNames = map[byte]string{
	0x01: "InvalidHandle",
	0x02: "ReadNotPermitted",
	0x03: "WriteNotPermitted",
	0x04: "InvalidPdu",
	0x05: "InsufficientAuthentication",
	0x06: "RequestNotSupported",
	0x07: "InvalidOffset",
	0x08: "InsufficientAuthorization",
	0x09: "PrepareQueueFull",
	0x0A: "AttributeNotFound",
	0x0B: "AttributeNotLong",
	0x0C: "InsufficientEncryptionKeySize",
	0x0D: "InvalidAttributeValueLength",
	0x0E: "UnlikelyError",
	0x0F: "InsufficientEncryption",
	0x10: "UnsupportedGroupType",
	0x11: "InsufficientResources",
}

// ProtocolErrorName returns the ATT name of code, or its hex form.
func ProtocolErrorName(code byte) string {
	if n, ok := protocolErrorNames[code]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", code)
}

// DescribeProtocolError is ProtocolErrorName for an optional code.
func DescribeProtocolError(code *byte) string {
	if code == nil {
		return "unknown"
	}
	return ProtocolErrorName(*code)
}
