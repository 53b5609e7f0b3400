//go:build darwin

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// CoreBluetooth exposes a single adapter; the name is ignored.
func newDevice(string) (ble.Device, error) {
	return darwin.NewDevice()
}
