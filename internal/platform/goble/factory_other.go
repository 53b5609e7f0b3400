//go:build !linux && !darwin

package goble

import (
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/bletools/internal/device"
)

func newDevice(string) (ble.Device, error) {
	return nil, device.Errorf(device.UnsupportedPlatform, "go-ble has no backend for %s", runtime.GOOS)
}
