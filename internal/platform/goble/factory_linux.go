//go:build linux

package goble

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newDevice(adapter string) (ble.Device, error) {
	var opts []ble.Option
	if adapter != "" {
		id, err := strconv.Atoi(strings.TrimPrefix(adapter, "hci"))
		if err != nil {
			return nil, fmt.Errorf("invalid HCI adapter %q: %w", adapter, err)
		}
		opts = append(opts, ble.OptDeviceID(id))
	}
	return linux.NewDevice(opts...)
}
