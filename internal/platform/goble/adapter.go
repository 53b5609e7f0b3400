// Package goble implements the device capability surface over go-ble.
//
// go-ble drives the radio directly (HCI sockets on Linux, CoreBluetooth on
// macOS) and keeps no host-side cache or bonding database, so there is no
// pairing support: every device reports CannotPair and Pair/Unpair fail
// with NotSupported. On macOS CoreBluetooth hides MAC addresses, so devices
// are only addressable by MAC on Linux.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/address"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/internal/groutine"
	"github.com/srg/bletools/pkg/config"
)

// DeviceFactory creates ble.Device instances (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newDevice

// scanStartGrace is how long Start waits for an immediate scan failure.
const scanStartGrace = 200 * time.Millisecond

// Adapter is a device.Adapter backed by a single go-ble device.
type Adapter struct {
	dev    ble.Device
	opts   config.BluetoothOptions
	logger *logrus.Logger

	// go-ble allows one scan at a time per device.
	scanMu sync.Mutex
}

// NewAdapter opens the named HCI adapter (ignored on macOS).
func NewAdapter(name string, opts config.BluetoothOptions, logger *logrus.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	dev, err := DeviceFactory(name)
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	return &Adapter{dev: dev, opts: opts, logger: logger}, nil
}

// FromAddress dials addr with the fast connect timeout. go-ble has no host
// cache, so a device that does not answer in time is reported as unknown.
func (a *Adapter) FromAddress(ctx context.Context, addr address.Address) (device.Device, error) {
	dev, err := a.dial(ctx, addr.Padded(), a.opts.FastConnectTimeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.WithError(err).WithField("address", addr.String()).Debug("Fast connect failed")
		return nil, nil
	}
	return dev, nil
}

// FromID dials the device reported by a watcher; id is its address text.
func (a *Adapter) FromID(ctx context.Context, id string) (device.Device, error) {
	dev, err := a.dial(ctx, id, a.opts.DeviceDiscoveryTimeout)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

func (a *Adapter) dial(ctx context.Context, addr string, timeout time.Duration) (*bleDevice, error) {
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	a.logger.WithFields(logrus.Fields{"address": addr, "timeout": timeout}).Debug("Dialing BLE device...")
	client, err := a.dev.Dial(connCtx, ble.NewAddr(addr))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", addr, NormalizeError(err))
	}

	parsed, _ := address.Parse(addr)
	return &bleDevice{
		client: client,
		id:     strings.ToUpper(addr),
		addr:   parsed,
		name:   client.Name(),
		logger: a.logger,
	}, nil
}

func (a *Adapter) NewWatcher(selector device.WatchSelector) (device.Watcher, error) {
	if selector.Filter == device.BluetoothClassic {
		return nil, device.Errorf(device.NotSupported, "go-ble cannot discover Bluetooth Classic devices")
	}
	return &watcher{adapter: a, selector: selector, seen: hashmap.New[string, string]()}, nil
}

func (a *Adapter) Close() error {
	return a.dev.Stop()
}

// watcher scans with duplicates enabled. Every advertisement is an
// observation for OnAdded; OnUpdated sees a known device whose name changed,
// typically when a scan response fills in the local name.
type watcher struct {
	adapter  *Adapter
	selector device.WatchSelector
	seen     *hashmap.Map[string, string]

	mu      sync.Mutex
	added   func(device.DeviceInfo)
	updated func(device.DeviceInfo)
	cancel  context.CancelFunc
	done    <-chan struct{}
}

func (w *watcher) OnAdded(fn func(device.DeviceInfo)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.added = fn
}

func (w *watcher) OnUpdated(fn func(device.DeviceInfo)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updated = fn
}

func (w *watcher) Start() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return errors.New("watcher already started")
	}
	if !w.adapter.scanMu.TryLock() {
		w.mu.Unlock()
		return errors.New("another scan is in progress on this adapter")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	w.cancel = cancel
	w.done = groutine.Go(ctx, "goble-watcher", func(ctx context.Context) {
		defer w.adapter.scanMu.Unlock()
		err := w.adapter.dev.Scan(ctx, true, w.handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- NormalizeError(err)
		}
	})
	w.mu.Unlock()

	// Scan blocks for its whole lifetime; only an early return is a start failure.
	t := time.NewTimer(scanStartGrace)
	defer t.Stop()
	select {
	case err := <-errCh:
		cancel()
		return fmt.Errorf("failed to start scan: %w", err)
	case <-t.C:
		return nil
	}
}

func (w *watcher) handle(adv ble.Advertisement) {
	info := toDeviceInfo(adv)
	if w.selector.Address != 0 {
		if a, err := address.Parse(info.Address); err != nil || a != w.selector.Address {
			return
		}
	}

	w.mu.Lock()
	added, updated := w.added, w.updated
	w.mu.Unlock()

	prevName, known := w.seen.Get(info.ID)
	if !known || (info.Name != "" && info.Name != prevName) {
		w.seen.Set(info.ID, info.Name)
	}
	if added != nil {
		added(info)
	}
	if known && updated != nil && info.Name != "" && info.Name != prevName {
		updated(info)
	}
}

func (w *watcher) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	w.adapter.logger.WithField("devices", w.seen.Len()).Debug("Scan watcher stopped")
	return nil
}

func toDeviceInfo(adv ble.Advertisement) device.DeviceInfo {
	addr := strings.ToUpper(adv.Addr().String())
	rssi := adv.RSSI()
	info := device.DeviceInfo{
		ID:          addr,
		Name:        adv.LocalName(),
		LowEnergy:   true,
		Pairing:     device.CannotPair,
		RSSI:        &rssi,
		Connectable: adv.Connectable(),
	}
	if _, err := address.Parse(addr); err == nil {
		info.Address = addr
	}
	if md := adv.ManufacturerData(); len(md) >= 2 {
		info.Manufacturer = fmt.Sprintf("0x%04X", uint16(md[0])|uint16(md[1])<<8)
	}
	return info
}
