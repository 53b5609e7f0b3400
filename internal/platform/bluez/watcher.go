package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/srg/bletools/internal/address"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/internal/groutine"
)

const (
	interfacesAdded   = objectManager + ".InterfacesAdded"
	propertiesChanged = propertiesIface + ".PropertiesChanged"
)

// advertisementProps change whenever a new advertisement is received
// (discovery runs with DuplicateData).
var advertisementProps = []string{"RSSI", "TxPower", "ManufacturerData", "ServiceData"}

// identityProps changes are reported through OnUpdated.
var identityProps = []string{"Name", "Alias", "Paired", "Connected"}

// watcher runs BlueZ discovery and turns object signals into observations.
// Devices BlueZ already knew before Start are only reported once they
// advertise again.
type watcher struct {
	adapter  *Adapter
	selector device.WatchSelector
	seen     *hashmap.Map[dbus.ObjectPath, map[string]dbus.Variant]

	mu      sync.Mutex
	added   func(device.DeviceInfo)
	updated func(device.DeviceInfo)
	signals chan *dbus.Signal
	rules   []string
	cancel  context.CancelFunc
	done    <-chan struct{}
}

func newWatcher(a *Adapter, selector device.WatchSelector) *watcher {
	return &watcher{
		adapter:  a,
		selector: selector,
		seen:     hashmap.New[dbus.ObjectPath, map[string]dbus.Variant](),
	}
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

// transport is the SetDiscoveryFilter value for f.
func transport(f device.DeviceFilter) string {
	switch f {
	case device.BluetoothLE:
		return "le"
	case device.BluetoothClassic:
		return "bredr"
	default:
		return "auto"
	}
}

func matchRules(adapter dbus.ObjectPath) []string {
	return []string{
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='InterfacesAdded'", bluezService, objectManager),
		fmt.Sprintf("type='signal',sender='%s',interface='%s',member='PropertiesChanged',path_namespace='%s'", bluezService, propertiesIface, adapter),
	}
}

func (w *watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return errors.New("watcher already started")
	}

	a := w.adapter
	ctx, cancel := context.WithTimeout(context.Background(), a.opts.FastConnectTimeout)
	defer cancel()

	objects, err := a.objects(ctx)
	if err != nil {
		return fmt.Errorf("failed to start discovery: %w", err)
	}
	for path, ifaces := range objects {
		if props, ok := ifaces[deviceIface]; ok && isDevicePath(a.path, path) {
			w.seen.Set(path, props)
		}
	}

	w.signals = make(chan *dbus.Signal, 64)
	a.conn.Signal(w.signals)
	for _, rule := range matchRules(a.path) {
		if err := a.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
			w.teardown()
			return fmt.Errorf("failed to subscribe to BlueZ signals: %w", err)
		}
		w.rules = append(w.rules, rule)
	}

	filter := map[string]dbus.Variant{
		"Transport":     dbus.MakeVariant(transport(w.selector.Filter)),
		"DuplicateData": dbus.MakeVariant(true),
	}
	adapter := a.object(a.path)
	if err := adapter.CallWithContext(ctx, adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		a.logger.WithError(err).Debug("SetDiscoveryFilter failed, discovering unfiltered")
	}
	if err := adapter.CallWithContext(ctx, adapterIface+".StartDiscovery", 0).Err; err != nil && errorName(err) != errInProgress {
		w.teardown()
		return fmt.Errorf("failed to start discovery: %w", NormalizeError(err))
	}

	loopCtx, loopCancel := context.WithCancel(context.Background())
	w.cancel = loopCancel
	signals := w.signals
	w.done = groutine.Go(loopCtx, "bluez-watcher", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				w.handle(sig)
			}
		}
	})

	a.logger.WithField("transport", transport(w.selector.Filter)).Debug("BlueZ discovery started")
	return nil
}

// teardown drops signal subscriptions. Callers hold w.mu.
func (w *watcher) teardown() {
	a := w.adapter
	if w.signals != nil {
		a.conn.RemoveSignal(w.signals)
	}
	for _, rule := range w.rules {
		if err := a.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule).Err; err != nil {
			a.logger.WithError(err).Debug("RemoveMatch failed")
		}
	}
	w.rules = nil
}

func (w *watcher) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	if cancel == nil {
		w.mu.Unlock()
		return nil
	}
	w.teardown()
	w.cancel = nil
	w.mu.Unlock()

	cancel()
	<-done

	a := w.adapter
	if err := a.object(a.path).Call(adapterIface+".StopDiscovery", 0).Err; err != nil {
		a.logger.WithError(err).Debug("StopDiscovery failed")
	}
	a.logger.WithField("devices", w.seen.Len()).Debug("BlueZ discovery stopped")
	return nil
}

func (w *watcher) handle(sig *dbus.Signal) {
	switch sig.Name {
	case interfacesAdded:
		if len(sig.Body) < 2 {
			return
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props, ok := ifaces[deviceIface]
		if !ok || !isDevicePath(w.adapter.path, path) {
			return
		}
		w.seen.Set(path, props)
		w.emit(path, props, true, false)

	case propertiesChanged:
		if len(sig.Body) < 2 {
			return
		}
		if iface, _ := sig.Body[0].(string); iface != deviceIface || !isDevicePath(w.adapter.path, sig.Path) {
			return
		}
		changed, _ := sig.Body[1].(map[string]dbus.Variant)

		props, known := w.seen.Get(sig.Path)
		merged := make(map[string]dbus.Variant, len(props)+len(changed))
		for k, v := range props {
			merged[k] = v
		}
		for k, v := range changed {
			merged[k] = v
		}
		if _, ok := merged["Address"]; !ok {
			if addr, ok := addressFromPath(sig.Path); ok {
				merged["Address"] = dbus.MakeVariant(addr.Padded())
			}
		}
		w.seen.Set(sig.Path, merged)
		w.emit(sig.Path, merged, hasAny(changed, advertisementProps), known && hasAny(changed, identityProps))
	}
}

func (w *watcher) emit(path dbus.ObjectPath, props map[string]dbus.Variant, advertised, changed bool) {
	info := toDeviceInfo(path, props)
	if w.selector.Address != 0 {
		if a, err := address.Parse(info.Address); err != nil || a != w.selector.Address {
			return
		}
	}
	if !w.selector.Filter.Matches(info.LowEnergy) {
		return
	}

	w.mu.Lock()
	added, updated := w.added, w.updated
	w.mu.Unlock()

	if advertised && added != nil {
		added(info)
	}
	if changed && updated != nil {
		updated(info)
	}
}

func hasAny(m map[string]dbus.Variant, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// addressFromPath recovers the address encoded in a device object path.
func addressFromPath(path dbus.ObjectPath) (address.Address, bool) {
	i := strings.LastIndex(string(path), "/dev_")
	if i < 0 {
		return 0, false
	}
	a, err := address.Parse(strings.ReplaceAll(string(path)[i+len("/dev_"):], "_", ":"))
	if err != nil {
		return 0, false
	}
	return a, true
}
