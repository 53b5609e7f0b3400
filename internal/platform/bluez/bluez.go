// Package bluez implements the device capability surface over the BlueZ
// D-Bus API (org.bluez), including pairing through an exported Agent1.
//
// Handles are thin views over D-Bus object paths; every query reads the
// object tree afresh, so BlueZ's own cache is the only cache involved.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/address"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/pkg/config"
)

const (
	bluezService      = "org.bluez"
	adapterIface      = "org.bluez.Adapter1"
	deviceIface       = "org.bluez.Device1"
	gattServiceIface  = "org.bluez.GattService1"
	gattCharIface     = "org.bluez.GattCharacteristic1"
	agentManagerIface = "org.bluez.AgentManager1"
	agentIface        = "org.bluez.Agent1"
	propertiesIface   = "org.freedesktop.DBus.Properties"
	objectManager     = "org.freedesktop.DBus.ObjectManager"

	agentPath       = dbus.ObjectPath("/org/bluez/bletools/agent")
	agentCapability = "KeyboardDisplay"
)

// managedObjects is the reply of ObjectManager.GetManagedObjects.
type managedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Adapter is a device.Adapter backed by one BlueZ adapter (e.g. hci0).
type Adapter struct {
	conn   *dbus.Conn
	path   dbus.ObjectPath
	name   string
	opts   config.BluetoothOptions
	logger *logrus.Logger

	agent           *agent
	agentOnce       sync.Once
	agentErr        error
	agentRegistered bool
}

// NewAdapter connects to the system bus and checks that the named adapter exists.
func NewAdapter(ctx context.Context, name string, opts config.BluetoothOptions, logger *logrus.Logger) (*Adapter, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if name == "" {
		name = "hci0"
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, device.Wrap(device.UnsupportedPlatform, err, "cannot connect to the D-Bus system bus")
	}

	a := &Adapter{
		conn:   conn,
		path:   dbus.ObjectPath("/org/bluez/" + name),
		name:   name,
		opts:   opts,
		logger: logger,
		agent:  newAgent(logger),
	}

	objects, err := a.objects(ctx)
	if err != nil {
		_ = conn.Close()
		return nil, device.Wrap(device.UnsupportedPlatform, err, "BlueZ is not available")
	}
	if _, ok := objects[a.path][adapterIface]; !ok {
		_ = conn.Close()
		return nil, device.Errorf(device.InvalidArgument, "bluetooth adapter %s not found", name)
	}
	return a, nil
}

func (a *Adapter) objects(ctx context.Context) (managedObjects, error) {
	var out managedObjects
	err := a.conn.Object(bluezService, "/").CallWithContext(ctx, objectManager+".GetManagedObjects", 0).Store(&out)
	if err != nil {
		return nil, fmt.Errorf("GetManagedObjects failed: %w", err)
	}
	return out, nil
}

func (a *Adapter) object(path dbus.ObjectPath) dbus.BusObject {
	return a.conn.Object(bluezService, path)
}

// FromAddress returns the device if BlueZ already has an object for addr,
// connecting it within the fast connect timeout.
func (a *Adapter) FromAddress(ctx context.Context, addr address.Address) (device.Device, error) {
	path := devicePath(a.path, addr)
	return a.open(ctx, path, a.opts.FastConnectTimeout)
}

// FromID opens the device whose object path a watcher reported.
func (a *Adapter) FromID(ctx context.Context, id string) (device.Device, error) {
	path := dbus.ObjectPath(id)
	if !path.IsValid() {
		return nil, fmt.Errorf("invalid device id %q", id)
	}
	return a.open(ctx, path, a.opts.DeviceDiscoveryTimeout)
}

func (a *Adapter) open(ctx context.Context, path dbus.ObjectPath, timeout time.Duration) (device.Device, error) {
	objects, err := a.objects(ctx)
	if err != nil {
		return nil, err
	}
	props, ok := objects[path][deviceIface]
	if !ok {
		return nil, nil
	}

	d := &bluezDevice{adapter: a, path: path, props: props}
	if !boolProp(props, "Connected") {
		if err := d.connect(ctx, timeout); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (a *Adapter) NewWatcher(selector device.WatchSelector) (device.Watcher, error) {
	return newWatcher(a, selector), nil
}

func (a *Adapter) Close() error {
	a.unregisterAgent()
	return a.conn.Close()
}

// devicePath is the BlueZ object path of addr on adapter,
// e.g. /org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF.
func devicePath(adapter dbus.ObjectPath, addr address.Address) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(addr.Padded(), ":", "_"))
}

// isDevicePath reports whether path is a device directly under adapter.
func isDevicePath(adapter, path dbus.ObjectPath) bool {
	rest, ok := strings.CutPrefix(string(path), string(adapter)+"/dev_")
	return ok && !strings.Contains(rest, "/")
}

func stringProp(props map[string]dbus.Variant, name string) string {
	if v, ok := props[name]; ok {
		if s, ok := v.Value().(string); ok {
			return s
		}
	}
	return ""
}

func boolProp(props map[string]dbus.Variant, name string) bool {
	if v, ok := props[name]; ok {
		if b, ok := v.Value().(bool); ok {
			return b
		}
	}
	return false
}

func pathProp(props map[string]dbus.Variant, name string) dbus.ObjectPath {
	if v, ok := props[name]; ok {
		if p, ok := v.Value().(dbus.ObjectPath); ok {
			return p
		}
	}
	return ""
}

func stringsProp(props map[string]dbus.Variant, name string) []string {
	if v, ok := props[name]; ok {
		if s, ok := v.Value().([]string); ok {
			return s
		}
	}
	return nil
}

// deviceName prefers the user-visible Alias, which BlueZ derives from Name.
func deviceName(props map[string]dbus.Variant) string {
	name := stringProp(props, "Name")
	if alias := stringProp(props, "Alias"); alias != "" && (name != "" || !looksLikeAddress(alias)) {
		return alias
	}
	return name
}

// looksLikeAddress catches the address-derived Alias BlueZ reports for unnamed devices.
func looksLikeAddress(s string) bool {
	_, err := address.Parse(s)
	return err == nil
}

func pairingStatus(props map[string]dbus.Variant) device.PairingStatus {
	if boolProp(props, "Paired") {
		return device.Paired
	}
	return device.Unpaired
}

// toDeviceInfo builds an observation from Device1 properties. BlueZ has no
// explicit transport property: devices reporting a Class of Device are
// BR/EDR, everything else is treated as LE.
func toDeviceInfo(path dbus.ObjectPath, props map[string]dbus.Variant) device.DeviceInfo {
	info := device.DeviceInfo{
		ID:          string(path),
		Name:        deviceName(props),
		Address:     strings.ToUpper(stringProp(props, "Address")),
		Pairing:     pairingStatus(props),
		Connected:   boolProp(props, "Connected"),
		Connectable: true,
		ModelID:     stringProp(props, "Modalias"),
		ModelName:   stringProp(props, "Icon"),
	}
	_, hasClass := props["Class"]
	info.LowEnergy = !hasClass
	if v, ok := props["RSSI"]; ok {
		if r, ok := v.Value().(int16); ok {
			rssi := int(r)
			info.RSSI = &rssi
		}
	}
	if v, ok := props["ManufacturerData"]; ok {
		if md, ok := v.Value().(map[uint16]dbus.Variant); ok {
			for id := range md {
				if info.Manufacturer == "" || fmt.Sprintf("0x%04X", id) < info.Manufacturer {
					info.Manufacturer = fmt.Sprintf("0x%04X", id)
				}
			}
		}
	}
	return info
}

// errorName returns the D-Bus error name of err, or "".
func errorName(err error) string {
	var derr dbus.Error
	if errors.As(err, &derr) {
		return derr.Name
	}
	var dperr *dbus.Error
	if errors.As(err, &dperr) {
		return dperr.Name
	}
	return ""
}
