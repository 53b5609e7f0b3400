package bluez

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/address"
	"github.com/srg/bletools/internal/device"
)

const attInsufficientAuthentication = 0x05

type bluezDevice struct {
	adapter *Adapter
	path    dbus.ObjectPath
	props   map[string]dbus.Variant

	closeOnce sync.Once
	closeErr  error
}

func (d *bluezDevice) ID() string { return string(d.path) }

func (d *bluezDevice) Name() string { return deviceName(d.props) }

func (d *bluezDevice) Address() address.Address {
	a, _ := address.Parse(stringProp(d.props, "Address"))
	return a
}

func (d *bluezDevice) Pairing() device.Pairing {
	return &bluezPairing{dev: d}
}

func (d *bluezDevice) log() *logrus.Entry {
	return d.adapter.logger.WithField("device", string(d.path))
}

func (d *bluezDevice) object() dbus.BusObject {
	return d.adapter.object(d.path)
}

func (d *bluezDevice) connect(ctx context.Context, timeout time.Duration) error {
	connCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.log().WithField("timeout", timeout).Debug("Connecting BlueZ device...")
	err := d.object().CallWithContext(connCtx, deviceIface+".Connect", 0).Err
	if err != nil && errorName(err) != errAlreadyConnected {
		return fmt.Errorf("failed to connect to %s: %w", d.path, NormalizeError(err))
	}
	return nil
}

// refresh re-reads Device1 properties, e.g. after pairing changed them.
func (d *bluezDevice) refresh(ctx context.Context) (map[string]dbus.Variant, error) {
	var props map[string]dbus.Variant
	err := d.object().CallWithContext(ctx, propertiesIface+".GetAll", 0, deviceIface).Store(&props)
	if err != nil {
		return nil, NormalizeError(err)
	}
	d.props = props
	return props, nil
}

// children returns the objects of iface whose parentProp points at parent,
// ordered by path so enumeration is stable.
func children(objects managedObjects, iface, parentProp string, parent dbus.ObjectPath) []dbus.ObjectPath {
	var out []dbus.ObjectPath
	for path, ifaces := range objects {
		props, ok := ifaces[iface]
		if !ok || pathProp(props, parentProp) != parent {
			continue
		}
		out = append(out, path)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Service finds the service among the objects BlueZ has exported so far.
func (d *bluezDevice) Service(ctx context.Context, id uuid.UUID) (device.Service, error) {
	objects, err := d.adapter.objects(ctx)
	if err != nil {
		return nil, err
	}
	for _, path := range children(objects, gattServiceIface, "Device", d.path) {
		s := newService(d, path, objects[path][gattServiceIface])
		if s.uuid == id {
			return s, nil
		}
	}
	return nil, nil
}

// Services lists the exported services. BlueZ walks the GATT database
// itself after connecting; until ServicesResolved is set the list is empty.
// There is no way to force a re-walk, so both modes read the object tree.
func (d *bluezDevice) Services(ctx context.Context, mode device.CacheMode) ([]device.Service, error) {
	props, err := d.refresh(ctx)
	if err != nil {
		return nil, err
	}
	if !boolProp(props, "ServicesResolved") {
		d.log().Debug("Services not resolved yet")
		return nil, nil
	}

	objects, err := d.adapter.objects(ctx)
	if err != nil {
		return nil, err
	}
	paths := children(objects, gattServiceIface, "Device", d.path)
	out := make([]device.Service, 0, len(paths))
	for _, path := range paths {
		out = append(out, newService(d, path, objects[path][gattServiceIface]))
	}
	d.log().WithFields(logrus.Fields{"services": len(out), "cache_mode": mode.String()}).Debug("Services listed")
	return out, nil
}

// Close disconnects the device. A device removed by unpairing is already gone.
func (d *bluezDevice) Close() error {
	d.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), d.adapter.opts.FastConnectTimeout)
		defer cancel()
		err := d.object().CallWithContext(ctx, deviceIface+".Disconnect", 0).Err
		switch errorName(err) {
		case "", errNotConnected, errUnknownObject, errDoesNotExist:
		default:
			d.closeErr = NormalizeError(err)
		}
		d.log().Debug("BlueZ device disconnected")
	})
	return d.closeErr
}

type gattService struct {
	dev  *bluezDevice
	path dbus.ObjectPath
	uuid uuid.UUID
}

func newService(d *bluezDevice, path dbus.ObjectPath, props map[string]dbus.Variant) *gattService {
	u, _ := uuid.Parse(stringProp(props, "UUID"))
	return &gattService{dev: d, path: path, uuid: u}
}

func (s *gattService) UUID() uuid.UUID { return s.uuid }

func (s *gattService) Characteristic(ctx context.Context, id uuid.UUID) (device.Characteristic, error) {
	chars, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range chars {
		if c.uuid == id {
			return c, nil
		}
	}
	return nil, nil
}

func (s *gattService) Characteristics(ctx context.Context, _ device.CacheMode) ([]device.Characteristic, error) {
	chars, err := s.list(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]device.Characteristic, 0, len(chars))
	for _, c := range chars {
		out = append(out, c)
	}
	return out, nil
}

func (s *gattService) list(ctx context.Context) ([]*bluezCharacteristic, error) {
	objects, err := s.dev.adapter.objects(ctx)
	if err != nil {
		return nil, err
	}
	var out []*bluezCharacteristic
	for _, path := range children(objects, gattCharIface, "Service", s.path) {
		props := objects[path][gattCharIface]
		u, _ := uuid.Parse(stringProp(props, "UUID"))
		out = append(out, &bluezCharacteristic{
			svc:   s,
			path:  path,
			uuid:  u,
			props: toProperties(stringsProp(props, "Flags")),
		})
	}
	return out, nil
}

func (s *gattService) Close() error { return nil }

type bluezCharacteristic struct {
	svc   *gattService
	path  dbus.ObjectPath
	uuid  uuid.UUID
	props device.Properties
	level device.ProtectionLevel
}

func (c *bluezCharacteristic) UUID() uuid.UUID               { return c.uuid }
func (c *bluezCharacteristic) Properties() device.Properties { return c.props }

func (c *bluezCharacteristic) SetProtectionLevel(level device.ProtectionLevel) {
	c.level = level
}

func (c *bluezCharacteristic) object() dbus.BusObject {
	return c.svc.dev.adapter.object(c.path)
}

// checkLevel refuses authenticated access over an unpaired link the way
// the peripheral would, without a round trip.
func (c *bluezCharacteristic) checkLevel(ctx context.Context) error {
	if c.level != device.EncryptionAndAuthentication {
		return nil
	}
	props, err := c.svc.dev.refresh(ctx)
	if err != nil {
		return gattError(err)
	}
	if !boolProp(props, "Paired") {
		return device.NewProtocolError(attInsufficientAuthentication, fmt.Errorf("%s is not paired", c.svc.dev.path))
	}
	return nil
}

// Read returns the value BlueZ cached from the last read or notification in
// Cached mode, falling back to a device read when there is none.
func (c *bluezCharacteristic) Read(ctx context.Context, mode device.CacheMode) ([]byte, error) {
	log := c.svc.dev.log().WithFields(logrus.Fields{
		"char_uuid":  device.FormatUUID(c.uuid),
		"cache_mode": mode.String(),
	})
	if err := c.checkLevel(ctx); err != nil {
		return nil, err
	}

	if mode == device.Cached {
		v, err := c.object().GetProperty(gattCharIface + ".Value")
		if err == nil {
			if b, ok := v.Value().([]byte); ok && len(b) > 0 {
				log.Debug("Characteristic value served from BlueZ cache")
				return b, nil
			}
		}
	}

	log.Debug("Reading characteristic")
	var value []byte
	err := c.object().CallWithContext(ctx, gattCharIface+".ReadValue", 0, map[string]dbus.Variant{}).Store(&value)
	if err != nil {
		return nil, gattError(err)
	}
	return value, nil
}

func (c *bluezCharacteristic) Write(ctx context.Context, value []byte) error {
	if err := c.checkLevel(ctx); err != nil {
		return err
	}

	opts := map[string]dbus.Variant{"type": dbus.MakeVariant(writeType(c.props))}
	err := c.object().CallWithContext(ctx, gattCharIface+".WriteValue", 0, value, opts).Err
	if err != nil {
		return gattError(err)
	}
	return nil
}

func (c *bluezCharacteristic) Close() error { return nil }

// writeType is "command" when only write-without-response is allowed.
func writeType(p device.Properties) string {
	if p&device.PropWrite == 0 && p&device.PropWriteWithoutResponse != 0 {
		return "command"
	}
	return "request"
}

var flagMap = map[string]device.Properties{
	"broadcast":                   device.PropBroadcast,
	"read":                        device.PropRead,
	"write-without-response":      device.PropWriteWithoutResponse,
	"write":                       device.PropWrite,
	"notify":                      device.PropNotify,
	"indicate":                    device.PropIndicate,
	"authenticated-signed-writes": device.PropAuthenticatedSignedWrites,
	"extended-properties":         device.PropExtendedProperties,
	// security flags imply the plain operation
	"encrypt-read":                device.PropRead,
	"encrypt-write":               device.PropWrite,
	"encrypt-authenticated-read":  device.PropRead,
	"encrypt-authenticated-write": device.PropWrite,
	"secure-read":                 device.PropRead,
	"secure-write":                device.PropWrite,
	"reliable-write":              device.PropExtendedProperties,
	"writable-auxiliaries":        device.PropExtendedProperties,
}

// toProperties converts GattCharacteristic1.Flags.
func toProperties(flags []string) device.Properties {
	var out device.Properties
	for _, f := range flags {
		out |= flagMap[strings.ToLower(f)]
	}
	return out
}
