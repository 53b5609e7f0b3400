package inspector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/srg/bletools/inspector"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/internal/testutils"
	"github.com/srg/bletools/pkg/config"
	"github.com/srg/bletools/resolver"
	"github.com/stretchr/testify/suite"
)

const (
	piAddress   = "DC:A6:32:60:C9:56"
	serviceUUID = "00000000-f813-4ae9-9174-6efbee940ae2"
	charUUID    = "00000001-f813-4ae9-9174-6efbee940ae2"
)

type InspectorTestSuite struct {
	suite.Suite
	helper *testutils.TestHelper

	serviceID, charID uuid.UUID
}

func (s *InspectorTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.serviceID = uuid.MustParse(serviceUUID)
	s.charID = uuid.MustParse(charUUID)
}

func (s *InspectorTestSuite) newResolver(adapter *testutils.FakeAdapter) *resolver.Resolver {
	return resolver.New(adapter, config.BluetoothOptions{
		DeviceDiscoveryTimeout:  time.Second,
		MetadataRetrieveTimeout: time.Second,
		MetadataPollingInterval: 100 * time.Millisecond,
	}, s.helper.Logger)
}

func (s *InspectorTestSuite) TestReadEndToEnd() {
	// GOAL: a device unknown to the host is discovered and its characteristic is read
	//
	// TEST SCENARIO: not cached → advertised → service listed on the 2nd poll →
	// characteristic enumerated → read returns a UTF-8 string → every handle released
	adapter, peripherals := s.helper.NewFakeAdapterFromJSON(`[{
		"address": %q,
		"name": "raspberrypi",
		"advertise_after": "50ms",
		"services": [{
			"uuid": %q,
			"visible_from_poll": 2,
			"characteristics": [{"uuid": %q, "value": "Hello, Pi"}]
		}]
	}]`, piAddress, serviceUUID, charUUID)
	pi := peripherals[0]
	svc := pi.Service(serviceUUID)
	char := svc.Characteristic(charUUID)

	var phases []string
	start := time.Now()
	value, err := inspector.InspectCharacteristic(context.Background(), s.newResolver(adapter), piAddress, s.serviceID, s.charID,
		&inspector.InspectOptions{CacheMode: device.Cached}, s.helper.Logger,
		func(phase string) { phases = append(phases, phase) },
		func(_ device.Device, c device.Characteristic) (string, error) {
			b, err := inspector.ReadValue(context.Background(), c, device.Cached)
			return device.DecodeValue(b, false), err
		})
	elapsed := time.Since(start)

	s.Require().NoError(err)
	s.Equal("Hello, Pi", value)
	s.GreaterOrEqual(elapsed, 100*time.Millisecond, "the service MUST only show up after one polling interval")

	s.Equal(int32(1), adapter.WatchersStopped.Load(), "discovery watcher MUST be stopped")
	s.Equal(int32(2), pi.Enumerations.Load(), "service MUST be found on the 2nd poll")
	s.Equal(int32(1), char.Reads.Load())
	s.Equal(device.ProtectionNone, char.ProtectionLevel())

	s.Equal(pi.Opens.Load(), pi.Closes.Load(), "device MUST be released")
	s.Equal(svc.Opens.Load(), svc.Closes.Load(), "service MUST be released")
	s.Equal(char.Opens.Load(), char.Closes.Load(), "characteristic MUST be released")

	s.Equal([]string{"Connecting", "Connected", "Processing results", "Resolving service", "Resolving characteristic", "Processing results"}, phases)
}

func (s *InspectorTestSuite) TestWriteCachedPath() {
	pi := testutils.NewFakePeripheral(piAddress).InHostCache()
	c := pi.AddService(serviceUUID).Cached().AddCharacteristic(charUUID).Cached()
	adapter := testutils.NewFakeAdapter(pi)

	_, err := inspector.InspectCharacteristic(context.Background(), s.newResolver(adapter), piAddress, s.serviceID, s.charID, nil, s.helper.Logger, nil,
		func(_ device.Device, char device.Characteristic) (struct{}, error) {
			return struct{}{}, inspector.WriteValue(context.Background(), char, []byte("on"))
		})

	s.Require().NoError(err)
	s.Equal([][]byte{[]byte("on")}, c.Writes())
	s.Zero(adapter.WatchersCreated.Load(), "cached device MUST NOT start discovery")
	s.Zero(pi.Enumerations.Load(), "cached service MUST NOT be enumerated")
}

func (s *InspectorTestSuite) TestRequirePairing() {
	s.Run("not paired", func() {
		pi := testutils.NewFakePeripheral(piAddress).InHostCache()
		pi.AddService(serviceUUID).Cached().AddCharacteristic(charUUID).Cached()
		adapter := testutils.NewFakeAdapter(pi)

		called := false
		_, err := inspector.InspectCharacteristic(context.Background(), s.newResolver(adapter), piAddress, s.serviceID, s.charID,
			&inspector.InspectOptions{RequirePairing: true}, s.helper.Logger, nil,
			func(device.Device, device.Characteristic) (int, error) {
				called = true
				return 0, nil
			})

		s.ErrorIs(err, device.ErrDeviceNotPaired)
		s.Equal(device.DeviceNotPaired, device.CodeOf(err))
		s.False(called)
		s.Zero(pi.ServiceLookups.Load(), "MUST fail before resolving metadata")
		s.Equal(int32(1), pi.Closes.Load())
	})

	s.Run("paired", func() {
		pi := testutils.NewFakePeripheral(piAddress).InHostCache().WithPairingStatus(device.Paired)
		c := pi.AddService(serviceUUID).Cached().AddCharacteristic(charUUID).Cached()
		adapter := testutils.NewFakeAdapter(pi)

		_, err := inspector.InspectCharacteristic(context.Background(), s.newResolver(adapter), piAddress, s.serviceID, s.charID,
			&inspector.InspectOptions{RequirePairing: true}, s.helper.Logger, nil,
			func(_ device.Device, char device.Characteristic) ([]byte, error) {
				return inspector.ReadValue(context.Background(), char, device.Cached)
			})

		s.Require().NoError(err)
		s.Equal(device.EncryptionAndAuthentication, c.ProtectionLevel(), "MUST raise the protection level before reading")
	})
}

func (s *InspectorTestSuite) TestUncachedSkipsLookups() {
	pi := testutils.NewFakePeripheral(piAddress).InHostCache()
	c := pi.AddService(serviceUUID).Cached().AddCharacteristic(charUUID).Cached().WithValue([]byte{0xFF, 0x01})
	adapter := testutils.NewFakeAdapter(pi)

	value, err := inspector.InspectCharacteristic(context.Background(), s.newResolver(adapter), piAddress, s.serviceID, s.charID,
		&inspector.InspectOptions{CacheMode: device.Uncached}, s.helper.Logger, nil,
		func(_ device.Device, char device.Characteristic) (string, error) {
			b, err := inspector.ReadValue(context.Background(), char, device.Uncached)
			return device.DecodeValue(b, false), err
		})

	s.Require().NoError(err)
	s.Equal("FF01", value, "non UTF-8 values MUST be rendered as hex")
	s.Zero(pi.ServiceLookups.Load(), "Uncached MUST NOT use the cached service lookup")
	s.Zero(c.Lookups.Load(), "Uncached MUST NOT use the cached characteristic lookup")
	s.Equal(device.Uncached, c.LastReadMode())
}

func (s *InspectorTestSuite) TestReadFailure() {
	pi := testutils.NewFakePeripheral(piAddress).InHostCache()
	c := pi.AddService(serviceUUID).Cached().AddCharacteristic(charUUID).Cached().
		FailingRead(device.NewProtocolError(0x05, nil))
	adapter := testutils.NewFakeAdapter(pi)

	_, err := inspector.InspectCharacteristic(context.Background(), s.newResolver(adapter), piAddress, s.serviceID, s.charID, nil, s.helper.Logger, nil,
		func(_ device.Device, char device.Characteristic) ([]byte, error) {
			return inspector.ReadValue(context.Background(), char, device.Cached)
		})

	s.Require().Error(err)
	s.ErrorIs(err, device.ErrCharacteristicReadFailed)
	s.ErrorContains(err, "InsufficientAuthentication")
	var gerr *device.GattError
	s.Require().ErrorAs(err, &gerr)
	s.Equal(device.GattProtocolError, gerr.Status)
	s.Equal(c.Opens.Load(), c.Closes.Load())
}

func (s *InspectorTestSuite) TestWriteFailure() {
	pi := testutils.NewFakePeripheral(piAddress).InHostCache()
	pi.AddService(serviceUUID).Cached().AddCharacteristic(charUUID).Cached().
		FailingWrite(&device.GattError{Status: device.GattUnreachable})
	adapter := testutils.NewFakeAdapter(pi)

	_, err := inspector.InspectCharacteristic(context.Background(), s.newResolver(adapter), piAddress, s.serviceID, s.charID, nil, s.helper.Logger, nil,
		func(_ device.Device, char device.Characteristic) (struct{}, error) {
			return struct{}{}, inspector.WriteValue(context.Background(), char, []byte("x"))
		})

	s.ErrorIs(err, device.ErrCharacteristicWriteFailed)
	s.Equal(device.CharacteristicWriteFailed, device.CodeOf(err))
	s.ErrorContains(err, "status Unreachable, protocol error unknown")
}

func (s *InspectorTestSuite) TestServiceNotFound() {
	pi := testutils.NewFakePeripheral(piAddress).InHostCache()
	adapter := testutils.NewFakeAdapter(pi)
	r := resolver.New(adapter, config.BluetoothOptions{
		MetadataRetrieveTimeout: 150 * time.Millisecond,
		MetadataPollingInterval: 50 * time.Millisecond,
	}, s.helper.Logger)

	var phases []string
	_, err := inspector.InspectCharacteristic(context.Background(), r, piAddress, s.serviceID, s.charID, nil, s.helper.Logger,
		func(p string) { phases = append(phases, p) },
		func(device.Device, device.Characteristic) (int, error) { return 0, nil })

	s.ErrorIs(err, device.ErrServiceNotFound)
	s.Equal(int32(1), pi.Closes.Load(), "device MUST be released on failure")
	s.NotContains(phases, "Resolving characteristic")
}

func (s *InspectorTestSuite) TestDeviceNotFound() {
	adapter := testutils.NewFakeAdapter()
	r := resolver.New(adapter, config.BluetoothOptions{DeviceDiscoveryTimeout: 50 * time.Millisecond}, s.helper.Logger)

	var phases []string
	_, err := inspector.InspectDevice(context.Background(), r, piAddress, nil, s.helper.Logger,
		func(p string) { phases = append(phases, p) },
		func(device.Device) (int, error) { return 0, nil })

	s.ErrorIs(err, device.ErrDeviceNotFound)
	s.Equal([]string{"Connecting", "Failed"}, phases)
}

func (s *InspectorTestSuite) TestCallbackErrorReleasesDevice() {
	pi := testutils.NewFakePeripheral(piAddress).InHostCache()
	adapter := testutils.NewFakeAdapter(pi)
	boom := errors.New("boom")

	_, err := inspector.InspectDevice(context.Background(), s.newResolver(adapter), piAddress, nil, s.helper.Logger, nil,
		func(device.Device) (int, error) { return 0, boom })

	s.ErrorIs(err, boom)
	s.Equal(int32(1), pi.Closes.Load())
}

func (s *InspectorTestSuite) TestListServices() {
	pi := testutils.NewFakePeripheral(piAddress).InHostCache()
	battery := pi.AddService("180f")
	battery.AddCharacteristic("2a19").WithProperties(device.PropRead | device.PropNotify)
	custom := pi.AddService(serviceUUID)
	custom.AddCharacteristic(charUUID)
	adapter := testutils.NewFakeAdapter(pi)

	services, err := inspector.InspectDevice(context.Background(), s.newResolver(adapter), piAddress, nil, s.helper.Logger, nil,
		func(dev device.Device) ([]inspector.ServiceInfo, error) {
			return inspector.ListServices(context.Background(), dev, device.Cached, s.helper.Logger)
		})

	s.Require().NoError(err)
	s.Require().Len(services, 2)
	s.Equal("Service 180f\n  Characteristic 2a19 [Read, Notify]", services[0].String())
	s.Equal("Service "+serviceUUID+"\n  Characteristic "+charUUID+" [Read, Write]", services[1].String())

	for _, svc := range []*testutils.FakeService{battery, custom} {
		s.Equal(svc.Opens.Load(), svc.Closes.Load(), "listed services MUST be released")
		for _, c := range svc.CharList {
			s.Equal(c.Opens.Load(), c.Closes.Load(), "listed characteristics MUST be released")
		}
	}
}

func (s *InspectorTestSuite) TestListServicesFailure() {
	pi := testutils.NewFakePeripheral(piAddress).InHostCache()
	svc := pi.AddService(serviceUUID).VisibleFromPoll(5)
	svc.EnumerateErr = errors.New("gatt database not ready")
	adapter := testutils.NewFakeAdapter(pi)

	_, err := inspector.InspectDevice(context.Background(), s.newResolver(adapter), piAddress, nil, s.helper.Logger, nil,
		func(dev device.Device) ([]inspector.ServiceInfo, error) {
			return inspector.ListServices(context.Background(), dev, device.Cached, s.helper.Logger)
		})

	s.ErrorIs(err, device.ErrListServicesFailed)
	s.Equal(device.ListServicesFailed, device.CodeOf(err))
}

func TestInspectorTestSuite(t *testing.T) {
	suite.Run(t, new(InspectorTestSuite))
}
