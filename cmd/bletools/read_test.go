package main

import (
	"errors"
	"testing"
	"time"

	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	testServiceUUID = "00000000-f813-4ae9-9174-6efbee940ae2"
	testCharUUID    = "00000001-f813-4ae9-9174-6efbee940ae2"
)

// ReadTestSuite covers read, write and list, which share the GATT target flags.
type ReadTestSuite struct {
	CommandTestSuite

	peripheral *testutils.FakePeripheral
	char       *testutils.FakeCharacteristic
}

func (s *ReadTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()

	s.peripheral = testutils.NewFakePeripheral(TestDeviceAddress1).WithName("Pi").AdvertisingAfter(20 * time.Millisecond)
	s.char = s.peripheral.AddService(testServiceUUID).VisibleFromPoll(2).
		AddCharacteristic(testCharUUID).WithProperties(device.PropRead | device.PropWrite).WithValue([]byte("hello"))
	s.UseAdapter(testutils.NewFakeAdapter(s.peripheral))
}

func (s *ReadTestSuite) TestReadDiscoversDeviceAndPollsForService() {
	// GOAL: Verify read resolves an uncached device and a service that appears on a later poll
	//
	// TEST SCENARIO: Device not cached → discovered → service listed on 2nd enumeration → value printed as text

	out, _, err := s.ExecuteCommand("read", TestDeviceAddress1, "-s", testServiceUUID, "-c", testCharUUID)
	s.Require().NoError(err)

	s.Equal("hello\n", out)
	s.Equal(device.Cached, s.char.LastReadMode(), "read MUST use the host cache by default")
	s.Equal(int32(1), s.Adapter.WatchersStarted.Load(), "uncached device MUST be discovered with a watcher")
	s.Equal(s.peripheral.Opens.Load(), s.peripheral.Closes.Load(), "device handle MUST be released")
	s.Equal(s.char.Opens.Load(), s.char.Closes.Load(), "characteristic handles MUST be released")
}

func (s *ReadTestSuite) TestReadUncachedHex() {
	// GOAL: Verify --uncached and --hex reach the characteristic and the output
	//
	// TEST SCENARIO: read -u --hex → value read uncached, printed as uppercase hex

	out, _, err := s.ExecuteCommand("read", TestDeviceAddress1, "--service", testServiceUUID, "--characteristic", testCharUUID, "-u", "--hex")
	s.Require().NoError(err)

	s.Equal("68656C6C6F\n", out)
	s.Equal(device.Uncached, s.char.LastReadMode(), "--uncached MUST bypass the value cache")
	s.Zero(s.peripheral.ServiceLookups.Load(), "uncached resolution MUST NOT use the cached lookup")
}

func (s *ReadTestSuite) TestReadRequirePairing() {
	// GOAL: Verify --require-pairing rejects unpaired devices and raises the link level otherwise
	//
	// TEST SCENARIO: Unpaired → DeviceNotPaired; paired → read at EncryptionAndAuthentication

	_, _, err := s.ExecuteCommand("read", TestDeviceAddress1, "-s", testServiceUUID, "-c", testCharUUID, "-p")
	s.RequireCode(err, device.DeviceNotPaired)
	s.Zero(s.char.Reads.Load(), "unpaired device MUST NOT be read")

	s.peripheral.WithPairingStatus(device.Paired)
	out, _, err := s.ExecuteCommand("read", TestDeviceAddress1, "-s", testServiceUUID, "-c", testCharUUID, "-p")
	s.Require().NoError(err)
	s.Equal("hello\n", out)
	s.Equal(device.EncryptionAndAuthentication, s.char.ProtectionLevel())
}

func (s *ReadTestSuite) TestReadErrors() {
	// GOAL: Verify each failure maps to its exit code
	//
	// TEST SCENARIO: bad flags, unknown service, failing read → InvalidArgument, ServiceNotFound, CharacteristicReadFailed

	_, _, err := s.ExecuteCommand("read", TestDeviceAddress1, "-s", testServiceUUID)
	s.RequireCode(err, device.InvalidArgument)

	_, _, err = s.ExecuteCommand("read", TestDeviceAddress1, "-s", "xyz", "-c", testCharUUID)
	s.RequireCode(err, device.InvalidArgument)

	_, _, err = s.ExecuteCommand("read", "DC:A6:32:60:C9:56:77", "-s", testServiceUUID, "-c", testCharUUID)
	s.RequireCode(err, device.InvalidArgument)
	s.Zero(s.AdapterOpens, "adapter MUST NOT be opened for invalid arguments")

	_, _, err = s.ExecuteCommand("read", TestDeviceAddress1, "-s", "180f", "-c", "2a19")
	s.RequireCode(err, device.ServiceNotFound)

	s.char.FailingRead(&device.GattError{Status: device.GattAccessDenied})
	_, _, err = s.ExecuteCommand("read", TestDeviceAddress1, "-s", testServiceUUID, "-c", testCharUUID)
	s.RequireCode(err, device.CharacteristicReadFailed)
}

func (s *ReadTestSuite) TestWrite() {
	// GOAL: Verify write sends the encoded value and reports success
	//
	// TEST SCENARIO: write "on" → bytes written; write --hex FF01 → raw bytes written

	out, _, err := s.ExecuteCommand("write", TestDeviceAddress1, "on", "-s", testServiceUUID, "-c", testCharUUID)
	s.Require().NoError(err)
	s.Equal("Write successful (2 bytes)\n", out)

	_, _, err = s.ExecuteCommand("write", TestDeviceAddress1, "FF01", "-s", testServiceUUID, "-c", testCharUUID, "--hex")
	s.Require().NoError(err)

	s.Equal([][]byte{[]byte("on"), {0xFF, 0x01}}, s.char.Writes())
}

func (s *ReadTestSuite) TestWriteErrors() {
	// GOAL: Verify write failures map to their exit codes
	//
	// TEST SCENARIO: invalid hex → InvalidArgument before opening; platform failure → CharacteristicWriteFailed

	_, _, err := s.ExecuteCommand("write", TestDeviceAddress1, "FZ", "-s", testServiceUUID, "-c", testCharUUID, "--hex")
	s.RequireCode(err, device.InvalidArgument)
	s.Zero(s.AdapterOpens, "adapter MUST NOT be opened for invalid values")

	s.char.FailingWrite(errors.New("link lost"))
	_, _, err = s.ExecuteCommand("write", TestDeviceAddress1, "on", "-s", testServiceUUID, "-c", testCharUUID)
	s.RequireCode(err, device.CharacteristicWriteFailed)
	s.Empty(s.char.Writes())
}

func (s *ReadTestSuite) TestList() {
	// GOAL: Verify list prints services and characteristics in exposure order
	//
	// TEST SCENARIO: Device with a custom and a battery service → both listed with properties

	s.peripheral.Service(testServiceUUID).VisibleFrom = 0
	battery := s.peripheral.AddService("180f")
	battery.AddCharacteristic("2a19").WithProperties(device.PropRead | device.PropNotify)

	out, _, err := s.ExecuteCommand("list", TestDeviceAddress1)
	s.Require().NoError(err)

	expected := `Service 00000000-f813-4ae9-9174-6efbee940ae2
  Characteristic 00000001-f813-4ae9-9174-6efbee940ae2 [Read, Write]
Service 180f
  Characteristic 2a19 [Read, Notify]
`
	testutils.NewTextAsserter(s.T()).Assert(out, expected)
	s.Equal(battery.Opens.Load(), battery.Closes.Load(), "listed services MUST be released")
}

func (s *ReadTestSuite) TestListJSON() {
	// GOAL: Verify --json renders the listing as a document keyed by service
	//
	// TEST SCENARIO: Device with a custom and a battery service → JSON with address, name and properties

	s.peripheral.Service(testServiceUUID).VisibleFrom = 0
	s.peripheral.AddService("180f").AddCharacteristic("2a19").WithProperties(device.PropRead | device.PropNotify)

	out, _, err := s.ExecuteCommand("list", TestDeviceAddress1, "--json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T(), testutils.WithIgnoreExtraKeys(false)).Assert(out, `{
		"address": "DC:A6:32:60:C9:56",
		"name": "Pi",
		"services": {
			"00000000-f813-4ae9-9174-6efbee940ae2": [
				{"uuid": "00000001-f813-4ae9-9174-6efbee940ae2", "properties": ["Read", "Write"]}
			],
			"180f": [
				{"uuid": "2a19", "properties": ["Read", "Notify"]}
			]
		}
	}`)
}

func (s *ReadTestSuite) TestListEmptyAndUnknownDevice() {
	// GOAL: Verify list handles devices without services and unknown devices
	//
	// TEST SCENARIO: Device with no services → "No services found"; unknown address → DeviceNotFound

	s.UseAdapter(testutils.NewFakeAdapter(testutils.NewFakePeripheral(TestDeviceAddress2).InHostCache()))

	out, _, err := s.ExecuteCommand("list", TestDeviceAddress2)
	s.Require().NoError(err)
	s.Equal("No services found\n", out)

	_, _, err = s.ExecuteCommand("list", TestDeviceAddress1)
	s.RequireCode(err, device.DeviceNotFound)
}

func TestReadTestSuite(t *testing.T) {
	suite.Run(t, new(ReadTestSuite))
}
