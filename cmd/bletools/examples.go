package main

const (
	exampleDeviceAddress = "DC:A6:32:60:C9:56"
	deviceAddressNote    = "Device address format: 48-bit MAC, colon separated, case-insensitive\n  Shorter addresses are zero-padded on the left: 32:60:C9:56 is 00:00:32:60:C9:56\n  Use 'bletools scan' to discover devices"
	uuidNote             = deviceAddressNote + "\n\nUUID format: full 128-bit form or a 16/32-bit Bluetooth SIG short form (2a19, 0000180f)"
)
