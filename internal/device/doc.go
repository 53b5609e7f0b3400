// Package device defines the Bluetooth capability surface the resolvers, the
// scanner and the pairing orchestrator are written against.
//
// A backend (BlueZ over D-Bus, go-ble over HCI, or the in-memory fake used by
// tests) provides:
//   - address-based device lookup and watcher-based discovery
//   - GATT topology enumeration under a cache mode
//   - characteristic read/write
//   - pairing ceremonies and unpairing
//
// Every Device, Service and Characteristic handed out by a backend holds a
// platform resource and must be closed exactly once by its owner.
//
// The package also carries the error taxonomy shared by all commands; each
// error kind maps to a process exit code (ResultCode).
package device
