// Package pairing drives the pair and unpair ceremonies of a single device.
//
// An Orchestrator resolves the device, inspects its host-side pairing status
// and either short-circuits or runs the platform ceremony with an automatic
// handler. A forced pair first unpairs, releases the stale handle and resolves
// a fresh one, since platforms cache GATT state on the old connection.
package pairing

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/resolver"
)

// State is a step of the pairing state machine.
type State int

const (
	Unpaired State = iota
	Paired
	Pairing
	Unpairing
	// Failed is terminal.
	Failed
)

var stateNames = [...]string{"Unpaired", "Paired", "Pairing", "Unpairing", "Failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// RequestedKinds are the ceremony kinds offered on every Pair call.
const RequestedKinds = device.AllPairingKinds

// RequestedLevel is the protection level requested on every Pair call.
const RequestedLevel = device.EncryptionAndAuthentication

// DeviceResolver resolves a device address to a live handle owned by the caller.
type DeviceResolver interface {
	ResolveDevice(ctx context.Context, address string) (device.Device, error)
}

// Result describes a completed Pair or Unpair.
type Result struct {
	// DeviceName is the display name of the device handle used last.
	DeviceName      string
	AlreadyPaired   bool
	AlreadyUnpaired bool
	// ProtectionLevel is the level the platform reports for a new pairing.
	ProtectionLevel device.ProtectionLevel
}

// Orchestrator runs pair and unpair requests. It holds no per-device state
// between calls and is safe to reuse sequentially.
type Orchestrator struct {
	resolver DeviceResolver
	logger   *logrus.Logger

	// Handler answers ceremony requests; AutoAccept when nil.
	Handler device.CeremonyHandler
	// OnStateChange, when set, observes every transition.
	OnStateChange func(from, to State)
}

// NewOrchestrator creates an Orchestrator resolving devices with r.
func NewOrchestrator(r DeviceResolver, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	return &Orchestrator{resolver: r, logger: logger}
}

// machine tracks the state of one request.
type machine struct {
	state State
	log   *logrus.Entry
	hook  func(from, to State)
}

func (m *machine) to(next State) {
	if m.state == Failed || m.state == next {
		return
	}
	prev := m.state
	m.state = next
	m.log.WithFields(logrus.Fields{"from": prev.String(), "to": next.String()}).Debug("Pairing state changed")
	if m.hook != nil {
		m.hook(prev, next)
	}
}

func (m *machine) fail(err error) error {
	m.to(Failed)
	return err
}

func initialState(s device.PairingStatus) State {
	if s == device.Paired {
		return Paired
	}
	return Unpaired
}

// Pair pairs with the device at address. A device that is already paired is
// left untouched unless force is set, in which case it is unpaired and paired
// again over a freshly resolved handle.
func (o *Orchestrator) Pair(ctx context.Context, address string, force bool) (Result, error) {
	log := o.logger.WithFields(logrus.Fields{"address": address, "force": force})

	dev, err := o.resolver.ResolveDevice(ctx, address)
	if err != nil {
		return Result{}, err
	}
	// dev is swapped during a forced re-pair; the deferred release sees the latest handle.
	defer func() {
		if dev != nil {
			resolver.Release(log, dev, "device")
		}
	}()

	status := dev.Pairing().Status()
	if status == device.CannotPair {
		return Result{DeviceName: device.DeviceDisplayName(dev)},
			device.Errorf(device.NotSupported, "device %s cannot be paired", device.DeviceDisplayName(dev))
	}

	m := &machine{state: initialState(status), log: log, hook: o.OnStateChange}

	if m.state == Paired {
		if !force {
			log.Info("Device already paired")
			return Result{DeviceName: device.DeviceDisplayName(dev), AlreadyPaired: true}, nil
		}

		m.to(Unpairing)
		if err := unpair(ctx, dev); err != nil {
			return Result{DeviceName: device.DeviceDisplayName(dev)}, m.fail(fmt.Errorf("forced re-pair of %s: %w", device.DeviceDisplayName(dev), err))
		}
		m.to(Unpaired)

		// Re-resolve so the ceremony runs on a connection without stale bonding state.
		resolver.Release(log, dev, "device")
		dev = nil
		if dev, err = o.resolver.ResolveDevice(ctx, address); err != nil {
			return Result{}, m.fail(err)
		}
	}

	handler := o.Handler
	if handler == nil {
		handler = AutoAccept(log)
	}

	m.to(Pairing)
	res, err := pair(ctx, dev, handler)
	if err != nil {
		return Result{DeviceName: device.DeviceDisplayName(dev)}, m.fail(err)
	}
	m.to(Paired)

	log.WithField("protection_level", res.ProtectionLevel.String()).Info("Device paired")
	return Result{DeviceName: device.DeviceDisplayName(dev), ProtectionLevel: res.ProtectionLevel}, nil
}

// Unpair removes the pairing with the device at address. A device that is
// not paired is left untouched.
func (o *Orchestrator) Unpair(ctx context.Context, address string) (Result, error) {
	log := o.logger.WithField("address", address)

	dev, err := o.resolver.ResolveDevice(ctx, address)
	if err != nil {
		return Result{}, err
	}
	defer resolver.Release(log, dev, "device")

	name := device.DeviceDisplayName(dev)
	status := dev.Pairing().Status()
	if status == device.CannotPair {
		return Result{DeviceName: name}, device.Errorf(device.NotSupported, "device %s cannot be paired", name)
	}

	m := &machine{state: initialState(status), log: log, hook: o.OnStateChange}
	if m.state == Unpaired {
		log.Info("Device not paired")
		return Result{DeviceName: name, AlreadyUnpaired: true}, nil
	}

	m.to(Unpairing)
	if err := unpair(ctx, dev); err != nil {
		return Result{DeviceName: name}, m.fail(err)
	}
	m.to(Unpaired)

	log.Info("Device unpaired")
	return Result{DeviceName: name}, nil
}

// pair runs the platform ceremony with handler installed for its duration.
func pair(ctx context.Context, dev device.Device, handler device.CeremonyHandler) (device.PairingResult, error) {
	p := dev.Pairing()

	unregister := p.OnPairingRequested(handler)
	defer unregister()

	res, err := p.Pair(ctx, RequestedKinds, RequestedLevel)
	if err != nil {
		return res, classify(err, device.DevicePairingFailed, "pairing with %s failed", device.DeviceDisplayName(dev))
	}
	if res.Status != device.PairingPaired {
		return res, &device.PairingError{Status: res.Status, ProtectionLevel: res.ProtectionLevel}
	}
	return res, nil
}

func unpair(ctx context.Context, dev device.Device) error {
	res, err := dev.Pairing().Unpair(ctx)
	if err != nil {
		return classify(err, device.DeviceUnpairingFailed, "unpairing %s failed", device.DeviceDisplayName(dev))
	}
	if res.Status != device.UnpairingUnpaired {
		return &device.UnpairingError{Status: res.Status}
	}
	return nil
}

// classify keeps errors that already carry a result code and wraps the rest with code.
func classify(err error, code device.ResultCode, format string, args ...any) error {
	var coded interface{ ResultCode() device.ResultCode }
	if errors.As(err, &coded) || errors.Is(err, context.Canceled) {
		return err
	}
	return device.Wrap(code, err, format, args...)
}
