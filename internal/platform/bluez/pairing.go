package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/srg/bletools/internal/device"
)

// registerAgent exports the pairing agent and makes it the default agent,
// once per adapter.
func (a *Adapter) registerAgent(ctx context.Context) error {
	a.agentOnce.Do(func() {
		if err := a.conn.Export(a.agent, agentPath, agentIface); err != nil {
			a.agentErr = fmt.Errorf("failed to export pairing agent: %w", err)
			return
		}

		manager := a.conn.Object(bluezService, "/org/bluez")
		err := manager.CallWithContext(ctx, agentManagerIface+".RegisterAgent", 0, agentPath, agentCapability).Err
		if err != nil && errorName(err) != errAlreadyExists {
			a.agentErr = fmt.Errorf("failed to register pairing agent: %w", NormalizeError(err))
			return
		}
		if err := manager.CallWithContext(ctx, agentManagerIface+".RequestDefaultAgent", 0, agentPath).Err; err != nil {
			a.logger.WithError(err).Debug("Pairing agent is not the default agent")
		}
		a.agentRegistered = true
		a.logger.WithField("capability", agentCapability).Debug("Pairing agent registered")
	})
	return a.agentErr
}

func (a *Adapter) unregisterAgent() {
	if !a.agentRegistered {
		return
	}
	manager := a.conn.Object(bluezService, "/org/bluez")
	if err := manager.Call(agentManagerIface+".UnregisterAgent", 0, agentPath).Err; err != nil {
		a.logger.WithError(err).Debug("Failed to unregister pairing agent")
	}
	_ = a.conn.Export(nil, agentPath, agentIface)
	a.agentRegistered = false
}

type bluezPairing struct {
	dev *bluezDevice
}

func (p *bluezPairing) Status() device.PairingStatus {
	ctx, cancel := context.WithTimeout(context.Background(), p.dev.adapter.opts.FastConnectTimeout)
	defer cancel()
	props, err := p.dev.refresh(ctx)
	if err != nil {
		p.dev.log().WithError(err).Debug("Failed to refresh device properties")
		props = p.dev.props
	}
	return pairingStatus(props)
}

func (p *bluezPairing) OnPairingRequested(handler device.CeremonyHandler) func() {
	return p.dev.adapter.agent.install(p.dev.path, handler)
}

// Pair runs Device1.Pair with the agent answering the ceremony. A paired
// device is marked Trusted so BlueZ reconnects it without asking again.
func (p *bluezPairing) Pair(ctx context.Context, kinds device.PairingKinds, level device.ProtectionLevel) (device.PairingResult, error) {
	a := p.dev.adapter
	if err := a.registerAgent(ctx); err != nil {
		return device.PairingResult{Status: device.PairingFailed}, err
	}
	a.agent.begin(p.dev.path, kinds, p.dev.Name())

	log := p.dev.log().WithField("protection_level", level.String())
	log.Debug("Pairing...")
	if err := p.dev.object().CallWithContext(ctx, deviceIface+".Pair", 0).Err; err != nil {
		if ctx.Err() != nil {
			return device.PairingResult{Status: device.PairingCanceled}, ctx.Err()
		}
		status := pairingStatusOf(err)
		log.WithError(err).WithField("status", status.String()).Debug("Pairing failed")
		return device.PairingResult{Status: status}, nil
	}

	err := p.dev.object().CallWithContext(ctx, propertiesIface+".Set", 0, deviceIface, "Trusted", dbus.MakeVariant(true)).Err
	if err != nil {
		log.WithError(err).Warn("Failed to mark device as trusted")
	}

	return device.PairingResult{
		Status:          device.PairingPaired,
		ProtectionLevel: achievedLevel(a.agent.performed(p.dev.path)),
	}, nil
}

// achievedLevel infers link security from the ceremony: anything involving
// a PIN is authenticated, Just Works and plain confirmation are not.
func achievedLevel(performed device.PairingKinds) device.ProtectionLevel {
	switch performed {
	case device.ProvidePin, device.ConfirmPinMatch, device.DisplayPin:
		return device.EncryptionAndAuthentication
	default:
		return device.Encryption
	}
}

// Unpair removes the device and its bonding keys from the adapter.
func (p *bluezPairing) Unpair(ctx context.Context) (device.UnpairingResult, error) {
	a := p.dev.adapter
	err := a.object(a.path).CallWithContext(ctx, adapterIface+".RemoveDevice", 0, p.dev.path).Err
	if err != nil {
		if ctx.Err() != nil {
			return device.UnpairingResult{Status: device.UnpairingFailed}, ctx.Err()
		}
		status := unpairingStatusOf(err)
		p.dev.log().WithError(err).WithField("status", status.String()).Debug("Unpairing failed")
		return device.UnpairingResult{Status: status}, nil
	}
	return device.UnpairingResult{Status: device.UnpairingUnpaired}, nil
}
