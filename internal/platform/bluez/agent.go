package bluez

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/device"
)

// legacyPin is offered for BR/EDR legacy PIN requests, where the host has
// to make up the code. Most headless peripherals expect 0000.
const legacyPin = "0000"

// agent implements org.bluez.Agent1. BlueZ calls it during Device1.Pair;
// each request is forwarded to the ceremony handler installed for the
// device being paired and is rejected when there is none.
type agent struct {
	logger *logrus.Logger

	mu       sync.Mutex
	sessions map[dbus.ObjectPath]*session
}

// session is the pairing context of one device.
type session struct {
	handler device.CeremonyHandler
	kinds   device.PairingKinds
	name    string
	// performed is the ceremony that was accepted, if any.
	performed device.PairingKinds
}

func newAgent(logger *logrus.Logger) *agent {
	return &agent{logger: logger, sessions: make(map[dbus.ObjectPath]*session)}
}

// install sets the handler for path and returns its removal.
func (a *agent) install(path dbus.ObjectPath, handler device.CeremonyHandler) func() {
	s := &session{handler: handler, kinds: device.AllPairingKinds}
	a.mu.Lock()
	a.sessions[path] = s
	a.mu.Unlock()

	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.sessions[path] == s {
			delete(a.sessions, path)
		}
	}
}

// begin prepares the session of path for a Pair call.
func (a *agent) begin(path dbus.ObjectPath, kinds device.PairingKinds, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[path]; ok {
		s.kinds = kinds
		s.name = name
		s.performed = 0
	}
}

// performed returns the ceremony accepted for path during the last Pair.
func (a *agent) performed(path dbus.ObjectPath) device.PairingKinds {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[path]; ok {
		return s.performed
	}
	return 0
}

func rejected() *dbus.Error {
	return dbus.NewError(errRejected, nil)
}

// ask runs the handler for one ceremony and returns the accepted PIN.
func (a *agent) ask(path dbus.ObjectPath, kind device.PairingKinds, pin string) (string, *dbus.Error) {
	a.mu.Lock()
	s, ok := a.sessions[path]
	a.mu.Unlock()

	log := a.logger.WithFields(logrus.Fields{"device": string(path), "kind": kind.String()})
	if !ok || s.handler == nil {
		log.Debug("No ceremony handler installed, rejecting")
		return "", rejected()
	}
	if !s.kinds.Has(kind) {
		log.Debug("Ceremony kind not requested, rejecting")
		return "", rejected()
	}

	req := &ceremonyRequest{kind: kind, pin: pin, name: s.name}
	s.handler(req)
	if !req.accepted {
		log.Debug("Ceremony declined by handler")
		return "", rejected()
	}

	a.mu.Lock()
	s.performed = kind
	a.mu.Unlock()
	return req.answer, nil
}

// Agent1 methods, called by BlueZ over D-Bus.

func (a *agent) Release() *dbus.Error {
	a.logger.Debug("Pairing agent released by BlueZ")
	return nil
}

func (a *agent) RequestPinCode(path dbus.ObjectPath) (string, *dbus.Error) {
	return a.ask(path, device.ProvidePin, legacyPin)
}

func (a *agent) DisplayPinCode(path dbus.ObjectPath, pincode string) *dbus.Error {
	_, err := a.ask(path, device.DisplayPin, pincode)
	return err
}

func (a *agent) RequestPasskey(path dbus.ObjectPath) (uint32, *dbus.Error) {
	pin, err := a.ask(path, device.ProvidePin, "")
	if err != nil {
		return 0, err
	}
	v, perr := strconv.ParseUint(pin, 10, 32)
	if perr != nil || v > 999999 {
		a.logger.WithField("pin", pin).Debug("Passkey is not a 6-digit number, rejecting")
		return 0, rejected()
	}
	return uint32(v), nil
}

// DisplayPasskey is repeated with a growing entered count while the user
// types; only the first call is a ceremony.
func (a *agent) DisplayPasskey(path dbus.ObjectPath, passkey uint32, entered uint16) *dbus.Error {
	if entered > 0 {
		return nil
	}
	_, err := a.ask(path, device.DisplayPin, formatPasskey(passkey))
	return err
}

func (a *agent) RequestConfirmation(path dbus.ObjectPath, passkey uint32) *dbus.Error {
	_, err := a.ask(path, device.ConfirmPinMatch, formatPasskey(passkey))
	return err
}

func (a *agent) RequestAuthorization(path dbus.ObjectPath) *dbus.Error {
	_, err := a.ask(path, device.ConfirmOnly, "")
	return err
}

func (a *agent) AuthorizeService(path dbus.ObjectPath, uuid string) *dbus.Error {
	a.logger.WithFields(logrus.Fields{"device": string(path), "service": uuid}).Debug("Service authorized")
	return nil
}

func (a *agent) Cancel() *dbus.Error {
	a.logger.Debug("Pairing request cancelled by BlueZ")
	return nil
}

func formatPasskey(v uint32) string {
	return fmt.Sprintf("%06d", v)
}

// ceremonyRequest is the device.CeremonyRequest handed to handlers.
type ceremonyRequest struct {
	kind     device.PairingKinds
	pin      string
	name     string
	accepted bool
	answer   string
}

func (r *ceremonyRequest) Kind() device.PairingKinds { return r.kind }
func (r *ceremonyRequest) Pin() string               { return r.pin }
func (r *ceremonyRequest) DeviceName() string        { return r.name }

func (r *ceremonyRequest) Accept(pin string) {
	r.accepted = true
	r.answer = pin
}
