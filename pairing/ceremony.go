package pairing

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/bletools/internal/device"
)

// AutoAccept returns a handler that accepts every ceremony by echoing the PIN
// the platform supplied. It never waits for interactive confirmation.
// The confirmation notice is logged at warn so it shows at the default level.
func AutoAccept(log logrus.FieldLogger) device.CeremonyHandler {
	return func(req device.CeremonyRequest) {
		req.Accept(req.Pin())

		name := req.DeviceName()
		if name == "" {
			name = "the device"
		}
		log.WithField("kind", req.Kind().String()).
			Warnf("Please confirm pairing on %s. Pairing accepted on this device (%s).", name, req.Kind())
	}
}
