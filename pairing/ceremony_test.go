package pairing_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/srg/bletools/internal/device"
	"github.com/srg/bletools/pairing"
	"github.com/srg/bletools/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ceremonyRequest struct {
	kind     device.PairingKinds
	pin      string
	name     string
	accepted *string
}

func (r ceremonyRequest) Kind() device.PairingKinds { return r.kind }
func (r ceremonyRequest) Pin() string               { return r.pin }
func (r ceremonyRequest) DeviceName() string        { return r.name }
func (r ceremonyRequest) Accept(pin string)         { *r.accepted = pin }

func TestAutoAcceptNoticeVisibleAtDefaultLevel(t *testing.T) {
	// GOAL: Verify the confirmation notice is emitted at the default log level
	//
	// TEST SCENARIO: Logger at the configured default level → PIN echoed, notice logged at warn

	logger, hook := test.NewNullLogger()
	level, err := logrus.ParseLevel(config.DefaultConfig().LogLevel)
	require.NoError(t, err)
	logger.SetLevel(level)

	var accepted string
	pairing.AutoAccept(logger)(ceremonyRequest{kind: device.DisplayPin, pin: "123456", name: "Sensor", accepted: &accepted})

	assert.Equal(t, "123456", accepted, "handler MUST echo the platform PIN")
	require.Len(t, hook.AllEntries(), 1, "notice MUST NOT be filtered at the default level")
	entry := hook.LastEntry()
	assert.Equal(t, logrus.WarnLevel, entry.Level)
	assert.Equal(t, "Please confirm pairing on Sensor. Pairing accepted on this device ("+device.DisplayPin.String()+").", entry.Message)
}

func TestAutoAcceptUnnamedDevice(t *testing.T) {
	logger, hook := test.NewNullLogger()

	var accepted string
	pairing.AutoAccept(logger)(ceremonyRequest{kind: device.ConfirmOnly, accepted: &accepted})

	assert.Empty(t, accepted)
	require.NotNil(t, hook.LastEntry())
	assert.Contains(t, hook.LastEntry().Message, "Please confirm pairing on the device.")
	assert.Equal(t, device.ConfirmOnly.String(), hook.LastEntry().Data["kind"])
}
