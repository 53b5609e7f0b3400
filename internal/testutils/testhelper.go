package testutils

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
// Log output is shown only with `go test -v`.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if !testing.Verbose() {
		logger.SetOutput(io.Discard)
	}
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// NewFakeAdapterFromJSON builds a FakeAdapter from a JSON array of peripherals.
// It fails the test on malformed JSON.
func (h *TestHelper) NewFakeAdapterFromJSON(jsonStrFmt string, args ...any) (*FakeAdapter, []*FakePeripheral) {
	h.T.Helper()
	peripherals, err := FakePeripheralsFromJSON(jsonStrFmt, args...)
	if err != nil {
		h.T.Fatalf("invalid fake peripheral JSON: %v", err)
	}
	return NewFakeAdapter(peripherals...), peripherals
}
