package testutils

import (
	"github.com/srg/bletools/internal/device"
	"github.com/stretchr/testify/mock"
)

// CeremonyRecorder records ceremony requests as mock calls of
// Handle(kind, pin, deviceName) before passing them on.
type CeremonyRecorder struct {
	mock.Mock
}

// Handle records req.
func (r *CeremonyRecorder) Handle(req device.CeremonyRequest) {
	r.Called(req.Kind(), req.Pin(), req.DeviceName())
}

// Wrap returns a handler recording each request and then calling next.
func (r *CeremonyRecorder) Wrap(next device.CeremonyHandler) device.CeremonyHandler {
	return func(req device.CeremonyRequest) {
		r.Handle(req)
		if next != nil {
			next(req)
		}
	}
}
