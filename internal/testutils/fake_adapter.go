package testutils

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/bletools/internal/address"
	"github.com/srg/bletools/internal/device"
)

// FakeAdapter is an in-memory device.Adapter serving FakePeripherals.
// It counts every capability call and keeps an ordered event log.
type FakeAdapter struct {
	FromAddressCalls atomic.Int32
	FromIDCalls      atomic.Int32
	WatchersCreated  atomic.Int32
	WatchersStarted  atomic.Int32
	WatchersStopped  atomic.Int32
	Closed           atomic.Bool

	// FromAddressErr is returned by every FromAddress call when set.
	FromAddressErr error
	// WatcherStartErr is returned by every Watcher.Start when set.
	WatcherStartErr error
	// ManualAdvertising stops started watchers from reporting peripherals on
	// their own; tests then drive them through Watchers().
	ManualAdvertising bool

	mu          sync.Mutex
	peripherals []*FakePeripheral
	watchers    []*FakeWatcher
	events      []string
}

// NewFakeAdapter creates an adapter serving peripherals.
func NewFakeAdapter(peripherals ...*FakePeripheral) *FakeAdapter {
	a := &FakeAdapter{}
	for _, p := range peripherals {
		a.Add(p)
	}
	return a
}

// Add registers another peripheral.
func (a *FakeAdapter) Add(p *FakePeripheral) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p.adapter = a
	a.peripherals = append(a.peripherals, p)
}

// Events returns the event log, e.g. "open fake:…", "unpair fake:…", "watcher start".
func (a *FakeAdapter) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.events...)
}

// Watchers returns every watcher created so far.
func (a *FakeAdapter) Watchers() []*FakeWatcher {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*FakeWatcher(nil), a.watchers...)
}

func (a *FakeAdapter) record(event string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.events = append(a.events, event)
	a.mu.Unlock()
}

func (a *FakeAdapter) snapshot() []*FakePeripheral {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*FakePeripheral(nil), a.peripherals...)
}

func (a *FakeAdapter) open(p *FakePeripheral) device.Device {
	p.Opens.Add(1)
	a.record("open " + p.DeviceID)
	return &fakeDevice{p: p}
}

func (a *FakeAdapter) FromAddress(_ context.Context, addr address.Address) (device.Device, error) {
	a.FromAddressCalls.Add(1)
	a.record("from address " + addr.String())
	if a.FromAddressErr != nil {
		return nil, a.FromAddressErr
	}
	for _, p := range a.snapshot() {
		if p.Addr == addr && p.Cached {
			return a.open(p), nil
		}
	}
	return nil, nil
}

func (a *FakeAdapter) FromID(_ context.Context, id string) (device.Device, error) {
	a.FromIDCalls.Add(1)
	a.record("from id " + id)
	for _, p := range a.snapshot() {
		if p.DeviceID == id {
			if p.OpenFails {
				return nil, nil
			}
			return a.open(p), nil
		}
	}
	return nil, nil
}

func (a *FakeAdapter) NewWatcher(selector device.WatchSelector) (device.Watcher, error) {
	a.WatchersCreated.Add(1)
	w := &FakeWatcher{adapter: a, Selector: selector, stop: make(chan struct{})}
	a.mu.Lock()
	a.watchers = append(a.watchers, w)
	a.mu.Unlock()
	return w, nil
}

func (a *FakeAdapter) Close() error {
	a.Closed.Store(true)
	return nil
}

// FakeWatcher replays advertisements of matching peripherals after Start.
type FakeWatcher struct {
	Selector device.WatchSelector

	adapter  *FakeAdapter
	mu       sync.Mutex
	added    func(device.DeviceInfo)
	updated  func(device.DeviceInfo)
	started  bool
	stopped  bool
	stop     chan struct{}
	wg       sync.WaitGroup
	Emitted  atomic.Int32
	Repeated atomic.Int32
}

func (w *FakeWatcher) OnAdded(fn func(device.DeviceInfo)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.added = fn
}

func (w *FakeWatcher) OnUpdated(fn func(device.DeviceInfo)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updated = fn
}

// HasUpdatedHandler reports whether an updated callback was registered.
func (w *FakeWatcher) HasUpdatedHandler() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.updated != nil
}

func (w *FakeWatcher) Start() error {
	w.adapter.WatchersStarted.Add(1)
	w.adapter.record("watcher start")
	if w.adapter.WatcherStartErr != nil {
		return w.adapter.WatcherStartErr
	}

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.started = true
	w.mu.Unlock()

	if w.adapter.ManualAdvertising {
		return nil
	}
	for _, p := range w.adapter.snapshot() {
		if !w.matches(p) || p.AdvertiseAfter < 0 {
			continue
		}
		w.wg.Add(1)
		go w.advertise(p)
	}
	return nil
}

func (w *FakeWatcher) matches(p *FakePeripheral) bool {
	if w.Selector.Address != 0 && w.Selector.Address != p.Addr {
		return false
	}
	return w.Selector.Filter.Matches(p.LowEnergy)
}

func (w *FakeWatcher) advertise(p *FakePeripheral) {
	defer w.wg.Done()

	t := time.NewTimer(p.AdvertiseAfter)
	defer t.Stop()
	select {
	case <-t.C:
	case <-w.stop:
		return
	}

	w.Emit(p.info())
	for i := 0; i < p.Repeats; i++ {
		w.Emit(p.info())
	}
}

// Emit delivers an observation as the platform would: the first sighting of
// an ID goes to the added callback. Repeats go to added too, matching
// advertisement watchers that report every packet. Nothing is delivered
// after Stop.
func (w *FakeWatcher) Emit(info device.DeviceInfo) bool {
	w.mu.Lock()
	if !w.started || w.stopped || w.added == nil {
		w.mu.Unlock()
		return false
	}
	added := w.added
	w.mu.Unlock()

	w.Emitted.Add(1)
	added(info)
	return true
}

// EmitUpdate delivers info to the updated callback.
func (w *FakeWatcher) EmitUpdate(info device.DeviceInfo) bool {
	w.mu.Lock()
	if !w.started || w.stopped || w.updated == nil {
		w.mu.Unlock()
		return false
	}
	updated := w.updated
	w.mu.Unlock()

	w.Repeated.Add(1)
	updated(info)
	return true
}

func (w *FakeWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	close(w.stop)
	w.mu.Unlock()

	w.adapter.WatchersStopped.Add(1)
	w.adapter.record("watcher stop")
	w.wg.Wait()
	return nil
}

// Stopped reports whether Stop has been called.
func (w *FakeWatcher) Stopped() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stopped
}

// pairing

type fakePairing struct {
	p *FakePeripheral
}

func (f *fakePairing) Status() device.PairingStatus {
	return f.p.PairingStatus()
}

func (f *fakePairing) OnPairingRequested(handler device.CeremonyHandler) func() {
	f.p.HandlerAdds.Add(1)
	f.p.adapter.record("handler add")
	f.p.mu.Lock()
	f.p.handler = handler
	f.p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.p.HandlerRemovals.Add(1)
			f.p.adapter.record("handler remove")
			f.p.mu.Lock()
			f.p.handler = nil
			f.p.mu.Unlock()
		})
	}
}

func (f *fakePairing) Pair(_ context.Context, kinds device.PairingKinds, level device.ProtectionLevel) (device.PairingResult, error) {
	p := f.p
	p.PairCalls.Add(1)
	p.adapter.record("pair " + p.DeviceID)

	p.mu.Lock()
	p.requestedWith.kinds = kinds
	p.requestedWith.level = level
	handler := p.handler
	p.mu.Unlock()
	p.HandlerAtPair.Store(handler != nil)

	if p.PairErr != nil {
		return device.PairingResult{}, p.PairErr
	}

	if c := p.Ceremony; c != nil {
		if !kinds.Has(c.Kind) || handler == nil {
			return device.PairingResult{Status: device.PairingRejectedByHandler}, nil
		}
		req := &FakeCeremonyRequest{kind: c.Kind, pin: c.Pin, name: p.LocalName}
		handler(req)
		if !req.Accepted() {
			return device.PairingResult{Status: device.PairingRejectedByHandler}, nil
		}
		p.CeremonyAccepted.Store(req.AcceptedPin())
		if c.Kind != device.ConfirmOnly && req.AcceptedPin() != c.Pin {
			return device.PairingResult{Status: device.PairingAuthenticationFailure}, nil
		}
	}

	if p.PairResult.Status == device.PairingPaired {
		p.WithPairingStatus(device.Paired)
	}
	return p.PairResult, nil
}

func (f *fakePairing) Unpair(_ context.Context) (device.UnpairingResult, error) {
	p := f.p
	p.UnpairCalls.Add(1)
	p.adapter.record("unpair " + p.DeviceID)
	if p.UnpairErr != nil {
		return device.UnpairingResult{}, p.UnpairErr
	}
	if p.UnpairResult.Status == device.UnpairingUnpaired {
		p.WithPairingStatus(device.Unpaired)
	}
	return p.UnpairResult, nil
}

// FakeCeremonyRequest is a device.CeremonyRequest recording the answer.
type FakeCeremonyRequest struct {
	kind device.PairingKinds
	pin  string
	name string

	mu          sync.Mutex
	accepted    bool
	acceptedPin string
}

// NewFakeCeremonyRequest builds a request as a platform would offer it.
func NewFakeCeremonyRequest(kind device.PairingKinds, pin, name string) *FakeCeremonyRequest {
	return &FakeCeremonyRequest{kind: kind, pin: pin, name: name}
}

func (r *FakeCeremonyRequest) Kind() device.PairingKinds { return r.kind }
func (r *FakeCeremonyRequest) Pin() string               { return r.pin }
func (r *FakeCeremonyRequest) DeviceName() string        { return r.name }

func (r *FakeCeremonyRequest) Accept(pin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accepted = true
	r.acceptedPin = pin
}

func (r *FakeCeremonyRequest) Accepted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accepted
}

func (r *FakeCeremonyRequest) AcceptedPin() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.acceptedPin
}
