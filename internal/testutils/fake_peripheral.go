package testutils

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/srg/bletools/internal/address"
	"github.com/srg/bletools/internal/device"
)

// Never disables advertising for a FakePeripheral.
const Never time.Duration = -1

// CeremonyConfig describes the ceremony a FakePeripheral offers during Pair.
type CeremonyConfig struct {
	Kind device.PairingKinds
	Pin  string
}

// FakePeripheral is a scripted device served by FakeAdapter. Configure it with
// the With* methods before handing it to NewFakeAdapter; inspect the counters
// afterwards.
type FakePeripheral struct {
	Addr           address.Address
	DeviceID       string
	LocalName      string
	LowEnergy      bool
	Cached         bool          // FromAddress returns a handle
	AdvertiseAfter time.Duration // delay before a started watcher reports the device; Never disables it
	Repeats        int           // extra advertisements after the first
	RSSI           int
	OpenFails      bool // FromID returns nil, nil

	ServiceList []*FakeService

	Ceremony      *CeremonyConfig
	PairResult    device.PairingResult
	PairErr       error
	UnpairResult  device.UnpairingResult
	UnpairErr     error
	pairingStatus atomic.Int32

	Opens            atomic.Int32
	Closes           atomic.Int32
	ServiceLookups   atomic.Int32
	Enumerations     atomic.Int32
	PairCalls        atomic.Int32
	UnpairCalls      atomic.Int32
	HandlerAdds      atomic.Int32
	HandlerRemovals  atomic.Int32
	HandlerAtPair    atomic.Bool
	CeremonyAccepted atomic.Value // string: PIN the handler answered with

	mu            sync.Mutex
	handler       device.CeremonyHandler
	requestedWith struct {
		kinds device.PairingKinds
		level device.ProtectionLevel
	}
	adapter *FakeAdapter
}

// NewFakePeripheral creates an LE peripheral advertising immediately and
// unknown to the host cache.
func NewFakePeripheral(addr string) *FakePeripheral {
	a := address.MustParse(addr)
	p := &FakePeripheral{
		Addr:      a,
		DeviceID:  "fake:" + a.Padded(),
		LowEnergy: true,
		RSSI:      -60,
		PairResult: device.PairingResult{
			Status:          device.PairingPaired,
			ProtectionLevel: device.EncryptionAndAuthentication,
		},
		UnpairResult: device.UnpairingResult{Status: device.UnpairingUnpaired},
	}
	return p
}

func (p *FakePeripheral) WithName(name string) *FakePeripheral {
	p.LocalName = name
	return p
}

func (p *FakePeripheral) WithID(id string) *FakePeripheral {
	p.DeviceID = id
	return p
}

// InHostCache makes FromAddress succeed.
func (p *FakePeripheral) InHostCache() *FakePeripheral {
	p.Cached = true
	return p
}

func (p *FakePeripheral) AdvertisingAfter(d time.Duration) *FakePeripheral {
	p.AdvertiseAfter = d
	return p
}

func (p *FakePeripheral) Classic() *FakePeripheral {
	p.LowEnergy = false
	return p
}

func (p *FakePeripheral) WithRepeats(n int) *FakePeripheral {
	p.Repeats = n
	return p
}

func (p *FakePeripheral) WithPairingStatus(s device.PairingStatus) *FakePeripheral {
	p.pairingStatus.Store(int32(s))
	return p
}

func (p *FakePeripheral) WithCeremony(kind device.PairingKinds, pin string) *FakePeripheral {
	p.Ceremony = &CeremonyConfig{Kind: kind, Pin: pin}
	return p
}

func (p *FakePeripheral) WithPairResult(status device.PairingResultStatus, level device.ProtectionLevel) *FakePeripheral {
	p.PairResult = device.PairingResult{Status: status, ProtectionLevel: level}
	return p
}

func (p *FakePeripheral) WithUnpairResult(status device.UnpairingResultStatus) *FakePeripheral {
	p.UnpairResult = device.UnpairingResult{Status: status}
	return p
}

// AddService adds a service and returns it for further configuration.
func (p *FakePeripheral) AddService(id string) *FakeService {
	s := &FakeService{ID: mustUUID(id)}
	p.ServiceList = append(p.ServiceList, s)
	return s
}

// PairingStatus returns the current host-side pairing status.
func (p *FakePeripheral) PairingStatus() device.PairingStatus {
	return device.PairingStatus(p.pairingStatus.Load())
}

// RequestedPairing returns the kinds and level of the last Pair call.
func (p *FakePeripheral) RequestedPairing() (device.PairingKinds, device.ProtectionLevel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.requestedWith.kinds, p.requestedWith.level
}

// Service returns the configured service with id, or nil.
func (p *FakePeripheral) Service(id string) *FakeService {
	u := mustUUID(id)
	for _, s := range p.ServiceList {
		if s.ID == u {
			return s
		}
	}
	return nil
}

func (p *FakePeripheral) info() device.DeviceInfo {
	rssi := p.RSSI
	return device.DeviceInfo{
		ID:          p.DeviceID,
		Name:        p.LocalName,
		Address:     p.Addr.String(),
		LowEnergy:   p.LowEnergy,
		Pairing:     p.PairingStatus(),
		RSSI:        &rssi,
		Connectable: true,
	}
}

// FakeService is a scripted GATT service.
type FakeService struct {
	ID uuid.UUID
	// CachedLookup makes the cached lookup succeed.
	CachedLookup bool
	// LookupErr is returned by the cached lookup.
	LookupErr error
	// VisibleFrom is the 1-based enumeration from which the service is listed; 0 lists it always.
	VisibleFrom int32
	// EnumerateErr is returned by enumerations that do not list the service yet.
	EnumerateErr error

	CharList []*FakeCharacteristic

	Opens        atomic.Int32
	Closes       atomic.Int32
	Lookups      atomic.Int32
	Enumerations atomic.Int32
}

func (s *FakeService) Cached() *FakeService {
	s.CachedLookup = true
	return s
}

func (s *FakeService) FailingLookup(err error) *FakeService {
	s.LookupErr = err
	return s
}

func (s *FakeService) VisibleFromPoll(n int) *FakeService {
	s.VisibleFrom = int32(n)
	return s
}

// AddCharacteristic adds a characteristic and returns it for further configuration.
func (s *FakeService) AddCharacteristic(id string) *FakeCharacteristic {
	c := &FakeCharacteristic{ID: mustUUID(id), Props: device.PropRead | device.PropWrite}
	s.CharList = append(s.CharList, c)
	return c
}

// Characteristic returns the configured characteristic with id, or nil.
func (s *FakeService) Characteristic(id string) *FakeCharacteristic {
	u := mustUUID(id)
	for _, c := range s.CharList {
		if c.ID == u {
			return c
		}
	}
	return nil
}

// FakeCharacteristic is a scripted GATT characteristic.
type FakeCharacteristic struct {
	ID           uuid.UUID
	Props        device.Properties
	CachedLookup bool
	VisibleFrom  int32
	ReadErr      error
	WriteErr     error

	Opens        atomic.Int32
	Closes       atomic.Int32
	Lookups      atomic.Int32
	Enumerations atomic.Int32
	Reads        atomic.Int32

	mu       sync.Mutex
	value    []byte
	writes   [][]byte
	level    device.ProtectionLevel
	lastMode device.CacheMode
}

func (c *FakeCharacteristic) Cached() *FakeCharacteristic {
	c.CachedLookup = true
	return c
}

func (c *FakeCharacteristic) VisibleFromPoll(n int) *FakeCharacteristic {
	c.VisibleFrom = int32(n)
	return c
}

func (c *FakeCharacteristic) WithValue(v []byte) *FakeCharacteristic {
	c.mu.Lock()
	c.value = v
	c.mu.Unlock()
	return c
}

func (c *FakeCharacteristic) WithProperties(p device.Properties) *FakeCharacteristic {
	c.Props = p
	return c
}

func (c *FakeCharacteristic) FailingRead(err error) *FakeCharacteristic {
	c.ReadErr = err
	return c
}

func (c *FakeCharacteristic) FailingWrite(err error) *FakeCharacteristic {
	c.WriteErr = err
	return c
}

// Value returns the current value.
func (c *FakeCharacteristic) Value() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Writes returns every value written so far.
func (c *FakeCharacteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// ProtectionLevel returns the level last set through a handle.
func (c *FakeCharacteristic) ProtectionLevel() device.ProtectionLevel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// LastReadMode returns the cache mode of the last read.
func (c *FakeCharacteristic) LastReadMode() device.CacheMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastMode
}

// ErrFakeTransient is a ready-made cached-lookup failure.
var ErrFakeTransient = errors.New("object not yet constructible")

// PeripheralConfig is the JSON form accepted by FakePeripheralsFromJSON.
type PeripheralConfig struct {
	Address        string          `json:"address"`
	Name           string          `json:"name,omitempty"`
	Cached         bool            `json:"cached,omitempty"`
	AdvertiseAfter string          `json:"advertise_after,omitempty"` // duration or "never"
	Classic        bool            `json:"classic,omitempty"`
	Paired         bool            `json:"paired,omitempty"`
	Services       []ServiceConfig `json:"services,omitempty"`
}

// ServiceConfig is the JSON form of a FakeService.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Cached          bool                   `json:"cached,omitempty"`
	VisibleFromPoll int                    `json:"visible_from_poll,omitempty"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// CharacteristicConfig is the JSON form of a FakeCharacteristic.
type CharacteristicConfig struct {
	UUID            string `json:"uuid"`
	Cached          bool   `json:"cached,omitempty"`
	VisibleFromPoll int    `json:"visible_from_poll,omitempty"`
	Value           string `json:"value,omitempty"`
}

// FakePeripheralsFromJSON builds peripherals from a JSON array of PeripheralConfig.
// The format string is expanded with args first, as in fmt.Sprintf.
func FakePeripheralsFromJSON(jsonStrFmt string, args ...any) ([]*FakePeripheral, error) {
	var cfgs []PeripheralConfig
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &cfgs); err != nil {
		return nil, fmt.Errorf("invalid peripheral JSON: %w", err)
	}

	out := make([]*FakePeripheral, 0, len(cfgs))
	for _, cfg := range cfgs {
		if _, err := address.Parse(cfg.Address); err != nil {
			return nil, err
		}
		p := NewFakePeripheral(cfg.Address).WithName(cfg.Name)
		p.Cached = cfg.Cached
		p.LowEnergy = !cfg.Classic
		if cfg.Paired {
			p.WithPairingStatus(device.Paired)
		}
		switch cfg.AdvertiseAfter {
		case "":
		case "never":
			p.AdvertiseAfter = Never
		default:
			d, err := time.ParseDuration(cfg.AdvertiseAfter)
			if err != nil {
				return nil, fmt.Errorf("invalid advertise_after for %s: %w", cfg.Address, err)
			}
			p.AdvertiseAfter = d
		}

		for _, sc := range cfg.Services {
			s := p.AddService(sc.UUID).VisibleFromPoll(sc.VisibleFromPoll)
			s.CachedLookup = sc.Cached
			for _, cc := range sc.Characteristics {
				c := s.AddCharacteristic(cc.UUID).VisibleFromPoll(cc.VisibleFromPoll).WithValue([]byte(cc.Value))
				c.CachedLookup = cc.Cached
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func mustUUID(s string) uuid.UUID {
	u, err := device.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// handles

type fakeDevice struct {
	p *FakePeripheral
}

func (d *fakeDevice) ID() string               { return d.p.DeviceID }
func (d *fakeDevice) Name() string             { return d.p.LocalName }
func (d *fakeDevice) Address() address.Address { return d.p.Addr }
func (d *fakeDevice) Pairing() device.Pairing  { return &fakePairing{p: d.p} }

func (d *fakeDevice) Service(_ context.Context, id uuid.UUID) (device.Service, error) {
	d.p.ServiceLookups.Add(1)
	for _, s := range d.p.ServiceList {
		if s.ID != id {
			continue
		}
		s.Lookups.Add(1)
		if s.LookupErr != nil {
			return nil, s.LookupErr
		}
		if s.CachedLookup {
			return s.open(), nil
		}
	}
	return nil, nil
}

func (d *fakeDevice) Services(_ context.Context, _ device.CacheMode) ([]device.Service, error) {
	n := d.p.Enumerations.Add(1)
	var out []device.Service
	var listErr error
	for _, s := range d.p.ServiceList {
		s.Enumerations.Add(1)
		if s.VisibleFrom > n {
			listErr = s.EnumerateErr
			continue
		}
		out = append(out, s.open())
	}
	if listErr != nil {
		return nil, listErr
	}
	return out, nil
}

func (d *fakeDevice) Close() error {
	d.p.Closes.Add(1)
	d.p.adapter.record("close " + d.p.DeviceID)
	return nil
}

func (s *FakeService) open() *fakeService {
	s.Opens.Add(1)
	return &fakeService{s: s}
}

type fakeService struct {
	s *FakeService
}

func (h *fakeService) UUID() uuid.UUID { return h.s.ID }

func (h *fakeService) Characteristic(_ context.Context, id uuid.UUID) (device.Characteristic, error) {
	for _, c := range h.s.CharList {
		if c.ID != id {
			continue
		}
		c.Lookups.Add(1)
		if c.CachedLookup {
			return c.open(), nil
		}
	}
	return nil, nil
}

func (h *fakeService) Characteristics(_ context.Context, _ device.CacheMode) ([]device.Characteristic, error) {
	n := h.s.Enumerations.Add(1)
	var out []device.Characteristic
	for _, c := range h.s.CharList {
		c.Enumerations.Add(1)
		if c.VisibleFrom > n {
			continue
		}
		out = append(out, c.open())
	}
	return out, nil
}

func (h *fakeService) Close() error {
	h.s.Closes.Add(1)
	return nil
}

func (c *FakeCharacteristic) open() *fakeCharacteristic {
	c.Opens.Add(1)
	return &fakeCharacteristic{c: c}
}

type fakeCharacteristic struct {
	c *FakeCharacteristic
}

func (h *fakeCharacteristic) UUID() uuid.UUID               { return h.c.ID }
func (h *fakeCharacteristic) Properties() device.Properties { return h.c.Props }

func (h *fakeCharacteristic) SetProtectionLevel(level device.ProtectionLevel) {
	h.c.mu.Lock()
	h.c.level = level
	h.c.mu.Unlock()
}

func (h *fakeCharacteristic) Read(_ context.Context, mode device.CacheMode) ([]byte, error) {
	h.c.Reads.Add(1)
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	h.c.lastMode = mode
	if h.c.ReadErr != nil {
		return nil, h.c.ReadErr
	}
	return append([]byte(nil), h.c.value...), nil
}

func (h *fakeCharacteristic) Write(_ context.Context, value []byte) error {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.WriteErr != nil {
		return h.c.WriteErr
	}
	h.c.writes = append(h.c.writes, append([]byte(nil), value...))
	h.c.value = append([]byte(nil), value...)
	return nil
}

func (h *fakeCharacteristic) Close() error {
	h.c.Closes.Add(1)
	return nil
}
