// Package integration keeps one coordinator per registered device and
// exposes thin entity adapters over them.
package integration

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/chaz8081/tuya-ble-bridge/internal/catalog"
	"github.com/chaz8081/tuya-ble-bridge/internal/coordinator"
	"github.com/chaz8081/tuya-ble-bridge/internal/tuyable"
)

var (
	// ErrAlreadyRegistered is returned when adding a device twice.
	ErrAlreadyRegistered = errors.New("integration: device already registered")
	// ErrNotRegistered is returned when removing an unknown device.
	ErrNotRegistered = errors.New("integration: device not registered")
)

// Registration is a device and the coordinator tracking it.
type Registration struct {
	Device      *tuyable.Device
	Coordinator *coordinator.Coordinator
	Info        catalog.DeviceInfo
}

// Manager owns the coordinators of all registered devices.
type Manager struct {
	bus   coordinator.ButtonBus
	delay time.Duration
	sched coordinator.Scheduler

	mu      sync.Mutex
	devices map[string]*Registration // keyed by full address
}

// NewManager creates a Manager. delay is the disconnect debounce; zero uses
// coordinator.DefaultDisconnectDelay. sched may be nil.
func NewManager(bus coordinator.ButtonBus, delay time.Duration, sched coordinator.Scheduler) *Manager {
	return &Manager{
		bus:     bus,
		delay:   delay,
		sched:   sched,
		devices: make(map[string]*Registration),
	}
}

// Add registers dev and creates its coordinator.
func (m *Manager) Add(dev *tuyable.Device) (*Registration, error) {
	key := catalog.FullAddress(dev.Address())

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, key)
	}

	reg := &Registration{
		Device: dev,
		Coordinator: coordinator.New(dev, m.bus, coordinator.Options{
			DisconnectDelay: m.delay,
			Scheduler:       m.sched,
		}),
		Info: catalog.DeviceInfoFor(dev.Info()),
	}
	m.devices[key] = reg
	slog.Info("device registered", "address", key, "device_id", dev.DeviceID(), "name", reg.Info.Name)
	return reg, nil
}

// Get returns the registration for address, or nil.
func (m *Manager) Get(address string) *Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[catalog.FullAddress(address)]
}

// Coordinator returns the coordinator for address, or nil.
func (m *Manager) Coordinator(address string) *coordinator.Coordinator {
	if reg := m.Get(address); reg != nil {
		return reg.Coordinator
	}
	return nil
}

// Registrations returns all registrations ordered by address.
func (m *Manager) Registrations() []*Registration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Registration, 0, len(m.devices))
	for _, reg := range m.devices {
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Device.Address() < out[j].Device.Address()
	})
	return out
}

// Remove unregisters the device and closes its coordinator.
func (m *Manager) Remove(address string) error {
	key := catalog.FullAddress(address)

	m.mu.Lock()
	reg, ok := m.devices[key]
	delete(m.devices, key)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRegistered, key)
	}
	reg.Coordinator.Close()
	slog.Info("device removed", "address", key)
	return nil
}

// Close removes every device.
func (m *Manager) Close() {
	m.mu.Lock()
	regs := m.devices
	m.devices = make(map[string]*Registration)
	m.mu.Unlock()

	for _, reg := range regs {
		reg.Coordinator.Close()
	}
}
