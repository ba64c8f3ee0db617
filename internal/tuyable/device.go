// Package tuyable defines the contract between the Tuya BLE protocol layer
// and the rest of the bridge: datapoint records, device identity, callback
// registration and credential lookup. Pairing, encryption and datapoint
// encoding live in the protocol layer and are not implemented here.
package tuyable

import "sync"

// DataPoint is a single datapoint value reported by a device.
type DataPoint struct {
	ID    int
	Value any
	// ChangedByDevice is true when the physical device changed the value
	// rather than a command issued by this bridge.
	ChangedByDevice bool
}

// Transport is the callback surface a device exposes to its coordinator.
type Transport interface {
	Address() string
	DeviceID() string
	// RegisterConnectedCallback registers cb for connection (re)establishment.
	RegisterConnectedCallback(cb func()) (remove func())
	// RegisterCallback registers cb for datapoint update batches.
	RegisterCallback(cb func([]DataPoint)) (remove func())
	// RegisterDisconnectedCallback registers cb for connection loss.
	RegisterDisconnectedCallback(cb func()) (remove func())
}

// Info describes a device's identity and firmware metadata.
type Info struct {
	Address         string
	DeviceID        string
	Name            string
	Category        string
	ProductID       string
	ProductModel    string
	HardwareVersion string
	DeviceVersion   string
	ProtocolVersion string
}

// Device is a Transport that keeps registered callbacks and lets the
// protocol layer or BLE link dispatch events to them.
type Device struct {
	info Info

	mu           sync.Mutex
	nextID       int
	connected    map[int]func()
	updated      map[int]func([]DataPoint)
	disconnected map[int]func()
}

// Compile-time check that Device implements Transport.
var _ Transport = (*Device)(nil)

// NewDevice creates a Device with no registered callbacks.
func NewDevice(info Info) *Device {
	return &Device{
		info:         info,
		connected:    make(map[int]func()),
		updated:      make(map[int]func([]DataPoint)),
		disconnected: make(map[int]func()),
	}
}

func (d *Device) Address() string  { return d.info.Address }
func (d *Device) DeviceID() string { return d.info.DeviceID }

// Info returns the device metadata.
func (d *Device) Info() Info { return d.info }

func (d *Device) RegisterConnectedCallback(cb func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.connected[id] = cb
	return func() { d.remove(func() { delete(d.connected, id) }) }
}

func (d *Device) RegisterCallback(cb func([]DataPoint)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.updated[id] = cb
	return func() { d.remove(func() { delete(d.updated, id) }) }
}

func (d *Device) RegisterDisconnectedCallback(cb func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.disconnected[id] = cb
	return func() { d.remove(func() { delete(d.disconnected, id) }) }
}

func (d *Device) remove(del func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	del()
}

// DispatchConnected invokes every connected callback.
func (d *Device) DispatchConnected() {
	for _, cb := range d.snapshot(d.connected) {
		cb()
	}
}

// DispatchDisconnected invokes every disconnected callback.
func (d *Device) DispatchDisconnected() {
	for _, cb := range d.snapshot(d.disconnected) {
		cb()
	}
}

// DispatchUpdate delivers one datapoint batch to every update callback.
func (d *Device) DispatchUpdate(updates []DataPoint) {
	d.mu.Lock()
	cbs := make([]func([]DataPoint), 0, len(d.updated))
	for _, cb := range d.updated {
		cbs = append(cbs, cb)
	}
	d.mu.Unlock()

	for _, cb := range cbs {
		cb(updates)
	}
}

// snapshot copies callbacks so they run without holding mu.
func (d *Device) snapshot(m map[int]func()) []func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	cbs := make([]func(), 0, len(m))
	for _, cb := range m {
		cbs = append(cbs, cb)
	}
	return cbs
}
