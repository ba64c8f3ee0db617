// Package ble discovers Tuya BLE devices and keeps links to them. It
// handles scanning, connection management and raw frame transport; frame
// encryption and datapoint decoding belong to the protocol layer.
package ble

import "context"

// Tuya BLE UUIDs. ServiceUUID is advertised; the notify characteristic
// lives under GATTServiceUUID.
const (
	ServiceUUID     = "0000a201-0000-1000-8000-00805f9b34fb"
	GATTServiceUUID = "00001910-0000-1000-8000-00805f9b34fb"
	NotifyCharUUID  = "00002b10-0000-1000-8000-00805f9b34fb"
)

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	MAC  string
	RSSI int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices until ctx is cancelled or timeout.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given MAC address.
	Connect(ctx context.Context, mac string) (Connection, error)
}
