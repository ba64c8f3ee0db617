// Package mqtt exposes registered Tuya BLE devices to Home Assistant over
// MQTT discovery. Each device gets a connectivity binary sensor that
// mirrors its coordinator, and Fingerbots with manual control get a
// device trigger fired on every physical button press.
//
// The publisher uses Eclipse Paho v2's [autopaho] package for connection
// management with automatic reconnection. On every (re-)connect it
// publishes retained discovery configs, a birth message ("online") to the
// bridge availability topic and the current connectivity of every device.
// A will message flips the availability topic to "offline" on unexpected
// disconnects.
package mqtt

import (
	"strings"

	"github.com/chaz8081/tuya-ble-bridge/internal/catalog"
)

// DeviceInfo holds the Home Assistant device registry fields shared by
// every discovery payload of one device.
type DeviceInfo struct {
	Identifiers  []string   `json:"identifiers"`
	Connections  [][]string `json:"connections,omitempty"`
	Name         string     `json:"name"`
	Manufacturer string     `json:"manufacturer"`
	Model        string     `json:"model"`
	HWVersion    string     `json:"hw_version,omitempty"`
	SWVersion    string     `json:"sw_version,omitempty"`
}

// BinarySensorConfig is the discovery payload of a binary sensor.
type BinarySensorConfig struct {
	Name              string     `json:"name"`
	ObjectID          string     `json:"object_id,omitempty"`
	HasEntityName     bool       `json:"has_entity_name,omitempty"`
	UniqueID          string     `json:"unique_id"`
	StateTopic        string     `json:"state_topic"`
	AvailabilityTopic string     `json:"availability_topic"`
	DeviceClass       string     `json:"device_class,omitempty"`
	PayloadOn         string     `json:"payload_on"`
	PayloadOff        string     `json:"payload_off"`
	EntityCategory    string     `json:"entity_category,omitempty"`
	Device            DeviceInfo `json:"device"`
}

// TriggerConfig is the discovery payload of a device trigger.
type TriggerConfig struct {
	AutomationType string     `json:"automation_type"`
	Topic          string     `json:"topic"`
	Type           string     `json:"type"`
	Subtype        string     `json:"subtype"`
	Device         DeviceInfo `json:"device"`
}

// NewDeviceInfo converts catalog registry data to the discovery device block.
func NewDeviceInfo(info catalog.DeviceInfo, address string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  info.Identifiers,
		Connections:  [][]string{{"bluetooth", catalog.FullAddress(address)}},
		Name:         info.Name,
		Manufacturer: info.Manufacturer,
		Model:        info.Model,
		HWVersion:    info.HardwareVersion,
		SWVersion:    info.SoftwareVersion,
	}
}

// nodeID turns a BLE address into a topic-safe id, e.g. "aabbccddeeff".
func nodeID(address string) string {
	return strings.ToLower(strings.ReplaceAll(catalog.FullAddress(address), ":", ""))
}
