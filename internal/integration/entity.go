package integration

import (
	"fmt"

	"github.com/chaz8081/tuya-ble-bridge/internal/catalog"
	"github.com/chaz8081/tuya-ble-bridge/internal/coordinator"
)

// Entity is a host-platform entity backed by a device coordinator.
type Entity struct {
	Key    string
	coord  *coordinator.Coordinator
	device catalog.DeviceInfo
}

// NewEntity creates the entity identified by key on reg's device.
func NewEntity(reg *Registration, key string) *Entity {
	return &Entity{Key: key, coord: reg.Coordinator, device: reg.Info}
}

// UniqueID returns "<device_id>-<key>".
func (e *Entity) UniqueID() string {
	return fmt.Sprintf("%s-%s", e.coord.DeviceID(), e.Key)
}

// Available reports whether the device is connected.
func (e *Entity) Available() bool {
	return e.coord.Connected()
}

// Device returns the registry data of the owning device.
func (e *Entity) Device() catalog.DeviceInfo {
	return e.device
}

// OnChange calls fn whenever the coordinator's state changes. The returned
// func stops the forwarding.
func (e *Entity) OnChange(fn func(available bool)) (remove func()) {
	return e.coord.AddListener(func() { fn(e.coord.Connected()) })
}
