package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chaz8081/tuya-ble-bridge/internal/tuyable"
)

// FullAddress returns addr with ':' separators in upper case.
func FullAddress(addr string) string {
	return strings.ToUpper(strings.ReplaceAll(addr, "-", ":"))
}

// ShortAddress returns the last three octets of addr, e.g. "DD:EE:FF".
func ShortAddress(addr string) string {
	parts := strings.Split(FullAddress(addr), ":")
	if len(parts) > 3 {
		parts = parts[len(parts)-3:]
	}
	return strings.Join(parts, ":")
}

func macSuffix(addr string) string {
	return fmt.Sprintf("[Full MAC: %s, Short: %s]", FullAddress(addr), ShortAddress(addr))
}

// ReadableName builds a display name for a discovered device. Product info
// from the catalog is preferred, then the credentials' device name, then the
// advertised name alone. creds may be nil.
func ReadableName(ctx context.Context, address, advName string, creds tuyable.CredentialProvider) string {
	slog.Debug("[catalog] discovered device",
		"full_mac", FullAddress(address), "short_mac", ShortAddress(address))

	var c *tuyable.Credentials
	var info *ProductInfo
	if creds != nil {
		var err error
		c, err = creds.DeviceCredentials(ctx, address)
		if err != nil {
			slog.Warn("[catalog] credential lookup failed",
				"full_mac", FullAddress(address), "short_mac", ShortAddress(address), "error", err)
			c = nil
		}
		if c != nil {
			info = Lookup(c.Category, c.ProductID)
		}
	}

	fallback := advName
	if fallback == "" {
		fallback = "Unknown BLE Device"
	}

	switch {
	case info != nil:
		return fmt.Sprintf("%s (%s) %s", info.Name, fallback, macSuffix(address))
	case c != nil:
		return fmt.Sprintf("%s (%s) %s", c.DeviceName, fallback, macSuffix(address))
	default:
		return fmt.Sprintf("%s %s", fallback, macSuffix(address))
	}
}

// DeviceInfo is the registry record the host platform keeps per device.
type DeviceInfo struct {
	Identifiers     []string
	Connections     []string
	Manufacturer    string
	Model           string
	Name            string
	HardwareVersion string
	SoftwareVersion string
}

// DeviceInfoFor builds registry data for a device.
func DeviceInfoFor(info tuyable.Info) DeviceInfo {
	name := info.Name
	manufacturer := DefaultManufacturer
	if p := Lookup(info.Category, info.ProductID); p != nil {
		name = p.Name
		manufacturer = p.Manufacturer
	}

	model := info.ProductModel
	if model == "" {
		model = name
	}

	slog.Debug("[catalog] building device info",
		"device_id", info.DeviceID, "name", name, "manufacturer", manufacturer,
		"full_mac", FullAddress(info.Address), "short_mac", ShortAddress(info.Address))

	return DeviceInfo{
		Identifiers:     []string{info.Address},
		Connections:     []string{"bluetooth:" + info.Address},
		Manufacturer:    manufacturer,
		Model:           fmt.Sprintf("%s (%s)", model, info.ProductID),
		Name:            fmt.Sprintf("%s %s", name, macSuffix(info.Address)),
		HardwareVersion: info.HardwareVersion,
		SoftwareVersion: fmt.Sprintf("%s (protocol %s)", info.DeviceVersion, info.ProtocolVersion),
	}
}
