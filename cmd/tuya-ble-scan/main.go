// Command tuya-ble-scan lists nearby Tuya BLE devices.
// Devices listed in the config file are shown with their configured names.
//
// Usage:
//
//	go run ./cmd/tuya-ble-scan [--config path] [--timeout 10s]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/chaz8081/tuya-ble-bridge/internal/ble"
	"github.com/chaz8081/tuya-ble-bridge/internal/catalog"
	"github.com/chaz8081/tuya-ble-bridge/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/tuya-ble-bridge/config.yaml)")
	timeout := flag.Duration("timeout", 0, "scan duration (default: ble.scan_timeout from config)")
	flag.Parse()

	cfg := config.Default()
	path := *configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath()); err == nil {
			path = config.DefaultConfigPath()
		}
	}
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		cfg = loaded
	}

	scanFor := cfg.BLE.ScanTimeout
	if *timeout > 0 {
		scanFor = *timeout
	}

	fmt.Printf("Scanning for Tuya BLE devices for %s...\n", scanFor)
	devices, err := ble.ScanForDevices(ble.NewTinyGoAdapter(), scanFor)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return
	}

	creds := cfg.CredentialProvider()
	ctx := context.Background()
	for i, d := range devices {
		name := catalog.ReadableName(ctx, d.MAC, d.Name, creds)
		fmt.Printf("%2d. %-40s %s  RSSI %d\n", i+1, name, catalog.FullAddress(d.MAC), d.RSSI)
	}
	fmt.Printf("\nFound %d device(s).\n", len(devices))
}
