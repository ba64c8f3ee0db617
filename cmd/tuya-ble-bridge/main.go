package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chaz8081/tuya-ble-bridge/internal/ble"
	"github.com/chaz8081/tuya-ble-bridge/internal/config"
	"github.com/chaz8081/tuya-ble-bridge/internal/events"
	"github.com/chaz8081/tuya-ble-bridge/internal/integration"
	"github.com/chaz8081/tuya-ble-bridge/internal/mqtt"
	"github.com/chaz8081/tuya-ble-bridge/internal/tuyable"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default: ~/.config/tuya-ble-bridge/config.yaml)")
	initConfig := flag.Bool("init", false, "write a default config file and exit")
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		fmt.Println("Config written to", path)
		return
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	if len(cfg.Devices) == 0 {
		log.Fatalf("No devices configured. Run tuya-ble-scan to find nearby devices and add them to %s", config.DefaultConfigPath())
	}

	bus := events.New()
	manager := integration.NewManager(bus, cfg.DisconnectDelay, nil)

	adapter := ble.NewTinyGoAdapter()
	opts := ble.DefaultLinkOptions()
	opts.ReconnectMax = cfg.BLE.ReconnectMax

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var links []*ble.Link
	for _, dc := range cfg.Devices {
		dev := tuyable.NewDevice(dc.Info())
		if _, err := manager.Add(dev); err != nil {
			log.Fatalf("register %s: %v", dc.Address, err)
		}

		link := ble.NewLink(adapter, dev, opts)
		if err := link.Connect(ctx); err != nil {
			slog.Warn("initial connect failed, retrying in background", "address", dev.Address(), "error", err)
			link.Start()
		}
		links = append(links, link)
	}

	var publisher *mqtt.Publisher
	if cfg.MQTT.Enabled() {
		instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
		if err != nil {
			log.Fatalf("mqtt: %v", err)
		}
		publisher = mqtt.New(cfg.MQTT, instanceID, manager, bus, slog.Default())
		go func() {
			if err := publisher.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("mqtt publisher stopped", "error", err)
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Printf("Ready! Tracking %d device(s). Ctrl+C to quit.", len(links))
	sig := <-sigCh
	log.Printf("Received %s, shutting down...", sig)

	for _, link := range links {
		if err := link.Close(); err != nil {
			slog.Warn("close link", "error", err)
		}
	}
	if publisher != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := publisher.Stop(stopCtx); err != nil {
			slog.Warn("mqtt stop", "error", err)
		}
		stopCancel()
	}
	cancel()
	manager.Close()
	log.Println("Goodbye!")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	broker := "disabled"
	if cfg.MQTT.Enabled() {
		broker = cfg.MQTT.Broker
	}
	fmt.Println("=== tuya-ble-bridge ===")
	fmt.Printf("  Devices:    %d\n", len(cfg.Devices))
	fmt.Printf("  Debounce:   %s\n", cfg.DisconnectDelay)
	fmt.Printf("  Reconnect:  max %ds backoff\n", cfg.BLE.ReconnectMax)
	fmt.Printf("  MQTT:       %s\n", broker)
	fmt.Printf("  Log:        %s\n", cfg.LogLevel)
	fmt.Println("=======================")
}
