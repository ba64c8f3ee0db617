package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/tuya-ble-bridge/internal/tuyable"
)

// Config holds all application configuration.
type Config struct {
	LogLevel        string         `yaml:"log_level"`
	DataDir         string         `yaml:"data_dir"`
	DisconnectDelay time.Duration  `yaml:"disconnect_delay"`
	BLE             BLEConfig      `yaml:"ble"`
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Devices         []DeviceConfig `yaml:"devices"`
}

// BLEConfig holds scanning and reconnect settings.
type BLEConfig struct {
	ScanTimeout  time.Duration `yaml:"scan_timeout"`
	ReconnectMax int           `yaml:"reconnect_max"` // seconds
}

// MQTTConfig holds broker and Home Assistant discovery settings.
type MQTTConfig struct {
	Broker          string `yaml:"broker"`
	Username        string `yaml:"username"`
	Password        string `yaml:"password"`
	DiscoveryPrefix string `yaml:"discovery_prefix"`
	BaseTopic       string `yaml:"base_topic"`
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool { return m.Broker != "" }

// DeviceConfig is one paired device and its credentials.
type DeviceConfig struct {
	Address      string `yaml:"address"`
	DeviceID     string `yaml:"device_id"`
	UUID         string `yaml:"uuid"`
	LocalKey     string `yaml:"local_key"`
	Category     string `yaml:"category"`
	ProductID    string `yaml:"product_id"`
	ProductModel string `yaml:"product_model"`
	Name         string `yaml:"name"`
}

// Credentials converts the entry to tuyable credentials.
func (d DeviceConfig) Credentials() tuyable.Credentials {
	return tuyable.Credentials{
		UUID:         d.UUID,
		LocalKey:     d.LocalKey,
		DeviceID:     d.DeviceID,
		Category:     d.Category,
		ProductID:    d.ProductID,
		DeviceName:   d.Name,
		ProductModel: d.ProductModel,
	}
}

// Info converts the entry to device metadata.
func (d DeviceConfig) Info() tuyable.Info {
	return tuyable.Info{
		Address:      strings.ToUpper(d.Address),
		DeviceID:     d.DeviceID,
		Name:         d.Name,
		Category:     d.Category,
		ProductID:    d.ProductID,
		ProductModel: d.ProductModel,
	}
}

// CredentialProvider returns a provider serving the configured devices.
func (c *Config) CredentialProvider() *tuyable.StaticCredentials {
	entries := make(map[string]tuyable.Credentials, len(c.Devices))
	for _, d := range c.Devices {
		entries[d.Address] = d.Credentials()
	}
	return tuyable.NewStaticCredentials(entries)
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "tuya-ble-bridge")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogLevel:        "info",
		DataDir:         filepath.Join(home, ".local", "share", "tuya-ble-bridge"),
		DisconnectDelay: 60 * time.Second,
		BLE: BLEConfig{
			ScanTimeout:  10 * time.Second,
			ReconnectMax: 30,
		},
		MQTT: MQTTConfig{
			DiscoveryPrefix: "homeassistant",
			BaseTopic:       "tuya_ble",
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in data_dir is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.DataDir = expandTilde(cfg.DataDir)

	return cfg, nil
}

// WriteDefault writes the default config to DefaultConfigPath unless a
// file already exists there. It returns the path.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.DisconnectDelay <= 0 {
		return fmt.Errorf("disconnect_delay must be > 0")
	}

	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}

	if c.BLE.ReconnectMax <= 0 {
		return fmt.Errorf("ble.reconnect_max must be > 0")
	}

	if c.MQTT.Enabled() {
		u, err := url.Parse(c.MQTT.Broker)
		if err != nil {
			return fmt.Errorf("mqtt.broker: %w", err)
		}
		switch u.Scheme {
		case "mqtt", "tcp", "mqtts", "ssl", "ws", "wss":
		default:
			return fmt.Errorf("mqtt.broker scheme must be mqtt, tcp, mqtts, ssl, ws or wss, got %q", u.Scheme)
		}
		if c.MQTT.DiscoveryPrefix == "" {
			return fmt.Errorf("mqtt.discovery_prefix must not be empty")
		}
		if c.MQTT.BaseTopic == "" {
			return fmt.Errorf("mqtt.base_topic must not be empty")
		}
	}

	seen := make(map[string]bool, len(c.Devices))
	for i, d := range c.Devices {
		if d.Address == "" {
			return fmt.Errorf("devices[%d].address must not be empty", i)
		}
		if d.DeviceID == "" {
			return fmt.Errorf("devices[%d].device_id must not be empty", i)
		}
		key := strings.ToUpper(strings.ReplaceAll(d.Address, "-", ":"))
		if seen[key] {
			return fmt.Errorf("devices[%d].address %s is listed more than once", i, d.Address)
		}
		seen[key] = true
	}

	return nil
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
