package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Hotkey   HotkeyConfig   `yaml:"hotkey"`
	LogLevel string         `yaml:"log_level"`
}

// DeviceConfig identifies the lamp on the air.
type DeviceConfig struct {
	Name               string `yaml:"name"`
	ServiceUUID        string `yaml:"service_uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`
}

// TimeoutsConfig bounds each radio operation.
type TimeoutsConfig struct {
	Scan    time.Duration `yaml:"scan"`
	Connect time.Duration `yaml:"connect"`
	Write   time.Duration `yaml:"write"`
}

// HotkeyConfig holds hotkey-related settings.
type HotkeyConfig struct {
	Keys     []string      `yaml:"keys"`
	Mode     string        `yaml:"mode"`     // "toggle" or "hold"
	Debounce time.Duration `yaml:"debounce"` // minimum gap between lamp writes, 0 disables
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "lampctl")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			Name:               "ESP_LAMP",
			ServiceUUID:        "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			CharacteristicUUID: "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
		},
		Timeouts: TimeoutsConfig{
			Scan:    50 * time.Second,
			Connect: 10 * time.Second,
			Write:   5 * time.Second,
		},
		Hotkey: HotkeyConfig{
			Keys:     []string{"ctrl", "shift", "l"},
			Mode:     "toggle",
			Debounce: 250 * time.Millisecond,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Device.Name == "" {
		return fmt.Errorf("device.name must not be empty")
	}
	if _, err := uuid.Parse(c.Device.ServiceUUID); err != nil {
		return fmt.Errorf("device.service_uuid %q is not a UUID: %w", c.Device.ServiceUUID, err)
	}
	if _, err := uuid.Parse(c.Device.CharacteristicUUID); err != nil {
		return fmt.Errorf("device.characteristic_uuid %q is not a UUID: %w", c.Device.CharacteristicUUID, err)
	}

	if c.Timeouts.Scan <= 0 {
		return fmt.Errorf("timeouts.scan must be > 0")
	}
	if c.Timeouts.Connect <= 0 {
		return fmt.Errorf("timeouts.connect must be > 0")
	}
	if c.Timeouts.Write <= 0 {
		return fmt.Errorf("timeouts.write must be > 0")
	}

	if len(c.Hotkey.Keys) == 0 {
		return fmt.Errorf("hotkey.keys must not be empty")
	}
	switch c.Hotkey.Mode {
	case "toggle", "hold":
	default:
		return fmt.Errorf("hotkey.mode must be \"toggle\" or \"hold\", got %q", c.Hotkey.Mode)
	}
	if c.Hotkey.Debounce < 0 {
		return fmt.Errorf("hotkey.debounce must be >= 0")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// ParseLogLevel maps a log_level value to a slog.Level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
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

const defaultHeader = `# lampctl configuration
#
# device: advertised name and GATT identifiers of the lamp
# timeouts: scan / connect / write bounds (Go durations, e.g. 10s)
# hotkey.mode: "toggle" (press to switch) or "hold" (on while held)
# hotkey.debounce: toggle presses closer together than this are ignored (0 disables)
# log_level: debug, info, warn, or error

`

// WriteDefault writes the default config to DefaultConfigPath. It returns
// the path written, or "" when a config file already exists.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}
