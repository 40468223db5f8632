package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the daemon-wide settings.
type Config struct {
	Bus  BusConfig  `toml:"bus"`
	Sink SinkConfig `toml:"sink"`
	API  APIConfig  `toml:"api"`
}

// BusConfig configures the USB bus monitor and transport layer.
type BusConfig struct {
	Root         string        `toml:"root"`          // usbfs root, normally /dev/bus/usb
	PollInterval time.Duration `toml:"poll_interval"` // fallback polling cadence for hotplug detection
	ReadTimeout  time.Duration `toml:"read_timeout"`  // per-slice timeout of the interrupt read
}

// SinkConfig configures the virtual input device the decoded keys are
// delivered to.
type SinkConfig struct {
	UinputPath string `toml:"uinput_path"` // normally /dev/uinput
	DeviceName string `toml:"device_name"` // name the input device registers under
}

// APIConfig configures the HTTP status server.
type APIConfig struct {
	Port int `toml:"port"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Bus: BusConfig{
			Root:         "/dev/bus/usb",
			PollInterval: 2 * time.Second,
			ReadTimeout:  250 * time.Millisecond,
		},
		Sink: SinkConfig{
			UinputPath: "/dev/uinput",
			DeviceName: "umlaut_kb",
		},
		API: APIConfig{
			Port: 8080,
		},
	}
}

// GetDefaultConfigDir returns the per-user configuration directory.
func GetDefaultConfigDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "umlaut-kb"), nil
}

// LoadConfig reads the configuration from configPath. A missing file is
// created with the defaults so the user has something to edit.
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
			return config, err
		}
		if err := SaveConfig(configPath, config); err != nil {
			return config, err
		}
		return config, nil
	}

	if _, err := toml.DecodeFile(configPath, config); err != nil {
		return config, err
	}

	return config, nil
}

// SaveConfig writes the configuration to configPath as TOML.
func SaveConfig(configPath string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	f, err := os.Create(configPath)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(config)
}
