package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable holding an explicit config path.
const EnvConfigPath = "BLETOOLS_CONFIG"

// Backend names.
const (
	BackendBlueZ = "bluez"
	BackendGoBLE = "goble"
)

// BluetoothOptions holds the resolution timeouts.
type BluetoothOptions struct {
	// DeviceDiscoveryTimeout bounds the discovery watch of the device resolver.
	DeviceDiscoveryTimeout time.Duration `yaml:"device_discovery_timeout" default:"20s"`
	// MetadataRetrieveTimeout bounds the service/characteristic polling loop.
	MetadataRetrieveTimeout time.Duration `yaml:"metadata_retrieve_timeout" default:"10s"`
	MetadataPollingInterval time.Duration `yaml:"metadata_polling_interval" default:"100ms"`
	// FastConnectTimeout bounds the address-based connect attempt on backends
	// that must dial to find out whether an address is reachable.
	FastConnectTimeout time.Duration `yaml:"fast_connect_timeout" default:"3s"`
}

// Config holds application configuration
type Config struct {
	LogLevel  string           `yaml:"log_level" default:"warn"`
	Backend   string           `yaml:"backend"`
	Adapter   string           `yaml:"adapter" default:"hci0"`
	Bluetooth BluetoothOptions `yaml:"bluetooth"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	c := &Config{}
	defaults.SetDefaults(c)
	if c.Backend == "" {
		c.Backend = DefaultBackend()
	}
	return c
}

// DefaultBackend is BlueZ on Linux and go-ble elsewhere.
func DefaultBackend() string {
	if runtime.GOOS == "linux" {
		return BackendBlueZ
	}
	return BackendGoBLE
}

// Load builds a Config from defaults and an optional YAML file.
//
// The file is path when non-empty, else $BLETOOLS_CONFIG, else
// <UserConfigDir>/bletools/config.yaml. Only an explicitly named file must exist.
func Load(path string) (*Config, error) {
	c := DefaultConfig()

	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvConfigPath); env != "" {
			path, explicit = env, true
		} else if dir, err := os.UserConfigDir(); err == nil {
			path = filepath.Join(dir, "bletools", "config.yaml")
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, c); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, fs.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks value ranges and names.
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.Backend {
	case BackendBlueZ, BackendGoBLE:
	default:
		return fmt.Errorf("invalid backend: %s (must be %s or %s)", c.Backend, BackendBlueZ, BackendGoBLE)
	}

	b := c.Bluetooth
	if b.DeviceDiscoveryTimeout <= 0 {
		return fmt.Errorf("device_discovery_timeout must be positive, got %s", b.DeviceDiscoveryTimeout)
	}
	if b.MetadataRetrieveTimeout <= 0 {
		return fmt.Errorf("metadata_retrieve_timeout must be positive, got %s", b.MetadataRetrieveTimeout)
	}
	if b.MetadataPollingInterval <= 0 {
		return fmt.Errorf("metadata_polling_interval must be positive, got %s", b.MetadataPollingInterval)
	}
	if b.FastConnectTimeout <= 0 {
		return fmt.Errorf("fast_connect_timeout must be positive, got %s", b.FastConnectTimeout)
	}
	return nil
}

// ParseLevel accepts debug, info, warn, error (and the logrus spellings).
func ParseLevel(s string) (logrus.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel, nil
	case "info":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	}
	return logrus.PanicLevel, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", s)
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)

	level, err := ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	logger.SetLevel(level)

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
