// Package config loads the keyturner command configuration from YAML.
//
// Every field is optional; a missing file yields Default().
//
//	client:
//	  name: keyturner
//	  device: smartlock
//	  address: "54:D2:72:AA:BB:CC"
//	  idle_timeout: 2s
//	storage:
//	  backend: file
//	  path: ~/.keyturner/credentials.cbor
//	metrics:
//	  addr: ":9100"
//	log:
//	  level: info
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/logging"
	"gopkg.in/yaml.v3"

	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/exchange"
	"github.com/backkem/keyturner/pkg/keyturner"
	"github.com/backkem/keyturner/pkg/pairing"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Configuration errors.
var (
	ErrInvalidBackend  = errors.New("config: invalid storage backend")
	ErrMissingPath     = errors.New("config: storage path required")
	ErrInvalidLogLevel = errors.New("config: invalid log level")
)

// File is the configuration file.
type File struct {
	Client  Client  `yaml:"client"`
	Storage Storage `yaml:"storage"`
	Metrics Metrics `yaml:"metrics"`
	Log     Log     `yaml:"log"`
}

// Client mirrors keyturner.Config.
type Client struct {
	Name              string        `yaml:"name"`
	Namespace         string        `yaml:"namespace"`
	Device            string        `yaml:"device"`
	AppID             uint32        `yaml:"app_id"`
	Address           string        `yaml:"address"`
	ConnectRetries    int           `yaml:"connect_retries"`
	ConnectRetryDelay time.Duration `yaml:"connect_retry_delay"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	LockTimeout       time.Duration `yaml:"lock_timeout"`
	PairingTimeout    time.Duration `yaml:"pairing_timeout"`
	CommandTimeout    time.Duration `yaml:"command_timeout"`
}

// Storage selects the credential store.
type Storage struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// Metrics configures the Prometheus endpoint. An empty Addr disables it.
type Metrics struct {
	Addr string `yaml:"addr"`
}

// Log configures logging.
type Log struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() File {
	return File{
		Client: Client{
			Name:              keyturner.DefaultName,
			Namespace:         keyturner.DefaultNamespace,
			Device:            ble.DeviceSmartLock.String(),
			ConnectRetries:    keyturner.DefaultConnectRetries,
			ConnectRetryDelay: keyturner.DefaultConnectRetryDelay,
			ConnectTimeout:    keyturner.DefaultConnectTimeout,
			IdleTimeout:       keyturner.DefaultIdleTimeout,
			LockTimeout:       keyturner.DefaultLockTimeout,
			PairingTimeout:    pairing.DefaultTimeout,
			CommandTimeout:    exchange.DefaultCommandTimeout,
		},
		Storage: Storage{Backend: BackendMemory},
		Log:     Log{Level: "info"},
	}
}

// Parse decodes data over Default() and validates the result.
func Parse(data []byte) (File, error) {
	f := Default()
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := f.Validate(); err != nil {
		return File{}, err
	}
	return f, nil
}

// Load reads the file at path. An empty path or a missing file yields
// Default().
func Load(path string) (File, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	if err != nil {
		return File{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Validate checks the configuration for errors.
func (f *File) Validate() error {
	if _, err := ble.ParseDeviceType(f.Client.Device); err != nil {
		return fmt.Errorf("config: client.device: %w", err)
	}
	switch f.Storage.Backend {
	case BackendMemory:
	case BackendFile, BackendBadger:
		if f.Storage.Path == "" {
			return fmt.Errorf("%w for %s backend", ErrMissingPath, f.Storage.Backend)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, f.Storage.Backend)
	}
	if _, err := ParseLogLevel(f.Log.Level); err != nil {
		return err
	}
	return nil
}

// Keyturner returns the client configuration. Link, Store and the other
// runtime fields are left for the caller.
func (f *File) Keyturner() keyturner.Config {
	device, _ := ble.ParseDeviceType(f.Client.Device)
	return keyturner.Config{
		Name:              f.Client.Name,
		Namespace:         f.Client.Namespace,
		DeviceType:        device,
		AppID:             f.Client.AppID,
		Address:           f.Client.Address,
		ConnectRetries:    f.Client.ConnectRetries,
		ConnectRetryDelay: f.Client.ConnectRetryDelay,
		ConnectTimeout:    f.Client.ConnectTimeout,
		IdleTimeout:       f.Client.IdleTimeout,
		LockTimeout:       f.Client.LockTimeout,
		PairingTimeout:    f.Client.PairingTimeout,
		Exchange:          exchange.Params{CommandTimeout: f.Client.CommandTimeout},
	}
}

var logLevels = map[string]logging.LogLevel{
	"disabled": logging.LogLevelDisabled,
	"error":    logging.LogLevelError,
	"warn":     logging.LogLevelWarn,
	"info":     logging.LogLevelInfo,
	"debug":    logging.LogLevelDebug,
	"trace":    logging.LogLevelTrace,
}

// ParseLogLevel parses a level name such as "debug".
func ParseLogLevel(s string) (logging.LogLevel, error) {
	l, ok := logLevels[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}
	return l, nil
}

// LoggerFactory returns a pion logger factory at the configured level.
func (f *File) LoggerFactory() logging.LoggerFactory {
	level, err := ParseLogLevel(f.Log.Level)
	if err != nil {
		level = logging.LogLevelInfo
	}
	lf := logging.NewDefaultLoggerFactory()
	lf.DefaultLogLevel = level
	return lf
}
