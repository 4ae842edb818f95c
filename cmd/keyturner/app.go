package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/backkem/keyturner/internal/config"
)

// Build information, set via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

const (
	configKey = "config"
	envKey    = "env"
)

func newApp() *cli.App {
	return &cli.App{
		Name:    "keyturner",
		Usage:   "pair with and control keyturner smart locks over BLE",
		Version: fmt.Sprintf("%s (commit: %s)", Version, Commit),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			scanCommand(),
			pairCommand(),
			unpairCommand(),
			sessionCommand(),
			actionCommand("unlock", "unlock the door"),
			actionCommand("lock", "lock the door"),
			actionCommand("unlatch", "unlock and pull the latch"),
			lockActionCommand(),
			stateCommand(),
			batteryCommand(),
			deviceConfigCommand(),
			timeSyncCommand(),
			pinCommand(),
			watchCommand(),
		},
		Before: func(c *cli.Context) error {
			f, err := loadConfig(c)
			if err != nil {
				return err
			}
			c.App.Metadata[configKey] = f
			return nil
		},
		After: func(c *cli.Context) error {
			if e, ok := c.App.Metadata[envKey].(*env); ok {
				return e.Close()
			}
			return nil
		},
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "YAML configuration file",
			EnvVars: []string{"KEYTURNER_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "name",
			Usage: "client name shown in the device's authorization list",
		},
		&cli.StringFlag{
			Name:  "device",
			Usage: "device type: smartlock, opener",
		},
		&cli.StringFlag{
			Name:    "address",
			Aliases: []string{"a"},
			Usage:   "device address (AA:BB:CC:DD:EE:FF); learned while pairing if unset",
			EnvVars: []string{"KEYTURNER_ADDRESS"},
		},
		&cli.StringFlag{
			Name:  "store-backend",
			Usage: "credential store: memory, file, badger",
		},
		&cli.StringFlag{
			Name:    "store",
			Usage:   "credential store path (file or badger directory)",
			EnvVars: []string{"KEYTURNER_STORE"},
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "command timeout",
		},
		&cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve Prometheus metrics on this address",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "disabled, error, warn, info, debug, trace",
		},
		&cli.BoolFlag{
			Name:  "simulate",
			Usage: "run against an in-process simulated lock",
		},
	}
}

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(c *cli.Context) (config.File, error) {
	f, err := config.Load(c.String("config"))
	if err != nil {
		return config.File{}, err
	}

	override := func(flag string, dst *string) {
		if c.IsSet(flag) {
			*dst = c.String(flag)
		}
	}
	override("name", &f.Client.Name)
	override("device", &f.Client.Device)
	override("address", &f.Client.Address)
	override("store-backend", &f.Storage.Backend)
	override("store", &f.Storage.Path)
	override("metrics-addr", &f.Metrics.Addr)
	override("log-level", &f.Log.Level)
	if c.IsSet("timeout") {
		f.Client.CommandTimeout = c.Duration("timeout")
	}
	if c.IsSet("store") && !c.IsSet("store-backend") && f.Storage.Backend == config.BackendMemory {
		f.Storage.Backend = config.BackendFile
	}

	if err := f.Validate(); err != nil {
		return config.File{}, err
	}
	return f, nil
}

// envFrom returns the command environment, creating it on first use so
// that help and version never touch the radio.
func envFrom(c *cli.Context) (*env, error) {
	if e, ok := c.App.Metadata[envKey].(*env); ok {
		return e, nil
	}
	f, ok := c.App.Metadata[configKey].(config.File)
	if !ok {
		return nil, fmt.Errorf("configuration not loaded")
	}
	e, err := newEnv(f, c.Bool("simulate"))
	if err != nil {
		return nil, err
	}
	c.App.Metadata[envKey] = e
	return e, nil
}
