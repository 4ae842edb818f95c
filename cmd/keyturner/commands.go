package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/device"
	"github.com/backkem/keyturner/pkg/keyturner"
)

// withClient runs fn against a paired client.
func withClient(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := envFrom(c)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(c.Context, time.Minute)
		defer cancel()
		if err := e.paired(ctx); err != nil {
			return err
		}
		return fn(c, e)
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "list nearby keyturner devices",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "duration", Value: 10 * time.Second, Usage: "how long to scan"},
		},
		Action: func(c *cli.Context) error {
			e, err := envFrom(c)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("duration"))
			defer cancel()

			profile := e.client.Profile()
			seen := make(map[string]bool)
			err = e.scanner.Scan(ctx, func(adv ble.Advertisement) {
				var kind string
				if profile.IsPairingAdvertisement(adv) {
					kind = "pairing"
				} else if b, ok := profile.IsDataBeacon(adv); ok {
					kind = "paired"
					if b.StatusChanged() {
						kind += ", new status"
					}
				} else {
					return
				}
				key := adv.Address + kind
				if seen[key] {
					return
				}
				seen[key] = true
				fmt.Fprintf(c.App.Writer, "%s  %-20s  %4d dBm  %s\n", adv.Address, adv.Name, adv.RSSI, kind)
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}

func pairCommand() *cli.Command {
	return &cli.Command{
		Name:  "pair",
		Usage: "pair with a device in pairing mode and store the credentials",
		Flags: []cli.Flag{
			&cli.DurationFlag{Name: "discover-timeout", Value: 30 * time.Second, Usage: "how long to look for a device"},
		},
		Action: func(c *cli.Context) error {
			e, err := envFrom(c)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("discover-timeout"))
			defer cancel()

			result, err := e.pair(ctx)
			if err != nil {
				return fmt.Errorf("pairing %s: %w", result, err)
			}
			info := e.client.Session()
			fmt.Fprintf(c.App.Writer, "paired with %s, authorization id %d\n", info.Address, info.AuthID)
			return nil
		},
	}
}

func unpairCommand() *cli.Command {
	return &cli.Command{
		Name:  "unpair",
		Usage: "forget the paired device and delete its credentials",
		Action: func(c *cli.Context) error {
			e, err := envFrom(c)
			if err != nil {
				return err
			}
			if !e.client.IsPaired() {
				fmt.Fprintln(c.App.Writer, "not paired")
				return nil
			}
			return e.client.Unpair()
		},
	}
}

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "show the stored session",
		Action: func(c *cli.Context) error {
			e, err := envFrom(c)
			if err != nil {
				return err
			}
			info := e.client.Session()
			w := c.App.Writer
			fmt.Fprintf(w, "Namespace:  %s\n", info.Namespace)
			fmt.Fprintf(w, "Name:       %s\n", info.Name)
			fmt.Fprintf(w, "Address:    %s\n", info.Address)
			fmt.Fprintf(w, "Paired:     %v\n", info.Paired)
			if info.Paired {
				fmt.Fprintf(w, "Auth ID:    %d\n", info.AuthID)
			}
			return nil
		},
	}
}

func actionCommand(name, usage string) *cli.Command {
	return &cli.Command{
		Name:  name,
		Usage: usage,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "suffix", Usage: "name suffix recorded in the device log"},
		},
		Action: withClient(func(c *cli.Context, e *env) error {
			a, err := device.ParseLockAction(name)
			if err != nil {
				return err
			}
			return runLockAction(c, e, a)
		}),
	}
}

func lockActionCommand() *cli.Command {
	return &cli.Command{
		Name:      "action",
		Usage:     "run any lock action (unlock, lock, unlatch, lockngo, lockngo-unlatch, full-lock, ...)",
		ArgsUsage: "<action>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "suffix", Usage: "name suffix recorded in the device log"},
		},
		Action: withClient(func(c *cli.Context, e *env) error {
			if c.NArg() != 1 {
				return errors.New("expected exactly one action")
			}
			a, err := device.ParseLockAction(c.Args().First())
			if err != nil {
				return err
			}
			return runLockAction(c, e, a)
		}),
	}
}

func runLockAction(c *cli.Context, e *env, a device.LockAction) error {
	if err := e.client.LockActionWithSuffix(a, c.String("suffix")); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: done\n", a)
	return nil
}

func stateCommand() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "show the lock state",
		Action: withClient(func(c *cli.Context, e *env) error {
			s, err := e.client.RequestKeyTurnerState()
			if err != nil {
				return err
			}
			printState(c, s)
			return nil
		}),
	}
}

func printState(c *cli.Context, s *device.KeyTurnerState) {
	w := c.App.Writer
	fmt.Fprintf(w, "Lock state:   %s\n", s.LockState)
	fmt.Fprintf(w, "Mode:         %s\n", s.Mode)
	fmt.Fprintf(w, "Trigger:      %s\n", s.Trigger)
	fmt.Fprintf(w, "Last action:  %s\n", s.LastLockAction)
	if t, err := s.CurrentTime.Time(); err == nil {
		fmt.Fprintf(w, "Device time:  %s\n", t.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Battery:      critical=%v charging=%v %d%%\n",
		device.BatteryCritical(s.BatteryState),
		device.BatteryCharging(s.BatteryState),
		device.BatteryPercent(s.BatteryState))
}

func batteryCommand() *cli.Command {
	return &cli.Command{
		Name:  "battery",
		Usage: "show the battery report",
		Action: withClient(func(c *cli.Context, e *env) error {
			b, err := e.client.RequestBatteryReport()
			if err != nil {
				return err
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Voltage:      %d mV\n", b.BatteryVoltage)
			fmt.Fprintf(w, "Drain:        %d mWs\n", b.BatteryDrain)
			fmt.Fprintf(w, "Max current:  %d mA\n", b.MaxTurnCurrent)
			fmt.Fprintf(w, "Resistance:   %d mOhm\n", b.BatteryResistance)
			return nil
		}),
	}
}

func deviceConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "device-config",
		Usage: "show the device configuration",
		Action: withClient(func(c *cli.Context, e *env) error {
			cfg, err := e.client.RequestConfig()
			if err != nil {
				return err
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Name:         %s\n", cfg.Name)
			fmt.Fprintf(w, "Device ID:    %d\n", cfg.DeviceID)
			fmt.Fprintf(w, "Position:     %.5f, %.5f\n", cfg.Latitude, cfg.Longitude)
			fmt.Fprintf(w, "Firmware:     %s\n", cfg.Firmware())
			return nil
		}),
	}
}

func timeSyncCommand() *cli.Command {
	return &cli.Command{
		Name:  "time-sync",
		Usage: "set the device clock to the local time (requires the PIN)",
		Action: withClient(func(c *cli.Context, e *env) error {
			if err := e.client.UpdateTime(time.Now()); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "device time updated")
			return nil
		}),
	}
}

func pinCommand() *cli.Command {
	parsePIN := func(c *cli.Context) (uint16, error) {
		if c.NArg() != 1 {
			return 0, errors.New("expected a PIN")
		}
		v, err := strconv.ParseUint(c.Args().First(), 10, 16)
		if err != nil {
			return 0, fmt.Errorf("invalid PIN: %w", err)
		}
		return uint16(v), nil
	}

	return &cli.Command{
		Name:  "pin",
		Usage: "manage the security PIN",
		Subcommands: []*cli.Command{
			{
				Name:      "store",
				Usage:     "remember the device PIN for commands that need it",
				ArgsUsage: "<pin>",
				Action: func(c *cli.Context) error {
					pin, err := parsePIN(c)
					if err != nil {
						return err
					}
					e, err := envFrom(c)
					if err != nil {
						return err
					}
					return e.client.SetPin(pin)
				},
			},
			{
				Name:  "verify",
				Usage: "check the stored PIN against the device",
				Action: withClient(func(c *cli.Context, e *env) error {
					if err := e.client.VerifySecurityPin(); err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, "PIN ok")
					return nil
				}),
			},
			{
				Name:      "set",
				Usage:     "change the device PIN",
				ArgsUsage: "<pin>",
				Action: withClient(func(c *cli.Context, e *env) error {
					pin, err := parsePIN(c)
					if err != nil {
						return err
					}
					return e.client.SetSecurityPin(pin)
				}),
			},
		},
	}
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "follow the device beacon and print the state whenever it changes",
		Action: withClient(func(c *cli.Context, e *env) error {
			ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			done := make(chan error, 1)
			go func() { done <- e.client.Watch(ctx, e.scanner) }()

			for {
				select {
				case err := <-done:
					return err
				case ev := <-e.events:
					fmt.Fprintf(c.App.Writer, "%s  %s\n", time.Now().Format(time.TimeOnly), ev.Type)
					if ev.Type != keyturner.EventStatusUpdated {
						continue
					}
					s, err := e.client.RequestKeyTurnerState()
					if err != nil {
						fmt.Fprintf(c.App.ErrWriter, "state: %v\n", err)
						continue
					}
					printState(c, s)
				}
			}
		}),
	}
}
