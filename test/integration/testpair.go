// Package integration provides end-to-end tests of the keyturner client
// against the simulated lock.
package integration

import (
	"testing"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/exchange"
	"github.com/backkem/keyturner/pkg/keyturner"
	"github.com/backkem/keyturner/pkg/metrics"
	"github.com/backkem/keyturner/pkg/simulator"
	"github.com/backkem/keyturner/pkg/storage"
)

// TestPair holds a client and a simulated lock connected over a pipe.
//
// Example usage:
//
//	pair := NewTestPair(t, DefaultTestPairConfig())
//	defer pair.Close()
//	pair.Pair()
//	pair.Client.LockAction(device.ActionUnlock)
type TestPair struct {
	// Client is the client under test.
	Client *keyturner.Client

	// Lock is the simulated device.
	Lock *simulator.Lock

	// Pipe connects them.
	Pipe *ble.Pipe

	// Store holds the client's credentials.
	Store storage.Store

	// Metrics records the client's activity.
	Metrics *metrics.Metrics

	// Events receives every client event.
	Events chan keyturner.Event

	config TestPairConfig
	t      *testing.T
}

// TestPairConfig configures the test pair creation.
type TestPairConfig struct {
	// DeviceType of the simulated lock and the client profile.
	DeviceType ble.DeviceType

	// PIN of the simulated lock. The client is told the same PIN after
	// pairing.
	PIN uint16

	// Store for the client. Defaults to a MemoryStore.
	Store storage.Store

	// ClientName is shown in the lock's authorization list.
	ClientName string

	// CommandTimeout for the engine. Defaults to 2 seconds.
	CommandTimeout time.Duration

	// IdleTimeout of the client. Zero disables idle disconnects.
	IdleTimeout time.Duration

	// LoggerFactory for logging. If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DefaultTestPairConfig returns default configuration for test pairs.
func DefaultTestPairConfig() TestPairConfig {
	return TestPairConfig{
		PIN:            1234,
		ClientName:     "integration",
		CommandTimeout: 2 * time.Second,
	}
}

// NewTestPair creates an unpaired client and a lock in pairing mode.
func NewTestPair(t *testing.T, config TestPairConfig) *TestPair {
	t.Helper()

	if config.CommandTimeout == 0 {
		config.CommandTimeout = 2 * time.Second
	}
	if config.Store == nil {
		config.Store = storage.NewMemoryStore()
	}

	pipeConfig := ble.DefaultPipeConfig()
	pipeConfig.LoggerFactory = config.LoggerFactory
	p := ble.NewPipeWithConfig(pipeConfig)

	lock, err := simulator.New(p, simulator.Config{
		Type:          config.DeviceType,
		PIN:           config.PIN,
		PairingMode:   true,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		_ = p.Close()
		t.Fatalf("failed to create simulator: %v", err)
	}

	pair := &TestPair{
		Lock:    lock,
		Pipe:    p,
		Store:   config.Store,
		Metrics: metrics.New(),
		Events:  make(chan keyturner.Event, 64),
		config:  config,
		t:       t,
	}
	pair.Client = pair.NewClient()
	return pair
}

// NewClient creates another client over the pair's pipe and store, as a
// restarted process would.
func (p *TestPair) NewClient() *keyturner.Client {
	p.t.Helper()

	idle := p.config.IdleTimeout
	if idle == 0 {
		idle = -1
	}
	client, err := keyturner.NewClient(keyturner.Config{
		Name:              p.config.ClientName,
		DeviceType:        p.config.DeviceType,
		Link:              p.Pipe.Link(),
		Store:             p.Store,
		ConnectRetryDelay: time.Millisecond,
		IdleTimeout:       idle,
		PairingTimeout:    5 * time.Second,
		Exchange:          exchange.Params{CommandTimeout: p.config.CommandTimeout},
		Metrics:           p.Metrics,
		OnEvent: func(ev keyturner.Event) {
			select {
			case p.Events <- ev:
			default:
			}
		},
		LoggerFactory: p.config.LoggerFactory,
	})
	if err != nil {
		p.t.Fatalf("failed to create client: %v", err)
	}
	return client
}

// Pair discovers the lock from its advertisement and pairs with it.
func (p *TestPair) Pair() {
	p.t.Helper()

	if !p.Client.HandleAdvertisement(p.Lock.Advertisement()) {
		p.t.Fatalf("client ignored the pairing advertisement")
	}
	result, err := p.Client.Pair()
	if err != nil || result != keyturner.PairingSuccess {
		p.t.Fatalf("pairing failed: %s: %v", result, err)
	}
	if err := p.Client.SetPin(p.config.PIN); err != nil {
		p.t.Fatalf("failed to store PIN: %v", err)
	}
}

// WaitEvent waits for an event of type want, skipping others.
func (p *TestPair) WaitEvent(want keyturner.EventType, timeout time.Duration) keyturner.Event {
	p.t.Helper()

	deadline := time.After(timeout)
	for {
		select {
		case ev := <-p.Events:
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			p.t.Fatalf("timed out waiting for %s", want)
			return keyturner.Event{}
		}
	}
}

// Close shuts down the client and the pipe.
func (p *TestPair) Close() {
	if err := p.Client.Close(); err != nil {
		p.t.Errorf("client close: %v", err)
	}
	if err := p.Pipe.Close(); err != nil {
		p.t.Errorf("pipe close: %v", err)
	}
}
