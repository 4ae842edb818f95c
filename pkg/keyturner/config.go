package keyturner

import (
	"io"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/exchange"
	"github.com/backkem/keyturner/pkg/metrics"
	"github.com/backkem/keyturner/pkg/pairing"
	"github.com/backkem/keyturner/pkg/storage"
)

// Defaults.
const (
	DefaultName              = "keyturner"
	DefaultNamespace         = "keyturner"
	DefaultConnectRetries    = 3
	DefaultConnectRetryDelay = 200 * time.Millisecond
	DefaultConnectTimeout    = 10 * time.Second
	DefaultIdleTimeout       = 2 * time.Second
	DefaultLockTimeout       = 5 * time.Second
)

// Config configures a Client.
type Config struct {
	// Name is shown in the device's authorization list.
	// Default: DefaultName
	Name string

	// Namespace is the storage namespace of the credentials. One namespace
	// holds one paired device.
	// Default: DefaultNamespace
	Namespace string

	// DeviceType selects the GATT profile.
	DeviceType ble.DeviceType

	// IDType and AppID identify this client to the device.
	IDType pairing.IDType
	AppID  uint32

	// Address presets the peer address. Normally it is learned from a
	// pairing advertisement or loaded from storage.
	Address string

	// Link is the transport (required).
	Link ble.Link

	// Store persists credentials.
	// Default: an in-memory store
	Store storage.Store

	// Connection management.
	ConnectRetries    int           // Default: DefaultConnectRetries
	ConnectRetryDelay time.Duration // Default: DefaultConnectRetryDelay
	ConnectTimeout    time.Duration // Default: DefaultConnectTimeout
	IdleTimeout       time.Duration // Default: DefaultIdleTimeout; negative disables
	LockTimeout       time.Duration // Default: DefaultLockTimeout

	// PairingTimeout bounds a pairing handshake.
	// Default: pairing.DefaultTimeout
	PairingTimeout time.Duration

	// Exchange tunes the command engine.
	Exchange exchange.Params

	// InboxSize is the capacity of the inbound frame queue.
	// Default: exchange.DefaultInboxSize
	InboxSize int

	// Clock drives command and pairing deadlines.
	// Default: exchange.SystemClock
	Clock exchange.Clock

	// Rand supplies keys and nonces.
	// Default: crypto/rand.Reader
	Rand io.Reader

	// Metrics records activity (optional).
	Metrics *metrics.Metrics

	// OnEvent receives client events (optional). It is called from the
	// goroutine that observed the event and must not block.
	OnEvent func(Event)

	// LoggerFactory for logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Link == nil {
		return ErrLinkRequired
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Name == "" {
		c.Name = DefaultName
	}
	if len(c.Name) > pairing.NameSize {
		c.Name = c.Name[:pairing.NameSize]
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Store == nil {
		c.Store = storage.NewMemoryStore()
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = DefaultConnectRetries
	}
	if c.ConnectRetryDelay <= 0 {
		c.ConnectRetryDelay = DefaultConnectRetryDelay
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.PairingTimeout <= 0 {
		c.PairingTimeout = pairing.DefaultTimeout
	}
	c.Exchange = c.Exchange.WithDefaults()
	if c.InboxSize <= 0 {
		c.InboxSize = exchange.DefaultInboxSize
	}
	if c.Clock == nil {
		c.Clock = exchange.SystemClock
	}
}
