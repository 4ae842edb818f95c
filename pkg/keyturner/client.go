// Package keyturner is the client for keyturner smart locks and openers.
//
// A Client owns one paired device: its credentials, the link to it and the
// command engine. Every operation that touches the link or the credentials
// runs under a single binary semaphore, so at most one exchange is in flight
// and the key only changes while nothing is using it.
//
//	client, _ := keyturner.NewClient(keyturner.Config{Link: link, Store: store})
//	defer client.Close()
//
//	if !client.IsPaired() {
//		// feed advertisements until a device in pairing mode is seen
//		client.HandleAdvertisement(adv)
//		client.Pair()
//	}
//	client.LockAction(device.ActionUnlock)
package keyturner

import (
	"errors"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/exchange"
	"github.com/backkem/keyturner/pkg/message"
	"github.com/backkem/keyturner/pkg/session"
)

// Client is a connection manager and command executor for one device.
type Client struct {
	config  Config
	log     logging.LeveledLogger
	profile ble.Profile
	session *session.Session
	inbox   *exchange.Inbox
	engine  *exchange.Engine
	backoff *exchange.BackoffCalculator

	// sem is the binary semaphore serializing link and credential use.
	sem chan struct{}

	mu         sync.Mutex
	codec      *message.Codec
	subscribed bool
	idle       *time.Timer
	closed     bool
	beacon     bool
}

// NewClient creates a client and loads stored credentials.
func NewClient(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	c := &Client{
		config:  config,
		profile: ble.ProfileFor(config.DeviceType),
		session: session.New(config.Namespace, config.Name),
		inbox:   exchange.NewInbox(config.InboxSize),
		backoff: exchange.NewBackoffCalculator(nil),
		sem:     make(chan struct{}, 1),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("keyturner")
	}

	if err := c.session.Load(config.Store); err != nil {
		return nil, err
	}
	if config.Address != "" && c.session.Address() == "" {
		if err := c.session.SetAddress(config.Address); err != nil {
			return nil, err
		}
	}
	if c.session.IsPaired() {
		codec, err := c.session.Codec()
		if err != nil {
			return nil, err
		}
		c.codec = codec
		if c.log != nil {
			c.log.Infof("loaded credentials for %s", c.session.Address())
		}
	}
	config.Metrics.SetPaired(c.session.IsPaired())

	engine, err := exchange.NewEngine(exchange.Config{
		Sender:        c,
		Inbox:         c.inbox,
		Clock:         config.Clock,
		Params:        config.Exchange,
		MaxWriteSize:  config.Link.MaxWriteSize(),
		PIN:           c.session.PIN,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	c.engine = engine
	return c, nil
}

// IsPaired reports whether the client holds credentials.
func (c *Client) IsPaired() bool {
	return c.session.IsPaired()
}

// Session returns a snapshot of the session without key material.
func (c *Client) Session() session.Info {
	return c.session.Info()
}

// Profile returns the GATT profile in use.
func (c *Client) Profile() ble.Profile {
	return c.profile
}

// CommandState returns the engine's command state.
func (c *Client) CommandState() exchange.CommandState {
	return c.engine.Snapshot()
}

// Execute runs action against the paired device and blocks until it ends.
//
// NotPaired is returned before the link is touched. Failure to acquire the
// client within LockTimeout, or to connect, yields ResultError.
func (c *Client) Execute(action command.Action) exchange.Response {
	start := time.Now()
	resp := c.execute(action)
	c.config.Metrics.ObserveCommand(action.Command.String(), resp.Result.String(), time.Since(start))
	return resp
}

func (c *Client) execute(action command.Action) exchange.Response {
	if !c.IsPaired() {
		return exchange.Response{Result: exchange.ResultNotPaired, Err: ErrNotPaired}
	}
	if err := c.acquire(); err != nil {
		return exchange.Response{Result: exchange.ResultError, Err: err}
	}
	defer c.release()

	if err := c.connect(); err != nil {
		return exchange.Response{Result: exchange.ResultError, Err: err}
	}

	resp := c.engine.Run(action)
	if resp.Result != exchange.ResultSuccess && c.log != nil {
		c.log.Infof("%s: %s (%s)", action.Command, resp.Result, resp.ErrorCode)
	}
	if resp.ErrorCode == command.ErrorBadPIN {
		c.emit(Event{Type: EventBadPin, Address: c.session.Address(), ErrorCode: resp.ErrorCode})
	}
	c.touch()
	return resp
}

// Send implements exchange.Sender: it encrypts and writes one command on
// the data channel.
func (c *Client) Send(cmd command.Command, payload []byte) error {
	c.mu.Lock()
	codec := c.codec
	c.mu.Unlock()
	if codec == nil {
		return ErrNotPaired
	}

	data, err := codec.Encrypt(cmd, payload)
	if err != nil {
		return err
	}
	if c.log != nil {
		c.log.Tracef("send %s (%d bytes)", cmd, len(data))
	}
	c.touch()
	if err := c.config.Link.Write(ble.ChannelData, data); err != nil {
		if isLinkError(err) {
			c.mu.Lock()
			c.subscribed = false
			c.mu.Unlock()
		}
		return err
	}
	return nil
}

// SetPin stores the security PIN used for ChallengePin commands. It does
// not change the PIN on the device; see SetSecurityPin.
func (c *Client) SetPin(pin uint16) error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	c.session.SetPIN(pin)
	return c.session.Save(c.config.Store)
}

// Unpair forgets the device: the link is dropped, the stored credentials
// are deleted and the key is cleared from memory.
func (c *Client) Unpair() error {
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	address := c.session.Address()
	c.disconnect()

	c.mu.Lock()
	if c.codec != nil {
		c.codec.Zeroize()
		c.codec = nil
	}
	c.beacon = false
	c.mu.Unlock()

	err := c.session.Delete(c.config.Store)
	c.config.Metrics.SetPaired(false)
	if c.log != nil {
		c.log.Infof("unpaired %s", address)
	}
	c.emit(Event{Type: EventUnpaired, Address: address})
	return err
}

// Close drops the link and clears the key from memory. Stored credentials
// are kept.
func (c *Client) Close() error {
	if err := c.acquire(); err != nil {
		if errors.Is(err, ErrClosed) {
			return nil
		}
		return err
	}
	defer c.release()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.disconnect()

	c.mu.Lock()
	if c.codec != nil {
		c.codec.Zeroize()
		c.codec = nil
	}
	c.mu.Unlock()
	c.session.Zeroize()
	return nil
}

// acquire takes the semaphore within LockTimeout.
func (c *Client) acquire() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}

	timer := time.NewTimer(c.config.LockTimeout)
	defer timer.Stop()
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-timer.C:
		if c.log != nil {
			c.log.Warnf("could not acquire client within %v", c.config.LockTimeout)
		}
		return ErrLockTimeout
	}
}

// tryAcquire takes the semaphore only if it is free.
func (c *Client) tryAcquire() bool {
	select {
	case c.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *Client) release() {
	<-c.sem
}

// isLinkError reports whether err came from the transport.
func isLinkError(err error) bool {
	return errors.Is(err, ble.ErrNotConnected) || errors.Is(err, ble.ErrWriteFailed)
}
