package keyturner

import (
	"context"
	"fmt"
	"time"

	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/exchange"
	"github.com/backkem/keyturner/pkg/message"
)

// connect makes sure the link is up and both channels are subscribed. It
// retries up to ConnectRetries times with a jittered delay in between.
// The caller holds the semaphore.
func (c *Client) connect() error {
	link := c.config.Link

	c.mu.Lock()
	ready := c.subscribed && link.IsConnected()
	c.mu.Unlock()
	if ready {
		return nil
	}

	address := c.session.Address()
	if address == "" {
		return ErrNoAddress
	}

	var lastErr error
	for attempt := 0; attempt < c.config.ConnectRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoff.Calculate(c.config.ConnectRetryDelay, attempt-1)
			if c.log != nil {
				c.log.Debugf("connect retry %d in %v", attempt, delay)
			}
			time.Sleep(delay)
		}

		lastErr = c.connectOnce(address)
		c.config.Metrics.ObserveConnect(lastErr)
		if lastErr == nil {
			c.touch()
			return nil
		}
		if c.log != nil {
			c.log.Warnf("connect to %s: %v", address, lastErr)
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %w", ErrConnect, address, c.config.ConnectRetries, lastErr)
}

func (c *Client) connectOnce(address string) error {
	link := c.config.Link

	ctx, cancel := context.WithTimeout(context.Background(), c.config.ConnectTimeout)
	defer cancel()
	if err := link.Connect(ctx, address); err != nil {
		return err
	}

	// A refused subscription means replies would never arrive.
	if err := link.Subscribe(ble.ChannelPairing, c.onPairingNotification); err != nil {
		_ = link.Disconnect()
		return fmt.Errorf("subscribe %s: %w", ble.ChannelPairing, err)
	}
	if err := link.Subscribe(ble.ChannelData, c.onDataNotification); err != nil {
		_ = link.Disconnect()
		return fmt.Errorf("subscribe %s: %w", ble.ChannelData, err)
	}

	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	if c.log != nil {
		c.log.Infof("connected to %s", address)
	}
	return nil
}

// disconnect drops the link and stops the idle timer. The caller holds the
// semaphore.
func (c *Client) disconnect() {
	c.mu.Lock()
	c.subscribed = false
	if c.idle != nil {
		c.idle.Stop()
		c.idle = nil
	}
	c.mu.Unlock()

	if c.config.Link.IsConnected() {
		if err := c.config.Link.Disconnect(); err != nil && c.log != nil {
			c.log.Warnf("disconnect: %v", err)
		}
	}
}

// touch pushes the idle disconnect out by IdleTimeout.
func (c *Client) touch() {
	if c.config.IdleTimeout < 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.idle == nil {
		c.idle = time.AfterFunc(c.config.IdleTimeout, c.onIdle)
		return
	}
	c.idle.Reset(c.config.IdleTimeout)
}

// onIdle disconnects a quiet link. While an operation holds the client the
// timer is re-armed instead.
func (c *Client) onIdle() {
	if !c.tryAcquire() {
		c.touch()
		return
	}
	defer c.release()

	c.mu.Lock()
	c.idle = nil
	c.mu.Unlock()

	if !c.config.Link.IsConnected() {
		return
	}
	if c.log != nil {
		c.log.Debugf("idle for %v, disconnecting", c.config.IdleTimeout)
	}
	c.disconnect()
	c.emit(Event{Type: EventDisconnected, Address: c.session.Address()})
}

// onPairingNotification decodes a plain frame from the pairing channel.
func (c *Client) onPairingNotification(data []byte) {
	f, err := message.DecodePlain(data)
	c.deliver(f, err)
}

// onDataNotification decrypts a frame from the data channel.
func (c *Client) onDataNotification(data []byte) {
	c.mu.Lock()
	codec := c.codec
	c.mu.Unlock()
	if codec == nil {
		c.config.Metrics.DroppedFrame("unpaired")
		return
	}
	f, err := codec.Decrypt(data)
	c.deliver(f, err)
}

func (c *Client) deliver(f *message.Frame, err error) {
	c.touch()
	if err != nil {
		c.config.Metrics.DroppedFrame(dropReason(err))
		if c.log != nil {
			c.log.Debugf("dropping notification: %v", err)
		}
		f = nil
	} else if c.log != nil {
		c.log.Tracef("received %s (%d bytes)", f.Command, len(f.Payload))
	}
	if c.inbox.Push(exchange.Inbound{Frame: f, Err: err}) {
		c.config.Metrics.DroppedFrame("overflow")
	}
}

func dropReason(err error) string {
	switch err {
	case message.ErrCRCMismatch:
		return "crc"
	case message.ErrDecryptionFailed:
		return "decrypt"
	case message.ErrInvalidLength, message.ErrMessageTooShort:
		return "length"
	case message.ErrAuthIDMismatch:
		return "authid"
	default:
		return "other"
	}
}
