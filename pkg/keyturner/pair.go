package keyturner

import (
	"errors"
	"fmt"

	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/crypto"
	"github.com/backkem/keyturner/pkg/message"
	"github.com/backkem/keyturner/pkg/pairing"
)

// PairingResult is the outcome of Pair.
type PairingResult int

const (
	// PairingPairing means no device in pairing mode has been seen yet.
	PairingPairing PairingResult = iota
	PairingSuccess
	PairingFailed
	PairingTimeout
)

// String returns the result name.
func (r PairingResult) String() string {
	switch r {
	case PairingPairing:
		return "Pairing"
	case PairingSuccess:
		return "Success"
	case PairingFailed:
		return "Failed"
	case PairingTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Pair runs the pairing handshake with the device recorded from a pairing
// advertisement (or Config.Address) and stores the resulting credentials.
//
// An already paired client returns PairingSuccess without touching the
// link. The handshake is bounded by PairingTimeout.
func (c *Client) Pair() (PairingResult, error) {
	result, err := c.pair()
	c.config.Metrics.ObservePairing(result.String())
	if err != nil && c.log != nil {
		c.log.Warnf("pairing: %s: %v", result, err)
	}
	return result, err
}

func (c *Client) pair() (PairingResult, error) {
	if c.IsPaired() {
		return PairingSuccess, nil
	}
	if err := c.acquire(); err != nil {
		return PairingFailed, err
	}
	defer c.release()

	if c.session.Address() == "" {
		return PairingPairing, ErrNoAddress
	}
	if err := c.connect(); err != nil {
		return PairingFailed, err
	}

	h, err := pairing.NewHandshake(pairing.Config{
		Name:          c.config.Name,
		IDType:        c.config.IDType,
		AppID:         c.config.AppID,
		Timeout:       c.config.PairingTimeout,
		Rand:          c.config.Rand,
		LoggerFactory: c.config.LoggerFactory,
	})
	if err != nil {
		return PairingFailed, err
	}
	defer h.Zeroize()

	c.inbox.Drain()
	clock := c.config.Clock

	out, err := h.Start(clock.Now())
	if err != nil {
		return PairingFailed, err
	}
	if err := c.writePlain(out); err != nil {
		return PairingFailed, err
	}

	for !h.State().IsTerminal() {
		var in *message.Frame
		select {
		case v := <-c.inbox.C():
			in = v.Frame
		case <-clock.After(c.config.Exchange.PollInterval):
		}

		if in != nil {
			out, err := h.Step(in)
			if err != nil && !errors.Is(err, pairing.ErrInvalidMessage) && !errors.Is(err, pairing.ErrPeerError) {
				return PairingFailed, err
			}
			if err != nil && c.log != nil {
				c.log.Debugf("pairing step: %v", err)
			}
			if err := c.writePlain(out); err != nil {
				return PairingFailed, err
			}
		}
		h.Expire(clock.Now())
	}

	switch h.State() {
	case pairing.StateSuccess:
		return c.storeCredentials(h)
	case pairing.StateTimeout:
		return PairingTimeout, pairing.ErrNotComplete
	default:
		if code, ok := h.PeerError(); ok {
			return PairingFailed, fmt.Errorf("%w: %s", pairing.ErrPeerError, code)
		}
		return PairingFailed, pairing.ErrNotComplete
	}
}

func (c *Client) storeCredentials(h *pairing.Handshake) (PairingResult, error) {
	res, err := h.Result()
	if err != nil {
		return PairingFailed, err
	}
	defer res.Zeroize()

	c.session.SetCredentials(res.Key, res.AuthID)
	// Save puts the store back as it was on failure; memory follows.
	if err := c.session.Save(c.config.Store); err != nil {
		c.session.SetCredentials([crypto.KeySize]byte{}, 0)
		return PairingFailed, err
	}

	codec, err := c.session.Codec()
	if err != nil {
		return PairingFailed, err
	}
	c.mu.Lock()
	c.codec = codec
	c.mu.Unlock()

	c.config.Metrics.SetPaired(true)
	if c.log != nil {
		c.log.Infof("paired with %s (device %s)", c.session.Address(), res.DeviceUUID)
	}
	c.emit(Event{Type: EventPaired, Address: c.session.Address()})
	return PairingSuccess, nil
}

// writePlain sends a pairing frame. A nil frame is a no-op.
func (c *Client) writePlain(f *message.Frame) error {
	if f == nil {
		return nil
	}
	data, err := message.EncodePlain(f.Command, f.Payload)
	if err != nil {
		return err
	}
	if c.log != nil {
		c.log.Tracef("send %s (plain, %d bytes)", f.Command, len(data))
	}
	c.touch()
	return c.config.Link.Write(ble.ChannelPairing, data)
}
