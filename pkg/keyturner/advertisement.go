package keyturner

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/backkem/keyturner/pkg/ble"
)

// HandleAdvertisement feeds one advertisement to the client and reports
// whether it came from the client's device.
//
// While unpaired, a device of the configured type advertising pairing mode
// becomes the pairing candidate, unless an operation is in progress. Once
// paired, the beacon of the paired device carries a heartbeat bit: a rising
// edge raises EventStatusUpdated and a falling edge EventStatusReset.
func (c *Client) HandleAdvertisement(adv ble.Advertisement) bool {
	if !c.IsPaired() {
		if !c.profile.IsPairingAdvertisement(adv) {
			return false
		}
		if strings.EqualFold(c.session.Address(), adv.Address) {
			return true
		}
		// The address is fixed while a pairing or command holds the client.
		if !c.tryAcquire() {
			if c.log != nil {
				c.log.Debugf("ignoring pairing advertisement from %s: busy", adv.Address)
			}
			return false
		}
		err := c.session.SetAddress(adv.Address)
		c.release()
		if err != nil {
			if c.log != nil {
				c.log.Debugf("ignoring pairing advertisement: %v", err)
			}
			return false
		}
		if c.log != nil {
			c.log.Infof("found %s in pairing mode at %s", c.profile.Type, adv.Address)
		}
		c.emit(Event{Type: EventDeviceDiscovered, Address: c.session.Address()})
		return true
	}

	address := c.session.Address()
	if !strings.EqualFold(address, adv.Address) {
		return false
	}
	beacon, ok := c.profile.IsDataBeacon(adv)
	if !ok {
		return true
	}

	changed := beacon.StatusChanged()
	c.mu.Lock()
	prev := c.beacon
	c.beacon = changed
	c.mu.Unlock()

	switch {
	case changed && !prev:
		c.emit(Event{Type: EventStatusUpdated, Address: address})
	case !changed && prev:
		c.emit(Event{Type: EventStatusReset, Address: address})
	}
	return true
}

// Discover scans until a device in pairing mode is found and returns its
// address. It returns the recorded address immediately if the client is
// already paired.
func (c *Client) Discover(ctx context.Context, scanner ble.Scanner) (string, error) {
	if c.IsPaired() {
		return c.session.Address(), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu    sync.Mutex
		found string
	)
	err := scanner.Scan(ctx, func(adv ble.Advertisement) {
		mu.Lock()
		defer mu.Unlock()
		if found == "" && c.HandleAdvertisement(adv) {
			found = c.session.Address()
			cancel()
		}
	})
	mu.Lock()
	defer mu.Unlock()
	if found != "" {
		return found, nil
	}
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", ble.ErrDeviceNotFound
	}
	return "", err
}

// Watch feeds every advertisement from scanner to HandleAdvertisement until
// ctx is done.
func (c *Client) Watch(ctx context.Context, scanner ble.Scanner) error {
	err := scanner.Scan(ctx, func(adv ble.Advertisement) {
		c.HandleAdvertisement(adv)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
