package simulator

import (
	"context"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/message"
	"github.com/backkem/keyturner/pkg/pairing"
)

func attach(t *testing.T, config Config) (*ble.Pipe, *Lock, chan *message.Frame) {
	t.Helper()
	p := ble.NewPipe()
	l, err := New(p, config)
	require.NoError(t, err)

	link := p.Link()
	require.NoError(t, link.Connect(context.Background(), p.Address()))
	frames := make(chan *message.Frame, 8)
	require.NoError(t, link.Subscribe(ble.ChannelPairing, func(b []byte) {
		if f, err := message.DecodePlain(b); err == nil {
			frames <- f
		}
	}))
	return p, l, frames
}

func writePlain(t *testing.T, p *ble.Pipe, f *message.Frame) {
	t.Helper()
	data, err := message.EncodePlain(f.Command, f.Payload)
	require.NoError(t, err)
	require.NoError(t, p.Link().Write(ble.ChannelPairing, data))
}

func next(t *testing.T, frames chan *message.Frame) *message.Frame {
	t.Helper()
	select {
	case f := <-frames:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
		return nil
	}
}

func TestLockRejectsPairingOutsidePairingMode(t *testing.T) {
	defer test.CheckRoutines(t)()

	p, _, frames := attach(t, Config{})
	defer p.Close()

	writePlain(t, p, &message.Frame{Command: command.RequestData, Payload: []byte{0x03, 0x00}})
	f := next(t, frames)
	code, ok := f.ErrorCode()
	require.True(t, ok)
	assert.Equal(t, command.ErrorNotPairing, code)
}

func TestLockPairsWithHandshake(t *testing.T) {
	defer test.CheckRoutines(t)()

	p, l, frames := attach(t, Config{PairingMode: true, AuthID: 7})
	defer p.Close()

	h, err := pairing.NewHandshake(pairing.Config{Name: "sim-test", AppID: 42})
	require.NoError(t, err)
	out, err := h.Start(time.Now())
	require.NoError(t, err)

	for !h.State().IsTerminal() {
		if out != nil {
			writePlain(t, p, out)
		}
		out, err = h.Step(next(t, frames))
		require.NoError(t, err)
	}

	require.Equal(t, pairing.StateSuccess, h.State())
	res, err := h.Result()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), res.AuthID)
	assert.True(t, l.IsPaired())
	assert.Equal(t, "sim-test", l.ClientName())
	assert.Empty(t, l.Advertisement().ServiceUUIDs, "pairing mode ends after pairing")
}

func TestLockRejectsReplyOpcodes(t *testing.T) {
	defer test.CheckRoutines(t)()

	p, l, frames := attach(t, Config{PairingMode: true, AuthID: 3})
	defer p.Close()

	h, err := pairing.NewHandshake(pairing.Config{Name: "sim-test"})
	require.NoError(t, err)
	out, err := h.Start(time.Now())
	require.NoError(t, err)
	for !h.State().IsTerminal() {
		if out != nil {
			writePlain(t, p, out)
		}
		out, err = h.Step(next(t, frames))
		require.NoError(t, err)
	}
	res, err := h.Result()
	require.NoError(t, err)
	codec := message.NewCodec(res.Key, res.AuthID)

	replies := make(chan *message.Frame, 4)
	require.NoError(t, p.Link().Subscribe(ble.ChannelData, func(b []byte) {
		if f, err := codec.Decrypt(b); err == nil {
			replies <- f
		}
	}))

	for _, cmd := range []command.Command{command.Status, command.KeyturnerStates} {
		data, err := codec.Encrypt(cmd, []byte{0x00})
		require.NoError(t, err)
		require.NoError(t, p.Link().Write(ble.ChannelData, data))

		f := next(t, replies)
		code, ok := f.ErrorCode()
		require.True(t, ok, "%s: got %s", cmd, f.Command)
		assert.Equal(t, command.ErrorUnknown, code, "%s", cmd)
	}
	assert.Equal(t, []command.Command{command.Status, command.KeyturnerStates}, l.Received())
}

func TestLockAdvertisement(t *testing.T) {
	p := ble.NewPipe()
	defer p.Close()

	l, err := New(p, Config{PairingMode: true})
	require.NoError(t, err)
	profile := ble.ProfileFor(ble.DeviceSmartLock)

	adv := l.Advertisement()
	assert.Equal(t, p.Address(), adv.Address)
	assert.True(t, profile.IsPairingAdvertisement(adv))

	l.SetPairingMode(false)
	beacon, ok := profile.IsDataBeacon(l.Advertisement())
	require.True(t, ok)
	assert.False(t, beacon.StatusChanged())

	l.Touch()
	beacon, ok = profile.IsDataBeacon(l.Advertisement())
	require.True(t, ok)
	assert.True(t, beacon.StatusChanged())
}

func TestScannerStopsOnCancel(t *testing.T) {
	defer test.CheckRoutines(t)()

	p := ble.NewPipe()
	defer p.Close()
	l, err := New(p, Config{PairingMode: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	seen := 0
	err = NewScanner(l).Scan(ctx, func(adv ble.Advertisement) {
		seen++
		if seen == 3 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, seen)
}
