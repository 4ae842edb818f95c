package keyturner

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pion/transport/v3/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/device"
	"github.com/backkem/keyturner/pkg/exchange"
	"github.com/backkem/keyturner/pkg/metrics"
	"github.com/backkem/keyturner/pkg/session"
	"github.com/backkem/keyturner/pkg/simulator"
	"github.com/backkem/keyturner/pkg/storage"
	"github.com/backkem/keyturner/pkg/storage/storagetest"
)

const testPIN = 1234

// rig is a client wired to a simulated lock over a pipe.
type rig struct {
	pipe   *ble.Pipe
	lock   *simulator.Lock
	store  *storage.MemoryStore
	client *Client
	events chan Event
}

func newRig(t *testing.T, configure func(*Config)) *rig {
	t.Helper()
	p := ble.NewPipe()
	lock, err := simulator.New(p, simulator.Config{PairingMode: true, PIN: testPIN, AuthID: 5})
	require.NoError(t, err)

	r := &rig{
		pipe:   p,
		lock:   lock,
		store:  storage.NewMemoryStore(),
		events: make(chan Event, 32),
	}
	config := Config{
		Name:              "rig",
		AppID:             77,
		Address:           lock.Address(),
		Link:              p.Link(),
		Store:             r.store,
		ConnectRetryDelay: time.Millisecond,
		IdleTimeout:       -1,
		LockTimeout:       2 * time.Second,
		PairingTimeout:    5 * time.Second,
		Exchange:          exchange.Params{CommandTimeout: 2 * time.Second},
		OnEvent: func(ev Event) {
			select {
			case r.events <- ev:
			default:
			}
		},
	}
	if configure != nil {
		configure(&config)
	}
	r.client, err = NewClient(config)
	require.NoError(t, err)
	return r
}

// close shuts the client before the pipe so no goroutine outlives the test.
func (r *rig) close() {
	_ = r.client.Close()
	_ = r.pipe.Close()
}

func (r *rig) pair(t *testing.T) {
	t.Helper()
	result, err := r.client.Pair()
	require.NoError(t, err)
	require.Equal(t, PairingSuccess, result)
	require.NoError(t, r.client.SetPin(testPIN))
}

func (r *rig) waitEvent(t *testing.T, want EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-r.events:
			if ev.Type == want {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", want)
			return Event{}
		}
	}
}

func countCommand(cmds []command.Command, c command.Command) int {
	n := 0
	for _, v := range cmds {
		if v == c {
			n++
		}
	}
	return n
}

func TestNewClientRequiresLink(t *testing.T) {
	_, err := NewClient(Config{})
	assert.ErrorIs(t, err, ErrLinkRequired)
}

func TestPairAndLockAction(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()

	require.False(t, r.client.IsPaired())
	r.pair(t)
	r.waitEvent(t, EventPaired)

	info := r.client.Session()
	assert.True(t, info.Paired)
	assert.Equal(t, uint32(5), info.AuthID)
	assert.Equal(t, r.lock.Address(), info.Address)
	assert.True(t, r.lock.IsPaired())
	assert.Equal(t, "rig", r.lock.ClientName())

	for _, k := range []string{session.KeyAddress, session.KeyPIN, session.KeyKey, session.KeyAuthID} {
		v, err := r.store.Get(DefaultNamespace, k)
		require.NoError(t, err, k)
		assert.NotEmpty(t, v, k)
	}
	key, _ := r.store.Get(DefaultNamespace, session.KeyKey)
	assert.NotEqual(t, make([]byte, len(key)), key)

	require.NoError(t, r.client.LockAction(device.ActionUnlock))
	assert.Equal(t, device.LockStateUnlocked, r.lock.State().LockState)
	assert.Equal(t, exchange.StateIdle, r.client.CommandState().State)

	// Pairing again is a no-op.
	result, err := r.client.Pair()
	require.NoError(t, err)
	assert.Equal(t, PairingSuccess, result)
}

func TestPairWithoutAddress(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, func(c *Config) { c.Address = "" })
	defer r.close()

	result, err := r.client.Pair()
	assert.ErrorIs(t, err, ErrNoAddress)
	assert.Equal(t, PairingPairing, result)
	assert.Zero(t, r.pipe.Link().ConnectAttempts())
}

func TestPairRejectedOutsidePairingMode(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()
	r.lock.SetPairingMode(false)

	result, err := r.client.Pair()
	assert.Error(t, err)
	assert.Equal(t, PairingFailed, result)
	assert.False(t, r.client.IsPaired())
}

func TestExecuteNotPaired(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()

	resp := r.client.Execute(command.NewRequestData(command.KeyturnerStates))
	assert.Equal(t, exchange.ResultNotPaired, resp.Result)
	assert.ErrorIs(t, resp.Err, ErrNotPaired)
	assert.Zero(t, r.pipe.Link().ConnectAttempts())
}

func TestLockActionBusy(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()
	r.pair(t)

	r.lock.SetBusy(1)
	err := r.client.LockAction(device.ActionLock)
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, exchange.ResultLockBusy, ce.Result)
	assert.Equal(t, command.ErrorBusy, ce.ErrorCode)

	// The busy count is spent; the retry goes through.
	require.NoError(t, r.client.LockAction(device.ActionLock))
}

func TestCommandTimeout(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, func(c *Config) {
		c.Exchange.CommandTimeout = 100 * time.Millisecond
	})
	defer r.close()
	r.pair(t)

	r.lock.SetSilent(true)
	resp := r.client.Execute(command.NewRequestData(command.KeyturnerStates))
	assert.Equal(t, exchange.ResultTimeOut, resp.Result)
	assert.Equal(t, exchange.StateIdle, r.client.CommandState().State)

	r.lock.SetSilent(false)
	_, err := r.client.RequestKeyTurnerState()
	assert.NoError(t, err)
}

func TestLockActionWithoutAccepted(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()
	r.pair(t)

	r.lock.SetSkipAccept(true)
	require.NoError(t, r.client.LockActionWithSuffix(device.ActionUnlatch, "door"))
	assert.Equal(t, device.LockStateUnlatched, r.lock.State().LockState)
}

func TestConcurrentExecuteIsSerialized(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()
	r.pair(t)

	const n = 4
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- r.client.LockAction(device.ActionUnlock)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	// Every action got its own challenge, and no exchange interleaved with
	// another.
	received := r.lock.Received()
	require.Len(t, received, 2*n)
	for i := 0; i < n; i++ {
		assert.Equal(t, command.RequestData, received[2*i], "command %d", 2*i)
		assert.Equal(t, command.LockAction, received[2*i+1], "command %d", 2*i+1)
	}
}

func TestExecuteLockTimeout(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, func(c *Config) { c.LockTimeout = 50 * time.Millisecond })
	defer r.close()
	r.pair(t)

	require.NoError(t, r.client.acquire())
	resp := r.client.Execute(command.NewRequestData(command.KeyturnerStates))
	r.client.release()

	assert.Equal(t, exchange.ResultError, resp.Result)
	assert.ErrorIs(t, resp.Err, ErrLockTimeout)
}

func TestConnectRetry(t *testing.T) {
	defer test.CheckRoutines(t)()

	m := metrics.New()
	r := newRig(t, func(c *Config) { c.Metrics = m })
	defer r.close()

	r.pipe.Link().FailNextConnects(2)
	r.pair(t)
	assert.Equal(t, 3, r.pipe.Link().ConnectAttempts())
}

func TestConnectGivesUp(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()

	r.pipe.Link().FailNextConnects(DefaultConnectRetries)
	result, err := r.client.Pair()
	assert.ErrorIs(t, err, ErrConnect)
	assert.ErrorIs(t, err, ble.ErrConnectFailed)
	assert.Equal(t, PairingFailed, result)
	assert.Equal(t, DefaultConnectRetries, r.pipe.Link().ConnectAttempts())
}

func TestRefusedSubscriptionDisconnects(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()

	r.pipe.Link().RefuseSubscription(ble.ChannelData, true)
	result, err := r.client.Pair()
	assert.ErrorIs(t, err, ErrConnect)
	assert.ErrorIs(t, err, ble.ErrSubscribeRefused)
	assert.Equal(t, PairingFailed, result)
	assert.False(t, r.pipe.Link().IsConnected())
}

func TestIdleDisconnect(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, func(c *Config) { c.IdleTimeout = 50 * time.Millisecond })
	defer r.close()
	r.pair(t)

	r.waitEvent(t, EventDisconnected)
	assert.False(t, r.pipe.Link().IsConnected())

	// The next command reconnects.
	require.NoError(t, r.client.LockAction(device.ActionLock))
	assert.Equal(t, 2, r.pipe.Link().ConnectAttempts())
}

func TestHandleAdvertisementDiscovery(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, func(c *Config) { c.Address = "" })
	defer r.close()

	assert.False(t, r.client.HandleAdvertisement(ble.Advertisement{Address: "11:22:33:44:55:66"}))

	require.True(t, r.client.HandleAdvertisement(r.lock.Advertisement()))
	ev := r.waitEvent(t, EventDeviceDiscovered)
	assert.Equal(t, r.lock.Address(), ev.Address)
	assert.Equal(t, r.lock.Address(), r.client.Session().Address)

	r.pair(t)
}

func TestPairingAdvertisementIgnoredWhileBusy(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()

	other := r.lock.Advertisement()
	other.Address = "11:22:33:44:55:66"

	require.NoError(t, r.client.acquire())
	assert.False(t, r.client.HandleAdvertisement(other))
	r.client.release()
	assert.Equal(t, r.lock.Address(), r.client.Session().Address)

	assert.True(t, r.client.HandleAdvertisement(other))
	assert.Equal(t, other.Address, r.client.Session().Address)
}

func TestPairKeepsAddressDuringForeignAdvertisements(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()

	other := r.lock.Advertisement()
	other.Address = "11:22:33:44:55:66"

	// Once the link is up, Pair holds the client; feed another device's
	// pairing advertisements for the rest of the handshake.
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !r.pipe.Link().IsConnected() {
			select {
			case <-done:
				return
			case <-time.After(100 * time.Microsecond):
			}
		}
		for {
			select {
			case <-done:
				return
			case <-time.After(100 * time.Microsecond):
				r.client.HandleAdvertisement(other)
			}
		}
	}()

	result, err := r.client.Pair()
	close(done)
	wg.Wait()
	require.NoError(t, err)
	require.Equal(t, PairingSuccess, result)

	assert.Equal(t, r.lock.Address(), r.client.Session().Address)
	reloaded := session.New(DefaultNamespace, "rig")
	require.NoError(t, reloaded.Load(r.store))
	assert.Equal(t, r.lock.Address(), reloaded.Address())
}

func TestPairStoreFailureLeavesNothingPersisted(t *testing.T) {
	defer test.CheckRoutines(t)()

	mem := storage.NewMemoryStore()
	failing := storagetest.NewFailingStore(mem)
	failing.FailPut(session.KeyKey, true)

	r := newRig(t, func(c *Config) { c.Store = failing })
	defer r.close()

	result, err := r.client.Pair()
	assert.Equal(t, PairingFailed, result)
	assert.ErrorIs(t, err, storagetest.ErrInjected)
	assert.False(t, r.client.IsPaired())
	assert.Zero(t, mem.Len(), "no credential may be persisted by a failed pairing")
	for _, k := range []string{session.KeyKey, session.KeyAuthID} {
		_, err := mem.Get(DefaultNamespace, k)
		assert.ErrorIs(t, err, storage.ErrNotFound, k)
	}
}

func TestDiscover(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, func(c *Config) { c.Address = "" })
	defer r.close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	address, err := r.client.Discover(ctx, simulator.NewScanner(r.lock))
	require.NoError(t, err)
	assert.Equal(t, r.lock.Address(), address)

	// A lock out of pairing mode is never found.
	other := newRig(t, func(c *Config) { c.Address = "" })
	defer other.close()
	other.lock.SetPairingMode(false)

	short, cancelShort := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancelShort()
	_, err = other.client.Discover(short, simulator.NewScanner(other.lock))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBeaconHeartbeat(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()
	r.pair(t)

	require.NoError(t, r.client.LockAction(device.ActionUnlock))
	require.True(t, r.client.HandleAdvertisement(r.lock.Advertisement()))
	r.waitEvent(t, EventStatusUpdated)

	// No edge, no event.
	require.True(t, r.client.HandleAdvertisement(r.lock.Advertisement()))
	select {
	case ev := <-r.events:
		t.Fatalf("unexpected event %s", ev.Type)
	default:
	}

	// Reading the state clears the bit.
	_, err := r.client.RequestKeyTurnerState()
	require.NoError(t, err)
	require.True(t, r.client.HandleAdvertisement(r.lock.Advertisement()))
	r.waitEvent(t, EventStatusReset)

	assert.False(t, r.client.HandleAdvertisement(ble.Advertisement{Address: "11:22:33:44:55:66"}))
}

func TestUnpair(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()
	r.pair(t)

	require.NoError(t, r.client.Unpair())
	r.waitEvent(t, EventUnpaired)
	assert.False(t, r.client.IsPaired())
	assert.False(t, r.pipe.Link().IsConnected())
	assert.Equal(t, session.Info{Namespace: DefaultNamespace, Name: "rig"}, r.client.Session())

	_, err := r.store.Get(DefaultNamespace, session.KeyKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	resp := r.client.Execute(command.NewRequestData(command.KeyturnerStates))
	assert.Equal(t, exchange.ResultNotPaired, resp.Result)
}

func TestBadPinEvent(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()
	r.pair(t)

	require.NoError(t, r.client.SetPin(testPIN+1))
	err := r.client.VerifySecurityPin()
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, exchange.ResultFailed, ce.Result)
	assert.Equal(t, command.ErrorBadPIN, ce.ErrorCode)

	ev := r.waitEvent(t, EventBadPin)
	assert.Equal(t, command.ErrorBadPIN, ev.ErrorCode)
}

func TestTypedCommands(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()
	r.pair(t)

	state, err := r.client.RequestKeyTurnerState()
	require.NoError(t, err)
	assert.Equal(t, device.LockStateLocked, state.LockState)

	_, err = r.client.RequestBatteryReport()
	require.NoError(t, err)

	_, err = r.client.RequestConfig()
	require.NoError(t, err)

	require.NoError(t, r.client.VerifySecurityPin())

	now := time.Date(2024, 3, 9, 10, 11, 12, 0, time.UTC)
	require.NoError(t, r.client.UpdateTime(now))
	assert.Equal(t, device.TimeOf(now), r.lock.State().CurrentTime)

	require.NoError(t, r.client.LockAction(device.ActionUnlock))
	count, err := r.client.RequestLogEntryCount()
	require.NoError(t, err)
	assert.Equal(t, uint16(1), count.Count)

	require.NoError(t, r.client.SetSecurityPin(4321))
	assert.Equal(t, uint16(4321), r.lock.PIN())
	assert.Equal(t, uint16(4321), r.client.Session().PIN)
	require.NoError(t, r.client.VerifySecurityPin())

	require.NoError(t, r.client.RequestCalibration())
	require.NoError(t, r.client.RequestReboot())
}

func TestCredentialsSurviveRestart(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()
	r.pair(t)
	require.NoError(t, r.client.Close())

	restarted, err := NewClient(Config{
		Name:        "rig",
		Link:        r.pipe.Link(),
		Store:       r.store,
		IdleTimeout: -1,
	})
	require.NoError(t, err)
	defer restarted.Close()

	require.True(t, restarted.IsPaired())
	assert.Equal(t, uint16(testPIN), restarted.Session().PIN)
	require.NoError(t, restarted.LockAction(device.ActionLock))
}

func TestCloseIsIdempotent(t *testing.T) {
	defer test.CheckRoutines(t)()

	r := newRig(t, nil)
	defer r.close()

	require.NoError(t, r.client.Close())
	require.NoError(t, r.client.Close())
	assert.ErrorIs(t, r.client.SetPin(1), ErrClosed)
	_, err := r.client.Pair()
	assert.ErrorIs(t, err, ErrClosed)
}
