// Package simulator implements a keyturner lock peripheral over a ble.Pipe.
//
// The simulated lock runs the responder side of pairing, answers encrypted
// commands from a small device model and can be scripted to misbehave
// (report busy, stay silent, finish without announcing acceptance) so the
// client's failure paths can be exercised without hardware.
package simulator

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/keyturner/pkg/ble"
	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/crypto"
	"github.com/backkem/keyturner/pkg/device"
	"github.com/backkem/keyturner/pkg/message"
	"github.com/backkem/keyturner/pkg/pairing"
)

// Simulator errors.
var (
	ErrNoPipe = errors.New("simulator: pipe is required")
)

// Config configures a Lock.
type Config struct {
	// Type selects the advertised profile.
	Type ble.DeviceType

	// DeviceUUID is handed to clients while pairing.
	// Default: random
	DeviceUUID uuid.UUID

	// AuthID fixes the id assigned to the client. Zero draws one.
	AuthID uint32

	// KeyPair fixes the pairing key pair (optional, for tests).
	KeyPair *crypto.KeyPair

	// PIN is the security PIN.
	PIN uint16

	// PairingMode starts the lock in pairing mode.
	PairingMode bool

	// State, Battery and Config seed the device model.
	State   device.KeyTurnerState
	Battery device.BatteryReport
	Config  device.Config

	// Rand supplies keys and challenges.
	// Default: crypto/rand.Reader
	Rand io.Reader

	// LoggerFactory for logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Lock is a simulated device attached to the peripheral side of a pipe.
type Lock struct {
	config     Config
	log        logging.LeveledLogger
	peripheral *ble.PipePeripheral
	address    string
	profile    ble.Profile

	mu          sync.Mutex
	pairingMode bool
	responder   *pairing.Responder
	codec       *message.Codec
	authID      uint32
	client      string
	nonce       []byte
	pin         uint16
	state       device.KeyTurnerState
	battery     device.BatteryReport
	devConfig   device.Config
	logCount    uint16
	heartbeat   bool

	busy       int
	silent     bool
	skipAccept bool
	received   []command.Command
}

// New attaches a lock to the peripheral side of pipe.
func New(pipe *ble.Pipe, config Config) (*Lock, error) {
	if pipe == nil {
		return nil, ErrNoPipe
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	if config.DeviceUUID == uuid.Nil {
		id, err := uuid.NewRandomFromReader(config.Rand)
		if err != nil {
			return nil, err
		}
		config.DeviceUUID = id
	}
	if config.State.Mode == device.ModeUninitialized {
		config.State.Mode = device.ModeDoor
	}
	if config.State.LockState == device.LockStateUncalibrated {
		config.State.LockState = device.LockStateLocked
	}

	l := &Lock{
		config:      config,
		peripheral:  pipe.Peripheral(),
		address:     pipe.Address(),
		profile:     ble.ProfileFor(config.Type),
		pairingMode: config.PairingMode,
		pin:         config.PIN,
		state:       config.State,
		battery:     config.Battery,
		devConfig:   config.Config,
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("simulator")
	}
	l.peripheral.SetWriteHandler(l.onWrite)
	l.peripheral.SetConnectionHandler(l.onConnection)
	return l, nil
}

// Address returns the lock's link address.
func (l *Lock) Address() string {
	return l.address
}

// SetPairingMode turns pairing mode on or off.
func (l *Lock) SetPairingMode(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pairingMode = on
	if on {
		l.responder = nil
	}
}

// IsPaired reports whether a client holds an authorization.
func (l *Lock) IsPaired() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.codec != nil
}

// AuthID returns the authorization id assigned to the client.
func (l *Lock) AuthID() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.authID
}

// ClientName returns the name the client paired with.
func (l *Lock) ClientName() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

// State returns the device model's lock state.
func (l *Lock) State() device.KeyTurnerState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// PIN returns the current security PIN.
func (l *Lock) PIN() uint16 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pin
}

// SetBusy makes the next n commands that follow a challenge fail with the
// busy error.
func (l *Lock) SetBusy(n int) {
	l.mu.Lock()
	l.busy = n
	l.mu.Unlock()
}

// SetSilent makes the lock ignore every data channel write.
func (l *Lock) SetSilent(silent bool) {
	l.mu.Lock()
	l.silent = silent
	l.mu.Unlock()
}

// SetSkipAccept makes lock actions answer Complete without Accepted first.
func (l *Lock) SetSkipAccept(skip bool) {
	l.mu.Lock()
	l.skipAccept = skip
	l.mu.Unlock()
}

// Touch sets the beacon heartbeat bit, as the device does when its state
// changed. The bit clears when a client fetches the state.
func (l *Lock) Touch() {
	l.mu.Lock()
	l.heartbeat = true
	l.mu.Unlock()
}

// Received returns the opcodes of every decrypted command, in order.
func (l *Lock) Received() []command.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]command.Command(nil), l.received...)
}

// Advertisement returns what the lock currently advertises: the pairing
// service while in pairing mode, otherwise its iBeacon.
func (l *Lock) Advertisement() ble.Advertisement {
	l.mu.Lock()
	defer l.mu.Unlock()

	adv := ble.Advertisement{Address: l.address, Name: "Keyturner", RSSI: -60}
	if l.pairingMode {
		adv.ServiceUUIDs = []uuid.UUID{l.profile.PairingService}
		return adv
	}
	txPower := int8(-60)
	if l.heartbeat {
		txPower |= 0x01
	}
	adv.ManufacturerData = ble.EncodeIBeacon(ble.IBeacon{
		ProximityUUID: l.profile.DataService,
		Major:         uint16(l.config.DeviceUUID[0])<<8 | uint16(l.config.DeviceUUID[1]),
		Minor:         uint16(l.config.DeviceUUID[2])<<8 | uint16(l.config.DeviceUUID[3]),
		TxPower:       txPower,
	})
	return adv
}

func (l *Lock) onConnection(connected bool) {
	if l.log != nil {
		l.log.Debugf("central connected: %v", connected)
	}
	if !connected {
		l.mu.Lock()
		l.nonce = nil
		l.mu.Unlock()
	}
}

func (l *Lock) onWrite(ch ble.Channel, data []byte) {
	switch ch {
	case ble.ChannelPairing:
		l.onPairingWrite(data)
	case ble.ChannelData:
		l.onDataWrite(data)
	}
}

func (l *Lock) notifyPlain(f *message.Frame) {
	data, err := message.EncodePlain(f.Command, f.Payload)
	if err == nil {
		err = l.peripheral.Notify(ble.ChannelPairing, data)
	}
	if err != nil && l.log != nil {
		l.log.Warnf("notify %s: %v", f.Command, err)
	}
}

func (l *Lock) notify(codec *message.Codec, cmd command.Command, payload []byte) {
	data, err := codec.Encrypt(cmd, payload)
	if err == nil {
		err = l.peripheral.Notify(ble.ChannelData, data)
	}
	if err != nil && l.log != nil {
		l.log.Warnf("notify %s: %v", cmd, err)
	}
}

func (l *Lock) onPairingWrite(data []byte) {
	in, err := message.DecodePlain(data)
	if err != nil {
		if l.log != nil {
			l.log.Debugf("dropping pairing write: %v", err)
		}
		return
	}

	l.mu.Lock()
	if !l.pairingMode {
		l.mu.Unlock()
		l.notifyPlain(message.NewErrorReport(command.ErrorNotPairing, in.Command))
		return
	}
	if l.responder == nil || in.Command == command.RequestData {
		r, err := pairing.NewResponder(pairing.ResponderConfig{
			KeyPair:    l.config.KeyPair,
			DeviceUUID: l.config.DeviceUUID,
			AuthID:     l.config.AuthID,
			Rand:       l.config.Rand,
		})
		if err != nil {
			l.mu.Unlock()
			l.notifyPlain(message.NewErrorReport(command.ErrorUnknown, in.Command))
			return
		}
		l.responder = r
	}
	r := l.responder
	l.mu.Unlock()

	out, err := r.Handle(in)
	if err != nil && l.log != nil {
		l.log.Infof("pairing rejected: %v", err)
	}
	if out == nil {
		return
	}

	if r.Complete() {
		res, _ := r.Result()
		l.mu.Lock()
		if l.codec != nil {
			l.codec.Zeroize()
		}
		l.codec = message.NewCodecWithRand(res.Key, res.AuthID, l.config.Rand)
		l.authID = res.AuthID
		if d := r.Client(); d != nil {
			l.client = d.Name
		}
		l.pairingMode = false
		l.responder = nil
		l.mu.Unlock()
		res.Zeroize()
		if l.log != nil {
			l.log.Infof("paired with %q, authorization id %d", l.ClientName(), l.AuthID())
		}
	}
	l.notifyPlain(out)
}

func (l *Lock) onDataWrite(data []byte) {
	l.mu.Lock()
	codec, silent := l.codec, l.silent
	l.mu.Unlock()
	if codec == nil || silent {
		return
	}

	in, err := codec.Decrypt(data)
	if err != nil {
		if l.log != nil {
			l.log.Debugf("dropping data write: %v", err)
		}
		return
	}

	l.mu.Lock()
	l.received = append(l.received, in.Command)
	l.mu.Unlock()

	replies := l.handle(in)
	for _, f := range replies {
		l.notify(codec, f.Command, f.Payload)
	}
}

// handle runs one decrypted command against the device model and returns
// the frames to notify.
func (l *Lock) handle(in *message.Frame) []*message.Frame {
	l.mu.Lock()
	defer l.mu.Unlock()

	if in.Command == command.RequestData {
		return l.handleRequestData(in)
	}

	class, known := command.DefaultAuthClass(in.Command)
	if !known {
		return []*message.Frame{message.NewErrorReport(command.ErrorUnknown, in.Command)}
	}
	body, ok := l.verifyChallenge(in, class)
	if !ok {
		return []*message.Frame{message.NewErrorReport(command.ErrorBadNonce, in.Command)}
	}
	if class == command.ChallengePin {
		n := len(body) - 2
		if binary.LittleEndian.Uint16(body[n:]) != l.pin {
			return []*message.Frame{message.NewErrorReport(command.ErrorBadPIN, in.Command)}
		}
		body = body[:n]
	}
	if l.busy > 0 {
		l.busy--
		return []*message.Frame{message.NewErrorReport(command.ErrorBusy, in.Command)}
	}

	complete := message.NewStatus(command.StatusComplete)
	switch in.Command {
	case command.LockAction:
		return l.handleLockAction(body)

	case command.RequestConfig:
		p, err := l.devConfig.Encode()
		if err != nil {
			return []*message.Frame{message.NewErrorReport(command.ErrorUnknown, in.Command)}
		}
		return []*message.Frame{{Command: command.Config, Payload: p}}

	case command.VerifySecurityPIN, command.RequestReboot, command.RequestCalibration:
		return []*message.Frame{complete}

	case command.SetSecurityPIN:
		if len(body) != 2 {
			return []*message.Frame{message.NewErrorReport(command.ErrorBadParameter, in.Command)}
		}
		l.pin = binary.LittleEndian.Uint16(body)
		return []*message.Frame{complete}

	case command.UpdateTime:
		t, err := device.DecodeUpdateTime(body)
		if err != nil {
			return []*message.Frame{message.NewErrorReport(command.ErrorBadParameter, in.Command)}
		}
		l.state.CurrentTime = t
		return []*message.Frame{complete}

	case command.RequestLogEntries:
		if _, err := device.DecodeRequestLogEntries(body); err != nil {
			return []*message.Frame{message.NewErrorReport(command.ErrorBadParameter, in.Command)}
		}
		count := device.LogEntryCount{LoggingEnabled: true, Count: l.logCount}
		p, _ := count.Encode()
		return []*message.Frame{{Command: command.LogEntryCount, Payload: p}, complete}

	default:
		return []*message.Frame{message.NewErrorReport(command.ErrorBadParameter, in.Command)}
	}
}

func (l *Lock) handleRequestData(in *message.Frame) []*message.Frame {
	if len(in.Payload) != 2 {
		return []*message.Frame{message.NewErrorReport(command.ErrorBadParameter, in.Command)}
	}
	requested := command.Command(binary.LittleEndian.Uint16(in.Payload))
	switch requested {
	case command.Challenge:
		nonce, err := crypto.RandomChallenge(l.config.Rand)
		if err != nil {
			return []*message.Frame{message.NewErrorReport(command.ErrorUnknown, in.Command)}
		}
		l.nonce = nonce[:]
		return []*message.Frame{{Command: command.Challenge, Payload: l.nonce}}

	case command.KeyturnerStates:
		p, err := l.state.Encode()
		if err != nil {
			return []*message.Frame{message.NewErrorReport(command.ErrorUnknown, in.Command)}
		}
		l.heartbeat = false
		return []*message.Frame{{Command: command.KeyturnerStates, Payload: p}}

	case command.BatteryReport:
		p, err := l.battery.Encode()
		if err != nil {
			return []*message.Frame{message.NewErrorReport(command.ErrorUnknown, in.Command)}
		}
		return []*message.Frame{{Command: command.BatteryReport, Payload: p}}

	default:
		return []*message.Frame{message.NewErrorReport(command.ErrorBadParameter, in.Command)}
	}
}

// verifyChallenge checks that the command carries the last issued nonce
// and returns the payload without it. A nonce is good for one command.
func (l *Lock) verifyChallenge(in *message.Frame, class command.AuthClass) ([]byte, bool) {
	suffix := crypto.ChallengeSize
	if class == command.ChallengePin {
		suffix += 2
	}
	p := in.Payload
	if l.nonce == nil || len(p) < suffix {
		return nil, false
	}
	start := len(p) - suffix
	if !bytes.Equal(p[start:start+crypto.ChallengeSize], l.nonce) {
		return nil, false
	}
	l.nonce = nil

	body := append([]byte(nil), p[:start]...)
	if class == command.ChallengePin {
		body = append(body, p[len(p)-2:]...)
	}
	return body, true
}

func (l *Lock) handleLockAction(body []byte) []*message.Frame {
	req, err := device.DecodeLockActionRequest(body)
	if err != nil {
		return []*message.Frame{message.NewErrorReport(command.ErrorBadParameter, command.LockAction)}
	}

	switch req.Action {
	case device.ActionUnlock, device.ActionLockNGo:
		l.state.LockState = device.LockStateUnlocked
	case device.ActionLock, device.ActionFullLock:
		l.state.LockState = device.LockStateLocked
	case device.ActionUnlatch, device.ActionLockNGoUnlatch:
		l.state.LockState = device.LockStateUnlatched
	default:
		return []*message.Frame{message.NewErrorReport(command.ErrorBadParameter, command.LockAction)}
	}
	l.state.LastLockAction = req.Action
	l.state.Trigger = device.TriggerSystem
	l.logCount++
	l.heartbeat = true
	if l.log != nil {
		l.log.Infof("%s -> %s", req.Action, l.state.LockState)
	}

	complete := message.NewStatus(command.StatusComplete)
	if l.skipAccept {
		return []*message.Frame{complete}
	}
	return []*message.Frame{message.NewStatus(command.StatusAccepted), complete}
}
