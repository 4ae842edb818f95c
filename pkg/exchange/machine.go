package exchange

import (
	"encoding/binary"
	"fmt"

	"github.com/pion/logging"

	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/crypto"
	"github.com/backkem/keyturner/pkg/message"
)

// Sender transmits one encrypted command to the peer.
type Sender interface {
	Send(cmd command.Command, payload []byte) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(cmd command.Command, payload []byte) error

// Send implements Sender.
func (f SenderFunc) Send(cmd command.Command, payload []byte) error {
	return f(cmd, payload)
}

// CommandState is a snapshot of the machine's bookkeeping.
type CommandState struct {
	State        State
	LastCommand  command.Command
	LastError    command.ErrorCode
	AcceptStatus command.StatusCode
	// CRCValid is false when the most recent notification was dropped
	// because it failed to decode.
	CRCValid bool
}

// Machine is the command state machine. One Machine serves every
// authentication class; the class of the current action decides which
// transitions are taken.
//
// Machine is not safe for concurrent use. The Engine owns it.
type Machine struct {
	sender Sender
	pin    func() uint16
	log    logging.LeveledLogger

	action command.Action
	nonce  [crypto.ChallengeSize]byte
	frames []*message.Frame
	err    error
	cs     CommandState
}

// NewMachine creates an idle machine. pin may be nil when no
// ChallengePin action will be run.
func NewMachine(sender Sender, pin func() uint16, log logging.LeveledLogger) *Machine {
	m := &Machine{sender: sender, pin: pin, log: log}
	m.Reset()
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.cs.State
}

// Snapshot returns a copy of the command state.
func (m *Machine) Snapshot() CommandState {
	return m.cs
}

// Reset returns the machine to Idle and forgets the current action.
func (m *Machine) Reset() {
	clear(m.nonce[:])
	m.action = command.Action{}
	m.frames = nil
	m.err = nil
	m.cs = CommandState{State: StateIdle, CRCValid: true}
}

// Start begins executing action and sends its first frame. It returns
// ResultWorking while a reply is awaited.
func (m *Machine) Start(action command.Action) Result {
	if m.cs.State != StateIdle {
		m.err = ErrBusy
		return ResultError
	}
	m.Reset()
	m.action = action

	if action.Class.NeedsChallenge() {
		probe := []byte{byte(command.Challenge), byte(command.Challenge >> 8)}
		if err := m.send(command.RequestData, probe); err != nil {
			return ResultError
		}
		m.cs.State = StateChallengeSent
		return ResultWorking
	}

	if err := m.send(action.Command, action.Payload); err != nil {
		return ResultError
	}
	m.cs.State = StateCmdSent
	return ResultWorking
}

// Handle offers one inbound notification to the machine.
func (m *Machine) Handle(in Inbound) Result {
	if !m.cs.State.IsWaiting() {
		return ResultWorking
	}
	if in.Err != nil || in.Frame == nil {
		m.cs.CRCValid = false
		if m.log != nil {
			m.log.Debugf("dropped undecodable notification in %s: %v", m.cs.State, in.Err)
		}
		return ResultWorking
	}

	f := in.Frame
	m.cs.CRCValid = true
	m.cs.LastCommand = f.Command

	if code, ok := f.ErrorCode(); ok {
		m.cs.LastError = code
		if code == command.ErrorBusy {
			return ResultLockBusy
		}
		return ResultFailed
	}

	switch m.cs.State {
	case StateChallengeSent:
		return m.handleChallenge(f)
	case StateCmdSent:
		return m.handleReply(f)
	case StateCmdAccepted:
		if code, ok := f.StatusCode(); ok && code == command.StatusComplete {
			m.frames = append(m.frames, f)
			return ResultSuccess
		}
		m.collect(f)
	}
	return ResultWorking
}

func (m *Machine) handleChallenge(f *message.Frame) Result {
	if f.Command != command.Challenge {
		return ResultWorking
	}
	if len(f.Payload) != crypto.ChallengeSize {
		if m.log != nil {
			m.log.Warnf("challenge with %d bytes ignored", len(f.Payload))
		}
		return ResultWorking
	}
	copy(m.nonce[:], f.Payload)
	m.cs.State = StateChallengeRespReceived

	payload := make([]byte, 0, len(m.action.Payload)+crypto.ChallengeSize+2)
	payload = append(payload, m.action.Payload...)
	payload = append(payload, m.nonce[:]...)
	if m.action.Class == command.ChallengePin {
		var pin uint16
		if m.pin != nil {
			pin = m.pin()
		}
		payload = binary.LittleEndian.AppendUint16(payload, pin)
	}

	if err := m.send(m.action.Command, payload); err != nil {
		return ResultError
	}
	m.cs.State = StateCmdSent
	return ResultWorking
}

func (m *Machine) handleReply(f *message.Frame) Result {
	if m.action.Class == command.ChallengeAccept {
		if code, ok := f.StatusCode(); ok {
			m.cs.AcceptStatus = code
			switch code {
			case command.StatusAccepted:
				m.cs.State = StateCmdAccepted
				return ResultWorking
			case command.StatusComplete:
				// The peer may finish without announcing acceptance.
				m.frames = append(m.frames, f)
				return ResultSuccess
			}
			return ResultWorking
		}
		m.collect(f)
		return ResultWorking
	}

	if m.action.Expect != command.Empty {
		m.frames = append(m.frames, f)
		if f.Command == m.action.Expect {
			return ResultSuccess
		}
		return ResultWorking
	}

	if f.Command == command.Empty {
		return ResultWorking
	}
	m.frames = append(m.frames, f)
	return ResultSuccess
}

func (m *Machine) collect(f *message.Frame) {
	if f.Command != command.Empty && f.Command != command.Challenge {
		m.frames = append(m.frames, f)
	}
}

func (m *Machine) send(cmd command.Command, payload []byte) error {
	if err := m.sender.Send(cmd, payload); err != nil {
		m.err = fmt.Errorf("%w: %s: %w", ErrSendFailed, cmd, err)
		if m.log != nil {
			m.log.Warnf("send %s: %v", cmd, err)
		}
		return m.err
	}
	return nil
}

// finish builds the response for a terminal result and resets the machine.
func (m *Machine) finish(result Result) Response {
	resp := Response{
		Result:    result,
		ErrorCode: m.cs.LastError,
		Frames:    m.frames,
		Err:       m.err,
	}
	m.Reset()
	return resp
}
