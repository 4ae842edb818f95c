package exchange

import (
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/keyturner/pkg/command"
	"github.com/backkem/keyturner/pkg/crypto"
	"github.com/backkem/keyturner/pkg/message"
)

// Config configures an Engine.
type Config struct {
	// Sender transmits encrypted commands (required).
	Sender Sender

	// Inbox delivers decoded notifications (required).
	Inbox *Inbox

	// Clock for deadlines.
	// Default: SystemClock
	Clock Clock

	// Params tunes timeouts and polling.
	Params Params

	// MaxWriteSize bounds an encrypted request on the link.
	// Default: message.MaxFrameSize
	MaxWriteSize int

	// PIN returns the security PIN appended to ChallengePin commands.
	PIN func() uint16

	// LoggerFactory for logging (optional).
	LoggerFactory logging.LoggerFactory
}

// Engine runs actions to completion one at a time.
type Engine struct {
	config  Config
	log     logging.LeveledLogger
	machine *Machine

	mu      sync.Mutex
	running bool
}

// NewEngine creates an engine.
func NewEngine(config Config) (*Engine, error) {
	if config.Sender == nil {
		return nil, ErrNoSender
	}
	if config.Inbox == nil {
		return nil, ErrNoInbox
	}
	if config.Clock == nil {
		config.Clock = SystemClock
	}
	if config.MaxWriteSize <= 0 {
		config.MaxWriteSize = message.MaxFrameSize
	}
	config.Params = config.Params.WithDefaults()

	e := &Engine{config: config}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("exchange")
	}
	e.machine = NewMachine(config.Sender, config.PIN, e.log)
	return e, nil
}

// Snapshot returns the machine's command state. Outside of Run it is
// always Idle.
func (e *Engine) Snapshot() CommandState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.machine.Snapshot()
}

// Run executes action and blocks until it reaches a terminal result.
//
// Stale notifications are discarded before the first frame is sent. Each
// state transition restarts the CommandTimeout deadline, so a slow motor
// run that is announced with Accepted gets a fresh budget for Complete.
// Run never returns ResultWorking.
func (e *Engine) Run(action command.Action) Response {
	if err := e.validate(action); err != nil {
		return Response{Result: ResultError, Err: err}
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Response{Result: ResultError, Err: ErrBusy}
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	if n := e.config.Inbox.Drain(); n > 0 && e.log != nil {
		e.log.Debugf("discarded %d stale notifications", n)
	}

	clock := e.config.Clock
	params := e.config.Params

	e.mu.Lock()
	result := e.machine.Start(action)
	state := e.machine.State()
	e.mu.Unlock()

	deadline := clock.Now().Add(params.CommandTimeout)
	for result == ResultWorking {
		var in *Inbound
		select {
		case v := <-e.config.Inbox.C():
			in = &v
		case <-clock.After(params.PollInterval):
		}

		e.mu.Lock()
		if in != nil {
			result = e.machine.Handle(*in)
		}
		if s := e.machine.State(); s != state {
			state = s
			deadline = clock.Now().Add(params.CommandTimeout)
		}
		e.mu.Unlock()

		if result == ResultWorking && !clock.Now().Before(deadline) {
			if e.log != nil {
				e.log.Warnf("%s timed out in %s", action.Command, state)
			}
			result = ResultTimeOut
		}
	}

	e.mu.Lock()
	resp := e.machine.finish(result)
	e.mu.Unlock()

	if e.log != nil {
		e.log.Debugf("%s (%s): %s", action.Command, action.Class, resp.Result)
	}
	return resp
}

func (e *Engine) validate(action command.Action) error {
	if err := action.Validate(); err != nil {
		return err
	}
	size := message.EncryptedOverhead + len(action.Payload)
	if action.Class.NeedsChallenge() {
		size += crypto.ChallengeSize
	}
	if action.Class == command.ChallengePin {
		size += 2
	}
	if size > e.config.MaxWriteSize {
		return ErrFrameTooLarge
	}
	return nil
}
