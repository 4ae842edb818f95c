package exchange

import "time"

// Engine timing defaults.
const (
	// DefaultCommandTimeout bounds the wait for each expected reply.
	DefaultCommandTimeout = 10 * time.Second

	// DefaultPollInterval is how long the engine waits on the inbox before
	// re-checking its deadline.
	DefaultPollInterval = 10 * time.Millisecond

	// DefaultInboxSize is the capacity of the inbound frame queue.
	DefaultInboxSize = 16
)

// Params tunes the engine.
type Params struct {
	CommandTimeout time.Duration
	PollInterval   time.Duration
}

// DefaultParams returns the default engine parameters.
func DefaultParams() Params {
	return Params{
		CommandTimeout: DefaultCommandTimeout,
		PollInterval:   DefaultPollInterval,
	}
}

// WithDefaults fills zero fields with defaults.
func (p Params) WithDefaults() Params {
	if p.CommandTimeout <= 0 {
		p.CommandTimeout = DefaultCommandTimeout
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	return p
}
