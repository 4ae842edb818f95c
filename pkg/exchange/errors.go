package exchange

import "errors"

// Engine errors.
var (
	ErrNoSender      = errors.New("exchange: sender is required")
	ErrNoInbox       = errors.New("exchange: inbox is required")
	ErrBusy          = errors.New("exchange: execution already in progress")
	ErrSendFailed    = errors.New("exchange: send failed")
	ErrFrameTooLarge = errors.New("exchange: request exceeds maximum write size")
	ErrBadChallenge  = errors.New("exchange: malformed challenge")
)
