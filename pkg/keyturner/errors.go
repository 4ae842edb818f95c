package keyturner

import "errors"

// Client errors.
var (
	// ErrLinkRequired is returned when Config.Link is nil.
	ErrLinkRequired = errors.New("keyturner: link is required")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("keyturner: client closed")

	// ErrNotPaired is returned by operations that need credentials.
	ErrNotPaired = errors.New("keyturner: not paired")

	// ErrNoAddress is returned when no peer address is known yet.
	ErrNoAddress = errors.New("keyturner: no device address")

	// ErrLockTimeout is returned when another operation holds the client
	// for longer than Config.LockTimeout.
	ErrLockTimeout = errors.New("keyturner: timed out waiting for client")

	// ErrConnect is returned when every connect attempt failed.
	ErrConnect = errors.New("keyturner: connect failed")

	// ErrUnexpectedReply is returned by typed helpers when the reply did not
	// carry the expected record.
	ErrUnexpectedReply = errors.New("keyturner: unexpected reply")
)
