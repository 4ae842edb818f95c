package session

import "errors"

// Session package errors.
var (
	// ErrNotPaired is returned when credentials are requested from an
	// unpaired session.
	ErrNotPaired = errors.New("session: not paired")

	// ErrInvalidAddress is returned for an address that is not a 6-byte MAC.
	ErrInvalidAddress = errors.New("session: invalid address")

	// ErrCorrupt is returned when a stored value has the wrong length.
	ErrCorrupt = errors.New("session: corrupt stored value")
)
