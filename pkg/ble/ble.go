// Package ble is the transport boundary of the keyturner client.
//
// The protocol engine needs very little from the radio: connect to one
// peer, subscribe to notifications on two characteristics, write with
// response, and receive advertisements. Link and Scanner capture exactly that.
//
// Two implementations are provided:
//   - TinyGoLink / TinyGoScanner drive a real adapter through
//     tinygo.org/x/bluetooth.
//   - Pipe connects a Link to an in-memory PipePeripheral for tests and the
//     simulator.
package ble

import (
	"context"

	"github.com/google/uuid"
)

// DefaultMaxWriteSize is the largest attribute value a single write may carry.
const DefaultMaxWriteSize = 512

// Channel identifies one of the two characteristics the protocol uses.
type Channel uint8

const (
	// ChannelPairing carries plain frames while pairing (GDIO).
	ChannelPairing Channel = 1
	// ChannelData carries encrypted frames once paired (USDIO).
	ChannelData Channel = 2
)

// String returns the channel name.
func (c Channel) String() string {
	switch c {
	case ChannelPairing:
		return "pairing"
	case ChannelData:
		return "data"
	default:
		return "unknown"
	}
}

// IsValid reports whether c is one of the defined channels.
func (c Channel) IsValid() bool {
	return c == ChannelPairing || c == ChannelData
}

// NotificationHandler receives one inbound notification buffer.
// It runs on the transport's goroutine and must not block.
type NotificationHandler func(data []byte)

// Link is a connection to a single peripheral.
//
// All methods must be safe for concurrent use.
type Link interface {
	// Connect establishes the connection to the peer at address
	// (AA:BB:CC:DD:EE:FF form). Connecting while connected is a no-op.
	Connect(ctx context.Context, address string) error

	// Disconnect drops the connection. Subscriptions do not survive it.
	Disconnect() error

	// IsConnected reports the current link state.
	IsConnected() bool

	// Subscribe enables notifications on ch.
	Subscribe(ch Channel, handler NotificationHandler) error

	// Write sends data on ch and waits for the write response.
	Write(ch Channel, data []byte) error

	// MaxWriteSize returns the largest data Write accepts.
	MaxWriteSize() int
}

// Advertisement is one received advertising report.
type Advertisement struct {
	// Address is the peer address in AA:BB:CC:DD:EE:FF form.
	Address string

	// Name is the advertised local name, if any.
	Name string

	// RSSI is the received signal strength in dBm.
	RSSI int16

	// ManufacturerData is the raw manufacturer-specific AD payload:
	// company id (2, LE) followed by the data.
	ManufacturerData []byte

	// ServiceUUIDs lists advertised services known to the scanner.
	ServiceUUIDs []uuid.UUID
}

// HasService reports whether the advertisement lists u.
func (a Advertisement) HasService(u uuid.UUID) bool {
	for _, s := range a.ServiceUUIDs {
		if s == u {
			return true
		}
	}
	return false
}

// Scanner delivers advertisements until ctx is done.
type Scanner interface {
	Scan(ctx context.Context, fn func(Advertisement)) error
}
