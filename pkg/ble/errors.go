package ble

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("ble: closed")

	// ErrNotConnected is returned when an operation requires a connection.
	ErrNotConnected = errors.New("ble: not connected")

	// ErrConnectFailed is returned when the peer could not be connected.
	ErrConnectFailed = errors.New("ble: connect failed")

	// ErrDeviceNotFound is returned when no peer with the address is in range.
	ErrDeviceNotFound = errors.New("ble: device not found")

	// ErrServiceNotFound is returned when the peer lacks a required service or characteristic.
	ErrServiceNotFound = errors.New("ble: service not found")

	// ErrSubscribeRefused is returned when enabling notifications fails.
	ErrSubscribeRefused = errors.New("ble: subscription refused")

	// ErrUnknownChannel is returned for a Channel outside the defined set.
	ErrUnknownChannel = errors.New("ble: unknown channel")

	// ErrMessageTooLarge is returned when a write exceeds MaxWriteSize.
	ErrMessageTooLarge = errors.New("ble: message too large")

	// ErrWriteFailed is returned when the peer rejects a write.
	ErrWriteFailed = errors.New("ble: write failed")
)
