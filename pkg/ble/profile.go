package ble

import (
	"fmt"

	"github.com/google/uuid"
)

// DeviceType selects the UUID set of a peer.
type DeviceType int

const (
	DeviceSmartLock DeviceType = iota
	DeviceOpener
)

// String returns the device type name.
func (d DeviceType) String() string {
	switch d {
	case DeviceSmartLock:
		return "smartlock"
	case DeviceOpener:
		return "opener"
	default:
		return "unknown"
	}
}

// ParseDeviceType parses the String form.
func ParseDeviceType(s string) (DeviceType, error) {
	switch s {
	case "smartlock", "lock", "":
		return DeviceSmartLock, nil
	case "opener":
		return DeviceOpener, nil
	default:
		return 0, fmt.Errorf("ble: unknown device type %q", s)
	}
}

// Profile is the GATT layout of a device type.
type Profile struct {
	Type DeviceType

	// PairingService is advertised while the device is in pairing mode.
	PairingService uuid.UUID
	// PairingCharacteristic (GDIO) carries plain pairing frames.
	PairingCharacteristic uuid.UUID

	// DataService hosts the encrypted command channel. Its UUID is also the
	// iBeacon proximity UUID once paired.
	DataService uuid.UUID
	// DataCharacteristic (USDIO) carries encrypted frames.
	DataCharacteristic uuid.UUID
}

var (
	smartLockProfile = Profile{
		Type:                  DeviceSmartLock,
		PairingService:        uuid.MustParse("a92ee100-5501-11e4-916c-0800200c9a66"),
		PairingCharacteristic: uuid.MustParse("a92ee101-5501-11e4-916c-0800200c9a66"),
		DataService:           uuid.MustParse("a92ee200-5501-11e4-916c-0800200c9a66"),
		DataCharacteristic:    uuid.MustParse("a92ee202-5501-11e4-916c-0800200c9a66"),
	}

	openerProfile = Profile{
		Type:                  DeviceOpener,
		PairingService:        uuid.MustParse("a92ae100-5501-11e4-916c-0800200c9a66"),
		PairingCharacteristic: uuid.MustParse("a92ae101-5501-11e4-916c-0800200c9a66"),
		DataService:           uuid.MustParse("a92ae200-5501-11e4-916c-0800200c9a66"),
		DataCharacteristic:    uuid.MustParse("a92ae202-5501-11e4-916c-0800200c9a66"),
	}
)

// ProfileFor returns the profile of a device type.
func ProfileFor(t DeviceType) Profile {
	if t == DeviceOpener {
		return openerProfile
	}
	return smartLockProfile
}

// Characteristic returns the characteristic UUID that carries ch.
func (p Profile) Characteristic(ch Channel) (uuid.UUID, error) {
	switch ch {
	case ChannelPairing:
		return p.PairingCharacteristic, nil
	case ChannelData:
		return p.DataCharacteristic, nil
	default:
		return uuid.Nil, ErrUnknownChannel
	}
}

// Service returns the service UUID that hosts ch.
func (p Profile) Service(ch Channel) (uuid.UUID, error) {
	switch ch {
	case ChannelPairing:
		return p.PairingService, nil
	case ChannelData:
		return p.DataService, nil
	default:
		return uuid.Nil, ErrUnknownChannel
	}
}

// IsPairingAdvertisement reports whether adv comes from a device of this
// profile that is currently in pairing mode: the pairing service UUID is
// advertised either as a service or as the iBeacon proximity UUID.
func (p Profile) IsPairingAdvertisement(adv Advertisement) bool {
	if adv.HasService(p.PairingService) {
		return true
	}
	if b, ok := ParseIBeacon(adv.ManufacturerData); ok {
		return b.ProximityUUID == p.PairingService
	}
	return false
}

// IsDataBeacon reports whether adv is the iBeacon a paired device of this
// profile broadcasts.
func (p Profile) IsDataBeacon(adv Advertisement) (IBeacon, bool) {
	b, ok := ParseIBeacon(adv.ManufacturerData)
	if !ok || b.ProximityUUID != p.DataService {
		return IBeacon{}, false
	}
	return b, true
}
