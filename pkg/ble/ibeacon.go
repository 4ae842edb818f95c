package ble

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// iBeacon manufacturer data layout:
//
//	company (2, LE = 0x004C) || type 0x02 || length 0x15 ||
//	proximity UUID (16) || major (2, BE) || minor (2, BE) || tx power (1)
const (
	appleCompanyID   = 0x004C
	iBeaconType      = 0x02
	iBeaconLength    = 0x15
	iBeaconFrameSize = 25
)

// IBeacon is a decoded iBeacon advertisement.
type IBeacon struct {
	ProximityUUID uuid.UUID
	Major         uint16
	Minor         uint16
	TxPower       int8
}

// StatusChanged reports the heartbeat bit: paired devices toggle the low bit
// of the advertised tx power when new state is available for pickup.
func (b IBeacon) StatusChanged() bool {
	return uint8(b.TxPower)&0x01 != 0
}

// ParseIBeacon decodes raw manufacturer data as an iBeacon.
func ParseIBeacon(data []byte) (IBeacon, bool) {
	if len(data) != iBeaconFrameSize {
		return IBeacon{}, false
	}
	if binary.LittleEndian.Uint16(data[0:2]) != appleCompanyID ||
		data[2] != iBeaconType || data[3] != iBeaconLength {
		return IBeacon{}, false
	}

	var b IBeacon
	copy(b.ProximityUUID[:], data[4:20])
	b.Major = binary.BigEndian.Uint16(data[20:22])
	b.Minor = binary.BigEndian.Uint16(data[22:24])
	b.TxPower = int8(data[24])
	return b, true
}

// EncodeIBeacon builds the manufacturer data for b. The simulator uses it to
// advertise.
func EncodeIBeacon(b IBeacon) []byte {
	out := make([]byte, 0, iBeaconFrameSize)
	out = binary.LittleEndian.AppendUint16(out, appleCompanyID)
	out = append(out, iBeaconType, iBeaconLength)
	out = append(out, b.ProximityUUID[:]...)
	out = binary.BigEndian.AppendUint16(out, b.Major)
	out = binary.BigEndian.AppendUint16(out, b.Minor)
	return append(out, byte(b.TxPower))
}
