package crypto

import "github.com/sigurn/crc16"

// CRCSize is the size of the CRC trailer appended to every plaintext frame.
const CRCSize = 2

// ccittFalseTable is CRC-16/CCITT-FALSE: poly 0x1021, init 0xFFFF,
// no reflection, no final xor.
var ccittFalseTable = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// CRC16 computes the CRC-16/CCITT-FALSE checksum of data.
func CRC16(data []byte) uint16 {
	return crc16.Checksum(data, ccittFalseTable)
}
