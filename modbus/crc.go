package modbus

import "github.com/sigurn/crc16"

var crcTable = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum returns the CRC16/MODBUS of b. An empty slice yields 0xFFFF.
func Checksum(b []byte) uint16 {
	return crc16.Checksum(b, crcTable)
}

// AppendChecksum appends the CRC of frame to frame, low byte first.
func AppendChecksum(frame []byte) []byte {
	cs := Checksum(frame)
	return append(frame, byte(cs), byte(cs>>8))
}

// VerifyChecksum reports whether the trailing two bytes of frame hold the
// CRC of everything before them.
func VerifyChecksum(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	cs := Checksum(frame[:len(frame)-2])
	return frame[len(frame)-2] == byte(cs) && frame[len(frame)-1] == byte(cs>>8)
}
