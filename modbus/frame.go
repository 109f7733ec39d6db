package modbus

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	mb "github.com/goburrow/modbus"
)

const (
	// maxWriteRegisters is the FC16 quantity limit (byte count must fit in one byte).
	maxWriteRegisters = 123

	requestLength     = 8
	minResponseLength = 5
)

// Request is a parsed RTU request frame. For write-single requests Quantity
// holds the written value.
type Request struct {
	UnitID       byte
	FunctionCode byte
	StartAddress uint16
	Quantity     uint16
	CRCOK        bool
}

// Response is a parsed RTU response frame.
type Response struct {
	UnitID        byte
	FunctionCode  byte
	Exception     bool
	ExceptionCode byte
	Registers     []uint16
	CRCOK         bool
}

// Err returns the exception carried by r as a *modbus.ModbusError, or nil.
func (r Response) Err() error {
	if !r.Exception {
		return nil
	}
	return &mb.ModbusError{FunctionCode: r.FunctionCode, ExceptionCode: r.ExceptionCode}
}

// IsWriteEcho reports whether r is the echo of a write request.
func (r Response) IsWriteEcho() bool {
	return !r.Exception && isWrite(r.FunctionCode)
}

// EncodeReadRequest builds an FC3 read-holding-registers frame.
func EncodeReadRequest(unitID byte, startAddress, quantity uint16) []byte {
	return encodeFixed(unitID, mb.FuncCodeReadHoldingRegisters, startAddress, quantity)
}

// EncodeWriteSingleRequest builds an FC6 write-single-register frame.
func EncodeWriteSingleRequest(unitID byte, address, value uint16) []byte {
	return encodeFixed(unitID, mb.FuncCodeWriteSingleRegister, address, value)
}

// EncodeWriteMultipleRequest builds an FC16 write-multiple-registers frame.
func EncodeWriteMultipleRequest(unitID byte, startAddress uint16, values []uint16) ([]byte, error) {
	if len(values) == 0 || len(values) > maxWriteRegisters {
		return nil, fmt.Errorf("%w: %d values", ErrTooManyRegisters, len(values))
	}
	byteCount := 2 * len(values)
	frame := make([]byte, 7, 9+byteCount)
	frame[0] = unitID
	frame[1] = mb.FuncCodeWriteMultipleRegisters
	binary.BigEndian.PutUint16(frame[2:4], startAddress)
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(values)))
	frame[6] = byte(byteCount)
	for _, v := range values {
		frame = binary.BigEndian.AppendUint16(frame, v)
	}
	return AppendChecksum(frame), nil
}

func encodeFixed(unitID, functionCode byte, a, b uint16) []byte {
	frame := make([]byte, 6, requestLength)
	frame[0] = unitID
	frame[1] = functionCode
	binary.BigEndian.PutUint16(frame[2:4], a)
	binary.BigEndian.PutUint16(frame[4:6], b)
	return AppendChecksum(frame)
}

// Hex renders a frame the way it travels inside JSON envelopes.
func Hex(frame []byte) string {
	return strings.ToUpper(hex.EncodeToString(frame))
}

// ParseRequest decodes a hex request frame.
func ParseRequest(s string) (Request, error) {
	frame, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if len(frame) < requestLength {
		return Request{}, fmt.Errorf("%w: %d bytes", ErrMalformedRequest, len(frame))
	}
	return Request{
		UnitID:       frame[0],
		FunctionCode: frame[1],
		StartAddress: binary.BigEndian.Uint16(frame[2:4]),
		Quantity:     binary.BigEndian.Uint16(frame[4:6]),
		CRCOK:        VerifyChecksum(frame),
	}, nil
}

// ParseResponse decodes a hex response frame. A CRC failure does not stop
// decoding; it is reported through CRCOK.
func ParseResponse(s string) (Response, error) {
	frame, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(frame) < minResponseLength {
		return Response{}, fmt.Errorf("%w: %d bytes", ErrMalformedResponse, len(frame))
	}

	res := Response{
		UnitID:       frame[0],
		FunctionCode: frame[1],
	}
	if frame[1]&0x80 != 0 {
		res.Exception = true
		res.FunctionCode = frame[1] &^ 0x80
		res.ExceptionCode = frame[2]
		res.CRCOK = VerifyChecksum(frame[:minResponseLength])
		return res, nil
	}

	if isWrite(frame[1]) {
		// unit, fc, address, value|quantity, crc
		if len(frame) < requestLength {
			return Response{}, fmt.Errorf("%w: write echo of %d bytes", ErrMalformedResponse, len(frame))
		}
		res.Registers = []uint16{
			binary.BigEndian.Uint16(frame[2:4]),
			binary.BigEndian.Uint16(frame[4:6]),
		}
		res.CRCOK = VerifyChecksum(frame[:requestLength])
		return res, nil
	}

	byteCount := int(frame[2])
	if byteCount%2 != 0 {
		return Response{}, fmt.Errorf("%w: odd byte count %d", ErrInconsistentByteCount, byteCount)
	}
	if len(frame) < 3+byteCount+2 {
		return Response{}, fmt.Errorf("%w: declared %d, frame has %d bytes", ErrInconsistentByteCount, byteCount, len(frame))
	}
	data := frame[3 : 3+byteCount]
	res.Registers = make([]uint16, byteCount/2)
	for i := range res.Registers {
		res.Registers[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	res.CRCOK = VerifyChecksum(frame[:3+byteCount+2])
	return res, nil
}

func isWrite(functionCode byte) bool {
	return functionCode == mb.FuncCodeWriteSingleRegister || functionCode == mb.FuncCodeWriteMultipleRegisters
}
