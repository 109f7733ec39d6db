package modbus

import (
	"errors"

	mb "github.com/goburrow/modbus"
)

var (
	ErrMalformedRequest      = errors.New("modbus: malformed request")
	ErrMalformedResponse     = errors.New("modbus: malformed response")
	ErrInconsistentByteCount = errors.New("modbus: inconsistent byte count")
	ErrCRCMismatch           = errors.New("modbus: crc mismatch")
	ErrResponseMismatch      = errors.New("modbus: response does not match request")
	ErrTooManyRegisters      = errors.New("modbus: register quantity out of range")
)

// ExceptionName returns the Modbus name of an exception code.
func ExceptionName(code byte) string {
	switch code {
	case mb.ExceptionCodeIllegalFunction:
		return "illegal function"
	case mb.ExceptionCodeIllegalDataAddress:
		return "illegal data address"
	case mb.ExceptionCodeIllegalDataValue:
		return "illegal data value"
	case mb.ExceptionCodeServerDeviceFailure:
		return "server device failure"
	case mb.ExceptionCodeAcknowledge:
		return "acknowledge"
	case mb.ExceptionCodeServerDeviceBusy:
		return "server device busy"
	case mb.ExceptionCodeMemoryParityError:
		return "memory parity error"
	case mb.ExceptionCodeGatewayPathUnavailable:
		return "gateway path unavailable"
	case mb.ExceptionCodeGatewayTargetDeviceFailedToRespond:
		return "gateway target device failed to respond"
	default:
		return "unknown"
	}
}
