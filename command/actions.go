package command

import (
	"errors"
	"fmt"

	"Genset-DataBridge/modbus"
)

// Action is a control command accepted from operators.
type Action string

const (
	ActionStart  Action = "start"
	ActionStop   Action = "stop"
	ActionManual Action = "manual"
	ActionAuto   Action = "auto"
	ActionAck    Action = "ack"
	ActionReset  Action = "reset"
)

// Control registers of the genset controller.
const (
	regStartStop uint16 = 0
	regAck       uint16 = 1
	regMode      uint16 = 16

	startPulse uint16 = 2
	stopPulse  uint16 = 1

	modeManual    uint16 = 1
	modeAuto      uint16 = 4
	modeAckAlarms uint16 = 64

	pollAckValue uint16 = 100
)

var ErrUnknownAction = errors.New("command: unknown action")

// Frame builds the RTU frame for action addressed to unitID.
func Frame(unitID byte, action Action) ([]byte, error) {
	switch action {
	case ActionStart:
		return modbus.EncodeWriteMultipleRequest(unitID, regStartStop, []uint16{startPulse})
	case ActionStop:
		return modbus.EncodeWriteMultipleRequest(unitID, regStartStop, []uint16{stopPulse})
	case ActionManual:
		return modbus.EncodeWriteSingleRequest(unitID, regMode, modeManual), nil
	case ActionAuto:
		return modbus.EncodeWriteSingleRequest(unitID, regMode, modeAuto), nil
	case ActionAck, ActionReset:
		return modbus.EncodeWriteSingleRequest(unitID, regMode, modeAckAlarms), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// restoresPolling reports whether action arms the restore timer.
func (a Action) restoresPolling() bool {
	return a == ActionStart || a == ActionStop
}
