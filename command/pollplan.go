package command

import (
	"Genset-DataBridge/decode"
	"Genset-DataBridge/modbus"
)

// Read is one block of a polling list.
type Read struct {
	Start    uint16
	Quantity uint16
}

// PollPlan is the ordered list of reads a device reports periodically.
type PollPlan []Read

// DefaultPollPlan covers every block of the controller register map.
var DefaultPollPlan = PollPlan{
	{decode.AddrRunHours, 5},
	{decode.AddrGenerator, 7},
	{decode.AddrEngine, 6},
	{decode.AddrMains, 7},
	{decode.AddrCurrentBreaker, 5},
	{decode.AddrActivePower, 5},
	{decode.AddrEnergy, 4},
	{decode.AddrAlarm, 2},
	{decode.AddrStatus, 2},
}

// Frames renders the plan for unitID as uppercase hex, followed by the
// write-single acknowledgement that closes every polling list.
func (p PollPlan) Frames(unitID byte) []string {
	out := make([]string, 0, len(p)+1)
	for _, r := range p {
		out = append(out, modbus.Hex(modbus.EncodeReadRequest(unitID, r.Start, r.Quantity)))
	}
	return append(out, modbus.Hex(modbus.EncodeWriteSingleRequest(unitID, regAck, pollAckValue)))
}

// CommandEnvelope carries a single control frame.
type CommandEnvelope struct {
	Command     string `json:"modbusCommand"`
	Periodicity int    `json:"modbusPeriodicitySeconds"`
}

// PollEnvelope asks the device to run a polling list, repeating every
// Periodicity seconds (0 means once).
type PollEnvelope struct {
	Requests    []string `json:"modbusRequest"`
	Periodicity int      `json:"modbusPeriodicitySeconds"`
}
