package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Genset-DataBridge/decode"
)

// Envelope is one telemetry message: requests[i] was answered by responses[i].
// The device identity comes from the transport routing key.
type Envelope struct {
	DeviceID   string    `json:"-"`
	Requests   []string  `json:"modbusRequest"`
	Responses  []string  `json:"modbusResponse"`
	ReceivedAt time.Time `json:"-"`
}

// DecodeEnvelope parses a transport payload.
func DecodeEnvelope(deviceID string, payload []byte, at time.Time) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope from %s: %w", deviceID, err)
	}
	if len(env.Requests) == 0 && len(env.Responses) == 0 {
		return Envelope{}, fmt.Errorf("decode envelope from %s: no modbus exchanges", deviceID)
	}
	env.DeviceID = deviceID
	env.ReceivedAt = at
	return env, nil
}

// Status classifies the outcome of one request/response pair.
type Status string

const (
	StatusOK                    Status = "ok"
	StatusWriteAck              Status = "write_ack"
	StatusNoResponse            Status = "no_response"
	StatusMalformedRequest      Status = "malformed_request"
	StatusMalformedResponse     Status = "malformed_response"
	StatusInconsistentByteCount Status = "inconsistent_byte_count"
	StatusException             Status = "exception"
	StatusMismatch              Status = "mismatch"
	StatusCRCMismatch           Status = "crc_mismatch"
)

var ErrNoResponse = errors.New("ingest: no response")

// Outcome is what happened to one pair of an envelope.
type Outcome struct {
	Index   int
	Status  Status
	Request string
	Err     error
	CRCOK   bool
	Block   *decode.Block
}

// Failed reports whether the pair produced no usable data.
func (o Outcome) Failed() bool {
	return o.Status != StatusOK && o.Status != StatusWriteAck
}

// Update is the per-device record delivered downstream for one envelope.
type Update struct {
	DeviceID  string         `json:"deviceId"`
	Timestamp time.Time      `json:"timestamp"`
	Fields    map[string]any `json:"fields"`
}

// Batch is the full result of processing one envelope.
type Batch struct {
	Update   Update
	Outcomes []Outcome
}

// Failures returns the outcomes that did not yield data.
func (b Batch) Failures() []Outcome {
	var out []Outcome
	for _, o := range b.Outcomes {
		if o.Failed() {
			out = append(out, o)
		}
	}
	return out
}
