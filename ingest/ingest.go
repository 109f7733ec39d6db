// Package ingest aligns the request/response pairs of telemetry envelopes,
// decodes them and folds the result into one update per device.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	mb "github.com/goburrow/modbus"
	"go.uber.org/zap"

	"Genset-DataBridge/decode"
	"Genset-DataBridge/metrics"
	"Genset-DataBridge/modbus"
)

// Sink receives every non-empty update. Implementations live outside the core.
type Sink interface {
	Deliver(ctx context.Context, u Update) error
}

// RegisterMirror receives the raw registers of every decoded read, keyed by
// the device that reported them.
type RegisterMirror interface {
	StoreRegisters(deviceID string, start uint16, regs []uint16)
}

type Option func(*Ingestor)

func WithSink(s Sink) Option { return func(in *Ingestor) { in.sink = s } }

func WithMirror(m RegisterMirror) Option { return func(in *Ingestor) { in.mirror = m } }

func WithMetrics(m *metrics.BridgeMetrics) Option { return func(in *Ingestor) { in.metrics = m } }

// WithStrictCRC makes a CRC failure on a response fatal for its pair.
func WithStrictCRC(strict bool) Option { return func(in *Ingestor) { in.strictCRC = strict } }

func WithClock(now func() time.Time) Option { return func(in *Ingestor) { in.now = now } }

// Ingestor processes envelopes one at a time.
type Ingestor struct {
	engine    *decode.Engine
	state     *State
	sink      Sink
	mirror    RegisterMirror
	metrics   *metrics.BridgeMetrics
	logger    *zap.Logger
	strictCRC bool
	now       func() time.Time
}

func New(engine *decode.Engine, state *State, logger *zap.Logger, opts ...Option) *Ingestor {
	in := &Ingestor{
		engine: engine,
		state:  state,
		logger: logger.Named("ingest"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(in)
	}
	return in
}

// Run processes envelopes in arrival order until ctx is done or envCh closes.
func (in *Ingestor) Run(ctx context.Context, envCh <-chan Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-envCh:
			if !ok {
				return
			}
			in.Process(ctx, env)
		}
	}
}

// Process decodes every pair of env and merges the decoded fields into the
// unified state. Failed pairs are reported in the batch and never discard the
// others.
func (in *Ingestor) Process(ctx context.Context, env Envelope) Batch {
	in.metrics.ObserveEnvelope()

	ts := env.ReceivedAt
	if ts.IsZero() {
		ts = in.now()
	}
	batch := Batch{Update: Update{DeviceID: env.DeviceID, Timestamp: ts, Fields: map[string]any{}}}

	n := max(len(env.Requests), len(env.Responses))
	for i := 0; i < n; i++ {
		o := in.pair(i, env)
		in.metrics.ObservePair(string(o.Status))
		if o.Block != nil {
			in.metrics.ObserveBlock(string(o.Block.Kind))
			for k, v := range o.Block.Fields {
				batch.Update.Fields[k] = v
			}
		}
		in.logOutcome(env.DeviceID, o)
		batch.Outcomes = append(batch.Outcomes, o)
	}

	if len(batch.Update.Fields) == 0 {
		in.logger.Debug("envelope produced no fields",
			zap.String("device_id", env.DeviceID), zap.Int("pairs", n))
		return batch
	}

	in.state.Merge(env.DeviceID, batch.Update.Fields, ts)
	if in.sink != nil {
		if err := in.sink.Deliver(ctx, batch.Update); err != nil {
			in.logger.Warn("state sink delivery failed", zap.String("device_id", env.DeviceID), zap.Error(err))
		}
	}
	return batch
}

func (in *Ingestor) pair(i int, env Envelope) Outcome {
	o := Outcome{Index: i}
	if i >= len(env.Requests) || env.Requests[i] == "" {
		o.Status, o.Err = StatusMalformedRequest, fmt.Errorf("%w: no request at index %d", modbus.ErrMalformedRequest, i)
		return o
	}
	o.Request = env.Requests[i]

	req, err := modbus.ParseRequest(o.Request)
	if err != nil {
		o.Status, o.Err = StatusMalformedRequest, err
		return o
	}
	if i >= len(env.Responses) || env.Responses[i] == "" {
		o.Status, o.Err = StatusNoResponse, ErrNoResponse
		return o
	}

	res, err := modbus.ParseResponse(env.Responses[i])
	if err != nil {
		o.Err = err
		if errors.Is(err, modbus.ErrInconsistentByteCount) {
			o.Status = StatusInconsistentByteCount
		} else {
			o.Status = StatusMalformedResponse
		}
		return o
	}
	o.CRCOK = res.CRCOK

	if res.UnitID != req.UnitID || res.FunctionCode != req.FunctionCode {
		o.Status = StatusMismatch
		o.Err = fmt.Errorf("%w: request unit %d fc %d, response unit %d fc %d",
			modbus.ErrResponseMismatch, req.UnitID, req.FunctionCode, res.UnitID, res.FunctionCode)
		return o
	}
	if res.Exception {
		o.Status, o.Err = StatusException, res.Err()
		return o
	}
	if !res.CRCOK && in.strictCRC {
		o.Status, o.Err = StatusCRCMismatch, modbus.ErrCRCMismatch
		return o
	}
	if res.IsWriteEcho() {
		o.Status = StatusWriteAck
		return o
	}

	block := in.engine.Decode(req.FunctionCode, req.StartAddress, res.Registers)
	if in.mirror != nil {
		in.mirror.StoreRegisters(env.DeviceID, req.StartAddress, res.Registers)
	}
	o.Status, o.Block = StatusOK, &block
	return o
}

func (in *Ingestor) logOutcome(deviceID string, o Outcome) {
	if o.Failed() {
		fields := []zap.Field{
			zap.String("device_id", deviceID),
			zap.Int("index", o.Index),
			zap.String("status", string(o.Status)),
			zap.String("request", o.Request),
			zap.Error(o.Err),
		}
		var mbErr *mb.ModbusError
		if errors.As(o.Err, &mbErr) {
			fields = append(fields, zap.String("exception", modbus.ExceptionName(mbErr.ExceptionCode)))
		}
		in.logger.Warn("modbus exchange failed", fields...)
		return
	}
	if !o.CRCOK {
		in.logger.Warn("crc mismatch accepted",
			zap.String("device_id", deviceID),
			zap.Int("index", o.Index))
	}
	if o.Block != nil && o.Block.Kind == decode.Unknown {
		in.logger.Info("unmapped register block",
			zap.String("device_id", deviceID),
			zap.Uint16("address", o.Block.Address),
			zap.Uint16s("registers", o.Block.Raw))
	}
}
