package modbus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	mb "github.com/goburrow/modbus"
	"go.uber.org/zap"
)

const maxReadQuantity = 125

// unitRegisters holds the mirrored registers of one Modbus unit.
type unitRegisters struct {
	mu sync.RWMutex
	hr []uint16
}

// Mirror keeps the last raw registers read from every device and serves them
// to Modbus TCP clients. Function codes 3 and 4 read the same bank.
//
// Banks are keyed by device, not by the unit id the device answers to, so
// two gensets that are both unit 1 behind different gateways stay apart.
// Each device is served on its own mirror unit, assigned 1..247 in the order
// the devices were given.
type Mirror struct {
	size    int
	logger  *zap.Logger
	unitFor map[string]byte
	mu      sync.RWMutex
	units   map[byte]*unitRegisters
}

// NewMirror creates a mirror for deviceIDs, each with size registers.
// Devices past the 247th are not mirrored.
func NewMirror(deviceIDs []string, size int, logger *zap.Logger) *Mirror {
	if size <= 0 {
		size = 512
	}
	m := &Mirror{
		size:    size,
		logger:  logger.Named("mirror"),
		unitFor: make(map[string]byte, len(deviceIDs)),
		units:   make(map[byte]*unitRegisters),
	}
	for _, id := range deviceIDs {
		if _, dup := m.unitFor[id]; dup {
			continue
		}
		if len(m.unitFor) == 247 {
			m.logger.Warn("mirror full, device not mirrored", zap.String("device_id", id))
			continue
		}
		unit := byte(len(m.unitFor) + 1)
		m.unitFor[id] = unit
		m.logger.Debug("mirror unit assigned", zap.String("device_id", id), zap.Uint8("unit_id", unit))
	}
	return m
}

// Unit returns the mirror unit deviceID is served on.
func (m *Mirror) Unit(deviceID string) (byte, bool) {
	u, ok := m.unitFor[deviceID]
	return u, ok
}

// StoreRegisters copies regs into the bank of deviceID starting at start.
// Blocks that do not fit are dropped.
func (m *Mirror) StoreRegisters(deviceID string, start uint16, regs []uint16) {
	unitID, ok := m.unitFor[deviceID]
	if !ok {
		m.logger.Debug("device not mirrored", zap.String("device_id", deviceID))
		return
	}
	if int(start)+len(regs) > m.size {
		m.logger.Debug("block outside mirror",
			zap.String("device_id", deviceID), zap.Uint16("start", start), zap.Int("count", len(regs)))
		return
	}

	m.mu.Lock()
	u, ok := m.units[unitID]
	if !ok {
		u = &unitRegisters{hr: make([]uint16, m.size)}
		m.units[unitID] = u
	}
	m.mu.Unlock()

	u.mu.Lock()
	copy(u.hr[start:], regs)
	u.mu.Unlock()
}

// Registers returns a copy of quantity registers of unitID from start.
func (m *Mirror) Registers(unitID byte, start, quantity uint16) ([]uint16, error) {
	m.mu.RLock()
	u, ok := m.units[unitID]
	m.mu.RUnlock()
	if !ok {
		return nil, &mb.ModbusError{ExceptionCode: mb.ExceptionCodeGatewayTargetDeviceFailedToRespond}
	}
	if quantity == 0 || quantity > maxReadQuantity {
		return nil, &mb.ModbusError{ExceptionCode: mb.ExceptionCodeIllegalDataValue}
	}
	if int(start)+int(quantity) > m.size {
		return nil, &mb.ModbusError{ExceptionCode: mb.ExceptionCodeIllegalDataAddress}
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]uint16(nil), u.hr[start:int(start)+int(quantity)]...), nil
}

// ListenAndServe serves the mirror on address until ctx is done.
func (m *Mirror) ListenAndServe(ctx context.Context, address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start Modbus TCP server: %w", err)
	}
	return m.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done.
func (m *Mirror) Serve(ctx context.Context, ln net.Listener) error {
	m.logger.Info("server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			m.logger.Warn("accept failed", zap.Error(err))
			continue
		}
		go m.handleConnection(ctx, conn)
	}
}

func (m *Mirror) handleConnection(ctx context.Context, c net.Conn) {
	defer func() {
		if err := recover(); err != nil {
			m.logger.Error("recovered from panic in connection handler", zap.Any("panic", err))
		}
		c.Close()
	}()
	go func() {
		<-ctx.Done()
		c.Close()
	}()

	log := m.logger.With(zap.String("remote", c.RemoteAddr().String()))
	log.Debug("accepted connection")

	header := make([]byte, 7)
	for {
		if _, err := io.ReadFull(c, header); err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug("read MBAP header", zap.Error(err))
			}
			return
		}
		transactionID := binary.BigEndian.Uint16(header[0:2])
		protocolID := binary.BigEndian.Uint16(header[2:4])
		length := binary.BigEndian.Uint16(header[4:6])
		unitID := header[6]

		if protocolID != 0 || length < 2 || length > 254 {
			log.Warn("bad MBAP header", zap.Uint16("protocol", protocolID), zap.Uint16("length", length))
			return
		}
		raw := make([]byte, int(length)-1)
		if _, err := io.ReadFull(c, raw); err != nil {
			log.Debug("read PDU", zap.Error(err))
			return
		}

		resp := m.respond(unitID, mb.ProtocolDataUnit{FunctionCode: raw[0], Data: raw[1:]})
		if err := writeADU(c, transactionID, unitID, resp); err != nil {
			log.Debug("write response", zap.Error(err))
			return
		}
	}
}

// respond builds the response for one request.
func (m *Mirror) respond(unitID byte, req mb.ProtocolDataUnit) mb.ProtocolDataUnit {
	fc := req.FunctionCode
	exception := func(code byte) mb.ProtocolDataUnit {
		return mb.ProtocolDataUnit{FunctionCode: fc | 0x80, Data: []byte{code}}
	}
	if fc != mb.FuncCodeReadHoldingRegisters && fc != mb.FuncCodeReadInputRegisters {
		return exception(mb.ExceptionCodeIllegalFunction)
	}
	if len(req.Data) < 4 {
		return exception(mb.ExceptionCodeIllegalDataValue)
	}
	start := binary.BigEndian.Uint16(req.Data[0:2])
	quantity := binary.BigEndian.Uint16(req.Data[2:4])

	regs, err := m.Registers(unitID, start, quantity)
	if err != nil {
		var mbErr *mb.ModbusError
		errors.As(err, &mbErr)
		return exception(mbErr.ExceptionCode)
	}
	data := make([]byte, 1, 1+2*len(regs))
	data[0] = byte(2 * len(regs))
	for _, r := range regs {
		data = binary.BigEndian.AppendUint16(data, r)
	}
	return mb.ProtocolDataUnit{FunctionCode: fc, Data: data}
}

func writeADU(w io.Writer, transactionID uint16, unitID byte, pdu mb.ProtocolDataUnit) error {
	adu := make([]byte, 8, 8+len(pdu.Data))
	binary.BigEndian.PutUint16(adu[0:2], transactionID)
	binary.BigEndian.PutUint16(adu[4:6], uint16(len(pdu.Data)+2))
	adu[6] = unitID
	adu[7] = pdu.FunctionCode
	_, err := w.Write(append(adu, pdu.Data...))
	return err
}
