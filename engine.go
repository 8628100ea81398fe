// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"encoding/binary"
	"errors"
	"log/slog"
)

// Engine turns raw Modbus request frames into operations against a context
// store and produces the response bytes to write back. It is synchronous,
// holds no state between calls, and never touches the network itself: the
// transport collaborator reads a frame, calls Process, and writes whatever
// comes back.
type Engine struct {
	unitID  UnitID
	ctx     *Context
	logger  *slog.Logger
	metrics *EngineMetrics
}

// NewEngine creates an engine answering for unitID against ctx.
func NewEngine(unitID UnitID, ctx *Context, opts ...EngineOption) *Engine {
	options := defaultEngineOptions()
	for _, opt := range opts {
		opt(options)
	}
	return &Engine{
		unitID:  unitID,
		ctx:     ctx,
		logger:  options.logger,
		metrics: &EngineMetrics{},
	}
}

// UnitID returns the unit address the engine answers for.
func (e *Engine) UnitID() UnitID {
	return e.unitID
}

// Context returns the register store behind the engine.
func (e *Engine) Context() *Context {
	return e.ctx
}

// Metrics returns the engine metrics.
func (e *Engine) Metrics() *EngineMetrics {
	return e.metrics
}

// Process consumes one raw request frame in the given transport framing and
// returns the response frame, or nil when the frame must be dropped: not
// addressed to this unit, broadcast, malformed envelope, or bad CRC. A nil
// return means "write nothing back"; it is not an error.
func (e *Engine) Process(frame []byte, transport Transport) []byte {
	e.metrics.FramesTotal.Add(1)
	resp := e.process(frame, transport)
	switch {
	case resp == nil:
		e.metrics.FramesDropped.Add(1)
	case e.isExceptionResponse(resp, transport):
		e.metrics.Exceptions.Add(1)
	}
	return resp
}

func (e *Engine) isExceptionResponse(resp []byte, transport Transport) bool {
	fcIndex := MBAPHeaderSize
	if transport == TransportRTU {
		fcIndex = 1
	}
	return len(resp) > fcIndex && resp[fcIndex]&0x80 != 0
}

func (e *Engine) process(frame []byte, transport Transport) []byte {
	start := 0
	if transport != TransportRTU {
		// MBAP envelope: txid(2) proto(2) length(2) unit(1).
		if len(frame) < MBAPHeaderSize+1 {
			e.logger.Debug("dropping frame: truncated MBAP header", slog.Int("len", len(frame)))
			return nil
		}
		if binary.BigEndian.Uint16(frame[2:4]) != ProtocolID {
			e.logger.Debug("dropping frame: nonzero protocol id")
			return nil
		}
		if binary.BigEndian.Uint16(frame[4:6]) < 6 {
			e.logger.Debug("dropping frame: implausible MBAP length")
			return nil
		}
		start = 6
	} else if len(frame) < 4 {
		e.logger.Debug("dropping frame: shorter than minimal RTU request", slog.Int("len", len(frame)))
		return nil
	}

	unit := UnitID(frame[start])
	broadcast := unit == UnitBroadcast || unit == UnitBroadcastAlt
	if !broadcast && unit != e.unitID {
		e.logger.Debug("dropping frame for other unit",
			slog.Uint64("unit", uint64(unit)),
			slog.Uint64("configured", uint64(e.unitID)))
		return nil
	}

	fc := FunctionCode(frame[start+1])
	e.logger.Debug("processing frame",
		slog.String("transport", transport.String()),
		slog.Uint64("unit", uint64(unit)),
		slog.String("func", fc.String()))

	reqLen, err := rtuRequestLength(fc, frame[start:])
	if errors.Is(err, errUnknownFunction) {
		// The field layout (and for RTU the CRC position) cannot be
		// derived from an unsupported code, so answer without further
		// parsing. Broadcast suppression still applies below.
		if broadcast {
			return nil
		}
		return e.respond(frame, transport, unit, exceptionPDU(fc, ExceptionIllegalFunction))
	}
	if err != nil {
		e.logger.Debug("dropping frame: truncated request header", slog.String("error", err.Error()))
		return nil
	}

	if transport == TransportRTU {
		if err := verifyRTUCRC(frame, reqLen); err != nil {
			// A corrupted frame may not even be addressed to this unit;
			// its function code cannot be trusted, so never answer.
			e.logger.Debug("dropping frame: CRC", slog.String("error", err.Error()))
			return nil
		}
	} else if len(frame) < start+reqLen {
		e.logger.Debug("dropping frame: truncated request body", slog.Int("len", len(frame)))
		return nil
	}

	// pdu covers the function code and the request fields, envelope and
	// CRC stripped.
	pdu := frame[start+1 : start+reqLen]

	var resp []byte
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs:
		if broadcast {
			return nil
		}
		resp = e.handleReadBits(fc, pdu)
	case FuncReadHoldingRegisters, FuncReadInputRegisters:
		if broadcast {
			return nil
		}
		resp = e.handleReadWords(fc, pdu)
	case FuncWriteSingleCoil:
		resp = e.handleWriteSingleCoil(pdu)
	case FuncWriteSingleRegister:
		resp = e.handleWriteSingleRegister(pdu)
	case FuncWriteMultipleCoils:
		resp = e.handleWriteMultipleCoils(pdu)
	case FuncWriteMultipleRegisters:
		resp = e.handleWriteMultipleRegisters(pdu)
	}

	// Broadcast requests are executed but never answered.
	if broadcast {
		return nil
	}
	return e.respond(frame, transport, unit, resp)
}

// respond wraps a response PDU in the transport envelope: the echoed
// transaction and protocol ids plus a recomputed length for MBAP, or the
// unit id plus a recomputed CRC for RTU.
func (e *Engine) respond(frame []byte, transport Transport, unit UnitID, pdu []byte) []byte {
	if transport != TransportRTU {
		resp := make([]byte, 0, MBAPHeaderSize+len(pdu))
		resp = append(resp, frame[0:4]...)
		var length [2]byte
		binary.BigEndian.PutUint16(length[:], uint16(len(pdu)+1))
		resp = append(resp, length[:]...)
		resp = append(resp, byte(unit))
		return append(resp, pdu...)
	}
	resp := make([]byte, 0, 1+len(pdu)+2)
	resp = append(resp, byte(unit))
	resp = append(resp, pdu...)
	crc := crc16(resp)
	return append(resp, byte(crc), byte(crc>>8))
}

func exceptionPDU(fc FunctionCode, code ExceptionCode) []byte {
	return []byte{byte(fc) | 0x80, byte(code)}
}

// handleReadBits serves FC01/FC02. One packed bulk read under one gate
// acquisition.
func (e *Engine) handleReadBits(fc FunctionCode, pdu []byte) []byte {
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	if qty < 1 || qty > MaxQuantityBitRead {
		return exceptionPDU(fc, ExceptionIllegalDataValue)
	}

	var packed []byte
	err := e.ctx.Atomic(func(g *Guard) error {
		bank := g.Coils()
		if fc == FuncReadDiscreteInputs {
			bank = g.Discretes()
		}
		var err error
		packed, err = bank.GetPacked(addr, qty)
		return err
	})
	if err != nil {
		return exceptionPDU(fc, exceptionFor(err))
	}
	e.metrics.Reads.Add(1)

	resp := make([]byte, 2, 2+len(packed))
	resp[0] = byte(fc)
	resp[1] = byte(len(packed))
	return append(resp, packed...)
}

// handleReadWords serves FC03/FC04. One bulk read under one gate
// acquisition.
func (e *Engine) handleReadWords(fc FunctionCode, pdu []byte) []byte {
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	if qty < 1 || qty > MaxQuantityRegisterRead {
		return exceptionPDU(fc, ExceptionIllegalDataValue)
	}

	var data []byte
	err := e.ctx.Atomic(func(g *Guard) error {
		bank := g.Holdings()
		if fc == FuncReadInputRegisters {
			bank = g.Inputs()
		}
		var err error
		data, err = bank.GetBytes(addr, qty)
		return err
	})
	if err != nil {
		return exceptionPDU(fc, exceptionFor(err))
	}
	e.metrics.Reads.Add(1)

	resp := make([]byte, 2, 2+len(data))
	resp[0] = byte(fc)
	resp[1] = byte(len(data))
	return append(resp, data...)
}

// handleWriteSingleCoil serves FC05. The response mirrors the request.
func (e *Engine) handleWriteSingleCoil(pdu []byte) []byte {
	addr := binary.BigEndian.Uint16(pdu[1:3])
	var value bool
	switch binary.BigEndian.Uint16(pdu[3:5]) {
	case CoilOn:
		value = true
	case CoilOff:
		value = false
	default:
		return exceptionPDU(FuncWriteSingleCoil, ExceptionIllegalDataValue)
	}

	if err := e.ctx.SetCoil(addr, value); err != nil {
		return exceptionPDU(FuncWriteSingleCoil, exceptionFor(err))
	}
	e.metrics.Writes.Add(1)

	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp
}

// handleWriteSingleRegister serves FC06. The response mirrors the request.
func (e *Engine) handleWriteSingleRegister(pdu []byte) []byte {
	addr := binary.BigEndian.Uint16(pdu[1:3])
	value := binary.BigEndian.Uint16(pdu[3:5])

	if err := e.ctx.SetHolding(addr, value); err != nil {
		return exceptionPDU(FuncWriteSingleRegister, exceptionFor(err))
	}
	e.metrics.Writes.Add(1)

	resp := make([]byte, 5)
	copy(resp, pdu[:5])
	return resp
}

// handleWriteMultipleCoils serves FC15. One packed bulk write under one gate
// acquisition; an out-of-range request leaves every coil unchanged.
func (e *Engine) handleWriteMultipleCoils(pdu []byte) []byte {
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxQuantityBitWrite {
		return exceptionPDU(FuncWriteMultipleCoils, ExceptionIllegalDataValue)
	}
	if byteCount != (int(qty)+7)/8 || len(pdu) < 6+byteCount {
		return exceptionPDU(FuncWriteMultipleCoils, ExceptionIllegalDataValue)
	}

	err := e.ctx.Atomic(func(g *Guard) error {
		return g.Coils().SetPacked(addr, qty, pdu[6:6+byteCount])
	})
	if err != nil {
		return exceptionPDU(FuncWriteMultipleCoils, exceptionFor(err))
	}
	e.metrics.Writes.Add(1)

	resp := make([]byte, 5)
	resp[0] = byte(FuncWriteMultipleCoils)
	binary.BigEndian.PutUint16(resp[1:3], addr)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp
}

// handleWriteMultipleRegisters serves FC16. One bulk write under one gate
// acquisition, so a concurrent reader never observes a torn multi-register
// value.
func (e *Engine) handleWriteMultipleRegisters(pdu []byte) []byte {
	addr := binary.BigEndian.Uint16(pdu[1:3])
	qty := binary.BigEndian.Uint16(pdu[3:5])
	byteCount := int(pdu[5])

	if qty < 1 || qty > MaxQuantityRegisterWrite {
		return exceptionPDU(FuncWriteMultipleRegisters, ExceptionIllegalDataValue)
	}
	if byteCount != 2*int(qty) || len(pdu) < 6+byteCount {
		return exceptionPDU(FuncWriteMultipleRegisters, ExceptionIllegalDataValue)
	}

	err := e.ctx.Atomic(func(g *Guard) error {
		return g.Holdings().SetBytes(addr, pdu[6:6+byteCount])
	})
	if err != nil {
		return exceptionPDU(FuncWriteMultipleRegisters, exceptionFor(err))
	}
	e.metrics.Writes.Add(1)

	resp := make([]byte, 5)
	resp[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(resp[1:3], addr)
	binary.BigEndian.PutUint16(resp[3:5], qty)
	return resp
}
