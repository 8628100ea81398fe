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
	"fmt"
	"io"
)

// MBAPHeader represents the Modbus Application Protocol header used by the
// TCP and UDP framings.
type MBAPHeader struct {
	TransactionID uint16 // Transaction identifier, echoed into the response
	ProtocolID    uint16 // Protocol identifier (always 0 for Modbus)
	Length        uint16 // Number of following bytes (Unit ID + PDU)
	UnitID        UnitID // Unit identifier (slave address)
}

// Encode encodes the MBAP header to bytes.
func (h *MBAPHeader) Encode() []byte {
	buf := make([]byte, MBAPHeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.TransactionID)
	binary.BigEndian.PutUint16(buf[2:4], h.ProtocolID)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	buf[6] = byte(h.UnitID)
	return buf
}

// Decode decodes the MBAP header from bytes.
func (h *MBAPHeader) Decode(data []byte) error {
	if len(data) < MBAPHeaderSize {
		return fmt.Errorf("%w: MBAP header too short", ErrInvalidFrame)
	}
	h.TransactionID = binary.BigEndian.Uint16(data[0:2])
	h.ProtocolID = binary.BigEndian.Uint16(data[2:4])
	h.Length = binary.BigEndian.Uint16(data[4:6])
	h.UnitID = UnitID(data[6])
	return nil
}

// ReadFrame reads one complete MBAP-framed request from a stream and returns
// it as a raw frame suitable for Engine.Process. It is the piece a TCP
// transport loop needs between the socket and the engine; UDP and RTU
// transports receive whole datagrams/frames and do not need it.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, MBAPHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	var h MBAPHeader
	if err := h.Decode(header); err != nil {
		return nil, err
	}
	if h.ProtocolID != ProtocolID {
		return nil, fmt.Errorf("%w: invalid protocol ID %d", ErrInvalidFrame, h.ProtocolID)
	}

	// Length counts the unit id, which the header already carries.
	rest := int(h.Length) - 1
	if rest < 1 || rest > MaxADUSize-MBAPHeaderSize {
		return nil, fmt.Errorf("%w: invalid length %d", ErrInvalidFrame, h.Length)
	}

	frame := make([]byte, MBAPHeaderSize+rest)
	copy(frame, header)
	if _, err := io.ReadFull(r, frame[MBAPHeaderSize:]); err != nil {
		return nil, err
	}
	return frame, nil
}

// rtuRequestLength returns the number of bytes an RTU request covers before
// its CRC, counted from the unit id, based on the function code. For the
// write-multiple codes the byte-count field must already be present in pdu
// (the frame sliced from the unit id).
func rtuRequestLength(fc FunctionCode, pdu []byte) (int, error) {
	switch fc {
	case FuncReadCoils, FuncReadDiscreteInputs,
		FuncReadHoldingRegisters, FuncReadInputRegisters,
		FuncWriteSingleCoil, FuncWriteSingleRegister:
		return 6, nil
	case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		if len(pdu) < 7 {
			return 0, fmt.Errorf("%w: truncated write-multiple header", ErrInvalidFrame)
		}
		return 7 + int(pdu[6]), nil
	default:
		return 0, fmt.Errorf("%w: 0x%02X", errUnknownFunction, byte(fc))
	}
}

// errUnknownFunction marks a function code outside the supported set. The
// engine answers it with ExceptionIllegalFunction rather than dropping.
var errUnknownFunction = errors.New("modbus: unsupported function code")

// verifyRTUCRC checks the little-endian CRC trailing a request of n bytes.
func verifyRTUCRC(frame []byte, n int) error {
	if len(frame) < n+2 {
		return fmt.Errorf("%w: frame shorter than CRC position", ErrInvalidFrame)
	}
	want := uint16(frame[n]) | uint16(frame[n+1])<<8
	if got := crc16(frame[:n]); got != want {
		return fmt.Errorf("%w: got %04X, frame carries %04X", ErrInvalidCRC, got, want)
	}
	return nil
}
