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
	"bytes"
	"encoding/binary"
	"testing"
)

// tcpRequest wraps a PDU in an MBAP envelope.
func tcpRequest(txid uint16, unit UnitID, pdu []byte) []byte {
	frame := make([]byte, 0, MBAPHeaderSize+len(pdu))
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], txid)
	frame = append(frame, buf[:]...)
	frame = append(frame, 0x00, 0x00) // protocol id
	binary.BigEndian.PutUint16(buf[:], uint16(len(pdu)+1))
	frame = append(frame, buf[:]...)
	frame = append(frame, byte(unit))
	return append(frame, pdu...)
}

// rtuRequest wraps a PDU with the unit id and a trailing CRC.
func rtuRequest(unit UnitID, pdu []byte) []byte {
	frame := make([]byte, 0, 1+len(pdu)+2)
	frame = append(frame, byte(unit))
	frame = append(frame, pdu...)
	crc := crc16(frame)
	return append(frame, byte(crc), byte(crc>>8))
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(1, NewContextSized(1000, 1000, 1000, 1000))
}

func TestEngine_ReadHoldingRegisters(t *testing.T) {
	e := newTestEngine(t)
	e.Context().SetHolding(0, 10)
	e.Context().SetHolding(1, 20)

	req := tcpRequest(0x0001, 1, []byte{0x03, 0x00, 0x00, 0x00, 0x02})
	resp := e.Process(req, TransportTCP)

	want := []byte{
		0x00, 0x01, 0x00, 0x00, 0x00, 0x07, 0x01, // MBAP echo, recomputed length
		0x03, 0x04, 0x00, 0x0A, 0x00, 0x14,
	}
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
}

func TestEngine_ReadInputRegisters(t *testing.T) {
	e := newTestEngine(t)
	e.Context().SetInput(5, 0xBEEF)

	req := tcpRequest(0x0002, 1, []byte{0x04, 0x00, 0x05, 0x00, 0x01})
	resp := e.Process(req, TransportTCP)

	want := []byte{0x00, 0x02, 0x00, 0x00, 0x00, 0x05, 0x01, 0x04, 0x02, 0xBE, 0xEF}
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
}

func TestEngine_ReadCoils(t *testing.T) {
	e := newTestEngine(t)
	e.Context().SetCoil(0, true)
	e.Context().SetCoil(2, true)
	e.Context().SetCoil(9, true)

	req := tcpRequest(0x0003, 1, []byte{0x01, 0x00, 0x00, 0x00, 0x0A})
	resp := e.Process(req, TransportTCP)

	// 10 bits -> 2 bytes, LSB first: 0b00000101, 0b00000010
	want := []byte{0x00, 0x03, 0x00, 0x00, 0x00, 0x05, 0x01, 0x01, 0x02, 0x05, 0x02}
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
}

func TestEngine_ReadDiscreteInputs(t *testing.T) {
	e := newTestEngine(t)
	e.Context().SetDiscrete(3, true)

	req := tcpRequest(0x0004, 1, []byte{0x02, 0x00, 0x00, 0x00, 0x08})
	resp := e.Process(req, TransportTCP)

	want := []byte{0x00, 0x04, 0x00, 0x00, 0x00, 0x04, 0x01, 0x02, 0x01, 0x08}
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
}

func TestEngine_WriteSingleCoil(t *testing.T) {
	e := newTestEngine(t)

	req := tcpRequest(0x0005, 1, []byte{0x05, 0x00, 0x07, 0xFF, 0x00})
	resp := e.Process(req, TransportTCP)

	// The response mirrors the request.
	if !bytes.Equal(resp, req) {
		t.Errorf("Expected echo %x, got %x", req, resp)
	}
	if v, _ := e.Context().Coil(7); !v {
		t.Error("Coil 7 not set")
	}

	// 0x0000 switches it back off.
	req = tcpRequest(0x0006, 1, []byte{0x05, 0x00, 0x07, 0x00, 0x00})
	resp = e.Process(req, TransportTCP)
	if !bytes.Equal(resp, req) {
		t.Errorf("Expected echo %x, got %x", req, resp)
	}
	if v, _ := e.Context().Coil(7); v {
		t.Error("Coil 7 not cleared")
	}
}

func TestEngine_WriteSingleCoil_BadValue(t *testing.T) {
	e := newTestEngine(t)

	req := tcpRequest(0x0007, 1, []byte{0x05, 0x00, 0x07, 0x12, 0x34})
	resp := e.Process(req, TransportTCP)

	want := []byte{0x00, 0x07, 0x00, 0x00, 0x00, 0x03, 0x01, 0x85, 0x03}
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
	if v, _ := e.Context().Coil(7); v {
		t.Error("Rejected write must not modify the coil")
	}
}

func TestEngine_WriteSingleRegister(t *testing.T) {
	e := newTestEngine(t)

	req := tcpRequest(0x0008, 1, []byte{0x06, 0x00, 0x10, 0x12, 0x34})
	resp := e.Process(req, TransportTCP)

	if !bytes.Equal(resp, req) {
		t.Errorf("Expected echo %x, got %x", req, resp)
	}
	if v, _ := e.Context().Holding(0x10); v != 0x1234 {
		t.Errorf("Expected 0x1234, got 0x%04X", v)
	}
}

func TestEngine_WriteMultipleCoils(t *testing.T) {
	e := newTestEngine(t)

	req := tcpRequest(0x0009, 1, []byte{0x0F, 0x00, 0x04, 0x00, 0x0A, 0x02, 0xCD, 0x01})
	resp := e.Process(req, TransportTCP)

	want := []byte{0x00, 0x09, 0x00, 0x00, 0x00, 0x06, 0x01, 0x0F, 0x00, 0x04, 0x00, 0x0A}
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}

	values, err := e.Context().Coils(4, 10)
	if err != nil {
		t.Fatalf("Coils failed: %v", err)
	}
	expect := []bool{true, false, true, true, false, false, true, true, true, false}
	for i, v := range values {
		if v != expect[i] {
			t.Errorf("Coil %d: expected %v, got %v", 4+i, expect[i], v)
		}
	}
}

func TestEngine_WriteMultipleCoils_ByteCountMismatch(t *testing.T) {
	e := newTestEngine(t)

	// 10 coils need 2 data bytes, not 3.
	req := tcpRequest(0x000A, 1, []byte{0x0F, 0x00, 0x00, 0x00, 0x0A, 0x03, 0xCD, 0x01, 0x00})
	resp := e.Process(req, TransportTCP)

	if len(resp) != MBAPHeaderSize+2 || resp[7] != 0x8F || resp[8] != 0x03 {
		t.Errorf("Expected illegal data value exception, got %x", resp)
	}
}

func TestEngine_WriteMultipleRegisters(t *testing.T) {
	e := newTestEngine(t)

	req := tcpRequest(0x000B, 1, []byte{0x10, 0x00, 0x00, 0x00, 0x02, 0x04, 0x00, 0x0A, 0x00, 0x14})
	resp := e.Process(req, TransportTCP)

	want := []byte{0x00, 0x0B, 0x00, 0x00, 0x00, 0x06, 0x01, 0x10, 0x00, 0x00, 0x00, 0x02}
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
	if v, _ := e.Context().Holding(0); v != 10 {
		t.Errorf("Expected 10, got %d", v)
	}
	if v, _ := e.Context().Holding(1); v != 20 {
		t.Errorf("Expected 20, got %d", v)
	}
}

func TestEngine_ReadQuantityTooLarge(t *testing.T) {
	e := newTestEngine(t)

	// 200 registers exceeds the 125 register read limit.
	req := tcpRequest(0x000C, 1, []byte{0x03, 0x00, 0x00, 0x00, 0xC8})
	resp := e.Process(req, TransportTCP)

	want := []byte{0x00, 0x0C, 0x00, 0x00, 0x00, 0x03, 0x01, 0x83, 0x03}
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}

	// 2001 coils exceeds the 2000 bit read limit.
	req = tcpRequest(0x000D, 1, []byte{0x01, 0x00, 0x00, 0x07, 0xD1})
	resp = e.Process(req, TransportTCP)
	if len(resp) < 9 || resp[7] != 0x81 || resp[8] != 0x03 {
		t.Errorf("Expected illegal data value exception, got %x", resp)
	}
}

func TestEngine_ZeroQuantity(t *testing.T) {
	e := newTestEngine(t)

	req := tcpRequest(0x000E, 1, []byte{0x03, 0x00, 0x00, 0x00, 0x00})
	resp := e.Process(req, TransportTCP)
	if len(resp) < 9 || resp[7] != 0x83 || resp[8] != 0x03 {
		t.Errorf("Expected illegal data value exception, got %x", resp)
	}
}

func TestEngine_ReadOutOfRange(t *testing.T) {
	e := newTestEngine(t) // 1000 cells per bank

	req := tcpRequest(0x000F, 1, []byte{0x03, 0x03, 0xE7, 0x00, 0x02})
	resp := e.Process(req, TransportTCP)

	want := []byte{0x00, 0x0F, 0x00, 0x00, 0x00, 0x03, 0x01, 0x83, 0x02}
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
}

func TestEngine_WriteOutOfRangeLeavesStateUntouched(t *testing.T) {
	e := newTestEngine(t)
	e.Context().SetHolding(999, 0x5555)

	// Two registers at address 999 spill past the last cell.
	req := tcpRequest(0x0010, 1, []byte{0x10, 0x03, 0xE7, 0x00, 0x02, 0x04, 0xAA, 0xAA, 0xBB, 0xBB})
	resp := e.Process(req, TransportTCP)

	if len(resp) < 9 || resp[7] != 0x90 || resp[8] != 0x02 {
		t.Errorf("Expected illegal data address exception, got %x", resp)
	}
	if v, _ := e.Context().Holding(999); v != 0x5555 {
		t.Error("Failed write modified the in-range register")
	}
}

func TestEngine_UnknownFunction(t *testing.T) {
	e := newTestEngine(t)

	req := tcpRequest(0x0011, 1, []byte{0x2B, 0x0E, 0x01, 0x00, 0x00})
	resp := e.Process(req, TransportTCP)

	want := []byte{0x00, 0x11, 0x00, 0x00, 0x00, 0x03, 0x01, 0xAB, 0x01}
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
}

func TestEngine_UnitMismatchDropped(t *testing.T) {
	e := newTestEngine(t) // unit 1

	req := tcpRequest(0x0012, 9, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	if resp := e.Process(req, TransportTCP); resp != nil {
		t.Errorf("Expected nil for unit 9, got %x", resp)
	}
}

func TestEngine_BroadcastWriteExecutedNotAnswered(t *testing.T) {
	for _, unit := range []UnitID{UnitBroadcast, UnitBroadcastAlt} {
		e := newTestEngine(t)

		req := tcpRequest(0x0013, unit, []byte{0x06, 0x00, 0x00, 0x00, 0x2A})
		if resp := e.Process(req, TransportTCP); resp != nil {
			t.Errorf("Unit %d: expected nil response, got %x", unit, resp)
		}
		if v, _ := e.Context().Holding(0); v != 42 {
			t.Errorf("Unit %d: broadcast write not executed, holding 0 is %d", unit, v)
		}
	}
}

func TestEngine_BroadcastReadDropped(t *testing.T) {
	e := newTestEngine(t)
	e.Context().SetHolding(0, 7)

	req := tcpRequest(0x0014, UnitBroadcast, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	if resp := e.Process(req, TransportTCP); resp != nil {
		t.Errorf("Expected nil for broadcast read, got %x", resp)
	}
}

func TestEngine_MalformedEnvelopeDropped(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"truncated header", []byte{0x00, 0x01, 0x00}},
		{"nonzero protocol id", tcpRequest(0x0015, 1, []byte{0x03, 0x00, 0x00, 0x00, 0x01})},
		{"short mbap length", []byte{0x00, 0x01, 0x00, 0x00, 0x00, 0x02, 0x01, 0x03}},
		{"truncated body", []byte{0x00, 0x16, 0x00, 0x00, 0x00, 0x06, 0x01, 0x03, 0x00, 0x00}},
	}
	tests[2].frame[2] = 0x07 // corrupt the protocol id in place

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := e.Process(tt.frame, TransportTCP); resp != nil {
				t.Errorf("Expected nil, got %x", resp)
			}
		})
	}
}

func TestEngine_UDPFramingMatchesTCP(t *testing.T) {
	e := newTestEngine(t)
	e.Context().SetHolding(0, 10)

	req := tcpRequest(0x0017, 1, []byte{0x03, 0x00, 0x00, 0x00, 0x01})
	tcp := e.Process(req, TransportTCP)
	udp := e.Process(req, TransportUDP)
	if !bytes.Equal(tcp, udp) {
		t.Errorf("TCP %x and UDP %x responses differ", tcp, udp)
	}
}

func TestEngine_RTURoundTrip(t *testing.T) {
	e := newTestEngine(t)
	e.Context().SetHolding(0, 10)
	e.Context().SetHolding(1, 20)

	req := rtuRequest(1, []byte{0x03, 0x00, 0x00, 0x00, 0x02})
	resp := e.Process(req, TransportRTU)

	body := []byte{0x01, 0x03, 0x04, 0x00, 0x0A, 0x00, 0x14}
	crc := crc16(body)
	want := append(body, byte(crc), byte(crc>>8))
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
}

func TestEngine_RTUBadCRCDropped(t *testing.T) {
	e := newTestEngine(t)

	req := rtuRequest(1, []byte{0x03, 0x00, 0x00, 0x00, 0x02})
	req[len(req)-1] ^= 0xFF
	if resp := e.Process(req, TransportRTU); resp != nil {
		t.Errorf("Expected nil for corrupted CRC, got %x", resp)
	}

	// Trailing CRC missing entirely.
	if resp := e.Process(req[:6], TransportRTU); resp != nil {
		t.Errorf("Expected nil for missing CRC, got %x", resp)
	}
}

func TestEngine_RTUWriteMultiple(t *testing.T) {
	e := newTestEngine(t)

	req := rtuRequest(1, []byte{0x10, 0x00, 0x05, 0x00, 0x02, 0x04, 0x12, 0x34, 0xAB, 0xCD})
	resp := e.Process(req, TransportRTU)

	body := []byte{0x01, 0x10, 0x00, 0x05, 0x00, 0x02}
	crc := crc16(body)
	want := append(body, byte(crc), byte(crc>>8))
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
	if v, _ := e.Context().Holding(5); v != 0x1234 {
		t.Errorf("Expected 0x1234, got 0x%04X", v)
	}
	if v, _ := e.Context().Holding(6); v != 0xABCD {
		t.Errorf("Expected 0xABCD, got 0x%04X", v)
	}
}

func TestEngine_RTUUnknownFunctionAnsweredWithoutCRCCheck(t *testing.T) {
	e := newTestEngine(t)

	// No valid CRC anywhere: the code is unknown, so the CRC position is
	// unknowable and the exception is sent regardless.
	req := []byte{0x01, 0x2B, 0x00, 0x00}
	resp := e.Process(req, TransportRTU)

	body := []byte{0x01, 0xAB, 0x01}
	crc := crc16(body)
	want := append(body, byte(crc), byte(crc>>8))
	if !bytes.Equal(resp, want) {
		t.Errorf("Expected %x, got %x", want, resp)
	}
}

func BenchmarkEngine_ProcessRead(b *testing.B) {
	e := NewEngine(1, NewContextSized(1000, 1000, 1000, 1000))
	req := tcpRequest(0x0001, 1, []byte{0x03, 0x00, 0x00, 0x00, 0x7D})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Process(req, TransportTCP)
	}
}

func BenchmarkEngine_ProcessWriteMultiple(b *testing.B) {
	e := NewEngine(1, NewContextSized(1000, 1000, 1000, 1000))
	pdu := make([]byte, 6+246)
	pdu[0] = byte(FuncWriteMultipleRegisters)
	binary.BigEndian.PutUint16(pdu[3:5], 123)
	pdu[5] = 246
	req := tcpRequest(0x0001, 1, pdu)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Process(req, TransportTCP)
	}
}

func BenchmarkEngine_ProcessRTU(b *testing.B) {
	e := NewEngine(1, NewContextSized(1000, 1000, 1000, 1000))
	req := rtuRequest(1, []byte{0x03, 0x00, 0x00, 0x00, 0x7D})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Process(req, TransportRTU)
	}
}

func TestEngine_Metrics(t *testing.T) {
	e := newTestEngine(t)
	e.Context().SetHolding(0, 1)

	e.Process(tcpRequest(1, 1, []byte{0x03, 0x00, 0x00, 0x00, 0x01}), TransportTCP) // read
	e.Process(tcpRequest(2, 1, []byte{0x06, 0x00, 0x00, 0x00, 0x01}), TransportTCP) // write
	e.Process(tcpRequest(3, 9, []byte{0x03, 0x00, 0x00, 0x00, 0x01}), TransportTCP) // dropped
	e.Process(tcpRequest(4, 1, []byte{0x03, 0x00, 0x00, 0x00, 0x00}), TransportTCP) // exception

	m := e.Metrics().Collect()
	expect := map[string]int64{
		"frames_total":   4,
		"frames_dropped": 1,
		"exceptions":     1,
		"reads":          1,
		"writes":         1,
	}
	for name, want := range expect {
		if got := m[name]; got != want {
			t.Errorf("%s: expected %d, got %d", name, want, got)
		}
	}

	e.Metrics().Reset()
	if got := e.Metrics().FramesTotal.Value(); got != 0 {
		t.Errorf("Expected 0 after reset, got %d", got)
	}
}
