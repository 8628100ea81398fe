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

// Package modbus implements a transport-independent Modbus server-side
// protocol engine and register context store. The engine consumes one raw
// frame at a time (TCP, UDP or RTU framing) and produces the bytes to write
// back, if any; sockets and serial ports are the caller's business.
package modbus

// UnitID represents the Modbus unit identifier (slave address).
type UnitID uint8

// Broadcast unit addresses. A request addressed to either is executed but
// never answered. 255 is not standard but widely used by TCP clients.
const (
	UnitBroadcast    UnitID = 0
	UnitBroadcastAlt UnitID = 255
)

// FunctionCode represents a Modbus function code.
type FunctionCode uint8

// Standard Modbus function codes.
const (
	FuncReadCoils              FunctionCode = 0x01
	FuncReadDiscreteInputs     FunctionCode = 0x02
	FuncReadHoldingRegisters   FunctionCode = 0x03
	FuncReadInputRegisters     FunctionCode = 0x04
	FuncWriteSingleCoil        FunctionCode = 0x05
	FuncWriteSingleRegister    FunctionCode = 0x06
	FuncWriteMultipleCoils     FunctionCode = 0x0F
	FuncWriteMultipleRegisters FunctionCode = 0x10
)

// String returns the conventional name of the function code.
func (fc FunctionCode) String() string {
	switch fc {
	case FuncReadCoils:
		return "ReadCoils"
	case FuncReadDiscreteInputs:
		return "ReadDiscreteInputs"
	case FuncReadHoldingRegisters:
		return "ReadHoldingRegisters"
	case FuncReadInputRegisters:
		return "ReadInputRegisters"
	case FuncWriteSingleCoil:
		return "WriteSingleCoil"
	case FuncWriteSingleRegister:
		return "WriteSingleRegister"
	case FuncWriteMultipleCoils:
		return "WriteMultipleCoils"
	case FuncWriteMultipleRegisters:
		return "WriteMultipleRegisters"
	default:
		return "Unknown"
	}
}

// IsWrite reports whether the function code mutates the context store.
// Write requests are the only ones executed on broadcast frames.
func (fc FunctionCode) IsWrite() bool {
	switch fc {
	case FuncWriteSingleCoil, FuncWriteSingleRegister,
		FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return true
	}
	return false
}

// Transport selects the wire framing the engine parses and emits.
// TCP and UDP share the MBAP envelope; RTU carries a trailing CRC instead.
type Transport int

const (
	TransportTCP Transport = iota
	TransportUDP
	TransportRTU
)

// String returns the string representation of the transport.
func (t Transport) String() string {
	switch t {
	case TransportTCP:
		return "tcp"
	case TransportUDP:
		return "udp"
	case TransportRTU:
		return "rtu"
	default:
		return "unknown"
	}
}

// Table identifies one of the four register banks of a context store.
type Table int

const (
	TableCoils Table = iota
	TableDiscreteInputs
	TableInputRegisters
	TableHoldingRegisters
)

// String returns the string representation of the table.
func (t Table) String() string {
	switch t {
	case TableCoils:
		return "coils"
	case TableDiscreteInputs:
		return "discretes"
	case TableInputRegisters:
		return "inputs"
	case TableHoldingRegisters:
		return "holdings"
	default:
		return "unknown"
	}
}

// Protocol constants.
const (
	// MaxQuantityBitRead is the maximum number of coils or discrete inputs
	// in one read request (FC01/FC02).
	MaxQuantityBitRead = 2000

	// MaxQuantityBitWrite is the maximum number of coils in one
	// write-multiple request (FC15).
	MaxQuantityBitWrite = 1968

	// MaxQuantityRegisterRead is the maximum number of registers in one
	// read request (FC03/FC04).
	MaxQuantityRegisterRead = 125

	// MaxQuantityRegisterWrite is the maximum number of registers in one
	// write-multiple request (FC16).
	MaxQuantityRegisterWrite = 123

	// MBAPHeaderSize is the size of the MBAP header in bytes.
	MBAPHeaderSize = 7

	// ProtocolID is the Modbus protocol identifier (always 0).
	ProtocolID = 0

	// MaxADUSize is the largest frame the engine accepts, per the Modbus
	// standard (RTU ADU limit; MBAP framing stays below it too).
	MaxADUSize = 256

	// DefaultBankSize is the per-bank capacity of a context store built
	// with NewContext.
	DefaultBankSize = 10000
)

// Coil values for single-coil write requests.
const (
	CoilOn  uint16 = 0xFF00
	CoilOff uint16 = 0x0000
)
