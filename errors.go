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
	"errors"
	"fmt"
)

// ExceptionCode represents a Modbus exception code.
type ExceptionCode uint8

// Modbus exception codes.
const (
	ExceptionIllegalFunction     ExceptionCode = 0x01
	ExceptionIllegalDataAddress  ExceptionCode = 0x02
	ExceptionIllegalDataValue    ExceptionCode = 0x03
	ExceptionServerDeviceFailure ExceptionCode = 0x04
)

// String returns the string representation of the exception code.
func (e ExceptionCode) String() string {
	switch e {
	case ExceptionIllegalFunction:
		return "illegal function"
	case ExceptionIllegalDataAddress:
		return "illegal data address"
	case ExceptionIllegalDataValue:
		return "illegal data value"
	case ExceptionServerDeviceFailure:
		return "server device failure"
	default:
		return fmt.Sprintf("unknown exception (0x%02X)", uint8(e))
	}
}

// ModbusError represents a Modbus protocol error (exception response).
type ModbusError struct {
	FunctionCode  FunctionCode
	ExceptionCode ExceptionCode
}

// Error implements the error interface.
func (e *ModbusError) Error() string {
	return fmt.Sprintf("modbus: exception %s (FC=%02X)", e.ExceptionCode, e.FunctionCode)
}

// Is checks if the error matches the target.
func (e *ModbusError) Is(target error) bool {
	t, ok := target.(*ModbusError)
	if !ok {
		return false
	}
	return e.ExceptionCode == t.ExceptionCode
}

// Common errors.
var (
	// ErrOutOfRange indicates an address or address+quantity outside a
	// bank's capacity. The engine reports it on the wire as
	// ExceptionIllegalDataAddress.
	ErrOutOfRange = errors.New("modbus: address out of range")

	// ErrFormatMismatch indicates a dump blob whose header does not match
	// the running bank configuration. Never placed on the wire.
	ErrFormatMismatch = errors.New("modbus: dump format mismatch")

	// ErrInvalidFrame indicates a malformed frame.
	ErrInvalidFrame = errors.New("modbus: invalid frame")

	// ErrInvalidCRC indicates an RTU CRC validation failure.
	ErrInvalidCRC = errors.New("modbus: invalid CRC")
)

// NewModbusError creates a new Modbus exception error.
func NewModbusError(fc FunctionCode, ec ExceptionCode) *ModbusError {
	return &ModbusError{
		FunctionCode:  fc,
		ExceptionCode: ec,
	}
}

// IsException checks if an error is a specific Modbus exception.
func IsException(err error, code ExceptionCode) bool {
	var modbusErr *ModbusError
	if errors.As(err, &modbusErr) {
		return modbusErr.ExceptionCode == code
	}
	return false
}

// exceptionFor maps a handler error onto the exception code embedded in the
// response frame. Store bound errors are addressing problems; anything a
// handler flagged itself keeps its code; the rest is a device failure.
func exceptionFor(err error) ExceptionCode {
	var modbusErr *ModbusError
	switch {
	case errors.As(err, &modbusErr):
		return modbusErr.ExceptionCode
	case errors.Is(err, ErrOutOfRange):
		return ExceptionIllegalDataAddress
	default:
		return ExceptionServerDeviceFailure
	}
}
