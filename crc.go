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

// CRC computes the Modbus RTU checksum (CRC-16, polynomial 0xA001).
// The zero value is not ready for use; call Reset first.
type CRC struct {
	value uint16
}

// Reset initializes the checksum and returns the receiver for chaining.
func (c *CRC) Reset() *CRC {
	c.value = 0xFFFF
	return c
}

// PushBytes folds data into the checksum and returns the receiver.
func (c *CRC) PushBytes(data []byte) *CRC {
	crc := c.value
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&0x0001 != 0 {
				crc = crc>>1 ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	c.value = crc
	return c
}

// Value returns the current checksum. On the RTU wire the low byte is
// transmitted first.
func (c *CRC) Value() uint16 {
	return c.value
}

// crc16 is a convenience wrapper for one-shot checksum computation.
func crc16(data []byte) uint16 {
	var c CRC
	return c.Reset().PushBytes(data).Value()
}
