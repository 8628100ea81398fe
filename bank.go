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
	"fmt"
	"math"
)

// BitBank is a fixed-capacity array of single-bit cells. Bits are stored
// packed 8 per byte, LSB first, matching the coil/discrete-input wire
// encoding, so packed reads and the dump format need no conversion.
//
// BitBank performs no locking of its own; the owning Context serializes
// access.
type BitBank struct {
	bits []byte
	size int
}

// NewBitBank creates a bit bank with the given number of cells.
func NewBitBank(size int) *BitBank {
	return &BitBank{
		bits: make([]byte, (size+7)/8),
		size: size,
	}
}

// Size returns the bank capacity in cells.
func (b *BitBank) Size() int {
	return b.size
}

func (b *BitBank) checkRange(addr, quantity uint16) error {
	if int(addr)+int(quantity) > b.size {
		return fmt.Errorf("%w: address %d quantity %d exceeds capacity %d",
			ErrOutOfRange, addr, quantity, b.size)
	}
	return nil
}

// Get returns the cell at addr.
func (b *BitBank) Get(addr uint16) (bool, error) {
	if err := b.checkRange(addr, 1); err != nil {
		return false, err
	}
	return b.bits[addr/8]&(1<<(addr%8)) != 0, nil
}

// Set overwrites the cell at addr.
func (b *BitBank) Set(addr uint16, value bool) error {
	if err := b.checkRange(addr, 1); err != nil {
		return err
	}
	if value {
		b.bits[addr/8] |= 1 << (addr % 8)
	} else {
		b.bits[addr/8] &^= 1 << (addr % 8)
	}
	return nil
}

// GetBulk returns quantity cells starting at addr, in address order.
func (b *BitBank) GetBulk(addr, quantity uint16) ([]bool, error) {
	if err := b.checkRange(addr, quantity); err != nil {
		return nil, err
	}
	values := make([]bool, quantity)
	for i := range values {
		bit := int(addr) + i
		values[i] = b.bits[bit/8]&(1<<(bit%8)) != 0
	}
	return values, nil
}

// SetBulk overwrites len(values) cells starting at addr. On an out-of-range
// failure no cell is modified.
func (b *BitBank) SetBulk(addr uint16, values []bool) error {
	if int(addr)+len(values) > b.size {
		return fmt.Errorf("%w: address %d quantity %d exceeds capacity %d",
			ErrOutOfRange, addr, len(values), b.size)
	}
	for i, v := range values {
		bit := int(addr) + i
		if v {
			b.bits[bit/8] |= 1 << (bit % 8)
		} else {
			b.bits[bit/8] &^= 1 << (bit % 8)
		}
	}
	return nil
}

// GetPacked returns quantity cells starting at addr packed 8 per byte,
// LSB first. Unused high bits of the final byte are zero.
func (b *BitBank) GetPacked(addr, quantity uint16) ([]byte, error) {
	if err := b.checkRange(addr, quantity); err != nil {
		return nil, err
	}
	packed := make([]byte, (int(quantity)+7)/8)
	for i := 0; i < int(quantity); i++ {
		bit := int(addr) + i
		if b.bits[bit/8]&(1<<(bit%8)) != 0 {
			packed[i/8] |= 1 << (i % 8)
		}
	}
	return packed, nil
}

// SetPacked overwrites quantity cells starting at addr from wire-packed
// data. On any failure no cell is modified.
func (b *BitBank) SetPacked(addr, quantity uint16, data []byte) error {
	if err := b.checkRange(addr, quantity); err != nil {
		return err
	}
	if len(data) < (int(quantity)+7)/8 {
		return fmt.Errorf("%w: %d bytes cannot hold %d bits", ErrInvalidFrame, len(data), quantity)
	}
	for i := 0; i < int(quantity); i++ {
		bit := int(addr) + i
		if data[i/8]&(1<<(i%8)) != 0 {
			b.bits[bit/8] |= 1 << (bit % 8)
		} else {
			b.bits[bit/8] &^= 1 << (bit % 8)
		}
	}
	return nil
}

// snapshot returns a copy of the packed storage, which is already the dump
// payload encoding for bit banks.
func (b *BitBank) snapshot() []byte {
	out := make([]byte, len(b.bits))
	copy(out, b.bits)
	return out
}

// restoreFrom replaces the bank contents with a snapshot payload.
func (b *BitBank) restoreFrom(data []byte) error {
	if len(data) != len(b.bits) {
		return fmt.Errorf("%w: bit bank payload %d bytes, want %d",
			ErrFormatMismatch, len(data), len(b.bits))
	}
	copy(b.bits, data)
	return nil
}

// payloadLen returns the dump payload size in bytes.
func (b *BitBank) payloadLen() int {
	return len(b.bits)
}

// WordBank is a fixed-capacity array of 16-bit cells.
//
// WordBank performs no locking of its own; the owning Context serializes
// access.
type WordBank struct {
	words []uint16
}

// NewWordBank creates a word bank with the given number of cells.
func NewWordBank(size int) *WordBank {
	return &WordBank{
		words: make([]uint16, size),
	}
}

// Size returns the bank capacity in cells.
func (b *WordBank) Size() int {
	return len(b.words)
}

func (b *WordBank) checkRange(addr, quantity uint16) error {
	if int(addr)+int(quantity) > len(b.words) {
		return fmt.Errorf("%w: address %d quantity %d exceeds capacity %d",
			ErrOutOfRange, addr, quantity, len(b.words))
	}
	return nil
}

// Get returns the cell at addr.
func (b *WordBank) Get(addr uint16) (uint16, error) {
	if err := b.checkRange(addr, 1); err != nil {
		return 0, err
	}
	return b.words[addr], nil
}

// Set overwrites the cell at addr.
func (b *WordBank) Set(addr, value uint16) error {
	if err := b.checkRange(addr, 1); err != nil {
		return err
	}
	b.words[addr] = value
	return nil
}

// GetBulk returns quantity cells starting at addr, in address order.
func (b *WordBank) GetBulk(addr, quantity uint16) ([]uint16, error) {
	if err := b.checkRange(addr, quantity); err != nil {
		return nil, err
	}
	values := make([]uint16, quantity)
	copy(values, b.words[addr:int(addr)+int(quantity)])
	return values, nil
}

// SetBulk overwrites len(values) cells starting at addr. On an out-of-range
// failure no cell is modified.
func (b *WordBank) SetBulk(addr uint16, values []uint16) error {
	if int(addr)+len(values) > len(b.words) {
		return fmt.Errorf("%w: address %d quantity %d exceeds capacity %d",
			ErrOutOfRange, addr, len(values), len(b.words))
	}
	copy(b.words[addr:], values)
	return nil
}

// GetBytes returns quantity cells starting at addr as big-endian bytes,
// the register wire encoding.
func (b *WordBank) GetBytes(addr, quantity uint16) ([]byte, error) {
	if err := b.checkRange(addr, quantity); err != nil {
		return nil, err
	}
	out := make([]byte, 2*quantity)
	for i := 0; i < int(quantity); i++ {
		binary.BigEndian.PutUint16(out[2*i:], b.words[int(addr)+i])
	}
	return out, nil
}

// SetBytes overwrites cells starting at addr from big-endian wire bytes.
// On any failure no cell is modified.
func (b *WordBank) SetBytes(addr uint16, data []byte) error {
	if len(data)%2 != 0 {
		return fmt.Errorf("%w: odd register payload length %d", ErrInvalidFrame, len(data))
	}
	quantity := uint16(len(data) / 2)
	if err := b.checkRange(addr, quantity); err != nil {
		return err
	}
	for i := 0; i < int(quantity); i++ {
		b.words[int(addr)+i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return nil
}

// Uint32At returns the 32-bit value held by the two adjacent cells at addr,
// high word first.
func (b *WordBank) Uint32At(addr uint16) (uint32, error) {
	if err := b.checkRange(addr, 2); err != nil {
		return 0, err
	}
	return uint32(b.words[addr])<<16 | uint32(b.words[addr+1]), nil
}

// SetUint32At writes a 32-bit value into the two adjacent cells at addr,
// high word first. On an out-of-range failure neither cell is modified.
func (b *WordBank) SetUint32At(addr uint16, value uint32) error {
	if err := b.checkRange(addr, 2); err != nil {
		return err
	}
	b.words[addr] = uint16(value >> 16)
	b.words[addr+1] = uint16(value)
	return nil
}

// Float32At returns the IEEE-754 single held by the two adjacent cells at
// addr.
func (b *WordBank) Float32At(addr uint16) (float32, error) {
	bits, err := b.Uint32At(addr)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// SetFloat32At writes an IEEE-754 single into the two adjacent cells at addr.
func (b *WordBank) SetFloat32At(addr uint16, value float32) error {
	return b.SetUint32At(addr, math.Float32bits(value))
}

// snapshot returns the bank contents as big-endian bytes, the dump payload
// encoding for word banks.
func (b *WordBank) snapshot() []byte {
	out := make([]byte, 2*len(b.words))
	for i, w := range b.words {
		binary.BigEndian.PutUint16(out[2*i:], w)
	}
	return out
}

// restoreFrom replaces the bank contents with a snapshot payload.
func (b *WordBank) restoreFrom(data []byte) error {
	if len(data) != 2*len(b.words) {
		return fmt.Errorf("%w: word bank payload %d bytes, want %d",
			ErrFormatMismatch, len(data), 2*len(b.words))
	}
	for i := range b.words {
		b.words[i] = binary.BigEndian.Uint16(data[2*i:])
	}
	return nil
}

// payloadLen returns the dump payload size in bytes.
func (b *WordBank) payloadLen() int {
	return 2 * len(b.words)
}
