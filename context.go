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
	"sync"
)

// Context is the register store behind the protocol engine: four
// fixed-capacity banks (coils, discrete inputs, input registers, holding
// registers) guarded by one exclusive gate.
//
// The per-call accessors on Context each acquire the gate for the duration
// of a single bank operation, so individual calls are atomic but a sequence
// of calls is not. Code that needs a consistent view across several
// operations, including every 32-bit read-modify-write, runs under Atomic
// instead. Discrete inputs and input registers are read-only on the wire;
// the owning application writes them through these accessors.
//
// Construct contexts explicitly and share the pointer; there is no package
// singleton.
type Context struct {
	mu        sync.Mutex
	coils     *BitBank
	discretes *BitBank
	inputs    *WordBank
	holdings  *WordBank
}

// NewContext creates a context store with DefaultBankSize cells per bank.
func NewContext() *Context {
	return NewContextSized(DefaultBankSize, DefaultBankSize, DefaultBankSize, DefaultBankSize)
}

// NewContextSized creates a context store with explicit per-bank capacities.
func NewContextSized(coils, discretes, inputs, holdings int) *Context {
	return &Context{
		coils:     NewBitBank(coils),
		discretes: NewBitBank(discretes),
		inputs:    NewWordBank(inputs),
		holdings:  NewWordBank(holdings),
	}
}

// Sizes returns the four bank capacities in dump order.
func (c *Context) Sizes() (coils, discretes, inputs, holdings int) {
	return c.coils.Size(), c.discretes.Size(), c.inputs.Size(), c.holdings.Size()
}

// Guard is the scoped handle to a locked context. It is only valid inside
// the function passed to Atomic; neither the guard nor the banks it exposes
// may be retained after that function returns.
type Guard struct {
	ctx *Context
}

// Atomic runs fn while holding the store gate, releasing it on every exit
// path. All operations performed through the guard observe and produce one
// consistent store state. fn must only touch memory: holding the gate
// across I/O or long computation stalls every other store access.
func (c *Context) Atomic(fn func(*Guard) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fn(&Guard{ctx: c})
}

// Coils returns the coil bank for direct use under the gate.
func (g *Guard) Coils() *BitBank { return g.ctx.coils }

// Discretes returns the discrete-input bank for direct use under the gate.
func (g *Guard) Discretes() *BitBank { return g.ctx.discretes }

// Inputs returns the input-register bank for direct use under the gate.
func (g *Guard) Inputs() *WordBank { return g.ctx.inputs }

// Holdings returns the holding-register bank for direct use under the gate.
func (g *Guard) Holdings() *WordBank { return g.ctx.holdings }

// Bits returns the bit bank named by table, or an error for register tables.
func (g *Guard) Bits(table Table) (*BitBank, error) {
	switch table {
	case TableCoils:
		return g.ctx.coils, nil
	case TableDiscreteInputs:
		return g.ctx.discretes, nil
	default:
		return nil, fmt.Errorf("modbus: %s is not a bit table", table)
	}
}

// Words returns the word bank named by table, or an error for bit tables.
func (g *Guard) Words(table Table) (*WordBank, error) {
	switch table {
	case TableInputRegisters:
		return g.ctx.inputs, nil
	case TableHoldingRegisters:
		return g.ctx.holdings, nil
	default:
		return nil, fmt.Errorf("modbus: %s is not a register table", table)
	}
}

// Single-cell accessors. Each call acquires the gate once.

// Coil returns the coil at addr.
func (c *Context) Coil(addr uint16) (v bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coils.Get(addr)
}

// SetCoil overwrites the coil at addr.
func (c *Context) SetCoil(addr uint16, value bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coils.Set(addr, value)
}

// Discrete returns the discrete input at addr.
func (c *Context) Discrete(addr uint16) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discretes.Get(addr)
}

// SetDiscrete overwrites the discrete input at addr.
func (c *Context) SetDiscrete(addr uint16, value bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discretes.Set(addr, value)
}

// Input returns the input register at addr.
func (c *Context) Input(addr uint16) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs.Get(addr)
}

// SetInput overwrites the input register at addr.
func (c *Context) SetInput(addr, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs.Set(addr, value)
}

// Holding returns the holding register at addr.
func (c *Context) Holding(addr uint16) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdings.Get(addr)
}

// SetHolding overwrites the holding register at addr.
func (c *Context) SetHolding(addr, value uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdings.Set(addr, value)
}

// Bulk accessors. One gate acquisition covers the whole range, so the
// returned sequence is internally consistent and bulk writes cannot tear.

// Coils returns quantity coils starting at addr.
func (c *Context) Coils(addr, quantity uint16) ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coils.GetBulk(addr, quantity)
}

// SetCoils overwrites len(values) coils starting at addr, all or nothing.
func (c *Context) SetCoils(addr uint16, values []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coils.SetBulk(addr, values)
}

// Discretes returns quantity discrete inputs starting at addr.
func (c *Context) Discretes(addr, quantity uint16) ([]bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discretes.GetBulk(addr, quantity)
}

// SetDiscretes overwrites len(values) discrete inputs starting at addr.
func (c *Context) SetDiscretes(addr uint16, values []bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.discretes.SetBulk(addr, values)
}

// Inputs returns quantity input registers starting at addr.
func (c *Context) Inputs(addr, quantity uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs.GetBulk(addr, quantity)
}

// SetInputs overwrites len(values) input registers starting at addr.
func (c *Context) SetInputs(addr uint16, values []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inputs.SetBulk(addr, values)
}

// Holdings returns quantity holding registers starting at addr.
func (c *Context) Holdings(addr, quantity uint16) ([]uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdings.GetBulk(addr, quantity)
}

// SetHoldings overwrites len(values) holding registers starting at addr.
func (c *Context) SetHoldings(addr uint16, values []uint16) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.holdings.SetBulk(addr, values)
}

// Wide accessors. A 32-bit value occupies two adjacent cells, high word
// first; both halves are accessed under one gate acquisition so concurrent
// readers never observe a torn value.

// Uint32 returns the 32-bit value at addr in the named register table.
func (c *Context) Uint32(table Table, addr uint16) (uint32, error) {
	var v uint32
	err := c.Atomic(func(g *Guard) error {
		bank, err := g.Words(table)
		if err != nil {
			return err
		}
		v, err = bank.Uint32At(addr)
		return err
	})
	return v, err
}

// SetUint32 writes a 32-bit value at addr in the named register table.
func (c *Context) SetUint32(table Table, addr uint16, value uint32) error {
	return c.Atomic(func(g *Guard) error {
		bank, err := g.Words(table)
		if err != nil {
			return err
		}
		return bank.SetUint32At(addr, value)
	})
}

// Float32 returns the IEEE-754 single at addr in the named register table.
func (c *Context) Float32(table Table, addr uint16) (float32, error) {
	var v float32
	err := c.Atomic(func(g *Guard) error {
		bank, err := g.Words(table)
		if err != nil {
			return err
		}
		v, err = bank.Float32At(addr)
		return err
	})
	return v, err
}

// SetFloat32 writes an IEEE-754 single at addr in the named register table.
func (c *Context) SetFloat32(table Table, addr uint16, value float32) error {
	return c.Atomic(func(g *Guard) error {
		bank, err := g.Words(table)
		if err != nil {
			return err
		}
		return bank.SetFloat32At(addr, value)
	})
}

// Dump format: a 16-byte header holding the four bank capacities as
// big-endian uint32 in the order coils, discretes, inputs, holdings,
// followed by the bank payloads in the same order. Bit banks are packed
// 8 bits per byte LSB first, word banks are big-endian 16-bit cells.

const dumpHeaderSize = 16

// Dump serializes the whole store into one binary blob under a single gate
// acquisition, so the snapshot is consistent.
func (c *Context) Dump() []byte {
	var out []byte
	c.Atomic(func(g *Guard) error {
		out = g.Dump()
		return nil
	})
	return out
}

// Restore replaces all four banks from a blob produced by Dump. The header
// capacities must match the running configuration exactly; on mismatch it
// returns ErrFormatMismatch and leaves the store untouched. The swap happens
// under one gate acquisition, so a partial restore is never observable.
func (c *Context) Restore(data []byte) error {
	return c.Atomic(func(g *Guard) error {
		return g.Restore(data)
	})
}

// Dump is the locked variant of Context.Dump for callers already inside
// Atomic.
func (g *Guard) Dump() []byte {
	c := g.ctx
	total := dumpHeaderSize + c.coils.payloadLen() + c.discretes.payloadLen() +
		c.inputs.payloadLen() + c.holdings.payloadLen()
	out := make([]byte, 0, total)

	var header [dumpHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(c.coils.Size()))
	binary.BigEndian.PutUint32(header[4:8], uint32(c.discretes.Size()))
	binary.BigEndian.PutUint32(header[8:12], uint32(c.inputs.Size()))
	binary.BigEndian.PutUint32(header[12:16], uint32(c.holdings.Size()))

	out = append(out, header[:]...)
	out = append(out, c.coils.snapshot()...)
	out = append(out, c.discretes.snapshot()...)
	out = append(out, c.inputs.snapshot()...)
	out = append(out, c.holdings.snapshot()...)
	return out
}

// Restore is the locked variant of Context.Restore for callers already
// inside Atomic.
func (g *Guard) Restore(data []byte) error {
	c := g.ctx
	if len(data) < dumpHeaderSize {
		return fmt.Errorf("%w: blob shorter than header", ErrFormatMismatch)
	}
	for i, want := range []int{
		c.coils.Size(), c.discretes.Size(), c.inputs.Size(), c.holdings.Size(),
	} {
		got := binary.BigEndian.Uint32(data[4*i:])
		if int(got) != want {
			return fmt.Errorf("%w: bank %d capacity %d, running configuration has %d",
				ErrFormatMismatch, i, got, want)
		}
	}

	payload := data[dumpHeaderSize:]
	want := c.coils.payloadLen() + c.discretes.payloadLen() +
		c.inputs.payloadLen() + c.holdings.payloadLen()
	if len(payload) != want {
		return fmt.Errorf("%w: payload %d bytes, want %d", ErrFormatMismatch, len(payload), want)
	}

	// Lengths are fully validated above, so the per-bank copies below
	// cannot fail partway through.
	off := 0
	for _, step := range []struct {
		restore func([]byte) error
		n       int
	}{
		{c.coils.restoreFrom, c.coils.payloadLen()},
		{c.discretes.restoreFrom, c.discretes.payloadLen()},
		{c.inputs.restoreFrom, c.inputs.payloadLen()},
		{c.holdings.restoreFrom, c.holdings.payloadLen()},
	} {
		if err := step.restore(payload[off : off+step.n]); err != nil {
			return err
		}
		off += step.n
	}
	return nil
}
