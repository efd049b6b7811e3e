// Copyright 2024 The tokamak-geth Authors
// This file is part of the tokamak-geth library.
//
// The tokamak-geth library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The tokamak-geth library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the tokamak-geth library. If not, see <http://www.gnu.org/licenses/>.

package vm

import "github.com/holiman/uint256"

// Memory is the frame's linear, word-addressed byte memory. It grows
// in 32-byte words as instructions touch higher offsets; growth cost is
// charged separately by the gas table.
type Memory struct {
	store       []byte
	lastGasCost uint64
}

// NewMemory returns an empty frame memory.
func NewMemory() *Memory {
	return &Memory{}
}

// Set copies value into memory starting at offset, growing the backing
// store first if needed.
func (m *Memory) Set(offset, size uint64, value []byte) {
	if size == 0 {
		return
	}
	if offset+size > uint64(len(m.store)) {
		panic("invalid memory: store too small")
	}
	copy(m.store[offset:offset+size], value)
}

// Set32 writes val as a 32-byte big-endian word at offset.
func (m *Memory) Set32(offset uint64, val *uint256.Int) {
	if offset+32 > uint64(len(m.store)) {
		panic("invalid memory: store too small")
	}
	b32 := val.Bytes32()
	copy(m.store[offset:offset+32], b32[:])
}

// Resize grows the memory to size bytes, which must be a multiple of 32;
// it never shrinks.
func (m *Memory) Resize(size uint64) {
	if uint64(m.Len()) < size {
		m.store = append(m.store, make([]byte, size-uint64(m.Len()))...)
	}
}

// GetCopy returns a fresh copy of size bytes starting at offset.
func (m *Memory) GetCopy(offset, size int64) []byte {
	if size == 0 {
		return nil
	}
	if len(m.store) > int(offset) {
		cpy := make([]byte, size)
		copy(cpy, m.store[offset:offset+size])
		return cpy
	}
	return nil
}

// GetPtr returns a slice view (not a copy) of size bytes starting at offset.
func (m *Memory) GetPtr(offset, size int64) []byte {
	if size == 0 {
		return nil
	}
	if len(m.store) > int(offset) {
		return m.store[offset : offset+size]
	}
	return nil
}

// Len returns the memory's current size in bytes.
func (m *Memory) Len() int { return len(m.store) }

// Data returns the backing store directly.
func (m *Memory) Data() []byte { return m.store }

// MemoryWords returns the number of 32-byte words size bytes occupy,
// rounding up — the unit the gas table charges memory expansion in.
func MemoryWords(size uint64) uint64 {
	if size > 0xffffffffe0 {
		// would overflow during the (size+31)/32 computation below at
		// sizes the gas limit could never reach; treated as unaffordable.
		return 0xffffffffffffffff / 32
	}
	return (size + 31) / 32
}
