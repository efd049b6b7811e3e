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

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestStackPushPopPeek(t *testing.T) {
	st := newstack()
	defer returnStack(st)

	st.push(uint256.NewInt(1))
	st.push(uint256.NewInt(2))
	require.Equal(t, 2, st.len())
	require.Equal(t, uint64(2), st.peek().Uint64())

	v := st.pop()
	require.Equal(t, uint64(2), v.Uint64())
	require.Equal(t, 1, st.len())
}

func TestStackDupSwapBack(t *testing.T) {
	st := newstack()
	defer returnStack(st)

	for i := 1; i <= 4; i++ {
		st.push(uint256.NewInt(uint64(i)))
	}
	require.Equal(t, uint64(3), st.back(1).Uint64())

	st.dup(2) // duplicates the 2nd from top (3)
	require.Equal(t, uint64(3), st.peek().Uint64())
	require.Equal(t, 5, st.len())

	st.swap(5) // swap top with the 5th from top (1)
	require.Equal(t, uint64(1), st.peek().Uint64())
	require.Equal(t, uint64(3), st.back(4).Uint64())
}

func TestStackOverflowCaughtByInterpreter(t *testing.T) {
	// 1025 consecutive PUSH0s overflow the 1024-slot stack.
	code := make([]byte, 0, 1026)
	for i := 0; i < 1025; i++ {
		code = append(code, 0x5f)
	}
	code = append(code, 0x00)
	_, _, _, err := runCode(t, newMemDB(), code, 10_000_000)
	require.ErrorIs(t, err, ErrStackOverflow)
}

func TestMemorySetAndRead(t *testing.T) {
	m := NewMemory()
	m.Resize(64)
	require.Equal(t, 64, m.Len())

	m.Set(4, 3, []byte{0xaa, 0xbb, 0xcc})
	require.Equal(t, []byte{0xaa, 0xbb, 0xcc}, m.GetCopy(4, 3))

	v := uint256.NewInt(0x1122)
	m.Set32(32, v)
	got := m.GetCopy(32, 32)
	require.Equal(t, byte(0x11), got[30])
	require.Equal(t, byte(0x22), got[31])
}

func TestMemoryResizeNeverShrinks(t *testing.T) {
	m := NewMemory()
	m.Resize(128)
	m.Resize(32)
	require.Equal(t, 128, m.Len())
}

func TestMemoryGetCopyIsDetached(t *testing.T) {
	m := NewMemory()
	m.Resize(32)
	m.Set(0, 2, []byte{1, 2})

	cpy := m.GetCopy(0, 2)
	cpy[0] = 9
	require.Equal(t, byte(1), m.Data()[0])

	ptr := m.GetPtr(0, 2)
	ptr[0] = 9
	require.Equal(t, byte(9), m.Data()[0])
}
