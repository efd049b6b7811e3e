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

package common

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressSetBytes(t *testing.T) {
	// Short input is left-padded.
	a := BytesToAddress([]byte{0x01})
	require.Equal(t, "0x0000000000000000000000000000000000000001", a.Hex())

	// Oversized input is cropped from the left.
	long := make([]byte, 25)
	long[0] = 0xff
	long[24] = 0x01
	require.Equal(t, BytesToAddress([]byte{0x01}), BytesToAddress(long))
}

func TestHashSetBytes(t *testing.T) {
	h := BytesToHash([]byte{0xab})
	require.Equal(t, byte(0xab), h[31])
	require.Equal(t, byte(0x00), h[0])

	long := make([]byte, 40)
	long[39] = 0x7f
	require.Equal(t, byte(0x7f), BytesToHash(long)[31])
}

func TestZeroChecks(t *testing.T) {
	require.True(t, Address{}.IsZero())
	require.False(t, BytesToAddress([]byte{1}).IsZero())
	require.True(t, Hash{}.IsZero())
	require.False(t, BytesToHash([]byte{1}).IsZero())
}

func TestForkOrdering(t *testing.T) {
	require.True(t, Cancun.AtLeast(Shanghai))
	require.True(t, Shanghai.AtLeast(Shanghai))
	require.False(t, Berlin.AtLeast(London))
	require.Equal(t, "Cancun", Cancun.String())
	require.Equal(t, "Frontier", Frontier.String())
}
