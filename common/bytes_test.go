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

func TestCopyBytes(t *testing.T) {
	require.Nil(t, CopyBytes(nil))

	src := []byte{1, 2, 3}
	cpy := CopyBytes(src)
	require.Equal(t, src, cpy)
	cpy[0] = 9
	require.Equal(t, byte(1), src[0])
}

func TestPadBytes(t *testing.T) {
	require.Equal(t, []byte{0, 0, 1}, LeftPadBytes([]byte{1}, 3))
	require.Equal(t, []byte{1, 0, 0}, RightPadBytes([]byte{1}, 3))

	// Already long enough: returned unchanged.
	src := []byte{1, 2, 3, 4}
	require.Equal(t, src, LeftPadBytes(src, 3))
	require.Equal(t, src, RightPadBytes(src, 3))
}

func TestGetData(t *testing.T) {
	data := []byte{1, 2, 3, 4}

	require.Equal(t, []byte{2, 3}, GetData(data, 1, 2))
	// Reads past the end are zero-padded to the requested size.
	require.Equal(t, []byte{4, 0, 0}, GetData(data, 3, 3))
	// A start beyond the data yields all zeros.
	require.Equal(t, []byte{0, 0}, GetData(data, 10, 2))
	require.Empty(t, GetData(data, 0, 0))
}
