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

package downloader

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkQueuePartitioning(t *testing.T) {
	q := newChunkQueue(1, 10, 3)
	var got []chunk
	for {
		c, ok := q.pop()
		if !ok {
			break
		}
		got = append(got, c)
	}
	require.Equal(t, []chunk{{1, 3}, {4, 6}, {7, 9}, {10, 10}}, got)
}

func TestChunkQueuePushRequeues(t *testing.T) {
	q := newChunkQueue(1, 3, 10)
	c, ok := q.pop()
	require.True(t, ok)
	require.True(t, q.empty())

	q.push(c)
	require.False(t, q.empty())

	c2, ok := q.pop()
	require.True(t, ok)
	require.Equal(t, c, c2)
}

func TestChunkSize(t *testing.T) {
	require.Equal(t, uint64(1), chunk{5, 5}.size())
	require.Equal(t, uint64(10), chunk{1, 10}.size())
}
