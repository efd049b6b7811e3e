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

// The chunk queue behind RequestRange: [start, end] is
// partitioned into fixed-size chunks up front, workers pop from the front
// and push incomplete/failed chunks back for another peer to pick up.
// Structurally this is go-ethereum's queue.go simplified down to the one
// workload this package has (headers and bodies, not receipts/state).
package downloader

import "sync"

// chunk is a contiguous, inclusive block-number range assigned to one
// worker at a time.
type chunk struct {
	start, end uint64
}

func (c chunk) size() uint64 { return c.end - c.start + 1 }

// chunkQueue holds not-yet-completed chunks. Safe for concurrent use by
// multiple peer workers.
type chunkQueue struct {
	mu      sync.Mutex
	pending []chunk
}

// newChunkQueue partitions [start, end] into chunks of at most size
// blocks each.
func newChunkQueue(start, end, size uint64) *chunkQueue {
	q := &chunkQueue{}
	for s := start; s <= end; s += size {
		e := s + size - 1
		if e > end {
			e = end
		}
		q.pending = append(q.pending, chunk{start: s, end: e})
	}
	return q
}

// pop removes and returns the next chunk to fetch, first in first out:
// the initial partition comes out in ascending start order, and a
// re-pushed chunk waits behind every chunk already queued.
func (q *chunkQueue) pop() (chunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return chunk{}, false
	}
	c := q.pending[0]
	q.pending = q.pending[1:]
	return c, true
}

// push re-queues c, used when a chunk's fetch fails or returns a partial
// response whose remainder still needs a peer.
func (q *chunkQueue) push(c chunk) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.pending = append(q.pending, c)
}

// empty reports whether every chunk has been popped (not necessarily
// completed — a popped chunk can still be re-pushed on failure).
func (q *chunkQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) == 0
}
