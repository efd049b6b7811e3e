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

package eth

import (
	"sync"
	"sync/atomic"

	"github.com/tokamak-network/tokamak-geth/internal/log"
)

// ReplyMatcher pairs responses to in-flight requests by request id. An
// arriving response whose id matches no pending request is dropped with a
// debug log rather than surfaced, since a late reply after a timeout is a
// normal event on a lossy peer connection.
type ReplyMatcher struct {
	mu      sync.Mutex
	pending map[uint64]chan any
	nextID  atomic.Uint64
}

// NewReplyMatcher returns an empty matcher.
func NewReplyMatcher() *ReplyMatcher {
	return &ReplyMatcher{pending: make(map[uint64]chan any)}
}

// Expect allocates a fresh request id and registers a single-slot channel
// its response will be delivered on.
func (m *ReplyMatcher) Expect() (uint64, <-chan any) {
	id := m.nextID.Add(1)
	ch := make(chan any, 1)
	m.mu.Lock()
	m.pending[id] = ch
	m.mu.Unlock()
	return id, ch
}

// Deliver routes payload to the request waiting on id. It reports whether
// a request was matched; an unmatched payload is dropped.
func (m *ReplyMatcher) Deliver(id uint64, payload any) bool {
	m.mu.Lock()
	ch, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		log.Debug("dropping unmatched response", "id", id)
		return false
	}
	ch <- payload
	return true
}

// Cancel forgets an in-flight request, e.g. on timeout. A response that
// arrives later is then unmatched and dropped.
func (m *ReplyMatcher) Cancel(id uint64) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

// Pending reports the number of requests still awaiting a response.
func (m *ReplyMatcher) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
