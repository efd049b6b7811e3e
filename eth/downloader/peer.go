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

// Peer bookkeeping: per-peer capability sets, rolling success/failure
// counters and in-flight request budgets. peerConnection and the throughput-based
// sort are carried over from go-ethereum's eth/downloader/peer.go
// (peerThroughputSort is a near-literal port of its sort.Interface
// implementation); BestIdle's cap-then-sort selection is new, since this
// package only fetches headers/bodies rather than also tracking state and
// receipt throughput.
package downloader

import (
	"errors"
	"sort"
	"sync"
)

// ErrNoIdlePeer is returned when every peer with the requested capability
// is already at its in-flight request limit.
var ErrNoIdlePeer = errors.New("no idle peer with required capability")

// peerConnection tracks one peer's capabilities and performance, driving
// both worker selection and peer scoring.
type peerConnection struct {
	id   string
	caps map[string]bool

	mu               sync.Mutex
	headerThroughput float64
	inflight         int
	successes        uint64
	failures         uint64
}

func newPeerConnection(id string, caps ...string) *peerConnection {
	set := make(map[string]bool, len(caps))
	for _, c := range caps {
		set[c] = true
	}
	return &peerConnection{id: id, caps: set, headerThroughput: 1.0}
}

// HasCapability reports whether the peer advertises cap (e.g. "eth").
func (p *peerConnection) HasCapability(cap string) bool {
	return p.caps[cap]
}

// reserve increments the in-flight counter, returning false if the peer is
// already at maxConcurrent so the caller should try another peer.
func (p *peerConnection) reserve(maxConcurrent int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight >= maxConcurrent {
		return false
	}
	p.inflight++
	return true
}

// release decrements the in-flight counter. It is called exactly once per
// successful reserve, on every code path (success, failure or timeout) so
// the counter never leaks.
func (p *peerConnection) release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight > 0 {
		p.inflight--
	}
}

func (p *peerConnection) recordSuccess(throughput float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successes++
	// Exponentially weighted moving average, matching go-ethereum's own
	// peerConnection.headerThroughput update rule.
	p.headerThroughput = p.headerThroughput*0.9 + throughput*0.1
}

func (p *peerConnection) recordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures++
	p.headerThroughput *= 0.9
}

// Inflight returns the peer's current outstanding-request count.
func (p *peerConnection) Inflight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

// Failures returns the peer's cumulative critical-failure count.
func (p *peerConnection) Failures() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failures
}

// throughput returns the peer's current scoring value under lock.
func (p *peerConnection) throughput() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.headerThroughput
}

// peerThroughputSort orders peers by descending header throughput, a
// direct port of go-ethereum's sort.Interface implementation of the same
// name in eth/downloader/peer.go.
type peerThroughputSort struct {
	p  []*peerConnection
	tp []float64
}

func (ps *peerThroughputSort) Len() int      { return len(ps.p) }
func (ps *peerThroughputSort) Swap(i, j int) {
	ps.p[i], ps.p[j] = ps.p[j], ps.p[i]
	ps.tp[i], ps.tp[j] = ps.tp[j], ps.tp[i]
}
func (ps *peerThroughputSort) Less(i, j int) bool { return ps.tp[i] > ps.tp[j] }

// peerSet is the downloader's registry of known peers, guarded by a
// single mutex since membership changes (join/drop) are rare compared to
// the read-heavy BestIdle selection.
type peerSet struct {
	mu    sync.RWMutex
	peers map[string]*peerConnection
}

func newPeerSet() *peerSet {
	return &peerSet{peers: make(map[string]*peerConnection)}
}

// Register adds or replaces a peer by id.
func (ps *peerSet) Register(p *peerConnection) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.peers[p.id] = p
}

// Unregister removes a peer, e.g. on disconnect.
func (ps *peerSet) Unregister(id string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	delete(ps.peers, id)
}

// Len reports the number of known peers.
func (ps *peerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return len(ps.peers)
}

// All returns a snapshot of every known peer, highest throughput first.
func (ps *peerSet) All() []*peerConnection {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	out := make([]*peerConnection, 0, len(ps.peers))
	tps := make([]float64, 0, len(ps.peers))
	for _, p := range ps.peers {
		out = append(out, p)
		tps = append(tps, p.throughput())
	}
	sort.Sort(&peerThroughputSort{out, tps})
	return out
}

// BestIdle returns the highest-throughput peer supporting capability that
// still has room under maxConcurrent in-flight requests, reserving a slot
// on it before returning. Returns ErrNoIdlePeer if none qualify.
func (ps *peerSet) BestIdle(capability string, maxConcurrent int) (*peerConnection, error) {
	for _, p := range ps.All() {
		if !p.HasCapability(capability) {
			continue
		}
		if p.reserve(maxConcurrent) {
			return p, nil
		}
	}
	return nil, ErrNoIdlePeer
}
