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

// Package downloader implements parallel header/body range fetching
// across a peer set, with per-peer in-flight budgets, retries on other
// peers and post-fetch validation. The worker-pool-over-a-chunk-
// queue shape follows go-ethereum's eth/downloader (peerConnection,
// chunked range requests, re-queue on short/invalid responses); the
// concurrency plumbing uses golang.org/x/sync/errgroup for structured
// cancellation instead of go-ethereum's hand-rolled channel fan-in, since
// this package's worker pool has no state/receipt sync modes to
// coordinate with.
package downloader

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tokamak-network/tokamak-geth/common"
	"github.com/tokamak-network/tokamak-geth/internal/config"
	"github.com/tokamak-network/tokamak-geth/internal/log"
)

// ErrTargetNotFound is returned by RequestSyncHeadNumber when no queried
// peer produces a header hashing to the requested target within the
// configured retry budget.
var ErrTargetNotFound = errors.New("sync target header not found among peers")

// ErrIncomplete is returned by RequestRange/RequestBlockBodies when the
// operation could not produce a complete result: the caller sees either
// a complete sequence or none.
var ErrIncomplete = errors.New("downloader: incomplete result")

const pollInterval = time.Millisecond

// Fetcher is satisfied by the p2p transport layer;
// it performs one request/response round trip against a specific peer.
type Fetcher interface {
	// RequestHeaderByHash asks peer for the single header matching hash,
	// used by RequestSyncHeadNumber to resolve a target hash to a number.
	RequestHeaderByHash(ctx context.Context, peerID string, hash common.Hash) (*Header, error)
	// RequestHeaders asks peer for up to limit consecutive headers
	// starting at block number start.
	RequestHeaders(ctx context.Context, peerID string, start, limit uint64) ([]*Header, error)
	// RequestBodies asks peer for the bodies matching hashes, in order.
	RequestBodies(ctx context.Context, peerID string, hashes []common.Hash) ([]*Body, error)
}

// Downloader schedules range fetches across a peer set through a
// Fetcher transport.
type Downloader struct {
	cfg     config.DownloaderConfig
	fetcher Fetcher
	peers   *peerSet
}

// New returns a Downloader using fetcher for wire round trips.
func New(cfg config.DownloaderConfig, fetcher Fetcher) *Downloader {
	return &Downloader{cfg: cfg, fetcher: fetcher, peers: newPeerSet()}
}

// RegisterPeer adds a peer with the given capabilities to the pool the
// downloader schedules work across.
func (d *Downloader) RegisterPeer(id string, caps ...string) {
	d.peers.Register(newPeerConnection(id, caps...))
}

// UnregisterPeer drops a peer, e.g. on disconnect.
func (d *Downloader) UnregisterPeer(id string) {
	d.peers.Unregister(id)
}

// PeerFailures reports a peer's accumulated critical-failure count, used
// by tests and by the caller's peer-scoring/ban policy.
func (d *Downloader) PeerFailures(id string) uint64 {
	d.peers.mu.RLock()
	p, ok := d.peers.peers[id]
	d.peers.mu.RUnlock()
	if !ok {
		return 0
	}
	return p.Failures()
}

// RequestSyncHeadNumber probes registered peers until one returns a valid
// header whose hash is target, returning its block number. It
// retries across distinct peers up to RetryAttempts times.
func (d *Downloader) RequestSyncHeadNumber(ctx context.Context, target common.Hash) (uint64, error) {
	tried := make(map[string]bool)
	for attempt := 0; attempt < d.cfg.RetryAttempts; attempt++ {
		var candidate *peerConnection
		for _, p := range d.peers.All() {
			if !tried[p.id] && p.HasCapability("eth") {
				candidate = p
				break
			}
		}
		if candidate == nil {
			break
		}
		tried[candidate.id] = true

		reqCtx, cancel := context.WithTimeout(ctx, d.cfg.ReplyTimeout)
		header, err := d.fetcher.RequestHeaderByHash(reqCtx, candidate.id, target)
		cancel()
		if err != nil || header == nil {
			candidate.recordFailure()
			continue
		}
		if header.Hash != target {
			candidate.recordFailure()
			continue
		}
		candidate.recordSuccess(1)
		return header.Number, nil
	}
	return 0, ErrTargetNotFound
}

// RequestRange fetches every header in [start, end], parallelizing the
// range across idle peers in fixed-size chunks.
func (d *Downloader) RequestRange(ctx context.Context, start, end uint64) ([]*Header, error) {
	if end < start {
		return nil, nil
	}
	q := newChunkQueue(start, end, d.cfg.ChunkSize)

	var (
		mu      sync.Mutex
		headers []*Header
		seen    = make(map[common.Hash]bool)
	)

	workers := d.cfg.MaxConcurrentRequests
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	var inFlight int32
	var inFlightMu sync.Mutex

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				c, ok := q.pop()
				if !ok {
					inFlightMu.Lock()
					done := inFlight == 0 && q.empty()
					inFlightMu.Unlock()
					if done {
						return nil
					}
					select {
					case <-gctx.Done():
						return gctx.Err()
					case <-time.After(pollInterval):
					}
					continue
				}

				inFlightMu.Lock()
				inFlight++
				inFlightMu.Unlock()
				d.fetchChunk(gctx, q, c, &mu, &headers, seen)
				inFlightMu.Lock()
				inFlight--
				inFlightMu.Unlock()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(headers, func(i, j int) bool { return headers[i].Number < headers[j].Number })
	want := end - start + 1
	if uint64(len(headers)) != want {
		return nil, ErrIncomplete
	}
	return headers, nil
}

func (d *Downloader) fetchChunk(ctx context.Context, q *chunkQueue, c chunk, mu *sync.Mutex, headers *[]*Header, seen map[common.Hash]bool) {
	peer, err := d.peers.BestIdle("eth", d.cfg.MaxConcurrentPerPeer)
	if err != nil {
		// No idle peer right now; give this chunk back for another pass.
		q.push(c)
		time.Sleep(pollInterval)
		return
	}
	defer peer.release()

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.ReplyTimeout)
	got, err := d.fetcher.RequestHeaders(reqCtx, peer.id, c.start, c.size())
	cancel()

	if err != nil || len(got) == 0 || !validateChain(got, c) {
		peer.recordFailure()
		q.push(c)
		return
	}

	if uint64(len(got)) < c.size() {
		// Accept the prefix, re-queue the remainder.
		q.push(chunk{start: c.start + uint64(len(got)), end: c.end})
	}

	peer.recordSuccess(float64(len(got)))

	mu.Lock()
	for _, h := range got {
		if seen[h.Hash] {
			log.Warn("duplicate header hash in downloaded range", "number", h.Number, "hash", h.Hash.Hex())
			continue
		}
		seen[h.Hash] = true
		*headers = append(*headers, h)
	}
	mu.Unlock()
}

// validateChain checks that got is non-empty, starts at c.start and forms
// a contiguous, strictly increasing, parent-linked run.
func validateChain(got []*Header, c chunk) bool {
	if got[0].Number != c.start {
		return false
	}
	for i := 1; i < len(got); i++ {
		if got[i].Number != got[i-1].Number+1 {
			return false
		}
		if got[i].ParentHash != got[i-1].Hash {
			return false
		}
	}
	return true
}

// RequestBlockBodies fetches the bodies matching headers, validating each
// against its header's roots. A validation failure is a critical
// peer failure and the whole operation fails rather than returning a
// partial result.
func (d *Downloader) RequestBlockBodies(ctx context.Context, headers []*Header) ([]*Body, error) {
	if len(headers) == 0 {
		return nil, nil
	}
	hashes := make([]common.Hash, len(headers))
	for i, h := range headers {
		hashes[i] = h.Hash
	}

	peer, err := d.peers.BestIdle("eth", d.cfg.MaxConcurrentPerPeer)
	if err != nil {
		return nil, err
	}
	defer peer.release()

	reqCtx, cancel := context.WithTimeout(ctx, d.cfg.ReplyTimeout)
	bodies, err := d.fetcher.RequestBodies(reqCtx, peer.id, hashes)
	cancel()
	if err != nil {
		peer.recordFailure()
		return nil, err
	}
	if len(bodies) != len(headers) {
		peer.recordFailure()
		return nil, ErrIncomplete
	}
	for i, b := range bodies {
		if !b.Validate(headers[i]) {
			peer.recordFailure()
			return nil, errors.New("downloader: body validation failed for header " + headers[i].Hash.Hex())
		}
	}
	peer.recordSuccess(float64(len(bodies)))
	return bodies, nil
}
