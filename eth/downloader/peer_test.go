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
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPeerReserveBoundedByMaxConcurrent(t *testing.T) {
	p := newPeerConnection("p1", "eth")
	require.True(t, p.reserve(2))
	require.True(t, p.reserve(2))
	require.False(t, p.reserve(2), "third reservation exceeds the per-peer budget")
	require.Equal(t, 2, p.Inflight())

	p.release()
	require.True(t, p.reserve(2))
}

func TestPeerReleaseNeverGoesNegative(t *testing.T) {
	p := newPeerConnection("p1", "eth")
	p.release()
	require.Equal(t, 0, p.Inflight())
}

func TestPeerCapabilities(t *testing.T) {
	p := newPeerConnection("p1", "eth", "snap")
	require.True(t, p.HasCapability("eth"))
	require.True(t, p.HasCapability("snap"))
	require.False(t, p.HasCapability("les"))
}

func TestPeerScoringMovesWithOutcomes(t *testing.T) {
	p := newPeerConnection("p1", "eth")
	before := p.throughput()
	p.recordSuccess(100)
	require.Greater(t, p.throughput(), before)

	up := p.throughput()
	p.recordFailure()
	require.Less(t, p.throughput(), up)
	require.EqualValues(t, 1, p.Failures())
}

func TestBestIdlePrefersHigherThroughput(t *testing.T) {
	ps := newPeerSet()
	slow := newPeerConnection("slow", "eth")
	fast := newPeerConnection("fast", "eth")
	fast.recordSuccess(1000)
	ps.Register(slow)
	ps.Register(fast)

	p, err := ps.BestIdle("eth", 1)
	require.NoError(t, err)
	require.Equal(t, "fast", p.id)

	// fast is now saturated; the next reservation falls to slow.
	p2, err := ps.BestIdle("eth", 1)
	require.NoError(t, err)
	require.Equal(t, "slow", p2.id)

	_, err = ps.BestIdle("eth", 1)
	require.ErrorIs(t, err, ErrNoIdlePeer)
}

func TestBestIdleFiltersCapability(t *testing.T) {
	ps := newPeerSet()
	ps.Register(newPeerConnection("light", "les"))
	_, err := ps.BestIdle("eth", 4)
	require.ErrorIs(t, err, ErrNoIdlePeer)
}

func TestPeerSetRegisterUnregister(t *testing.T) {
	ps := newPeerSet()
	ps.Register(newPeerConnection("p1", "eth"))
	require.Equal(t, 1, ps.Len())
	ps.Unregister("p1")
	require.Equal(t, 0, ps.Len())
}

func TestPeerReserveConcurrent(t *testing.T) {
	p := newPeerConnection("p1", "eth")
	const attempts = 64
	var wg sync.WaitGroup
	granted := make(chan struct{}, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if p.reserve(8) {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)
	require.Len(t, granted, 8, "reservations never exceed the budget under contention")
}
