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

package store

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func sealTestBatch(t *testing.T, s *MemoryStore, number uint64, commitHash string) {
	t.Helper()
	require.NoError(t, s.SealBatch(
		Batch{Number: number, CommitHash: commitHash, FirstBlock: number * 10, LastBlock: number*10 + 9},
		ProverInput{Blob: []byte(fmt.Sprintf("input-%d", number))},
	))
}

func TestSealBatchAtomicWithInput(t *testing.T) {
	s := NewMemoryStore()
	sealTestBatch(t, s, 1, "v1")

	ok, err := s.ContainsBatch(1)
	require.NoError(t, err)
	require.True(t, ok)

	in, err := s.GetProverInputByBatchAndVersion(1, "v1")
	require.NoError(t, err)
	require.Equal(t, []byte("input-1"), in.Blob)
	require.NotEmpty(t, in.ID, "sealing assigns a blob id")

	_, err = s.GetProverInputByBatchAndVersion(1, "v2")
	require.ErrorIs(t, err, ErrNotFound, "input is bound to the sealing commit hash")

	require.Error(t, s.SealBatch(Batch{Number: 1, CommitHash: "v1"}, ProverInput{}),
		"double-sealing a batch is rejected")
}

func TestProofFirstWriteWins(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.StoreProofByBatchAndType(1, ProverKindExec, BatchProof{Kind: ProverKindExec, Data: []byte("first")}))
	require.NoError(t, s.StoreProofByBatchAndType(1, ProverKindExec, BatchProof{Kind: ProverKindExec, Data: []byte("second")}))

	p, err := s.GetProofByBatchAndType(1, ProverKindExec)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), p.Data)
}

func TestProofKeyedByKind(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.StoreProofByBatchAndType(1, ProverKindExec, BatchProof{Kind: ProverKindExec, Data: []byte("e")}))

	_, err := s.GetProofByBatchAndType(1, ProverKindSP1)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.DeleteProofByBatchAndType(1, ProverKindExec))
	_, err = s.GetProofByBatchAndType(1, ProverKindExec)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLatestSentBatchProofPerKind(t *testing.T) {
	s := NewMemoryStore()
	got, err := s.GetLatestSentBatchProof(ProverKindExec)
	require.NoError(t, err)
	require.Zero(t, got, "an unseen kind starts at zero")

	require.NoError(t, s.SetLatestSentBatchProof(ProverKindExec, 7))
	require.NoError(t, s.SetLatestSentBatchProof(ProverKindSP1, 3))

	got, err = s.GetLatestSentBatchProof(ProverKindExec)
	require.NoError(t, err)
	require.EqualValues(t, 7, got)
	got, err = s.GetLatestSentBatchProof(ProverKindSP1)
	require.NoError(t, err)
	require.EqualValues(t, 3, got)
}

func TestRevertToBatchDropsEverythingAbove(t *testing.T) {
	s := NewMemoryStore()
	for n := uint64(1); n <= 5; n++ {
		sealTestBatch(t, s, n, "v1")
		require.NoError(t, s.StoreProofByBatchAndType(n, ProverKindExec, BatchProof{Kind: ProverKindExec}))
		require.NoError(t, s.StoreProgramIDByBatch(n, "evm-l2"))
		require.NoError(t, s.StoreSignatureByBatch(n, []byte{byte(n)}))
	}
	require.NoError(t, s.SetLatestSentBatchProof(ProverKindExec, 5))

	require.NoError(t, s.RevertToBatch(2))

	for n := uint64(3); n <= 5; n++ {
		ok, err := s.ContainsBatch(n)
		require.NoError(t, err)
		require.False(t, ok, "batch %d", n)
		_, err = s.GetProofByBatchAndType(n, ProverKindExec)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetProgramIDByBatch(n)
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetSignatureByBatch(n)
		require.ErrorIs(t, err, ErrNotFound)
	}
	ok, err := s.ContainsBatch(2)
	require.NoError(t, err)
	require.True(t, ok)

	sent, err := s.GetLatestSentBatchProof(ProverKindExec)
	require.NoError(t, err)
	require.EqualValues(t, 2, sent, "the watermark clamps to the revert point")
}

func TestGetBatchRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	sealTestBatch(t, s, 9, "v3")

	b, err := s.GetBatch(9)
	require.NoError(t, err)
	require.Equal(t, "v3", b.CommitHash)
	require.EqualValues(t, 90, b.FirstBlock)

	_, err = s.GetBatch(10)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentProofWritesSameKey(t *testing.T) {
	s := NewMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.StoreProofByBatchAndType(1, ProverKindExec, BatchProof{
				Kind: ProverKindExec,
				Data: []byte{byte(i)},
			})
		}(i)
	}
	wg.Wait()

	p, err := s.GetProofByBatchAndType(1, ProverKindExec)
	require.NoError(t, err)
	require.Len(t, p.Data, 1, "exactly one writer wins; later writes are no-ops")
}
