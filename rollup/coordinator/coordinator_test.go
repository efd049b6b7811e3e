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

package coordinator

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tokamak-network/tokamak-geth/internal/config"
	"github.com/tokamak-network/tokamak-geth/rollup/store"
)

const testCommitHash = "abc123"

func startCoordinator(t *testing.T, st store.Store, mutate func(*config.CoordinatorConfig)) *Coordinator {
	t.Helper()
	cfg := config.DefaultCoordinatorConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.NeededProofTypes = []string{"exec"}
	if mutate != nil {
		mutate(&cfg)
	}
	c := New(cfg, st, testCommitHash, nil)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)
	return c
}

// roundTrip dials the coordinator, sends one message and reads the reply,
// the way a prover's poll loop does.
func roundTrip(t *testing.T, c *Coordinator, msg *Message) *Message {
	t.Helper()
	conn, err := net.Dial("tcp", c.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteMessage(conn, msg))
	resp, err := ReadMessage(conn)
	require.NoError(t, err)
	return resp
}

func sealBatch(t *testing.T, st *store.MemoryStore, number uint64, commitHash string, blob []byte) {
	t.Helper()
	require.NoError(t, st.SealBatch(
		store.Batch{Number: number, CommitHash: commitHash},
		store.ProverInput{Blob: blob},
	))
}

func TestBatchRequestAssignsNextBatch(t *testing.T) {
	st := store.NewMemoryStore()
	sealBatch(t, st, 1, testCommitHash, []byte("blob-1"))
	c := startCoordinator(t, st, nil)

	resp := roundTrip(t, c, &Message{BatchRequest: &BatchRequest{
		CommitHash: testCommitHash,
		ProverKind: store.ProverKindExec,
	}})
	require.NotNil(t, resp.BatchResponse)
	require.EqualValues(t, 1, resp.BatchResponse.BatchNumber)
	require.Equal(t, []byte("blob-1"), resp.BatchResponse.Input)
	require.Equal(t, store.FormatGroth16, resp.BatchResponse.Format)
	require.Equal(t, DefaultProgramID, resp.BatchResponse.ProgramID)
}

func TestBatchRequestUnneededProverKindPermanentlyRejected(t *testing.T) {
	st := store.NewMemoryStore()
	sealBatch(t, st, 1, testCommitHash, []byte("blob-1"))
	c := startCoordinator(t, st, nil)

	// Regardless of store contents, an unneeded kind is told to go away.
	resp := roundTrip(t, c, &Message{BatchRequest: &BatchRequest{
		CommitHash: testCommitHash,
		ProverKind: store.ProverKindTDX,
	}})
	require.NotNil(t, resp.ProverTypeNotNeeded)
	require.Equal(t, store.ProverKindTDX, resp.ProverTypeNotNeeded.ProverKind)
}

func TestBatchRequestProverAheadVsStale(t *testing.T) {
	// No batch sealed yet: a same-version prover is simply ahead, a
	// different-version prover is stale.
	c := startCoordinator(t, store.NewMemoryStore(), nil)

	resp := roundTrip(t, c, &Message{BatchRequest: &BatchRequest{
		CommitHash: testCommitHash,
		ProverKind: store.ProverKindExec,
	}})
	require.NotNil(t, resp.EmptyBatchResponse)

	resp = roundTrip(t, c, &Message{BatchRequest: &BatchRequest{
		CommitHash: "stale-version",
		ProverKind: store.ProverKindExec,
	}})
	require.NotNil(t, resp.VersionMismatch)
	require.Equal(t, testCommitHash, resp.VersionMismatch.CoordinatorVersion)
}

func TestBatchRequestInputVersionMismatch(t *testing.T) {
	st := store.NewMemoryStore()
	sealBatch(t, st, 1, "other-version", []byte("blob-1"))
	c := startCoordinator(t, st, nil)

	// The batch exists but was sealed under a different commit hash.
	resp := roundTrip(t, c, &Message{BatchRequest: &BatchRequest{
		CommitHash: testCommitHash,
		ProverKind: store.ProverKindExec,
	}})
	require.NotNil(t, resp.VersionMismatch)
}

func TestBatchRequestAlreadyProven(t *testing.T) {
	st := store.NewMemoryStore()
	sealBatch(t, st, 1, testCommitHash, []byte("blob-1"))
	require.NoError(t, st.StoreProofByBatchAndType(1, store.ProverKindExec, store.BatchProof{Kind: store.ProverKindExec}))
	c := startCoordinator(t, st, nil)

	resp := roundTrip(t, c, &Message{BatchRequest: &BatchRequest{
		CommitHash: testCommitHash,
		ProverKind: store.ProverKindExec,
	}})
	require.NotNil(t, resp.EmptyBatchResponse)
}

func TestBatchRequestProgramGating(t *testing.T) {
	st := store.NewMemoryStore()
	sealBatch(t, st, 1, testCommitHash, []byte("blob-1"))
	c := startCoordinator(t, st, nil)

	// An empty supported list accepts any program.
	resp := roundTrip(t, c, &Message{BatchRequest: &BatchRequest{
		CommitHash: testCommitHash,
		ProverKind: store.ProverKindExec,
	}})
	require.NotNil(t, resp.BatchResponse)

	// A non-empty list without the chosen program gets nothing.
	resp = roundTrip(t, c, &Message{BatchRequest: &BatchRequest{
		CommitHash:        testCommitHash,
		ProverKind:        store.ProverKindExec,
		SupportedPrograms: []string{"other-guest"},
	}})
	require.NotNil(t, resp.EmptyBatchResponse)

	// A list including it is served.
	resp = roundTrip(t, c, &Message{BatchRequest: &BatchRequest{
		CommitHash:        testCommitHash,
		ProverKind:        store.ProverKindExec,
		SupportedPrograms: []string{"other-guest", DefaultProgramID},
	}})
	require.NotNil(t, resp.BatchResponse)
}

func TestBatchRequestAlignedModeCompressedFormat(t *testing.T) {
	st := store.NewMemoryStore()
	sealBatch(t, st, 1, testCommitHash, []byte("blob-1"))
	c := startCoordinator(t, st, func(cfg *config.CoordinatorConfig) {
		cfg.AlignedMode = true
	})

	resp := roundTrip(t, c, &Message{BatchRequest: &BatchRequest{
		CommitHash: testCommitHash,
		ProverKind: store.ProverKindExec,
	}})
	require.NotNil(t, resp.BatchResponse)
	require.Equal(t, store.FormatCompressed, resp.BatchResponse.Format)
}

func TestProofSubmitIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	c := startCoordinator(t, st, nil)

	submit := func(data []byte) *Message {
		return roundTrip(t, c, &Message{ProofSubmit: &ProofSubmit{
			BatchNumber: 1,
			Proof:       store.BatchProof{Kind: store.ProverKindExec, Data: data},
			ProgramID:   DefaultProgramID,
		}})
	}

	resp := submit([]byte("proof-a"))
	require.NotNil(t, resp.ProofSubmitAck)
	require.EqualValues(t, 1, resp.ProofSubmitAck.BatchNumber)

	// A second submission with a different body is acknowledged but does
	// not overwrite the stored proof.
	resp = submit([]byte("proof-b"))
	require.NotNil(t, resp.ProofSubmitAck)

	p, err := st.GetProofByBatchAndType(1, store.ProverKindExec)
	require.NoError(t, err)
	require.Equal(t, []byte("proof-a"), p.Data)

	id, err := st.GetProgramIDByBatch(1)
	require.NoError(t, err)
	require.Equal(t, DefaultProgramID, id)
}

func TestProverSetupAckAndHook(t *testing.T) {
	st := store.NewMemoryStore()
	var hookKind store.ProverKind
	var hookPayload []byte

	cfg := config.DefaultCoordinatorConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.NeededProofTypes = []string{"tdx"}
	c := New(cfg, st, testCommitHash, func(kind store.ProverKind, payload []byte) error {
		hookKind, hookPayload = kind, payload
		return nil
	})
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Stop)

	resp := roundTrip(t, c, &Message{ProverSetup: &ProverSetup{
		ProverKind: store.ProverKindTDX,
		Payload:    []byte{0x01, 0x02},
	}})
	require.NotNil(t, resp.ProverSetupAck)
	require.Equal(t, store.ProverKindTDX, hookKind)
	require.Equal(t, []byte{0x01, 0x02}, hookPayload)
}

func TestMalformedRequestClosesWithoutResponse(t *testing.T) {
	c := startCoordinator(t, store.NewMemoryStore(), nil)

	conn, err := net.Dial("tcp", c.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// A frame that is not JSON: the coordinator logs and closes.
	_, err = conn.Write([]byte{0x00, 0x00, 0x00, 0x02, '{', 'x'})
	require.NoError(t, err)

	_, err = ReadMessage(conn)
	require.Error(t, err, "connection closes with no response frame")
}

func TestConcurrentConnections(t *testing.T) {
	st := store.NewMemoryStore()
	sealBatch(t, st, 1, testCommitHash, []byte("blob-1"))
	c := startCoordinator(t, st, nil)

	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			conn, err := net.Dial("tcp", c.Addr().String())
			if err != nil {
				results <- err
				return
			}
			defer conn.Close()
			if err := WriteMessage(conn, &Message{BatchRequest: &BatchRequest{
				CommitHash: testCommitHash,
				ProverKind: store.ProverKindExec,
			}}); err != nil {
				results <- err
				return
			}
			resp, err := ReadMessage(conn)
			if err == nil && resp.BatchResponse == nil {
				err = ErrMalformedMessage
			}
			results <- err
		}()
	}
	for i := 0; i < 8; i++ {
		require.NoError(t, <-results)
	}
}

func TestMessageFramingRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_ = WriteMessage(server, &Message{ProofSubmitAck: &ProofSubmitAck{BatchNumber: 9}})
	}()
	msg, err := ReadMessage(client)
	require.NoError(t, err)
	require.NotNil(t, msg.ProofSubmitAck)
	require.EqualValues(t, 9, msg.ProofSubmitAck.BatchNumber)
}

func TestReadMessageRejectsMultiTag(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		payload := []byte(`{"EmptyBatchResponse":{},"ProverSetupAck":{}}`)
		_, _ = server.Write([]byte{0, 0, 0, byte(len(payload))})
		_, _ = server.Write(payload)
	}()
	_, err := ReadMessage(client)
	require.ErrorIs(t, err, ErrMalformedMessage)
}

func TestReadMessageRejectsOversizedFrame(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		_, _ = server.Write([]byte{0xff, 0xff, 0xff, 0xff})
	}()
	_, err := ReadMessage(client)
	require.ErrorIs(t, err, ErrMalformedMessage)
}
