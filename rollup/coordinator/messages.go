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

// Wire format between coordinator and provers: a length-delimited JSON
// stream of externally tagged objects. Exactly one tag field is set per
// message; the length prefix is a 4-byte big-endian byte count for the
// JSON payload that follows.
package coordinator

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/tokamak-network/tokamak-geth/rollup/store"
)

// maxMessageSize bounds a single wire message. Prover inputs dominate the
// payload; 64 MiB leaves ample room while keeping a malicious length
// prefix from allocating unbounded memory.
const maxMessageSize = 64 << 20

// ErrMalformedMessage is returned when a frame decodes to no tag, more
// than one tag, or invalid JSON.
var ErrMalformedMessage = errors.New("proof coordinator: malformed message")

// BatchRequest is a prover asking for work.
type BatchRequest struct {
	CommitHash        string           `json:"commit_hash"`
	ProverKind        store.ProverKind `json:"prover_kind"`
	SupportedPrograms []string         `json:"supported_programs"`
}

// BatchResponse hands a prover the batch it should prove next.
type BatchResponse struct {
	BatchNumber uint64            `json:"batch_number"`
	Input       []byte            `json:"input"`
	Format      store.ProofFormat `json:"format"`
	ProgramID   string            `json:"program_id"`
}

// EmptyBatchResponse tells a prover there is nothing for it right now; it
// should poll again later.
type EmptyBatchResponse struct{}

// VersionMismatch tells a prover its commit hash cannot be served; the
// prover should update and reconnect.
type VersionMismatch struct {
	CoordinatorVersion string `json:"coordinator_version"`
}

// ProverTypeNotNeeded is a permanent rejection: the coordinator's
// configuration has no use for this prover kind and it should exit.
type ProverTypeNotNeeded struct {
	ProverKind store.ProverKind `json:"prover_kind"`
}

// ProofSubmit delivers a finished proof.
type ProofSubmit struct {
	BatchNumber uint64           `json:"batch_number"`
	Proof       store.BatchProof `json:"proof"`
	ProgramID   string           `json:"program_id"`
}

// ProofSubmitAck acknowledges a ProofSubmit, whether or not the proof was
// newly stored.
type ProofSubmitAck struct {
	BatchNumber uint64 `json:"batch_number"`
}

// ProverSetup runs a one-shot registration step for prover kinds that need
// one (e.g. attestation key registration); a no-op for the rest.
type ProverSetup struct {
	ProverKind store.ProverKind `json:"prover_kind"`
	Payload    []byte           `json:"payload"`
}

// ProverSetupAck acknowledges a ProverSetup.
type ProverSetupAck struct{}

// Message is the externally tagged envelope carried on the wire. Exactly
// one field is non-nil.
type Message struct {
	BatchRequest        *BatchRequest        `json:"BatchRequest,omitempty"`
	BatchResponse       *BatchResponse       `json:"BatchResponse,omitempty"`
	EmptyBatchResponse  *EmptyBatchResponse  `json:"EmptyBatchResponse,omitempty"`
	VersionMismatch     *VersionMismatch     `json:"VersionMismatch,omitempty"`
	ProverTypeNotNeeded *ProverTypeNotNeeded `json:"ProverTypeNotNeeded,omitempty"`
	ProofSubmit         *ProofSubmit         `json:"ProofSubmit,omitempty"`
	ProofSubmitAck      *ProofSubmitAck      `json:"ProofSubmitAck,omitempty"`
	ProverSetup         *ProverSetup         `json:"ProverSetup,omitempty"`
	ProverSetupAck      *ProverSetupAck      `json:"ProverSetupAck,omitempty"`
}

// tagCount returns how many variant fields are set.
func (m *Message) tagCount() int {
	n := 0
	for _, set := range []bool{
		m.BatchRequest != nil, m.BatchResponse != nil, m.EmptyBatchResponse != nil,
		m.VersionMismatch != nil, m.ProverTypeNotNeeded != nil, m.ProofSubmit != nil,
		m.ProofSubmitAck != nil, m.ProverSetup != nil, m.ProverSetupAck != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// WriteMessage frames msg onto w: 4-byte big-endian length, then the JSON
// payload.
func WriteMessage(w io.Writer, msg *Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(payload)))
	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// ReadMessage reads one framed message from r, rejecting oversized frames
// and envelopes that do not carry exactly one tag.
func ReadMessage(r io.Reader) (*Message, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(length[:])
	if size > maxMessageSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds limit", ErrMalformedMessage, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if msg.tagCount() != 1 {
		return nil, fmt.Errorf("%w: expected exactly one tag, got %d", ErrMalformedMessage, msg.tagCount())
	}
	return &msg, nil
}
