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

// Package store implements the rollup store: batches, proofs keyed by
// (batch, prover kind), prover inputs keyed by (batch, commit hash), and
// the per-kind last-sent-proof watermark the coordinator dispatches from.
// Sealing a batch persists the batch and its prover input in one critical
// section, so no reader ever observes a batch without its input.
package store

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ProverKind tags which proving backend produced (or should produce) a
// proof for a batch.
type ProverKind string

const (
	ProverKindExec    ProverKind = "exec"
	ProverKindSP1     ProverKind = "sp1"
	ProverKindRISC0   ProverKind = "risc0"
	ProverKindTDX     ProverKind = "tdx"
	ProverKindAligned ProverKind = "aligned"
)

// ProofFormat is the encoding a proof is delivered in.
type ProofFormat string

const (
	FormatGroth16    ProofFormat = "Groth16"
	FormatCompressed ProofFormat = "Compressed"
)

// BatchProof is one prover's proof of one batch.
type BatchProof struct {
	Kind ProverKind `json:"prover_kind"`
	Data []byte     `json:"data"`
}

// Batch is one unit of L2 execution bundled for proving.
type Batch struct {
	Number     uint64
	CommitHash string
	FirstBlock uint64
	LastBlock  uint64
	StateRoot  []byte
}

// ProverInput is the opaque public-input blob a prover consumes for one
// batch. ID is a random UUID assigned at sealing time when the caller
// leaves it empty, so two inputs for the same batch under different commit
// hashes never collide in downstream blob storage.
type ProverInput struct {
	ID   string
	Blob []byte
}

// ErrNotFound is returned by getters when the requested record does not
// exist. Callers that treat absence as a normal condition (the coordinator
// does, throughout its dispatch) test for it with errors.Is.
var ErrNotFound = errors.New("rollup store: not found")

// Store is the persistence surface the proof coordinator and the L1 proof
// sender operate against.
type Store interface {
	// SealBatch persists batch together with its prover input atomically.
	SealBatch(batch Batch, input ProverInput) error
	GetBatch(number uint64) (*Batch, error)
	ContainsBatch(number uint64) (bool, error)
	// RevertToBatch drops every batch, proof and input above number.
	RevertToBatch(number uint64) error

	StoreProofByBatchAndType(batch uint64, kind ProverKind, proof BatchProof) error
	GetProofByBatchAndType(batch uint64, kind ProverKind) (*BatchProof, error)
	DeleteProofByBatchAndType(batch uint64, kind ProverKind) error

	StoreProgramIDByBatch(batch uint64, programID string) error
	GetProgramIDByBatch(batch uint64) (string, error)

	SetLatestSentBatchProof(kind ProverKind, batch uint64) error
	GetLatestSentBatchProof(kind ProverKind) (uint64, error)

	GetProverInputByBatchAndVersion(batch uint64, commitHash string) (*ProverInput, error)

	StoreSignatureByBatch(batch uint64, signature []byte) error
	GetSignatureByBatch(batch uint64) ([]byte, error)
}

type proofKey struct {
	batch uint64
	kind  ProverKind
}

type inputKey struct {
	batch      uint64
	commitHash string
}

// MemoryStore is the in-memory Store used by the sequencer in tests and by
// deployments whose rollup state is reconstructed from L1 on restart. All
// methods are safe for concurrent use; writes for the same (batch, kind)
// serialize on the store mutex.
type MemoryStore struct {
	mu sync.RWMutex

	batches    map[uint64]Batch
	inputs     map[inputKey]ProverInput
	proofs     map[proofKey]BatchProof
	programIDs map[uint64]string
	latestSent map[ProverKind]uint64
	signatures map[uint64][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		batches:    make(map[uint64]Batch),
		inputs:     make(map[inputKey]ProverInput),
		proofs:     make(map[proofKey]BatchProof),
		programIDs: make(map[uint64]string),
		latestSent: make(map[ProverKind]uint64),
		signatures: make(map[uint64][]byte),
	}
}

// SealBatch implements Store. The batch and its input land under one lock
// acquisition; a concurrent ContainsBatch/GetProverInputByBatchAndVersion
// pair can never observe the batch without the input.
func (s *MemoryStore) SealBatch(batch Batch, input ProverInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.batches[batch.Number]; ok {
		return errors.New("rollup store: batch already sealed")
	}
	if input.ID == "" {
		input.ID = uuid.NewString()
	}
	s.batches[batch.Number] = batch
	s.inputs[inputKey{batch: batch.Number, commitHash: batch.CommitHash}] = input
	return nil
}

// GetBatch implements Store.
func (s *MemoryStore) GetBatch(number uint64) (*Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.batches[number]
	if !ok {
		return nil, ErrNotFound
	}
	return &b, nil
}

// ContainsBatch implements Store.
func (s *MemoryStore) ContainsBatch(number uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.batches[number]
	return ok, nil
}

// RevertToBatch implements Store.
func (s *MemoryStore) RevertToBatch(number uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for n := range s.batches {
		if n > number {
			delete(s.batches, n)
		}
	}
	for k := range s.inputs {
		if k.batch > number {
			delete(s.inputs, k)
		}
	}
	for k := range s.proofs {
		if k.batch > number {
			delete(s.proofs, k)
		}
	}
	for n := range s.programIDs {
		if n > number {
			delete(s.programIDs, n)
		}
	}
	for n := range s.signatures {
		if n > number {
			delete(s.signatures, n)
		}
	}
	for kind, sent := range s.latestSent {
		if sent > number {
			s.latestSent[kind] = number
		}
	}
	return nil
}

// StoreProofByBatchAndType implements Store. The first proof stored for a
// (batch, kind) pair wins; storing again is a no-op, which is what makes
// the coordinator's ProofSubmit handling idempotent end to end.
func (s *MemoryStore) StoreProofByBatchAndType(batch uint64, kind ProverKind, proof BatchProof) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := proofKey{batch: batch, kind: kind}
	if _, ok := s.proofs[key]; ok {
		return nil
	}
	s.proofs[key] = proof
	return nil
}

// GetProofByBatchAndType implements Store.
func (s *MemoryStore) GetProofByBatchAndType(batch uint64, kind ProverKind) (*BatchProof, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.proofs[proofKey{batch: batch, kind: kind}]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// DeleteProofByBatchAndType implements Store.
func (s *MemoryStore) DeleteProofByBatchAndType(batch uint64, kind ProverKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.proofs, proofKey{batch: batch, kind: kind})
	return nil
}

// StoreProgramIDByBatch implements Store.
func (s *MemoryStore) StoreProgramIDByBatch(batch uint64, programID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.programIDs[batch] = programID
	return nil
}

// GetProgramIDByBatch implements Store.
func (s *MemoryStore) GetProgramIDByBatch(batch uint64) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.programIDs[batch]
	if !ok {
		return "", ErrNotFound
	}
	return id, nil
}

// SetLatestSentBatchProof implements Store.
func (s *MemoryStore) SetLatestSentBatchProof(kind ProverKind, batch uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestSent[kind] = batch
	return nil
}

// GetLatestSentBatchProof implements Store. A kind that has never been
// recorded reports 0, so the first batch to prove is 1.
func (s *MemoryStore) GetLatestSentBatchProof(kind ProverKind) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latestSent[kind], nil
}

// GetProverInputByBatchAndVersion implements Store.
func (s *MemoryStore) GetProverInputByBatchAndVersion(batch uint64, commitHash string) (*ProverInput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	in, ok := s.inputs[inputKey{batch: batch, commitHash: commitHash}]
	if !ok {
		return nil, ErrNotFound
	}
	return &in, nil
}

// StoreSignatureByBatch implements Store.
func (s *MemoryStore) StoreSignatureByBatch(batch uint64, signature []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signatures[batch] = signature
	return nil
}

// GetSignatureByBatch implements Store.
func (s *MemoryStore) GetSignatureByBatch(batch uint64) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sig, ok := s.signatures[batch]
	if !ok {
		return nil, ErrNotFound
	}
	return sig, nil
}
