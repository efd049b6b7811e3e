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

// Package sender forwards completed batch proofs to L1. Once every needed
// prover kind has a stored proof for the next unsent batch, the batch's
// proofs go out in one verification call and the per-kind watermarks
// advance.
package sender

import (
	"context"
	"errors"
	"time"

	"github.com/tokamak-network/tokamak-geth/internal/config"
	"github.com/tokamak-network/tokamak-geth/internal/log"
	"github.com/tokamak-network/tokamak-geth/rollup/store"
)

// L1Client submits batch proofs to the on-chain verifier. Implementations
// wrap an RPC transaction sender; tests use a recording stub.
type L1Client interface {
	VerifyBatch(ctx context.Context, batch uint64, proofs map[store.ProverKind]store.BatchProof) error
}

// ProofSender periodically drains provable batches to L1.
type ProofSender struct {
	store    store.Store
	client   L1Client
	needed   []store.ProverKind
	interval time.Duration
}

// New returns a sender forwarding proofs of the needed kinds from st
// through client.
func New(cfg config.CoordinatorConfig, st store.Store, client L1Client) *ProofSender {
	needed := make([]store.ProverKind, 0, len(cfg.NeededProofTypes))
	for _, k := range cfg.NeededProofTypes {
		needed = append(needed, store.ProverKind(k))
	}
	return &ProofSender{
		store:    st,
		client:   client,
		needed:   needed,
		interval: cfg.ProofSendInterval,
	}
}

// Run loops until ctx is done, attempting a send every interval.
func (s *ProofSender) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SendNext(ctx); err != nil && !errors.Is(err, ErrNotReady) {
				log.Error("proof send failed", "err", err)
			}
		}
	}
}

// ErrNotReady is returned by SendNext when the next batch does not yet
// have a proof from every needed kind.
var ErrNotReady = errors.New("proof sender: batch not fully proven yet")

// SendNext forwards the next unsent batch's proofs if every needed kind
// has one, then advances each kind's watermark.
func (s *ProofSender) SendNext(ctx context.Context) error {
	if len(s.needed) == 0 {
		return ErrNotReady
	}

	// The batch to send is the one just past the slowest kind's watermark.
	batch := uint64(0)
	for i, kind := range s.needed {
		sent, err := s.store.GetLatestSentBatchProof(kind)
		if err != nil {
			return err
		}
		if i == 0 || sent < batch {
			batch = sent
		}
	}
	batch++

	proofs := make(map[store.ProverKind]store.BatchProof, len(s.needed))
	for _, kind := range s.needed {
		p, err := s.store.GetProofByBatchAndType(batch, kind)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotReady
		}
		if err != nil {
			return err
		}
		proofs[kind] = *p
	}

	if err := s.client.VerifyBatch(ctx, batch, proofs); err != nil {
		return err
	}
	for _, kind := range s.needed {
		if err := s.store.SetLatestSentBatchProof(kind, batch); err != nil {
			return err
		}
	}
	log.Info("batch proofs sent to L1", "batch", batch, "kinds", len(proofs))
	return nil
}
