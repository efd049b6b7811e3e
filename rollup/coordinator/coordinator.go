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

// Package coordinator implements the proof coordinator: a TCP server that
// assigns provable batches to external provers and ingests the proofs
// they return. Each accepted connection carries exactly one request and
// one response, then closes; every connection is handled on its own
// goroutine with the store serializing writes for the same (batch, kind).
package coordinator

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/tokamak-network/tokamak-geth/internal/config"
	"github.com/tokamak-network/tokamak-geth/internal/log"
	"github.com/tokamak-network/tokamak-geth/rollup/store"
)

var timeNow = time.Now

// DefaultProgramID is the guest program assigned to every batch until
// per-batch program selection lands.
const DefaultProgramID = "evm-l2"

// SetupHook runs a prover kind's one-shot registration step (e.g.
// attestation key registration for TDX). Kinds without one get the no-op
// default.
type SetupHook func(kind store.ProverKind, payload []byte) error

// Coordinator is the proof coordinator server.
type Coordinator struct {
	cfg        config.CoordinatorConfig
	store      store.Store
	commitHash string
	needed     map[store.ProverKind]bool
	setup      SetupHook

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// New returns a coordinator serving batches built at commitHash from st.
// setup may be nil, in which case every ProverSetup is acknowledged
// without side effects.
func New(cfg config.CoordinatorConfig, st store.Store, commitHash string, setup SetupHook) *Coordinator {
	needed := make(map[store.ProverKind]bool, len(cfg.NeededProofTypes))
	for _, k := range cfg.NeededProofTypes {
		needed[store.ProverKind(k)] = true
	}
	if setup == nil {
		setup = func(store.ProverKind, []byte) error { return nil }
	}
	return &Coordinator{
		cfg:        cfg,
		store:      st,
		commitHash: commitHash,
		needed:     needed,
		setup:      setup,
	}
}

// Start binds the listen address and begins accepting connections. It
// returns once the listener is live; the accept loop runs until Stop or
// ctx cancellation drains it.
func (c *Coordinator) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", c.cfg.ListenAddr)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.listener = ln
	c.cancel = cancel
	c.mu.Unlock()

	log.Info("proof coordinator listening", "addr", ln.Addr().String())

	c.wg.Add(1)
	go c.acceptLoop(ctx, ln)

	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	return nil
}

// Addr returns the bound listen address, useful when the config asked for
// an ephemeral port.
func (c *Coordinator) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Stop drains the listener and waits for in-flight connections to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.wg.Wait()
}

func (c *Coordinator) acceptLoop(ctx context.Context, ln net.Listener) {
	defer c.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("proof coordinator accept failed", "err", err)
			continue
		}
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleConnection(conn)
		}()
	}
}

// handleConnection reads one request, writes one response and closes. A
// malformed request or a store error is logged and the connection dropped;
// the prover retries on its next poll.
func (c *Coordinator) handleConnection(conn net.Conn) {
	defer conn.Close()
	if c.cfg.ConnectionTimeout > 0 {
		conn.SetDeadline(timeNow().Add(c.cfg.ConnectionTimeout))
	}

	msg, err := ReadMessage(conn)
	if err != nil {
		log.Warn("proof coordinator: dropping connection", "err", err)
		return
	}

	var resp *Message
	switch {
	case msg.BatchRequest != nil:
		resp, err = c.handleBatchRequest(msg.BatchRequest)
	case msg.ProofSubmit != nil:
		resp, err = c.handleProofSubmit(msg.ProofSubmit)
	case msg.ProverSetup != nil:
		resp, err = c.handleProverSetup(msg.ProverSetup)
	default:
		log.Warn("proof coordinator: unexpected message kind from prover")
		return
	}
	if err != nil {
		log.Error("proof coordinator: request failed", "err", err)
		return
	}
	if err := WriteMessage(conn, resp); err != nil {
		// A partial write is indistinguishable from a disconnect; the
		// prover re-polls either way.
		log.Warn("proof coordinator: response write failed", "err", err)
	}
}

// handleBatchRequest resolves the next batch for a prover.
func (c *Coordinator) handleBatchRequest(req *BatchRequest) (*Message, error) {
	log.Info("batch request received", "kind", string(req.ProverKind), "commitHash", req.CommitHash)

	// A prover kind outside the configured needed set gets a permanent
	// rejection so it can exit instead of polling forever.
	if !c.needed[req.ProverKind] {
		return &Message{ProverTypeNotNeeded: &ProverTypeNotNeeded{ProverKind: req.ProverKind}}, nil
	}

	lastSent, err := c.store.GetLatestSentBatchProof(req.ProverKind)
	if err != nil {
		return nil, err
	}
	batchToProve := lastSent + 1

	// Already proven for this kind: nothing to do right now.
	if _, err := c.store.GetProofByBatchAndType(batchToProve, req.ProverKind); err == nil {
		return &Message{EmptyBatchResponse: &EmptyBatchResponse{}}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	exists, err := c.store.ContainsBatch(batchToProve)
	if err != nil {
		return nil, err
	}
	if !exists {
		// The batch has not been sealed yet. If versions agree the
		// prover is simply ahead of the proposer; if they differ, every
		// future batch will be sealed with the coordinator's version and
		// this prover is stale.
		if req.CommitHash != c.commitHash {
			return &Message{VersionMismatch: &VersionMismatch{CoordinatorVersion: c.commitHash}}, nil
		}
		return &Message{EmptyBatchResponse: &EmptyBatchResponse{}}, nil
	}

	input, err := c.store.GetProverInputByBatchAndVersion(batchToProve, req.CommitHash)
	if errors.Is(err, store.ErrNotFound) {
		// The batch exists but was sealed under a different commit hash.
		return &Message{VersionMismatch: &VersionMismatch{CoordinatorVersion: c.commitHash}}, nil
	}
	if err != nil {
		return nil, err
	}

	programID := DefaultProgramID
	if len(req.SupportedPrograms) > 0 && !contains(req.SupportedPrograms, programID) {
		return &Message{EmptyBatchResponse: &EmptyBatchResponse{}}, nil
	}

	format := store.FormatGroth16
	if c.cfg.AlignedMode {
		format = store.FormatCompressed
	}

	log.Info("batch response sent", "batch", batchToProve, "kind", string(req.ProverKind), "program", programID)
	return &Message{BatchResponse: &BatchResponse{
		BatchNumber: batchToProve,
		Input:       input.Blob,
		Format:      format,
		ProgramID:   programID,
	}}, nil
}

// handleProofSubmit stores a proof if none exists yet for its
// (batch, kind) pair. A duplicate submission is acknowledged without
// overwriting the stored proof.
func (c *Coordinator) handleProofSubmit(req *ProofSubmit) (*Message, error) {
	log.Info("proof submit received", "batch", req.BatchNumber, "kind", string(req.Proof.Kind), "program", req.ProgramID)

	_, err := c.store.GetProofByBatchAndType(req.BatchNumber, req.Proof.Kind)
	switch {
	case err == nil:
		log.Info("proof already stored for batch and kind", "batch", req.BatchNumber, "kind", string(req.Proof.Kind))
	case errors.Is(err, store.ErrNotFound):
		if err := c.store.StoreProofByBatchAndType(req.BatchNumber, req.Proof.Kind, req.Proof); err != nil {
			return nil, err
		}
		if err := c.store.StoreProgramIDByBatch(req.BatchNumber, req.ProgramID); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}
	return &Message{ProofSubmitAck: &ProofSubmitAck{BatchNumber: req.BatchNumber}}, nil
}

// handleProverSetup runs the kind's registration hook and acknowledges.
func (c *Coordinator) handleProverSetup(req *ProverSetup) (*Message, error) {
	log.Info("prover setup received", "kind", string(req.ProverKind))
	if err := c.setup(req.ProverKind, req.Payload); err != nil {
		return nil, err
	}
	return &Message{ProverSetupAck: &ProverSetupAck{}}, nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
