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

// Package jit implements the JIT dispatch layer sitting in front of the
// interpreter, and the dual-execution validator that samples a freshly
// compiled artifact's first few runs against the interpreter before
// trusting it alone. Compiled code yields to the driver at call-frame
// boundaries through the suspend/resume bridge in bridge.go.
package jit

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/holiman/uint256"
	"golang.org/x/sync/singleflight"

	"github.com/tokamak-network/tokamak-geth/common"
	"github.com/tokamak-network/tokamak-geth/core/state"
	"github.com/tokamak-network/tokamak-geth/core/vm"
	"github.com/tokamak-network/tokamak-geth/internal/config"
	"github.com/tokamak-network/tokamak-geth/internal/log"
)

// Process-global validation counters. Every dual-execution comparison
// bumps exactly one of them; inconclusive runs bump neither.
var (
	validationMatches    atomic.Uint64
	validationMismatches atomic.Uint64
)

// ValidationMatches returns the process-wide count of dual executions in
// which JIT and interpreter agreed.
func ValidationMatches() uint64 { return validationMatches.Load() }

// ValidationMismatches returns the process-wide count of detected
// divergences.
func ValidationMismatches() uint64 { return validationMismatches.Load() }

// ResetValidationCounters zeroes both counters. Test hook.
func ResetValidationCounters() {
	validationMatches.Store(0)
	validationMismatches.Store(0)
}

// ArtifactState is a compiled artifact's lifecycle stage.
type ArtifactState uint8

const (
	Absent ArtifactState = iota
	Compiling
	Ready
	Invalidated
	Evicted
)

func (s ArtifactState) String() string {
	switch s {
	case Absent:
		return "absent"
	case Compiling:
		return "compiling"
	case Ready:
		return "ready"
	case Invalidated:
		return "invalidated"
	case Evicted:
		return "evicted"
	default:
		return "unknown"
	}
}

// StorageWrite is one SSTORE recorded in a resume handle's journal. Prev
// is the slot's value before the write, which is what a rollback restores.
type StorageWrite struct {
	Address common.Address
	Key     common.Hash
	Prev    common.Hash
	Value   common.Hash
}

// ResumeHandle is the token a suspended artifact hands the driver: the
// paused frame (stack, memory, gas, program counter already advanced past
// the suspending instruction), the pending sub-call, the original gas
// limit, the return-data buffer and the storage-write journal accumulated
// so far. The journal survives across every suspend/resume cycle of the
// same frame so a late REVERT can still undo all of them.
type ResumeHandle struct {
	ContractAddr common.Address
	PC           uint64
	Gas          uint64
	GasLimit     uint64

	Stack      []uint256.Int
	Memory     []byte
	ReturnData []byte

	Journal     []StorageWrite
	PendingCall *SubCallRequest

	// Backend carries the artifact's private continuation state (entry
	// pointer, spill area); opaque to the driver.
	Backend any
}

// Executor is satisfied by a compiled-code backend. RunJIT never blocks on
// compilation; a frame that hits a sub-call returns a handle with
// PendingCall set and a nil error, and is continued via Resume after the
// driver executes the child. A backend that reverts before its first
// suspension undoes its own writes; writes listed in the handle's Journal
// are the driver's to undo.
type Executor interface {
	RunJIT(contract *vm.Contract) (output []byte, gasUsed uint64, handle *ResumeHandle, err error)
	Resume(handle *ResumeHandle, contract *vm.Contract) (output []byte, gasUsed uint64, next *ResumeHandle, err error)
}

// CacheInvalidator is the slice of the compilation cache the dispatcher
// needs when a mismatch condemns an artifact.
type CacheInvalidator interface {
	Invalidate(codeHash common.Hash, fork common.Fork)
}

// artifactEntry tracks one code hash's compilation state and how many
// dual-execution samples it has left.
type artifactEntry struct {
	state       ArtifactState
	samplesLeft int
}

// Dispatcher decides, for each call frame, whether to run the interpreter
// directly or attempt the JIT path, and drives the dual-execution sampling
// window for newly compiled artifacts.
type Dispatcher struct {
	mu       sync.Mutex
	evm      *vm.EVM
	executor Executor
	cache    CacheInvalidator
	cfg      config.VMConfig

	artifacts map[common.Hash]*artifactEntry
	compiler  CompilerFactory
	compileG  singleflight.Group
}

// NewDispatcher returns a dispatcher bound to evm, using executor for the
// compiled path. executor may be nil, in which case every frame runs
// through the interpreter only. cache may be nil when no compilation cache
// is wired in.
func NewDispatcher(evm *vm.EVM, executor Executor, cache CacheInvalidator, cfg config.VMConfig) *Dispatcher {
	return &Dispatcher{
		evm:       evm,
		executor:  executor,
		cache:     cache,
		cfg:       cfg,
		artifacts: make(map[common.Hash]*artifactEntry),
	}
}

// CompileFunc performs the actual compilation of a piece of analyzed
// bytecode for one fork, populating the compilation cache on success.
type CompileFunc func() error

// CompilerFactory builds the CompileFunc for a code hash, letting the
// dispatcher start compilation itself the first time a frame misses.
type CompilerFactory func(codeHash common.Hash, fork common.Fork) CompileFunc

// SetCompiler installs a factory the dispatcher invokes on a demand miss;
// without one, compilation is only ever started via TriggerCompile.
func (d *Dispatcher) SetCompiler(factory CompilerFactory) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.compiler = factory
}

// TriggerCompile starts compiling codeHash for fork in the background and
// marks the artifact Ready on success; compilation never blocks the frame
// that missed. Concurrent frames missing the same (codeHash, fork)
// collapse onto one in-flight compile via singleflight rather than each
// starting their own.
func (d *Dispatcher) TriggerCompile(codeHash common.Hash, fork common.Fork, compile CompileFunc) {
	d.mu.Lock()
	e := d.entryFor(codeHash)
	if e.state == Compiling {
		d.mu.Unlock()
		return
	}
	e.state = Compiling
	d.mu.Unlock()

	key := codeHash.Hex() + "/" + fork.String()
	go func() {
		_, err, _ := d.compileG.Do(key, func() (interface{}, error) {
			return nil, compile()
		})
		if err != nil {
			log.Warn("jit compilation failed", "codeHash", codeHash.Hex(), "fork", fork.String(), "err", err)
			d.mu.Lock()
			d.entryFor(codeHash).state = Absent
			d.mu.Unlock()
			return
		}
		d.MarkCompiled(codeHash)
	}()
}

func (d *Dispatcher) entryFor(codeHash common.Hash) *artifactEntry {
	e, ok := d.artifacts[codeHash]
	if !ok {
		e = &artifactEntry{state: Absent}
		d.artifacts[codeHash] = e
	}
	return e
}

// MarkCompiled transitions an artifact to Ready and arms its
// dual-execution sampling window.
func (d *Dispatcher) MarkCompiled(codeHash common.Hash) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e := d.entryFor(codeHash)
	e.state = Ready
	e.samplesLeft = d.cfg.DualExecutionSampleSize
}

// Invalidate condemns an artifact after a validator-confirmed mismatch;
// subsequent frames fall back to the interpreter until it is recompiled
// and re-marked Ready. The compilation cache entry for the same key is
// dropped alongside, so the next lookup misses.
func (d *Dispatcher) Invalidate(codeHash common.Hash) {
	d.mu.Lock()
	d.entryFor(codeHash).state = Invalidated
	d.mu.Unlock()
	if d.cache != nil {
		d.cache.Invalidate(codeHash, d.evm.Fork())
	}
}

// Evict marks an artifact's entry Evicted, used when the compilation cache
// drops the underlying artifact under capacity pressure.
func (d *Dispatcher) Evict(codeHash common.Hash) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entryFor(codeHash).state = Evicted
}

// State reports an artifact's current lifecycle stage.
func (d *Dispatcher) State(codeHash common.Hash) ArtifactState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entryFor(codeHash).state
}

// Execute runs contract, choosing interpreter-only, JIT-only, or
// dual-execution (both, compared) according to the artifact's current
// state and remaining sample budget.
func (d *Dispatcher) Execute(contract *vm.Contract, codeHash common.Hash) (output []byte, gasUsed uint64, verdict Verdict, err error) {
	if d.executor == nil {
		out, gas, interpErr := d.runInterpreterOnly(contract)
		return out, gas, VerdictInterpreterOnly, interpErr
	}

	d.mu.Lock()
	e := d.entryFor(codeHash)
	st := e.state
	sampling := st == Ready && e.samplesLeft > 0
	if sampling {
		e.samplesLeft--
	}
	compiler := d.compiler
	d.mu.Unlock()

	switch st {
	case Ready:
		if sampling {
			return d.runDual(contract, codeHash)
		}
		out, gas, jitErr := d.runJIT(contract)
		return out, gas, VerdictTrustedJIT, jitErr
	default:
		// A demand miss kicks off compilation in the background; the
		// frame itself runs through the interpreter without waiting.
		if st == Absent && compiler != nil {
			fork := d.evm.Fork()
			d.TriggerCompile(codeHash, fork, compiler(codeHash, fork))
		}
		out, gas, interpErr := d.runInterpreterOnly(contract)
		return out, gas, VerdictInterpreterOnly, interpErr
	}
}

// runInterpreterOnly runs contract to completion via the interpreter,
// returning its output and the gas it consumed (not the leftover).
func (d *Dispatcher) runInterpreterOnly(contract *vm.Contract) ([]byte, uint64, error) {
	limit := contract.Gas
	out, err := d.evm.InterpreterRun(contract)
	if err != nil && !errors.Is(err, vm.ErrExecutionReverted) {
		// A frame-fatal failure other than REVERT forfeits the frame's
		// remaining gas, matching the EVM driver's own accounting.
		contract.Gas = 0
	}
	return out, limit - contract.Gas, err
}

// runDual snapshots state, runs the compiled path against a fresh frame,
// records its outcome, restores the snapshot, runs the interpreter against
// an equally fresh frame, and compares. The interpreter's run is left as
// the StateDB's final state regardless of verdict: on a mismatch it is
// authoritative; on a match the two runs are equivalent by definition.
func (d *Dispatcher) runDual(contract *vm.Contract, codeHash common.Hash) ([]byte, uint64, Verdict, error) {
	gasLimit := contract.Gas
	snap := d.evm.StateDB.Snapshot()

	jitFrame := contract.Clone(gasLimit)
	jitOut, jitGasUsed, jitErr := d.runJIT(jitFrame)
	jitResult := ExecutionResult{
		Reverted: errors.Is(jitErr, vm.ErrExecutionReverted),
		Err:      jitErr,
		GasUsed:  jitGasUsed,
		Output:   jitOut,
		Refunded: d.evm.StateDB.Refund(),
		Logs:     collectLogs(d.evm.StateDB),
		Accounts: collectAccountDiffs(d.evm.StateDB),
	}
	d.evm.StateDB.RevertToSnapshot(snap)

	interpFrame := contract.Clone(gasLimit)
	interpOut, interpGasUsed, interpErr := d.runInterpreterOnly(interpFrame)

	var dbErr *vm.DatabaseError
	if errors.As(interpErr, &dbErr) {
		// The interpreter replay itself failed; no comparison is
		// possible, so neither invalidate nor count anything and the
		// compiled run's result stands. The database error still tears
		// the enclosing transaction down in the caller.
		contract.Gas = gasLimit - jitGasUsed
		return jitOut, jitGasUsed, VerdictInconclusive, jitErr
	}

	interpResult := ExecutionResult{
		Reverted: errors.Is(interpErr, vm.ErrExecutionReverted),
		Err:      interpErr,
		GasUsed:  interpGasUsed,
		Output:   interpOut,
		Refunded: d.evm.StateDB.Refund(),
		Logs:     collectLogs(d.evm.StateDB),
		Accounts: collectAccountDiffs(d.evm.StateDB),
	}

	verdict, reason := Compare(jitResult, interpResult)
	if verdict == VerdictMismatch {
		validationMismatches.Add(1)
		d.Invalidate(codeHash)
		log.Warn("jit/interpreter mismatch, invalidating artifact", "codeHash", codeHash.Hex(), "reason", reason)
	} else {
		validationMatches.Add(1)
	}
	contract.Gas = interpFrame.Gas
	return interpOut, interpGasUsed, verdict, interpErr
}

// collectLogs snapshots the logs emitted so far into the comparable shape
// Compare operates on. The snapshot restore between the two runs pops the
// first run's logs off the journal, so each side sees only its own.
func collectLogs(statedb *state.StateDB) []Log {
	src := statedb.Logs()
	if len(src) == 0 {
		return nil
	}
	logs := make([]Log, len(src))
	for i, l := range src {
		logs[i] = Log{Address: l.Address, Topics: l.Topics, Data: l.Data}
	}
	return logs
}

// collectAccountDiffs snapshots every address statedb has touched into the
// comparable shape Compare operates on.
func collectAccountDiffs(statedb *state.StateDB) []AccountDiff {
	addrs := statedb.TouchedAddresses()
	diffs := make([]AccountDiff, 0, len(addrs))
	for _, addr := range addrs {
		if statedb.AccountStatus(addr) == state.Unmodified {
			continue
		}
		balance, _ := statedb.GetBalance(addr)
		nonce, _ := statedb.GetNonce(addr)
		codeHash, _ := statedb.GetCodeHash(addr)
		bal := "0"
		if balance != nil {
			bal = balance.Dec()
		}
		diffs = append(diffs, AccountDiff{
			Address:  addr,
			Status:   int(statedb.AccountStatus(addr)),
			Balance:  bal,
			Nonce:    nonce,
			CodeHash: codeHash,
			Storage:  statedb.StorageSnapshot(addr),
		})
	}
	return diffs
}
