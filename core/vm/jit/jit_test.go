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

package jit

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/tokamak-network/tokamak-geth/common"
	"github.com/tokamak-network/tokamak-geth/core/state"
	"github.com/tokamak-network/tokamak-geth/core/vm"
	"github.com/tokamak-network/tokamak-geth/core/vm/cache"
	"github.com/tokamak-network/tokamak-geth/crypto"
	"github.com/tokamak-network/tokamak-geth/internal/config"
)

var (
	parentAddr = common.BytesToAddress([]byte{0xaa, 0x01})
	childAddr  = common.BytesToAddress([]byte{0xbb, 0x02})
	callerAddr = common.BytesToAddress([]byte{0xcc, 0x03})
)

// counterCode loads slot 0, increments it, stores it back and returns the
// new value as a 32-byte word.
var counterCode = []byte{
	0x60, 0x00, 0x54,
	0x60, 0x01, 0x01,
	0x80,
	0x60, 0x00, 0x55,
	0x60, 0x00, 0x52,
	0x60, 0x20, 0x60, 0x00, 0xf3,
}

type memDB struct {
	codes    map[common.Address][]byte
	storage  map[common.Address]map[common.Hash]common.Hash
	stateErr error
}

func newMemDB() *memDB {
	return &memDB{
		codes:   make(map[common.Address][]byte),
		storage: make(map[common.Address]map[common.Hash]common.Hash),
	}
}

func (db *memDB) setStorage(addr common.Address, key, value common.Hash) {
	if db.storage[addr] == nil {
		db.storage[addr] = make(map[common.Hash]common.Hash)
	}
	db.storage[addr][key] = value
}

func (db *memDB) GetBalance(common.Address) (*uint256.Int, error) { return new(uint256.Int), nil }
func (db *memDB) GetNonce(common.Address) (uint64, error)         { return 0, nil }

func (db *memDB) GetCode(addr common.Address) ([]byte, error) { return db.codes[addr], nil }

func (db *memDB) GetCodeHash(addr common.Address) (common.Hash, error) {
	code := db.codes[addr]
	if len(code) == 0 {
		return common.Hash{}, nil
	}
	return crypto.Keccak256Hash(code), nil
}

func (db *memDB) GetState(addr common.Address, key common.Hash) (common.Hash, error) {
	if db.stateErr != nil {
		return common.Hash{}, db.stateErr
	}
	return db.storage[addr][key], nil
}

func newTestEVM(statedb *state.StateDB, cfg config.VMConfig) *vm.EVM {
	blockCtx := vm.BlockContext{
		CanTransfer: func(s *state.StateDB, addr common.Address, amount *uint256.Int) bool {
			bal, err := s.GetBalance(addr)
			return err == nil && bal.Cmp(amount) >= 0
		},
		Transfer: func(s *state.StateDB, from, to common.Address, amount *uint256.Int) error {
			if err := s.SubBalance(from, amount); err != nil {
				return err
			}
			return s.AddBalance(to, amount)
		},
		GasLimit: 30_000_000,
	}
	return vm.NewEVM(blockCtx, vm.TxContext{GasPrice: uint256.NewInt(1)}, statedb, common.Cancun, uint256.NewInt(1), nil, cfg)
}

// newCounterFrame builds a fresh parent frame around counterCode.
func newCounterFrame(gas uint64) (*vm.Contract, common.Hash) {
	analysis := vm.Analyze(counterCode)
	c := vm.NewContract(callerAddr, parentAddr, nil, gas, counterCode, &analysis)
	return c, analysis.Hash
}

// interpExecutor is an artifact backend that simply runs the interpreter;
// by construction it agrees with the shadow run on every field.
type interpExecutor struct {
	evm *vm.EVM
}

func (e *interpExecutor) RunJIT(c *vm.Contract) ([]byte, uint64, *ResumeHandle, error) {
	limit := c.Gas
	out, err := e.evm.InterpreterRun(c)
	return out, limit - c.Gas, nil, err
}

func (e *interpExecutor) Resume(*ResumeHandle, *vm.Contract) ([]byte, uint64, *ResumeHandle, error) {
	panic("not suspended")
}

// lyingGasExecutor executes faithfully but reports a bogus gas figure,
// which the dual-execution comparison must catch.
type lyingGasExecutor struct {
	inner interpExecutor
}

func (e *lyingGasExecutor) RunJIT(c *vm.Contract) ([]byte, uint64, *ResumeHandle, error) {
	out, _, _, err := e.inner.RunJIT(c)
	return out, 1, nil, err
}

func (e *lyingGasExecutor) Resume(*ResumeHandle, *vm.Contract) ([]byte, uint64, *ResumeHandle, error) {
	panic("not suspended")
}

// cannedExecutor returns a fixed result without touching any state.
type cannedExecutor struct {
	out []byte
	gas uint64
}

func (e *cannedExecutor) RunJIT(*vm.Contract) ([]byte, uint64, *ResumeHandle, error) {
	return e.out, e.gas, nil, nil
}

func (e *cannedExecutor) Resume(*ResumeHandle, *vm.Contract) ([]byte, uint64, *ResumeHandle, error) {
	panic("not suspended")
}

func TestDispatcherInterpreterOnlyWithoutExecutor(t *testing.T) {
	db := newMemDB()
	db.setStorage(parentAddr, common.Hash{}, common.BytesToHash([]byte{5}))
	statedb := state.New(db)
	cfg := config.DefaultVMConfig()
	evm := newTestEVM(statedb, cfg)

	d := NewDispatcher(evm, nil, nil, cfg)
	frame, codeHash := newCounterFrame(1_000_000)
	out, gasUsed, verdict, err := d.Execute(frame, codeHash)
	require.NoError(t, err)
	require.Equal(t, VerdictInterpreterOnly, verdict)
	require.Equal(t, byte(6), out[31])
	require.NotZero(t, gasUsed)
}

func TestDispatcherDualMatchThenTrusted(t *testing.T) {
	ResetValidationCounters()
	db := newMemDB()
	db.setStorage(parentAddr, common.Hash{}, common.BytesToHash([]byte{5}))
	statedb := state.New(db)
	cfg := config.DefaultVMConfig()
	cfg.DualExecutionSampleSize = 2
	evm := newTestEVM(statedb, cfg)

	d := NewDispatcher(evm, &interpExecutor{evm: evm}, nil, cfg)
	_, codeHash := newCounterFrame(0)
	d.MarkCompiled(codeHash)

	for i := 0; i < 2; i++ {
		frame, _ := newCounterFrame(1_000_000)
		_, _, verdict, err := d.Execute(frame, codeHash)
		require.NoError(t, err)
		require.Equal(t, VerdictMatch, verdict, "sample %d", i)
	}
	require.EqualValues(t, 2, ValidationMatches())
	require.Zero(t, ValidationMismatches())

	frame, _ := newCounterFrame(1_000_000)
	out, _, verdict, err := d.Execute(frame, codeHash)
	require.NoError(t, err)
	require.Equal(t, VerdictTrustedJIT, verdict, "sample budget exhausted")
	require.Equal(t, byte(8), out[31], "third increment of the counter")
}

func TestDispatcherMismatchInvalidatesCacheEntry(t *testing.T) {
	ResetValidationCounters()
	db := newMemDB()
	db.setStorage(parentAddr, common.Hash{}, common.BytesToHash([]byte{5}))
	statedb := state.New(db)
	cfg := config.DefaultVMConfig()
	evm := newTestEVM(statedb, cfg)

	codeCache, err := cache.New(16)
	require.NoError(t, err)
	analyzed := vm.Analyze(counterCode)
	codeCache.Put(analyzed.Hash, common.Cancun, analyzed)

	d := NewDispatcher(evm, &lyingGasExecutor{inner: interpExecutor{evm: evm}}, codeCache, cfg)
	d.MarkCompiled(analyzed.Hash)

	frame, _ := newCounterFrame(1_000_000)
	out, gasUsed, verdict, execErr := d.Execute(frame, analyzed.Hash)
	require.NoError(t, execErr)
	require.Equal(t, VerdictMismatch, verdict)

	// The interpreter result is authoritative: correct output, correct gas.
	require.Equal(t, byte(6), out[31])
	require.Greater(t, gasUsed, uint64(1))

	require.EqualValues(t, 1, ValidationMismatches())
	require.Zero(t, ValidationMatches())
	require.Equal(t, Invalidated, d.State(analyzed.Hash))

	_, ok := codeCache.Get(analyzed.Hash, common.Cancun)
	require.False(t, ok, "a condemned artifact's cache entry must be gone")

	// Subsequent frames fall back to the interpreter.
	frame, _ = newCounterFrame(1_000_000)
	_, _, verdict, execErr = d.Execute(frame, analyzed.Hash)
	require.NoError(t, execErr)
	require.Equal(t, VerdictInterpreterOnly, verdict)
}

func TestDispatcherInconclusiveOnDatabaseError(t *testing.T) {
	ResetValidationCounters()
	db := newMemDB()
	db.stateErr = errors.New("backing store offline")
	statedb := state.New(db)
	cfg := config.DefaultVMConfig()
	evm := newTestEVM(statedb, cfg)

	canned := make([]byte, 32)
	canned[31] = 6
	d := NewDispatcher(evm, &cannedExecutor{out: canned, gas: 1234}, nil, cfg)

	_, codeHash := newCounterFrame(0)
	d.MarkCompiled(codeHash)

	frame, _ := newCounterFrame(1_000_000)
	out, gasUsed, verdict, err := d.Execute(frame, codeHash)
	require.Equal(t, VerdictInconclusive, verdict)
	require.NoError(t, err, "the compiled run's own error status is returned")
	require.Equal(t, canned, out)
	require.Equal(t, uint64(1234), gasUsed)

	require.Zero(t, ValidationMatches())
	require.Zero(t, ValidationMismatches())
	require.Equal(t, Ready, d.State(codeHash), "inconclusive runs do not condemn the artifact")
}

// scriptedExecutor suspends once on a CALL to childAddr, then finishes
// with whatever the bridge put in the handle, recording everything for
// assertions.
type scriptedExecutor struct {
	handle  *ResumeHandle
	resumed *ResumeHandle
}

func (e *scriptedExecutor) RunJIT(c *vm.Contract) ([]byte, uint64, *ResumeHandle, error) {
	e.handle = &ResumeHandle{
		ContractAddr: c.Address,
		PC:           42,
		Gas:          1000,
		GasLimit:     c.Gas,
		Memory:       make([]byte, 64),
		PendingCall: &SubCallRequest{
			Kind:      SubCall,
			Caller:    c.Address,
			Target:    childAddr,
			Value:     new(uint256.Int),
			Gas:       50_000,
			RetOffset: 16,
			RetSize:   32,
		},
	}
	return nil, 0, e.handle, nil
}

func (e *scriptedExecutor) Resume(h *ResumeHandle, _ *vm.Contract) ([]byte, uint64, *ResumeHandle, error) {
	e.resumed = h
	return h.ReturnData, h.GasLimit - h.Gas, nil, nil
}

func TestBridgeSuspendResumeRules(t *testing.T) {
	db := newMemDB()
	// Child returns the 32-byte word 42.
	db.codes[childAddr] = []byte{0x60, 0x2a, 0x60, 0x00, 0x52, 0x60, 0x20, 0x60, 0x00, 0xf3}
	statedb := state.New(db)
	cfg := config.DefaultVMConfig()
	cfg.DualExecutionSampleSize = 0
	evm := newTestEVM(statedb, cfg)

	// Pre-measure the child's real gas appetite with an identical call.
	childOut, leftover, err := evm.Call(parentAddr, childAddr, nil, 50_000, nil, false)
	require.NoError(t, err)
	childGasUsed := uint64(50_000) - leftover

	exec := &scriptedExecutor{}
	d := NewDispatcher(evm, exec, nil, cfg)
	frame, codeHash := newCounterFrame(100_000)
	d.MarkCompiled(codeHash)

	out, _, verdict, err := d.Execute(frame, codeHash)
	require.NoError(t, err)
	require.Equal(t, VerdictTrustedJIT, verdict)
	require.Equal(t, childOut, out)

	h := exec.resumed
	require.NotNil(t, h, "the driver must resume the suspended artifact")

	// Unspent child gas credited back to the parent.
	require.Equal(t, 1000+50_000-childGasUsed, h.Gas)

	// CALL success pushes 1.
	require.Len(t, h.Stack, 1)
	require.Equal(t, uint64(1), h.Stack[0].Uint64())

	// Child output copied into the reserved window, rest untouched.
	require.Equal(t, byte(42), h.Memory[16+31])
	require.Equal(t, byte(0), h.Memory[0])

	// Return-data buffer replaced with the child's output.
	require.Equal(t, childOut, h.ReturnData)
}

// revertingExecutor journals a storage write across a suspension and then
// reverts after resumption.
type revertingExecutor struct {
	statedb *state.StateDB
}

func (e *revertingExecutor) RunJIT(c *vm.Contract) ([]byte, uint64, *ResumeHandle, error) {
	slot := common.Hash{}
	prev, err := e.statedb.GetState(c.Address, slot)
	if err != nil {
		return nil, 0, nil, err
	}
	next := common.BytesToHash([]byte{0xaa})
	if err := e.statedb.SetState(c.Address, slot, next); err != nil {
		return nil, 0, nil, err
	}
	handle := &ResumeHandle{
		ContractAddr: c.Address,
		Gas:          1000,
		GasLimit:     c.Gas,
		Journal:      []StorageWrite{{Address: c.Address, Key: slot, Prev: prev, Value: next}},
		PendingCall: &SubCallRequest{
			Kind:   SubCall,
			Caller: c.Address,
			Target: childAddr,
			Value:  new(uint256.Int),
			Gas:    10_000,
		},
	}
	return nil, 0, handle, nil
}

func (e *revertingExecutor) Resume(h *ResumeHandle, _ *vm.Contract) ([]byte, uint64, *ResumeHandle, error) {
	return nil, h.GasLimit - h.Gas, nil, vm.ErrExecutionReverted
}

func TestBridgeRevertRollsBackJournaledWrites(t *testing.T) {
	db := newMemDB()
	db.codes[childAddr] = []byte{0x00} // STOP
	db.setStorage(parentAddr, common.Hash{}, common.BytesToHash([]byte{5}))
	statedb := state.New(db)
	cfg := config.DefaultVMConfig()
	cfg.DualExecutionSampleSize = 0
	evm := newTestEVM(statedb, cfg)

	d := NewDispatcher(evm, &revertingExecutor{statedb: statedb}, nil, cfg)
	frame, codeHash := newCounterFrame(100_000)
	d.MarkCompiled(codeHash)

	_, _, _, err := d.Execute(frame, codeHash)
	require.ErrorIs(t, err, vm.ErrExecutionReverted)

	got, err := statedb.GetState(parentAddr, common.Hash{})
	require.NoError(t, err)
	require.Equal(t, common.BytesToHash([]byte{5}), got,
		"a write journaled across a suspension must unwind on revert")
}

func TestDispatcherStateMachine(t *testing.T) {
	db := newMemDB()
	statedb := state.New(db)
	cfg := config.DefaultVMConfig()
	evm := newTestEVM(statedb, cfg)
	d := NewDispatcher(evm, &interpExecutor{evm: evm}, nil, cfg)

	codeHash := common.Hash{0x01}
	require.Equal(t, Absent, d.State(codeHash))

	done := make(chan struct{})
	d.TriggerCompile(codeHash, common.Cancun, func() error {
		<-done
		return nil
	})
	require.Equal(t, Compiling, d.State(codeHash))

	close(done)
	require.Eventually(t, func() bool { return d.State(codeHash) == Ready },
		time.Second, time.Millisecond)

	d.Invalidate(codeHash)
	require.Equal(t, Invalidated, d.State(codeHash))

	d.Evict(codeHash)
	require.Equal(t, Evicted, d.State(codeHash))
}

func TestTriggerCompileFailureReturnsToAbsent(t *testing.T) {
	db := newMemDB()
	statedb := state.New(db)
	cfg := config.DefaultVMConfig()
	evm := newTestEVM(statedb, cfg)
	d := NewDispatcher(evm, &interpExecutor{evm: evm}, nil, cfg)

	codeHash := common.Hash{0x02}
	d.TriggerCompile(codeHash, common.Cancun, func() error {
		return errors.New("backend rejected the bytecode")
	})
	require.Eventually(t, func() bool { return d.State(codeHash) == Absent },
		time.Second, time.Millisecond)
}

func TestExecuteDemandMissTriggersCompilation(t *testing.T) {
	db := newMemDB()
	db.setStorage(parentAddr, common.Hash{}, common.BytesToHash([]byte{5}))
	statedb := state.New(db)
	cfg := config.DefaultVMConfig()
	evm := newTestEVM(statedb, cfg)

	d := NewDispatcher(evm, &interpExecutor{evm: evm}, nil, cfg)
	compiled := make(chan common.Hash, 1)
	d.SetCompiler(func(codeHash common.Hash, fork common.Fork) CompileFunc {
		return func() error {
			compiled <- codeHash
			return nil
		}
	})

	frame, codeHash := newCounterFrame(1_000_000)
	_, _, verdict, err := d.Execute(frame, codeHash)
	require.NoError(t, err)
	require.Equal(t, VerdictInterpreterOnly, verdict, "the missing frame never waits on the compiler")

	require.Eventually(t, func() bool { return d.State(codeHash) == Ready },
		time.Second, time.Millisecond)
	require.Equal(t, codeHash, <-compiled)
}

func TestDispatcherDualMatchComparesLogs(t *testing.T) {
	ResetValidationCounters()
	db := newMemDB()
	statedb := state.New(db)
	cfg := config.DefaultVMConfig()
	cfg.DualExecutionSampleSize = 1
	evm := newTestEVM(statedb, cfg)

	// Emit one LOG1 over a stored word, then stop.
	logCode := []byte{
		0x60, 0x42, 0x60, 0x00, 0x52,
		0x60, 0x77, 0x60, 0x20, 0x60, 0x00, 0xa1,
		0x00,
	}
	analysis := vm.Analyze(logCode)
	frame := vm.NewContract(callerAddr, parentAddr, nil, 1_000_000, logCode, &analysis)

	d := NewDispatcher(evm, &interpExecutor{evm: evm}, nil, cfg)
	d.MarkCompiled(analysis.Hash)

	_, _, verdict, err := d.Execute(frame, analysis.Hash)
	require.NoError(t, err)
	require.Equal(t, VerdictMatch, verdict)
	require.EqualValues(t, 1, ValidationMatches())

	logs := statedb.Logs()
	require.Len(t, logs, 1, "only the surviving run's log remains after the shadow run is rolled back")
	require.Equal(t, parentAddr, logs[0].Address)
	require.Equal(t, []common.Hash{common.BytesToHash([]byte{0x77})}, logs[0].Topics)
}
