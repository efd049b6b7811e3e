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

// This file ties the per-frame pieces (Contract, Stack, Memory, Interpreter)
// together into the top-level EVM type a block processor drives one
// transaction at a time. The BlockContext/TxContext split and the
// CanTransfer/Transfer/GetHash callback injection mirror go-ethereum's
// core/vm/evm.go, letting block processing stay outside this package.
package vm

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/tokamak-network/tokamak-geth/common"
	"github.com/tokamak-network/tokamak-geth/core/state"
	"github.com/tokamak-network/tokamak-geth/crypto"
	"github.com/tokamak-network/tokamak-geth/internal/config"
)

const maxCallDepth = 1024

// BlockContext carries block-scoped data and chain callbacks unrelated to
// any one transaction.
type BlockContext struct {
	CanTransfer func(*state.StateDB, common.Address, *uint256.Int) bool
	Transfer    func(*state.StateDB, common.Address, common.Address, *uint256.Int) error
	GetHash     func(uint64) common.Hash

	Coinbase    common.Address
	GasLimit    uint64
	BlockNumber uint64
	Time        uint64
	Difficulty  *uint256.Int
	BaseFee     *uint256.Int
	Random      *common.Hash
}

// TxContext carries transaction-scoped data.
type TxContext struct {
	Origin   common.Address
	GasPrice *uint256.Int
}

// CompiledLookup is satisfied by the compilation cache; the EVM
// consults it before falling back to a fresh Analyze+Optimize pass so a
// hot contract is analyzed once regardless of how many frames execute it.
type CompiledLookup interface {
	Get(codeHash common.Hash, fork common.Fork) (AnalyzedBytecode, bool)
	Put(codeHash common.Hash, fork common.Fork, analyzed AnalyzedBytecode)
}

// EVM is the execution context shared by every frame of one transaction.
type EVM struct {
	Context   BlockContext
	TxContext TxContext
	StateDB   *state.StateDB

	fork      common.Fork
	jumpTable *JumpTable
	chainID   *uint256.Int
	cache     CompiledLookup
	config    config.VMConfig

	depth int

	// interpreter is reused across frames of the same call stack to
	// avoid reallocating its scratch stack/memory pools per call.
	interpreter *Interpreter
}

// NewEVM constructs an EVM for one transaction. cache may be nil, in which
// case every CALL/CREATE re-analyzes its target's code.
func NewEVM(blockCtx BlockContext, txCtx TxContext, statedb *state.StateDB, fork common.Fork, chainID *uint256.Int, cache CompiledLookup, cfg config.VMConfig) *EVM {
	evm := &EVM{
		Context:   blockCtx,
		TxContext: txCtx,
		StateDB:   statedb,
		fork:      fork,
		jumpTable: newJumpTable(fork),
		chainID:   chainID,
		cache:     cache,
		config:    cfg,
	}
	evm.interpreter = NewInterpreter(evm)
	return evm
}

// analyze returns bytecode analysis for code, consulting the compilation
// cache by content hash first.
func (evm *EVM) analyze(code []byte) AnalyzedBytecode {
	hash := crypto.Keccak256Hash(code)
	if evm.cache != nil {
		if a, ok := evm.cache.Get(hash, evm.fork); ok {
			return a
		}
	}
	a := Analyze(code)
	a, _ = Optimize(a)
	if evm.cache != nil {
		evm.cache.Put(hash, evm.fork, a)
	}
	return a
}

// Call executes the code at addr in a new frame, with caller as its
// msg.sender. A static frame forbids state mutation.
func (evm *EVM) Call(caller common.Address, addr common.Address, input []byte, gas uint64, value *uint256.Int, static bool) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth > maxCallDepth {
		return nil, gas, ErrDepthLimit
	}
	if value != nil && !value.IsZero() {
		if !evm.Context.CanTransfer(evm.StateDB, caller, value) {
			return nil, gas, ErrInsufficientBalance
		}
	}

	snapshot := evm.StateDB.Snapshot()
	code, err := evm.StateDB.GetCode(addr)
	if err != nil {
		return nil, gas, NewDatabaseReadError(err)
	}
	if value != nil && !value.IsZero() {
		if err := evm.Context.Transfer(evm.StateDB, caller, addr, value); err != nil {
			evm.StateDB.RevertToSnapshot(snapshot)
			return nil, gas, err
		}
	}
	if len(code) == 0 {
		return nil, gas, nil
	}

	analyzed := evm.analyze(code)
	contract := NewContract(caller, addr, value, gas, code, &analyzed)
	contract.CodeAddr = &addr
	contract.Input = input
	contract.Static = static

	return evm.run(contract, snapshot)
}

// CallCode executes the code at addr against caller's own storage and
// identity: the frame's address is caller, only the bytecode comes from
// addr. Value moves nowhere (a transfer to self), but the balance check
// still applies.
func (evm *EVM) CallCode(caller common.Address, addr common.Address, input []byte, gas uint64, value *uint256.Int) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth > maxCallDepth {
		return nil, gas, ErrDepthLimit
	}
	if value != nil && !value.IsZero() && !evm.Context.CanTransfer(evm.StateDB, caller, value) {
		return nil, gas, ErrInsufficientBalance
	}

	snapshot := evm.StateDB.Snapshot()
	code, err := evm.StateDB.GetCode(addr)
	if err != nil {
		return nil, gas, NewDatabaseReadError(err)
	}
	if len(code) == 0 {
		return nil, gas, nil
	}

	analyzed := evm.analyze(code)
	contract := NewContract(caller, caller, value, gas, code, &analyzed)
	contract.CodeAddr = &addr
	contract.Input = input

	return evm.run(contract, snapshot)
}

// DelegateCall executes the code at addr inside caller's frame: storage
// ops hit caller's storage, and the parent's msg.sender and msg.value are
// carried through unchanged. This is the mechanism proxy contracts build
// on.
func (evm *EVM) DelegateCall(originCaller common.Address, caller common.Address, addr common.Address, input []byte, gas uint64, value *uint256.Int) (ret []byte, leftOverGas uint64, err error) {
	if evm.depth > maxCallDepth {
		return nil, gas, ErrDepthLimit
	}

	snapshot := evm.StateDB.Snapshot()
	code, err := evm.StateDB.GetCode(addr)
	if err != nil {
		return nil, gas, NewDatabaseReadError(err)
	}
	if len(code) == 0 {
		return nil, gas, nil
	}

	analyzed := evm.analyze(code)
	contract := NewContract(originCaller, caller, value, gas, code, &analyzed)
	contract.CodeAddr = &addr
	contract.Input = input

	return evm.run(contract, snapshot)
}

// run drives a prepared frame through the interpreter, unwinding to
// snapshot on failure and forfeiting remaining gas on anything but a
// REVERT.
func (evm *EVM) run(contract *Contract, snapshot int) ([]byte, uint64, error) {
	evm.depth++
	ret, err := evm.interpreter.Run(contract)
	evm.depth--

	if err != nil {
		evm.StateDB.RevertToSnapshot(snapshot)
		if !errors.Is(err, ErrExecutionReverted) {
			contract.Gas = 0
		}
	}
	return ret, contract.Gas, err
}

// Create deploys code returned by running initCode as a new contract at
// an address derived from caller and nonce.
func (evm *EVM) Create(caller common.Address, initCode []byte, gas uint64, value *uint256.Int) (ret []byte, contractAddr common.Address, leftOverGas uint64, err error) {
	nonce, err := evm.StateDB.GetNonce(caller)
	if err != nil {
		return nil, common.Address{}, gas, NewDatabaseReadError(err)
	}
	contractAddr = crypto.CreateAddress(caller, nonce)
	return evm.create(caller, initCode, gas, value, contractAddr)
}

// Create2 deploys with a salt-derived deterministic address.
func (evm *EVM) Create2(caller common.Address, initCode []byte, gas uint64, value *uint256.Int, salt *uint256.Int) (ret []byte, contractAddr common.Address, leftOverGas uint64, err error) {
	codeHash := crypto.Keccak256Hash(initCode)
	saltBytes := salt.Bytes32()
	contractAddr = crypto.CreateAddress2(caller, saltBytes, codeHash.Bytes())
	return evm.create(caller, initCode, gas, value, contractAddr)
}

func (evm *EVM) create(caller common.Address, initCode []byte, gas uint64, value *uint256.Int, contractAddr common.Address) ([]byte, common.Address, uint64, error) {
	if evm.depth > maxCallDepth {
		return nil, common.Address{}, gas, ErrDepthLimit
	}
	if value != nil && !value.IsZero() && !evm.Context.CanTransfer(evm.StateDB, caller, value) {
		return nil, common.Address{}, gas, ErrInsufficientBalance
	}

	existingCode, err := evm.StateDB.GetCode(contractAddr)
	if err != nil {
		return nil, common.Address{}, gas, NewDatabaseReadError(err)
	}
	existingNonce, err := evm.StateDB.GetNonce(contractAddr)
	if err != nil {
		return nil, common.Address{}, gas, NewDatabaseReadError(err)
	}
	if len(existingCode) != 0 || existingNonce != 0 {
		return nil, common.Address{}, gas, ErrContractAddressCollision
	}

	snapshot := evm.StateDB.Snapshot()
	if err := evm.StateDB.SetNonce(caller, func() uint64 {
		n, _ := evm.StateDB.GetNonce(caller)
		return n + 1
	}()); err != nil {
		return nil, common.Address{}, gas, NewDatabaseWriteError(err)
	}
	if err := evm.StateDB.SetNonce(contractAddr, 1); err != nil {
		return nil, common.Address{}, gas, NewDatabaseWriteError(err)
	}
	if value != nil && !value.IsZero() {
		if err := evm.Context.Transfer(evm.StateDB, caller, contractAddr, value); err != nil {
			evm.StateDB.RevertToSnapshot(snapshot)
			return nil, common.Address{}, gas, err
		}
	}

	analyzed := Analyze(initCode)
	contract := NewContract(caller, contractAddr, value, gas, initCode, &analyzed)

	evm.depth++
	ret, err := evm.interpreter.Run(contract)
	evm.depth--

	if err == nil {
		codeHash := crypto.Keccak256Hash(ret)
		if setErr := evm.StateDB.SetCode(contractAddr, ret, codeHash); setErr != nil {
			evm.StateDB.RevertToSnapshot(snapshot)
			return nil, common.Address{}, contract.Gas, NewDatabaseWriteError(setErr)
		}
		return ret, contractAddr, contract.Gas, nil
	}

	evm.StateDB.RevertToSnapshot(snapshot)
	if !errors.Is(err, ErrExecutionReverted) {
		contract.Gas = 0
	}
	return ret, contractAddr, contract.Gas, err
}

// ChainID returns the chain identifier CHAINID reports.
func (evm *EVM) ChainID() *uint256.Int { return evm.chainID }

// Fork returns the protocol fork this EVM executes under.
func (evm *EVM) Fork() common.Fork { return evm.fork }

// Config returns the VM's runtime configuration.
func (evm *EVM) Config() config.VMConfig { return evm.config }

// Depth returns the current call-stack depth.
func (evm *EVM) Depth() int { return evm.depth }

// InterpreterRun drives contract through the interpreter directly,
// bypassing the cache/analysis lookup Call performs. It is the seam the
// dispatcher (package jit) uses to obtain an authoritative interpreter
// result for dual-execution comparison against a compiled artifact, and
// as the sole execution path when no JIT backend is configured.
func (evm *EVM) InterpreterRun(contract *Contract) ([]byte, error) {
	return evm.interpreter.Run(contract)
}

// AnalyzeForJIT exposes the analysis pass so the dispatcher can derive
// a (code hash, fork) key for artifacts without duplicating the cache
// lookup evm.analyze performs internally.
func (evm *EVM) AnalyzeForJIT(code []byte) AnalyzedBytecode {
	return evm.analyze(code)
}
