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

// The per-fork operation dispatch table: one entry per opcode carrying its
// handler, static gas, optional dynamic gas and memory sizing functions,
// and stack bounds. The interpreter selects one table per transaction.
package vm

import "github.com/tokamak-network/tokamak-geth/common"

type executionFunc func(pc *uint64, interp *Interpreter, scope *ScopeContext) ([]byte, error)
type gasFunc func(interp *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error)
type memorySizeFunc func(scope *ScopeContext) (uint64, bool)

// operation describes one opcode's static gas cost, optional dynamic gas
// function, stack bounds and handler.
type operation struct {
	execute     executionFunc
	constantGas uint64
	dynamicGas  gasFunc
	minStack    int
	maxStack    int
	memorySize  memorySizeFunc
}

// minStack returns the minimum number of stack items required.
func minStack(pops, pushes int) int { return pops }

// maxStack returns the maximum stack length an op may observe before
// executing without its pushes overflowing the depth limit.
func maxStack(pops, pushes int) int { return maxStackDepth + pops - pushes }

// JumpTable is the fork-selected dispatch table: table[op] is nil for any
// opcode not defined at that fork.
type JumpTable [256]*operation

// newJumpTable builds the dispatch table for fork. Opcodes introduced by a
// later fork than the one requested are left nil, so the interpreter's
// ErrInvalidOpcode path covers forward-incompatibility automatically.
func newJumpTable(fork common.Fork) *JumpTable {
	tbl := &JumpTable{}

	set := func(op OpCode, o *operation) { tbl[op] = o }

	set(STOP, &operation{execute: opStop, constantGas: 0, minStack: minStack(0, 0), maxStack: maxStack(0, 0)})
	set(ADD, &operation{execute: opAdd, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(MUL, &operation{execute: opMul, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(SUB, &operation{execute: opSub, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(DIV, &operation{execute: opDiv, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(SDIV, &operation{execute: opSdiv, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(MOD, &operation{execute: opMod, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(SMOD, &operation{execute: opSmod, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(ADDMOD, &operation{execute: opAddmod, constantGas: GasMidStep, minStack: minStack(3, 1), maxStack: maxStack(3, 1)})
	set(MULMOD, &operation{execute: opMulmod, constantGas: GasMidStep, minStack: minStack(3, 1), maxStack: maxStack(3, 1)})
	set(EXP, &operation{execute: opExp, constantGas: GasSlowStep, dynamicGas: gasExp, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(SIGNEXTEND, &operation{execute: opSignExtend, constantGas: GasFastStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})

	set(LT, &operation{execute: opLt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(GT, &operation{execute: opGt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(SLT, &operation{execute: opSlt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(SGT, &operation{execute: opSgt, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(EQ, &operation{execute: opEq, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(ISZERO, &operation{execute: opIszero, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)})
	set(AND, &operation{execute: opAnd, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(OR, &operation{execute: opOr, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(XOR, &operation{execute: opXor, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(NOT, &operation{execute: opNot, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)})
	set(BYTE, &operation{execute: opByte, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(SHL, &operation{execute: opShl, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(SHR, &operation{execute: opShr, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})
	set(SAR, &operation{execute: opSar, constantGas: GasFastestStep, minStack: minStack(2, 1), maxStack: maxStack(2, 1)})

	set(KECCAK256, &operation{execute: opKeccak256, constantGas: GasKeccak256, dynamicGas: gasKeccak256, minStack: minStack(2, 1), maxStack: maxStack(2, 1), memorySize: memoryKeccak256})

	set(ADDRESS, &operation{execute: opAddress, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(BALANCE, &operation{execute: opBalance, constantGas: 0, dynamicGas: gasBalance, minStack: minStack(1, 1), maxStack: maxStack(1, 1)})
	set(ORIGIN, &operation{execute: opOrigin, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(CALLER, &operation{execute: opCaller, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(CALLVALUE, &operation{execute: opCallValue, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(CALLDATALOAD, &operation{execute: opCallDataLoad, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)})
	set(CALLDATASIZE, &operation{execute: opCallDataSize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(CALLDATACOPY, &operation{execute: opCallDataCopy, constantGas: GasFastestStep, dynamicGas: gasCopyMem, minStack: minStack(3, 0), maxStack: maxStack(3, 0), memorySize: memoryCopy(0, 2)})
	set(CODESIZE, &operation{execute: opCodeSize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(CODECOPY, &operation{execute: opCodeCopy, constantGas: GasFastestStep, dynamicGas: gasCopyMem, minStack: minStack(3, 0), maxStack: maxStack(3, 0), memorySize: memoryCopy(0, 2)})
	set(GASPRICE, &operation{execute: opGasPrice, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(EXTCODESIZE, &operation{execute: opExtCodeSize, constantGas: 0, dynamicGas: gasExtCodeSize, minStack: minStack(1, 1), maxStack: maxStack(1, 1)})
	set(EXTCODECOPY, &operation{execute: opExtCodeCopy, constantGas: 0, dynamicGas: gasExtCodeCopy, minStack: minStack(4, 0), maxStack: maxStack(4, 0), memorySize: memoryCopy(1, 3)})
	set(RETURNDATASIZE, &operation{execute: opReturnDataSize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(RETURNDATACOPY, &operation{execute: opReturnDataCopy, constantGas: GasFastestStep, dynamicGas: gasCopyMem, minStack: minStack(3, 0), maxStack: maxStack(3, 0), memorySize: memoryCopy(0, 2)})
	set(EXTCODEHASH, &operation{execute: opExtCodeHash, constantGas: 0, dynamicGas: gasExtCodeHash, minStack: minStack(1, 1), maxStack: maxStack(1, 1)})

	set(BLOCKHASH, &operation{execute: opBlockhash, constantGas: GasExtStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1)})
	set(COINBASE, &operation{execute: opCoinbase, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(TIMESTAMP, &operation{execute: opTimestamp, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(NUMBER, &operation{execute: opNumber, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(PREVRANDAO, &operation{execute: opRandom, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(GASLIMIT, &operation{execute: opGasLimit, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(CHAINID, &operation{execute: opChainID, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(SELFBALANCE, &operation{execute: opSelfBalance, constantGas: GasFastStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(BASEFEE, &operation{execute: opBaseFee, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})

	set(POP, &operation{execute: opPop, constantGas: GasQuickStep, minStack: minStack(1, 0), maxStack: maxStack(1, 0)})
	set(MLOAD, &operation{execute: opMload, constantGas: GasFastestStep, minStack: minStack(1, 1), maxStack: maxStack(1, 1), memorySize: memoryMLoad})
	set(MSTORE, &operation{execute: opMstore, constantGas: GasFastestStep, minStack: minStack(2, 0), maxStack: maxStack(2, 0), memorySize: memoryMStore})
	set(MSTORE8, &operation{execute: opMstore8, constantGas: GasFastestStep, minStack: minStack(2, 0), maxStack: maxStack(2, 0), memorySize: memoryMStore8})
	set(SLOAD, &operation{execute: opSload, constantGas: 0, dynamicGas: gasSload, minStack: minStack(1, 1), maxStack: maxStack(1, 1)})
	set(SSTORE, &operation{execute: opSstore, constantGas: 0, dynamicGas: gasSstore, minStack: minStack(2, 0), maxStack: maxStack(2, 0)})
	set(JUMP, &operation{execute: opJump, constantGas: GasMidStep, minStack: minStack(1, 0), maxStack: maxStack(1, 0)})
	set(JUMPI, &operation{execute: opJumpi, constantGas: GasSlowStep, minStack: minStack(2, 0), maxStack: maxStack(2, 0)})
	set(PC, &operation{execute: opPc, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(MSIZE, &operation{execute: opMsize, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(GAS, &operation{execute: opGas, constantGas: GasQuickStep, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	set(JUMPDEST, &operation{execute: opJumpdest, constantGas: 1, minStack: minStack(0, 0), maxStack: maxStack(0, 0)})
	set(TLOAD, &operation{execute: opTload, constantGas: WarmStorageReadCost, minStack: minStack(1, 1), maxStack: maxStack(1, 1)})
	set(TSTORE, &operation{execute: opTstore, constantGas: WarmStorageReadCost, minStack: minStack(2, 0), maxStack: maxStack(2, 0)})
	set(MCOPY, &operation{execute: opMcopy, constantGas: GasFastestStep, dynamicGas: gasCopyMem, minStack: minStack(3, 0), maxStack: maxStack(3, 0), memorySize: memoryMcopy})

	for n := 0; n <= 32; n++ {
		op := PUSH0 + OpCode(n)
		size := n
		var gas uint64 = GasFastestStep
		if n == 0 {
			gas = GasQuickStep
		}
		set(op, &operation{execute: makePush(size), constantGas: gas, minStack: minStack(0, 1), maxStack: maxStack(0, 1)})
	}
	for n := 1; n <= 16; n++ {
		op := DUP1 + OpCode(n-1)
		size := n
		set(op, &operation{execute: makeDup(size), constantGas: GasFastestStep, minStack: minStack(size, size+1), maxStack: maxStack(size, size+1)})
	}
	for n := 1; n <= 16; n++ {
		op := SWAP1 + OpCode(n-1)
		size := n
		set(op, &operation{execute: makeSwap(size), constantGas: GasFastestStep, minStack: minStack(size+1, size+1), maxStack: maxStack(size+1, size+1)})
	}
	for n := 0; n <= 4; n++ {
		op := LOG0 + OpCode(n)
		topics := n
		set(op, &operation{execute: makeLog(topics), constantGas: GasLogGas, dynamicGas: makeGasLog(topics), minStack: minStack(2+topics, 0), maxStack: maxStack(2+topics, 0), memorySize: memoryCopy(0, 1)})
	}

	set(CREATE, &operation{execute: opCreate, constantGas: GasCreate, dynamicGas: gasCreate, minStack: minStack(3, 1), maxStack: maxStack(3, 1), memorySize: memoryCopy(1, 2)})
	set(CALL, &operation{execute: opCall, constantGas: 0, dynamicGas: gasCall, minStack: minStack(7, 1), maxStack: maxStack(7, 1), memorySize: memoryCall})
	set(CALLCODE, &operation{execute: opCallCode, constantGas: 0, dynamicGas: gasCallCode, minStack: minStack(7, 1), maxStack: maxStack(7, 1), memorySize: memoryCall})
	set(RETURN, &operation{execute: opReturn, constantGas: 0, memorySize: memoryCopy(0, 1), minStack: minStack(2, 0), maxStack: maxStack(2, 0)})
	set(DELEGATECALL, &operation{execute: opDelegateCall, constantGas: 0, dynamicGas: gasDelegateStaticCall, minStack: minStack(6, 1), maxStack: maxStack(6, 1), memorySize: memoryDelegateStaticCall})
	set(CREATE2, &operation{execute: opCreate2, constantGas: GasCreate, dynamicGas: gasCreate2, minStack: minStack(4, 1), maxStack: maxStack(4, 1), memorySize: memoryCopy(1, 2)})
	set(STATICCALL, &operation{execute: opStaticCall, constantGas: 0, dynamicGas: gasDelegateStaticCall, minStack: minStack(6, 1), maxStack: maxStack(6, 1), memorySize: memoryDelegateStaticCall})
	set(REVERT, &operation{execute: opRevert, constantGas: 0, memorySize: memoryCopy(0, 1), minStack: minStack(2, 0), maxStack: maxStack(2, 0)})
	set(INVALID, &operation{execute: opInvalid, constantGas: 0, minStack: minStack(0, 0), maxStack: maxStack(0, 0)})
	set(SELFDESTRUCT, &operation{execute: opSelfdestruct, constantGas: GasSelfdestruct, dynamicGas: gasSelfdestruct, minStack: minStack(1, 0), maxStack: maxStack(1, 0)})

	if fork < common.London {
		tbl[BASEFEE] = nil
	}
	if fork < common.Shanghai {
		tbl[PUSH0] = nil
	}
	if fork < common.Cancun {
		tbl[TLOAD] = nil
		tbl[TSTORE] = nil
		tbl[MCOPY] = nil
	}
	return tbl
}
