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

// This file holds every opcode's dynamicGas and memorySize functions
// referenced from the jump table: EIP-2929 warm/cold lookups, memory
// expansion sizing ahead of a copy/load/store, and the CALL family's
// EIP-150 forwarding computation.
package vm

import (
	"github.com/holiman/uint256"

	"github.com/tokamak-network/tokamak-geth/common"
)

// memoryCopy returns a memorySizeFunc computing the memory span
// [destOffset, destOffset+length) that a copy-like opcode touches.
// offsetIdx/lengthIdx are 0-indexed stack depths from the top, following
// each opcode's own operand order (e.g. CALLDATACOPY: destOffset=0,
// offset=1, length=2; EXTCODECOPY: addr=0, destOffset=1, offset=2,
// length=3).
func memoryCopy(offsetIdx, lengthIdx int) memorySizeFunc {
	return func(scope *ScopeContext) (uint64, bool) {
		offset := scope.Stack.back(offsetIdx)
		size := scope.Stack.back(lengthIdx)
		return calcMemSize(offset, size)
	}
}

func calcMemSize(offset, size *uint256.Int) (uint64, bool) {
	if size.IsZero() {
		return 0, false
	}
	o, overflow := offset.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	s, overflow := size.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	total := o + s
	if total < o {
		return 0, true
	}
	return total, false
}

func memoryKeccak256(scope *ScopeContext) (uint64, bool) {
	offset, size := scope.Stack.back(0), scope.Stack.back(1)
	return calcMemSize(offset, size)
}

func memoryMLoad(scope *ScopeContext) (uint64, bool) {
	offset := scope.Stack.back(0)
	o, overflow := offset.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	return o + 32, false
}

func memoryMStore(scope *ScopeContext) (uint64, bool) {
	offset := scope.Stack.back(0)
	o, overflow := offset.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	return o + 32, false
}

func memoryMStore8(scope *ScopeContext) (uint64, bool) {
	offset := scope.Stack.back(0)
	o, overflow := offset.Uint64WithOverflow()
	if overflow {
		return 0, true
	}
	return o + 1, false
}

func memoryMcopy(scope *ScopeContext) (uint64, bool) {
	dst, src, size := scope.Stack.back(0), scope.Stack.back(1), scope.Stack.back(2)
	dstSize, overflow := calcMemSize(dst, size)
	if overflow {
		return 0, true
	}
	srcSize, overflow := calcMemSize(src, size)
	if overflow {
		return 0, true
	}
	if srcSize > dstSize {
		return srcSize, false
	}
	return dstSize, false
}

func memoryCall(scope *ScopeContext) (uint64, bool) {
	inOffset, inSize := scope.Stack.back(3), scope.Stack.back(4)
	retOffset, retSize := scope.Stack.back(5), scope.Stack.back(6)
	in, overflow := calcMemSize(inOffset, inSize)
	if overflow {
		return 0, true
	}
	ret, overflow := calcMemSize(retOffset, retSize)
	if overflow {
		return 0, true
	}
	if ret > in {
		return ret, false
	}
	return in, false
}

func memoryDelegateStaticCall(scope *ScopeContext) (uint64, bool) {
	inOffset, inSize := scope.Stack.back(2), scope.Stack.back(3)
	retOffset, retSize := scope.Stack.back(4), scope.Stack.back(5)
	in, overflow := calcMemSize(inOffset, inSize)
	if overflow {
		return 0, true
	}
	ret, overflow := calcMemSize(retOffset, retSize)
	if overflow {
		return 0, true
	}
	if ret > in {
		return ret, false
	}
	return in, false
}

func gasExp(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	exponent := scope.Stack.back(1)
	byteLen := (exponent.BitLen() + 7) / 8
	return uint64(byteLen) * 50, nil
}

func gasKeccak256(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	size := scope.Stack.back(1)
	words := MemoryWords(size.Uint64())
	return words * GasKeccak256Word, nil
}

func gasCopyMem(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	size := scope.Stack.back(2)
	words := MemoryWords(size.Uint64())
	return words * GasKeccak256Word, nil
}

func gasBalance(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	addr := common.Address(scope.Stack.peek().Bytes20())
	return chargeAddressAccess(in, scope, addr, 0)
}

func gasExtCodeSize(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	addr := common.Address(scope.Stack.peek().Bytes20())
	return chargeAddressAccess(in, scope, addr, 0)
}

func gasExtCodeHash(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	addr := common.Address(scope.Stack.peek().Bytes20())
	return chargeAddressAccess(in, scope, addr, 0)
}

func gasExtCodeCopy(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	addr := common.Address(scope.Stack.back(0).Bytes20())
	size := scope.Stack.back(3)
	words := MemoryWords(size.Uint64())
	return chargeAddressAccess(in, scope, addr, words*GasKeccak256Word)
}

// chargeAddressAccess returns the EIP-2929 access cost for addr plus
// extra, marking addr warm only if the frame can actually afford the
// charge. The affordability check runs first so an out-of-gas account
// probe leaves no trace in the access list.
func chargeAddressAccess(in *Interpreter, scope *ScopeContext, addr common.Address, extra uint64) (uint64, error) {
	warm := in.evm.StateDB.AddressInAccessList(addr)
	cost := accessAddressCost(warm) + extra
	if scope.Contract.Gas < cost {
		return 0, ErrOutOfGas
	}
	in.evm.StateDB.AddAddressToAccessList(addr)
	return cost, nil
}

func gasSload(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	loc := scope.Stack.peek()
	key := common.Hash(loc.Bytes32())
	_, warm := in.evm.StateDB.SlotInAccessList(scope.Contract.Address, key)
	in.evm.StateDB.AddSlotToAccessList(scope.Contract.Address, key)
	return sloadCost(warm), nil
}

func gasSstore(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	if scope.Contract.Gas <= SstoreSentryGas {
		return 0, ErrOutOfGas
	}
	loc, val := scope.Stack.back(0), scope.Stack.back(1)
	key := common.Hash(loc.Bytes32())

	_, warm := in.evm.StateDB.SlotInAccessList(scope.Contract.Address, key)
	in.evm.StateDB.AddSlotToAccessList(scope.Contract.Address, key)

	current, err := in.evm.StateDB.GetState(scope.Contract.Address, key)
	if err != nil {
		return 0, NewDatabaseReadError(err)
	}
	original, err := in.evm.StateDB.OriginalState(scope.Contract.Address, key)
	if err != nil {
		return 0, NewDatabaseReadError(err)
	}

	gas, refundAdd, refundSub := sstoreCost(current, original, common.Hash(val.Bytes32()), warm)
	if refundAdd > 0 {
		in.evm.StateDB.AddRefund(refundAdd)
	}
	if refundSub > 0 {
		in.evm.StateDB.SubRefund(refundSub)
	}
	return gas, nil
}

func makeGasLog(topics int) gasFunc {
	return func(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
		size := scope.Stack.back(1)
		s, overflow := size.Uint64WithOverflow()
		if overflow {
			return 0, ErrOutOfGas
		}
		gas := uint64(topics)*GasLogTopicGas + s*GasLogByteGas
		return gas, nil
	}
}

func gasCreate(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	size := scope.Stack.back(2)
	words := MemoryWords(size.Uint64())
	return words * InitCodeWordGas, nil
}

func gasCreate2(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	size := scope.Stack.back(2)
	words := MemoryWords(size.Uint64())
	return words*GasKeccak256Word + words*InitCodeWordGas, nil
}

func gasCall(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	addr := common.Address(scope.Stack.back(1).Bytes20())
	value := scope.Stack.back(2)
	gas, err := chargeAddressAccess(in, scope, addr, 0)
	if err != nil {
		return 0, err
	}
	if !value.IsZero() {
		gas += GasCallValue
		nonce, err := in.evm.StateDB.GetNonce(addr)
		if err != nil {
			return 0, NewDatabaseReadError(err)
		}
		code, err := in.evm.StateDB.GetCode(addr)
		if err != nil {
			return 0, NewDatabaseReadError(err)
		}
		bal, err := in.evm.StateDB.GetBalance(addr)
		if err != nil {
			return 0, NewDatabaseReadError(err)
		}
		if len(code) == 0 && nonce == 0 && bal.IsZero() {
			gas += CallNewAccountGas
		}
	}
	return gas, nil
}

// gasCallCode omits the new-account surcharge: value moves to the calling
// contract itself, so no fresh account can be created.
func gasCallCode(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	addr := common.Address(scope.Stack.back(1).Bytes20())
	value := scope.Stack.back(2)
	gas, err := chargeAddressAccess(in, scope, addr, 0)
	if err != nil {
		return 0, err
	}
	if !value.IsZero() {
		gas += GasCallValue
	}
	return gas, nil
}

func gasDelegateStaticCall(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	addr := common.Address(scope.Stack.back(1).Bytes20())
	return chargeAddressAccess(in, scope, addr, 0)
}

func gasSelfdestruct(in *Interpreter, scope *ScopeContext, memorySize uint64) (uint64, error) {
	beneficiary := common.Address(scope.Stack.peek().Bytes20())
	if in.evm.StateDB.AddressInAccessList(beneficiary) {
		return 0, nil
	}
	in.evm.StateDB.AddAddressToAccessList(beneficiary)
	return ColdAccountAccessCost, nil
}
