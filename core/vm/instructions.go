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

// This file implements every opcode's execute function, one-to-one with
// go-ethereum's core/vm/instructions.go naming (opAdd, opMstore, opSstore,
// ...). Each function pops its operands off scope.Stack, computes, and
// pushes the result back, following the stack-order convention the folding
// optimizer in optimizer.go already depends on (top operand first).
package vm

import (
	"github.com/holiman/uint256"

	"github.com/tokamak-network/tokamak-geth/common"
	"github.com/tokamak-network/tokamak-geth/core/state"
	"github.com/tokamak-network/tokamak-geth/crypto"
)

func keccak256Sum(data []byte) common.Hash { return crypto.Keccak256Hash(data) }

func opStop(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) { return nil, nil }

func opAdd(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Add(&x, y)
	return nil, nil
}

func opMul(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Mul(&x, y)
	return nil, nil
}

func opSub(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Sub(&x, y)
	return nil, nil
}

func opDiv(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Div(&x, y)
	return nil, nil
}

func opSdiv(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.SDiv(&x, y)
	return nil, nil
}

func opMod(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Mod(&x, y)
	return nil, nil
}

func opSmod(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.SMod(&x, y)
	return nil, nil
}

func opAddmod(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y, z := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.peek()
	z.AddMod(&x, &y, z)
	return nil, nil
}

func opMulmod(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y, z := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.peek()
	z.MulMod(&x, &y, z)
	return nil, nil
}

func opExp(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	base, exponent := scope.Stack.pop(), scope.Stack.peek()
	exponent.Exp(&base, exponent)
	return nil, nil
}

func opSignExtend(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	back, num := scope.Stack.pop(), scope.Stack.peek()
	num.ExtendSign(num, &back)
	return nil, nil
}

func opLt(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	if x.Lt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opGt(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	if x.Gt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opSlt(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	if x.Slt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opSgt(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	if x.Sgt(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opEq(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	if x.Eq(y) {
		y.SetOne()
	} else {
		y.Clear()
	}
	return nil, nil
}

func opIszero(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x := scope.Stack.peek()
	if x.IsZero() {
		x.SetOne()
	} else {
		x.Clear()
	}
	return nil, nil
}

func opAnd(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.And(&x, y)
	return nil, nil
}

func opOr(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Or(&x, y)
	return nil, nil
}

func opXor(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x, y := scope.Stack.pop(), scope.Stack.peek()
	y.Xor(&x, y)
	return nil, nil
}

func opNot(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x := scope.Stack.peek()
	x.Not(x)
	return nil, nil
}

func opByte(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	th, val := scope.Stack.pop(), scope.Stack.peek()
	val.Byte(&th)
	return nil, nil
}

func opShl(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	shift, value := scope.Stack.pop(), scope.Stack.peek()
	value.Lsh(value, uint(shift.Uint64()))
	return nil, nil
}

func opShr(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	shift, value := scope.Stack.pop(), scope.Stack.peek()
	value.Rsh(value, uint(shift.Uint64()))
	return nil, nil
}

func opSar(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	shift, value := scope.Stack.pop(), scope.Stack.peek()
	value.SRsh(value, uint(shift.Uint64()))
	return nil, nil
}

func opKeccak256(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	offset, size := scope.Stack.pop(), scope.Stack.peek()
	data := scope.Memory.GetPtr(int64(offset.Uint64()), int64(size.Uint64()))
	hash := keccak256Sum(data)
	size.SetBytes(hash[:])
	return nil, nil
}

func opAddress(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetBytes(scope.Contract.Address.Bytes()))
	return nil, nil
}

func opBalance(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	slot := scope.Stack.peek()
	addr := common.Address(slot.Bytes20())
	bal, err := in.evm.StateDB.GetBalance(addr)
	if err != nil {
		return nil, NewDatabaseReadError(err)
	}
	slot.Set(bal)
	return nil, nil
}

func opOrigin(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetBytes(in.evm.TxContext.Origin.Bytes()))
	return nil, nil
}

func opCaller(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetBytes(scope.Contract.CallerAddress.Bytes()))
	return nil, nil
}

func opCallValue(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).Set(scope.Contract.Value()))
	return nil, nil
}

func opCallDataLoad(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	x := scope.Stack.peek()
	data := common.GetData(scope.Contract.Input, x.Uint64(), 32)
	x.SetBytes(data)
	return nil, nil
}

func opCallDataSize(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(uint64(len(scope.Contract.Input))))
	return nil, nil
}

func opCallDataCopy(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	memOffset, dataOffset, length := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	data := common.GetData(scope.Contract.Input, dataOffset.Uint64(), length.Uint64())
	scope.Memory.Set(memOffset.Uint64(), length.Uint64(), data)
	return nil, nil
}

func opCodeSize(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(uint64(len(scope.Contract.Code))))
	return nil, nil
}

func opCodeCopy(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	memOffset, codeOffset, length := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	data := common.GetData(scope.Contract.Code, codeOffset.Uint64(), length.Uint64())
	scope.Memory.Set(memOffset.Uint64(), length.Uint64(), data)
	return nil, nil
}

func opGasPrice(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).Set(in.evm.TxContext.GasPrice))
	return nil, nil
}

func opExtCodeSize(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	slot := scope.Stack.peek()
	addr := common.Address(slot.Bytes20())
	code, err := in.evm.StateDB.GetCode(addr)
	if err != nil {
		return nil, NewDatabaseReadError(err)
	}
	slot.SetUint64(uint64(len(code)))
	return nil, nil
}

func opExtCodeCopy(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	addrSlot, memOffset, codeOffset, length := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	addr := common.Address(addrSlot.Bytes20())
	code, err := in.evm.StateDB.GetCode(addr)
	if err != nil {
		return nil, NewDatabaseReadError(err)
	}
	data := common.GetData(code, codeOffset.Uint64(), length.Uint64())
	scope.Memory.Set(memOffset.Uint64(), length.Uint64(), data)
	return nil, nil
}

func opReturnDataSize(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(uint64(len(scope.Contract.ReturnData()))))
	return nil, nil
}

func opReturnDataCopy(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	memOffset, dataOffset, length := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	rd := scope.Contract.ReturnData()
	start, overflow := dataOffset.Uint64WithOverflow()
	if overflow || start+length.Uint64() > uint64(len(rd)) {
		return nil, ErrOutOfBounds
	}
	scope.Memory.Set(memOffset.Uint64(), length.Uint64(), rd[start:start+length.Uint64()])
	return nil, nil
}

func opExtCodeHash(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	slot := scope.Stack.peek()
	addr := common.Address(slot.Bytes20())
	code, err := in.evm.StateDB.GetCode(addr)
	if err != nil {
		return nil, NewDatabaseReadError(err)
	}
	if len(code) == 0 {
		slot.Clear()
		return nil, nil
	}
	hash := keccak256Sum(code)
	slot.SetBytes(hash[:])
	return nil, nil
}

func opBlockhash(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	num := scope.Stack.peek()
	n, overflow := num.Uint64WithOverflow()
	if overflow || in.evm.Context.GetHash == nil {
		num.Clear()
		return nil, nil
	}
	h := in.evm.Context.GetHash(n)
	num.SetBytes(h.Bytes())
	return nil, nil
}

func opCoinbase(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetBytes(in.evm.Context.Coinbase.Bytes()))
	return nil, nil
}

func opTimestamp(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(in.evm.Context.Time))
	return nil, nil
}

func opNumber(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(in.evm.Context.BlockNumber))
	return nil, nil
}

func opRandom(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	if in.evm.Context.Random != nil {
		scope.Stack.push(new(uint256.Int).SetBytes(in.evm.Context.Random.Bytes()))
	} else {
		scope.Stack.push(new(uint256.Int))
	}
	return nil, nil
}

func opGasLimit(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(in.evm.Context.GasLimit))
	return nil, nil
}

func opChainID(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).Set(in.evm.chainID))
	return nil, nil
}

func opSelfBalance(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	bal, err := in.evm.StateDB.GetBalance(scope.Contract.Address)
	if err != nil {
		return nil, NewDatabaseReadError(err)
	}
	scope.Stack.push(bal)
	return nil, nil
}

func opBaseFee(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	if in.evm.Context.BaseFee != nil {
		scope.Stack.push(new(uint256.Int).Set(in.evm.Context.BaseFee))
	} else {
		scope.Stack.push(new(uint256.Int))
	}
	return nil, nil
}

func opPop(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.pop()
	return nil, nil
}

func opMload(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	v := scope.Stack.peek()
	offset := v.Uint64()
	v.SetBytes(scope.Memory.GetPtr(int64(offset), 32))
	return nil, nil
}

func opMstore(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	mStart, val := scope.Stack.pop(), scope.Stack.pop()
	scope.Memory.Set32(mStart.Uint64(), &val)
	return nil, nil
}

func opMstore8(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	off, val := scope.Stack.pop(), scope.Stack.pop()
	scope.Memory.store[off.Uint64()] = byte(val.Uint64())
	return nil, nil
}

func opSload(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	loc := scope.Stack.peek()
	key := common.Hash(loc.Bytes32())
	val, err := in.evm.StateDB.GetState(scope.Contract.Address, key)
	if err != nil {
		return nil, NewDatabaseReadError(err)
	}
	loc.SetBytes(val.Bytes())
	return nil, nil
}

func opSstore(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	loc, val := scope.Stack.pop(), scope.Stack.pop()
	key := common.Hash(loc.Bytes32())
	value := common.Hash(val.Bytes32())
	if err := in.evm.StateDB.SetState(scope.Contract.Address, key, value); err != nil {
		return nil, NewDatabaseWriteError(err)
	}
	return nil, nil
}

func opJump(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	dest := scope.Stack.pop()
	if !scope.Contract.validJumpdest(&dest) {
		return nil, ErrInvalidJump
	}
	*pc = dest.Uint64() - 1 // interpreter's loop increments pc after execute
	return nil, nil
}

func opJumpi(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	dest, cond := scope.Stack.pop(), scope.Stack.pop()
	if !cond.IsZero() {
		if !scope.Contract.validJumpdest(&dest) {
			return nil, ErrInvalidJump
		}
		*pc = dest.Uint64() - 1
	}
	return nil, nil
}

func opPc(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(*pc))
	return nil, nil
}

func opMsize(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(uint64(scope.Memory.Len())))
	return nil, nil
}

func opGas(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	scope.Stack.push(new(uint256.Int).SetUint64(scope.Contract.Gas))
	return nil, nil
}

func opJumpdest(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	return nil, nil
}

func opTload(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	loc := scope.Stack.peek()
	key := common.Hash(loc.Bytes32())
	loc.SetBytes(scope.Contract.TLoad(key).Bytes())
	return nil, nil
}

func opTstore(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	loc, val := scope.Stack.pop(), scope.Stack.pop()
	scope.Contract.TStore(common.Hash(loc.Bytes32()), common.Hash(val.Bytes32()))
	return nil, nil
}

func opMcopy(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	dst, src, size := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	data := scope.Memory.GetCopy(int64(src.Uint64()), int64(size.Uint64()))
	scope.Memory.Set(dst.Uint64(), size.Uint64(), data)
	return nil, nil
}

func makePush(size int) executionFunc {
	return func(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
		data := common.GetData(scope.Contract.Code, *pc+1, uint64(size))
		v := new(uint256.Int).SetBytes(data)
		scope.Stack.push(v)
		*pc += uint64(size)
		return nil, nil
	}
}

func makeDup(n int) executionFunc {
	return func(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
		scope.Stack.dup(n)
		return nil, nil
	}
}

func makeSwap(n int) executionFunc {
	return func(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
		scope.Stack.swap(n + 1)
		return nil, nil
	}
}

func makeLog(topicCount int) executionFunc {
	return func(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
		mStart, mSize := scope.Stack.pop(), scope.Stack.pop()
		topics := make([]common.Hash, topicCount)
		for i := 0; i < topicCount; i++ {
			t := scope.Stack.pop()
			topics[i] = common.Hash(t.Bytes32())
		}
		data := scope.Memory.GetCopy(int64(mStart.Uint64()), int64(mSize.Uint64()))
		in.evm.StateDB.AddLog(&state.Log{
			Address: scope.Contract.Address,
			Topics:  topics,
			Data:    data,
		})
		return nil, nil
	}
}

func opReturn(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	offset, size := scope.Stack.pop(), scope.Stack.pop()
	ret := scope.Memory.GetCopy(int64(offset.Uint64()), int64(size.Uint64()))
	scope.Contract.SetReturnData(ret)
	return ret, nil
}

func opRevert(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	offset, size := scope.Stack.pop(), scope.Stack.pop()
	ret := scope.Memory.GetCopy(int64(offset.Uint64()), int64(size.Uint64()))
	scope.Contract.SetReturnData(ret)
	return ret, ErrExecutionReverted
}

func opInvalid(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	return nil, ErrInvalidOpcode
}

func opSelfdestruct(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	beneficiarySlot := scope.Stack.pop()
	beneficiary := common.Address(beneficiarySlot.Bytes20())
	bal, err := in.evm.StateDB.GetBalance(scope.Contract.Address)
	if err != nil {
		return nil, NewDatabaseReadError(err)
	}
	if !bal.IsZero() {
		if err := in.evm.StateDB.AddBalance(beneficiary, bal); err != nil {
			return nil, NewDatabaseWriteError(err)
		}
		if err := in.evm.StateDB.SubBalance(scope.Contract.Address, bal); err != nil {
			return nil, NewDatabaseWriteError(err)
		}
	}
	if err := in.evm.StateDB.SelfDestruct(scope.Contract.Address); err != nil {
		return nil, NewDatabaseWriteError(err)
	}
	return nil, nil
}

func opCreate(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	value, offset, size := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	initCode := scope.Memory.GetCopy(int64(offset.Uint64()), int64(size.Uint64()))

	gas := scope.Contract.Gas
	gas -= gas / 64 // EIP-150 stipend retained by the caller
	scope.Contract.Gas -= gas

	ret, addr, returnGas, err := in.evm.Create(scope.Contract.Address, initCode, gas, &value)
	scope.Contract.Gas += returnGas
	if err != nil {
		scope.Stack.push(new(uint256.Int))
	} else {
		scope.Stack.push(new(uint256.Int).SetBytes(addr.Bytes()))
	}
	if err != nil && err != ErrExecutionReverted {
		return nil, nil
	}
	return ret, nil
}

func opCreate2(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	value, offset, size, salt := scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop(), scope.Stack.pop()
	initCode := scope.Memory.GetCopy(int64(offset.Uint64()), int64(size.Uint64()))

	gas := scope.Contract.Gas
	gas -= gas / 64
	scope.Contract.Gas -= gas

	ret, addr, returnGas, err := in.evm.Create2(scope.Contract.Address, initCode, gas, &value, &salt)
	scope.Contract.Gas += returnGas
	if err != nil {
		scope.Stack.push(new(uint256.Int))
	} else {
		scope.Stack.push(new(uint256.Int).SetBytes(addr.Bytes()))
	}
	if err != nil && err != ErrExecutionReverted {
		return nil, nil
	}
	return ret, nil
}

func opCall(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	gasArg := scope.Stack.pop()
	addrSlot := scope.Stack.pop()
	value := scope.Stack.pop()
	inOffset, inSize := scope.Stack.pop(), scope.Stack.pop()
	retOffset, retSize := scope.Stack.pop(), scope.Stack.pop()

	if in.readOnly && !value.IsZero() {
		return nil, ErrStaticContextViolation
	}

	addr := common.Address(addrSlot.Bytes20())
	args := scope.Memory.GetCopy(int64(inOffset.Uint64()), int64(inSize.Uint64()))

	gas, err := callGas(true, scope.Contract.Gas, 0, &gasArg)
	if err != nil {
		return nil, err
	}
	scope.Contract.Gas -= gas
	if !value.IsZero() {
		gas += CallStipend
	}

	ret, returnGas, callErr := in.evm.Call(scope.Contract.Address, addr, args, gas, &value, false)
	finishCall(scope, ret, returnGas, callErr, retOffset.Uint64(), retSize.Uint64())
	return nil, nil
}

func opCallCode(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	gasArg := scope.Stack.pop()
	addrSlot := scope.Stack.pop()
	value := scope.Stack.pop()
	inOffset, inSize := scope.Stack.pop(), scope.Stack.pop()
	retOffset, retSize := scope.Stack.pop(), scope.Stack.pop()

	addr := common.Address(addrSlot.Bytes20())
	args := scope.Memory.GetCopy(int64(inOffset.Uint64()), int64(inSize.Uint64()))

	gas, err := callGas(true, scope.Contract.Gas, 0, &gasArg)
	if err != nil {
		return nil, err
	}
	scope.Contract.Gas -= gas
	if !value.IsZero() {
		gas += CallStipend
	}

	ret, returnGas, callErr := in.evm.CallCode(scope.Contract.Address, addr, args, gas, &value)
	finishCall(scope, ret, returnGas, callErr, retOffset.Uint64(), retSize.Uint64())
	return nil, nil
}

func opDelegateCall(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	gasArg := scope.Stack.pop()
	addrSlot := scope.Stack.pop()
	inOffset, inSize := scope.Stack.pop(), scope.Stack.pop()
	retOffset, retSize := scope.Stack.pop(), scope.Stack.pop()

	addr := common.Address(addrSlot.Bytes20())
	args := scope.Memory.GetCopy(int64(inOffset.Uint64()), int64(inSize.Uint64()))

	gas, err := callGas(true, scope.Contract.Gas, 0, &gasArg)
	if err != nil {
		return nil, err
	}
	scope.Contract.Gas -= gas

	// The parent's msg.sender and msg.value ride along unchanged; only
	// the bytecode comes from addr.
	ret, returnGas, callErr := in.evm.DelegateCall(scope.Contract.CallerAddress, scope.Contract.Address, addr, args, gas, scope.Contract.Value())
	finishCall(scope, ret, returnGas, callErr, retOffset.Uint64(), retSize.Uint64())
	return nil, nil
}

func opStaticCall(pc *uint64, in *Interpreter, scope *ScopeContext) ([]byte, error) {
	gasArg := scope.Stack.pop()
	addrSlot := scope.Stack.pop()
	inOffset, inSize := scope.Stack.pop(), scope.Stack.pop()
	retOffset, retSize := scope.Stack.pop(), scope.Stack.pop()

	addr := common.Address(addrSlot.Bytes20())
	args := scope.Memory.GetCopy(int64(inOffset.Uint64()), int64(inSize.Uint64()))

	gas, err := callGas(true, scope.Contract.Gas, 0, &gasArg)
	if err != nil {
		return nil, err
	}
	scope.Contract.Gas -= gas

	ret, returnGas, callErr := in.evm.Call(scope.Contract.Address, addr, args, gas, nil, true)
	finishCall(scope, ret, returnGas, callErr, retOffset.Uint64(), retSize.Uint64())
	return nil, nil
}

// finishCall applies the CALL family's common postlude: refund the
// child's leftover gas, expose its output through the return-data buffer,
// push the status word, and copy the output into the reserved memory
// window unless the child failed hard.
func finishCall(scope *ScopeContext, ret []byte, returnGas uint64, callErr error, retOffset, retSize uint64) {
	scope.Contract.Gas += returnGas
	scope.Contract.SetReturnData(ret)

	if callErr == nil {
		scope.Stack.push(new(uint256.Int).SetOne())
	} else {
		scope.Stack.push(new(uint256.Int))
	}
	if callErr == nil || callErr == ErrExecutionReverted {
		scope.Memory.Set(retOffset, minUint64(retSize, uint64(len(ret))), ret)
	}
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
