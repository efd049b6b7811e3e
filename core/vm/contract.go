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

package vm

import (
	"github.com/holiman/uint256"

	"github.com/tokamak-network/tokamak-geth/common"
)

// Contract is one call frame's execution context: caller, target, the code
// it runs and its analysis, calldata, value, the static flag, remaining
// gas, and the transient storage scoped to this call. It is not safe for
// concurrent use; each frame gets its own.
type Contract struct {
	CallerAddress common.Address
	Address       common.Address

	// CodeAddr is the address the frame's bytecode was fetched from. It
	// equals Address for ordinary calls and diverges for CALLCODE and
	// DELEGATECALL frames, which borrow another contract's code.
	CodeAddr *common.Address

	Code     []byte
	CodeHash common.Hash
	analysis *AnalyzedBytecode

	Input []byte
	value *uint256.Int

	Gas   uint64
	Static bool

	// transient holds this frame's TSTORE/TLOAD values. NewContract and
	// Clone each give a frame its own empty map, so values are not shared
	// with parent or child frames, and nothing here is journaled into
	// StateDB.
	transient map[common.Hash]common.Hash

	returnData []byte
}

// NewContract returns a frame ready to execute code on behalf of caller
// against address addr.
func NewContract(caller, addr common.Address, value *uint256.Int, gas uint64, code []byte, analysis *AnalyzedBytecode) *Contract {
	if value == nil {
		value = new(uint256.Int)
	}
	c := &Contract{
		CallerAddress: caller,
		Address:       addr,
		Code:          code,
		value:         value,
		Gas:           gas,
		analysis:      analysis,
		transient:     make(map[common.Hash]common.Hash),
	}
	if analysis != nil {
		c.CodeHash = analysis.Hash
	}
	return c
}

// Clone returns a fresh frame for the same caller/target/code/value but
// with its own gas counter, stack of transient writes and return-data
// slot. The dual-execution validator uses this to run JIT and
// interpreter passes against independent frames sharing only the
// immutable code and analysis, so neither run's bookkeeping leaks into
// the other's.
func (c *Contract) Clone(gas uint64) *Contract {
	clone := NewContract(c.CallerAddress, c.Address, c.value, gas, c.Code, c.analysis)
	clone.CodeAddr = c.CodeAddr
	clone.Input = c.Input
	clone.Static = c.Static
	return clone
}

// Value returns the call's value-transfer amount.
func (c *Contract) Value() *uint256.Int { return c.value }

// validJumpdest reports whether dest is both in-bounds and a JUMPDEST,
// consulting the frame's bytecode analysis.
func (c *Contract) validJumpdest(dest *uint256.Int) bool {
	udest, overflow := dest.Uint64WithOverflow()
	if overflow || udest >= uint64(len(c.Code)) {
		return false
	}
	if c.analysis == nil {
		a := Analyze(c.Code)
		c.analysis = &a
	}
	return c.analysis.IsValidJumpDest(udest) && OpCode(c.Code[udest]) == JUMPDEST
}

// TLoad and TStore implement EIP-1153 transient storage for this frame.
func (c *Contract) TLoad(key common.Hash) common.Hash { return c.transient[key] }

func (c *Contract) TStore(key, value common.Hash) { c.transient[key] = value }

// SetReturnData records the frame's return/revert output for the caller
// to read via RETURNDATACOPY/RETURNDATASIZE.
func (c *Contract) SetReturnData(data []byte) { c.returnData = data }

// ReturnData returns the last sub-call's output.
func (c *Contract) ReturnData() []byte { return c.returnData }
