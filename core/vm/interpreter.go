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

// The bytecode interpreter: the fetch-decode-execute loop driving one
// Contract frame to completion against the fork-selected jump table. Its
// shape (ScopeContext bundling stack+memory+contract, per-step gas
// deduction, readOnly propagation) follows go-ethereum's
// core/vm/interpreter.go.
package vm

// ScopeContext bundles the per-step state an operation's execute function
// needs: its frame, its stack and its memory.
type ScopeContext struct {
	Memory   *Memory
	Stack    *Stack
	Contract *Contract
}

// Interpreter runs a single Contract frame's bytecode to completion. One
// Interpreter is reused across every frame of a transaction's call tree so
// its stack pool sees only the traffic one execution actually generates.
type Interpreter struct {
	evm *EVM

	readOnly bool
}

// NewInterpreter returns an interpreter bound to evm.
func NewInterpreter(evm *EVM) *Interpreter {
	return &Interpreter{evm: evm}
}

// Run executes contract's code, returning its RETURN/STOP output. REVERT
// returns its output alongside ErrExecutionReverted so callers can still
// propagate revert data up the call stack.
func (in *Interpreter) Run(contract *Contract) ([]byte, error) {
	prevReadOnly := in.readOnly
	if contract.Static {
		in.readOnly = true
	}
	defer func() { in.readOnly = prevReadOnly }()

	if len(contract.Code) == 0 {
		return nil, nil
	}

	stack := newstack()
	defer returnStack(stack)
	mem := NewMemory()
	scope := &ScopeContext{Memory: mem, Stack: stack, Contract: contract}

	var (
		pc  = uint64(0)
		res []byte
		err error
	)

	for {
		op := OpCode(contract.Code[pc])
		operation := in.evm.jumpTable[op]
		if operation == nil {
			return nil, ErrInvalidOpcode
		}

		if err := in.validateStack(stack, operation); err != nil {
			return nil, err
		}
		if in.readOnly && isStateMutatingOp(op) {
			return nil, ErrStaticContextViolation
		}

		// Gas is deducted in three stages, each checked before any state
		// the stage observes is touched: static cost, memory expansion,
		// then the operation's own dynamic cost.
		if contract.Gas < operation.constantGas {
			return nil, ErrOutOfGas
		}
		contract.Gas -= operation.constantGas

		var memorySize uint64
		if operation.memorySize != nil {
			size, overflow := operation.memorySize(scope)
			if overflow {
				return nil, ErrOutOfGas
			}
			memCost, err := memoryGasCost(mem, size)
			if err != nil {
				return nil, err
			}
			if contract.Gas < memCost {
				return nil, ErrOutOfGas
			}
			contract.Gas -= memCost
			memorySize = MemoryWords(size) * 32
		}
		if operation.dynamicGas != nil {
			dyn, err := operation.dynamicGas(in, scope, memorySize)
			if err != nil {
				return nil, err
			}
			if contract.Gas < dyn {
				return nil, ErrOutOfGas
			}
			contract.Gas -= dyn
		}

		if memorySize > 0 {
			mem.Resize(memorySize)
		}

		res, err = operation.execute(&pc, in, scope)
		if err != nil {
			return res, err
		}
		pc++

		if op == STOP || op == RETURN || op == REVERT || op == SELFDESTRUCT {
			return res, err
		}
		if pc >= uint64(len(contract.Code)) {
			return nil, nil
		}
	}
}

func (in *Interpreter) validateStack(st *Stack, op *operation) error {
	if st.len() < op.minStack {
		return ErrStackUnderflow
	}
	if st.len() > op.maxStack {
		return ErrStackOverflow
	}
	return nil
}

// isStateMutatingOp reports whether op would write state, emit a log, or
// otherwise violate a static (STATICCALL-propagated) call's read-only
// contract.
func isStateMutatingOp(op OpCode) bool {
	switch op {
	case SSTORE, LOG0, LOG1, LOG2, LOG3, LOG4, CREATE, CREATE2, SELFDESTRUCT, TSTORE:
		return true
	default:
		return false
	}
}
