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

import "errors"

// Frame-fatal errors: the current frame halts, its journal rolls
// back, and control returns to the caller frame with failure. These never
// abort the surrounding transaction.
var (
	ErrOutOfGas             = errors.New("out of gas")
	ErrStackOverflow        = errors.New("stack overflow")
	ErrStackUnderflow       = errors.New("stack underflow")
	ErrInvalidJump          = errors.New("invalid jump destination")
	ErrInvalidOpcode        = errors.New("invalid opcode")
	ErrOutOfBounds          = errors.New("out of bounds")
	ErrStaticContextViolation = errors.New("write protection: static context violation")
	ErrExecutionReverted    = errors.New("execution reverted")
	ErrDepthLimit           = errors.New("max call depth exceeded")
	ErrInsufficientBalance  = errors.New("insufficient balance for transfer")
	ErrContractAddressCollision = errors.New("contract address collision")
)

// DatabaseError wraps a failure reading or writing the journaled state.
// Treated as fatal to the transaction; the dual-execution validator
// treats one observed during interpreter replay as inconclusive rather
// than a JIT/interpreter mismatch.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string { return "database " + e.Op + ": " + e.Err.Error() }
func (e *DatabaseError) Unwrap() error { return e.Err }

// NewDatabaseReadError wraps err as a read-side DatabaseError.
func NewDatabaseReadError(err error) error { return &DatabaseError{Op: "read", Err: err} }

// NewDatabaseWriteError wraps err as a write-side DatabaseError.
func NewDatabaseWriteError(err error) error { return &DatabaseError{Op: "write", Err: err} }
