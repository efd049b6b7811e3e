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

// The execution bridge between compiled code and the frame driver.
// Compiled code cannot recursively drive the VM, so on a CALL-family or
// CREATE instruction it suspends: it hands the driver a resume handle plus
// a sub-call request, the driver executes the child frame to completion,
// applies the resumption rules to the handle, and resumes the artifact.
package jit

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/tokamak-network/tokamak-geth/common"
	"github.com/tokamak-network/tokamak-geth/core/vm"
)

// SubCallKind tells the driver which frame constructor a suspended
// artifact is asking for.
type SubCallKind uint8

const (
	SubCall SubCallKind = iota
	SubCallCode
	SubDelegateCall
	SubStaticCall
	SubCreate
	SubCreate2
)

// SubCallRequest is the child frame a suspended artifact wants executed.
type SubCallRequest struct {
	Kind   SubCallKind
	Caller common.Address
	Target common.Address
	Value  *uint256.Int
	Salt   *uint256.Int
	Input  []byte
	Gas    uint64

	// RetOffset/RetSize reserve the parent-memory window the child's
	// output is copied into on resume.
	RetOffset uint64
	RetSize   uint64
}

// SubCallResult is what the driver reports back to a suspended artifact.
type SubCallResult struct {
	Success        bool
	GasLimit       uint64
	GasUsed        uint64
	Output         []byte
	CreatedAddress *common.Address
}

// executeSubCall runs one child frame to completion through the EVM and
// packages the outcome for resumption.
func (d *Dispatcher) executeSubCall(req *SubCallRequest) SubCallResult {
	res := SubCallResult{GasLimit: req.Gas}
	switch req.Kind {
	case SubCreate, SubCreate2:
		var (
			addr     common.Address
			leftover uint64
			err      error
		)
		if req.Kind == SubCreate {
			_, addr, leftover, err = d.evm.Create(req.Caller, req.Input, req.Gas, req.Value)
		} else {
			_, addr, leftover, err = d.evm.Create2(req.Caller, req.Input, req.Gas, req.Value, req.Salt)
		}
		res.GasUsed = req.Gas - leftover
		if err == nil {
			res.Success = true
			res.CreatedAddress = &addr
		}
	default:
		static := req.Kind == SubStaticCall
		out, leftover, err := d.evm.Call(req.Caller, req.Target, req.Input, req.Gas, req.Value, static)
		res.GasUsed = req.Gas - leftover
		res.Output = out
		res.Success = err == nil
	}
	return res
}

// applyResume mutates the suspended frame state per the resumption rules:
// unspent child gas is credited back, the status word (or created address)
// lands on the evaluation stack, the child output is copied into the
// reserved memory window, and the return-data buffer is replaced.
func applyResume(handle *ResumeHandle, req *SubCallRequest, res SubCallResult) {
	handle.Gas += res.GasLimit - res.GasUsed

	var status uint256.Int
	switch {
	case !res.Success:
		// zero
	case req.Kind == SubCreate || req.Kind == SubCreate2:
		status.SetBytes(res.CreatedAddress.Bytes())
	default:
		status.SetOne()
	}
	handle.Stack = append(handle.Stack, status)

	if req.Kind != SubCreate && req.Kind != SubCreate2 {
		n := uint64(len(res.Output))
		if n > req.RetSize {
			n = req.RetSize
		}
		if n > 0 {
			if want := req.RetOffset + n; uint64(len(handle.Memory)) < want {
				handle.Memory = append(handle.Memory, make([]byte, want-uint64(len(handle.Memory)))...)
			}
			copy(handle.Memory[req.RetOffset:req.RetOffset+n], res.Output[:n])
		}
	}
	handle.ReturnData = res.Output
}

// runJIT drives contract through the compiled path to completion,
// servicing every suspension the artifact raises along the way. The
// returned gasUsed covers the whole frame including its sub-calls.
func (d *Dispatcher) runJIT(contract *vm.Contract) ([]byte, uint64, error) {
	out, gasUsed, handle, err := d.executor.RunJIT(contract)
	var last *ResumeHandle
	for err == nil && handle != nil {
		last = handle
		req := handle.PendingCall
		if req == nil {
			return nil, gasUsed, errors.New("jit: suspended without a sub-call request")
		}
		handle.PendingCall = nil
		res := d.executeSubCall(req)
		applyResume(handle, req, res)
		out, gasUsed, handle, err = d.executor.Resume(handle, contract)
	}
	if errors.Is(err, vm.ErrExecutionReverted) {
		// The artifact undoes its own pre-suspension writes when it
		// reverts; writes interleaved with completed sub-calls are only
		// known to the driver, through the handle's journal.
		d.rollbackJournal(last)
	}
	return out, gasUsed, err
}

// rollbackJournal undoes, newest first, every storage write the artifact
// journaled across its suspend/resume cycles. Called when the artifact's
// final outcome is a revert, since the writes were applied live as the
// compiled code ran.
func (d *Dispatcher) rollbackJournal(handle *ResumeHandle) {
	if handle == nil {
		return
	}
	for i := len(handle.Journal) - 1; i >= 0; i-- {
		w := handle.Journal[i]
		if err := d.evm.StateDB.SetState(w.Address, w.Key, w.Prev); err != nil {
			// A failed rollback leaves the state poisoned for this
			// transaction; surface it loudly, the driver discards the
			// transaction on the error path anyway.
			panic(err)
		}
	}
	handle.Journal = handle.Journal[:0]
}
