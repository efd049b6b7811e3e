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

// The comparison half of the dual-execution validator: given two
// independently produced ExecutionResults (one from the JIT path, one
// from the interpreter), decide whether they agree on every observable
// field, using StateDB's TouchedAddresses/StorageSnapshot accessors for
// the post-state diff.
package jit

import (
	"fmt"

	"github.com/tokamak-network/tokamak-geth/common"
)

// Verdict is the outcome of comparing a JIT run against an interpreter run.
type Verdict uint8

const (
	// VerdictInterpreterOnly means no JIT path was attempted; the
	// interpreter result is definitive by default.
	VerdictInterpreterOnly Verdict = iota
	// VerdictTrustedJIT means the artifact has exhausted its
	// dual-execution sample budget and ran JIT-only.
	VerdictTrustedJIT
	// VerdictMatch means both paths were run and agreed on every field.
	VerdictMatch
	// VerdictMismatch means both paths were run and diverged; the
	// interpreter result is authoritative and the artifact is condemned.
	VerdictMismatch
	// VerdictInconclusive means the interpreter replay itself failed
	// (e.g. a database read error) so no comparison could be made;
	// neither a match nor a mismatch is recorded.
	VerdictInconclusive
)

func (v Verdict) String() string {
	switch v {
	case VerdictInterpreterOnly:
		return "interpreter-only"
	case VerdictTrustedJIT:
		return "trusted-jit"
	case VerdictMatch:
		return "match"
	case VerdictMismatch:
		return "mismatch"
	case VerdictInconclusive:
		return "inconclusive"
	default:
		return "unknown"
	}
}

// Log is the minimal shape of an EVM log entry the validator compares;
// defined locally so this package does not need to import core/types for
// one four-field struct.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// AccountDiff is one touched account's comparable post-state, gathered via
// StateDB.TouchedAddresses/StorageSnapshot after a run completes.
type AccountDiff struct {
	Address  common.Address
	Status   int
	Balance  string // decimal string; avoids importing uint256 for equality-only use
	Nonce    uint64
	CodeHash common.Hash
	Storage  map[common.Hash]common.Hash
}

// ExecutionResult is the comparison tuple: status (carried
// implicitly by Reverted/Err), gas used, output bytes, refunded gas,
// ordered logs, and the touched-account post-state diff.
type ExecutionResult struct {
	Reverted bool
	Err      error // non-nil for a frame-fatal halt; compared by presence only
	GasUsed  uint64
	Output   []byte
	Refunded uint64
	Logs     []Log
	Accounts []AccountDiff
}

// mismatch formats a DualExecutionResult-style reason, matching the
// granularity of the ported Rust validator's diagnostics.
func mismatch(format string, args ...any) (Verdict, string) {
	return VerdictMismatch, fmt.Sprintf(format, args...)
}

// Compare diffs the two runs field by field: status, gas used, output,
// refunded gas, logs (ordered) and touched-account state. It returns
// VerdictMatch or VerdictMismatch plus a human-readable reason for the
// latter; callers needing the inconclusive/trusted states set those
// directly rather than through Compare, since those arise from execution
// control flow rather than a field-by-field diff.
func Compare(jit, interp ExecutionResult) (Verdict, string) {
	if jit.Reverted != interp.Reverted {
		return mismatch("status mismatch: jit reverted=%v interpreter reverted=%v", jit.Reverted, interp.Reverted)
	}
	jitHalted := jit.Err != nil && !jit.Reverted
	interpHalted := interp.Err != nil && !interp.Reverted
	if jitHalted != interpHalted {
		return mismatch("status mismatch: jit halted=%v interpreter halted=%v", jitHalted, interpHalted)
	}
	if jit.GasUsed != interp.GasUsed {
		return mismatch("gas_used mismatch: jit=%d interpreter=%d", jit.GasUsed, interp.GasUsed)
	}
	if string(jit.Output) != string(interp.Output) {
		return mismatch("output mismatch: jit len=%d interpreter len=%d", len(jit.Output), len(interp.Output))
	}
	if jit.Refunded != interp.Refunded {
		return mismatch("refunded_gas mismatch: jit=%d interpreter=%d", jit.Refunded, interp.Refunded)
	}
	if len(jit.Logs) != len(interp.Logs) {
		return mismatch("log count mismatch: jit=%d interpreter=%d", len(jit.Logs), len(interp.Logs))
	}
	for i := range jit.Logs {
		if !logsEqual(jit.Logs[i], interp.Logs[i]) {
			return mismatch("log mismatch at index %d", i)
		}
	}
	if reason, ok := compareAccounts(jit.Accounts, interp.Accounts); !ok {
		return mismatch("%s", reason)
	}
	return VerdictMatch, ""
}

func logsEqual(a, b Log) bool {
	if a.Address != b.Address || len(a.Topics) != len(b.Topics) || string(a.Data) != string(b.Data) {
		return false
	}
	for i := range a.Topics {
		if a.Topics[i] != b.Topics[i] {
			return false
		}
	}
	return true
}

// compareAccounts diffs two touched-account sets, matching
// validate_dual_execution's account-by-account walk: every account
// touched by jit must have an identical counterpart in interp, and
// vice versa, on status/balance/nonce/code hash/storage.
func compareAccounts(jit, interp []AccountDiff) (string, bool) {
	byAddr := func(diffs []AccountDiff) map[common.Address]AccountDiff {
		m := make(map[common.Address]AccountDiff, len(diffs))
		for _, d := range diffs {
			m[d.Address] = d
		}
		return m
	}
	jm, im := byAddr(jit), byAddr(interp)

	for addr, jd := range jm {
		id, ok := im[addr]
		if !ok {
			return fmt.Sprintf("state mismatch: account %s modified by jit but absent in interpreter", addr.Hex()), false
		}
		if jd.Status != id.Status {
			return fmt.Sprintf("state mismatch: account %s status jit=%d interpreter=%d", addr.Hex(), jd.Status, id.Status), false
		}
		if jd.Balance != id.Balance {
			return fmt.Sprintf("state mismatch: account %s balance jit=%s interpreter=%s", addr.Hex(), jd.Balance, id.Balance), false
		}
		if jd.Nonce != id.Nonce {
			return fmt.Sprintf("state mismatch: account %s nonce jit=%d interpreter=%d", addr.Hex(), jd.Nonce, id.Nonce), false
		}
		if jd.CodeHash != id.CodeHash {
			return fmt.Sprintf("state mismatch: account %s code_hash jit=%s interpreter=%s", addr.Hex(), jd.CodeHash.Hex(), id.CodeHash.Hex()), false
		}
		for slot, jv := range jd.Storage {
			iv := id.Storage[slot]
			if jv != iv {
				return fmt.Sprintf("state mismatch: account %s slot %s jit=%s interpreter=%s", addr.Hex(), slot.Hex(), jv.Hex(), iv.Hex()), false
			}
		}
		for slot, iv := range id.Storage {
			if _, ok := jd.Storage[slot]; !ok && iv != (common.Hash{}) {
				return fmt.Sprintf("state mismatch: account %s slot %s jit=0 interpreter=%s", addr.Hex(), slot.Hex(), iv.Hex()), false
			}
		}
	}
	for addr := range im {
		if _, ok := jm[addr]; !ok {
			return fmt.Sprintf("state mismatch: account %s modified by interpreter but absent in jit", addr.Hex()), false
		}
	}
	return "", true
}
