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

// Gas cost computations: memory expansion (quadratic past the linear
// term), EIP-2929 cold/warm SLOAD and account access, EIP-2200/3529
// SSTORE, and EIP-150's 63/64 forwarding rule for CALL-family gas. The
// formulas and naming (memoryGasCost, callGas) follow go-ethereum's
// core/vm/gas_table.go.
package vm

import "github.com/holiman/uint256"

// Fixed per-instruction gas costs, named after go-ethereum's historical
// step tiers (GasQuickStep, GasFastestStep, ...).
const (
	GasQuickStep   uint64 = 2
	GasFastestStep uint64 = 3
	GasFastStep    uint64 = 5
	GasMidStep     uint64 = 8
	GasSlowStep    uint64 = 10
	GasExtStep     uint64 = 20

	GasKeccak256     uint64 = 30
	GasKeccak256Word uint64 = 6
	GasLogGas        uint64 = 375
	GasLogTopicGas   uint64 = 375
	GasLogByteGas    uint64 = 8
	GasCreate        uint64 = 32000
	GasCreateData    uint64 = 200
	InitCodeWordGas  uint64 = 2
	GasCallValue     uint64 = 9000
	GasSelfdestruct  uint64 = 5000
)

const (
	memoryGasLinearCoeff    = 3
	memoryGasQuadraticDivisor = 512

	ColdAccountAccessCost = 2600
	WarmStorageReadCost   = 100
	ColdSloadCost         = 2100

	SstoreSentryGas  = 2300
	SstoreSetGas     = 20000
	SstoreResetGas   = 5000
	SstoreClearsRefund = 4800

	CallNewAccountGas = 25000
	CallStipend       = 2300
)

// memoryGasCost returns the incremental cost of growing mem to cover
// newSize bytes, or an error if newSize overflows the cost formula's
// domain (the same 0xffffffffe0 boundary go-ethereum enforces).
func memoryGasCost(mem *Memory, newSize uint64) (uint64, error) {
	if newSize == 0 {
		return 0, nil
	}
	if newSize > 0xffffffffe0 {
		return 0, ErrOutOfGas
	}
	newWords := MemoryWords(newSize)
	newCost := memoryGasLinearCoeff*newWords + newWords*newWords/memoryGasQuadraticDivisor

	curWords := MemoryWords(uint64(mem.Len()))
	curCost := memoryGasLinearCoeff*curWords + curWords*curWords/memoryGasQuadraticDivisor
	if newCost <= curCost {
		return 0, nil
	}
	return newCost - curCost, nil
}

// accessAddressCost returns the EIP-2929 cost of touching an address that
// is or is not already warm.
func accessAddressCost(warm bool) uint64 {
	if warm {
		return WarmStorageReadCost
	}
	return ColdAccountAccessCost
}

// sloadCost returns the EIP-2929 cost of an SLOAD against a slot that is
// or is not already warm.
func sloadCost(warm bool) uint64 {
	if warm {
		return WarmStorageReadCost
	}
	return ColdSloadCost
}

// sstoreCost implements the EIP-2200/3529 SSTORE gas/refund schedule. It
// returns the gas to charge and the refund delta to apply (which may be
// negative, expressed by the caller calling SubRefund instead).
func sstoreCost(current, original, value [32]byte, warm bool) (gas uint64, refundAdd, refundSub uint64) {
	coldSurcharge := uint64(0)
	if !warm {
		coldSurcharge = ColdSloadCost
	}
	if current == value {
		return WarmStorageReadCost + coldSurcharge, 0, 0
	}
	if original == current {
		if original == ([32]byte{}) {
			return SstoreSetGas + coldSurcharge, 0, 0
		}
		if value == ([32]byte{}) {
			return SstoreResetGas - ColdSloadCost + coldSurcharge, SstoreClearsRefund, 0
		}
		return SstoreResetGas - ColdSloadCost + coldSurcharge, 0, 0
	}
	// Dirty slot: already charged once this transaction; only the warm
	// access cost applies again, with refund adjustments for transitions
	// back toward or away from the original value.
	gas = WarmStorageReadCost + coldSurcharge
	if original != ([32]byte{}) {
		if current == ([32]byte{}) {
			refundSub = SstoreClearsRefund
		} else if value == ([32]byte{}) {
			refundAdd = SstoreClearsRefund
		}
	}
	if original == value {
		if original == ([32]byte{}) {
			refundAdd += SstoreSetGas - WarmStorageReadCost
		} else {
			refundAdd += SstoreResetGas - ColdSloadCost - WarmStorageReadCost
		}
	}
	return gas, refundAdd, refundSub
}

// callGas implements EIP-150's 63/64 rule: the caller may not forward more
// than availableGas-base, less one 64th held back, unless the call
// explicitly requests less than that bound.
func callGas(eip150 bool, availableGas, base uint64, callCost *uint256.Int) (uint64, error) {
	if eip150 {
		availableGas = availableGas - base
		gas := availableGas - availableGas/64
		if !callCost.IsUint64() || gas < callCost.Uint64() {
			return gas, nil
		}
	}
	if !callCost.IsUint64() {
		return 0, ErrOutOfGas
	}
	return callCost.Uint64(), nil
}
