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

// The constant-folding optimizer: PUSH+PUSH+ARITHMETIC triples are
// rewritten into a single wider PUSH of the evaluated constant, without
// changing the code length, so every jump destination keeps its offset.
package vm

import (
	"github.com/holiman/uint256"
)

// FoldablePattern is a detected PUSH+PUSH+ARITHMETIC sequence.
type FoldablePattern struct {
	Offset   int
	Length   int
	FirstVal *uint256.Int // μ_s[1] after both pushes, i.e. the first PUSH's value
	SecondVal *uint256.Int // μ_s[0], the second PUSH's value (stack top)
	Op       OpCode
}

// OptimizationStats summarizes a single optimization pass.
type OptimizationStats struct {
	PatternsDetected  int
	PatternsFolded    int
	OpcodesEliminated int
}

func isFoldableOp(op OpCode) bool {
	switch op {
	case ADD, SUB, MUL, AND, OR, XOR:
		return true
	default:
		return false
	}
}

func instructionSize(op OpCode) int { return 1 + PushSize(op) }

// extractPushValue reads a PUSH's immediate bytes as a big-endian uint256,
// zero-padding a truncated tail at end of code exactly as the analyzer
// does for jumpdest scanning.
func extractPushValue(code []byte, pushOffset, dataSize int) *uint256.Int {
	v := new(uint256.Int)
	if dataSize == 0 {
		return v
	}
	start := pushOffset + 1
	end := start + dataSize
	if end > len(code) {
		// truncated PUSH: the missing tail reads as zero bytes
		padded := make([]byte, dataSize)
		copy(padded, code[start:])
		return v.SetBytes(padded)
	}
	return v.SetBytes(code[start:end])
}

func evalOp(op OpCode, first, second *uint256.Int) (*uint256.Int, bool) {
	result := new(uint256.Int)
	switch op {
	case ADD:
		result.Add(second, first)
	case SUB:
		result.Sub(second, first)
	case MUL:
		result.Mul(second, first)
	case AND:
		result.And(second, first)
	case OR:
		result.Or(second, first)
	case XOR:
		result.Xor(second, first)
	default:
		return nil, false
	}
	return result, true
}

// bytesNeeded returns the minimum number of big-endian bytes needed to
// represent value, 0 for the zero value.
func bytesNeeded(value *uint256.Int) int {
	if value.IsZero() {
		return 0
	}
	return (value.BitLen() + 7) / 8
}

// DetectPatterns scans bytecode for constant-foldable PUSH+PUSH+OP
// sequences without modifying it.
func DetectPatterns(code []byte) []FoldablePattern {
	var patterns []FoldablePattern
	i := 0
	for i < len(code) {
		opA := OpCode(code[i])
		if !IsPush(opA) {
			i += instructionSize(opA)
			continue
		}
		sizeA := PushSize(opA)
		totalA := instructionSize(opA)
		j := i + totalA
		if j >= len(code) {
			break
		}
		opB := OpCode(code[j])
		if !IsPush(opB) {
			i += totalA
			continue
		}
		sizeB := PushSize(opB)
		totalB := instructionSize(opB)
		k := j + totalB
		if k >= len(code) {
			break
		}
		opOp := OpCode(code[k])
		if !isFoldableOp(opOp) {
			i += totalA
			continue
		}

		firstVal := extractPushValue(code, i, sizeA)
		secondVal := extractPushValue(code, j, sizeB)
		patterns = append(patterns, FoldablePattern{
			Offset:    i,
			Length:    totalA + totalB + 1,
			FirstVal:  firstVal,
			SecondVal: secondVal,
			Op:        opOp,
		})
		// Skip past the entire pattern to avoid overlapping detections.
		i = k + 1
	}
	return patterns
}

// Optimize applies constant folding to analyzed bytecode, returning
// bytecode of identical length plus fold statistics. Metadata other
// than the byte contents and opcode count (jump targets, basic blocks) is
// unaffected by a same-length rewrite and is carried over unchanged.
func Optimize(analyzed AnalyzedBytecode) (AnalyzedBytecode, OptimizationStats) {
	patterns := DetectPatterns(analyzed.Code)
	if len(patterns) == 0 {
		return analyzed, OptimizationStats{}
	}

	code := make([]byte, len(analyzed.Code))
	copy(code, analyzed.Code)
	stats := OptimizationStats{PatternsDetected: len(patterns)}

	for _, p := range patterns {
		result, ok := evalOp(p.Op, p.FirstVal, p.SecondVal)
		if !ok {
			continue
		}
		dataSize := p.Length - 1
		if dataSize > 32 || bytesNeeded(result) > dataSize {
			continue // result does not fit; fold skipped, original bytes kept
		}

		code[p.Offset] = byte(PUSH0) + byte(dataSize)

		buf := result.Bytes32()
		destStart := p.Offset + 1
		copy(code[destStart:destStart+dataSize], buf[32-dataSize:])

		stats.PatternsFolded++
		stats.OpcodesEliminated += 2
	}

	optimized := analyzed
	optimized.Code = code
	optimized.OpcodeCount = analyzed.OpcodeCount - stats.OpcodesEliminated
	return optimized, stats
}
