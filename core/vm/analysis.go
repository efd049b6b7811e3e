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

// The bytecode analyzer: a single linear scan that locates valid
// JUMPDESTs, basic-block boundaries, opcode counts and external-call
// presence. The jumpdest bitmap technique (one bit per code byte marking
// "this byte is PUSH immediate data") follows go-ethereum's
// core/vm/analysis.go.
package vm

import (
	"github.com/tokamak-network/tokamak-geth/common"
	"github.com/tokamak-network/tokamak-geth/crypto"
)

// BasicBlock is a maximal straight-line instruction run: it ends in a
// control-flow opcode, or precedes a JUMPDEST.
type BasicBlock struct {
	Start  int
	Length int
}

// AnalyzedBytecode is metadata derived purely from the bytecode; the
// content hash is the sole cache key for it.
type AnalyzedBytecode struct {
	Hash             common.Hash
	Code             []byte
	JumpTargets      []uint64
	BasicBlocks      []BasicBlock
	OpcodeCount      int
	HasExternalCalls bool

	// jumpdestSet backs O(1) IsValidJumpDest lookups; derived from
	// JumpTargets at construction time, not part of the equality contract
	// tests exercise (those compare JumpTargets directly).
	jumpdestSet map[uint64]struct{}
}

// IsValidJumpDest reports whether pc is a valid JUMPDEST in this bytecode.
// jumpdestSet is built once in Analyze, so concurrent readers never race on
// a lazily-initialized map.
func (a *AnalyzedBytecode) IsValidJumpDest(pc uint64) bool {
	_, ok := a.jumpdestSet[pc]
	return ok
}

// bitvec is a bitmap with one bit per code byte, set when that byte is PUSH
// immediate data rather than an executable opcode.
type bitvec []byte

func (bits bitvec) set(pos uint64) { bits[pos/8] |= 0x80 >> (pos % 8) }

func (bits bitvec) codeSegment(pos uint64) bool {
	return (bits[pos/8] & (0x80 >> (pos % 8))) == 0
}

// codeBitmap collects the PUSH-immediate-data bitmap for code, matching
// go-ethereum's core/vm/analysis.go algorithm bit-for-bit.
func codeBitmap(code []byte) bitvec {
	bits := make(bitvec, len(code)/8+1+4)
	for pc := uint64(0); pc < uint64(len(code)); {
		op := OpCode(code[pc])
		pc++
		if IsPush(op) {
			numbits := PushSize(op)
			if numbits == 0 {
				continue
			}
			pc += uint64(numbits)
			// Mark the immediate bytes as non-executable. A PUSH truncated
			// at the end of the code still has its full immediate width
			// marked; the missing tail counts as implicit zero bytes, not
			// as further opcodes to scan.
			if numbits >= 8 {
				for ; numbits >= 8; numbits -= 8 {
					bits.setN(0xFF, pc-uint64(numbits))
				}
			}
			switch numbits {
			case 1:
				bits.set(pc - 1)
			case 2:
				bits.setN(0b1100_0000, pc-2)
			case 3:
				bits.setN(0b1110_0000, pc-3)
			case 4:
				bits.setN(0b1111_0000, pc-4)
			case 5:
				bits.setN(0b1111_1000, pc-5)
			case 6:
				bits.setN(0b1111_1100, pc-6)
			case 7:
				bits.setN(0b1111_1110, pc-7)
			}
		}
	}
	return bits
}

// setN sets up to 8 consecutive bits starting at pos, using flag as the
// mask. This mirrors go-ethereum's bitvec.setN helper used for wide PUSH
// instructions that span more than one bitmap byte.
func (bits bitvec) setN(flag uint16, pos uint64) {
	a := flag << 8 >> (pos % 8)
	bits[pos/8] |= byte(a >> 8)
	if b := byte(a); b != 0 {
		bits[pos/8+1] = b
	}
}

// Analyze scans code once and returns its derived metadata. Analysis
// never fails: truncated PUSH immediates at the end of code are permitted
// and treated as zero-padded.
func Analyze(code []byte) AnalyzedBytecode {
	bits := codeBitmap(code)

	var (
		jumpTargets []uint64
		blocks      []BasicBlock
		opcodeCount int
		hasExternal bool
		blockStart  = 0
	)

	for pc := uint64(0); pc < uint64(len(code)); {
		if !bits.codeSegment(pc) {
			pc++
			continue
		}
		op := OpCode(code[pc])
		opcodeCount++

		if op == JUMPDEST {
			jumpTargets = append(jumpTargets, pc)
			if int(pc) > blockStart {
				blocks = append(blocks, BasicBlock{Start: blockStart, Length: int(pc) - blockStart})
			}
			blockStart = int(pc)
		}
		if IsExternalCallOp(op) {
			hasExternal = true
		}
		if isBlockTerminator(op) {
			end := int(pc) + 1
			blocks = append(blocks, BasicBlock{Start: blockStart, Length: end - blockStart})
			blockStart = end
		}

		if IsPush(op) {
			pc += uint64(1 + PushSize(op))
		} else {
			pc++
		}
	}
	if blockStart < len(code) {
		blocks = append(blocks, BasicBlock{Start: blockStart, Length: len(code) - blockStart})
	}

	jumpdestSet := make(map[uint64]struct{}, len(jumpTargets))
	for _, t := range jumpTargets {
		jumpdestSet[t] = struct{}{}
	}

	return AnalyzedBytecode{
		Hash:             crypto.Keccak256Hash(code),
		Code:             code,
		JumpTargets:      jumpTargets,
		BasicBlocks:      blocks,
		OpcodeCount:      opcodeCount,
		HasExternalCalls: hasExternal,
		jumpdestSet:      jumpdestSet,
	}
}
