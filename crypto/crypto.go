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

// Package crypto provides the single hash function the execution core
// needs: Keccak256, used for bytecode content-addressing (the analyzer's
// cache key) and for CREATE/CREATE2 address derivation.
package crypto

import (
	"encoding/binary"

	"github.com/tokamak-network/tokamak-geth/common"
	"golang.org/x/crypto/sha3"
)

// Keccak256 computes and returns the Keccak256 hash of the input data.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// Keccak256Hash computes and returns the Keccak256 hash as a common.Hash.
func Keccak256Hash(data ...[]byte) common.Hash {
	return common.BytesToHash(Keccak256(data...))
}

// CreateAddress computes the address for a CREATE-deployed contract from
// the sender address and its nonce, following the RLP(sender, nonce)
// keccak rule.
func CreateAddress(sender common.Address, nonce uint64) common.Address {
	encoded := rlpEncodeSenderNonce(sender, nonce)
	return common.BytesToAddress(Keccak256(encoded)[12:])
}

// CreateAddress2 computes the address for a CREATE2-deployed contract:
// keccak(0xff || sender || salt || keccak(init_code))[12:].
func CreateAddress2(sender common.Address, salt [32]byte, initCodeHash []byte) common.Address {
	data := make([]byte, 0, 1+len(sender)+len(salt)+len(initCodeHash))
	data = append(data, 0xff)
	data = append(data, sender.Bytes()...)
	data = append(data, salt[:]...)
	data = append(data, initCodeHash...)
	return common.BytesToAddress(Keccak256(data)[12:])
}

// rlpEncodeSenderNonce implements the minimal two-item RLP list encoding
// needed for CREATE address derivation: RLP([sender, nonce]).
func rlpEncodeSenderNonce(sender common.Address, nonce uint64) []byte {
	nonceBytes := encodeUint(nonce)
	senderItem := rlpEncodeString(sender.Bytes())
	nonceItem := rlpEncodeString(nonceBytes)
	payload := append(append([]byte{}, senderItem...), nonceItem...)
	return append(rlpEncodeListHeader(len(payload)), payload...)
}

func encodeUint(n uint64) []byte {
	if n == 0 {
		return nil
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	i := 0
	for i < len(buf) && buf[i] == 0 {
		i++
	}
	return buf[i:]
}

func rlpEncodeString(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return b
	}
	if len(b) < 56 {
		return append([]byte{byte(0x80 + len(b))}, b...)
	}
	lenBytes := encodeUint(uint64(len(b)))
	header := append([]byte{byte(0xb7 + len(lenBytes))}, lenBytes...)
	return append(header, b...)
}

func rlpEncodeListHeader(payloadLen int) []byte {
	if payloadLen < 56 {
		return []byte{byte(0xc0 + payloadLen)}
	}
	lenBytes := encodeUint(uint64(payloadLen))
	return append([]byte{byte(0xf7 + len(lenBytes))}, lenBytes...)
}
