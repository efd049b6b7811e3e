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

// Package common holds the address/hash primitives shared by every layer of
// the execution core: the analyzer, the interpreter, the downloader and the
// proof coordinator all key their data structures off these types.
package common

import (
	"encoding/hex"
	"fmt"
)

// AddressLength is the expected length of an Ethereum account address.
const AddressLength = 20

// HashLength is the expected length of a content hash (Keccak256 output).
const HashLength = 32

// Address represents the 20-byte address of an Ethereum account.
type Address [AddressLength]byte

// BytesToAddress returns Address with value b. If b is larger than
// AddressLength it will be cropped from the left.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// SetBytes sets the address to the value of b, left-padding or cropping as
// necessary so that only the AddressLength right-most bytes are kept.
func (a *Address) SetBytes(b []byte) {
	if len(b) > len(a) {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// Bytes returns the raw bytes of the address.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns a 0x-prefixed hex string of the address.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// IsZero reports whether the address is the zero address.
func (a Address) IsZero() bool { return a == Address{} }

// Hash represents the 32-byte output of a cryptographic hash function,
// typically Keccak256.
type Hash [HashLength]byte

// BytesToHash returns Hash with value b, cropped from the left if too long.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// SetBytes sets the hash to the value of b, left-padding or cropping as
// necessary.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > len(h) {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// Bytes returns the raw bytes of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns a 0x-prefixed hex string of the hash.
func (h Hash) Hex() string { return "0x" + hex.EncodeToString(h[:]) }

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// IsZero reports whether the hash is the zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// Fork names a protocol version affecting gas schedules, opcode
// availability and access-list rules.
type Fork uint8

const (
	Frontier Fork = iota
	Byzantium
	Istanbul
	Berlin
	London
	Shanghai
	Cancun
)

// String implements fmt.Stringer.
func (f Fork) String() string {
	switch f {
	case Frontier:
		return "Frontier"
	case Byzantium:
		return "Byzantium"
	case Istanbul:
		return "Istanbul"
	case Berlin:
		return "Berlin"
	case London:
		return "London"
	case Shanghai:
		return "Shanghai"
	case Cancun:
		return "Cancun"
	default:
		return fmt.Sprintf("Fork(%d)", uint8(f))
	}
}

// AtLeast reports whether f is the same fork as or later than other.
func (f Fork) AtLeast(other Fork) bool { return f >= other }
