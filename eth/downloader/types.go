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

package downloader

import "github.com/tokamak-network/tokamak-geth/common"

// Header is the minimal header shape the downloader operates on: it
// only needs number/hash/parent linkage and the three roots a
// Body is validated against, not the full go-ethereum header (difficulty,
// extra data, base fee, ...), which belongs to core/types and is out of
// scope for this package.
type Header struct {
	Number          uint64
	Hash            common.Hash
	ParentHash      common.Hash
	TxRoot          common.Hash
	UncleRoot       common.Hash
	WithdrawalsRoot common.Hash
}

// Body is the transaction/uncle/withdrawal payload a Header commits to.
// Validate checks it against the roots its matching Header carries.
type Body struct {
	TxRoot          common.Hash
	UncleRoot       common.Hash
	WithdrawalsRoot common.Hash
}

// Validate reports whether body's roots match header's, the structural
// check RequestBlockBodies performs before accepting a response.
func (b *Body) Validate(header *Header) bool {
	return b.TxRoot == header.TxRoot &&
		b.UncleRoot == header.UncleRoot &&
		b.WithdrawalsRoot == header.WithdrawalsRoot
}
