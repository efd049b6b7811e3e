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

// Package eth defines the block-sync request/response messages the
// downloader exchanges with peers, paired by a 64-bit request id. Frame
// encoding and session management belong to the p2p transport underneath.
package eth

import (
	"github.com/tokamak-network/tokamak-geth/common"
	"github.com/tokamak-network/tokamak-geth/eth/downloader"
)

// Message codes for the block-sync subset of the protocol.
const (
	GetBlockHeadersMsg = 0x03
	BlockHeadersMsg    = 0x04
	GetBlockBodiesMsg  = 0x05
	BlockBodiesMsg     = 0x06
)

// HashOrNumber is a combined field for specifying a block origin: either
// a content hash or a block number, never both.
type HashOrNumber struct {
	Hash   common.Hash
	Number uint64
}

// GetBlockHeadersRequest asks for a batch of headers walking the chain
// from Origin, Skip blocks apart, optionally in reverse.
type GetBlockHeadersRequest struct {
	Origin  HashOrNumber
	Amount  uint64
	Skip    uint64
	Reverse bool
}

// GetBlockHeadersPacket is a header query with its request id.
type GetBlockHeadersPacket struct {
	RequestId uint64
	*GetBlockHeadersRequest
}

// BlockHeadersPacket answers a GetBlockHeadersPacket under the same id.
type BlockHeadersPacket struct {
	RequestId uint64
	Headers   []*downloader.Header
}

// GetBlockBodiesPacket asks for the bodies matching a set of header
// hashes, in order.
type GetBlockBodiesPacket struct {
	RequestId uint64
	Hashes    []common.Hash
}

// BlockBodiesPacket answers a GetBlockBodiesPacket under the same id.
type BlockBodiesPacket struct {
	RequestId uint64
	Bodies    []*downloader.Body
}
