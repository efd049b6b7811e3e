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

// Package config holds the configuration structs passed explicitly to
// each component and a thin TOML loader for them, the same file format
// go-ethereum itself uses for node and chain config.
package config

import (
	"time"

	"github.com/BurntSushi/toml"
)

// VMConfig carries EVM execution options.
type VMConfig struct {
	MaxBlobsPerBlock    uint64 `toml:"max_blobs_per_block"`
	MempoolMaxSize      uint64 `toml:"mempool_max_size"`
	PrecomputeWitnesses bool   `toml:"precompute_witnesses"`
	BlockchainType      string `toml:"blockchain_type"`

	// DualExecutionSampleSize is the number of executions of a freshly
	// compiled artifact that run through both JIT and interpreter before
	// the dispatcher trusts the JIT path alone.
	DualExecutionSampleSize int `toml:"dual_execution_sample_size"`

	// CacheCapacity bounds the compilation cache.
	CacheCapacity int `toml:"cache_capacity"`
}

// DefaultVMConfig returns the configuration used when none is supplied.
func DefaultVMConfig() VMConfig {
	return VMConfig{
		BlockchainType:          "l1",
		DualExecutionSampleSize: 3,
		CacheCapacity:           4096,
	}
}

// DownloaderConfig carries peer-downloader knobs.
type DownloaderConfig struct {
	ChunkSize             uint64        `toml:"chunk_size"`
	MaxConcurrentRequests int           `toml:"max_concurrent_requests"`
	ReplyTimeout          time.Duration `toml:"reply_timeout"`
	RetryAttempts         int           `toml:"retry_attempts"`
	MaxConcurrentPerPeer  int           `toml:"max_concurrent_per_peer"`
}

// DefaultDownloaderConfig returns the configuration used when none is
// supplied, matching go-ethereum's historical MAX_HEADER_CHUNK/800 sizing.
func DefaultDownloaderConfig() DownloaderConfig {
	return DownloaderConfig{
		ChunkSize:             800,
		MaxConcurrentRequests: 16,
		ReplyTimeout:          5 * time.Second,
		RetryAttempts:         5,
		MaxConcurrentPerPeer:  4,
	}
}

// CoordinatorConfig carries proof-coordinator knobs.
type CoordinatorConfig struct {
	ListenAddr          string        `toml:"listen_addr"`
	NeededProofTypes    []string      `toml:"needed_proof_types"`
	TDXPrivateKey       string        `toml:"tdx_private_key"`
	AlignedMode         bool          `toml:"aligned_mode"`
	ProofSendInterval   time.Duration `toml:"proof_send_interval"`
	ConnectionTimeout   time.Duration `toml:"connection_timeout"`
}

// DefaultCoordinatorConfig returns the configuration used when none is
// supplied.
func DefaultCoordinatorConfig() CoordinatorConfig {
	return CoordinatorConfig{
		ListenAddr:        "0.0.0.0:3900",
		ProofSendInterval: 5 * time.Second,
		ConnectionTimeout: 30 * time.Second,
	}
}

// Load decodes a TOML document at path into dst.
func Load(path string, dst any) error {
	_, err := toml.DecodeFile(path, dst)
	return err
}
