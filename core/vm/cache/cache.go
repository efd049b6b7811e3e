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

// Package cache implements the compilation cache: an LRU keyed by
// (code hash, fork) holding analyzed-and-folded bytecode, so a hot
// contract pays the analysis and optimization cost once
// regardless of how many call frames execute it. Entries are immutable
// once inserted, so concurrent readers never need to copy them out.
package cache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tokamak-network/tokamak-geth/common"
	"github.com/tokamak-network/tokamak-geth/core/vm"
)

// Key identifies one cached artifact: the same bytecode analyzed under two
// different forks can disagree (PUSH0 validity, for instance), so fork is
// part of the key, not an afterthought.
type Key struct {
	CodeHash common.Hash
	Fork     common.Fork
}

// Cache is an LRU-backed vm.CompiledLookup. Safe for concurrent use: the
// underlying hashicorp/golang-lru is internally synchronized, and entries
// are never mutated after Put.
type Cache struct {
	mu  sync.Mutex
	lru *lru.Cache[Key, vm.AnalyzedBytecode]

	hits, misses uint64
}

// New returns a cache holding at most capacity entries, evicting least
// recently used on overflow.
func New(capacity int) (*Cache, error) {
	l, err := lru.New[Key, vm.AnalyzedBytecode](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: l}, nil
}

// Get implements vm.CompiledLookup.
func (c *Cache) Get(codeHash common.Hash, fork common.Fork) (vm.AnalyzedBytecode, bool) {
	a, ok := c.lru.Get(Key{CodeHash: codeHash, Fork: fork})
	c.mu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.mu.Unlock()
	return a, ok
}

// Put implements vm.CompiledLookup.
func (c *Cache) Put(codeHash common.Hash, fork common.Fork, analyzed vm.AnalyzedBytecode) {
	c.lru.Add(Key{CodeHash: codeHash, Fork: fork}, analyzed)
}

// Invalidate drops a specific (codeHash, fork) entry, used by the
// dual-execution validator when a JIT/interpreter mismatch condemns a
// compiled artifact; the interpreter-only analysis stays
// valid and is re-derived lazily on the next Get miss.
func (c *Cache) Invalidate(codeHash common.Hash, fork common.Fork) {
	c.lru.Remove(Key{CodeHash: codeHash, Fork: fork})
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int { return c.lru.Len() }

// Stats returns cumulative hit/miss counters.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
