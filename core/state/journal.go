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

package state

import (
	"github.com/holiman/uint256"

	"github.com/tokamak-network/tokamak-geth/common"
)

// journalEntry is one undoable state mutation. revert restores s to the
// value the entry captured before the mutation was applied.
type journalEntry interface {
	revert(s *StateDB)
}

// journal is an append-only log of journalEntry values, truncated on
// revert. This is the same checkpoint/rewind log go-ethereum's StateDB
// journal.go implements for per-call-frame rollback.
type journal struct {
	entries []journalEntry
}

func newJournal() *journal { return &journal{} }

func (j *journal) append(e journalEntry) { j.entries = append(j.entries, e) }

func (j *journal) length() int { return len(j.entries) }

// revert unwinds entries back to snapshot index id, in reverse order.
func (j *journal) revert(s *StateDB, id int) {
	for i := len(j.entries) - 1; i >= id; i-- {
		j.entries[i].revert(s)
	}
	j.entries = j.entries[:id]
}

type balanceChange struct {
	addr       common.Address
	prev       *uint256.Int
	prevStatus AccountStatus
}

func (c balanceChange) revert(s *StateDB) {
	a := s.accounts[c.addr]
	a.balance, a.status = c.prev, c.prevStatus
}

type nonceChange struct {
	addr       common.Address
	prev       uint64
	prevStatus AccountStatus
}

func (c nonceChange) revert(s *StateDB) {
	a := s.accounts[c.addr]
	a.nonce, a.status = c.prev, c.prevStatus
}

type codeChange struct {
	addr       common.Address
	prevCode   []byte
	prevHash   common.Hash
	prevStatus AccountStatus
}

func (c codeChange) revert(s *StateDB) {
	a := s.accounts[c.addr]
	a.code, a.codeHash, a.status = c.prevCode, c.prevHash, c.prevStatus
}

type storageChange struct {
	addr       common.Address
	key        common.Hash
	prev       common.Hash
	prevStatus AccountStatus
}

func (c storageChange) revert(s *StateDB) {
	a := s.accounts[c.addr]
	a.storage[c.key] = c.prev
	a.status = c.prevStatus
}

type statusChange struct {
	addr common.Address
	prev AccountStatus
}

func (c statusChange) revert(s *StateDB) { s.accounts[c.addr].status = c.prev }

type addLogChange struct{}

func (c addLogChange) revert(s *StateDB) { s.logs = s.logs[:len(s.logs)-1] }

type refundChange struct {
	prev uint64
}

func (c refundChange) revert(s *StateDB) { s.refund = c.prev }

type accessListAddrChange struct {
	addr common.Address
}

func (c accessListAddrChange) revert(s *StateDB) { delete(s.accessedAddrs, c.addr) }

type accessListSlotChange struct {
	addr common.Address
	slot common.Hash
}

func (c accessListSlotChange) revert(s *StateDB) {
	if m, ok := s.accessedSlots[c.addr]; ok {
		delete(m, c.slot)
	}
}
