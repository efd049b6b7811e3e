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

// Package state implements the journaled account state the interpreter
// and JIT paths both read and write through.
// A StateDB reads through a Database interface and keeps its writes in
// memory, flushed by Commit through a DatabaseWriter, with a journal of
// per-frame writes, so a reverted frame can undo exactly what it did
// without touching anything above it on the call stack.
package state

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/tokamak-network/tokamak-geth/common"
)

// AccountStatus classifies how an account has been touched since it was
// loaded, driving both the journal's undo behavior and what a commit must
// persist.
type AccountStatus uint8

const (
	Unmodified AccountStatus = iota
	Modified
	Destroyed
	DestroyedModified
)

func (s AccountStatus) String() string {
	switch s {
	case Unmodified:
		return "unmodified"
	case Modified:
		return "modified"
	case Destroyed:
		return "destroyed"
	case DestroyedModified:
		return "destroyed+modified"
	default:
		return "invalid"
	}
}

// Database is the durable backing store a StateDB reads through and
// eventually commits into. Implementations may be a trie-backed database
// (go-ethereum's usual shape) or, for tests, a plain in-memory map.
type Database interface {
	GetBalance(addr common.Address) (*uint256.Int, error)
	GetNonce(addr common.Address) (uint64, error)
	GetCode(addr common.Address) ([]byte, error)
	GetCodeHash(addr common.Address) (common.Hash, error)
	GetState(addr common.Address, key common.Hash) (common.Hash, error)
}

// account is the StateDB's in-memory view of one address.
type account struct {
	balance *uint256.Int
	nonce   uint64
	code    []byte
	codeHash common.Hash
	storage map[common.Hash]common.Hash

	// originStorage records the values read from Database, so that a
	// write that restores the original value can still be detected as a
	// dirty slot for gas-refund purposes without a second DB round trip.
	originStorage map[common.Hash]common.Hash

	status AccountStatus
}

func newAccount() *account {
	return &account{
		balance:       new(uint256.Int),
		storage:       make(map[common.Hash]common.Hash),
		originStorage: make(map[common.Hash]common.Hash),
	}
}

// Log is one LOG0-LOG4 emission, recorded in order and rolled back with
// the frame that produced it.
type Log struct {
	Address common.Address
	Topics  []common.Hash
	Data    []byte
}

// StateDB is the journaled, frame-aware account state.
type StateDB struct {
	db       Database
	accounts map[common.Address]*account
	journal  *journal

	// accessedAddrs/accessedSlots implement EIP-2929's warm/cold access
	// list; StateDB has no method that clears them.
	accessedAddrs map[common.Address]struct{}
	accessedSlots map[common.Address]map[common.Hash]struct{}

	logs   []*Log
	refund uint64
}

// New returns a StateDB reading through db.
func New(db Database) *StateDB {
	return &StateDB{
		db:            db,
		accounts:      make(map[common.Address]*account),
		journal:       newJournal(),
		accessedAddrs: make(map[common.Address]struct{}),
		accessedSlots: make(map[common.Address]map[common.Hash]struct{}),
	}
}

func (s *StateDB) getOrLoad(addr common.Address) (*account, error) {
	if a, ok := s.accounts[addr]; ok {
		return a, nil
	}
	a := newAccount()
	if s.db != nil {
		bal, err := s.db.GetBalance(addr)
		if err != nil {
			return nil, err
		}
		nonce, err := s.db.GetNonce(addr)
		if err != nil {
			return nil, err
		}
		code, err := s.db.GetCode(addr)
		if err != nil {
			return nil, err
		}
		hash, err := s.db.GetCodeHash(addr)
		if err != nil {
			return nil, err
		}
		a.balance, a.nonce, a.code, a.codeHash = bal, nonce, code, hash
	}
	s.accounts[addr] = a
	return a, nil
}

// GetBalance returns addr's current balance, loading it from the backing
// database on first touch.
func (s *StateDB) GetBalance(addr common.Address) (*uint256.Int, error) {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return nil, err
	}
	return a.balance.Clone(), nil
}

// AddBalance credits amount to addr's balance, journaling the prior value.
func (s *StateDB) AddBalance(addr common.Address, amount *uint256.Int) error {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.journal.append(balanceChange{addr: addr, prev: a.balance.Clone(), prevStatus: a.status})
	a.balance = new(uint256.Int).Add(a.balance, amount)
	a.status = mergeStatus(a.status, Modified)
	return nil
}

// SubBalance debits amount from addr's balance, journaling the prior value.
// Insufficiency must be checked by the caller before invoking this.
func (s *StateDB) SubBalance(addr common.Address, amount *uint256.Int) error {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.journal.append(balanceChange{addr: addr, prev: a.balance.Clone(), prevStatus: a.status})
	a.balance = new(uint256.Int).Sub(a.balance, amount)
	a.status = mergeStatus(a.status, Modified)
	return nil
}

// GetNonce returns addr's current nonce.
func (s *StateDB) GetNonce(addr common.Address) (uint64, error) {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return 0, err
	}
	return a.nonce, nil
}

// SetNonce journals and overwrites addr's nonce.
func (s *StateDB) SetNonce(addr common.Address, nonce uint64) error {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.journal.append(nonceChange{addr: addr, prev: a.nonce, prevStatus: a.status})
	a.nonce = nonce
	a.status = mergeStatus(a.status, Modified)
	return nil
}

// GetCode returns addr's contract code.
func (s *StateDB) GetCode(addr common.Address) ([]byte, error) {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return nil, err
	}
	return a.code, nil
}

// SetCode journals and installs addr's contract code (used by CREATE and
// CREATE2 on successful deployment).
func (s *StateDB) SetCode(addr common.Address, code []byte, codeHash common.Hash) error {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.journal.append(codeChange{addr: addr, prevCode: a.code, prevHash: a.codeHash, prevStatus: a.status})
	a.code, a.codeHash = code, codeHash
	a.status = mergeStatus(a.status, Modified)
	return nil
}

// GetState returns the current value of key in addr's storage, checking the
// in-memory write set before falling through to the backing database.
func (s *StateDB) GetState(addr common.Address, key common.Hash) (common.Hash, error) {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return common.Hash{}, err
	}
	if v, ok := a.storage[key]; ok {
		return v, nil
	}
	if s.db == nil {
		return common.Hash{}, nil
	}
	v, err := s.db.GetState(addr, key)
	if err != nil {
		return common.Hash{}, err
	}
	a.originStorage[key] = v
	return v, nil
}

// SetState journals and overwrites key's value in addr's storage.
func (s *StateDB) SetState(addr common.Address, key, value common.Hash) error {
	prev, err := s.GetState(addr, key)
	if err != nil {
		return err
	}
	if prev == value {
		return nil
	}
	a, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.journal.append(storageChange{addr: addr, key: key, prev: prev, prevStatus: a.status})
	a.storage[key] = value
	a.status = mergeStatus(a.status, Modified)
	return nil
}

// OriginalState returns the value key held at the start of the enclosing
// transaction, for EIP-2200/3529 refund accounting.
func (s *StateDB) OriginalState(addr common.Address, key common.Hash) (common.Hash, error) {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return common.Hash{}, err
	}
	if v, ok := a.originStorage[key]; ok {
		return v, nil
	}
	return s.GetState(addr, key)
}

// SelfDestruct marks addr destroyed; its balance and code are cleared at
// the end of the transaction, not immediately, so a mid-transaction GetCode
// on the same address within the same frame still observes the code.
func (s *StateDB) SelfDestruct(addr common.Address) error {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return err
	}
	s.journal.append(statusChange{addr: addr, prev: a.status})
	a.status = mergeStatus(a.status, Destroyed)
	return nil
}

// HasSelfDestructed reports whether addr has been marked destroyed in this
// StateDB's lifetime.
func (s *StateDB) HasSelfDestructed(addr common.Address) bool {
	a, ok := s.accounts[addr]
	return ok && (a.status == Destroyed || a.status == DestroyedModified)
}

func mergeStatus(cur, next AccountStatus) AccountStatus {
	if cur == Destroyed || cur == DestroyedModified {
		if next == Modified {
			return DestroyedModified
		}
		return cur
	}
	return next
}

// AddLog appends an emitted log, journaled so a reverted frame takes its
// logs with it.
func (s *StateDB) AddLog(log *Log) {
	s.journal.append(addLogChange{})
	s.logs = append(s.logs, log)
}

// Logs returns every log emitted so far, in emission order.
func (s *StateDB) Logs() []*Log {
	return s.logs
}

// AddRefund and SubRefund implement SSTORE's gas-refund counter.
func (s *StateDB) AddRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	s.refund += gas
}

func (s *StateDB) SubRefund(gas uint64) {
	s.journal.append(refundChange{prev: s.refund})
	if gas > s.refund {
		panic("refund counter below zero")
	}
	s.refund -= gas
}

// Refund returns the current accumulated gas refund.
func (s *StateDB) Refund() uint64 { return s.refund }

// AddressInAccessList reports whether addr is warm under EIP-2929.
func (s *StateDB) AddressInAccessList(addr common.Address) bool {
	_, ok := s.accessedAddrs[addr]
	return ok
}

// SlotInAccessList reports whether (addr, slot) is warm under EIP-2929.
func (s *StateDB) SlotInAccessList(addr common.Address, slot common.Hash) (addressOk, slotOk bool) {
	_, addressOk = s.accessedAddrs[addr]
	if m, ok := s.accessedSlots[addr]; ok {
		_, slotOk = m[slot]
	}
	return
}

// AddAddressToAccessList marks addr warm, journaling the transition so a
// reverted frame sees it cold again.
func (s *StateDB) AddAddressToAccessList(addr common.Address) {
	if s.AddressInAccessList(addr) {
		return
	}
	s.journal.append(accessListAddrChange{addr: addr})
	s.accessedAddrs[addr] = struct{}{}
}

// AddSlotToAccessList marks (addr, slot) warm, journaling the transition.
func (s *StateDB) AddSlotToAccessList(addr common.Address, slot common.Hash) {
	addrOk, slotOk := s.SlotInAccessList(addr, slot)
	if !addrOk {
		s.journal.append(accessListAddrChange{addr: addr})
		s.accessedAddrs[addr] = struct{}{}
	}
	if !slotOk {
		s.journal.append(accessListSlotChange{addr: addr, slot: slot})
		if s.accessedSlots[addr] == nil {
			s.accessedSlots[addr] = make(map[common.Hash]struct{})
		}
		s.accessedSlots[addr][slot] = struct{}{}
	}
}

// Snapshot returns a journal index a later call to RevertToSnapshot can
// unwind back to — the same checkpoint/rewind pattern go-ethereum's
// StateDB uses for frame-scoped rollback.
func (s *StateDB) Snapshot() int {
	return s.journal.length()
}

// RevertToSnapshot undoes every change recorded since id was taken.
func (s *StateDB) RevertToSnapshot(id int) {
	s.journal.revert(s, id)
}

// AccountStatus exposes an address's current status, mainly for tests
// and for the dual-execution validator's account-state diff.
func (s *StateDB) AccountStatus(addr common.Address) AccountStatus {
	a, ok := s.accounts[addr]
	if !ok {
		return Unmodified
	}
	return a.status
}

// GetCodeHash returns addr's current code hash, loading it from the
// backing database on first touch.
func (s *StateDB) GetCodeHash(addr common.Address) (common.Hash, error) {
	a, err := s.getOrLoad(addr)
	if err != nil {
		return common.Hash{}, err
	}
	return a.codeHash, nil
}

// TouchedAddresses returns every address this StateDB has loaded or
// modified since construction, in no particular order. The dual-execution
// validator uses this to enumerate the post-state diff it compares
// between a JIT run and an interpreter run without needing to walk the
// full backing database.
func (s *StateDB) TouchedAddresses() []common.Address {
	addrs := make([]common.Address, 0, len(s.accounts))
	for addr := range s.accounts {
		addrs = append(addrs, addr)
	}
	return addrs
}

// DatabaseWriter is the write half a commit flushes modified accounts
// into. The trie-backed implementation lives with the block processor;
// tests use a recording stub.
type DatabaseWriter interface {
	PutAccount(addr common.Address, balance *uint256.Int, nonce uint64, code []byte, codeHash common.Hash) error
	PutState(addr common.Address, key, value common.Hash) error
	DeleteAccount(addr common.Address) error
}

// Commit flushes every modified account into w and resets the journal.
// Called once per transaction, on outermost success; an outermost failure
// simply discards the StateDB instead. Destroyed accounts are deleted even
// when they were modified again afterwards, since destruction takes effect
// at the end of the transaction.
func (s *StateDB) Commit(w DatabaseWriter) error {
	for addr, a := range s.accounts {
		switch a.status {
		case Unmodified:
			continue
		case Destroyed, DestroyedModified:
			if err := w.DeleteAccount(addr); err != nil {
				return fmt.Errorf("commit: delete account %s: %w", addr.Hex(), err)
			}
		default:
			if err := w.PutAccount(addr, a.balance.Clone(), a.nonce, a.code, a.codeHash); err != nil {
				return fmt.Errorf("commit: account %s: %w", addr.Hex(), err)
			}
			for key, value := range a.storage {
				if err := w.PutState(addr, key, value); err != nil {
					return fmt.Errorf("commit: slot %s/%s: %w", addr.Hex(), key.Hex(), err)
				}
			}
		}
	}
	s.journal = newJournal()
	return nil
}

// StorageSnapshot returns a copy of addr's in-memory write set, i.e. every
// slot this StateDB has read or written for addr. Used by the
// dual-execution validator to diff storage between two independent runs.
func (s *StateDB) StorageSnapshot(addr common.Address) map[common.Hash]common.Hash {
	a, ok := s.accounts[addr]
	if !ok {
		return nil
	}
	out := make(map[common.Hash]common.Hash, len(a.storage))
	for k, v := range a.storage {
		out[k] = v
	}
	return out
}
