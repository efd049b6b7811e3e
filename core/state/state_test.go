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
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"github.com/tokamak-network/tokamak-geth/common"
)

// stubDB is a fixed-content Database for StateDB tests.
type stubDB struct {
	balances map[common.Address]*uint256.Int
	storage  map[common.Address]map[common.Hash]common.Hash
}

func (db *stubDB) GetBalance(addr common.Address) (*uint256.Int, error) {
	if db.balances != nil {
		if b, ok := db.balances[addr]; ok {
			return b.Clone(), nil
		}
	}
	return new(uint256.Int), nil
}

func (db *stubDB) GetNonce(common.Address) (uint64, error)      { return 0, nil }
func (db *stubDB) GetCode(common.Address) ([]byte, error)       { return nil, nil }
func (db *stubDB) GetCodeHash(common.Address) (common.Hash, error) { return common.Hash{}, nil }

func (db *stubDB) GetState(addr common.Address, key common.Hash) (common.Hash, error) {
	if db.storage != nil {
		return db.storage[addr][key], nil
	}
	return common.Hash{}, nil
}

var addr1 = common.BytesToAddress([]byte{0x01})

func TestSnapshotRevertRestoresBalanceAndNonce(t *testing.T) {
	s := New(&stubDB{})

	require.NoError(t, s.AddBalance(addr1, uint256.NewInt(100)))
	require.NoError(t, s.SetNonce(addr1, 1))

	snap := s.Snapshot()
	require.NoError(t, s.AddBalance(addr1, uint256.NewInt(50)))
	require.NoError(t, s.SubBalance(addr1, uint256.NewInt(30)))
	require.NoError(t, s.SetNonce(addr1, 7))

	s.RevertToSnapshot(snap)

	bal, err := s.GetBalance(addr1)
	require.NoError(t, err)
	require.Equal(t, uint64(100), bal.Uint64())
	nonce, err := s.GetNonce(addr1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), nonce)
}

func TestSnapshotRevertRestoresStorageExactly(t *testing.T) {
	db := &stubDB{storage: map[common.Address]map[common.Hash]common.Hash{
		addr1: {common.Hash{}: common.BytesToHash([]byte{5})},
	}}
	s := New(db)

	snap := s.Snapshot()
	for _, v := range []byte{10, 20, 30} {
		require.NoError(t, s.SetState(addr1, common.Hash{}, common.BytesToHash([]byte{v})))
	}
	s.RevertToSnapshot(snap)

	got, err := s.GetState(addr1, common.Hash{})
	require.NoError(t, err)
	require.Equal(t, common.BytesToHash([]byte{5}), got)
}

func TestSnapshotRevertRestoresCodeAndStatus(t *testing.T) {
	s := New(&stubDB{})

	snap := s.Snapshot()
	require.NoError(t, s.SetCode(addr1, []byte{0x60}, common.Hash{0xcc}))
	require.NoError(t, s.SelfDestruct(addr1))
	require.True(t, s.HasSelfDestructed(addr1))

	s.RevertToSnapshot(snap)
	require.False(t, s.HasSelfDestructed(addr1))
	require.Equal(t, Unmodified, s.AccountStatus(addr1))
	code, err := s.GetCode(addr1)
	require.NoError(t, err)
	require.Empty(t, code)
}

func TestNestedSnapshots(t *testing.T) {
	s := New(&stubDB{})
	key := common.Hash{0x01}

	require.NoError(t, s.SetState(addr1, key, common.Hash{0x0a}))
	outer := s.Snapshot()
	require.NoError(t, s.SetState(addr1, key, common.Hash{0x0b}))
	inner := s.Snapshot()
	require.NoError(t, s.SetState(addr1, key, common.Hash{0x0c}))

	s.RevertToSnapshot(inner)
	got, _ := s.GetState(addr1, key)
	require.Equal(t, common.Hash{0x0b}, got)

	s.RevertToSnapshot(outer)
	got, _ = s.GetState(addr1, key)
	require.Equal(t, common.Hash{0x0a}, got)
}

func TestRefundJournaled(t *testing.T) {
	s := New(&stubDB{})
	s.AddRefund(4800)
	snap := s.Snapshot()
	s.AddRefund(4800)
	s.SubRefund(2000)
	s.RevertToSnapshot(snap)
	require.Equal(t, uint64(4800), s.Refund())
}

func TestSubRefundBelowZeroPanics(t *testing.T) {
	s := New(&stubDB{})
	require.Panics(t, func() { s.SubRefund(1) })
}

func TestAccessListJournaled(t *testing.T) {
	s := New(&stubDB{})
	slot := common.Hash{0x05}

	snap := s.Snapshot()
	s.AddAddressToAccessList(addr1)
	s.AddSlotToAccessList(addr1, slot)

	require.True(t, s.AddressInAccessList(addr1))
	addrOk, slotOk := s.SlotInAccessList(addr1, slot)
	require.True(t, addrOk)
	require.True(t, slotOk)

	s.RevertToSnapshot(snap)
	require.False(t, s.AddressInAccessList(addr1))
	_, slotOk = s.SlotInAccessList(addr1, slot)
	require.False(t, slotOk)
}

func TestSetStateNoopSkipsJournal(t *testing.T) {
	db := &stubDB{storage: map[common.Address]map[common.Hash]common.Hash{
		addr1: {common.Hash{}: common.BytesToHash([]byte{5})},
	}}
	s := New(db)

	before := s.Snapshot()
	require.NoError(t, s.SetState(addr1, common.Hash{}, common.BytesToHash([]byte{5})))
	require.Equal(t, before, s.Snapshot(), "writing the current value adds no journal entry")
}

func TestOriginalStateSurvivesWrites(t *testing.T) {
	db := &stubDB{storage: map[common.Address]map[common.Hash]common.Hash{
		addr1: {common.Hash{}: common.BytesToHash([]byte{5})},
	}}
	s := New(db)

	require.NoError(t, s.SetState(addr1, common.Hash{}, common.BytesToHash([]byte{9})))
	orig, err := s.OriginalState(addr1, common.Hash{})
	require.NoError(t, err)
	require.Equal(t, common.BytesToHash([]byte{5}), orig)

	cur, err := s.GetState(addr1, common.Hash{})
	require.NoError(t, err)
	require.Equal(t, common.BytesToHash([]byte{9}), cur)
}

func TestDestroyedModifiedStatus(t *testing.T) {
	s := New(&stubDB{})
	require.NoError(t, s.SelfDestruct(addr1))
	require.Equal(t, Destroyed, s.AccountStatus(addr1))
	require.NoError(t, s.AddBalance(addr1, uint256.NewInt(1)))
	require.Equal(t, DestroyedModified, s.AccountStatus(addr1))
}

func TestStorageSnapshotIsACopy(t *testing.T) {
	s := New(&stubDB{})
	key := common.Hash{0x01}
	require.NoError(t, s.SetState(addr1, key, common.Hash{0xaa}))

	snap := s.StorageSnapshot(addr1)
	snap[key] = common.Hash{0xbb}

	got, _ := s.GetState(addr1, key)
	require.Equal(t, common.Hash{0xaa}, got)
}

// recordingWriter captures Commit output for assertions.
type recordingWriter struct {
	accounts map[common.Address]uint64 // addr -> nonce
	storage  map[common.Address]map[common.Hash]common.Hash
	deleted  map[common.Address]bool
}

func newRecordingWriter() *recordingWriter {
	return &recordingWriter{
		accounts: make(map[common.Address]uint64),
		storage:  make(map[common.Address]map[common.Hash]common.Hash),
		deleted:  make(map[common.Address]bool),
	}
}

func (w *recordingWriter) PutAccount(addr common.Address, _ *uint256.Int, nonce uint64, _ []byte, _ common.Hash) error {
	w.accounts[addr] = nonce
	return nil
}

func (w *recordingWriter) PutState(addr common.Address, key, value common.Hash) error {
	if w.storage[addr] == nil {
		w.storage[addr] = make(map[common.Hash]common.Hash)
	}
	w.storage[addr][key] = value
	return nil
}

func (w *recordingWriter) DeleteAccount(addr common.Address) error {
	w.deleted[addr] = true
	return nil
}

func TestCommitFlushesModifiedAccounts(t *testing.T) {
	s := New(&stubDB{})
	untouched := common.BytesToAddress([]byte{0x02})
	destroyed := common.BytesToAddress([]byte{0x03})

	require.NoError(t, s.SetNonce(addr1, 9))
	require.NoError(t, s.SetState(addr1, common.Hash{0x01}, common.Hash{0xaa}))
	_, err := s.GetBalance(untouched) // load only, never modified
	require.NoError(t, err)
	require.NoError(t, s.SelfDestruct(destroyed))

	w := newRecordingWriter()
	require.NoError(t, s.Commit(w))

	require.Equal(t, uint64(9), w.accounts[addr1])
	require.Equal(t, common.Hash{0xaa}, w.storage[addr1][common.Hash{0x01}])
	require.NotContains(t, w.accounts, untouched, "unmodified accounts are not flushed")
	require.True(t, w.deleted[destroyed])
	require.NotContains(t, w.accounts, destroyed)
}

func TestLogsJournaled(t *testing.T) {
	s := New(&stubDB{})

	s.AddLog(&Log{Address: addr1, Data: []byte{1}})
	snap := s.Snapshot()
	s.AddLog(&Log{Address: addr1, Data: []byte{2}})
	s.AddLog(&Log{Address: addr1, Data: []byte{3}})
	require.Len(t, s.Logs(), 3)

	s.RevertToSnapshot(snap)
	logs := s.Logs()
	require.Len(t, logs, 1, "reverted logs are popped in order")
	require.Equal(t, []byte{1}, logs[0].Data)
}
