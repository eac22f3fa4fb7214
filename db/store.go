// Package db provides the checkpoint store: a ChainSafe/chaindb-backed
// table keyed by swap id, narrowed to the one thing the
// core needs persisted across restarts, the checkpointed projection of
// a swap's state.
package db

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/ChainSafe/chaindb"

	"github.com/btcxmr/swapd/checkpoint"
	"github.com/btcxmr/swapd/common"
)

// keyPrefix namespaces checkpoint keys within the shared chaindb table
// from any other data a future caller stores in the same backing store.
var keyPrefix = []byte("swapd/checkpoint/")

func key(id common.SwapId) []byte {
	return append(append([]byte{}, keyPrefix...), []byte(hex.EncodeToString(id[:]))...)
}

// Store is the checkpoint persistence surface the dispatcher writes to
// and restores from.
type Store interface {
	// PutCheckpoint writes the latest checkpoint for a swap, overwriting
	// any previous one: each swap id has exactly one live checkpoint at a
	// time, until DeleteCheckpoint removes it.
	PutCheckpoint(id common.SwapId, s checkpoint.Swapd) error
	// GetCheckpoint loads the most recently written checkpoint for id.
	GetCheckpoint(id common.SwapId) (checkpoint.Swapd, error)
	// DeleteCheckpoint removes a swap's checkpoint once it reaches
	// SwapEnd and no longer needs to be resumable.
	DeleteCheckpoint(id common.SwapId) error
	// AllSwapIds lists every swap id with a live checkpoint, used by the
	// supervisor on startup to find swaps to resume.
	AllSwapIds() ([]common.SwapId, error)
}

// kvIterator is the subset of chaindb.Iterator the store needs to walk
// every existing key on startup.
type kvIterator interface {
	Next() bool
	Key() []byte
	Value() []byte
	Release()
}

// backingStore is the subset of chaindb.Database the checkpoint store
// depends on, kept narrow so tests can substitute an in-memory fake
// without standing up a real chaindb backend.
type backingStore interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Del(key []byte) error
	NewIterator() kvIterator
}

// chainDBStore implements Store on top of a chaindb.Database, caching
// decoded checkpoints in memory to avoid a round trip through the
// backing store on every lookup.
type chainDBStore struct {
	db backingStore
	sync.RWMutex
	cache map[common.SwapId]checkpoint.Swapd
}

var _ Store = (*chainDBStore)(nil)

// chaindbAdapter narrows a chaindb.Database down to backingStore.
type chaindbAdapter struct{ chaindb.Database }

func (a chaindbAdapter) NewIterator() kvIterator {
	return a.Database.NewIterator()
}

// NewStore returns a Store backed by database, loading every existing
// checkpoint into memory on construction.
func NewStore(database chaindb.Database) (Store, error) {
	return newStore(chaindbAdapter{database})
}

func newStore(database backingStore) (Store, error) {
	s := &chainDBStore{
		db:    database,
		cache: make(map[common.SwapId]checkpoint.Swapd),
	}

	it := database.NewIterator()
	defer it.Release()

	for it.Next() {
		k := it.Key()
		if len(k) <= len(keyPrefix) {
			continue
		}
		cp, err := checkpoint.Decode(it.Value())
		if err != nil {
			return nil, fmt.Errorf("db: loading checkpoint %x: %w", k, err)
		}
		s.cache[cp.SwapId] = cp
	}

	return s, nil
}

// PutCheckpoint implements Store.
func (s *chainDBStore) PutCheckpoint(id common.SwapId, cp checkpoint.Swapd) error {
	b, err := checkpoint.Encode(cp)
	if err != nil {
		return err
	}

	s.Lock()
	defer s.Unlock()

	if err := s.db.Put(key(id), b); err != nil {
		return err
	}
	s.cache[id] = cp
	return nil
}

// GetCheckpoint implements Store.
func (s *chainDBStore) GetCheckpoint(id common.SwapId) (checkpoint.Swapd, error) {
	s.RLock()
	defer s.RUnlock()

	cp, ok := s.cache[id]
	if !ok {
		return checkpoint.Swapd{}, fmt.Errorf("db: no checkpoint for swap %s: %w", id, errNoCheckpoint)
	}
	return cp, nil
}

// DeleteCheckpoint implements Store.
func (s *chainDBStore) DeleteCheckpoint(id common.SwapId) error {
	s.Lock()
	defer s.Unlock()

	delete(s.cache, id)
	return s.db.Del(key(id))
}

// AllSwapIds implements Store.
func (s *chainDBStore) AllSwapIds() ([]common.SwapId, error) {
	s.RLock()
	defer s.RUnlock()

	ids := make([]common.SwapId, 0, len(s.cache))
	for id := range s.cache {
		ids = append(ids, id)
	}
	return ids, nil
}

var errNoCheckpoint = errors.New("checkpoint not found")
