package db

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btcxmr/swapd/checkpoint"
	"github.com/btcxmr/swapd/common"
)

// memKV is a minimal in-memory backingStore used to test chainDBStore
// without a real chaindb backend.
type memKV struct {
	data map[string][]byte
}

func newMemKV() *memKV { return &memKV{data: make(map[string][]byte)} }

func (m *memKV) Put(key, value []byte) error {
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

func (m *memKV) Get(key []byte) ([]byte, error) {
	return m.data[string(key)], nil
}

func (m *memKV) Del(key []byte) error {
	delete(m.data, string(key))
	return nil
}

func (m *memKV) NewIterator() kvIterator {
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return &memIterator{kv: m, keys: keys, idx: -1}
}

type memIterator struct {
	kv   *memKV
	keys []string
	idx  int
}

func (it *memIterator) Next() bool {
	it.idx++
	return it.idx < len(it.keys)
}

func (it *memIterator) Key() []byte   { return []byte(it.keys[it.idx]) }
func (it *memIterator) Value() []byte { return it.kv.data[it.keys[it.idx]] }
func (it *memIterator) Release()      {}

func sampleCheckpoint(id common.SwapId) checkpoint.Swapd {
	return checkpoint.Swapd{SwapId: id, StateName: "BobAccordantLock"}
}

func TestPutGetCheckpoint(t *testing.T) {
	store, err := newStore(newMemKV())
	require.NoError(t, err)

	id := common.SwapId{1}
	require.NoError(t, store.PutCheckpoint(id, sampleCheckpoint(id)))

	got, err := store.GetCheckpoint(id)
	require.NoError(t, err)
	require.Equal(t, "BobAccordantLock", got.StateName)
}

func TestGetCheckpointMissing(t *testing.T) {
	store, err := newStore(newMemKV())
	require.NoError(t, err)

	_, err = store.GetCheckpoint(common.SwapId{9})
	require.Error(t, err)
}

func TestDeleteCheckpoint(t *testing.T) {
	store, err := newStore(newMemKV())
	require.NoError(t, err)

	id := common.SwapId{2}
	require.NoError(t, store.PutCheckpoint(id, sampleCheckpoint(id)))
	require.NoError(t, store.DeleteCheckpoint(id))

	_, err = store.GetCheckpoint(id)
	require.Error(t, err)
}

func TestNewStoreLoadsExisting(t *testing.T) {
	kv := newMemKV()
	id := common.SwapId{3}
	b, err := checkpoint.Encode(sampleCheckpoint(id))
	require.NoError(t, err)
	require.NoError(t, kv.Put(key(id), b))

	store, err := newStore(kv)
	require.NoError(t, err)

	got, err := store.GetCheckpoint(id)
	require.NoError(t, err)
	require.Equal(t, id, got.SwapId)
}

func TestAllSwapIds(t *testing.T) {
	store, err := newStore(newMemKV())
	require.NoError(t, err)

	a, b := common.SwapId{4}, common.SwapId{5}
	require.NoError(t, store.PutCheckpoint(a, sampleCheckpoint(a)))
	require.NoError(t, store.PutCheckpoint(b, sampleCheckpoint(b)))

	ids, err := store.AllSwapIds()
	require.NoError(t, err)
	require.ElementsMatch(t, []common.SwapId{a, b}, ids)
}
