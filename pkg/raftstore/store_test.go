package raftstore_test

import (
	"testing"

	"github.com/downfa11-org/raftlog/pkg/config"
	"github.com/downfa11-org/raftlog/pkg/raftstore"
	"github.com/downfa11-org/raftlog/pkg/seglog"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *raftstore.LogStore {
	t.Helper()
	log, err := seglog.Open(&config.Config{
		StorageDir:      t.TempDir(),
		SegmentMaxBytes: 1 << 20,
		SyncMode:        config.SyncAlways,
	})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return raftstore.NewLogStore(log)
}

func raftLog(index, term uint64, data string) *raft.Log {
	return &raft.Log{Index: index, Term: term, Type: raft.LogCommand, Data: []byte(data)}
}

func TestLogStoreEmpty(t *testing.T) {
	store := testStore(t)

	first, err := store.FirstIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), first)

	last, err := store.LastIndex()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), last)

	var out raft.Log
	assert.ErrorIs(t, store.GetLog(1, &out), raft.ErrLogNotFound)
}

func TestLogStoreRoundTrip(t *testing.T) {
	store := testStore(t)

	logs := []*raft.Log{
		{Index: 1, Term: 1, Type: raft.LogNoop},
		raftLog(2, 1, "set x=1"),
		raftLog(3, 2, "set y=2"),
		{Index: 4, Term: 2, Type: raft.LogConfiguration, Data: []byte("servers")},
		{Index: 5, Term: 2, Type: raft.LogBarrier},
	}
	require.NoError(t, store.StoreLogs(logs))

	first, _ := store.FirstIndex()
	last, _ := store.LastIndex()
	assert.Equal(t, uint64(1), first)
	assert.Equal(t, uint64(5), last)

	for _, want := range logs {
		var got raft.Log
		require.NoError(t, store.GetLog(want.Index, &got))
		assert.Equal(t, want.Index, got.Index)
		assert.Equal(t, want.Term, got.Term)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.Data, got.Data)
	}
}

func TestLogStoreSuffixDelete(t *testing.T) {
	store := testStore(t)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, store.StoreLog(raftLog(i, 1, "cmd")))
	}

	// a leader change discards the conflicting suffix
	require.NoError(t, store.DeleteRange(3, 5))

	last, _ := store.LastIndex()
	assert.Equal(t, uint64(2), last)

	var out raft.Log
	assert.ErrorIs(t, store.GetLog(3, &out), raft.ErrLogNotFound)

	// and the new leader's entries take its place
	require.NoError(t, store.StoreLog(&raft.Log{Index: 3, Term: 2, Type: raft.LogCommand, Data: []byte("new")}))
	require.NoError(t, store.GetLog(3, &out))
	assert.Equal(t, uint64(2), out.Term)
}

func TestLogStorePrefixDelete(t *testing.T) {
	log, err := seglog.Open(&config.Config{
		StorageDir:      t.TempDir(),
		SegmentMaxBytes: 128,
		SyncMode:        config.SyncAlways,
	})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	store := raftstore.NewLogStore(log)

	payload := make([]byte, 20)
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, store.StoreLog(&raft.Log{Index: i, Term: 1, Type: raft.LogCommand, Data: payload}))
	}

	// snapshot taken through index 6: drop the applied prefix
	require.NoError(t, store.DeleteRange(1, 6))

	first, _ := store.FirstIndex()
	last, _ := store.LastIndex()
	assert.LessOrEqual(t, first, uint64(7))
	assert.Greater(t, first, uint64(1))
	assert.Equal(t, uint64(10), last)
}

func TestLogStoreInteriorDeleteRejected(t *testing.T) {
	store := testStore(t)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, store.StoreLog(raftLog(i, 1, "cmd")))
	}
	assert.Error(t, store.DeleteRange(2, 3))
}
