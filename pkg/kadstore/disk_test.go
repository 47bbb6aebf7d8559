// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package kadstore_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dastore/p2p/pkg/kadstore"
)

func openTestDiskStore(t *testing.T) *kadstore.DiskStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	store, err := kadstore.OpenDiskStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDiskStorePutGet(t *testing.T) {
	store := openTestDiskStore(t)

	rec := &kadstore.Record{Key: []byte("1:0:0"), Value: []byte("cell-bytes")}
	require.NoError(t, store.Put(rec))

	got, err := store.Get([]byte("1:0:0"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []byte("cell-bytes"), got.Value)
}

func TestDiskStoreRetainIsNoop(t *testing.T) {
	store := openTestDiskStore(t)

	past := time.Now().Add(-time.Hour)
	require.NoError(t, store.Put(&kadstore.Record{Key: []byte("k"), Value: []byte("v"), ExpiresAt: &past}))

	removed, err := store.Retain(func(*kadstore.Record) bool { return false })
	require.NoError(t, err)
	require.Equal(t, 0, removed)

	// Get still hides the expired record even though Retain did nothing.
	got, err := store.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDiskStoreShrinkCompactsExpired(t *testing.T) {
	store := openTestDiskStore(t)

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, store.Put(&kadstore.Record{Key: []byte("expired"), Value: []byte("v1"), ExpiresAt: &past}))
	require.NoError(t, store.Put(&kadstore.Record{Key: []byte("live"), Value: []byte("v2"), ExpiresAt: &future}))
	require.NoError(t, store.Put(&kadstore.Record{Key: []byte("forever"), Value: []byte("v3")}))

	require.NoError(t, store.Shrink())

	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 2)

	got, err := store.Get([]byte("expired"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestDiskStoreRemove(t *testing.T) {
	store := openTestDiskStore(t)
	require.NoError(t, store.Put(&kadstore.Record{Key: []byte("a"), Value: []byte("1")}))
	require.NoError(t, store.Remove([]byte("a")))

	got, err := store.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, got)
}
