// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package kadstore_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dastore/p2p/pkg/kadstore"
)

func TestMemoryStorePutGet(t *testing.T) {
	store := kadstore.NewMemoryStore(kadstore.DefaultConfig())

	rec := &kadstore.Record{Key: []byte("42:0:0"), Value: []byte("hello")}
	require.NoError(t, store.Put(rec))

	got, err := store.Get([]byte("42:0:0"))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, []byte("hello"), got.Value)

	missing, err := store.Get([]byte("nope"))
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestMemoryStoreGetFiltersExpiredRecords(t *testing.T) {
	store := kadstore.NewMemoryStore(kadstore.DefaultConfig())

	past := time.Now().Add(-time.Hour)
	rec := &kadstore.Record{Key: []byte("k"), Value: []byte("v"), ExpiresAt: &past}
	require.NoError(t, store.Put(rec))

	// Get filters an expired record immediately, before any Retain pass
	// has run.
	got, err := store.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, got)

	// Records still physically occupies the expired entry until Retain
	// drops it.
	all, err := store.Records()
	require.NoError(t, err)
	require.Len(t, all, 1)

	removed, err := store.Retain(func(r *kadstore.Record) bool {
		return !r.Expired(time.Now())
	})
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	all, err = store.Records()
	require.NoError(t, err)
	require.Len(t, all, 0)
}

func TestMemoryStoreRemove(t *testing.T) {
	store := kadstore.NewMemoryStore(kadstore.DefaultConfig())
	require.NoError(t, store.Put(&kadstore.Record{Key: []byte("a"), Value: []byte("1")}))
	require.NoError(t, store.Remove([]byte("a")))

	got, err := store.Get([]byte("a"))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryStoreCapacity(t *testing.T) {
	store := kadstore.NewMemoryStore(kadstore.Config{MaxRecords: 1})
	require.NoError(t, store.Put(&kadstore.Record{Key: []byte("a"), Value: []byte("1")}))
	require.Error(t, store.Put(&kadstore.Record{Key: []byte("b"), Value: []byte("2")}))
	// Overwriting the existing key is still allowed at capacity.
	require.NoError(t, store.Put(&kadstore.Record{Key: []byte("a"), Value: []byte("2")}))
}

func TestMemoryStoreRecordsAndShrink(t *testing.T) {
	store := kadstore.NewMemoryStore(kadstore.DefaultConfig())
	for i := 0; i < 10; i++ {
		require.NoError(t, store.Put(&kadstore.Record{Key: []byte{byte(i)}, Value: []byte("v")}))
	}
	records, err := store.Records()
	require.NoError(t, err)
	require.Len(t, records, 10)

	removed, err := store.Retain(func(r *kadstore.Record) bool { return r.Key[0] < 5 })
	require.NoError(t, err)
	require.Equal(t, 5, removed)

	require.NoError(t, store.Shrink())
	records, err = store.Records()
	require.NoError(t, err)
	require.Len(t, records, 5)
}
