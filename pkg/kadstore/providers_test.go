// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package kadstore_test

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/test"
	"github.com/stretchr/testify/require"

	"github.com/dastore/p2p/pkg/kadstore"
)

func newTestPeerIDs(t *testing.T, n int) []peer.ID {
	t.Helper()
	ids := make([]peer.ID, n)
	for i := range ids {
		id, err := test.RandPeerID()
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

func TestProvidersEvictsOldestOnOverflow(t *testing.T) {
	ids := newTestPeerIDs(t, 3)
	providers := kadstore.NewProviders(kadstore.Config{MaxProvidersPerKey: 2, MaxProvidedKeys: 10})

	key := []byte("k")
	providers.Add(key, ids[0])
	providers.Add(key, ids[1])
	providers.Add(key, ids[2])

	got := providers.Get(key)
	require.Equal(t, []peer.ID{ids[1], ids[2]}, got)
}

func TestProvidersEvictsOldestKeyOnOverflow(t *testing.T) {
	ids := newTestPeerIDs(t, 1)
	providers := kadstore.NewProviders(kadstore.Config{MaxProvidersPerKey: 5, MaxProvidedKeys: 2})

	providers.Add([]byte("k1"), ids[0])
	providers.Add([]byte("k2"), ids[0])
	providers.Add([]byte("k3"), ids[0])

	require.Empty(t, providers.Get([]byte("k1")))
	require.NotEmpty(t, providers.Get([]byte("k2")))
	require.NotEmpty(t, providers.Get([]byte("k3")))
	require.Equal(t, 2, providers.KeyCount())
}

func TestProvidersAddIsIdempotent(t *testing.T) {
	ids := newTestPeerIDs(t, 1)
	providers := kadstore.NewProviders(kadstore.DefaultConfig())

	providers.Add([]byte("k"), ids[0])
	providers.Add([]byte("k"), ids[0])

	require.Len(t, providers.Get([]byte("k")), 1)
}

func TestProvidersRemove(t *testing.T) {
	ids := newTestPeerIDs(t, 2)
	providers := kadstore.NewProviders(kadstore.DefaultConfig())

	providers.Add([]byte("k"), ids[0])
	providers.Add([]byte("k"), ids[1])
	providers.Remove([]byte("k"), ids[0])

	require.Equal(t, []peer.ID{ids[1]}, providers.Get([]byte("k")))
}
