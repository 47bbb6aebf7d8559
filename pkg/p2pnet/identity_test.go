// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet_test

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/stretchr/testify/require"

	"github.com/dastore/p2p/pkg/p2pnet"
)

func TestKeypairFromSeedIsDeterministic(t *testing.T) {
	a, err := p2pnet.Keypair(p2pnet.SecretKey{Seed: "correct horse battery staple"})
	require.NoError(t, err)
	b, err := p2pnet.Keypair(p2pnet.SecretKey{Seed: "correct horse battery staple"})
	require.NoError(t, err)

	rawA, err := crypto.MarshalPrivateKey(a)
	require.NoError(t, err)
	rawB, err := crypto.MarshalPrivateKey(b)
	require.NoError(t, err)
	require.Equal(t, rawA, rawB)
}

func TestKeypairFromDifferentSeedsDiffer(t *testing.T) {
	a, err := p2pnet.Keypair(p2pnet.SecretKey{Seed: "seed-one"})
	require.NoError(t, err)
	b, err := p2pnet.Keypair(p2pnet.SecretKey{Seed: "seed-two"})
	require.NoError(t, err)

	rawA, err := crypto.MarshalPrivateKey(a)
	require.NoError(t, err)
	rawB, err := crypto.MarshalPrivateKey(b)
	require.NoError(t, err)
	require.NotEqual(t, rawA, rawB)
}

func TestKeypairFromHexKey(t *testing.T) {
	_, err := p2pnet.Keypair(p2pnet.SecretKey{Key: "00112233445566778899aabbccddeeff00112233445566778899aabbccddeeff"})
	require.NoError(t, err)
}

func TestKeypairRejectsEmptySecret(t *testing.T) {
	_, err := p2pnet.Keypair(p2pnet.SecretKey{})
	require.Error(t, err)
}

func TestKeypairRejectsShortHexKey(t *testing.T) {
	_, err := p2pnet.Keypair(p2pnet.SecretKey{Key: "aabbcc"})
	require.Error(t, err)
}
