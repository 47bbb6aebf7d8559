// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet_test

import (
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/dastore/p2p/pkg/p2pnet"
)

func TestIsMultiaddrGlobal(t *testing.T) {
	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"public address", "/ip4/159.73.143.3/tcp/37000", true},
		{"private class C", "/ip4/192.168.0.1/tcp/37000", false},
		{"private class B", "/ip4/172.16.10.11/tcp/37000", false},
		{"loopback", "/ip4/127.0.0.1/tcp/37000", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ma.NewMultiaddr(tt.addr)
			require.NoError(t, err)
			require.Equal(t, tt.want, p2pnet.IsMultiaddrGlobal(addr))
		})
	}
}

func TestIsMultiaddrGlobalEmptyAddress(t *testing.T) {
	addr := ma.Join()
	require.NotNil(t, addr)
	require.False(t, p2pnet.IsMultiaddrGlobal(addr))
}

func TestIsGlobalExcludedRanges(t *testing.T) {
	excluded := []string{
		"0.1.2.3",
		"10.0.0.1",
		"127.0.0.1",
		"169.254.0.1",
		"172.16.0.1",
		"192.168.0.1",
		"192.0.0.1",
		"192.0.2.1",
		"198.51.100.1",
		"203.0.113.1",
		"255.255.255.255",
	}
	for _, ipStr := range excluded {
		t.Run(ipStr, func(t *testing.T) {
			require.False(t, p2pnet.IsGlobal(mustParseIP(t, ipStr)))
		})
	}
}

func TestIsGlobalFutureProtocolExceptions(t *testing.T) {
	require.True(t, p2pnet.IsGlobal(mustParseIP(t, "192.0.0.9")))
	require.True(t, p2pnet.IsGlobal(mustParseIP(t, "192.0.0.10")))
}
