// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustParseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	require.NotNil(t, ip)
	return ip
}
