// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReconfigureModeTransitionsToServer(t *testing.T) {
	got := reconfigureMode(ModeClient, true, 16, 8, 8.0, 4)
	require.Equal(t, ModeServer, got)
}

func TestReconfigureModeTransitionsToClient(t *testing.T) {
	got := reconfigureMode(ModeServer, false, 16, 8, 8.0, 4)
	require.Equal(t, ModeClient, got)
}

func TestReconfigureModeStaysClientWithoutExternalAddress(t *testing.T) {
	got := reconfigureMode(ModeClient, false, 16, 8, 8.0, 4)
	require.Equal(t, ModeClient, got)
}

func TestReconfigureModeStaysClientBelowThresholds(t *testing.T) {
	got := reconfigureMode(ModeClient, true, 4, 2, 8.0, 4)
	require.Equal(t, ModeClient, got)
}

func TestReconfigureModeStaysServerWithExternalAddress(t *testing.T) {
	got := reconfigureMode(ModeServer, true, 1, 1, 8.0, 4)
	require.Equal(t, ModeServer, got)
}

func TestModeString(t *testing.T) {
	require.Equal(t, "client", ModeClient.String())
	require.Equal(t, "server", ModeServer.String())
}
