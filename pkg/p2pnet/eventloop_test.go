// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"errors"
	"testing"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEntries() *EventLoopEntries {
	return &EventLoopEntries{
		log:            zap.NewNop(),
		activeBlocks:   make(map[uint32]*BlockStat),
		pendingQueries: make(map[uint64]pendingQuery),
		pendingDials:   make(map[peer.ID]pendingDial),
	}
}

func TestPutRecordAccounting(t *testing.T) {
	entries := newTestEntries()
	entries.activeBlocks[42] = newBlockStat(3)

	putRecordResult{block: 42, err: nil}.apply(entries)
	_, stillPending := entries.activeBlocks[42]
	require.True(t, stillPending)

	putRecordResult{block: 42, err: nil}.apply(entries)
	_, stillPending = entries.activeBlocks[42]
	require.True(t, stillPending)

	stat := entries.activeBlocks[42]
	putRecordResult{block: 42, err: errors.New("simulated put failure")}.apply(entries)

	_, stillPending = entries.activeBlocks[42]
	require.False(t, stillPending)
	require.Equal(t, 2, stat.SuccessCounter)
	require.Equal(t, 1, stat.ErrorCounter)
	require.Equal(t, 3, stat.TotalCount)
	require.Equal(t, 0, stat.RemainingCounter)
}

func TestPutRecordAccountingUnknownBlockIsIgnored(t *testing.T) {
	entries := newTestEntries()
	require.NotPanics(t, func() {
		putRecordResult{block: 7, err: nil}.apply(entries)
	})
	require.Empty(t, entries.activeBlocks)
}
