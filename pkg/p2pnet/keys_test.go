// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dastore/p2p/pkg/p2pnet"
)

func TestPositionReference(t *testing.T) {
	pos := p2pnet.Position{Row: 3, Col: 7}
	require.Equal(t, "42:3:7", pos.Reference(42))
}

func TestRowIndexReference(t *testing.T) {
	row := p2pnet.RowIndex(9)
	require.Equal(t, "42:9", row.Reference(42))
}

func TestDimensionsExtendedRows(t *testing.T) {
	dims := p2pnet.Dimensions{Rows: 16, Cols: 8}
	require.Equal(t, uint32(16), dims.ExtendedRows())
}

func TestCellSize(t *testing.T) {
	require.Equal(t, 80, p2pnet.CellSize)
	var c p2pnet.Cell
	require.Len(t, c.Content, p2pnet.CellSize)
}
