// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type noopCmd struct{ id int }

func (noopCmd) Run(*EventLoopEntries) error { return nil }
func (noopCmd) Abort(error)                 {}

func TestCommandQueueFIFOOrder(t *testing.T) {
	q := newCommandQueue()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.push(noopCmd{id: i}))
	}
	for i := 0; i < 5; i++ {
		cmd, ok := q.pop()
		require.True(t, ok)
		require.Equal(t, i, cmd.(noopCmd).id)
	}
}

func TestCommandQueueRejectsPushAfterClose(t *testing.T) {
	q := newCommandQueue()
	q.close()
	err := q.push(noopCmd{id: 1})
	require.Error(t, err)
}

func TestCommandQueuePopUnblocksOnClose(t *testing.T) {
	q := newCommandQueue()
	done := make(chan struct{})
	go func() {
		_, ok := q.pop()
		require.False(t, ok)
		close(done)
	}()
	q.close()
	<-done
}
