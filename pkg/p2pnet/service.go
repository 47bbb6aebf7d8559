// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"context"

	"github.com/libp2p/go-libp2p/core/crypto"
	"go.uber.org/zap"

	"github.com/dastore/p2p/pkg/kadstore"
)

// NewService builds the behaviour composite, starts its event loop in a
// background goroutine, and returns a client facade wired to it. Callers
// own the returned EventLoop's lifetime: call Stop to shut it down
// cleanly.
func NewService(ctx context.Context, log *zap.Logger, cfg Config, priv crypto.PrivKey, store kadstore.Store, providers *kadstore.Providers) (*Client, *EventLoop, error) {
	behaviour, err := newBehaviour(ctx, log, cfg, priv, store)
	if err != nil {
		return nil, nil, err
	}

	loop := NewEventLoop(log, behaviour, store, providers, cfg.Kademlia.KademliaMode)
	go loop.Run()

	return NewClient(log, cfg, loop), loop, nil
}
