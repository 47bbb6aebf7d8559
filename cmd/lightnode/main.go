// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

// Command lightnode wires a p2pnet client together and runs it until
// interrupted. Flag parsing and config file loading are intentionally
// left out of scope; production deployments are expected to provide
// their own collaborator that populates p2pnet.Config and hands it in.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/dastore/p2p/pkg/kadstore"
	"github.com/dastore/p2p/pkg/p2pnet"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(log); err != nil {
		log.Fatal("lightnode exited with error", zap.Error(err))
	}
}

func run(log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg := p2pnet.DefaultConfig()

	priv, err := p2pnet.Keypair(p2pnet.SecretKey{Seed: "lightnode-dev-seed"})
	if err != nil {
		return err
	}

	store := kadstore.NewMemoryStore(kadstore.DefaultConfig())
	defer func() { _ = store.Close() }()
	providers := kadstore.NewProviders(kadstore.DefaultConfig())

	client, loop, err := p2pnet.NewService(ctx, log.Named("p2pnet"), cfg, priv, store, providers)
	if err != nil {
		return err
	}
	defer loop.Stop()

	log.Info("light node started, awaiting shutdown signal")
	_ = client

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}
