// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

// Package p2pnet embeds a light data-availability node into a libp2p mesh.
//
// A single goroutine (the event loop) owns the libp2p host and the
// Kademlia DHT it drives. Every other goroutine talks to it through a
// Client, which converts method calls into Commands delivered over an
// unbounded channel and blocks on a reply channel for the result. This
// mirrors the actor discipline used for storj.io/storj's Kademlia service,
// adapted so that a single goroutine, rather than a mutex, serializes
// access to routing state.
package p2pnet
