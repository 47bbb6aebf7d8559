// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

// Package kadstore implements the Kademlia record store abstraction:
// two interchangeable backends (in-memory and on-disk) sharing one
// capability set, plus a bounded providers index. It carries record
// expiry alongside the plain key/value contract a DHT record store
// needs.
package kadstore

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/zeebo/errs"
)

// Error is the default errs class for this package.
var Error = errs.Class("kadstore")

// Record is an opaque key/value pair with optional publisher and expiry
// attributes.
type Record struct {
	Key       []byte
	Value     []byte
	Publisher *peer.ID
	ExpiresAt *time.Time
}

// Expired reports whether the record's expiry, if any, is at or before
// now. A record with no expiry never expires.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && !r.ExpiresAt.After(now)
}

// Clone returns a deep copy of the record so callers cannot mutate store
// internals through a returned pointer.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := &Record{
		Key:   append([]byte(nil), r.Key...),
		Value: append([]byte(nil), r.Value...),
	}
	if r.Publisher != nil {
		p := *r.Publisher
		cp.Publisher = &p
	}
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		cp.ExpiresAt = &t
	}
	return cp
}

// Store is the capability set both the memory and disk record stores
// implement. Implementations MUST produce identical externally-visible
// Get/Put semantics; they differ only in when expired records physically
// disappear.
type Store interface {
	// Put inserts or overwrites the record at record.Key.
	Put(record *Record) error
	// Get returns the record stored at key, or (nil, nil) if absent or
	// expired.
	Get(key []byte) (*Record, error)
	// Remove deletes the record stored at key, if any.
	Remove(key []byte) error
	// Records returns every record currently held, in implementation-
	// defined order. It is a lazy sequence in the sense that callers
	// should not mutate the returned slice's backing records.
	Records() ([]*Record, error)
	// Retain keeps only the records for which predicate returns true,
	// discarding the rest. On the disk store this is a no-op: TTL
	// enforcement is delegated to compaction.
	Retain(predicate func(*Record) bool) (removed int, err error)
	// Shrink reclaims space after large deletions. On the memory store
	// this is advisory; on the disk store it triggers compaction, which
	// is also when expired records are physically discarded.
	Shrink() error
	// Close releases any resources held by the store.
	Close() error
}

// Config bounds the memory store's footprint. MaxProvidersPerKey and
// MaxProvidedKeys are shared with the Providers index so a single config
// object can be threaded through both.
type Config struct {
	MaxRecords         int
	MaxProvidersPerKey int
	MaxProvidedKeys    int
}

// DefaultConfig returns sane bounds for a light client's record store.
func DefaultConfig() Config {
	return Config{
		MaxRecords:         65536,
		MaxProvidersPerKey: 20,
		MaxProvidedKeys:    1024,
	}
}
