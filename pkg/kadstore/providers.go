// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package kadstore

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Providers maintains, per record key, a bounded set of peers claiming to
// provide that key. Overflow is evicted by insertion order, both within a
// key's provider set (MaxProvidersPerKey) and across the whole index
// (MaxProvidedKeys). Entries are populated when a PUT advertises the
// local peer as a provider and when a GET miss discovers remote
// providers via the DHT. They have no TTL of their own: the local
// peer's entry for a key is removed explicitly once the underlying
// record expires, and discovered remote providers stay until evicted.
type Providers struct {
	mu       sync.Mutex
	config   Config
	byKey    map[string][]peer.ID
	keyOrder []string
}

// NewProviders returns an empty providers index bounded by config.
func NewProviders(config Config) *Providers {
	return &Providers{
		config: config,
		byKey:  make(map[string][]peer.ID),
	}
}

// Add records p as a provider of key, evicting the oldest provider for
// that key if it is already at capacity, and evicting the oldest tracked
// key overall if adding a brand new key would exceed MaxProvidedKeys.
func (p *Providers) Add(key []byte, id peer.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := string(key)
	set, exists := p.byKey[k]
	if !exists {
		if p.config.MaxProvidedKeys > 0 && len(p.keyOrder) >= p.config.MaxProvidedKeys {
			oldest := p.keyOrder[0]
			p.keyOrder = p.keyOrder[1:]
			delete(p.byKey, oldest)
		}
		p.keyOrder = append(p.keyOrder, k)
	}

	for _, existing := range set {
		if existing == id {
			return
		}
	}
	set = append(set, id)
	if p.config.MaxProvidersPerKey > 0 && len(set) > p.config.MaxProvidersPerKey {
		set = set[len(set)-p.config.MaxProvidersPerKey:]
	}
	p.byKey[k] = set
}

// Get returns the providers currently tracked for key, oldest first.
func (p *Providers) Get(key []byte) []peer.ID {
	p.mu.Lock()
	defer p.mu.Unlock()

	set := p.byKey[string(key)]
	out := make([]peer.ID, len(set))
	copy(out, set)
	return out
}

// Remove drops id from key's provider set, if present. A key whose set
// becomes empty stops being tracked.
func (p *Providers) Remove(key []byte, id peer.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	k := string(key)
	set, ok := p.byKey[k]
	if !ok {
		return
	}
	for i, existing := range set {
		if existing == id {
			set = append(set[:i], set[i+1:]...)
			if len(set) > 0 {
				p.byKey[k] = set
				return
			}
			delete(p.byKey, k)
			for j, ordered := range p.keyOrder {
				if ordered == k {
					p.keyOrder = append(p.keyOrder[:j], p.keyOrder[j+1:]...)
					break
				}
			}
			return
		}
	}
}

// KeyCount returns how many keys currently have at least one tracked
// provider.
func (p *Providers) KeyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.keyOrder)
}
