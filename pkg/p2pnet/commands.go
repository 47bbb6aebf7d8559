// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"context"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/peerstore"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/multiformats/go-multihash"
	"go.uber.org/zap"

	"github.com/dastore/p2p/pkg/kadstore"
)

// providerLookupLimit bounds how many peers a single provider-discovery
// round asks the DHT for.
const providerLookupLimit = 20

// providerCID derives a content ID from a record key. go-libp2p-kad-dht's
// Provide/FindProvidersAsync are keyed by CID rather than raw bytes, so
// every DHT provider advertisement and lookup funnels a record key
// through here first; the local providers index is keyed by the raw
// record key.
func providerCID(key []byte) (cid.Cid, error) {
	mh, err := multihash.Sum(key, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, mh), nil
}

// result carries either a value or an error across a one-shot reply
// channel, letting every command share the same channel plumbing
// regardless of its reply type.
type result[T any] struct {
	value T
	err   error
}

// Command is the closed capability a caller hands to the event loop: Run
// executes with exclusive access to the loop's state and must not block;
// Abort fires when Run returns an error, so the caller still unblocks. A
// command refused by an already-closed queue is neither run nor aborted:
// Submit returns the error to the caller instead. A command carrying a
// reply channel must send exactly one reply down one of these paths.
type Command interface {
	Run(entries *EventLoopEntries) error
	Abort(err error)
}

// PeerRecord pairs a stored record with the peer that answered the GET.
// The DHT's public GetValue only returns bytes, not provenance, so Peer
// is best-effort: the local store's cached copy reports the local host,
// a DHT round trip reports the local host as well since go-libp2p-kad-dht
// does not expose which remote peer supplied the winning value.
type PeerRecord struct {
	Record *kadstore.Record
	Peer   peer.ID
}

// ConnectionEstablishedInfo is delivered to a DialPeer caller once the
// first connection to the target peer is observed.
type ConnectionEstablishedInfo struct {
	Peer  peer.ID
	Addrs []ma.Multiaddr
}

// PeerCounts answers CountKademliaPeers.
type PeerCounts struct {
	Total          int
	WithPublicAddr int
	ProvidedKeys   int
}

// PeerInfo answers GetLocalInfo.
type PeerInfo struct {
	PeerID          peer.ID
	Mode            Mode
	Listeners       []ma.Multiaddr
	PublicListeners []ma.Multiaddr
}

// MultiAddressInfo answers GetExternalPeerInfo.
type MultiAddressInfo struct {
	Peer      peer.ID
	Addresses []ma.Multiaddr
}

// BlockStat tracks in-flight PUTs for a single block number.
type BlockStat struct {
	TotalCount       int
	RemainingCounter int
	SuccessCounter   int
	ErrorCounter     int
	TimeStat         time.Duration

	startedAt time.Time
}

func newBlockStat(total int) *BlockStat {
	return &BlockStat{TotalCount: total, RemainingCounter: total, startedAt: time.Now()}
}

// IncreaseBlockStatCounters records one PUT completion, success or
// failure, and refreshes the elapsed-time statistic.
func (b *BlockStat) IncreaseBlockStatCounters(success bool) {
	if success {
		b.SuccessCounter++
	} else {
		b.ErrorCounter++
	}
	b.RemainingCounter--
	b.TimeStat = time.Since(b.startedAt)
}

// StartListening registers a new listen address on the host.
type StartListeningCmd struct {
	Addr  ma.Multiaddr
	Reply chan result[struct{}]
}

func (c *StartListeningCmd) Run(entries *EventLoopEntries) error {
	if err := entries.behaviour.host.Network().Listen(c.Addr); err != nil {
		return TransportErr.Wrap(err)
	}
	c.Reply <- result[struct{}]{}
	return nil
}

func (c *StartListeningCmd) Abort(err error) {
	c.Reply <- result[struct{}]{err: err}
}

// AddAddress inserts a peer/address pair into the Kademlia routing table.
// It carries no reply: two identical AddAddress commands leave the
// routing table in the same state as one, since the underlying bucket
// insertion is itself idempotent.
type AddAddressCmd struct {
	Peer peer.ID
	Addr ma.Multiaddr
}

func (c *AddAddressCmd) Run(entries *EventLoopEntries) error {
	entries.behaviour.host.Peerstore().AddAddr(c.Peer, c.Addr, peerstore.PermanentAddrTTL)
	_, err := entries.behaviour.dht.RoutingTable().TryAddPeer(c.Peer, false, false)
	if err != nil {
		entries.log.Debug("routing table insert failed", zap.String("peer", c.Peer.String()), zap.Error(err))
	}
	return nil
}

func (c *AddAddressCmd) Abort(error) {}

// DialPeer initiates a dial; a successful reply is delivered once the
// host reports a connection to Peer, not when Connect itself returns. If
// Connect fails first, the reply carries that error; the dial is not
// retried.
type DialPeerCmd struct {
	Peer  peer.ID
	Addrs []ma.Multiaddr
	Reply chan result[ConnectionEstablishedInfo]
}

func (c *DialPeerCmd) Run(entries *EventLoopEntries) error {
	entries.behaviour.host.Peerstore().AddAddrs(c.Peer, c.Addrs, peerstore.TempAddrTTL)
	entries.pendingDials[c.Peer] = pendingDial{reply: c.Reply}

	addrInfo := peer.AddrInfo{ID: c.Peer, Addrs: c.Addrs}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := entries.behaviour.host.Connect(ctx, addrInfo); err != nil {
			entries.postEvent(dialFailedEvent{peer: c.Peer, err: err})
		}
	}()
	return nil
}

func (c *DialPeerCmd) Abort(err error) {
	c.Reply <- result[ConnectionEstablishedInfo]{err: err}
}

// Bootstrap starts a Kademlia bootstrap round and replies once the
// resulting routing-table refresh terminates.
type BootstrapCmd struct {
	Reply chan result[struct{}]
}

func (c *BootstrapCmd) Run(entries *EventLoopEntries) error {
	id := entries.nextQueryID
	entries.nextQueryID++
	entries.pendingQueries[id] = pendingQuery{kind: pendingBootstrap, bootReply: c.Reply}

	go func() {
		ctx := context.Background()
		err := entries.behaviour.dht.Bootstrap(ctx)
		if err == nil {
			err = <-entries.behaviour.dht.RefreshRoutingTable()
		}
		entries.postEvent(bootstrapResult{queryID: id, err: err})
	}()
	return nil
}

func (c *BootstrapCmd) Abort(err error) {
	c.Reply <- result[struct{}]{err: err}
}

// AddAutonatServer registers a peer the AutoNAT client may probe for
// reachability. go-libp2p's AutoNAT client has no explicit server
// registration call the way the canonical add_server API does; the
// adaptation here is to connect to the candidate so the identify
// protocol can surface it to AutoNAT opportunistically (see DESIGN.md).
type AddAutonatServerCmd struct {
	Peer  peer.ID
	Addr  ma.Multiaddr
	Reply chan result[struct{}]
}

func (c *AddAutonatServerCmd) Run(entries *EventLoopEntries) error {
	entries.behaviour.host.Peerstore().AddAddr(c.Peer, c.Addr, peerstore.PermanentAddrTTL)
	addrInfo := peer.AddrInfo{ID: c.Peer, Addrs: []ma.Multiaddr{c.Addr}}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := entries.behaviour.host.Connect(ctx, addrInfo); err != nil {
			c.Reply <- result[struct{}]{err: TransportErr.Wrap(err)}
			return
		}
		c.Reply <- result[struct{}]{}
	}()
	return nil
}

func (c *AddAutonatServerCmd) Abort(err error) {
	c.Reply <- result[struct{}]{err: err}
}

// GetKadRecord reads the local record store first and falls back to a DHT
// GET on a miss, caching the result locally on success.
type GetKadRecordCmd struct {
	Key   []byte
	Reply chan result[*PeerRecord]
}

func (c *GetKadRecordCmd) Run(entries *EventLoopEntries) error {
	rec, err := entries.store.Get(c.Key)
	if err != nil {
		return StoreErr.Wrap(err)
	}
	if rec != nil {
		c.Reply <- result[*PeerRecord]{value: &PeerRecord{Record: rec, Peer: entries.behaviour.host.ID()}}
		return nil
	}

	id := entries.nextQueryID
	entries.nextQueryID++
	entries.pendingQueries[id] = pendingQuery{kind: pendingGetRecord, getReply: c.Reply}

	key := append([]byte(nil), c.Key...)
	if known := entries.providers.Get(key); len(known) > 0 {
		entries.log.Debug("known providers for key", zap.Int("count", len(known)))
	} else {
		go discoverProviders(entries, key)
	}

	go func() {
		value, err := entries.behaviour.dht.GetValue(context.Background(), string(key))
		entries.postEvent(getRecordResult{queryID: id, key: key, value: value, err: err})
	}()
	return nil
}

// discoverProviders asks the DHT who provides key and records the
// answers in the providers index so a later GET of the same key can
// consult a warm cache instead of issuing another provider lookup.
func discoverProviders(entries *EventLoopEntries, key []byte) {
	pcid, err := providerCID(key)
	if err != nil {
		entries.log.Debug("provider cid derivation failed", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for pi := range entries.behaviour.dht.FindProvidersAsync(ctx, pcid, providerLookupLimit) {
		entries.providers.Add(key, pi.ID)
		entries.behaviour.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, peerstore.TempAddrTTL)
	}
}

func (c *GetKadRecordCmd) Abort(err error) {
	c.Reply <- result[*PeerRecord]{err: err}
}

// PutKadRecord writes records to the local store and dispatches one DHT
// PutValue per record, all tagged under the same block number so their
// completions accumulate into one BlockStat.
type PutKadRecordCmd struct {
	Records []*kadstore.Record
	Block   uint32
}

func (c *PutKadRecordCmd) Run(entries *EventLoopEntries) error {
	if len(c.Records) == 0 {
		return nil
	}

	stat, exists := entries.activeBlocks[c.Block]
	if !exists {
		stat = newBlockStat(len(c.Records))
		entries.activeBlocks[c.Block] = stat
	} else {
		stat.TotalCount += len(c.Records)
		stat.RemainingCounter += len(c.Records)
	}

	for _, rec := range c.Records {
		rec := rec
		if err := entries.store.Put(rec); err != nil {
			entries.log.Debug("local record store put failed", zap.Error(err))
		}
		entries.providers.Add(rec.Key, entries.behaviour.host.ID())

		go func() {
			err := entries.behaviour.dht.PutValue(context.Background(), string(rec.Key), rec.Value)
			entries.postEvent(putRecordResult{block: c.Block, err: err})
		}()
		go func() {
			pcid, err := providerCID(rec.Key)
			if err != nil {
				entries.log.Debug("provider cid derivation failed", zap.Error(err))
				return
			}
			if err := entries.behaviour.dht.Provide(context.Background(), pcid, true); err != nil {
				entries.log.Debug("provider advertisement failed", zap.Binary("key", rec.Key), zap.Error(err))
			}
		}()
	}
	return nil
}

func (c *PutKadRecordCmd) Abort(error) {}

// CountKademliaPeers scans the routing table for total peer count and how
// many of them are reachable at a globally routable address.
type CountKademliaPeersCmd struct {
	Reply chan result[PeerCounts]
}

func (c *CountKademliaPeersCmd) Run(entries *EventLoopEntries) error {
	peers := entries.behaviour.dht.RoutingTable().ListPeers()
	counts := PeerCounts{Total: len(peers), ProvidedKeys: entries.providers.KeyCount()}
	for _, p := range peers {
		for _, addr := range entries.behaviour.host.Peerstore().Addrs(p) {
			if IsMultiaddrGlobal(addr) {
				counts.WithPublicAddr++
				break
			}
		}
	}
	c.Reply <- result[PeerCounts]{value: counts}
	return nil
}

func (c *CountKademliaPeersCmd) Abort(err error) {
	c.Reply <- result[PeerCounts]{err: err}
}

// GetLocalInfo snapshots this node's identity, mode, and listen addresses.
type GetLocalInfoCmd struct {
	Reply chan result[PeerInfo]
}

func (c *GetLocalInfoCmd) Run(entries *EventLoopEntries) error {
	listeners := entries.behaviour.host.Network().ListenAddresses()
	var public []ma.Multiaddr
	for _, addr := range listeners {
		if IsMultiaddrGlobal(addr) {
			public = append(public, addr)
		}
	}
	c.Reply <- result[PeerInfo]{value: PeerInfo{
		PeerID:          entries.behaviour.host.ID(),
		Mode:            entries.mode,
		Listeners:       listeners,
		PublicListeners: public,
	}}
	return nil
}

func (c *GetLocalInfoCmd) Abort(err error) {
	c.Reply <- result[PeerInfo]{err: err}
}

// GetExternalPeerInfo lists addresses the peerstore holds for a peer.
type GetExternalPeerInfoCmd struct {
	Peer  peer.ID
	Reply chan result[MultiAddressInfo]
}

func (c *GetExternalPeerInfoCmd) Run(entries *EventLoopEntries) error {
	addrs := entries.behaviour.host.Peerstore().Addrs(c.Peer)
	c.Reply <- result[MultiAddressInfo]{value: MultiAddressInfo{Peer: c.Peer, Addresses: addrs}}
	return nil
}

func (c *GetExternalPeerInfoCmd) Abort(err error) {
	c.Reply <- result[MultiAddressInfo]{err: err}
}

// ListConnectedPeers returns the peers with an active connection.
type ListConnectedPeersCmd struct {
	Reply chan result[[]peer.ID]
}

func (c *ListConnectedPeersCmd) Run(entries *EventLoopEntries) error {
	c.Reply <- result[[]peer.ID]{value: entries.behaviour.host.Network().Peers()}
	return nil
}

func (c *ListConnectedPeersCmd) Abort(err error) {
	c.Reply <- result[[]peer.ID]{err: err}
}

// ReconfigureKademliaMode re-evaluates the client/server transition rules
// against current reachability and host resources.
type ReconfigureKademliaModeCmd struct {
	MemoryThreshold float64
	CPUThreshold    int
	Signals         hostSignals
	Reply           chan result[Mode]
}

func (c *ReconfigureKademliaModeCmd) Run(entries *EventLoopEntries) error {
	hasExternal := false
	for _, addr := range entries.behaviour.host.Network().ListenAddresses() {
		if IsMultiaddrGlobal(addr) {
			hasExternal = true
			break
		}
	}

	memGB, err := c.Signals.MemoryGB()
	if err != nil {
		return Error.Wrap(err)
	}
	cpus := c.Signals.CPUCount()

	newMode := reconfigureMode(entries.mode, hasExternal, memGB, cpus, c.MemoryThreshold, c.CPUThreshold)
	if newMode != entries.mode {
		entries.mode = newMode
		entries.behaviour.dht.SetMode(toDHTMode(newMode))
	}
	c.Reply <- result[Mode]{value: newMode}
	return nil
}

func (c *ReconfigureKademliaModeCmd) Abort(err error) {
	c.Reply <- result[Mode]{err: err}
}

// ReduceKademliaMapSize triggers the record store's shrink pass.
type ReduceKademliaMapSizeCmd struct {
	Reply chan result[struct{}]
}

func (c *ReduceKademliaMapSizeCmd) Run(entries *EventLoopEntries) error {
	if err := entries.store.Shrink(); err != nil {
		return StoreErr.Wrap(err)
	}
	c.Reply <- result[struct{}]{}
	return nil
}

func (c *ReduceKademliaMapSizeCmd) Abort(err error) {
	c.Reply <- result[struct{}]{err: err}
}

// GetKademliaMapSize returns the current record count.
type GetKademliaMapSizeCmd struct {
	Reply chan result[int]
}

func (c *GetKademliaMapSizeCmd) Run(entries *EventLoopEntries) error {
	records, err := entries.store.Records()
	if err != nil {
		return StoreErr.Wrap(err)
	}
	c.Reply <- result[int]{value: len(records)}
	return nil
}

func (c *GetKademliaMapSizeCmd) Abort(err error) {
	c.Reply <- result[int]{err: err}
}

// PruneExpiredRecords retains only records not expired as of Now.
type PruneExpiredRecordsCmd struct {
	Now   time.Time
	Reply chan result[int]
}

func (c *PruneExpiredRecordsCmd) Run(entries *EventLoopEntries) error {
	var expiredKeys [][]byte
	removed, err := entries.store.Retain(func(r *kadstore.Record) bool {
		if r.Expired(c.Now) {
			expiredKeys = append(expiredKeys, append([]byte(nil), r.Key...))
			return false
		}
		return true
	})
	if err != nil {
		return StoreErr.Wrap(err)
	}
	local := entries.behaviour.host.ID()
	for _, key := range expiredKeys {
		entries.providers.Remove(key, local)
	}
	c.Reply <- result[int]{value: removed}
	return nil
}

func (c *PruneExpiredRecordsCmd) Abort(err error) {
	c.Reply <- result[int]{err: err}
}
