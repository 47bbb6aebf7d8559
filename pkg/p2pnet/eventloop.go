// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/dastore/p2p/pkg/kadstore"
)

// EventLoopEntries is the mutable bundle a Command gets exclusive access
// to while it runs: the behaviour composite, the record store, the
// pending-query and pending-dial tables, the active-blocks map, and the
// current mode. The pending tables, active-blocks map and mode are only
// touched on the event loop goroutine; background goroutines spawned by
// commands use behaviour (host and DHT calls), the mutex-guarded
// providers index, log, and postEvent.
type EventLoopEntries struct {
	behaviour *Behaviour
	store     kadstore.Store
	providers *kadstore.Providers
	log       *zap.Logger
	mode      Mode

	pendingQueries map[uint64]pendingQuery
	pendingDials   map[peer.ID]pendingDial
	activeBlocks   map[uint32]*BlockStat
	nextQueryID    uint64

	events   chan asyncEvent
	shutdown chan struct{}

	bootstrapped  chan struct{}
	bootstrapOnce sync.Once
}

// postEvent hands an asynchronous result back to the event loop. It is
// called from background goroutines spawned by Commands and from the
// host's connection notifications, never from inside Run, so blocking
// here does not violate the non-blocking Run contract.
func (e *EventLoopEntries) postEvent(ev asyncEvent) {
	select {
	case e.events <- ev:
	case <-e.shutdown:
	}
}

type pendingQueryKind int

const (
	pendingGetRecord pendingQueryKind = iota
	pendingBootstrap
)

type pendingQuery struct {
	kind      pendingQueryKind
	getReply  chan result[*PeerRecord]
	bootReply chan result[struct{}]
}

type pendingDial struct {
	reply chan result[ConnectionEstablishedInfo]
}

// asyncEvent is a result arriving from a background goroutine a Command
// spawned (a DHT round trip, a dial attempt) or from the host's own
// connectedness notifications. The event loop applies these serially,
// interleaved with Command.Run calls, so pending-table mutation always
// happens on a single goroutine.
type asyncEvent interface {
	apply(e *EventLoopEntries)
}

type connectedEvent struct {
	peer peer.ID
}

func (ev connectedEvent) apply(e *EventLoopEntries) {
	pending, ok := e.pendingDials[ev.peer]
	if !ok {
		return
	}
	delete(e.pendingDials, ev.peer)
	addrs := e.behaviour.host.Peerstore().Addrs(ev.peer)
	pending.reply <- result[ConnectionEstablishedInfo]{value: ConnectionEstablishedInfo{Peer: ev.peer, Addrs: addrs}}
}

type dialFailedEvent struct {
	peer peer.ID
	err  error
}

func (ev dialFailedEvent) apply(e *EventLoopEntries) {
	pending, ok := e.pendingDials[ev.peer]
	if !ok {
		return
	}
	delete(e.pendingDials, ev.peer)
	pending.reply <- result[ConnectionEstablishedInfo]{err: TransportErr.Wrap(ev.err)}
}

type getRecordResult struct {
	queryID uint64
	key     []byte
	value   []byte
	err     error
}

func (ev getRecordResult) apply(e *EventLoopEntries) {
	pending, ok := e.pendingQueries[ev.queryID]
	if !ok {
		return
	}
	delete(e.pendingQueries, ev.queryID)

	if ev.err != nil {
		pending.getReply <- result[*PeerRecord]{err: NotFoundErr.Wrap(ev.err)}
		return
	}
	rec := &kadstore.Record{Key: ev.key, Value: ev.value}
	if err := e.store.Put(rec); err != nil {
		e.log.Debug("caching DHT GET result failed", zap.Error(err))
	}
	pending.getReply <- result[*PeerRecord]{value: &PeerRecord{Record: rec, Peer: e.behaviour.host.ID()}}
}

type putRecordResult struct {
	block uint32
	err   error
}

func (ev putRecordResult) apply(e *EventLoopEntries) {
	stat, ok := e.activeBlocks[ev.block]
	if !ok {
		e.log.Debug("put result for unknown block", zap.Uint32("block", ev.block))
		return
	}
	stat.IncreaseBlockStatCounters(ev.err == nil)
	if stat.RemainingCounter <= 0 {
		delete(e.activeBlocks, ev.block)
		e.log.Debug("block PUTs complete",
			zap.Uint32("block", ev.block),
			zap.Int("success", stat.SuccessCounter),
			zap.Int("error", stat.ErrorCounter),
			zap.Duration("elapsed", stat.TimeStat),
		)
	}
}

type bootstrapResult struct {
	queryID uint64
	err     error
}

func (ev bootstrapResult) apply(e *EventLoopEntries) {
	pending, ok := e.pendingQueries[ev.queryID]
	if !ok {
		return
	}
	delete(e.pendingQueries, ev.queryID)
	if ev.err != nil {
		pending.bootReply <- result[struct{}]{err: BootstrapErr.Wrap(ev.err)}
		return
	}
	e.bootstrapOnce.Do(func() { close(e.bootstrapped) })
	pending.bootReply <- result[struct{}]{}
}

// commandQueue is an unbounded multi-producer queue: push never blocks
// the caller on backpressure from the consumer, only on a short internal
// mutex. A single pump goroutine drains it into a small buffered channel
// the event loop selects on.
type commandQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []Command
	closed bool
}

func newCommandQueue() *commandQueue {
	q := &commandQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *commandQueue) push(cmd Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return QueueClosedErr.New("command queue closed")
	}
	q.buf = append(q.buf, cmd)
	q.cond.Signal()
	return nil
}

func (q *commandQueue) pop() (Command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.buf) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.buf) == 0 {
		return nil, false
	}
	cmd := q.buf[0]
	q.buf = q.buf[1:]
	return cmd, true
}

func (q *commandQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// connNotifiee bridges the host's real connectedness events into the
// event loop's async-event channel, scoped down to the one transition a
// DialPeer reply cares about.
type connNotifiee struct {
	entries *EventLoopEntries
}

func (n *connNotifiee) Listen(network.Network, ma.Multiaddr)      {}
func (n *connNotifiee) ListenClose(network.Network, ma.Multiaddr) {}
func (n *connNotifiee) Disconnected(network.Network, network.Conn) {}

func (n *connNotifiee) Connected(_ network.Network, conn network.Conn) {
	n.entries.postEvent(connectedEvent{peer: conn.RemotePeer()})
}

// EventLoop is the single cooperative task that owns the behaviour
// composite and every piece of mutable network state. All other
// goroutines interact with it exclusively through Submit.
type EventLoop struct {
	entries *EventLoopEntries
	queue   *commandQueue
	feed    chan Command
	done    chan struct{}
}

// NewEventLoop wires a fresh event loop around an already-constructed
// behaviour composite and record store, with its initial Kademlia mode.
func NewEventLoop(log *zap.Logger, behaviour *Behaviour, store kadstore.Store, providers *kadstore.Providers, initialMode Mode) *EventLoop {
	entries := &EventLoopEntries{
		behaviour:      behaviour,
		store:          store,
		providers:      providers,
		log:            log,
		mode:           initialMode,
		pendingQueries: make(map[uint64]pendingQuery),
		pendingDials:   make(map[peer.ID]pendingDial),
		activeBlocks:   make(map[uint32]*BlockStat),
		events:         make(chan asyncEvent, 256),
		shutdown:       make(chan struct{}),
		bootstrapped:   make(chan struct{}),
	}
	behaviour.host.Network().Notify(&connNotifiee{entries: entries})

	return &EventLoop{
		entries: entries,
		queue:   newCommandQueue(),
		feed:    make(chan Command),
		done:    make(chan struct{}),
	}
}

// Submit enqueues a command for processing by Run. It never blocks on
// the event loop's own pace, only on the queue's internal mutex.
func (l *EventLoop) Submit(cmd Command) error {
	return l.queue.push(cmd)
}

// Stop drops the last command sender, letting Run drain pending commands
// and terminate after its current iteration, then tears down the
// behaviour composite and the host beneath it.
func (l *EventLoop) Stop() {
	l.queue.close()
	<-l.done
	if err := l.entries.behaviour.Close(); err != nil {
		l.entries.log.Warn("error closing behaviour composite", zap.Error(err))
	}
}

// Run pumps commands from the unbounded queue into the select loop and
// processes commands and async events until Stop is called, aborting
// every command still pending at shutdown with QueueClosedErr.
func (l *EventLoop) Run() {
	go l.pump()

	for {
		select {
		case cmd, ok := <-l.feed:
			if !ok {
				l.drainOnShutdown()
				close(l.done)
				return
			}
			if err := cmd.Run(l.entries); err != nil {
				cmd.Abort(err)
			}
		case ev := <-l.entries.events:
			ev.apply(l.entries)
		}
	}
}

// Done is closed once Run has fully drained and returned.
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

// Bootstrapped is closed the first time a Bootstrap command completes
// successfully, letting callers other than BootstrapOnStartup wait for
// the initial routing-table refresh without polling.
func (l *EventLoop) Bootstrapped() <-chan struct{} {
	return l.entries.bootstrapped
}

func (l *EventLoop) pump() {
	defer close(l.feed)
	for {
		cmd, ok := l.queue.pop()
		if !ok {
			return
		}
		l.feed <- cmd
	}
}

func (l *EventLoop) drainOnShutdown() {
	close(l.entries.shutdown)
	err := QueueClosedErr.New("event loop stopped")
	for _, pending := range l.entries.pendingDials {
		pending.reply <- result[ConnectionEstablishedInfo]{err: err}
	}
	for _, pending := range l.entries.pendingQueries {
		switch pending.kind {
		case pendingGetRecord:
			pending.getReply <- result[*PeerRecord]{err: err}
		case pendingBootstrap:
			pending.bootReply <- result[struct{}]{err: err}
		}
	}
}
