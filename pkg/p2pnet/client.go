// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
	"gopkg.in/spacemonkeygo/monkit.v2"

	"github.com/dastore/p2p/pkg/kadstore"
)

var mon = monkit.Package()

// BootstrapNode is one entry of the address book a client dials into on
// startup.
type BootstrapNode struct {
	Peer  peer.ID
	Addrs []ma.Multiaddr
}

// Client is the public facade: each request/reply method allocates a
// reply channel, submits a command carrying it, and awaits the reply;
// AddAddress and the Insert*IntoDHT methods submit without a reply
// channel and return once the command is queued. Nothing here
// touches network state directly -- that is the event loop's exclusive
// job.
type Client struct {
	loop *EventLoop
	log  *zap.Logger
	cfg  Config
}

// NewClient wraps an already-running EventLoop.
func NewClient(log *zap.Logger, cfg Config, loop *EventLoop) *Client {
	return &Client{loop: loop, log: log, cfg: cfg}
}

func submit[T any](c *Client, cmd Command, reply chan result[T]) (T, error) {
	if err := c.loop.Submit(cmd); err != nil {
		var zero T
		return zero, err
	}
	r := <-reply
	return r.value, r.err
}

// StartListening registers addr as a new listen address.
func (c *Client) StartListening(ctx context.Context, addr ma.Multiaddr) (err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[struct{}], 1)
	_, err = submit(c, &StartListeningCmd{Addr: addr, Reply: reply}, reply)
	return err
}

// AddAddress inserts peer/addr into the Kademlia routing table. It does
// not wait for acknowledgement from the event loop beyond the submit
// itself succeeding.
func (c *Client) AddAddress(peerID peer.ID, addr ma.Multiaddr) error {
	return c.loop.Submit(&AddAddressCmd{Peer: peerID, Addr: addr})
}

// DialPeer dials peerID at addrs and waits for the first observed
// connection.
func (c *Client) DialPeer(ctx context.Context, peerID peer.ID, addrs []ma.Multiaddr) (info ConnectionEstablishedInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[ConnectionEstablishedInfo], 1)
	return submit(c, &DialPeerCmd{Peer: peerID, Addrs: addrs, Reply: reply}, reply)
}

// Bootstrap starts a Kademlia bootstrap round and waits for it to
// terminate.
func (c *Client) Bootstrap(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[struct{}], 1)
	_, err = submit(c, &BootstrapCmd{Reply: reply}, reply)
	return err
}

// AddAutonatServer registers peer/addr as an AutoNAT reachability probe
// candidate.
func (c *Client) AddAutonatServer(ctx context.Context, peerID peer.ID, addr ma.Multiaddr) (err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[struct{}], 1)
	_, err = submit(c, &AddAutonatServerCmd{Peer: peerID, Addr: addr, Reply: reply}, reply)
	return err
}

// BootstrapOnStartup dials every configured bootstrap node in sequence --
// dial, add to the routing table, register as an AutoNAT server -- then
// bootstraps. The first failure anywhere in the sequence aborts it; a
// bootstrap peer that never connects must never reach the routing table,
// so the per-node steps are strictly ordered.
func (c *Client) BootstrapOnStartup(ctx context.Context, nodes []BootstrapNode) (err error) {
	defer mon.Task()(&ctx)(&err)

	for _, node := range nodes {
		info, err := c.DialPeer(ctx, node.Peer, node.Addrs)
		if err != nil {
			return err
		}
		if err := c.AddAddress(node.Peer, firstAddr(info.Addrs, node.Addrs)); err != nil {
			return err
		}
		if err := c.AddAutonatServer(ctx, node.Peer, firstAddr(info.Addrs, node.Addrs)); err != nil {
			return err
		}
	}
	return c.Bootstrap(ctx)
}

func firstAddr(preferred, fallback []ma.Multiaddr) ma.Multiaddr {
	if len(preferred) > 0 {
		return preferred[0]
	}
	return fallback[0]
}

// WaitForBootstrap blocks until the first successful Bootstrap call
// completes, or ctx is done.
func (c *Client) WaitForBootstrap(ctx context.Context) error {
	select {
	case <-c.loop.Bootstrapped():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) getKadRecord(key []byte) (*PeerRecord, error) {
	reply := make(chan result[*PeerRecord], 1)
	return submit(c, &GetKadRecordCmd{Key: key, Reply: reply}, reply)
}

// FetchCellsFromDHT fetches the cells at positions for block, chunked by
// DHTParallelizationLimit so no more than that many GETs are in flight at
// once. A missing or malformed value (not exactly CellSize bytes) is
// reported as unfetched rather than surfaced as an error.
func (c *Client) FetchCellsFromDHT(ctx context.Context, block uint32, positions []Position) (fetched []Cell, unfetched []Position, err error) {
	defer mon.Task()(&ctx)(&err)

	limit := c.cfg.DHTParallelizationLimit
	if limit <= 0 {
		limit = 1
	}

	for start := 0; start < len(positions); start += limit {
		end := start + limit
		if end > len(positions) {
			end = len(positions)
		}
		chunk := positions[start:end]

		type chunkResult struct {
			pos Position
			rec *PeerRecord
			err error
		}
		results := make(chan chunkResult, len(chunk))
		for _, pos := range chunk {
			pos := pos
			go func() {
				rec, err := c.getKadRecord(cellReference(block, pos))
				results <- chunkResult{pos: pos, rec: rec, err: err}
			}()
		}
		for range chunk {
			r := <-results
			if r.err != nil || len(r.rec.Record.Value) != CellSize {
				if r.err == nil {
					c.log.Debug("cannot convert cell into expected size",
						zap.Int("position_row", int(r.pos.Row)),
						zap.Int("position_col", int(r.pos.Col)),
						zap.Int("expected", CellSize),
						zap.Int("got", len(r.rec.Record.Value)),
					)
				}
				unfetched = append(unfetched, r.pos)
				continue
			}
			cell := Cell{Position: r.pos}
			copy(cell.Content[:], r.rec.Record.Value)
			fetched = append(fetched, cell)
		}
	}
	return fetched, unfetched, nil
}

// FetchRowsFromDHT fetches the rows at rowIndexes for block, returning a
// sparse vector sized to dims.ExtendedRows() with a nil entry wherever
// the row could not be fetched.
func (c *Client) FetchRowsFromDHT(ctx context.Context, block uint32, dims Dimensions, rowIndexes []RowIndex) (rows [][]byte, err error) {
	defer mon.Task()(&ctx)(&err)

	rows = make([][]byte, dims.ExtendedRows())
	limit := c.cfg.DHTParallelizationLimit
	if limit <= 0 {
		limit = 1
	}

	for start := 0; start < len(rowIndexes); start += limit {
		end := start + limit
		if end > len(rowIndexes) {
			end = len(rowIndexes)
		}
		chunk := rowIndexes[start:end]

		type chunkResult struct {
			row RowIndex
			rec *PeerRecord
			err error
		}
		results := make(chan chunkResult, len(chunk))
		for _, row := range chunk {
			row := row
			go func() {
				rec, err := c.getKadRecord(rowReference(block, row))
				results <- chunkResult{row: row, rec: rec, err: err}
			}()
		}
		for range chunk {
			r := <-results
			if r.err != nil {
				continue
			}
			if int(r.row) < len(rows) {
				rows[r.row] = r.rec.Record.Value
			}
		}
	}
	return rows, nil
}

// InsertCellsIntoDHT builds one record per cell with expires_at = now +
// TTL and dispatches them as a single PutKadRecord tagged with block.
// No quorum is set: each record goes out through a plain DHT PutValue.
// Inserting an empty slice is an error.
func (c *Client) InsertCellsIntoDHT(ctx context.Context, block uint32, cells []Cell) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(cells) == 0 {
		return Error.New("insert cells into DHT: empty cell list")
	}
	expiresAt := time.Now().Add(c.cfg.TTL)
	records := make([]*kadstore.Record, 0, len(cells))
	for _, cell := range cells {
		records = append(records, &kadstore.Record{
			Key:       cellReference(block, cell.Position),
			Value:     append([]byte(nil), cell.Content[:]...),
			ExpiresAt: &expiresAt,
		})
	}
	return c.loop.Submit(&PutKadRecordCmd{Records: records, Block: block})
}

// InsertRowsIntoDHT builds one record per row with expires_at = now +
// TTL and dispatches them as a single PutKadRecord tagged with block.
// No quorum is set: each record goes out through a plain DHT PutValue.
// Inserting an empty slice is an error.
func (c *Client) InsertRowsIntoDHT(ctx context.Context, block uint32, rows map[RowIndex][]byte) (err error) {
	defer mon.Task()(&ctx)(&err)

	if len(rows) == 0 {
		return Error.New("insert rows into DHT: empty row list")
	}
	expiresAt := time.Now().Add(c.cfg.TTL)
	records := make([]*kadstore.Record, 0, len(rows))
	for row, value := range rows {
		records = append(records, &kadstore.Record{
			Key:       rowReference(block, row),
			Value:     value,
			ExpiresAt: &expiresAt,
		})
	}
	return c.loop.Submit(&PutKadRecordCmd{Records: records, Block: block})
}

// CountDHTEntries scans the routing table for total peer count, how many
// advertise a globally routable address, and how many keys this node
// currently tracks providers for.
func (c *Client) CountDHTEntries(ctx context.Context) (counts PeerCounts, err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[PeerCounts], 1)
	return submit(c, &CountKademliaPeersCmd{Reply: reply}, reply)
}

// ListConnectedPeers returns the peers with an active connection.
func (c *Client) ListConnectedPeers(ctx context.Context) (peers []peer.ID, err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[[]peer.ID], 1)
	return submit(c, &ListConnectedPeersCmd{Reply: reply}, reply)
}

// ReconfigureKademliaMode re-evaluates the client/server transition rules
// and returns the resulting mode.
func (c *Client) ReconfigureKademliaMode(ctx context.Context, memoryThreshold float64, cpuThreshold int) (mode Mode, err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[Mode], 1)
	return submit(c, &ReconfigureKademliaModeCmd{
		MemoryThreshold: memoryThreshold,
		CPUThreshold:    cpuThreshold,
		Signals:         gopsutilHostSignals{},
		Reply:           reply,
	}, reply)
}

// GetLocalInfo snapshots this node's identity, mode, and listen addresses.
func (c *Client) GetLocalInfo(ctx context.Context) (info PeerInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[PeerInfo], 1)
	return submit(c, &GetLocalInfoCmd{Reply: reply}, reply)
}

// GetExternalPeerInfo lists the addresses the host's peerstore holds for
// peer; the Kademlia routing table is not consulted.
func (c *Client) GetExternalPeerInfo(ctx context.Context, peerID peer.ID) (info MultiAddressInfo, err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[MultiAddressInfo], 1)
	return submit(c, &GetExternalPeerInfoCmd{Peer: peerID, Reply: reply}, reply)
}

// ShrinkKademliaMap triggers the record store's shrink pass.
func (c *Client) ShrinkKademliaMap(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[struct{}], 1)
	_, err = submit(c, &ReduceKademliaMapSizeCmd{Reply: reply}, reply)
	return err
}

// GetKademliaMapSize returns the current record count.
func (c *Client) GetKademliaMapSize(ctx context.Context) (count int, err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[int], 1)
	return submit(c, &GetKademliaMapSizeCmd{Reply: reply}, reply)
}

// PruneExpiredRecords retains only records not expired as of now.
func (c *Client) PruneExpiredRecords(ctx context.Context, now time.Time) (removed int, err error) {
	defer mon.Task()(&ctx)(&err)
	reply := make(chan result[int], 1)
	return submit(c, &PruneExpiredRecordsCmd{Now: now, Reply: reply}, reply)
}
