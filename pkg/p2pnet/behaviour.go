// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"context"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/connmgr"
	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/host/autonat"
	netconnmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/protocol/identify"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	"github.com/libp2p/go-libp2p/p2p/transport/websocket"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/dastore/p2p/pkg/kadstore"
)

// blockListGater implements connmgr.ConnectionGater over a plain set of
// denied peers, giving operators a way to deny specific peers at the
// connection layer.
type blockListGater struct {
	mu      sync.RWMutex
	blocked map[peer.ID]struct{}
}

func newBlockListGater() *blockListGater {
	return &blockListGater{blocked: make(map[peer.ID]struct{})}
}

func (g *blockListGater) Block(id peer.ID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[id] = struct{}{}
}

func (g *blockListGater) isBlocked(id peer.ID) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, blocked := g.blocked[id]
	return blocked
}

func (g *blockListGater) InterceptPeerDial(id peer.ID) bool { return !g.isBlocked(id) }
func (g *blockListGater) InterceptAddrDial(id peer.ID, _ ma.Multiaddr) bool {
	return !g.isBlocked(id)
}
func (g *blockListGater) InterceptAccept(network.ConnMultiaddrs) bool { return true }
func (g *blockListGater) InterceptSecured(_ network.Direction, id peer.ID, _ network.ConnMultiaddrs) bool {
	return !g.isBlocked(id)
}
func (g *blockListGater) InterceptUpgraded(network.Conn) (bool, control.DisconnectReason) {
	return true, 0
}

var _ connmgr.ConnectionGater = (*blockListGater)(nil)

// Behaviour bundles every libp2p sub-protocol this node runs: one driver,
// one set of sub-behaviours, all owned exclusively by the event loop
// goroutine.
type Behaviour struct {
	host     host.Host
	dht      *dht.IpfsDHT
	ping     *ping.PingService
	identify *identify.IDService
	autonat  autonat.AutoNAT
	mdns     mdns.Service
	gater    *blockListGater
}

// newBehaviour builds the libp2p host and every sub-behaviour from cfg.
// Relay-client capability, DCUtR hole punching, and UPnP port mapping are
// host construction options in go-libp2p rather than standalone service
// objects, so they are enabled here via libp2p.New rather than held as
// separate fields.
func newBehaviour(ctx context.Context, log *zap.Logger, cfg Config, priv crypto.PrivKey, store kadstore.Store) (*Behaviour, error) {
	gater := newBlockListGater()

	var transportOpt libp2p.Option
	if cfg.IsWsTransport {
		transportOpt = libp2p.Transport(websocket.New)
	} else {
		transportOpt = libp2p.ChainOptions(libp2p.DefaultTransports, libp2p.DefaultMuxers)
	}

	// ConnectionIdleTimeout maps onto the connection manager's grace
	// period. MaxNegotiatingInboundStreams, TaskCommandBufferSize,
	// DialConcurrencyFactor and PerConnectionEventBufferSize are not
	// passed to go-libp2p; the host runs with its own defaults for them.
	cm, err := netconnmgr.NewConnManager(160, 192, netconnmgr.WithGracePeriod(cfg.ConnectionIdleTimeout))
	if err != nil {
		return nil, TransportErr.Wrap(err)
	}

	var kadDHT *dht.IpfsDHT
	opts := []libp2p.Option{
		transportOpt,
		libp2p.Identity(priv),
		libp2p.ConnectionGater(gater),
		libp2p.EnableRelay(),
		libp2p.EnableHolePunching(),
		libp2p.EnableNATService(),
		libp2p.NATPortMap(),
		libp2p.ConnectionManager(cm),
		libp2p.Routing(func(h host.Host) (routing.PeerRouting, error) {
			var err error
			kadDHT, err = buildDHT(ctx, h, cfg)
			return kadDHT, err
		}),
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, TransportErr.Wrap(err)
	}
	if kadDHT == nil {
		return nil, TransportErr.New("kademlia DHT was not constructed alongside the host")
	}

	kadDHT.SetMode(toDHTMode(cfg.Kademlia.KademliaMode))

	idService, err := identify.NewIDService(h,
		identify.UserAgent(cfg.Identify.AgentVersion),
		identify.ProtocolVersion(cfg.Identify.ProtocolVersion),
	)
	if err != nil {
		return nil, TransportErr.Wrap(err)
	}
	idService.Start()

	pingService := ping.NewPingService(h)

	autonatClient, err := autonat.New(h,
		autonat.WithThrottling(1, cfg.Autonat.ThrottleServerPeriod),
		autonat.WithSchedule(cfg.Autonat.RetryInterval, cfg.Autonat.RefreshInterval),
	)
	if err != nil {
		return nil, TransportErr.Wrap(err)
	}

	mdnsService := mdns.NewMdnsService(h, cfg.Identify.ProtocolVersion, &discoveryNotifee{host: h, log: log})
	if err := mdnsService.Start(); err != nil {
		return nil, TransportErr.Wrap(err)
	}

	log.Info("local peer ID", zap.String("peer_id", h.ID().String()))

	return &Behaviour{
		host:     h,
		dht:      kadDHT,
		ping:     pingService,
		identify: idService,
		autonat:  autonatClient,
		mdns:     mdnsService,
		gater:    gater,
	}, nil
}

func buildDHT(ctx context.Context, h host.Host, cfg Config) (*dht.IpfsDHT, error) {
	mode := dht.ModeClient
	if cfg.Kademlia.KademliaMode == ModeServer {
		mode = dht.ModeServer
	}
	return dht.New(ctx, h, dht.Mode(mode))
}

func toDHTMode(m Mode) dht.ModeOpt {
	if m == ModeServer {
		return dht.ModeServer
	}
	return dht.ModeClient
}

// discoveryNotifee bridges mDNS peer discovery into the host's peerstore,
// dialing discovered peers the way a light client should opportunistically
// join the local mesh.
type discoveryNotifee struct {
	host host.Host
	log  *zap.Logger
}

func (n *discoveryNotifee) HandlePeerFound(pi peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := n.host.Connect(ctx, pi); err != nil {
		n.log.Debug("mDNS discovered peer could not be dialed", zap.String("peer", pi.ID.String()), zap.Error(err))
	}
}

// Close tears down every sub-behaviour and the host itself.
func (b *Behaviour) Close() error {
	var err error
	if cerr := b.mdns.Close(); cerr != nil {
		err = Error.Wrap(cerr)
	}
	b.identify.Close()
	if cerr := b.dht.Close(); cerr != nil {
		err = Error.Wrap(cerr)
	}
	if cerr := b.host.Close(); cerr != nil {
		err = Error.Wrap(cerr)
	}
	return err
}
