// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import "time"

// IdentifyConfig holds the static identify handshake values. They cannot
// be changed once the host is built: the identify protocol has no
// mechanism for re-announcing a new agent string mid-connection, so Mode
// transitions never touch these fields.
type IdentifyConfig struct {
	ProtocolVersion string `help:"identify protocol version string" default:"/dastore/id/1.0.0"`
	AgentVersion    string `help:"identify agent version string" default:"dastore-light-client"`
}

// AutonatConfig tunes the AutoNAT client's reachability probing cadence.
// newBehaviour passes RetryInterval, RefreshInterval and
// ThrottleServerPeriod to the AutoNAT client; BootDelay and OnlyGlobalIPs
// are carried here but not passed to it.
type AutonatConfig struct {
	RetryInterval        time.Duration `help:"delay between reachability probe retries" default:"90s"`
	RefreshInterval      time.Duration `help:"delay between reachability probe refreshes" default:"15m"`
	BootDelay            time.Duration `help:"delay before the first reachability probe" default:"15s"`
	ThrottleServerPeriod time.Duration `help:"minimum delay between serving two probes from the same peer" default:"90s"`
	OnlyGlobalIPs        bool          `help:"only dial back candidate addresses that are globally routable" default:"true"`
}

// KademliaConfig controls the initial Kademlia DHT role.
type KademliaConfig struct {
	KademliaMode Mode `help:"initial Kademlia role: client or server" default:"client"`
}

// Config is the full set of recognized swarm and networking options. It
// is populated by the CLI / flag-parsing collaborator, which is out of
// scope for this module; the struct and its defaults live here so that
// scope boundary is explicit.
type Config struct {
	ConnectionIdleTimeout        time.Duration `help:"close idle connections after this duration" default:"30s"`
	MaxNegotiatingInboundStreams int           `help:"cap on simultaneous inbound stream negotiations" default:"128"`
	TaskCommandBufferSize        int           `help:"per-handler notify buffer size" default:"32"`
	DialConcurrencyFactor        int           `help:"parallel dial attempts per peer" default:"8"`
	PerConnectionEventBufferSize int           `help:"event buffer size per connection" default:"8"`

	Identify IdentifyConfig
	Autonat  AutonatConfig
	Kademlia KademliaConfig

	DHTParallelizationLimit int           `help:"fan-out cap for bulk DHT GETs" default:"8"`
	TTL                     time.Duration `help:"record lifetime once inserted into the DHT" default:"24h"`
	IsWsTransport           bool          `help:"use the websocket transport instead of TCP+DNS" default:"false"`
}

// DefaultConfig returns the recognized options with their documented
// defaults applied, for callers that do not wire up their own flag
// parsing.
func DefaultConfig() Config {
	return Config{
		ConnectionIdleTimeout:        30 * time.Second,
		MaxNegotiatingInboundStreams: 128,
		TaskCommandBufferSize:        32,
		DialConcurrencyFactor:        8,
		PerConnectionEventBufferSize: 8,
		Identify: IdentifyConfig{
			ProtocolVersion: "/dastore/id/1.0.0",
			AgentVersion:    "dastore-light-client",
		},
		Autonat: AutonatConfig{
			RetryInterval:        90 * time.Second,
			RefreshInterval:      15 * time.Minute,
			BootDelay:            15 * time.Second,
			ThrottleServerPeriod: 90 * time.Second,
			OnlyGlobalIPs:        true,
		},
		Kademlia:                 KademliaConfig{KademliaMode: ModeClient},
		DHTParallelizationLimit:  8,
		TTL:                      24 * time.Hour,
		IsWsTransport:            false,
	}
}
