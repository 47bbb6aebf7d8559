// Copyright (C) 2024 dastore authors.
// See LICENSE for copying information.

package p2pnet

import (
	"net"

	ma "github.com/multiformats/go-multiaddr"
)

var (
	documentationRanges = []*net.IPNet{
		mustParseCIDR("192.0.2.0/24"),
		mustParseCIDR("198.51.100.0/24"),
		mustParseCIDR("203.0.113.0/24"),
	}
	benchmarkingRange = mustParseCIDR("198.18.0.0/15")
	futureProtoRange  = mustParseCIDR("192.0.0.0/24")
	broadcastAddr     = net.IPv4bcast
)

func mustParseCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// IsGlobal reports whether ip appears to be globally reachable: not
// private, loopback, link-local, documentation-range, benchmarking-range,
// reserved future-protocol space, or the broadcast address.
func IsGlobal(ip net.IP) bool {
	ip4 := ip.To4()
	if ip4 == nil {
		return false
	}

	if ip4[0] == 0 {
		return false
	}
	if ip4.IsPrivate() {
		return false
	}
	if ip4.IsLoopback() {
		return false
	}
	if ip4.IsLinkLocalUnicast() {
		return false
	}
	// 192.0.0.0/24 is reserved for future protocols, except .9 and .10
	// which IANA documents as globally reachable.
	if futureProtoRange.Contains(ip4) && ip4[3] != 9 && ip4[3] != 10 {
		return false
	}
	for _, r := range documentationRanges {
		if r.Contains(ip4) {
			return false
		}
	}
	if benchmarkingRange.Contains(ip4) {
		return false
	}
	if ip4.Equal(broadcastAddr) {
		return false
	}
	return true
}

// IsMultiaddrGlobal reports whether any IPv4 component of address is
// globally reachable.
func IsMultiaddrGlobal(address ma.Multiaddr) bool {
	if address == nil {
		return false
	}
	global := false
	ma.ForEach(address, func(c ma.Component) bool {
		if c.Protocol().Code != ma.P_IP4 {
			return true
		}
		ip := net.ParseIP(c.Value())
		if ip != nil && IsGlobal(ip) {
			global = true
			return false
		}
		return true
	})
	return global
}
