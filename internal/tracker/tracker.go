// Package tracker implements the HTTP tracker GET request/response
// cycle and the compact/non-compact peer-list encodings shared with
// the DHT adapter.
package tracker

import (
	"fmt"
	"net"
)

// Peer is a discovered (ip, port) endpoint. Uniqueness downstream is
// by endpoint equality, so Peer deliberately carries nothing else.
type Peer struct {
	IP   string
	Port uint16
}

// Endpoint returns the "ip:port" form used as the uniqueness key by
// the swarm supervisor's known-peers set.
func (p Peer) Endpoint() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// --------------------------------------------------------------------------------------------- //

/*
ParseCompactPeers decodes a compact peer list: consecutive 6-byte
records of <4:ipv4><2:port>, big-endian.

Parameters:
  - b: the raw compact peer bytes from a tracker or DHT reply.

Returns:
  - []Peer: one entry per 6-byte record, in order.
  - error: non-nil if len(b) is not a multiple of 6.
*/
func ParseCompactPeers(b []byte) ([]Peer, error) {
	if len(b)%6 != 0 {
		return nil, fmt.Errorf("tracker: compact peers length %d is not a multiple of 6", len(b))
	}

	peers := make([]Peer, 0, len(b)/6)
	for i := 0; i < len(b); i += 6 {
		ip := net.IPv4(b[i], b[i+1], b[i+2], b[i+3]).String()
		port := uint16(b[i+4])<<8 | uint16(b[i+5])
		peers = append(peers, Peer{IP: ip, Port: port})
	}

	return peers, nil
}

// DictPeer is the shape of one entry in a tracker's non-compact peer
// list: a dict with "ip" (string) and "port" (integer).
type DictPeer struct {
	IP   string `bencode:"ip"`
	Port int    `bencode:"port"`
}

// ParseDictPeers converts the non-compact (list-of-dicts) peer form
// into Peer values.
func ParseDictPeers(entries []DictPeer) []Peer {
	peers := make([]Peer, 0, len(entries))
	for _, e := range entries {
		peers = append(peers, Peer{IP: e.IP, Port: uint16(e.Port)})
	}
	return peers
}
