// Package dht implements the best-effort DHT bootstrap lookup named in
// spec.md §6: a get_peers query fired at a small fixed list of
// well-known nodes, grounded on the original Python reference's
// dht.py. Failures are logged and ignored; this is never the only
// source of peers.
package dht

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/jackpal/bencode-go"

	"bittorrent/internal/tracker"
)

// BootstrapNodes are the well-known DHT routers queried at startup.
var BootstrapNodes = []string{
	"router.bittorrent.com:6881",
	"dht.transmissionbt.com:6881",
	"router.utorrent.com:6881",
}

// PerNodeTimeout bounds how long a single bootstrap node is given to
// reply before moving on.
const PerNodeTimeout = 3 * time.Second

type getPeersQueryArgs struct {
	ID       string `bencode:"id"`
	InfoHash string `bencode:"info_hash"`
}

type getPeersQuery struct {
	T string            `bencode:"t"`
	Y string            `bencode:"y"`
	Q string            `bencode:"q"`
	A getPeersQueryArgs `bencode:"a"`
}

type getPeersReplyBody struct {
	Values []string `bencode:"values"`
}

type getPeersReply struct {
	R getPeersReplyBody `bencode:"r"`
}

// --------------------------------------------------------------------------------------------- //

/*
GetPeers queries every node in BootstrapNodes with a get_peers request
for infoHash and returns the union of any compact peer records found.

Parameters:
  - infoHash: the torrent's info_hash.
  - nodeID: this client's local 20-byte DHT node id.
  - logger: sink for per-node failures, logged at a debug-equivalent
    level and otherwise ignored, per spec.md §7.

Returns:
  - []tracker.Peer: peers discovered across all responding nodes; nil
    if none responded or none reported values.
*/
func GetPeers(infoHash [20]byte, nodeID [20]byte, logger *log.Logger) []tracker.Peer {
	var all []tracker.Peer

	for _, node := range BootstrapNodes {
		peers, err := queryNode(node, infoHash, nodeID)
		if err != nil {
			logger.Printf("[DEBUG]\tDHT node %s: %v\n", node, err)
			continue
		}
		all = append(all, peers...)
	}

	return all
}

func queryNode(node string, infoHash, nodeID [20]byte) ([]tracker.Peer, error) {
	addr, err := net.ResolveUDPAddr("udp", node)
	if err != nil {
		return nil, fmt.Errorf("resolving: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dialing: %w", err)
	}
	defer conn.Close()

	var tid [2]byte
	rand.Read(tid[:])

	query := getPeersQuery{
		T: string(tid[:]),
		Y: "q",
		Q: "get_peers",
		A: getPeersQueryArgs{
			ID:       string(nodeID[:]),
			InfoHash: string(infoHash[:]),
		},
	}

	var buf bytes.Buffer
	if err := bencode.Marshal(&buf, query); err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	conn.SetDeadline(time.Now().Add(PerNodeTimeout))
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return nil, fmt.Errorf("sending query: %w", err)
	}

	resp := make([]byte, 2048)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}

	var reply getPeersReply
	if err := bencode.Unmarshal(bytes.NewReader(resp[:n]), &reply); err != nil {
		return nil, fmt.Errorf("decoding reply: %w", err)
	}

	var peers []tracker.Peer
	for _, v := range reply.R.Values {
		p, err := tracker.ParseCompactPeers([]byte(v))
		if err != nil {
			continue
		}
		peers = append(peers, p...)
	}

	return peers, nil
}
