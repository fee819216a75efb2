package tracker

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// UDP tracker protocol constants (BEP 15), adapted from the teacher's
// hand-rolled connect/announce pair. Not named in spec.md's tracker
// section, which only specifies the HTTP GET form, but kept as a
// supplemental announce path the same way the teacher carries it
// alongside HTTP trackers — AnnounceUDP is just another way to reach
// Response, used opportunistically by the swarm supervisor when a
// torrent's announce-list names a udp:// tracker.
const (
	udpProtocolID  uint64 = 0x41727101980
	udpActionConn  uint32 = 0
	udpActionAnnc  uint32 = 1
	udpActionError uint32 = 3
	udpEventNone   uint32 = 0
)

/*
AnnounceUDP performs the BEP 15 connect+announce exchange against a UDP
tracker.

Parameters:
  - announceURL: a "udp://host:port/announce" URL.
  - req: the announce parameters, same shape as the HTTP path.
  - timeout: per-round-trip deadline.

Returns:
  - *Response: peers and interval from a successful announce.
  - error: non-nil on address resolution, dial, or protocol-level
    failure (including a tracker "error" action).
*/
func AnnounceUDP(announceURL string, req AnnounceRequest, timeout time.Duration) (*Response, error) {
	host, err := udpHost(announceURL)
	if err != nil {
		return nil, err
	}

	addr, err := net.ResolveUDPAddr("udp", host)
	if err != nil {
		return nil, fmt.Errorf("tracker: resolving %q: %w", host, err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("tracker: dialing %q: %w", host, err)
	}
	defer conn.Close()

	transactionID := randomUint32()

	connReq := make([]byte, 16)
	binary.BigEndian.PutUint64(connReq[0:8], udpProtocolID)
	binary.BigEndian.PutUint32(connReq[8:12], udpActionConn)
	binary.BigEndian.PutUint32(connReq[12:16], transactionID)

	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(connReq); err != nil {
		return nil, fmt.Errorf("tracker: sending connect: %w", err)
	}

	connResp := make([]byte, 16)
	n, err := conn.Read(connResp)
	if err != nil {
		return nil, fmt.Errorf("tracker: reading connect response: %w", err)
	}
	if n < 16 {
		return nil, fmt.Errorf("tracker: short connect response: %d bytes", n)
	}
	if binary.BigEndian.Uint32(connResp[0:4]) != udpActionConn {
		return nil, fmt.Errorf("tracker: unexpected connect action")
	}
	if binary.BigEndian.Uint32(connResp[4:8]) != transactionID {
		return nil, fmt.Errorf("tracker: connect transaction id mismatch")
	}
	connectionID := binary.BigEndian.Uint64(connResp[8:16])

	annReq := make([]byte, 98)
	binary.BigEndian.PutUint64(annReq[0:8], connectionID)
	binary.BigEndian.PutUint32(annReq[8:12], udpActionAnnc)
	binary.BigEndian.PutUint32(annReq[12:16], transactionID)
	copy(annReq[16:36], req.InfoHash[:])
	copy(annReq[36:56], req.PeerID[:])
	binary.BigEndian.PutUint64(annReq[56:64], req.Downloaded)
	binary.BigEndian.PutUint64(annReq[64:72], req.Left)
	binary.BigEndian.PutUint64(annReq[72:80], req.Uploaded)
	binary.BigEndian.PutUint32(annReq[80:84], udpEventNone)
	// annReq[84:88] IP, left zero (default)
	binary.BigEndian.PutUint32(annReq[88:92], randomUint32()) // key
	binary.BigEndian.PutUint32(annReq[92:96], 0xFFFFFFFF)     // num_want = -1
	binary.BigEndian.PutUint16(annReq[96:98], req.Port)

	conn.SetDeadline(time.Now().Add(timeout))
	if _, err := conn.Write(annReq); err != nil {
		return nil, fmt.Errorf("tracker: sending announce: %w", err)
	}

	annResp := make([]byte, 2048)
	n, err = conn.Read(annResp)
	if err != nil {
		return nil, fmt.Errorf("tracker: reading announce response: %w", err)
	}
	if n < 20 {
		return nil, fmt.Errorf("tracker: short announce response: %d bytes", n)
	}

	action := binary.BigEndian.Uint32(annResp[0:4])
	if action == udpActionError {
		return nil, fmt.Errorf("tracker: error response: %s", annResp[8:n])
	}
	if action != udpActionAnnc {
		return nil, fmt.Errorf("tracker: unexpected announce action %d", action)
	}
	if binary.BigEndian.Uint32(annResp[4:8]) != transactionID {
		return nil, fmt.Errorf("tracker: announce transaction id mismatch")
	}

	interval := binary.BigEndian.Uint32(annResp[8:12])
	peers, err := ParseCompactPeers(annResp[20:n])
	if err != nil {
		return nil, fmt.Errorf("tracker: %w", err)
	}

	return &Response{Peers: peers, Interval: time.Duration(interval) * time.Second}, nil
}

func udpHost(announceURL string) (string, error) {
	const prefix = "udp://"
	if len(announceURL) <= len(prefix) || announceURL[:len(prefix)] != prefix {
		return "", fmt.Errorf("tracker: not a udp:// URL: %q", announceURL)
	}
	host := announceURL[len(prefix):]
	for i, c := range host {
		if c == '/' {
			host = host[:i]
			break
		}
	}
	return host, nil
}

func randomUint32() uint32 {
	var buf [4]byte
	rand.Read(buf[:])
	return binary.BigEndian.Uint32(buf[:])
}
