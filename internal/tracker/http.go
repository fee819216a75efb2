package tracker

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jackpal/bencode-go"
)

// AnnounceRequest carries the parameters sent to an HTTP tracker.
type AnnounceRequest struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Port       uint16
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
}

// Response is the decoded outcome of an announce: either a non-empty
// peer list, or an empty one (on HTTP error or an explicit failure
// reason, per spec.md §6 — the caller is expected to treat both the
// same way: continue with whatever peers are already known).
type Response struct {
	Peers    []Peer
	Interval time.Duration
}

// rawHTTPResponse mirrors the bencoded dictionary a tracker returns.
// Peers is left as interface{} because it may arrive as either a
// compact byte string or a list of {ip, port} dicts.
type rawHTTPResponse struct {
	Failure  string      `bencode:"failure reason"`
	Interval int         `bencode:"interval"`
	Peers    interface{} `bencode:"peers"`
}

// --------------------------------------------------------------------------------------------- //

/*
AnnounceHTTP issues the tracker GET request described in spec.md §6 and
decodes the response.

The query parameters are constructed in the exact order spec.md
requires — info_hash, peer_id, port, uploaded, downloaded, left,
compact=1, numwant=200 — by hand rather than through url.Values.Encode,
which sorts keys alphabetically and would not preserve that order.
info_hash and peer_id are percent-encoded with no characters treated as
safe: every byte, including ASCII letters and digits, is emitted as
%XX, per spec.md's explicit requirement.

Parameters:
  - ctx: cancels the HTTP request.
  - announceURL: the tracker's announce endpoint.
  - req: the announce parameters.
  - client: HTTP client to use (timeout is the caller's responsibility).

Returns:
  - *Response: on HTTP status != 200 or a "failure reason" key present,
    Peers is empty rather than an error — the supervisor is expected to
    continue with peers it already knows.
  - error: non-nil only for request construction/network/decoding
    failures, not tracker-level failure.
*/
func AnnounceHTTP(ctx context.Context, announceURL string, req AnnounceRequest, client *http.Client) (*Response, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: parsing announce URL: %w", err)
	}

	var query strings.Builder
	query.WriteString("info_hash=")
	query.WriteString(percentEncodeAll(req.InfoHash[:]))
	query.WriteString("&peer_id=")
	query.WriteString(percentEncodeAll(req.PeerID[:]))
	fmt.Fprintf(&query, "&port=%d", req.Port)
	fmt.Fprintf(&query, "&uploaded=%d", req.Uploaded)
	fmt.Fprintf(&query, "&downloaded=%d", req.Downloaded)
	fmt.Fprintf(&query, "&left=%d", req.Left)
	query.WriteString("&compact=1")
	query.WriteString("&numwant=200")
	u.RawQuery = query.String()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: building request: %w", err)
	}
	httpReq.Header.Set("User-Agent", "bittorrent/1.0")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("tracker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Response{}, nil
	}

	var raw rawHTTPResponse
	if err := bencode.Unmarshal(resp.Body, &raw); err != nil {
		return nil, fmt.Errorf("tracker: decoding response: %w", err)
	}

	if raw.Failure != "" {
		return &Response{}, nil
	}

	peers, err := decodeResponsePeers(raw.Peers)
	if err != nil {
		return nil, fmt.Errorf("tracker: decoding peers: %w", err)
	}

	return &Response{
		Peers:    peers,
		Interval: time.Duration(raw.Interval) * time.Second,
	}, nil
}

// decodeResponsePeers handles both the compact (string) and
// non-compact (list of dicts) peers encodings that bencode.Unmarshal
// may have produced for the untyped "peers" field.
func decodeResponsePeers(raw interface{}) ([]Peer, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return ParseCompactPeers([]byte(v))
	case []interface{}:
		entries := make([]DictPeer, 0, len(v))
		for _, item := range v {
			dict, ok := item.(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("unexpected peer entry type %T", item)
			}
			ip, _ := dict["ip"].(string)
			port, _ := dict["port"].(int64)
			entries = append(entries, DictPeer{IP: ip, Port: int(port)})
		}
		return ParseDictPeers(entries), nil
	default:
		return nil, fmt.Errorf("unexpected peers field type %T", raw)
	}
}

// percentEncodeAll percent-encodes every byte of b, treating none as
// safe, matching the exact wire form spec.md §6 requires for info_hash
// and peer_id (unlike url.QueryEscape, which leaves unreserved
// characters unescaped).
func percentEncodeAll(b []byte) string {
	var buf bytes.Buffer
	for _, c := range b {
		fmt.Fprintf(&buf, "%%%02X", c)
	}
	return buf.String()
}
