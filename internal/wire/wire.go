// Package wire implements the BitTorrent peer wire protocol framing:
// the fixed handshake and the length-prefixed message stream. It does
// not open sockets; callers read and write through an io.Reader/
// io.Writer so the framing can be tested without a network.
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// BlockSize is the wire block granularity: 16384 bytes, except
// possibly the final block of the final piece.
const BlockSize = 16384

const (
	protocolName = "BitTorrent protocol"
	// HandshakeLen is the fixed handshake size: 1 + 19 + 8 + 20 + 20.
	HandshakeLen = 68
)

// MessageID identifies a framed peer message. The client only ever
// sends Interested and Request (plus the zero-length keep-alive);
// every other id is receive-only.
type MessageID uint8

const (
	Choke MessageID = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
)

func (id MessageID) String() string {
	switch id {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not_interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
}

// --------------------------------------------------------------------------------------------- //

// Handshake is the 68-byte greeting exchanged once at session start.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// Marshal encodes a Handshake to its fixed 68-byte wire form. Reserved
// bytes are always sent as zero; no extension bits are set.
func (h Handshake) Marshal() []byte {
	buf := make([]byte, HandshakeLen)
	buf[0] = byte(len(protocolName))
	copy(buf[1:20], protocolName)
	// buf[20:28] reserved, left zero
	copy(buf[28:48], h.InfoHash[:])
	copy(buf[48:68], h.PeerID[:])
	return buf
}

/*
UnmarshalHandshake parses a 68-byte handshake and checks it for
acceptance: pstrlen must be 19, pstr must be "BitTorrent protocol", and
(if wantInfoHash is non-nil) the received info_hash must equal it.
Reserved bytes are ignored.

Parameters:
  - buf: exactly HandshakeLen bytes read from the peer.
  - wantInfoHash: the local info_hash to validate against, or nil to
    skip that check (used when only decoding is needed).

Returns:
  - Handshake: the decoded handshake.
  - error: non-nil if the buffer is the wrong size, the protocol name
    doesn't match, or the info_hash doesn't match.
*/
func UnmarshalHandshake(buf []byte, wantInfoHash *[20]byte) (Handshake, error) {
	if len(buf) != HandshakeLen {
		return Handshake{}, fmt.Errorf("wire: handshake must be %d bytes, got %d", HandshakeLen, len(buf))
	}

	pstrlen := int(buf[0])
	if pstrlen != len(protocolName) {
		return Handshake{}, fmt.Errorf("wire: unexpected pstrlen %d", pstrlen)
	}
	if string(buf[1:20]) != protocolName {
		return Handshake{}, fmt.Errorf("wire: unexpected protocol %q", buf[1:20])
	}

	var h Handshake
	copy(h.InfoHash[:], buf[28:48])
	copy(h.PeerID[:], buf[48:68])

	if wantInfoHash != nil && !bytes.Equal(h.InfoHash[:], wantInfoHash[:]) {
		return Handshake{}, fmt.Errorf("wire: info_hash mismatch")
	}

	return h, nil
}

// WriteHandshake sends a handshake on w.
func WriteHandshake(w io.Writer, h Handshake) error {
	_, err := w.Write(h.Marshal())
	return err
}

/*
ReadHandshake reads and validates a 68-byte handshake from r.

Parameters:
  - r: source to read from; a short read is surfaced as an error.
  - wantInfoHash: the local info_hash the remote side must echo back.

Returns:
  - Handshake: the accepted handshake, carrying the remote peer_id.
  - error: non-nil on short read or handshake rejection.
*/
func ReadHandshake(r io.Reader, wantInfoHash [20]byte) (Handshake, error) {
	buf := make([]byte, HandshakeLen)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Handshake{}, fmt.Errorf("wire: reading handshake: %w", err)
	}
	return UnmarshalHandshake(buf, &wantInfoHash)
}

// --------------------------------------------------------------------------------------------- //

// Message is a single parsed peer message. A Message with Payload ==
// nil and ID == 0 that callers receive from ReadMessage as a nil
// *Message pointer denotes keep-alive (length-0 frame); it never
// reaches the dispatch switch as Choke.
type Message struct {
	ID      MessageID
	Payload []byte
}

/*
ReadMessage reads one framed message from r: a 4-byte big-endian length
prefix followed by that many bytes. A short read at any point implies
connection loss and is surfaced as an error, per the receive discipline
in spec.md §4.1.

Parameters:
  - r: source to read from.

Returns:
  - *Message: nil for a zero-length keep-alive frame, otherwise the
    decoded message.
  - error: non-nil on short read or an implausibly large length.
*/
func ReadMessage(r io.Reader) (*Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, fmt.Errorf("wire: reading length prefix: %w", err)
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return nil, nil
	}
	if length > 1<<20 {
		return nil, fmt.Errorf("wire: message too large: %d bytes", length)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("wire: reading message body: %w", err)
	}

	return &Message{ID: MessageID(body[0]), Payload: body[1:]}, nil
}

// WriteMessage frames and sends msg on w.
func WriteMessage(w io.Writer, msg Message) error {
	var buf bytes.Buffer
	length := uint32(len(msg.Payload) + 1)
	if err := binary.Write(&buf, binary.BigEndian, length); err != nil {
		return err
	}
	buf.WriteByte(byte(msg.ID))
	buf.Write(msg.Payload)

	_, err := w.Write(buf.Bytes())
	return err
}

// WriteKeepAlive sends the zero-length keep-alive frame.
func WriteKeepAlive(w io.Writer) error {
	var buf [4]byte
	_, err := w.Write(buf[:])
	return err
}

// --------------------------------------------------------------------------------------------- //

// EncodeRequest builds the 12-byte payload of a request message.
func EncodeRequest(index, begin, length uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], begin)
	binary.BigEndian.PutUint32(buf[8:12], length)
	return buf
}

// DecodeRequest parses a request (or cancel) message payload.
func DecodeRequest(payload []byte) (index, begin, length uint32, err error) {
	if len(payload) != 12 {
		return 0, 0, 0, fmt.Errorf("wire: request payload must be 12 bytes, got %d", len(payload))
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	length = binary.BigEndian.Uint32(payload[8:12])
	return index, begin, length, nil
}

// EncodePiece builds the payload of a piece message: 4-byte index,
// 4-byte offset, then the block bytes.
func EncodePiece(index, begin uint32, block []byte) []byte {
	buf := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], begin)
	copy(buf[8:], block)
	return buf
}

// DecodePiece parses a piece message payload into its index, offset,
// and block bytes (a view into payload, not a copy).
func DecodePiece(payload []byte) (index, begin uint32, block []byte, err error) {
	if len(payload) < 8 {
		return 0, 0, nil, fmt.Errorf("wire: piece payload too short: %d bytes", len(payload))
	}
	index = binary.BigEndian.Uint32(payload[0:4])
	begin = binary.BigEndian.Uint32(payload[4:8])
	return index, begin, payload[8:], nil
}

// DecodeHave parses the 4-byte piece index carried by a have message.
func DecodeHave(payload []byte) (index uint32, err error) {
	if len(payload) != 4 {
		return 0, fmt.Errorf("wire: have payload must be 4 bytes, got %d", len(payload))
	}
	return binary.BigEndian.Uint32(payload), nil
}

// --------------------------------------------------------------------------------------------- //
