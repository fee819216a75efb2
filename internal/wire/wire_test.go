package wire

import (
	"bytes"
	"testing"
)

func TestHandshakeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(peerID[:], "bbbbbbbbbbbbbbbbbbbb")

	hs := Handshake{InfoHash: infoHash, PeerID: peerID}
	buf := hs.Marshal()

	if len(buf) != HandshakeLen {
		t.Fatalf("Marshal length = %d, want %d", len(buf), HandshakeLen)
	}

	got, err := UnmarshalHandshake(buf, &infoHash)
	if err != nil {
		t.Fatalf("UnmarshalHandshake: %v", err)
	}
	if got.InfoHash != infoHash || got.PeerID != peerID {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestHandshakeRejectsInfoHashMismatch(t *testing.T) {
	var infoHash, other, peerID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(other[:], "zzzzzzzzzzzzzzzzzzzz")
	copy(peerID[:], "bbbbbbbbbbbbbbbbbbbb")

	hs := Handshake{InfoHash: infoHash, PeerID: peerID}
	buf := hs.Marshal()

	if _, err := UnmarshalHandshake(buf, &other); err == nil {
		t.Fatalf("expected info_hash mismatch to be rejected")
	}
}

func TestHandshakeRejectsBadProtocol(t *testing.T) {
	buf := make([]byte, HandshakeLen)
	buf[0] = 19
	copy(buf[1:20], "not the right proto")

	if _, err := UnmarshalHandshake(buf, nil); err == nil {
		t.Fatalf("expected bad protocol name to be rejected")
	}
}

func TestReadHandshakeRoundTrip(t *testing.T) {
	var infoHash, peerID [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")
	copy(peerID[:], "bbbbbbbbbbbbbbbbbbbb")

	var buf bytes.Buffer
	if err := WriteHandshake(&buf, Handshake{InfoHash: infoHash, PeerID: peerID}); err != nil {
		t.Fatalf("WriteHandshake: %v", err)
	}

	got, err := ReadHandshake(&buf, infoHash)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if got.PeerID != peerID {
		t.Fatalf("PeerID mismatch: got %x", got.PeerID)
	}
}

func TestMessageRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msg := Message{ID: Bitfield, Payload: []byte{0xff, 0x00, 0xaa}}
	if err := WriteMessage(&buf, msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got == nil || got.ID != Bitfield || !bytes.Equal(got.Payload, msg.Payload) {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
}

func TestKeepAliveParsesAsNilMessage(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteKeepAlive(&buf); err != nil {
		t.Fatalf("WriteKeepAlive: %v", err)
	}

	got, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil message for keep-alive, got %+v", got)
	}
}

func TestRequestRoundTrip(t *testing.T) {
	payload := EncodeRequest(7, 16384, 16384)
	index, begin, length, err := DecodeRequest(payload)
	if err != nil {
		t.Fatalf("DecodeRequest: %v", err)
	}
	if index != 7 || begin != 16384 || length != 16384 {
		t.Fatalf("got (%d,%d,%d)", index, begin, length)
	}
}

func TestPieceRoundTrip(t *testing.T) {
	block := []byte("some block bytes")
	payload := EncodePiece(3, 32768, block)
	index, begin, got, err := DecodePiece(payload)
	if err != nil {
		t.Fatalf("DecodePiece: %v", err)
	}
	if index != 3 || begin != 32768 || !bytes.Equal(got, block) {
		t.Fatalf("got (%d,%d,%q)", index, begin, got)
	}
}

func TestReadMessageShortReadIsError(t *testing.T) {
	// Declares a 10-byte body but supplies only 4: a short read.
	buf := bytes.NewBuffer([]byte{0, 0, 0, 10, 1, 2, 3, 4})
	if _, err := ReadMessage(buf); err == nil {
		t.Fatalf("expected short read to be an error")
	}
}
