package session

import (
	"context"
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"bittorrent/internal/piece"
	"bittorrent/internal/wire"
)

func hashesFor(pieces ...[]byte) [][20]byte {
	out := make([][20]byte, len(pieces))
	for i, p := range pieces {
		out[i] = sha1.Sum(p)
	}
	return out
}

func TestSessionDispatchUnchokeThenRequestsAndDeposits(t *testing.T) {
	data := make([]byte, piece.BlockSize)
	for i := range data {
		data[i] = byte(i)
	}
	coord := piece.NewCoordinator(piece.BlockSize, piece.BlockSize, hashesFor(data))

	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	var infoHash [20]byte
	copy(infoHash[:], "aaaaaaaaaaaaaaaaaaaa")

	s := New("peer-1", "unused:0", coord, Config{InfoHash: infoHash})
	s.conn = local
	s.chokedByPeer = true
	s.lastActivity = time.Now()

	done := make(chan struct{})
	go func() {
		defer close(done)

		msg, err := wire.ReadMessage(remote)
		if err != nil {
			t.Errorf("remote: reading interested-equivalent: %v", err)
			return
		}
		_ = msg

		if err := wire.WriteMessage(remote, wire.Message{ID: wire.Unchoke}); err != nil {
			t.Errorf("remote: writing unchoke: %v", err)
			return
		}

		reqMsg, err := wire.ReadMessage(remote)
		if err != nil {
			t.Errorf("remote: reading request: %v", err)
			return
		}
		index, begin, length, err := wire.DecodeRequest(reqMsg.Payload)
		if err != nil {
			t.Errorf("remote: decoding request: %v", err)
			return
		}
		if index != 0 || begin != 0 || int(length) != piece.BlockSize {
			t.Errorf("unexpected request %d/%d/%d", index, begin, length)
			return
		}

		piecePayload := wire.EncodePiece(uint32(index), uint32(begin), data)
		if err := wire.WriteMessage(remote, wire.Message{ID: wire.Piece, Payload: piecePayload}); err != nil {
			t.Errorf("remote: writing piece: %v", err)
			return
		}

		remote.Close()
	}()

	s.sendMessage(wire.Message{ID: wire.Interested})
	s.steadyState()
	<-done

	if !coord.IsComplete() {
		t.Fatalf("expected coordinator to be complete after single-block piece deposit")
	}
}

func TestSessionReleasesInflightOnStop(t *testing.T) {
	data := make([]byte, piece.BlockSize*2)
	coord := piece.NewCoordinator(piece.BlockSize, int64(len(data)), hashesFor(data[:piece.BlockSize], data[piece.BlockSize:]))

	index, offset, _, ok := coord.NextRequest("peer-1")
	if !ok || index != 0 || offset != 0 {
		t.Fatalf("expected first block reservation to succeed")
	}

	s := New("peer-1", "unused:0", coord, Config{})
	s.Stop()
	s.teardown()

	_, _, _, ok = coord.NextRequest("peer-2")
	if !ok {
		t.Fatalf("expected offset to be requestable again after session teardown released it")
	}
}

func TestConnectWithRetryFailsAfterExhaustingAttempts(t *testing.T) {
	s := New("peer-1", "127.0.0.1:1", nil, Config{})
	start := time.Now()
	if s.connectWithRetry() {
		t.Fatalf("expected connect to an unreachable address to fail")
	}
	if time.Since(start) > 10*time.Second {
		t.Fatalf("connect retry took implausibly long")
	}
}

func TestRunRespectsContextCancellation(t *testing.T) {
	s := New("peer-1", "127.0.0.1:1", piece.NewCoordinator(piece.BlockSize, piece.BlockSize, hashesFor(make([]byte, piece.BlockSize))), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
}
