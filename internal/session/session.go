// Package session implements the Peer Session state machine: one
// concurrent worker per peer endpoint that connects, handshakes, and
// pumps the steady-state message loop against the shared Piece
// Coordinator.
package session

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"sync/atomic"
	"time"

	"bittorrent/internal/piece"
	"bittorrent/internal/wire"
)

// Timing constants named in spec.md §4.3/§5.
const (
	connectTimeout     = 10 * time.Second
	recvTimeout        = 30 * time.Second
	keepAliveThreshold = 120 * time.Second
	maxConnectRetries  = 3
	maxConsecFailures  = 3
	readFailureBackoff = 500 * time.Millisecond
)

func jitteredConnectDelay() time.Duration {
	return 100*time.Millisecond + time.Duration(rand.Int63n(int64(400*time.Millisecond)))
}

func jitteredRetryBackoff() time.Duration {
	return 500*time.Millisecond + time.Duration(rand.Int63n(int64(1000*time.Millisecond)))
}

// --------------------------------------------------------------------------------------------- //

// Config carries everything a Session needs that is shared across all
// sessions of one torrent, handed down by the swarm supervisor.
type Config struct {
	InfoHash [20]byte
	PeerID   [20]byte
	Logger   *log.Logger
}

// Session is a long-running worker bound to one peer endpoint. It is
// created by the supervisor, never restarted after it terminates, and
// holds a shared, non-owning reference to the Coordinator.
type Session struct {
	id       string
	endpoint string
	coord    *piece.Coordinator
	cfg      Config

	conn         net.Conn
	chokedByPeer bool
	lastActivity time.Time
	running      atomic.Bool
}

// New builds a Session for endpoint (an "ip:port" string), identified
// by id for the Coordinator's inflight-ownership bookkeeping.
func New(id, endpoint string, coord *piece.Coordinator, cfg Config) *Session {
	s := &Session{
		id:           id,
		endpoint:     endpoint,
		coord:        coord,
		cfg:          cfg,
		chokedByPeer: true,
	}
	s.running.Store(true)
	return s
}

// Stop cooperatively requests shutdown; the session observes this at
// the top of its loop and after blocking operations, per spec.md §5.
func (s *Session) Stop() {
	s.running.Store(false)
}

func (s *Session) logf(format string, args ...interface{}) {
	if s.cfg.Logger != nil {
		s.cfg.Logger.Printf(format, args...)
	}
}

// --------------------------------------------------------------------------------------------- //

/*
Run drives the full session lifecycle: jittered connect with retry,
handshake, unconditional interested, then the steady-state message
loop. It returns once the session is terminal — connect exhaustion,
three consecutive read failures, peer close, or Stop() — and never
restarts. Any block offsets this session reserved via the Coordinator's
NextRequest but never delivered are released before returning, so they
are not stranded (spec.md §7).

Parameters:
  - ctx: cancelling ctx is equivalent to calling Stop().
*/
func (s *Session) Run(ctx context.Context) {
	defer s.teardown()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if !s.connectWithRetry() {
		return
	}

	if err := s.sendMessage(wire.Message{ID: wire.Interested}); err != nil {
		s.logf("[FAIL]\t%s: sending interested: %v\n", s.endpoint, err)
		return
	}

	s.steadyState()
}

func (s *Session) teardown() {
	if s.conn != nil {
		s.conn.Close()
	}
	s.coord.ReleaseSessionInflight(s.id)
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) connectWithRetry() bool {
	time.Sleep(jitteredConnectDelay())

	for attempt := 1; attempt <= maxConnectRetries; attempt++ {
		if !s.running.Load() {
			return false
		}

		if err := s.connectOnce(); err != nil {
			s.logf("[FAIL]\t%s: connect attempt %d: %v\n", s.endpoint, attempt, err)
			if attempt < maxConnectRetries {
				time.Sleep(jitteredRetryBackoff())
			}
			continue
		}

		s.lastActivity = time.Now()
		return true
	}

	return false
}

func (s *Session) connectOnce() error {
	conn, err := net.DialTimeout("tcp", s.endpoint, connectTimeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	conn.SetDeadline(time.Now().Add(connectTimeout))
	if err := wire.WriteHandshake(conn, wire.Handshake{InfoHash: s.cfg.InfoHash, PeerID: s.cfg.PeerID}); err != nil {
		conn.Close()
		return fmt.Errorf("sending handshake: %w", err)
	}

	remote, err := wire.ReadHandshake(conn, s.cfg.InfoHash)
	if err != nil {
		conn.Close()
		return fmt.Errorf("handshake rejected: %w", err)
	}
	_ = remote

	conn.SetDeadline(time.Time{})
	s.conn = conn
	return nil
}

// --------------------------------------------------------------------------------------------- //

func (s *Session) steadyState() {
	consecutiveFailures := 0

	for s.running.Load() {
		if time.Since(s.lastActivity) > keepAliveThreshold {
			if err := wire.WriteKeepAlive(s.conn); err != nil {
				s.logf("[FAIL]\t%s: sending keep-alive: %v\n", s.endpoint, err)
				return
			}
			s.lastActivity = time.Now()
		}

		msg, err := s.receiveMessage()
		if err != nil {
			consecutiveFailures++
			s.logf("[FAIL]\t%s: read failed (%d/%d): %v\n", s.endpoint, consecutiveFailures, maxConsecFailures, err)
			if consecutiveFailures >= maxConsecFailures {
				return
			}
			time.Sleep(readFailureBackoff)
			continue
		}
		consecutiveFailures = 0
		s.lastActivity = time.Now()

		if msg != nil {
			s.dispatch(*msg)
		}

		if !s.chokedByPeer {
			if !s.requestNext() {
				return
			}
		}
	}
}

func (s *Session) receiveMessage() (*wire.Message, error) {
	s.conn.SetReadDeadline(time.Now().Add(recvTimeout))
	return wire.ReadMessage(s.conn)
}

func (s *Session) sendMessage(msg wire.Message) error {
	s.conn.SetWriteDeadline(time.Now().Add(recvTimeout))
	if err := wire.WriteMessage(s.conn, msg); err != nil {
		return err
	}
	s.lastActivity = time.Now()
	return nil
}

// dispatch applies spec.md §4.1's message table. Only choke/unchoke
// affect session state; have/bitfield are informational (no
// availability filtering is performed, per the client's strict
// in-order piece selection); interested/not-interested/request/cancel
// are ignored outright because this client never serves blocks; piece
// is handed to the Coordinator.
func (s *Session) dispatch(msg wire.Message) {
	switch msg.ID {
	case wire.Choke:
		s.chokedByPeer = true
	case wire.Unchoke:
		s.chokedByPeer = false
	case wire.Piece:
		s.handlePiece(msg.Payload)
	case wire.Have, wire.Bitfield, wire.Interested, wire.NotInterested, wire.Request, wire.Cancel:
		// informational or request-side messages; no action taken.
	}
}

func (s *Session) handlePiece(payload []byte) {
	index, begin, block, err := wire.DecodePiece(payload)
	if err != nil {
		s.logf("[ERROR]\t%s: malformed piece message: %v\n", s.endpoint, err)
		return
	}

	verified, err := s.coord.Deposit(int(index), int64(begin), block)
	if err != nil {
		s.logf("[ERROR]\t%s: depositing piece %d offset %d: %v\n", s.endpoint, index, begin, err)
		return
	}
	if verified {
		s.logf("[INFO]\t%s: piece %d verified\n", s.endpoint, index)
	}
}

// requestNext asks the Coordinator for the next block and sends a
// request for it. It returns false only when the send itself fails;
// NextRequest returning "nothing right now" is not an error — the
// session simply waits for the next read cycle per spec.md §4.3 step 5.
func (s *Session) requestNext() bool {
	index, offset, length, ok := s.coord.NextRequest(s.id)
	if !ok {
		return true
	}

	payload := wire.EncodeRequest(uint32(index), uint32(offset), uint32(length))
	if err := s.sendMessage(wire.Message{ID: wire.Request, Payload: payload}); err != nil {
		s.logf("[FAIL]\t%s: sending request for piece %d offset %d: %v\n", s.endpoint, index, offset, err)
		s.coord.ReleaseSessionInflight(s.id)
		return false
	}

	return true
}
