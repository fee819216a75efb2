// Package piece implements the Piece Coordinator: the shared,
// lock-protected ledger of per-piece and per-block request/receive
// status that peer sessions drive work through.
package piece

import (
	"crypto/sha1"
	"fmt"
	"sync"
)

// BlockSize is the wire block granularity, mirrored from wire.BlockSize
// to keep this package free of a dependency on the socket layer.
const BlockSize = 16384

// piece tracks one piece's in-flight and received blocks. All fields
// are guarded by the owning Coordinator's mutex; nothing here locks on
// its own.
type piece struct {
	expectedLength int64
	hash           [20]byte

	blocks    map[int64][]byte
	requested map[int64]string // offset -> owning session id

	complete bool
	data     []byte
}

func (p *piece) receivedLength() int64 {
	var n int64
	for _, b := range p.blocks {
		n += int64(len(b))
	}
	return n
}

// --------------------------------------------------------------------------------------------- //

// Coordinator is the thread-safe ledger of piece state for one
// torrent. All operations acquire a single coarse lock; no I/O ever
// happens while it is held.
type Coordinator struct {
	mu sync.Mutex

	pieces      []*piece
	pieceLength int64
	totalLength int64

	completedCount int
}

/*
NewCoordinator builds a Coordinator for a torrent with the given fixed
piece length, total content length, and per-piece SHA-1 hashes (one
entry per piece, in order).

Parameters:
  - pieceLength: the fixed piece granularity named by info.piece length.
  - totalLength: total content length across all files.
  - hashes: expected SHA-1 digest of each piece, len(hashes) == total_pieces.

Returns:
  - *Coordinator: ready to serve NextRequest/Deposit calls.
*/
func NewCoordinator(pieceLength, totalLength int64, hashes [][20]byte) *Coordinator {
	c := &Coordinator{
		pieces:      make([]*piece, len(hashes)),
		pieceLength: pieceLength,
		totalLength: totalLength,
	}

	for i, h := range hashes {
		expected := pieceLength
		if i == len(hashes)-1 {
			if rem := totalLength - pieceLength*int64(len(hashes)-1); rem > 0 {
				expected = rem
			}
		}

		c.pieces[i] = &piece{
			expectedLength: expected,
			hash:           h,
			blocks:         make(map[int64][]byte),
			requested:      make(map[int64]string),
		}
	}

	return c
}

// NumPieces returns the total number of pieces.
func (c *Coordinator) NumPieces() int {
	return len(c.pieces)
}

// --------------------------------------------------------------------------------------------- //

/*
NextRequest selects the next block to request on behalf of sessionID.

It scans pieces in ascending index; within the first incomplete piece,
it scans offsets 0, BlockSize, 2*BlockSize, ... and returns the first
offset that is neither already held in blocks nor already requested by
some session. The returned offset is recorded as requested, tagged with
sessionID, atomically with the return.

Parameters:
  - sessionID: identifies the caller, so a later ReleaseSessionInflight
    can find and release exactly the offsets this call reserved.

Returns:
  - index, offset, length: the block to request; length is BlockSize
    except possibly for the final block of the final piece.
  - ok: false iff every piece is complete, or every remaining block in
    the first incomplete piece is already requested by some session —
    these two conditions are distinguished by IsComplete, so a caller
    that gets ok=false can tell "nothing left to do" from "nothing
    requestable right now" instead of busy-idling on an ambiguous
    empty return.
*/
func (c *Coordinator) NextRequest(sessionID string) (index int, offset int64, length int64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, p := range c.pieces {
		if p.complete {
			continue
		}

		for off := int64(0); off < p.expectedLength; off += BlockSize {
			if _, have := p.blocks[off]; have {
				continue
			}
			if _, inflight := p.requested[off]; inflight {
				continue
			}

			blockLen := int64(BlockSize)
			if remaining := p.expectedLength - off; remaining < blockLen {
				blockLen = remaining
			}

			p.requested[off] = sessionID
			return i, off, blockLen, true
		}

		// First incomplete piece has no requestable offset left right
		// now; strict in-order selection means later pieces are not
		// considered until this one completes.
		return 0, 0, 0, false
	}

	return 0, 0, 0, false
}

// --------------------------------------------------------------------------------------------- //

/*
Deposit stores block bytes received for (index, offset). If the piece's
received bytes now cover its full expected length, the piece is
assembled in ascending-offset order and verified against the expected
SHA-1 hash.

Parameters:
  - index: piece index.
  - offset: block offset within the piece; must be a multiple of
    BlockSize except for a trailing short block.
  - data: the received block bytes.

Returns:
  - verified: true iff the piece is complete and verified after this
    deposit, either because this deposit completed it or because it
    was already complete (the data is then discarded).
  - error: non-nil for an out-of-range index; a hash mismatch is not an
    error, it is reported by verified=false with the piece reset for
    rework.
*/
func (c *Coordinator) Deposit(index int, offset int64, data []byte) (verified bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.pieces) {
		return false, fmt.Errorf("piece: deposit index %d out of range [0,%d)", index, len(c.pieces))
	}

	p := c.pieces[index]
	if p.complete {
		return true, nil
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	p.blocks[offset] = stored
	delete(p.requested, offset)

	if p.receivedLength() < p.expectedLength {
		return false, nil
	}

	assembled := make([]byte, 0, p.expectedLength)
	for off := int64(0); off < p.expectedLength; off += BlockSize {
		block, have := p.blocks[off]
		if !have {
			// A duplicate or overlapping deposit can leave a gap even
			// though total length looks sufficient; wait for the
			// missing offset instead of assembling early.
			return false, nil
		}
		assembled = append(assembled, block...)
	}

	hash := sha1.Sum(assembled)
	if hash != p.hash {
		p.blocks = make(map[int64][]byte)
		p.requested = make(map[int64]string)
		return false, nil
	}

	p.complete = true
	p.data = assembled
	p.blocks = nil
	p.requested = nil
	c.completedCount++

	return true, nil
}

// --------------------------------------------------------------------------------------------- //

// IsComplete reports whether every piece has been verified.
func (c *Coordinator) IsComplete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completedCount == len(c.pieces)
}

// Progress returns the number of completed pieces and the total.
func (c *Coordinator) Progress() (completed, total int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completedCount, len(c.pieces)
}

/*
ReleaseSessionInflight removes every requested-but-undelivered offset
tagged with sessionID, across all pieces, so another session can pick
them back up. This is the mandatory recovery hook named in spec.md §7:
without it, a block reserved by a session that dies mid-request is
stranded forever and the download cannot complete.

Parameters:
  - sessionID: the id a dying session's earlier NextRequest calls were
    tagged with.
*/
func (c *Coordinator) ReleaseSessionInflight(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range c.pieces {
		if p.complete {
			continue
		}
		for off, owner := range p.requested {
			if owner == sessionID {
				delete(p.requested, off)
			}
		}
	}
}

// --------------------------------------------------------------------------------------------- //

// CompletedData returns the assembled bytes of a completed piece, or
// nil if it is not yet complete. Used by the assembler to drain the
// completion ledger once IsComplete() is true.
func (c *Coordinator) CompletedData(index int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.pieces) {
		return nil
	}
	return c.pieces[index].data
}

// --------------------------------------------------------------------------------------------- //
