// Package swarm implements the Swarm Supervisor: the top-level loop
// that seeds peers from the tracker, spawns one Session per peer,
// detects stagnation, re-announces, admits new peers without
// duplication, and finalizes on-disk file assembly.
package swarm

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"bittorrent/internal/dht"
	"bittorrent/internal/metainfo"
	"bittorrent/internal/peerid"
	"bittorrent/internal/piece"
	"bittorrent/internal/session"
	"bittorrent/internal/tracker"
)

// Timing constants named in spec.md §4.4.
const (
	progressTick     = 5 * time.Second
	stagnationWindow = 30 * time.Second
	announceTimeout  = 15 * time.Second
)

// Supervisor owns the session list exclusively; it is the only
// component that spawns or tears down Sessions, per spec.md §9.
type Supervisor struct {
	mi     *metainfo.Metainfo
	coord  *piece.Coordinator
	logger *log.Logger

	peerID [20]byte
	port   uint16

	known    map[string]bool
	sessions []sessionHandle

	bar *progressbar.ProgressBar

	// progressTick and stagnationWindow default to the spec.md §4.4
	// values below; tests shrink them to exercise the stagnation path
	// without waiting on real wall-clock time.
	progressTick     time.Duration
	stagnationWindow time.Duration
}

type sessionHandle struct {
	endpoint string
	session  *session.Session
	cancel   context.CancelFunc
}

/*
New builds a Supervisor for an already-loaded torrent.

Parameters:
  - mi: the decoded metainfo, including its computed InfoHash.
  - logger: sink for the bracketed [INFO]/[FAIL] progress log lines.

Returns:
  - *Supervisor: ready to run via Run.
*/
func New(mi *metainfo.Metainfo, logger *log.Logger) *Supervisor {
	hashes := make([][20]byte, mi.NumPieces())
	for i := range hashes {
		hashes[i] = mi.PieceHash(i)
	}

	return &Supervisor{
		mi:     mi,
		coord:  piece.NewCoordinator(mi.Info.PieceLength, mi.TotalLength(), hashes),
		logger: logger,
		peerID: peerid.Generate(),
		port:   uint16(10000 + rand.Intn(60000-10000+1)),
		known:  make(map[string]bool),
		bar:    progressbar.DefaultBytes(mi.TotalLength(), fmt.Sprintf("leeching %s", mi.Info.Name)),

		progressTick:     progressTick,
		stagnationWindow: stagnationWindow,
	}
}

// --------------------------------------------------------------------------------------------- //

/*
Run drives the full swarm lifecycle: initial announce, session
spawning, the 5s progress/stagnation loop, and — only on completion —
file assembly. It returns once the torrent completes or ctx is
cancelled; cancellation stops every session but does not assemble
files, mirroring spec.md §4.4's non-completion exit.

Parameters:
  - ctx: cancelling ctx stops the Supervisor and every spawned Session.
  - outputDir: destination directory for Assemble.

Returns:
  - error: non-nil if ctx is cancelled before completion, the download
    never completes, or assembly fails after a successful download. A
    tracker that cannot be reached at all is not a fatal error — see
    spec.md §7 — so it never surfaces here.
*/
func (sv *Supervisor) Run(ctx context.Context, outputDir string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	client := &http.Client{Timeout: announceTimeout}

	// A tracker that cannot be reached at all (DNS failure, connection
	// refused, timeout) is handled the same as a bad status code or an
	// explicit failure reason, per spec.md §7: the Supervisor proceeds
	// with whatever peers it already knows (DHT is still tried below)
	// rather than aborting the run, mirroring original_source/tracker.py's
	// contact_tracker, which wraps the request itself in a catch-all and
	// returns an empty peer list on any failure.
	resp, err := sv.announce(ctx, client)
	if err != nil {
		sv.logger.Printf("[FAIL]\tinitial announce: %v\n", err)
		resp = &tracker.Response{}
	}
	sv.admit(ctx, resp.Peers)

	if dhtPeers := dht.GetPeers(sv.mi.InfoHash, sv.peerID, sv.logger); len(dhtPeers) > 0 {
		sv.admit(ctx, dhtPeers)
	}

	completed, total := sv.coord.Progress()
	sv.logger.Printf("[INFO]\tstarting with %d known peers, %d/%d pieces complete\n", len(sv.known), completed, total)

	done := sv.progressLoop(ctx, client)

	select {
	case <-ctx.Done():
		sv.stopAll()
		return ctx.Err()
	case <-done:
	}

	if !sv.coord.IsComplete() {
		completed, total := sv.coord.Progress()
		sv.logger.Printf("[FAIL]\tdownload incomplete: %d/%d pieces\n", completed, total)
		sv.stopAll()
		return fmt.Errorf("swarm: incomplete download (%d/%d pieces)", completed, total)
	}

	sv.bar.Finish()
	sv.logger.Printf("[INFO]\tdownload complete, assembling output in %q\n", outputDir)
	sv.stopAll()

	if err := Assemble(sv.mi, sv.coord, outputDir); err != nil {
		return fmt.Errorf("swarm: assembling output: %w", err)
	}

	return nil
}

// --------------------------------------------------------------------------------------------- //

/*
announce tries every tracker URL named by the torrent — the primary
`announce` plus every tier of `announce-list`, in order, first unique
occurrence wins — until one responds, per the multi-tracker fallback
original_source/tracker.py performs across its announce list. A
`udp://` URL is dispatched through AnnounceUDP (BEP 15); anything else
goes through the HTTP GET path AnnounceHTTP implements. It returns the
first tracker's response and stops; if every tracker fails, it returns
the last error seen.
*/
func (sv *Supervisor) announce(ctx context.Context, client *http.Client) (*tracker.Response, error) {
	completed, total := sv.coord.Progress()
	left := sv.mi.TotalLength()
	if total > 0 {
		left = sv.mi.TotalLength() - int64(completed)*sv.mi.Info.PieceLength
	}
	if left < 0 {
		left = 0
	}

	req := tracker.AnnounceRequest{
		InfoHash:   sv.mi.InfoHash,
		PeerID:     sv.peerID,
		Port:       sv.port,
		Uploaded:   0,
		Downloaded: uint64(sv.mi.TotalLength() - left),
		Left:       uint64(left),
	}

	var lastErr error
	for _, trackerURL := range sv.trackerURLs() {
		var resp *tracker.Response
		var err error

		if strings.HasPrefix(trackerURL, "udp://") {
			resp, err = tracker.AnnounceUDP(trackerURL, req, announceTimeout)
		} else {
			resp, err = tracker.AnnounceHTTP(ctx, trackerURL, req, client)
		}

		if err != nil {
			sv.logger.Printf("[FAIL]\ttracker %s: %v\n", trackerURL, err)
			lastErr = err
			continue
		}
		return resp, nil
	}

	return nil, lastErr
}

// trackerURLs flattens the primary announce URL and every announce-list
// tier into a single deduplicated, order-preserving list of candidates.
func (sv *Supervisor) trackerURLs() []string {
	urls := make([]string, 0, 1+len(sv.mi.AnnounceList))
	urls = append(urls, sv.mi.Announce)
	for _, tier := range sv.mi.AnnounceList {
		urls = append(urls, tier...)
	}

	seen := make(map[string]bool, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// admit spawns a Session for every endpoint in peers not already
// known, suppressing duplicates per spec.md §4.4.
func (sv *Supervisor) admit(ctx context.Context, peers []tracker.Peer) {
	for _, p := range peers {
		endpoint := p.Endpoint()
		if sv.known[endpoint] {
			continue
		}
		sv.known[endpoint] = true

		sessCtx, cancel := context.WithCancel(ctx)
		id := fmt.Sprintf("%s-%d", endpoint, len(sv.sessions))
		s := session.New(id, endpoint, sv.coord, session.Config{
			InfoHash: sv.mi.InfoHash,
			PeerID:   sv.peerID,
			Logger:   sv.logger,
		})

		sv.sessions = append(sv.sessions, sessionHandle{endpoint: endpoint, session: s, cancel: cancel})

		go s.Run(sessCtx)
	}

	sv.logger.Printf("[INFO]\tadmitted %d peers (%d total known)\n", len(peers), len(sv.known))
}

func (sv *Supervisor) stopAll() {
	for _, h := range sv.sessions {
		h.session.Stop()
		h.cancel()
	}
}

// --------------------------------------------------------------------------------------------- //

/*
progressLoop runs the 5s sampling tick described in spec.md §4.4: it
logs completed-piece counts, tracks stagnant_time, and re-announces
(admitting any newly-returned peers) once stagnant_time reaches 30s.
The returned channel is closed the moment IsComplete() is observed.
*/
func (sv *Supervisor) progressLoop(ctx context.Context, client *http.Client) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		defer close(done)

		ticker := time.NewTicker(sv.progressTick)
		defer ticker.Stop()

		lastCompleted := -1
		var stagnantFor time.Duration

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			completed, total := sv.coord.Progress()
			sv.bar.Set64(int64(completed) * sv.mi.Info.PieceLength)
			sv.logger.Printf("[INFO]\tprogress: %d/%d pieces\n", completed, total)

			if sv.coord.IsComplete() {
				return
			}

			if completed == lastCompleted {
				stagnantFor += sv.progressTick
			} else {
				stagnantFor = 0
			}
			lastCompleted = completed

			if stagnantFor >= sv.stagnationWindow {
				sv.logger.Printf("[INFO]\tstagnant for %s, re-announcing\n", stagnantFor)
				resp, err := sv.announce(ctx, client)
				if err != nil {
					sv.logger.Printf("[FAIL]\tre-announce failed: %v\n", err)
				} else {
					sv.admit(ctx, resp.Peers)
				}
				stagnantFor = 0
			}
		}
	}()

	return done
}
