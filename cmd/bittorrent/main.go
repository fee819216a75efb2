// Command bittorrent leeches a single torrent to disk: it reads a
// .torrent file, downloads every piece from the swarm the tracker
// (and, best-effort, the DHT) points at, and writes the finished
// file(s) to an output directory. It never opens a listener and never
// seeds — leech-only, by design.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/mitchellh/colorstring"

	"bittorrent/internal/metainfo"
	"bittorrent/internal/swarm"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <path-to-torrent-file> [output-dir]\n", os.Args[0])
		os.Exit(1)
	}

	torrentPath := os.Args[1]
	outputDir := "."
	if len(os.Args) >= 3 {
		outputDir = os.Args[2]
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)

	mi, err := metainfo.Load(torrentPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, colorstring.Color("[red]failed to load torrent: "+err.Error()))
		os.Exit(1)
	}

	logger.Printf("[INFO]\tloaded %q: %d pieces, info_hash=%x\n", mi.Info.Name, mi.NumPieces(), mi.InfoHash)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Printf("[INFO]\tinterrupt received, shutting down\n")
		cancel()
	}()

	sv := swarm.New(mi, logger)
	if err := sv.Run(ctx, outputDir); err != nil {
		fmt.Fprintln(os.Stderr, colorstring.Color("[red]download failed: "+err.Error()))
		os.Exit(1)
	}

	colorstring.Println("[green]download complete: " + mi.Info.Name)
}
