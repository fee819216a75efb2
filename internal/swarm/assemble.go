package swarm

import (
	"fmt"
	"os"
	"path/filepath"

	"bittorrent/internal/metainfo"
	"bittorrent/internal/piece"
)

// outputFile is one file this torrent writes to disk, with its byte
// range within the concatenated piece stream.
type outputFile struct {
	path   string
	offset int64
	length int64
}

func outputFiles(mi *metainfo.Metainfo, outputDir string) []outputFile {
	root := filepath.Join(outputDir, mi.Info.Name)

	if !mi.IsMultiFile() {
		return []outputFile{{path: root, offset: 0, length: mi.Info.Length}}
	}

	files := make([]outputFile, 0, len(mi.Info.Files))
	var offset int64
	for _, f := range mi.Info.Files {
		parts := append([]string{root}, f.Path...)
		files = append(files, outputFile{
			path:   filepath.Join(parts...),
			offset: offset,
			length: f.Length,
		})
		offset += f.Length
	}
	return files
}

/*
Assemble drains every completed piece from coord and writes it to its
place in the on-disk layout spec.md §4.4/§6 describes: a single file
named info.name for single-file torrents, or a directory named
info.name containing each entry of info.files at its nested path, for
multi-file torrents. Directories are created as needed.

Parameters:
  - mi: the decoded torrent metadata.
  - coord: the Coordinator; must report IsComplete() == true before
    calling, otherwise Assemble stops with an error at the first piece
    CompletedData reports missing, leaving the output files it already
    created and sized on disk.
  - outputDir: destination directory; the torrent's own name is nested
    inside it, matching the teacher's BuildFileInfo layout.

Returns:
  - error: non-nil if a directory or file cannot be created, a piece
    is missing, or a write fails partway through.
*/
func Assemble(mi *metainfo.Metainfo, coord *piece.Coordinator, outputDir string) error {
	files := outputFiles(mi, outputDir)

	handles := make(map[string]*os.File, len(files))
	defer func() {
		for _, f := range handles {
			f.Close()
		}
	}()

	for _, of := range files {
		if err := os.MkdirAll(filepath.Dir(of.path), 0755); err != nil {
			return fmt.Errorf("swarm: creating directory for %q: %w", of.path, err)
		}

		f, err := os.OpenFile(of.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("swarm: creating %q: %w", of.path, err)
		}
		if err := f.Truncate(of.length); err != nil {
			f.Close()
			return fmt.Errorf("swarm: truncating %q: %w", of.path, err)
		}
		handles[of.path] = f
	}

	pieceLength := mi.Info.PieceLength
	for index := 0; index < coord.NumPieces(); index++ {
		data := coord.CompletedData(index)
		if data == nil {
			return fmt.Errorf("swarm: piece %d missing at assembly time", index)
		}

		pieceStart := int64(index) * pieceLength
		pieceEnd := pieceStart + int64(len(data))

		for _, of := range files {
			fileStart := of.offset
			fileEnd := of.offset + of.length

			start := max64(pieceStart, fileStart)
			end := min64(pieceEnd, fileEnd)
			if start >= end {
				continue
			}

			chunk := data[start-pieceStart : end-pieceStart]
			if _, err := handles[of.path].WriteAt(chunk, start-fileStart); err != nil {
				return fmt.Errorf("swarm: writing to %q: %w", of.path, err)
			}
		}
	}

	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
