// Package metainfo decodes .torrent files into a strongly-typed record.
//
// The raw bencoded dictionary is duck-typed (string or byte keys,
// optional fields present or absent); everything downstream of this
// package works against the Metainfo struct instead, so no caller has
// to re-derive whether a key was present in the original file.
package metainfo

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"strconv"

	"github.com/jackpal/bencode-go"
)

// FileEntry describes one file within a multi-file torrent.
type FileEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// Info is the `info` sub-dictionary of a .torrent file.
type Info struct {
	PieceLength int64       `bencode:"piece length"`
	Pieces      string      `bencode:"pieces"`
	Name        string      `bencode:"name"`
	Length      int64       `bencode:"length"`
	Files       []FileEntry `bencode:"files"`
}

// Metainfo is the root dictionary of a .torrent file, plus the
// byte-exact info_hash computed from the parsed input.
type Metainfo struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Comment      string     `bencode:"comment"`
	CreatedBy    string     `bencode:"created by"`
	Info         Info       `bencode:"info"`

	InfoHash [20]byte `bencode:"-"`
}

// --------------------------------------------------------------------------------------------- //

/*
Load reads and parses a .torrent file from disk.

It decodes the bencoded dictionary, computes the info_hash from the
exact bytes of the parsed `info` sub-dictionary (not a re-encoding of
the decoded struct, which could reorder keys and change the hash), and
validates the required keys named in BEP 3.

Parameters:
  - path: path to the .torrent file on disk.

Returns:
  - *Metainfo: the parsed torrent metadata.
  - error: non-nil if the file cannot be read, decoded, or is missing a
    required key.
*/
func Load(path string) (*Metainfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("metainfo: reading %q: %w", path, err)
	}

	var mi Metainfo
	if err := bencode.Unmarshal(bytes.NewReader(data), &mi); err != nil {
		return nil, fmt.Errorf("metainfo: decoding %q: %w", path, err)
	}

	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}
	mi.InfoHash = sha1.Sum(infoBytes)

	if err := mi.validate(); err != nil {
		return nil, fmt.Errorf("metainfo: %w", err)
	}

	return &mi, nil
}

// --------------------------------------------------------------------------------------------- //

// validate checks the required keys named in spec.md §6: announce,
// info.piece length, info.pieces, info.name, and exactly one of
// info.length or info.files.
func (mi *Metainfo) validate() error {
	if mi.Announce == "" {
		return fmt.Errorf("missing announce")
	}
	if mi.Info.PieceLength <= 0 {
		return fmt.Errorf("missing or non-positive info.piece length")
	}
	if len(mi.Info.Pieces)%20 != 0 {
		return fmt.Errorf("info.pieces length %d is not a multiple of 20", len(mi.Info.Pieces))
	}
	if mi.Info.Name == "" {
		return fmt.Errorf("missing info.name")
	}

	singleFile := mi.Info.Length > 0
	multiFile := len(mi.Info.Files) > 0
	if singleFile == multiFile {
		return fmt.Errorf("expected exactly one of info.length or info.files")
	}

	return nil
}

// --------------------------------------------------------------------------------------------- //

// NumPieces returns the total number of pieces named by info.pieces.
func (mi *Metainfo) NumPieces() int {
	return len(mi.Info.Pieces) / 20
}

// PieceHash returns the expected SHA-1 digest of piece i.
func (mi *Metainfo) PieceHash(i int) [20]byte {
	var h [20]byte
	copy(h[:], mi.Info.Pieces[i*20:(i+1)*20])
	return h
}

// IsMultiFile reports whether this torrent carries an info.files list
// rather than a single info.length.
func (mi *Metainfo) IsMultiFile() bool {
	return len(mi.Info.Files) > 0
}

// TotalLength returns the sum of all file lengths named by the torrent.
func (mi *Metainfo) TotalLength() int64 {
	if !mi.IsMultiFile() {
		return mi.Info.Length
	}

	var total int64
	for _, f := range mi.Info.Files {
		total += f.Length
	}
	return total
}

// PieceExpectedLength returns the expected byte length of piece i: the
// fixed piece length for all but the last piece, whose length is
// whatever remains of the total.
func (mi *Metainfo) PieceExpectedLength(i int) int64 {
	total := mi.TotalLength()
	pieceLength := mi.Info.PieceLength
	numPieces := mi.NumPieces()

	if i == numPieces-1 {
		if rem := total - pieceLength*int64(numPieces-1); rem > 0 {
			return rem
		}
		return pieceLength
	}
	return pieceLength
}

// --------------------------------------------------------------------------------------------- //

/*
extractInfoBytes locates the "4:info" key in a bencoded torrent file
and returns the exact bytes of its dictionary value, so the info_hash
can be computed byte-for-byte from the original input rather than from
a re-encoding that might reorder keys.

Parameters:
  - data: the raw bencoded torrent file.

Returns:
  - []byte: the bencoded info dictionary, start-to-end inclusive of its
    surrounding 'd'...'e'.
  - error: non-nil if the prefix is missing, an integer is unterminated,
    or the dictionary never closes.
*/
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, fmt.Errorf("no \"4:info\" key found")
	}

	start := idx + len("4:info")

	depth := 0
	for i := start; i < len(data); i++ {
		switch b := data[i]; b {
		case 'd', 'l':
			depth++
		case 'e':
			depth--
			if depth == 0 {
				return data[start : i+1], nil
			}
		case 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}
			if j >= len(data) {
				return nil, fmt.Errorf("unterminated integer at offset %d", i)
			}
			i = j
		default:
			if b >= '0' && b <= '9' {
				j := i
				for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
				}
				if j < len(data) && data[j] == ':' {
					length, err := strconv.Atoi(string(data[i:j]))
					if err != nil {
						return nil, fmt.Errorf("invalid string length at offset %d-%d", i, j)
					}
					i = j + length
				}
			}
		}
	}

	return nil, fmt.Errorf("unterminated info dictionary")
}

// --------------------------------------------------------------------------------------------- //
