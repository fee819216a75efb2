package metainfo

import (
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func writeTempTorrent(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.torrent")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func singleFileTorrent(pieces string, length int64) string {
	info := fmt.Sprintf("d6:lengthi%de4:name6:sample12:piece lengthi32768e6:pieces%d:%se",
		length, len(pieces), pieces)
	return fmt.Sprintf("d8:announce18:http://tracker.com4:info%se", info)
}

func TestLoadSingleFileHappyPath(t *testing.T) {
	p0 := sha1.Sum([]byte("piece-zero-hash-placeholder"))
	p1 := sha1.Sum([]byte("piece-one-hash-placeholder!!"))
	pieces := string(p0[:]) + string(p1[:])

	path := writeTempTorrent(t, singleFileTorrent(pieces, 40000))

	mi, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if mi.NumPieces() != 2 {
		t.Fatalf("NumPieces = %d, want 2", mi.NumPieces())
	}
	if mi.IsMultiFile() {
		t.Fatalf("IsMultiFile = true, want false")
	}
	if mi.TotalLength() != 40000 {
		t.Fatalf("TotalLength = %d, want 40000", mi.TotalLength())
	}
	if got := mi.PieceExpectedLength(1); got != 40000-32768 {
		t.Fatalf("PieceExpectedLength(last) = %d, want %d", got, 40000-32768)
	}
	if got := mi.PieceHash(0); got != p0 {
		t.Fatalf("PieceHash(0) = %x, want %x", got, p0)
	}

	// info_hash must be computed from the exact bencoded info bytes,
	// not a re-encoding of the decoded struct.
	raw, _ := os.ReadFile(path)
	infoBytes, err := extractInfoBytes(raw)
	if err != nil {
		t.Fatalf("extractInfoBytes: %v", err)
	}
	want := sha1.Sum(infoBytes)
	if mi.InfoHash != want {
		t.Fatalf("InfoHash = %x, want %x", mi.InfoHash, want)
	}
}

func TestLoadMultiFile(t *testing.T) {
	p0 := sha1.Sum([]byte("only-piece-of-this-torrent!!"))
	p1 := sha1.Sum([]byte("second-piece-of-this-torrent"))
	pieces := string(p0[:]) + string(p1[:])

	files := "l" +
		"d6:lengthi10000e4:pathl5:a.txtee" +
		"d6:lengthi22768e4:pathl3:dir5:b.txtee" +
		"e"
	info := fmt.Sprintf("d5:files%s4:name6:sample12:piece lengthi16384e6:pieces%d:%se",
		files, len(pieces), pieces)
	body := fmt.Sprintf("d8:announce18:http://tracker.com4:info%se", info)

	path := writeTempTorrent(t, body)
	mi, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if !mi.IsMultiFile() {
		t.Fatalf("IsMultiFile = false, want true")
	}
	if mi.TotalLength() != 32768 {
		t.Fatalf("TotalLength = %d, want 32768", mi.TotalLength())
	}
	if len(mi.Info.Files) != 2 || mi.Info.Files[1].Path[0] != "dir" || mi.Info.Files[1].Path[1] != "b.txt" {
		t.Fatalf("unexpected files: %+v", mi.Info.Files)
	}
}

func TestExtractInfoBytesMissingKey(t *testing.T) {
	_, err := extractInfoBytes([]byte("d8:announce3:abce"))
	if err == nil {
		t.Fatalf("expected error for missing info key")
	}
}

func TestValidateRejectsBothLengthAndFiles(t *testing.T) {
	mi := &Metainfo{
		Announce: "http://tracker.com",
		Info: Info{
			PieceLength: 16384,
			Pieces:      string(make([]byte, 20)),
			Name:        "x",
			Length:      10,
			Files:       []FileEntry{{Length: 10, Path: []string{"a"}}},
		},
	}
	if err := mi.validate(); err == nil {
		t.Fatalf("expected error when both length and files are set")
	}
}
