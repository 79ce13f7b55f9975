// Package torrent implements the peer-exchange engine of a leech-only
// BitTorrent client: tracker announce, the peer wire protocol, concurrent
// piece claiming across peer sessions, and on-disk assembly.
package torrent

import "fmt"

// FileEntry is one file in the torrent's layout, relative to the torrent's
// output directory.
type FileEntry struct {
	Path   string
	Length int64
}

// Info is the read-only descriptor produced by the metainfo parser and
// consumed by every other component: the piece store, the peer sessions,
// the tracker client, and the assembler.
type Info struct {
	InfoHash        [20]byte
	Name            string
	PieceLength     int64
	LastPieceLength int64
	TotalPieces     int
	PieceHashes     [][20]byte
	Files           []FileEntry
	TotalLength     int64
}

// PieceLen returns the expected byte length of piece index, accounting for
// a shorter final piece.
func (in *Info) PieceLen(index int) int64 {
	if index == in.TotalPieces-1 {
		return in.LastPieceLength
	}
	return in.PieceLength
}

func (in *Info) validate() error {
	if in.PieceLength <= 0 {
		return fmt.Errorf("torrent: non-positive piece length %d", in.PieceLength)
	}
	if in.TotalPieces == 0 {
		return fmt.Errorf("torrent: zero pieces")
	}
	if len(in.PieceHashes) != in.TotalPieces {
		return fmt.Errorf("torrent: %d piece hashes for %d pieces", len(in.PieceHashes), in.TotalPieces)
	}
	return nil
}
