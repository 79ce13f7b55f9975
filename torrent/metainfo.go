package torrent

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/jackpal/bencode-go"
)

// rawFile mirrors one entry of the info dictionary's "files" list in a
// multi-file torrent.
type rawFile struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// rawInfo mirrors the bencoded "info" dictionary.
type rawInfo struct {
	PieceLength int64     `bencode:"piece length"`
	Pieces      string    `bencode:"pieces"`
	Name        string    `bencode:"name"`
	Length      int64     `bencode:"length"`
	Files       []rawFile `bencode:"files"`
}

// rawTorrentFile mirrors the bencoded root dictionary of a .torrent file.
type rawTorrentFile struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         rawInfo    `bencode:"info"`
}

// ParseFile loads and decodes a .torrent file, returning the Info
// descriptor and the deduplicated list of HTTP(S) announce URLs found in
// the file, primary announce first.
func ParseFile(path string) (*Info, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("torrent: reading %q: %w", path, err)
	}

	var raw rawTorrentFile
	if err := bencode.Unmarshal(bytes.NewReader(data), &raw); err != nil {
		return nil, nil, fmt.Errorf("torrent: decoding %q: %w", path, err)
	}

	infoBytes, err := extractInfoBytes(data)
	if err != nil {
		return nil, nil, fmt.Errorf("torrent: extracting info dict: %w", err)
	}

	info, err := buildInfo(&raw.Info, sha1.Sum(infoBytes))
	if err != nil {
		return nil, nil, err
	}

	return info, httpTrackers(raw.Announce, raw.AnnounceList), nil
}

func buildInfo(raw *rawInfo, infoHash [20]byte) (*Info, error) {
	if len(raw.Pieces)%20 != 0 {
		return nil, fmt.Errorf("torrent: pieces field length %d is not a multiple of 20", len(raw.Pieces))
	}

	totalPieces := len(raw.Pieces) / 20
	hashes := make([][20]byte, totalPieces)
	for i := 0; i < totalPieces; i++ {
		copy(hashes[i][:], raw.Pieces[i*20:(i+1)*20])
	}

	var files []FileEntry
	var total int64

	if len(raw.Files) == 0 {
		files = []FileEntry{{Path: raw.Name, Length: raw.Length}}
		total = raw.Length
	} else {
		for _, f := range raw.Files {
			parts := append([]string{raw.Name}, f.Path...)
			files = append(files, FileEntry{Path: filepath.Join(parts...), Length: f.Length})
			total += f.Length
		}
	}

	lastLen := total % raw.PieceLength
	if lastLen == 0 {
		lastLen = raw.PieceLength
	}

	info := &Info{
		InfoHash:        infoHash,
		Name:            raw.Name,
		PieceLength:     raw.PieceLength,
		LastPieceLength: lastLen,
		TotalPieces:     totalPieces,
		PieceHashes:     hashes,
		Files:           files,
		TotalLength:     total,
	}

	if err := info.validate(); err != nil {
		return nil, err
	}

	return info, nil
}

// extractInfoBytes locates the raw "4:info" value inside the bencoded
// torrent file and returns its exact byte span. bencode.Unmarshal discards
// the original bytes once decoded, but the info-hash must be computed over
// precisely those bytes, so the span has to be recovered by a bracket-depth
// scan instead.
func extractInfoBytes(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, fmt.Errorf("no \"4:info\" key found")
	}

	start := idx + len("4:info")

	depth := 0
	for i := start; i < len(data); i++ {
		b := data[i]

		switch {
		case b == 'd' || b == 'l':
			depth++
		case b == 'e':
			depth--
			if depth == 0 {
				return data[start : i+1], nil
			}
		case b == 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}
			if j >= len(data) {
				return nil, fmt.Errorf("unterminated integer at offset %d", i)
			}
			i = j
		case b >= '0' && b <= '9':
			j := i
			for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
			}
			if j < len(data) && data[j] == ':' {
				length, err := strconv.Atoi(string(data[i:j]))
				if err != nil {
					return nil, fmt.Errorf("invalid string length at offset %d-%d", i, j)
				}
				j++
				i = j + length - 1
			}
		}
	}

	return nil, fmt.Errorf("unterminated info dictionary")
}

// httpTrackers dedups the primary announce URL and every announce-list
// tier entry, keeping only http(s) trackers in first-seen order (the core
// is an HTTP-only tracker client per spec Non-goals).
func httpTrackers(announce string, announceList [][]string) []string {
	seen := make(map[string]struct{})
	var out []string

	add := func(u string) {
		if u == "" {
			return
		}
		if !isHTTP(u) {
			return
		}
		if _, ok := seen[u]; ok {
			return
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}

	add(announce)
	for _, tier := range announceList {
		for _, u := range tier {
			add(u)
		}
	}

	return out
}
