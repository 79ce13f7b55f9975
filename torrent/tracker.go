package torrent

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jackpal/bencode-go"
)

// trackerResponse mirrors the bencoded HTTP tracker announce response.
type trackerResponse struct {
	Failure  string `bencode:"failure reason"`
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
}

// TrackerClient issues the compact HTTP tracker announce and decodes the
// response into a peer list.
type TrackerClient struct {
	http *resty.Client
}

// NewTrackerClient builds a TrackerClient with a bounded request timeout.
func NewTrackerClient() *TrackerClient {
	return &TrackerClient{http: resty.New().SetTimeout(15 * time.Second)}
}

// Announce queries announceURL for peers serving info, identifying this
// client as peerID listening on port. It returns the peer list from a
// successful compact response.
func (t *TrackerClient) Announce(ctx context.Context, announceURL string, info *Info, peerID string, port uint16) ([]Peer, error) {
	resp, err := t.http.R().
		SetContext(ctx).
		SetHeader("User-Agent", "sbtorrent/1.0").
		SetQueryParams(map[string]string{
			"info_hash":  string(info.InfoHash[:]),
			"peer_id":    peerID,
			"port":       strconv.Itoa(int(port)),
			"uploaded":   "0",
			"downloaded": "0",
			"left":       strconv.FormatInt(info.TotalLength, 10),
			"compact":    "1",
			"event":      "started",
		}).
		Get(announceURL)
	if err != nil {
		return nil, fmt.Errorf("torrent: tracker request to %s: %w", announceURL, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("torrent: tracker %s returned status %d", announceURL, resp.StatusCode())
	}

	var tr trackerResponse
	if err := bencode.Unmarshal(bytes.NewReader(resp.Body()), &tr); err != nil {
		return nil, fmt.Errorf("torrent: decoding tracker response from %s: %w", announceURL, err)
	}
	if tr.Failure != "" {
		return nil, fmt.Errorf("torrent: tracker %s failure: %s", announceURL, tr.Failure)
	}

	return parseCompactPeers(tr.Peers)
}

// parseCompactPeers unpacks a compact peer list: 4-byte IPv4 + 2-byte
// big-endian port per peer.
func parseCompactPeers(peers string) ([]Peer, error) {
	raw := []byte(peers)
	if len(raw)%6 != 0 {
		return nil, fmt.Errorf("torrent: compact peers length %d is not a multiple of 6", len(raw))
	}

	out := make([]Peer, 0, len(raw)/6)
	for i := 0; i < len(raw); i += 6 {
		ip := net.IPv4(raw[i], raw[i+1], raw[i+2], raw[i+3]).String()
		port := binary.BigEndian.Uint16(raw[i+4 : i+6])
		out = append(out, Peer{IP: ip, Port: port})
	}
	return out, nil
}

func isHTTP(url string) bool {
	return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
}
