package torrent

import (
	"fmt"

	"github.com/google/uuid"
)

const (
	peerIDPrefix  = "-SB001-"
	peerIDLength  = 20
	peerIDCharset = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// NewPeerID generates the 20-byte client identifier sent in every
// handshake and tracker announce: the literal prefix "-SB001-" followed by
// 13 characters drawn from [a-z0-9]. One peer-id is generated per process
// invocation and reused across all sessions and the tracker query.
func NewPeerID() (string, error) {
	want := peerIDLength - len(peerIDPrefix)

	suffix := make([]byte, want)
	filled := 0
	for filled < want {
		id, err := uuid.NewRandom()
		if err != nil {
			return "", fmt.Errorf("torrent: generating peer id: %w", err)
		}
		for _, b := range id {
			if filled == want {
				break
			}
			suffix[filled] = peerIDCharset[int(b)%len(peerIDCharset)]
			filled++
		}
	}

	return peerIDPrefix + string(suffix), nil
}
