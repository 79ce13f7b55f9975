package torrent

import (
	"bytes"
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cooperativeFakePeer implements the minimal server side of the wire
// protocol: handshake, bitfield advertising every piece, unchoke on
// interest, and one piece reply per request. It models spec scenario 1
// ("single-file, 3 pieces of 16384 bytes, one cooperative peer").
func cooperativeFakePeer(t *testing.T, conn net.Conn, infoHash [20]byte, pieces [][]byte) {
	t.Helper()
	defer conn.Close()

	remoteHash, _, err := DecodeHandshake(conn)
	if err != nil || remoteHash != infoHash {
		return
	}
	if _, err := conn.Write(EncodeHandshake(infoHash, "-FK0001-abcdefghijklm")); err != nil {
		return
	}

	owned := make(map[int]bool, len(pieces))
	for i := range pieces {
		owned[i] = true
	}
	if _, err := conn.Write(EncodeMessage(MsgBitfield, EncodeBitfield(owned, len(pieces)))); err != nil {
		return
	}

	msg, err := ReadMessage(conn)
	if err != nil || msg == nil || msg.ID != MsgInterested {
		return
	}
	if _, err := conn.Write(EncodeMessage(MsgUnchoke, nil)); err != nil {
		return
	}

	// Every test piece here is exactly one block, so one request per piece
	// is all a correct session ever sends. Bound the loop to that many
	// requests rather than serving forever: a session that (by bug) keeps
	// re-requesting the same corrupt piece must not be able to wedge this
	// goroutine, or a test, in an endless request/response cycle.
	for served := 0; served < len(pieces); served++ {
		req, err := ReadMessage(conn)
		if err != nil {
			return
		}
		if req == nil {
			served--
			continue
		}
		if req.ID != MsgRequest {
			served--
			continue
		}

		index, offset, length := DecodeRequestPayload(req.Payload)
		if int(index) >= len(pieces) {
			return
		}
		block := pieces[index][offset : offset+length]
		if _, err := conn.Write(EncodeMessage(MsgPiece, EncodePiecePayload(index, offset, block))); err != nil {
			return
		}
	}
}

func listenForOnePeer(t *testing.T) (net.Listener, Peer) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := ln.Addr().(*net.TCPAddr)
	return ln, Peer{IP: "127.0.0.1", Port: uint16(addr.Port)}
}

func TestSessionHappyPathDownloadsAllPieces(t *testing.T) {
	pieces := make([][]byte, 3)
	hashes := make([][20]byte, 3)
	for i := range pieces {
		pieces[i] = bytes.Repeat([]byte{byte(i + 1)}, 16384)
		hashes[i] = sha1.Sum(pieces[i])
	}

	info := &Info{
		InfoHash:        [20]byte{1, 2, 3},
		PieceLength:     16384,
		LastPieceLength: 16384,
		TotalPieces:     3,
		PieceHashes:     hashes,
	}

	ln, peer := listenForOnePeer(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		cooperativeFakePeer(t, conn, info.InfoHash, pieces)
	}()

	store := NewPieceStore(info)
	sess := NewSession(peer, info, store, "-SB001-abcdefghijklm", NewLogger(false))

	require.NoError(t, sess.Run())
	assert.True(t, store.IsDone())

	data, err := store.Finalize()
	require.NoError(t, err)
	assert.Equal(t, 49152, len(data))
	for i, p := range pieces {
		assert.Equal(t, p, data[i*16384:(i+1)*16384])
	}
}

func TestSessionTerminatesCleanlyWhenPeerHasNothingUseful(t *testing.T) {
	info := &Info{
		InfoHash:        [20]byte{9, 9, 9},
		PieceLength:     16384,
		LastPieceLength: 16384,
		TotalPieces:     1,
		PieceHashes:     [][20]byte{sha1.Sum([]byte("irrelevant"))},
	}

	store := NewPieceStore(info)
	// pre-complete the only piece so the peer (which advertises it) has
	// nothing left that's missing.
	require.True(t, store.TryClaim(0, uuid.New()))
	store.Complete(0, bytes.Repeat([]byte{0}, 16384))

	ln, peer := listenForOnePeer(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		cooperativeFakePeer(t, conn, info.InfoHash, [][]byte{bytes.Repeat([]byte{0}, 16384)})
	}()

	sess := NewSession(peer, info, store, "-SB001-abcdefghijklm", NewLogger(false))
	require.NoError(t, sess.Run())
	assert.True(t, store.IsDone())
}

func TestSessionTerminatesWhenPeerClosesAfterBitfield(t *testing.T) {
	info := &Info{
		InfoHash:        [20]byte{4, 4, 4},
		PieceLength:     16384,
		LastPieceLength: 16384,
		TotalPieces:     1,
		PieceHashes:     [][20]byte{sha1.Sum(bytes.Repeat([]byte{7}, 16384))},
	}

	ln, peer := listenForOnePeer(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		remoteHash, _, err := DecodeHandshake(conn)
		if err != nil || remoteHash != info.InfoHash {
			return
		}
		conn.Write(EncodeHandshake(info.InfoHash, "-FK0001-abcdefghijklm"))
		conn.Write(EncodeMessage(MsgBitfield, EncodeBitfield(map[int]bool{0: true}, 1)))
		// then hang up without ever unchoking.
	}()

	store := NewPieceStore(info)
	sess := NewSession(peer, info, store, "-SB001-abcdefghijklm", NewLogger(false))

	start := time.Now()
	require.NoError(t, sess.Run())
	assert.Less(t, time.Since(start), unchokeTimeout+2*time.Second)

	assert.False(t, store.IsDone())
	assert.Contains(t, store.MissingIndices(), 0, "a peer that disconnects must leave the piece Missing, not Claimed")
}

func TestSessionReleasesPieceOnHashMismatch(t *testing.T) {
	good := bytes.Repeat([]byte{1}, 16384)
	corrupt := bytes.Repeat([]byte{2}, 16384) // peer will serve this instead of `good`

	info := &Info{
		InfoHash:        [20]byte{5, 5, 5},
		PieceLength:     16384,
		LastPieceLength: 16384,
		TotalPieces:     1,
		PieceHashes:     [][20]byte{sha1.Sum(good)},
	}

	ln, peer := listenForOnePeer(t)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		cooperativeFakePeer(t, conn, info.InfoHash, [][]byte{corrupt})
	}()

	store := NewPieceStore(info)
	sess := NewSession(peer, info, store, "-SB001-abcdefghijklm", NewLogger(false))

	require.NoError(t, sess.Run())
	assert.False(t, store.IsDone())
	assert.Contains(t, store.MissingIndices(), 0)
}
