package torrent

import (
	"bytes"
	"crypto/sha1"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type pieceTag uint8

const (
	tagMissing pieceTag = iota
	tagClaimed
	tagCompleted
)

type pieceState struct {
	tag   pieceTag
	owner uuid.UUID // diagnostic only; claim/release/complete key purely on index
	data  []byte
}

// PieceStore is the single shared mutable resource of a download: the
// piece-ownership map. Every operation is atomic with respect to every
// other; no operation performs I/O while holding the lock.
type PieceStore struct {
	mu        sync.Mutex
	states    []pieceState
	hashes    [][20]byte
	completed int
}

// NewPieceStore builds an empty PieceStore (every piece Missing) sized for
// info.
func NewPieceStore(info *Info) *PieceStore {
	return &PieceStore{
		states: make([]pieceState, info.TotalPieces),
		hashes: info.PieceHashes,
	}
}

// TryClaim transitions piece index from Missing to Claimed(owner) and
// returns true, or returns false if the piece is already Claimed or
// Completed. This is the sole coordination primitive between peer
// sessions.
func (s *PieceStore) TryClaim(index int, owner uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.states[index].tag != tagMissing {
		return false
	}
	s.states[index] = pieceState{tag: tagClaimed, owner: owner}
	return true
}

// Release transitions a Claimed piece back to Missing. It is a no-op on a
// Completed piece. Releasing an already-Missing piece is a caller bug (a
// double release) and is fatal, per the store's invariants.
func (s *PieceStore) Release(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.states[index].tag {
	case tagClaimed:
		s.states[index] = pieceState{}
	case tagCompleted:
		// no-op: a completed piece never regresses.
	case tagMissing:
		panic(fmt.Sprintf("torrent: double release of piece %d", index))
	}
}

// Complete transitions a Claimed piece to Completed(data). The caller must
// currently hold the claim. Calling Complete twice for the same index is a
// caller bug and is fatal.
func (s *PieceStore) Complete(index int, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.states[index].tag == tagCompleted {
		panic(fmt.Sprintf("torrent: double complete of piece %d", index))
	}
	s.states[index] = pieceState{tag: tagCompleted, data: data}
	s.completed++
}

// VerifyAndComplete checks data's SHA-1 against the piece's expected hash
// and, on match, calls Complete. It reports whether the piece was
// completed.
func (s *PieceStore) VerifyAndComplete(index int, data []byte) bool {
	sum := sha1.Sum(data)
	if !bytes.Equal(sum[:], s.hashes[index][:]) {
		return false
	}
	s.Complete(index, data)
	return true
}

// MissingIndices returns, in ascending order, the indices that are
// currently neither Claimed nor Completed.
func (s *PieceStore) MissingIndices() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	missing := make([]int, 0, len(s.states))
	for i, st := range s.states {
		if st.tag == tagMissing {
			missing = append(missing, i)
		}
	}
	sort.Ints(missing)
	return missing
}

// SnapshotCompleted returns the set of indices currently Completed.
func (s *PieceStore) SnapshotCompleted() map[int]bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[int]bool, s.completed)
	for i, st := range s.states {
		if st.tag == tagCompleted {
			out[i] = true
		}
	}
	return out
}

// CompletedCount returns how many pieces are currently Completed.
func (s *PieceStore) CompletedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// IsDone reports whether every piece is Completed.
func (s *PieceStore) IsDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed == len(s.states)
}

// Finalize concatenates every piece's bytes in ascending index order. It is
// only valid once IsDone reports true.
func (s *PieceStore) Finalize() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.completed != len(s.states) {
		return nil, fmt.Errorf("torrent: finalize called with %d/%d pieces completed", s.completed, len(s.states))
	}

	var buf bytes.Buffer
	for _, st := range s.states {
		buf.Write(st.data)
	}
	return buf.Bytes(), nil
}
