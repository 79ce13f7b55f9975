package torrent

import (
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
)

// sessionPhase names a Peer Session's current point in its state machine.
type sessionPhase uint8

const (
	phaseConnecting sessionPhase = iota
	phaseHandshaking
	phaseAwaitingBitfield
	phaseDecidingInterest
	phaseAwaitingUnchoke
	phaseRequesting
	phaseTerminated
)

const (
	blockSize              = 1 << 14 // 16 KiB
	connectTimeout         = 3 * time.Second
	readTimeout            = 5 * time.Second
	writeTimeout           = 5 * time.Second
	unchokeTimeout         = 10 * time.Second
	maxBlockRetries        = 3
	maxConsecutiveFailures = 3
)

// Peer is a tracker-supplied (IPv4, port) pair.
type Peer struct {
	IP   string
	Port uint16
}

func (p Peer) String() string {
	return fmt.Sprintf("%s:%d", p.IP, p.Port)
}

// Session is one peer's state machine, owning one TCP connection and one
// local block buffer for the lifetime of one piece claim. A Session is
// run once and discarded.
type Session struct {
	peer   Peer
	info   *Info
	store  *PieceStore
	peerID string
	owner  uuid.UUID
	log    *Logger

	conn  net.Conn
	phase sessionPhase
	ad    *PeerAdvertisement

	consecutiveFailures int
	fatal               bool
	claimedIndex        int          // -1 when no claim is held
	failedHash          map[int]bool // pieces this session already failed verification on
}

// NewSession builds a Session targeting peer, sharing info and store with
// every other session in this download.
func NewSession(peer Peer, info *Info, store *PieceStore, peerID string, log *Logger) *Session {
	return &Session{
		peer:         peer,
		info:         info,
		store:        store,
		peerID:       peerID,
		owner:        uuid.New(),
		log:          log,
		claimedIndex: -1,
		failedHash:   make(map[int]bool),
	}
}

// Run drives the session through handshake, bitfield, interest, and the
// request loop, in order. It always returns nil: a per-session failure
// never propagates beyond "this task ended" (§7 of the design) — the
// session logs its own outcome and releases any held claim on every exit
// path.
func (s *Session) Run() error {
	defer s.releaseHeldClaim()
	defer func() {
		if s.conn != nil {
			s.conn.Close()
		}
	}()

	if err := s.connectAndHandshake(); err != nil {
		s.log.Fail("%s: handshake failed: %v", s.peer, err)
		return nil
	}

	if err := s.receiveBitfield(); err != nil {
		s.log.Fail("%s: bitfield phase failed: %v", s.peer, err)
		return nil
	}

	if err := s.negotiateInterest(); err != nil {
		s.log.Fail("%s: interest phase failed: %v", s.peer, err)
		return nil
	}

	s.requestLoop()
	return nil
}

func (s *Session) releaseHeldClaim() {
	if s.claimedIndex >= 0 {
		index := s.claimedIndex
		s.claimedIndex = -1
		s.store.Release(index)
	}
}

// --- Phase 1: Connect & Handshake ---

func (s *Session) connectAndHandshake() error {
	s.phase = phaseConnecting

	conn, err := net.DialTimeout("tcp", s.peer.String(), connectTimeout)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	s.conn = conn

	s.phase = phaseHandshaking

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if _, err := s.conn.Write(EncodeHandshake(s.info.InfoHash, s.peerID)); err != nil {
		return fmt.Errorf("sending handshake: %w", err)
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return err
	}
	remoteInfoHash, _, err := DecodeHandshake(s.conn)
	if err != nil {
		return fmt.Errorf("reading handshake: %w", err)
	}

	if remoteInfoHash != s.info.InfoHash {
		return fmt.Errorf("info-hash mismatch")
	}

	s.log.Debug("%s: handshake ok", s.peer)
	return nil
}

// --- Phase 2: Bitfield ---

func (s *Session) receiveBitfield() error {
	s.phase = phaseAwaitingBitfield

	msg, err := s.receive()
	if err != nil {
		return err
	}
	if msg == nil {
		return fmt.Errorf("keep-alive before bitfield")
	}
	if msg.ID != MsgBitfield {
		return fmt.Errorf("expected bitfield, got message id %d", msg.ID)
	}

	s.ad = DecodeBitfield(msg.Payload, s.info.TotalPieces)

	if len(s.ad.Useful(s.store.MissingIndices())) == 0 {
		return fmt.Errorf("peer has nothing useful")
	}

	s.log.Debug("%s: received bitfield", s.peer)
	return nil
}

// --- Phase 3: Interest ---

// negotiateInterest sends interested and then reads framed messages in a
// loop until an unchoke (id 1) is observed or unchokeTimeout elapses. A
// naive single fixed-offset read of the reply is fragile if the peer sends
// a choke or another message first; reading framed messages in a loop is
// the corrected behavior. A keep-alive here terminates the session, same as
// during the bitfield phase — only phase 4 tolerates keep-alives.
func (s *Session) negotiateInterest() error {
	s.phase = phaseDecidingInterest

	if err := s.send(MsgInterested, nil); err != nil {
		return fmt.Errorf("sending interested: %w", err)
	}

	s.phase = phaseAwaitingUnchoke
	deadline := time.Now().Add(unchokeTimeout)

	for time.Now().Before(deadline) {
		msg, err := s.receive()
		if err != nil {
			return fmt.Errorf("awaiting unchoke: %w", err)
		}
		if msg == nil {
			return fmt.Errorf("keep-alive while awaiting unchoke")
		}
		if msg.ID == MsgUnchoke {
			s.log.Debug("%s: unchoked", s.peer)
			return nil
		}
		// choke, or any other id: ignored, keep waiting for unchoke.
	}

	return fmt.Errorf("timed out waiting for unchoke")
}

// --- Phase 4: Request loop ---

func (s *Session) requestLoop() {
	s.phase = phaseRequesting

	for {
		if s.store.IsDone() {
			s.log.Info("%s: download already complete, exiting", s.peer)
			return
		}

		useful := s.usefulExcludingFailed()
		if len(useful) == 0 {
			s.log.Info("%s: nothing useful left, exiting", s.peer)
			return
		}

		progressed := false

		for _, index := range useful {
			if s.store.IsDone() {
				return
			}
			if !s.store.TryClaim(index, s.owner) {
				continue
			}
			s.claimedIndex = index

			ok := s.downloadPiece(index)

			s.claimedIndex = -1
			if ok {
				progressed = true
			}
			if s.fatal {
				s.log.Fail("%s: 3 consecutive I/O failures, terminating", s.peer)
				return
			}
		}

		if !progressed && s.consecutiveFailures > 0 {
			s.log.Fail("%s: outer pass made no progress after I/O failures, terminating", s.peer)
			return
		}
	}
}

// usefulExcludingFailed is like s.ad.Useful(s.store.MissingIndices()) but
// drops any index this session already saw fail SHA-1 verification. Without
// this, a peer serving a stably-corrupt piece would have it re-claimed and
// re-downloaded by this same session forever: the piece goes Missing again
// on release, is still advertised, and no I/O error ever fires to trip the
// consecutive-failure guard. An index that failed verification is not
// attempted again by this session (a piece that failed for other reasons
// may be); the piece remains Missing for other sessions to try.
func (s *Session) usefulExcludingFailed() []int {
	missing := s.store.MissingIndices()
	candidates := make([]int, 0, len(missing))
	for _, index := range missing {
		if !s.failedHash[index] {
			candidates = append(candidates, index)
		}
	}
	return s.ad.Useful(candidates)
}

// downloadPiece requests every block of index in order, reassembles and
// verifies the piece, and commits it to the store. It releases the claim
// and returns false on any per-piece failure.
func (s *Session) downloadPiece(index int) bool {
	pieceLen := s.info.PieceLen(index)
	blocks := make(map[uint32][]byte)

	for offset := int64(0); offset < pieceLen; offset += blockSize {
		remaining := pieceLen - offset
		length := int64(blockSize)
		if remaining < length {
			length = remaining
		}

		if !s.requestBlock(index, uint32(offset), uint32(length), blocks) {
			s.store.Release(index)
			return false
		}
		if s.fatal {
			s.store.Release(index)
			return false
		}
	}

	data := reassemble(blocks, pieceLen)
	if data == nil {
		s.log.Fail("%s: piece %d missing block offsets after loop", s.peer, index)
		s.store.Release(index)
		return false
	}

	if !s.store.VerifyAndComplete(index, data) {
		s.log.Fail("%s: piece %d hash mismatch", s.peer, index)
		s.store.Release(index)
		s.failedHash[index] = true
		return false
	}

	s.log.Info("%s: completed piece %d (%d/%d)", s.peer, index, s.store.CompletedCount(), s.info.TotalPieces)
	return true
}

// requestBlock sends a request for one block and waits for the matching
// piece message, retrying up to maxBlockRetries times after the initial
// attempt (maxBlockRetries+1 sends total). Non-matching messages (wrong id
// or wrong index/offset) count as a failed attempt; a keep-alive does not
// and the session keeps waiting within the same attempt.
func (s *Session) requestBlock(index int, offset, length uint32, blocks map[uint32][]byte) bool {
	for attempt := 0; attempt <= maxBlockRetries; attempt++ {
		if err := s.send(MsgRequest, EncodeRequestPayload(uint32(index), offset, length)); err != nil {
			if s.fatal {
				return false
			}
			continue
		}

		for {
			msg, err := s.receive()
			if err != nil {
				break // I/O failure: move to the next attempt (or bail if fatal)
			}
			if msg == nil {
				continue // keep-alive: keep waiting within this attempt
			}
			if msg.ID != MsgPiece {
				break // wrong id: failed attempt
			}

			gotIndex, gotOffset, block := DecodePiecePayload(msg.Payload)
			if gotIndex != uint32(index) || gotOffset != offset {
				break // mismatched piece: failed attempt
			}

			blocks[offset] = append([]byte(nil), block...)
			return true
		}

		if s.fatal {
			return false
		}
	}

	return false
}

func reassemble(blocks map[uint32][]byte, pieceLen int64) []byte {
	data := make([]byte, 0, pieceLen)
	for offset := int64(0); offset < pieceLen; offset += blockSize {
		block, ok := blocks[uint32(offset)]
		if !ok {
			return nil
		}
		data = append(data, block...)
	}
	if int64(len(data)) != pieceLen {
		return nil
	}
	return data
}

// --- wire helpers with the consecutive-I/O-failure policy ---

func (s *Session) send(id MessageID, payload []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if _, err := s.conn.Write(EncodeMessage(id, payload)); err != nil {
		s.recordFailure()
		return err
	}
	s.consecutiveFailures = 0
	s.log.Debug("%s: sent message id %d (%d payload bytes)", s.peer, id, len(payload))
	return nil
}

func (s *Session) receive() (*Message, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return nil, err
	}
	msg, err := ReadMessage(s.conn)
	if err != nil {
		s.recordFailure()
		return nil, err
	}
	s.consecutiveFailures = 0
	if msg == nil {
		s.log.Debug("%s: received keep-alive", s.peer)
	} else {
		s.log.Debug("%s: received message id %d (%d payload bytes)", s.peer, msg.ID, len(msg.Payload))
	}
	return msg, nil
}

// recordFailure increments the session-wide consecutive-I/O-failure count
// and marks the session fatal once it reaches maxConsecutiveFailures, per
// the §4.3 failure policy: three in a row terminates the connection
// regardless of which phase observed them.
func (s *Session) recordFailure() {
	s.consecutiveFailures++
	if s.consecutiveFailures >= maxConsecutiveFailures {
		s.fatal = true
	}
}
