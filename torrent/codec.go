package torrent

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MessageID identifies a BitTorrent peer wire message.
type MessageID uint8

// Message ids the core understands. Others may arrive on the wire and are
// decoded but never treated as errors — ReadMessage returns them as-is and
// the caller decides whether to ignore them.
const (
	MsgChoke         MessageID = 0
	MsgUnchoke       MessageID = 1
	MsgInterested    MessageID = 2
	MsgNotInterested MessageID = 3
	MsgHave          MessageID = 4
	MsgBitfield      MessageID = 5
	MsgRequest       MessageID = 6
	MsgPiece         MessageID = 7
	MsgCancel        MessageID = 8
)

// maxMessageLength bounds how large a declared payload length is allowed to
// be before it is treated as malformed, protecting against a peer claiming
// an absurd frame size.
const maxMessageLength = 1 << 20

// ErrMalformed is returned by ReadMessage and DecodeHandshake when the peer
// sent a frame that cannot be interpreted as a BitTorrent wire message.
var ErrMalformed = errors.New("torrent: malformed peer message")

// Message is one decoded, length-prefix-framed peer message. A nil
// *Message with a nil error from ReadMessage represents a keep-alive.
type Message struct {
	ID      MessageID
	Payload []byte
}

// EncodeMessage serializes a message as a 4-byte big-endian length prefix
// followed by the id byte and payload.
func EncodeMessage(id MessageID, payload []byte) []byte {
	length := uint32(len(payload) + 1)
	buf := make([]byte, 4+length)
	binary.BigEndian.PutUint32(buf[0:4], length)
	buf[4] = byte(id)
	copy(buf[5:], payload)
	return buf
}

// EncodeKeepAlive returns the 4-byte zero-length keep-alive frame.
func EncodeKeepAlive() []byte {
	return []byte{0, 0, 0, 0}
}

// ReadMessage reads one length-prefix-framed message from r. It returns
// (nil, nil) for a keep-alive, and ErrMalformed if the frame cannot arrive
// as declared or a known message id carries the wrong payload length.
func ReadMessage(r io.Reader) (*Message, error) {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return nil, err
	}

	length := binary.BigEndian.Uint32(lengthBuf[:])
	if length == 0 {
		return nil, nil
	}
	if length > maxMessageLength {
		return nil, fmt.Errorf("%w: declared length %d exceeds limit", ErrMalformed, length)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	msg := &Message{ID: MessageID(buf[0]), Payload: buf[1:]}

	switch msg.ID {
	case MsgChoke, MsgUnchoke, MsgInterested, MsgNotInterested:
		if len(msg.Payload) != 0 {
			return nil, fmt.Errorf("%w: id %d with non-empty payload", ErrMalformed, msg.ID)
		}
	case MsgHave:
		if len(msg.Payload) != 4 {
			return nil, fmt.Errorf("%w: have payload length %d", ErrMalformed, len(msg.Payload))
		}
	case MsgRequest, MsgCancel:
		if len(msg.Payload) != 12 {
			return nil, fmt.Errorf("%w: request/cancel payload length %d", ErrMalformed, len(msg.Payload))
		}
	case MsgPiece:
		if len(msg.Payload) < 8 {
			return nil, fmt.Errorf("%w: piece payload length %d", ErrMalformed, len(msg.Payload))
		}
	case MsgBitfield:
		// any length is valid; the number of pieces determines how much of
		// it is meaningful.
	}

	return msg, nil
}

// EncodeRequestPayload builds the 12-byte payload of a request (or cancel)
// message.
func EncodeRequestPayload(index, offset, length uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], offset)
	binary.BigEndian.PutUint32(buf[8:12], length)
	return buf
}

// DecodeRequestPayload parses a request (or cancel) message's payload.
// Callers must have validated len(payload) == 12.
func DecodeRequestPayload(payload []byte) (index, offset, length uint32) {
	index = binary.BigEndian.Uint32(payload[0:4])
	offset = binary.BigEndian.Uint32(payload[4:8])
	length = binary.BigEndian.Uint32(payload[8:12])
	return
}

// EncodePiecePayload builds the payload of a piece message: index, offset,
// then the raw block bytes.
func EncodePiecePayload(index, offset uint32, block []byte) []byte {
	buf := make([]byte, 8+len(block))
	binary.BigEndian.PutUint32(buf[0:4], index)
	binary.BigEndian.PutUint32(buf[4:8], offset)
	copy(buf[8:], block)
	return buf
}

// DecodePiecePayload parses a piece message's payload. Callers must have
// validated len(payload) >= 8.
func DecodePiecePayload(payload []byte) (index, offset uint32, block []byte) {
	index = binary.BigEndian.Uint32(payload[0:4])
	offset = binary.BigEndian.Uint32(payload[4:8])
	block = payload[8:]
	return
}

// EncodeBitfield serializes a set of owned piece indices (out of total) as
// an MSB-first, byte-padded bitfield payload.
func EncodeBitfield(owned map[int]bool, total int) []byte {
	buf := make([]byte, (total+7)/8)
	for index := range owned {
		if index < 0 || index >= total {
			continue
		}
		buf[index/8] |= 1 << (7 - uint(index%8))
	}
	return buf
}

const (
	// ProtocolName is the fixed protocol identifier exchanged in the
	// handshake.
	ProtocolName = "BitTorrent protocol"
	// HandshakeLength is the fixed size of a handshake frame in bytes.
	HandshakeLength = 49 + len(ProtocolName)
)

// EncodeHandshake builds the fixed 68-byte handshake frame:
// pstrlen | pstr | 8 reserved zero bytes | info_hash | peer_id.
func EncodeHandshake(infoHash [20]byte, peerID string) []byte {
	buf := make([]byte, HandshakeLength)
	buf[0] = byte(len(ProtocolName))
	copy(buf[1:1+len(ProtocolName)], ProtocolName)
	copy(buf[28:48], infoHash[:])
	copy(buf[48:68], peerID)
	return buf
}

// DecodeHandshake reads and validates a 68-byte handshake frame from r,
// returning the remote's info-hash and peer-id. The peer-id is not
// validated; the info-hash must be checked by the caller against the
// local torrent's.
func DecodeHandshake(r io.Reader) (infoHash [20]byte, peerID [20]byte, err error) {
	buf := make([]byte, HandshakeLength)
	if _, err = io.ReadFull(r, buf); err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformed, err)
		return
	}

	if buf[0] != byte(len(ProtocolName)) || string(buf[1:1+len(ProtocolName)]) != ProtocolName {
		err = fmt.Errorf("%w: unexpected protocol string", ErrMalformed)
		return
	}

	copy(infoHash[:], buf[28:48])
	copy(peerID[:], buf[48:68])
	return
}
