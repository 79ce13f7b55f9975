package torrent

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		id      MessageID
		payload []byte
	}{
		{"choke", MsgChoke, []byte{}},
		{"unchoke", MsgUnchoke, []byte{}},
		{"interested", MsgInterested, []byte{}},
		{"have", MsgHave, []byte{0, 0, 0, 7}},
		{"bitfield", MsgBitfield, []byte{0xFF, 0x80}},
		{"request", MsgRequest, EncodeRequestPayload(1, 16384, 16384)},
		{"piece", MsgPiece, EncodePiecePayload(1, 0, []byte("hello world"))},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			frame := EncodeMessage(c.id, c.payload)

			msg, err := ReadMessage(bytes.NewReader(frame))
			require.NoError(t, err)
			require.NotNil(t, msg)
			assert.Equal(t, c.id, msg.ID)
			assert.Equal(t, c.payload, msg.Payload)
		})
	}
}

func TestReadMessageKeepAlive(t *testing.T) {
	msg, err := ReadMessage(bytes.NewReader(EncodeKeepAlive()))
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestReadMessageTruncatedIsMalformed(t *testing.T) {
	frame := EncodeMessage(MsgPiece, EncodePiecePayload(0, 0, []byte("block")))
	truncated := frame[:len(frame)-3]

	_, err := ReadMessage(bytes.NewReader(truncated))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadMessageWrongLengthKnownIDIsMalformed(t *testing.T) {
	// a "have" message must carry exactly 4 payload bytes.
	frame := EncodeMessage(MsgHave, []byte{0, 0, 0})
	_, err := ReadMessage(bytes.NewReader(frame))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestReadMessageUnknownIDIsNotAnError(t *testing.T) {
	frame := EncodeMessage(MessageID(99), []byte{1, 2, 3})
	msg, err := ReadMessage(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, MessageID(99), msg.ID)
}

func TestRequestPayloadRoundTrip(t *testing.T) {
	payload := EncodeRequestPayload(42, 16384, 8192)
	index, offset, length := DecodeRequestPayload(payload)
	assert.Equal(t, uint32(42), index)
	assert.Equal(t, uint32(16384), offset)
	assert.Equal(t, uint32(8192), length)
}

func TestPiecePayloadRoundTrip(t *testing.T) {
	block := []byte("some block of bytes")
	payload := EncodePiecePayload(7, 32768, block)
	index, offset, got := DecodePiecePayload(payload)
	assert.Equal(t, uint32(7), index)
	assert.Equal(t, uint32(32768), offset)
	assert.Equal(t, block, got)
}

func TestHandshakeRoundTrip(t *testing.T) {
	var infoHash [20]byte
	copy(infoHash[:], []byte("01234567890123456789"))
	peerID := "-SB001-abcdefghijklm"

	frame := EncodeHandshake(infoHash, peerID)
	require.Len(t, frame, HandshakeLength)

	gotHash, gotPeerID, err := DecodeHandshake(bytes.NewReader(frame))
	require.NoError(t, err)
	assert.Equal(t, infoHash, gotHash)
	assert.Equal(t, []byte(peerID)[:20], gotPeerID[:])
}

func TestDecodeHandshakeBadProtocolIsMalformed(t *testing.T) {
	frame := EncodeHandshake([20]byte{}, "-SB001-abcdefghijklm")
	frame[0] = 5 // wrong pstrlen

	_, _, err := DecodeHandshake(bytes.NewReader(frame))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestEncodeBitfieldSetsExpectedBits(t *testing.T) {
	owned := map[int]bool{0: true, 7: true, 8: true}
	payload := EncodeBitfield(owned, 9)

	require.Len(t, payload, 2)
	assert.Equal(t, byte(0b10000001), payload[0])
	assert.Equal(t, byte(0b10000000), payload[1])
}
