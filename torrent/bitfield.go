package torrent

import "github.com/willf/bitset"

// PeerAdvertisement is the immutable set of piece indices a peer announced
// in its bitfield message. It never changes after decode — the core does
// not process subsequent "have" updates.
type PeerAdvertisement struct {
	bits  *bitset.BitSet
	total int
}

// DecodeBitfield decodes a raw bitfield payload (MSB-first, one bit per
// piece index, padded to a byte) into a PeerAdvertisement. Bits at or past
// total are protocol padding and are ignored.
func DecodeBitfield(payload []byte, total int) *PeerAdvertisement {
	bits := bitset.New(uint(total))

	for index := 0; index < total; index++ {
		byteIndex := index / 8
		bitIndex := index % 8
		if byteIndex >= len(payload) {
			break
		}
		if (payload[byteIndex]>>(7-bitIndex))&1 == 1 {
			bits.Set(uint(index))
		}
	}

	return &PeerAdvertisement{bits: bits, total: total}
}

// Has reports whether the peer advertised piece index.
func (a *PeerAdvertisement) Has(index int) bool {
	if a == nil || a.bits == nil || index < 0 || index >= a.total {
		return false
	}
	return a.bits.Test(uint(index))
}

// Useful returns, in ascending order, the subset of missing that this peer
// advertises.
func (a *PeerAdvertisement) Useful(missing []int) []int {
	useful := make([]int, 0, len(missing))
	for _, index := range missing {
		if a.Has(index) {
			useful = append(useful, index)
		}
	}
	return useful
}
