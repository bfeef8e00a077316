package transfer

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// patternChunkSize bounds the staging block used for fill and verify. One
// chunk is generated per seed and reused across the whole region.
const patternChunkSize = 2 * 1024 * 1024

// MismatchError is the fatal diagnostic for a verification failure: the
// transfer path under test silently corrupted data. It is never retried.
type MismatchError struct {
	Node   string
	Offset uint64 // byte offset of the first mismatching word
	Limit  uint64 // number of bytes verified
	Want   uint32
	Got    uint32
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("pattern mismatch on %s at offset %d/%d: want %#08x, got %#08x",
		e.Node, e.Offset, e.Limit, e.Want, e.Got)
}

// xorshiftChunk fills one staging block with the pseudorandom word stream
// derived from seed.
func xorshiftChunk(seed uint32) []byte {
	buf := make([]byte, patternChunkSize)
	v := seed
	for i := 0; i < patternChunkSize; i += 4 {
		v ^= v << 13
		v ^= v >> 17
		v ^= v << 5
		binary.LittleEndian.PutUint32(buf[i:], v)
	}
	return buf
}

func fillPattern(dst []byte, seed uint32, nbytes uint64) error {
	if nbytes > uint64(len(dst)) {
		return fmt.Errorf("fill of %d bytes exceeds %d byte allocation", nbytes, len(dst))
	}
	chunk := xorshiftChunk(seed)
	for off := uint64(0); off < nbytes; off += patternChunkSize {
		n := uint64(patternChunkSize)
		if nbytes-off < n {
			n = nbytes - off
		}
		copy(dst[off:off+n], chunk[:n])
	}
	return nil
}

func verifyPattern(node string, buf []byte, seed uint32, nbytes uint64) error {
	if nbytes > uint64(len(buf)) {
		return fmt.Errorf("verify of %d bytes exceeds %d byte allocation", nbytes, len(buf))
	}
	chunk := xorshiftChunk(seed)
	for off := uint64(0); off < nbytes; off += patternChunkSize {
		n := uint64(patternChunkSize)
		if nbytes-off < n {
			n = nbytes - off
		}
		if bytes.Equal(buf[off:off+n], chunk[:n]) {
			continue
		}
		for x := uint64(0); x < n; x += 4 {
			var want, got uint32
			if n-x >= 4 {
				want = binary.LittleEndian.Uint32(chunk[x:])
				got = binary.LittleEndian.Uint32(buf[off+x:])
			} else {
				// tail narrower than a word
				for b := uint64(0); b < n-x; b++ {
					want |= uint32(chunk[x+b]) << (8 * b)
					got |= uint32(buf[off+x+b]) << (8 * b)
				}
			}
			if want != got {
				return &MismatchError{Node: node, Offset: off + x, Limit: nbytes, Want: want, Got: got}
			}
		}
	}
	return nil
}
