// Package counter implements the unary monotone counter that the flash
// FIFO builds its head/tail positions out of. A counter occupying a
// byte range has value k iff bit
// k (LSB-first within each 32-bit word, word-LSW-first across words) is
// the first set bit in the range; it advances only by clearing bits, and
// resets only by erasing its containing sector.
package counter

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/bits-and-blooms/bitset"

	"github.com/tidelog/tidelog/internal/flashdev"
)

// ErrExhausted is returned when a counter's range has no set bit left,
// meaning its value would have to reach 8*L, which the encoding cannot
// represent.
var ErrExhausted = errors.New("counter: range exhausted, all bits clear")

// ErrRegression is returned by Mark when asked to clear a bit below the
// counter's current value (a bit that is already clear), which would
// violate the monotone-clear invariant maintained by callers.
var ErrRegression = errors.New("counter: cannot mark a position below the current value")

// Counter is a unary counter living in the byte range [Offset, Offset+Len)
// of one sector of a Device.
type Counter struct {
	Dev    flashdev.Device
	Sector uint32
	Offset uint32
	Len    uint32 // must be a multiple of 4
}

// Value scans the counter's byte range and returns the index of its first
// set bit, per the unary counter invariant. A freshly erased range (all
// 0xFF) reads as 0.
func (c Counter) Value(ctx context.Context) (uint32, error) {
	addr := c.Sector*c.Dev.SectorSize() + c.Offset
	raw, err := c.Dev.Read(ctx, addr, int(c.Len))
	if err != nil {
		return 0, err
	}

	bs := bytesToBitset(raw)
	idx, found := bs.NextSet(0)
	if !found || uint32(idx) >= 8*c.Len {
		return 0, ErrExhausted
	}
	return uint32(idx), nil
}

// Mark clears bit k, advancing the counter's value to k+1. Clearing a bit
// below the counter's current value is rejected as a regression; k equal
// to the current value is the ordinary one-step advance.
func (c Counter) Mark(ctx context.Context, k uint32) error {
	if k >= 8*c.Len {
		return ErrExhausted
	}

	cur, err := c.Value(ctx)
	if err != nil && !errors.Is(err, ErrExhausted) {
		return err
	}
	if err == nil && k < cur {
		return ErrRegression
	}

	wordOff := (k / 32) * 4
	bitInWord := k % 32
	mask := ^uint32(1 << bitInWord)

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, mask)

	addr := c.Sector*c.Dev.SectorSize() + c.Offset + wordOff
	return c.Dev.Write(ctx, addr, buf)
}

// bytesToBitset packs a 4-byte-aligned buffer into a *bitset.BitSet with
// bit 0 as the LSB of the first 32-bit little-endian word and subsequent
// words following in order, matching the counter's bit-numbering rule.
func bytesToBitset(raw []byte) *bitset.BitSet {
	nWords := len(raw) / 4
	words := make([]uint64, 0, (nWords+1)/2)
	for i := 0; i < nWords; i += 2 {
		lo := binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		var hi uint32
		if i+1 < nWords {
			hi = binary.LittleEndian.Uint32(raw[(i+1)*4 : (i+1)*4+4])
		}
		words = append(words, uint64(lo)|uint64(hi)<<32)
	}
	return bitset.From(words)
}
