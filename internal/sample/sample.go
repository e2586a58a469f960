// Package sample defines the 16-byte record stored in the flash FIFO and
// the text rendering rules used when a sample is framed into an S4PP
// sequence.
package sample

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Size is the on-disk/on-wire encoding size of a Sample: four 32-bit
// little-endian fields.
const Size = 16

// Sample is an immutable time-series reading.
type Sample struct {
	Timestamp uint32 // seconds since the Unix epoch
	Value     int32  // raw integer reading
	Decimals  uint8  // 0-7 implicit decimal shifts applied to Value when rendered
	Tag       Tag    // short metric name, packed 4 ASCII bytes
}

// Tag is a 4-byte ASCII identifier packed little-endian, zero-padded when
// shorter than 4 characters.
type Tag uint32

// TagFromString packs up to the first 4 bytes of s into a Tag, zero-padding
// the remainder.
func TagFromString(s string) Tag {
	var b [4]byte
	n := copy(b[:], s)
	_ = n
	return Tag(binary.LittleEndian.Uint32(b[:]))
}

// String unpacks the tag back into its ASCII form, trimming trailing NULs.
func (t Tag) String() string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(t))
	return strings.TrimRight(string(b[:]), "\x00")
}

// Encode writes the 16-byte little-endian encoding of s into dst, which
// must be at least Size bytes long.
func (s Sample) Encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:4], s.Timestamp)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(s.Value))
	binary.LittleEndian.PutUint32(dst[8:12], uint32(s.Decimals))
	binary.LittleEndian.PutUint32(dst[12:16], uint32(s.Tag))
}

// Decode is the inverse of Encode; src must be at least Size bytes long.
func Decode(src []byte) Sample {
	return Sample{
		Timestamp: binary.LittleEndian.Uint32(src[0:4]),
		Value:     int32(binary.LittleEndian.Uint32(src[4:8])),
		Decimals:  uint8(binary.LittleEndian.Uint32(src[8:12])),
		Tag:       Tag(binary.LittleEndian.Uint32(src[12:16])),
	}
}

// RenderDecimal renders value with a decimal point inserted decimals places
// from the right, trimming trailing zeros and the point itself when the
// fractional part is entirely zero. A zero value always renders as "0".
func RenderDecimal(value int32, decimals uint8) string {
	if value == 0 {
		return "0"
	}

	neg := value < 0
	uv := uint64(value)
	if neg {
		uv = uint64(-value)
	}

	digits := fmt.Sprintf("%d", uv)
	if decimals > 0 {
		for len(digits) <= int(decimals) {
			digits = "0" + digits
		}
		cut := len(digits) - int(decimals)
		intPart, fracPart := digits[:cut], digits[cut:]
		fracPart = strings.TrimRight(fracPart, "0")
		if fracPart == "" {
			digits = intPart
		} else {
			digits = intPart + "." + fracPart
		}
	}

	if neg {
		return "-" + digits
	}
	return digits
}

// FormatLine renders one S4PP data line: "<dictIndex>,<deltaT>,<rendered>\n".
func FormatLine(dictIndex int, deltaT int32, value int32, decimals uint8) string {
	return fmt.Sprintf("%d,%d,%s\n", dictIndex, deltaT, RenderDecimal(value, decimals))
}

// FormatDict renders one S4PP dictionary line:
// "DICT:<index>,<unit>,<unitdiv>,<name>\n". unit defaults to "" and unitdiv
// to "1" when empty.
func FormatDict(index int, unit, unitdiv, name string) string {
	if unitdiv == "" {
		unitdiv = "1"
	}
	return fmt.Sprintf("DICT:%d,%s,%s,%s\n", index, unit, unitdiv, name)
}
