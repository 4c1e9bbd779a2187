// Package fingerprint computes the rolling checksum used to verify that two
// runs of the same model executed identically.
//
// The hash is a single 32-bit word. Every merged value rotates the word left
// by one bit and XORs the value in, so the result depends on the order of
// the merged values. Values wider than 32 bits are folded as two merges, low
// word first, which makes the result independent of the platform's native
// integer width: Go int and uint are always folded as 64-bit values.
//
// Floating-point values are merged through their IEEE-754 bit pattern.
// No byte-order normalization is applied anywhere, so fingerprints are not
// guaranteed to agree between machines of different endianness.
package fingerprint

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Width is the number of hex digits in a rendered fingerprint.
const Width = 8

// Hasher accumulates the fingerprint. The zero value is ready to use.
// Not safe for concurrent use.
type Hasher struct {
	value uint32
}

// New returns a zeroed Hasher.
func New() *Hasher {
	return &Hasher{}
}

func (h *Hasher) merge(x uint32) {
	h.value = (h.value<<1 | h.value>>31) ^ x
}

func (h *Hasher) merge2(x uint64) {
	h.merge(uint32(x))
	h.merge(uint32(x >> 32))
}

// Reset zeroes the hash.
func (h *Hasher) Reset() { h.value = 0 }

func (h *Hasher) AddInt8(d int8)     { h.merge(uint32(int32(d))) }
func (h *Hasher) AddInt16(d int16)   { h.merge(uint32(int32(d))) }
func (h *Hasher) AddInt32(d int32)   { h.merge(uint32(d)) }
func (h *Hasher) AddInt64(d int64)   { h.merge2(uint64(d)) }
func (h *Hasher) AddInt(d int)       { h.merge2(uint64(int64(d))) }
func (h *Hasher) AddUint8(d uint8)   { h.merge(uint32(d)) }
func (h *Hasher) AddUint16(d uint16) { h.merge(uint32(d)) }
func (h *Hasher) AddUint32(d uint32) { h.merge(d) }
func (h *Hasher) AddUint64(d uint64) { h.merge2(d) }
func (h *Hasher) AddUint(d uint)     { h.merge2(uint64(d)) }
func (h *Hasher) AddByte(d byte)     { h.merge(uint32(d)) }
func (h *Hasher) AddRune(d rune)     { h.merge(uint32(d)) }

// AddBool merges true as 1 and false as 0.
func (h *Hasher) AddBool(d bool) {
	if d {
		h.merge(1)
	} else {
		h.merge(0)
	}
}

// AddFloat64 merges the raw bit pattern of d.
func (h *Hasher) AddFloat64(d float64) { h.merge2(math.Float64bits(d)) }

// AddFloat32 widens d to float64 first, so float32 and float64 inputs of
// the same value hash alike.
func (h *Hasher) AddFloat32(d float32) { h.AddFloat64(float64(d)) }

// AddBytes merges p byte by byte.
func (h *Hasher) AddBytes(p []byte) {
	for _, b := range p {
		h.merge(uint32(b))
	}
}

// AddString merges s byte by byte followed by a zero terminator.
func (h *Hasher) AddString(s string) {
	for i := 0; i < len(s); i++ {
		h.merge(uint32(s[i]))
	}
	h.merge(0)
}

// AddStringPtr merges *s like AddString; a nil pointer merges a single zero.
func (h *Hasher) AddStringPtr(s *string) {
	if s == nil {
		h.merge(0)
		return
	}
	h.AddString(*s)
}

// Hash returns the current value.
func (h *Hasher) Hash() uint32 { return h.value }

// String renders the current value as 8 lowercase hex digits.
func (h *Hasher) String() string { return Format(h.value) }

// Equals parses fingerprint and compares it with the current value.
func (h *Hasher) Equals(fingerprint string) (bool, error) {
	v, err := Parse(fingerprint)
	if err != nil {
		return false, err
	}
	return v == h.value, nil
}

// Format renders v as 8 lowercase hex digits.
func Format(v uint32) string {
	return fmt.Sprintf("%08x", v)
}

// FormatError reports a malformed fingerprint string.
type FormatError struct {
	Text string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid fingerprint %q: expected %d hexadecimal digits, e.g. \"3a7c9f02\"", e.Text, Width)
}

// Parse decodes a fingerprint string. Case is ignored and surrounding
// whitespace is trimmed; anything other than exactly 8 hex digits fails.
func Parse(text string) (uint32, error) {
	s := strings.TrimSpace(text)
	if len(s) != Width {
		return 0, &FormatError{Text: text}
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return 0, &FormatError{Text: text}
		}
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, &FormatError{Text: text}
	}
	return uint32(v), nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}
