package fingerprint

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasher_MergeRotatesThenXors(t *testing.T) {
	h := New()
	h.AddUint32(0x80000001)
	assert.Equal(t, uint32(0x80000001), h.Hash())

	// rotate-left(0x80000001) = 0x00000003, xor 0 keeps it
	h.AddUint32(0)
	assert.Equal(t, uint32(0x00000003), h.Hash())
}

func TestHasher_Deterministic_SameSequenceSameHash(t *testing.T) {
	feed := func(h *Hasher) {
		h.AddInt64(123456789012)
		h.AddFloat64(3.25)
		h.AddString("queue")
		h.AddBool(true)
		h.AddInt32(-7)
	}
	a, b := New(), New()
	feed(a)
	feed(b)
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestHasher_OrderSensitive(t *testing.T) {
	a, b := New(), New()
	a.AddInt32(1)
	a.AddInt32(2)
	b.AddInt32(2)
	b.AddInt32(1)
	assert.NotEqual(t, a.Hash(), b.Hash())
}

func TestHasher_WideValuesFoldLowWordThenHighWord(t *testing.T) {
	v := uint64(0x0123456789abcdef)

	wide := New()
	wide.AddUint64(v)

	manual := New()
	manual.AddUint32(uint32(v))
	manual.AddUint32(uint32(v >> 32))

	assert.Equal(t, manual.Hash(), wide.Hash())
}

func TestHasher_IntIsAlwaysFoldedAs64Bit(t *testing.T) {
	a, b := New(), New()
	a.AddInt(-5)
	b.AddInt64(-5)
	assert.Equal(t, b.Hash(), a.Hash())

	c := New()
	c.AddInt32(-5)
	assert.NotEqual(t, c.Hash(), a.Hash(), "a 64-bit fold performs two merges")
}

func TestHasher_FloatMergesBitPattern(t *testing.T) {
	a, b := New(), New()
	a.AddFloat64(1.5)
	b.AddUint64(math.Float64bits(1.5))
	assert.Equal(t, b.Hash(), a.Hash())

	// 1.5 converted arithmetically would be 1; the bit pattern differs
	c := New()
	c.AddUint64(1)
	assert.NotEqual(t, c.Hash(), a.Hash())
}

func TestHasher_StringIncludesTerminator(t *testing.T) {
	a := New()
	a.AddString("ab")

	b := New()
	b.AddByte('a')
	b.AddByte('b')
	b.AddByte(0)
	assert.Equal(t, b.Hash(), a.Hash())
}

func TestHasher_NilStringMergesSingleZero(t *testing.T) {
	a := New()
	a.AddUint32(0xdeadbeef)
	a.AddStringPtr(nil)

	b := New()
	b.AddUint32(0xdeadbeef)
	b.AddUint32(0)
	assert.Equal(t, b.Hash(), a.Hash())

	empty := ""
	c := New()
	c.AddUint32(0xdeadbeef)
	c.AddStringPtr(&empty)
	assert.Equal(t, b.Hash(), c.Hash(), "empty string merges only its terminator")
}

func TestHasher_Int8IsSignExtended(t *testing.T) {
	a, b := New(), New()
	a.AddInt8(-1)
	b.AddUint32(0xffffffff)
	assert.Equal(t, b.Hash(), a.Hash())
}

func TestHasher_Reset(t *testing.T) {
	h := New()
	h.AddString("anything")
	require.NotZero(t, h.Hash())
	h.Reset()
	assert.Zero(t, h.Hash())
	assert.Equal(t, "00000000", h.String())
}

func TestHasher_StringIsZeroPaddedLowercase(t *testing.T) {
	h := New()
	h.AddUint32(0x00ABCDEF)
	assert.Equal(t, "00abcdef", h.String())
}

func TestParse_RoundTripsString(t *testing.T) {
	values := []uint32{0, 1, 0x3a7c9f02, 0xffffffff, 0x80000000}
	for _, v := range values {
		h := &Hasher{value: v}
		got, err := Parse(h.String())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestParse_RejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", ""},
		{"too short", "3a7c9f0"},
		{"too long", "3a7c9f021"},
		{"non-hex", "3a7c9g02"},
		{"sign", "+3a7c9f0"},
		{"legacy hyphenated", "3a7c-9f02"},
		{"hex prefix", "0x3a7c9f"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.text)
			var fe *FormatError
			require.True(t, errors.As(err, &fe), "expected FormatError, got %v", err)
			assert.Equal(t, tt.text, fe.Text)
			assert.Contains(t, err.Error(), "hexadecimal")
		})
	}
}

func TestEquals_IsCaseInsensitive(t *testing.T) {
	h := &Hasher{value: 0x3a7c9f02}

	upper, err := h.Equals("3A7C9F02")
	require.NoError(t, err)
	lower, err := h.Equals("3a7c9f02")
	require.NoError(t, err)

	assert.True(t, upper)
	assert.True(t, lower)
}

func TestEquals_MalformedFails(t *testing.T) {
	h := New()
	ok, err := h.Equals("zzzz")
	assert.False(t, ok)
	assert.Error(t, err)
}
