package macho

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestULEB128_SingleByte(t *testing.T) {
	v, pos := uleb128([]byte{0x7F}, 0)
	assert.Equal(t, uint64(0x7F), v)
	assert.Equal(t, uint32(1), pos)
}

func TestULEB128_MultiByteContinuation(t *testing.T) {
	// 0xE5 0x8E 0x26 encodes 624485 in the canonical LEB128 example.
	v, pos := uleb128([]byte{0xE5, 0x8E, 0x26}, 0)
	assert.Equal(t, uint64(624485), v)
	assert.Equal(t, uint32(3), pos)
}

func TestULEB128_StopsAtTerminatingByte(t *testing.T) {
	data := []byte{0xFF, 0xFF, 0x01, 0x00}
	v, pos := uleb128(data, 0)
	assert.Equal(t, uint64(0x7FFF), v)
	assert.Equal(t, uint32(3), pos)
}

func TestSLEB128_PositiveValue(t *testing.T) {
	v, pos := sleb128([]byte{0x02}, 0)
	assert.Equal(t, int64(2), v)
	assert.Equal(t, uint32(1), pos)
}

func TestSLEB128_NegativeValue(t *testing.T) {
	// 0x7E is -2 in a single-byte SLEB128 (sign bit 0x40 set, extended).
	v, pos := sleb128([]byte{0x7E}, 0)
	assert.Equal(t, int64(-2), v)
	assert.Equal(t, uint32(1), pos)
}

func TestSLEB128_MultiByteNegative(t *testing.T) {
	// -123456 canonical SLEB128 encoding.
	v, _ := sleb128([]byte{0xC0, 0xBB, 0x78}, 0)
	assert.Equal(t, int64(-123456), v)
}
