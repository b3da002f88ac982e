package macho

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindCall struct {
	name   string
	target uint32
}

func TestRunBindOpcodes_SingleBind(t *testing.T) {
	data := []byte{
		0x70, 0x10, // SET_SEGMENT_AND_OFFSET_ULEB seg=0 offset=0x10
		0x40, 'f', 'o', 'o', 0x00, // SET_SYMBOL_TRAILING_FLAGS_IMM "foo"
		0x90, // DO_BIND
		0x00, // DONE
	}
	segmentBases := []uint32{0x9000}

	var calls []bindCall
	err := runBindOpcodes(data, segmentBases, func(name string, target uint32) error {
		calls = append(calls, bindCall{name, target})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, "foo", calls[0].name)
	assert.Equal(t, uint32(0x9010), calls[0].target)
}

func TestRunBindOpcodes_ULEBTimesSkippingULEB(t *testing.T) {
	data := []byte{
		0x70, 0x00, // seg=0 offset=0
		0x40, 'b', 'a', 'r', 0x00,
		0xC0, 0x02, 0x04, // DO_BIND_ULEB_TIMES_SKIPPING_ULEB count=2 skip=4
		0x00,
	}
	segmentBases := []uint32{0x1000}

	var calls []bindCall
	err := runBindOpcodes(data, segmentBases, func(name string, target uint32) error {
		calls = append(calls, bindCall{name, target})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, calls, 2)
	assert.Equal(t, uint32(0x1000), calls[0].target)
	assert.Equal(t, uint32(0x1008), calls[1].target, "each repeated bind advances by 4 (pointer size) plus skip")
}

func TestRunBindOpcodes_AddendDoesNotMoveTarget(t *testing.T) {
	data := []byte{
		0x70, 0x00, // seg=0 offset=0
		0x40, 'x', 0x00, // symbol "x"
		0x60, 0x08, // SET_ADDEND_SLEB +8
		0x90, // DO_BIND
		0x00,
	}
	var calls []bindCall
	err := runBindOpcodes(data, []uint32{0x2000}, func(name string, target uint32) error {
		calls = append(calls, bindCall{name, target})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, calls, 1)
	assert.Equal(t, uint32(0x2000), calls[0].target)
}

func TestRunBindOpcodes_UnknownSegmentErrors(t *testing.T) {
	data := []byte{
		0x71, 0x00, // seg=1, but only one segment base is supplied
		0x40, 'x', 0x00,
		0x90,
		0x00,
	}
	err := runBindOpcodes(data, []uint32{0x2000}, func(string, uint32) error { return nil })
	assert.Error(t, err)
}
