package vm_test

import (
	"testing"

	"github.com/lookbusy1344/armv7sim/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_WriteReadWord_LittleEndian(t *testing.T) {
	m := vm.NewMemory()
	addr := m.AllocPage()

	require.NoError(t, m.WriteWord(addr, 0x11223344))
	raw, err := m.ReadBytes(addr, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, raw)

	v, err := m.ReadWord(addr)
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), v)
}

func TestMemory_Map_RejectsOverlap(t *testing.T) {
	m := vm.NewMemory()
	base := m.AllocPage()

	err := m.Map(make([]byte, vm.PageSize), base)
	assert.Error(t, err, "mapping over an existing page must fail")
}

func TestMemory_AllocPage_NonOverlappingAndGrowing(t *testing.T) {
	m := vm.NewMemory()
	a := m.AllocPage()
	b := m.AllocPage()

	assert.NotEqual(t, a, b)
	assert.Equal(t, a+vm.PageSize, b, "allocator cursor grows by exactly one page")
}

func TestMemory_UnmappedAccess_Faults(t *testing.T) {
	m := vm.NewMemory()

	_, err := m.ReadWord(0x1234)
	require.Error(t, err)
	var f *vm.Fault
	assert.ErrorAs(t, err, &f)
	assert.Equal(t, vm.FaultMemory, f.Kind)
}

func TestMemory_HypervisorReturn_PreMappedWithBreakpointTrampoline(t *testing.T) {
	m := vm.NewMemory()

	v, err := m.ReadWord(vm.HypervisorReturn)
	require.NoError(t, err)
	assert.NotZero(t, v, "the hypervisor-return sentinel word must already be mapped")
}

func TestMemory_ByteHalfwordWordRoundTrip(t *testing.T) {
	m := vm.NewMemory()
	addr := m.AllocPage()

	require.NoError(t, m.WriteByte(addr, 0xAB))
	b, err := m.ReadByte(addr)
	require.NoError(t, err)
	assert.Equal(t, byte(0xAB), b)

	require.NoError(t, m.WriteHalfword(addr+4, 0xBEEF))
	h, err := m.ReadHalfword(addr + 4)
	require.NoError(t, err)
	assert.Equal(t, uint16(0xBEEF), h)
}
