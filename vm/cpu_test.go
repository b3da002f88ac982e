package vm_test

import (
	"testing"

	"github.com/lookbusy1344/armv7sim/vm"
	"github.com/stretchr/testify/assert"
)

func TestCPU_LoadPC_StripsThumbBitAndSetsT(t *testing.T) {
	c := vm.NewCPU()

	c.LoadPC(0x8001)
	assert.Equal(t, uint32(0x8000), c.PC())
	assert.True(t, c.T)

	c.LoadPC(0x9000)
	assert.Equal(t, uint32(0x9000), c.PC())
	assert.False(t, c.T)
}

func TestCPU_ALULoadPC_InterworksInARMState(t *testing.T) {
	c := vm.NewCPU()
	c.T = false

	c.ALULoadPC(0x4001) // odd target interworks to Thumb
	assert.Equal(t, uint32(0x4000), c.PC())
	assert.True(t, c.T)
}

func TestCPU_ALULoadPC_DirectAssignInThumbState(t *testing.T) {
	c := vm.NewCPU()
	c.T = true

	c.ALULoadPC(0x4001) // in Thumb state, the bit is not stripped
	assert.Equal(t, uint32(0x4001), c.PC())
	assert.True(t, c.T)
}

func TestCPU_SetPCForFetch_ReadAheadOffsetByState(t *testing.T) {
	c := vm.NewCPU()

	c.T = false
	c.SetPCForFetch(0x8000)
	assert.Equal(t, uint32(0x8008), c.GetRegister(vm.PC), "ARM PC reads 8 bytes ahead of the fetch address")

	c.T = true
	c.SetPCForFetch(0x8000)
	assert.Equal(t, uint32(0x8004), c.GetRegister(vm.PC), "Thumb PC reads 4 bytes ahead of the fetch address")
}

func TestCPU_Reset_ClearsEverything(t *testing.T) {
	c := vm.NewCPU()
	c.SetRegister(vm.R0, 0xFF)
	c.CPSR.Z = true
	c.T = true
	c.ITState = 0xAB
	c.NextInstruction = 0x8000

	c.Reset()

	assert.Equal(t, uint32(0), c.GetRegister(vm.R0))
	assert.False(t, c.CPSR.Z)
	assert.False(t, c.T)
	assert.Zero(t, c.ITState)
	assert.Zero(t, c.NextInstruction)
}
