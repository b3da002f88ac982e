package vm_test

import (
	"testing"

	"github.com/lookbusy1344/armv7sim/vm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMachineWithCode returns a fresh Machine and the base of a page that
// AllocPage hands out, used by the tests here as the ARM/Thumb instruction
// stream origin.
func newMachineWithCode() (*vm.Machine, uint32) {
	m := vm.NewMachine()
	addr := m.Memory.AllocPage()
	return m, addr
}

// ADDS R2, R0, R1 (0xE0902001): spec scenario S1/S2.
func TestExecDataProc_ADDS_NoCarry(t *testing.T) {
	m, addr := newMachineWithCode()
	require.NoError(t, m.Memory.WriteWord(addr, 0xE0902001))
	m.CPU.NextInstruction = addr
	m.CPU.SetRegister(vm.R0, 1)
	m.CPU.SetRegister(vm.R1, 1)

	done, err := m.Step()
	require.NoError(t, err)
	assert.False(t, done)

	assert.Equal(t, uint32(2), m.CPU.GetRegister(vm.R2))
	assert.False(t, m.CPU.CPSR.N)
	assert.False(t, m.CPU.CPSR.Z)
	assert.False(t, m.CPU.CPSR.C)
	assert.False(t, m.CPU.CPSR.V)
	assert.Equal(t, addr+4, m.CPU.PC())
}

func TestExecDataProc_ADDS_CarryAndZero(t *testing.T) {
	m, addr := newMachineWithCode()
	require.NoError(t, m.Memory.WriteWord(addr, 0xE0902001))
	m.CPU.NextInstruction = addr
	m.CPU.SetRegister(vm.R0, 0xFFFFFFFF)
	m.CPU.SetRegister(vm.R1, 1)

	_, err := m.Step()
	require.NoError(t, err)

	assert.Equal(t, uint32(0), m.CPU.GetRegister(vm.R2))
	assert.True(t, m.CPU.CPSR.Z)
	assert.True(t, m.CPU.CPSR.C)
	assert.False(t, m.CPU.CPSR.N)
	assert.False(t, m.CPU.CPSR.V)
}

// STR R0, [R1] / LDR R2, [R1]: spec scenario S5, little-endian round trip.
func TestExecLdrStr_RoundTrip_LittleEndian(t *testing.T) {
	m, addr := newMachineWithCode()
	dataPage := m.Memory.AllocPage()

	require.NoError(t, m.Memory.WriteWord(addr, 0xE5810000))   // STR R0, [R1]
	require.NoError(t, m.Memory.WriteWord(addr+4, 0xE5912000)) // LDR R2, [R1]

	m.CPU.NextInstruction = addr
	m.CPU.SetRegister(vm.R0, 0x11223344)
	m.CPU.SetRegister(vm.R1, dataPage)

	_, err := m.Step()
	require.NoError(t, err)

	raw, err := m.Memory.ReadBytes(dataPage, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x44, 0x33, 0x22, 0x11}, raw, "word store must be little-endian")

	_, err = m.Step()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x11223344), m.CPU.GetRegister(vm.R2))
}

// IT EQ ; MOVS R0,#1 ; MOVS R0,#2: spec scenarios S3/S4, Thumb IT-block
// conditional execution and ITSTATE advance/exhaust.
func TestThumbITBlock_EQTaken(t *testing.T) {
	m, addr := newMachineWithCode()
	m.CPU.T = true
	require.NoError(t, m.Memory.WriteHalfword(addr, 0xBF08))   // IT EQ
	require.NoError(t, m.Memory.WriteHalfword(addr+2, 0x2001)) // MOVS R0, #1
	require.NoError(t, m.Memory.WriteHalfword(addr+4, 0x2002)) // MOVS R0, #2 (outside block)

	m.CPU.NextInstruction = addr
	m.CPU.CPSR.Z = true

	_, err := m.Step() // IT EQ
	require.NoError(t, err)
	assert.NotZero(t, m.CPU.ITState, "ITSTATE must be loaded by IT")

	_, err = m.Step() // MOVS R0, #1 (EQ passes)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), m.CPU.GetRegister(vm.R0))
	assert.Zero(t, m.CPU.ITState, "single-instruction IT block exhausts after one execution")

	_, err = m.Step() // MOVS R0, #2, unconditional now that the block ended
	require.NoError(t, err)
	assert.Equal(t, uint32(2), m.CPU.GetRegister(vm.R0))
}

func TestThumbITBlock_EQNotTaken(t *testing.T) {
	m, addr := newMachineWithCode()
	m.CPU.T = true
	require.NoError(t, m.Memory.WriteHalfword(addr, 0xBF08))
	require.NoError(t, m.Memory.WriteHalfword(addr+2, 0x2001))

	m.CPU.NextInstruction = addr
	m.CPU.CPSR.Z = false
	m.CPU.SetRegister(vm.R0, 0xAAAAAAAA)

	_, err := m.Step() // IT EQ
	require.NoError(t, err)
	_, err = m.Step() // MOVS R0, #1 guarded by EQ; condition fails, skipped
	require.NoError(t, err)

	assert.Equal(t, uint32(0xAAAAAAAA), m.CPU.GetRegister(vm.R0), "guarded instruction must not execute when its condition fails")
	assert.Zero(t, m.CPU.ITState)
}

// BKPT at the hypervisor-return sentinel ends Step with done=true without
// touching any register (spec §4.7/§5).
func TestExecBkpt_HypervisorReturn(t *testing.T) {
	m := vm.NewMachine()
	m.CPU.NextInstruction = vm.HypervisorReturn

	done, err := m.Step()
	require.NoError(t, err)
	assert.True(t, done)
}

// An unmapped instruction fetch is a Fault, not a panic (spec §7).
func TestStep_UnmappedFetch_Faults(t *testing.T) {
	m := vm.NewMachine()
	m.CPU.NextInstruction = 0x1000

	_, err := m.Step()
	require.Error(t, err)
	var f *vm.Fault
	assert.ErrorAs(t, err, &f)
}
