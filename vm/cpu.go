package vm

// CPU holds the ARMv7-A integer register file and execution-state bits
// modelled by this interpreter. Floating point, SIMD, and banked/privileged
// registers are out of scope (see spec Non-goals).
type CPU struct {
	// R holds r0..r15. r13=SP, r14=LR, r15=PC (see RegisterAliases below).
	// PC is read-only to callers; use NextInstruction/LoadPC to change flow.
	R [16]uint32

	// CPSR condition flags, modelled individually rather than packed into
	// R's bit 31-28 the way real hardware does, matching the teacher's CPSR
	// struct.
	CPSR CPSR

	// T is the execution-state bit: 0 = ARM, 1 = Thumb.
	T bool

	// ITState implements the Thumb IT-block pipeline. High nibble is
	// firstcond, low nibble is the 1-hot advancing mask. Zero means outside
	// an IT block.
	ITState uint8

	// NextInstruction is the committed address of the next fetch; the sole
	// source of truth for control flow between instructions (spec D3).
	NextInstruction uint32

	Cycles uint64
}

// CPSR holds the four condition flags this interpreter tracks.
type CPSR struct {
	N bool // Negative
	Z bool // Zero
	C bool // Carry / no-borrow
	V bool // Overflow
}

// Register aliases, named the way the ARM ARM and the teacher's constants do.
const (
	R0 = 0
	R1 = 1
	R2 = 2
	R3 = 3
	R4 = 4
	R5 = 5
	R6 = 6
	R7 = 7
	R8 = 8
	R9 = 9
	R10 = 10
	R11 = 11
	R12 = 12
	SP  = 13
	LR  = 14
	PC  = 15
)

// NewCPU returns a CPU with all registers zeroed and ARM execution state.
func NewCPU() *CPU {
	return &CPU{}
}

// Reset clears the register file, flags, and IT-block state.
func (c *CPU) Reset() {
	c.R = [16]uint32{}
	c.CPSR = CPSR{}
	c.T = false
	c.ITState = 0
	c.NextInstruction = 0
	c.Cycles = 0
}

// GetRegister returns the value of register n. Reading r15 returns the
// "PC reads two/one instructions ahead" value the decoder installs before
// decoding begins (fetch address + 8 for ARM, +4 for Thumb), not
// NextInstruction.
func (c *CPU) GetRegister(n int) uint32 {
	return c.R[n]
}

// SetRegister writes register n directly, bypassing PC-load semantics.
// Callers that write r15 through an ALU result must route through
// ALULoadPC instead so T and NextInstruction stay consistent.
func (c *CPU) SetRegister(n int, value uint32) {
	c.R[n] = value
}

func (c *CPU) SetSP(v uint32) { c.R[SP] = v }
func (c *CPU) GetSP() uint32  { return c.R[SP] }
func (c *CPU) SetLR(v uint32) { c.R[LR] = v }
func (c *CPU) GetLR() uint32  { return c.R[LR] }

// PC returns the address of the next instruction to be fetched, the
// debugger's notion of "current PC" (distinct from R[PC], which briefly
// holds the read-ahead value while an instruction is being decoded).
func (c *CPU) PC() uint32 { return c.NextInstruction }

// LoadPC implements the architectural LOAD_PC(p) rule (spec 4.3): the low
// bit of p selects Thumb (1) vs ARM (0) and is stripped from the target.
func (c *CPU) LoadPC(p uint32) {
	c.NextInstruction = p &^ 1
	c.T = p&1 != 0
}

// ALULoadPC implements writes to r15 made by an ordinary data-processing
// instruction (spec 4.3 ALU_LOAD_PC): interworking in ARM state, a direct
// assignment in Thumb state.
func (c *CPU) ALULoadPC(p uint32) {
	if !c.T {
		c.LoadPC(p)
	} else {
		c.NextInstruction = p
	}
}

// SetPCForFetch installs the architectural "PC reads ahead" value before the
// decoder uses PC-relative computations: fetch+8 in ARM, fetch+4 in Thumb.
func (c *CPU) SetPCForFetch(fetchAddr uint32) {
	if c.T {
		c.R[PC] = fetchAddr + 4
	} else {
		c.R[PC] = fetchAddr + 8
	}
}
