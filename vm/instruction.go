package vm

// Inst is the decoded-instruction tagged variant spec §3 describes: every
// concrepte type carries a Header plus only the fields its semantics need,
// dispatched in the executor via a type switch (the idiomatic Go shape of
// the "tagged variant vs C union" design note, spec §9).
type Inst interface {
	Header() *InstHeader
}

// InstHeader is the field set every instruction carries (spec §3): the
// 4-bit condition (AL by default), the S-bit, the address it was fetched
// from, and the raw code word plus its length in bytes.
type InstHeader struct {
	Condition     uint8
	SetFlags      bool
	SourceAddress uint32
	Raw           uint32
	Length        uint8
}

func (h *InstHeader) Header() *InstHeader { return h }

// Operand2 is a data-processing second operand: either a rotated/expanded
// immediate, or a register optionally barrel-shifted (spec §4.2's
// ARMExpandImm_C/ThumbExpandImm_C and DecodeImmShift).
type Operand2 struct {
	IsImmediate   bool
	Imm32         uint32 // valid when IsImmediate
	ImmCarryValid bool   // true when the rotation that produced Imm32 defines its own carry-out
	ImmCarry      bool   // valid when ImmCarryValid; otherwise the current C flag passes through

	Rm         int // valid when !IsImmediate
	ShiftType  ShiftType
	ShiftN     uint
	ShiftByReg bool
	Rs         int // valid when ShiftByReg
}

// DataProc covers every AND..MVN opcode (spec's ADD_R is one instance of
// this family): one leaf, like the teacher's single ExecuteDataProcessing,
// carrying the ALU opcode and a generalized Operand2 rather than one struct
// per ARM-ARM encoding name.
type DataProc struct {
	InstHeader
	Op  uint8 // OpAND..OpMVN
	Rd  int
	Rn  int
	Op2 Operand2
}

// MulMla covers MUL and MLA (A bit distinguishes them).
type MulMla struct {
	InstHeader
	Accumulate bool
	Rd, Rn, Rs, Rm int
}

// LdrStrImm covers LDR/STR (including the PC-relative literal form, where
// N==PC) with either an immediate or register offset, pre/post indexing,
// and writeback (spec's LDR_I example).
type LdrStrImm struct {
	InstHeader
	Load    bool
	Size    int // 1, 2, or 4 bytes
	Signed  bool
	Rt      int
	Rn      int
	HasRm   bool
	Rm      int
	ShiftType ShiftType
	ShiftN    uint
	Imm32   uint32
	Index   bool
	Add     bool
	Wback   bool
}

// LdrdStrd covers LDRD/STRD (register pair with an imm8 offset).
type LdrdStrd struct {
	InstHeader
	Load  bool
	Rt    int
	Rt2   int
	Rn    int
	Imm32 uint32
	Index bool
	Add   bool
	Wback bool
}

// LdmStm covers LDM/STM/PUSH/POP (PUSH/POP are STMDB sp!/LDMIA sp!
// aliases, decoded straight into this type per spec §3).
type LdmStm struct {
	InstHeader
	Load      bool
	Rn        int
	Registers uint16 // bit i set => include register i
	Wback     bool
	IncrementBefore bool // true for STMDB/LDMDB (PUSH), false for IA (POP)
}

// BranchImm covers B and BL/BLX(immediate): a PC-relative signed offset,
// with an optional link and an optional Thumb-state switch for BLX.
type BranchImm struct {
	InstHeader
	Link      bool
	Imm32     int32
	SwitchesT bool // true for BLX(immediate): always swaps ARM<->Thumb
}

// BranchExchange covers BX and BLX(register).
type BranchExchange struct {
	InstHeader
	Link bool
	Rm   int
}

// CondBranch is the Thumb1 conditional-branch leaf (B<cond> with an 8-bit
// signed offset): kept separate from BranchImm because its condition comes
// from the opcode bits, not IT-state, and it cannot be linked.
type CondBranch struct {
	InstHeader
	Cond  uint8
	Imm32 int32
}

// CompareBranchZero covers Thumb's CBZ/CBNZ.
type CompareBranchZero struct {
	InstHeader
	NonZero bool
	Rn      int
	Imm32   uint32
}

// Svc covers SVC/SWI.
type Svc struct {
	InstHeader
	Imm32 uint32
}

// Bkpt covers the BKPT encoding, including the synthetic trampoline word.
type Bkpt struct {
	InstHeader
	Imm32 uint32
}

// Mrc covers MRC (coprocessor register transfer to ARM register).
type Mrc struct {
	InstHeader
	Cp   uint8
	Opc1 uint8
	Cn   uint8
	Cm   uint8
	Opc2 uint8
	Rt   int
}

// It is the Thumb-2 IT instruction.
type It struct {
	InstHeader
	FirstCond uint8
	Mask      uint8
}

// Ldrex/Strex cover the exclusive-access single-word forms; no monitor
// semantics are modelled (spec Non-goals: no atomic-monitor support), so
// STREX always reports success.
type Ldrex struct {
	InstHeader
	Rt, Rn int
	Imm32  uint32
}

type Strex struct {
	InstHeader
	Rd, Rt, Rn int
	Imm32      uint32
}

// Uxth covers UXTH (zero-extending halfword extract with rotation).
type Uxth struct {
	InstHeader
	Rd, Rm   int
	Rotation uint
}

// Ubfx covers UBFX (unsigned bitfield extract).
type Ubfx struct {
	InstHeader
	Rd, Rn      int
	LSBit       uint8
	WidthMinus1 uint8
}
