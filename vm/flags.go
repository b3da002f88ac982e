package vm

// Flag calculation helpers, ported bit-for-bit from the ARM ARM pseudocode
// (see original_source/arm.h and original_source/machine.c AddWithCarry) and
// kept in the teacher's CalculateXxx/UpdateFlagsXxx shape (vm/flags.go).

// UpdateFlagsNZ updates N and Z from a 32-bit result.
func (c *CPSR) UpdateFlagsNZ(result uint32) {
	c.N = result&0x80000000 != 0
	c.Z = result == 0
}

// UpdateFlagsNZC updates N, Z and C.
func (c *CPSR) UpdateFlagsNZC(result uint32, carry bool) {
	c.UpdateFlagsNZ(result)
	c.C = carry
}

// UpdateFlagsNZCV updates all four flags.
func (c *CPSR) UpdateFlagsNZCV(result uint32, carry, overflow bool) {
	c.UpdateFlagsNZ(result)
	c.C = carry
	c.V = overflow
}

// ToUint32 packs the four flags into CPSR bits 31..28, matching the
// NZCV layout MRC/MRS-style transfers (and MRC's Rd==15 special case) use.
func (c *CPSR) ToUint32() uint32 {
	var v uint32
	if c.N {
		v |= 1 << 31
	}
	if c.Z {
		v |= 1 << 30
	}
	if c.C {
		v |= 1 << 29
	}
	if c.V {
		v |= 1 << 28
	}
	return v
}

// FromUint32 unpacks NZCV from bits 31..28.
func (c *CPSR) FromUint32(value uint32) {
	c.N = value&(1<<31) != 0
	c.Z = value&(1<<30) != 0
	c.C = value&(1<<29) != 0
	c.V = value&(1<<28) != 0
}

// AddWithCarry is the architectural 33-bit helper backing ADD/ADC/CMN/SUB/
// SBC/CMP/RSB/RSC: SUB family instructions call it as
// AddWithCarry(x, ^y, 1) so that borrow falls out as carry (spec invariant 4,
// §8). Returns (result, carry_out, overflow).
func AddWithCarry(x, y uint32, carryIn uint8) (result uint32, carryOut, overflow bool) {
	unsignedSum := uint64(x) + uint64(y) + uint64(carryIn)
	signedSum := int64(int32(x)) + int64(int32(y)) + int64(carryIn)
	result = uint32(unsignedSum)
	carryOut = uint64(result) != unsignedSum
	overflow = int64(int32(result)) != signedSum
	return
}

// ConditionPassed evaluates the 4-bit condition field against NZCV, ported
// from original_source/machine.c condition_passed. Condition 0xE (AL) and
// 0xF always pass.
func ConditionPassed(cond uint8, f CPSR) bool {
	switch cond {
	case 0x0:
		return f.Z
	case 0x1:
		return !f.Z
	case 0x2:
		return f.C
	case 0x3:
		return !f.C
	case 0x4:
		return f.N
	case 0x5:
		return !f.N
	case 0x6:
		return f.V
	case 0x7:
		return !f.V
	case 0x8:
		return f.C && !f.Z
	case 0x9:
		return !f.C || f.Z
	case 0xA:
		return f.N == f.V
	case 0xB:
		return f.N != f.V
	case 0xC:
		return !f.Z && f.N == f.V
	case 0xD:
		return f.Z || f.N != f.V
	case 0xE, 0xF:
		return true
	default:
		return true
	}
}

// CalculateAddCarry reports whether unsigned overflow occurred in a+b.
func CalculateAddCarry(a, b, result uint32) bool {
	return result < a
}

// CalculateAddOverflow reports whether signed overflow occurred in a+b.
func CalculateAddOverflow(a, b, result uint32) bool {
	aSign := a >> 31 & 1
	bSign := b >> 31 & 1
	rSign := result >> 31 & 1
	return aSign == bSign && aSign != rSign
}

// CalculateSubCarry reports the ARM "no borrow occurred" carry for a-b.
func CalculateSubCarry(a, b uint32) bool {
	return a >= b
}

// CalculateSubOverflow reports whether signed overflow occurred in a-b.
func CalculateSubOverflow(a, b, result uint32) bool {
	aSign := a >> 31 & 1
	bSign := b >> 31 & 1
	rSign := result >> 31 & 1
	return aSign != bSign && aSign != rSign
}

// SignExtend sign-extends the low `length` bits of value to 32 bits.
func SignExtend(value uint32, length uint8) uint32 {
	shift := 32 - length
	return uint32(int32(value<<shift) >> shift)
}
