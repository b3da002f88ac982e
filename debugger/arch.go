package debugger

import "github.com/lookbusy1344/armv7sim/vm"

// thumbWidePrefix reports whether a halfword's top five bits select a
// 32-bit Thumb-2 instruction, mirroring vm/decoder_thumb.go's decodeThumb
// prefix check (0b11101, 0b11110, 0b11111 per ARM ARM A6.1). It only reads
// the opcode, never decodes or executes it, so callers can use it to find
// instruction boundaries for display purposes without disturbing CPU state.
func thumbWidePrefix(hw uint16) bool {
	prefix := hw >> 11
	return prefix == 0b11101 || prefix == 0b11110 || prefix == 0b11111
}

// instructionLengthAt returns the byte length of the instruction at addr
// without fetching through vm.Machine.Decode, which commits NextInstruction
// as a side effect (spec §4.2). ARM instructions are always 4 bytes; Thumb
// instructions are 2 or 4 depending on the first halfword's prefix bits.
// A memory read failure is treated as a single ARM/Thumb-halfword step so
// callers that are merely laying out a display don't abort on a gap.
func instructionLengthAt(mem *vm.Memory, addr uint32, thumb bool) uint32 {
	if !thumb {
		return ARMInstructionSize
	}
	hw, err := mem.ReadHalfword(addr)
	if err != nil {
		return ThumbInstructionSize
	}
	if thumbWidePrefix(hw) {
		return ThumbWideInstructionSize
	}
	return ThumbInstructionSize
}

// isCallInstruction reports whether the instruction at addr is a call (BL,
// or BLX to/from Thumb) along with its length, so step-over logic can set a
// return breakpoint at addr+length instead of assuming a fixed ARM word.
func isCallInstruction(mem *vm.Memory, addr uint32, thumb bool) (isCall bool, length uint32, err error) {
	if !thumb {
		word, rerr := mem.ReadWord(addr)
		if rerr != nil {
			return false, 0, rerr
		}
		// BL, A1: bits[27:24]=1011, i.e. op1==101 with the link bit set (ARM ARM A5.3).
		isCall = (word & 0x0F000000) == 0x0B000000
		return isCall, ARMInstructionSize, nil
	}

	hw1, rerr := mem.ReadHalfword(addr)
	if rerr != nil {
		return false, 0, rerr
	}

	if thumbWidePrefix(hw1) {
		hw2, rerr := mem.ReadHalfword(addr + 2)
		if rerr != nil {
			return false, 0, rerr
		}
		// BL/BLX(immediate), A6.7: both halves carry sign/S/J1/J2 fields
		// (vm/decoder_thumb.go's decodeThumb32).
		isCall = hw1>>11 == 0b11110 && hw2>>14 == 0b11
		return isCall, ThumbWideInstructionSize, nil
	}

	// BLX(register), special data-processing table (A6.2.3): 010001 11 Rm 000.
	isCall = hw1>>10 == 0b010001 && (hw1>>8)&0b11 == 0b11 && hw1&0x80 != 0
	return isCall, ThumbInstructionSize, nil
}
