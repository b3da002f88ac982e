package vm

// Decode is the pure-ish function spec §4.2 describes: (fetch_addr, T) ->
// Instruction. It reads 4 bytes (ARM) or 2 (+2) bytes (Thumb), installs the
// "PC reads ahead" value before any PC-relative field is computed, advances
// NextInstruction past the instruction, and returns the typed record. An
// encoding the decoder does not recognize fails loudly with an identifying
// Fault rather than being silently reinterpreted (spec §4.2, §7).
func (m *Machine) Decode() (Inst, error) {
	addr := m.CPU.NextInstruction
	if m.CPU.T {
		return m.decodeThumb(addr)
	}
	return m.decodeARM(addr)
}

func (m *Machine) fetch32(addr uint32) (uint32, error) {
	return m.Memory.ReadWord(addr)
}

func (m *Machine) fetch16(addr uint32) (uint16, error) {
	return m.Memory.ReadHalfword(addr)
}

// decodeARM implements the top-level ARMv7 ARM-state decode tree split on
// cond/op1/op (spec §4.2): data-processing, multiply, load/store single and
// multiple, branches, coprocessor, and the BKPT/breakpoint-trampoline
// special case.
func (m *Machine) decodeARM(addr uint32) (Inst, error) {
	word, err := m.fetch32(addr)
	if err != nil {
		return nil, err
	}
	m.CPU.SetPCForFetch(addr)
	m.CPU.NextInstruction = addr + 4

	hdr := InstHeader{
		Condition:     uint8(Bits(word, 31, 28)),
		SourceAddress: addr,
		Raw:           word,
		Length:        4,
	}

	// BKPT / breakpoint trampoline word (spec Glossary): recognized
	// unconditionally, matching the original writing a fixed 0xe1200070
	// word into every trampoline slot.
	if word == breakpointTrampolineWord || (Bits(word, 27, 20) == 0x12 && Bits(word, 7, 4) == 0x7) {
		imm32 := Bits(word, 19, 8)<<4 | Bits(word, 3, 0)
		return &Bkpt{InstHeader: hdr, Imm32: imm32}, nil
	}

	op1 := Bits(word, 27, 25)

	// Branch (B) / Branch with Link (BL), A1.
	if op1 == 0b101 {
		link := Bit(word, 24) != 0
		imm24 := word & 0x00FFFFFF
		imm32 := int32(SignExtend(imm24<<2, 26))
		return &BranchImm{InstHeader: hdr, Link: link, Imm32: imm32}, nil
	}

	if op1 == 0b111 && Bit(word, 24) == 1 {
		return &Svc{InstHeader: hdr, Imm32: word & 0x00FFFFFF}, nil
	}

	// MRC (coprocessor register transfer to ARM register), A1. MCR (the
	// write direction) shares the encoding with L==0 and is not modelled:
	// CP15 is read-only (spec §4.8).
	if op1 == 0b111 && Bit(word, 24) == 0 && Bit(word, 20) == 1 && Bit(word, 4) == 1 {
		return &Mrc{
			InstHeader: hdr,
			Opc1:       uint8(Bits(word, 23, 21)),
			Cn:         uint8(Bits(word, 19, 16)),
			Rt:         int(Bits(word, 15, 12)),
			Cp:         uint8(Bits(word, 11, 8)),
			Opc2:       uint8(Bits(word, 7, 5)),
			Cm:         uint8(Bits(word, 3, 0)),
		}, nil
	}

	if op1 == 0b010 || (op1 == 0b011 && Bit(word, 4) == 0) {
		return decodeLdrStrARM(hdr, word), nil
	}

	if op1 == 0b100 {
		return decodeLdmStmARM(hdr, word), nil
	}

	if op1&0b110 == 0b000 {
		// The "miscellaneous"/"multiply"/"extra load-store"/"synchronization"
		// leaves all live in the op1={000,001} space alongside ordinary
		// data-processing, distinguished by bits[7:4] (ARM ARM A5.2).
		bits74 := Bits(word, 7, 4)
		if bits74 == 0b1001 && Bits(word, 24, 23) == 0b00 {
			hdr.SetFlags = Bit(word, 20) != 0
			return &MulMla{
				InstHeader: hdr,
				Accumulate: Bit(word, 21) != 0,
				Rd:         int(Bits(word, 19, 16)),
				Rn:         int(Bits(word, 15, 12)),
				Rs:         int(Bits(word, 11, 8)),
				Rm:         int(Bits(word, 3, 0)),
			}, nil
		}
		if bits74 == 0b1001 && Bits(word, 24, 20) == 0b11000 {
			return decodeStrexARM(hdr, word), nil
		}
		if bits74 == 0b1001 && Bits(word, 24, 20) == 0b11001 {
			return decodeLdrexARM(hdr, word), nil
		}
		if bits74 == 0b1011 || bits74 == 0b1101 || bits74 == 0b1111 {
			if inst, ok := decodeExtraLoadStoreARM(hdr, word); ok {
				return inst, nil
			}
		}
		if Bits(word, 27, 20) == 0b01101111 && Bits(word, 19, 16) == 0b1111 && bits74 == 0b0111 {
			return &Uxth{
				InstHeader: hdr,
				Rd:         int(Bits(word, 15, 12)),
				Rm:         int(Bits(word, 3, 0)),
				Rotation:   uint(Bits(word, 11, 10)) * 8,
			}, nil
		}
		if Bits(word, 27, 21) == 0b0111111 && Bits(word, 6, 4) == 0b101 {
			return &Ubfx{
				InstHeader:  hdr,
				Rd:          int(Bits(word, 15, 12)),
				Rn:          int(Bits(word, 3, 0)),
				LSBit:       uint8(Bits(word, 11, 7)),
				WidthMinus1: uint8(Bits(word, 20, 16)),
			}, nil
		}
		return decodeDataProcessingARM(hdr, word)
	}

	return nil, faultf(FaultDecodeUnreachable, addr, "unrecognized ARM encoding 0x%08x (op1=%03b)", word, op1)
}

// decodeDataProcessingARM handles the remaining data-processing-immediate and
// data-processing-register/register-shifted-register encodings (op1 in
// {000, 001}) once the UXTH/UBFX media-instruction leaves sharing that space
// have already been peeled off by the caller.
func decodeDataProcessingARM(hdr InstHeader, word uint32) (Inst, error) {
	op := uint8(Bits(word, 24, 21))
	setFlags := Bit(word, 20) != 0
	immediate := Bit(word, 25) != 0
	rn := int(Bits(word, 19, 16))
	rd := int(Bits(word, 15, 12))

	var op2 Operand2
	if immediate {
		imm12 := word & 0xFFF
		imm32, carry := ARMExpandImmC(imm12, false)
		// A rotate amount of zero leaves carry_out equal to the incoming C
		// flag (ARMExpandImm_C); only a nonzero rotation defines its own
		// carry-out independent of carryIn.
		op2 = Operand2{IsImmediate: true, Imm32: imm32, ImmCarryValid: (imm12>>8)&0xF != 0, ImmCarry: carry}
	} else {
		rm := int(Bits(word, 3, 0))
		shiftByReg := Bit(word, 4) != 0
		var shiftType ShiftType
		var shiftN uint
		rs := 0
		if shiftByReg {
			shiftType = ShiftType(Bits(word, 6, 5))
			rs = int(Bits(word, 11, 8))
		} else {
			shiftType, shiftN = DecodeImmShift(uint8(Bits(word, 6, 5)), uint8(Bits(word, 11, 7)))
		}
		op2 = Operand2{Rm: rm, ShiftType: shiftType, ShiftN: shiftN, ShiftByReg: shiftByReg, Rs: rs}
	}

	hdr.SetFlags = setFlags || testsOnlyOp(op)
	return &DataProc{InstHeader: hdr, Op: op, Rd: rd, Rn: rn, Op2: op2}, nil
}

func decodeLdrStrARM(hdr InstHeader, word uint32) Inst {
	load := Bit(word, 20) != 0
	byteAccess := Bit(word, 22) != 0
	add := Bit(word, 23) != 0
	index := Bit(word, 24) != 0
	wback := !index || Bit(word, 21) != 0
	rn := int(Bits(word, 19, 16))
	rt := int(Bits(word, 15, 12))

	li := &LdrStrImm{
		InstHeader: hdr,
		Load:       load,
		Size:       4,
		Rt:         rt,
		Rn:         rn,
		Index:      index,
		Add:        add,
		Wback:      wback,
	}
	if byteAccess {
		li.Size = 1
	}
	if Bit(word, 25) == 0 {
		li.Imm32 = word & 0xFFF
	} else {
		li.HasRm = true
		li.Rm = int(Bits(word, 3, 0))
		li.ShiftType, li.ShiftN = DecodeImmShift(uint8(Bits(word, 6, 5)), uint8(Bits(word, 11, 7)))
	}
	return li
}

// decodeExtraLoadStoreARM handles LDRH/STRH/LDRD/STRD/LDRSB/LDRSH, the
// "extra load/store" class keyed on bits[7:4] in {1011,11x1} (A5.2.8).
func decodeExtraLoadStoreARM(hdr InstHeader, word uint32) (Inst, bool) {
	op2 := Bits(word, 6, 5)
	rn := int(Bits(word, 19, 16))
	rt := int(Bits(word, 15, 12))
	add := Bit(word, 23) != 0
	index := Bit(word, 24) != 0
	wback := !index || Bit(word, 21) != 0
	var imm32 uint32
	hasImm := Bit(word, 22) != 0
	if hasImm {
		imm32 = Bits(word, 11, 8)<<4 | Bits(word, 3, 0)
	}

	switch op2 {
	case 0b11: // L=0 -> STRD, L=1 -> LDRSH
		if !hasImm {
			return nil, false
		}
		if Bit(word, 20) == 0 {
			return &LdrdStrd{
				InstHeader: hdr,
				Load:       false,
				Rt:         rt,
				Rt2:        rt + 1,
				Rn:         rn,
				Imm32:      imm32,
				Index:      index,
				Add:        add,
				Wback:      wback,
			}, true
		}
		return &LdrStrImm{
			InstHeader: hdr,
			Load:       true,
			Size:       2,
			Signed:     true,
			Rt:         rt,
			Rn:         rn,
			Imm32:      imm32,
			Index:      index,
			Add:        add,
			Wback:      wback,
		}, true
	case 0b01: // LDRH/STRH
		if !hasImm {
			return nil, false
		}
		return &LdrStrImm{
			InstHeader: hdr,
			Load:       Bit(word, 20) != 0,
			Size:       2,
			Rt:         rt,
			Rn:         rn,
			Imm32:      imm32,
			Index:      index,
			Add:        add,
			Wback:      wback,
		}, true
	case 0b10: // L=0 -> LDRD, L=1 -> LDRSB
		if !hasImm {
			return nil, false
		}
		if Bit(word, 20) == 0 {
			return &LdrdStrd{
				InstHeader: hdr,
				Load:       true,
				Rt:         rt,
				Rt2:        rt + 1,
				Rn:         rn,
				Imm32:      imm32,
				Index:      index,
				Add:        add,
				Wback:      wback,
			}, true
		}
		return &LdrStrImm{
			InstHeader: hdr,
			Load:       true,
			Size:       1,
			Signed:     true,
			Rt:         rt,
			Rn:         rn,
			Imm32:      imm32,
			Index:      index,
			Add:        add,
			Wback:      wback,
		}, true
	default:
		return nil, false
	}
}

func decodeLdmStmARM(hdr InstHeader, word uint32) Inst {
	return &LdmStm{
		InstHeader:      hdr,
		Load:            Bit(word, 20) != 0,
		Rn:              int(Bits(word, 19, 16)),
		Registers:       uint16(word & 0xFFFF),
		Wback:           Bit(word, 21) != 0,
		IncrementBefore: Bits(word, 24, 23) == 0b10, // P=1,U=0 -> DB (covers PUSH/POP's common case)
	}
}

func decodeStrexARM(hdr InstHeader, word uint32) Inst {
	return &Strex{
		InstHeader: hdr,
		Rd:         int(Bits(word, 15, 12)),
		Rn:         int(Bits(word, 19, 16)),
		Rt:         int(Bits(word, 3, 0)),
	}
}

func decodeLdrexARM(hdr InstHeader, word uint32) Inst {
	return &Ldrex{
		InstHeader: hdr,
		Rt:         int(Bits(word, 15, 12)),
		Rn:         int(Bits(word, 19, 16)),
	}
}
