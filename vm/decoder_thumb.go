package vm

// decodeThumb implements the Thumb/Thumb-2 decode tree (spec §4.2, §5.2): a
// 16-bit halfword is fetched first; if its top five bits select a 32-bit
// prefix (0b11101, 0b11110, 0b11111 per A6.1) a second halfword is fetched
// and the pair decoded together, otherwise the halfword stands alone.
func (m *Machine) decodeThumb(addr uint32) (Inst, error) {
	hw1, err := m.fetch16(addr)
	if err != nil {
		return nil, err
	}
	m.CPU.SetPCForFetch(addr)

	prefix := Bits(uint32(hw1), 15, 11)
	if prefix == 0b11101 || prefix == 0b11110 || prefix == 0b11111 {
		hw2, err := m.fetch16(addr + 2)
		if err != nil {
			return nil, err
		}
		m.CPU.NextInstruction = addr + 4
		hdr := InstHeader{SourceAddress: addr, Raw: uint32(hw1)<<16 | uint32(hw2), Length: 4}
		return decodeThumb32(hdr, hw1, hw2)
	}

	m.CPU.NextInstruction = addr + 2
	hdr := InstHeader{SourceAddress: addr, Raw: uint32(hw1), Length: 2}
	return decodeThumb16(hdr, hw1)
}

// decodeThumb16 covers the Thumb-1 instruction set (spec §5.2): shift/ALU
// immediate, data-processing register, special data-processing/BX, literal
// and register/immediate-offset load-store, SP-relative and PC-relative
// forms, PUSH/POP, CBZ/CBNZ, IT, conditional and unconditional branch.
func decodeThumb16(hdr InstHeader, w uint16) (Inst, error) {
	word := uint32(w)
	top5 := Bits(word, 15, 11)
	top6 := Bits(word, 15, 10)
	top8 := Bits(word, 15, 8)

	switch {
	case top5 == 0b00000, top5 == 0b00001, top5 == 0b00010:
		// LSL/LSR/ASR immediate.
		rd := int(Bits(word, 2, 0))
		rm := int(Bits(word, 5, 3))
		imm5 := uint8(Bits(word, 10, 6))
		typ, n := DecodeImmShift(uint8(top5), imm5)
		hdr.SetFlags = true
		op := OpMOV
		return &DataProc{InstHeader: hdr, Op: uint8(op), Rd: rd, Rn: rd,
			Op2: Operand2{Rm: rm, ShiftType: typ, ShiftN: n}}, nil

	case top5 == 0b00011:
		// ADD/SUB register or 3-bit immediate.
		rd := int(Bits(word, 2, 0))
		rn := int(Bits(word, 5, 3))
		immediate := Bit(word, 10) != 0
		subtract := Bit(word, 9) != 0
		op := OpADD
		if subtract {
			op = OpSUB
		}
		hdr.SetFlags = true
		var op2 Operand2
		if immediate {
			op2 = Operand2{IsImmediate: true, Imm32: Bits(word, 8, 6)}
		} else {
			op2 = Operand2{Rm: int(Bits(word, 8, 6))}
		}
		return &DataProc{InstHeader: hdr, Op: uint8(op), Rd: rd, Rn: rn, Op2: op2}, nil

	case top5 == 0b00100, top5 == 0b00101, top5 == 0b00110, top5 == 0b00111:
		// MOV/CMP/ADD/SUB immediate, Rdn in bits[10:8].
		rdn := int(Bits(word, 10, 8))
		imm8 := Bits(word, 7, 0)
		var op int
		switch top5 {
		case 0b00100:
			op = OpMOV
		case 0b00101:
			op = OpCMP
		case 0b00110:
			op = OpADD
		default:
			op = OpSUB
		}
		hdr.SetFlags = true
		return &DataProc{InstHeader: hdr, Op: uint8(op), Rd: rdn, Rn: rdn,
			Op2: Operand2{IsImmediate: true, Imm32: imm8}}, nil

	case top6 == 0b010000:
		// Data-processing register, 16 ALU ops keyed by bits[9:6].
		rdn := int(Bits(word, 2, 0))
		rm := int(Bits(word, 5, 3))
		sub := Bits(word, 9, 6)
		hdr.SetFlags = true
		switch sub {
		case 0x9:
			// NEG Rd, Rm == RSB Rd, Rm, #0.
			return &DataProc{InstHeader: hdr, Op: uint8(OpRSB), Rd: rdn, Rn: rm,
				Op2: Operand2{IsImmediate: true, Imm32: 0}}, nil
		case 0x2, 0x3, 0x4, 0x7:
			// LSL/LSR/ASR/ROR (register): Rdn shifted by the low byte of Rm.
			var typ ShiftType
			switch sub {
			case 0x2:
				typ = ShiftLSL
			case 0x3:
				typ = ShiftLSR
			case 0x4:
				typ = ShiftASR
			default:
				typ = ShiftROR
			}
			return &DataProc{InstHeader: hdr, Op: uint8(OpMOV), Rd: rdn,
				Op2: Operand2{Rm: rdn, ShiftType: typ, ShiftByReg: true, Rs: rm}}, nil
		case 0xD:
			return &MulMla{InstHeader: hdr, Rd: rdn, Rm: rdn, Rs: rm}, nil
		default:
			op := thumbDPOp(sub)
			return &DataProc{InstHeader: hdr, Op: op, Rd: rdn, Rn: rdn, Op2: Operand2{Rm: rm}}, nil
		}

	case top6 == 0b010001:
		return decodeThumbSpecialDP(hdr, word)

	case top6 == 0b010010, top6 == 0b010011:
		// LDR (literal), PC-relative.
		rt := int(Bits(word, 10, 8))
		imm32 := Bits(word, 7, 0) << 2
		return &LdrStrImm{InstHeader: hdr, Load: true, Size: 4, Rt: rt, Rn: PC,
			Imm32: imm32, Index: true, Add: true}, nil

	case Bits(word, 15, 12) == 0b0101:
		// Load/store register offset, opcode in bits[11:9].
		rt := int(Bits(word, 2, 0))
		rn := int(Bits(word, 5, 3))
		rm := int(Bits(word, 8, 6))
		sub := Bits(word, 11, 9)
		li := &LdrStrImm{InstHeader: hdr, Rt: rt, Rn: rn, HasRm: true, Rm: rm, Index: true, Add: true}
		switch sub {
		case 0b000:
			li.Size = 4
		case 0b001:
			li.Size = 2
		case 0b010:
			li.Size = 1
		case 0b011:
			li.Size = 1
			li.Signed = true
		case 0b100:
			li.Load = true
			li.Size = 4
		case 0b101:
			li.Load = true
			li.Size = 2
		case 0b110:
			li.Load = true
			li.Size = 1
		case 0b111:
			li.Load = true
			li.Size = 2
			li.Signed = true
		}
		return li, nil

	case top5 == 0b01100, top5 == 0b01101, top5 == 0b01110, top5 == 0b01111:
		// Load/store word/byte, 5-bit immediate offset.
		rt := int(Bits(word, 2, 0))
		rn := int(Bits(word, 5, 3))
		byteAccess := Bit(word, 12) != 0
		load := Bit(word, 11) != 0
		imm5 := Bits(word, 10, 6)
		size := 4
		shift := uint32(2)
		if byteAccess {
			size = 1
			shift = 0
		}
		return &LdrStrImm{InstHeader: hdr, Load: load, Size: size, Rt: rt, Rn: rn,
			Imm32: imm5 << shift, Index: true, Add: true}, nil

	case top6 == 0b100000, top6 == 0b100001, top6 == 0b100010, top6 == 0b100011:
		// Load/store halfword, 5-bit immediate offset.
		rt := int(Bits(word, 2, 0))
		rn := int(Bits(word, 5, 3))
		load := Bit(word, 11) != 0
		imm5 := Bits(word, 10, 6)
		return &LdrStrImm{InstHeader: hdr, Load: load, Size: 2, Rt: rt, Rn: rn,
			Imm32: imm5 << 1, Index: true, Add: true}, nil

	case top5 == 0b10010, top5 == 0b10011:
		// Load/store SP-relative.
		rt := int(Bits(word, 10, 8))
		load := Bit(word, 11) != 0
		imm8 := Bits(word, 7, 0)
		return &LdrStrImm{InstHeader: hdr, Load: load, Size: 4, Rt: rt, Rn: SP,
			Imm32: imm8 << 2, Index: true, Add: true}, nil

	case top5 == 0b10100:
		// ADR (ADD Rd, PC, #imm).
		rd := int(Bits(word, 10, 8))
		imm8 := Bits(word, 7, 0)
		hdr.SetFlags = false
		return &DataProc{InstHeader: hdr, Op: uint8(OpADD), Rd: rd, Rn: PC,
			Op2: Operand2{IsImmediate: true, Imm32: imm8 << 2}}, nil

	case top5 == 0b10101:
		// ADD Rd, SP, #imm.
		rd := int(Bits(word, 10, 8))
		imm8 := Bits(word, 7, 0)
		return &DataProc{InstHeader: hdr, Op: uint8(OpADD), Rd: rd, Rn: SP,
			Op2: Operand2{IsImmediate: true, Imm32: imm8 << 2}}, nil

	case top8 == 0b10110000:
		// ADD/SUB SP, #imm (7-bit imm, bit 7 selects subtract).
		imm7 := Bits(word, 6, 0)
		op := OpADD
		if Bit(word, 7) != 0 {
			op = OpSUB
		}
		return &DataProc{InstHeader: hdr, Op: uint8(op), Rd: SP, Rn: SP,
			Op2: Operand2{IsImmediate: true, Imm32: imm7 << 2}}, nil

	case Bits(word, 15, 9) == 0b1011010:
		// PUSH.
		regs := uint16(Bits(word, 7, 0))
		if Bit(word, 8) != 0 {
			regs |= 1 << LR
		}
		return &LdmStm{InstHeader: hdr, Load: false, Rn: SP, Registers: regs,
			Wback: true, IncrementBefore: true}, nil

	case Bits(word, 15, 9) == 0b1011110:
		// POP.
		regs := uint16(Bits(word, 7, 0))
		if Bit(word, 8) != 0 {
			regs |= 1 << PC
		}
		return &LdmStm{InstHeader: hdr, Load: true, Rn: SP, Registers: regs,
			Wback: true, IncrementBefore: false}, nil

	case top8 == 0b10111110:
		return &Bkpt{InstHeader: hdr, Imm32: Bits(word, 7, 0)}, nil

	case Bits(word, 15, 12) == 0b1011 && Bit(word, 10) == 0 && Bit(word, 8) == 1:
		// CBZ/CBNZ: 1011 op 0 i 1 imm5 Rn; op (bit 11) selects CBNZ and
		// i (bit 9) is imm6's top bit.
		nonZero := Bit(word, 11) != 0
		rn := int(Bits(word, 2, 0))
		imm5 := Bits(word, 7, 3)
		i := Bit(word, 9)
		imm32 := i<<6 | imm5<<1
		return &CompareBranchZero{InstHeader: hdr, NonZero: nonZero, Rn: rn, Imm32: imm32}, nil

	case top8 == 0b10111111 && Bits(word, 3, 0) != 0:
		// IT.
		return &It{InstHeader: hdr, FirstCond: uint8(Bits(word, 7, 4)), Mask: uint8(Bits(word, 3, 0))}, nil

	case Bits(word, 15, 12) == 0b1100:
		// STM/LDM (always writeback in the 16-bit encoding).
		load := Bit(word, 11) != 0
		rn := int(Bits(word, 10, 8))
		return &LdmStm{InstHeader: hdr, Load: load, Rn: rn, Registers: uint16(Bits(word, 7, 0)),
			Wback: true, IncrementBefore: false}, nil

	case Bits(word, 15, 12) == 0b1101:
		cond := uint8(Bits(word, 11, 8))
		if cond == 0b1111 {
			return &Svc{InstHeader: hdr, Imm32: Bits(word, 7, 0)}, nil
		}
		imm8 := Bits(word, 7, 0)
		imm32 := int32(SignExtend(imm8<<1, 9))
		return &CondBranch{InstHeader: hdr, Cond: uint8(cond), Imm32: imm32}, nil

	case top5 == 0b11100:
		imm11 := Bits(word, 10, 0)
		imm32 := int32(SignExtend(imm11<<1, 12))
		return &BranchImm{InstHeader: hdr, Imm32: imm32}, nil
	}

	return nil, faultf(FaultDecodeUnreachable, hdr.SourceAddress, "unrecognized Thumb-16 encoding 0x%04x", w)
}

// thumbDPOp maps the remaining plain register-operand sub-opcodes of the
// "data-processing register" 16-bit group onto the shared OpAND..OpMVN
// space; NEG, the shift-register forms, and MUL are handled by the caller
// before falling through here, since they need a different Operand2 shape.
func thumbDPOp(sub uint32) uint8 {
	switch sub {
	case 0x0:
		return OpAND
	case 0x1:
		return OpEOR
	case 0x5:
		return OpADC
	case 0x6:
		return OpSBC
	case 0x8:
		return OpTST
	case 0xA:
		return OpCMP
	case 0xB:
		return OpCMN
	case 0xC:
		return OpORR
	case 0xE:
		return OpBIC
	case 0xF:
		return OpMVN
	default:
		return OpMOV
	}
}

// decodeThumbSpecialDP covers ADD/CMP/MOV with a high-register operand and
// the BX/BLX(register) branch-exchange forms, all sharing the 010001 prefix.
func decodeThumbSpecialDP(hdr InstHeader, word uint32) (Inst, error) {
	op := Bits(word, 9, 8)
	dn := Bit(word, 7)<<3 | Bits(word, 2, 0)
	rm := int(Bits(word, 6, 3))
	switch op {
	case 0b00:
		hdr.SetFlags = false
		return &DataProc{InstHeader: hdr, Op: uint8(OpADD), Rd: int(dn), Rn: int(dn), Op2: Operand2{Rm: rm}}, nil
	case 0b01:
		hdr.SetFlags = true
		return &DataProc{InstHeader: hdr, Op: uint8(OpCMP), Rd: int(dn), Rn: int(dn), Op2: Operand2{Rm: rm}}, nil
	case 0b10:
		hdr.SetFlags = false
		return &DataProc{InstHeader: hdr, Op: uint8(OpMOV), Rd: int(dn), Rn: int(dn), Op2: Operand2{Rm: rm}}, nil
	default:
		link := Bit(word, 7) != 0
		return &BranchExchange{InstHeader: hdr, Link: link, Rm: rm}, nil
	}
}

// decodeThumb32 covers the Thumb-2 32-bit instruction set reached through
// the 11101/11110/11111 prefixes (spec §5.2): BL/BLX(immediate), wide
// data-processing with a modified immediate, and wide load/store single.
func decodeThumb32(hdr InstHeader, hw1, hw2 uint16) (Inst, error) {
	op1 := Bits(uint32(hw1), 12, 11)
	op2 := Bits(uint32(hw1), 10, 4)

	// BL/BLX (immediate), A6.7: both halves carry sign/S/J1/J2 fields.
	if Bits(uint32(hw1), 15, 11) == 0b11110 && Bits(uint32(hw2), 15, 14) == 0b11 {
		link := true
		toBLX := Bit(uint32(hw2), 12) == 0
		s := Bit(uint32(hw1), 10)
		imm10 := Bits(uint32(hw1), 9, 0)
		j1 := Bit(uint32(hw2), 13)
		j2 := Bit(uint32(hw2), 11)
		imm11 := Bits(uint32(hw2), 10, 0)
		i1 := 1 - (j1 ^ s)
		i2 := 1 - (j2 ^ s)
		imm25 := s<<24 | i1<<23 | i2<<22 | imm10<<12 | imm11<<1
		imm32 := int32(SignExtend(imm25, 25))
		// BLX(immediate) always leaves Thumb state for ARM; plain BL stays Thumb.
		return &BranchImm{InstHeader: hdr, Link: link, Imm32: imm32, SwitchesT: toBLX}, nil
	}

	// Wide data-processing (modified immediate), op1==0b10/0b00/0b01 with
	// op2's top bit clear selects this group (A6.3.1's "Data-processing
	// (modified immediate)" table).
	if (op1 == 0b00 || op1 == 0b01 || op1 == 0b10) && Bit(op2, 6) == 0 {
		rn := int(Bits(uint32(hw1), 3, 0))
		rd := int(Bits(uint32(hw2), 11, 8))
		s := Bit(uint32(hw1), 4)
		i := Bit(uint32(hw1), 10)
		imm3 := Bits(uint32(hw2), 14, 12)
		imm8 := Bits(uint32(hw2), 7, 0)
		sub := Bits(uint32(hw1), 8, 5)
		armOp := thumbWideDPOp(sub)
		// Rd==1111 with S=1 aliases AND/EOR/ADD/SUB to the test-only
		// TST/TEQ/CMN/CMP forms (A6.3.1); these never write Rd.
		if rd == 0xF {
			switch armOp {
			case OpAND:
				armOp = OpTST
			case OpEOR:
				armOp = OpTEQ
			case OpADD:
				armOp = OpCMN
			case OpSUB:
				armOp = OpCMP
			}
		}
		// ThumbExpandImm_C's imm32 result never depends on carryIn (spec
		// invariant 5); only its carry-out does, and only for the
		// rotated-immediate encoding, so the real flag is read at execution
		// time and this decode-time value is left unmarked as valid only
		// when the encoding's own rotation defines a carry-out.
		imm32, _ := ThumbExpandImmC(i, imm3, imm8, false)
		rotated := imm12ForExpand(i, imm3, imm8)
		hdr.SetFlags = s != 0 || testsOnlyOp(armOp)
		operand2 := Operand2{IsImmediate: true, Imm32: imm32}
		if rotated {
			operand2.ImmCarryValid = true
			_, operand2.ImmCarry = ThumbExpandImmC(i, imm3, imm8, false)
		}
		return &DataProc{InstHeader: hdr, Op: armOp, Rd: rd, Rn: rn, Op2: operand2}, nil
	}

	// Wide load/store single (A6.3.7/A6.3.9): op1==00/01 with op2's top two
	// bits 0b11 or 0b12-register-form per the standard table, narrowed here
	// to the immediate-offset forms spec §5.2 names.
	if (op1 == 0b00 || op1 == 0b01) && Bits(op2, 6, 5) == 0b11 {
		load := Bit(uint32(hw1), 4) != 0
		size := thumbWideLdrStrSize(Bits(op2, 2, 0))
		rn := int(Bits(uint32(hw1), 3, 0))
		rt := int(Bits(uint32(hw2), 15, 12))
		imm32 := Bits(uint32(hw2), 11, 0)
		return &LdrStrImm{InstHeader: hdr, Load: load, Size: size, Rt: rt, Rn: rn,
			Imm32: imm32, Index: true, Add: true}, nil
	}

	return nil, faultf(FaultDecodeUnreachable, hdr.SourceAddress, "unrecognized Thumb-32 encoding 0x%04x%04x", hw1, hw2)
}

// imm12ForExpand reports whether ThumbExpandImm_C's rotated-immediate branch
// (imm12<11:10> != 0) applies, i.e. whether this encoding defines its own
// carry-out rather than passing the current C flag through unchanged.
func imm12ForExpand(i, imm3, abcdefgh uint32) bool {
	imm12 := i<<11 | imm3<<8 | abcdefgh
	return imm12>>10 != 0
}

func thumbWideDPOp(sub uint32) uint8 {
	switch sub {
	case 0x0:
		return OpAND
	case 0x1:
		return OpBIC
	case 0x2:
		return OpORR
	case 0x3:
		return OpMVN
	case 0x4:
		return OpEOR
	case 0x8:
		return OpADD
	case 0xA:
		return OpADC
	case 0xB:
		return OpSBC
	case 0xD:
		return OpSUB
	case 0xE:
		return OpRSB
	default:
		return OpADD
	}
}

func thumbWideLdrStrSize(sizeField uint32) int {
	switch sizeField & 0x3 {
	case 0b00:
		return 1
	case 0b01:
		return 2
	default:
		return 4
	}
}
