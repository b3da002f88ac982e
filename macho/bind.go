package macho

import "fmt"

// Bind opcodes: the top nibble of each byte selects the opcode, the bottom
// nibble is an immediate operand (original_source/loader.c).
const (
	bindOpcodeDone                           = 0x0
	bindOpcodeSetDylibOrdinalImm              = 0x1
	bindOpcodeSetDylibOrdinalULEB             = 0x2
	bindOpcodeSetDylibSpecialImm               = 0x3
	bindOpcodeSetSymbolTrailingFlagsImm        = 0x4
	bindOpcodeSetTypeImm                       = 0x5
	bindOpcodeSetAddendSLEB                    = 0x6
	bindOpcodeSetSegmentAndOffsetULEB          = 0x7
	bindOpcodeAddAddrULEB                      = 0x8
	bindOpcodeDoBind                           = 0x9
	bindOpcodeDoBindAddAddrULEB                = 0xA
	bindOpcodeDoBindAddAddrImmScaled           = 0xB
	bindOpcodeDoBindULEBTimesSkippingULEB      = 0xC
)

// bindState is the running record the opcode stream mutates in place
// (original_source/loader.c's sym_t), accumulated across opcodes until a
// DO_BIND* emits a binding.
type bindState struct {
	libraryOrdinal uint32
	symType        uint8
	segment        uint8
	offset         uint64
	addend         int64
	name           string
}

// runBindOpcodes interprets one bind or lazy-bind opcode stream (spec §4.4's
// bind-opcode table), calling need for every DO_BIND* event with the
// resolved guest address (segment base, from segmentBases, plus the running
// offset). This mirrors bind_symbols/bind_sym with the EXTERNAL_SYMBOLS_ON_HOST
// branch elided, since this loader always resolves external symbols through
// the core's symbol table rather than synthesizing break pages inline.
func runBindOpcodes(data []byte, segmentBases []uint32, need func(name string, target uint32) error) error {
	var sym bindState
	pos := uint32(0)
	n := uint32(len(data))

	bind := func() error {
		if int(sym.segment) >= len(segmentBases) {
			return fmt.Errorf("macho: bind opcode references segment %d but only %d segments seen", sym.segment, len(segmentBases))
		}
		addr := segmentBases[sym.segment] + uint32(sym.offset)
		return need(sym.name, addr)
	}

	for pos < n {
		op := data[pos]
		opcode := (op >> 4) & 0xf
		imm := op & 0xf
		pos++

		switch opcode {
		case bindOpcodeDone:
			// continue scanning; lazy-bind streams pack multiple DONE-terminated
			// records back to back, so this does not end the loop.
		case bindOpcodeSetDylibOrdinalImm:
			sym.libraryOrdinal = uint32(imm)
		case bindOpcodeSetDylibOrdinalULEB:
			var v uint64
			v, pos = uleb128(data, pos)
			sym.libraryOrdinal = uint32(v)
		case bindOpcodeSetDylibSpecialImm:
			sym.libraryOrdinal = uint32(imm)
		case bindOpcodeSetSymbolTrailingFlagsImm:
			sym.name = cString(data, pos)
			pos += uint32(len(sym.name)) + 1
		case bindOpcodeSetTypeImm:
			sym.symType = imm
		case bindOpcodeSetAddendSLEB:
			var v int64
			v, pos = sleb128(data, pos)
			sym.addend = v
		case bindOpcodeSetSegmentAndOffsetULEB:
			sym.segment = imm
			var v uint64
			v, pos = uleb128(data, pos)
			sym.offset = v
		case bindOpcodeAddAddrULEB:
			var v uint64
			v, pos = uleb128(data, pos)
			sym.offset += v
		case bindOpcodeDoBind:
			if err := bind(); err != nil {
				return err
			}
			sym.offset += 4
		case bindOpcodeDoBindAddAddrULEB:
			if err := bind(); err != nil {
				return err
			}
			var v uint64
			v, pos = uleb128(data, pos)
			sym.offset += 4 + v
		case bindOpcodeDoBindAddAddrImmScaled:
			if err := bind(); err != nil {
				return err
			}
			sym.offset += 4 + 4*uint64(imm)
		case bindOpcodeDoBindULEBTimesSkippingULEB:
			var count, skip uint64
			count, pos = uleb128(data, pos)
			skip, pos = uleb128(data, pos)
			for j := uint64(0); j < count; j++ {
				if err := bind(); err != nil {
					return err
				}
				sym.offset += 4 + skip
			}
		default:
			return fmt.Errorf("macho: unimplemented bind opcode 0x%x", opcode)
		}
	}
	return nil
}
