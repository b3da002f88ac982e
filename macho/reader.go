package macho

import (
	"encoding/binary"
	"fmt"
)

// buf is a small cursor over a byte slice, used instead of bytes.Reader so
// struct decodes can report the absolute file offset of a short read (every
// offset in this package is file-relative, matching the C source's raw
// pointer arithmetic over one mmap'd buffer).
type buf struct {
	data []byte
	pos  uint32
}

func newBuf(data []byte, pos uint32) *buf { return &buf{data: data, pos: pos} }

func (b *buf) need(n uint32) error {
	if uint64(b.pos)+uint64(n) > uint64(len(b.data)) {
		return fmt.Errorf("macho: short read of %d bytes at offset 0x%x (file is %d bytes)", n, b.pos, len(b.data))
	}
	return nil
}

func (b *buf) u32() (uint32, error) {
	if err := b.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(b.data[b.pos:])
	b.pos += 4
	return v, nil
}

func (b *buf) u16() (uint16, error) {
	if err := b.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(b.data[b.pos:])
	b.pos += 2
	return v, nil
}

func (b *buf) u8() (uint8, error) {
	if err := b.need(1); err != nil {
		return 0, err
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

func (b *buf) bytes16() ([16]byte, error) {
	var out [16]byte
	if err := b.need(16); err != nil {
		return out, err
	}
	copy(out[:], b.data[b.pos:b.pos+16])
	b.pos += 16
	return out, nil
}

// beU32 reads a big-endian word (fat headers are always big-endian on disk,
// regardless of the host or target byte order).
func beU32(data []byte, off uint32) (uint32, error) {
	if uint64(off)+4 > uint64(len(data)) {
		return 0, fmt.Errorf("macho: short read of fat header field at offset 0x%x", off)
	}
	return binary.BigEndian.Uint32(data[off:]), nil
}

func readHeader(data []byte, off uint32) (Header, error) {
	b := newBuf(data, off)
	var h Header
	var err error
	if h.Magic, err = b.u32(); err != nil {
		return h, err
	}
	if h.CPUType, err = b.u32(); err != nil {
		return h, err
	}
	if h.CPUSubtype, err = b.u32(); err != nil {
		return h, err
	}
	if h.FileType, err = b.u32(); err != nil {
		return h, err
	}
	if h.NCmds, err = b.u32(); err != nil {
		return h, err
	}
	if h.SizeOfCmds, err = b.u32(); err != nil {
		return h, err
	}
	if h.Flags, err = b.u32(); err != nil {
		return h, err
	}
	return h, nil
}

func readLoadCommand(data []byte, off uint32) (LoadCommand, error) {
	b := newBuf(data, off)
	var c LoadCommand
	var err error
	if c.Cmd, err = b.u32(); err != nil {
		return c, err
	}
	if c.CmdSize, err = b.u32(); err != nil {
		return c, err
	}
	return c, nil
}

// readSegmentCommand reads the segment_command fields that follow the
// load_command header at off (off already points past cmd/cmdsize).
func readSegmentCommand(data []byte, off uint32) (SegmentCommand, error) {
	b := newBuf(data, off)
	var s SegmentCommand
	var err error
	if s.SegName, err = b.bytes16(); err != nil {
		return s, err
	}
	if s.VMAddr, err = b.u32(); err != nil {
		return s, err
	}
	if s.VMSize, err = b.u32(); err != nil {
		return s, err
	}
	if s.FileOff, err = b.u32(); err != nil {
		return s, err
	}
	if s.FileSize, err = b.u32(); err != nil {
		return s, err
	}
	if s.MaxProt, err = b.u32(); err != nil {
		return s, err
	}
	if s.InitProt, err = b.u32(); err != nil {
		return s, err
	}
	if s.NSects, err = b.u32(); err != nil {
		return s, err
	}
	if s.Flags, err = b.u32(); err != nil {
		return s, err
	}
	return s, nil
}

func readSection(data []byte, off uint32) (Section, error) {
	b := newBuf(data, off)
	var s Section
	var err error
	if s.SectName, err = b.bytes16(); err != nil {
		return s, err
	}
	if s.SegName, err = b.bytes16(); err != nil {
		return s, err
	}
	if s.Addr, err = b.u32(); err != nil {
		return s, err
	}
	if s.Size, err = b.u32(); err != nil {
		return s, err
	}
	if s.Offset, err = b.u32(); err != nil {
		return s, err
	}
	if s.Align, err = b.u32(); err != nil {
		return s, err
	}
	if s.Reloff, err = b.u32(); err != nil {
		return s, err
	}
	if s.Nreloc, err = b.u32(); err != nil {
		return s, err
	}
	if s.Flags, err = b.u32(); err != nil {
		return s, err
	}
	if s.Reserved1, err = b.u32(); err != nil {
		return s, err
	}
	if s.Reserved2, err = b.u32(); err != nil {
		return s, err
	}
	return s, nil
}

func readSymtabCommand(data []byte, off uint32) (SymtabCommand, error) {
	b := newBuf(data, off)
	var c SymtabCommand
	var err error
	if c.Symoff, err = b.u32(); err != nil {
		return c, err
	}
	if c.Nsyms, err = b.u32(); err != nil {
		return c, err
	}
	if c.Stroff, err = b.u32(); err != nil {
		return c, err
	}
	if c.Strsize, err = b.u32(); err != nil {
		return c, err
	}
	return c, nil
}

func readDysymtabCommand(data []byte, off uint32) (DysymtabCommand, error) {
	b := newBuf(data, off)
	var c DysymtabCommand
	fields := []*uint32{
		&c.ILocalSym, &c.NLocalSym, &c.IExtDefSym, &c.NExtDefSym,
		&c.IUndefSym, &c.NUndefSym, &c.TOCOff, &c.NTOC,
		&c.ModTabOff, &c.NModTab, &c.ExtRefSymOff, &c.NExtRefSyms,
		&c.IndirectSymOff, &c.NIndirectSyms, &c.ExtRelOff, &c.NExtRel,
		&c.LocRelOff, &c.NLocRel,
	}
	for _, f := range fields {
		v, err := b.u32()
		if err != nil {
			return c, err
		}
		*f = v
	}
	return c, nil
}

func readDylibCommand(data []byte, off uint32) (DylibCommand, error) {
	b := newBuf(data, off)
	var c DylibCommand
	var err error
	if c.NameOffset, err = b.u32(); err != nil {
		return c, err
	}
	if c.Timestamp, err = b.u32(); err != nil {
		return c, err
	}
	if c.CurrentVersion, err = b.u32(); err != nil {
		return c, err
	}
	if c.CompatibilityVersion, err = b.u32(); err != nil {
		return c, err
	}
	return c, nil
}

func readDylinkerCommand(data []byte, off uint32) (DylinkerCommand, error) {
	b := newBuf(data, off)
	v, err := b.u32()
	return DylinkerCommand{NameOffset: v}, err
}

func readUUIDCommand(data []byte, off uint32) (UUIDCommand, error) {
	b := newBuf(data, off)
	v, err := b.bytes16()
	return UUIDCommand{UUID: v}, err
}

func readVersionMinCommand(data []byte, off uint32) (VersionMinCommand, error) {
	b := newBuf(data, off)
	var c VersionMinCommand
	var err error
	if c.Version, err = b.u32(); err != nil {
		return c, err
	}
	if c.SDK, err = b.u32(); err != nil {
		return c, err
	}
	return c, nil
}

func readLinkEditDataCommand(data []byte, off uint32) (LinkEditDataCommand, error) {
	b := newBuf(data, off)
	var c LinkEditDataCommand
	var err error
	if c.DataOff, err = b.u32(); err != nil {
		return c, err
	}
	if c.DataSize, err = b.u32(); err != nil {
		return c, err
	}
	return c, nil
}

func readDyldInfoCommand(data []byte, off uint32) (DyldInfoCommand, error) {
	b := newBuf(data, off)
	var c DyldInfoCommand
	fields := []*uint32{
		&c.RebaseOff, &c.RebaseSize, &c.BindOff, &c.BindSize,
		&c.WeakBindOff, &c.WeakBindSize, &c.LazyBindOff, &c.LazyBindSize,
		&c.ExportOff, &c.ExportSize,
	}
	for _, f := range fields {
		v, err := b.u32()
		if err != nil {
			return c, err
		}
		*f = v
	}
	return c, nil
}

func readNlist(data []byte, off uint32) (Nlist, error) {
	b := newBuf(data, off)
	var n Nlist
	var err error
	if n.NStrx, err = b.u32(); err != nil {
		return n, err
	}
	if n.NType, err = b.u8(); err != nil {
		return n, err
	}
	if n.NSect, err = b.u8(); err != nil {
		return n, err
	}
	if n.NDesc, err = b.u16(); err != nil {
		return n, err
	}
	if n.NValue, err = b.u32(); err != nil {
		return n, err
	}
	return n, nil
}

// cString reads a NUL-terminated string starting at off.
func cString(data []byte, off uint32) string {
	end := off
	for end < uint32(len(data)) && data[end] != 0 {
		end++
	}
	return string(data[off:end])
}
