package vm

import (
	"fmt"
	"sort"
)

// Fixed guest addresses (spec §3, §6).
const (
	PageSize = 4096

	// AllocatorCursorStart is where fresh pages are handed out from.
	AllocatorCursorStart = 0x80000000

	// StackCenter ± StackHalf bound the pre-mapped stack region.
	StackCenter = 0xd0000000
	StackHalf   = 512 * 1024

	// HypervisorReturn is the one-word sentinel break that terminates a
	// re-entrant execute_function invocation (spec §5).
	HypervisorReturn = 0xfffffff0

	// TrampolineCursorStart is where breakpoint trampoline slots are handed
	// out from (spec §4.7).
	TrampolineCursorStart = 0xa0000000

	// TLSPage / ARMTPPage / CapabilityFlagsAddr are the fixed addresses spec §6
	// names for thread-local storage and the ARM thread pointer area.
	TLSPage            = 0x80000000
	ARMTPPage          = 0xffff1000
	CapabilityFlagsAddr = 0xffff1020
	CapabilityFlags     = 0x9000

	// breakpointTrampolineWord is the ARM BKPT encoding used for every
	// trampoline slot (spec Glossary, original_source/loader.c BREAK32).
	breakpointTrampolineWord = 0xe1200070
)

// pageDescriptor is a mapped guest-address range backed by host bytes
// (spec §3 Memory Map). Descriptors must not overlap; the loader and
// allocator are the only callers that insert new ones.
type pageDescriptor struct {
	base  uint32
	bytes []byte
}

func (p *pageDescriptor) length() uint32 { return uint32(len(p.bytes)) }
func (p *pageDescriptor) end() uint32    { return p.base + p.length() }

// Memory is the sparse guest address space: little-endian, unaligned-access
// permissive (ARMv7 UnalignedSupport, spec §4.1), with a page allocator
// cursor and the fixed regions NewMemory lists pre-mapped at construction;
// trampoline pages are mapped on first use and the TLS page is the
// allocator's first page.
type Memory struct {
	pages          []*pageDescriptor // kept sorted by base
	allocCursor    uint32
	trampCursor    uint32
	Breakpoints    map[uint32]*Breakpoint
}

// NewMemory returns a Memory with the stack, hypervisor-return sentinel,
// ARM thread-pointer page, and capability-flags word pre-mapped, matching
// spec §3/§6's fixed guest addresses.
func NewMemory() *Memory {
	m := &Memory{
		allocCursor: AllocatorCursorStart,
		trampCursor: TrampolineCursorStart,
		Breakpoints: make(map[uint32]*Breakpoint),
	}
	m.Map(make([]byte, 2*StackHalf), StackCenter-StackHalf)
	m.Map(make([]byte, 4), HypervisorReturn)
	m.WriteWord(HypervisorReturn, breakpointTrampolineWord)
	m.Map(make([]byte, PageSize), ARMTPPage)
	m.WriteWord(CapabilityFlagsAddr, CapabilityFlags)
	return m
}

// Map installs hostBytes at base (spec 4.1 map(host_bytes, base, length)).
// The caller must not overlap an existing descriptor; this is checked here
// because Go makes the check cheap, even though spec §3 notes the original
// leaves overlap-checking as a future hardening.
func (m *Memory) Map(hostBytes []byte, base uint32) error {
	end := base + uint32(len(hostBytes))
	idx := sort.Search(len(m.pages), func(i int) bool { return m.pages[i].base >= base })
	if idx > 0 && m.pages[idx-1].end() > base {
		return fmt.Errorf("memory: map at 0x%08x overlaps existing page at 0x%08x", base, m.pages[idx-1].base)
	}
	if idx < len(m.pages) && m.pages[idx].base < end {
		return fmt.Errorf("memory: map at 0x%08x (len %d) overlaps existing page at 0x%08x", base, len(hostBytes), m.pages[idx].base)
	}
	p := &pageDescriptor{base: base, bytes: hostBytes}
	m.pages = append(m.pages, nil)
	copy(m.pages[idx+1:], m.pages[idx:])
	m.pages[idx] = p
	return nil
}

// AllocPage hands out PageSize fresh bytes at the allocator cursor and
// advances it (spec 4.1 alloc_page() -> base).
func (m *Memory) AllocPage() uint32 {
	base := m.allocCursor
	m.allocCursor += PageSize
	if err := m.Map(make([]byte, PageSize), base); err != nil {
		panic(err) // allocator cursor only ever grows; an overlap is a bug
	}
	return base
}

func (m *Memory) find(addr uint32) (*pageDescriptor, uint32, bool) {
	idx := sort.Search(len(m.pages), func(i int) bool { return m.pages[i].end() > addr })
	if idx < len(m.pages) && m.pages[idx].base <= addr {
		return m.pages[idx], addr - m.pages[idx].base, true
	}
	return nil, 0, false
}

// Read loads a little-endian value of the given byte size. Accessing an
// unmapped address is fatal (spec 4.1/§7): guest faults are not modelled.
func (m *Memory) Read(size int, addr uint32) (uint64, error) {
	page, off, ok := m.find(addr)
	if !ok || off+uint32(size) > page.length() {
		return 0, &Fault{Kind: FaultMemory, Detail: fmt.Sprintf("unmapped read of %d bytes at 0x%08x", size, addr)}
	}
	var v uint64
	for i := 0; i < size; i++ {
		v |= uint64(page.bytes[off+uint32(i)]) << (8 * i)
	}
	return v, nil
}

// Write stores a little-endian value of the given byte size.
func (m *Memory) Write(size int, addr uint32, value uint64) error {
	page, off, ok := m.find(addr)
	if !ok || off+uint32(size) > page.length() {
		return &Fault{Kind: FaultMemory, Detail: fmt.Sprintf("unmapped write of %d bytes at 0x%08x", size, addr)}
	}
	for i := 0; i < size; i++ {
		page.bytes[off+uint32(i)] = byte(value >> (8 * i))
	}
	return nil
}

func (m *Memory) ReadByte(addr uint32) (byte, error) {
	v, err := m.Read(1, addr)
	return byte(v), err
}
func (m *Memory) WriteByte(addr uint32, v byte) error { return m.Write(1, addr, uint64(v)) }

func (m *Memory) ReadHalfword(addr uint32) (uint16, error) {
	v, err := m.Read(2, addr)
	return uint16(v), err
}
func (m *Memory) WriteHalfword(addr uint32, v uint16) error { return m.Write(2, addr, uint64(v)) }

func (m *Memory) ReadWord(addr uint32) (uint32, error) {
	v, err := m.Read(4, addr)
	return uint32(v), err
}
func (m *Memory) WriteWord(addr uint32, v uint32) error { return m.Write(4, addr, uint64(v)) }

// ReadDoubleword and WriteDoubleword serve STRD/LDRD when contiguous 8-byte
// semantics are wanted; otherwise callers decompose into two word accesses
// (spec 4.1).
func (m *Memory) ReadDoubleword(addr uint32) (uint64, error) { return m.Read(8, addr) }
func (m *Memory) WriteDoubleword(addr uint32, v uint64) error { return m.Write(8, addr, v) }

// ReadBytes copies length raw bytes out, used by the loader and by string
// reads in syscall handlers; it is not an architectural access (no size
// restriction) so it walks potentially-multiple pages.
func (m *Memory) ReadBytes(addr uint32, length int) ([]byte, error) {
	out := make([]byte, length)
	for i := 0; i < length; i++ {
		b, err := m.ReadByte(addr + uint32(i))
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

// WriteBytes copies raw bytes in, used by the loader when populating
// segments from a Mach-O file buffer.
func (m *Memory) WriteBytes(addr uint32, data []byte) error {
	for i, b := range data {
		if err := m.WriteByte(addr+uint32(i), b); err != nil {
			return err
		}
	}
	return nil
}
