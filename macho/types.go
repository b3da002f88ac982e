// Package macho implements a reader for 32-bit ARM Mach-O images: the
// load-command walk, bind-opcode interpreter, and export-trie walker spec §4.4
// describes, built directly from the field layouts in <mach-o/loader.h> and
// <mach-o/nlist.h> (original_source/loader.c's #include list) rather than a
// generalized binary-format library, since this loader only ever targets one
// (magic, cputype) pair.
package macho

// File-level magic numbers (spec §6).
const (
	MagicMachO = 0xfeedface // MH_MAGIC: 32-bit, host-endian
	MagicFat   = 0xcafebabe // FAT_MAGIC, big-endian on disk
	MagicFatCigam = 0xbebafeca // FAT_CIGAM: byte-swapped FAT_MAGIC, what a little-endian read yields; loadImage reads big-endian and compares MagicFat

	CPUTypeARM = 0xc
)

// File types (mach_header.filetype).
const (
	MHObject     = 0x1
	MHExecute    = 0x2
	MHDylib      = 0x6
	MHBundle     = 0x8
)

// Load command numbers (mach-o/loader.h); LC_REQ_DYLD marks the
// "must understand or reject" bit some commands set.
const (
	lcReqDyld = 0x80000000

	LCSegment            = 0x1
	LCSymtab             = 0x2
	LCThread             = 0x4
	LCUnixThread         = 0x5
	LCDysymtab           = 0xb
	LCLoadDylib          = 0xc
	LCIDDylib            = 0xd
	LCLoadDylinker       = 0xe
	LCIDDylinker         = 0xf
	LCCodeSignature      = 0x1d
	LCSegmentSplitInfo   = 0x1e
	LCReexportDylib      = 0x1f | lcReqDyld
	LCUUID               = 0x1b
	LCVersionMinIPhoneOS = 0x25
	LCFunctionStarts     = 0x26
	LCDyldInfo           = 0x22
	LCDyldInfoOnly       = 0x22 | lcReqDyld
	LCDataInCode         = 0x29
)

// Section flags (section.flags low byte is SECTION_TYPE, high 3 bytes are
// SECTION_ATTRIBUTES).
const (
	SectionTypeMask = 0x000000ff

	SZeroFill                = 0x1
	SNonLazySymbolPointers   = 0x6
	SLazySymbolPointers      = 0x7
	SSymbolStubs             = 0x8
	SModInitFuncPointers     = 0x9
)

// nlist.n_type / n_desc bits (mach-o/nlist.h).
const (
	NTypeMask = 0x0e
	NUndf     = 0x0
	NAbs      = 0x2
	NSect     = 0xe
	NIndr     = 0xa
	NExt      = 0x1

	NArmThumbDef = 0x0008 // n_desc bit: symbol's value is a Thumb address
)

// Indirect symbol table sentinels (mach-o/loader.h).
const (
	IndirectSymbolLocal = 0x80000000
	IndirectSymbolAbs   = 0x40000000
)

// Export-trie terminal-node flags (mach-o/nlist.h EXPORT_SYMBOL_FLAGS_*).
const (
	ExportSymbolFlagsKindMask          = 0x03
	ExportSymbolFlagsKindRegular       = 0x00
	ExportSymbolFlagsKindThreadLocal   = 0x01
	ExportSymbolFlagsWeakDefinition    = 0x04
	ExportSymbolFlagsReexport          = 0x08
	ExportSymbolFlagsStubAndResolver   = 0x10
)

// VM protection bits (mach-o/vm_prot.h). The loader does not apply them:
// vm.Memory has no permission model, so every mapped section is readable,
// writable and executable.
const (
	VMProtNone    = 0x0
	VMProtRead    = 0x1
	VMProtWrite   = 0x2
	VMProtExecute = 0x4
)

// Header is the 32-bit mach_header.
type Header struct {
	Magic      uint32
	CPUType    uint32
	CPUSubtype uint32
	FileType   uint32
	NCmds      uint32
	SizeOfCmds uint32
	Flags      uint32
}

const HeaderSize = 28

// LoadCommand is the generic load_command every command begins with.
type LoadCommand struct {
	Cmd     uint32
	CmdSize uint32
}

const LoadCommandSize = 8

// SegmentCommand is the 32-bit segment_command.
type SegmentCommand struct {
	SegName  [16]byte
	VMAddr   uint32
	VMSize   uint32
	FileOff  uint32
	FileSize uint32
	MaxProt  uint32
	InitProt uint32
	NSects   uint32
	Flags    uint32
}

const SegmentCommandSize = 56

// Section is the 32-bit section record that follows a segment_command.
type Section struct {
	SectName  [16]byte
	SegName   [16]byte
	Addr      uint32
	Size      uint32
	Offset    uint32
	Align     uint32
	Reloff    uint32
	Nreloc    uint32
	Flags     uint32
	Reserved1 uint32
	Reserved2 uint32
}

const SectionSize = 68

// SymtabCommand is LC_SYMTAB.
type SymtabCommand struct {
	Symoff  uint32
	Nsyms   uint32
	Stroff  uint32
	Strsize uint32
}

// DysymtabCommand is LC_DYSYMTAB. Every field is read in file order; the
// loader consults only the indirect-symbol-table fields, and it advances to
// the next command by the cmdsize stored in the file.
type DysymtabCommand struct {
	ILocalSym      uint32
	NLocalSym      uint32
	IExtDefSym     uint32
	NExtDefSym     uint32
	IUndefSym      uint32
	NUndefSym      uint32
	TOCOff         uint32
	NTOC           uint32
	ModTabOff      uint32
	NModTab        uint32
	ExtRefSymOff   uint32
	NExtRefSyms    uint32
	IndirectSymOff uint32
	NIndirectSyms  uint32
	ExtRelOff      uint32
	NExtRel        uint32
	LocRelOff      uint32
	NLocRel        uint32
}

// DylibCommand is LC_LOAD_DYLIB / LC_ID_DYLIB / LC_REEXPORT_DYLIB.
type DylibCommand struct {
	NameOffset           uint32
	Timestamp            uint32
	CurrentVersion       uint32
	CompatibilityVersion uint32
}

// DylinkerCommand is LC_LOAD_DYLINKER.
type DylinkerCommand struct {
	NameOffset uint32
}

// UUIDCommand is LC_UUID.
type UUIDCommand struct {
	UUID [16]byte
}

// VersionMinCommand is LC_VERSION_MIN_IPHONEOS.
type VersionMinCommand struct {
	Version uint32
	SDK     uint32
}

// LinkEditDataCommand covers LC_FUNCTION_STARTS / LC_CODE_SIGNATURE /
// LC_DATA_IN_CODE.
type LinkEditDataCommand struct {
	DataOff  uint32
	DataSize uint32
}

// DyldInfoCommand is LC_DYLD_INFO[_ONLY].
type DyldInfoCommand struct {
	RebaseOff     uint32
	RebaseSize    uint32
	BindOff       uint32
	BindSize      uint32
	WeakBindOff   uint32
	WeakBindSize  uint32
	LazyBindOff   uint32
	LazyBindSize  uint32
	ExportOff     uint32
	ExportSize    uint32
}

// Nlist is the 32-bit nlist symbol table entry.
type Nlist struct {
	NStrx  uint32
	NType  uint8
	NSect  uint8
	NDesc  uint16
	NValue uint32
}

const NlistSize = 12

// FatHeader and FatArch describe a universal binary; every field is
// big-endian on disk (original_source/loader.c's byteswap32 calls).
type FatHeader struct {
	Magic    uint32
	NFatArch uint32
}

type FatArch struct {
	CPUType    uint32
	CPUSubtype uint32
	Offset     uint32
	Size       uint32
	Align      uint32
}

const FatArchSize = 20
