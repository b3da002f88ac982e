package macho

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/lookbusy1344/armv7sim/dyldcache"
	"github.com/lookbusy1344/armv7sim/vm"
)

// LoadReport carries the commands spec §4.4 says to "record/log but
// otherwise ignore": UUID, minimum-OS version, the requested dylinker, and
// (when present) this image's own LC_ID_DYLIB identity, one per loaded
// image (original_source/loader.c's printf lines, kept as data instead of
// being dropped by the distillation).
type LoadReport struct {
	Path           string
	UUID           string
	MinOSVersion   string
	SDKVersion     string
	Dylinker       string
	IDDylibName    string
	EntryPoint     uint32
	UnixThreadSet  bool
}

// Loader walks Mach-O images into a vm.Machine (spec §4.4). One Loader
// tracks the process-wide loaded-image set so recursive LC_LOAD_DYLIB/
// LC_REEXPORT_DYLIB loads are depth-first and memoized by dylib name,
// exactly as original_source/loader.c's global loaded_dylibs list does.
type Loader struct {
	Machine      *vm.Machine
	ChrootPrefix string
	Cache        *dyldcache.Cache

	loaded  map[string]bool
	Reports []*LoadReport
}

// NewLoader returns a Loader that populates m, searching dylib paths under
// chrootPrefix (spec §6) and, if cache is non-nil, trying it before the
// filesystem (spec §4.4).
func NewLoader(m *vm.Machine, chrootPrefix string, cache *dyldcache.Cache) *Loader {
	return &Loader{
		Machine:      m,
		ChrootPrefix: chrootPrefix,
		Cache:        cache,
		loaded:       make(map[string]bool),
	}
}

// Load reads path (trying the dyld cache first, then the chroot-rooted
// filesystem) and loads it as the top-level executable or a dependency.
func (l *Loader) Load(path string) (*LoadReport, error) {
	if data, base, ok := l.tryCacheOrFile(path); ok {
		return l.loadImage(data, base, path)
	}
	return nil, fmt.Errorf("macho: could not find %s in the cache or on disk", path)
}

func (l *Loader) tryCacheOrFile(path string) (data []byte, base uint32, ok bool) {
	if l.Cache != nil {
		if d, off, hit := l.Cache.TryCache(path); hit {
			return d, off, true
		}
	}
	d, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, false
	}
	return d, 0, true
}

// findDylib resolves a dylib's suggested load path under the chroot prefix
// (original_source/loader.c find_dylib).
func (l *Loader) findDylib(suggestedPath string) (string, bool) {
	candidate := filepath.Join(l.ChrootPrefix, suggestedPath)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, true
	}
	return "", false
}

// loadImage parses the Mach-O (or fat, dispatching to the armv7 slice) image
// at data[base:] and walks its load commands in order (spec §4.4). name is
// used only for diagnostics and the LoadReport.
func (l *Loader) loadImage(data []byte, base uint32, name string) (*LoadReport, error) {
	if len(data) >= 8 {
		// fat_header.magic is always stored big-endian on disk; reading it
		// with the big-endian accessor yields FAT_MAGIC directly rather than
		// the byte-swapped FAT_CIGAM form a naive little-endian read would see.
		if magic, err := beU32(data, 0); err == nil && magic == MagicFat {
			return l.loadFat(data, name)
		}
	}

	hdr, err := readHeader(data, base)
	if err != nil {
		return nil, fmt.Errorf("macho: %s: %w", name, err)
	}
	if hdr.Magic != MagicMachO {
		return nil, fmt.Errorf("macho: %s: not a Mach-O image (magic 0x%08x)", name, hdr.Magic)
	}

	report := &LoadReport{Path: name}

	var segmentBases []uint32 // indexed by segment-encounter order, for bind opcodes
	var firstSegmentVMAddr uint32
	haveFirstSegment := false
	var lazySections []lazySectionT
	type initSection struct {
		base  uint32
		count uint32
	}
	var initSections []initSection

	var symtab SymtabCommand
	haveSymtab := false
	var dysymtab DysymtabCommand
	haveDysymtab := false

	cmdOff := base + HeaderSize
	for i := uint32(0); i < hdr.NCmds; i++ {
		lc, err := readLoadCommand(data, cmdOff)
		if err != nil {
			return nil, fmt.Errorf("macho: %s: load command %d: %w", name, i, err)
		}
		body := cmdOff + LoadCommandSize

		switch lc.Cmd {
		case LCSegment:
			seg, err := readSegmentCommand(data, body)
			if err != nil {
				return nil, err
			}
			segName := cStringFixed(seg.SegName[:])
			segmentBases = append(segmentBases, seg.VMAddr)
			if !haveFirstSegment {
				firstSegmentVMAddr = seg.VMAddr
				haveFirstSegment = true
			}

			sectOff := body + SegmentCommandSize
			for j := uint32(0); j < seg.NSects; j++ {
				sect, err := readSection(data, sectOff)
				if err != nil {
					return nil, err
				}
				sectOff += SectionSize

				sectName := cStringFixed(sect.SectName[:])
				if segName == "__TEXT" && sectName == "__text" && report.EntryPoint == 0 {
					report.EntryPoint = sect.Addr
				}

				chunk := make([]byte, sect.Size)
				if sect.Flags&SectionTypeMask != SZeroFill {
					fileBase := uint32(0)
					if sect.Offset < base {
						fileBase = base
					}
					srcOff := fileBase + sect.Offset
					if uint64(srcOff)+uint64(sect.Size) > uint64(len(data)) {
						return nil, fmt.Errorf("macho: %s: section %s/%s file range out of bounds", name, segName, sectName)
					}
					copy(chunk, data[srcOff:srcOff+sect.Size])
				}
				if sect.Size > 0 {
					if err := l.Machine.Memory.Map(chunk, sect.Addr); err != nil {
						return nil, fmt.Errorf("macho: %s: mapping section %s/%s: %w", name, segName, sectName, err)
					}
				}

				switch sect.Flags & SectionTypeMask {
				case SLazySymbolPointers:
					lazySections = append(lazySections, lazySectionT{base: sect.Addr, count: sect.Size / 4, startIdx: sect.Reserved1})
				case SModInitFuncPointers:
					initSections = append(initSections, initSection{base: sect.Addr, count: sect.Size / 4})
				}
			}

		case LCSymtab:
			symtab, err = readSymtabCommand(data, body)
			if err != nil {
				return nil, err
			}
			haveSymtab = true
			if err := l.announceSymtab(data, base, symtab); err != nil {
				return nil, err
			}

		case LCDysymtab:
			dysymtab, err = readDysymtabCommand(data, body)
			if err != nil {
				return nil, err
			}
			haveDysymtab = true

		case LCDyldInfo, LCDyldInfoOnly:
			info, err := readDyldInfoCommand(data, body)
			if err != nil {
				return nil, err
			}
			if err := l.bindStream(data, base, info.BindOff, info.BindSize, segmentBases); err != nil {
				return nil, fmt.Errorf("macho: %s: bind opcodes: %w", name, err)
			}
			if err := l.bindStream(data, base, info.LazyBindOff, info.LazyBindSize, segmentBases); err != nil {
				return nil, fmt.Errorf("macho: %s: lazy bind opcodes: %w", name, err)
			}
			if err := l.walkExports(data, base, info.ExportOff, info.ExportSize, firstSegmentVMAddr); err != nil {
				return nil, fmt.Errorf("macho: %s: export trie: %w", name, err)
			}

		case LCLoadDylib, LCReexportDylib, LCIDDylib:
			dylib, err := readDylibCommand(data, body)
			if err != nil {
				return nil, err
			}
			dylibName := cString(data, cmdOff+dylib.NameOffset)
			if lc.Cmd == LCIDDylib {
				report.IDDylibName = dylibName
			} else if err := l.loadDependency(dylibName); err != nil {
				return nil, err
			}

		case LCLoadDylinker:
			dl, err := readDylinkerCommand(data, body)
			if err != nil {
				return nil, err
			}
			report.Dylinker = cString(data, cmdOff+dl.NameOffset)

		case LCUUID:
			u, err := readUUIDCommand(data, body)
			if err != nil {
				return nil, err
			}
			report.UUID = formatUUID(u.UUID)

		case LCVersionMinIPhoneOS:
			v, err := readVersionMinCommand(data, body)
			if err != nil {
				return nil, err
			}
			report.MinOSVersion = formatVersion(v.Version)
			report.SDKVersion = formatVersion(v.SDK)

		case LCFunctionStarts, LCCodeSignature, LCDataInCode:
			// Skipped: neither recorded in the LoadReport nor logged.

		case LCUnixThread:
			if err := l.loadUnixThread(data, body); err != nil {
				return nil, err
			}
			report.UnixThreadSet = true

		case LCThread:
			// "Thread state given. Not implemented" in the original; no
			// equivalent of LC_UNIXTHREAD's register preload is applied.
		}

		cmdOff += lc.CmdSize
	}

	if haveDysymtab && len(lazySections) > 0 {
		if !haveSymtab {
			return nil, fmt.Errorf("macho: %s: has lazy-symbol sections but no LC_SYMTAB", name)
		}
		if err := l.resolveLazyPointers(data, base, symtab, dysymtab, lazySections); err != nil {
			return nil, err
		}
	}

	for _, s := range initSections {
		for i := uint32(0); i < s.count; i++ {
			ptr, err := l.Machine.Memory.ReadWord(s.base + 4*i)
			if err != nil {
				return nil, err
			}
			if _, err := l.Machine.ExecuteFunction(ptr); err != nil {
				return nil, fmt.Errorf("macho: %s: running __mod_init_func at 0x%08x: %w", name, ptr, err)
			}
		}
	}

	l.Reports = append(l.Reports, report)
	return report, nil
}

// loadFat picks the armv7 slice out of a universal binary and recurses into
// it at the slice's own file offset (original_source/loader.c's FAT_CIGAM
// branch; fat_header/fat_arch fields are big-endian on disk).
func (l *Loader) loadFat(data []byte, name string) (*LoadReport, error) {
	nArch, err := beU32(data, 4)
	if err != nil {
		return nil, err
	}
	for i := uint32(0); i < nArch; i++ {
		archOff := 8 + i*FatArchSize
		cpuType, err := beU32(data, archOff)
		if err != nil {
			return nil, err
		}
		if cpuType != CPUTypeARM {
			continue
		}
		fileOffset, err := beU32(data, archOff+8)
		if err != nil {
			return nil, err
		}
		return l.loadImage(data, fileOffset, name)
	}
	return nil, fmt.Errorf("macho: %s: fat binary has no armv7 slice", name)
}

// loadDependency resolves and recursively loads a dylib named by an
// LC_LOAD_DYLIB/LC_REEXPORT_DYLIB command, skipping it if already loaded
// (cycle-breaking: the name is recorded in the loaded set before recursing,
// spec §9 Design Notes).
func (l *Loader) loadDependency(dylibName string) error {
	if l.loaded[dylibName] {
		return nil
	}
	l.loaded[dylibName] = true

	if data, off, ok := l.tryCacheOrFile(dylibName); ok {
		_, err := l.loadImage(data, off, dylibName)
		return err
	}
	resolved, ok := l.findDylib(dylibName)
	if !ok {
		return fmt.Errorf("macho: could not find dylib %s under chroot %q", dylibName, l.ChrootPrefix)
	}
	_, err := l.Load(resolved)
	return err
}

// announceSymtab walks LC_SYMTAB's entries and calls Found for every defined
// (non-N_UNDF) symbol, setting the Thumb bit per N_ARM_THUMB_DEF (spec §4.4).
func (l *Loader) announceSymtab(data []byte, base uint32, c SymtabCommand) error {
	strBase := base + c.Stroff
	for i := uint32(0); i < c.Nsyms; i++ {
		n, err := readNlist(data, base+c.Symoff+i*NlistSize)
		if err != nil {
			return err
		}
		if n.NType&NTypeMask == NUndf {
			continue
		}
		name := cString(data, strBase+n.NStrx)
		value := n.NValue
		if n.NDesc&NArmThumbDef != 0 {
			value |= 1
		}
		if err := l.Machine.Symbols.Found(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) bindStream(data []byte, base uint32, off, size uint32, segmentBases []uint32) error {
	if size == 0 {
		return nil
	}
	start := base + off
	if uint64(start)+uint64(size) > uint64(len(data)) {
		return fmt.Errorf("bind opcode stream out of range")
	}
	return runBindOpcodes(data[start:start+size], segmentBases, l.Machine.Symbols.Need)
}

// walkExports drives the export-trie walk and, for stub-and-resolver
// entries, invokes the resolver through a re-entrant ExecuteFunction call to
// obtain the address actually announced (spec §4.4).
func (l *Loader) walkExports(data []byte, base, off, size, textBase uint32) error {
	if size == 0 {
		return nil
	}
	start := base + off
	if uint64(start)+uint64(size) > uint64(len(data)) {
		return fmt.Errorf("export trie out of range")
	}
	trie := data[start : start+size]
	return walkExportTrie(trie, func(e exportEntry) error {
		if e.flags&ExportSymbolFlagsReexport != 0 {
			// Re-exports carry a library ordinal rather than a resolvable
			// address here; dependency loading already pulls in the
			// re-exporting dylib via LC_REEXPORT_DYLIB.
			return nil
		}
		if e.hasResolver {
			resolverAddr := textBase + uint32(e.resolverOffset)
			resolved, err := l.Machine.ExecuteFunction(resolverAddr)
			if err != nil {
				return fmt.Errorf("running export resolver for %s at 0x%08x: %w", e.name, resolverAddr, err)
			}
			return l.Machine.Symbols.Found(e.name, resolved)
		}
		return l.Machine.Symbols.Found(e.name, textBase+uint32(e.address))
	})
}

// resolveLazyPointers implements the S_LAZY_SYMBOL_POINTERS post-processing
// pass (spec §4.4): each slot's indirect-symbol-table entry names a symbol
// whose eventual value should be written to that slot.
func (l *Loader) resolveLazyPointers(data []byte, base uint32, symtab SymtabCommand, dysymtab DysymtabCommand, sections []lazySectionT) error {
	indirectBase := base + dysymtab.IndirectSymOff
	strBase := base + symtab.Stroff

	for _, sect := range sections {
		for j := uint32(0); j < sect.count; j++ {
			idx := sect.startIdx + j
			if idx >= dysymtab.NIndirectSyms {
				return fmt.Errorf("macho: indirect symbol index %d exceeds table of %d entries", idx, dysymtab.NIndirectSyms)
			}
			entry, err := readU32(data, indirectBase+4*idx)
			if err != nil {
				return err
			}
			if entry == IndirectSymbolAbs || entry == IndirectSymbolAbs|IndirectSymbolLocal || entry == IndirectSymbolLocal {
				continue
			}
			n, err := readNlist(data, base+symtab.Symoff+entry*NlistSize)
			if err != nil {
				return err
			}
			name := cString(data, strBase+n.NStrx)
			target := sect.base + 4*j
			if err := l.Machine.Symbols.Need(name, target); err != nil {
				return err
			}
		}
	}
	return nil
}

// lazySectionT names the anonymous struct type used for resolveLazyPointers'
// parameter so it can be declared once at the call site inside loadImage.
type lazySectionT = struct {
	base     uint32
	count    uint32
	startIdx uint32
}

// loadUnixThread preloads r0..r12/r14/r15 from an LC_UNIXTHREAD command's
// ARM thread state (flavor, count=17, then 16 registers); SP is left
// untouched per spec §4.4's explicit correction to the original.
func (l *Loader) loadUnixThread(data []byte, off uint32) error {
	count, err := readU32(data, off+4)
	if err != nil {
		return err
	}
	if count != 17 {
		return fmt.Errorf("macho: LC_UNIXTHREAD has unexpected register count %d", count)
	}
	regsOff := off + 8
	for i := 0; i < 16; i++ {
		v, err := readU32(data, regsOff+uint32(4*i))
		if err != nil {
			return err
		}
		if i == vm.SP {
			continue
		}
		if i == vm.PC {
			l.Machine.CPU.LoadPC(v)
			continue
		}
		l.Machine.CPU.SetRegister(i, v)
	}
	return nil
}

func readU32(data []byte, off uint32) (uint32, error) {
	b := newBuf(data, off)
	return b.u32()
}

func cStringFixed(field []byte) string {
	end := 0
	for end < len(field) && field[end] != 0 {
		end++
	}
	return string(field[:end])
}

func formatUUID(u [16]byte) string {
	return fmt.Sprintf("%02X%02X%02X%02X-%02X%02X-%02X%02X-%02X%02X-%02X%02X%02X%02X%02X%02X",
		u[0], u[1], u[2], u[3], u[4], u[5], u[6], u[7], u[8], u[9], u[10], u[11], u[12], u[13], u[14], u[15])
}

func formatVersion(v uint32) string {
	return fmt.Sprintf("%d.%d.%d", (v>>16)&0xffff, (v>>8)&0xff, v&0xff)
}
