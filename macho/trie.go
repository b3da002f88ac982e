package macho

// exportEntry is one terminal node reached while walking the export trie:
// the fully accumulated symbol name plus its terminal payload.
type exportEntry struct {
	name           string
	flags          uint64
	address        uint64
	resolverOffset uint64
	hasResolver    bool
}

// walkExportTrie performs the recursive descent spec §4.4 describes over
// dyld's export-trie prefix tree (LC_DYLD_INFO[_ONLY]'s export_off/
// export_size). visit is called once per terminal node with the name
// accumulated along the path from the root.
func walkExportTrie(data []byte, visit func(exportEntry) error) error {
	if len(data) == 0 {
		return nil
	}
	return walkExportNode(data, 0, "", visit)
}

func walkExportNode(data []byte, offset uint32, prefix string, visit func(exportEntry) error) error {
	if int(offset) >= len(data) {
		return nil
	}
	terminalSize, pos := uleb128(data, offset)
	childrenPos := pos + uint32(terminalSize)

	if terminalSize > 0 {
		flags, p := uleb128(data, pos)
		entry := exportEntry{name: prefix, flags: flags}
		if flags&ExportSymbolFlagsKindMask == ExportSymbolFlagsReexport {
			// Re-export entries carry a library ordinal then an optional
			// import name instead of an address; not modelled further here
			// since this loader only resolves regular/stub-and-resolver exports.
		} else if flags&ExportSymbolFlagsStubAndResolver != 0 {
			stubAddr, p2 := uleb128(data, p)
			resolverOff, _ := uleb128(data, p2)
			entry.address = stubAddr
			entry.resolverOffset = resolverOff
			entry.hasResolver = true
		} else {
			addr, _ := uleb128(data, p)
			entry.address = addr
		}
		if err := visit(entry); err != nil {
			return err
		}
	}

	if int(childrenPos) >= len(data) {
		return nil
	}
	childCount := data[childrenPos]
	cursor := childrenPos + 1
	for i := byte(0); i < childCount; i++ {
		label := cString(data, cursor)
		cursor += uint32(len(label)) + 1
		childOffset, next := uleb128(data, cursor)
		cursor = next
		if err := walkExportNode(data, uint32(childOffset), prefix+label, visit); err != nil {
			return err
		}
	}
	return nil
}
