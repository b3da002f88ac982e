package vm

import "fmt"

// symtabEntry tracks one external symbol's resolution state (spec §3):
// value is unknown until found() is called; pending holds addresses that
// still need the value written once it arrives.
type symtabEntry struct {
	value   uint32
	known   bool
	pending []uint32
}

// SymbolTable resolves `need_symbol` sites against `found_symbol`
// definitions across every loaded image (spec §4.6). found/need commute:
// whichever happens first, the eventual memory write is the same (spec
// invariant 7, §8).
type SymbolTable struct {
	entries map[string]*symtabEntry
	mem     *Memory
}

// NewSymbolTable returns a table that writes resolved bindings into mem.
func NewSymbolTable(mem *Memory) *SymbolTable {
	return &SymbolTable{entries: make(map[string]*symtabEntry), mem: mem}
}

func (t *SymbolTable) entry(name string) *symtabEntry {
	e, ok := t.entries[name]
	if !ok {
		e = &symtabEntry{}
		t.entries[name] = e
	}
	return e
}

// Found records that name is now known to be value and immediately writes
// it to every address that previously called Need for this name.
func (t *SymbolTable) Found(name string, value uint32) error {
	e := t.entry(name)
	e.value = value
	e.known = true
	for _, target := range e.pending {
		if err := t.mem.WriteWord(target, value); err != nil {
			return fmt.Errorf("symtab: binding %s at 0x%08x: %w", name, target, err)
		}
	}
	e.pending = nil
	return nil
}

// Need requests that target be written with name's value: immediately, if
// already known, or once Found arrives for name.
func (t *SymbolTable) Need(name string, target uint32) error {
	e := t.entry(name)
	if e.known {
		return t.mem.WriteWord(target, e.value)
	}
	e.pending = append(e.pending, target)
	return nil
}

// Dump enumerates every entry and returns an error naming the unresolved
// symbols if any remain without a value (spec 4.6, §7 "unresolved external
// ... fatal after loading phase").
func (t *SymbolTable) Dump() error {
	var undefined []string
	for name, e := range t.entries {
		if !e.known {
			undefined = append(undefined, name)
		}
	}
	if len(undefined) > 0 {
		return faultf(FaultUnresolvedSymbol, 0, "%d undefined symbols: %v", len(undefined), undefined)
	}
	return nil
}
