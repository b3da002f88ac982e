package vm

// HostFunc is a host-implemented stub invoked when execution hits a
// trampoline (spec §6 Host handler ABI). It reads its arguments from the
// Machine's register/stack state via ArgN and returns the value placed in
// r0.
type HostFunc func(m *Machine) uint32

// Breakpoint is a named host stub bound to a trampoline address (spec §3).
type Breakpoint struct {
	SymbolName string
	Handler    HostFunc
}

// AllocTrampoline hands out a 4-byte trampoline slot, writes the ARM
// breakpoint encoding into it, and registers the (as yet unbound) handler
// (spec §4.7). The returned address is meant to be announced via
// found_symbol so later binds resolve into the trampoline page.
func (m *Memory) AllocTrampoline(symbolName string, handler HostFunc) uint32 {
	if m.trampCursor%PageSize == 0 {
		if err := m.Map(make([]byte, PageSize), m.trampCursor); err != nil {
			panic(err)
		}
	}
	addr := m.trampCursor
	m.trampCursor += 4
	if err := m.WriteWord(addr, breakpointTrampolineWord); err != nil {
		panic(err)
	}
	m.Breakpoints[addr] = &Breakpoint{SymbolName: symbolName, Handler: handler}
	return addr
}

// FindBreakpoint looks up the breakpoint registered at a trampoline address.
func (m *Memory) FindBreakpoint(addr uint32) (*Breakpoint, bool) {
	bp, ok := m.Breakpoints[addr]
	return bp, ok
}
