// Package tracelog is a thin wrapper over the standard log.Logger, used to
// emit decode/bind/syscall diagnostic lines. No third-party logging library
// appears anywhere in the retrieval pack (the teacher and its siblings all
// use fmt/log directly for this), so this package follows suit rather than
// introducing one.
package tracelog

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Logger emits one line per event, each prefixed with a fixed tag so trace
// output can be grepped by category the way the teacher's per-concern trace
// writers (ExecutionTrace, MemoryTrace, FlagTrace) separate by file.
type Logger struct {
	instructions bool
	memory       bool
	out          *log.Logger
}

// New returns a Logger writing to w. instructions and memory gate whether
// Instruction/Memory calls produce output; Syscall and Bind always log,
// matching the teacher's choice to always surface host-boundary crossings.
func New(w io.Writer, instructions, memory bool) *Logger {
	return &Logger{
		instructions: instructions,
		memory:       memory,
		out:          log.New(w, "", log.LstdFlags|log.Lmicroseconds),
	}
}

// Discard returns a Logger that drops every event, for callers that never
// configured tracing.
func Discard() *Logger {
	return New(io.Discard, false, false)
}

// Instruction logs a single decoded-and-executed instruction as one line
// holding its address and the caller-supplied disassembly string; register
// values are not included.
func (l *Logger) Instruction(addr uint32, disasm string) {
	if !l.instructions {
		return
	}
	l.out.Printf("instr  0x%08x  %s", addr, disasm)
}

// Memory logs a guest memory access, mirroring the teacher's MemoryTrace.
func (l *Logger) Memory(op string, addr uint32, size int, value uint64) {
	if !l.memory {
		return
	}
	l.out.Printf("mem    %-5s 0x%08x  size=%d  value=0x%x", op, addr, size, value)
}

// Syscall logs a darwin syscall or Mach trap dispatch.
func (l *Logger) Syscall(name string, args [4]uint32, result uint32) {
	l.out.Printf("svc    %-20s args=%v -> 0x%x", name, args, result)
}

// Bind logs a bind-opcode or export-trie resolution (spec §4.4/§8 property 6).
func (l *Logger) Bind(symbol string, addr uint32) {
	l.out.Printf("bind   %-30s -> 0x%08x", symbol, addr)
}

// Fatal logs a fault and exits the process with the given code, matching
// the teacher's main.go convention of printing to stderr before os.Exit.
func Fatal(code int, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(code)
}
