package vm

import "fmt"

// ArgN reads AAPCS argument position n (0-based) per spec §6: r0..r3 for the
// first four, then the caller's pre-call stack pushes for the rest
// (original_source/syscall.c's A4..A9 macros read [SP-4], [SP-8], ...).
func (m *Machine) ArgN(n int) uint32 {
	if n < 4 {
		return m.CPU.GetRegister(n)
	}
	addr := m.CPU.GetSP() - uint32(4*(n-3))
	v, err := m.Memory.ReadWord(addr)
	if err != nil {
		return 0
	}
	return v
}

// SyscallFunc is a host handler for one Mach trap or BSD syscall, taking the
// Machine so it can read ArgN and return the r0 value.
type SyscallFunc func(m *Machine) uint32

// SyscallTables holds the sparse Mach-trap and BSD-syscall dispatch arrays
// SVC #0x80 selects between using r12's sign (spec §4.3): a negative
// selector indexes machTraps, non-negative indexes bsdSyscalls
// (original_source/syscall.c syscall()).
type SyscallTables struct {
	machTraps   map[uint32]SyscallFunc
	bsdSyscalls map[uint32]SyscallFunc
}

// NewSyscallTables returns tables pre-populated with the small set of
// darwin traps the original registers (mach_reply_port, mach_task_self,
// mach_msg_trap, getpid, kill, sigprocmask) plus exit/write, which the
// original leaves for the host CLI to wire in main().
func NewSyscallTables() *SyscallTables {
	t := &SyscallTables{
		machTraps:   make(map[uint32]SyscallFunc),
		bsdSyscalls: make(map[uint32]SyscallFunc),
	}
	t.machTraps[0x1a] = func(m *Machine) uint32 { return 0 } // mach_reply_port
	t.machTraps[0x1c] = func(m *Machine) uint32 { return 0 } // mach_task_self
	t.machTraps[0x1f] = func(m *Machine) uint32 { return 0 } // mach_msg_trap

	t.bsdSyscalls[0x01] = func(m *Machine) uint32 { // exit
		m.ExitRequested = true
		m.ExitCode = int32(m.ArgN(0))
		return 0
	}
	t.bsdSyscalls[0x04] = func(m *Machine) uint32 { // write
		fd, addr, length := m.ArgN(0), m.ArgN(1), m.ArgN(2)
		data, err := m.Memory.ReadBytes(addr, int(length))
		if err != nil {
			return 0xFFFFFFFF
		}
		n, _ := m.Stdout(fd, data)
		return uint32(n)
	}
	t.bsdSyscalls[0x14] = func(m *Machine) uint32 { return 0xdeadbeef } // getpid
	t.bsdSyscalls[0x25] = func(m *Machine) uint32 { return 0 }          // kill
	t.bsdSyscalls[0x30] = func(m *Machine) uint32 { return 0 }          // sigprocmask

	return t
}

// RegisterBSDSyscall installs or overrides a BSD-syscall handler, letting
// cmd/armv7sim wire additional host behavior without reaching into the
// table's internals.
func (t *SyscallTables) RegisterBSDSyscall(number uint32, fn SyscallFunc) {
	t.bsdSyscalls[number] = fn
}

// RegisterMachTrap installs or overrides a Mach-trap handler.
func (t *SyscallTables) RegisterMachTrap(number uint32, fn SyscallFunc) {
	t.machTraps[number] = fn
}

// Dispatch resolves r12's selector to a Mach trap or BSD syscall and
// invokes it, returning the value to place in r0 (spec §4.3).
func (t *SyscallTables) Dispatch(m *Machine) (uint32, error) {
	selector := int32(m.CPU.GetRegister(R12))
	if selector < 0 {
		fn, ok := t.machTraps[uint32(-selector)]
		if !ok {
			return 0, faultf(FaultUnimplementedStub, m.CPU.R[PC], "mach trap 0x%x is not implemented", -selector)
		}
		return fn(m), nil
	}
	fn, ok := t.bsdSyscalls[uint32(selector)]
	if !ok {
		return 0, faultf(FaultUnimplementedStub, m.CPU.R[PC], "bsd syscall 0x%x is not implemented", selector)
	}
	return fn(m), nil
}

// Stdout writes to the Machine's configured output writer whatever fd is;
// fd appears only in the error message.
func (m *Machine) Stdout(fd uint32, data []byte) (int, error) {
	if m.OutputWriter == nil {
		return len(data), nil
	}
	n, err := m.OutputWriter.Write(data)
	if err != nil {
		return n, fmt.Errorf("write to fd %d: %w", fd, err)
	}
	return n, nil
}
