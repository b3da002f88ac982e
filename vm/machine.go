package vm

import (
	"io"
	"os"
)

// Machine owns every piece of mutable, process-wide state the interpreter
// needs (spec §5: "every mutable structure is singleton process-wide").
// Reshaping the original's C globals into fields on one owned value removes
// the re-entrancy hazard execute_function has in C, where saving/restoring
// `state` means snapshotting a global (spec §9 design notes): here the
// saved copy is just a local CPU value.
type Machine struct {
	CPU      *CPU
	Memory   *Memory
	Symbols  *SymbolTable
	CP15     *CP15
	Syscalls *SyscallTables

	// CompatSTRDRtTwice resolves the spec's STRD Open Question (§9) in
	// favor of writing Rt to address and Rt2 to address+4; set true to
	// reproduce the original's apparent bug of writing Rt to both halves.
	CompatSTRDRtTwice bool

	StepBudget uint64
	Steps      uint64

	ExitRequested bool
	ExitCode      int32

	OutputWriter io.Writer
}

// NewMachine returns a Machine with memory, symbol table, CP15, and syscall
// tables initialized and the CPU reset to its zero state.
func NewMachine() *Machine {
	mem := NewMemory()
	return &Machine{
		CPU:          NewCPU(),
		Memory:       mem,
		Symbols:      NewSymbolTable(mem),
		CP15:         NewCP15(),
		Syscalls:     NewSyscallTables(),
		OutputWriter: os.Stdout,
	}
}

// Reset clears CPU state and execution status, leaving memory and symbols
// untouched so a debugger can re-run the same loaded image from its entry
// point.
func (m *Machine) Reset() {
	m.CPU.Reset()
	m.ExitRequested = false
	m.ExitCode = 0
	m.Steps = 0
}

// savedState is the local value execute_function saves/restores around a
// re-entrant call (spec §5); unlike the original it never touches a global.
type savedState struct {
	cpu  CPU
	exit bool
	code int32
}

// ExecuteFunction implements the re-entrant call spec §5 describes: it
// saves architectural state, loads PC, steps until the hypervisor-return
// sentinel BKPT fires or 1,000,000 steps have run, and restores the saved
// state, returning r0. It does not allocate a separate stack: the callee
// runs below the current SP, or below the top of the pre-mapped stack when
// SP is zero. Used by the loader to run constructors and export-trie
// resolvers while a main execution is suspended.
func (m *Machine) ExecuteFunction(addr uint32, args ...uint32) (uint32, error) {
	saved := savedState{cpu: *m.CPU, exit: m.ExitRequested, code: m.ExitCode}

	sp := m.CPU.GetSP()
	if sp == 0 {
		sp = StackCenter + StackHalf
	}
	if len(args) > 4 {
		sp -= uint32(4 * (len(args) - 4))
	}
	m.CPU.SetSP(sp)

	m.CPU.LoadPC(addr)
	for i, a := range args {
		if i < 4 {
			m.CPU.SetRegister(i, a)
		} else {
			if err := m.Memory.WriteWord(m.CPU.GetSP()+uint32(4*(i-4)), a); err != nil {
				return 0, err
			}
		}
	}
	m.CPU.SetLR(HypervisorReturn)

	const reentrantStepBudget = 1_000_000
	for i := uint64(0); i < reentrantStepBudget; i++ {
		done, err := m.Step()
		if err != nil {
			return 0, err
		}
		if done {
			break
		}
	}

	retval := m.CPU.GetRegister(R0)
	*m.CPU = saved.cpu
	m.ExitRequested = saved.exit
	m.ExitCode = saved.code
	return retval, nil
}

// Run steps the machine until its budget is exhausted, the hypervisor
// sentinel fires, or a syscall requests exit (spec §5: "the stepper takes a
// fixed steps budget and returns when exhausted; callers can wrap it").
func (m *Machine) Run(steps uint64) error {
	for i := uint64(0); i < steps; i++ {
		if m.ExitRequested {
			return nil
		}
		done, err := m.Step()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}
