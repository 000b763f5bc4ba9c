// Package pagefault bridges internal/vm's COW/demand-fault algorithm to
// signal delivery: a fault that internal/vm cannot resolve becomes a
// SIGSEGV raised on the faulting thread (spec.md §4.I: "SIGSEGV delivery
// uses §4.J; if the process has no handler, it exits with a
// signal-termination status"). Kept as its own package (rather than
// folding into internal/vm) so that internal/vm never has to import
// internal/proc/internal/signal — the fault-resolution algorithm itself
// stays a pure address-space operation.
package pagefault

import (
	"fmt"
	"log"

	"breenix/internal/defs"
	"breenix/internal/proc"
	"breenix/internal/signal"
	"breenix/internal/trap"
)

/// Handle resolves a fault at va for thread t (whose process owns as),
/// raising SIGSEGV when the access has no valid mapping (EFAULT); other
/// failures, such as running out of frames, return false without raising
/// a signal. write selects a write fault. instr is the raw bytes at the
/// faulting PC, if the caller captured any (a real entry stub would have
/// them off the trapped instruction stream); when it is non-empty an EFAULT
/// logs a disassembly diagnostic, and a caller that passes nil gets no
/// diagnostic. It returns true if the fault was resolved and execution may
/// resume at the faulting instruction.
func Handle(t *proc.Thread, va uintptr, write bool, arch trap.Arch, instr []byte) bool {
	defer trap.Enter(trap.KindFault)()

	as := t.Proc.AS
	as.LockPmap()
	_, err := as.Translate(va, write)
	as.UnlockPmap()
	if err != 0 {
		if err == -defs.EFAULT {
			if len(instr) > 0 {
				log.Print(diagnose(va, write, arch, instr))
			}
			signal.Raise(t, defs.SIGSEGV)
		}
		return false
	}
	return true
}

func diagnose(va uintptr, write bool, arch trap.Arch, instr []byte) string {
	mnem, err := trap.Disassemble(arch, instr)
	if err != nil {
		return fmt.Sprintf("unclassified fault at %#x (write=%v): could not disassemble: %v", va, write, err)
	}
	return fmt.Sprintf("unclassified fault at %#x (write=%v): %s", va, write, mnem)
}
