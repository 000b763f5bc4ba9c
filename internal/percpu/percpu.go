// Package percpu implements the per-CPU data block (spec.md §3/§6): the
// current-thread pointer, kernel-stack-top slot, preempt/IRQ nesting
// counter, and the need-resched flag every entry/exit path touches.
//
// spec.md's Non-goals rule out SMP, so breenix-core models exactly one CPU
// (a package-level singleton) rather than an array indexed by APIC/MPIDR
// id — the teacher's own production boot configuration also runs
// single-core. Hardware per-CPU addressing (GS base / TPIDR_EL1, spec.md
// §9) has no meaning in a hosted Go program; Current()/SetCurrent() here
// play the same role as the teacher's tinfo.Current()/SetCurrent(), but
// backed by a mutex-guarded field instead of an unsafe runtime register
// hook (see DESIGN.md's Open Question).
package percpu

import "sync"

// preempt_count sub-field masks (spec.md §6's "preempt_count encoding").
const (
	preemptBits       = 14
	preemptActiveBits = 1
	hardirqBits       = 8
	softirqBits       = 8
	nmiBits           = 1

	preemptShift       = 0
	preemptActiveShift = preemptShift + preemptBits
	hardirqShift       = preemptActiveShift + preemptActiveBits
	softirqShift       = hardirqShift + hardirqBits
	nmiShift           = softirqShift + softirqBits

	preemptMask       = (1<<preemptBits - 1) << preemptShift
	preemptActiveMask = (1<<preemptActiveBits - 1) << preemptActiveShift
	hardirqMask       = (1<<hardirqBits - 1) << hardirqShift
	softirqMask       = (1<<softirqBits - 1) << softirqShift
	nmiMask           = (1<<nmiBits - 1) << nmiShift
)

/// ThreadHandle is an opaque reference to the currently running thread;
/// internal/sched supplies the concrete type via SetCurrent, breaking the
/// import cycle that would otherwise exist between percpu and sched.
type ThreadHandle interface{}

/// Block is the per-CPU data block (spec.md §6's fixed-offset layout,
/// represented here as ordinary Go fields rather than an offset table,
/// since nothing in breenix-core addresses it via a base register).
type Block struct {
	mu sync.Mutex

	cpuID          int
	current        ThreadHandle
	kernelStackTop uintptr
	preemptCount   uint32
	needResched    bool
	idleThread     ThreadHandle
}

/// CPU is the single simulated CPU's per-CPU block.
var CPU = &Block{}

/// Init resets the per-CPU block, installing the idle thread handle.
func Init(idle ThreadHandle) {
	CPU.mu.Lock()
	defer CPU.mu.Unlock()
	CPU.cpuID = 0
	CPU.current = nil
	CPU.preemptCount = 0
	CPU.needResched = false
	CPU.idleThread = idle
}

/// Current returns the thread currently assigned to this CPU. Panics if
/// none is installed, matching the teacher's tinfo.Current() contract that
/// it is only ever called once a thread is running.
func Current() ThreadHandle {
	CPU.mu.Lock()
	defer CPU.mu.Unlock()
	if CPU.current == nil {
		panic("percpu: no current thread installed")
	}
	return CPU.current
}

/// TryCurrent returns the current thread and whether one is installed,
/// without panicking — used by code that may run before the first thread
/// is scheduled (e.g. boot).
func TryCurrent() (ThreadHandle, bool) {
	CPU.mu.Lock()
	defer CPU.mu.Unlock()
	return CPU.current, CPU.current != nil
}

/// SetCurrent installs t as the thread running on this CPU. It is the
/// scheduler's job to call this exactly at context-switch time
/// (spec.md §4.F).
func SetCurrent(t ThreadHandle) {
	CPU.mu.Lock()
	defer CPU.mu.Unlock()
	CPU.current = t
}

/// IdleThread returns the handle installed at Init time.
func IdleThread() ThreadHandle {
	CPU.mu.Lock()
	defer CPU.mu.Unlock()
	return CPU.idleThread
}

/// NeedResched reports whether the timer tick (or a wake from IRQ context)
/// has asked for a reschedule at the next opportunity.
func NeedResched() bool {
	CPU.mu.Lock()
	defer CPU.mu.Unlock()
	return CPU.needResched
}

/// SetNeedResched sets or clears the need-resched flag. Safe to call from
/// IRQ context (spec.md §4.F: "those contexts only set need_resched").
func SetNeedResched(v bool) {
	CPU.mu.Lock()
	defer CPU.mu.Unlock()
	CPU.needResched = v
}

/// PreemptCount returns the current composite preempt_count value.
func PreemptCount() uint32 {
	CPU.mu.Lock()
	defer CPU.mu.Unlock()
	return CPU.preemptCount
}

/// Preemptible reports whether a context switch may occur right now:
/// preempt_count == 0 (spec.md §4.F's eligibility rule; interrupt-enabled
/// state is implicit in breenix-core's cooperative model — see
/// internal/trap).
func Preemptible() bool {
	return PreemptCount() == 0
}

func (b *Block) bump(mask uint32, shift uint, delta int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur := (b.preemptCount & mask) >> shift
	next := uint32(int32(cur) + delta)
	b.preemptCount = (b.preemptCount &^ mask) | ((next << shift) & mask)
}

/// EnterIRQ increments the hard-IRQ nesting counter (spec.md §4.G: "every
/// entry increments the appropriate preempt sub-counter").
func EnterIRQ() { CPU.bump(hardirqMask, hardirqShift, 1) }

/// ExitIRQ decrements the hard-IRQ nesting counter.
func ExitIRQ() { CPU.bump(hardirqMask, hardirqShift, -1) }

/// EnterSoftIRQ increments the soft-IRQ nesting counter.
func EnterSoftIRQ() { CPU.bump(softirqMask, softirqShift, 1) }

/// ExitSoftIRQ decrements the soft-IRQ nesting counter.
func ExitSoftIRQ() { CPU.bump(softirqMask, softirqShift, -1) }

/// EnterNMI increments the NMI nesting counter.
func EnterNMI() { CPU.bump(nmiMask, nmiShift, 1) }

/// ExitNMI decrements the NMI nesting counter.
func ExitNMI() { CPU.bump(nmiMask, nmiShift, -1) }

/// DisablePreempt increments the explicit preempt-disable nesting count,
/// used around critical sections that must not context-switch (spec.md
/// §5's ready-queue/process-table spinlock discipline).
func DisablePreempt() { CPU.bump(preemptMask, preemptShift, 1) }

/// EnablePreempt decrements the explicit preempt-disable nesting count.
func EnablePreempt() { CPU.bump(preemptMask, preemptShift, -1) }
