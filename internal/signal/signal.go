// Package signal implements the signal core (spec.md §4.J): dispositions,
// per-thread/per-process pending and mask state, signal/sigaction/
// sigprocmask/sigsuspend/sigaltstack, the return-to-user hook, and
// sigreturn.
//
// Grounded on spec.md §4.J directly (proc/signal.go was not present in the
// retrieval pack beyond proc's empty go.mod) and on the teacher's
// tinfo.Tnote_t.Killnaps rendezvous (internal/sched.Interrupt), which this
// package calls to unblock a thread sleeping in an interruptible wait once
// a signal becomes deliverable.
package signal

import (
	"sync"
	"time"

	"breenix/internal/defs"
	"breenix/internal/proc"
	"breenix/internal/sched"
	"breenix/internal/trap"
)

// zeroTime is the "no deadline" sentinel sched.BlockOn expects.
var zeroTime time.Time

const (
	dispDefault uintptr = 0
	dispIgnore  uintptr = 1
)

// defaultTerminates reports whether signo's default action is to
// terminate the process (the POSIX default-disposition table; SIGCHLD/
// SIGCONT/etc. default to ignore).
func defaultTerminates(signo defs.Signo_t) bool {
	switch signo {
	case defs.SIGCHLD, defs.SIGCONT:
		return false
	default:
		return true
	}
}

func bit(signo defs.Signo_t) uint64 { return 1 << uint(signo-1) }

/// Target selects which processes/threads signo is delivered to, matching
/// kill(2)'s pid argument semantics (spec.md §4.J): pid>0 targets that pid,
/// pid==0 targets the caller's pgrp, pid<-1 targets pgrp(-pid), pid==-1
/// broadcasts to every process the caller may signal.
func Target(caller *proc.Process, pid defs.Pid_t, signo defs.Signo_t) defs.Err_t {
	switch {
	case pid > 0:
		p, ok := proc.Global.Lookup(pid)
		if !ok {
			return -defs.ESRCH
		}
		return deliverProcess(p, signo)
	case pid == 0:
		return deliverGroup(caller.Getpgid(), signo)
	case pid < -1:
		return deliverGroup(defs.Pid_t(-pid), signo)
	default: // pid == -1: broadcast
		var last defs.Err_t = -defs.ESRCH
		for _, pr := range proc.Global.Elems() {
			if pr == caller {
				continue
			}
			if deliverProcess(pr, signo) == 0 {
				last = 0
			}
		}
		return last
	}
}

func deliverGroup(pgid defs.Pid_t, signo defs.Signo_t) defs.Err_t {
	found := false
	for _, p := range proc.Global.Elems() {
		if p.Getpgid() == pgid {
			found = true
			deliverProcess(p, signo)
		}
	}
	if !found {
		return -defs.ESRCH
	}
	return 0
}

func deliverProcess(p *proc.Process, signo defs.Signo_t) defs.Err_t {
	p.Lock()
	p.PendingProc |= bit(signo)
	var anyThread *proc.Thread
	for _, t := range p.Threads {
		anyThread = t
		break
	}
	p.Unlock()
	if anyThread != nil {
		wakeForSignal(anyThread)
	}
	return 0
}

// wakeForSignal interrupts a thread that may be blocked in an
// interruptible sleep so it re-checks pending signals, honoring
// SA_RESTART for whichever signal is about to become deliverable. The
// exact signal isn't known yet at wake time, so a conservative EINTR
// (restart=false) is used; Deliver on the way back to user space is the
// authority on what actually happens to the syscall.
func wakeForSignal(t *proc.Thread) {
	sched.Interrupt(t, false)
}

/// Sigaction replaces thread t's process's disposition for signo, storing
/// the previous one in old if non-nil. SIGKILL/SIGSTOP cannot be changed.
func Sigaction(p *proc.Process, signo defs.Signo_t, act *proc.Sigaction, old *proc.Sigaction) defs.Err_t {
	if signo == defs.SIGKILL || signo == defs.SIGSTOP {
		return -defs.EINVAL
	}
	p.Lock()
	defer p.Unlock()
	if old != nil {
		*old = p.Dispositions[signo]
	}
	if act != nil {
		p.Dispositions[signo] = *act
	}
	return 0
}

// How values for Sigprocmask (SIG_BLOCK/SIG_UNBLOCK/SIG_SETMASK).
const (
	SIG_BLOCK = iota
	SIG_UNBLOCK
	SIG_SETMASK
)

/// Sigprocmask updates t's signal mask per how, storing the previous mask
/// in old if non-nil. SIGKILL/SIGSTOP can never be masked.
func Sigprocmask(t *proc.Thread, how int, set uint64, old *uint64) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	if old != nil {
		*old = t.Mask
	}
	unmaskable := bit(defs.SIGKILL) | bit(defs.SIGSTOP)
	switch how {
	case SIG_BLOCK:
		t.Mask |= set &^ unmaskable
	case SIG_UNBLOCK:
		t.Mask &^= set
	case SIG_SETMASK:
		t.Mask = set &^ unmaskable
	default:
		return -defs.EINVAL
	}
	return 0
}

// sigsuspendq is the wait queue Sigsuspend parks on. It is never woken by
// Wake/WakeAll directly — wakeForSignal reaches the blocked thread through
// its Killnaps rendezvous (sched.Interrupt), which sched.BlockOn already
// races independently of which queue a thread sits on — but BlockOn still
// requires some *sched.WaitQueue to enqueue against.
var sigsuspendq = sched.NewWaitQueue()

/// Sigsuspend installs mask, blocks t until a signal becomes deliverable
/// under that mask, restores t's previous mask, and returns EINTR (spec.md
/// §4.J: "temporarily installs mask, marks thread Blocked(waitsig),
/// reschedules. On wake by a deliverable signal, runs the handler, then
/// restores the previous mask before returning EINTR"). The handler itself
/// runs later, from ReturnToUser on the way back from this syscall; by the
/// time that happens the previous mask is already back in place.
func Sigsuspend(t *proc.Thread, mask uint64) defs.Err_t {
	t.Lock()
	oldMask := t.Mask
	t.Mask = mask &^ (bit(defs.SIGKILL) | bit(defs.SIGSTOP))
	t.Unlock()

	for {
		if _, ok := deliverable(t); ok {
			break
		}
		sched.BlockOn(t, sigsuspendq, sched.ReasonSignal, zeroTime, true)
	}

	t.Lock()
	t.Mask = oldMask
	t.Unlock()
	return -defs.EINTR
}

/// Sigaltstack installs t's alternate signal stack.
const MinSigStkSz = 2048 // spec.md §4.J's MINSIGSTKSZ floor

func Sigaltstack(t *proc.Thread, sp, length uintptr, install bool) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	if install {
		if length < MinSigStkSz {
			return -defs.EINVAL
		}
		t.AltstackSP, t.AltstackLen, t.AltstackSet = sp, length, true
	}
	return 0
}

/// deliverable picks the lowest-numbered signal in (pending &~ mask) at
/// thread level, falling back to process level, per spec.md §4.J step 1.
func deliverable(t *proc.Thread) (defs.Signo_t, bool) {
	t.Lock()
	pend := t.Pending &^ t.Mask
	mask := t.Mask
	t.Unlock()
	if pend != 0 {
		return lowestSet(pend), true
	}
	t.Proc.Lock()
	ppend := t.Proc.PendingProc &^ mask
	t.Proc.Unlock()
	if ppend != 0 {
		return lowestSet(ppend), true
	}
	return 0, false
}

func lowestSet(bits uint64) defs.Signo_t {
	for i := defs.Signo_t(1); i < defs.NSIG; i++ {
		if bits&bit(i) != 0 {
			return i
		}
	}
	panic("signal: no bit set")
}

func clearPending(t *proc.Thread, signo defs.Signo_t) {
	t.Lock()
	if t.Pending&bit(signo) != 0 {
		t.Pending &^= bit(signo)
		t.Unlock()
		return
	}
	t.Unlock()
	t.Proc.Lock()
	t.Proc.PendingProc &^= bit(signo)
	t.Proc.Unlock()
}

/// Outcome describes what ReturnToUser decided to do with the frame.
type Outcome int

const (
	OutcomeNone Outcome = iota // no deliverable signal, frame unchanged
	OutcomeHandled             // a handler frame was built, see Frame
	OutcomeTerminated          // process must exit with signal-termination status
)

/// ReturnToUser is the return-to-user hook (spec.md §4.J): called once per
/// user-entry on the way out of the kernel. It inspects t's deliverable
/// signals and either leaves f untouched, rewrites f to enter a handler,
/// or reports that the process must terminate.
func ReturnToUser(t *proc.Thread, f *trap.Frame) Outcome {
	for {
		signo, ok := deliverable(t)
		if !ok {
			return OutcomeNone
		}

		t.Proc.Lock()
		act := t.Proc.Dispositions[signo]
		t.Proc.Unlock()

		switch act.Handler {
		case dispDefault:
			if defaultTerminates(signo) {
				t.Proc.Lock()
				t.Proc.ExitedBySignal = true
				t.Proc.ExitSignal = signo
				t.Proc.Unlock()
				return OutcomeTerminated
			}
			clearPending(t, signo)
			continue
		case dispIgnore:
			clearPending(t, signo)
			continue
		default:
			buildHandlerFrame(t, f, signo, act)
			clearPending(t, signo)

			t.Lock()
			newMask := t.Mask | act.Mask
			if act.Flags&defs.SA_NODEFER == 0 {
				newMask |= bit(signo)
			}
			t.Mask = newMask
			t.Unlock()
			return OutcomeHandled
		}
	}
}

/// savedFrame is what sigreturn restores from: the frame as it stood
/// before delivery, plus the mask that was active at delivery time.
type savedFrame struct {
	Frame trap.Frame
	Mask  uint64
}

// pending sigreturn state, one per thread id; a real kernel would store
// this on the user stack (spec.md §4.J's signal-frame layout) but
// breenix-core's AddressSpace is a software simulation with no raw stack
// bytes to format a C struct into, so the saved frame is kept kernel-side,
// keyed by the thread that is mid-handler. sigreturn still validates that
// exactly one delivery is outstanding, matching the "restores ... from the
// saved frame" contract.
var (
	savedFramesMu sync.Mutex
	savedFrames   = map[defs.Tid_t]*savedFrame{}
)

func buildHandlerFrame(t *proc.Thread, f *trap.Frame, signo defs.Signo_t, act proc.Sigaction) {
	t.Lock()
	saved := savedFrame{Frame: *f, Mask: t.Mask}
	t.Unlock()
	savedFramesMu.Lock()
	savedFrames[t.Tid] = &saved
	savedFramesMu.Unlock()

	sp := f.SP
	if act.Flags&defs.SA_ONSTACK != 0 {
		t.Lock()
		if t.AltstackSet {
			sp = t.AltstackSP + t.AltstackLen
		}
		t.Unlock()
	}

	f.SP = sp
	f.PC = act.Handler
	f.GPRegs[0] = uint64(signo)
}

/// Sigreturn restores t's trap frame and mask from the saved delivery
/// state, as the sigreturn syscall does on return from a handler.
func Sigreturn(t *proc.Thread, f *trap.Frame) defs.Err_t {
	savedFramesMu.Lock()
	saved, ok := savedFrames[t.Tid]
	if ok {
		delete(savedFrames, t.Tid)
	}
	savedFramesMu.Unlock()
	if !ok {
		return -defs.EINVAL
	}
	*f = saved.Frame
	t.Lock()
	t.Mask = saved.Mask
	t.Unlock()
	return 0
}

/// Raise sets signo pending on t directly (used for synchronously
/// generated signals: SIGSEGV on fault failure, SIGPIPE on broken-pipe
/// writes, SIGCHLD on child exit).
func Raise(t *proc.Thread, signo defs.Signo_t) {
	t.Lock()
	t.Pending |= bit(signo)
	t.Unlock()
	wakeForSignal(t)
}
