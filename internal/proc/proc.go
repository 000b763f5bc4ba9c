// Package proc implements the process/thread table: PCBs, TCBs, the
// parent/child tree rooted at PID 1, reparenting on exit, and
// process-group/session state (spec.md §4.E).
//
// Grounded on the teacher's tinfo/tinfo.go (Tnote_t's Alive/Killed/Isdoomed/
// Killnaps fields, generalized from a patched-runtime per-goroutine note
// into an explicit field of Thread) and proc's table-of-tables shape
// implied throughout vm/as.go's Vm_t/Tid_t usage (proc/proc.go itself was
// not present in the retrieval pack beyond its go.mod — this package's
// structure is reconstructed from those call sites plus spec.md §4.E).
package proc

import (
	"sync"

	"breenix/internal/accnt"
	"breenix/internal/defs"
	"breenix/internal/fd"
	"breenix/internal/limits"
	"breenix/internal/vm"
)

/// ThreadState is a thread's position in the scheduler state machine
/// (spec.md §4.F's state diagram).
type ThreadState int

const (
	StateNone ThreadState = iota
	StateRunnable
	StateRunning
	StateBlocked
	StateZombie
	StateDead
)

func (s ThreadState) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateZombie:
		return "zombie"
	case StateDead:
		return "dead"
	default:
		return "none"
	}
}

/// Killnaps mirrors the teacher's Tnote_t.Killnaps: the rendezvous a thread
/// blocked in an interruptible sleep uses to notice it has been killed or
/// must restart due to signal delivery.
type Killnaps struct {
	Killch chan bool
	Kerr   defs.Err_t
}

/// Thread is one schedulable unit of execution (a TCB). Grounded on the
/// teacher's Tnote_t; Alive/Killed/Isdoomed kept under the same embedded
/// mutex discipline ("a leaf lock" per the teacher's comment).
type Thread struct {
	sync.Mutex

	Tid   defs.Tid_t
	Proc  *Process
	State ThreadState

	Alive    bool
	Killed   bool
	Isdoomed bool
	Killnaps Killnaps

	Accnt accnt.Accnt_t

	// Mask/Pending are this thread's signal mask and pending-signal set
	// (spec.md §4.J); internal/signal operates on them.
	Mask    uint64
	Pending uint64

	AltstackSP  uintptr
	AltstackLen uintptr
	AltstackSet bool
}

/// Doomed reports whether the thread has been marked for termination.
func (t *Thread) Doomed() bool {
	t.Lock()
	defer t.Unlock()
	return t.Isdoomed
}

/// MarkDoomed marks the thread doomed, used when a fatal signal or kill
/// targets it while it may be blocked.
func (t *Thread) MarkDoomed() {
	t.Lock()
	defer t.Unlock()
	t.Isdoomed = true
	t.Killed = true
}

/// ProcState is a process's own lifecycle marker, distinct from its
/// threads' individual states — a process is a Zombie once every thread has
/// exited and its own exit status is recorded.
type ProcState int

const (
	ProcAlive ProcState = iota
	ProcZombie
)

/// Process is a PCB: the address space, fd table, signal dispositions, and
/// process-tree/group/session links (spec.md §4.E).
type Process struct {
	sync.Mutex

	Pid   defs.Pid_t
	Pgid  defs.Pid_t
	Sid   defs.Pid_t
	State ProcState

	AS *vm.AddressSpace

	Fds    map[int]*fd.Fd_t // open file descriptor table, keyed by fd number
	NextFd int
	Cwd    *fd.Cwd_t

	Parent   *Process
	Children map[defs.Pid_t]*Process
	Threads  map[defs.Tid_t]*Thread

	Dispositions [defs.NSIG]Sigaction
	PendingProc  uint64 // group-directed signals pending at process level

	ExitStatus int
	ExitSignal defs.Signo_t
	ExitedBySignal bool

	Accnt     accnt.Accnt_t
	ChildAcct accnt.Accnt_t // accumulated usage of reaped children

	nextTid defs.Tid_t
}

/// Sigaction is one entry of a process's disposition table (spec.md §4.J).
type Sigaction struct {
	Handler uintptr // 0 = default, 1 = ignore, else a user PC
	Mask    uint64
	Flags   int
}

/// Table is the global process/thread table (spec.md §4.E's "global tables
/// keyed by pid and tid").
type Table struct {
	mu sync.Mutex

	procs   map[defs.Pid_t]*Process
	threads map[defs.Tid_t]*Thread

	nextPid defs.Pid_t
	nextTid defs.Tid_t

	Root *Process // PID 1
}

/// Global is the system-wide process/thread table.
var Global = &Table{procs: map[defs.Pid_t]*Process{}, threads: map[defs.Tid_t]*Thread{}, nextPid: 1, nextTid: 1}

/// AllocPid hands out the next process id. IDs are monotonic for the
/// lifetime of the kernel and are never reused (spec.md §4.E allows reuse
/// after a grace period, which breenix-core does not implement).
func (tb *Table) AllocPid() defs.Pid_t {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	p := tb.nextPid
	tb.nextPid++
	return p
}

/// AllocTid hands out the next thread id.
func (tb *Table) AllocTid() defs.Tid_t {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	t := tb.nextTid
	tb.nextTid++
	return t
}

/// NewProcess allocates a PCB, links it as a child of parent (nil only for
/// PID 1), and admits it against the system process limit.
func (tb *Table) NewProcess(parent *Process) (*Process, defs.Err_t) {
	if !limits.Syslimit.Sysprocs.Take() {
		return nil, -defs.EAGAIN
	}
	pid := tb.AllocPid()
	p := &Process{
		Pid:      pid,
		Children: map[defs.Pid_t]*Process{},
		Threads:  map[defs.Tid_t]*Thread{},
		Fds:      map[int]*fd.Fd_t{},
	}
	if parent == nil {
		p.Pgid, p.Sid = pid, pid
	} else {
		p.Parent = parent
		p.Pgid, p.Sid = parent.Pgid, parent.Sid
		parent.Lock()
		parent.Children[pid] = p
		parent.Unlock()
	}
	tb.mu.Lock()
	tb.procs[pid] = p
	if tb.Root == nil {
		tb.Root = p
	}
	tb.mu.Unlock()
	return p, 0
}

/// NewThread allocates a TCB belonging to p.
func (tb *Table) NewThread(p *Process) (*Thread, defs.Err_t) {
	if !limits.Syslimit.Threads.Take() {
		return nil, -defs.EAGAIN
	}
	tid := tb.AllocTid()
	t := &Thread{Tid: tid, Proc: p, State: StateRunnable, Alive: true}
	t.Killnaps.Killch = make(chan bool, 1)
	p.Lock()
	p.Threads[tid] = t
	p.Unlock()
	tb.mu.Lock()
	tb.threads[tid] = t
	tb.mu.Unlock()
	return t, 0
}

/// Lookup returns the process for pid, if any.
func (tb *Table) Lookup(pid defs.Pid_t) (*Process, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	p, ok := tb.procs[pid]
	return p, ok
}

/// Elems returns every live process, in unspecified order (used by
/// signal.Target's pgrp/broadcast selectors).
func (tb *Table) Elems() []*Process {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]*Process, 0, len(tb.procs))
	for _, p := range tb.procs {
		out = append(out, p)
	}
	return out
}

/// LookupThread returns the thread for tid, if any.
func (tb *Table) LookupThread(tid defs.Tid_t) (*Thread, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	t, ok := tb.threads[tid]
	return t, ok
}

/// Reparent moves every child of p onto Root (PID 1), called when p exits
/// with live children (spec.md §4.E).
func (tb *Table) Reparent(p *Process) {
	p.Lock()
	children := make([]*Process, 0, len(p.Children))
	for _, c := range p.Children {
		children = append(children, c)
	}
	p.Children = map[defs.Pid_t]*Process{}
	p.Unlock()

	root := tb.Root
	if root == nil || root == p {
		return
	}
	root.Lock()
	for _, c := range children {
		c.Lock()
		c.Parent = root
		c.Unlock()
		root.Children[c.Pid] = c
	}
	root.Unlock()
}

/// Setpgid moves p into group pgid (or its own pid if pgid==0).
func (p *Process) Setpgid(pgid defs.Pid_t) defs.Err_t {
	p.Lock()
	defer p.Unlock()
	if pgid == 0 {
		pgid = p.Pid
	}
	p.Pgid = pgid
	return 0
}

/// Setsid makes p the leader of a new session and process group, returning
/// the new session id. Fails with EPERM if p is already a group leader.
func (p *Process) Setsid() (defs.Pid_t, defs.Err_t) {
	p.Lock()
	defer p.Unlock()
	if p.Pgid == p.Pid {
		return 0, -defs.EPERM
	}
	p.Sid = p.Pid
	p.Pgid = p.Pid
	return p.Sid, 0
}

/// Getpgid returns p's process group id.
func (p *Process) Getpgid() defs.Pid_t {
	p.Lock()
	defer p.Unlock()
	return p.Pgid
}

/// Getsid returns p's session id.
func (p *Process) Getsid() defs.Pid_t {
	p.Lock()
	defer p.Unlock()
	return p.Sid
}

/// Free releases the resources claimed by a process's admission at
/// creation time; called once the PCB is fully reaped.
func (tb *Table) Free(p *Process) {
	limits.Syslimit.Sysprocs.Give()
	tb.mu.Lock()
	delete(tb.procs, p.Pid)
	tb.mu.Unlock()
}

/// FreeThread releases a TCB's admission; called once its TCB is reaped by
/// the scheduler.
func (tb *Table) FreeThread(t *Thread) {
	limits.Syslimit.Threads.Give()
	tb.mu.Lock()
	delete(tb.threads, t.Tid)
	tb.mu.Unlock()
}
