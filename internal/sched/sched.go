// Package sched implements the single global ready FIFO, schedule/
// block_on/wake, blocking-call deadlines (one time.Timer per BlockOn call
// that has a deadline; there is no shared timer list) and SA_RESTART/EINTR
// cancellation (spec.md §4.F).
//
// breenix-core has no real kernel stacks or low-level assembly switch
// primitive to invoke — the "context switch" here is the Go runtime's own
// goroutine scheduler, entered via an ordinary channel rendezvous
// (percpu.SetCurrent/sync primitives model the bookkeeping spec.md §4.F
// describes; see DESIGN.md's Open Question). Grounded on the teacher's
// tinfo.Tnote_t (Killnaps rendezvous) and spec.md §4.F's state machine.
package sched

import (
	"container/list"
	"sync"
	"time"

	"breenix/internal/defs"
	"breenix/internal/percpu"
	"breenix/internal/proc"
	"breenix/internal/prof"
)

/// WaitQueue is a FIFO of threads blocked for the same reason (spec.md
/// §4.K "every blocking IPC uses a wait-queue").
type WaitQueue struct {
	mu   sync.Mutex
	l    *list.List // of *proc.Thread
}

/// NewWaitQueue returns an empty wait queue.
func NewWaitQueue() *WaitQueue {
	return &WaitQueue{l: list.New()}
}

var readyMu sync.Mutex
var ready = list.New() // of *proc.Thread

/// Quantum is the scheduler's preemption interval (spec.md §4.F's
/// "periodic timer sets need_resched"), set once at boot by internal/boot
/// from internal/bootcfg's BREENIX_QUANTUM_US. Simulation-model only:
/// nothing in this package currently arms a timer against it (see
/// DESIGN.md's Open Question on the missing real timer-interrupt source);
/// it exists so the value has a single owner ready for that wiring.
var Quantum = 10 * time.Millisecond

/// SetQuantum installs the preemption interval. Called once during boot.
func SetQuantum(d time.Duration) {
	Quantum = d
}

/// Enqueue appends t to the tail of the global ready FIFO, marking it
/// Runnable.
func Enqueue(t *proc.Thread) {
	t.Lock()
	t.State = proc.StateRunnable
	t.Unlock()
	readyMu.Lock()
	ready.PushBack(t)
	readyMu.Unlock()
}

/// PickNext pops the head of the ready FIFO, or returns nil if it is empty
/// (the caller substitutes the per-CPU idle thread — spec.md §4.F
/// "pick_next() pops the head; if empty, returns the per-CPU idle thread").
func PickNext() *proc.Thread {
	readyMu.Lock()
	defer readyMu.Unlock()
	e := ready.Front()
	if e == nil {
		return nil
	}
	ready.Remove(e)
	return e.Value.(*proc.Thread)
}

/// Yield appends the current thread to the ready tail and asks for a
/// reschedule at the next opportunity (spec.md §4.F "sched_yield appends
/// the current thread to the tail").
func Yield() {
	cur, ok := percpu.TryCurrent()
	if !ok {
		return
	}
	t := cur.(*proc.Thread)
	Enqueue(t)
	percpu.SetNeedResched(true)
	prof.K.Reschedules.Inc()
	Schedule()
}

/// Schedule performs the (simulated) context switch: picks the next
/// runnable thread and installs it as current. It is the only function in
/// this package that changes percpu's current-thread field, matching
/// spec.md §4.F's "schedule() is the only kernel function that performs a
/// context switch".
func Schedule() {
	prof.K.ContextSwitches.Inc()
	percpu.SetNeedResched(false)
	next := PickNext()
	if next == nil {
		next = percpu.IdleThread()
	}
	if next != nil {
		next.Lock()
		next.State = proc.StateRunning
		next.Unlock()
		percpu.SetCurrent(next)
	}
}

/// BlockReason documents why a thread is Blocked, surfaced to diagnostics.
type BlockReason int

const (
	ReasonPipe BlockReason = iota
	ReasonSocket
	ReasonWait4
	ReasonSignal
	ReasonFutex
)

// wakeResult records why a blocked thread woke: a pending signal or an
// expired deadline. BlockOn reports the same facts through its return
// values and does not use this type.
type wakeResult struct {
	signaled bool // woken because of a pending signal this thread must handle
	timedOut bool
}

/// BlockOn moves the calling thread Running->Blocked, enqueues it on q, and
/// waits until woken by Wake, a deadline (if deadline is non-zero), or a
/// signal (if interruptible is true and the thread's Killnaps fires).
// Returns (timedOut, err): err is -EINTR if woken by a non-restartable
// signal, 0 otherwise. Grounded on spec.md §4.F's block_on/wake pair plus
// §5's cancellation-and-timeout rule.
func BlockOn(t *proc.Thread, q *WaitQueue, reason BlockReason, deadline time.Time, interruptible bool) (timedOut bool, err defs.Err_t) {
	t.Lock()
	t.State = proc.StateBlocked
	t.Unlock()

	done := make(chan struct{})
	q.mu.Lock()
	elem := q.l.PushBack(waiter{t: t, done: done})
	q.mu.Unlock()

	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if !deadline.IsZero() {
		timer = time.NewTimer(time.Until(deadline))
		timeoutCh = timer.C
	}
	var killCh <-chan bool
	if interruptible {
		killCh = t.Killnaps.Killch
	}

	select {
	case <-done:
		if timer != nil {
			timer.Stop()
		}
	case <-timeoutCh:
		q.mu.Lock()
		q.l.Remove(elem)
		q.mu.Unlock()
		timedOut = true
	case restart := <-killCh:
		q.mu.Lock()
		q.l.Remove(elem)
		q.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		if interruptible && !restart {
			err = -defs.EINTR
		}
	}

	t.Lock()
	t.State = proc.StateRunning
	t.Unlock()
	return timedOut, err
}

type waiter struct {
	t    *proc.Thread
	done chan struct{}
}

/// Wake moves up to n threads Blocked->Runnable off q, in FIFO order,
/// enqueueing each on the ready FIFO. Safe to call from a context standing
/// in for an IRQ handler (spec.md §4.K "wakeups from IRQ context... are
/// permitted").
func Wake(q *WaitQueue, n int) int {
	q.mu.Lock()
	woken := 0
	for woken < n {
		e := q.l.Front()
		if e == nil {
			break
		}
		q.l.Remove(e)
		w := e.Value.(waiter)
		q.mu.Unlock()
		Enqueue(w.t)
		close(w.done)
		woken++
		q.mu.Lock()
	}
	q.mu.Unlock()
	return woken
}

/// WakeAll wakes every thread waiting on q.
func WakeAll(q *WaitQueue) int {
	return Wake(q, 1<<30)
}

/// Interrupt delivers a cancellation to a thread Blocked in an
/// interruptible sleep: restart selects whether its blocking call should
/// retry (SA_RESTART) or fail with EINTR.
func Interrupt(t *proc.Thread, restart bool) {
	select {
	case t.Killnaps.Killch <- restart:
	default:
	}
}
