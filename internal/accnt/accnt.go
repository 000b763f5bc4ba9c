// Package accnt accumulates per-thread and per-process CPU-time accounting,
// exposed to userspace as getrusage-style (user, system) nanosecond totals.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

/// Accnt_t accumulates per-process/thread accounting information. Userns
/// and Sysns store runtime in nanoseconds. The embedded mutex lets callers
/// take a consistent snapshot of the fields when exporting usage statistics
/// (Add/Fetch), while the hot-path increments (Utadd/Systadd) stay lock-free.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

/// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

/// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

/// Now returns the current time in nanoseconds since the Unix epoch.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

/// IoTime removes time spent waiting for I/O from system time, called when
/// a blocking syscall that started at `since` completes.
func (a *Accnt_t) IoTime(since int64) {
	a.Systadd(-(a.Now() - since))
}

/// SleepTime removes time spent blocked in the scheduler from system time.
func (a *Accnt_t) SleepTime(since int64) {
	a.Systadd(-(a.Now() - since))
}

/// Finish finalizes accounting by adding elapsed time since inttime to
/// system time (called when a syscall returns).
func (a *Accnt_t) Finish(inttime int64) {
	a.Systadd(a.Now() - inttime)
}

/// Add merges another accounting record into this one (used when a zombie
/// child's usage is folded into the parent on reap).
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	defer a.Unlock()
	a.Userns += n.Userns
	a.Sysns += n.Sysns
}

/// Rusage_t is the decoded (user, system) CPU-time pair returned by
/// getrusage/wait4.
type Rusage_t struct {
	UserSec, UserUsec int64
	SysSec, SysUsec   int64
}

/// Fetch returns a consistent snapshot of the accounting data as Rusage_t.
func (a *Accnt_t) Fetch() Rusage_t {
	a.Lock()
	defer a.Unlock()
	return a.toRusage()
}

func (a *Accnt_t) toRusage() Rusage_t {
	totv := func(nano int64) (int64, int64) {
		return nano / 1e9, (nano % 1e9) / 1000
	}
	us, uu := totv(a.Userns)
	ss, su := totv(a.Sysns)
	return Rusage_t{UserSec: us, UserUsec: uu, SysSec: ss, SysUsec: su}
}

// printer renders accounting totals with grouped thousands separators,
// wiring the teacher's golang.org/x/text dependency into the accounting
// dump instead of bare strconv (see SPEC_FULL.md §2b).
var printer = message.NewPrinter(language.English)

/// String renders a human-readable accounting summary, e.g.
/// "user=1,234,567ns sys=89,000ns".
func (a *Accnt_t) String() string {
	u := atomic.LoadInt64(&a.Userns)
	s := atomic.LoadInt64(&a.Sysns)
	return printer.Sprintf("user=%dns sys=%dns", u, s)
}
