// Package limits tracks system-wide resource limits and provides an
// atomically-checked counter type for enforcing them.
package limits

import "sync/atomic"

/// Sysatomic_t is a numeric limit that can be atomically updated.
type Sysatomic_t int64

/// Taken tries to decrement the limit by n. It returns true on success and
/// leaves the limit unchanged on failure.
func (s *Sysatomic_t) Taken(n uint) bool {
	if int64(n) < 0 {
		panic("too mighty")
	}
	g := atomic.AddInt64((*int64)(s), -int64(n))
	if g >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), int64(n))
	return false
}

/// Given increases the limit by n.
func (s *Sysatomic_t) Given(n uint) {
	if int64(n) < 0 {
		panic("too mighty")
	}
	atomic.AddInt64((*int64)(s), int64(n))
}

/// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

/// Give increments the limit by one.
func (s *Sysatomic_t) Give() { s.Given(1) }

/// Value reports the current value of the limit.
func (s *Sysatomic_t) Value() int64 { return atomic.LoadInt64((*int64)(s)) }

/// Syslimit_t tracks system-wide resource limits the process/thread table,
/// IPC objects, and scheduler check before admitting new work.
type Syslimit_t struct {
	Sysprocs Sysatomic_t // max simultaneous processes
	Threads  Sysatomic_t // max simultaneous threads
	Fds      Sysatomic_t // max simultaneous open file objects
	Pipes    Sysatomic_t // max simultaneous pipe/FIFO objects
	Sockets  Sysatomic_t // max simultaneous socket objects
	Futexes  Sysatomic_t
}

/// MkSysLimit returns a pointer to the default set of limits, grounded on
/// the teacher's Syslimit_t defaults (scaled down — breenix-core is a
/// single-CPU simulation, not a machine with gigabytes of physical memory).
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1 << 14,
		Threads:  1 << 16,
		Fds:      1 << 20,
		Pipes:    1 << 14,
		Sockets:  1 << 14,
		Futexes:  1 << 10,
	}
}

/// Syslimit is the process-wide configured limits.
var Syslimit = MkSysLimit()
