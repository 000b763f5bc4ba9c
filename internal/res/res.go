// Package res implements admission control for kernel-heap-page budget. Any
// loop that may run an unbounded number of iterations on behalf of a
// syscall (copying user memory page by page, walking an iovec, handling a
// COW fault) calls Resadd_noblock before each iteration's allocation; once
// the system-wide budget is exhausted the call returns false and the
// caller must fail the operation with ENOHEAP rather than block or spin.
package res

import "sync/atomic"

// budget is the total kernel heap-page budget available for admission
// control. It exists only to bound pathological user-driven allocation
// (e.g. a syscall with a huge iovec argument) — it is not the physical
// frame allocator's free count (internal/mem owns that).
var budget int64 = 1 << 20

// outstanding is the number of heap pages currently admitted and not yet
// released via Resdel.
var outstanding int64

/// SetBudget configures the total admission-control budget in pages. Tests
/// use this to exercise the ENOHEAP path without allocating 1M pages.
func SetBudget(pages int64) {
	atomic.StoreInt64(&budget, pages)
}

/// Resadd_noblock attempts to admit n pages of work without blocking. It
/// returns false if doing so would exceed the configured budget.
func Resadd_noblock(n int) bool {
	for {
		cur := atomic.LoadInt64(&outstanding)
		next := cur + int64(n)
		if next > atomic.LoadInt64(&budget) {
			return false
		}
		if atomic.CompareAndSwapInt64(&outstanding, cur, next) {
			return true
		}
	}
}

/// Resdel releases n pages of previously admitted work.
func Resdel(n int) {
	if atomic.AddInt64(&outstanding, -int64(n)) < 0 {
		panic("res: released more than outstanding")
	}
}

/// Outstanding reports the currently admitted page count, for diagnostics.
func Outstanding() int64 {
	return atomic.LoadInt64(&outstanding)
}
