// Package stats implements toggleable kernel-wide instrumentation counters.
// When Enabled is false every operation is a no-op, matching the teacher's
// compile-time Stats/Timing constants but as a runtime switch so tests can
// turn counters on selectively.
package stats

import (
	"reflect"
	"strconv"
	"strings"
	"sync/atomic"
)

// Enabled toggles counter accounting; Timing toggles cycle accounting.
// Both default off, matching the teacher's zero-overhead-by-default stance.
var Enabled = false
var Timing = false

/// Counter_t is a statistical counter.
type Counter_t int64

/// Cycles_t holds an elapsed-duration accumulator, in nanoseconds (the
/// teacher uses TSC cycles via a patched runtime.Rdtsc; breenix-core has no
/// hardware cycle counter available, so it accumulates time.Duration
/// nanoseconds instead — same shape, portable source).
type Cycles_t int64

/// Inc increments the counter when accounting is enabled.
func (c *Counter_t) Inc() {
	if Enabled {
		atomic.AddInt64((*int64)(c), 1)
	}
}

/// Add adds n to the counter when accounting is enabled.
func (c *Counter_t) Add(n int64) {
	if Enabled {
		atomic.AddInt64((*int64)(c), n)
	}
}

/// AddNanos adds elapsed nanoseconds to the cycle counter when timing is
/// enabled.
func (c *Cycles_t) AddNanos(nanos int64) {
	if Timing {
		atomic.AddInt64((*int64)(c), nanos)
	}
}

/// Stats2String converts a struct of Counter_t/Cycles_t fields to a
/// printable multi-line string, via reflection, mirroring the teacher's
/// stats.Stats2String.
func Stats2String(st interface{}) string {
	if !Enabled && !Timing {
		return ""
	}
	v := reflect.ValueOf(st)
	s := ""
	for i := 0; i < v.NumField(); i++ {
		t := v.Field(i).Type().String()
		if strings.HasSuffix(t, "Counter_t") {
			n := v.Field(i).Interface().(Counter_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
		if strings.HasSuffix(t, "Cycles_t") {
			n := v.Field(i).Interface().(Cycles_t)
			s += "\n\t#" + v.Type().Field(i).Name + ": " + strconv.FormatInt(int64(n), 10)
		}
	}
	return s + "\n"
}
