// Package prof implements the D_PROF device (spec.md's device-id table):
// an open file object whose Read returns a snapshot of the kernel's
// instrumentation counters serialized as a pprof wire-format profile,
// consumable directly by `go tool pprof` rather than by a log scraper.
//
// Grounded on internal/stats' Counter_t fields (stats/stats.go's
// Stats2String dump, generalized here to a structured counter set instead
// of a text blob) and on internal/vfsfake's RegularFile.Read/Fstat shape
// for how a read-only device renders itself through the Fdops_i
// interface. Wires github.com/google/pprof (the profile package) per
// SPEC_FULL.md §2b.
package prof

import (
	"bytes"

	"github.com/google/pprof/profile"

	"breenix/internal/defs"
	"breenix/internal/fdops"
	"breenix/internal/stat"
	"breenix/internal/stats"
	"breenix/internal/vm"
)

// Counters are the kernel-wide instrumentation counters this device
// serializes. Each is a stats.Counter_t so accounting stays off unless
// stats.Enabled is set, matching the rest of the kernel's zero-overhead
// default.
type Counters struct {
	Syscalls        stats.Counter_t
	ContextSwitches stats.Counter_t
	PageFaults      stats.Counter_t
	Reschedules     stats.Counter_t
}

// K is the single kernel-wide counter set. internal/trap's Enter
// increments Syscalls (KindSyscall) and PageFaults (KindFault);
// internal/sched increments ContextSwitches and Reschedules. The syscall
// functions in internal/syscalls do not go through trap.Enter, so calling
// them directly leaves Syscalls unchanged.
var K = &Counters{}

func snapshot() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "count", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "kernel", Unit: "count"},
		Period:     1,
	}
	add := func(name string, v int64) {
		p.Sample = append(p.Sample, &profile.Sample{
			Value: []int64{v},
			Label: map[string][]string{"counter": {name}},
		})
	}
	add("syscalls", int64(K.Syscalls))
	add("context_switches", int64(K.ContextSwitches))
	add("page_faults", int64(K.PageFaults))
	add("reschedules", int64(K.Reschedules))
	return p
}

/// Device is the open file object installed for D_PROF. Each Reopen
/// (dup/dup2/fork of the descriptor) drops the cached render so a fresh
/// fd sees a fresh snapshot rather than the point-in-time render of
/// whichever fd opened it first.
type Device struct {
	fdops.Unsupported
	buf *bytes.Buffer
	off int
}

/// Open returns a fresh, unrendered D_PROF descriptor.
func Open() *Device {
	return &Device{}
}

func (d *Device) render() defs.Err_t {
	if d.buf != nil {
		return 0
	}
	var b bytes.Buffer
	if err := snapshot().Write(&b); err != nil {
		return -defs.EIO
	}
	d.buf = &b
	return 0
}

func (d *Device) Read(dst *vm.Userbuf_t) (int, defs.Err_t) {
	if err := d.render(); err != 0 {
		return 0, err
	}
	data := d.buf.Bytes()
	if d.off >= len(data) {
		return 0, 0
	}
	n, err := dst.Uiowrite(data[d.off:])
	d.off += n
	return n, err
}

func (d *Device) Fstat(st *stat.Stat_t) defs.Err_t {
	st.Wdev(0)
	st.Wrdev(uint64(defs.D_PROF))
	st.Wmode(0)
	if d.buf != nil {
		st.Wsize(uint64(d.buf.Len()))
	}
	return 0
}

func (d *Device) Reopen() defs.Err_t {
	d.buf = nil
	d.off = 0
	return 0
}

func (d *Device) Close() defs.Err_t { return 0 }
