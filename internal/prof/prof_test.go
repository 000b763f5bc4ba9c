package prof

import (
	"bytes"
	"testing"

	"github.com/google/pprof/profile"

	"breenix/internal/defs"
	"breenix/internal/stat"
	"breenix/internal/stats"
)

func resetCounters() {
	K.Syscalls = 0
	K.ContextSwitches = 0
	K.PageFaults = 0
	K.Reschedules = 0
}

func TestSnapshotEncodesCounters(t *testing.T) {
	resetCounters()
	prevEnabled := stats.Enabled
	stats.Enabled = true
	defer func() { stats.Enabled = prevEnabled }()

	K.Syscalls.Add(3)
	K.PageFaults.Add(1)

	p := snapshot()
	if len(p.Sample) != 4 {
		t.Fatalf("len(Sample) = %d, want 4", len(p.Sample))
	}
	got := map[string]int64{}
	for _, s := range p.Sample {
		name := s.Label["counter"][0]
		got[name] = s.Value[0]
	}
	if got["syscalls"] != 3 {
		t.Errorf("syscalls = %d, want 3", got["syscalls"])
	}
	if got["page_faults"] != 1 {
		t.Errorf("page_faults = %d, want 1", got["page_faults"])
	}
	if got["context_switches"] != 0 {
		t.Errorf("context_switches = %d, want 0", got["context_switches"])
	}
}

func TestDeviceRenderProducesValidProfile(t *testing.T) {
	resetCounters()
	d := Open()

	if err := d.render(); err != 0 {
		t.Fatalf("render: errno %d", err)
	}
	if d.buf == nil || d.buf.Len() == 0 {
		t.Fatal("render produced no data")
	}

	raw := make([]byte, d.buf.Len())
	copy(raw, d.buf.Bytes())
	p, err := profile.Parse(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("profile.Parse: %v", err)
	}
	if len(p.Sample) != 4 {
		t.Errorf("parsed len(Sample) = %d, want 4", len(p.Sample))
	}
}

func TestDeviceRenderIsIdempotent(t *testing.T) {
	resetCounters()
	d := Open()
	if err := d.render(); err != 0 {
		t.Fatalf("render: errno %d", err)
	}
	first := d.buf

	K.Syscalls.Add(1)
	if err := d.render(); err != 0 {
		t.Fatalf("second render: errno %d", err)
	}
	if d.buf != first {
		t.Error("render replaced an already-rendered buffer")
	}
}

func TestDeviceReopenClearsState(t *testing.T) {
	resetCounters()
	d := Open()
	if err := d.render(); err != 0 {
		t.Fatalf("render: errno %d", err)
	}
	d.off = 5

	if err := d.Reopen(); err != 0 {
		t.Fatalf("Reopen: errno %d", err)
	}
	if d.buf != nil {
		t.Error("Reopen left buf set")
	}
	if d.off != 0 {
		t.Errorf("Reopen left off = %d, want 0", d.off)
	}
}

func TestDeviceFstat(t *testing.T) {
	resetCounters()
	d := Open()
	if err := d.render(); err != 0 {
		t.Fatalf("render: errno %d", err)
	}

	var st stat.Stat_t
	if err := d.Fstat(&st); err != 0 {
		t.Fatalf("Fstat: errno %d", err)
	}
	if st.Rdev() != uint64(defs.D_PROF) {
		t.Errorf("Rdev = %d, want %d", st.Rdev(), defs.D_PROF)
	}
	if st.Size() != uint64(d.buf.Len()) {
		t.Errorf("Size = %d, want %d", st.Size(), d.buf.Len())
	}
}
