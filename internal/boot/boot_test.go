package boot

import (
	"testing"
	"time"

	"breenix/internal/bootcfg"
	"breenix/internal/percpu"
	"breenix/internal/proc"
	"breenix/internal/sched"
)

func TestBringupCreatesSchedulableInit(t *testing.T) {
	cfg := bootcfg.Config{NCPU: 1, Quantum: 5 * time.Millisecond, MemRegionKB: 1024}

	k, err := Bringup(cfg)
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	if k.Phys == nil {
		t.Fatal("Bringup did not produce a physical allocator")
	}
	if k.Init == nil || k.Thread == nil {
		t.Fatal("Bringup did not produce a PID-1 process/thread pair")
	}
	if k.Init.AS == nil {
		t.Error("PID-1 process has no address space")
	}
	if k.Init.Cwd == nil {
		t.Error("PID-1 process has no working directory")
	}

	if _, ok := proc.Global.Lookup(k.Init.Pid); !ok {
		t.Errorf("PID-1 (pid=%d) not registered in proc.Global", k.Init.Pid)
	}
	if _, ok := proc.Global.LookupThread(k.Thread.Tid); !ok {
		t.Errorf("PID-1 thread (tid=%d) not registered in proc.Global", k.Thread.Tid)
	}

	cur, ok := percpu.TryCurrent()
	if !ok {
		t.Fatal("Bringup did not schedule any thread as current")
	}
	if cur.(*proc.Thread) != k.Thread {
		t.Error("current thread after Bringup is not PID-1's thread")
	}
	if k.Thread.State != proc.StateRunning {
		t.Errorf("PID-1 thread state = %v, want Running", k.Thread.State)
	}
}

func TestBringupInstallsQuantum(t *testing.T) {
	cfg := bootcfg.Config{NCPU: 1, Quantum: 42 * time.Microsecond, MemRegionKB: 1024}
	if _, err := Bringup(cfg); err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	if sched.Quantum != 42*time.Microsecond {
		t.Errorf("sched.Quantum = %v, want 42us", sched.Quantum)
	}
}
