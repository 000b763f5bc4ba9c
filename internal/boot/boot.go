// Package boot brings up the kernel's core subsystems — physical frame
// allocator, per-CPU block, the VFS root, and PID-1 — from an
// internal/bootcfg configuration, in one Bringup call.
//
// The teacher has no analogous package: its boot sequence is a linear
// call chain inside the patched-runtime's main(), since that runtime
// owns the machine from the first instruction. breenix-core's "boot" is
// an ordinary Go program's startup, so there is no hardware dependency
// forcing bring-up to be sequential — the independent subsystems here
// (frame allocator, per-CPU block) are started concurrently with
// golang.org/x/sync/errgroup, wired per SPEC_FULL.md §2b, and PID-1's
// creation waits on both since it needs an address space backed by the
// frame allocator.
package boot

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"breenix/internal/bootcfg"
	"breenix/internal/fd"
	"breenix/internal/mem"
	"breenix/internal/percpu"
	"breenix/internal/proc"
	"breenix/internal/sched"
	"breenix/internal/vfsfake"
	"breenix/internal/vm"
)

// Kernel holds the handles Bringup produces: the physical memory
// allocator and the PID-1 process/thread pair, ready for
// internal/syscalls dispatch and internal/sched scheduling.
type Kernel struct {
	Phys   *mem.Physmem_t
	Init   *proc.Process
	Thread *proc.Thread
}

// Bringup brings the kernel up to the point where PID 1 is running: it
// carves the physical frame allocator out of cfg's memory map,
// initializes the per-CPU block, creates PID 1 with a fresh address
// space and a "/" working directory, and schedules it in.
func Bringup(cfg bootcfg.Config) (*Kernel, error) {
	sched.SetQuantum(cfg.Quantum)

	var g errgroup.Group
	var phys *mem.Physmem_t

	g.Go(func() error {
		regions := []mem.MemRegion{
			{Start: 0, Len: uintptr(cfg.MemRegionKB) * 1024, Kind: mem.Usable},
		}
		phys = mem.Init(regions)
		return nil
	})
	g.Go(func() error {
		percpu.Init(nil)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("boot: bringup: %w", err)
	}

	p, err := proc.Global.NewProcess(nil)
	if err != 0 {
		return nil, fmt.Errorf("boot: new PID-1 process: errno %d", err)
	}
	p.AS = vm.NewAddressSpace()

	root := vfsfake.OpenDirectory(vfsfake.Root())
	rootFd := &fd.Fd_t{Fops: root, Perms: fd.FD_READ}
	p.Cwd = fd.MkRootCwd(rootFd)

	t, err := proc.Global.NewThread(p)
	if err != 0 {
		proc.Global.Free(p)
		return nil, fmt.Errorf("boot: new PID-1 thread: errno %d", err)
	}

	sched.Enqueue(t)
	sched.Schedule()

	return &Kernel{Phys: phys, Init: p, Thread: t}, nil
}
