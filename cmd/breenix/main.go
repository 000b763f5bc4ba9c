// Command breenix brings the kernel core up and runs a short built-in
// workload to exercise the wiring end to end.
//
// spec.md's Out-of-scope list excludes the ELF loader and real userspace
// binaries (section 2's "collaborator" boundary), so there is no program
// image for this binary to load and execute the way a hosted OS would.
// What IS in scope — boot sequencing, fork/wait4/exit, and the scheduler
// — is demonstrated directly against internal/syscalls'
// dispatcher, following spec.md §2's flow: "boot -> A,B come up -> ...
// E creates PID 1 -> F starts -> G handlers armed -> user threads run".
// No teacher main.go was retrieved to ground this against (the pack's
// kernel/ directory held only chentry.go's build tool); the sequence
// below is assembled directly from that flow line and the packages it
// names.
package main

import (
	"fmt"
	"log"

	"breenix/internal/boot"
	"breenix/internal/bootcfg"
	"breenix/internal/proc"
	"breenix/internal/prof"
	"breenix/internal/sched"
	"breenix/internal/syscalls"
)

func main() {
	cfg, err := bootcfg.FromEnv()
	if err != nil {
		log.Fatalf("breenix: bootcfg: %v", err)
	}

	k, err := boot.Bringup(cfg)
	if err != nil {
		log.Fatalf("breenix: bringup: %v", err)
	}
	fmt.Printf("breenix: PID 1 running (ncpu=%d quantum=%s)\n", cfg.NCPU, cfg.Quantum)

	// Signal dispositions default to "default action" (Handler==0) for
	// every signal on a fresh process, satisfying spec.md §2's "G
	// handlers armed" step without any further setup.

	children := make([]*proc.Thread, 0, 3)
	for i := 0; i < 3; i++ {
		ct, ferr := syscalls.Fork(k.Thread)
		if ferr != 0 {
			log.Fatalf("breenix: fork %d: errno %d", i, ferr)
		}
		children = append(children, ct)
	}
	fmt.Printf("breenix: forked %d children from PID %d\n", len(children), k.Init.Pid)

	for i, ct := range children {
		syscalls.Exit(ct, i)
	}

	for range children {
		pid, status, werr := syscalls.Wait4(k.Thread)
		if werr != 0 {
			break
		}
		fmt.Printf("breenix: reaped pid=%d status=%d\n", pid, status)
	}

	sched.Schedule()
	fmt.Printf("breenix: %d syscalls counted through trap.Enter (the calls above invoke internal/syscalls directly)\n", int64(prof.K.Syscalls))
}
