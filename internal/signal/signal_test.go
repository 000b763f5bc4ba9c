package signal

import (
	"testing"
	"time"

	"breenix/internal/defs"
	"breenix/internal/proc"
	"breenix/internal/trap"
)

func newTestThread(t *testing.T) *proc.Thread {
	t.Helper()
	p, err := proc.Global.NewProcess(nil)
	if err != 0 {
		t.Fatalf("NewProcess: errno %d", err)
	}
	th, err := proc.Global.NewThread(p)
	if err != 0 {
		t.Fatalf("NewThread: errno %d", err)
	}
	return th
}

func TestSigsuspendBlocksUntilSignalThenRestoresMask(t *testing.T) {
	th := newTestThread(t)
	th.Lock()
	th.Mask = bit(defs.SIGUSR2)
	th.Unlock()

	go func() {
		time.Sleep(10 * time.Millisecond)
		Raise(th, defs.SIGUSR1)
	}()

	if err := Sigsuspend(th, 0); err != -defs.EINTR {
		t.Fatalf("Sigsuspend = %d, want -EINTR", err)
	}

	th.Lock()
	gotMask := th.Mask
	th.Unlock()
	if gotMask != bit(defs.SIGUSR2) {
		t.Errorf("mask after Sigsuspend = %#x, want %#x (the pre-call mask restored)", gotMask, bit(defs.SIGUSR2))
	}
}

func TestSigsuspendReturnsImmediatelyIfAlreadyDeliverable(t *testing.T) {
	th := newTestThread(t)
	Raise(th, defs.SIGUSR1)

	done := make(chan defs.Err_t, 1)
	go func() { done <- Sigsuspend(th, 0) }()

	select {
	case err := <-done:
		if err != -defs.EINTR {
			t.Errorf("Sigsuspend = %d, want -EINTR", err)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Sigsuspend blocked despite an already-pending deliverable signal")
	}
}

func TestSigreturnAfterConcurrentHandlerFramesDoesNotRace(t *testing.T) {
	// Regression coverage for the unguarded savedFrames map: n threads
	// each building and consuming their own handler frame concurrently
	// must not corrupt each other's entry (spec.md §8 scenario 4's
	// parent/child-each-get-a-signal shape).
	const n = 20
	done := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			p, perr := proc.Global.NewProcess(nil)
			th, terr := proc.Global.NewThread(p)
			if perr != 0 || terr != 0 {
				t.Errorf("thread setup: errno %d/%d", perr, terr)
				return
			}
			f := trap.Frame{}
			buildHandlerFrame(th, &f, defs.SIGUSR1, proc.Sigaction{Handler: 0x1000})
			if err := Sigreturn(th, &f); err != 0 {
				t.Errorf("Sigreturn: errno %d", err)
			}
		}()
	}
	for i := 0; i < n; i++ {
		<-done
	}
}
